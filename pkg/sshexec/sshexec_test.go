package sshexec

import (
	"net"
	"testing"
	"time"

	"github.com/homelabhq/hub/pkg/herrors"
	"github.com/homelabhq/hub/pkg/hostkey"
	"github.com/homelabhq/hub/pkg/storage"
	"github.com/homelabhq/hub/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

// fakeVault answers the vault lookups sshexec needs without touching
// real encryption, since these tests care about the SSH protocol layer.
type fakeVault struct {
	privateKeyPEM string
	username      string
}

func (f *fakeVault) Effective(credType types.CredentialType, serverID string) (string, error) {
	if credType == "ssh_username" && f.username != "" {
		return f.username, nil
	}
	return "", nil
}

func (f *fakeVault) Get(credType types.CredentialType, serverID *string) (string, error) {
	if credType == types.CredentialSSHPrivateKey {
		return f.privateKeyPEM, nil
	}
	return "", nil
}

func newTestHostKeyStore(t *testing.T) *hostkey.HostKeyStore {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return hostkey.New(store)
}

// testSSHServer spins a minimal in-process SSH server that accepts the
// given client public key and runs an "exec" handler, returning the
// listener address and the server's host-key signer.
type testSSHServer struct {
	addr      string
	hostSigner ssh.Signer
	onExec    func(cmd string) (exitCode int, stdout, stderr string)
	listener  net.Listener
}

func startTestSSHServer(t *testing.T, clientSigner ssh.Signer, onExec func(string) (int, string, string)) *testSSHServer {
	t.Helper()

	hostKeyRaw, _ := generateEd25519KeyPEM(t)
	hostKey, err := ssh.ParsePrivateKey(hostKeyRaw)
	require.NoError(t, err)

	config := &ssh.ServerConfig{
		PublicKeyCallback: func(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if string(key.Marshal()) == string(clientSigner.PublicKey().Marshal()) {
				return &ssh.Permissions{}, nil
			}
			return nil, &herrors.SSHAuthenticationError{Hostname: conn.RemoteAddr().String()}
		},
	}
	config.AddHostKey(hostKey)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := &testSSHServer{addr: listener.Addr().String(), hostSigner: hostKey, onExec: onExec, listener: listener}

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go srv.handle(conn, config)
		}
	}()

	t.Cleanup(func() { listener.Close() })
	return srv
}

func (s *testSSHServer) handle(conn net.Conn, config *ssh.ServerConfig) {
	sshConn, chans, reqs, err := ssh.NewServerConn(conn, config)
	if err != nil {
		return
	}
	defer sshConn.Close()
	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "unsupported channel type")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			continue
		}
		go func() {
			for req := range requests {
				if req.Type == "exec" {
					cmd := string(req.Payload[4:])
					req.Reply(true, nil)

					exitCode, stdout, stderr := 0, "", ""
					if s.onExec != nil {
						exitCode, stdout, stderr = s.onExec(cmd)
					}
					channel.Write([]byte(stdout))
					channel.Stderr().Write([]byte(stderr))
					channel.SendRequest("exit-status", false, exitStatusPayload(exitCode))
					channel.Close()
				} else {
					req.Reply(false, nil)
				}
			}
		}()
	}
}

func exitStatusPayload(code int) []byte {
	payload := make([]byte, 4)
	payload[3] = byte(code)
	return payload
}

func genTestSigner(t *testing.T) (ssh.Signer, string) {
	t.Helper()
	raw, pem := generateEd25519KeyPEM(t)
	signer, err := ssh.ParsePrivateKey(raw)
	require.NoError(t, err)
	return signer, pem
}

func TestExecuteRunsCommandAndCapturesOutput(t *testing.T) {
	clientSigner, clientPEM := genTestSigner(t)
	srv := startTestSSHServer(t, clientSigner, func(cmd string) (int, string, string) {
		return 0, "hello\n", ""
	})

	vault := &fakeVault{privateKeyPEM: clientPEM}
	hk := newTestHostKeyStore(t)
	exec := New(vault, hk)

	server := &types.Server{ID: "srv-1", Hostname: srv.addr}
	result, err := exec.Execute(server, "echo hello", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, "hello\n", result.Stdout)
}

func TestExecuteRejectsEmptyCommand(t *testing.T) {
	exec := New(&fakeVault{}, newTestHostKeyStore(t))
	_, err := exec.Execute(&types.Server{ID: "s", Hostname: "h"}, "   ", 0)
	var ve *herrors.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestExecuteSurfacesNonZeroExitCode(t *testing.T) {
	clientSigner, clientPEM := genTestSigner(t)
	srv := startTestSSHServer(t, clientSigner, func(cmd string) (int, string, string) {
		return 1, "", "boom\n"
	})

	exec := New(&fakeVault{privateKeyPEM: clientPEM}, newTestHostKeyStore(t))
	server := &types.Server{ID: "srv-2", Hostname: srv.addr}

	result, err := exec.Execute(server, "false", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, result.ExitCode)
	assert.Equal(t, "boom\n", result.Stderr)
}

func TestConnectSecondCallReusesPool(t *testing.T) {
	clientSigner, clientPEM := genTestSigner(t)
	srv := startTestSSHServer(t, clientSigner, func(cmd string) (int, string, string) {
		return 0, "ok", ""
	})

	exec := New(&fakeVault{privateKeyPEM: clientPEM}, newTestHostKeyStore(t))
	server := &types.Server{ID: "srv-3", Hostname: srv.addr}

	_, err := exec.Execute(server, "true", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, exec.PoolSize())

	_, err = exec.Execute(server, "true", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, exec.PoolSize())
}

func TestClearPoolClosesConnections(t *testing.T) {
	clientSigner, clientPEM := genTestSigner(t)
	srv := startTestSSHServer(t, clientSigner, func(cmd string) (int, string, string) {
		return 0, "", ""
	})

	exec := New(&fakeVault{privateKeyPEM: clientPEM}, newTestHostKeyStore(t))
	server := &types.Server{ID: "srv-4", Hostname: srv.addr}
	_, err := exec.Execute(server, "true", 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, 1, exec.PoolSize())

	exec.ClearPool()
	assert.Equal(t, 0, exec.PoolSize())
}

func TestHostKeyMismatchIsNeverRetried(t *testing.T) {
	clientSigner, clientPEM := genTestSigner(t)
	srv := startTestSSHServer(t, clientSigner, func(cmd string) (int, string, string) {
		return 0, "", ""
	})

	hk := newTestHostKeyStore(t)
	server := &types.Server{ID: "srv-5", Hostname: srv.addr}

	// Seed a trust record under a different (wrong) fingerprint so the
	// real handshake is guaranteed to mismatch.
	require.NoError(t, hk.Verify("srv-5", srv.addr, "ssh-ed25519", []byte("not-the-real-key")))

	exec := New(&fakeVault{privateKeyPEM: clientPEM}, hk)
	_, err := exec.Execute(server, "true", 5*time.Second)

	var changed *herrors.HostKeyChanged
	require.ErrorAs(t, err, &changed)
	assert.Equal(t, "srv-5", changed.MachineID)
}

func TestCappedBufferTruncatesPastLimit(t *testing.T) {
	buf := cappedBuffer{limit: 4}
	n, err := buf.Write([]byte("hello world"))
	require.NoError(t, err)
	assert.Equal(t, len("hello world"), n)
	assert.Equal(t, "hell", buf.String())
	assert.True(t, buf.truncated)
}

func TestTruncateRespectsLimit(t *testing.T) {
	assert.Equal(t, "ab", truncate("abcdef", 2))
	assert.Equal(t, "abcdef", truncate("abcdef", 20))
}
