// Package sshexec is the only sanctioned way the hub reaches remote
// hosts: a pooled, TOFU-verified, retrying SSH client.
package sshexec

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/homelabhq/hub/pkg/herrors"
	"github.com/homelabhq/hub/pkg/log"
	"github.com/homelabhq/hub/pkg/metrics"
	"github.com/homelabhq/hub/pkg/types"
	"golang.org/x/crypto/ssh"
)

const (
	poolTTL            = 5 * time.Minute
	connectAttempts    = 3
	connectRetryDelay  = 2 * time.Second
	defaultTimeout     = 30 * time.Second
	defaultUsername    = "homelabcmd"
	outputCapBytes     = 10 * 1024
)

// Vault is the subset of pkg/vault needed to load the SSH private key.
type Vault interface {
	Effective(credType types.CredentialType, serverID string) (string, error)
	Get(credType types.CredentialType, serverID *string) (string, error)
}

// HostKeyVerifier is the subset of pkg/hostkey needed for TOFU.
type HostKeyVerifier interface {
	Verify(machineID, hostname, keyType string, rawPublicKey []byte) error
	Get(machineID string) (*types.HostKey, error)
}

// CommandResult is the outcome of executing a command on a remote host.
type CommandResult struct {
	Stdout     string
	Stderr     string
	ExitCode   int
	DurationMS int64
	Truncated  bool
}

// TestResult is returned by Test: connectivity and identity without
// running a command.
type TestResult struct {
	LatencyMS   int64
	Fingerprint string
}

type poolEntry struct {
	client  *ssh.Client
	conn    net.Conn
	expires time.Time
}

// Executor pools SSH connections by hostname and executes whitelisted
// remote commands against them.
type Executor struct {
	vault    Vault
	hostkeys HostKeyVerifier

	mu   sync.Mutex
	pool map[string]*poolEntry
}

// New builds an Executor.
func New(vault Vault, hostkeys HostKeyVerifier) *Executor {
	return &Executor{
		vault:    vault,
		hostkeys: hostkeys,
		pool:     make(map[string]*poolEntry),
	}
}

func wellKnownKeyPaths() []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	dir := filepath.Join(home, ".ssh")
	return []string{
		filepath.Join(dir, "id_ed25519"),
		filepath.Join(dir, "id_ecdsa"),
		filepath.Join(dir, "id_rsa"),
	}
}

// loadSigner resolves the private key to authenticate with: the vault's
// global ssh_private_key first, then the well-known on-disk fallback
// paths in Ed25519, ECDSA, RSA order.
func (e *Executor) loadSigner() (ssh.Signer, error) {
	if e.vault != nil {
		if pem, err := e.vault.Get(types.CredentialSSHPrivateKey, nil); err == nil && pem != "" {
			signer, err := ssh.ParsePrivateKey([]byte(pem))
			if err != nil {
				return nil, fmt.Errorf("failed to parse vault SSH key: %w", err)
			}
			return signer, nil
		}
	}

	for _, path := range wellKnownKeyPaths() {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		signer, err := ssh.ParsePrivateKey(data)
		if err != nil {
			continue
		}
		return signer, nil
	}

	return nil, &herrors.SSHKeyNotConfigured{}
}

// resolveUsername picks per-server override, then global ssh_username
// credential, then the default.
func (e *Executor) resolveUsername(server *types.Server) string {
	if server.SSHUsername != "" {
		return server.SSHUsername
	}
	if e.vault != nil {
		if username, err := e.vault.Effective("ssh_username", server.ID); err == nil && username != "" {
			return username
		}
	}
	return defaultUsername
}

func (e *Executor) evict(hostname string) {
	e.mu.Lock()
	entry, ok := e.pool[hostname]
	delete(e.pool, hostname)
	e.mu.Unlock()
	if ok {
		entry.client.Close()
	}
}

func (e *Executor) poolSize() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pool)
}

// PoolSize implements metrics.PoolSizer.
func (e *Executor) PoolSize() int { return e.poolSize() }

// acquire returns the pooled client for hostname if it is still usable:
// not expired and the transport hasn't gone away.
func (e *Executor) acquire(hostname string) *ssh.Client {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry, ok := e.pool[hostname]
	if !ok {
		return nil
	}
	if time.Now().After(entry.expires) {
		delete(e.pool, hostname)
		entry.client.Close()
		return nil
	}
	if _, _, err := entry.client.SendRequest("keepalive@homelabhq", true, nil); err != nil {
		delete(e.pool, hostname)
		entry.client.Close()
		return nil
	}
	return entry.client
}

func (e *Executor) store(hostname string, client *ssh.Client, conn net.Conn) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pool[hostname] = &poolEntry{
		client:  client,
		conn:    conn,
		expires: time.Now().Add(poolTTL),
	}
}

// dial performs one connection attempt: transport, TOFU verification,
// then the SSH handshake proper. machineID ties the host-key trust
// record to a server identity independent of hostname/IP churn.
func (e *Executor) dial(machineID, hostname, username string, signer ssh.Signer) (*ssh.Client, net.Conn, error) {
	addr := hostname
	if !strings.Contains(addr, ":") {
		addr = addr + ":22"
	}

	var fingerprintErr error
	config := &ssh.ClientConfig{
		User:            username,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		Timeout:         10 * time.Second,
		HostKeyCallback: func(_ string, _ net.Addr, key ssh.PublicKey) error {
			err := e.hostkeys.Verify(machineID, hostname, key.Type(), key.Marshal())
			if err != nil {
				fingerprintErr = err
			}
			return err
		},
	}

	conn, err := net.DialTimeout("tcp", addr, config.Timeout)
	if err != nil {
		return nil, nil, &herrors.SSHConnectionError{Hostname: hostname, Err: err}
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		if fingerprintErr != nil {
			var changed *herrors.HostKeyChanged
			if asHostKeyChanged(fingerprintErr, &changed) {
				metrics.HostKeyChangedTotal.Inc()
				log.WithMachineID(machineID).Warn().
					Str("hostname", hostname).
					Str("expected", changed.ExpectedFingerprint).
					Str("actual", changed.ActualFingerprint).
					Msg("ssh host key changed")
				return nil, nil, changed
			}
		}
		if isAuthError(err) {
			return nil, nil, &herrors.SSHAuthenticationError{Hostname: hostname, Err: err}
		}
		return nil, nil, &herrors.SSHConnectionError{Hostname: hostname, Err: err}
	}

	client := ssh.NewClient(sshConn, chans, reqs)
	return client, conn, nil
}

func asHostKeyChanged(err error, target **herrors.HostKeyChanged) bool {
	if hk, ok := err.(*herrors.HostKeyChanged); ok {
		*target = hk
		return true
	}
	return false
}

func isAuthError(err error) bool {
	return strings.Contains(err.Error(), "unable to authenticate") || strings.Contains(err.Error(), "handshake failed")
}

// connect returns a live client from the pool, or dials a fresh one
// with up to 3 attempts spaced 2 seconds apart for transient errors.
// Authentication failures and host-key mismatches abort immediately.
func (e *Executor) connect(server *types.Server) (*ssh.Client, error) {
	hostname := server.EffectiveHost()
	if hostname == "" {
		return nil, &herrors.ValidationError{Field: "hostname", Message: "server has no usable hostname"}
	}

	if client := e.acquire(hostname); client != nil {
		return client, nil
	}

	signer, err := e.loadSigner()
	if err != nil {
		return nil, err
	}
	username := e.resolveUsername(server)

	var lastErr error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		timer := metrics.NewTimer()
		client, conn, err := e.dial(server.ID, hostname, username, signer)
		timer.ObserveDuration(metrics.SSHConnectDuration)
		if err == nil {
			metrics.SSHConnectsTotal.WithLabelValues("success").Inc()
			e.store(hostname, client, conn)
			return client, nil
		}

		var connErr *herrors.SSHConnectionError
		if !isConnectionError(err, &connErr) {
			metrics.SSHConnectsTotal.WithLabelValues("failed").Inc()
			return nil, err
		}

		lastErr = err
		log.WithServerID(server.ID).Warn().
			Err(err).Int("attempt", attempt).Msg("ssh connect attempt failed")
		if attempt < connectAttempts {
			time.Sleep(connectRetryDelay)
		}
	}

	metrics.SSHConnectsTotal.WithLabelValues("failed").Inc()
	return nil, lastErr
}

func isConnectionError(err error, target **herrors.SSHConnectionError) bool {
	if ce, ok := err.(*herrors.SSHConnectionError); ok {
		*target = ce
		return true
	}
	return false
}

// Execute runs command on server's remote host with the given timeout
// (0 ⇒ 30s default), capping stdout/stderr at 10 KiB each. On a
// mid-command transport failure it evicts the pooled connection and
// retries exactly once with a fresh one.
func (e *Executor) Execute(server *types.Server, command string, timeout time.Duration) (*CommandResult, error) {
	if strings.TrimSpace(command) == "" {
		return nil, &herrors.ValidationError{Field: "command", Message: "command must not be empty"}
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	result, err := e.executeOnce(server, command, timeout)
	if err == nil {
		return result, nil
	}

	if _, transient := err.(*herrors.SSHConnectionError); transient {
		e.evict(server.EffectiveHost())
		return e.executeOnce(server, command, timeout)
	}
	return nil, err
}

func (e *Executor) executeOnce(server *types.Server, command string, timeout time.Duration) (*CommandResult, error) {
	client, err := e.connect(server)
	if err != nil {
		return nil, err
	}

	session, err := client.NewSession()
	if err != nil {
		return nil, &herrors.SSHConnectionError{Hostname: server.EffectiveHost(), Err: err}
	}
	defer session.Close()

	var stdoutBuf, stderrBuf cappedBuffer
	stdoutBuf.limit = outputCapBytes
	stderrBuf.limit = outputCapBytes
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf

	start := time.Now()
	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	var runErr error
	select {
	case runErr = <-done:
	case <-time.After(timeout):
		session.Signal(ssh.SIGKILL)
		session.Close()
		metrics.SSHCommandDuration.Observe(time.Since(start).Seconds())
		return nil, &herrors.CommandTimeout{Hostname: server.EffectiveHost(), Command: truncate(command, 200), Timeout: timeout.String()}
	}

	duration := time.Since(start)
	metrics.SSHCommandDuration.Observe(duration.Seconds())

	exitCode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*ssh.ExitError); ok {
			exitCode = exitErr.ExitStatus()
		} else {
			return nil, &herrors.SSHConnectionError{Hostname: server.EffectiveHost(), Err: runErr}
		}
	}

	return &CommandResult{
		Stdout:     stdoutBuf.String(),
		Stderr:     stderrBuf.String(),
		ExitCode:   exitCode,
		DurationMS: duration.Milliseconds(),
		Truncated:  stdoutBuf.truncated || stderrBuf.truncated,
	}, nil
}

// Test connects to server without running a command, for connectivity
// diagnostics.
func (e *Executor) Test(server *types.Server) (*TestResult, error) {
	start := time.Now()
	client, err := e.connect(server)
	if err != nil {
		return nil, err
	}
	latency := time.Since(start)

	fingerprint := ""
	if hk, err := e.hostkeys.Get(server.ID); err == nil {
		fingerprint = hk.Fingerprint
	}
	_ = client

	return &TestResult{
		LatencyMS:   latency.Milliseconds(),
		Fingerprint: fingerprint,
	}, nil
}

// ClearPool closes every pooled connection. Must be called whenever the
// global SSH key changes, since pooled sessions were authenticated with
// the old key.
func (e *Executor) ClearPool() {
	e.mu.Lock()
	entries := e.pool
	e.pool = make(map[string]*poolEntry)
	e.mu.Unlock()

	for _, entry := range entries {
		entry.client.Close()
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// cappedBuffer writes into an in-memory buffer up to limit bytes and
// silently drops anything past that, flagging Truncated.
type cappedBuffer struct {
	bytes.Buffer
	limit     int
	truncated bool
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	remaining := c.limit - c.Buffer.Len()
	if remaining <= 0 {
		c.truncated = true
		return len(p), nil
	}
	if len(p) > remaining {
		c.truncated = true
		p = p[:remaining]
	}
	return c.Buffer.Write(p)
}

var _ io.Writer = (*cappedBuffer)(nil)
