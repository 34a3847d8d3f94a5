package sshexec

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

// generateEd25519KeyPEM creates an ephemeral Ed25519 key pair for tests
// and returns the PEM-encoded private key alongside the same string,
// mirroring the shape sshexec.loadSigner expects from the vault.
func generateEd25519KeyPEM(t *testing.T) ([]byte, string) {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	block, err := ssh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)
	pemBytes := pem.EncodeToMemory(block)

	_ = pub
	return pemBytes, string(pemBytes)
}
