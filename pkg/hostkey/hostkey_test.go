package hostkey

import (
	"testing"

	"github.com/homelabhq/hub/pkg/herrors"
	"github.com/homelabhq/hub/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHostKeyStore(t *testing.T) *HostKeyStore {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return New(store)
}

func TestFirstContactStoresKey(t *testing.T) {
	h := newTestHostKeyStore(t)

	err := h.Verify("machine-1", "box1.lan", "ssh-ed25519", []byte("pubkey-bytes"))
	require.NoError(t, err)

	hk, err := h.Get("machine-1")
	require.NoError(t, err)
	assert.Equal(t, Fingerprint([]byte("pubkey-bytes")), hk.Fingerprint)
}

func TestMatchingFingerprintUpdatesLastSeen(t *testing.T) {
	h := newTestHostKeyStore(t)
	require.NoError(t, h.Verify("machine-1", "box1.lan", "ssh-ed25519", []byte("pubkey-bytes")))

	before, err := h.Get("machine-1")
	require.NoError(t, err)

	err = h.Verify("machine-1", "box1.lan", "ssh-ed25519", []byte("pubkey-bytes"))
	require.NoError(t, err)

	after, err := h.Get("machine-1")
	require.NoError(t, err)
	assert.True(t, !after.LastSeen.Before(before.LastSeen))
}

func TestMismatchedFingerprintRaisesHostKeyChanged(t *testing.T) {
	h := newTestHostKeyStore(t)
	require.NoError(t, h.Verify("machine-1", "box1.lan", "ssh-ed25519", []byte("pubkey-v1")))

	err := h.Verify("machine-1", "box1.lan", "ssh-ed25519", []byte("pubkey-v2"))
	var changed *herrors.HostKeyChanged
	require.ErrorAs(t, err, &changed)
	assert.Equal(t, "machine-1", changed.MachineID)
	assert.NotEqual(t, changed.ExpectedFingerprint, changed.ActualFingerprint)

	// The stored key must not have been overwritten by the mismatch.
	hk, err := h.Get("machine-1")
	require.NoError(t, err)
	assert.Equal(t, Fingerprint([]byte("pubkey-v1")), hk.Fingerprint)
}

func TestFingerprintFormat(t *testing.T) {
	fp := Fingerprint([]byte("anything"))
	assert.True(t, len(fp) > len("SHA256:"))
	assert.Equal(t, "SHA256:", fp[:7])
	assert.NotContains(t, fp, "=")
}
