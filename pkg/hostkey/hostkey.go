// Package hostkey implements trust-on-first-use verification of remote
// SSH host keys, one trusted key per machine.
package hostkey

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"time"

	"github.com/homelabhq/hub/pkg/herrors"
	"github.com/homelabhq/hub/pkg/types"
)

// Store is the persistence surface the host-key store needs.
type Store interface {
	GetHostKey(machineID string) (*types.HostKey, error)
	PutHostKey(hostKey *types.HostKey) error
}

// HostKeyStore implements TOFU over a Store.
type HostKeyStore struct {
	store Store
}

// New builds a HostKeyStore.
func New(store Store) *HostKeyStore {
	return &HostKeyStore{store: store}
}

// Fingerprint computes the "SHA256:"-prefixed, padding-stripped base64
// fingerprint of a raw public key, the form stored and compared
// throughout this package.
func Fingerprint(rawPublicKey []byte) string {
	sum := sha256.Sum256(rawPublicKey)
	return "SHA256:" + strings.TrimRight(base64.StdEncoding.EncodeToString(sum[:]), "=")
}

// Get returns the trusted host key for a machine, if any.
func (h *HostKeyStore) Get(machineID string) (*types.HostKey, error) {
	return h.store.GetHostKey(machineID)
}

// Verify implements the TOFU protocol: first contact stores the key,
// a matching fingerprint on a later contact refreshes last_seen, and a
// mismatch returns HostKeyChanged without storing anything.
func (h *HostKeyStore) Verify(machineID, hostname, keyType string, rawPublicKey []byte) error {
	fingerprint := Fingerprint(rawPublicKey)
	now := time.Now().UTC()

	existing, err := h.store.GetHostKey(machineID)
	if err != nil {
		return h.store.PutHostKey(&types.HostKey{
			MachineID:   machineID,
			Hostname:    hostname,
			KeyType:     keyType,
			PublicKey:   rawPublicKey,
			Fingerprint: fingerprint,
			FirstSeen:   now,
			LastSeen:    now,
		})
	}

	if existing.Fingerprint != fingerprint {
		return &herrors.HostKeyChanged{
			MachineID:           machineID,
			Hostname:            hostname,
			ExpectedFingerprint: existing.Fingerprint,
			ActualFingerprint:   fingerprint,
		}
	}

	return h.UpdateLastSeen(machineID)
}

// UpdateLastSeen refreshes the last-seen timestamp for a matching key.
func (h *HostKeyStore) UpdateLastSeen(machineID string) error {
	existing, err := h.store.GetHostKey(machineID)
	if err != nil {
		return err
	}
	existing.LastSeen = time.Now().UTC()
	return h.store.PutHostKey(existing)
}
