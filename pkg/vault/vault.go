// Package vault implements the CredentialVault: a single hub-wide
// symmetric key encrypts every secret (Tailscale tokens, SSH keys, sudo
// and SSH passwords) at rest, global or bound to one server.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/homelabhq/hub/pkg/herrors"
	"github.com/homelabhq/hub/pkg/types"
)

const envelopeVersion byte = 1

var allowedTypes = map[types.CredentialType]bool{
	types.CredentialTailscaleToken: true,
	types.CredentialSSHPrivateKey:  true,
	types.CredentialSudoPassword:   true,
	types.CredentialSSHPassword:    true,
}

// Store is the persistence surface the vault needs from pkg/storage.
type Store interface {
	PutCredential(cred *types.Credential) error
	GetCredential(id string) (*types.Credential, error)
	ListCredentialsByType(credType types.CredentialType, serverID *string) ([]*types.Credential, error)
	DeleteCredential(id string) error
}

// Vault encrypts and persists credentials with a single AES-256-GCM key
// supplied at construction. The key is never stored by the vault itself.
type Vault struct {
	key   []byte
	store Store
}

// New builds a Vault from a URL-safe base64-encoded 32-byte key, the
// format a CLI helper outside this package is expected to generate.
// An invalid key is startup-fatal, per spec: callers should treat a
// non-nil error here as unrecoverable.
func New(store Store, encodedKey string) (*Vault, error) {
	key, err := base64.URLEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("invalid vault key encoding: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("vault key must decode to 32 bytes, got %d", len(key))
	}
	return &Vault{key: key, store: store}, nil
}

func credentialID(credType types.CredentialType, serverID *string) string {
	if serverID == nil {
		return "global:" + string(credType)
	}
	return *serverID + ":" + string(credType)
}

// Store encrypts and upserts a credential by (type, server_id).
func (v *Vault) Store(credType types.CredentialType, value string, serverID *string) (string, error) {
	if !allowedTypes[credType] {
		return "", &herrors.ValidationError{Field: "credential_type", Message: fmt.Sprintf("unsupported credential type %q", credType)}
	}
	if strings.TrimSpace(value) == "" {
		return "", &herrors.ValidationError{Field: "value", Message: "credential value must not be empty"}
	}

	encrypted, err := v.encrypt([]byte(value))
	if err != nil {
		return "", err
	}

	id := credentialID(credType, serverID)
	now := time.Now().UTC()
	existing, err := v.store.GetCredential(id)
	created := now
	if err == nil && existing != nil {
		created = existing.CreatedAt
	}

	cred := &types.Credential{
		ID:             id,
		CredentialType: credType,
		EncryptedValue: encrypted,
		ServerID:       serverID,
		CreatedAt:      created,
		UpdatedAt:      now,
	}
	if err := v.store.PutCredential(cred); err != nil {
		return "", err
	}
	return id, nil
}

// Get decrypts the credential at exactly (type, server_id), with no
// fallback to the global row.
func (v *Vault) Get(credType types.CredentialType, serverID *string) (string, error) {
	id := credentialID(credType, serverID)
	cred, err := v.store.GetCredential(id)
	if err != nil {
		return "", nil
	}
	plaintext, err := v.decrypt(cred.EncryptedValue)
	if err != nil {
		return "", &herrors.CredentialDecryptionError{Type: string(credType), Err: err}
	}
	return string(plaintext), nil
}

// Effective returns the per-server value if present, else the global
// value, never mixing the two.
func (v *Vault) Effective(credType types.CredentialType, serverID string) (string, error) {
	val, err := v.Get(credType, &serverID)
	if err != nil {
		return "", err
	}
	if val != "" {
		return val, nil
	}
	return v.Get(credType, nil)
}

// Scope reports where a credential is currently stored.
func (v *Vault) Scope(credType types.CredentialType, serverID string) string {
	if _, err := v.store.GetCredential(credentialID(credType, &serverID)); err == nil {
		return "per_server"
	}
	if _, err := v.store.GetCredential(credentialID(credType, nil)); err == nil {
		return "global"
	}
	return "none"
}

// Delete removes a stored credential, reporting whether one existed.
func (v *Vault) Delete(credType types.CredentialType, serverID *string) bool {
	id := credentialID(credType, serverID)
	if _, err := v.store.GetCredential(id); err != nil {
		return false
	}
	return v.store.DeleteCredential(id) == nil
}

// Exists reports whether a credential is stored at exactly (type, server_id).
func (v *Vault) Exists(credType types.CredentialType, serverID *string) bool {
	_, err := v.store.GetCredential(credentialID(credType, serverID))
	return err == nil
}

// envelope layout: version(1) | unix_seconds(8, big-endian) | nonce | ciphertext+tag.
// GCM's authentication tag already serves as the MAC a Fernet-style
// construction adds explicitly, so no separate HMAC pass is needed.
func (v *Vault) encrypt(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	header := make([]byte, 9)
	header[0] = envelopeVersion
	binary.BigEndian.PutUint64(header[1:], uint64(time.Now().Unix()))

	sealed := gcm.Seal(nil, nonce, plaintext, nil)

	envelope := make([]byte, 0, len(header)+len(nonce)+len(sealed))
	envelope = append(envelope, header...)
	envelope = append(envelope, nonce...)
	envelope = append(envelope, sealed...)
	return envelope, nil
}

func (v *Vault) decrypt(envelope []byte) ([]byte, error) {
	if len(envelope) < 9 {
		return nil, fmt.Errorf("envelope too short")
	}
	if envelope[0] != envelopeVersion {
		return nil, fmt.Errorf("unsupported envelope version %d", envelope[0])
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	rest := envelope[9:]
	nonceSize := gcm.NonceSize()
	if len(rest) < nonceSize {
		return nil, fmt.Errorf("envelope truncated")
	}
	nonce, ciphertext := rest[:nonceSize], rest[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}

// GenerateKey creates a fresh URL-safe base64-encoded 32-byte key, for
// the operator-facing setup helper that prints the "store this safely"
// warning. Not used by the vault itself at runtime.
func GenerateKey() (string, error) {
	raw := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}
	return base64.URLEncoding.EncodeToString(raw), nil
}
