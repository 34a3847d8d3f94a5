// Package token implements the TokenAuthority: minting, hashing,
// validating, rotating, and revoking registration and agent tokens, and
// issuing the permanent GUID a server keeps for its lifetime.
package token

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/homelabhq/hub/pkg/herrors"
	"github.com/homelabhq/hub/pkg/types"
	"gopkg.in/yaml.v3"
)

const (
	registrationPrefix = "hlh_rt_"
	agentPrefix        = "hlh_ag_"
	prefixDisplayLen   = 16
)

// ValidationErrorKind distinguishes why a registration token failed
// validation, per the contract's {invalid, expired, already_claimed} set.
type ValidationErrorKind string

const (
	ErrKindInvalid         ValidationErrorKind = "invalid"
	ErrKindExpired         ValidationErrorKind = "expired"
	ErrKindAlreadyClaimed  ValidationErrorKind = "already_claimed"
)

// Store is the persistence surface the token authority needs.
type Store interface {
	CreateRegistrationToken(tok *types.RegistrationToken) error
	GetRegistrationTokenByHash(hash string) (*types.RegistrationToken, error)
	UpdateRegistrationToken(tok *types.RegistrationToken) error
	PutAgentCredential(cred *types.AgentCredential) error
	GetAgentCredentialByGUID(guid string) (*types.AgentCredential, error)
	ClaimRegistrationToken(tokenHash string, server *types.Server, cred *types.AgentCredential) error
	GetServerByHostname(hostname string) (*types.Server, error)
}

// Authority implements the token lifecycle.
type Authority struct {
	store  Store
	hubURL string
}

// New builds an Authority. hubURL is embedded in synthesized agent
// config documents.
func New(store Store, hubURL string) *Authority {
	return &Authority{store: store, hubURL: strings.TrimRight(hubURL, "/")}
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func hashToken(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

func prefixOf(plaintext string) string {
	if len(plaintext) < prefixDisplayLen {
		return plaintext
	}
	return plaintext[:prefixDisplayLen]
}

// MintRegistration generates a new single-use registration token.
func (a *Authority) MintRegistration(mode types.RegistrationMode, displayName string, monitoredServices []string, expiryMinutes int) (*types.RegistrationToken, string, error) {
	if expiryMinutes <= 0 {
		expiryMinutes = 1440
	}

	hexPart, err := randomHex(32)
	if err != nil {
		return nil, "", err
	}
	plaintext := registrationPrefix + hexPart

	record := &types.RegistrationToken{
		ID:                uuid.NewString(),
		TokenHash:         hashToken(plaintext),
		Prefix:            prefixOf(plaintext),
		Mode:              mode,
		DisplayName:       displayName,
		MonitoredServices: monitoredServices,
		ExpiresAt:         time.Now().UTC().Add(time.Duration(expiryMinutes) * time.Minute),
		CreatedAt:         time.Now().UTC(),
	}

	if err := a.store.CreateRegistrationToken(record); err != nil {
		return nil, "", err
	}
	return record, plaintext, nil
}

// ValidateRegistration checks a plaintext registration token without
// claiming it.
func (a *Authority) ValidateRegistration(plaintext string) (bool, *types.RegistrationToken, ValidationErrorKind) {
	if !strings.HasPrefix(plaintext, registrationPrefix) {
		return false, nil, ErrKindInvalid
	}

	record, err := a.store.GetRegistrationTokenByHash(hashToken(plaintext))
	if err != nil {
		return false, nil, ErrKindInvalid
	}

	if record.ClaimedAt != nil {
		return false, record, ErrKindAlreadyClaimed
	}
	if time.Now().UTC().After(record.ExpiresAt) {
		return false, record, ErrKindExpired
	}
	return true, record, ""
}

// ClaimResult is what ClaimRegistration returns on success.
type ClaimResult struct {
	ServerID   string
	ServerGUID string
	APIToken   string
	ConfigYAML string
}

// agentConfigDoc mirrors the recognised keys of the agent configuration
// document (wire interface §6); only the fields this claim flow
// populates are set, the rest take the agent's own defaults.
type agentConfigDoc struct {
	HubURL            string   `yaml:"hub_url"`
	ServerID          string   `yaml:"server_id"`
	ServerGUID        string   `yaml:"server_guid"`
	APIToken          string   `yaml:"api_token"`
	Mode              string   `yaml:"mode"`
	MonitoredServices []string `yaml:"monitored_services,omitempty"`
	CommandExecution  *struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"command_execution,omitempty"`
}

// ClaimRegistration redeems a registration token plaintext: mints a
// GUID, creates the Server, mints its AgentCredential, and marks the
// token claimed, all in one logical transaction. The Server row is always
// built fresh under serverID with the new GUID; an existing server is not
// looked up or reused.
func (a *Authority) ClaimRegistration(plaintext, serverID, hostname string) (*ClaimResult, error) {
	valid, record, kind := a.ValidateRegistration(plaintext)
	if !valid {
		switch kind {
		case ErrKindAlreadyClaimed:
			return nil, &herrors.Conflict{Message: "registration token already claimed"}
		case ErrKindExpired:
			return nil, &herrors.Unauthorized{Message: "registration token expired"}
		default:
			return nil, &herrors.Unauthorized{Message: "invalid registration token"}
		}
	}

	guid := uuid.NewString()

	agentHex, err := randomHex(32)
	if err != nil {
		return nil, err
	}
	apiToken := agentPrefix + guid[:8] + "_" + agentHex

	now := time.Now().UTC()
	server := &types.Server{
		ID:            serverID,
		GUID:          guid,
		Hostname:      hostname,
		Status:        types.ServerStatusUnknown,
		AgentMode:     record.Mode,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	cred := &types.AgentCredential{
		ServerGUID:     guid,
		APITokenHash:   hashToken(apiToken),
		APITokenPrefix: prefixOf(apiToken),
		CreatedAt:      now,
	}

	if err := a.store.ClaimRegistrationToken(record.TokenHash, server, cred); err != nil {
		return nil, err
	}

	doc := agentConfigDoc{
		HubURL:            a.hubURL,
		ServerID:          serverID,
		ServerGUID:        guid,
		APIToken:          apiToken,
		Mode:              string(record.Mode),
		MonitoredServices: record.MonitoredServices,
	}
	if record.Mode == types.AgentModeReadwrite {
		doc.CommandExecution = &struct {
			Enabled bool `yaml:"enabled"`
		}{Enabled: true}
	}

	yamlBytes, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal agent config: %w", err)
	}

	return &ClaimResult{
		ServerID:   serverID,
		ServerGUID: guid,
		APIToken:   apiToken,
		ConfigYAML: string(yamlBytes),
	}, nil
}

// ValidateAgent performs a timing-safe check of a presented agent token
// plaintext against the stored hash bound to serverGUID.
func (a *Authority) ValidateAgent(plaintext, serverGUID string) (bool, *types.AgentCredential) {
	cred, err := a.store.GetAgentCredentialByGUID(serverGUID)
	if err != nil || cred.RevokedAt != nil {
		return false, nil
	}

	presentedHash := hashToken(plaintext)
	if subtle.ConstantTimeCompare([]byte(presentedHash), []byte(cred.APITokenHash)) != 1 {
		return false, nil
	}

	now := time.Now().UTC()
	cred.LastUsedAt = &now
	_ = a.store.PutAgentCredential(cred)
	return true, cred
}

// RotateAgent mints a new agent token for serverGUID, immediately
// invalidating the old one.
func (a *Authority) RotateAgent(serverGUID string) (string, error) {
	old, err := a.store.GetAgentCredentialByGUID(serverGUID)
	if err != nil {
		return "", &herrors.NotFound{Kind: "agent_credential", ID: serverGUID}
	}

	hexPart, err := randomHex(32)
	if err != nil {
		return "", err
	}
	newPlaintext := agentPrefix + serverGUID[:8] + "_" + hexPart

	now := time.Now().UTC()
	old.RevokedAt = &now
	if err := a.store.PutAgentCredential(old); err != nil {
		return "", err
	}

	fresh := &types.AgentCredential{
		ServerGUID:     serverGUID,
		APITokenHash:   hashToken(newPlaintext),
		APITokenPrefix: prefixOf(newPlaintext),
		CreatedAt:      now,
	}
	if err := a.store.PutAgentCredential(fresh); err != nil {
		return "", err
	}
	return newPlaintext, nil
}

// RevokeAgent marks the current credential for serverGUID revoked.
func (a *Authority) RevokeAgent(serverGUID string) error {
	cred, err := a.store.GetAgentCredentialByGUID(serverGUID)
	if err != nil {
		return &herrors.NotFound{Kind: "agent_credential", ID: serverGUID}
	}
	now := time.Now().UTC()
	cred.RevokedAt = &now
	return a.store.PutAgentCredential(cred)
}
