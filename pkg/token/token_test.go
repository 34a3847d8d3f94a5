package token

import (
	"testing"
	"time"

	"github.com/homelabhq/hub/pkg/storage"
	"github.com/homelabhq/hub/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAuthority(t *testing.T) (*Authority, *storage.BoltStore) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return New(store, "https://hub.lan:8443"), store
}

func TestMintRegistrationProducesExpectedFormat(t *testing.T) {
	a, _ := newTestAuthority(t)

	record, plaintext, err := a.MintRegistration(types.AgentModeReadonly, "rack1-nuc", nil, 0)
	require.NoError(t, err)
	assert.True(t, len(plaintext) > len(registrationPrefix))
	assert.Equal(t, registrationPrefix, plaintext[:len(registrationPrefix)])
	assert.NotEmpty(t, record.TokenHash)
	assert.NotEqual(t, plaintext, record.TokenHash)
}

func TestValidateRegistrationRoundTrip(t *testing.T) {
	a, _ := newTestAuthority(t)

	_, plaintext, err := a.MintRegistration(types.AgentModeReadonly, "rack1-nuc", nil, 60)
	require.NoError(t, err)

	valid, record, kind := a.ValidateRegistration(plaintext)
	assert.True(t, valid)
	assert.Empty(t, kind)
	assert.NotNil(t, record)

	valid, _, kind = a.ValidateRegistration("hlh_rt_deadbeef")
	assert.False(t, valid)
	assert.Equal(t, ErrKindInvalid, kind)
}

func TestValidateRegistrationExpired(t *testing.T) {
	a, store := newTestAuthority(t)

	_, plaintext, err := a.MintRegistration(types.AgentModeReadonly, "old", nil, 1)
	require.NoError(t, err)

	valid, record, _ := a.ValidateRegistration(plaintext)
	require.True(t, valid)

	record.ExpiresAt = record.ExpiresAt.Add(-2 * time.Minute) // force into the past
	require.NoError(t, store.UpdateRegistrationToken(record))

	valid, _, kind := a.ValidateRegistration(plaintext)
	assert.False(t, valid)
	assert.Equal(t, ErrKindExpired, kind)
}

func TestClaimRegistrationIsNotIdempotent(t *testing.T) {
	a, _ := newTestAuthority(t)

	_, plaintext, err := a.MintRegistration(types.AgentModeReadwrite, "nas1", []string{"smb", "plex"}, 0)
	require.NoError(t, err)

	result, err := a.ClaimRegistration(plaintext, "srv-nas1", "nas1.lan")
	require.NoError(t, err)
	assert.NotEmpty(t, result.ServerGUID)
	assert.NotEmpty(t, result.APIToken)
	assert.Contains(t, result.ConfigYAML, "server_guid")
	assert.Contains(t, result.ConfigYAML, "hub_url: https://hub.lan:8443")

	_, err = a.ClaimRegistration(plaintext, "srv-nas1-again", "nas1.lan")
	assert.Error(t, err)
}

func TestClaimRegistrationRejectsExpiredOrUnknownToken(t *testing.T) {
	a, store := newTestAuthority(t)

	_, err := a.ClaimRegistration("hlh_rt_notreal", "srv-x", "x.lan")
	assert.Error(t, err)

	_, plaintext, err := a.MintRegistration(types.AgentModeReadonly, "old", nil, 1)
	require.NoError(t, err)
	_, record, _ := a.ValidateRegistration(plaintext)
	record.ExpiresAt = record.ExpiresAt.Add(-2 * time.Minute)
	require.NoError(t, store.UpdateRegistrationToken(record))

	_, err = a.ClaimRegistration(plaintext, "srv-y", "y.lan")
	assert.Error(t, err)
}

func TestValidateAgentAcceptsExactTokenOnly(t *testing.T) {
	a, _ := newTestAuthority(t)

	_, plaintext, err := a.MintRegistration(types.AgentModeReadonly, "box", nil, 0)
	require.NoError(t, err)
	result, err := a.ClaimRegistration(plaintext, "srv-1", "box.lan")
	require.NoError(t, err)

	ok, cred := a.ValidateAgent(result.APIToken, result.ServerGUID)
	assert.True(t, ok)
	assert.NotNil(t, cred)

	ok, cred = a.ValidateAgent("hlh_ag_wrongwrong", result.ServerGUID)
	assert.False(t, ok)
	assert.Nil(t, cred)
}

func TestRotateAgentInvalidatesOldToken(t *testing.T) {
	a, _ := newTestAuthority(t)

	_, plaintext, err := a.MintRegistration(types.AgentModeReadonly, "box", nil, 0)
	require.NoError(t, err)
	result, err := a.ClaimRegistration(plaintext, "srv-1", "box.lan")
	require.NoError(t, err)

	newToken, err := a.RotateAgent(result.ServerGUID)
	require.NoError(t, err)
	assert.NotEqual(t, result.APIToken, newToken)

	ok, _ := a.ValidateAgent(result.APIToken, result.ServerGUID)
	assert.False(t, ok)

	ok, _ = a.ValidateAgent(newToken, result.ServerGUID)
	assert.True(t, ok)
}

func TestRevokeAgentBlocksFurtherValidation(t *testing.T) {
	a, _ := newTestAuthority(t)

	_, plaintext, err := a.MintRegistration(types.AgentModeReadonly, "box", nil, 0)
	require.NoError(t, err)
	result, err := a.ClaimRegistration(plaintext, "srv-1", "box.lan")
	require.NoError(t, err)

	require.NoError(t, a.RevokeAgent(result.ServerGUID))

	ok, _ := a.ValidateAgent(result.APIToken, result.ServerGUID)
	assert.False(t, ok)
}
