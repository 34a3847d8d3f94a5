package storage

import (
	"github.com/homelabhq/hub/pkg/types"
)

// Store defines the persistence surface every control-plane component
// depends on. It is implemented by BoltStore; tests may substitute an
// in-memory fake built on the same interface.
type Store interface {
	// Servers
	CreateServer(server *types.Server) error
	GetServer(id string) (*types.Server, error)
	GetServerByGUID(guid string) (*types.Server, error)
	GetServerByHostname(hostname string) (*types.Server, error)
	ListServers() ([]*types.Server, error)
	UpdateServer(server *types.Server) error
	DeleteServer(id string) error
	CountServersByStatus() (map[string]int, error)

	// Credentials
	PutCredential(cred *types.Credential) error
	GetCredential(id string) (*types.Credential, error)
	ListCredentialsByType(credType types.CredentialType, serverID *string) ([]*types.Credential, error)
	DeleteCredential(id string) error

	// Host keys (TOFU)
	GetHostKey(machineID string) (*types.HostKey, error)
	PutHostKey(hostKey *types.HostKey) error

	// Registration tokens
	CreateRegistrationToken(tok *types.RegistrationToken) error
	GetRegistrationTokenByHash(hash string) (*types.RegistrationToken, error)
	UpdateRegistrationToken(tok *types.RegistrationToken) error

	// Agent credentials (per-server API tokens)
	PutAgentCredential(cred *types.AgentCredential) error
	GetAgentCredentialByGUID(guid string) (*types.AgentCredential, error)

	// ClaimRegistrationToken performs the create-server + mint-agent-credential
	// + mark-token-claimed sequence in a single bbolt transaction so a crash
	// mid-claim can never leave a server without credentials or a token
	// double-claimed.
	ClaimRegistrationToken(tokenHash string, server *types.Server, cred *types.AgentCredential) error

	// Alert state (ephemeral per-server-metric evaluator state)
	GetAlertState(serverID string, metricType types.MetricType) (*types.AlertState, error)
	PutAlertState(state *types.AlertState) error
	ListAlertStatesByServer(serverID string) ([]*types.AlertState, error)
	DeleteAlertState(serverID string, metricType types.MetricType) error

	// Alerts (persistent records)
	CreateAlert(alert *types.Alert) error
	GetAlert(id string) (*types.Alert, error)
	UpdateAlert(alert *types.Alert) error
	ListOpenAlerts() ([]*types.Alert, error)
	ListAlertsByServer(serverID string) ([]*types.Alert, error)

	// Remediation actions
	CreateAction(action *types.RemediationAction) error
	GetAction(id string) (*types.RemediationAction, error)
	UpdateAction(action *types.RemediationAction) error
	ListActionsByStatus(status types.ActionStatus) ([]*types.RemediationAction, error)
	ListActionsByServer(serverID string) ([]*types.RemediationAction, error)

	// Config packs
	PutPack(pack *types.Pack) error
	GetPack(name string) (*types.Pack, error)
	ListPacks() ([]*types.Pack, error)
	DeletePack(name string) error

	// Config apply runs
	CreateConfigApply(apply *types.ConfigApply) error
	GetConfigApply(id string) (*types.ConfigApply, error)
	UpdateConfigApply(apply *types.ConfigApply) error
	ListConfigAppliesByServer(serverID string) ([]*types.ConfigApply, error)

	// Config compliance checks (drift detection compares the two most recent)
	CreateConfigCheck(check *types.ConfigCheck) error
	ListConfigChecksByServerAndPack(serverID, packName string) ([]*types.ConfigCheck, error)

	// Pending packages reported by the most recent heartbeat
	ReplacePendingPackages(serverID string, pkgs []types.PendingPackage) error
	ListPendingPackagesByServer(serverID string) ([]types.PendingPackage, error)

	// Expected services (operator-declared watch list)
	PutExpectedService(svc *types.ExpectedService) error
	ListExpectedServicesByServer(serverID string) ([]*types.ExpectedService, error)
	DeleteExpectedService(serverID, name string) error

	// Metrics history (append-only per heartbeat, capped per server)
	CreateMetrics(m *types.Metrics) error
	ListRecentMetrics(serverID string, limit int) ([]*types.Metrics, error)

	// Reported services (current status per (server, service) from the
	// most recent heartbeat)
	PutReportedService(serverID string, svc *types.ReportedService) error
	ListReportedServicesByServer(serverID string) ([]*types.ReportedService, error)

	// Utility
	Close() error
}
