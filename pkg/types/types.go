// Package types defines the entities shared across the homelab fleet hub:
// servers, credentials, alerts, remediation actions, and configuration
// packs. Nothing in this package talks to storage, the network, or SSH —
// it is the vocabulary every other package imports.
package types

import "time"

// ServerStatus is the derived online/offline state of a managed machine.
type ServerStatus string

const (
	ServerStatusUnknown ServerStatus = "unknown"
	ServerStatusOnline  ServerStatus = "online"
	ServerStatusOffline ServerStatus = "offline"
)

// AgentMode controls whether an agent may execute remote commands.
type AgentMode string

const (
	AgentModeReadonly  AgentMode = "readonly"
	AgentModeReadwrite AgentMode = "readwrite"
)

// CategorySource records whether MachineCategory was set by a human or
// inferred from CPU/architecture.
type CategorySource string

const (
	CategorySourceAuto   CategorySource = "auto"
	CategorySourceManual CategorySource = "manual"
)

// Server is the aggregate root for all per-machine state.
type Server struct {
	ID                    string
	GUID                  string
	Hostname              string
	DisplayName           string
	IPAddress             string
	TailscaleHostname     string
	Status                ServerStatus
	LastSeen              *time.Time
	IsPaused              bool
	PausedAt              *time.Time
	IsInactive            bool
	InactiveSince         *time.Time
	AgentMode             AgentMode
	MachineCategory       string
	MachineCategorySource CategorySource
	IdleWatts             float64
	TDPWatts              float64
	CPUModel              string
	CPUCores              int
	CPUArch               string
	OSName                string
	OSVersion             string
	AgentVersion          string
	DriftDetectionEnabled bool
	AssignedPacks         []string
	SSHUsername           string
	UpdatesAvailable      int
	SecurityUpdates       int
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// EffectiveHost returns the first non-empty of (TailscaleHostname,
// IPAddress, Hostname) — the single accessor every SSH-reaching
// component must use to pick a connection target.
func (s *Server) EffectiveHost() string {
	switch {
	case s.TailscaleHostname != "":
		return s.TailscaleHostname
	case s.IPAddress != "":
		return s.IPAddress
	default:
		return s.Hostname
	}
}

// CredentialType enumerates the secrets the vault is willing to store.
type CredentialType string

const (
	CredentialTailscaleToken CredentialType = "tailscale_token"
	CredentialSSHPrivateKey  CredentialType = "ssh_private_key"
	CredentialSudoPassword   CredentialType = "sudo_password"
	CredentialSSHPassword    CredentialType = "ssh_password"
)

// Credential is an encrypted secret, global or bound to one server.
type Credential struct {
	ID             string
	CredentialType CredentialType
	EncryptedValue []byte
	ServerID       *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// HostKey is the SSH host key trusted for a machine (TOFU).
type HostKey struct {
	MachineID   string
	Hostname    string
	KeyType     string
	PublicKey   []byte
	Fingerprint string
	FirstSeen   time.Time
	LastSeen    time.Time
}

// RegistrationMode is the agent mode a registration token will mint.
type RegistrationMode = AgentMode

// RegistrationToken is a single-use credential minted for a new agent.
type RegistrationToken struct {
	ID                string
	TokenHash         string
	Prefix            string
	Mode              RegistrationMode
	DisplayName       string
	MonitoredServices []string
	ExpiresAt         time.Time
	ClaimedAt         *time.Time
	ClaimedByServerID *string
	CreatedAt         time.Time
}

// AgentCredential is the long-lived per-agent API token.
type AgentCredential struct {
	ServerGUID     string
	APITokenHash   string
	APITokenPrefix string
	IsLegacy       bool
	LastUsedAt     *time.Time
	RevokedAt      *time.Time
	CreatedAt      time.Time
}

// Severity is an alert's current severity. MetricType-dependent: numeric
// metrics use high/critical, services use medium/high, drift uses warning.
type Severity string

const (
	SeverityNone     Severity = ""
	SeverityWarning  Severity = "warning"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// MetricType identifies what an AlertState/Alert is tracking. Service
// alerts key on "service:<name>" — use ServiceMetricType to build one.
type MetricType string

const (
	MetricCPU         MetricType = "cpu"
	MetricMemory      MetricType = "memory"
	MetricDisk        MetricType = "disk"
	MetricOffline     MetricType = "offline"
	MetricConfigDrift MetricType = "config_drift"
)

// ServiceMetricType builds the metric_type key for a watched systemd unit.
func ServiceMetricType(serviceName string) MetricType {
	return MetricType("service:" + serviceName)
}

// DriftMetricType builds the metric_type key for a pack's drift alert —
// drift is tracked per (server, pack), not per server alone.
func DriftMetricType(packName string) MetricType {
	return MetricType("config_drift:" + packName)
}

// ThresholdConfig is the high/critical breach configuration for a single
// numeric metric (cpu, memory, disk).
type ThresholdConfig struct {
	HighPercent      float64
	CriticalPercent  float64 // must be strictly greater than HighPercent
	SustainedSeconds int     // 0 means fire on the first breach
}

// NotificationConfig gates which AlertEngine transitions reach the
// Notifier. NotifyOnAutoResolve is kept distinct from NotifyOnResolve
// because operators often want silence on transient auto-clears while
// still hearing about manual resolutions (or vice versa).
type NotificationConfig struct {
	NotifyOnNewAlert    bool
	NotifyOnEscalation  bool
	NotifyOnCooldown    bool
	NotifyOnResolve     bool
	NotifyOnAutoResolve bool
	NotifyOnRemediation bool
}

// AlertConfig is the full threshold/cooldown/notification configuration
// the AlertEngine evaluates every heartbeat against. One config applies
// hub-wide; per-server overrides are not part of this cut.
type AlertConfig struct {
	CPU    ThresholdConfig
	Memory ThresholdConfig
	Disk   ThresholdConfig

	ServerOfflineSeconds int // >= 30

	CriticalCooldownMinutes int // >= 5
	HighCooldownMinutes     int // >= 15

	Notify NotificationConfig
}

// DefaultAlertConfig returns sane hub-wide defaults matching the values
// used throughout examples in the operator docs.
func DefaultAlertConfig() AlertConfig {
	return AlertConfig{
		CPU:                     ThresholdConfig{HighPercent: 80, CriticalPercent: 95, SustainedSeconds: 300},
		Memory:                  ThresholdConfig{HighPercent: 85, CriticalPercent: 95, SustainedSeconds: 300},
		Disk:                    ThresholdConfig{HighPercent: 80, CriticalPercent: 90, SustainedSeconds: 0},
		ServerOfflineSeconds:    120,
		CriticalCooldownMinutes: 5,
		HighCooldownMinutes:     15,
		Notify: NotificationConfig{
			NotifyOnNewAlert:    true,
			NotifyOnEscalation:  true,
			NotifyOnCooldown:    true,
			NotifyOnResolve:     true,
			NotifyOnAutoResolve: true,
			NotifyOnRemediation: true,
		},
	}
}

// AlertState is the ephemeral per-(server, metric) evaluator state.
type AlertState struct {
	ServerID            string
	MetricType          MetricType
	CurrentSeverity     Severity
	ConsecutiveBreaches int
	FirstBreachAt       *time.Time
	LastNotifiedAt      *time.Time
	CurrentValue        float64
	ResolvedAt          *time.Time
}

// IsBreaching reports the BREACHING sub-state: a run of breaches that
// has not yet produced an Alert.
func (s *AlertState) IsBreaching() bool {
	return s.ConsecutiveBreaches > 0 && s.CurrentSeverity == SeverityNone
}

// AlertStatus is the lifecycle state of a persistent Alert record.
type AlertStatus string

const (
	AlertStatusOpen         AlertStatus = "open"
	AlertStatusAcknowledged AlertStatus = "acknowledged"
	AlertStatusResolved     AlertStatus = "resolved"
)

// Alert is a persistent, user-visible alert record.
type Alert struct {
	ID              string
	ServerID        string
	AlertType       MetricType
	Severity        Severity
	Status          AlertStatus
	Title           string
	Message         string
	ThresholdValue  float64
	ActualValue     float64
	CreatedAt       time.Time
	AcknowledgedAt  *time.Time
	ResolvedAt      *time.Time
	AutoResolved    bool
	DurationMinutes *int
}

// ActionType enumerates the whitelisted remediation operations (spec §4.7).
type ActionType string

const (
	ActionRestartService     ActionType = "restart_service"
	ActionClearLogs          ActionType = "clear_logs"
	ActionAptUpdate          ActionType = "apt_update"
	ActionAptUpgradeAll      ActionType = "apt_upgrade_all"
	ActionAptUpgradeSecurity ActionType = "apt_upgrade_security"
)

// ActionStatus is the lifecycle state of a RemediationAction.
type ActionStatus string

const (
	ActionStatusPending   ActionStatus = "pending"
	ActionStatusApproved  ActionStatus = "approved"
	ActionStatusRejected  ActionStatus = "rejected"
	ActionStatusExecuting ActionStatus = "executing"
	ActionStatusCompleted ActionStatus = "completed"
	ActionStatusFailed    ActionStatus = "failed"
)

// Terminal reports whether status can never transition again.
func (s ActionStatus) Terminal() bool {
	return s == ActionStatusCompleted || s == ActionStatusFailed || s == ActionStatusRejected
}

// RemediationAction is a single remote command request.
type RemediationAction struct {
	ID              string
	ServerID        string
	ActionType      ActionType
	ServiceName     string
	Command         string
	AlertID         *string
	Status          ActionStatus
	CreatedBy       string
	CreatedAt       time.Time
	ApprovedAt      *time.Time
	ApprovedBy      string
	RejectedAt      *time.Time
	RejectedBy      string
	RejectionReason string
	ExecutedAt      *time.Time
	CompletedAt     *time.Time
	ExitCode        *int
	Stdout          string
	Stderr          string
}

// PackFileItem projects a file onto a host.
type PackFileItem struct {
	Path        string
	Mode        string
	Template    string
	Description string
}

// PackPackageItem declares a required package.
type PackPackageItem struct {
	Name        string
	MinVersion  string
	Description string
}

// SettingType enumerates supported declarative setting kinds.
type SettingType string

const (
	SettingEnvVar SettingType = "env_var"
)

// PackSettingItem declares a required environment-style setting.
type PackSettingItem struct {
	Type        SettingType
	Key         string
	Expected    string
	Description string
}

// Pack is a declarative bundle of files/packages/settings.
type Pack struct {
	Name        string
	Description string
	Extends     string
	Files       []PackFileItem
	Packages    []PackPackageItem
	Settings    []PackSettingItem
}

// ApplyStatus is the lifecycle state of a ConfigApply run.
type ApplyStatus string

const (
	ApplyStatusPending   ApplyStatus = "pending"
	ApplyStatusRunning   ApplyStatus = "running"
	ApplyStatusCompleted ApplyStatus = "completed"
	ApplyStatusFailed    ApplyStatus = "failed"
)

// Terminal reports whether an apply can no longer transition.
func (s ApplyStatus) Terminal() bool {
	return s == ApplyStatusCompleted || s == ApplyStatusFailed
}

// ItemResult records the outcome of applying or removing a single pack item.
type ItemResult struct {
	Item       string
	Action     string // created|installed|set|deleted|skipped
	Success    bool
	Error      string
	BackupPath string
}

// ConfigApply is a single apply-or-remove run of a pack against a server.
type ConfigApply struct {
	ID          string
	ServerID    string
	PackName    string
	Operation   string // "apply" | "remove"
	Status      ApplyStatus
	ItemsTotal  int
	ItemsDone   int
	Progress    int
	CurrentItem string
	Results     []ItemResult
	Error       string
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// ConfigCheck is one compliance snapshot of a server against a pack,
// used by drift detection to compare the two most recent checks.
type ConfigCheck struct {
	ID         string
	ServerID   string
	PackName   string
	Compliant  bool
	Mismatches []string
	CheckedAt  time.Time
}

// PendingPackage is a reported available package update.
type PendingPackage struct {
	ServerID       string
	Name           string
	CurrentVersion string
	NewVersion     string
	Repository     string
	IsSecurity     bool
}

// ServiceStatus is the reported run state of a monitored systemd unit.
type ServiceStatus string

const (
	ServiceStatusRunning ServiceStatus = "running"
	ServiceStatusStopped ServiceStatus = "stopped"
	ServiceStatusFailed  ServiceStatus = "failed"
	ServiceStatusUnknown ServiceStatus = "unknown"
)

// ReportedService is one service entry from a heartbeat payload.
type ReportedService struct {
	Name       string
	Status     ServiceStatus
	PID        int
	MemoryMB   float64
	CPUPercent float64
}

// ExpectedService is an operator-declared systemd unit a server should run.
type ExpectedService struct {
	ServerID string
	Name     string
	Critical bool
}

// Metrics is one heartbeat's worth of resource-usage data.
type Metrics struct {
	ServerID      string
	CPUPercent    *float64
	MemoryPercent *float64
	DiskPercent   *float64
	LoadAvg1      float64
	LoadAvg5      float64
	LoadAvg15     float64
	UptimeSeconds int64
	RecordedAt    time.Time
}

// Heartbeat is the full payload an agent reports.
type Heartbeat struct {
	ServerGUID       string
	ServerID         string
	Hostname         string
	Timestamp        time.Time
	AgentVersion     string
	AgentMode        AgentMode
	OSName           string
	OSVersion        string
	CPUModel         string
	CPUCores         int
	CPUArch          string
	RebootRequired   bool
	Metrics          Metrics
	Services         []ReportedService
	Packages         []PendingPackage
	UpdatesAvailable int
	SecurityUpdates  int
}
