// Package heartbeat implements HeartbeatIngest: the single write path
// an agent uses to report its own state.
package heartbeat

import (
	"crypto/subtle"
	"time"

	"github.com/homelabhq/hub/pkg/herrors"
	"github.com/homelabhq/hub/pkg/log"
	"github.com/homelabhq/hub/pkg/metrics"
	"github.com/homelabhq/hub/pkg/types"
)

// TokenValidator is the subset of pkg/token needed to authenticate a
// reporting agent.
type TokenValidator interface {
	ValidateAgent(plaintext, serverGUID string) (bool, *types.AgentCredential)
}

// AlertEngine is the subset of pkg/alerting invoked once a heartbeat's
// metrics and service statuses have been persisted.
type AlertEngine interface {
	Evaluate(server *types.Server, m types.Metrics, services []types.ReportedService) error
}

// Store is the persistence surface HeartbeatIngest needs.
type Store interface {
	GetServerByGUID(guid string) (*types.Server, error)
	CreateServer(server *types.Server) error
	UpdateServer(server *types.Server) error
	CreateMetrics(m *types.Metrics) error
	ReplacePendingPackages(serverID string, pkgs []types.PendingPackage) error
	PutReportedService(serverID string, svc *types.ReportedService) error
}

// Response is the wire-independent result of processing one heartbeat.
type Response struct {
	Status           string
	ServerRegistered bool
	PendingCommands  []string
}

// Ingest implements the heartbeat processing pipeline.
type Ingest struct {
	store           Store
	tokens          TokenValidator
	alerts          AlertEngine
	legacySharedKey string
}

// New builds an Ingest. legacySharedKey, if non-empty, is accepted as an
// alternative to a per-agent token (spec's legacy shared-key mode);
// leave it empty once all agents have migrated to per-agent tokens.
func New(store Store, tokens TokenValidator, alerts AlertEngine, legacySharedKey string) *Ingest {
	return &Ingest{store: store, tokens: tokens, alerts: alerts, legacySharedKey: legacySharedKey}
}

func (i *Ingest) authenticate(presentedToken, serverGUID string) bool {
	if ok, _ := i.tokens.ValidateAgent(presentedToken, serverGUID); ok {
		return true
	}
	if i.legacySharedKey == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presentedToken), []byte(i.legacySharedKey)) == 1
}

// Process runs the full pipeline for one heartbeat payload: auth,
// auto-registration, field persistence, category detection, metrics
// append, service/package reconciliation, and alert evaluation.
func (i *Ingest) Process(hb *types.Heartbeat, presentedToken string) (*Response, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.HeartbeatProcessingDuration)

	if !i.authenticate(presentedToken, hb.ServerGUID) {
		metrics.HeartbeatsReceivedTotal.WithLabelValues("unauthorized").Inc()
		log.WithMachineID(hb.ServerGUID).Warn().Str("server_id", hb.ServerID).Msg("heartbeat rejected: invalid agent token")
		return nil, &herrors.Unauthorized{Message: "invalid agent token"}
	}

	server, err := i.store.GetServerByGUID(hb.ServerGUID)
	registered := false
	if err != nil {
		now := time.Now().UTC()
		server = &types.Server{
			ID:        hb.ServerID,
			GUID:      hb.ServerGUID,
			Hostname:  hb.Hostname,
			Status:    types.ServerStatusUnknown,
			AgentMode: hb.AgentMode,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := i.store.CreateServer(server); err != nil {
			return nil, err
		}
		registered = true
		metrics.ServersAutoRegisteredTotal.Inc()
		log.WithServerID(server.ID).Info().Str("hostname", hb.Hostname).Msg("server auto-registered from heartbeat")
	}

	if server.IsInactive {
		metrics.HeartbeatsReceivedTotal.WithLabelValues("rejected_inactive").Inc()
		return nil, &herrors.Forbidden{Message: "server is marked inactive"}
	}

	i.applyOSFields(server, hb)

	hb.Metrics.ServerID = server.ID
	hb.Metrics.RecordedAt = time.Now().UTC()
	if err := i.store.CreateMetrics(&hb.Metrics); err != nil {
		return nil, err
	}

	server.UpdatesAvailable = hb.UpdatesAvailable
	server.SecurityUpdates = hb.SecurityUpdates
	server.AgentVersion = hb.AgentVersion
	server.AgentMode = hb.AgentMode
	server.LastSeen = ptrTime(time.Now().UTC())
	server.Status = types.ServerStatusOnline
	server.UpdatedAt = time.Now().UTC()

	if err := i.store.UpdateServer(server); err != nil {
		return nil, err
	}

	if err := i.store.ReplacePendingPackages(server.ID, hb.Packages); err != nil {
		return nil, err
	}
	for _, svc := range hb.Services {
		if err := i.store.PutReportedService(server.ID, &svc); err != nil {
			return nil, err
		}
	}

	if i.alerts != nil {
		if err := i.alerts.Evaluate(server, hb.Metrics, hb.Services); err != nil {
			log.WithServerID(server.ID).Error().Err(err).Msg("alert evaluation failed")
		}
	}

	metrics.HeartbeatsReceivedTotal.WithLabelValues("ok").Inc()

	return &Response{
		Status:           "ok",
		ServerRegistered: registered,
		PendingCommands:  []string{},
	}, nil
}

// applyOSFields persists reported OS/CPU info and runs category
// auto-detection when the category source is unset or "auto" — a
// manually set category is never overwritten.
func (i *Ingest) applyOSFields(server *types.Server, hb *types.Heartbeat) {
	server.OSName = hb.OSName
	server.OSVersion = hb.OSVersion
	if hb.CPUModel != "" {
		server.CPUModel = hb.CPUModel
	}
	if hb.CPUCores > 0 {
		server.CPUCores = hb.CPUCores
	}
	if hb.CPUArch != "" {
		server.CPUArch = hb.CPUArch
	}

	if server.MachineCategorySource == types.CategorySourceManual {
		return
	}

	category := detectCategory(server.CPUModel, server.CPUArch)
	if category == "" {
		return
	}
	server.MachineCategory = category
	server.MachineCategorySource = types.CategorySourceAuto
}

func ptrTime(t time.Time) *time.Time { return &t }
