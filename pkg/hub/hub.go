// Package hub is the composition root: it owns the store and every
// component, wires their narrow interfaces together, and exposes the
// CRUD surface the HTTP API and the agent-facing endpoints call
// directly against a pkg/storage transaction.
package hub

import (
	"context"
	"fmt"
	"os"

	"github.com/homelabhq/hub/pkg/actions"
	"github.com/homelabhq/hub/pkg/alerting"
	"github.com/homelabhq/hub/pkg/configpack"
	"github.com/homelabhq/hub/pkg/events"
	"github.com/homelabhq/hub/pkg/health"
	"github.com/homelabhq/hub/pkg/heartbeat"
	"github.com/homelabhq/hub/pkg/herrors"
	"github.com/homelabhq/hub/pkg/hostkey"
	"github.com/homelabhq/hub/pkg/log"
	"github.com/homelabhq/hub/pkg/metrics"
	"github.com/homelabhq/hub/pkg/notify"
	"github.com/homelabhq/hub/pkg/scheduler"
	"github.com/homelabhq/hub/pkg/sshexec"
	"github.com/homelabhq/hub/pkg/storage"
	"github.com/homelabhq/hub/pkg/token"
	"github.com/homelabhq/hub/pkg/types"
	"github.com/homelabhq/hub/pkg/vault"
)

// Config holds everything needed to bring up a Hub.
type Config struct {
	DataDir string

	// VaultKeyBase64 is the AES-256-GCM key (base64) that encrypts every
	// stored credential. The hub refuses to start without one.
	VaultKeyBase64 string

	// HubURL is embedded in the agent install script/config the token
	// authority generates so a freshly registered agent knows where to
	// phone home.
	HubURL string

	// WebhookURL is the Slack-compatible incoming webhook. Empty disables
	// outbound notifications entirely (Notifier becomes a no-op).
	WebhookURL string

	Alerts          types.AlertConfig
	LegacySharedKey string // accepted alongside per-agent tokens during migration

	Scheduler scheduler.Config

	// ConfigPackTemplates maps a pack file item's Template name to its
	// text/template source. Supplied by the operator's config-pack repo,
	// not persisted in the store.
	ConfigPackTemplates map[string]string
}

// Hub owns the store, every component, and the event broker a
// dashboard subscribes to for a live activity feed.
type Hub struct {
	cfg   Config
	store *storage.BoltStore

	vault       *vault.Vault
	hostKeys    *hostkey.HostKeyStore
	tokens      *token.Authority
	executor    *sshexec.Executor
	alerts      *alerting.Engine
	actions     *actions.Queue
	configPacks *configpack.Applier
	notifier    *notify.Notifier
	heartbeats  *heartbeat.Ingest
	scheduler   *scheduler.Scheduler
	metrics     *metrics.Collector

	eventBroker *events.Broker
}

// New builds every component and wires them together. It does not
// start any background goroutines; call Start for that.
func New(cfg Config) (*Hub, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("hub: data dir is required")
	}
	if cfg.VaultKeyBase64 == "" {
		return nil, fmt.Errorf("hub: vault key is required")
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("hub: create data dir: %w", err)
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("hub: open store: %w", err)
	}

	v, err := vault.New(store, cfg.VaultKeyBase64)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("hub: init vault: %w", err)
	}

	hostKeys := hostkey.New(store)
	tokens := token.New(store, cfg.HubURL)
	executor := sshexec.New(v, hostKeys)
	notifier := notify.New(notify.Config{WebhookURL: cfg.WebhookURL, Notify: cfg.Alerts.Notify})

	eventBroker := events.NewBroker()

	alertEngine := alerting.New(store, notifier, cfg.Alerts)
	actionQueue := actions.New(store, executor, notifier)
	configApplier := configpack.New(store, executor, cfg.ConfigPackTemplates)
	ingest := heartbeat.New(store, tokens, alertEngine, cfg.LegacySharedKey)

	sched, err := scheduler.New(store, alertEngine, notifier, configApplier, nil, hubEventPublisher{eventBroker}, cfg.Scheduler)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("hub: init scheduler: %w", err)
	}

	h := &Hub{
		cfg:         cfg,
		store:       store,
		vault:       v,
		hostKeys:    hostKeys,
		tokens:      tokens,
		executor:    executor,
		alerts:      alertEngine,
		actions:     actionQueue,
		configPacks: configApplier,
		notifier:    notifier,
		heartbeats:  ingest,
		scheduler:   sched,
		metrics:     metrics.NewCollector(store, executor),
		eventBroker: eventBroker,
	}
	return h, nil
}

// hubEventPublisher adapts *events.Broker to scheduler.EventPublisher
// without the scheduler package needing to import pkg/events.Broker's
// concrete type.
type hubEventPublisher struct{ broker *events.Broker }

func (p hubEventPublisher) PublishEvent(event *events.Event) {
	p.broker.Publish(event)
}

// Start brings up every background loop: the event broker's fan-out
// goroutine and the scheduler's tick loop.
func (h *Hub) Start() {
	h.eventBroker.Start()
	h.scheduler.Start()
	h.metrics.Start()
	log.Logger.Info().Msg("hub started")
}

// Shutdown stops every background loop and closes the store. Safe to
// call once; a second call will panic closing an already-closed
// broker channel, matching the teacher's own Shutdown contract.
func (h *Hub) Shutdown() error {
	h.metrics.Stop()
	h.scheduler.Stop()
	h.eventBroker.Stop()
	return h.store.Close()
}

// GetEventBroker exposes the broker so the HTTP layer can let
// dashboard clients subscribe to the live activity feed.
func (h *Hub) GetEventBroker() *events.Broker {
	return h.eventBroker
}

// PublishEvent is a convenience passthrough used by the HTTP handlers
// for events that originate outside any component (e.g. an operator
// manually acknowledging an alert from the dashboard).
func (h *Hub) PublishEvent(event *events.Event) {
	h.eventBroker.Publish(event)
}

// Heartbeats, Alerts, Actions, ConfigPacks, Tokens, Executor, and Notifier
// expose the underlying components so the HTTP layer can call their public
// operations (Process, Approve, Apply, MintRegistration, ...)
// without the hub re-declaring every method as a thin wrapper.

func (h *Hub) Heartbeats() *heartbeat.Ingest       { return h.heartbeats }
func (h *Hub) Alerts() *alerting.Engine            { return h.alerts }
func (h *Hub) Actions() *actions.Queue             { return h.actions }
func (h *Hub) ConfigPacks() *configpack.Applier    { return h.configPacks }
func (h *Hub) Tokens() *token.Authority            { return h.tokens }
func (h *Hub) Executor() *sshexec.Executor         { return h.executor }
func (h *Hub) Notifier() *notify.Notifier          { return h.notifier }

// CreateServer registers a server outside the agent self-registration
// flow (an operator adding a known host by hand) and publishes a
// server.registered event.
func (h *Hub) CreateServer(server *types.Server) error {
	if err := h.store.CreateServer(server); err != nil {
		return err
	}
	h.PublishEvent(&events.Event{Type: events.EventServerRegistered, ServerID: server.ID, Message: fmt.Sprintf("%s registered", server.Hostname)})
	return nil
}

func (h *Hub) GetServer(id string) (*types.Server, error) { return h.store.GetServer(id) }
func (h *Hub) ListServers() ([]*types.Server, error)       { return h.store.ListServers() }
func (h *Hub) UpdateServer(server *types.Server) error     { return h.store.UpdateServer(server) }
func (h *Hub) DeleteServer(id string) error                { return h.store.DeleteServer(id) }

func (h *Hub) PutPack(pack *types.Pack) error       { return h.store.PutPack(pack) }
func (h *Hub) GetPack(name string) (*types.Pack, error) { return h.store.GetPack(name) }
func (h *Hub) ListPacks() ([]*types.Pack, error)    { return h.store.ListPacks() }
func (h *Hub) DeletePack(name string) error         { return h.store.DeletePack(name) }

func (h *Hub) ListOpenAlerts() ([]*types.Alert, error) { return h.store.ListOpenAlerts() }
func (h *Hub) ListAlertsByServer(serverID string) ([]*types.Alert, error) {
	return h.store.ListAlertsByServer(serverID)
}

func (h *Hub) ListActionsByServer(serverID string) ([]*types.RemediationAction, error) {
	return h.store.ListActionsByServer(serverID)
}

const defaultSSHPort = "22"

// CheckServerConnectivity does a bare TCP dial against the server's SSH
// port, without attempting a handshake or loading credentials. It is a
// cheap pre-flight an operator (or a future dashboard) can call before
// dispatching a remediation action against a server that looks offline,
// to tell "host unreachable" apart from "agent stopped heartbeating but
// SSH still works".
func (h *Hub) CheckServerConnectivity(ctx context.Context, serverID string) (health.Result, error) {
	server, err := h.store.GetServer(serverID)
	if err != nil {
		return health.Result{}, err
	}
	hostname := server.EffectiveHost()
	if hostname == "" {
		return health.Result{}, &herrors.ValidationError{Field: "hostname", Message: "server has no usable hostname"}
	}
	checker := health.NewTCPChecker(hostname + ":" + defaultSSHPort)
	return checker.Check(ctx), nil
}
