// Package alerting implements AlertEngine: the per-metric state machine
// that decides when to raise, escalate, resolve, and re-notify on a
// server's resource usage, reachability, and watched services.
package alerting

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/homelabhq/hub/pkg/herrors"
	"github.com/homelabhq/hub/pkg/log"
	"github.com/homelabhq/hub/pkg/metrics"
	"github.com/homelabhq/hub/pkg/types"
)

// NotifyReason identifies which of the four gating conditions produced
// an AlertEvent, so a Notifier implementation can format accordingly.
type NotifyReason string

const (
	ReasonNewAlert   NotifyReason = "new_alert"
	ReasonEscalation NotifyReason = "escalation"
	ReasonCooldown   NotifyReason = "cooldown"
	ReasonResolved   NotifyReason = "resolved"
)

// AlertEvent is handed to the Notifier whenever a transition clears the
// engine's own notify_on_* gate.
type AlertEvent struct {
	Server        *types.Server
	Alert         *types.Alert
	Reason        NotifyReason
	IsAutoResolve bool
}

// Notifier is the subset of pkg/notify the engine depends on. A nil
// Notifier is valid — Evaluate keeps mutating Alert rows, it just never
// dispatches anything outbound.
type Notifier interface {
	NotifyAlert(event AlertEvent) error
}

// Store is the persistence surface AlertEngine needs.
type Store interface {
	GetServer(id string) (*types.Server, error)

	GetAlertState(serverID string, metricType types.MetricType) (*types.AlertState, error)
	PutAlertState(state *types.AlertState) error
	ListAlertStatesByServer(serverID string) ([]*types.AlertState, error)

	CreateAlert(alert *types.Alert) error
	GetAlert(id string) (*types.Alert, error)
	UpdateAlert(alert *types.Alert) error
	ListAlertsByServer(serverID string) ([]*types.Alert, error)

	ListExpectedServicesByServer(serverID string) ([]*types.ExpectedService, error)
}

// Engine evaluates heartbeats and offline sweeps against AlertConfig and
// maintains the AlertState/Alert rows that result.
type Engine struct {
	store    Store
	notifier Notifier
	config   types.AlertConfig
}

// New builds an Engine. notifier may be nil in tests or deployments that
// run without a webhook configured.
func New(store Store, notifier Notifier, config types.AlertConfig) *Engine {
	return &Engine{store: store, notifier: notifier, config: config}
}

// Evaluate runs the full per-heartbeat pass: numeric metrics, the
// auto-resolve sweep, offline resolution, and watched-service checks.
// It is the AlertEngine interface pkg/heartbeat depends on.
func (e *Engine) Evaluate(server *types.Server, m types.Metrics, services []types.ReportedService) error {
	if m.CPUPercent != nil {
		if err := e.evaluateMetric(server, types.MetricCPU, *m.CPUPercent, e.config.CPU); err != nil {
			return err
		}
	}
	if m.MemoryPercent != nil {
		if err := e.evaluateMetric(server, types.MetricMemory, *m.MemoryPercent, e.config.Memory); err != nil {
			return err
		}
	}
	if m.DiskPercent != nil {
		if err := e.evaluateMetric(server, types.MetricDisk, *m.DiskPercent, e.config.Disk); err != nil {
			return err
		}
	}
	if err := e.autoResolveSweep(server); err != nil {
		return err
	}
	if err := e.resolveOffline(server); err != nil {
		return err
	}
	return e.evaluateServices(server, services)
}

// evaluateMetric runs the single-metric state machine described by the
// IDLE -> BREACHING -> HIGH -> CRITICAL diagram: track consecutive
// breaches, gate the first alert on sustained_seconds, escalate in
// place on crossing critical, and remind on cooldown while still open.
// Resolution back to IDLE is left to autoResolveSweep so that hysteresis
// (resolve below high_percent, not critical_percent) has one home.
func (e *Engine) evaluateMetric(server *types.Server, metricType types.MetricType, value float64, cfg types.ThresholdConfig) error {
	state, err := e.store.GetAlertState(server.ID, metricType)
	if err != nil || state == nil {
		state = &types.AlertState{ServerID: server.ID, MetricType: metricType}
	}
	state.CurrentValue = value
	now := time.Now().UTC()

	if value < cfg.HighPercent {
		if state.CurrentSeverity == types.SeverityNone {
			state.ConsecutiveBreaches = 0
			state.FirstBreachAt = nil
		}
		return e.store.PutAlertState(state)
	}

	if state.CurrentSeverity == types.SeverityNone {
		if state.ConsecutiveBreaches == 0 {
			state.FirstBreachAt = &now
		}
		state.ConsecutiveBreaches++

		sustained := time.Duration(cfg.SustainedSeconds) * time.Second
		if now.Sub(*state.FirstBreachAt) < sustained {
			return e.store.PutAlertState(state)
		}

		severity := types.SeverityHigh
		if value >= cfg.CriticalPercent {
			severity = types.SeverityCritical
		}
		state.CurrentSeverity = severity
		state.LastNotifiedAt = &now
		if err := e.raise(server, state, value, thresholdFor(severity, cfg), metricMessage(metricType, severity, value)); err != nil {
			return err
		}
		return e.store.PutAlertState(state)
	}

	if state.CurrentSeverity == types.SeverityHigh && value >= cfg.CriticalPercent {
		state.CurrentSeverity = types.SeverityCritical
		state.LastNotifiedAt = &now
		alert, err := e.findOpenAlert(server.ID, metricType)
		if err != nil {
			return err
		}
		if alert == nil {
			if err := e.raise(server, state, value, cfg.CriticalPercent, metricMessage(metricType, types.SeverityCritical, value)); err != nil {
				return err
			}
			return e.store.PutAlertState(state)
		}
		if err := e.escalate(server, alert, value, cfg.CriticalPercent, metricMessage(metricType, types.SeverityCritical, value)); err != nil {
			return err
		}
		return e.store.PutAlertState(state)
	}

	if e.cooldownElapsed(state) {
		if alert, err := e.findOpenAlert(server.ID, metricType); err == nil && alert != nil {
			state.LastNotifiedAt = &now
			if err := e.remind(server, alert, value); err != nil {
				return err
			}
		}
	}
	return e.store.PutAlertState(state)
}

// autoResolveSweep closes any open numeric-metric alert whose last
// observed value has fallen back below high_percent. Metrics the
// heartbeat didn't report this round simply aren't touched.
func (e *Engine) autoResolveSweep(server *types.Server) error {
	states, err := e.store.ListAlertStatesByServer(server.ID)
	if err != nil {
		return err
	}
	for _, state := range states {
		cfg, ok := e.thresholdConfig(state.MetricType)
		if !ok || state.CurrentSeverity == types.SeverityNone {
			continue
		}
		if state.CurrentValue >= cfg.HighPercent {
			continue
		}
		if err := e.resolveMetric(server, state, true); err != nil {
			return err
		}
	}
	return nil
}

// resolveOffline clears any open offline alert the moment a heartbeat is
// processed at all, since reaching this code means the agent just
// reported successfully.
func (e *Engine) resolveOffline(server *types.Server) error {
	state, err := e.store.GetAlertState(server.ID, types.MetricOffline)
	if err != nil || state == nil || state.CurrentSeverity == types.SeverityNone {
		return nil
	}
	return e.resolveMetric(server, state, true)
}

// CheckOffline is driven by the scheduler's periodic sweep over servers
// that have gone quiet; it is never called from the heartbeat path.
// Offline has sustained_seconds=0 and a fixed critical severity, so the
// very first sweep past the grace period raises.
func (e *Engine) CheckOffline(server *types.Server, secondsSinceLastSeen int) error {
	if secondsSinceLastSeen < e.config.ServerOfflineSeconds {
		return nil
	}

	state, err := e.store.GetAlertState(server.ID, types.MetricOffline)
	if err != nil || state == nil {
		state = &types.AlertState{ServerID: server.ID, MetricType: types.MetricOffline}
	}
	now := time.Now().UTC()
	state.CurrentValue = float64(secondsSinceLastSeen)

	if state.CurrentSeverity == types.SeverityCritical {
		if e.cooldownElapsed(state) {
			if alert, err := e.findOpenAlert(server.ID, types.MetricOffline); err == nil && alert != nil {
				state.LastNotifiedAt = &now
				if err := e.remind(server, alert, state.CurrentValue); err != nil {
					return err
				}
			}
		}
		return e.store.PutAlertState(state)
	}

	if state.FirstBreachAt == nil {
		state.FirstBreachAt = &now
	}
	state.ConsecutiveBreaches++
	state.CurrentSeverity = types.SeverityCritical
	state.LastNotifiedAt = &now
	offlineThreshold := float64(e.config.ServerOfflineSeconds)
	if err := e.raise(server, state, state.CurrentValue, offlineThreshold, offlineMessage(server, secondsSinceLastSeen)); err != nil {
		return err
	}
	return e.store.PutAlertState(state)
}

// evaluateServices compares the most recently reported service states
// against each ExpectedService the operator has declared. Service
// alerts have no escalation tier and no sustained-duration gate — a
// watched unit that isn't running raises on the very heartbeat that
// reports it.
func (e *Engine) evaluateServices(server *types.Server, reported []types.ReportedService) error {
	expected, err := e.store.ListExpectedServicesByServer(server.ID)
	if err != nil {
		return err
	}
	if len(expected) == 0 {
		return nil
	}

	byName := make(map[string]types.ReportedService, len(reported))
	for _, svc := range reported {
		byName[svc.Name] = svc
	}

	for _, exp := range expected {
		metricType := types.ServiceMetricType(exp.Name)
		svc, seen := byName[exp.Name]
		healthy := seen && svc.Status == types.ServiceStatusRunning

		state, err := e.store.GetAlertState(server.ID, metricType)
		if err != nil || state == nil {
			state = &types.AlertState{ServerID: server.ID, MetricType: metricType}
		}

		if healthy {
			if state.CurrentSeverity != types.SeverityNone {
				if err := e.resolveMetric(server, state, true); err != nil {
					return err
				}
			}
			continue
		}

		now := time.Now().UTC()
		state.CurrentValue = 0

		if state.CurrentSeverity == types.SeverityNone {
			severity := types.SeverityMedium
			if exp.Critical {
				severity = types.SeverityHigh
			}
			state.FirstBreachAt = &now
			state.ConsecutiveBreaches = 1
			state.CurrentSeverity = severity
			state.LastNotifiedAt = &now

			status := types.ServiceStatusUnknown
			if seen {
				status = svc.Status
			}
			if err := e.raise(server, state, 0, 1, serviceMessage(exp.Name, status)); err != nil {
				return err
			}
		} else if e.cooldownElapsed(state) {
			if alert, err := e.findOpenAlert(server.ID, metricType); err == nil && alert != nil {
				state.LastNotifiedAt = &now
				if err := e.remind(server, alert, 0); err != nil {
					return err
				}
			}
		}

		if err := e.store.PutAlertState(state); err != nil {
			return err
		}
	}
	return nil
}

// Acknowledge transitions an open Alert to acknowledged. Re-acknowledging
// an already-acknowledged alert is a no-op; acknowledging a resolved one
// is a validation error, not a state change.
func (e *Engine) Acknowledge(alertID string) error {
	alert, err := e.store.GetAlert(alertID)
	if err != nil {
		return err
	}
	switch alert.Status {
	case types.AlertStatusAcknowledged:
		return nil
	case types.AlertStatusResolved:
		return &herrors.ValidationError{Field: "status", Message: "cannot acknowledge a resolved alert"}
	case types.AlertStatusOpen:
		now := time.Now().UTC()
		alert.Status = types.AlertStatusAcknowledged
		alert.AcknowledgedAt = &now
		return e.store.UpdateAlert(alert)
	default:
		return &herrors.Conflict{Message: fmt.Sprintf("alert %s is not open", alertID)}
	}
}

// ResolveManually closes an alert from operator action rather than the
// evaluation loop. Resolving an already-resolved alert is idempotent.
func (e *Engine) ResolveManually(alertID string) error {
	alert, err := e.store.GetAlert(alertID)
	if err != nil {
		return err
	}
	if alert.Status == types.AlertStatusResolved {
		return nil
	}
	server, err := e.store.GetServer(alert.ServerID)
	if err != nil {
		return err
	}
	state, err := e.store.GetAlertState(alert.ServerID, alert.AlertType)
	if err != nil {
		state = nil
	}
	if err := e.resolve(server, alert, state, false); err != nil {
		return err
	}
	if state != nil {
		state.CurrentSeverity = types.SeverityNone
		state.ConsecutiveBreaches = 0
		state.FirstBreachAt = nil
		state.LastNotifiedAt = nil
		return e.store.PutAlertState(state)
	}
	return nil
}

// resolveMetric closes the open Alert for state's metric type (if any)
// and resets the AlertState back to IDLE.
func (e *Engine) resolveMetric(server *types.Server, state *types.AlertState, auto bool) error {
	alert, err := e.findOpenAlert(server.ID, state.MetricType)
	if err != nil {
		return err
	}
	if alert != nil {
		if err := e.resolve(server, alert, state, auto); err != nil {
			return err
		}
	}
	state.CurrentSeverity = types.SeverityNone
	state.ConsecutiveBreaches = 0
	state.FirstBreachAt = nil
	state.LastNotifiedAt = nil
	return e.store.PutAlertState(state)
}

func (e *Engine) raise(server *types.Server, state *types.AlertState, value, threshold float64, message string) error {
	alert := &types.Alert{
		ID:             uuid.NewString(),
		ServerID:       server.ID,
		AlertType:      state.MetricType,
		Severity:       state.CurrentSeverity,
		Status:         types.AlertStatusOpen,
		Title:          alertTitle(server, state.MetricType, state.CurrentSeverity),
		Message:        message,
		ThresholdValue: threshold,
		ActualValue:    value,
		CreatedAt:      time.Now().UTC(),
	}
	if err := e.store.CreateAlert(alert); err != nil {
		return err
	}
	metrics.AlertsRaisedTotal.WithLabelValues(string(state.MetricType), string(state.CurrentSeverity)).Inc()
	metrics.AlertsOpenGauge.WithLabelValues(string(state.CurrentSeverity)).Inc()
	log.WithServerID(server.ID).Warn().
		Str("metric", string(state.MetricType)).
		Str("severity", string(state.CurrentSeverity)).
		Float64("value", value).
		Msg("alert raised")
	e.notify(AlertEvent{Server: server, Alert: alert, Reason: ReasonNewAlert})
	return nil
}

func (e *Engine) escalate(server *types.Server, alert *types.Alert, value, threshold float64, message string) error {
	alert.Severity = types.SeverityCritical
	alert.ActualValue = value
	alert.ThresholdValue = threshold
	alert.Message = message
	if err := e.store.UpdateAlert(alert); err != nil {
		return err
	}
	metrics.AlertsRaisedTotal.WithLabelValues(string(alert.AlertType), string(alert.Severity)).Inc()
	log.WithAlertID(alert.ID).Warn().Float64("value", value).Msg("alert escalated to critical")
	e.notify(AlertEvent{Server: server, Alert: alert, Reason: ReasonEscalation})
	return nil
}

func (e *Engine) remind(server *types.Server, alert *types.Alert, value float64) error {
	alert.ActualValue = value
	if err := e.store.UpdateAlert(alert); err != nil {
		return err
	}
	e.notify(AlertEvent{Server: server, Alert: alert, Reason: ReasonCooldown})
	return nil
}

func (e *Engine) resolve(server *types.Server, alert *types.Alert, state *types.AlertState, auto bool) error {
	now := time.Now().UTC()
	var duration *int
	if state != nil && state.FirstBreachAt != nil {
		minutes := int(now.Sub(*state.FirstBreachAt).Minutes())
		duration = &minutes
	}
	alert.Status = types.AlertStatusResolved
	alert.ResolvedAt = &now
	alert.AutoResolved = auto
	alert.DurationMinutes = duration
	if err := e.store.UpdateAlert(alert); err != nil {
		return err
	}

	metrics.AlertsResolvedTotal.WithLabelValues(string(alert.AlertType), strconv.FormatBool(auto)).Inc()
	metrics.AlertsOpenGauge.WithLabelValues(string(alert.Severity)).Dec()
	if duration != nil {
		metrics.AlertDurationSeconds.Observe(float64(*duration) * 60)
	}
	log.WithAlertID(alert.ID).Info().Bool("auto_resolved", auto).Msg("alert resolved")
	e.notify(AlertEvent{Server: server, Alert: alert, Reason: ReasonResolved, IsAutoResolve: auto})
	return nil
}

func (e *Engine) notify(event AlertEvent) {
	if e.notifier == nil || !e.shouldNotify(event) {
		return
	}
	if err := e.notifier.NotifyAlert(event); err != nil {
		log.WithAlertID(event.Alert.ID).Error().Err(err).Msg("failed to dispatch alert notification")
	}
}

func (e *Engine) shouldNotify(event AlertEvent) bool {
	switch event.Reason {
	case ReasonNewAlert:
		return e.config.Notify.NotifyOnNewAlert
	case ReasonEscalation:
		return e.config.Notify.NotifyOnEscalation
	case ReasonCooldown:
		return e.config.Notify.NotifyOnCooldown
	case ReasonResolved:
		if event.IsAutoResolve {
			return e.config.Notify.NotifyOnAutoResolve
		}
		return e.config.Notify.NotifyOnResolve
	default:
		return false
	}
}

func (e *Engine) findOpenAlert(serverID string, metricType types.MetricType) (*types.Alert, error) {
	alerts, err := e.store.ListAlertsByServer(serverID)
	if err != nil {
		return nil, err
	}
	for _, a := range alerts {
		if a.AlertType == metricType && a.Status == types.AlertStatusOpen {
			return a, nil
		}
	}
	return nil, nil
}

func (e *Engine) thresholdConfig(metricType types.MetricType) (types.ThresholdConfig, bool) {
	switch metricType {
	case types.MetricCPU:
		return e.config.CPU, true
	case types.MetricMemory:
		return e.config.Memory, true
	case types.MetricDisk:
		return e.config.Disk, true
	default:
		return types.ThresholdConfig{}, false
	}
}

func (e *Engine) cooldownElapsed(state *types.AlertState) bool {
	if state.LastNotifiedAt == nil {
		return true
	}
	return time.Since(*state.LastNotifiedAt) >= cooldownDuration(state.CurrentSeverity, e.config)
}

func cooldownDuration(severity types.Severity, cfg types.AlertConfig) time.Duration {
	if severity == types.SeverityCritical {
		return time.Duration(cfg.CriticalCooldownMinutes) * time.Minute
	}
	return time.Duration(cfg.HighCooldownMinutes) * time.Minute
}

func thresholdFor(severity types.Severity, cfg types.ThresholdConfig) float64 {
	if severity == types.SeverityCritical {
		return cfg.CriticalPercent
	}
	return cfg.HighPercent
}

func alertTitle(server *types.Server, metricType types.MetricType, severity types.Severity) string {
	return fmt.Sprintf("%s %s on %s", strings.ToUpper(string(severity)), metricType, serverLabel(server))
}

func metricMessage(metricType types.MetricType, severity types.Severity, value float64) string {
	return fmt.Sprintf("%s usage reached %.1f%% (%s)", metricType, value, severity)
}

func serviceMessage(name string, status types.ServiceStatus) string {
	return fmt.Sprintf("watched service %s is %s", name, status)
}

func offlineMessage(server *types.Server, seconds int) string {
	return fmt.Sprintf("%s has not reported in over %d seconds", serverLabel(server), seconds)
}

func serverLabel(server *types.Server) string {
	if server.DisplayName != "" {
		return server.DisplayName
	}
	return server.Hostname
}
