// Package scheduler implements the hub's cooperative periodic loop:
// marking stale agents offline, draining the notifier's retry queue,
// running drift detection, and capturing cost snapshots.
package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/homelabhq/hub/pkg/events"
	"github.com/homelabhq/hub/pkg/log"
	"github.com/homelabhq/hub/pkg/metrics"
	"github.com/homelabhq/hub/pkg/types"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Store is the persistence surface the scheduler's offline sweep needs.
type Store interface {
	ListServers() ([]*types.Server, error)
	UpdateServer(server *types.Server) error
}

// AlertEngine is the subset of pkg/alerting the offline sweep drives.
type AlertEngine interface {
	CheckOffline(server *types.Server, secondsSinceLastSeen int) error
}

// RetryProcessor is the subset of pkg/notify the scheduler drains.
type RetryProcessor interface {
	ProcessRetryQueue()
}

// DriftChecker is the subset of pkg/configpack the daily drift sweep
// calls per (server, assigned pack).
type DriftChecker interface {
	RunComplianceCheck(serverID, packName string) (*types.ConfigCheck, error)
}

// CostCapture computes and persists a per-server power-cost snapshot.
// Cost-tracking arithmetic itself is an external collaborator the
// scheduler only drives on a cadence; it has no implementation here.
type CostCapture interface {
	CaptureCostSnapshots(now time.Time) error
}

// EventPublisher is the subset of pkg/events the scheduler uses to put
// offline transitions on the hub's live activity feed.
type EventPublisher interface {
	PublishEvent(event *events.Event)
}

// Config tunes the scheduler's tick cadence and the two cron-scheduled jobs,
// each expressed as a standard 5-field cron expression.
type Config struct {
	TickInterval     time.Duration
	OfflineSeconds   int
	DriftCheckCron   string // default: daily at 03:00
	CostRolloverCron string // default: daily at 00:00
}

// DefaultConfig mirrors spec.md's suggested 30s tick and a once-daily
// cadence for the two heavier jobs.
func DefaultConfig() Config {
	return Config{
		TickInterval:     30 * time.Second,
		OfflineSeconds:   120,
		DriftCheckCron:   "0 3 * * *",
		CostRolloverCron: "0 0 * * *",
	}
}

// Scheduler drives the four per-tick responsibilities spec.md §4.10
// assigns to C10. Offline detection and retry-queue draining run every
// tick; drift detection and cost snapshots run on their own (coarser)
// cron cadences checked on every tick.
type Scheduler struct {
	store    Store
	alerts   AlertEngine
	notifier RetryProcessor
	drift    DriftChecker
	cost     CostCapture
	events   EventPublisher

	cfg    Config
	logger zerolog.Logger

	driftSchedule cron.Schedule
	costSchedule  cron.Schedule

	mu           sync.Mutex
	nextDriftRun time.Time
	nextCostRun  time.Time

	stopCh chan struct{}
}

// New builds a Scheduler. notifier, drift, cost, and pub may be nil —
// a nil collaborator simply means that tick's job is skipped, which
// lets a deployment run without, say, a configured webhook.
func New(store Store, alerts AlertEngine, notifier RetryProcessor, drift DriftChecker, cost CostCapture, pub EventPublisher, cfg Config) (*Scheduler, error) {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 30 * time.Second
	}
	if cfg.OfflineSeconds <= 0 {
		cfg.OfflineSeconds = 120
	}
	if cfg.DriftCheckCron == "" {
		cfg.DriftCheckCron = "0 3 * * *"
	}
	if cfg.CostRolloverCron == "" {
		cfg.CostRolloverCron = "0 0 * * *"
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	driftSchedule, err := parser.Parse(cfg.DriftCheckCron)
	if err != nil {
		return nil, fmt.Errorf("scheduler: invalid drift_check_cron %q: %w", cfg.DriftCheckCron, err)
	}
	costSchedule, err := parser.Parse(cfg.CostRolloverCron)
	if err != nil {
		return nil, fmt.Errorf("scheduler: invalid cost_rollover_cron %q: %w", cfg.CostRolloverCron, err)
	}

	now := time.Now().UTC()
	return &Scheduler{
		store: store, alerts: alerts, notifier: notifier, drift: drift, cost: cost, events: pub,
		cfg:           cfg,
		logger:        log.WithComponent("scheduler"),
		driftSchedule: driftSchedule,
		costSchedule:  costSchedule,
		nextDriftRun:  driftSchedule.Next(now),
		nextCostRun:   costSchedule.Next(now),
		stopCh:        make(chan struct{}),
	}, nil
}

// Start begins the scheduler's tick loop in its own goroutine.
func (s *Scheduler) Start() {
	go s.run()
}

// Stop halts the tick loop. A stopped Scheduler cannot be restarted.
func (s *Scheduler) Stop() {
	close(s.stopCh)
}

func (s *Scheduler) run() {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Tick()
		case <-s.stopCh:
			return
		}
	}
}

// Tick runs one full scheduling cycle. Exported so tests (and a manual
// admin "run now" trigger) can drive a cycle without waiting on the
// ticker.
func (s *Scheduler) Tick() {
	now := time.Now().UTC()

	s.checkOfflineServers(now)

	if s.notifier != nil {
		timer := metrics.NewTimer()
		s.notifier.ProcessRetryQueue()
		timer.ObserveDurationVec(metrics.SchedulerTickDuration, "notify_retry")
	}

	s.maybeRunDriftDetection(now)
	s.maybeCaptureCostSnapshots(now)
}

func (s *Scheduler) checkOfflineServers(now time.Time) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.SchedulerTickDuration, "offline_sweep")

	servers, err := s.store.ListServers()
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list servers for offline sweep")
		return
	}

	for _, server := range servers {
		if server.IsInactive || server.LastSeen == nil {
			continue
		}
		secondsSince := int(now.Sub(*server.LastSeen).Seconds())
		if secondsSince < s.cfg.OfflineSeconds {
			continue
		}

		if server.Status != types.ServerStatusOffline {
			server.Status = types.ServerStatusOffline
			if err := s.store.UpdateServer(server); err != nil {
				s.logger.Error().Err(err).Str("server_id", server.ID).Msg("failed to mark server offline")
				continue
			}
			s.publish(events.EventServerOffline, server.ID, fmt.Sprintf("%s has not reported in %ds", serverLabel(server), secondsSince))
		}

		if err := s.alerts.CheckOffline(server, secondsSince); err != nil {
			s.logger.Error().Err(err).Str("server_id", server.ID).Msg("offline alert check failed")
		}
	}
}

func (s *Scheduler) maybeRunDriftDetection(now time.Time) {
	s.mu.Lock()
	due := !now.Before(s.nextDriftRun)
	if due {
		s.nextDriftRun = s.driftSchedule.Next(now)
	}
	s.mu.Unlock()
	if !due || s.drift == nil {
		return
	}
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.SchedulerTickDuration, "drift_detection")

	servers, err := s.store.ListServers()
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list servers for drift detection")
		return
	}

	for _, server := range servers {
		if server.IsInactive || !server.DriftDetectionEnabled {
			continue
		}
		for _, pack := range server.AssignedPacks {
			if _, err := s.drift.RunComplianceCheck(server.ID, pack); err != nil {
				s.logger.Error().Err(err).Str("server_id", server.ID).Str("pack", pack).Msg("drift compliance check failed")
			}
		}
	}
}

func (s *Scheduler) maybeCaptureCostSnapshots(now time.Time) {
	s.mu.Lock()
	due := !now.Before(s.nextCostRun)
	if due {
		s.nextCostRun = s.costSchedule.Next(now)
	}
	s.mu.Unlock()
	if !due || s.cost == nil {
		return
	}
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.SchedulerTickDuration, "cost_capture")

	if err := s.cost.CaptureCostSnapshots(now); err != nil {
		s.logger.Error().Err(err).Msg("cost snapshot capture failed")
	}
}

func (s *Scheduler) publish(eventType events.EventType, serverID, message string) {
	if s.events == nil {
		return
	}
	s.events.PublishEvent(&events.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		ServerID:  serverID,
		Timestamp: time.Now().UTC(),
		Message:   message,
	})
}

func serverLabel(server *types.Server) string {
	if server.DisplayName != "" {
		return server.DisplayName
	}
	return server.Hostname
}
