// Package metrics exposes the Prometheus instrumentation for the homelab
// fleet hub. Every component that does meaningful work (heartbeat ingest,
// alert evaluation, action execution, SSH connects, notification delivery,
// config-pack apply) updates a counter, gauge, or histogram here rather than
// rolling its own stats.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ServersTotal is the current count of known servers by status.
	ServersTotal = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hub_servers_total",
		Help: "Number of known servers by status (online, offline, unknown).",
	}, []string{"status"})

	// HeartbeatsReceivedTotal counts ingested heartbeats.
	HeartbeatsReceivedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hub_heartbeats_received_total",
		Help: "Total heartbeats received by the ingest pipeline, by result.",
	}, []string{"result"})

	// HeartbeatProcessingDuration times a single heartbeat's evaluation.
	HeartbeatProcessingDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "hub_heartbeat_processing_duration_seconds",
		Help:    "Time to process one heartbeat (metric update + alert evaluation).",
		Buckets: prometheus.DefBuckets,
	})

	// ServersAutoRegisteredTotal counts first-heartbeat auto-registrations.
	ServersAutoRegisteredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hub_servers_auto_registered_total",
		Help: "Servers created by the auto-registration path on first heartbeat.",
	})

	// AlertsRaisedTotal counts transitions from BREACHING into an open Alert.
	AlertsRaisedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hub_alerts_raised_total",
		Help: "Alerts raised, by metric type and severity.",
	}, []string{"metric_type", "severity"})

	// AlertsResolvedTotal counts alerts that returned to normal.
	AlertsResolvedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hub_alerts_resolved_total",
		Help: "Alerts resolved, by metric type and whether resolution was automatic.",
	}, []string{"metric_type", "auto"})

	// AlertsOpenGauge tracks currently open alerts by severity.
	AlertsOpenGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hub_alerts_open",
		Help: "Currently open alerts by severity.",
	}, []string{"severity"})

	// AlertDurationSeconds records how long a resolved alert stayed open.
	AlertDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "hub_alert_duration_seconds",
		Help:    "Time an alert stayed open, from raise to resolution.",
		Buckets: []float64{60, 300, 900, 1800, 3600, 7200, 21600, 86400},
	})

	// NotificationsSentTotal counts outbound notifications by outcome.
	NotificationsSentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hub_notifications_sent_total",
		Help: "Notifications delivered, retried, or dropped.",
	}, []string{"outcome"})

	// NotificationQueueDepth is the current retry-queue occupancy.
	NotificationQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hub_notification_queue_depth",
		Help: "Number of notifications currently waiting in the retry queue.",
	})

	// ActionsTotal counts remediation actions by terminal status.
	ActionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hub_actions_total",
		Help: "Remediation actions by action type and terminal status.",
	}, []string{"action_type", "status"})

	// ActionExecutionDuration times action dispatch-to-completion.
	ActionExecutionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hub_action_execution_duration_seconds",
		Help:    "Time from an action entering executing to reaching a terminal status.",
		Buckets: prometheus.DefBuckets,
	}, []string{"action_type"})

	// SSHConnectsTotal counts SSH connection attempts by outcome.
	SSHConnectsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hub_ssh_connects_total",
		Help: "SSH connection attempts by outcome (success, failed).",
	}, []string{"outcome"})

	// SSHConnectDuration times a successful connection-pool acquire, including retries.
	SSHConnectDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "hub_ssh_connect_duration_seconds",
		Help:    "Time to acquire an SSH connection, including retry backoff.",
		Buckets: prometheus.DefBuckets,
	})

	// SSHCommandDuration times command execution over an established connection.
	SSHCommandDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "hub_ssh_command_duration_seconds",
		Help:    "Time from command dispatch to output collection, one SSH session.",
		Buckets: prometheus.DefBuckets,
	})

	// SSHPoolSize is the number of pooled, live connections.
	SSHPoolSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hub_ssh_pool_size",
		Help: "Number of SSH connections currently held open in the pool.",
	})

	// HostKeyChangedTotal counts TOFU mismatches, a security-relevant signal.
	HostKeyChangedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hub_host_key_changed_total",
		Help: "Number of times a peer's SSH host key no longer matched the trusted fingerprint.",
	})

	// ConfigApplyTotal counts config-pack apply/remove runs by outcome.
	ConfigApplyTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hub_config_apply_total",
		Help: "Config-pack apply or remove runs by operation and terminal status.",
	}, []string{"operation", "status"})

	// ConfigApplyDuration times an apply/remove run end to end.
	ConfigApplyDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hub_config_apply_duration_seconds",
		Help:    "Time from an apply/remove run starting to completing.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	// ConfigDriftDetectedTotal counts servers found non-compliant on a daily sweep.
	ConfigDriftDetectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hub_config_drift_detected_total",
		Help: "Servers found newly non-compliant by the drift-detection sweep.",
	})

	// SchedulerTickDuration times each job a scheduler tick runs, labelled by job.
	SchedulerTickDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hub_scheduler_tick_duration_seconds",
		Help:    "Time to run one scheduler tick, by job name.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
)

func init() {
	prometheus.MustRegister(
		ServersTotal,
		HeartbeatsReceivedTotal,
		HeartbeatProcessingDuration,
		ServersAutoRegisteredTotal,
		AlertsRaisedTotal,
		AlertsResolvedTotal,
		AlertsOpenGauge,
		AlertDurationSeconds,
		NotificationsSentTotal,
		NotificationQueueDepth,
		ActionsTotal,
		ActionExecutionDuration,
		SSHConnectsTotal,
		SSHConnectDuration,
		SSHCommandDuration,
		SSHPoolSize,
		HostKeyChangedTotal,
		ConfigApplyTotal,
		ConfigApplyDuration,
		ConfigDriftDetectedTotal,
		SchedulerTickDuration,
	)
}

// Handler exposes the registered metrics for scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures elapsed time for a single operation, then records it
// against a histogram or histogram vector.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records elapsed time against a plain histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records elapsed time against a histogram vector with
// the given label values.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
