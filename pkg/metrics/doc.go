/*
Package metrics provides Prometheus instrumentation for the homelab fleet
hub: server counts, heartbeat throughput, alert lifecycle, action
execution, SSH connection health, notification delivery, and config-pack
apply outcomes.

Metrics are registered at package init via prometheus.MustRegister and
exposed for scraping through Handler(). Components that need to time an
operation use Timer rather than calling time.Since themselves, so the
pattern for recording a histogram observation stays uniform:

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.HeartbeatProcessingDuration)

Slow-changing gauges (server counts by status, SSH pool occupancy) are
republished on a fixed interval by Collector rather than updated inline
on every state change, since polling a small aggregate is cheaper than
threading a metrics call through every write path.
*/
package metrics
