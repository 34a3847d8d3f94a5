/*
Package log provides structured logging for the homelab fleet hub using
zerolog.

A single global zerolog.Logger is configured once via Init and component
loggers are derived from it with WithComponent, WithServerID, WithAlertID,
WithActionID, and WithMachineID so every record carries enough context to
trace a single server's or alert's lifecycle through the logs without a
correlation ID scheme.

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true, Output: os.Stdout})

	logger := log.WithComponent("alerting").With().Str("server_id", srv.ID).Logger()
	logger.Warn().Str("metric", "disk").Float64("value", 96.2).Msg("threshold breached")

Security-sensitive events — authentication failures, host-key changes —
are always logged at Warn or above and always carry machine identity via
WithMachineID or WithServerID, per the hub's error-handling design (never
token plaintext, always enough context to act on the log line alone).
*/
package log
