/*
Package health provides lightweight, stateless reachability checks used
outside the main agent-heartbeat path: whether the configured Slack
webhook is currently answering, and whether a managed server's SSH port
is open before attempting a full remediation run.

This package implements two checker types: HTTP and TCP. Unlike the
agent heartbeat (which reports a server's own view of its health every
interval), these checks are pulled on demand by an operator or a
troubleshooting tool, and never drive any automatic state transition on
their own.

# Architecture

	┌──────────────────────────────────────────────────────────────┐
	│                     Checker Interface                        │
	│  • Check(ctx) Result                                         │
	│  • Type() CheckType                                          │
	└────────┬───────────────────────────────────────────┬─────────┘
	         │                                            │
	         ▼                                            ▼
	┌────────────────┐                          ┌────────────────────┐
	│   HTTPChecker   │                          │     TCPChecker      │
	│ GET webhook URL │                          │ dial server:22      │
	└────────────────┘                          └────────────────────┘

# Usage

	checker := health.NewHTTPChecker(webhookURL)
	result := checker.Check(ctx)
	if !result.Healthy {
		log.Warn().Str("message", result.Message).Msg("webhook unreachable")
	}

	checker = health.NewTCPChecker(server.EffectiveHost() + ":22")
	result = checker.Check(ctx)

Status tracks consecutive successes/failures with the same hysteresis
the teacher uses elsewhere (multiple consecutive failures required
before a consumer should treat a collaborator as down), but nothing in
this package persists Status itself — pkg/notify and pkg/hub own
whatever state they keep across calls.

# Non-goals

This package performs no automatic remediation and does not run on a
background interval of its own; checks run only when a caller invokes
them. pkg/scheduler's tick loop does not call into this package.
*/
package health
