/*
Package scheduler drives the hub's periodic background work: marking
unresponsive agents offline, draining the notifier's retry queue, and
running the two coarser-cadence jobs (config drift detection and cost
snapshot capture) on their own cron schedules.

# Architecture

The scheduler runs a single ticker loop, default interval 30 seconds.
Every tick does the cheap, frequent work; the two expensive jobs only
fire when their own cron schedule says they're due:

	┌──────────────────────────────────────────────────────┐
	│                  Scheduler.Tick()                    │
	│                 (every TickInterval)                 │
	└───────────────────┬────────────────────────────────--┘
	                    │
	                    ▼
	┌──────────────────────────────────────────────────────┐
	│ 1. Sweep servers, mark stale ones offline,            │
	│    feed CheckOffline for each                         │
	│ 2. Drain the notifier's retry queue                   │
	│ 3. If due (daily by default): run compliance checks   │
	│    for every drift-enabled server's assigned packs    │
	│ 4. If due (daily by default): capture cost snapshots  │
	└──────────────────────────────────────────────────────┘

# Usage

	sched, err := scheduler.New(store, alertEngine, notifier, configApplier, costTracker, broker, scheduler.DefaultConfig())
	if err != nil {
		log.Fatal(err)
	}
	sched.Start()
	defer sched.Stop()

notifier, the drift checker, the cost collaborator, and the event
publisher may all be nil; a nil collaborator just means that part of
the tick is skipped, which lets a deployment run without, say, a
configured webhook or drift detection enabled anywhere.

# Offline detection

A server is considered offline once it has gone longer than
OfflineSeconds without a heartbeat. The online transition is handled
entirely by pkg/heartbeat on successful ingest; this package only ever
moves a server's status the other direction. The first tick that
observes the transition publishes a server.offline event and persists
the new status; CheckOffline is still invoked on every subsequent tick
so the alert engine's cooldown and escalation logic keeps running even
after the initial transition.

# Drift and cost cadence

Both the daily drift sweep and the cost snapshot job are gated by a
standard 5-field cron expression (see Config), computed with
github.com/robfig/cron/v3. The scheduler keeps separate "next due"
timestamps for each and checks them on every tick rather than running
a second, slower ticker.

Cost-tracking arithmetic itself is out of scope for this package; it
only calls a narrow CostCapture hook on the configured cadence.
*/
package scheduler
