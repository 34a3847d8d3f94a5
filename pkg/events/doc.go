/*
Package events provides an in-memory event broker for the hub's
activity feed.

It implements a lightweight pub/sub bus broadcasting fleet events to
interested subscribers — a dashboard streaming live updates, or any
in-process component that wants to react to a state change without the
publisher knowing who's listening. Delivery is all-subscribers,
non-blocking, and best-effort: a slow subscriber drops events rather
than stalling the broadcaster.

# Architecture

	Publisher → eventCh (buffer 100) → broadcast loop → Subscriber (buffer 50 each)

Event types cover the lifecycle transitions the rest of the hub cares
about:

  - Server: server.registered, server.offline, server.online
  - Alert: alert.raised, alert.escalated, alert.resolved
  - Action: action.approved, action.completed, action.failed
  - Config pack: config.applied, config.drift

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	broker.Publish(&events.Event{
		Type:     events.EventServerOffline,
		ServerID: server.ID,
		Message:  "no heartbeat for 120s",
	})

	for ev := range sub {
		fmt.Println(ev.Type, ev.ServerID, ev.Message)
	}

pkg/hub owns the single broker instance for the process and is the only
component that calls Start/Stop; every other component reaches the
broker through pkg/hub's narrow PublishEvent passthrough, never by
holding its own reference to *Broker.

# Non-goals

No persistence: events published before a subscriber connects, or while
its buffer is full, are gone. A dashboard that needs history should
read pkg/storage directly (alerts, actions, servers) and use the broker
only for "what just changed" notifications layered on top.
*/
package events
