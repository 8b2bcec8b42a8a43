/*
Package events provides an in-process publish/subscribe broker for lifecycle
events.

The broker decouples the components that cause state changes from the ones
that react to them. The admin API publishes domain and version events; the
ACME engine subscribes to discover brand-new hosts that need certificates;
the daemon subscribes to reload requests arriving from SIGHUP, the config
watcher, or the admin API.

# Event Flow

	admin activate ──▶ version.activated ──▶ ACME engine (new host check)
	admin upload   ──▶ domain.created    ──▶ ACME engine (new host check)
	SIGHUP/watcher ──▶ reload.requested  ──▶ daemon reload executor
	ACME install   ──▶ certificate.installed ──▶ metrics/logging

Delivery is best-effort: subscribers have bounded buffers, and a full
subscriber is skipped rather than blocking the publisher. Components that
need guaranteed state (the version index, the certificate store) read it
directly; events are triggers, not a source of truth.

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	go func() {
		for ev := range sub {
			if ev.Type == events.EventVersionActivated {
				// schedule a certificate check for ev.Domain
			}
		}
	}()

	broker.Publish(&events.Event{
		Type:    events.EventVersionActivated,
		Domain:  "a.example.com/27",
		Version: 3,
	})
*/
package events
