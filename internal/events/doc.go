// Package events provides in-memory fan-out of gateway change events.
//
// # Overview
//
// The events package sits between the OVSDB monitors and everything that
// wants to observe gateway state: the control-plane relay, the debug API's
// event stream, and tests. Monitors publish each translated change batch to
// the Bus; subscribers receive them on buffered channels.
//
// # Bus
//
// The Bus is keyed by gateway identifier:
//
//	bus := events.NewBus(logger)
//	ch, id := bus.Subscribe(ctx, "gw1")    // one gateway
//	ch, id := bus.SubscribeAll(ctx)        // every gateway
//
// Delivery is non-blocking. A subscriber that stops reading loses events
// rather than stalling the monitor read path; the channel buffer absorbs
// short bursts.
//
// Subscriptions are cleaned up when their context is cancelled, or
// explicitly via Unsubscribe.
package events
