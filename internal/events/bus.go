// ABOUTME: In-memory fan-out bus for gateway change events
// ABOUTME: Publishes monitor events to per-gateway and wildcard subscribers

package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/ovsnet/l2gw-agent/internal/ovsdb"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	// Slow readers are dropped rather than blocking the monitor read path.
	subscriberBufferSize = 64

	// wildcardKey is the internal subscription key for SubscribeAll.
	wildcardKey = "*"
)

// Bus provides in-memory pub/sub for gateway change events. Subscribers
// register for one gateway identifier (or all of them) and receive events as
// monitors translate them. This lets the relay and the debug API observe
// gateway state without polling.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan ovsdb.Event // gatewayID -> subID -> ch
	logger      *slog.Logger
}

// NewBus creates a bus. Pass nil logger for default.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subscribers: make(map[string]map[string]chan ovsdb.Event),
		logger:      logger.With("component", "event-bus"),
	}
}

// Subscribe registers a subscriber for one gateway's events. Returns a
// channel that receives events and a subscription ID for later
// unsubscription. The subscription is automatically cleaned up when ctx is
// cancelled.
func (b *Bus) Subscribe(ctx context.Context, gatewayID string) (<-chan ovsdb.Event, string) {
	return b.subscribe(ctx, gatewayID)
}

// SubscribeAll registers a subscriber for every gateway's events.
func (b *Bus) SubscribeAll(ctx context.Context) (<-chan ovsdb.Event, string) {
	return b.subscribe(ctx, wildcardKey)
}

func (b *Bus) subscribe(ctx context.Context, key string) (<-chan ovsdb.Event, string) {
	subID := uuid.New().String()
	ch := make(chan ovsdb.Event, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.subscribers[key]; !ok {
		b.subscribers[key] = make(map[string]chan ovsdb.Event)
	}
	b.subscribers[key][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "key", key, "sub_id", subID)

	// Auto-cleanup on context cancellation
	go func() {
		<-ctx.Done()
		b.unsubscribe(key, subID)
	}()

	return ch, subID
}

// Publish sends an event to the gateway's subscribers and to every wildcard
// subscriber. Non-blocking: events are dropped for subscribers whose
// channels are full. Sends happen under the read lock so an unsubscribe
// cannot close a channel mid-send.
func (b *Bus) Publish(event ovsdb.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	deliver := func(ch chan ovsdb.Event) {
		select {
		case ch <- event:
		default:
			// Subscriber channel full; drop the event for this subscriber.
			b.logger.Debug("dropped event for slow subscriber",
				"gateway_id", event.GatewayID)
		}
	}
	for _, ch := range b.subscribers[event.GatewayID] {
		deliver(ch)
	}
	for _, ch := range b.subscribers[wildcardKey] {
		deliver(ch)
	}
}

// Unsubscribe removes a per-gateway subscription and closes its channel.
func (b *Bus) Unsubscribe(gatewayID, subID string) {
	b.unsubscribe(gatewayID, subID)
}

// UnsubscribeAll removes a wildcard subscription and closes its channel.
func (b *Bus) UnsubscribeAll(subID string) {
	b.unsubscribe(wildcardKey, subID)
}

func (b *Bus) unsubscribe(key, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[key]
	if !ok {
		return
	}

	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)

	// Clean up empty key entries
	if len(subs) == 0 {
		delete(b.subscribers, key)
	}

	b.logger.Debug("subscriber removed", "key", key, "sub_id", subID)
}

// Close shuts down the bus and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for key, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, key)
	}

	b.logger.Debug("event bus closed")
}
