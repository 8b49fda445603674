// ABOUTME: Monitoring session against one gateway: monitor request plus update stream.
// ABOUTME: Translates wire table-updates into Events and feeds them to a callback.

package ovsdb

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/ovsnet/l2gw-agent/internal/gateway"
)

// EventFunc receives translated change events from a monitoring session.
// It is called from the connection's read goroutine and must not block.
type EventFunc func(Event)

// Monitor is the watch-duty connection handle for one gateway.
type Monitor struct {
	conn      *Conn
	gatewayID string
	onEvent   EventFunc
	logger    *slog.Logger
	started   atomic.Bool
}

var _ gateway.ConnectionHandle = (*Monitor)(nil)

// DialMonitor opens the monitoring connection for a gateway. The session is
// live but idle until Start issues the monitor request.
func DialMonitor(ctx context.Context, cfg gateway.Config, opts Options, onEvent EventFunc) (*Monitor, error) {
	opts = opts.withDefaults()
	conn, err := Dial(ctx, cfg, opts)
	if err != nil {
		return nil, err
	}
	return &Monitor{
		conn:      conn,
		gatewayID: cfg.Identifier,
		onEvent:   onEvent,
		logger:    opts.Logger.With("component", "ovsdb-monitor", "gateway_id", cfg.Identifier),
	}, nil
}

// Start registers the update handler and issues the monitor request over the
// hardware_vtep tables. The initial snapshot is delivered as one event before
// Start returns; deltas follow on the read loop. Calling Start twice is a
// no-op.
func (m *Monitor) Start(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return nil
	}
	m.conn.setNotify(m.handleNotification)

	requests := make(map[string]any, len(monitoredTables))
	for _, table := range monitoredTables {
		// An empty monitor-request selects all columns and operations.
		requests[table] = map[string]any{}
	}

	result, err := m.conn.call(ctx, "monitor", []any{hardwareVTEPDB, m.gatewayID, requests})
	if err != nil {
		m.conn.Close()
		return fmt.Errorf("monitor request for %s: %w", m.gatewayID, err)
	}

	if ev, ok := m.translate(result, true); ok {
		m.onEvent(ev)
	}
	m.logger.Info("=== GATEWAY MONITOR STARTED ===", "tables", len(monitoredTables))
	return nil
}

// Connected reports whether the underlying session is live.
func (m *Monitor) Connected() bool {
	return m.conn.Connected()
}

// Disconnect ends the session. Idempotent, and safe to call while the
// monitor request or the update stream is in flight.
func (m *Monitor) Disconnect() {
	m.conn.Close()
}

// handleNotification translates update notifications. Params carry the
// monitor id followed by the table updates.
func (m *Monitor) handleNotification(method string, params json.RawMessage) {
	if method != "update" {
		m.logger.Debug("ignoring notification", "method", method)
		return
	}

	var frame []json.RawMessage
	if err := json.Unmarshal(params, &frame); err != nil || len(frame) < 2 {
		m.logger.Warn("malformed update notification", "error", err)
		return
	}
	if ev, ok := m.translate(frame[1], false); ok {
		m.onEvent(ev)
	}
}

// translate converts raw table-updates into an Event. Empty update batches
// produce no event.
func (m *Monitor) translate(raw json.RawMessage, initial bool) (Event, bool) {
	var updates map[string]map[string]rowUpdate
	if err := json.Unmarshal(raw, &updates); err != nil {
		m.logger.Warn("undecodable table updates", "error", err)
		return Event{}, false
	}
	if len(updates) == 0 {
		return Event{}, false
	}

	ev := Event{
		GatewayID: m.gatewayID,
		Initial:   initial,
		Tables:    make(map[string]TableChange, len(updates)),
	}
	for table, rows := range updates {
		var change TableChange
		for rowUUID, ru := range rows {
			switch {
			case ru.New != nil && ru.Old == nil:
				if change.Added == nil {
					change.Added = make(map[string]Row)
				}
				change.Added[rowUUID] = ru.New
			case ru.New != nil:
				if change.Modified == nil {
					change.Modified = make(map[string]Row)
				}
				change.Modified[rowUUID] = ru.New
			default:
				if change.Deleted == nil {
					change.Deleted = make(map[string]Row)
				}
				old := ru.Old
				if old == nil {
					old = Row{}
				}
				change.Deleted[rowUUID] = old
			}
		}
		ev.Tables[table] = change
	}
	return ev, true
}
