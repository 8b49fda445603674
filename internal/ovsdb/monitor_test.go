// ABOUTME: Tests for the monitoring session: request shape, snapshots, deltas.
// ABOUTME: Scripts the gateway side of the pipe to drive the session.

package ovsdb

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipeMonitor(t *testing.T, events chan Event) (*Monitor, net.Conn) {
	t.Helper()
	opts := Options{ResponseTimeout: 2 * time.Second, Logger: discardLogger()}.withDefaults()
	client, server := net.Pipe()
	conn := newConn(client, "pipe:6640", opts.Logger, opts)
	m := &Monitor{
		conn:      conn,
		gatewayID: "gw1",
		onEvent:   func(ev Event) { events <- ev },
		logger:    opts.Logger,
	}
	t.Cleanup(func() {
		m.Disconnect()
		server.Close()
	})
	return m, server
}

func TestStartRequestAndSnapshot(t *testing.T) {
	events := make(chan Event, 4)
	m, server := pipeMonitor(t, events)

	reqCh := make(chan message, 1)
	go func() {
		dec := json.NewDecoder(server)
		enc := json.NewEncoder(server)
		var req message
		if err := dec.Decode(&req); err != nil {
			return
		}
		reqCh <- req
		enc.Encode(map[string]any{
			"id": req.ID,
			"result": map[string]any{
				"Logical_Switch": map[string]any{
					"ls-uuid-1": map[string]any{"new": map[string]any{"name": "net-blue"}},
				},
			},
			"error": nil,
		})
	}()

	require.NoError(t, m.Start(context.Background()))
	assert.True(t, m.Connected())

	req := <-reqCh
	assert.Equal(t, "monitor", req.Method)

	var params []json.RawMessage
	require.NoError(t, json.Unmarshal(req.Params, &params))
	require.Len(t, params, 3)
	assert.Equal(t, `"hardware_vtep"`, string(params[0]))
	assert.Equal(t, `"gw1"`, string(params[1]))

	var requests map[string]map[string]any
	require.NoError(t, json.Unmarshal(params[2], &requests))
	assert.Len(t, requests, len(monitoredTables))
	for _, table := range monitoredTables {
		assert.Contains(t, requests, table)
	}

	select {
	case ev := <-events:
		assert.True(t, ev.Initial)
		assert.Equal(t, "gw1", ev.GatewayID)
		added := ev.Tables["Logical_Switch"].Added
		require.Contains(t, added, "ls-uuid-1")
		assert.Equal(t, "net-blue", added["ls-uuid-1"]["name"])
	case <-time.After(2 * time.Second):
		t.Fatal("no initial snapshot event")
	}
}

func TestStartTwiceIsNoop(t *testing.T) {
	events := make(chan Event, 4)
	m, server := pipeMonitor(t, events)

	go func() {
		dec := json.NewDecoder(server)
		enc := json.NewEncoder(server)
		var req message
		if err := dec.Decode(&req); err != nil {
			return
		}
		enc.Encode(map[string]any{"id": req.ID, "result": map[string]any{}, "error": nil})
	}()

	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Start(context.Background()))

	// An empty snapshot yields no event, and the second Start none either.
	assert.Len(t, events, 0)
}

func TestUpdateDeltasTranslated(t *testing.T) {
	events := make(chan Event, 4)
	m, server := pipeMonitor(t, events)

	update := map[string]any{
		"method": "update",
		"params": []any{"gw1", map[string]any{
			"Ucast_Macs_Remote": map[string]any{
				"mac-1": map[string]any{"new": map[string]any{"MAC": "aa:bb:cc:dd:ee:01"}},
				"mac-2": map[string]any{
					"old": map[string]any{"ipaddr": "10.0.0.2"},
					"new": map[string]any{"ipaddr": "10.0.0.3"},
				},
				"mac-3": map[string]any{"old": map[string]any{"MAC": "aa:bb:cc:dd:ee:03"}},
			},
		}},
		"id": nil,
	}

	proceed := make(chan struct{})
	go func() {
		dec := json.NewDecoder(server)
		enc := json.NewEncoder(server)
		var req message
		if err := dec.Decode(&req); err != nil {
			return
		}
		enc.Encode(map[string]any{"id": req.ID, "result": map[string]any{}, "error": nil})
		<-proceed
		enc.Encode(update)
	}()

	require.NoError(t, m.Start(context.Background()))
	close(proceed)

	select {
	case ev := <-events:
		assert.False(t, ev.Initial)
		assert.Equal(t, "gw1", ev.GatewayID)
		change := ev.Tables["Ucast_Macs_Remote"]
		assert.Contains(t, change.Added, "mac-1")
		require.Contains(t, change.Modified, "mac-2")
		assert.Equal(t, "10.0.0.3", change.Modified["mac-2"]["ipaddr"])
		require.Contains(t, change.Deleted, "mac-3")
		assert.Equal(t, "aa:bb:cc:dd:ee:03", change.Deleted["mac-3"]["MAC"])
	case <-time.After(2 * time.Second):
		t.Fatal("no delta event")
	}
}

func TestForeignNotificationIgnored(t *testing.T) {
	events := make(chan Event, 4)
	m, server := pipeMonitor(t, events)

	proceed := make(chan struct{})
	go func() {
		dec := json.NewDecoder(server)
		enc := json.NewEncoder(server)
		var req message
		if err := dec.Decode(&req); err != nil {
			return
		}
		enc.Encode(map[string]any{"id": req.ID, "result": map[string]any{}, "error": nil})
		<-proceed
		enc.Encode(map[string]any{"method": "locked", "params": []any{"x"}, "id": nil})
		enc.Encode(map[string]any{
			"method": "update",
			"params": []any{"gw1", map[string]any{
				"Tunnel": map[string]any{"t-1": map[string]any{"new": map[string]any{}}},
			}},
			"id": nil,
		})
	}()

	require.NoError(t, m.Start(context.Background()))
	close(proceed)

	select {
	case ev := <-events:
		assert.Contains(t, ev.Tables, "Tunnel")
	case <-time.After(2 * time.Second):
		t.Fatal("update event not delivered")
	}
	assert.Len(t, events, 0)
}

func TestStartFailureClosesConnection(t *testing.T) {
	events := make(chan Event, 1)
	m, server := pipeMonitor(t, events)

	go func() {
		dec := json.NewDecoder(server)
		enc := json.NewEncoder(server)
		var req message
		if err := dec.Decode(&req); err != nil {
			return
		}
		enc.Encode(map[string]any{
			"id":     req.ID,
			"result": nil,
			"error":  map[string]any{"error": "unknown database"},
		})
	}()

	err := m.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitor request for gw1")
	assert.False(t, m.Connected())
	assert.Len(t, events, 0)
}

func TestDisconnectIdempotent(t *testing.T) {
	events := make(chan Event, 1)
	m, _ := pipeMonitor(t, events)

	assert.True(t, m.Connected())
	m.Disconnect()
	m.Disconnect()
	assert.False(t, m.Connected())
}
