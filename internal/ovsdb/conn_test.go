// ABOUTME: Tests for the JSON-RPC connection layer over an in-memory pipe.
// ABOUTME: Covers call correlation, echo probes, timeouts, and teardown.

package ovsdb

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovsnet/l2gw-agent/internal/gateway"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// pipeConn builds a Conn over one side of an in-memory pipe and hands the
// other side to the test to script the gateway.
func pipeConn(t *testing.T, opts Options) (*Conn, net.Conn) {
	t.Helper()
	opts.Logger = discardLogger()
	opts = opts.withDefaults()
	client, server := net.Pipe()
	c := newConn(client, "pipe:6640", opts.Logger, opts)
	t.Cleanup(func() {
		c.Close()
		server.Close()
	})
	return c, server
}

func TestOptionsDefaults(t *testing.T) {
	opts := Options{}.withDefaults()
	assert.Equal(t, 10, opts.MaxRetries)
	assert.Equal(t, time.Second, opts.RetryDelay)
	assert.Equal(t, 5*time.Second, opts.DialTimeout)
	assert.Equal(t, 30*time.Second, opts.ResponseTimeout)
	assert.NotNil(t, opts.Logger)
}

func TestCallRoundTrip(t *testing.T) {
	c, server := pipeConn(t, Options{})

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
			"id":     req.ID,
			"result": []string{"hardware_vtep"},
			"error":  nil,
		})
	}()

	result, err := c.call(context.Background(), "list_dbs", []any{})
	require.NoError(t, err)

	var dbs []string
	require.NoError(t, json.Unmarshal(result, &dbs))
	assert.Equal(t, []string{"hardware_vtep"}, dbs)

	req := <-reqCh
	assert.Equal(t, "list_dbs", req.Method)
	assert.Equal(t, `[]`, string(req.Params))
}

func TestEchoProbeAnswered(t *testing.T) {
	_, server := pipeConn(t, Options{})

	enc := json.NewEncoder(server)
	dec := json.NewDecoder(server)

	require.NoError(t, enc.Encode(map[string]any{
		"method": "echo",
		"params": []string{"probe"},
		"id":     "echo-0",
	}))

	var reply message
	require.NoError(t, dec.Decode(&reply))
	assert.Equal(t, "echo-0", idKey(reply.ID))
	assert.Equal(t, `["probe"]`, string(reply.Result))
	assert.False(t, reply.hasError())
}

func TestNotificationRouting(t *testing.T) {
	c, server := pipeConn(t, Options{})

	type note struct {
		method string
		params string
	}
	notes := make(chan note, 1)
	c.setNotify(func(method string, params json.RawMessage) {
		notes <- note{method, string(params)}
	})

	enc := json.NewEncoder(server)
	require.NoError(t, enc.Encode(map[string]any{
		"method": "update",
		"params": []any{"mon-1", map[string]any{}},
		"id":     nil,
	}))

	select {
	case n := <-notes:
		assert.Equal(t, "update", n.method)
		assert.JSONEq(t, `["mon-1", {}]`, n.params)
	case <-time.After(2 * time.Second):
		t.Fatal("notification not delivered")
	}
}

func TestCallSurfacesErrorMember(t *testing.T) {
	c, server := pipeConn(t, Options{})

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

	_, err := c.call(context.Background(), "monitor", []any{"nope"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown database")
}

func TestCallResponseTimeout(t *testing.T) {
	c, server := pipeConn(t, Options{ResponseTimeout: 50 * time.Millisecond})

	go func() {
		var req message
		json.NewDecoder(server).Decode(&req)
		// Never reply.
	}()

	_, err := c.call(context.Background(), "transact", []any{hardwareVTEPDB})
	assert.ErrorIs(t, err, ErrResponseTimeout)
}

func TestCallContextDeadline(t *testing.T) {
	c, server := pipeConn(t, Options{})

	go func() {
		var req message
		json.NewDecoder(server).Decode(&req)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.call(ctx, "monitor", []any{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPeerDisconnectUnblocksCall(t *testing.T) {
	c, server := pipeConn(t, Options{})

	go func() {
		var req message
		json.NewDecoder(server).Decode(&req)
		server.Close()
	}()

	_, err := c.call(context.Background(), "transact", []any{})
	require.Error(t, err)
	assert.False(t, c.Connected())
}

func TestCallAfterClose(t *testing.T) {
	c, _ := pipeConn(t, Options{})

	c.Close()
	c.Close()
	assert.False(t, c.Connected())

	_, err := c.call(context.Background(), "transact", []any{})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestUnknownResponseIgnored(t *testing.T) {
	c, server := pipeConn(t, Options{})

	go func() {
		dec := json.NewDecoder(server)
		enc := json.NewEncoder(server)
		enc.Encode(map[string]any{"id": "stale", "result": map[string]any{}, "error": nil})
		var req message
		if err := dec.Decode(&req); err != nil {
			return
		}
		enc.Encode(map[string]any{"id": req.ID, "result": map[string]any{}, "error": nil})
	}()

	_, err := c.call(context.Background(), "monitor", []any{})
	assert.NoError(t, err)
}

func TestDialConnects(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	c, err := Dial(context.Background(),
		gateway.Config{Identifier: "gw1", Host: host, Port: port},
		Options{Logger: discardLogger()})
	require.NoError(t, err)
	defer c.Close()

	assert.True(t, c.Connected())
	select {
	case conn := <-accepted:
		conn.Close()
	case <-time.After(2 * time.Second):
		t.Fatal("no connection accepted")
	}
}

func TestDialRetriesExhausted(t *testing.T) {
	// Grab a port that nothing is listening on.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	start := time.Now()
	_, err = Dial(context.Background(),
		gateway.Config{Identifier: "gw1", Host: host, Port: port},
		Options{
			MaxRetries:  2,
			RetryDelay:  10 * time.Millisecond,
			DialTimeout: 500 * time.Millisecond,
			Logger:      discardLogger(),
		})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestDialCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Dial(ctx,
		gateway.Config{Identifier: "gw1", Host: "127.0.0.1", Port: 16640},
		Options{Logger: discardLogger()})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDialBadTLSMaterial(t *testing.T) {
	cfg := gateway.Config{
		Identifier:      "gw1",
		Host:            "127.0.0.1",
		Port:            16640,
		PrivateKeyPath:  "/nonexistent/gw1.key",
		CertificatePath: "/nonexistent/gw1.cert",
		CACertPath:      "/nonexistent/gw1.ca_cert",
	}
	_, err := Dial(context.Background(), cfg, Options{Logger: discardLogger()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading TLS material")
}
