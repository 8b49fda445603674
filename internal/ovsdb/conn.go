// ABOUTME: OVSDB connection: dialing with a retry budget, TLS, and JSON-RPC plumbing.
// ABOUTME: Correlates responses by request id and answers server echo probes.

package ovsdb

import (
	"bufio"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ovsnet/l2gw-agent/internal/gateway"
)

// ErrNotConnected indicates the connection has been torn down.
var ErrNotConnected = errors.New("ovsdb connection closed")

// ErrResponseTimeout indicates the gateway did not answer a request in time.
var ErrResponseTimeout = errors.New("ovsdb response timeout")

// Options tune connection establishment and request handling.
type Options struct {
	// MaxRetries is the dial attempt budget. The whole budget must fit
	// inside one supervisor tick; config validation enforces that.
	MaxRetries int

	// RetryDelay is the fixed pause between dial attempts.
	RetryDelay time.Duration

	// DialTimeout bounds a single connect (and TLS handshake) attempt.
	DialTimeout time.Duration

	// ResponseTimeout bounds how long a call waits for its response.
	ResponseTimeout time.Duration

	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.MaxRetries <= 0 {
		o.MaxRetries = 10
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = time.Second
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = 5 * time.Second
	}
	if o.ResponseTimeout <= 0 {
		o.ResponseTimeout = 30 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// notifyFunc receives inbound notifications that are not echo probes.
type notifyFunc func(method string, params json.RawMessage)

// Conn is one JSON-RPC session with a gateway's OVSDB server.
type Conn struct {
	endpoint string
	logger   *slog.Logger
	opts     Options

	nc      net.Conn
	writeMu sync.Mutex
	enc     *json.Encoder

	mu       sync.Mutex
	pending  map[string]chan message
	notify   notifyFunc
	closeErr error

	connected atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

// Dial connects to the gateway's OVSDB endpoint, retrying up to the
// configured budget with a fixed delay between attempts. TLS is used when
// the gateway config carries a bundle. Cancellation of ctx stops retrying.
func Dial(ctx context.Context, cfg gateway.Config, opts Options) (*Conn, error) {
	opts = opts.withDefaults()
	logger := opts.Logger.With("component", "ovsdb-conn", "gateway_id", cfg.Identifier)

	var tlsCfg *tls.Config
	if cfg.UseTLS() {
		var err error
		tlsCfg, err = loadTLSConfig(cfg)
		if err != nil {
			return nil, fmt.Errorf("loading TLS material for %s: %w", cfg.Identifier, err)
		}
	}

	endpoint := cfg.Endpoint()
	var lastErr error
	for attempt := 1; attempt <= opts.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		nc, err := dialOnce(ctx, endpoint, tlsCfg, opts.DialTimeout)
		if err == nil {
			return newConn(nc, endpoint, logger, opts), nil
		}
		lastErr = err
		logger.Debug("dial attempt failed",
			"attempt", attempt,
			"max_retries", opts.MaxRetries,
			"error", err)
		if attempt < opts.MaxRetries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(opts.RetryDelay):
			}
		}
	}
	return nil, fmt.Errorf("connecting to %s after %d attempts: %w", endpoint, opts.MaxRetries, lastErr)
}

// dialOnce performs a single connect attempt, with TLS when configured.
func dialOnce(ctx context.Context, endpoint string, tlsCfg *tls.Config, timeout time.Duration) (net.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	nc, err := d.DialContext(dialCtx, "tcp", endpoint)
	if err != nil {
		return nil, err
	}
	if tlsCfg == nil {
		return nc, nil
	}
	tc := tls.Client(nc, tlsCfg)
	if err := tc.HandshakeContext(dialCtx); err != nil {
		nc.Close()
		return nil, fmt.Errorf("tls handshake: %w", err)
	}
	return tc, nil
}

// loadTLSConfig builds a client TLS config from the gateway's bundle paths.
func loadTLSConfig(cfg gateway.Config) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(cfg.CertificatePath, cfg.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("loading client key pair: %w", err)
	}
	caPEM, err := os.ReadFile(cfg.CACertPath)
	if err != nil {
		return nil, fmt.Errorf("reading CA certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("no usable certificates in %s", cfg.CACertPath)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// newConn wraps an established socket and starts the read loop.
func newConn(nc net.Conn, endpoint string, logger *slog.Logger, opts Options) *Conn {
	c := &Conn{
		endpoint: endpoint,
		logger:   logger,
		opts:     opts,
		nc:       nc,
		enc:      json.NewEncoder(nc),
		pending:  make(map[string]chan message),
		done:     make(chan struct{}),
	}
	c.connected.Store(true)
	go c.readLoop()
	return c
}

// Connected reports whether the session is still live.
func (c *Conn) Connected() bool {
	return c.connected.Load()
}

// Close tears the connection down. Idempotent; safe from any goroutine.
func (c *Conn) Close() {
	c.teardown(nil)
}

// setNotify registers the handler for inbound notifications.
func (c *Conn) setNotify(fn notifyFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notify = fn
}

// readLoop decodes messages off the wire until the socket dies.
func (c *Conn) readLoop() {
	dec := json.NewDecoder(bufio.NewReader(c.nc))
	for {
		var msg message
		if err := dec.Decode(&msg); err != nil {
			c.teardown(fmt.Errorf("reading from %s: %w", c.endpoint, err))
			return
		}
		if msg.isRequest() {
			c.handleRequest(&msg)
			continue
		}
		c.completePending(&msg)
	}
}

// handleRequest serves inbound requests. Echo probes are the server's
// keepalive; everything else goes to the notification handler.
func (c *Conn) handleRequest(msg *message) {
	if msg.Method == "echo" {
		reply := message{ID: msg.ID, Result: msg.Params, Error: json.RawMessage("null")}
		if err := c.send(&reply); err != nil {
			c.logger.Debug("echo reply failed", "error", err)
		}
		return
	}

	c.mu.Lock()
	notify := c.notify
	c.mu.Unlock()
	if notify == nil {
		c.logger.Debug("dropping unhandled notification", "method", msg.Method)
		return
	}
	notify(msg.Method, msg.Params)
}

// completePending routes a response to the call waiting on its id. Responses
// for unknown ids (timed-out or cancelled calls) are dropped.
func (c *Conn) completePending(msg *message) {
	key := idKey(msg.ID)

	c.mu.Lock()
	ch, ok := c.pending[key]
	if ok {
		delete(c.pending, key)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("dropping response with unknown id", "id", key)
		return
	}
	ch <- *msg
}

// send serializes one message onto the wire. A write failure kills the
// connection.
func (c *Conn) send(msg *message) error {
	if !c.connected.Load() {
		return ErrNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.enc.Encode(msg); err != nil {
		c.teardown(fmt.Errorf("writing to %s: %w", c.endpoint, err))
		return err
	}
	return nil
}

// call sends a request and waits for its response, bounded by the response
// timeout and ctx.
func (c *Conn) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	rawParams, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encoding %s params: %w", method, err)
	}

	id := uuid.New().String()
	ch := make(chan message, 1)

	c.mu.Lock()
	if c.closeErr != nil {
		c.mu.Unlock()
		return nil, c.closeErr
	}
	c.pending[id] = ch
	c.mu.Unlock()

	req := message{Method: method, Params: rawParams, ID: id}
	if err := c.send(&req); err != nil {
		c.removePending(id)
		return nil, err
	}

	timer := time.NewTimer(c.opts.ResponseTimeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		return c.unpack(method, &resp)
	case <-timer.C:
		c.removePending(id)
		return nil, fmt.Errorf("%s request to %s: %w", method, c.endpoint, ErrResponseTimeout)
	case <-ctx.Done():
		c.removePending(id)
		return nil, ctx.Err()
	case <-c.done:
		// The response may have landed just before teardown.
		select {
		case resp := <-ch:
			return c.unpack(method, &resp)
		default:
			return nil, c.closeReason()
		}
	}
}

// unpack extracts the result from a response, surfacing its error member.
func (c *Conn) unpack(method string, resp *message) (json.RawMessage, error) {
	if resp.hasError() {
		return nil, fmt.Errorf("%s request failed: %s", method, string(resp.Error))
	}
	return resp.Result, nil
}

func (c *Conn) removePending(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, id)
}

// closeReason returns the error that killed the connection.
func (c *Conn) closeReason() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closeErr != nil {
		return c.closeErr
	}
	return ErrNotConnected
}

// teardown flips the connection dead exactly once: pending calls unblock via
// the done channel, the socket closes, and Connected reports false.
func (c *Conn) teardown(cause error) {
	c.closeOnce.Do(func() {
		if cause == nil {
			cause = ErrNotConnected
		}
		c.connected.Store(false)
		c.mu.Lock()
		c.closeErr = cause
		c.pending = make(map[string]chan message)
		c.mu.Unlock()
		close(c.done)
		if err := c.nc.Close(); err != nil {
			c.logger.Debug("socket close failed", "error", err)
		}
		c.logger.Debug("connection closed", "error", cause)
	})
}
