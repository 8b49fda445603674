// ABOUTME: Websocket client maintaining the agent's long-lived control-plane session.
// ABOUTME: Handles the connect handshake, cast dispatch, outbound events, and reconnects.

package plant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ovsnet/l2gw-agent/internal/auth"
	"github.com/ovsnet/l2gw-agent/internal/dedupe"
	"github.com/ovsnet/l2gw-agent/internal/gateway"
	"github.com/ovsnet/l2gw-agent/internal/metrics"
	"github.com/ovsnet/l2gw-agent/internal/ovsdb"
)

const (
	// dialTimeout bounds one websocket dial attempt.
	dialTimeout = 10 * time.Second
	// sendBufferSize is the outbound frame queue; a full queue drops events.
	sendBufferSize = 64
	// maxPayloadBytes caps frames in both directions.
	maxPayloadBytes = 1 << 20
	// pingInterval must stay well under pongWait.
	pingInterval = 15 * time.Second
	pongWait     = 45 * time.Second
	writeWait    = 10 * time.Second
	// initialBackoff seeds the reconnect backoff, doubling up to the
	// configured maximum.
	initialBackoff = time.Second
	// Redelivered casts within this window are dropped.
	castDedupeTTL  = 5 * time.Minute
	castDedupeSize = 10000
)

// ErrNotConnected indicates no control-plane session is established.
var ErrNotConnected = errors.New("control plane not connected")

// ErrTimeout indicates the control plane did not answer a request in time.
var ErrTimeout = errors.New("control plane response timeout")

var errSessionLost = errors.New("control-plane session lost")

// Handler services inbound casts and the heartbeat verdict. *agent.Manager
// satisfies it.
type Handler interface {
	SetAgentMode(ctx context.Context, mode string) error
	DeleteLogicalSwitch(ctx context.Context, gatewayID, switchUUID string) error
	AddRemoteMac(ctx context.Context, gatewayID string, ls ovsdb.LogicalSwitch, loc ovsdb.PhysicalLocator, mac ovsdb.RemoteMac) error
	UpdateRemoteMac(ctx context.Context, gatewayID string, loc ovsdb.PhysicalLocator, mac ovsdb.RemoteMac) error
	DeleteRemoteMac(ctx context.Context, gatewayID, switchUUID, mac string) error
	UpdateConnectionToGateway(ctx context.Context, gatewayID string, nc ovsdb.NetworkConnection) error
	HeartbeatFailure()
}

// Options configures a Client. URL, AgentID, Tokens, Signer, Handler, and
// Metrics are required.
type Options struct {
	// URL is the controller's websocket endpoint (ws:// or wss://).
	URL     string
	AgentID string

	// Hostname defaults to os.Hostname. Version is reported during the
	// handshake.
	Hostname string
	Version  string

	// Tokens mints a fresh bearer token for every handshake; Signer adds
	// the SSH possession proof.
	Tokens   *auth.TokenManager
	Signer   *auth.Signer
	TokenTTL time.Duration

	Handler Handler

	// Status, when set, is sampled for every report_state request.
	Status func() ReportStatus

	ReportInterval    time.Duration
	ReportTimeout     time.Duration
	MaxReportFailures int
	// ReconnectBackoffMax caps the doubling reconnect backoff.
	ReconnectBackoffMax time.Duration

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Hostname == "" {
		if hn, err := os.Hostname(); err == nil {
			o.Hostname = hn
		}
	}
	if o.Version == "" {
		o.Version = "dev"
	}
	if o.TokenTTL <= 0 {
		o.TokenTTL = time.Hour
	}
	if o.ReportInterval <= 0 {
		o.ReportInterval = 10 * time.Second
	}
	if o.ReportTimeout <= 0 {
		o.ReportTimeout = 5 * time.Second
	}
	if o.MaxReportFailures <= 0 {
		o.MaxReportFailures = 3
	}
	if o.ReconnectBackoffMax <= 0 {
		o.ReconnectBackoffMax = 30 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Client is the agent side of the control-plane session. One Client outlives
// any number of websocket sessions; Run keeps reconnecting until its context
// is cancelled.
type Client struct {
	opts    Options
	casts   *dedupe.Cache
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu      sync.Mutex
	session *session

	connected     atomic.Bool
	everConnected atomic.Bool
}

// New validates the options and builds a disconnected Client.
func New(opts Options) (*Client, error) {
	if opts.URL == "" {
		return nil, errors.New("plant URL is required")
	}
	if !strings.HasPrefix(opts.URL, "ws://") && !strings.HasPrefix(opts.URL, "wss://") {
		return nil, fmt.Errorf("plant URL must use ws:// or wss://, got %q", opts.URL)
	}
	if opts.AgentID == "" {
		return nil, errors.New("agent id is required")
	}
	if opts.Tokens == nil {
		return nil, errors.New("token manager is required")
	}
	if opts.Signer == nil {
		return nil, errors.New("SSH signer is required")
	}
	if opts.Handler == nil {
		return nil, errors.New("cast handler is required")
	}
	if opts.Metrics == nil {
		return nil, errors.New("metrics are required")
	}

	opts = opts.withDefaults()
	return &Client{
		opts:    opts,
		casts:   dedupe.New(castDedupeTTL, castDedupeSize),
		metrics: opts.Metrics,
		logger:  opts.Logger.With("component", "plant-client"),
	}, nil
}

// Connected reports whether a session is currently established.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// EverConnected reports whether a session was established at least once.
// The readiness probe keys off this.
func (c *Client) EverConnected() bool {
	return c.everConnected.Load()
}

// Close releases background resources. Call after Run has returned.
func (c *Client) Close() {
	c.casts.Close()
}

// Run maintains the control-plane session until ctx is cancelled,
// reconnecting with capped exponential backoff. The report loop runs for the
// whole lifetime, so heartbeat failures accumulate even while disconnected.
// A reconnect never restores the monitor role by itself; the controller must
// cast the mode again.
func (c *Client) Run(ctx context.Context) error {
	go c.reportLoop(ctx)

	backoff := initialBackoff
	for {
		err := c.runSession(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if errors.Is(err, errSessionLost) {
			// The session was up; start the backoff ladder over.
			backoff = initialBackoff
		}
		c.logger.Warn("reconnecting to control plane", "backoff", backoff, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > c.opts.ReconnectBackoffMax {
			backoff = c.opts.ReconnectBackoffMax
		}
	}
}

// runSession dials, performs the connect handshake, and services one session
// until it drops or ctx is cancelled.
func (c *Client) runSession(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, c.opts.URL, nil)
	if err != nil {
		return fmt.Errorf("dialing control plane: %w", err)
	}

	s := newSession(conn)
	go c.writeLoop(s)
	go c.readLoop(ctx, s)

	if err := c.handshake(ctx, s); err != nil {
		s.close()
		return err
	}

	c.setSession(s)
	c.connected.Store(true)
	c.everConnected.Store(true)
	c.metrics.SetPlantConnected(true)
	c.logger.Info("=== PLANT SESSION ESTABLISHED ===", "url", c.opts.URL)

	select {
	case <-ctx.Done():
		err = ctx.Err()
	case <-s.done:
		err = errSessionLost
	}
	s.close()
	c.setSession(nil)
	c.connected.Store(false)
	c.metrics.SetPlantConnected(false)
	if ctx.Err() == nil {
		c.logger.Warn("=== PLANT SESSION LOST ===")
	}
	return err
}

// handshake sends the connect request with freshly minted credentials.
func (c *Client) handshake(ctx context.Context, s *session) error {
	creds, err := auth.NewCredentials(c.opts.AgentID, c.opts.Tokens, c.opts.Signer, c.opts.TokenTTL)
	if err != nil {
		return fmt.Errorf("building credentials: %w", err)
	}

	params := connectParams{
		Agent: agentInfo{
			ID:       c.opts.AgentID,
			Hostname: c.opts.Hostname,
			Version:  c.opts.Version,
		},
		Auth: creds,
		Caps: []string{"ovsdb-monitor", "ovsdb-transact"},
	}
	if _, err := c.call(ctx, s, methodConnect, params); err != nil {
		return fmt.Errorf("connect handshake: %w", err)
	}
	return nil
}

// call sends a request frame and waits for its response.
func (c *Client) call(ctx context.Context, s *session, method string, params any) (json.RawMessage, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encoding %s params: %w", method, err)
	}

	id := uuid.NewString()
	ch := s.addPending(id)
	defer s.removePending(id)

	if err := s.enqueue(frame{Type: frameTypeRequest, ID: id, Method: method, Params: raw}); err != nil {
		return nil, fmt.Errorf("sending %s: %w", method, err)
	}

	timer := time.NewTimer(c.opts.ReportTimeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, fmt.Errorf("%s rejected: %s (%s)", method, resp.Error.Message, resp.Error.Code)
		}
		if resp.OK != nil && !*resp.OK {
			return nil, fmt.Errorf("%s rejected", method)
		}
		return resp.Payload, nil
	case <-timer.C:
		return nil, fmt.Errorf("%s: %w", method, ErrTimeout)
	case <-s.done:
		return nil, ErrNotConnected
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) setSession(s *session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = s
}

func (c *Client) currentSession() *session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// readLoop decodes inbound frames until the connection drops. Casts are
// dispatched on their own goroutines so a slow gateway write cannot stall
// ping handling.
func (c *Client) readLoop(ctx context.Context, s *session) {
	defer s.close()

	s.conn.SetReadLimit(maxPayloadBytes)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.logger.Warn("discarding undecodable frame", "error", err)
			continue
		}

		switch f.Type {
		case frameTypeResponse:
			s.completePending(f)
		case frameTypeEvent:
			go c.dispatchCast(ctx, f)
		default:
			c.logger.Debug("ignoring unexpected frame", "type", f.Type, "method", f.Method)
		}
	}
}

// writeLoop drains the send queue and keeps the ping schedule.
func (c *Client) writeLoop(s *session) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer s.close()

	for {
		select {
		case <-s.done:
			return
		case msg := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatchCast deduplicates and executes one controller cast. Casts are
// fire-and-forget: failures are logged and counted, never sent back.
func (c *Client) dispatchCast(ctx context.Context, f frame) {
	method := f.Event
	if f.ID != "" && c.casts.Duplicate(f.ID) {
		c.logger.Debug("dropping redelivered cast", "method", method, "cast_id", f.ID)
		c.metrics.RecordCast(method, "dropped")
		return
	}

	if err := c.handleCast(ctx, method, f.Payload); err != nil {
		c.logger.Error("cast failed", "method", method, "cast_id", f.ID, "error", err)
		c.metrics.RecordCast(method, "error")
		return
	}
	c.logger.Debug("cast handled", "method", method, "cast_id", f.ID)
	c.metrics.RecordCast(method, "success")
}

func (c *Client) handleCast(ctx context.Context, method string, payload json.RawMessage) error {
	switch method {
	case castSetAgentMode:
		var p setAgentModeParams
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("decoding %s payload: %w", method, err)
		}
		return c.opts.Handler.SetAgentMode(ctx, p.Mode)

	case castDeleteLogicalSwitch:
		var p deleteSwitchParams
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("decoding %s payload: %w", method, err)
		}
		return c.opts.Handler.DeleteLogicalSwitch(ctx, p.GatewayID, p.SwitchUUID)

	case castAddRemoteMac:
		var p addRemoteMacParams
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("decoding %s payload: %w", method, err)
		}
		return c.opts.Handler.AddRemoteMac(ctx, p.GatewayID, p.Switch, p.Locator, p.Mac)

	case castUpdateRemoteMac:
		var p updateRemoteMacParams
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("decoding %s payload: %w", method, err)
		}
		return c.opts.Handler.UpdateRemoteMac(ctx, p.GatewayID, p.Locator, p.Mac)

	case castDeleteRemoteMac:
		var p deleteRemoteMacParams
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("decoding %s payload: %w", method, err)
		}
		return c.opts.Handler.DeleteRemoteMac(ctx, p.GatewayID, p.SwitchUUID, p.Mac)

	case castUpdateConnection:
		var p updateConnectionParams
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("decoding %s payload: %w", method, err)
		}
		return c.opts.Handler.UpdateConnectionToGateway(ctx, p.GatewayID, p.Connection)

	default:
		return fmt.Errorf("unknown cast method %q", method)
	}
}

// PushGatewayStates forwards one aggregate state snapshot. Pushes are
// fire-and-forget: without a session, or with a full send queue, the
// snapshot is dropped.
func (c *Client) PushGatewayStates(states gateway.AggregateState) {
	payload := gatewayStatesPayload{
		AgentID:   c.opts.AgentID,
		States:    states,
		Timestamp: time.Now().UnixMilli(),
	}
	c.pushEvent(eventGatewayStates, payload)
}

// PushGatewayEvent forwards one monitor event.
func (c *Client) PushGatewayEvent(ev ovsdb.Event) {
	if c.pushEvent(eventOVSDBEvent, ev) {
		kind := "update"
		if ev.Initial {
			kind = "initial"
		}
		c.metrics.RecordEvent(ev.GatewayID, kind)
	}
}

func (c *Client) pushEvent(event string, payload any) bool {
	s := c.currentSession()
	if s == nil {
		c.logger.Debug("dropping event, no session", "event", event)
		return false
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		c.logger.Error("encoding event payload", "event", event, "error", err)
		return false
	}

	seq := s.seq.Add(1)
	if err := s.enqueue(frame{Type: frameTypeEvent, Event: event, Payload: raw, Seq: &seq}); err != nil {
		c.logger.Warn("dropping event, send queue full", "event", event)
		return false
	}
	return true
}
