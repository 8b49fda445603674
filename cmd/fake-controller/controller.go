// ABOUTME: Websocket server half of the fake control plane
// ABOUTME: Verifies agent handshakes, answers heartbeats, broadcasts casts

package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ovsnet/l2gw-agent/internal/auth"
	"github.com/ovsnet/l2gw-agent/internal/ovsdb"
)

// Cast methods the controller can broadcast.
const (
	castSetAgentMode        = "set_agent_mode"
	castDeleteLogicalSwitch = "delete_logical_switch"
	castAddRemoteMac        = "add_remote_mac"
	castUpdateRemoteMac     = "update_remote_mac"
	castDeleteRemoteMac     = "delete_remote_mac"
	castUpdateConnection    = "update_connection"
)

// frame mirrors the agent's control-plane envelope.
type frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Event   string          `json:"event,omitempty"`
	OK      *bool           `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *frameError     `json:"error,omitempty"`
	Seq     *int64          `json:"seq,omitempty"`
}

type frameError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type connectParams struct {
	Agent agentInfo        `json:"agent"`
	Auth  auth.Credentials `json:"auth"`
	Caps  []string         `json:"caps"`
}

type agentInfo struct {
	ID       string `json:"id"`
	Hostname string `json:"hostname"`
	Version  string `json:"version"`
}

type reportParams struct {
	AgentID   string       `json:"agent_id"`
	Status    reportStatus `json:"status"`
	Timestamp int64        `json:"timestamp"`
}

type reportStatus struct {
	Mode       string `json:"mode"`
	Monitoring bool   `json:"monitoring"`
	Gateways   int    `json:"gateways"`
}

type gatewayStatesPayload struct {
	AgentID   string            `json:"agent_id"`
	States    map[string]string `json:"states"`
	Timestamp int64             `json:"timestamp"`
}

// controller accepts agent sessions and fans casts out to all of them.
type controller struct {
	verifier    *auth.Verifier
	initialMode string
	upgrader    websocket.Upgrader

	mu     sync.Mutex
	agents map[string]*agentConn
}

// agentConn is one live agent session.
type agentConn struct {
	instance    string
	agentID     string
	hostname    string
	version     string
	caps        []string
	connectedAt time.Time

	conn    *websocket.Conn
	writeMu sync.Mutex
}

func newController(verifier *auth.Verifier, initialMode string) *controller {
	return &controller{
		verifier:    verifier,
		initialMode: initialMode,
		upgrader: websocket.Upgrader{
			// Dev tool; agents are not browsers.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		agents: make(map[string]*agentConn),
	}
}

func (a *agentConn) send(f frame) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	return a.conn.WriteJSON(f)
}

func boolPtr(b bool) *bool { return &b }

// handleAgent upgrades the connection and services one agent session until
// the agent drops.
func (c *controller) handleAgent(w http.ResponseWriter, r *http.Request) {
	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ac, err := c.acceptAgent(conn)
	if err != nil {
		color.Red("✗ handshake rejected: %v", err)
		return
	}

	green := color.New(color.FgGreen)
	green.Printf("✓ agent connected: %s", ac.agentID)
	fmt.Printf(" (host %s, version %s, caps %s)\n", ac.hostname, ac.version, strings.Join(ac.caps, ","))

	c.register(ac)
	defer func() {
		c.unregister(ac)
		color.Yellow("  agent disconnected: %s", ac.agentID)
	}()

	if c.initialMode != "" {
		if err := ac.send(frame{
			Type:    "event",
			ID:      uuid.NewString(),
			Event:   castSetAgentMode,
			Payload: mustJSON(map[string]string{"mode": c.initialMode}),
		}); err == nil {
			color.New(color.FgCyan).Printf("→ cast %s mode=%s to %s\n", castSetAgentMode, c.initialMode, ac.agentID)
		}
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			color.Yellow("  undecodable frame from %s: %v", ac.agentID, err)
			continue
		}
		c.handleFrame(ac, f)
	}
}

// acceptAgent reads the connect request and verifies both credential proofs.
// The response frame goes out before the agent is registered, so it cannot
// race a broadcast.
func (c *controller) acceptAgent(conn *websocket.Conn) (*agentConn, error) {
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("reading hello: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decoding hello: %w", err)
	}
	if f.Type != "req" || f.Method != "connect" {
		return nil, fmt.Errorf("expected connect request, got %s/%s", f.Type, f.Method)
	}

	var p connectParams
	if err := json.Unmarshal(f.Params, &p); err != nil {
		return nil, fmt.Errorf("decoding connect params: %w", err)
	}

	reject := func(reason error) error {
		resp := frame{
			Type:  "res",
			ID:    f.ID,
			OK:    boolPtr(false),
			Error: &frameError{Code: "unauthorized", Message: reason.Error()},
		}
		_ = conn.WriteJSON(resp)
		return reason
	}

	agentID, fp, err := c.verifier.Verify(p.Auth)
	if err != nil {
		return nil, reject(err)
	}
	if p.Agent.ID != "" && p.Agent.ID != agentID {
		return nil, reject(fmt.Errorf("agent info id %q does not match credentials %q", p.Agent.ID, agentID))
	}

	ac := &agentConn{
		instance:    uuid.NewString(),
		agentID:     agentID,
		hostname:    p.Agent.Hostname,
		version:     p.Agent.Version,
		caps:        p.Caps,
		connectedAt: time.Now(),
		conn:        conn,
	}
	if err := ac.send(frame{Type: "res", ID: f.ID, OK: boolPtr(true)}); err != nil {
		return nil, fmt.Errorf("answering connect: %w", err)
	}

	color.New(color.FgHiBlack).Printf("  key %s\n", truncate(fp, 16))
	return ac, nil
}

// handleFrame prints and, for requests, answers one inbound frame.
func (c *controller) handleFrame(ac *agentConn, f frame) {
	gray := color.New(color.FgHiBlack)

	switch {
	case f.Type == "req" && f.Method == "report_state":
		var p reportParams
		if err := json.Unmarshal(f.Params, &p); err == nil {
			gray.Printf("  heartbeat %s: mode=%s monitoring=%t gateways=%d\n",
				p.AgentID, p.Status.Mode, p.Status.Monitoring, p.Status.Gateways)
		}
		_ = ac.send(frame{Type: "res", ID: f.ID, OK: boolPtr(true)})

	case f.Type == "event" && f.Event == "gateway_states":
		var p gatewayStatesPayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			return
		}
		printStates(p.AgentID, p.States)

	case f.Type == "event" && f.Event == "ovsdb_event":
		var ev ovsdb.Event
		if err := json.Unmarshal(f.Payload, &ev); err != nil {
			return
		}
		printOVSDBEvent(ev)

	default:
		gray.Printf("  ignoring frame type=%s method=%s event=%s from %s\n",
			f.Type, f.Method, f.Event, ac.agentID)
	}
}

func (c *controller) register(ac *agentConn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.agents[ac.instance] = ac
}

func (c *controller) unregister(ac *agentConn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.agents, ac.instance)
}

// list returns the live sessions sorted by agent id.
func (c *controller) list() []*agentConn {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*agentConn, 0, len(c.agents))
	for _, ac := range c.agents {
		out = append(out, ac)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].agentID < out[j].agentID })
	return out
}

// broadcast sends one cast to every connected agent. All recipients share the
// cast id; it is the redelivery key, not a per-agent identity.
func (c *controller) broadcast(method string, params any) (castID string, sent int, err error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return "", 0, fmt.Errorf("encoding %s params: %w", method, err)
	}

	castID = uuid.NewString()
	f := frame{Type: "event", ID: castID, Event: method, Payload: raw}
	for _, ac := range c.list() {
		if err := ac.send(f); err != nil {
			color.Red("✗ cast to %s failed: %v", ac.agentID, err)
			continue
		}
		sent++
	}
	return castID, sent, nil
}

// adminMux exposes the local HTTP API l2gwctl drives in dev setups.
func (c *controller) adminMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/admin/mode", c.handleAdminMode)
	mux.HandleFunc("/admin/cast", c.handleAdminCast)
	mux.HandleFunc("/admin/agents", c.handleAdminAgents)
	return mux
}

func (c *controller) handleAdminMode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	switch req.Mode {
	case "monitor", "transact", "none":
	default:
		http.Error(w, fmt.Sprintf("unknown mode %q", req.Mode), http.StatusBadRequest)
		return
	}

	castID, sent, err := c.broadcast(castSetAgentMode, map[string]string{"mode": req.Mode})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	color.New(color.FgCyan).Printf("→ admin cast %s mode=%s to %d agent(s)\n", castSetAgentMode, req.Mode, sent)
	writeJSON(w, map[string]any{"cast_id": castID, "agents": sent})
}

func (c *controller) handleAdminCast(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	switch req.Method {
	case castSetAgentMode, castDeleteLogicalSwitch, castAddRemoteMac,
		castUpdateRemoteMac, castDeleteRemoteMac, castUpdateConnection:
	default:
		http.Error(w, fmt.Sprintf("unknown cast method %q", req.Method), http.StatusBadRequest)
		return
	}

	castID, sent, err := c.broadcast(req.Method, req.Params)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	color.New(color.FgCyan).Printf("→ admin cast %s to %d agent(s)\n", req.Method, sent)
	writeJSON(w, map[string]any{"cast_id": castID, "agents": sent})
}

func (c *controller) handleAdminAgents(w http.ResponseWriter, r *http.Request) {
	type entry struct {
		AgentID     string   `json:"agent_id"`
		Hostname    string   `json:"hostname,omitempty"`
		Version     string   `json:"version,omitempty"`
		Caps        []string `json:"caps,omitempty"`
		ConnectedAt string   `json:"connected_at"`
	}
	out := []entry{}
	for _, ac := range c.list() {
		out = append(out, entry{
			AgentID:     ac.agentID,
			Hostname:    ac.hostname,
			Version:     ac.version,
			Caps:        ac.caps,
			ConnectedAt: ac.connectedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, out)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func mustJSON(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func printStates(agentID string, states map[string]string) {
	cyan := color.New(color.FgCyan)
	cyan.Printf("● states from %s:", agentID)
	if len(states) == 0 {
		fmt.Print(" (none)")
	}

	ids := make([]string, 0, len(states))
	for id := range states {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		switch states[id] {
		case "connected":
			fmt.Print(" " + color.GreenString("%s=connected", id))
		case "disconnected":
			fmt.Print(" " + color.RedString("%s=disconnected", id))
		default:
			fmt.Printf(" %s=%s", id, states[id])
		}
	}
	fmt.Println()
}

func printOVSDBEvent(ev ovsdb.Event) {
	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)

	kind := "update"
	if ev.Initial {
		kind = "initial"
	}
	cyan.Printf("● event from %s ", ev.GatewayID)
	gray.Printf("[%s]", kind)

	tables := make([]string, 0, len(ev.Tables))
	for name := range ev.Tables {
		tables = append(tables, name)
	}
	sort.Strings(tables)

	for _, name := range tables {
		tc := ev.Tables[name]
		fmt.Printf(" %s(+%d ~%d -%d)", name, len(tc.Added), len(tc.Modified), len(tc.Deleted))
	}
	fmt.Println()
}
