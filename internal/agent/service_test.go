// ABOUTME: Tests for the assembled service and its debug HTTP endpoints.
// ABOUTME: Uses a throwaway config with a generated SSH key; no live control plane.

package agent

import (
	"bufio"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"encoding/pem"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/ovsnet/l2gw-agent/internal/config"
	"github.com/ovsnet/l2gw-agent/internal/ovsdb"
)

// writeTestKey writes a fresh ed25519 SSH private key and returns its path.
func writeTestKey(t *testing.T) string {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	block, err := ssh.MarshalPrivateKey(priv, "")
	if err != nil {
		t.Fatalf("marshaling key: %v", err)
	}

	path := filepath.Join(t.TempDir(), "agent_key")
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatalf("writing key: %v", err)
	}
	return path
}

// testServiceConfig builds a validated-shape config. The plant URL points at
// a dead port; these tests never reach a control plane.
func testServiceConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Agent: config.AgentConfig{ID: "l2gw-agent-1"},
		Plant: config.PlantConfig{
			URL:                    "ws://127.0.0.1:1/agent",
			TokenSecret:            "0123456789abcdef0123456789abcdef",
			SSHKeyPath:             writeTestKey(t),
			ReportFailureThreshold: 3,
			ReportInterval:         time.Minute,
			ReportTimeout:          time.Second,
			ReconnectBackoffMax:    time.Minute,
		},
		OVSDB: config.OVSDBConfig{
			Hosts:                "gw-east:203.0.113.10:6640,gw-west:203.0.113.20:6640",
			MaxConnectionRetries: 2,
			RetryDelay:           10 * time.Millisecond,
			DialTimeout:          100 * time.Millisecond,
			ResponseTimeout:      time.Second,
			PeriodicInterval:     20 * time.Second,
		},
		Debug:   config.DebugConfig{Enabled: true, HTTPAddr: "127.0.0.1:0"},
		Logging: config.LoggingConfig{Level: "info", Format: "text"},
	}
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	s, err := NewService(testServiceConfig(t), "0.0.0-test", discardLogger())
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	t.Cleanup(s.plant.Close)
	return s
}

func TestNewService(t *testing.T) {
	s := newTestService(t)

	if got := s.registry.Len(); got != 2 {
		t.Errorf("registry.Len() = %d, want 2", got)
	}
	if got := s.manager.Mode(); got != ModeUnset {
		t.Errorf("initial mode = %v, want ModeUnset", got)
	}
	if s.httpSrv == nil {
		t.Error("expected debug server to be configured")
	}
}

func TestNewServiceDebugDisabled(t *testing.T) {
	cfg := testServiceConfig(t)
	cfg.Debug.Enabled = false

	s, err := NewService(cfg, "0.0.0-test", discardLogger())
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	t.Cleanup(s.plant.Close)

	if s.httpSrv != nil {
		t.Error("expected no debug server when disabled")
	}
}

func TestNewServiceBadTokenSecret(t *testing.T) {
	cfg := testServiceConfig(t)
	cfg.Plant.TokenSecret = "short"

	if _, err := NewService(cfg, "0.0.0-test", discardLogger()); err == nil {
		t.Fatal("expected error for short token secret")
	} else if !strings.Contains(err.Error(), "token secret") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNewServiceMissingSSHKey(t *testing.T) {
	cfg := testServiceConfig(t)
	cfg.Plant.SSHKeyPath = filepath.Join(t.TempDir(), "missing_key")

	if _, err := NewService(cfg, "0.0.0-test", discardLogger()); err == nil {
		t.Fatal("expected error for missing SSH key")
	} else if !strings.Contains(err.Error(), "SSH key") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNewServiceRejectsBadRetryBudget(t *testing.T) {
	cfg := testServiceConfig(t)
	cfg.OVSDB.MaxConnectionRetries = 30 // >= 20s interval

	if _, err := NewService(cfg, "0.0.0-test", discardLogger()); err == nil {
		t.Fatal("expected error for oversized retry budget")
	} else if !strings.Contains(err.Error(), "retry budget") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestDebugHealthEndpoints(t *testing.T) {
	s := newTestService(t)
	srv := httptest.NewServer(s.debugMux())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/healthz status = %d, want 200", resp.StatusCode)
	}

	// Not ready until a control-plane session has existed.
	resp, err = http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("/readyz status = %d, want 503", resp.StatusCode)
	}
}

func TestDebugStatusEndpoint(t *testing.T) {
	s := newTestService(t)
	srv := httptest.NewServer(s.debugMux())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/api/status")
	if err != nil {
		t.Fatalf("GET /api/status: %v", err)
	}
	defer resp.Body.Close()

	var status StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decoding status: %v", err)
	}

	if status.AgentID != "l2gw-agent-1" {
		t.Errorf("AgentID = %q", status.AgentID)
	}
	if status.Version != "0.0.0-test" {
		t.Errorf("Version = %q", status.Version)
	}
	if status.Mode != "unset" {
		t.Errorf("Mode = %q, want unset", status.Mode)
	}
	if status.Monitoring {
		t.Error("Monitoring = true, want false")
	}
	if status.PlantConnected {
		t.Error("PlantConnected = true, want false")
	}
	if status.Gateways != 2 {
		t.Errorf("Gateways = %d, want 2", status.Gateways)
	}
}

func TestDebugGatewaysEndpoint(t *testing.T) {
	s := newTestService(t)
	srv := httptest.NewServer(s.debugMux())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/api/gateways")
	if err != nil {
		t.Fatalf("GET /api/gateways: %v", err)
	}
	defer resp.Body.Close()

	var infos []GatewayInfo
	if err := json.NewDecoder(resp.Body).Decode(&infos); err != nil {
		t.Fatalf("decoding gateways: %v", err)
	}

	if len(infos) != 2 {
		t.Fatalf("got %d gateways, want 2", len(infos))
	}
	// Sorted by identifier.
	if infos[0].ID != "gw-east" || infos[1].ID != "gw-west" {
		t.Errorf("gateway order = %q, %q", infos[0].ID, infos[1].ID)
	}
	if infos[0].Endpoint != "203.0.113.10:6640" {
		t.Errorf("gw-east endpoint = %q", infos[0].Endpoint)
	}
	if infos[0].TLS {
		t.Error("gw-east TLS = true, want false")
	}
	if infos[0].Connected {
		t.Error("gw-east Connected = true, want false")
	}
}

func TestDebugMetricsEndpoint(t *testing.T) {
	s := newTestService(t)
	srv := httptest.NewServer(s.debugMux())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", resp.StatusCode)
	}
	buf := new(strings.Builder)
	if _, err := bufio.NewReader(resp.Body).WriteTo(buf); err != nil {
		t.Fatalf("reading metrics: %v", err)
	}
	if !strings.Contains(buf.String(), "l2gw_agent_mode") {
		t.Error("metrics output missing l2gw_agent_mode")
	}
}

func TestDebugEventsStream(t *testing.T) {
	s := newTestService(t)
	srv := httptest.NewServer(s.debugMux())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/api/events")
	if err != nil {
		t.Fatalf("GET /api/events: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/api/events status = %d, want 200", resp.StatusCode)
	}

	// Headers received means the handler has subscribed.
	s.bus.Publish(ovsdb.Event{
		GatewayID: "gw-east",
		Initial:   true,
		Tables:    map[string]ovsdb.TableChange{"Physical_Switch": {}},
	})

	scanner := bufio.NewScanner(resp.Body)
	if !scanner.Scan() {
		t.Fatalf("no event line received: %v", scanner.Err())
	}

	var ev ovsdb.Event
	if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
		t.Fatalf("decoding event line: %v", err)
	}
	if ev.GatewayID != "gw-east" || !ev.Initial {
		t.Errorf("event = %+v", ev)
	}
}

func TestDebugEventsStreamFiltered(t *testing.T) {
	s := newTestService(t)
	srv := httptest.NewServer(s.debugMux())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/api/events?gateway=gw-east")
	if err != nil {
		t.Fatalf("GET /api/events: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	// Only gw-east events may arrive on the filtered stream.
	s.bus.Publish(ovsdb.Event{GatewayID: "gw-west"})
	s.bus.Publish(ovsdb.Event{GatewayID: "gw-east"})

	scanner := bufio.NewScanner(resp.Body)
	if !scanner.Scan() {
		t.Fatalf("no event line received: %v", scanner.Err())
	}
	var ev ovsdb.Event
	if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
		t.Fatalf("decoding event line: %v", err)
	}
	if ev.GatewayID != "gw-east" {
		t.Errorf("GatewayID = %q, want gw-east", ev.GatewayID)
	}
}

func TestDebugEventsUnknownGateway(t *testing.T) {
	s := newTestService(t)
	srv := httptest.NewServer(s.debugMux())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/api/events?gateway=nope")
	if err != nil {
		t.Fatalf("GET /api/events: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestServiceReportStatus(t *testing.T) {
	s := newTestService(t)

	status := s.reportStatus()
	if status.Mode != "unset" {
		t.Errorf("Mode = %q, want unset", status.Mode)
	}
	if status.Monitoring {
		t.Error("Monitoring = true, want false")
	}
	if status.Gateways != 2 {
		t.Errorf("Gateways = %d, want 2", status.Gateways)
	}
}

func TestServiceRunGracefulShutdown(t *testing.T) {
	s := newTestService(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx)
	}()

	// Let the components spin up, then ask for shutdown.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v, want nil on graceful shutdown", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}

func TestServiceRunFatalError(t *testing.T) {
	s := newTestService(t)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx)
	}()

	s.fatal(errors.New("monitor loop exploded"))

	select {
	case err := <-done:
		if err == nil || !strings.Contains(err.Error(), "monitor loop exploded") {
			t.Errorf("Run() = %v, want fatal error", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not stop after fatal error")
	}
}
