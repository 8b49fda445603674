// ABOUTME: Local debug HTTP endpoints: health probes, metrics, status, and event streaming.
// ABOUTME: Every endpoint is read-only; the control plane is the only write path into the agent.

package agent

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ovsnet/l2gw-agent/internal/ovsdb"
)

// StatusResponse is the /api/status payload.
type StatusResponse struct {
	AgentID        string `json:"agent_id"`
	Version        string `json:"version"`
	Mode           string `json:"mode"`
	Monitoring     bool   `json:"monitoring"`
	PlantConnected bool   `json:"plant_connected"`
	Gateways       int    `json:"gateways"`
	UptimeSeconds  int64  `json:"uptime_seconds"`
}

// GatewayInfo is one entry of the /api/gateways payload.
type GatewayInfo struct {
	ID        string `json:"id"`
	Endpoint  string `json:"endpoint"`
	TLS       bool   `json:"tls"`
	Connected bool   `json:"connected"`
}

func (s *Service) debugMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	mux.Handle("/metrics", promhttp.HandlerFor(s.promReg, promhttp.HandlerOpts{}))

	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/gateways", s.handleGateways)
	mux.HandleFunc("/api/events", s.handleEvents)

	return mux
}

// handleHealth returns 200 OK while the process is alive.
func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 once a control-plane session has been established
// at least once. A later session loss does not flip readiness back; the
// client reconnects on its own.
func (s *Service) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.plant.EverConnected() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("waiting for control plane"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		AgentID:        s.cfg.Agent.ID,
		Version:        s.version,
		Mode:           s.manager.Mode().String(),
		Monitoring:     s.manager.Monitoring(),
		PlantConnected: s.plant.Connected(),
		Gateways:       s.registry.Len(),
		UptimeSeconds:  int64(time.Since(s.startedAt).Seconds()),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Service) handleGateways(w http.ResponseWriter, r *http.Request) {
	entries := s.registry.All()
	infos := make([]GatewayInfo, 0, len(entries))
	for _, entry := range entries {
		infos = append(infos, GatewayInfo{
			ID:        entry.Config.Identifier,
			Endpoint:  entry.Config.Endpoint(),
			TLS:       entry.Config.UseTLS(),
			Connected: entry.Connected(),
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ID < infos[j].ID
	})

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(infos)
}

// handleEvents streams bus events as line-delimited JSON until the client
// disconnects. An optional ?gateway=<id> query narrows the stream to one
// gateway.
func (s *Service) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	var ch <-chan ovsdb.Event
	if id := r.URL.Query().Get("gateway"); id != "" {
		if !s.registry.IsValid(id) {
			s.sendJSONError(w, http.StatusNotFound, "unknown gateway")
			return
		}
		ch, _ = s.bus.Subscribe(r.Context(), id)
	} else {
		ch, _ = s.bus.SubscribeAll(r.Context())
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	enc := json.NewEncoder(w)
	for ev := range ch {
		if err := enc.Encode(ev); err != nil {
			return
		}
		flusher.Flush()
	}
}

// sendJSONError writes a JSON error response.
func (s *Service) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
