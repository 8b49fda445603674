// ABOUTME: Prometheus instrumentation for the supervisor loop, OVSDB writes, and the plant link.
// ABOUTME: Every collector carries the l2gw_ prefix; NewMetrics registers against the default registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the agent.
type Metrics struct {
	// SupervisorTicks counts completed periodic supervisor passes.
	SupervisorTicks prometheus.Counter

	// AgentMode reports the current agent mode as a number
	// (0 unset, 1 monitor, 2 transact).
	AgentMode prometheus.Gauge

	// GatewayConnected reports per-gateway OVSDB connectivity
	// (1 connected, 0 disconnected).
	//
	// Labels:
	//   - gateway_id: logical gateway identifier from the host list
	GatewayConnected *prometheus.GaugeVec

	// DialAttempts counts OVSDB connection attempts.
	//
	// Labels:
	//   - gateway_id: logical gateway identifier
	//   - status: success or error
	DialAttempts *prometheus.CounterVec

	// WriteOps counts OVSDB transact operations issued by the agent.
	//
	// Labels:
	//   - operation: delete_logical_switch, add_remote_mac, update_remote_mac,
	//     delete_remote_mac or update_connection
	//   - status: success or error
	WriteOps *prometheus.CounterVec

	// WriteOpDuration tracks the latency of OVSDB transact operations.
	//
	// Labels:
	//   - operation: same set as WriteOps
	//
	// Buckets: 1ms to 5s
	WriteOpDuration *prometheus.HistogramVec

	// EventsRelayed counts monitor events forwarded to the plant.
	//
	// Labels:
	//   - gateway_id: logical gateway identifier
	//   - event_type: initial or update
	EventsRelayed *prometheus.CounterVec

	// PlantConnected reports whether the control-plane WebSocket is up
	// (1 connected, 0 disconnected).
	PlantConnected prometheus.Gauge

	// StateReports counts periodic state reports pushed to the plant.
	//
	// Labels:
	//   - status: success or error
	StateReports *prometheus.CounterVec

	// Casts counts control-plane casts dispatched by the agent.
	//
	// Labels:
	//   - method: cast method name
	//   - status: success, error or dropped
	Casts *prometheus.CounterVec
}

// NewMetrics creates and registers all collectors with the default registry.
// Call it once at startup; a second call panics on duplicate registration.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers all collectors with the given registerer. Tests
// pass a private registry so parallel packages never collide.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		SupervisorTicks: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "l2gw_supervisor_ticks_total",
				Help: "Total number of completed periodic supervisor passes",
			},
		),

		AgentMode: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "l2gw_agent_mode",
				Help: "Current agent mode (0 unset, 1 monitor, 2 transact)",
			},
		),

		GatewayConnected: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "l2gw_gateway_connected",
				Help: "Per-gateway OVSDB connectivity (1 connected, 0 disconnected)",
			},
			[]string{"gateway_id"},
		),

		DialAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "l2gw_ovsdb_dial_attempts_total",
				Help: "Total number of OVSDB connection attempts",
			},
			[]string{"gateway_id", "status"},
		),

		WriteOps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "l2gw_ovsdb_write_operations_total",
				Help: "Total number of OVSDB transact operations issued",
			},
			[]string{"operation", "status"},
		),

		WriteOpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "l2gw_ovsdb_write_duration_seconds",
				Help:    "Duration of OVSDB transact operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"operation"},
		),

		EventsRelayed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "l2gw_gateway_events_total",
				Help: "Total number of monitor events forwarded to the plant",
			},
			[]string{"gateway_id", "event_type"},
		),

		PlantConnected: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "l2gw_plant_connected",
				Help: "Control-plane WebSocket connectivity (1 connected, 0 disconnected)",
			},
		),

		StateReports: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "l2gw_state_reports_total",
				Help: "Total number of periodic state reports pushed to the plant",
			},
			[]string{"status"},
		),

		Casts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "l2gw_casts_total",
				Help: "Total number of control-plane casts dispatched",
			},
			[]string{"method", "status"},
		),
	}
}

// ObserveTick increments the supervisor tick counter.
func (m *Metrics) ObserveTick() {
	m.SupervisorTicks.Inc()
}

// SetAgentMode records the current agent mode value.
func (m *Metrics) SetAgentMode(mode float64) {
	m.AgentMode.Set(mode)
}

// SetGatewayConnected records OVSDB connectivity for a gateway.
func (m *Metrics) SetGatewayConnected(gatewayID string, connected bool) {
	v := 0.0
	if connected {
		v = 1.0
	}
	m.GatewayConnected.WithLabelValues(gatewayID).Set(v)
}

// ForgetGateway drops the connectivity series for a gateway that left the
// host list, so stale gauges do not linger in scrapes.
func (m *Metrics) ForgetGateway(gatewayID string) {
	m.GatewayConnected.DeleteLabelValues(gatewayID)
}

// RecordDial increments the dial attempt counter for a gateway.
func (m *Metrics) RecordDial(gatewayID, status string) {
	m.DialAttempts.WithLabelValues(gatewayID, status).Inc()
}

// RecordWrite records one OVSDB transact operation.
//
// Example:
//
//	start := time.Now()
//	// ... issue the transact ...
//	metrics.RecordWrite("add_remote_mac", "success", time.Since(start).Seconds())
func (m *Metrics) RecordWrite(operation, status string, durationSeconds float64) {
	m.WriteOps.WithLabelValues(operation, status).Inc()
	m.WriteOpDuration.WithLabelValues(operation).Observe(durationSeconds)
}

// RecordEvent increments the relayed-event counter for a gateway.
func (m *Metrics) RecordEvent(gatewayID, eventType string) {
	m.EventsRelayed.WithLabelValues(gatewayID, eventType).Inc()
}

// SetPlantConnected records control-plane link state.
func (m *Metrics) SetPlantConnected(connected bool) {
	v := 0.0
	if connected {
		v = 1.0
	}
	m.PlantConnected.Set(v)
}

// RecordStateReport increments the state report counter.
func (m *Metrics) RecordStateReport(status string) {
	m.StateReports.WithLabelValues(status).Inc()
}

// RecordCast increments the cast counter for a control-plane method.
func (m *Metrics) RecordCast(method, status string) {
	m.Casts.WithLabelValues(method, status).Inc()
}
