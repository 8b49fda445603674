// Package metrics exposes Prometheus instrumentation for the agent.
//
// # Collectors
//
// All collectors live on a single Metrics struct and share the l2gw_ name
// prefix. They cover three areas: the periodic supervisor (tick counter,
// per-gateway connectivity gauge, dial attempts), OVSDB writes (operation
// counter plus latency histogram), and the control-plane link (connected
// gauge, state report and cast counters).
//
// # Registration
//
// NewMetrics registers everything with the default Prometheus registry and
// must be called exactly once, at daemon startup. The collectors are served
// by the debug HTTP listener's /metrics endpoint.
package metrics
