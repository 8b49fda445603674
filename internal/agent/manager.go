// ABOUTME: Owns the agent mode state machine and the scoped write path to gateways.
// ABOUTME: Mode transitions start or stop the supervisor; write casts ride short-lived transactors.

package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ovsnet/l2gw-agent/internal/gateway"
	"github.com/ovsnet/l2gw-agent/internal/metrics"
	"github.com/ovsnet/l2gw-agent/internal/ovsdb"
)

// ManagerOptions configures a Manager and its embedded supervisor.
type ManagerOptions struct {
	Registry    *gateway.Registry
	Relay       PlantRelay
	DialMonitor DialMonitorFunc
	DialWriter  DialWriterFunc

	// Interval and MaxDialRetries parameterize the supervisor; see
	// SupervisorOptions for the tick/retry constraint.
	Interval       time.Duration
	MaxDialRetries int

	OnFatal func(error)
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Manager coordinates the agent's mode and every interaction with gateways.
// Mode transitions are serialized by an internal mutex so no two transitions
// interleave their start/stop side effects.
type Manager struct {
	registry   *gateway.Registry
	supervisor *Supervisor
	dialWriter DialWriterFunc
	metrics    *metrics.Metrics
	logger     *slog.Logger

	mu   sync.Mutex
	mode atomic.Int32
}

// NewManager builds a Manager in ModeUnset. It fails when the supervisor's
// retry budget does not fit inside its interval.
func NewManager(opts ManagerOptions) (*Manager, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		registry:   opts.Registry,
		dialWriter: opts.DialWriter,
		metrics:    opts.Metrics,
		logger:     logger.With("component", "agent-manager"),
	}

	supervisor, err := NewSupervisor(SupervisorOptions{
		Registry:       opts.Registry,
		Relay:          opts.Relay,
		Dial:           opts.DialMonitor,
		Mode:           m.Mode,
		Interval:       opts.Interval,
		MaxDialRetries: opts.MaxDialRetries,
		OnFatal:        opts.OnFatal,
		Metrics:        opts.Metrics,
		Logger:         opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	m.supervisor = supervisor

	return m, nil
}

// Mode returns the current agent mode. Safe to call from any goroutine,
// including the supervisor's tick.
func (m *Manager) Mode() Mode {
	return Mode(m.mode.Load())
}

// Monitoring reports whether the supervisor loop is active.
func (m *Manager) Monitoring() bool {
	return m.supervisor.IsRunning()
}

// SetMode applies a controller-assigned mode. Entering ModeMonitor starts
// the supervisor; every other mode stops it and disconnects all gateways.
// Reapplying the current mode is harmless.
func (m *Manager) SetMode(ctx context.Context, mode Mode) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := Mode(m.mode.Swap(int32(mode)))
	m.metrics.SetAgentMode(float64(mode))
	if prev != mode {
		m.logger.Info("=== AGENT MODE CHANGED ===", "from", prev.String(), "to", mode.String())
	}

	if mode == ModeMonitor {
		m.supervisor.Start(ctx)
		return
	}
	m.supervisor.Stop()
	m.disconnectAllLocked()
}

// SetAgentMode is the cast-facing form of SetMode, taking the wire string.
func (m *Manager) SetAgentMode(ctx context.Context, mode string) error {
	parsed, err := ParseMode(mode)
	if err != nil {
		return err
	}
	m.SetMode(ctx, parsed)
	return nil
}

// HeartbeatFailure relinquishes the monitor role after the control-plane
// report loop exhausted its failure budget. Another agent may already hold
// the role by the time connectivity resumes, so this agent goes neutral and
// stays there until the controller assigns a mode again. Outside the
// monitor role this is a no-op.
func (m *Manager) HeartbeatFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if Mode(m.mode.Load()) != ModeMonitor {
		return
	}

	m.logger.Warn("=== MONITOR ROLE RELINQUISHED ===", "reason", "control-plane heartbeat failures")
	m.mode.Store(int32(ModeUnset))
	m.metrics.SetAgentMode(float64(ModeUnset))
	m.supervisor.Stop()
	m.disconnectAllLocked()
}

// Shutdown stops the supervisor and disconnects every gateway. The mode is
// left as-is; the process is exiting.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.supervisor.Stop()
	m.disconnectAllLocked()
}

func (m *Manager) disconnectAllLocked() {
	for _, entry := range m.registry.All() {
		handle := entry.Handle()
		if handle == nil {
			continue
		}
		handle.Disconnect()
		entry.SetHandle(nil)
		m.metrics.SetGatewayConnected(entry.Config.Identifier, false)
		m.logger.Info("gateway disconnected", "gateway_id", entry.Config.Identifier)
	}
}

// DeleteLogicalSwitch removes a logical switch and its bindings from the
// gateway's OVSDB.
func (m *Manager) DeleteLogicalSwitch(ctx context.Context, gatewayID, switchUUID string) error {
	return m.write(ctx, "delete_logical_switch", gatewayID, func(tx Transactor) error {
		return tx.DeleteLogicalSwitch(ctx, switchUUID)
	})
}

// AddRemoteMac inserts a remote MAC entry, creating the logical switch and
// physical locator rows when the gateway does not have them yet.
func (m *Manager) AddRemoteMac(ctx context.Context, gatewayID string, ls ovsdb.LogicalSwitch, loc ovsdb.PhysicalLocator, mac ovsdb.RemoteMac) error {
	return m.write(ctx, "add_remote_mac", gatewayID, func(tx Transactor) error {
		return tx.AddRemoteMac(ctx, ls, loc, mac)
	})
}

// UpdateRemoteMac repoints an existing remote MAC entry at a locator.
func (m *Manager) UpdateRemoteMac(ctx context.Context, gatewayID string, loc ovsdb.PhysicalLocator, mac ovsdb.RemoteMac) error {
	return m.write(ctx, "update_remote_mac", gatewayID, func(tx Transactor) error {
		return tx.UpdateRemoteMac(ctx, loc, mac)
	})
}

// DeleteRemoteMac removes one remote MAC entry from a logical switch.
func (m *Manager) DeleteRemoteMac(ctx context.Context, gatewayID, switchUUID, mac string) error {
	return m.write(ctx, "delete_remote_mac", gatewayID, func(tx Transactor) error {
		return tx.DeleteRemoteMac(ctx, switchUUID, mac)
	})
}

// UpdateConnectionToGateway applies a batched logical-network connect or
// disconnect: switch, locators, remote MACs, and vlan bindings in one
// transaction.
func (m *Manager) UpdateConnectionToGateway(ctx context.Context, gatewayID string, nc ovsdb.NetworkConnection) error {
	return m.write(ctx, "update_connection", gatewayID, func(tx Transactor) error {
		return tx.UpdateConnectionToGateway(ctx, nc)
	})
}

// write runs one named write operation through a scoped transactor. An
// unknown gateway identifier is logged and dropped; casts are
// fire-and-forget, so nothing surfaces to the controller.
func (m *Manager) write(ctx context.Context, op, gatewayID string, fn func(Transactor) error) error {
	if !m.registry.IsValid(gatewayID) {
		m.logger.Warn("dropping gateway write, unknown gateway",
			"operation", op,
			"gateway_id", gatewayID,
		)
		return nil
	}

	start := time.Now()
	err := m.withTransactor(ctx, gatewayID, fn)
	status := "success"
	if err != nil {
		status = "error"
	}
	m.metrics.RecordWrite(op, status, time.Since(start).Seconds())
	return err
}

// withTransactor dials a fresh write connection for the gateway, runs fn,
// and releases the connection on every exit path. The monitoring handle is
// never borrowed for writes.
func (m *Manager) withTransactor(ctx context.Context, gatewayID string, fn func(Transactor) error) error {
	entry, ok := m.registry.Get(gatewayID)
	if !ok {
		return fmt.Errorf("%w: %s", gateway.ErrGatewayNotFound, gatewayID)
	}

	tx, err := m.dialWriter(ctx, entry.Config)
	if err != nil {
		return fmt.Errorf("opening transactor for gateway %s: %w", gatewayID, err)
	}
	defer tx.Close()

	return fn(tx)
}
