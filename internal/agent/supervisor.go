// ABOUTME: Fixed-interval supervisor that keeps monitoring connections to every gateway alive.
// ABOUTME: Each tick redials dead gateways and pushes an aggregate state map to the plant.

package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ovsnet/l2gw-agent/internal/gateway"
	"github.com/ovsnet/l2gw-agent/internal/metrics"
)

// SupervisorOptions configures a Supervisor.
type SupervisorOptions struct {
	Registry *gateway.Registry
	Relay    PlantRelay
	Dial     DialMonitorFunc

	// Mode reports the current agent mode. The per-gateway loop only runs
	// while it returns ModeMonitor.
	Mode func() Mode

	// Interval between ticks.
	Interval time.Duration

	// MaxDialRetries is the per-dial retry budget. It must fit inside one
	// tick, so the constructor rejects budgets of Interval seconds or more.
	MaxDialRetries int

	// OnFatal is invoked when a monitoring loop fails to start. The process
	// is expected to exit; the supervisor stops its own loop either way.
	OnFatal func(error)

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Supervisor is the periodic task driving gateway connectivity. It runs only
// while the agent holds the monitor role.
type Supervisor struct {
	registry *gateway.Registry
	relay    PlantRelay
	dial     DialMonitorFunc
	mode     func() Mode
	onFatal  func(error)
	interval time.Duration
	metrics  *metrics.Metrics
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewSupervisor validates the tick/retry arithmetic and builds a stopped
// Supervisor.
func NewSupervisor(opts SupervisorOptions) (*Supervisor, error) {
	if opts.Interval <= 0 {
		return nil, fmt.Errorf("supervisor interval must be positive, got %s", opts.Interval)
	}
	if opts.MaxDialRetries >= int(opts.Interval.Seconds()) {
		return nil, fmt.Errorf("dial retry budget (%d) must be less than the periodic interval in seconds (%d)",
			opts.MaxDialRetries, int(opts.Interval.Seconds()))
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Supervisor{
		registry: opts.Registry,
		relay:    opts.Relay,
		dial:     opts.Dial,
		mode:     opts.Mode,
		onFatal:  opts.OnFatal,
		interval: opts.Interval,
		metrics:  opts.Metrics,
		logger:   logger.With("component", "supervisor"),
	}, nil
}

// Start launches the periodic loop. The first tick runs immediately.
// Starting a running supervisor is a no-op.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	s.logger.Info("=== CONNECTION SUPERVISOR STARTED ===",
		"interval", s.interval,
		"gateways", s.registry.Len(),
	)
	go s.run(ctx)
}

// Stop halts the loop and blocks until the loop goroutine has exited.
// Stopping a stopped supervisor is a no-op.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	doneCh := s.doneCh
	s.mu.Unlock()

	<-doneCh
}

// IsRunning reports whether the periodic loop is active.
func (s *Supervisor) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Supervisor) run(ctx context.Context) {
	defer func() {
		s.mu.Lock()
		s.running = false
		close(s.doneCh)
		s.mu.Unlock()
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	select {
	case <-ctx.Done():
		return
	case <-s.stopCh:
		return
	default:
		if !s.tick(ctx) {
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("=== CONNECTION SUPERVISOR STOPPED ===", "reason", "context cancelled")
			return
		case <-s.stopCh:
			s.logger.Info("=== CONNECTION SUPERVISOR STOPPED ===", "reason", "stopped")
			return
		case <-ticker.C:
			if !s.tick(ctx) {
				return
			}
		}
	}
}

// tick performs one supervision pass. It returns false only on a fatal
// error, after invoking the OnFatal hook.
func (s *Supervisor) tick(ctx context.Context) bool {
	states := gateway.AggregateState{}

	// The per-gateway loop is skipped outside the monitor role and when no
	// gateways are configured. The state push below still happens.
	if s.mode() == ModeMonitor && s.registry.Len() > 0 {
		for _, entry := range s.registry.All() {
			if !s.superviseGateway(ctx, entry, states) {
				return false
			}
		}
	}

	s.relay.PushGatewayStates(states)
	s.metrics.ObserveTick()
	return true
}

// superviseGateway reconciles one gateway's monitoring connection and
// records its state. Gateways are independent: a dial failure here never
// stops the tick, only a monitor loop that refuses to start does.
func (s *Supervisor) superviseGateway(ctx context.Context, entry *gateway.Entry, states gateway.AggregateState) bool {
	id := entry.Config.Identifier
	handle := entry.Handle()

	if handle == nil || !handle.Connected() {
		if handle != nil {
			s.logger.Debug("discarding dead gateway handle", "gateway_id", id)
			handle.Disconnect()
			entry.SetHandle(nil)
		}

		conn, err := s.dial(ctx, entry.Config)
		if err != nil {
			states[id] = gateway.StateDisconnected
			s.metrics.RecordDial(id, "error")
			s.metrics.SetGatewayConnected(id, false)
			s.logger.Error("gateway dial failed",
				"gateway_id", id,
				"endpoint", entry.Config.Endpoint(),
				"error", err,
			)
			return true
		}
		s.metrics.RecordDial(id, "success")
		entry.SetHandle(conn)

		if err := conn.Start(ctx); err != nil {
			s.logger.Error("monitor loop failed to start", "gateway_id", id, "error", err)
			s.onFatal(fmt.Errorf("starting monitor loop for gateway %s: %w", id, err))
			return false
		}
		handle = conn
	}

	connected := handle.Connected()
	if connected {
		states[id] = gateway.StateConnected
	}
	s.metrics.SetGatewayConnected(id, connected)
	return true
}
