// ABOUTME: Top-level agent service: wires config, registry, manager, plant client, and debug server.
// ABOUTME: Run starts everything, watches for fatal errors, and shuts down in order.

package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ovsnet/l2gw-agent/internal/auth"
	"github.com/ovsnet/l2gw-agent/internal/config"
	"github.com/ovsnet/l2gw-agent/internal/events"
	"github.com/ovsnet/l2gw-agent/internal/gateway"
	"github.com/ovsnet/l2gw-agent/internal/metrics"
	"github.com/ovsnet/l2gw-agent/internal/ovsdb"
	"github.com/ovsnet/l2gw-agent/internal/plant"
)

// shutdownTimeout bounds the debug server's graceful shutdown.
const shutdownTimeout = 5 * time.Second

// Service is the assembled agent: gateway registry, mode manager, control
// plane client, and the local debug server. One Service runs per process.
type Service struct {
	cfg     *config.Config
	version string
	logger  *slog.Logger

	metrics  *metrics.Metrics
	promReg  *prometheus.Registry
	registry *gateway.Registry
	bus      *events.Bus
	manager  *Manager
	plant    *plant.Client
	httpSrv  *http.Server

	fatalCh   chan error
	startedAt time.Time
}

// NewService wires up a Service from loaded configuration. The config must
// already be validated.
func NewService(cfg *config.Config, version string, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Service{
		cfg:       cfg,
		version:   version,
		logger:    logger.With("component", "agent-service"),
		fatalCh:   make(chan error, 1),
		startedAt: time.Now(),
	}

	// The service owns its own metrics registry so the debug endpoint only
	// exposes agent series.
	s.promReg = prometheus.NewRegistry()
	s.metrics = metrics.NewMetricsWith(s.promReg)

	s.registry = gateway.NewRegistry(logger)
	tlsBases := gateway.TLSBasePaths{
		PrivateKeyBase:  cfg.OVSDB.PrivateKeyBase,
		CertificateBase: cfg.OVSDB.CertificateBase,
		CACertBase:      cfg.OVSDB.CACertBase,
	}
	for _, gw := range gateway.ParseHosts(cfg.OVSDB.Hosts, tlsBases, logger) {
		s.registry.Register(gw)
	}

	s.bus = events.NewBus(logger)

	dialOpts := ovsdb.Options{
		MaxRetries:      cfg.OVSDB.MaxConnectionRetries,
		RetryDelay:      cfg.OVSDB.RetryDelay,
		DialTimeout:     cfg.OVSDB.DialTimeout,
		ResponseTimeout: cfg.OVSDB.ResponseTimeout,
		Logger:          logger,
	}

	manager, err := NewManager(ManagerOptions{
		Registry:       s.registry,
		Relay:          s,
		DialMonitor:    monitorDialer(dialOpts, s.bus),
		DialWriter:     writerDialer(dialOpts),
		Interval:       cfg.OVSDB.PeriodicInterval,
		MaxDialRetries: cfg.OVSDB.MaxConnectionRetries,
		OnFatal:        s.fatal,
		Metrics:        s.metrics,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}
	s.manager = manager

	tokens, err := auth.NewTokenManager([]byte(cfg.Plant.TokenSecret))
	if err != nil {
		return nil, fmt.Errorf("plant token secret: %w", err)
	}
	signer, err := auth.LoadSigner(cfg.Plant.SSHKeyPath)
	if err != nil {
		return nil, err
	}

	client, err := plant.New(plant.Options{
		URL:                 cfg.Plant.URL,
		AgentID:             cfg.Agent.ID,
		Version:             version,
		Tokens:              tokens,
		Signer:              signer,
		Handler:             manager,
		Status:              s.reportStatus,
		ReportInterval:      cfg.Plant.ReportInterval,
		ReportTimeout:       cfg.Plant.ReportTimeout,
		MaxReportFailures:   cfg.Plant.ReportFailureThreshold,
		ReconnectBackoffMax: cfg.Plant.ReconnectBackoffMax,
		Metrics:             s.metrics,
		Logger:              logger,
	})
	if err != nil {
		return nil, fmt.Errorf("building plant client: %w", err)
	}
	s.plant = client

	if cfg.Debug.Enabled {
		s.httpSrv = &http.Server{
			Addr:              cfg.Debug.HTTPAddr,
			Handler:           s.debugMux(),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	return s, nil
}

// monitorDialer adapts ovsdb.DialMonitor to the supervisor's dial hook.
// Every translated event lands on the bus.
func monitorDialer(opts ovsdb.Options, bus *events.Bus) DialMonitorFunc {
	return func(ctx context.Context, cfg gateway.Config) (MonitorConn, error) {
		m, err := ovsdb.DialMonitor(ctx, cfg, opts, bus.Publish)
		if err != nil {
			return nil, err
		}
		return m, nil
	}
}

// writerDialer adapts ovsdb.DialWriter to the manager's transactor hook.
func writerDialer(opts ovsdb.Options) DialWriterFunc {
	return func(ctx context.Context, cfg gateway.Config) (Transactor, error) {
		w, err := ovsdb.DialWriter(ctx, cfg, opts)
		if err != nil {
			return nil, err
		}
		return w, nil
	}
}

// Manager exposes the mode manager, mainly for tests and the fake controller.
func (s *Service) Manager() *Manager {
	return s.manager
}

// Run starts the agent and blocks until the context is canceled, a component
// fails, or a fatal error is reported. Returns nil on graceful shutdown.
func (s *Service) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.logger.Info("=== L2 GATEWAY AGENT STARTING ===",
		"agent_id", s.cfg.Agent.ID,
		"version", s.version,
		"gateways", s.registry.Len(),
		"plant_url", s.cfg.Plant.URL,
	)

	eventCh, _ := s.bus.SubscribeAll(ctx)
	go s.relayEvents(eventCh)

	errCh := make(chan error, 2)

	if s.httpSrv != nil {
		ln, err := net.Listen("tcp", s.httpSrv.Addr)
		if err != nil {
			return fmt.Errorf("listening on debug address: %w", err)
		}
		go func() {
			s.logger.Info("debug server listening", "addr", ln.Addr().String())
			if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("debug server: %w", err)
			}
		}()
	}

	go func() {
		if err := s.plant.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("plant client: %w", err)
		}
	}()

	err := s.waitForShutdown(ctx, errCh)
	cancel()
	s.shutdown()
	return err
}

// waitForShutdown blocks until cancellation, a component error, or a fatal
// agent error.
func (s *Service) waitForShutdown(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
		return nil
	case err := <-errCh:
		s.logger.Error("component failed", "error", err)
		return err
	case err := <-s.fatalCh:
		s.logger.Error("fatal agent error", "error", err)
		return err
	}
}

// shutdown tears components down in dependency order: stop driving gateways,
// then close the inward-facing surfaces.
func (s *Service) shutdown() {
	s.manager.Shutdown()

	if s.httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("debug server shutdown", "error", err)
		}
		cancel()
	}

	s.plant.Close()
	s.bus.Close()
	s.logger.Info("=== L2 GATEWAY AGENT STOPPED ===")
}

// fatal records the first fatal error; later ones are dropped.
func (s *Service) fatal(err error) {
	select {
	case s.fatalCh <- err:
	default:
	}
}

// relayEvents forwards bus events to the control plane until the
// subscription closes.
func (s *Service) relayEvents(ch <-chan ovsdb.Event) {
	for ev := range ch {
		s.PushGatewayEvent(ev)
	}
}

// PushGatewayStates implements PlantRelay.
func (s *Service) PushGatewayStates(states gateway.AggregateState) {
	s.plant.PushGatewayStates(states)
}

// PushGatewayEvent implements PlantRelay.
func (s *Service) PushGatewayEvent(ev ovsdb.Event) {
	s.plant.PushGatewayEvent(ev)
}

// reportStatus samples the state carried by every report_state request.
func (s *Service) reportStatus() plant.ReportStatus {
	return plant.ReportStatus{
		Mode:       s.manager.Mode().String(),
		Monitoring: s.manager.Monitoring(),
		Gateways:   s.registry.Len(),
	}
}
