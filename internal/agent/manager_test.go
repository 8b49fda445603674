// ABOUTME: Tests for the mode state machine and the scoped write path.
// ABOUTME: Uses stub transactors to verify every write releases its connection.

package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ovsnet/l2gw-agent/internal/gateway"
	"github.com/ovsnet/l2gw-agent/internal/ovsdb"
)

// stubTransactor records write calls and whether it was released.
type stubTransactor struct {
	mu     sync.Mutex
	err    error
	calls  []string
	closed bool

	gotSwitchUUID string
	gotMac        string
	gotLS         ovsdb.LogicalSwitch
	gotLocator    ovsdb.PhysicalLocator
	gotRemoteMac  ovsdb.RemoteMac
	gotConnection ovsdb.NetworkConnection
}

func (s *stubTransactor) DeleteLogicalSwitch(_ context.Context, switchUUID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "delete_logical_switch")
	s.gotSwitchUUID = switchUUID
	return s.err
}

func (s *stubTransactor) AddRemoteMac(_ context.Context, ls ovsdb.LogicalSwitch, loc ovsdb.PhysicalLocator, mac ovsdb.RemoteMac) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "add_remote_mac")
	s.gotLS = ls
	s.gotLocator = loc
	s.gotRemoteMac = mac
	return s.err
}

func (s *stubTransactor) UpdateRemoteMac(_ context.Context, loc ovsdb.PhysicalLocator, mac ovsdb.RemoteMac) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "update_remote_mac")
	s.gotLocator = loc
	s.gotRemoteMac = mac
	return s.err
}

func (s *stubTransactor) DeleteRemoteMac(_ context.Context, switchUUID, mac string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "delete_remote_mac")
	s.gotSwitchUUID = switchUUID
	s.gotMac = mac
	return s.err
}

func (s *stubTransactor) UpdateConnectionToGateway(_ context.Context, nc ovsdb.NetworkConnection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "update_connection")
	s.gotConnection = nc
	return s.err
}

func (s *stubTransactor) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *stubTransactor) callNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *stubTransactor) wasClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type managerFixture struct {
	mgr      *Manager
	registry *gateway.Registry
	entry    *gateway.Entry
	relay    *stubRelay
	monitors *monitorFactory
	dials    int
	dialsMu  sync.Mutex
}

func (f *managerFixture) writerDials() int {
	f.dialsMu.Lock()
	defer f.dialsMu.Unlock()
	return f.dials
}

func newTestManager(t *testing.T, tx *stubTransactor, dialErr error) *managerFixture {
	t.Helper()

	f := &managerFixture{
		registry: gateway.NewRegistry(discardLogger()),
		relay:    &stubRelay{},
		monitors: &monitorFactory{},
	}
	f.entry = f.registry.Register(gateway.Config{Identifier: "gw1", Host: "192.0.2.10", Port: 6632})

	dialWriter := func(context.Context, gateway.Config) (Transactor, error) {
		f.dialsMu.Lock()
		f.dials++
		f.dialsMu.Unlock()
		if dialErr != nil {
			return nil, dialErr
		}
		return tx, nil
	}

	mgr, err := NewManager(ManagerOptions{
		Registry:       f.registry,
		Relay:          f.relay,
		DialMonitor:    f.monitors.dial,
		DialWriter:     dialWriter,
		Interval:       time.Second,
		MaxDialRetries: 0,
		OnFatal:        func(err error) { t.Errorf("unexpected fatal: %v", err) },
		Metrics:        testMetrics(),
		Logger:         discardLogger(),
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(mgr.Shutdown)
	f.mgr = mgr
	return f
}

func TestNewManagerRejectsBadRetryBudget(t *testing.T) {
	_, err := NewManager(ManagerOptions{
		Registry:       gateway.NewRegistry(discardLogger()),
		Relay:          &stubRelay{},
		DialMonitor:    (&monitorFactory{}).dial,
		DialWriter:     func(context.Context, gateway.Config) (Transactor, error) { return nil, nil },
		Interval:       20 * time.Second,
		MaxDialRetries: 30,
		OnFatal:        func(error) {},
		Metrics:        testMetrics(),
		Logger:         discardLogger(),
	})
	if err == nil {
		t.Fatal("expected error for retry budget above interval")
	}
	if !strings.Contains(err.Error(), "retry budget") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestManagerModeTransitions(t *testing.T) {
	ctx := context.Background()

	t.Run("monitor starts the supervisor", func(t *testing.T) {
		f := newTestManager(t, &stubTransactor{}, nil)

		f.mgr.SetMode(ctx, ModeMonitor)
		if f.mgr.Mode() != ModeMonitor {
			t.Errorf("Mode() = %v, want monitor", f.mgr.Mode())
		}
		if !f.mgr.Monitoring() {
			t.Error("supervisor not running in monitor mode")
		}
		waitFor(t, func() bool { return f.entry.Handle() != nil }, "no monitoring handle established")
	})

	t.Run("transact stops the supervisor and disconnects", func(t *testing.T) {
		f := newTestManager(t, &stubTransactor{}, nil)

		f.mgr.SetMode(ctx, ModeMonitor)
		waitFor(t, func() bool { return f.entry.Handle() != nil }, "no monitoring handle established")

		f.mgr.SetMode(ctx, ModeTransact)
		if f.mgr.Mode() != ModeTransact {
			t.Errorf("Mode() = %v, want transact", f.mgr.Mode())
		}
		if f.mgr.Monitoring() {
			t.Error("supervisor still running in transact mode")
		}
		if f.entry.Handle() != nil {
			t.Error("handle not cleared on leaving monitor mode")
		}
		if mon := f.monitors.lastCreated(); mon == nil || mon.disconnectCount() == 0 {
			t.Error("monitoring connection not disconnected")
		}
	})

	t.Run("unset stops the supervisor and disconnects", func(t *testing.T) {
		f := newTestManager(t, &stubTransactor{}, nil)

		f.mgr.SetMode(ctx, ModeMonitor)
		waitFor(t, func() bool { return f.entry.Handle() != nil }, "no monitoring handle established")

		f.mgr.SetMode(ctx, ModeUnset)
		if f.mgr.Monitoring() {
			t.Error("supervisor still running in unset mode")
		}
		if f.entry.Handle() != nil {
			t.Error("handle not cleared on leaving monitor mode")
		}
	})

	t.Run("reapplying monitor keeps the supervisor running", func(t *testing.T) {
		f := newTestManager(t, &stubTransactor{}, nil)

		f.mgr.SetMode(ctx, ModeMonitor)
		f.mgr.SetMode(ctx, ModeMonitor)
		if !f.mgr.Monitoring() {
			t.Error("supervisor stopped by a repeated monitor cast")
		}
	})
}

func TestManagerHeartbeatFailure(t *testing.T) {
	ctx := context.Background()

	t.Run("relinquishes the monitor role", func(t *testing.T) {
		f := newTestManager(t, &stubTransactor{}, nil)

		f.mgr.SetMode(ctx, ModeMonitor)
		waitFor(t, func() bool { return f.entry.Handle() != nil }, "no monitoring handle established")

		f.mgr.HeartbeatFailure()
		if f.mgr.Mode() != ModeUnset {
			t.Errorf("Mode() = %v, want unset after heartbeat failure", f.mgr.Mode())
		}
		if f.mgr.Monitoring() {
			t.Error("supervisor still running after heartbeat failure")
		}
		if f.entry.Handle() != nil {
			t.Error("handle not cleared after heartbeat failure")
		}
	})

	t.Run("ignored outside monitor mode", func(t *testing.T) {
		f := newTestManager(t, &stubTransactor{}, nil)

		f.mgr.SetMode(ctx, ModeTransact)
		f.mgr.HeartbeatFailure()
		if f.mgr.Mode() != ModeTransact {
			t.Errorf("Mode() = %v, want transact to survive heartbeat failure", f.mgr.Mode())
		}
	})

	t.Run("only a fresh mode cast restores monitoring", func(t *testing.T) {
		f := newTestManager(t, &stubTransactor{}, nil)

		f.mgr.SetMode(ctx, ModeMonitor)
		f.mgr.HeartbeatFailure()
		if f.mgr.Monitoring() {
			t.Fatal("supervisor still running after heartbeat failure")
		}

		f.mgr.SetMode(ctx, ModeMonitor)
		if !f.mgr.Monitoring() {
			t.Error("supervisor not restarted by a fresh monitor cast")
		}
	})
}

func TestManagerSetAgentMode(t *testing.T) {
	ctx := context.Background()

	t.Run("monitor", func(t *testing.T) {
		f := newTestManager(t, &stubTransactor{}, nil)
		if err := f.mgr.SetAgentMode(ctx, "monitor"); err != nil {
			t.Fatalf("SetAgentMode: %v", err)
		}
		if f.mgr.Mode() != ModeMonitor {
			t.Errorf("Mode() = %v, want monitor", f.mgr.Mode())
		}
	})

	t.Run("transact", func(t *testing.T) {
		f := newTestManager(t, &stubTransactor{}, nil)
		if err := f.mgr.SetAgentMode(ctx, "transact"); err != nil {
			t.Fatalf("SetAgentMode: %v", err)
		}
		if f.mgr.Mode() != ModeTransact {
			t.Errorf("Mode() = %v, want transact", f.mgr.Mode())
		}
	})

	t.Run("none", func(t *testing.T) {
		f := newTestManager(t, &stubTransactor{}, nil)
		f.mgr.SetMode(ctx, ModeTransact)
		if err := f.mgr.SetAgentMode(ctx, "none"); err != nil {
			t.Fatalf("SetAgentMode: %v", err)
		}
		if f.mgr.Mode() != ModeUnset {
			t.Errorf("Mode() = %v, want unset", f.mgr.Mode())
		}
	})

	t.Run("unknown mode rejected", func(t *testing.T) {
		f := newTestManager(t, &stubTransactor{}, nil)
		err := f.mgr.SetAgentMode(ctx, "observer")
		if err == nil {
			t.Fatal("expected error for unknown mode")
		}
		if !strings.Contains(err.Error(), "unknown agent mode") {
			t.Errorf("unexpected error: %v", err)
		}
		if f.mgr.Mode() != ModeUnset {
			t.Errorf("Mode() = %v, want unset after rejected cast", f.mgr.Mode())
		}
	})
}

func TestManagerWriteOperations(t *testing.T) {
	ctx := context.Background()

	t.Run("delete_logical_switch", func(t *testing.T) {
		tx := &stubTransactor{}
		f := newTestManager(t, tx, nil)

		if err := f.mgr.DeleteLogicalSwitch(ctx, "gw1", "0e6c-40"); err != nil {
			t.Fatalf("DeleteLogicalSwitch: %v", err)
		}
		if calls := tx.callNames(); len(calls) != 1 || calls[0] != "delete_logical_switch" {
			t.Errorf("calls = %v", calls)
		}
		if tx.gotSwitchUUID != "0e6c-40" {
			t.Errorf("switch uuid = %q", tx.gotSwitchUUID)
		}
		if !tx.wasClosed() {
			t.Error("transactor not released")
		}
	})

	t.Run("add_remote_mac", func(t *testing.T) {
		tx := &stubTransactor{}
		f := newTestManager(t, tx, nil)

		ls := ovsdb.LogicalSwitch{Name: "net-blue", TunnelKey: 5001}
		loc := ovsdb.PhysicalLocator{DstIP: "203.0.113.5"}
		mac := ovsdb.RemoteMac{MAC: "aa:bb:cc:dd:ee:01", IPAddr: "10.0.0.5"}

		if err := f.mgr.AddRemoteMac(ctx, "gw1", ls, loc, mac); err != nil {
			t.Fatalf("AddRemoteMac: %v", err)
		}
		if tx.gotLS.Name != "net-blue" || tx.gotLocator.DstIP != "203.0.113.5" || tx.gotRemoteMac.MAC != "aa:bb:cc:dd:ee:01" {
			t.Errorf("arguments not passed through: %+v %+v %+v", tx.gotLS, tx.gotLocator, tx.gotRemoteMac)
		}
		if !tx.wasClosed() {
			t.Error("transactor not released")
		}
	})

	t.Run("update_remote_mac", func(t *testing.T) {
		tx := &stubTransactor{}
		f := newTestManager(t, tx, nil)

		loc := ovsdb.PhysicalLocator{DstIP: "203.0.113.6"}
		mac := ovsdb.RemoteMac{MAC: "aa:bb:cc:dd:ee:02"}

		if err := f.mgr.UpdateRemoteMac(ctx, "gw1", loc, mac); err != nil {
			t.Fatalf("UpdateRemoteMac: %v", err)
		}
		if calls := tx.callNames(); len(calls) != 1 || calls[0] != "update_remote_mac" {
			t.Errorf("calls = %v", calls)
		}
		if !tx.wasClosed() {
			t.Error("transactor not released")
		}
	})

	t.Run("delete_remote_mac", func(t *testing.T) {
		tx := &stubTransactor{}
		f := newTestManager(t, tx, nil)

		if err := f.mgr.DeleteRemoteMac(ctx, "gw1", "0e6c-40", "aa:bb:cc:dd:ee:03"); err != nil {
			t.Fatalf("DeleteRemoteMac: %v", err)
		}
		if tx.gotSwitchUUID != "0e6c-40" || tx.gotMac != "aa:bb:cc:dd:ee:03" {
			t.Errorf("arguments not passed through: %q %q", tx.gotSwitchUUID, tx.gotMac)
		}
		if !tx.wasClosed() {
			t.Error("transactor not released")
		}
	})

	t.Run("update_connection", func(t *testing.T) {
		tx := &stubTransactor{}
		f := newTestManager(t, tx, nil)

		nc := ovsdb.NetworkConnection{
			Switch:   ovsdb.LogicalSwitch{Name: "net-blue", TunnelKey: 5001},
			Locators: []ovsdb.PhysicalLocator{{DstIP: "203.0.113.5"}},
			Macs:     []ovsdb.RemoteMac{{MAC: "aa:bb:cc:dd:ee:01", LocatorIP: "203.0.113.5"}},
			Bindings: []ovsdb.PortBinding{{PortName: "eth3", VlanID: 100}},
		}

		if err := f.mgr.UpdateConnectionToGateway(ctx, "gw1", nc); err != nil {
			t.Fatalf("UpdateConnectionToGateway: %v", err)
		}
		if tx.gotConnection.Switch.Name != "net-blue" || len(tx.gotConnection.Bindings) != 1 {
			t.Errorf("connection not passed through: %+v", tx.gotConnection)
		}
		if !tx.wasClosed() {
			t.Error("transactor not released")
		}
	})
}

func TestManagerWriteUnknownGatewayDropped(t *testing.T) {
	tx := &stubTransactor{}
	f := newTestManager(t, tx, nil)

	if err := f.mgr.DeleteLogicalSwitch(context.Background(), "ghost", "0e6c-40"); err != nil {
		t.Fatalf("expected nil for unknown gateway, got %v", err)
	}
	if f.writerDials() != 0 {
		t.Errorf("expected no dial for unknown gateway, got %d", f.writerDials())
	}
	if len(tx.callNames()) != 0 {
		t.Errorf("expected no write calls, got %v", tx.callNames())
	}
}

func TestManagerWriteDialFailure(t *testing.T) {
	f := newTestManager(t, nil, errors.New("connection refused"))

	err := f.mgr.DeleteLogicalSwitch(context.Background(), "gw1", "0e6c-40")
	if err == nil {
		t.Fatal("expected error when the transactor cannot be opened")
	}
	if !strings.Contains(err.Error(), "opening transactor") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestManagerWriteErrorStillReleases(t *testing.T) {
	tx := &stubTransactor{err: errors.New("constraint violation")}
	f := newTestManager(t, tx, nil)

	err := f.mgr.AddRemoteMac(context.Background(), "gw1",
		ovsdb.LogicalSwitch{Name: "net-blue"},
		ovsdb.PhysicalLocator{DstIP: "203.0.113.5"},
		ovsdb.RemoteMac{MAC: "aa:bb:cc:dd:ee:01"},
	)
	if err == nil {
		t.Fatal("expected the write error to surface")
	}
	if !tx.wasClosed() {
		t.Error("transactor not released on write failure")
	}
}

func TestManagerWithTransactorUnknownGateway(t *testing.T) {
	f := newTestManager(t, &stubTransactor{}, nil)

	err := f.mgr.withTransactor(context.Background(), "ghost", func(Transactor) error { return nil })
	if !errors.Is(err, gateway.ErrGatewayNotFound) {
		t.Errorf("expected ErrGatewayNotFound, got %v", err)
	}
}
