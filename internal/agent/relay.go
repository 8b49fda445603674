// ABOUTME: Interfaces between the agent core and the connections it drives.
// ABOUTME: The core never imports the plant or OVSDB dial paths directly; it goes through these.

package agent

import (
	"context"

	"github.com/ovsnet/l2gw-agent/internal/gateway"
	"github.com/ovsnet/l2gw-agent/internal/ovsdb"
)

// PlantRelay forwards supervisor output to the control plane. Both pushes
// are fire-and-forget: the core never blocks on acknowledgment and never
// retries transport failures.
type PlantRelay interface {
	PushGatewayStates(states gateway.AggregateState)
	PushGatewayEvent(ev ovsdb.Event)
}

// MonitorConn is a dialed monitoring connection whose event loop may not
// have started yet. *ovsdb.Monitor satisfies it.
type MonitorConn interface {
	gateway.ConnectionHandle
	Start(ctx context.Context) error
}

// DialMonitorFunc opens a monitoring connection to one gateway. A returned
// error means the gateway is unreachable this tick, not that the agent is
// broken.
type DialMonitorFunc func(ctx context.Context, cfg gateway.Config) (MonitorConn, error)

// Transactor is a short-lived write-capable gateway connection.
// *ovsdb.Writer satisfies it.
type Transactor interface {
	DeleteLogicalSwitch(ctx context.Context, switchUUID string) error
	AddRemoteMac(ctx context.Context, ls ovsdb.LogicalSwitch, loc ovsdb.PhysicalLocator, mac ovsdb.RemoteMac) error
	UpdateRemoteMac(ctx context.Context, loc ovsdb.PhysicalLocator, mac ovsdb.RemoteMac) error
	DeleteRemoteMac(ctx context.Context, switchUUID, mac string) error
	UpdateConnectionToGateway(ctx context.Context, nc ovsdb.NetworkConnection) error
	Close()
}

// DialWriterFunc opens a write-capable connection to one gateway. Every
// scoped transaction dials fresh; the monitoring handle is never reused
// for writes.
type DialWriterFunc func(ctx context.Context, cfg gateway.Config) (Transactor, error)
