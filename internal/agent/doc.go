// Package agent implements the agent core: the mode state machine, the
// gateway connection supervisor, scoped write transactions, and the
// assembled service.
//
// # Modes
//
// The agent is always in exactly one of three modes. Unset is the neutral
// startup state: nothing is supervised and no monitor connections exist.
// Monitor means this agent owns watch duty for its gateways; the supervisor
// runs and keeps monitoring connections alive. Transact means another agent
// holds watch duty and this one only performs writes on request. Modes are
// assigned by the control plane; the agent never promotes itself, and a
// heartbeat failure demotes it back to Unset.
//
// # Supervision
//
// The supervisor ticks on a fixed interval. Each tick inspects every
// registered gateway, redials the disconnected ones, and pushes one
// aggregate state snapshot to the control plane. The snapshot is pushed on
// every tick, connected gateways or not, because the controller treats the
// arrival of snapshots as proof the agent is alive on watch duty. Dial
// failures are per-gateway and isolated; a monitor loop that fails to start
// after a successful dial is fatal to the whole agent.
//
// # Writes
//
// Write operations never reuse the monitoring connection. Each write dials a
// fresh transactor, runs one operation, and releases the connection on every
// exit path. Writes addressed to unknown gateways are logged and dropped
// without error; the control plane fires them without awaiting results.
//
// # Service
//
// Service assembles the full agent from loaded configuration: registry,
// event bus, manager, control-plane client, and the local debug HTTP
// server. Run starts everything and shuts down in dependency order.
package agent
