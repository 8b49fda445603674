// Package plant implements the agent's side of the control-plane protocol.
//
// # Session
//
// A Client owns one websocket session at a time. Run dials the controller,
// performs the connect handshake with freshly minted credentials, and then
// services the session until it drops; reconnects use capped exponential
// backoff. Nothing about a reconnect restores the monitor role: the
// controller decides modes, the agent only reports.
//
// # Frames
//
// All traffic is JSON text frames. Requests carry an ID and expect exactly
// one response with the same ID; events are one-way in both directions.
// Controller-to-agent events are "casts": fire-and-forget commands that are
// deduplicated by cast ID, executed, and never answered.
//
// # Heartbeat
//
// A report loop sends report_state on a fixed interval for the lifetime of
// Run, whether or not a session is up. A run of consecutive failures trips
// HeartbeatFailure on the handler, which relinquishes the monitor role.
package plant
