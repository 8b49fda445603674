// Package ovsdb speaks the OVSDB management protocol (RFC 7047) to hardware
// VTEP gateways: JSON-RPC 1.0 over TCP or TLS against the hardware_vtep
// database.
//
// # Conn
//
// Conn owns the socket and the JSON-RPC plumbing:
//
//   - Dial(ctx, cfg, opts): connect with a fixed-interval retry budget
//   - call(ctx, method, params): request/response correlated by id
//   - inbound echo requests answered automatically (server keepalive)
//   - notifications routed to a registered handler
//
// A read failure tears the connection down: pending calls fail, Connected
// flips to false, and the supervisor redials on its next tick.
//
// # Monitor
//
// Monitor wraps a Conn for watch duty. Start issues the monitor request over
// the hardware_vtep tables and translates the initial snapshot plus every
// subsequent update notification into an Event delivered to the callback.
// Monitor satisfies the registry's ConnectionHandle: Disconnect is the one
// idempotent teardown path, safe mid-dial and mid-stream.
//
// # Writer
//
// Writer wraps a Conn for one-shot write transactions:
//
//   - DeleteLogicalSwitch
//   - AddRemoteMac / UpdateRemoteMac / DeleteRemoteMac
//   - UpdateConnectionToGateway (switch, locators, MACs and port VLAN
//     bindings in a single transact)
//
// Each method builds one "transact" call; any per-operation error member in
// the reply fails the whole call.
package ovsdb
