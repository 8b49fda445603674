// Package gateway holds the per-gateway connection configuration and the
// registry that owns monitoring connection handles.
//
// # Overview
//
// Each L2 gateway the agent manages is described by a Config: a unique
// identifier, an OVSDB endpoint (host and port), and an optional TLS bundle.
// Configs are parsed once at startup from the configured host list and never
// change while the process runs.
//
// # Registry
//
// The Registry maps gateway identifiers to entries:
//
//	reg := gateway.NewRegistry(logger)
//	for _, cfg := range gateway.ParseHosts(hosts, tlsPaths, logger) {
//	    reg.Register(cfg)
//	}
//
// Key operations:
//
//   - Register(cfg): insert or replace the entry for cfg.Identifier
//   - Get(id): look up an entry
//   - All(): snapshot of all entries, order-irrelevant
//   - IsValid(id): true iff id is non-empty and registered
//
// # Connection handles
//
// An Entry owns at most one monitoring ConnectionHandle. The registry is the
// single owner of these handles: the connection supervisor stores them, mode
// transitions disconnect them, and nothing else holds one beyond the scope of
// a single operation. Handle reads tolerate a connection dropping underneath
// them; the next supervisor tick self-corrects.
//
// # Host list format
//
// ParseHosts consumes a comma-separated list of identifier:host:port triples:
//
//	gw-sw1:192.0.2.10:6632,gw-sw2:192.0.2.11:6632
//
// When all three TLS base paths are configured, per-gateway file paths are
// derived as <base>/<identifier>.key, .cert and .ca_cert. A host entry that
// fails to parse is logged and skipped; it never aborts startup.
package gateway
