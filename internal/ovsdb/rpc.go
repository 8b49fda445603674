// ABOUTME: JSON-RPC 1.0 wire types and helpers for the OVSDB protocol.
// ABOUTME: One message shape covers requests, responses, and notifications.

package ovsdb

import (
	"encoding/json"
	"fmt"
)

// hardwareVTEPDB is the database every monitor and transact call targets.
const hardwareVTEPDB = "hardware_vtep"

// Tables watched by a monitoring session. Column filters are deliberately
// absent: the gateway decides its schema revision, we take whole rows.
var monitoredTables = []string{
	"Logical_Switch",
	"Physical_Switch",
	"Physical_Port",
	"Physical_Locator",
	"Ucast_Macs_Local",
	"Ucast_Macs_Remote",
	"Mcast_Macs_Local",
	"Mcast_Macs_Remote",
	"Tunnel",
}

// message is the single JSON-RPC 1.0 envelope. A non-empty Method marks an
// inbound request or notification; otherwise the message is a response and
// ID selects the pending call it answers.
type message struct {
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	ID     any             `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  json.RawMessage `json:"error,omitempty"`
}

// isRequest reports whether the message is a request or notification.
func (m *message) isRequest() bool {
	return m.Method != ""
}

// hasError reports whether the response carries a non-null error member.
func (m *message) hasError() bool {
	return len(m.Error) > 0 && string(m.Error) != "null"
}

// idKey normalizes a JSON-RPC id for pending-map lookup. We only ever send
// string ids, but servers echo them back through their own JSON stack, which
// may retype them, so number-typed ids must stay matchable too.
func idKey(id any) string {
	if id == nil {
		return ""
	}
	if s, ok := id.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", id)
}

// uuidRef builds the ["uuid", x] reference form used in where clauses and
// row columns.
func uuidRef(uuid string) []any {
	return []any{"uuid", uuid}
}

// namedRef builds the ["named-uuid", x] reference form for rows inserted in
// the same transaction.
func namedRef(name string) []any {
	return []any{"named-uuid", name}
}

// ovsdbMap builds the ["map", [[k, v], ...]] wire form for map columns.
func ovsdbMap(pairs [][2]any) []any {
	entries := make([]any, 0, len(pairs))
	for _, p := range pairs {
		entries = append(entries, []any{p[0], p[1]})
	}
	return []any{"map", entries}
}
