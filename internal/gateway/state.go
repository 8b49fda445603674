// ABOUTME: Aggregate connection-state snapshot pushed to the control plane each tick.
// ABOUTME: Shared by the supervisor (producer) and the plant client (consumer).

package gateway

// Connection states reported per gateway.
const (
	// StateConnected means the monitoring handle exists and reports connected.
	StateConnected = "connected"

	// StateDisconnected means the last dial attempt for the gateway failed.
	StateDisconnected = "disconnected"
)

// AggregateState maps gateway identifiers to their connection state,
// StateConnected or StateDisconnected. A gateway whose fresh handle has not
// finished connecting is absent from the map for that tick.
type AggregateState map[string]string

// Connected returns the identifiers currently reported as connected.
func (s AggregateState) Connected() []string {
	ids := make([]string, 0, len(s))
	for id, state := range s {
		if state == StateConnected {
			ids = append(ids, id)
		}
	}
	return ids
}
