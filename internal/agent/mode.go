// ABOUTME: Agent operating modes and their wire-string parsing.
// ABOUTME: The mode decides whether this agent watches gateways or only writes to them.

package agent

import "fmt"

// Mode is the agent's operating mode, assigned by the controller.
type Mode int32

const (
	// ModeUnset is the neutral state: no monitoring, no assigned role.
	// Agents start here and return here after relinquishing the monitor role.
	ModeUnset Mode = iota

	// ModeMonitor makes this agent supervise gateway connections and relay
	// their events. At most one agent per deployment holds this role.
	ModeMonitor

	// ModeTransact limits this agent to servicing write casts.
	ModeTransact
)

// String returns the wire form of the mode.
func (m Mode) String() string {
	switch m {
	case ModeMonitor:
		return "monitor"
	case ModeTransact:
		return "transact"
	default:
		return "unset"
	}
}

// ParseMode converts a wire string to a Mode. Both "none" and "unset" name
// the neutral state.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "monitor":
		return ModeMonitor, nil
	case "transact":
		return ModeTransact, nil
	case "none", "unset":
		return ModeUnset, nil
	default:
		return ModeUnset, fmt.Errorf("unknown agent mode %q", s)
	}
}
