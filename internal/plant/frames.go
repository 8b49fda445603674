// ABOUTME: Wire frames and method payloads for the control-plane websocket session.
// ABOUTME: One frame schema covers requests, responses, and fire-and-forget events.

package plant

import (
	"encoding/json"

	"github.com/ovsnet/l2gw-agent/internal/auth"
	"github.com/ovsnet/l2gw-agent/internal/gateway"
	"github.com/ovsnet/l2gw-agent/internal/ovsdb"
)

// Frame types on the wire.
const (
	frameTypeRequest  = "req"
	frameTypeResponse = "res"
	frameTypeEvent    = "event"
)

// Request methods the agent sends.
const (
	methodConnect     = "connect"
	methodReportState = "report_state"
)

// Event methods the agent emits.
const (
	eventGatewayStates = "gateway_states"
	eventOVSDBEvent    = "ovsdb_event"
)

// Cast methods the controller broadcasts as event frames. The frame ID, when
// present, is the cast's redelivery key.
const (
	castSetAgentMode        = "set_agent_mode"
	castDeleteLogicalSwitch = "delete_logical_switch"
	castAddRemoteMac        = "add_remote_mac"
	castUpdateRemoteMac     = "update_remote_mac"
	castDeleteRemoteMac     = "delete_remote_mac"
	castUpdateConnection    = "update_connection"
)

// frame is the single JSON envelope for everything on the session. Requests
// carry ID/Method/Params, responses echo the ID with OK or Error, events
// carry Event/Payload and a sender-local Seq.
type frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Event   string          `json:"event,omitempty"`
	OK      *bool           `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *frameError     `json:"error,omitempty"`
	Seq     *int64          `json:"seq,omitempty"`
}

type frameError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// connectParams is the handshake request: who this agent is plus both proofs
// of identity. The server rejects the session when either proof fails.
type connectParams struct {
	Agent agentInfo        `json:"agent"`
	Auth  auth.Credentials `json:"auth"`
	Caps  []string         `json:"caps,omitempty"`
}

type agentInfo struct {
	ID       string `json:"id"`
	Hostname string `json:"hostname,omitempty"`
	Version  string `json:"version,omitempty"`
}

// reportParams is the periodic heartbeat request body.
type reportParams struct {
	AgentID   string       `json:"agent_id"`
	Status    ReportStatus `json:"status"`
	Timestamp int64        `json:"timestamp"`
}

// ReportStatus is the agent snapshot attached to each report_state request.
type ReportStatus struct {
	Mode       string `json:"mode"`
	Monitoring bool   `json:"monitoring"`
	Gateways   int    `json:"gateways"`
}

// gatewayStatesPayload rides the gateway_states event.
type gatewayStatesPayload struct {
	AgentID   string                 `json:"agent_id"`
	States    gateway.AggregateState `json:"states"`
	Timestamp int64                  `json:"timestamp"`
}

// Cast parameter shapes, decoded from event frame payloads.

type setAgentModeParams struct {
	Mode string `json:"mode"`
}

type deleteSwitchParams struct {
	GatewayID  string `json:"gateway_id"`
	SwitchUUID string `json:"switch_uuid"`
}

type addRemoteMacParams struct {
	GatewayID string                `json:"gateway_id"`
	Switch    ovsdb.LogicalSwitch   `json:"switch"`
	Locator   ovsdb.PhysicalLocator `json:"locator"`
	Mac       ovsdb.RemoteMac       `json:"mac"`
}

type updateRemoteMacParams struct {
	GatewayID string                `json:"gateway_id"`
	Locator   ovsdb.PhysicalLocator `json:"locator"`
	Mac       ovsdb.RemoteMac       `json:"mac"`
}

type deleteRemoteMacParams struct {
	GatewayID  string `json:"gateway_id"`
	SwitchUUID string `json:"switch_uuid"`
	Mac        string `json:"mac"`
}

type updateConnectionParams struct {
	GatewayID  string                  `json:"gateway_id"`
	Connection ovsdb.NetworkConnection `json:"connection"`
}
