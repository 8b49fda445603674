// ABOUTME: Row, table-change, and event types shared by the monitor and relay.
// ABOUTME: Also the domain structs the write operations are expressed in.

package ovsdb

// Row is a raw OVSDB row: column name to wire value.
type Row map[string]any

// rowUpdate is the wire form of one row's change inside a table update.
// A missing old means the row was inserted; a missing new means deleted.
type rowUpdate struct {
	Old Row `json:"old,omitempty"`
	New Row `json:"new,omitempty"`
}

// TableChange groups one table's rows by what happened to them, keyed by
// row UUID.
type TableChange struct {
	Added    map[string]Row `json:"added,omitempty"`
	Modified map[string]Row `json:"modified,omitempty"`
	Deleted  map[string]Row `json:"deleted,omitempty"`
}

// Event is one batch of observed gateway state, either the initial snapshot
// after a monitor request or a delta notification. Events are pushed to the
// control plane as-is.
type Event struct {
	GatewayID string                 `json:"gateway_id"`
	Initial   bool                   `json:"initial,omitempty"`
	Tables    map[string]TableChange `json:"tables"`
}

// LogicalSwitch identifies a logical network on the gateway. A present UUID
// references an existing row; otherwise the row is created in-transaction.
type LogicalSwitch struct {
	UUID        string `json:"uuid,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	TunnelKey   int    `json:"tunnel_key,omitempty"`
}

// PhysicalLocator is a VXLAN tunnel endpoint.
type PhysicalLocator struct {
	UUID  string `json:"uuid,omitempty"`
	DstIP string `json:"dst_ip"`

	// EncapsulationType defaults to vxlan_over_ipv4.
	EncapsulationType string `json:"encapsulation_type,omitempty"`
}

// RemoteMac is a MAC-to-locator binding in Ucast_Macs_Remote. LocatorIP
// associates the MAC with one of the locators named in a batched call.
type RemoteMac struct {
	UUID      string `json:"uuid,omitempty"`
	MAC       string `json:"mac"`
	IPAddr    string `json:"ip_addr,omitempty"`
	LocatorIP string `json:"locator_ip,omitempty"`
}

// PortBinding attaches (or with Delete set, detaches) a VLAN on a physical
// port to the logical switch of the enclosing call.
type PortBinding struct {
	PortName string `json:"port_name"`
	VlanID   int    `json:"vlan_id"`
	Delete   bool   `json:"delete,omitempty"`
}

// NetworkConnection is the batched connect/disconnect payload: the logical
// switch plus every locator, MAC, and port binding applied in one transact.
type NetworkConnection struct {
	Switch   LogicalSwitch     `json:"switch"`
	Locators []PhysicalLocator `json:"locators,omitempty"`
	Macs     []RemoteMac       `json:"macs,omitempty"`
	Bindings []PortBinding     `json:"bindings,omitempty"`
}
