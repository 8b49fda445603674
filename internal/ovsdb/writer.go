// ABOUTME: One-shot write transactions against a gateway's hardware_vtep tables.
// ABOUTME: Builds OVSDB transact operations and checks per-operation results.

package ovsdb

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ovsnet/l2gw-agent/internal/gateway"
)

// defaultEncapsulation is the tunnel type for locators that do not set one.
const defaultEncapsulation = "vxlan_over_ipv4"

// Writer performs write transactions over a short-lived connection. Callers
// own the lifecycle: open one, run one operation, Close it.
type Writer struct {
	conn   *Conn
	logger *slog.Logger
}

// DialWriter opens a write-capable connection to the gateway.
func DialWriter(ctx context.Context, cfg gateway.Config, opts Options) (*Writer, error) {
	opts = opts.withDefaults()
	conn, err := Dial(ctx, cfg, opts)
	if err != nil {
		return nil, err
	}
	return &Writer{
		conn:   conn,
		logger: opts.Logger.With("component", "ovsdb-writer", "gateway_id", cfg.Identifier),
	}, nil
}

// Connected reports whether the connection is still live.
func (w *Writer) Connected() bool {
	return w.conn.Connected()
}

// Close tears the connection down. Idempotent.
func (w *Writer) Close() {
	w.conn.Close()
}

// DeleteLogicalSwitch removes the logical switch row by UUID. Rows in other
// tables referencing it are garbage-collected by the gateway.
func (w *Writer) DeleteLogicalSwitch(ctx context.Context, switchUUID string) error {
	ops := []any{map[string]any{
		"op":    "delete",
		"table": "Logical_Switch",
		"where": []any{[]any{"_uuid", "==", uuidRef(switchUUID)}},
	}}
	if err := w.transact(ctx, ops); err != nil {
		return fmt.Errorf("deleting logical switch %s: %w", switchUUID, err)
	}
	return nil
}

// AddRemoteMac inserts a Ucast_Macs_Remote row binding mac to loc on ls.
// Switch and locator rows are created in the same transaction when their
// UUIDs are absent.
func (w *Writer) AddRemoteMac(ctx context.Context, ls LogicalSwitch, loc PhysicalLocator, mac RemoteMac) error {
	var ops []any

	lsRef := uuidRef(ls.UUID)
	if ls.UUID == "" {
		ops = append(ops, insertLogicalSwitchOp(ls, "ls"))
		lsRef = namedRef("ls")
	}
	locRef := uuidRef(loc.UUID)
	if loc.UUID == "" {
		ops = append(ops, insertLocatorOp(loc, "loc"))
		locRef = namedRef("loc")
	}

	row := map[string]any{
		"MAC":            mac.MAC,
		"logical_switch": lsRef,
		"locator":        locRef,
	}
	if mac.IPAddr != "" {
		row["ipaddr"] = mac.IPAddr
	}
	ops = append(ops, map[string]any{
		"op":    "insert",
		"table": "Ucast_Macs_Remote",
		"row":   row,
	})

	if err := w.transact(ctx, ops); err != nil {
		return fmt.Errorf("inserting remote MAC %s: %w", mac.MAC, err)
	}
	return nil
}

// UpdateRemoteMac repoints an existing remote MAC at a new locator, the
// workload-migration path. The row is matched by UUID when known, by MAC
// otherwise.
func (w *Writer) UpdateRemoteMac(ctx context.Context, loc PhysicalLocator, mac RemoteMac) error {
	var ops []any

	locRef := uuidRef(loc.UUID)
	if loc.UUID == "" {
		ops = append(ops, insertLocatorOp(loc, "loc"))
		locRef = namedRef("loc")
	}

	var where []any
	if mac.UUID != "" {
		where = []any{[]any{"_uuid", "==", uuidRef(mac.UUID)}}
	} else {
		where = []any{[]any{"MAC", "==", mac.MAC}}
	}

	row := map[string]any{"locator": locRef}
	if mac.IPAddr != "" {
		row["ipaddr"] = mac.IPAddr
	}
	ops = append(ops, map[string]any{
		"op":    "update",
		"table": "Ucast_Macs_Remote",
		"where": where,
		"row":   row,
	})

	if err := w.transact(ctx, ops); err != nil {
		return fmt.Errorf("updating remote MAC %s: %w", mac.MAC, err)
	}
	return nil
}

// DeleteRemoteMac removes the binding for mac on the given logical switch.
func (w *Writer) DeleteRemoteMac(ctx context.Context, switchUUID, mac string) error {
	ops := []any{map[string]any{
		"op":    "delete",
		"table": "Ucast_Macs_Remote",
		"where": []any{
			[]any{"MAC", "==", mac},
			[]any{"logical_switch", "==", uuidRef(switchUUID)},
		},
	}}
	if err := w.transact(ctx, ops); err != nil {
		return fmt.Errorf("deleting remote MAC %s: %w", mac, err)
	}
	return nil
}

// UpdateConnectionToGateway applies a network's full attach (or detach) in
// one transaction: the logical switch, its locators and MACs, and the VLAN
// bindings on physical ports.
func (w *Writer) UpdateConnectionToGateway(ctx context.Context, nc NetworkConnection) error {
	var ops []any

	lsRef := uuidRef(nc.Switch.UUID)
	if nc.Switch.UUID == "" {
		ops = append(ops, insertLogicalSwitchOp(nc.Switch, "ls"))
		lsRef = namedRef("ls")
	}

	locRefs := make(map[string]any, len(nc.Locators))
	for i, loc := range nc.Locators {
		if loc.UUID != "" {
			locRefs[loc.DstIP] = uuidRef(loc.UUID)
			continue
		}
		name := fmt.Sprintf("loc%d", i)
		ops = append(ops, insertLocatorOp(loc, name))
		locRefs[loc.DstIP] = namedRef(name)
	}

	for _, mac := range nc.Macs {
		locRef, ok := locRefs[mac.LocatorIP]
		if !ok {
			return fmt.Errorf("remote MAC %s references unknown locator %q", mac.MAC, mac.LocatorIP)
		}
		row := map[string]any{
			"MAC":            mac.MAC,
			"logical_switch": lsRef,
			"locator":        locRef,
		}
		if mac.IPAddr != "" {
			row["ipaddr"] = mac.IPAddr
		}
		ops = append(ops, map[string]any{
			"op":    "insert",
			"table": "Ucast_Macs_Remote",
			"row":   row,
		})
	}

	for _, b := range nc.Bindings {
		mutator := "insert"
		if b.Delete {
			mutator = "delete"
		}
		ops = append(ops, map[string]any{
			"op":    "mutate",
			"table": "Physical_Port",
			"where": []any{[]any{"name", "==", b.PortName}},
			"mutations": []any{
				[]any{"vlan_bindings", mutator, ovsdbMap([][2]any{{b.VlanID, lsRef}})},
			},
		})
	}

	if len(ops) == 0 {
		return nil
	}
	if err := w.transact(ctx, ops); err != nil {
		return fmt.Errorf("updating connection for switch %s: %w", nc.Switch.Name, err)
	}
	return nil
}

// transact runs one transact call and checks each operation's result.
func (w *Writer) transact(ctx context.Context, ops []any) error {
	params := make([]any, 0, len(ops)+1)
	params = append(params, hardwareVTEPDB)
	params = append(params, ops...)

	result, err := w.conn.call(ctx, "transact", params)
	if err != nil {
		return err
	}
	return checkTransactReply(result, len(ops))
}

// checkTransactReply scans per-operation results for error members. The
// reply may be longer than the op list when the database appends a commit
// error, and shorter when the transaction aborted early.
func checkTransactReply(result json.RawMessage, opCount int) error {
	var results []map[string]json.RawMessage
	if err := json.Unmarshal(result, &results); err != nil {
		return fmt.Errorf("undecodable transact reply: %w", err)
	}
	for i, r := range results {
		if errVal, ok := r["error"]; ok && string(errVal) != "null" {
			detail := ""
			if d, ok := r["details"]; ok {
				detail = " " + string(d)
			}
			return fmt.Errorf("transact operation %d failed: %s%s", i, string(errVal), detail)
		}
	}
	if len(results) < opCount {
		return fmt.Errorf("transact reply covered %d of %d operations", len(results), opCount)
	}
	return nil
}

// insertLogicalSwitchOp builds the insert for a switch created in-transaction.
func insertLogicalSwitchOp(ls LogicalSwitch, name string) map[string]any {
	row := map[string]any{"name": ls.Name}
	if ls.Description != "" {
		row["description"] = ls.Description
	}
	if ls.TunnelKey != 0 {
		row["tunnel_key"] = ls.TunnelKey
	}
	return map[string]any{
		"op":        "insert",
		"table":     "Logical_Switch",
		"row":       row,
		"uuid-name": name,
	}
}

// insertLocatorOp builds the insert for a locator created in-transaction.
func insertLocatorOp(loc PhysicalLocator, name string) map[string]any {
	encap := loc.EncapsulationType
	if encap == "" {
		encap = defaultEncapsulation
	}
	return map[string]any{
		"op":    "insert",
		"table": "Physical_Locator",
		"row": map[string]any{
			"dst_ip":             loc.DstIP,
			"encapsulation_type": encap,
		},
		"uuid-name": name,
	}
}
