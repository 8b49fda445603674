// ABOUTME: Interactive prompt for driving connected agents by hand
// ABOUTME: Translates short commands into control-plane casts

package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"

	"github.com/ovsnet/l2gw-agent/internal/ovsdb"
)

// runPrompt reads commands from stdin until EOF or quit. stop shuts the
// whole controller down.
func runPrompt(c *controller, stop func()) {
	printPromptHelp()

	scanner := bufio.NewScanner(os.Stdin)
	green := color.New(color.FgGreen)
	for {
		green.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			stop()
			return
		}
		if err := execPrompt(c, line); err != nil {
			color.Red("error: %v", err)
		}
	}
}

func printPromptHelp() {
	yellow := color.New(color.FgYellow)
	yellow.Println("Commands:")
	fmt.Println("  agents                                         list connected agents")
	fmt.Println("  mode <monitor|transact|none>                   broadcast a mode change")
	fmt.Println("  del-switch <gateway> <switch-uuid>             delete a logical switch")
	fmt.Println("  add-mac <gateway> <switch> <loc-ip> <mac> [ip] add a remote MAC")
	fmt.Println("  upd-mac <gateway> <loc-ip> <mac> [ip]          update a remote MAC")
	fmt.Println("  del-mac <gateway> <switch-uuid> <mac>          delete a remote MAC")
	fmt.Println("  connect-net <gateway> <switch> <key> <loc-ip> [port:vlan ...]")
	fmt.Println("  disconnect-net <gateway> <switch> <port:vlan> [port:vlan ...]")
	fmt.Println("  help                                           show this help")
	fmt.Println("  quit                                           stop the controller")
}

func execPrompt(c *controller, line string) error {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "help", "?":
		printPromptHelp()
		return nil

	case "agents":
		list := c.list()
		if len(list) == 0 {
			fmt.Println("(no agents connected)")
			return nil
		}
		for _, ac := range list {
			fmt.Printf("%s  host=%s version=%s caps=%s\n",
				ac.agentID, ac.hostname, ac.version, strings.Join(ac.caps, ","))
		}
		return nil

	case "mode":
		if len(args) != 1 {
			return usageErr("mode <monitor|transact|none>")
		}
		switch args[0] {
		case "monitor", "transact", "none":
		default:
			return fmt.Errorf("unknown mode %q", args[0])
		}
		return castAndReport(c, castSetAgentMode, map[string]string{"mode": args[0]})

	case "del-switch":
		if len(args) != 2 {
			return usageErr("del-switch <gateway> <switch-uuid>")
		}
		return castAndReport(c, castDeleteLogicalSwitch, map[string]string{
			"gateway_id":  args[0],
			"switch_uuid": args[1],
		})

	case "add-mac":
		if len(args) < 4 || len(args) > 5 {
			return usageErr("add-mac <gateway> <switch-name> <locator-ip> <mac> [ip]")
		}
		mac := ovsdb.RemoteMac{MAC: args[3], LocatorIP: args[2]}
		if len(args) == 5 {
			mac.IPAddr = args[4]
		}
		return castAndReport(c, castAddRemoteMac, map[string]any{
			"gateway_id": args[0],
			"switch":     ovsdb.LogicalSwitch{Name: args[1]},
			"locator":    ovsdb.PhysicalLocator{DstIP: args[2]},
			"mac":        mac,
		})

	case "upd-mac":
		if len(args) < 3 || len(args) > 4 {
			return usageErr("upd-mac <gateway> <locator-ip> <mac> [ip]")
		}
		mac := ovsdb.RemoteMac{MAC: args[2], LocatorIP: args[1]}
		if len(args) == 4 {
			mac.IPAddr = args[3]
		}
		return castAndReport(c, castUpdateRemoteMac, map[string]any{
			"gateway_id": args[0],
			"locator":    ovsdb.PhysicalLocator{DstIP: args[1]},
			"mac":        mac,
		})

	case "del-mac":
		if len(args) != 3 {
			return usageErr("del-mac <gateway> <switch-uuid> <mac>")
		}
		return castAndReport(c, castDeleteRemoteMac, map[string]string{
			"gateway_id":  args[0],
			"switch_uuid": args[1],
			"mac":         args[2],
		})

	case "connect-net":
		if len(args) < 4 {
			return usageErr("connect-net <gateway> <switch-name> <tunnel-key> <locator-ip> [port:vlan ...]")
		}
		key, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("invalid tunnel key %q: %w", args[2], err)
		}
		bindings, err := parseBindings(args[4:], false)
		if err != nil {
			return err
		}
		nc := ovsdb.NetworkConnection{
			Switch:   ovsdb.LogicalSwitch{Name: args[1], TunnelKey: key},
			Locators: []ovsdb.PhysicalLocator{{DstIP: args[3]}},
			Bindings: bindings,
		}
		return castAndReport(c, castUpdateConnection, map[string]any{
			"gateway_id": args[0],
			"connection": nc,
		})

	case "disconnect-net":
		if len(args) < 3 {
			return usageErr("disconnect-net <gateway> <switch-name> <port:vlan> [port:vlan ...]")
		}
		bindings, err := parseBindings(args[2:], true)
		if err != nil {
			return err
		}
		nc := ovsdb.NetworkConnection{
			Switch:   ovsdb.LogicalSwitch{Name: args[1]},
			Bindings: bindings,
		}
		return castAndReport(c, castUpdateConnection, map[string]any{
			"gateway_id": args[0],
			"connection": nc,
		})

	default:
		return fmt.Errorf("unknown command %q (try help)", cmd)
	}
}

// parseBindings turns port:vlan arguments into bindings, all marked for
// deletion when del is set.
func parseBindings(args []string, del bool) ([]ovsdb.PortBinding, error) {
	var bindings []ovsdb.PortBinding
	for _, arg := range args {
		port, vlanStr, found := strings.Cut(arg, ":")
		if !found || port == "" {
			return nil, fmt.Errorf("invalid binding %q (want port:vlan)", arg)
		}
		vlan, err := strconv.Atoi(vlanStr)
		if err != nil {
			return nil, fmt.Errorf("invalid vlan in %q: %w", arg, err)
		}
		bindings = append(bindings, ovsdb.PortBinding{PortName: port, VlanID: vlan, Delete: del})
	}
	return bindings, nil
}

func castAndReport(c *controller, method string, params any) error {
	castID, sent, err := c.broadcast(method, params)
	if err != nil {
		return err
	}
	cyan := color.New(color.FgCyan)
	cyan.Printf("→ cast %s to %d agent(s)", method, sent)
	color.New(color.FgHiBlack).Printf("  id=%s\n", castID)
	return nil
}

func usageErr(usage string) error {
	return fmt.Errorf("usage: %s", usage)
}
