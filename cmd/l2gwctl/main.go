// ABOUTME: Operator CLI for inspecting and driving l2gw agents
// ABOUTME: Talks to the agent debug API and the dev controller admin endpoint

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/ovsnet/l2gw-agent/internal/agent"
	"github.com/ovsnet/l2gw-agent/internal/auth"
	"github.com/ovsnet/l2gw-agent/internal/ovsdb"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
 _ ____                     _   _
| |___ \ __ ___      _____| |_| |
| | __) / _' \ \ /\ / / __| __| |
| |/ __/ (_| |\ V  V / (__| |_| |
|_|_____\__, | \_/\_/ \___|\__|_|
        |___/
`

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "status":
		err = cmdStatus(ctx, args)
	case "gateways":
		err = cmdGateways(ctx, args)
	case "events":
		err = cmdEvents(ctx, args)
	case "mode":
		err = cmdMode(ctx, args)
	case "token":
		err = cmdToken(args)
	case "version":
		fmt.Printf("l2gwctl %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()
	fmt.Println("Usage: l2gwctl <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  status                       Show agent mode and plant connectivity")
	fmt.Println("  gateways                     List configured gateways and their state")
	fmt.Println("  events [--gateway <id>]      Print observed OVSDB events (5s window)")
	fmt.Println("  events --follow              Stream events until interrupted")
	fmt.Println("  mode <monitor|transact|none> Ask the dev controller to switch agent mode")
	fmt.Println("  token create                 Mint a plant JWT from the shared secret")
	fmt.Println("  version                      Print the version")
	fmt.Println()
	yellow.Println("Configuration:")
	fmt.Println("  ~/.config/l2gw/ctl.toml      agent.debug_url, controller.admin_url, auth.token_secret")
	fmt.Println("  L2GWCTL_CONFIG               Alternate config path")
	fmt.Println("  L2GW_DEBUG_URL               Override the agent debug URL")
	fmt.Println("  L2GW_CONTROLLER_ADMIN_URL    Override the dev controller admin URL")
	fmt.Println("  L2GW_TOKEN_SECRET            Override the token secret")
	fmt.Println()
	yellow.Println("Examples:")
	fmt.Println("  l2gwctl status")
	fmt.Println("  l2gwctl events --gateway gw-east --follow")
	fmt.Println("  l2gwctl mode monitor")
	fmt.Println()
}

// parseCommonFlags strips --url/-u overrides from args and applies them to cfg.
func parseCommonFlags(cfg *Config, args []string) []string {
	var rest []string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--url", "-u":
			if i+1 < len(args) {
				cfg.Agent.DebugURL = args[i+1]
				i++
			}
		default:
			rest = append(rest, args[i])
		}
	}
	return rest
}

func getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("requesting %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s returned %d: %s", url, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// cmdStatus shows the agent's mode and plant connectivity.
func cmdStatus(ctx context.Context, args []string) error {
	cfg, err := loadConfig(getConfigPath())
	if err != nil {
		return err
	}
	parseCommonFlags(cfg, args)

	var status agent.StatusResponse
	if err := getJSON(ctx, cfg.Agent.DebugURL+"/api/status", &status); err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	gray := color.New(color.FgHiBlack)

	fmt.Println()
	cyan.Println("  Agent Status")
	cyan.Println("  ------------")
	fmt.Printf("  Agent:     %s\n", status.AgentID)
	fmt.Printf("  Version:   %s\n", status.Version)

	fmt.Printf("  Mode:      ")
	switch status.Mode {
	case "monitor":
		green.Println("monitor")
	case "transact":
		yellow.Println("transact")
	default:
		gray.Println(status.Mode)
	}
	if status.Mode == "monitor" && !status.Monitoring {
		yellow.Println("             (supervisor not running)")
	}

	fmt.Printf("  Plant:     ")
	if status.PlantConnected {
		green.Println("connected")
	} else {
		color.Red("disconnected")
	}

	fmt.Printf("  Gateways:  %d\n", status.Gateways)
	fmt.Printf("  Uptime:    %s\n", (time.Duration(status.UptimeSeconds) * time.Second).String())
	fmt.Println()

	return nil
}

// cmdGateways lists configured gateways in a table.
func cmdGateways(ctx context.Context, args []string) error {
	cfg, err := loadConfig(getConfigPath())
	if err != nil {
		return err
	}
	parseCommonFlags(cfg, args)

	var gateways []agent.GatewayInfo
	if err := getJSON(ctx, cfg.Agent.DebugURL+"/api/gateways", &gateways); err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  OVSDB Gateways")
	cyan.Println("  --------------")

	if len(gateways) == 0 {
		fmt.Println("  (no gateways configured)")
		fmt.Println()
		return nil
	}

	sort.Slice(gateways, func(i, j int) bool { return gateways[i].ID < gateways[j].ID })

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  ID\tENDPOINT\tTLS\tSTATE")
	fmt.Fprintln(w, "  --\t--------\t---\t-----")
	for _, gw := range gateways {
		tls := "no"
		if gw.TLS {
			tls = "yes"
		}
		state := color.RedString("disconnected")
		if gw.Connected {
			state = color.GreenString("connected")
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n", gw.ID, gw.Endpoint, tls, state)
	}
	w.Flush()
	fmt.Println()

	return nil
}

// cmdEvents streams line-delimited events from the debug API. Without
// --follow the stream is sampled for five seconds and then closed.
func cmdEvents(ctx context.Context, args []string) error {
	cfg, err := loadConfig(getConfigPath())
	if err != nil {
		return err
	}
	args = parseCommonFlags(cfg, args)

	var gatewayID string
	follow := false
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--gateway", "-g":
			if i+1 < len(args) {
				gatewayID = args[i+1]
				i++
			}
		case "--follow", "-f":
			follow = true
		default:
			return fmt.Errorf("unknown events flag: %s", args[i])
		}
	}

	if !follow {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}

	url := cfg.Agent.DebugURL + "/api/events"
	if gatewayID != "" {
		url += "?gateway=" + gatewayID
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("requesting %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s returned %d: %s", url, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	gray := color.New(color.FgHiBlack)
	if follow {
		gray.Println("streaming events (Ctrl+C to stop)...")
	}

	count := 0
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var ev ovsdb.Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			gray.Printf("  (unparseable event: %v)\n", err)
			continue
		}
		printEvent(ev)
		count++
	}

	// A closed window or Ctrl+C surfaces as a read error; not a failure.
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("event stream: %w", err)
	}

	if !follow {
		gray.Printf("observed %d event(s)\n", count)
	}
	return nil
}

func printEvent(ev ovsdb.Event) {
	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)

	kind := "update"
	if ev.Initial {
		kind = "initial"
	}
	cyan.Printf("%s ", ev.GatewayID)
	gray.Printf("[%s]", kind)

	tables := make([]string, 0, len(ev.Tables))
	for name := range ev.Tables {
		tables = append(tables, name)
	}
	sort.Strings(tables)

	for _, name := range tables {
		tc := ev.Tables[name]
		fmt.Printf(" %s(+%d ~%d -%d)", name, len(tc.Added), len(tc.Modified), len(tc.Deleted))
	}
	fmt.Println()
}

// cmdMode asks the dev controller to broadcast a mode change. The agent debug
// API is read-only; mode transitions only ever arrive as control-plane casts.
func cmdMode(ctx context.Context, args []string) error {
	cfg, err := loadConfig(getConfigPath())
	if err != nil {
		return err
	}
	args = parseCommonFlags(cfg, args)

	var adminURL string
	var rest []string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--admin-url", "-a":
			if i+1 < len(args) {
				adminURL = args[i+1]
				i++
			}
		default:
			rest = append(rest, args[i])
		}
	}
	if adminURL == "" {
		adminURL = cfg.Controller.AdminURL
	}

	if len(rest) < 1 {
		return fmt.Errorf("usage: mode <monitor|transact|none> [--admin-url <url>]")
	}
	mode := rest[0]
	switch mode {
	case "monitor", "transact", "none":
	default:
		return fmt.Errorf("unknown mode %q (use monitor, transact or none)", mode)
	}

	if adminURL == "" {
		yellow := color.New(color.FgYellow)
		yellow.Println("No controller admin endpoint configured.")
		fmt.Println()
		fmt.Println("Agent mode is set by the control plane, not by the agent itself; the")
		fmt.Println("debug API is read-only. In a dev setup, run the fake-controller and")
		fmt.Println("point l2gwctl at its admin endpoint:")
		fmt.Println()
		fmt.Println("  [controller]")
		fmt.Println("  admin_url = \"http://127.0.0.1:9643\"")
		fmt.Println()
		fmt.Println("or pass --admin-url / set L2GW_CONTROLLER_ADMIN_URL.")
		return nil
	}

	payload, err := json.Marshal(map[string]string{"mode": mode})
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, adminURL+"/admin/mode", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("requesting controller: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("controller returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	green := color.New(color.FgGreen)
	green.Printf("✓ Broadcast mode change: %s\n", mode)
	return nil
}

// cmdToken handles token subcommands.
func cmdToken(args []string) error {
	subcmd := ""
	if len(args) > 0 {
		subcmd = args[0]
		args = args[1:]
	}

	switch subcmd {
	case "create":
		return cmdTokenCreate(args)
	default:
		return fmt.Errorf("usage: token create [--agent <id>] [--ttl <duration>] [--secret <secret>]")
	}
}

// cmdTokenCreate mints a plant JWT locally from the shared secret.
func cmdTokenCreate(args []string) error {
	cfg, err := loadConfig(getConfigPath())
	if err != nil {
		return err
	}

	agentID := "l2gwctl"
	ttl := time.Hour
	secret := cfg.Auth.TokenSecret

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--agent", "-a":
			if i+1 < len(args) {
				agentID = args[i+1]
				i++
			}
		case "--ttl", "-t":
			if i+1 < len(args) {
				d, err := time.ParseDuration(args[i+1])
				if err != nil {
					return fmt.Errorf("invalid ttl: %w", err)
				}
				ttl = d
				i++
			}
		case "--secret", "-s":
			if i+1 < len(args) {
				secret = args[i+1]
				i++
			}
		}
	}

	if secret == "" {
		return fmt.Errorf("no token secret configured (set auth.token_secret or L2GW_TOKEN_SECRET)")
	}

	tokens, err := auth.NewTokenManager([]byte(secret))
	if err != nil {
		return err
	}
	token, err := tokens.Mint(agentID, ttl)
	if err != nil {
		return fmt.Errorf("minting token: %w", err)
	}

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)

	fmt.Println()
	green.Println("  Token created successfully")
	fmt.Println()
	cyan.Println("  Agent:    " + agentID)
	cyan.Println("  Expires:  " + time.Now().Add(ttl).Format(time.RFC3339))
	fmt.Println()
	fmt.Println("  Token (keep this secret!):")
	fmt.Println()
	fmt.Println("  " + token)
	fmt.Println()

	return nil
}
