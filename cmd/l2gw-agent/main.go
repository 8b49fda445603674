// ABOUTME: Entry point for the l2gw-agent daemon
// ABOUTME: Supervises OVSDB gateway connections under control-plane direction

package main

import (
	"bufio"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"golang.org/x/crypto/ssh"

	"github.com/ovsnet/l2gw-agent/internal/agent"
	"github.com/ovsnet/l2gw-agent/internal/config"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
 _ ____                                          _
| |___ \ __ ___      __      __ _  __ _  ___ _ __ | |_
| | __) / _' \ \ /\ / /____ / _' |/ _' |/ _ \ '_ \| __|
| |/ __/ (_| |\ V  V /_____| (_| | (_| |  __/ | | | |_
|_|_____\__, | \_/\_/       \__,_|\__, |\___|_| |_|\__|
        |___/                     |___/
`

// getConfigPath returns the path to the agent config file.
// Priority: L2GW_CONFIG env var > XDG_CONFIG_HOME/l2gw/agent.yaml > ~/.config/l2gw/agent.yaml
func getConfigPath() string {
	if envPath := os.Getenv("L2GW_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "agent.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "l2gw", "agent.yaml")
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	var err error
	switch command {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
	case "status":
		err = runStatus(ctx)
	case "version":
		fmt.Printf("l2gw-agent %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: l2gw-agent <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve     Start the agent (default)")
	fmt.Println("  init      Create a starter config file and SSH key")
	fmt.Println("  health    Check a running agent's health endpoint")
	fmt.Println("  status    Show a running agent's status")
	fmt.Println("  version   Print the version")
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)

	// Startup info
	green := color.New(color.FgGreen)

	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Agent:    %s\n", cfg.Agent.ID)
	green.Print("    ▶ ")
	fmt.Printf("Plant:    %s\n", cfg.Plant.URL)
	green.Print("    ▶ ")
	fmt.Printf("Gateways: %d configured\n", countHosts(cfg.OVSDB.Hosts))
	if cfg.Debug.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Debug:    http://%s\n", cfg.Debug.HTTPAddr)
	}
	fmt.Println()

	svc, err := agent.NewService(cfg, version, logger)
	if err != nil {
		return fmt.Errorf("creating agent service: %w", err)
	}

	return svc.Run(ctx)
}

// countHosts counts the entries of a comma-separated host list.
func countHosts(hosts string) int {
	n := 0
	for _, part := range strings.Split(hosts, ",") {
		if strings.TrimSpace(part) != "" {
			n++
		}
	}
	return n
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	// Format timestamp
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	// Colorize level
	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	// Print message
	buf.WriteString(r.Message)

	// Print handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	// Print record attrs
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

// debugBaseURL loads the config and returns the debug endpoint base URL.
func debugBaseURL() (string, error) {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return "", fmt.Errorf("loading config: %w", err)
	}
	if !cfg.Debug.Enabled {
		return "", fmt.Errorf("debug endpoint is disabled in %s (set debug.enabled: true)", getConfigPath())
	}
	return "http://" + cfg.Debug.HTTPAddr, nil
}

func runHealth(ctx context.Context) error {
	base, err := debugBaseURL()
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

func runStatus(ctx context.Context) error {
	base, err := debugBaseURL()
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/api/status", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("status check failed: %w", err)
	}
	defer resp.Body.Close()

	var status agent.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("decoding status: %w", err)
	}

	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	gray := color.New(color.FgHiBlack)

	cyan.Println("  Agent Status")
	cyan.Println("  ------------")
	fmt.Printf("  Agent:     %s (version %s)\n", status.AgentID, status.Version)

	fmt.Printf("  Mode:      ")
	switch status.Mode {
	case "monitor":
		green.Println("monitor")
	case "transact":
		yellow.Println("transact")
	default:
		gray.Println(status.Mode)
	}

	fmt.Printf("  Plant:     ")
	if status.PlantConnected {
		green.Println("connected")
	} else {
		color.New(color.FgRed).Println("disconnected")
	}

	fmt.Printf("  Gateways:  %d\n", status.Gateways)
	fmt.Printf("  Uptime:    %s\n", (time.Duration(status.UptimeSeconds) * time.Second).String())
	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("l2gw-agent configuration setup")
	fmt.Println("==============================")
	fmt.Println()

	defaultConfigPath := getConfigPath()

	// Output filename
	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	// Check if file exists
	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	// Agent identity
	fmt.Println("\n--- Agent Configuration ---")
	hostname, _ := os.Hostname()
	agentID := prompt(reader, "Agent ID", hostname)

	// Control plane
	fmt.Println("\n--- Control Plane Configuration ---")
	plantURL := prompt(reader, "Plant websocket URL", "ws://127.0.0.1:8443/v1/agent")
	tokenSecret := prompt(reader, "Token secret (empty to generate)", "")
	if tokenSecret == "" {
		secretBytes := make([]byte, 32)
		if _, err := rand.Read(secretBytes); err != nil {
			return fmt.Errorf("generating token secret: %w", err)
		}
		tokenSecret = base64.StdEncoding.EncodeToString(secretBytes)
		fmt.Println("  generated a random token secret")
	}

	defaultKeyPath := filepath.Join(filepath.Dir(outputFile), "agent_key")
	sshKeyPath := prompt(reader, "SSH key path", defaultKeyPath)

	// Gateways
	fmt.Println("\n--- OVSDB Gateway Configuration ---")
	fmt.Println("Gateways are listed as identifier:host:port, comma separated.")
	hosts := prompt(reader, "Gateway hosts", "")

	// Debug endpoint
	fmt.Println("\n--- Debug Endpoint ---")
	debugStr := prompt(reader, "Enable local debug endpoint?", "yes")
	debugEnabled := strings.ToLower(debugStr) == "yes" || strings.ToLower(debugStr) == "y"
	debugAddr := "127.0.0.1:9642"
	if debugEnabled {
		debugAddr = prompt(reader, "Debug HTTP address", debugAddr)
	}

	// Logging
	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	// Generate config
	var cfg strings.Builder
	cfg.WriteString("# l2gw-agent configuration\n")
	cfg.WriteString("# Generated by l2gw-agent init\n\n")

	cfg.WriteString("agent:\n")
	cfg.WriteString(fmt.Sprintf("  id: %q\n", agentID))
	cfg.WriteString("\n")

	cfg.WriteString("plant:\n")
	cfg.WriteString(fmt.Sprintf("  url: %q\n", plantURL))
	cfg.WriteString(fmt.Sprintf("  token_secret: %q\n", tokenSecret))
	cfg.WriteString(fmt.Sprintf("  ssh_key_path: %q\n", sshKeyPath))
	cfg.WriteString("  report_interval: \"10s\"\n")
	cfg.WriteString("  report_timeout: \"5s\"\n")
	cfg.WriteString("  report_failure_threshold: 3\n")
	cfg.WriteString("  reconnect_backoff_max: \"30s\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("ovsdb:\n")
	cfg.WriteString(fmt.Sprintf("  hosts: %q\n", hosts))
	cfg.WriteString("  # TLS base directories; per-gateway files are <base>/<identifier>.key etc.\n")
	cfg.WriteString("  # private_key_base: \"/etc/l2gw/keys\"\n")
	cfg.WriteString("  # certificate_base: \"/etc/l2gw/certs\"\n")
	cfg.WriteString("  # ca_cert_base: \"/etc/l2gw/ca\"\n")
	cfg.WriteString("  max_connection_retries: 10\n")
	cfg.WriteString("  retry_delay: \"1s\"\n")
	cfg.WriteString("  dial_timeout: \"5s\"\n")
	cfg.WriteString("  response_timeout: \"30s\"\n")
	cfg.WriteString("  periodic_interval: \"20s\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("debug:\n")
	cfg.WriteString(fmt.Sprintf("  enabled: %t\n", debugEnabled))
	cfg.WriteString(fmt.Sprintf("  http_addr: %q\n", debugAddr))
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: %q\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: %q\n", logFormat))

	// Ensure config directory exists
	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	// Write config file; it carries the token secret.
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("\n  ✓ Config written: %s\n", outputFile)

	// Generate the SSH key pair unless one already exists.
	if _, err := os.Stat(sshKeyPath); os.IsNotExist(err) {
		pubLine, err := generateSSHKey(sshKeyPath)
		if err != nil {
			return err
		}
		green.Printf("  ✓ SSH key:        %s\n", sshKeyPath)
		fmt.Println()
		fmt.Println("  Register this public key with the controller:")
		fmt.Printf("    %s\n", strings.TrimSpace(pubLine))
	} else {
		fmt.Printf("  Using existing SSH key: %s\n", sshKeyPath)
	}

	fmt.Println()
	fmt.Println("To start the agent:")
	fmt.Println("  l2gw-agent serve")

	return nil
}

// generateSSHKey writes a fresh ed25519 private key in OpenSSH format and its
// public key line. Returns the authorized_keys form of the public key.
func generateSSHKey(path string) (string, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", fmt.Errorf("generating SSH key: %w", err)
	}

	block, err := ssh.MarshalPrivateKey(priv, "l2gw-agent")
	if err != nil {
		return "", fmt.Errorf("encoding SSH key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return "", fmt.Errorf("creating key directory: %w", err)
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0600); err != nil {
		return "", fmt.Errorf("writing SSH key: %w", err)
	}

	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		return "", fmt.Errorf("deriving public key: %w", err)
	}
	pubLine := string(ssh.MarshalAuthorizedKey(signer.PublicKey()))
	if err := os.WriteFile(path+".pub", []byte(pubLine), 0644); err != nil {
		return "", fmt.Errorf("writing public key: %w", err)
	}
	return pubLine, nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
