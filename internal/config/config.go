// ABOUTME: Configuration loading and parsing for l2gw-agent
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete l2gw-agent configuration
type Config struct {
	Agent   AgentConfig   `yaml:"agent"`
	Plant   PlantConfig   `yaml:"plant"`
	OVSDB   OVSDBConfig   `yaml:"ovsdb"`
	Debug   DebugConfig   `yaml:"debug"`
	Logging LoggingConfig `yaml:"logging"`
}

// AgentConfig identifies this agent to the control plane
type AgentConfig struct {
	// ID defaults to the hostname when unset
	ID string `yaml:"id"`
}

// PlantConfig holds control-plane connection configuration
type PlantConfig struct {
	URL         string `yaml:"url"`
	TokenSecret string `yaml:"token_secret"`
	SSHKeyPath  string `yaml:"ssh_key_path"`

	// ReportFailureThreshold is the number of consecutive state-report
	// failures treated as a lost heartbeat.
	ReportFailureThreshold int `yaml:"report_failure_threshold"`

	ReportInterval      time.Duration `yaml:"-"`
	ReportTimeout       time.Duration `yaml:"-"`
	ReconnectBackoffMax time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	ReportIntervalRaw      string `yaml:"report_interval"`
	ReportTimeoutRaw       string `yaml:"report_timeout"`
	ReconnectBackoffMaxRaw string `yaml:"reconnect_backoff_max"`
}

// OVSDBConfig holds gateway connection configuration
type OVSDBConfig struct {
	// Hosts is a comma-separated list of identifier:host:port triples
	Hosts string `yaml:"hosts"`

	// TLS base directories. Set all three or none; per-gateway files are
	// <base>/<identifier>.key, .cert, and .ca_cert.
	PrivateKeyBase  string `yaml:"private_key_base"`
	CertificateBase string `yaml:"certificate_base"`
	CACertBase      string `yaml:"ca_cert_base"`

	MaxConnectionRetries int `yaml:"max_connection_retries"`

	RetryDelay       time.Duration `yaml:"-"`
	DialTimeout      time.Duration `yaml:"-"`
	ResponseTimeout  time.Duration `yaml:"-"`
	PeriodicInterval time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	RetryDelayRaw       string `yaml:"retry_delay"`
	DialTimeoutRaw      string `yaml:"dial_timeout"`
	ResponseTimeoutRaw  string `yaml:"response_timeout"`
	PeriodicIntervalRaw string `yaml:"periodic_interval"`
}

// DebugConfig holds the local debug HTTP endpoint configuration
type DebugConfig struct {
	Enabled  bool   `yaml:"enabled"`
	HTTPAddr string `yaml:"http_addr"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	applyDefaults(&cfg)

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in the values a minimal config file may omit.
func applyDefaults(cfg *Config) {
	if cfg.Agent.ID == "" {
		if host, err := os.Hostname(); err == nil {
			cfg.Agent.ID = host
		}
	}

	if cfg.Plant.ReportInterval == 0 {
		cfg.Plant.ReportInterval = 10 * time.Second
	}
	if cfg.Plant.ReportTimeout == 0 {
		cfg.Plant.ReportTimeout = 5 * time.Second
	}
	if cfg.Plant.ReconnectBackoffMax == 0 {
		cfg.Plant.ReconnectBackoffMax = 30 * time.Second
	}
	if cfg.Plant.ReportFailureThreshold == 0 {
		cfg.Plant.ReportFailureThreshold = 3
	}

	if cfg.OVSDB.MaxConnectionRetries == 0 {
		cfg.OVSDB.MaxConnectionRetries = 10
	}
	if cfg.OVSDB.RetryDelay == 0 {
		cfg.OVSDB.RetryDelay = time.Second
	}
	if cfg.OVSDB.DialTimeout == 0 {
		cfg.OVSDB.DialTimeout = 5 * time.Second
	}
	if cfg.OVSDB.ResponseTimeout == 0 {
		cfg.OVSDB.ResponseTimeout = 30 * time.Second
	}
	if cfg.OVSDB.PeriodicInterval == 0 {
		cfg.OVSDB.PeriodicInterval = 20 * time.Second
	}

	if cfg.Debug.HTTPAddr == "" {
		cfg.Debug.HTTPAddr = "127.0.0.1:9642"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Agent.ID == "" {
		return fmt.Errorf("agent.id is required (hostname lookup failed)")
	}

	if c.Plant.URL == "" {
		return fmt.Errorf("plant.url is required")
	}
	if !strings.HasPrefix(c.Plant.URL, "ws://") && !strings.HasPrefix(c.Plant.URL, "wss://") {
		return fmt.Errorf("plant.url must be a ws:// or wss:// URL, got %q", c.Plant.URL)
	}
	if c.Plant.TokenSecret == "" {
		return fmt.Errorf("plant.token_secret is required")
	}
	if c.Plant.SSHKeyPath == "" {
		return fmt.Errorf("plant.ssh_key_path is required")
	}

	// TLS base paths come as a full bundle or not at all
	bases := []string{c.OVSDB.PrivateKeyBase, c.OVSDB.CertificateBase, c.OVSDB.CACertBase}
	set := 0
	for _, b := range bases {
		if b != "" {
			set++
		}
	}
	if set != 0 && set != len(bases) {
		return fmt.Errorf("ovsdb TLS base paths must be set together (private_key_base, certificate_base, ca_cert_base)")
	}

	// The whole connect-retry budget must fit inside one supervisor tick,
	// otherwise a slow gateway stalls every later gateway in the same pass.
	intervalSeconds := int(c.OVSDB.PeriodicInterval.Seconds())
	if c.OVSDB.MaxConnectionRetries >= intervalSeconds {
		return fmt.Errorf("ovsdb.max_connection_retries (%d) must be less than ovsdb.periodic_interval in seconds (%d)",
			c.OVSDB.MaxConnectionRetries, intervalSeconds)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"plant.report_interval", cfg.Plant.ReportIntervalRaw, &cfg.Plant.ReportInterval},
		{"plant.report_timeout", cfg.Plant.ReportTimeoutRaw, &cfg.Plant.ReportTimeout},
		{"plant.reconnect_backoff_max", cfg.Plant.ReconnectBackoffMaxRaw, &cfg.Plant.ReconnectBackoffMax},
		{"ovsdb.retry_delay", cfg.OVSDB.RetryDelayRaw, &cfg.OVSDB.RetryDelay},
		{"ovsdb.dial_timeout", cfg.OVSDB.DialTimeoutRaw, &cfg.OVSDB.DialTimeout},
		{"ovsdb.response_timeout", cfg.OVSDB.ResponseTimeoutRaw, &cfg.OVSDB.ResponseTimeout},
		{"ovsdb.periodic_interval", cfg.OVSDB.PeriodicIntervalRaw, &cfg.OVSDB.PeriodicInterval},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
