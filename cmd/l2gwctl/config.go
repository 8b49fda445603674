// ABOUTME: Configuration loading for the l2gwctl operator CLI
// ABOUTME: Loads TOML config from XDG path with environment variable expansion

package main

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Agent      AgentConfig      `toml:"agent"`
	Controller ControllerConfig `toml:"controller"`
	Auth       AuthConfig       `toml:"auth"`
}

type AgentConfig struct {
	DebugURL string `toml:"debug_url"`
}

type ControllerConfig struct {
	AdminURL string `toml:"admin_url"`
}

type AuthConfig struct {
	TokenSecret string `toml:"token_secret"`
}

// getConfigPath returns the path to the ctl config file.
// Priority: L2GWCTL_CONFIG env var > XDG_CONFIG_HOME/l2gw/ctl.toml > ~/.config/l2gw/ctl.toml
func getConfigPath() string {
	if envPath := os.Getenv("L2GWCTL_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "ctl.toml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "l2gw", "ctl.toml")
}

// loadConfig reads the TOML config, expanding environment variables. A missing
// file is not an error; operators can run entirely on env vars and flags.
// Resolution order: defaults, config file, environment.
func loadConfig(path string) (*Config, error) {
	cfg := &Config{
		Agent: AgentConfig{DebugURL: "http://127.0.0.1:9642"},
	}

	data, err := os.ReadFile(path)
	if err == nil {
		// Expand environment variables (${VAR} syntax)
		expanded := expandEnvVars(string(data))
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if v := os.Getenv("L2GW_DEBUG_URL"); v != "" {
		cfg.Agent.DebugURL = v
	}
	if v := os.Getenv("L2GW_CONTROLLER_ADMIN_URL"); v != "" {
		cfg.Controller.AdminURL = v
	}
	if v := os.Getenv("L2GW_TOKEN_SECRET"); v != "" {
		cfg.Auth.TokenSecret = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR} with environment variable values.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(varName)
	})
}

// Validate checks that the configured URLs are well formed.
func (c *Config) Validate() error {
	if c.Agent.DebugURL == "" {
		return fmt.Errorf("agent.debug_url is required")
	}
	u, err := url.Parse(c.Agent.DebugURL)
	if err != nil {
		return fmt.Errorf("agent.debug_url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("agent.debug_url must use http or https scheme")
	}
	if c.Controller.AdminURL != "" {
		u, err := url.Parse(c.Controller.AdminURL)
		if err != nil {
			return fmt.Errorf("controller.admin_url is not a valid URL: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("controller.admin_url must use http or https scheme")
		}
	}
	return nil
}
