// ABOUTME: Per-gateway connection configuration and host list parsing.
// ABOUTME: Derives TLS file paths from base directories and the gateway identifier.

package gateway

import (
	"fmt"
	"log/slog"
	"net"
	"path/filepath"
	"strconv"
	"strings"
)

// Config describes a single OVSDB gateway endpoint. Immutable after creation.
type Config struct {
	// Identifier is the unique name this gateway is addressed by.
	Identifier string

	// Host and Port locate the gateway's OVSDB server.
	Host string
	Port int

	// TLS bundle file paths. Either all three are set or none.
	PrivateKeyPath  string
	CertificatePath string
	CACertPath      string
}

// Endpoint returns the dialable host:port address.
func (c Config) Endpoint() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// UseTLS reports whether the gateway connection uses TLS.
func (c Config) UseTLS() bool {
	return c.PrivateKeyPath != "" && c.CertificatePath != "" && c.CACertPath != ""
}

// TLSBasePaths holds the base directories TLS material is derived from.
// TLS is enabled only when all three are configured.
type TLSBasePaths struct {
	PrivateKeyBase  string
	CertificateBase string
	CACertBase      string
}

// Enabled reports whether TLS path derivation is in effect.
func (t TLSBasePaths) Enabled() bool {
	return t.PrivateKeyBase != "" && t.CertificateBase != "" && t.CACertBase != ""
}

// ParseHosts parses a comma-separated list of identifier:host:port triples
// into gateway Configs. Entries that fail to parse are logged and skipped so
// one bad host never takes the rest of the fleet down with it. An empty list
// yields nil.
func ParseHosts(hosts string, tls TLSBasePaths, logger *slog.Logger) []Config {
	if logger == nil {
		logger = slog.Default()
	}
	hosts = strings.TrimSpace(hosts)
	if hosts == "" {
		return nil
	}

	var configs []Config
	for _, raw := range strings.Split(hosts, ",") {
		cfg, err := parseHost(raw, tls)
		if err != nil {
			logger.Error("skipping unparseable gateway host",
				"host", strings.TrimSpace(raw),
				"error", err)
			continue
		}
		configs = append(configs, cfg)
	}
	return configs
}

// parseHost parses a single identifier:host:port triple.
func parseHost(raw string, tls TLSBasePaths) (Config, error) {
	parts := strings.Split(raw, ":")
	if len(parts) != 3 {
		return Config{}, fmt.Errorf("expected identifier:host:port, got %d fields", len(parts))
	}

	identifier := strings.TrimSpace(parts[0])
	host := strings.TrimSpace(parts[1])
	portStr := strings.TrimSpace(parts[2])

	if identifier == "" {
		return Config{}, fmt.Errorf("empty gateway identifier")
	}
	if host == "" {
		return Config{}, fmt.Errorf("empty gateway host")
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid port %q: %w", portStr, err)
	}
	if port < 1 || port > 65535 {
		return Config{}, fmt.Errorf("port %d out of range", port)
	}

	cfg := Config{
		Identifier: identifier,
		Host:       host,
		Port:       port,
	}
	if tls.Enabled() {
		cfg.PrivateKeyPath = filepath.Join(tls.PrivateKeyBase, identifier+".key")
		cfg.CertificatePath = filepath.Join(tls.CertificateBase, identifier+".cert")
		cfg.CACertPath = filepath.Join(tls.CACertBase, identifier+".ca_cert")
	}
	return cfg, nil
}
