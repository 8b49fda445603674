// Package config handles configuration loading for l2gw-agent.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	plant:
//	  token_secret: "${L2GW_TOKEN_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	ovsdb:
//	  periodic_interval: "20s"
//	  retry_delay: "1s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Agent identity:
//
//	agent:
//	  id: "l2gw-agent-1"   # defaults to the hostname
//
// Control plane:
//
//	plant:
//	  url: "wss://controller.example.net:8443/agent/ws"
//	  token_secret: "${L2GW_TOKEN_SECRET}"
//	  ssh_key_path: "/etc/l2gw/agent_key"
//	  report_interval: "10s"
//	  report_failure_threshold: 3
//	  reconnect_backoff_max: "30s"
//
// Gateway connections:
//
//	ovsdb:
//	  hosts: "gw-east:203.0.113.10:6640,gw-west:203.0.113.20:6640"
//	  private_key_base: "/etc/l2gw/tls"    # optional, set all three or none
//	  certificate_base: "/etc/l2gw/tls"
//	  ca_cert_base: "/etc/l2gw/tls"
//	  max_connection_retries: 10
//	  retry_delay: "1s"
//	  dial_timeout: "5s"
//	  response_timeout: "30s"
//	  periodic_interval: "20s"
//
// Debug endpoint:
//
//	debug:
//	  enabled: true
//	  http_addr: "127.0.0.1:9642"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Validation
//
// Load() validates:
//
//   - Control-plane URL scheme (ws:// or wss://)
//   - Required secrets and key paths
//   - TLS base paths set together or not at all
//   - The connect-retry budget fitting inside one periodic interval
//   - Duration format validity
//
// # Usage
//
// Load configuration from a path:
//
//	cfg, err := config.Load("/etc/l2gw/agent.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
