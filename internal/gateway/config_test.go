// ABOUTME: Tests for gateway host list parsing and TLS path derivation.
// ABOUTME: Covers triple parsing, whitespace handling, and skip-on-error behavior.

package gateway

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseHosts_SingleTriple(t *testing.T) {
	configs := ParseHosts("gw-sw1:192.0.2.10:6632", TLSBasePaths{}, discardLogger())

	require.Len(t, configs, 1)
	assert.Equal(t, "gw-sw1", configs[0].Identifier)
	assert.Equal(t, "192.0.2.10", configs[0].Host)
	assert.Equal(t, 6632, configs[0].Port)
	assert.False(t, configs[0].UseTLS())
	assert.Equal(t, "192.0.2.10:6632", configs[0].Endpoint())
}

func TestParseHosts_MultipleTriples(t *testing.T) {
	configs := ParseHosts("gw1:10.0.0.1:6632,gw2:10.0.0.2:6640", TLSBasePaths{}, discardLogger())

	require.Len(t, configs, 2)
	assert.Equal(t, "gw1", configs[0].Identifier)
	assert.Equal(t, "gw2", configs[1].Identifier)
	assert.Equal(t, 6640, configs[1].Port)
}

func TestParseHosts_TrimsWhitespace(t *testing.T) {
	configs := ParseHosts(" gw1 : 10.0.0.1 : 6632 , gw2:10.0.0.2:6632", TLSBasePaths{}, discardLogger())

	require.Len(t, configs, 2)
	assert.Equal(t, "gw1", configs[0].Identifier)
	assert.Equal(t, "10.0.0.1", configs[0].Host)
}

func TestParseHosts_Empty(t *testing.T) {
	assert.Nil(t, ParseHosts("", TLSBasePaths{}, discardLogger()))
	assert.Nil(t, ParseHosts("   ", TLSBasePaths{}, discardLogger()))
}

func TestParseHosts_SkipsBadEntries(t *testing.T) {
	tests := []struct {
		name  string
		hosts string
	}{
		{name: "missing port", hosts: "gw1:10.0.0.1"},
		{name: "too many fields", hosts: "gw1:10.0.0.1:6632:extra"},
		{name: "empty identifier", hosts: ":10.0.0.1:6632"},
		{name: "empty host", hosts: "gw1::6632"},
		{name: "non-numeric port", hosts: "gw1:10.0.0.1:ovsdb"},
		{name: "port out of range", hosts: "gw1:10.0.0.1:70000"},
		{name: "zero port", hosts: "gw1:10.0.0.1:0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// The bad entry is skipped, the good one survives.
			configs := ParseHosts(tt.hosts+",ok:10.0.0.9:6632", TLSBasePaths{}, discardLogger())
			require.Len(t, configs, 1)
			assert.Equal(t, "ok", configs[0].Identifier)
		})
	}
}

func TestParseHosts_TLSDerivation(t *testing.T) {
	tls := TLSBasePaths{
		PrivateKeyBase:  "/etc/l2gw/keys",
		CertificateBase: "/etc/l2gw/certs",
		CACertBase:      "/etc/l2gw/ca",
	}
	configs := ParseHosts("gw-sw1:192.0.2.10:6632", tls, discardLogger())

	require.Len(t, configs, 1)
	cfg := configs[0]
	assert.True(t, cfg.UseTLS())
	assert.Equal(t, "/etc/l2gw/keys/gw-sw1.key", cfg.PrivateKeyPath)
	assert.Equal(t, "/etc/l2gw/certs/gw-sw1.cert", cfg.CertificatePath)
	assert.Equal(t, "/etc/l2gw/ca/gw-sw1.ca_cert", cfg.CACertPath)
}

func TestParseHosts_TLSDisabledWithoutAllBases(t *testing.T) {
	tls := TLSBasePaths{PrivateKeyBase: "/etc/l2gw/keys"}
	assert.False(t, tls.Enabled())

	configs := ParseHosts("gw1:10.0.0.1:6632", tls, discardLogger())
	require.Len(t, configs, 1)
	assert.False(t, configs[0].UseTLS())
	assert.Empty(t, configs[0].PrivateKeyPath)
}
