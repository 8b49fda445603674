// ABOUTME: Registry of configured gateways and their monitoring connection handles.
// ABOUTME: Single owner of connection handles; everything else borrows them briefly.

package gateway

import (
	"errors"
	"log/slog"
	"sync"
)

// ErrGatewayNotFound indicates the specified gateway is not registered.
var ErrGatewayNotFound = errors.New("gateway not found")

// ConnectionHandle is a live monitoring connection to one gateway.
// Disconnect is idempotent and safe to call at any point of the connection
// lifecycle, including mid-dial and mid-event-loop.
type ConnectionHandle interface {
	Connected() bool
	Disconnect()
}

// Entry pairs a gateway Config with its current monitoring handle.
// The handle is nil while the gateway is disconnected.
type Entry struct {
	Config Config

	mu     sync.RWMutex
	handle ConnectionHandle
}

// Handle returns the current monitoring handle, or nil.
func (e *Entry) Handle() ConnectionHandle {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.handle
}

// SetHandle replaces the monitoring handle. Pass nil to clear it.
func (e *Entry) SetHandle(h ConnectionHandle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handle = h
}

// Connected reports whether the entry has a handle that reports connected.
func (e *Entry) Connected() bool {
	h := e.Handle()
	return h != nil && h.Connected()
}

// Registry tracks all configured gateways by identifier.
type Registry struct {
	mu       sync.RWMutex
	gateways map[string]*Entry
	logger   *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		gateways: make(map[string]*Entry),
		logger:   logger.With("component", "gateway-registry"),
	}
}

// Register inserts the entry for cfg.Identifier, replacing any existing one.
func (r *Registry) Register(cfg Config) *Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := &Entry{Config: cfg}
	r.gateways[cfg.Identifier] = entry
	r.logger.Info("gateway registered",
		"gateway_id", cfg.Identifier,
		"endpoint", cfg.Endpoint(),
		"tls", cfg.UseTLS(),
		"total_gateways", len(r.gateways),
	)
	return entry
}

// Get retrieves the entry for the given identifier.
func (r *Registry) Get(id string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.gateways[id]
	return entry, ok
}

// All returns a snapshot of every registered entry, in no particular order.
func (r *Registry) All() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]*Entry, 0, len(r.gateways))
	for _, entry := range r.gateways {
		entries = append(entries, entry)
	}
	return entries
}

// IsValid reports whether id names a registered gateway. Empty identifiers
// are invalid. Callers are expected to treat an invalid identifier as a
// dropped request, not an error condition.
func (r *Registry) IsValid(id string) bool {
	if id == "" {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.gateways[id]
	return ok
}

// Len returns the number of registered gateways.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.gateways)
}
