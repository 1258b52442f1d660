// ABOUTME: Factory registry building connections from opaque per-transport config maps
// ABOUTME: Constructed once at agent assembly and passed to whoever wires connections

package connection

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Registry errors
var (
	ErrUnknownType      = errors.New("unknown connection type")
	ErrDuplicateFactory = errors.New("connection type already registered")
	ErrBadConfig        = errors.New("invalid connection config")
)

// Identity is the local agent's name and address.
type Identity struct {
	Name    string
	Address string
}

// Config is the opaque, transport-specific configuration of one connection.
type Config map[string]any

// String returns a string value or def when absent.
func (c Config) String(key, def string) string {
	if v, ok := c[key].(string); ok && v != "" {
		return v
	}
	return def
}

// Int returns an integer value or def when absent.
func (c Config) Int(key string, def int) int {
	switch v := c[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

// Bool returns a boolean value or def when absent.
func (c Config) Bool(key string, def bool) bool {
	if v, ok := c[key].(bool); ok {
		return v
	}
	return def
}

// Duration parses a duration string value, or returns def when absent.
func (c Config) Duration(key string, def time.Duration) (time.Duration, error) {
	raw, ok := c[key]
	if !ok {
		return def, nil
	}
	s, ok := raw.(string)
	if !ok {
		return 0, fmt.Errorf("%w: %s must be a duration string", ErrBadConfig, key)
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%w: parsing %s %q: %v", ErrBadConfig, key, s, err)
	}
	return d, nil
}

// Require returns the string value for key or an ErrBadConfig error.
func (c Config) Require(key string) (string, error) {
	v := c.String(key, "")
	if v == "" {
		return "", fmt.Errorf("%w: %s is required", ErrBadConfig, key)
	}
	return v, nil
}

// Factory builds a connection from its configuration.
type Factory func(id string, identity Identity, cfg Config, logger *slog.Logger) (Connection, error)

// Registry maps connection types to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory for typeName.
func (r *Registry) Register(typeName string, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[typeName]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateFactory, typeName)
	}
	r.factories[typeName] = f
	return nil
}

// FromConfig builds a connection of typeName with the given id.
func (r *Registry) FromConfig(typeName, id string, identity Identity, cfg Config, logger *slog.Logger) (Connection, error) {
	r.mu.RLock()
	f, ok := r.factories[typeName]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, typeName)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = Config{}
	}
	conn, err := f(id, identity, cfg, logger.With("connection_id", id))
	if err != nil {
		return nil, fmt.Errorf("building connection %s (%s): %w", id, typeName, err)
	}
	return conn, nil
}

// Types returns the registered type names, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for k := range r.factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
