// ABOUTME: Configuration loading and parsing for agent-runtime and agent-relay
// ABOUTME: Supports YAML and TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/2389/agent-runtime/internal/auth"
)

// Defaults applied to unset fields.
const (
	DefaultTickInterval  = 100 * time.Millisecond
	DefaultMaxReactions  = 20
	DefaultQueueCapacity = 1024
	DefaultMaxWorkers    = 4
	DefaultWorkerQueue   = 256
	DefaultMetricsAddr   = ":9090"
	DefaultMetricsPath   = "/metrics"
	DefaultRelayAddr     = ":7777"
	DefaultDedupeTTL     = 5 * time.Minute
	DefaultDedupeSize    = 10000
)

// Config represents the complete configuration file
type Config struct {
	Agent       AgentConfig        `yaml:"agent" toml:"agent"`
	Connections []ConnectionConfig `yaml:"connections" toml:"connections"`
	Skills      []SkillConfig      `yaml:"skills" toml:"skills"`
	Outbox      QueueConfig        `yaml:"outbox" toml:"outbox"`
	Inbox       QueueConfig        `yaml:"inbox" toml:"inbox"`
	Workers     WorkersConfig      `yaml:"workers" toml:"workers"`
	Ledgers     []string           `yaml:"ledgers" toml:"ledgers"`
	Database    DatabaseConfig     `yaml:"database" toml:"database"`
	Logging     LoggingConfig      `yaml:"logging" toml:"logging"`
	Metrics     MetricsConfig      `yaml:"metrics" toml:"metrics"`
	Relay       RelayConfig        `yaml:"relay" toml:"relay"`
}

// AgentConfig holds the agent identity and loop timing
type AgentConfig struct {
	Name              string        `yaml:"name" toml:"name"`
	Address           string        `yaml:"address" toml:"address"`
	MaxReactions      int           `yaml:"max_reactions" toml:"max_reactions"`
	DefaultConnection string        `yaml:"default_connection" toml:"default_connection"`
	TickInterval      time.Duration `yaml:"-" toml:"-"`

	// Raw string value for unmarshaling
	TickIntervalRaw string `yaml:"tick_interval" toml:"tick_interval"`
}

// ConnectionConfig declares one connection. Config is passed verbatim to
// the factory registered for Type.
type ConnectionConfig struct {
	ID     string         `yaml:"id" toml:"id"`
	Type   string         `yaml:"type" toml:"type"`
	Config map[string]any `yaml:"config" toml:"config"`
}

// SkillConfig enables one named skill with its opaque config map.
type SkillConfig struct {
	Name   string         `yaml:"name" toml:"name"`
	Config map[string]any `yaml:"config" toml:"config"`
}

// QueueConfig bounds a multiplexer queue
type QueueConfig struct {
	Capacity int `yaml:"capacity" toml:"capacity"`
}

// WorkersConfig sizes the worker pool
type WorkersConfig struct {
	Max   int `yaml:"max" toml:"max"`
	Queue int `yaml:"queue" toml:"queue"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Addr    string `yaml:"addr" toml:"addr"`
	Path    string `yaml:"path" toml:"path"`
}

// RelayConfig holds relay server configuration
type RelayConfig struct {
	GRPCAddr   string        `yaml:"grpc_addr" toml:"grpc_addr"`
	JWTSecret  string        `yaml:"jwt_secret" toml:"jwt_secret"`
	DedupeSize int           `yaml:"dedupe_size" toml:"dedupe_size"`
	DedupeTTL  time.Duration `yaml:"-" toml:"-"`

	DedupeTTLRaw string `yaml:"dedupe_ttl" toml:"dedupe_ttl"`
}

// Load reads an agent configuration file and validates it.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	cfg, err := parse(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// LoadRelay reads a relay configuration file and validates its relay section.
func LoadRelay(path string) (*Config, error) {
	cfg, err := parse(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateRelay(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func parse(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expanded := expandEnvVars(string(data))

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func applyDefaults(cfg *Config) {
	if cfg.Agent.Name == "" {
		cfg.Agent.Name = cfg.Agent.Address
	}
	if cfg.Agent.TickInterval == 0 {
		cfg.Agent.TickInterval = DefaultTickInterval
	}
	if cfg.Agent.MaxReactions == 0 {
		cfg.Agent.MaxReactions = DefaultMaxReactions
	}
	if cfg.Outbox.Capacity == 0 {
		cfg.Outbox.Capacity = DefaultQueueCapacity
	}
	if cfg.Inbox.Capacity == 0 {
		cfg.Inbox.Capacity = DefaultQueueCapacity
	}
	if cfg.Workers.Max == 0 {
		cfg.Workers.Max = DefaultMaxWorkers
	}
	if cfg.Workers.Queue == 0 {
		cfg.Workers.Queue = DefaultWorkerQueue
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = DefaultMetricsAddr
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}
	if cfg.Relay.GRPCAddr == "" {
		cfg.Relay.GRPCAddr = DefaultRelayAddr
	}
	if cfg.Relay.DedupeTTL == 0 {
		cfg.Relay.DedupeTTL = DefaultDedupeTTL
	}
	if cfg.Relay.DedupeSize == 0 {
		cfg.Relay.DedupeSize = DefaultDedupeSize
	}
}

// Validate checks that all fields an agent needs are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Agent.Address == "" {
		return fmt.Errorf("agent.address is required")
	}
	if c.Agent.TickInterval < 0 {
		return fmt.Errorf("agent.tick_interval must be positive")
	}
	if c.Agent.MaxReactions < 0 {
		return fmt.Errorf("agent.max_reactions must not be negative")
	}
	if len(c.Connections) == 0 {
		return fmt.Errorf("at least one connection is required")
	}

	seen := make(map[string]bool, len(c.Connections))
	for i, conn := range c.Connections {
		if conn.ID == "" {
			return fmt.Errorf("connections[%d].id is required", i)
		}
		if conn.Type == "" {
			return fmt.Errorf("connections[%d].type is required", i)
		}
		if seen[conn.ID] {
			return fmt.Errorf("connections[%d].id %q is duplicated", i, conn.ID)
		}
		seen[conn.ID] = true
	}
	for i, skill := range c.Skills {
		if skill.Name == "" {
			return fmt.Errorf("skills[%d].name is required", i)
		}
	}
	if c.Agent.DefaultConnection != "" && !seen[c.Agent.DefaultConnection] {
		return fmt.Errorf("agent.default_connection %q is not a configured connection", c.Agent.DefaultConnection)
	}

	if c.Outbox.Capacity < 0 || c.Inbox.Capacity < 0 {
		return fmt.Errorf("queue capacities must not be negative")
	}
	if c.Workers.Max < 0 || c.Workers.Queue < 0 {
		return fmt.Errorf("workers.max and workers.queue must not be negative")
	}
	if len(c.Ledgers) > 0 && c.Database.Path == "" {
		return fmt.Errorf("database.path is required when ledgers are configured")
	}
	return c.validateLogging()
}

// ValidateRelay checks the fields the relay server needs.
func (c *Config) ValidateRelay() error {
	if c.Relay.GRPCAddr == "" {
		return fmt.Errorf("relay.grpc_addr is required")
	}
	if c.Relay.JWTSecret != "" && len(c.Relay.JWTSecret) < auth.MinSecretLength {
		return fmt.Errorf("relay.jwt_secret must be at least %d bytes", auth.MinSecretLength)
	}
	if c.Relay.DedupeTTL < 0 || c.Relay.DedupeSize < 0 {
		return fmt.Errorf("relay.dedupe_ttl and relay.dedupe_size must not be negative")
	}
	return c.validateLogging()
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Agent.TickIntervalRaw != "" {
		cfg.Agent.TickInterval, err = time.ParseDuration(cfg.Agent.TickIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing tick_interval %q: %w", cfg.Agent.TickIntervalRaw, err)
		}
	}

	if cfg.Relay.DedupeTTLRaw != "" {
		cfg.Relay.DedupeTTL, err = time.ParseDuration(cfg.Relay.DedupeTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing dedupe_ttl %q: %w", cfg.Relay.DedupeTTLRaw, err)
		}
	}

	return nil
}
