// Package platform wires the identity codec, providers, sync channel,
// and HTTP middleware into one configured unit.
package platform

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete configuration for both the gateway and the
// reference persistence service.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Thread ThreadConfig `yaml:"thread"`
	Sync   SyncConfig   `yaml:"sync"`
	Store  StoreConfig  `yaml:"store"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Address        string `yaml:"address"`
	MetricsAddress string `yaml:"metrics_address"` // empty disables the metrics listener
}

// ThreadConfig configures identifier handling and the thread registry.
type ThreadConfig struct {
	// Secret signs thread identifiers. Required for the gateway.
	Secret string `yaml:"secret"`

	Header          string        `yaml:"header"`
	Cookie          string        `yaml:"cookie"`
	IdleTTL         time.Duration `yaml:"idle_ttl"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// SyncConfig configures the remote-sync channel. An empty APIKey
// disables remote persistence entirely.
type SyncConfig struct {
	URL            string        `yaml:"url"`
	APIKey         string        `yaml:"api_key"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	ReconnectBase  time.Duration `yaml:"reconnect_base"`
	ReconnectMax   time.Duration `yaml:"reconnect_max"`
	MaxAttempts    int           `yaml:"max_attempts"`
}

// StoreConfig configures the reference persistence service.
type StoreConfig struct {
	// Backend selects the storage engine: "memory" or "postgres".
	Backend string `yaml:"backend"`

	// APIKey accepted from clients, in the clear. Ignored when
	// APIKeyHash is set.
	APIKey string `yaml:"api_key"`

	// APIKeyHash is a bcrypt hash of the accepted key.
	APIKeyHash string `yaml:"api_key_hash"`

	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig configures the PostgreSQL backend.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// LoadConfig reads, env-expands, parses, and defaults a YAML config.
func LoadConfig(path string) (*Config, error) {
	// #nosec G304 -- path is from CLI args, controlled by admin
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	data = []byte(expandEnvVars(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// applyDefaults fills unset fields with working defaults.
func applyDefaults(cfg *Config) {
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "memory"
	}
}

// Validate checks the configuration for the gateway role.
func (c *Config) Validate() error {
	if c.Thread.Secret == "" {
		return fmt.Errorf("thread.secret is required")
	}
	if c.Sync.APIKey != "" && c.Sync.URL == "" {
		return fmt.Errorf("sync.url is required when sync.api_key is set")
	}
	return nil
}

// envVarPattern matches ${VAR} references in config files.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} references with environment values.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(match[2 : len(match)-1])
	})
}
