package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Database       DatabaseConfig       `yaml:"database"`
	Server         ServerConfig         `yaml:"server"`
	Bidding        BiddingConfig        `yaml:"bidding"`
	Idempotency    IdempotencyConfig    `yaml:"idempotency"`
	Broadcast      BroadcastConfig      `yaml:"broadcast"`
	Lifecycle      LifecycleConfig      `yaml:"lifecycle"`
	Discord        DiscordConfig        `yaml:"discord"`
	Telemetry      TelemetryConfig      `yaml:"telemetry"`
	LeaderElection LeaderElectionConfig `yaml:"leader_election"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	DBName       string `yaml:"dbname"`
	SSLMode      string `yaml:"sslmode"`
	Driver       string `yaml:"driver"` // "postgres", "bun" or "memory"
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// DSN returns the Postgres connection string in key/value form.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// URL returns the Postgres connection string in URL form.
func (d DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// BiddingConfig tunes the per-lot serialization point.
type BiddingConfig struct {
	// LockTimeout bounds how long a bid waits for the per-lot lock.
	LockTimeout time.Duration `yaml:"lock_timeout"`
	// MaxRetries is how many times a busy lot is retried before ErrLotBusy
	// reaches the caller.
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// IdempotencyConfig sizes the Idempotency-Key response cache.
type IdempotencyConfig struct {
	Size int           `yaml:"size"`
	TTL  time.Duration `yaml:"ttl"`
}

// BroadcastConfig holds live update settings.
type BroadcastConfig struct {
	SubscriberBuffer int `yaml:"subscriber_buffer"`
}

// LifecycleConfig controls the auction status syncer.
type LifecycleConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// DiscordConfig holds Discord bot settings.
type DiscordConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Token     string `yaml:"token"`
	GuildID   string `yaml:"guild_id"`
	ChannelID string `yaml:"channel_id"` // live updates are posted here when set
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	Insecure       bool   `yaml:"insecure"`
}

// LeaderElectionConfig holds Kubernetes leader election settings.
type LeaderElectionConfig struct {
	Enabled        bool          `yaml:"enabled"`
	LeaseName      string        `yaml:"lease_name"`
	LeaseNamespace string        `yaml:"lease_namespace"`
	LeaseDuration  time.Duration `yaml:"lease_duration"`
	RenewDeadline  time.Duration `yaml:"renew_deadline"`
	RetryPeriod    time.Duration `yaml:"retry_period"`
}

// Default returns the configuration used when a key is absent from the file.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Host:         "localhost",
			Port:         5432,
			SSLMode:      "disable",
			Driver:       "postgres",
			MaxOpenConns: 20,
		},
		Bidding: BiddingConfig{
			LockTimeout:  2 * time.Second,
			MaxRetries:   2,
			RetryBackoff: 50 * time.Millisecond,
		},
		Idempotency: IdempotencyConfig{
			Size: 10000,
			TTL:  10 * time.Minute,
		},
		Broadcast: BroadcastConfig{
			SubscriberBuffer: 16,
		},
		Lifecycle: LifecycleConfig{
			Enabled:  true,
			Interval: time.Minute,
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "bidcore",
			ServiceVersion: "0.1.0",
		},
		LeaderElection: LeaderElectionConfig{
			Enabled:        false,
			LeaseName:      "bidcore-leader",
			LeaseNamespace: "default",
			LeaseDuration:  15 * time.Second,
			RenewDeadline:  10 * time.Second,
			RetryPeriod:    2 * time.Second,
		},
	}
}

// Load reads a YAML configuration file from the given path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres", "bun", "memory":
		// valid
	default:
		return fmt.Errorf("unsupported database driver %q: must be \"postgres\", \"bun\" or \"memory\"", c.Database.Driver)
	}
	if c.Bidding.LockTimeout <= 0 {
		return fmt.Errorf("bidding.lock_timeout must be positive, got %s", c.Bidding.LockTimeout)
	}
	if c.Bidding.MaxRetries < 0 {
		return fmt.Errorf("bidding.max_retries must not be negative, got %d", c.Bidding.MaxRetries)
	}
	if c.Idempotency.Size <= 0 {
		return fmt.Errorf("idempotency.size must be positive, got %d", c.Idempotency.Size)
	}
	if c.Lifecycle.Enabled && c.Lifecycle.Interval <= 0 {
		return fmt.Errorf("lifecycle.interval must be positive when the syncer is enabled")
	}
	if c.Discord.Enabled && c.Discord.Token == "" {
		return fmt.Errorf("discord.token is required when discord is enabled")
	}
	return nil
}
