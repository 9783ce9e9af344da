// Package config defines the top-level configuration for the replication
// gateway and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by FIXMIRROR_* environment
// variables.
type Config struct {
	Fix         FixConfig         `toml:"fix"`
	Replication ReplicationConfig `toml:"replication"`
	Locate      LocateConfig      `toml:"locate"`
	Postgres    PostgresConfig    `toml:"postgres"`
	Redis       RedisConfig       `toml:"redis"`
	S3          S3Config          `toml:"s3"`
	Archive     ArchiveConfig     `toml:"archive"`
	LogLevel    string            `toml:"log_level"`
}

// FixConfig holds the quickfix session layer settings. SettingsPath points
// at a standard quickfix settings file defining both sessions; the comp IDs
// here classify each session's role at runtime.
type FixConfig struct {
	SettingsPath string `toml:"settings_path"`

	DropCopySenderCompID   string `toml:"drop_copy_sender_comp_id"`
	DropCopyTargetCompID   string `toml:"drop_copy_target_comp_id"`
	OrderEntrySenderCompID string `toml:"order_entry_sender_comp_id"`

	LogonUsername string `toml:"logon_username"`
	LogonPassword string `toml:"logon_password"`

	// Trading window for the initiator restart after a not-trade-day
	// logout, expressed as offsets from midnight in Timezone.
	WindowOpen  duration `toml:"window_open"`
	WindowClose duration `toml:"window_close"`
	Timezone    string   `toml:"timezone"`
}

// ReplicationConfig holds the replication engine settings.
type ReplicationConfig struct {
	// PrimaryAccount is logged at startup as the expected watched account;
	// the authoritative primary/shadow classification comes from the
	// accounts reference table.
	PrimaryAccount string `toml:"primary_account"`
	// WorkerPoolSize bounds cross-order handler parallelism.
	WorkerPoolSize int `toml:"worker_pool_size"`
	// RetryRoutes re-emits route-rejected shadows without a destination.
	RetryRoutes bool `toml:"retry_routes"`
	// RefreshInterval reloads reference data periodically; zero loads it
	// once at startup.
	RefreshInterval duration `toml:"refresh_interval"`
}

// LocateConfig holds the short-locate workflow settings.
type LocateConfig struct {
	// Timeout is how long a locate request may stay pending.
	Timeout duration `toml:"timeout"`
	// MonitorInterval is the expiry scan period.
	MonitorInterval duration `toml:"monitor_interval"`
	// MaxOfferPx caps the per-share rate accepted on unsolicited offers;
	// zero accepts any rate.
	MaxOfferPx float64 `toml:"max_offer_px"`
	// Broker restricts default locate route selection; empty allows any.
	Broker string `toml:"broker"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. An empty Addr disables the
// Redis-backed adapters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	Stream     string `toml:"stream"`
}

// S3Config holds S3-compatible object storage parameters. An empty Bucket
// disables the archiver.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig holds execution-log archival settings.
type ArchiveConfig struct {
	Retention duration `toml:"retention"`
	Interval  duration `toml:"interval"`
	BatchSize int      `toml:"batch_size"`
	Prune     bool     `toml:"prune"`
}

// duration wraps time.Duration for TOML decoding of strings like "30s".
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Fix: FixConfig{
			SettingsPath: "fix.cfg",
			WindowOpen:   duration{4 * time.Hour},
			WindowClose:  duration{20 * time.Hour},
			Timezone:     "America/New_York",
		},
		Replication: ReplicationConfig{
			WorkerPoolSize: 8,
		},
		Locate: LocateConfig{
			Timeout:         duration{30 * time.Second},
			MonitorInterval: duration{10 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "fixmirror",
			SSLMode:       "disable",
			PoolMaxConns:  8,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Archive: ArchiveConfig{
			Interval:  duration{time.Hour},
			BatchSize: 5000,
		},
		LogLevel: "info",
	}
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks the configuration for internal consistency. All problems
// are reported at once.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Fix.SettingsPath == "" {
		errs = append(errs, "fix: settings_path must not be empty")
	}
	if c.Fix.DropCopySenderCompID == "" || c.Fix.DropCopyTargetCompID == "" {
		errs = append(errs, "fix: drop_copy_sender_comp_id and drop_copy_target_comp_id must be set")
	}
	if c.Fix.OrderEntrySenderCompID == "" {
		errs = append(errs, "fix: order_entry_sender_comp_id must be set")
	}
	if c.Fix.Timezone != "" {
		if _, err := time.LoadLocation(c.Fix.Timezone); err != nil {
			errs = append(errs, fmt.Sprintf("fix: unknown timezone %q", c.Fix.Timezone))
		}
	}
	if c.Fix.WindowOpen.Duration >= c.Fix.WindowClose.Duration {
		errs = append(errs, "fix: window_open must precede window_close")
	}

	if c.Replication.WorkerPoolSize < 1 {
		errs = append(errs, "replication: worker_pool_size must be at least 1")
	}

	if c.Locate.Timeout.Duration <= 0 {
		errs = append(errs, "locate: timeout must be positive")
	}
	if c.Locate.MonitorInterval.Duration <= 0 {
		errs = append(errs, "locate: monitor_interval must be positive")
	}
	if c.Locate.MaxOfferPx < 0 {
		errs = append(errs, "locate: max_offer_px must not be negative")
	}

	if c.Postgres.DSN == "" {
		if c.Postgres.Host == "" || c.Postgres.Database == "" || c.Postgres.User == "" {
			errs = append(errs, "postgres: either dsn or host/database/user must be set")
		}
	}

	if c.S3.Bucket != "" && c.S3.Region == "" {
		errs = append(errs, "s3: region is required when bucket is set")
	}
	if c.Archive.Retention.Duration > 0 && c.S3.Bucket == "" {
		errs = append(errs, "archive: retention requires an s3 bucket")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}
