package config

import (
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies FIXMIRROR_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known FIXMIRROR_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Fix.SettingsPath, "FIXMIRROR_FIX_SETTINGS_PATH")
	setStr(&cfg.Fix.DropCopySenderCompID, "FIXMIRROR_FIX_DROP_COPY_SENDER_COMP_ID")
	setStr(&cfg.Fix.DropCopyTargetCompID, "FIXMIRROR_FIX_DROP_COPY_TARGET_COMP_ID")
	setStr(&cfg.Fix.OrderEntrySenderCompID, "FIXMIRROR_FIX_ORDER_ENTRY_SENDER_COMP_ID")
	setStr(&cfg.Fix.LogonUsername, "FIXMIRROR_FIX_LOGON_USERNAME")
	setStr(&cfg.Fix.LogonPassword, "FIXMIRROR_FIX_LOGON_PASSWORD")
	setStr(&cfg.Fix.Timezone, "FIXMIRROR_FIX_TIMEZONE")

	setStr(&cfg.Replication.PrimaryAccount, "FIXMIRROR_REPLICATION_PRIMARY_ACCOUNT")
	setInt(&cfg.Replication.WorkerPoolSize, "FIXMIRROR_REPLICATION_WORKER_POOL_SIZE")
	setBool(&cfg.Replication.RetryRoutes, "FIXMIRROR_REPLICATION_RETRY_ROUTES")
	setDuration(&cfg.Replication.RefreshInterval, "FIXMIRROR_REPLICATION_REFRESH_INTERVAL")

	setDuration(&cfg.Locate.Timeout, "FIXMIRROR_LOCATE_TIMEOUT")
	setDuration(&cfg.Locate.MonitorInterval, "FIXMIRROR_LOCATE_MONITOR_INTERVAL")
	setFloat64(&cfg.Locate.MaxOfferPx, "FIXMIRROR_LOCATE_MAX_OFFER_PX")
	setStr(&cfg.Locate.Broker, "FIXMIRROR_LOCATE_BROKER")

	setStr(&cfg.Postgres.DSN, "FIXMIRROR_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "FIXMIRROR_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "FIXMIRROR_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "FIXMIRROR_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "FIXMIRROR_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "FIXMIRROR_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "FIXMIRROR_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "FIXMIRROR_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "FIXMIRROR_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "FIXMIRROR_POSTGRES_RUN_MIGRATIONS")

	setStr(&cfg.Redis.Addr, "FIXMIRROR_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "FIXMIRROR_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "FIXMIRROR_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "FIXMIRROR_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "FIXMIRROR_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "FIXMIRROR_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.Stream, "FIXMIRROR_REDIS_STREAM")

	setStr(&cfg.S3.Endpoint, "FIXMIRROR_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "FIXMIRROR_S3_REGION")
	setStr(&cfg.S3.Bucket, "FIXMIRROR_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "FIXMIRROR_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "FIXMIRROR_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "FIXMIRROR_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "FIXMIRROR_S3_FORCE_PATH_STYLE")

	setDuration(&cfg.Archive.Retention, "FIXMIRROR_ARCHIVE_RETENTION")
	setDuration(&cfg.Archive.Interval, "FIXMIRROR_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.BatchSize, "FIXMIRROR_ARCHIVE_BATCH_SIZE")
	setBool(&cfg.Archive.Prune, "FIXMIRROR_ARCHIVE_PRUNE")

	setStr(&cfg.LogLevel, "FIXMIRROR_LOG_LEVEL")
}

// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}
