package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Fix.DropCopySenderCompID = "MIRROR"
	cfg.Fix.DropCopyTargetCompID = "TERMINAL"
	cfg.Fix.OrderEntrySenderCompID = "MIRROR_OE"
	cfg.Postgres.User = "fixmirror"
	return cfg
}

func TestDefaultsAreValidOnceRequiredFieldsSet(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.LogLevel = "loud"
	cfg.Fix.SettingsPath = ""
	cfg.Fix.Timezone = "Mars/Olympus"
	cfg.Fix.WindowOpen = duration{20 * time.Hour}
	cfg.Fix.WindowClose = duration{4 * time.Hour}
	cfg.Replication.WorkerPoolSize = 0
	cfg.Locate.Timeout = duration{0}
	cfg.Locate.MaxOfferPx = -1
	cfg.Postgres.Host = ""
	cfg.Archive.Retention = duration{24 * time.Hour}

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		"log_level",
		"settings_path",
		"drop_copy_sender_comp_id",
		"order_entry_sender_comp_id",
		"timezone",
		"window_open",
		"worker_pool_size",
		"locate: timeout",
		"max_offer_px",
		"postgres",
		"archive: retention",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidateDSNReplacesDiscreteFields(t *testing.T) {
	cfg := validConfig()
	cfg.Postgres.Host = ""
	cfg.Postgres.User = ""
	cfg.Postgres.DSN = "postgres://u:p@db:5432/fixmirror"
	assert.NoError(t, cfg.Validate())
}

func TestValidateS3RegionRequired(t *testing.T) {
	cfg := validConfig()
	cfg.S3.Bucket = "fix-events"
	cfg.S3.Region = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3: region")

	cfg.S3.Region = "us-east-1"
	assert.NoError(t, cfg.Validate())
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level = "debug"

[fix]
settings_path = "sessions.cfg"
drop_copy_sender_comp_id = "MIRROR"
drop_copy_target_comp_id = "TERMINAL"
order_entry_sender_comp_id = "MIRROR_OE"
window_open = "5h"
window_close = "21h"

[replication]
primary_account = "TRJRRICH"
worker_pool_size = 4

[locate]
timeout = "45s"
max_offer_px = 0.05

[postgres]
user = "fixmirror"
password = "hunter2"
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "sessions.cfg", cfg.Fix.SettingsPath)
	assert.Equal(t, 5*time.Hour, cfg.Fix.WindowOpen.Duration)
	assert.Equal(t, "TRJRRICH", cfg.Replication.PrimaryAccount)
	assert.Equal(t, 4, cfg.Replication.WorkerPoolSize)
	assert.Equal(t, 45*time.Second, cfg.Locate.Timeout.Duration)
	assert.Equal(t, 0.05, cfg.Locate.MaxOfferPx)

	// Untouched sections keep their defaults.
	assert.Equal(t, "localhost", cfg.Postgres.Host)
	assert.Equal(t, 5432, cfg.Postgres.Port)
	assert.Equal(t, 10*time.Second, cfg.Locate.MonitorInterval.Duration)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[fix]
logon_username = "from-file"

[postgres]
user = "fixmirror"
`), 0o600))

	t.Setenv("FIXMIRROR_FIX_LOGON_USERNAME", "from-env")
	t.Setenv("FIXMIRROR_FIX_LOGON_PASSWORD", "s3cret")
	t.Setenv("FIXMIRROR_REPLICATION_WORKER_POOL_SIZE", "16")
	t.Setenv("FIXMIRROR_REPLICATION_RETRY_ROUTES", "true")
	t.Setenv("FIXMIRROR_LOCATE_TIMEOUT", "90s")
	t.Setenv("FIXMIRROR_LOCATE_MAX_OFFER_PX", "0.1")
	t.Setenv("FIXMIRROR_REDIS_ADDR", "redis:6379")
	t.Setenv("FIXMIRROR_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Fix.LogonUsername)
	assert.Equal(t, "s3cret", cfg.Fix.LogonPassword)
	assert.Equal(t, 16, cfg.Replication.WorkerPoolSize)
	assert.True(t, cfg.Replication.RetryRoutes)
	assert.Equal(t, 90*time.Second, cfg.Locate.Timeout.Duration)
	assert.Equal(t, 0.1, cfg.Locate.MaxOfferPx)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestMalformedEnvValueIsIgnored(t *testing.T) {
	cfg := Defaults()
	t.Setenv("FIXMIRROR_REPLICATION_WORKER_POOL_SIZE", "many")
	t.Setenv("FIXMIRROR_LOCATE_TIMEOUT", "soon")
	applyEnvOverrides(&cfg)

	assert.Equal(t, 8, cfg.Replication.WorkerPoolSize)
	assert.Equal(t, 30*time.Second, cfg.Locate.Timeout.Duration)
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Fix.LogonPassword = "s3cret"
	cfg.Postgres.Password = "hunter2"
	cfg.Postgres.DSN = "postgres://u:p@db/fixmirror"
	cfg.Redis.Password = "redispw"
	cfg.S3.AccessKey = "AKIA123"
	cfg.S3.SecretKey = "shhh"

	red := RedactedConfig(&cfg)

	assert.Equal(t, "***", red.Fix.LogonPassword)
	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.Postgres.DSN)
	assert.Equal(t, "***", red.Redis.Password)
	assert.Equal(t, "***", red.S3.AccessKey)
	assert.Equal(t, "***", red.S3.SecretKey)

	// Empty secrets stay empty, non-secrets are untouched.
	assert.Empty(t, RedactedConfig(&Config{}).Postgres.Password)
	assert.Equal(t, "s3cret", cfg.Fix.LogonPassword, "original is not mutated")
	assert.Equal(t, cfg.Postgres.User, red.Postgres.User)
}
