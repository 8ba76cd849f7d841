package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "streamloop.db", cfg.Database.DSN)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, time.Minute, cfg.Scheduler.PollInterval)
	assert.Equal(t, "UTC", cfg.Scheduler.Timezone)
	assert.Equal(t, 0, cfg.Limits.DefaultLiveLimit)
	assert.Equal(t, 10*time.Second, cfg.Encoder.StopGracePeriod)
	assert.Equal(t, 5, cfg.Broadcast.UnlistMaxAttempts)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  driver: sqlite
  dsn: /tmp/test.db
scheduler:
  poll_interval: 15s
  timezone: Europe/Berlin
limits:
  default_live_limit: 3
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/test.db", cfg.Database.DSN)
	assert.Equal(t, 15*time.Second, cfg.Scheduler.PollInterval)
	assert.Equal(t, "Europe/Berlin", cfg.Scheduler.Timezone)
	assert.Equal(t, 3, cfg.Limits.DefaultLiveLimit)
	assert.Equal(t, "Europe/Berlin", cfg.Location().String())
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("STREAMLOOP_DATABASE_DSN", "/var/lib/streamloop/env.db")
	t.Setenv("STREAMLOOP_SCHEDULER_TIMEZONE", "America/Chicago")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  dsn: file.db\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/streamloop/env.db", cfg.Database.DSN)
	assert.Equal(t, "America/Chicago", cfg.Scheduler.Timezone)
}

func TestValidateRejectsBadValues(t *testing.T) {
	dir := t.TempDir()

	cases := []struct {
		name string
		yaml string
	}{
		{"bad driver", "database:\n  driver: oracle\n"},
		{"empty dsn", "database:\n  dsn: \"\"\n"},
		{"bad timezone", "scheduler:\n  timezone: Mars/Olympus\n"},
		{"negative limit", "limits:\n  default_live_limit: -1\n"},
		{"zero poll interval", "scheduler:\n  poll_interval: 0s\n"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(dir, tc.name+".yaml")
			require.NoError(t, os.WriteFile(path, []byte(tc.yaml), 0o644))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}
