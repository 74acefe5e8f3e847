package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefaultOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Sync.PastDays)
	assert.Equal(t, 30, cfg.Sync.FutureDays)
	assert.Equal(t, "Slate Calendar Updates", cfg.Email.ChangeSubject)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLoadNormalizesPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
sync:
  past_days: 3
  refresh: 1d
settings:
  on_campus_location: "Welcome Center"
email:
  error_to: [ops@example.com]
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Sync.PastDays)
	assert.Equal(t, 30, cfg.Sync.FutureDays)
	assert.Equal(t, "Welcome Center", cfg.Settings.OnCampusLocation)
	assert.Equal(t, []string{"ops@example.com"}, cfg.Email.ErrorTo)
	assert.Equal(t, "Slate-Google Sync Errors", cfg.Email.ErrorSubject)
	assert.Equal(t, 1, cfg.Sync.Concurrency)
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sync: [oops"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.Sentry.DSN = "https://key@sentry.example.com/1"
	cfg.Server.BasicAuth = &BasicAuthConfig{Username: "admin", Password: "pw"}
	require.NoError(t, cfg.Save(path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestSchedule(t *testing.T) {
	tests := []struct {
		refresh string
		want    string
		wantErr bool
	}{
		{"*/5 * * * *", "*/5 * * * *", false},
		{"@hourly", "@hourly", false},
		{"15m", "@every 15m0s", false},
		{"1d", "@every 24h0m0s", false},
		{"", "*/15 * * * *", false},
		{"10s", "", true},
		{"soon", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.refresh, func(t *testing.T) {
			cfg := &Config{Sync: SyncConfig{Refresh: tt.refresh}}
			got, err := cfg.Schedule()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolvePaths(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Data.DBPath = "/var/lib/calsync.db"
	cfg.ResolvePaths("/etc/calsync/config.yaml")

	assert.Equal(t, "/var/lib/calsync.db", cfg.Data.DBPath)
	assert.Equal(t, "/etc/calsync/cache", cfg.Data.CacheDir)
	assert.Equal(t, "/etc/calsync/client_secret.json", cfg.Google.ClientSecretFile)
	assert.Empty(t, cfg.Log.File)
}

func TestLocationFallsBackToUTC(t *testing.T) {
	cfg := &Config{Sync: SyncConfig{DisplayTimezone: "Mars/Olympus"}}
	assert.Equal(t, "UTC", cfg.Location().String())
}
