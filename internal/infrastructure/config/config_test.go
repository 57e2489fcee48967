package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/securelens/securelens/internal/domain/elevation"
	"github.com/securelens/securelens/internal/domain/errors"
	"github.com/securelens/securelens/internal/infrastructure/config"
)

const sampleYAML = `
log_level: debug
mode: cached
adminbyrequest:
  api_key: from-file
  take: 50
cache:
  dir: /var/cache/securelens
reconciliation:
  matching_policy: prefix
  include_inventory: true
  window_days: 30
server:
  refresh_interval: 5m
settings:
  - name: 7-Zip
    groups: [IT-Admins]
  - name: Visual Studio Code
    groups: [Developers, IT-Admins]
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, config.ModeLive, cfg.Mode)
	assert.Equal(t, "https://dc1api.adminbyrequest.com", cfg.AdminByRequest.BaseURL)
	assert.Equal(t, 100, cfg.AdminByRequest.Take)
	assert.Equal(t, 30, cfg.AdminByRequest.LookbackDays)
	assert.Equal(t, "Finished", cfg.AdminByRequest.Status)
	assert.Equal(t, "cached_auditlogs.json", cfg.Cache.AuditFile)
	assert.Equal(t, "cached_inventory.json", cfg.Cache.InventoryFile)
	assert.Equal(t, "Cannot find an object with identity", cfg.Directory.NotFoundMarker)
	assert.Equal(t, "exact", cfg.Reconciliation.MatchingPolicy)
	assert.Empty(t, cfg.Settings)
}

func TestLoad_MissingFileIsIgnored(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.NoError(t, err)
}

func TestLoad_File(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, config.ModeCached, cfg.Mode)
	assert.Equal(t, "from-file", cfg.AdminByRequest.APIKey)
	assert.Equal(t, 50, cfg.AdminByRequest.Take)
	assert.Equal(t, "prefix", cfg.Reconciliation.MatchingPolicy)
	assert.True(t, cfg.Reconciliation.IncludeInventory)
	assert.Equal(t, 5*time.Minute, cfg.Server.RefreshInterval)
	assert.Equal(t, filepath.Join("/var/cache/securelens", "cached_auditlogs.json"), cfg.Cache.AuditPath())

	assert.Equal(t, []elevation.Setting{
		{Name: "7-Zip", AuthorizedGroups: []string{"IT-Admins"}},
		{Name: "Visual Studio Code", AuthorizedGroups: []string{"Developers", "IT-Admins"}},
	}, cfg.ElevationSettings())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SECURELENS_ADMINBYREQUEST__API_KEY", "from-env")
	t.Setenv("SECURELENS_RECONCILIATION__TOP_USERS", "3")
	t.Setenv("SECURELENS_REDIS__ENABLED", "true")
	t.Setenv("SECURELENS_SERVER__PORT", "9191")

	cfg, err := config.Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.AdminByRequest.APIKey)
	assert.Equal(t, 3, cfg.Reconciliation.TopUsers)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, 9191, cfg.Server.Port)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad mode", "mode: offline\n"},
		{"bad policy", "reconciliation:\n  matching_policy: regex\n"},
		{"bad sampling", "telemetry:\n  sampling_rate: 2\n"},
		{"setting without name", "settings:\n  - groups: [A]\n"},
		{"database without url", "database:\n  enabled: true\n"},
		{"malformed yaml", "mode: [cached\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Load(writeConfig(t, tt.yaml))
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeConfiguration), err.Error())
		})
	}
}
