package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "plant-sync.db", cfg.Database.Path)
	assert.Equal(t, 8090, cfg.Server.Port)
	assert.Equal(t, 15, cfg.Sync.IntervalMinutes)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
database:
  path: /tmp/plant.db
server:
  port: 9000
sync:
  server_url: http://factory.example.com/api
  auto_sync: true
  interval_minutes: 5
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/plant.db", cfg.Database.Path)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "http://factory.example.com/api", cfg.Sync.ServerURL)
	assert.True(t, cfg.Sync.AutoSync)
	assert.Equal(t, 5, cfg.Sync.IntervalMinutes)
	assert.Equal(t, "debug", cfg.Logging.Level)
}
