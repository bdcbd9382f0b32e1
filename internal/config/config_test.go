package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "marrow", cfg.Server.Name)
	assert.Equal(t, 30*time.Second, cfg.Server.CallTimeout)
	assert.Equal(t, "sqlite", cfg.Storage.Engine)
	assert.Equal(t, "./data", cfg.Storage.DataPath)
	assert.InDelta(t, 0.2, cfg.Memory.LinkThreshold, 1e-9)
	assert.InDelta(t, 0.9, cfg.Memory.ConsolidateThreshold, 1e-9)
	assert.Equal(t, 120*time.Second, cfg.Tools.ShellTimeoutCeiling)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("MARROW_STORAGE_ENGINE", "postgres")
	t.Setenv("MARROW_CALL_TIMEOUT", "5s")
	t.Setenv("MARROW_RELATED_LIMIT", "3")
	t.Setenv("MARROW_LINK_THRESHOLD", "0.35")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Storage.Engine)
	assert.Equal(t, 5*time.Second, cfg.Server.CallTimeout)
	assert.Equal(t, 3, cfg.Memory.RelatedLimit)
	assert.InDelta(t, 0.35, cfg.Memory.LinkThreshold, 1e-9)
}

func TestLoadConfigEnvInvalidValuesFallBack(t *testing.T) {
	t.Setenv("MARROW_CALL_TIMEOUT", "not-a-duration")
	t.Setenv("MARROW_RELATED_LIMIT", "many")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Server.CallTimeout)
	assert.Equal(t, 10, cfg.Memory.RelatedLimit)
}

func TestLoadConfigFileOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "marrow.yaml")
	body := `
server:
  call_timeout: 7s
storage:
  engine: postgres
  postgres_dsn: postgres://localhost/marrow
memory:
  link_threshold: 0.4
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)

	// Overlaid fields come from the file.
	assert.Equal(t, 7*time.Second, cfg.Server.CallTimeout)
	assert.Equal(t, "postgres", cfg.Storage.Engine)
	assert.Equal(t, "postgres://localhost/marrow", cfg.Storage.PostgresDSN)
	assert.InDelta(t, 0.4, cfg.Memory.LinkThreshold, 1e-9)

	// Fields absent from the file keep defaults.
	assert.Equal(t, "marrow", cfg.Server.Name)
	assert.Equal(t, "./data", cfg.Storage.DataPath)
}

func TestLoadConfigFileMissing(t *testing.T) {
	_, err := LoadConfigFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
