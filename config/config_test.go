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
	assert := assert.New(t)
	cfg := LoadConfig(filepath.Join(t.TempDir(), "absent.yml"))

	assert.Equal("postgres", cfg.Database.Type)
	assert.Equal(3*time.Second, cfg.ReconnectDelay())
	assert.Equal(2*time.Second, cfg.RestoreDelay())
	assert.Equal(10*time.Second, cfg.SnapshotInterval())
	assert.Equal(50, cfg.Gateway.MaxTargets)
	assert.Equal(filepath.Join(cfg.System.Workdir, "sessions"), cfg.Gateway.SessionsDir)
}

func TestLoadConfigFile(t *testing.T) {
	assert := assert.New(t)
	path := filepath.Join(t.TempDir(), "wagate.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
system:
  workdir: /tmp/wagate-test
web:
  port: 8088
gateway:
  reconnect_delay_ms: 500
  sessions_dir: /tmp/wagate-test/creds
`), 0600))

	cfg := LoadConfig(path)
	assert.Equal(8088, cfg.Web.Port)
	assert.Equal(500*time.Millisecond, cfg.ReconnectDelay())
	assert.Equal("/tmp/wagate-test/creds", cfg.Gateway.SessionsDir)
	// Unset fields keep their defaults.
	assert.Equal(50, cfg.Gateway.MaxTargets)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	assert := assert.New(t)
	t.Setenv("WAGATE_DB_TYPE", "sqlite")
	t.Setenv("WAGATE_WEB_PORT", "9000")

	cfg := LoadConfig("")
	assert.Equal("sqlite", cfg.Database.Type)
	assert.Equal(9000, cfg.Web.Port)
}
