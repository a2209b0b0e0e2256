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
	var c Config
	c.LoadDefaults()

	assert.Equal(t, "127.0.0.1:8790", c.ListenAddr)
	assert.Equal(t, 3*time.Second, c.OnlineCheckInterval)
	assert.Equal(t, StrategyServerWins, c.ConflictStrategy)
	assert.Equal(t, 5, c.SyncMaxAttempts)
	assert.Equal(t, 4, c.SyncFanout)
	assert.False(t, c.PreferLocal)
}

func TestLoadConfig_UsesDefaultsBeforeParsing(t *testing.T) {
	cfg := LoadConfig()

	require.NotNil(t, cfg, "LoadConfig must not return nil")
	assert.Equal(t, StrategyServerWins, cfg.ConflictStrategy)
	assert.Equal(t, 3*time.Second, cfg.OnlineCheckInterval)
}

func TestParseJsonOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"remote_base_url": "http://authority.local",
		"online_check_interval": "10s",
		"sync_max_attempts": 7,
		"prefer_local": true
	}`), 0o600))

	oldArgs := os.Args
	os.Args = []string{"test", "-c", path}
	defer func() { os.Args = oldArgs }()

	var c Config
	c.LoadDefaults()
	parseJson(&c)

	assert.Equal(t, "http://authority.local", c.RemoteBaseURL)
	assert.Equal(t, 10*time.Second, c.OnlineCheckInterval)
	assert.Equal(t, 7, c.SyncMaxAttempts)
	assert.True(t, c.PreferLocal)
	// Untouched keys keep their defaults.
	assert.Equal(t, 4, c.SyncFanout)
	assert.Equal(t, StrategyServerWins, c.ConflictStrategy)
}

func TestParseFlagsOverridesJson(t *testing.T) {
	oldArgs := os.Args
	os.Args = []string{"test", "-r", "http://flagged.local", "-i", "60", "-s", StrategyMerge}
	defer func() { os.Args = oldArgs }()

	var c Config
	c.LoadDefaults()
	parseFlags(&c)

	assert.Equal(t, "http://flagged.local", c.RemoteBaseURL)
	assert.Equal(t, time.Minute, c.OnlineCheckInterval)
	assert.Equal(t, StrategyMerge, c.ConflictStrategy)
}
