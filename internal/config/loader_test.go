package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoader_Load(t *testing.T) {
	t.Run("defaults when no file given", func(t *testing.T) {
		cfg, err := NewLoader("").Load()
		require.NoError(t, err)
		assert.True(t, filepath.IsAbs(cfg.PluginRoot))
		assert.Equal(t, "plugins", filepath.Base(cfg.PluginRoot))
		assert.Equal(t, 30000, cfg.Plugins.RequestTimeoutMs)
		assert.Equal(t, 3, cfg.Plugins.MaxRestarts)
		assert.Equal(t, 1000, cfg.Plugins.RestartDelayMs)
	})

	t.Run("reads json file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "host.json")
		require.NoError(t, os.WriteFile(path, []byte(`{
			"plugin_root": "/opt/collectors",
			"plugins": {"request_timeout_ms": 15000, "max_restarts": 5},
			"logging": {"level": "debug"}
		}`), 0644))

		cfg, err := NewLoader(path).Load()
		require.NoError(t, err)
		assert.Equal(t, "/opt/collectors", cfg.PluginRoot)
		assert.Equal(t, 15000, cfg.Plugins.RequestTimeoutMs)
		assert.Equal(t, 5, cfg.Plugins.MaxRestarts)
		assert.Equal(t, "debug", cfg.Logging.Level)
	})

	t.Run("rejects missing file", func(t *testing.T) {
		_, err := NewLoader(filepath.Join(t.TempDir(), "nope.json")).Load()
		assert.Error(t, err)
	})

	t.Run("rejects invalid values", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "host.json")
		require.NoError(t, os.WriteFile(path, []byte(`{
			"plugin_root": "/opt/collectors",
			"logging": {"level": "loud"}
		}`), 0644))

		_, err := NewLoader(path).Load()
		assert.Error(t, err)
	})

	t.Run("rejects negative timeouts", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "host.json")
		require.NoError(t, os.WriteFile(path, []byte(`{
			"plugin_root": "/opt/collectors",
			"plugins": {"request_timeout_ms": -1}
		}`), 0644))

		_, err := NewLoader(path).Load()
		assert.Error(t, err)
	})
}
