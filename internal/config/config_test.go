// ABOUTME: Tests for configuration loading
// ABOUTME: Covers defaults, YAML files, env overrides and validation
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
	t.Chdir(t.TempDir())

	cfg, err := Load(New(), "")
	require.NoError(t, err)

	assert.Equal(t, ".", cfg.Assets.Root)
	assert.Equal(t, 10, cfg.Engine.PoolSize)
	assert.Equal(t, 20, cfg.Engine.MaxConcurrentSfx)
	assert.Equal(t, 8*time.Second, cfg.Engine.LoadTimeout)
	assert.Equal(t, 44100, cfg.Output.SampleRate)
	assert.Equal(t, ":8928", cfg.Server.Addr)
	assert.Equal(t, "/stagesound", cfg.Server.Path)
	assert.True(t, cfg.Server.Discovery)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.UI.Enabled)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stage.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
assets:
  root: /srv/game/audio
engine:
  pool_size: 32
  interrupt_fade: 250ms
server:
  addr: 127.0.0.1:9000
log:
  format: json
`), 0o644))

	cfg, err := Load(New(), path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/game/audio", cfg.Assets.Root)
	assert.Equal(t, 32, cfg.Engine.PoolSize)
	assert.Equal(t, 250*time.Millisecond, cfg.Engine.InterruptFade)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, "json", cfg.Log.Format)
	// untouched keys keep their defaults
	assert.Equal(t, 20, cfg.Engine.MaxConcurrentSfx)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stage.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine:\n  pool_size: 32\n"), 0o644))
	t.Setenv("STAGESOUND_ENGINE_POOL_SIZE", "4")
	t.Setenv("STAGESOUND_SERVER_NAME", "booth")

	cfg, err := Load(New(), path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Engine.PoolSize)
	assert.Equal(t, "booth", cfg.Server.Name)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(New(), filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty root", func(c *Config) { c.Assets.Root = "" }},
		{"zero pool", func(c *Config) { c.Engine.PoolSize = 0 }},
		{"zero sfx cap", func(c *Config) { c.Engine.MaxConcurrentSfx = 0 }},
		{"zero load timeout", func(c *Config) { c.Engine.LoadTimeout = 0 }},
		{"zero fade tick", func(c *Config) { c.Engine.FadeTick = 0 }},
		{"sample rate", func(c *Config) { c.Output.SampleRate = 1000 }},
		{"channels", func(c *Config) { c.Output.Channels = 6 }},
		{"relative path", func(c *Config) { c.Server.Path = "ws" }},
		{"max bytes", func(c *Config) { c.Fetch.MaxBytes = 0 }},
		{"log level", func(c *Config) { c.Log.Level = "loud" }},
		{"log format", func(c *Config) { c.Log.Format = "xml" }},
	}

	t.Chdir(t.TempDir())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(New(), "")
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}
}
