// ABOUTME: Daemon configuration loaded from YAML, STAGESOUND_ env vars and flags
// ABOUTME: Uses viper for layering and validates the merged result
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. STAGESOUND_SERVER_ADDR
const EnvPrefix = "STAGESOUND"

// ErrInvalid is wrapped by every validation failure
var ErrInvalid = errors.New("invalid configuration")

// Config is the full daemon configuration
type Config struct {
	Assets  AssetsConfig  `mapstructure:"assets"`
	Engine  EngineConfig  `mapstructure:"engine"`
	Output  OutputConfig  `mapstructure:"output"`
	Server  ServerConfig  `mapstructure:"server"`
	Fetch   FetchConfig   `mapstructure:"fetch"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Log     LogConfig     `mapstructure:"log"`
	UI      UIConfig      `mapstructure:"ui"`
}

// AssetsConfig locates audio sources
type AssetsConfig struct {
	Root     string        `mapstructure:"root"`
	Watch    bool          `mapstructure:"watch"`
	Debounce time.Duration `mapstructure:"debounce"`
}

// EngineConfig mirrors stage.EngineConfig
type EngineConfig struct {
	PoolSize         int           `mapstructure:"pool_size"`
	MaxConcurrentSfx int           `mapstructure:"max_concurrent_sfx"`
	LoadTimeout      time.Duration `mapstructure:"load_timeout"`
	FadeTick         time.Duration `mapstructure:"fade_tick"`
	ProgressInterval time.Duration `mapstructure:"progress_interval"`
	InterruptFade    time.Duration `mapstructure:"interrupt_fade"`
}

// OutputConfig configures the audio device
type OutputConfig struct {
	SampleRate int           `mapstructure:"sample_rate"`
	Channels   int           `mapstructure:"channels"`
	BufferSize time.Duration `mapstructure:"buffer_size"`
}

// ServerConfig configures the control server
type ServerConfig struct {
	Addr           string        `mapstructure:"addr"`
	Name           string        `mapstructure:"name"`
	Path           string        `mapstructure:"path"`
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
	Discovery      bool          `mapstructure:"discovery"`
}

// FetchConfig configures remote source fetching
type FetchConfig struct {
	Timeout  time.Duration `mapstructure:"timeout"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
	MaxBytes int64         `mapstructure:"max_bytes"`
}

// MetricsConfig toggles the /metrics endpoint
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LogConfig selects the log handler
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// UIConfig toggles the terminal status view
type UIConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// SetDefaults registers every default on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("assets.root", ".")
	v.SetDefault("assets.watch", true)
	v.SetDefault("assets.debounce", 150*time.Millisecond)

	v.SetDefault("engine.pool_size", 10)
	v.SetDefault("engine.max_concurrent_sfx", 20)
	v.SetDefault("engine.load_timeout", 8*time.Second)
	v.SetDefault("engine.fade_tick", 10*time.Millisecond)
	v.SetDefault("engine.progress_interval", 100*time.Millisecond)
	v.SetDefault("engine.interrupt_fade", 100*time.Millisecond)

	v.SetDefault("output.sample_rate", 44100)
	v.SetDefault("output.channels", 2)
	v.SetDefault("output.buffer_size", time.Duration(0))

	v.SetDefault("server.addr", ":8928")
	v.SetDefault("server.name", "")
	v.SetDefault("server.path", "/stagesound")
	v.SetDefault("server.command_timeout", 2*time.Minute)
	v.SetDefault("server.discovery", true)

	v.SetDefault("fetch.timeout", 30*time.Second)
	v.SetDefault("fetch.cache_ttl", 5*time.Minute)
	v.SetDefault("fetch.max_bytes", int64(64<<20))

	v.SetDefault("metrics.enabled", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("ui.enabled", false)
}

// New returns a viper instance with defaults and env overrides set up
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path (when set, or stagesound.yaml from the usual places) into v
// and returns the validated configuration.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("stagesound")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/stagesound")
		v.AddConfigPath("/etc/stagesound")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid setting
func (c *Config) Validate() error {
	switch {
	case c.Assets.Root == "":
		return fmt.Errorf("%w: assets.root is empty", ErrInvalid)
	case c.Engine.PoolSize < 1:
		return fmt.Errorf("%w: engine.pool_size must be at least 1, got %d", ErrInvalid, c.Engine.PoolSize)
	case c.Engine.MaxConcurrentSfx < 1:
		return fmt.Errorf("%w: engine.max_concurrent_sfx must be at least 1, got %d", ErrInvalid, c.Engine.MaxConcurrentSfx)
	case c.Engine.LoadTimeout <= 0:
		return fmt.Errorf("%w: engine.load_timeout must be positive", ErrInvalid)
	case c.Engine.FadeTick <= 0:
		return fmt.Errorf("%w: engine.fade_tick must be positive", ErrInvalid)
	case c.Output.SampleRate < 8000 || c.Output.SampleRate > 192000:
		return fmt.Errorf("%w: output.sample_rate %d out of range", ErrInvalid, c.Output.SampleRate)
	case c.Output.Channels != 1 && c.Output.Channels != 2:
		return fmt.Errorf("%w: output.channels must be 1 or 2, got %d", ErrInvalid, c.Output.Channels)
	case !strings.HasPrefix(c.Server.Path, "/"):
		return fmt.Errorf("%w: server.path must start with /, got %q", ErrInvalid, c.Server.Path)
	case c.Fetch.MaxBytes <= 0:
		return fmt.Errorf("%w: fetch.max_bytes must be positive", ErrInvalid)
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: log.level %q", ErrInvalid, c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: log.format %q", ErrInvalid, c.Log.Format)
	}
	return nil
}
