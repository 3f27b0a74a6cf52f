// Package config loads the quartz process configuration.
//
// Precedence, highest first: runtime overrides, QUARTZ_* environment
// variables, an optional config file, built-in defaults. The config file is
// quartz.yaml, looked up in the working directory and in the user config
// dir; a missing file is not an error.
package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config is the full process configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	Runs    RunsConfig    `mapstructure:"runs"`
	Health  HealthConfig  `mapstructure:"health"`
}

// ServerConfig configures the HTTP surface (serve command).
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `mapstructure:"level"`

	// Profile is STRUCTURED (JSON) or CONSOLE.
	Profile string `mapstructure:"profile"`
}

// RunsConfig locates run state on disk.
type RunsConfig struct {
	// RegistryDir is the root of the per-run JSON registry.
	RegistryDir string `mapstructure:"registry_dir"`

	// HistoryPath is the SQLite run-history database file.
	HistoryPath string `mapstructure:"history_path"`
}

// HealthConfig configures the health endpoints.
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

var (
	configMu  sync.RWMutex
	appConfig *Config
)

// Load builds the configuration and caches it for GetConfig.
//
// Optional runtime overrides (nested maps keyed like the config file) take
// precedence over everything else.
func Load(overrides ...map[string]any) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("quartz")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/quartz")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	v.SetEnvPrefix("QUARTZ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvAliases(v)

	// Runtime overrides go through Set so they outrank env vars.
	for _, o := range overrides {
		applyOverrides(v, "", o)
	}

	var cfg Config
	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, decodeHook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	configMu.Lock()
	appConfig = &cfg
	configMu.Unlock()

	return &cfg, nil
}

// GetConfig returns the most recently loaded configuration, or nil when
// Load has not been called.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "STRUCTURED")

	v.SetDefault("runs.registry_dir", ".quartz/runs")
	v.SetDefault("runs.history_path", ".quartz/history.db")

	v.SetDefault("health.enabled", true)
}

// applyOverrides flattens nested override maps into dotted keys.
func applyOverrides(v *viper.Viper, prefix string, m map[string]any) {
	for key, val := range m {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			applyOverrides(v, full, nested)
			continue
		}
		v.Set(full, val)
	}
}

// bindEnvAliases maps the short operational env vars (QUARTZ_PORT,
// QUARTZ_LOG_LEVEL) onto their nested keys, alongside the automatic
// QUARTZ_SERVER_PORT style.
func bindEnvAliases(v *viper.Viper) {
	aliases := map[string]string{
		"server.host":             "QUARTZ_HOST",
		"server.port":             "QUARTZ_PORT",
		"server.read_timeout":     "QUARTZ_READ_TIMEOUT",
		"server.write_timeout":    "QUARTZ_WRITE_TIMEOUT",
		"server.shutdown_timeout": "QUARTZ_SHUTDOWN_TIMEOUT",
		"logging.level":           "QUARTZ_LOG_LEVEL",
		"logging.profile":         "QUARTZ_LOG_PROFILE",
		"runs.registry_dir":       "QUARTZ_RUNS_DIR",
		"runs.history_path":       "QUARTZ_HISTORY_PATH",
	}
	for key, env := range aliases {
		_ = v.BindEnv(key, env)
	}
}
