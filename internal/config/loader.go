package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Loader handles configuration loading and validation.
type Loader struct {
	configPath string
	validate   *validator.Validate
}

// NewLoader creates a config loader. An empty path means defaults plus the
// JRHOST_PLUGIN_ROOT environment override only.
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
		validate:   validator.New(),
	}
}

// Load reads the config file (when present), applies the JRHOST_PLUGIN_ROOT
// environment override, and validates the result. No other setting is read
// from the environment.
func (l *Loader) Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("JRHOST")
	v.AutomaticEnv()

	cfg := DefaultConfig()

	if l.configPath != "" {
		if _, err := os.Stat(l.configPath); err != nil {
			return nil, fmt.Errorf("config file not found: %w", err)
		}
		v.SetConfigFile(l.configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := v.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	if root := v.GetString("plugin_root"); root != "" {
		cfg.PluginRoot = root
	}

	// The discovery data model promises absolute descriptor paths; resolve
	// the root once here so every consumer sees the same form.
	absRoot, err := filepath.Abs(cfg.PluginRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve plugin root: %w", err)
	}
	cfg.PluginRoot = absRoot

	if err := l.validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}
