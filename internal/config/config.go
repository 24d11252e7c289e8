// Package config defines and loads the host daemon configuration.
package config

// Config is the main host configuration.
type Config struct {
	// PluginRoot is the directory scanned for collector plugins.
	PluginRoot string `json:"plugin_root" mapstructure:"plugin_root" validate:"required"`

	Plugins PluginConfig  `json:"plugins" mapstructure:"plugins"`
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`
	Sink    SinkConfig    `json:"sink" mapstructure:"sink"`
}

// PluginConfig holds the supervisor knobs applied to every plugin.
type PluginConfig struct {
	RequestTimeoutMs int `json:"request_timeout_ms" mapstructure:"request_timeout_ms" validate:"gte=0"`
	ReadyTimeoutMs   int `json:"ready_timeout_ms" mapstructure:"ready_timeout_ms" validate:"gte=0"`
	MaxRestarts      int `json:"max_restarts" mapstructure:"max_restarts" validate:"gte=0"`
	RestartDelayMs   int `json:"restart_delay_ms" mapstructure:"restart_delay_ms" validate:"gte=0"`
	// PollFloorMs bounds how fast a plugin may be polled regardless of the
	// rate its metadata asks for.
	PollFloorMs int `json:"poll_floor_ms" mapstructure:"poll_floor_ms" validate:"gte=0"`
	// Watch enables the fsnotify watcher on PluginRoot.
	Watch bool `json:"watch" mapstructure:"watch"`
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	Level  string `json:"level" mapstructure:"level" validate:"omitempty,oneof=trace debug info warn error"`
	Pretty bool   `json:"pretty" mapstructure:"pretty"`
}

// MetricsConfig holds the Prometheus endpoint configuration.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Addr    string `json:"addr" mapstructure:"addr" validate:"required_if=Enabled true"`
}

// SinkConfig selects where aggregated readings are forwarded.
type SinkConfig struct {
	Log       bool            `json:"log" mapstructure:"log"`
	WebSocket WebSocketConfig `json:"websocket" mapstructure:"websocket"`
}

// WebSocketConfig holds the websocket broadcast sink configuration.
type WebSocketConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Addr    string `json:"addr" mapstructure:"addr" validate:"required_if=Enabled true"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		PluginRoot: "./plugins",
		Plugins: PluginConfig{
			RequestTimeoutMs: 30000,
			MaxRestarts:      3,
			RestartDelayMs:   1000,
			PollFloorMs:      250,
			Watch:            true,
		},
		Logging: LoggingConfig{Level: "info"},
		Metrics: MetricsConfig{Addr: ":9090"},
		Sink: SinkConfig{
			Log:       true,
			WebSocket: WebSocketConfig{Addr: ":8787"},
		},
	}
}
