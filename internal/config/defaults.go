package config

// NewDefaultConfig creates a configuration with default values.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:               8000,
			Host:               "localhost",
			SessionIdleTimeout: "30m",
			WatchInterval:      "2s",
			LoadConcurrency:    4,
		},
		Cache: CacheConfig{
			Enabled:     false,
			Path:        "./data/tool-cache",
			DocumentTTL: "10m",
			DocumentMax: 256,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Outputs: []string{"console"},
		},
	}
}
