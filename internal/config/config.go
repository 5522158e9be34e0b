package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config represents the gateway configuration.
type Config struct {
	Server     ServerConfig      `toml:"server" yaml:"server"`
	Cache      CacheConfig       `toml:"cache" yaml:"cache"`
	Logging    LoggingConfig     `toml:"logging" yaml:"logging"`
	Namespaces []NamespaceConfig `toml:"namespaces" yaml:"namespaces"`

	// Servers is the key used by servers.yaml files; merged into Namespaces on load.
	Servers []NamespaceConfig `toml:"-" yaml:"servers"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port               int    `toml:"port" yaml:"port"`
	Host               string `toml:"host" yaml:"host"`
	SessionIdleTimeout string `toml:"session_idle_timeout" yaml:"session_idle_timeout"`
	WatchInterval      string `toml:"watch_interval" yaml:"watch_interval"`
	LoadConcurrency    int    `toml:"load_concurrency" yaml:"load_concurrency"`
}

// CacheConfig contains document and tool cache settings.
type CacheConfig struct {
	Enabled     bool   `toml:"enabled" yaml:"enabled"`
	Path        string `toml:"path" yaml:"path"`
	DocumentTTL string `toml:"document_ttl" yaml:"document_ttl"`
	DocumentMax int    `toml:"document_max" yaml:"document_max"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level      string   `toml:"level" yaml:"level"`
	Outputs    []string `toml:"outputs" yaml:"outputs"`
	FilePath   string   `toml:"file_path" yaml:"file_path"`
	MaxSizeMB  int      `toml:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int      `toml:"max_backups" yaml:"max_backups"`
}

// IdleTimeout returns the parsed session idle timeout. Zero disables reaping.
func (s ServerConfig) IdleTimeout() time.Duration {
	return parseDuration(s.SessionIdleTimeout)
}

// Watch returns the config file polling interval. Zero disables watching.
func (s ServerConfig) Watch() time.Duration {
	return parseDuration(s.WatchInterval)
}

// TTL returns the parsed document cache TTL.
func (c CacheConfig) TTL() time.Duration {
	return parseDuration(c.DocumentTTL)
}

// LoadFromFiles loads configuration with priority:
// defaults -> file1 -> file2 -> ... -> env.
// Later files override earlier files. Files ending in .yaml or .yml are
// read as YAML, everything else as TOML.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := decode(path, data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
		if len(config.Servers) > 0 {
			config.Namespaces = append(config.Namespaces, config.Servers...)
			config.Servers = nil
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

func decode(path string, data []byte, config *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, config)
	default:
		return toml.Unmarshal(data, config)
	}
}

// applyEnvOverrides applies MCP_OPENAPI_* environment variable overrides to config.
func applyEnvOverrides(config *Config) {
	if port := os.Getenv("MCP_OPENAPI_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("MCP_OPENAPI_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if idle := os.Getenv("MCP_OPENAPI_SESSION_IDLE_TIMEOUT"); idle != "" {
		config.Server.SessionIdleTimeout = idle
	}
	if cachePath := os.Getenv("MCP_OPENAPI_CACHE_PATH"); cachePath != "" {
		config.Cache.Path = cachePath
	}
	if enabled := os.Getenv("MCP_OPENAPI_CACHE_ENABLED"); enabled != "" {
		if b, err := strconv.ParseBool(enabled); err == nil {
			config.Cache.Enabled = b
		}
	}
	if level := os.Getenv("MCP_OPENAPI_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config.
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate returns every problem found in the configuration.
func (c *Config) Validate() []string {
	var issues []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		issues = append(issues, fmt.Sprintf("server.port %d is out of range", c.Server.Port))
	}
	for _, d := range []struct{ key, val string }{
		{"server.session_idle_timeout", c.Server.SessionIdleTimeout},
		{"server.watch_interval", c.Server.WatchInterval},
		{"cache.document_ttl", c.Cache.DocumentTTL},
	} {
		if d.val == "" {
			continue
		}
		if _, err := time.ParseDuration(d.val); err != nil {
			issues = append(issues, fmt.Sprintf("%s %q is not a duration", d.key, d.val))
		}
	}

	issues = append(issues, ValidateNamespaces(c.Namespaces)...)
	return issues
}

func parseDuration(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}
