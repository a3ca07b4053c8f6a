// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Registry RegistryConfig `yaml:"registry"`
	Bundles  BundlesConfig  `yaml:"bundles"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig configures the introspection HTTP server.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// RegistryConfig configures the interface registry.
type RegistryConfig struct {
	// DefaultNamespace is the fallback namespace for resolution.
	DefaultNamespace string `yaml:"default_namespace"`
}

// BundlesConfig configures dynamic bundle loading.
type BundlesConfig struct {
	// Dir is the directory scanned and watched for bundle archives.
	Dir string `yaml:"dir"`

	// Watch enables fsnotify watching of the bundle directory.
	Watch bool `yaml:"watch"`
}

// DatabaseConfig configures the bundle store database.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite"
	DSN    string `yaml:"dsn"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Environment variable names recognized by applyEnv.
const (
	EnvServerHost  = "PLUGKIT_SERVER_HOST"
	EnvServerPort  = "PLUGKIT_SERVER_PORT"
	EnvBundlesDir  = "PLUGKIT_BUNDLES_DIR"
	EnvDatabaseDSN = "PLUGKIT_DATABASE_DSN"
	EnvLogLevel    = "PLUGKIT_LOG_LEVEL"
	EnvLogFormat   = "PLUGKIT_LOG_FORMAT"
)

// Default returns the configuration defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "127.0.0.1",
			Port:         8080,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Registry: RegistryConfig{
			DefaultNamespace: "global",
		},
		Bundles: BundlesConfig{
			Dir:   "bundles",
			Watch: true,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "plugkit.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Load reads, parses, and validates a config file. Environment variables
// override file values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadWithFallback loads the file if present, otherwise starts from defaults
// plus environment variables.
func LoadWithFallback(path string) (*Config, error) {
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}
	cfg := Default()
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// HasEnvConfig reports whether any PLUGKIT_* variable is set.
func HasEnvConfig() bool {
	for _, name := range []string{
		EnvServerHost, EnvServerPort, EnvBundlesDir,
		EnvDatabaseDSN, EnvLogLevel, EnvLogFormat,
	} {
		if os.Getenv(name) != "" {
			return true
		}
	}
	return false
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvServerHost); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv(EnvServerPort); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv(EnvBundlesDir); v != "" {
		c.Bundles.Dir = v
	}
	if v := os.Getenv(EnvDatabaseDSN); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(EnvLogFormat); v != "" {
		c.Logging.Format = v
	}
}

// Validate checks the configuration for problems.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	if c.Registry.DefaultNamespace == "" {
		errs = append(errs, "registry.default_namespace is required")
	}
	if strings.Contains(c.Registry.DefaultNamespace, "/") {
		errs = append(errs, "registry.default_namespace must not contain '/'")
	}
	if c.Bundles.Dir == "" {
		errs = append(errs, "bundles.dir is required")
	}
	if c.Database.Driver != "sqlite" {
		errs = append(errs, fmt.Sprintf("database.driver %q is not supported", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, "database.dsn is required")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("logging.level %q is not valid", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Sprintf("logging.format %q is not valid", c.Logging.Format))
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		errs = append(errs, "metrics.path must start with '/'")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
