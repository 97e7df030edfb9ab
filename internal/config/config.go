// Package config loads and hot-reloads the service configuration from a
// YAML file, with environment variable overrides for deployment settings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/careaccess/go-core/internal/ratelimit"
)

// ServerConfig configures the HTTP API server
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// RedisConfig configures the shared Redis used by the decision cache tier 2
// and the rate limiter store
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// CacheConfig configures the in-process decision cache tier
type CacheConfig struct {
	Capacity    int           `yaml:"capacity"`
	TTL         time.Duration `yaml:"ttl"`
	TouchOnRead bool          `yaml:"touchOnRead"`
}

// DatabaseConfig configures the Postgres repository. When the URL is empty
// the service runs on the in-memory repository.
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
	Migrate         bool          `yaml:"migrate"`
}

// AuditConfig configures the audit sink
type AuditConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Type           string `yaml:"type"`
	FilePath       string `yaml:"filePath"`
	FileMaxSize    int    `yaml:"fileMaxSize"`
	FileMaxAge     int    `yaml:"fileMaxAge"`
	FileMaxBackups int    `yaml:"fileMaxBackups"`
	BufferSize     int    `yaml:"bufferSize"`
}

// MetricsConfig configures Prometheus exposition
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// Config is the root service configuration
type Config struct {
	Server    ServerConfig      `yaml:"server"`
	Redis     RedisConfig       `yaml:"redis"`
	Cache     CacheConfig       `yaml:"cache"`
	Database  DatabaseConfig    `yaml:"database"`
	Audit     AuditConfig       `yaml:"audit"`
	Metrics   MetricsConfig     `yaml:"metrics"`
	RateLimit *ratelimit.Config `yaml:"rateLimit"`
	LogLevel  string            `yaml:"logLevel"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Redis: RedisConfig{
			Enabled: false,
			Address: "localhost:6379",
		},
		Cache: CacheConfig{
			Capacity:    10000,
			TTL:         5 * time.Minute,
			TouchOnRead: true,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			Migrate:         true,
		},
		Audit: AuditConfig{
			Enabled:    true,
			Type:       "stdout",
			BufferSize: 1000,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "careaccess",
		},
		RateLimit: ratelimit.DefaultConfig(),
		LogLevel:  "info",
	}
}

// Load reads the configuration file, merges it over the defaults, and
// applies environment overrides. An empty path returns the defaults with
// environment overrides only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides deployment settings from the environment
func (c *Config) applyEnv() {
	if v := os.Getenv("CAREACCESS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("CAREACCESS_REDIS_ADDR"); v != "" {
		c.Redis.Enabled = true
		c.Redis.Address = v
	}
	if v := os.Getenv("CAREACCESS_REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("CAREACCESS_DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("CAREACCESS_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("CAREACCESS_AUDIT_FILE"); v != "" {
		c.Audit.Type = "file"
		c.Audit.FilePath = v
	}
}

// Validate checks the configuration for validity
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if c.Cache.Capacity <= 0 {
		return fmt.Errorf("cache capacity must be greater than 0")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache ttl must be greater than 0")
	}
	if c.RateLimit != nil {
		if err := c.RateLimit.Validate(); err != nil {
			return fmt.Errorf("rate limit config: %w", err)
		}
	}
	return nil
}
