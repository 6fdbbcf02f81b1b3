package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/allenfu2013/kong/pkg/logger"
	"gopkg.in/yaml.v2"
)

// Config represents the main configuration structure
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Admin     AdminConfig      `yaml:"admin"`
	Proxy     ProxyConfig      `yaml:"proxy"`
	DNS       DNSConfig        `yaml:"dns"`
	Logging   logger.Config    `yaml:"logging"`
	Upstreams []UpstreamConfig `yaml:"upstreams"`
}

// ServerConfig contains proxy listener configuration
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// AdminConfig contains admin API configuration
type AdminConfig struct {
	Enabled   bool            `yaml:"enabled"`
	Port      int             `yaml:"port"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig contains admin API rate limiting configuration
type RateLimitConfig struct {
	Enabled        bool    `yaml:"enabled"`
	RequestsPerSec float64 `yaml:"requests_per_sec"`
	BurstSize      int     `yaml:"burst_size"`
}

// ProxyConfig contains request forwarding configuration
type ProxyConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

// DNSConfig contains the name resolver configuration
type DNSConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// UpstreamConfig declares an upstream seeded into the store at startup
type UpstreamConfig struct {
	Name    string         `yaml:"name"`
	Slots   int            `yaml:"slots"`
	Seed    int64          `yaml:"seed"`
	Targets []TargetConfig `yaml:"targets"`
}

// TargetConfig declares one initial target of a seeded upstream
type TargetConfig struct {
	Target string `yaml:"target"`
	Weight int    `yaml:"weight"`
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Admin: AdminConfig{
			Enabled: true,
			Port:    8081,
			RateLimit: RateLimitConfig{
				Enabled:        true,
				RequestsPerSec: 10,
				BurstSize:      20,
			},
		},
		Proxy: ProxyConfig{
			MaxRetries: 3,
			RetryDelay: 100 * time.Millisecond,
		},
		DNS: DNSConfig{
			TTL: 30 * time.Second,
		},
		Logging: logger.Config{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// LoadConfig loads configuration from the file named by CONFIG_FILE (when
// set and present), then applies environment overrides on top of defaults
func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigFile loads configuration from an explicit file path
func LoadConfigFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file '%s': %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file '%s': %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("GW_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("GW_ADMIN_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Admin.Port = port
		}
	}
	if v := os.Getenv("GW_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("GW_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("GW_DNS_TTL"); v != "" {
		if ttl, err := time.ParseDuration(v); err == nil {
			c.DNS.TTL = ttl
		}
	}
}

// Validate checks the configuration for impossible values
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Admin.Enabled {
		if c.Admin.Port < 1 || c.Admin.Port > 65535 {
			return fmt.Errorf("invalid admin port: %d", c.Admin.Port)
		}
		if c.Admin.Port == c.Server.Port {
			return fmt.Errorf("admin port must differ from server port: %d", c.Admin.Port)
		}
	}
	if c.Proxy.MaxRetries < 0 {
		return fmt.Errorf("proxy max_retries cannot be negative: %d", c.Proxy.MaxRetries)
	}
	if c.DNS.TTL <= 0 {
		return fmt.Errorf("dns ttl must be positive: %s", c.DNS.TTL)
	}
	for _, u := range c.Upstreams {
		if u.Name == "" {
			return fmt.Errorf("upstream name cannot be empty")
		}
		if u.Slots < 0 {
			return fmt.Errorf("upstream '%s' has negative slots: %d", u.Name, u.Slots)
		}
		for _, t := range u.Targets {
			if t.Target == "" {
				return fmt.Errorf("upstream '%s' has a target with empty address", u.Name)
			}
			if t.Weight < 0 {
				return fmt.Errorf("upstream '%s' target '%s' has negative weight", u.Name, t.Target)
			}
		}
	}
	return nil
}
