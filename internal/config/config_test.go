package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 8081, cfg.Admin.Port)
	assert.Equal(t, 3, cfg.Proxy.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.DNS.TTL)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadConfigFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "gateway.yaml")
	data := `
server:
  port: 9090
proxy:
  max_retries: 5
  retry_delay: 50ms
dns:
  ttl: 10s
logging:
  level: debug
  format: text
upstreams:
  - name: svc-a
    slots: 100
    seed: 42
    targets:
      - target: "10.0.0.1:8080"
        weight: 100
      - target: "10.0.0.2:8080"
        weight: 50
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Proxy.MaxRetries)
	assert.Equal(t, 50*time.Millisecond, cfg.Proxy.RetryDelay)
	assert.Equal(t, 10*time.Second, cfg.DNS.TTL)
	assert.Equal(t, "debug", cfg.Logging.Level)

	require.Len(t, cfg.Upstreams, 1)
	u := cfg.Upstreams[0]
	assert.Equal(t, "svc-a", u.Name)
	assert.Equal(t, 100, u.Slots)
	assert.Equal(t, int64(42), u.Seed)
	require.Len(t, u.Targets, 2)
	assert.Equal(t, "10.0.0.1:8080", u.Targets[0].Target)
	assert.Equal(t, 100, u.Targets[0].Weight)
}

func TestLoadConfigFileMissing(t *testing.T) {
	t.Parallel()

	_, err := LoadConfigFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad server port", func(c *Config) { c.Server.Port = 0 }},
		{"bad admin port", func(c *Config) { c.Admin.Port = 70000 }},
		{"admin port collision", func(c *Config) { c.Admin.Port = c.Server.Port }},
		{"negative retries", func(c *Config) { c.Proxy.MaxRetries = -1 }},
		{"zero dns ttl", func(c *Config) { c.DNS.TTL = 0 }},
		{"unnamed upstream", func(c *Config) {
			c.Upstreams = []UpstreamConfig{{Name: ""}}
		}},
		{"negative target weight", func(c *Config) {
			c.Upstreams = []UpstreamConfig{{
				Name:    "svc-a",
				Targets: []TargetConfig{{Target: "a:80", Weight: -1}},
			}}
		}},
		{"empty target address", func(c *Config) {
			c.Upstreams = []UpstreamConfig{{
				Name:    "svc-a",
				Targets: []TargetConfig{{Target: "", Weight: 1}},
			}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GW_PORT", "7070")
	t.Setenv("GW_LOG_LEVEL", "warn")
	t.Setenv("GW_DNS_TTL", "5s")
	t.Setenv("CONFIG_FILE", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, 5*time.Second, cfg.DNS.TTL)
}
