package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/corkboard/pkg/observability"
)

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("CORKBOARD_TEST_STRING", "custom")
	t.Setenv("CORKBOARD_TEST_BOOL", "1")
	t.Setenv("CORKBOARD_TEST_INT", "42")
	t.Setenv("CORKBOARD_TEST_BAD_INT", "forty-two")
	t.Setenv("CORKBOARD_TEST_DURATION", "90s")

	assert.Equal(t, "custom", getEnv("CORKBOARD_TEST_STRING", "default"))
	assert.Equal(t, "default", getEnv("CORKBOARD_TEST_UNSET", "default"))
	assert.True(t, getEnvBool("CORKBOARD_TEST_BOOL", false))
	assert.True(t, getEnvBool("CORKBOARD_TEST_UNSET", true))
	assert.Equal(t, 42, getEnvInt("CORKBOARD_TEST_INT", 7))
	assert.Equal(t, 7, getEnvInt("CORKBOARD_TEST_BAD_INT", 7))
	assert.Equal(t, int64(42), getEnvInt64("CORKBOARD_TEST_INT", 7))
	assert.Equal(t, 90*time.Second, getEnvDuration("CORKBOARD_TEST_DURATION", time.Second))
	assert.Equal(t, time.Second, getEnvDuration("CORKBOARD_TEST_BAD_INT", time.Second))
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("CORKBOARD_DATABASE_URL", "postgres://localhost/corkboard?sslmode=disable")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "9090", cfg.Server.HealthPort)
	assert.Equal(t, CacheMemory, cfg.Cache.Backend)
	assert.Equal(t, time.Minute, cfg.Cache.TTL)
	assert.Equal(t, 10000, cfg.Cache.Size)
	assert.False(t, cfg.Authz.HideForbidden)
	assert.True(t, cfg.Authz.AllowAnonymous)
	assert.Equal(t, "@hourly", cfg.Authz.InvitationCleanup)
	assert.True(t, cfg.Authz.Audit)
	assert.Equal(t, observability.InfoLevel, cfg.Observability.LogLevel)
	assert.True(t, cfg.Database.Migrate)
}

func TestLoadConfig_FromEnvironment(t *testing.T) {
	t.Setenv("CORKBOARD_DATABASE_URL", "postgres://db/corkboard")
	t.Setenv("CORKBOARD_CACHE_BACKEND", "Redis")
	t.Setenv("CORKBOARD_REDIS_ADDR", "redis:6379")
	t.Setenv("CORKBOARD_CACHE_TTL", "30s")
	t.Setenv("CORKBOARD_HIDE_FORBIDDEN", "true")
	t.Setenv("CORKBOARD_POLICY_PATH", "/etc/corkboard/policy.yaml")
	t.Setenv("CORKBOARD_LOG_LEVEL", "debug")
	t.Setenv("CORKBOARD_AUDIT_ENABLED", "false")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, CacheRedis, cfg.Cache.Backend)
	assert.Equal(t, "redis:6379", cfg.Cache.RedisAddr)
	assert.Equal(t, 30*time.Second, cfg.Cache.TTL)
	assert.True(t, cfg.Authz.HideForbidden)
	assert.Equal(t, "/etc/corkboard/policy.yaml", cfg.Authz.PolicyPath)
	assert.Equal(t, observability.DebugLevel, cfg.Observability.LogLevel)
	assert.False(t, cfg.Authz.Audit)
}

func validConfig() *Config {
	return &Config{
		Server:   ServerConfig{Port: "8080", HealthPort: "9090"},
		Database: DatabaseConfig{URL: "postgres://localhost/corkboard"},
		Cache:    CacheConfig{Backend: CacheMemory, TTL: time.Minute, Size: 100},
		Authz:    AuthzConfig{InvitationCleanup: "*/15 * * * *"},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing port", func(c *Config) { c.Server.Port = "" }, "server port is required"},
		{"same ports", func(c *Config) { c.Server.HealthPort = "8080" }, "must be different"},
		{"missing database", func(c *Config) { c.Database.URL = "" }, "database URL is required"},
		{"unknown backend", func(c *Config) { c.Cache.Backend = "memcached" }, "invalid cache backend"},
		{"redis without address", func(c *Config) { c.Cache.Backend = CacheRedis }, "redis address is required"},
		{"zero ttl", func(c *Config) { c.Cache.TTL = 0 }, "cache TTL must be positive"},
		{"zero ttl without cache", func(c *Config) { c.Cache.Backend = CacheNone; c.Cache.TTL = 0 }, ""},
		{"zero memory size", func(c *Config) { c.Cache.Size = 0 }, "cache size must be positive"},
		{"bad cron spec", func(c *Config) { c.Authz.InvitationCleanup = "every hour" }, "invalid invitation cleanup schedule"},
		{"cleanup disabled", func(c *Config) { c.Authz.InvitationCleanup = "" }, ""},
		{"negative rate", func(c *Config) { c.Authz.RedeemPerMinute = -1 }, "must not be negative"},
		{"otel without endpoint", func(c *Config) {
			c.Observability.OTelEnabled = true
			c.Observability.OTelServiceName = "corkboard"
		}, "OpenTelemetry endpoint is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
