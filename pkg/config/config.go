package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/corkboard/pkg/observability"
)

// Cache backends
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
	CacheNone   = "none"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Cache         CacheConfig
	Authz         AuthzConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// DatabaseConfig holds PostgreSQL settings
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	Migrate         bool
}

// CacheConfig selects the decision cache. Redis is also used for rate
// limiting whenever RedisAddr is set.
type CacheConfig struct {
	Backend       string
	TTL           time.Duration
	Size          int
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KeyPrefix     string
}

// AuthzConfig holds access-control behavior
type AuthzConfig struct {
	// HideForbidden answers view denials with 404 instead of 403
	HideForbidden bool
	// PolicyPath is an optional YAML route policy, watched for changes
	PolicyPath string
	// AllowAnonymous lets unauthenticated requests reach public boards
	AllowAnonymous bool
	// InvitationCleanup is a cron spec for removing expired invitations
	InvitationCleanup string
	// RedeemPerMinute bounds invitation and join-link redemption per caller
	RedeemPerMinute int
	// Audit records membership changes and denied requests in audit_logs
	Audit bool
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel observability.LogLevel

	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Cache:         loadCacheConfig(),
		Authz:         loadAuthzConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("CORKBOARD_HOST", "0.0.0.0"),
		Port:            getEnv("CORKBOARD_PORT", "8080"),
		ReadTimeout:     getEnvDuration("CORKBOARD_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("CORKBOARD_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("CORKBOARD_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("CORKBOARD_SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxBodyBytes:    getEnvInt64("CORKBOARD_MAX_BODY_BYTES", 1<<20),
		HealthPort:      getEnv("CORKBOARD_HEALTH_PORT", "9090"),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:             getEnv("CORKBOARD_DATABASE_URL", ""),
		MaxOpenConns:    getEnvInt("CORKBOARD_DATABASE_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvInt("CORKBOARD_DATABASE_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvDuration("CORKBOARD_DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		Migrate:         getEnvBool("CORKBOARD_DATABASE_MIGRATE", true),
	}
}

func loadCacheConfig() CacheConfig {
	return CacheConfig{
		Backend:       strings.ToLower(getEnv("CORKBOARD_CACHE_BACKEND", CacheMemory)),
		TTL:           getEnvDuration("CORKBOARD_CACHE_TTL", time.Minute),
		Size:          getEnvInt("CORKBOARD_CACHE_SIZE", 10000),
		RedisAddr:     getEnv("CORKBOARD_REDIS_ADDR", ""),
		RedisPassword: getEnv("CORKBOARD_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("CORKBOARD_REDIS_DB", 0),
		KeyPrefix:     getEnv("CORKBOARD_REDIS_PREFIX", "corkboard:"),
	}
}

func loadAuthzConfig() AuthzConfig {
	return AuthzConfig{
		HideForbidden:     getEnvBool("CORKBOARD_HIDE_FORBIDDEN", false),
		PolicyPath:        getEnv("CORKBOARD_POLICY_PATH", ""),
		AllowAnonymous:    getEnvBool("CORKBOARD_ALLOW_ANONYMOUS", true),
		InvitationCleanup: getEnv("CORKBOARD_INVITATION_CLEANUP", "@hourly"),
		RedeemPerMinute:   getEnvInt("CORKBOARD_REDEEM_PER_MINUTE", 20),
		Audit:             getEnvBool("CORKBOARD_AUDIT_ENABLED", true),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("CORKBOARD_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("CORKBOARD_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("CORKBOARD_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("CORKBOARD_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("CORKBOARD_OTEL_SERVICE_NAME", "corkboard"),
		OTelServiceVersion: getEnv("CORKBOARD_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("CORKBOARD_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required")
	}

	switch c.Cache.Backend {
	case CacheMemory, CacheNone:
	case CacheRedis:
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("redis address is required for the redis cache backend")
		}
	default:
		return fmt.Errorf("invalid cache backend: %s (must be memory, redis, or none)", c.Cache.Backend)
	}
	if c.Cache.Backend != CacheNone && c.Cache.TTL <= 0 {
		return fmt.Errorf("cache TTL must be positive")
	}
	if c.Cache.Backend == CacheMemory && c.Cache.Size <= 0 {
		return fmt.Errorf("cache size must be positive")
	}

	if c.Authz.InvitationCleanup != "" {
		if _, err := cron.ParseStandard(c.Authz.InvitationCleanup); err != nil {
			return fmt.Errorf("invalid invitation cleanup schedule %q: %w", c.Authz.InvitationCleanup, err)
		}
	}
	if c.Authz.RedeemPerMinute < 0 {
		return fmt.Errorf("redeem rate limit must not be negative")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
