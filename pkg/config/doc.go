// Package config loads corkboard configuration from CORKBOARD_* environment
// variables and validates it.
//
// Server:
//
//	CORKBOARD_HOST="0.0.0.0"
//	CORKBOARD_PORT="8080"
//	CORKBOARD_HEALTH_PORT="9090"
//
// Database:
//
//	CORKBOARD_DATABASE_URL="postgres://localhost/corkboard?sslmode=disable"
//	CORKBOARD_DATABASE_MIGRATE="true"
//
// Decision cache:
//
//	CORKBOARD_CACHE_BACKEND="memory"  # memory, redis, none
//	CORKBOARD_CACHE_TTL="1m"
//	CORKBOARD_REDIS_ADDR="localhost:6379"
//
// Access control:
//
//	CORKBOARD_HIDE_FORBIDDEN="false"
//	CORKBOARD_POLICY_PATH="/etc/corkboard/policy.yaml"
//	CORKBOARD_INVITATION_CLEANUP="@hourly"
//
// Observability:
//
//	CORKBOARD_LOG_LEVEL="info"
//	CORKBOARD_OTEL_ENABLED="false"
//	CORKBOARD_OTEL_ENDPOINT="localhost:4317"
package config
