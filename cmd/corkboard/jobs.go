package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/corkboard/pkg/config"
	"github.com/platinummonkey/corkboard/pkg/members"
	"github.com/platinummonkey/corkboard/pkg/middleware"
	"github.com/platinummonkey/corkboard/pkg/observability"
)

// cronLogger routes cron's own messages through the service logger
type cronLogger struct {
	logger *observability.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(fields(keysAndValues)).Debug("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(fields(keysAndValues)).WithError(err).Error("cron: " + msg)
}

func fields(keysAndValues []interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		out[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return out
}

// startJobs schedules invitation cleanup, limiter window cleanup and pool
// statistics
func startJobs(cfg config.AuthzConfig, service members.Service, limiter middleware.Limiter,
	metrics *observability.Metrics, db *sql.DB, logger *observability.Logger) (*cron.Cron, error) {
	jobLogger := cronLogger{logger: logger}
	c := cron.New(cron.WithLogger(jobLogger), cron.WithChain(cron.Recover(jobLogger), cron.SkipIfStillRunning(jobLogger)))

	if cfg.InvitationCleanup != "" {
		_, err := c.AddFunc(cfg.InvitationCleanup, func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if _, err := service.CleanupExpiredInvitations(ctx); err != nil {
				logger.WithError(err).Error("Invitation cleanup failed")
			}
		})
		if err != nil {
			return nil, fmt.Errorf("failed to schedule invitation cleanup: %w", err)
		}
	}

	if memory, ok := limiter.(*middleware.MemoryLimiter); ok {
		if _, err := c.AddFunc("@every 1m", memory.Cleanup); err != nil {
			return nil, fmt.Errorf("failed to schedule rate limit cleanup: %w", err)
		}
	}

	if _, err := c.AddFunc("@every 15s", func() { metrics.RecordDBStats(db) }); err != nil {
		return nil, fmt.Errorf("failed to schedule pool statistics: %w", err)
	}

	c.Start()
	return c, nil
}
