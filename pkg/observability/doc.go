// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, health checks and graceful shutdown.
//
// Logging:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("board_id", boardID).Warn("decision cache unavailable")
//
// Metrics:
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.DecisionsTotal.WithLabelValues("board_permission", "deny", "not_member").Inc()
//	router.Handle("/metrics", observability.MetricsHandler(registry))
//
// Tracing:
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "corkboard",
//	}, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
//
// Health:
//
//	checker := observability.NewHealthChecker(version,
//		observability.DatabaseProbe(db),
//		observability.RedisProbe("decision_cache", redisClient))
//	observability.RegisterHealthRoutes(router, checker)
package observability
