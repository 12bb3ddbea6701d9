package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/corkboard/pkg/async"
	"github.com/platinummonkey/corkboard/pkg/audit"
	"github.com/platinummonkey/corkboard/pkg/auth"
	"github.com/platinummonkey/corkboard/pkg/config"
	"github.com/platinummonkey/corkboard/pkg/httputil"
	"github.com/platinummonkey/corkboard/pkg/members"
	"github.com/platinummonkey/corkboard/pkg/middleware"
	"github.com/platinummonkey/corkboard/pkg/observability"
	"github.com/platinummonkey/corkboard/pkg/rbac"
)

var version = "dev"

func main() {
	bootstrap := logrus.New()
	bootstrap.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.LoadConfig()
	if err != nil {
		bootstrap.Fatalf("Failed to load configuration: %v", err)
	}
	if level, err := logrus.ParseLevel(cfg.Observability.LogLevel.String()); err == nil {
		bootstrap.SetLevel(level)
	}
	bootstrap.Infof("Starting corkboard %s", version)

	if err := run(cfg, bootstrap); err != nil {
		bootstrap.Fatalf("corkboard stopped: %v", err)
	}
}

func run(cfg *config.Config, bootstrap *logrus.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).WithField("service", "corkboard")

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    1.0,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	db, err := connectDatabase(ctx, cfg.Database)
	if err != nil {
		return err
	}
	bootstrap.Info("Connected to database")

	if cfg.Database.Migrate {
		if err := rbac.RunMigrations(ctx, db, logger); err != nil {
			return err
		}
	}
	if err := rbac.SeedCatalog(ctx, db); err != nil {
		return fmt.Errorf("failed to seed role catalog: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	var redisClient *redis.Client
	if cfg.Cache.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis at %s: %w", cfg.Cache.RedisAddr, err)
		}
		bootstrap.Infof("Connected to redis at %s", cfg.Cache.RedisAddr)
	}

	cache := newDecisionCache(cfg.Cache, redisClient)
	bootstrap.Infof("Decision cache backend: %s", cfg.Cache.Backend)

	store := rbac.NewSQLStore(db)
	catalog, err := rbac.NewCachedCatalog(store)
	if err != nil {
		return err
	}
	if err := catalog.Warm(ctx); err != nil {
		return err
	}

	resolver := rbac.NewResolver(store, store, catalog,
		rbac.WithCache(cache),
		rbac.WithLogger(logger),
		rbac.WithMetrics(metrics),
		rbac.WithTracer(observability.Tracer()),
		rbac.WithHideForbidden(cfg.Authz.HideForbidden),
	)

	guard := rbac.NewGuard(resolver, logger)
	guard.SetBodyLimit(cfg.Server.MaxBodyBytes)
	policy, err := members.DefaultPolicy()
	if err != nil {
		return err
	}
	guard.SetPolicy(policy)
	if cfg.Authz.PolicyPath != "" {
		loaded, err := rbac.LoadPolicy(cfg.Authz.PolicyPath)
		if err != nil {
			return err
		}
		guard.SetPolicy(loaded)
		async.SafeGo(ctx, logger, 0, "policy watcher", func(ctx context.Context) error {
			return rbac.WatchPolicy(ctx, cfg.Authz.PolicyPath, guard, logger, metrics)
		})
	}

	background := async.NewRunner(logger, 5*time.Second)
	hooks := rbac.Hooks{rbac.NewInvalidator(cache, logger, metrics)}
	if cfg.Authz.Audit {
		dbAudit, err := audit.NewDBLogger(ctx, db)
		if err != nil {
			return err
		}
		recorder := audit.NewRecorder(audit.NewMultiLogger(dbAudit, audit.NewLogLogger(logger)), background, logger)
		hooks = append(hooks, recorder)
		guard.SetDenialRecorder(recorder)
	}

	service := members.NewPostgresService(db,
		members.WithHook(hooks),
		members.WithLogger(logger),
		members.WithMetrics(metrics),
	)

	limiter := newRedeemLimiter(cfg.Authz, redisClient, cfg.Cache.KeyPrefix)

	router := mux.NewRouter()
	if cfg.Observability.MetricsEnabled {
		router.Use(observability.HTTPMetricsMiddleware(metrics))
	}
	members.NewHandlers(service, guard, limiter).RegisterRoutes(router)

	authn := middleware.NewAuthMiddleware(auth.NewTokenManager(db), cfg.Authz.AllowAnonymous)
	handler := httputil.Chain(
		httputil.RequestID(logger),
		httputil.Recovery,
		authn.Handler,
		httputil.Logging,
		httputil.MaxBytes(cfg.Server.MaxBodyBytes),
	)(router)

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      otelhttp.NewHandler(handler, "corkboard"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthRouter := mux.NewRouter()
	probes := []observability.Probe{observability.DatabaseProbe(db)}
	if redisClient != nil {
		probes = append(probes, observability.RedisProbe("decision_cache", redisClient))
	}
	observability.RegisterHealthRoutes(healthRouter, observability.NewHealthChecker(version, probes...))
	if cfg.Observability.MetricsEnabled {
		healthRouter.Handle("/metrics", observability.MetricsHandler(registry)).Methods(http.MethodGet)
	}
	healthServer := &http.Server{
		Addr:        cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler:     healthRouter,
		ReadTimeout: 5 * time.Second,
	}

	jobs, err := startJobs(cfg.Authz, service, limiter, metrics, db, logger)
	if err != nil {
		return err
	}

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdown.Register("database", func(context.Context) error { return db.Close() })
	shutdown.Register("background tasks", background.Wait)
	if redisClient != nil {
		shutdown.Register("redis", func(context.Context) error { return redisClient.Close() })
	}
	shutdown.Register("tracing", func(ctx context.Context) error { return observability.ShutdownOTel(ctx, providers, logger) })
	shutdown.Register("jobs", func(ctx context.Context) error {
		select {
		case <-jobs.Stop().Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	shutdown.Register("health server", healthServer.Shutdown)
	shutdown.Register("background", func(context.Context) error {
		cancel()
		return nil
	})

	serveErr := make(chan error, 2)
	for _, srv := range []*http.Server{server, healthServer} {
		go func(srv *http.Server) {
			bootstrap.Infof("Listening on %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- fmt.Errorf("server on %s: %w", srv.Addr, err)
			}
		}(srv)
	}

	waitCtx, stopWaiting := context.WithCancel(ctx)
	defer stopWaiting()
	go func() {
		if err := <-serveErr; err != nil {
			logger.WithError(err).Error("Server failed")
			stopWaiting()
		}
	}()
	return shutdown.Wait(waitCtx)
}

func connectDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

func newDecisionCache(cfg config.CacheConfig, client *redis.Client) rbac.DecisionCache {
	switch cfg.Backend {
	case config.CacheRedis:
		return rbac.NewRedisCache(client, cfg.KeyPrefix, cfg.TTL)
	case config.CacheNone:
		return rbac.NoopCache{}
	default:
		return rbac.NewMemoryCache(cfg.Size, cfg.TTL)
	}
}

// newRedeemLimiter shares redemption windows through redis when available
func newRedeemLimiter(cfg config.AuthzConfig, client *redis.Client, prefix string) middleware.Limiter {
	if cfg.RedeemPerMinute == 0 {
		return nil
	}
	limits := middleware.RateLimitConfig{RequestsPerWindow: cfg.RedeemPerMinute, WindowDuration: time.Minute}
	if client != nil {
		return middleware.NewRedisLimiter(client, limits, prefix+"ratelimit:")
	}
	return middleware.NewMemoryLimiter(limits)
}
