// Package main is the entry point for the back-office server.
// It wires all dependencies together and starts the HTTP server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pitabwire/backoffice/internal/audit"
	"github.com/pitabwire/backoffice/internal/capability"
	"github.com/pitabwire/backoffice/internal/config"
	"github.com/pitabwire/backoffice/internal/definition"
	"github.com/pitabwire/backoffice/internal/form"
	"github.com/pitabwire/backoffice/internal/invoker"
	"github.com/pitabwire/backoffice/internal/lookup"
	"github.com/pitabwire/backoffice/internal/metadata"
	"github.com/pitabwire/backoffice/internal/observability"
	"github.com/pitabwire/backoffice/internal/openapi"
	"github.com/pitabwire/backoffice/internal/screen"
	"github.com/pitabwire/backoffice/internal/transport"
	"github.com/pitabwire/backoffice/model"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

const auditPurgeInterval = time.Hour

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "backoffice", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	defs, err := loadDefinitions(ctx, cfg.Definitions, logger)
	if err != nil {
		logger.Error("definition loading failed", zap.Error(err))
		return 1
	}
	registry := definition.NewRegistry(defs)
	screenCount, _ := registry.Counts()
	metrics.SetDefinitionsLoaded(screenCount)

	evaluator, err := capability.NewStaticPolicyEvaluator(cfg.Capability.StaticPolicyFile)
	if err != nil {
		logger.Error("capability policy load failed", zap.Error(err))
		return 1
	}
	capResolver := capability.NewResolver(evaluator, cfg.Capability.Cache.TTL)

	client := invoker.NewClient(cfg.Backend,
		invoker.WithLogger(logger),
		invoker.WithRedactor(observability.NewRedactor(cfg.Observability.RedactFields)),
		invoker.WithObserver(metrics),
	)

	readiness := observability.ReadinessChecks{
		DefinitionsLoaded: func() bool { n, _ := registry.Counts(); return n > 0 },
		Dependencies: map[string]observability.HealthChecker{
			"backend": client.Breaker(),
		},
	}

	cache, cacheCloser, err := buildLookupCache(ctx, cfg.Lookup, logger)
	if err != nil {
		logger.Error("lookup cache initialization failed", zap.Error(err))
		return 1
	}
	if hc, ok := cache.(observability.HealthChecker); ok {
		readiness.Dependencies["lookup_cache"] = hc
	}
	lookups := lookup.NewProvider(registry, client, cache, cfg.Lookup.Cache.TTL,
		lookup.WithMetrics(metrics),
		lookup.WithLogger(logger),
	)

	screenOpts := []screen.Option{
		screen.WithValidator(form.NewValidator()),
		screen.WithMetrics(metrics),
		screen.WithLogger(logger),
		screen.WithObserver(screen.NewLookupInvalidator(lookups, nil, logger)),
	}

	var recorder *audit.Recorder
	auditStore, auditCloser, err := buildAuditStore(ctx, cfg.Audit, logger)
	if err != nil {
		logger.Error("audit store initialization failed", zap.Error(err))
		return 1
	}
	if auditStore != nil {
		recorder = audit.NewRecorder(auditStore, cfg.Audit.Store.Retention, logger)
		screenOpts = append(screenOpts, screen.WithObserver(recorder))
		if hc, ok := auditStore.(observability.HealthChecker); ok {
			readiness.Degradable = map[string]observability.HealthChecker{"audit_store": hc}
		}
	}

	screens := screen.NewManager(registry, client, capResolver, cfg.Screens, screenOpts...)
	readiness.MountedScreens = screens.Count

	jwks := transport.NewJWKSClient(cfg.Identity.JWKSURL, cfg.Identity.JWKSCacheTTL, logger)
	if err := jwks.Warm(ctx); err != nil {
		logger.Warn("jwks prefetch failed, keys will be fetched on first request", zap.Error(err))
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:             cfg,
		Logger:             logger,
		Authenticate:       transport.JWTAuthenticator(cfg.Identity, jwks),
		CapabilityResolver: capResolver,
		Menu:               metadata.NewMenuProvider(registry),
		Screens:            screens,
		LookupDefinitions:  registry,
		Lookups:            lookups,
		Metrics:            metrics,
		Readiness:          readiness,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()

	screensDone := make(chan struct{})
	go func() {
		screens.Run(bgCtx)
		close(screensDone)
	}()
	if recorder != nil {
		go recorder.Run(bgCtx, auditPurgeInterval)
	}
	go watchReload(bgCtx, cfg, registry, evaluator, capResolver, metrics, logger)

	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.Int("screens", screenCount),
		zap.String("definitions_checksum", registry.Checksum()),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// Screens close before the stores their observers write to.
	bgCancel()
	<-screensDone

	if auditCloser != nil {
		auditCloser()
	}
	if cacheCloser != nil {
		cacheCloser()
	}

	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// loadDefinitions reads and validates every definition file, then checks
// them against the booking API contract when one is configured.
func loadDefinitions(ctx context.Context, cfg config.DefinitionsConfig, logger *zap.Logger) ([]model.DomainDefinition, error) {
	defs, err := definition.NewLoader().LoadAll(cfg.Directories)
	if err != nil {
		return nil, err
	}
	verrs := definition.NewValidator().Validate(defs)
	if cfg.Contract != "" && len(verrs) == 0 {
		contract := openapi.NewIndex()
		if err := contract.Load(ctx, cfg.Contract); err != nil {
			return nil, err
		}
		verrs = contract.Check(defs)
	}
	if len(verrs) > 0 {
		for _, ve := range verrs {
			logger.Error("definition validation error", zap.String("error", ve.Error()))
		}
		return nil, fmt.Errorf("%d definition validation errors", len(verrs))
	}
	return defs, nil
}

// watchReload reloads definitions and the capability policy on SIGHUP.
// A reload that fails validation keeps the current definitions.
func watchReload(ctx context.Context, cfg *config.Config, registry *definition.Registry, evaluator *capability.StaticPolicyEvaluator, resolver *capability.Resolver, metrics *observability.Metrics, logger *zap.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
		}

		defs, err := loadDefinitions(ctx, cfg.Definitions, logger)
		if err != nil {
			logger.Error("definition reload failed", zap.Error(err))
		} else {
			registry.Replace(defs)
			screens, lookups := registry.Counts()
			metrics.SetDefinitionsLoaded(screens)
			logger.Info("definitions reloaded",
				zap.Int("screens", screens),
				zap.Int("lookups", lookups),
				zap.String("checksum", registry.Checksum()),
			)
		}

		if err := evaluator.Sync(); err != nil {
			logger.Error("capability policy reload failed", zap.Error(err))
			continue
		}
		resolver.InvalidateAll()
		logger.Info("capability policy reloaded", zap.Strings("roles", evaluator.Roles()))
	}
}

// buildLookupCache creates the lookup option cache based on config.
func buildLookupCache(ctx context.Context, cfg config.LookupCacheConfig, logger *zap.Logger) (lookup.Cache, func(), error) {
	switch cfg.Driver {
	case "memory", "":
		logger.Info("using in-memory lookup cache")
		return lookup.NewMemoryCache(cfg.Cache.MaxEntries), nil, nil
	case "redis":
		addr := os.Getenv(cfg.AddrEnv)
		if addr == "" {
			return nil, nil, fmt.Errorf("lookup cache: %s environment variable not set", cfg.AddrEnv)
		}
		client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.DB})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("lookup cache: ping: %w", err)
		}
		return lookup.NewRedisCache(client, "backoffice:lookup:"), func() { client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported lookup cache driver: %q", cfg.Driver)
	}
}

// buildAuditStore creates the audit store based on config.
// Returns nil store and closer if auditing is disabled.
func buildAuditStore(ctx context.Context, cfg config.AuditConfig, logger *zap.Logger) (audit.Store, func(), error) {
	if !cfg.Enabled {
		return nil, nil, nil
	}

	switch cfg.Store.Driver {
	case "memory", "":
		logger.Info("using in-memory audit store")
		return audit.NewMemoryStore(), nil, nil
	case "postgres":
		dsn := os.Getenv(cfg.Store.DSNEnv)
		if dsn == "" {
			return nil, nil, fmt.Errorf("audit store: %s environment variable not set", cfg.Store.DSNEnv)
		}

		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("audit store: parse DSN: %w", err)
		}
		if cfg.Store.MaxOpenConns > 0 {
			poolCfg.MaxConns = int32(cfg.Store.MaxOpenConns)
		}
		poolCfg.MaxConnLifetime = cfg.Store.ConnMaxLifetime

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("audit store: connect: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("audit store: ping: %w", err)
		}

		store := audit.NewPgStore(pool)
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("audit store: migrate: %w", err)
		}
		return store, pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported audit store driver: %q", cfg.Store.Driver)
	}
}
