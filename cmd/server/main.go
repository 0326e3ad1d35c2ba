package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/filingworks/readiness-engine/internal/artifacts"
	"github.com/filingworks/readiness-engine/internal/audit"
	"github.com/filingworks/readiness-engine/internal/bundle"
	"github.com/filingworks/readiness-engine/internal/config"
	"github.com/filingworks/readiness-engine/internal/docstore"
	"github.com/filingworks/readiness-engine/internal/events"
	"github.com/filingworks/readiness-engine/internal/handlers"
	"github.com/filingworks/readiness-engine/internal/metrics"
	"github.com/filingworks/readiness-engine/internal/program"
	"github.com/filingworks/readiness-engine/internal/readiness"
	"github.com/filingworks/readiness-engine/internal/scheduler"
	"github.com/filingworks/readiness-engine/internal/version"
)

const serviceName = "readiness-engine"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogging(cfg)
	defer logger.Sync()
	logger.Info("Starting Readiness Engine",
		zap.String("service", serviceName),
		zap.String("environment", cfg.Environment))

	store, cleanup, err := setupStore(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to set up document store", zap.Error(err))
	}
	defer cleanup()

	// Core services
	versions := version.NewManager(store, logger)
	resolver := artifacts.NewStoreResolver(store)
	programs := program.NewEngine(store, resolver, logger)
	bundles := bundle.NewWorkflow(store, bundle.RoleMapping(cfg.Approvals.Roles), logger)
	formsChecker := artifacts.NewStoreFormsChecker(store, logger)
	rulesChecker := artifacts.NewStoreRulesChecker(store, logger)

	collector := metrics.NewCollector()
	auditLog := audit.NewLogger(store, logger)

	var publisher *events.Publisher
	if cfg.Kafka.Enabled {
		publisher = events.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		defer publisher.Close()
	}

	aggregator := readiness.NewAggregator(
		versions, programs, bundles, formsChecker, rulesChecker, nil, collector, logger)

	// Periodic validation sweep keeps stored validation errors current.
	var sweeper *scheduler.Scheduler
	if cfg.Sweep.Enabled {
		sweeper = scheduler.New(store, versions, programs, cfg.Sweep.Orgs, cfg.Sweep.Schedule, collector, logger)
	}

	// HTTP server
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	handler := handlers.New(aggregator, versions, programs, bundles, auditLog, publisher, collector, logger)
	handler.RegisterRoutes(router)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if sweeper != nil {
		if err := sweeper.Start(ctx); err != nil {
			logger.Fatal("Failed to start validation sweep", zap.Error(err))
		}
		defer sweeper.Stop()
	}

	go func() {
		logger.Info("Starting HTTP server", zap.Int("port", cfg.Server.HTTPPort))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", zap.Error(err))
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", zap.Stringer("signal", sig))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shutdown HTTP server gracefully", zap.Error(err))
	}
	logger.Info("Service shutdown complete")
}

// setupStore selects the document store backend. Postgres deployments also
// run migrations on startup.
func setupStore(cfg *config.Config, logger *zap.Logger) (docstore.Store, func(), error) {
	switch cfg.Store.Backend {
	case "postgres":
		pg, err := docstore.NewPostgresStore(cfg.Store.DSN, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		if err := docstore.RunMigrations(pg, logger); err != nil {
			pg.Close()
			return nil, nil, fmt.Errorf("running migrations: %w", err)
		}
		return pg, func() {
			if err := pg.Close(); err != nil {
				logger.Error("Failed to close store", zap.Error(err))
			}
		}, nil
	case "memory":
		return docstore.NewMemoryStore(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func setupLogging(cfg *config.Config) *zap.Logger {
	var zapCfg zap.Config
	if cfg.Logging.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}
	if level, err := zap.ParseAtomicLevel(cfg.Logging.Level); err == nil {
		zapCfg.Level = level
	}
	if cfg.Debug {
		zapCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}

	logger, err := zapCfg.Build()
	if err != nil {
		fmt.Printf("Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	return logger.With(zap.String("service", serviceName))
}
