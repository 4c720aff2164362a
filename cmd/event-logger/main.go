package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/freightflow/chain-event-logger/internal/adapter"
	"github.com/freightflow/chain-event-logger/internal/api/rest"
	"github.com/freightflow/chain-event-logger/internal/api/server"
	"github.com/freightflow/chain-event-logger/internal/block"
	"github.com/freightflow/chain-event-logger/internal/chain"
	"github.com/freightflow/chain-event-logger/internal/config"
	"github.com/freightflow/chain-event-logger/internal/logger"
	"github.com/freightflow/chain-event-logger/internal/processor"
	"github.com/freightflow/chain-event-logger/internal/ratelimit"
	"github.com/freightflow/chain-event-logger/internal/store"
	"github.com/freightflow/chain-event-logger/internal/watcher"
)

var (
	configFile = flag.String("config", "", "Path to configuration file")
	envPath    = flag.String("env", "config/", "Path to environment files")
)

func main() {
	flag.Parse()

	// Load configuration
	config.ChdirRepoRoot()
	cfg, err := config.LoadEventLoggerConfig(*configFile, *envPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize logger with sentry integration
	err = logger.Initialize(logger.Config{
		Debug:           cfg.Debug,
		SentryDSN:       cfg.SentryDSN,
		BreadcrumbLevel: zapcore.InfoLevel,
		Tags: map[string]string{
			"service": "event-logger",
		},
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Flush(2 * time.Second)
	logger.InfoCtx(ctx, "Starting FreightFlow Event Logger")

	// Connect to database
	db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	if err := store.ConfigureConnectionPool(db,
		cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns,
		cfg.Database.ConnMaxLifetime, cfg.Database.ConnMaxIdleTime); err != nil {
		logger.Fatal("Failed to configure connection pool", zap.Error(err))
	}
	if err := store.Migrate(db); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}
	logger.InfoCtx(ctx, "Connected to database")

	// Initialize store
	dataStore := store.NewPGStore(db)

	// Initialize adapters
	clockAdapter := adapter.NewClock()

	// Dial the chain RPC node
	ethDialer := adapter.NewEthClientDialer()
	ethClient, err := ethDialer.Dial(ctx, cfg.Chain.RPCURL)
	if err != nil {
		logger.Fatal("Failed to dial RPC node", zap.Error(err), zap.String("rpc_url", cfg.Chain.RPCURL))
	}
	defer ethClient.Close()

	// Keep RPC traffic inside the node provider's request budget
	throttled := ratelimit.WrapEthClient(ethClient, ratelimit.New(ratelimit.Config{
		RequestsPerSecond: cfg.Chain.RequestsPerSecond,
		Burst:             cfg.Chain.RequestBurst,
	}))

	chainClient := chain.NewClient(throttled, clockAdapter, cfg.Chain.ChunkSize)
	blocks := block.NewBlockProvider(block.NewChainFetcher(chainClient), block.Config{
		TTL:         cfg.Chain.BlockHeadTTL,
		StaleWindow: cfg.Chain.BlockHeadStaleWindow,
	}, clockAdapter)

	// Initialize processing pipeline
	proc := processor.NewProcessor(dataStore, blocks, clockAdapter, processor.Config{
		MaxRetries:       cfg.Watcher.MaxRetries,
		DaysToKeep:       cfg.Cleanup.DaysToKeep,
		CleanupBatchSize: cfg.Cleanup.BatchSize,
	})

	manager := watcher.NewManager(dataStore, chainClient, blocks, proc, clockAdapter, watcher.Config{
		PollInterval: cfg.Watcher.PollInterval,
		SeedOffset:   cfg.Watcher.SeedOffset,
	})

	// Resume loops for subscriptions that were active before restart
	if err := manager.StartAll(ctx); err != nil {
		logger.Fatal("Failed to start watch loops", zap.Error(err))
	}

	// Schedule background sweeps
	sweeps := watcher.NewSweeps(dataStore, blocks, manager, proc, watcher.SweepConfig{
		RetrySchedule:   cfg.Watcher.RetrySchedule,
		GapSchedule:     cfg.Watcher.GapSchedule,
		CleanupSchedule: cfg.Watcher.CleanupSchedule,
		RetryCooldown:   cfg.Watcher.RetryCooldown,
		GapThreshold:    cfg.Watcher.GapThreshold,
		WorkerPoolSize:  cfg.Worker.WorkerPoolSize,
		WorkerQueueSize: cfg.Worker.WorkerQueueSize,
	})
	if err := sweeps.Start(ctx); err != nil {
		logger.Fatal("Failed to start sweeps", zap.Error(err))
	}

	// Initialize API server
	handler := rest.NewHandler(dataStore, manager, proc, rest.DefaultContracts{
		CoreHub: cfg.Watcher.DefaultCoreHub,
		Escrow:  cfg.Watcher.DefaultEscrow,
	})
	apiServer := server.New(server.Config{
		Debug:        cfg.Debug,
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}, handler)

	errCh := make(chan error, 1)
	go func() {
		if err := apiServer.Start(); err != nil {
			errCh <- err
		}
	}()

	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.InfoCtx(ctx, "Received shutdown signal", zap.String("signal", sig.String()))
	case err := <-errCh:
		logger.ErrorCtx(ctx, err, zap.String("component", "api"))
	}

	// Graceful shutdown: stop sweeps, drain loops, close the server
	sweeps.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	manager.Shutdown(shutdownCtx)

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error(err)
	}

	cancel()
	logger.Info("FreightFlow Event Logger stopped")
}
