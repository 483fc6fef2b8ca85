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
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/walletops/hookrelay/internal/adapter"
	"github.com/walletops/hookrelay/internal/config"
	"github.com/walletops/hookrelay/internal/dispatcher"
	"github.com/walletops/hookrelay/internal/logger"
	"github.com/walletops/hookrelay/internal/store"
)

var (
	configFile = flag.String("config", "", "Path to configuration file")
	envPath    = flag.String("env", "config/", "Path to environment files")
)

func main() {
	flag.Parse()

	// Load configuration
	config.ChdirRepoRoot()
	cfg, err := config.LoadDispatcherConfig(*configFile, *envPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize logger with sentry integration
	err = logger.Initialize(logger.Config{
		Debug:     cfg.Debug,
		SentryDSN: cfg.SentryDSN,
		Tags: map[string]string{
			"service": "dispatcher",
		},
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Flush(2 * time.Second)
	logger.Info("Starting webhook delivery dispatcher")

	// Connect to database
	db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}

	if err := store.ConfigureConnectionPool(db, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime, cfg.Database.ConnMaxIdleTime); err != nil {
		logger.Fatal("Failed to configure connection pool", zap.Error(err))
	}
	if err := store.AutoMigrate(db); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	dataStore := store.NewPGStore(db)

	dispatcherConfig := dispatcher.Config{
		WorkerPoolSize:  cfg.Worker.PoolSize,
		BatchSize:       cfg.Worker.BatchSize,
		SweepInterval:   cfg.Delivery.SweepInterval,
		ClaimLease:      cfg.Delivery.ClaimLease,
		DeliveryTimeout: cfg.Delivery.Timeout,
		Retry: dispatcher.RetryPolicy{
			Base:        cfg.Delivery.RetryBase,
			MaxDelay:    cfg.Delivery.RetryMaxDelay,
			MaxAttempts: cfg.Delivery.RetryMaxAttempts,
		},
	}

	d := dispatcher.New(dispatcherConfig, dataStore, adapter.NewClock())

	errCh := make(chan error, 1)
	go func() {
		if err := d.Start(ctx); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case err := <-errCh:
		logger.Error(err, zap.String("component", "dispatcher"))
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := d.Stop(shutdownCtx); err != nil {
		logger.Fatal("Dispatcher forced to shutdown", zap.Error(err))
	}

	logger.Info("Dispatcher stopped")
}
