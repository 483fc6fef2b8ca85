package main

import (
	"context"
	"errors"
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
	"github.com/walletops/hookrelay/internal/bridge"
	"github.com/walletops/hookrelay/internal/config"
	"github.com/walletops/hookrelay/internal/logger"
	"github.com/walletops/hookrelay/internal/publisher"
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
	cfg, err := config.LoadEventBridgeConfig(*configFile, *envPath)
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
			"service": "event-bridge",
		},
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Flush(2 * time.Second)
	logger.Info("Starting event bridge")

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
	pub := publisher.New(dataStore, adapter.NewClock())

	bridgeConfig := bridge.Config{
		URL:            cfg.NATS.URL,
		StreamName:     cfg.NATS.StreamName,
		ConsumerName:   cfg.NATS.ConsumerName,
		MaxReconnects:  cfg.NATS.MaxReconnects,
		ReconnectWait:  cfg.NATS.ReconnectWait,
		ConnectionName: cfg.NATS.ConnectionName,
		AckWaitTimeout: cfg.NATS.AckWait,
		MaxDeliver:     cfg.NATS.MaxDeliver,
	}

	b, err := bridge.NewBridge(bridgeConfig, adapter.NewNatsJetStream(), pub)
	if err != nil {
		logger.Fatal("Failed to create event bridge", zap.Error(err))
	}
	defer b.Close()

	errCh := make(chan error, 1)
	go func() {
		if err := b.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case err := <-errCh:
		logger.Error(err, zap.String("component", "bridge"))
	}
	cancel()

	logger.Info("Event bridge stopped")
}
