package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/litup/indexer/internal/chain"
	"github.com/litup/indexer/internal/contract"
	"github.com/litup/indexer/internal/db"
	"github.com/litup/indexer/internal/indexer"
	"github.com/litup/indexer/internal/kafka"
	"github.com/litup/indexer/pkg/config"
	"github.com/litup/indexer/pkg/logging"
	"github.com/litup/indexer/pkg/telemetry"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logging.InitLogger(&cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logging.GetLogger().Sync()

	logger := logging.GetLogger()
	logger.Info("Starting LitUp Indexer")

	// Initialize telemetry
	telemetryShutdown, err := telemetry.Init(&cfg.Telemetry)
	if err != nil {
		logger.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	defer telemetryShutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.New(&cfg.Database, cfg.Logging.Level)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close()

	client, err := chain.New(ctx, &cfg.Chain)
	if err != nil {
		logger.Fatal("Failed to connect to chain", zap.Error(err))
	}
	defer client.Close()

	if err := checkContract(ctx, client, cfg.Chain.ContractAddress); err != nil {
		logger.Fatal("Contract check failed", zap.Error(err))
	}

	publisher, err := kafka.NewPublisher(&cfg.Kafka)
	if err != nil {
		logger.Fatal("Failed to start change publisher", zap.Error(err))
	}
	var changes indexer.ChangePublisher
	if publisher != nil {
		changes = publisher
		defer publisher.Close()
	}

	syncer, err := indexer.NewSync(cfg, client, db.NewStore(database.DB), changes)
	if err != nil {
		logger.Fatal("Failed to create indexer", zap.Error(err))
	}

	metricsSrv := serveMetrics(&cfg.Telemetry, logger)

	if err := syncer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Indexer exited with error", zap.Error(err))
		shutdownMetrics(metricsSrv, logger)
		os.Exit(1)
	}

	logger.Info("Shutting down indexer...")
	shutdownMetrics(metricsSrv, logger)
	logger.Info("Indexer exited")
}

// checkContract fails when nothing is deployed at the configured address
func checkContract(ctx context.Context, client *chain.Client, address string) error {
	if !common.IsHexAddress(address) {
		return fmt.Errorf("invalid contract address %q", address)
	}
	code, err := client.CodeAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return err
	}
	if len(code) == 0 {
		return fmt.Errorf("no contract code at %s", address)
	}

	caller, err := contract.NewCaller(common.HexToAddress(address), client)
	if err != nil {
		return err
	}
	next, err := caller.NextPostID(ctx)
	if err != nil {
		return err
	}
	logging.GetLogger().Info("Contract found",
		zap.String("address", address),
		zap.String("next_post_id", next.String()))
	return nil
}

func serveMetrics(cfg *config.TelemetryConfig, logger *zap.Logger) *http.Server {
	if !cfg.PrometheusEnabled {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.PrometheusPort),
		Handler: mux,
	}
	go func() {
		logger.Info("Metrics server starting", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()
	return srv
}

func shutdownMetrics(srv *http.Server, logger *zap.Logger) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("Metrics server shutdown failed", zap.Error(err))
	}
}
