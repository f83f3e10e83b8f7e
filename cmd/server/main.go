package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/litup/indexer/internal/access"
	"github.com/litup/indexer/internal/api"
	"github.com/litup/indexer/internal/cache"
	"github.com/litup/indexer/internal/chain"
	"github.com/litup/indexer/internal/contract"
	"github.com/litup/indexer/internal/db"
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
	logger.Info("Starting LitUp API Server")

	// Initialize telemetry
	telemetryShutdown, err := telemetry.Init(&cfg.Telemetry)
	if err != nil {
		logger.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	defer telemetryShutdown()

	database, err := db.New(&cfg.Database, cfg.Logging.Level)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close()
	store := db.NewStore(database.DB)

	redisCache, err := cache.New(&cfg.Redis)
	if err != nil {
		logger.Warn("Redis unavailable, serving without cache", zap.Error(err))
		redisCache = nil
	}
	defer redisCache.Close()

	deps := api.Deps{
		Posts:     store.Posts(),
		Purchases: store.Purchases(),
		State:     store.State(),
		Cache:     redisCache,
	}

	if common.IsHexAddress(cfg.Chain.ContractAddress) {
		deps.Contract = common.HexToAddress(cfg.Chain.ContractAddress)
		deps.ChainName = cfg.Chain.ChainName
	}

	if common.IsHexAddress(cfg.Chain.ContractAddress) && cfg.Chain.RPCURL != "" {
		client, err := chain.New(context.Background(), &cfg.Chain)
		if err != nil {
			logger.Fatal("Failed to connect to chain", zap.Error(err))
		}
		defer client.Close()

		caller, err := contract.NewCaller(deps.Contract, client)
		if err != nil {
			logger.Fatal("Failed to bind contract", zap.Error(err))
		}
		deps.Access = access.NewEvaluator(caller)
	}

	// Create Gin router
	if cfg.Logging.Level == "DEBUG" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	if cfg.Telemetry.PrometheusEnabled {
		engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}
	api.NewRouter(deps).SetupRoutes(engine)

	// Create HTTP server
	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: engine,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Server starting", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
