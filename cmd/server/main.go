package main

import (
	"context" // context package is needed for startup and scheduled passes

	"github.com/gin-gonic/gin"                                // Gin web framework
	"github.com/prometheus/client_golang/prometheus/promhttp" // Metrics endpoint
	"github.com/robfig/cron/v3"                               // In-process schedule
	"github.com/sirupsen/logrus"                              // Logrus for structured logging

	"nano_storage/internal/api"        // Custom package for API handlers
	"nano_storage/internal/app"        // Component wiring
	"nano_storage/internal/config"     // Custom package for configuration
	"nano_storage/internal/metrics"    // Prometheus counters
	"nano_storage/internal/middleware" // Custom package for middleware
	"nano_storage/internal/utils"      // Service token scopes
)

// Main function to set up and run the server
func main() {
	cfg := config.LoadConfig() // Load configuration

	// Setup logger
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	// Connect to the database, Redis and the chain
	a, err := app.New(context.Background(), cfg)
	if err != nil {
		logrus.Fatalf("failed to start: %v", err) // Fatal error if a dependency is unreachable
	}
	defer a.Close()

	// Set Mode to Release if in production
	if cfg.IsProd {
		gin.SetMode(gin.ReleaseMode)
	}

	// Setup Gin
	r := gin.Default() // Gin router instance

	// Set trusted proxies for Gin
	if err := r.SetTrustedProxies([]string{"127.0.0.1"}); err != nil {
		logrus.Fatalf("failed to set trusted proxies: %v", err)
	}

	var deposits api.DepositSource // Left nil without a chain connection
	if a.Chain != nil {
		deposits = a.Chain
	}

	// Download route, file checks run before payment settlement
	r.GET("/download/:fileId", middleware.FileAccess(a.Files, a.Blobs), api.DownloadHandler(a.Resolver, a.Blobs))

	// Wallet routes
	r.GET("/balance/:walletId", api.GetBalanceHandler(a.Ledger))                                    // Balance endpoint
	r.GET("/balance/:walletId/transactions", api.GetTransactionHistoryHandler(a.Wallets))           // Credit journal endpoint
	r.POST("/deposit", api.DepositHandler(a.Ledger, deposits, a.Files, a.Redis, cfg.TokenDecimals)) // Deposit endpoint
	r.GET("/storage-fee/estimate", api.StorageFeeEstimateHandler(a.Files, a.Ledger, cfg.Rates(), a.Redis))

	// Listener routes (protected by service token)
	listenerGroup := r.Group("/listeners")
	listenerGroup.Use(middleware.ServiceTokenMiddleware(cfg.JWTSecret, utils.ScopeListener))
	listenerGroup.POST("/credit-deposited", api.CreditDepositedHandler(a.Ledger, a.Files, a.Redis))

	// Cron routes (protected by service token)
	cronGroup := r.Group("/cron")
	cronGroup.Use(middleware.ServiceTokenMiddleware(cfg.JWTSecret, utils.ScopeCron))
	cronGroup.POST("/storage-fee", api.StorageFeeCronHandler(a.Scheduler))                  // Storage fee pass
	cronGroup.POST("/nonce-sweep", api.NonceSweepCronHandler(a.Nonces, cfg.NonceRetention)) // Payment record sweep

	r.GET("/metrics", gin.WrapH(promhttp.Handler())) // Prometheus metrics

	// Optional in-process triggers
	scheduled := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if cfg.StorageFeeCron != "" {
		if _, err := scheduled.AddFunc(cfg.StorageFeeCron, func() {
			if _, err := a.Scheduler.RunStorageFeePass(context.Background()); err != nil {
				logrus.WithField("error", err.Error()).Error("Scheduled storage fee pass failed")
			}
		}); err != nil {
			logrus.Fatalf("invalid STORAGE_FEE_CRON: %v", err)
		}
	}
	if cfg.NonceSweepCron != "" {
		if _, err := scheduled.AddFunc(cfg.NonceSweepCron, func() {
			deleted, err := a.Nonces.SweepExpired(context.Background(), cfg.NonceRetention)
			if err != nil {
				logrus.WithField("error", err.Error()).Error("Scheduled nonce sweep failed")
				return
			}
			metrics.NoncesSwept.Add(float64(deleted))
		}); err != nil {
			logrus.Fatalf("invalid NONCE_SWEEP_CRON: %v", err)
		}
	}
	scheduled.Start()
	defer scheduled.Stop()

	logrus.Info("Server running on " + cfg.AppPort) // Log server start
	if err := r.Run(":" + cfg.AppPort); err != nil { // Start the server on port cfg.AppPort
		logrus.Fatalf("server stopped: %v", err)
	}
}
