package main

import (
	"credit_system/internal/api"          // Custom package for API handlers
	"credit_system/internal/cache"        // Cache backends
	"credit_system/internal/config"       // Custom package for configuration
	"credit_system/internal/ledger"       // Wallet ledger
	"credit_system/internal/middleware"   // Custom package for middleware
	"credit_system/internal/pricing"      // Price catalog
	"credit_system/internal/subscription" // Subscription manager and refill scheduler
	"log"                                 // log package is needed for logging

	"github.com/gin-gonic/gin"   // Gin web framework
	"github.com/sirupsen/logrus" // Logrus for structured logging
	"gorm.io/driver/mysql"       // MySQL driver for GORM
	"gorm.io/gorm"               // GORM ORM library
)

// Main function to set up and run the server
func main() {
	cfg := config.LoadConfig() // Load configuration

	// Setup logger
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	// Connect to the database
	db, err := gorm.Open(mysql.Open(cfg.DSN()), &gorm.Config{})
	if err != nil {
		logrus.Fatalf("failed to connect to DB: %v", err) // Fatal error if DB connection fails
	}

	// Select the cache backend: Redis when an address is configured, the
	// in-process map otherwise. The Redis backend connects lazily, so an
	// unreachable server does not block startup.
	cacheBackend := cache.New(cache.Options{
		Backend:   cfg.CacheBackend, // Backend override
		RedisAddr: cfg.RedisAddr,    // Redis server address
		RedisPass: cfg.RedisPass,    // Redis password
		RedisDB:   cfg.RedisDB,      // Redis database number
	})
	defer cacheBackend.Close()

	// Wire the billing core; store and cache are injected, never ambient
	catalog := pricing.NewCatalog(db, cacheBackend)
	walletLedger := ledger.New(db, cacheBackend, catalog)
	subManager := subscription.NewManager(db, cacheBackend, walletLedger)

	// Periodic refill sweep
	scheduler := subscription.NewRefillScheduler(subManager, cfg.RefillSchedule)
	if err := scheduler.Start(); err != nil {
		logrus.Fatalf("failed to start refill scheduler: %v", err)
	}
	defer scheduler.Stop()

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

	// Auth routes
	r.POST("/user", api.RegisterHandler(db))            // Registration endpoint
	r.GET("/user", api.LoginHandler(db, cfg.JWTSecret)) // Login endpoint

	// Plan catalog is public
	r.GET("/plans/:name", api.GetPlanHandler(subManager)) // Plan lookup endpoint

	// Wallet and billing routes (protected by JWT)
	billingGroup := r.Group("/billing")
	billingGroup.Use(middleware.JWTAuthMiddleware(cfg.JWTSecret))
	billingGroup.GET("/wallet", api.GetWalletHandler(walletLedger))                     // Wallet and balance endpoint
	billingGroup.POST("/deduct", api.DeductHandler(walletLedger))                       // Metered usage debit endpoint
	billingGroup.POST("/credit", api.CreditHandler(walletLedger))                       // Purchase credit endpoint
	billingGroup.GET("/usage", api.GetUsageHistoryHandler(db, walletLedger))            // Usage history endpoint
	billingGroup.GET("/subscription", api.GetSubscriptionHandler(subManager))           // Active subscription endpoint
	billingGroup.POST("/subscription", api.SubscribeHandler(subManager))                // Subscribe endpoint
	billingGroup.DELETE("/subscription/:id", api.CancelSubscriptionHandler(subManager)) // Cancel endpoint

	// Admin routes (protected, admin only)
	adminGroup := r.Group("/admin")
	adminGroup.Use(middleware.JWTAuthMiddleware(cfg.JWTSecret), middleware.AdminOnlyMiddleware(db))
	adminGroup.PUT("/prices", api.UpsertPriceHandler(db, catalog)) // Price upsert endpoint
	adminGroup.POST("/refills", api.RunRefillsHandler(subManager)) // Manual refill sweep endpoint

	log.Println("Server running on " + cfg.AppPort) // Log server start
	r.Run(":" + cfg.AppPort)                        // Start the server on port cfg.AppPort
}
