package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/papertrade-sim/internal/config"
	"github.com/papertrade-sim/internal/handler"
	"github.com/papertrade-sim/internal/middleware"
	"github.com/papertrade-sim/internal/models"
	"github.com/papertrade-sim/internal/quote"
	"github.com/papertrade-sim/internal/ratelimit"
	"github.com/papertrade-sim/internal/repository"
	"github.com/papertrade-sim/internal/service"
	"github.com/papertrade-sim/internal/sweep"
	"github.com/papertrade-sim/internal/worker"
)

// Build info (injected at build time via -ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	cfg, err := config.Load(configPath())
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	gin.SetMode(cfg.Server.Mode)

	if err := middleware.InitLogger(cfg.Log.Dir); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	db, err := initDatabase(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	rdb := initRedis(cfg)

	if err := autoMigrate(db); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	// Repositories
	userRepo := repository.NewUserRepository(db)
	accountRepo := repository.NewAccountRepository(db)
	positionRepo := repository.NewPositionRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	tradeRepo := repository.NewTradeRepository(db)
	closedPnLRepo := repository.NewClosedPnLRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	// Quote feed and price service
	feed := quote.NewBinanceFeed(cfg.Quote.WSURL, cfg.Quote.RestURL)
	priceService := service.NewPriceService(rdb, feed, cfg.Quote.Symbols)

	// Services
	authService := service.NewAuthService(userRepo, cfg.JWT)
	accountService := service.NewAccountService(accountRepo, ledgerRepo, cfg.Encryption)
	notificationService := service.NewNotificationService(notificationRepo, rdb)
	settlementService := service.NewSettlementService(db)
	tradingService := service.NewTradingService(
		accountRepo,
		positionRepo,
		orderRepo,
		tradeRepo,
		closedPnLRepo,
		ledgerRepo,
		priceService,
		settlementService,
	)

	// Handlers
	authHandler := handler.NewAuthHandler(authService)
	accountHandler := handler.NewAccountHandler(accountService)
	priceHandler := handler.NewPriceHandler(priceService)
	tradingHandler := handler.NewTradingHandler(tradingService)
	notificationHandler := handler.NewNotificationHandler(notificationService)

	router := gin.Default()
	router.Use(middleware.RequestLoggerMiddleware())
	router.Use(corsMiddleware())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":     "ok",
			"version":    Version,
			"commit":     Commit,
			"build_time": BuildTime,
			"time":       time.Now().Unix(),
			"feed":       priceService.IsConnected(),
		})
	})

	authMiddleware := middleware.AuthMiddleware(authService)
	adminMiddleware := middleware.RequireAdmin(authService)

	rateLimitWindow := time.Duration(cfg.RateLimit.WindowSeconds) * time.Second
	limiter := buildLimiter(cfg, rdb)
	if mem, ok := limiter.(*ratelimit.MemoryLimiter); ok {
		go memoryLimiterJanitor(mem, rateLimitWindow)
	}
	rateLimitMiddleware := middleware.RateLimitMiddleware(limiter, cfg.RateLimit.Requests, rateLimitWindow)

	v1 := router.Group("/api/v1")
	{
		// Auth routes (public)
		authHandler.RegisterRoutes(v1)

		// Price routes (public)
		priceHandler.RegisterRoutes(v1)

		// Protected routes
		accountHandler.RegisterRoutes(v1, authMiddleware, adminMiddleware)
		notificationHandler.RegisterRoutes(v1, authMiddleware)

		// Trading routes carry the rate limit on top of auth
		tradingHandler.RegisterRoutes(v1, authMiddleware, rateLimitMiddleware)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	ctx := context.Background()
	if err := priceService.Start(ctx); err != nil {
		log.Printf("Warning: Failed to start price service: %v", err)
	}

	// In-process sweep loop. Deployments that run cmd/sweeper from an
	// external scheduler leave this off.
	var sweepWorker *worker.SweepWorker
	if cfg.Sweep.Worker {
		dedup := sweep.NewDedup(time.Duration(cfg.Sweep.DedupTTLSeconds) * time.Second)
		engine := sweep.NewEngine(
			positionRepo,
			accountRepo,
			priceService,
			settlementService,
			notificationService,
			dedup,
			cfg.Sweep.Concurrency,
		)
		sweepWorker = worker.NewSweepWorker(engine, dedup, cfg.Sweep.Interval())
		go sweepWorker.Start()
	}

	go func() {
		log.Printf("Starting server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	if sweepWorker != nil {
		sweepWorker.Stop()
	}
	priceService.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	if err := rdb.Close(); err != nil {
		log.Printf("Error closing Redis connection: %v", err)
	}

	log.Println("Server exited properly")
}

func configPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "config.yaml"
}

func initDatabase(cfg *config.Config) (*gorm.DB, error) {
	gormLogger := logger.Default.LogMode(logger.Info)
	if cfg.Server.Mode == "release" {
		gormLogger = logger.Default.LogMode(logger.Warn)
	}

	db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return db, nil
}

func initRedis(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

func buildLimiter(cfg *config.Config, rdb *redis.Client) ratelimit.Limiter {
	if cfg.RateLimit.UseRedis {
		return ratelimit.NewRedisLimiter(rdb)
	}
	return ratelimit.NewMemoryLimiter()
}

// memoryLimiterJanitor drops expired per-key windows so idle keys do not
// accumulate for the life of the process.
func memoryLimiterJanitor(mem *ratelimit.MemoryLimiter, window time.Duration) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		mem.Cleanup(window)
	}
}

func autoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Account{},
		&models.Position{},
		&models.Order{},
		&models.Trade{},
		&models.ClosedPnLRecord{},
		&models.LedgerEntry{},
		&models.IdempotencyRecord{},
		&models.Notification{},
	)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, Idempotency-Key")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
