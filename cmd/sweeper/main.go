package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/papertrade-sim/internal/config"
	"github.com/papertrade-sim/internal/quote"
	"github.com/papertrade-sim/internal/repository"
	"github.com/papertrade-sim/internal/service"
	"github.com/papertrade-sim/internal/sweep"
)

// One-shot protection sweep for cron-style scheduling. Runs a single pass
// over open positions with stop-loss, take-profit or trailing protection,
// settles whatever has triggered, prints the report and exits. Exit code is
// non-zero only when the pass itself could not run; per-position settlement
// errors are reported in the summary and retried on the next invocation.
func main() {
	configFlag := flag.String("config", "", "path to config file (default: $CONFIG_PATH or config.yaml)")
	timeoutFlag := flag.Duration("timeout", 30*time.Second, "overall pass deadline")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(resolveConfigPath(*configFlag))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		log.Fatalf("Failed to connect database: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	positionRepo := repository.NewPositionRepository(db)
	accountRepo := repository.NewAccountRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	// No websocket here; lookups go through the redis cache fed by the
	// server, with REST as the fallback.
	feed := quote.NewBinanceFeed(cfg.Quote.WSURL, cfg.Quote.RestURL)
	priceService := service.NewPriceService(rdb, feed, cfg.Quote.Symbols)

	notificationService := service.NewNotificationService(notificationRepo, rdb)
	settlementService := service.NewSettlementService(db)

	engine := sweep.NewEngine(
		positionRepo,
		accountRepo,
		priceService,
		settlementService,
		notificationService,
		sweep.NewDedup(time.Duration(cfg.Sweep.DedupTTLSeconds)*time.Second),
		cfg.Sweep.Concurrency,
	)

	ctx, cancel := context.WithTimeout(context.Background(), *timeoutFlag)
	defer cancel()

	report, err := engine.Run(ctx)
	if err != nil {
		log.Fatalf("Sweep failed: %v", err)
	}

	fmt.Printf("checked=%d triggered=%d settled=%d replayed=%d skipped=%d errors=%d duration=%s\n",
		report.Checked, report.Triggered, report.Settled, report.Replayed,
		report.Skipped, report.Errors, report.Duration.Round(time.Millisecond))
}

func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "config.yaml"
}
