package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/xaenox/codereview-threads/internal/app"
	"github.com/xaenox/codereview-threads/internal/bot"
	"github.com/xaenox/codereview-threads/pkg/config"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger, _ := zap.NewProduction()
		logger.Fatal("Failed to load config", zap.Error(err), zap.String("path", *configPath))
	}

	// Initialize logger
	logger, err := app.NewLogger(cfg.Log.Debug)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize storage, threads and the query pipeline
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer a.Close()

	logger.Info("Review session loaded",
		zap.String("storage", cfg.Storage.Backend),
		zap.String("provider", string(a.Store.Settings().Provider)),
		zap.Int("threads", len(a.Store.Threads())))

	// Initialize bot
	b, err := bot.New(cfg.Telegram.Token, a.Store, a.Review, a.Adapter, bot.Options{
		AllowedUsers:       cfg.Telegram.AllowedUsers,
		StreamEditInterval: cfg.Telegram.StreamEditInterval,
	}, logger.Named("bot"))
	if err != nil {
		logger.Fatal("Failed to create bot", zap.Error(err))
	}

	// Start the bot
	if err := b.Start(ctx); err != nil {
		logger.Fatal("Bot error", zap.Error(err))
	}
	logger.Info("Bot stopped")
}
