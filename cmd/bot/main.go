// cmd/bot/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"freezy-bot/config"
	"freezy-bot/internal/api"
	"freezy-bot/internal/bot"
	"freezy-bot/internal/db"
	"freezy-bot/internal/gpt"
	"freezy-bot/internal/payment"
	"freezy-bot/internal/server"
	"freezy-bot/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New().Fatalw("Failed to load config", "error", err)
	}

	l := logger.ForEnv(cfg.LogEnv)
	defer l.Sync()
	l.Info("Starting FreezyCorp bot...")

	if err := cfg.Validate(); err != nil {
		l.Fatalw("Invalid configuration", "error", err)
	}
	if cfg.GPT.APIKey == "" {
		l.Warn("GPT API key is not configured, comments will not be moderated")
	}

	sealer, err := db.NewSealer(cfg.Session.EncryptionKey)
	if err != nil {
		l.Fatalw("Invalid session encryption key", "error", err)
	}

	// Initialize database connection with retry
	var database *db.PostgresDB
	maxRetries := 5
	for i := 0; i < maxRetries; i++ {
		database, err = db.NewPostgresDB(cfg.DB, sealer)
		if err == nil {
			break
		}
		l.Errorw("Failed to connect to database, retrying...", "attempt", i+1, "error", err)
		time.Sleep(time.Duration(i+1) * time.Second)
	}
	if database == nil {
		l.Fatalw("Failed to connect to database after multiple attempts", "error", err)
	}
	defer database.Close()

	migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), 30*time.Second)
	err = database.Migrate(migrateCtx)
	cancelMigrate()
	if err != nil {
		l.Fatalw("Failed to migrate database", "error", err)
	}

	backend := api.New(cfg.Backend.BaseURL, cfg.Backend.Timeout, l.Component("api"))
	stripeClient := payment.NewStripeClient(cfg.Stripe)
	moderator := gpt.NewClient(cfg.GPT.APIKey).WithModel(cfg.GPT.Model)

	telegramBot, err := bot.NewTelegramBot(cfg.Telegram.Token, backend, database, stripeClient, moderator, l.Component("bot"))
	if err != nil {
		l.Fatalw("Failed to create Telegram bot", "error", err)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	if err := telegramBot.Start(ctx); err != nil {
		l.Fatalw("Failed to start Telegram bot", "error", err)
	}
	l.Info("Telegram bot started successfully")

	httpServer := server.NewServer(cfg.Server.Port, telegramBot.HandleStripeWebhook, l.Component("server"))
	go func() {
		if err := httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Fatalw("Failed to start HTTP server", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	l.Info("Shutting down bot...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Stop HTTP server first
	if err := httpServer.Stop(shutdownCtx); err != nil {
		l.Errorw("Error during HTTP server shutdown", "error", err)
	}

	if err := telegramBot.Stop(shutdownCtx); err != nil {
		l.Errorw("Error during bot shutdown", "error", err)
	}

	l.Info("Bot stopped successfully")
}
