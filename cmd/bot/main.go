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

	"cashback-bot/config"
	"cashback-bot/internal/bot"
	"cashback-bot/internal/dedup"
	"cashback-bot/internal/flow"
	"cashback-bot/internal/gpt"
	"cashback-bot/internal/ledger"
	"cashback-bot/internal/metrics"
	"cashback-bot/internal/server"
	"cashback-bot/pkg/logger"
)

func main() {
	l := logger.New()
	l.Info("Starting Cashback Campaign Bot...")

	cfg, err := config.Load()
	if err != nil {
		l.Fatal("Failed to load config", err)
	}

	if cfg.Telegram.Token == "" {
		l.Fatal("Telegram token is not configured")
	}
	if cfg.Telegram.Channel == "" {
		l.Fatal("Telegram channel is not configured")
	}
	if cfg.Campaign.Article == "" {
		l.Fatal("Campaign article is not configured")
	}
	if cfg.GPT.APIKey == "" {
		l.Fatal("GPT API key is not configured")
	}

	metrics.Register()

	// Connect to the ledger database with retry.
	var db *ledger.Postgres
	maxRetries := 5
	for i := 0; i < maxRetries; i++ {
		db, err = ledger.NewPostgres(cfg.DB)
		if err == nil {
			break
		}
		l.Error("Failed to connect to database, retrying...", err)
		time.Sleep(time.Duration(i+1) * time.Second)
	}
	if db == nil {
		l.Fatal("Failed to connect to database after multiple attempts", err)
	}
	defer db.Close()

	// The dedup guard shares the ledger's pool unless explicitly pinned to
	// a single-process in-memory set.
	var guard flow.Guard
	if cfg.Dedup.InMemory {
		guard = dedup.NewMemory()
	} else {
		guard = dedup.NewPostgres(db.Pool())
	}

	gptClient := gpt.NewClient(cfg.GPT.APIKey).WithModel(cfg.GPT.Model)

	telegramBot, err := bot.NewTelegramBot(cfg.Telegram.Token, l)
	if err != nil {
		l.Fatal("Failed to create Telegram bot", err)
	}

	controller := flow.NewController(db, guard, telegramBot, gptClient, l, flow.Options{
		Article:      cfg.Campaign.Article,
		Channel:      cfg.Telegram.Channel,
		PayoutMarker: cfg.Campaign.PayoutMarker,
		AckWords:     cfg.Flow.AckWords,
		LongTextMin:  cfg.Flow.LongTextMin,
	})
	telegramBot.AttachController(controller)

	if err := telegramBot.Start(context.Background()); err != nil {
		l.Fatal("Failed to start Telegram bot", err)
	}
	l.Info("Telegram bot started successfully")

	httpServer := server.NewServer(cfg.Server.Port, l)
	go func() {
		if err := httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Fatal("Failed to start HTTP server", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	l.Info("Shutting down bot...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Stop(ctx); err != nil {
		l.Error("Error during HTTP server shutdown", err)
	}

	if err := telegramBot.Stop(ctx); err != nil {
		l.Error("Error during bot shutdown", err)
	}

	l.Info("Bot stopped successfully")
}
