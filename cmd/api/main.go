package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/obverse/obverse/internal/bot"
	"github.com/obverse/obverse/internal/config"
	"github.com/obverse/obverse/internal/logging"
	"github.com/obverse/obverse/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat).With(slog.String("app", cfg.AppName), slog.String("env", cfg.AppEnv))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backends, closeBackends, err := server.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("connect backends", "error", err)
		os.Exit(1)
	}
	defer closeBackends()

	svc, err := server.BuildServices(ctx, cfg, backends, logger)
	if err != nil {
		logger.Error("build services", "error", err)
		os.Exit(1)
	}

	srv, err := server.New(cfg, backends, svc, logger)
	if err != nil {
		logger.Error("build server", "error", err)
		os.Exit(1)
	}

	var tg *bot.Bot
	if cfg.TelegramToken != "" {
		api, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
		if err != nil {
			logger.Error("connect telegram", "error", err)
			os.Exit(1)
		}
		tg = bot.New(bot.Deps{
			API:     api,
			Users:   svc.Identity,
			Wallets: svc.Wallets,
			Funding: svc.Funding,
			Swaps:   svc.Swaps,
			Flow:    svc.Flow,
			Tokens:  svc.Tokens,
			Logger:  logger.With(slog.String("component", "bot")),
		})
		svc.Notifications.Add(tg)
	} else {
		logger.Warn("TELEGRAM_BOT_TOKEN not set, chat interface disabled")
	}

	go svc.Payments.RunExpiry(ctx, cfg.LinkSweepInterval)

	errCh := make(chan error, 2)
	go func() {
		errCh <- srv.Listen()
	}()
	if tg != nil {
		go func() {
			errCh <- tg.Start(ctx)
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("component stopped", "error", err)
		}
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()

	if tg != nil {
		tg.Stop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server exited cleanly")
}
