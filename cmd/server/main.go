package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"jobpulse/internal/app"
	"jobpulse/internal/config"
	"jobpulse/internal/logger"

	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("failed to read .env: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	lg := logger.New(cfg.App.LogLevel, cfg.App.IsDevelopment())
	defer func() { _ = lg.Sync() }()

	bootCtx, bootCancel := context.WithTimeout(context.Background(), 2*time.Minute)
	bootstrap, cleanup, err := app.Bootstrap(bootCtx, cfg, lg)
	bootCancel()
	if err != nil {
		lg.Fatal("failed to bootstrap app", logger.Error(err))
	}

	addr, err := app.ListenAddr(cfg.App.HTTPPort)
	if err != nil {
		lg.Fatal("invalid HTTP port", logger.Error(err))
	}

	errCh := make(chan error, 1)
	go func() {
		lg.Info("http server listening", logger.String("addr", addr))
		errCh <- bootstrap.Fiber.Listen(addr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			lg.Error("server error", logger.Error(err))
		}
	case sig := <-sigCh:
		lg.Info("shutting down", logger.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := bootstrap.Fiber.ShutdownWithContext(ctx); err != nil {
		lg.Error("shutdown error", logger.Error(err))
	}
	if err := cleanup(ctx); err != nil {
		lg.Error("cleanup error", logger.Error(err))
	}
}
