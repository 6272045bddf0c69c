package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/betbot/nftmarket/internal/app"
	"github.com/betbot/nftmarket/internal/metrics"
	"github.com/betbot/nftmarket/pkg/config"
	"github.com/betbot/nftmarket/pkg/logger"
	"github.com/betbot/nftmarket/pkg/shutdown"
)

func main() {
	// Load .env (best-effort). If missing, fall back to real env vars.
	_ = godotenv.Load()

	configPath := flag.String("config", os.Getenv("NFTMARKET_CONFIG"), "config file (.yaml/.yml/.json)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "nftmarket: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		OutputFile: cfg.Log.File,
		MaxSize:    cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
		JSON:       cfg.Log.JSON,
	}); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Close()

	a, err := app.New(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.Listen != "" {
		if _, err := metrics.StartAsync(ctx, cfg.Metrics.Listen); err != nil {
			_ = a.Close()
			return fmt.Errorf("start metrics: %w", err)
		}
	}
	if err := a.Start(ctx, nil); err != nil {
		_ = a.Close()
		return err
	}
	logger.WithFields(map[string]interface{}{
		"marketplace": cfg.Marketplace.Address,
		"denom":       cfg.Marketplace.Denom,
	}).Info("marketplace started")

	sm := shutdown.NewManager()
	sm.OnShutdown("http", 0, a.StopHTTP)
	sm.OnShutdown("executor", 1, func(ctx context.Context) error {
		cancel()
		return a.WaitExecutor(ctx)
	})
	sm.OnShutdown("storage", 2, func(context.Context) error { return a.Close() })

	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGHUP)
	for sig := range sigC {
		if sig == syscall.SIGHUP {
			if err := logger.Rotate(); err != nil {
				logger.Warnf("log rotate: %v", err)
			}
			continue
		}
		logger.Infof("received %s, shutting down", sig)
		break
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 15*time.Second)
	defer stop()
	return sm.Shutdown(shutdownCtx)
}
