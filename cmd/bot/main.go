package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/camuig/momentum-trader/internal/app"
	"github.com/camuig/momentum-trader/internal/config"
	"github.com/camuig/momentum-trader/internal/logger"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	dbPath := flag.String("db", "", "path to SQLite database (overrides storage.path)")
	flag.Parse()

	// Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	if *dbPath != "" {
		cfg.Storage.Path = *dbPath
	}

	// Init logger
	log := logger.New(cfg.Logging.Level)
	log.Info("starting momentum-trader",
		"mode", cfg.Portfolio.ExecutionMode,
		"symbols", cfg.Trading.Symbols,
		"interval", cfg.Trading.Interval)

	a, err := app.New(cfg, log)
	if err != nil {
		log.Fatalf("init failed: %v", err)
	}

	// Context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	portfolio, err := a.EnsurePortfolio(ctx)
	if err != nil {
		log.Fatalf("portfolio init failed: %v", err)
	}
	log.Info("portfolio ready",
		"id", portfolio.ID,
		"name", portfolio.Name,
		"equity", portfolio.CurrentEquity,
		"breaker_active", portfolio.CircuitBreakerActive)

	// Periodic review and snapshots
	crons, err := a.Scheduler.StartCron(ctx)
	if err != nil {
		log.Fatalf("cron init failed: %v", err)
	}

	// Start scheduler in goroutine
	schedDone := make(chan struct{})
	go func() {
		a.Scheduler.Run(ctx)
		close(schedDone)
	}()

	// Live prices keep positions marked between reviews
	if stream := a.Stream(); stream != nil {
		go func() {
			if err := stream.Run(ctx, a.Reviewer.OnPrice); err != nil && ctx.Err() == nil {
				log.Error("price stream stopped", "error", err)
			}
		}()
	}

	// Start web server in goroutine
	go func() {
		if err := a.Web.Start(); err != nil {
			log.Error("web server error", "error", err)
		}
	}()

	a.Notifier.NotifyStatus(fmt.Sprintf("🤖 Momentum-Trader запущен (%s, %s)", portfolio.Name, portfolio.ExecutionMode))

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutdown signal received", "signal", sig.String())

	// Graceful shutdown: the scheduler finishes its in-flight cycle
	cancel()
	<-crons.Stop().Done()
	<-schedDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := a.Web.Shutdown(shutdownCtx); err != nil {
		log.Error("web server shutdown error", "error", err)
	}

	a.Notifier.NotifyStatus("🛑 Momentum-Trader остановлен")
	if err := a.Close(); err != nil {
		log.Error("close storage", "error", err)
	}
	log.Info("momentum-trader stopped")
}
