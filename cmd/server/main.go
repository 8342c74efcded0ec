// Package main is the entry point for the qfolio adaptive portfolio engine.
// It wires the selection pipeline (regime detection, alpha scoring, QUBO
// annealing, CVaR allocation) to the rebalance orchestrator and exposes a
// small HTTP surface for monitoring and manual control.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/qfolio/qfolio/internal/audit"
	"github.com/qfolio/qfolio/internal/broker"
	"github.com/qfolio/qfolio/internal/compliance"
	"github.com/qfolio/qfolio/internal/config"
	"github.com/qfolio/qfolio/internal/database"
	"github.com/qfolio/qfolio/internal/domain"
	"github.com/qfolio/qfolio/internal/marketdata"
	"github.com/qfolio/qfolio/internal/pipeline"
	"github.com/qfolio/qfolio/internal/rebalance"
	"github.com/qfolio/qfolio/internal/scheduler"
	"github.com/qfolio/qfolio/internal/server"
	"github.com/qfolio/qfolio/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	strat, err := config.LoadStrategy(cfg.StrategyPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.StrategyPath).Msg("Failed to load strategy")
	}

	// Ledger database: the immutable audit trail the compliance engine
	// rehydrates from on startup.
	ledgerDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "ledger.db"),
		Profile: database.ProfileLedger,
		Name:    "ledger",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open ledger database")
	}
	defer ledgerDB.Close()

	ledger, err := audit.NewLedger(ledgerDB.Conn(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize audit ledger")
	}

	comp := compliance.NewEngine(strat.Compliance, log)
	trades, err := ledger.Trades()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read trade history")
	}
	comp.Rehydrate(trades)
	log.Info().Int("trades", len(trades)).Msg("Compliance engine rehydrated")

	// Market data and broker. Live exchange transport is not wired here;
	// dev mode runs the simulated feed against the paper broker.
	if !cfg.DevMode {
		log.Fatal().Msg("Live exchange transport is not configured; set DEV_MODE=true")
	}

	feed := marketdata.NewSimulated(strat.Annealer.Seed, log)
	paper := broker.NewPaperBroker(cfg.PaperCash, strat.Compliance.CommissionRate, log)
	feed.AttachSink(paper)
	client := broker.NewRetryingClient(paper, strat.Rebalance.RetryAttempts, log)

	orch := rebalance.NewOrchestrator(strat.Rebalance, feed, client, comp, ledger, log)

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	positions, err := client.Holdings(startupCtx)
	cancelStartup()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read broker holdings")
	}
	for asset, qty := range positions {
		orch.SetHolding(domain.Holding{Asset: asset, Quantity: qty})
	}

	service := pipeline.NewService(strat, nil, ledger, log)
	runner := pipeline.NewRunner(strat.Universe, feed, service, orch, log)

	sched := scheduler.New(log)
	if err := sched.AddJob(strat.Scheduler.Cron, runner); err != nil {
		log.Fatal().Err(err).Str("schedule", strat.Scheduler.Cron).Msg("Failed to register cycle job")
	}
	sched.Start()

	handlers := server.NewHandlers(log, runner, orch, ledger)
	srv := server.New(server.Config{
		Log:      log,
		Port:     cfg.Port,
		Handlers: handlers,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	log.Info().
		Int("port", cfg.Port).
		Str("schedule", strat.Scheduler.Cron).
		Strs("universe", strat.Universe.Assets).
		Msg("qfolio started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	sched.Stop()

	log.Info().Msg("qfolio stopped")
}
