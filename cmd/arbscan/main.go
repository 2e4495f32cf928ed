// arbscan - a sports arbitrage scanner with risk-gated execution.
//
// Architecture:
//
//	main.go              - entry point: loads config, starts engine, waits for SIGINT/SIGTERM
//	                       (-once runs a single scan, -status prints the saved state)
//	engine/              - orchestrator: scan cycle, opportunity routing, operator commands
//	odds/                - The Odds API poller, exchange price stream, source aggregator
//	arbitrage/           - detector (best commission-adjusted price per outcome) and stake allocator
//	risk/engine.go       - bankroll policy: stake caps, daily budget, drawdown kill switch
//	execution/           - mode state machine, sequential leg executor, paper backend, position ledger
//	exchange/            - signed REST client for a betting exchange with rate limiting
//	notify/              - alert fan-out: log, Telegram, Redis stream
//	store/store.go       - JSON file persistence for risk state, positions and the journal
//	api/                 - dashboard snapshot, operator controls and WebSocket event stream
//
// How it makes money:
//
//	When the best decimal odds for every outcome of an event, taken across
//	bookmakers and net of commission, imply probabilities summing to less
//	than 1, staking each outcome in proportion to its implied probability
//	returns the same amount whichever outcome wins, and that amount exceeds
//	the total staked.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"arbscan/internal/api"
	"arbscan/internal/config"
	"arbscan/internal/engine"
	"arbscan/pkg/types"
)

func main() {
	defaultPath := "configs/config.yaml"
	if p := os.Getenv("ARB_CONFIG"); p != "" {
		defaultPath = p
	}
	cfgPath := flag.String("config", defaultPath, "path to the YAML config file")
	once := flag.Bool("once", false, "run a single scan cycle, print what it found and exit")
	status := flag.Bool("status", false, "print the saved bankroll state and open positions and exit")
	flag.Parse()

	// Load config
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", *cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	// Set up logger
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	// Create engine
	eng, err := engine.New(*cfg, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	if *status {
		printStatus(os.Stdout, eng.RiskSnapshot(), eng.EffectiveMode(), eng.OpenPositions())
		eng.Stop()
		return
	}
	if *once {
		os.Exit(runOnce(eng, logger))
	}

	// Start dashboard API server if enabled
	var apiServer *api.Server
	if cfg.Dashboard.Enabled {
		apiServer = api.NewServer(*cfg, eng, logger)
		eng.AddSender(apiServer.Hub())
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error("dashboard server failed", "error", err)
			}
		}()
		logger.Info("dashboard started", "url", fmt.Sprintf("http://localhost:%d", cfg.Dashboard.Port))
	}

	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	if cfg.Execution.Paper {
		logger.Warn("PAPER EXECUTION - bets are simulated, nothing reaches a bookmaker")
	}

	st := eng.RiskSnapshot()
	logger.Info("arbitrage scanner started",
		"mode", st.Mode,
		"effective_mode", eng.EffectiveMode(),
		"bankroll", st.Bankroll.StringFixed(2),
		"interval", cfg.Scanner.Interval,
		"min_edge_pct", cfg.Risk.MinEdgePercent,
	)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	// Stop dashboard first
	if apiServer != nil {
		if err := apiServer.Stop(); err != nil {
			logger.Error("failed to stop dashboard", "error", err)
		}
	}

	eng.Stop()
}

// runOnce performs one scan cycle in the configured mode and prints the
// journal records it produced. Returns the process exit code.
func runOnce(eng *engine.Engine, logger *slog.Logger) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	started := time.Now()
	err := eng.RunCycle(ctx)

	var records []types.OpportunityRecord
	for _, r := range eng.RecentOpportunities(0) {
		if !r.RecordedAt.Before(started) {
			records = append(records, r)
		}
	}
	printScan(os.Stdout, records, eng.ScanStats())
	eng.Stop()

	if err != nil {
		logger.Error("scan failed", "error", err)
		return 1
	}
	return 0
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
