// Package engine is the central orchestrator of the arbitrage scanner.
//
// It wires together all subsystems:
//
//  1. Odds sources (The Odds API poller, exchange price stream) merged by the Aggregator.
//  2. Detector finds arbitrage opportunities across the merged events.
//  3. Risk engine approves and sizes each opportunity; the allocator splits the stake.
//  4. Execution controller routes the plan by mode: report, hold for confirmation, or execute.
//  5. Executor places legs; the ledger tracks placed plans until settlement.
//  6. Notifier fans alerts out to the log, Telegram, Redis and the dashboard.
//
// Lifecycle: New() → Start() → [runs until SIGINT] → Stop()
package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"arbscan/internal/arbitrage"
	"arbscan/internal/config"
	"arbscan/internal/exchange"
	"arbscan/internal/execution"
	"arbscan/internal/notify"
	"arbscan/internal/odds"
	"arbscan/internal/risk"
	"arbscan/internal/store"
	"arbscan/pkg/types"
)

// recentCap bounds the in-memory list of journal records shown on the dashboard.
const recentCap = 200

// deps are the I/O collaborators. New builds them from config; tests inject fakes.
type deps struct {
	sources  []odds.Source
	streams  []*odds.StreamFeed
	executor *execution.Executor
	notifier *notify.Notifier
	store    *store.Store
	closers  []io.Closer
}

// Engine orchestrates all components of the scanner.
// It owns the lifecycle of all goroutines and the per-cycle pipeline.
type Engine struct {
	cfg        config.Config
	aggregator *odds.Aggregator
	streams    []*odds.StreamFeed
	detector   *arbitrage.Detector
	risk       *risk.Engine
	controller *execution.Controller
	executor   *execution.Executor
	ledger     *execution.Ledger
	notifier   *notify.Notifier
	store      *store.Store
	closers    []io.Closer
	logger     *slog.Logger
	now        func() time.Time

	commMu      sync.RWMutex
	commissions types.CommissionTable

	// mu guards stats, seen, inflight and recent.
	mu       sync.Mutex
	stats    types.ScanStats
	seen     map[string]time.Time // opportunity id → when it was acted on
	inflight map[string]struct{}  // event ids being handled by a cycle
	recent   []types.OpportunityRecord

	// cycles is a semaphore bounding overlapping scan cycles.
	cycles chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates and wires all engine components.
func New(cfg config.Config, logger *slog.Logger) (*Engine, error) {
	var d deps

	if cfg.OddsAPI.Enabled {
		d.sources = append(d.sources, odds.NewTheOddsAPI(cfg.OddsAPI, logger))
	}
	if cfg.Stream.Enabled {
		feed := odds.NewStreamFeed(cfg.Stream, logger)
		d.sources = append(d.sources, feed)
		d.streams = append(d.streams, feed)
	}

	if cfg.Execution.Paper {
		d.executor = execution.NewExecutor(execution.NewPaperBackend(logger), logger)
	} else {
		signer, err := exchange.NewSigner(exchange.Credentials{
			APIKey:     cfg.Execution.APIKey,
			Secret:     cfg.Execution.Secret,
			Passphrase: cfg.Execution.Passphrase,
		})
		if err != nil {
			return nil, fmt.Errorf("execution credentials: %w", err)
		}
		client := exchange.NewClient(cfg.Execution, signer, logger)
		// No fallback: a leg on a bookmaker without a backend fails.
		d.executor = execution.NewExecutor(nil, logger)
		for _, b := range cfg.Execution.Bookmakers {
			d.executor.Register(b, client)
		}
	}

	d.notifier = notify.NewNotifier([]notify.Sender{notify.NewLogSender(logger)}, cfg.Notify.Events, logger)
	if cfg.Notify.Telegram.Enabled {
		d.notifier.Add(notify.NewTelegramSender(cfg.Notify.Telegram))
	}
	if cfg.Notify.Stream.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		d.notifier.Add(notify.NewRedisSink(rdb, cfg.Notify.Stream))
		d.closers = append(d.closers, rdb)
	}

	st, err := store.Open(cfg.Store.DataDir)
	if err != nil {
		return nil, err
	}
	d.store = st

	return newEngine(cfg, d, logger)
}

// newEngine builds the core components around d and restores persisted state.
func newEngine(cfg config.Config, d deps, logger *slog.Logger) (*Engine, error) {
	mode, err := types.ParseMode(cfg.Mode)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrConfiguration, err)
	}

	riskEngine := risk.NewEngine(cfg.Risk, mode, logger)
	detector := arbitrage.NewDetector(arbitrage.Options{
		MaxQuoteAge:   cfg.Scanner.MaxQuoteAge,
		MinBookmakers: cfg.Scanner.MinBookmakers,
	}, cfg.Scanner.Workers, logger)

	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		cfg:         cfg,
		aggregator:  odds.NewAggregator(d.sources, cfg.Scanner, logger),
		streams:     d.streams,
		detector:    detector,
		risk:        riskEngine,
		controller:  execution.NewController(riskEngine, cfg.Execution.ConfirmationWindow, logger),
		executor:    d.executor,
		ledger:      execution.NewLedger(),
		notifier:    d.notifier,
		store:       d.store,
		closers:     d.closers,
		logger:      logger.With("component", "engine"),
		now:         time.Now,
		commissions: types.CommissionTable(cfg.Commissions).Clone(),
		seen:        make(map[string]time.Time),
		inflight:    make(map[string]struct{}),
		cycles:      make(chan struct{}, max(1, cfg.Scanner.MaxConcurrentCycles)),
		ctx:         ctx,
		cancel:      cancel,
	}

	if err := e.restore(); err != nil {
		cancel()
		return nil, err
	}
	e.stats.Date = e.risk.Snapshot().SessionDate
	return e, nil
}

// restore loads risk state, open positions and recent journal records.
// Open positions re-commit their stake so the free bankroll stays correct.
func (e *Engine) restore() error {
	st, err := e.store.LoadRiskState()
	if err != nil {
		return fmt.Errorf("restore risk state: %w", err)
	}
	if st != nil {
		e.risk.Restore(*st)
	}

	positions, err := e.store.LoadPositions()
	if err != nil {
		return fmt.Errorf("restore positions: %w", err)
	}
	e.ledger.Restore(positions)
	for _, p := range positions {
		e.risk.Reserve(p.Plan)
	}

	recent, err := e.store.RecentOpportunities(recentCap)
	if err != nil {
		// The journal is informational; a bad one must not block startup.
		e.logger.Warn("failed to read opportunity journal", "error", err)
	}
	e.recent = recent

	if st != nil || len(positions) > 0 {
		e.logger.Info("state restored", "open_positions", len(positions), "journal_records", len(recent))
	}
	return nil
}

// Start launches all background goroutines: stream feeds, the kill-signal
// watcher and the scan ticker.
func (e *Engine) Start() error {
	// Feeds subscribe to the configured event ids on every (re)connect.
	for _, feed := range e.streams {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			if err := feed.Run(e.ctx); err != nil && e.ctx.Err() == nil {
				e.logger.Error("stream feed error", "feed", feed.Name(), "error", err)
			}
		}()
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.watchKillSignals()
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.runLoop()
	}()

	e.logger.Info("engine started",
		"sources", len(e.aggregator.Sources()),
		"interval", e.cfg.Scanner.Interval,
		"mode", e.controller.Mode(),
	)
	return nil
}

// Stop cancels all goroutines, waits for in-flight cycles, persists the final
// state and closes resources.
func (e *Engine) Stop() {
	e.logger.Info("shutting down...")

	e.cancel()
	e.wg.Wait()

	e.persist()

	for _, feed := range e.streams {
		feed.Close()
	}
	for _, c := range e.closers {
		if err := c.Close(); err != nil {
			e.logger.Error("failed to close resource", "error", err)
		}
	}
	e.store.Close()

	e.logger.Info("shutdown complete")
}

// runLoop starts a cycle on every tick. A tick arriving while
// MaxConcurrentCycles cycles are still running is skipped.
func (e *Engine) runLoop() {
	ticker := time.NewTicker(e.cfg.Scanner.Interval)
	defer ticker.Stop()

	e.tryCycle()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.tryCycle()
		}
	}
}

func (e *Engine) tryCycle() {
	select {
	case e.cycles <- struct{}{}:
	default:
		e.logger.Warn("scan cycle skipped, previous cycles still running", "max_concurrent", cap(e.cycles))
		return
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() { <-e.cycles }()
		if err := e.RunCycle(e.ctx); err != nil && e.ctx.Err() == nil {
			e.logger.Error("scan cycle failed", "error", err)
		}
	}()
}

// watchKillSignals turns risk kill signals into alerts.
func (e *Engine) watchKillSignals() {
	for {
		select {
		case <-e.ctx.Done():
			return
		case sig := <-e.risk.KillCh():
			e.logger.Error("KILL SIGNAL received", "reason", sig.Reason)
			e.emitAll(notify.KillSwitchAlert(sig.Reason, sig.At))
			e.persist()
		}
	}
}

// persist saves risk state and open positions. Failures are logged; the
// next save retries.
func (e *Engine) persist() {
	if err := e.store.SaveRiskState(e.risk.Snapshot()); err != nil {
		e.logger.Error("failed to save risk state", "error", err)
	}
	if err := e.store.SavePositions(e.ledger.Positions()); err != nil {
		e.logger.Error("failed to save positions", "error", err)
	}
}

// journal appends rec to the store and the in-memory recent list.
func (e *Engine) journal(rec types.OpportunityRecord) {
	if err := e.store.AppendOpportunity(rec); err != nil {
		e.logger.Error("failed to append journal", "opportunity", rec.Opportunity.ID, "error", err)
	}
	e.mu.Lock()
	e.recent = append(e.recent, rec)
	if len(e.recent) > recentCap {
		e.recent = e.recent[len(e.recent)-recentCap:]
	}
	e.mu.Unlock()
}

func (e *Engine) emit(a notify.Alert) {
	if err := e.notifier.Notify(e.ctx, a); err != nil {
		e.logger.Warn("alert delivery incomplete", "kind", a.Kind, "error", err)
	}
}

// emitAll bypasses the kind filter; used for alerts the operator must see.
func (e *Engine) emitAll(a notify.Alert) {
	if err := e.notifier.NotifyAll(e.ctx, a); err != nil {
		e.logger.Warn("alert delivery incomplete", "kind", a.Kind, "error", err)
	}
}

func (e *Engine) commissionTable() types.CommissionTable {
	e.commMu.RLock()
	defer e.commMu.RUnlock()
	return e.commissions
}
