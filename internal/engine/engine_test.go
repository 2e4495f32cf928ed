package engine

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"arbscan/internal/config"
	"arbscan/internal/execution"
	"arbscan/internal/notify"
	"arbscan/internal/odds"
	"arbscan/internal/risk"
	"arbscan/internal/store"
	"arbscan/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type staticSource struct {
	events []types.Event
	err    error
}

func (s staticSource) Name() string { return "static" }

func (s staticSource) Fetch(context.Context) ([]types.Event, error) { return s.events, s.err }

// fakeBackend fills every leg except those on failOn; legs on partialOn
// match a tenth of their stake.
type fakeBackend struct {
	failOn    string
	partialOn string

	mu     sync.Mutex
	placed []types.StakeLeg
}

func (f *fakeBackend) PlaceBet(_ context.Context, _, clientRef string, leg types.StakeLeg) (types.BetReceipt, error) {
	if leg.BookmakerID == f.failOn {
		return types.BetReceipt{}, errors.New("bet rejected")
	}
	f.mu.Lock()
	f.placed = append(f.placed, leg)
	f.mu.Unlock()
	r := types.BetReceipt{
		BetID:       clientRef,
		BookmakerID: leg.BookmakerID,
		OutcomeID:   leg.OutcomeID,
		Price:       leg.Price,
		Stake:       leg.Stake,
		Status:      types.BetFilled,
		PlacedAt:    time.Now(),
	}
	if leg.BookmakerID == f.partialOn {
		r.Stake = leg.Stake.Div(decimal.NewFromInt(10)).Round(2)
		r.Status = types.BetPartial
	}
	return r, nil
}

func (f *fakeBackend) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.placed)
}

type recordingSender struct {
	mu  sync.Mutex
	got []notify.Alert
}

func (r *recordingSender) Name() string { return "rec" }

func (r *recordingSender) Send(_ context.Context, a notify.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, a)
	return nil
}

func (r *recordingSender) kinds() []notify.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notify.Kind, len(r.got))
	for i, a := range r.got {
		out[i] = a.Kind
	}
	return out
}

func (r *recordingSender) last(kind notify.Kind) (notify.Alert, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.got) - 1; i >= 0; i-- {
		if r.got[i].Kind == kind {
			return r.got[i], true
		}
	}
	return notify.Alert{}, false
}

func testConfig(mode types.Mode) config.Config {
	return config.Config{
		Mode: string(mode),
		Scanner: config.ScannerConfig{
			Interval:            time.Minute,
			MaxConcurrentCycles: 1,
			MinBookmakers:       2,
			Workers:             2,
			OpportunityTTL:      10 * time.Minute,
		},
		Risk: config.RiskConfig{
			InitialBankroll:         1000,
			MaxStakePercent:         0.10,
			MaxStakeAbsolute:        100,
			MinStake:                2,
			MaxDailyDrawdownPercent: 0.5,
			MinEdgePercent:          0.5,
			DrawdownBasis:           config.DrawdownBasisHighWater,
			StakeDecimals:           2,
			Timezone:                "UTC",
		},
		Execution: config.ExecutionConfig{ConfirmationWindow: time.Minute, Paper: true},
	}
}

// arbEvent is the 2.10 / 2.05 two-way arbitrage: 100 splits 49.40 / 50.60.
func arbEvent() types.Event {
	now := time.Now()
	return types.Event{
		ID:          "epl-1",
		Sport:       "soccer_epl",
		League:      "EPL",
		Competitors: []string{"Arsenal", "Chelsea"},
		StartTime:   now.Add(2 * time.Hour),
		Outcomes:    []string{"home", "away"},
		Quotes: []types.OddsQuote{
			{BookmakerID: "bookA", OutcomeID: "home", Price: 2.10, Timestamp: now},
			{BookmakerID: "bookA", OutcomeID: "away", Price: 1.80, Timestamp: now},
			{BookmakerID: "bookB", OutcomeID: "home", Price: 1.85, Timestamp: now},
			{BookmakerID: "bookB", OutcomeID: "away", Price: 2.05, Timestamp: now},
		},
	}
}

type harness struct {
	eng     *Engine
	alerts  *recordingSender
	backend *fakeBackend
	store   *store.Store
}

func newHarness(t *testing.T, cfg config.Config, dir string, src odds.Source) *harness {
	t.Helper()
	logger := testLogger()

	st, err := store.Open(dir)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	h := &harness{alerts: &recordingSender{}, backend: &fakeBackend{}, store: st}
	eng, err := newEngine(cfg, deps{
		sources:  []odds.Source{src},
		executor: execution.NewExecutor(h.backend, logger),
		notifier: notify.NewNotifier([]notify.Sender{h.alerts}, nil, logger),
		store:    st,
	}, logger)
	if err != nil {
		t.Fatalf("newEngine: %v", err)
	}
	h.eng = eng
	return h
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestDryModeReportsAndBooksExpectedProfit(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig(types.ModeDry), t.TempDir(), staticSource{events: []types.Event{arbEvent()}})
	ctx := context.Background()

	if err := h.eng.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	if h.backend.count() != 0 {
		t.Error("dry mode must not place bets")
	}
	a, ok := h.alerts.last(notify.KindOpportunity)
	if !ok || a.Token != "" {
		t.Fatalf("alerts = %v, want an opportunity report", h.alerts.kinds())
	}

	st := h.eng.RiskSnapshot()
	if !st.Bankroll.Equal(dec("1003.73")) || !st.Committed.IsZero() || st.DailyTrades != 1 {
		t.Errorf("bankroll/committed/trades = %s/%s/%d, want 1003.73/0/1", st.Bankroll, st.Committed, st.DailyTrades)
	}

	recent := h.eng.RecentOpportunities(10)
	if len(recent) != 1 || recent[0].Status != types.StatusDetected || recent[0].Mode != types.ModeDry {
		t.Fatalf("recent = %+v", recent)
	}
	legs := recent[0].Plan.Legs
	if !legs[0].Stake.Equal(dec("49.40")) || !legs[1].Stake.Equal(dec("50.60")) {
		t.Errorf("stakes = %s/%s, want 49.40/50.60", legs[0].Stake, legs[1].Stake)
	}

	// The unchanged arbitrage is not reported again within the TTL.
	if err := h.eng.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if n := len(h.alerts.kinds()); n != 1 {
		t.Errorf("alerts after second cycle = %d, want 1", n)
	}

	stats := h.eng.ScanStats()
	if stats.Scans != 2 || stats.OpportunitiesDetected != 2 || stats.OpportunitiesApproved != 1 || stats.EventsScanned != 2 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.BestEdgePercent < 3.5 || stats.BestEdgePercent > 3.7 {
		t.Errorf("best edge = %v", stats.BestEdgePercent)
	}

	journal, err := h.store.RecentOpportunities(0)
	if err != nil || len(journal) != 1 {
		t.Errorf("journal = %d records, %v", len(journal), err)
	}
}

func TestAutoModeExecutesAndSettles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	h := newHarness(t, testConfig(types.ModeAuto), dir, staticSource{events: []types.Event{arbEvent()}})

	if err := h.eng.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if h.backend.count() != 2 {
		t.Fatalf("placed legs = %d, want 2", h.backend.count())
	}
	positions := h.eng.OpenPositions()
	if len(positions) != 1 || positions[0].Unhedged {
		t.Fatalf("positions = %+v", positions)
	}
	if c := h.eng.RiskSnapshot().Committed; !c.Equal(decimal.NewFromInt(100)) {
		t.Errorf("committed = %s, want 100", c)
	}
	if _, ok := h.alerts.last(notify.KindExecuted); !ok {
		t.Errorf("alerts = %v, want executed", h.alerts.kinds())
	}

	oppID := positions[0].Plan.OpportunityID
	pnl, err := h.eng.Settle(oppID, execution.Settlement{WinningOutcome: "home"})
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if !pnl.Equal(dec("3.74")) {
		t.Errorf("pnl = %s, want 3.74", pnl)
	}
	st := h.eng.RiskSnapshot()
	if !st.Bankroll.Equal(dec("1003.74")) || !st.Committed.IsZero() || st.DailyWins != 1 {
		t.Errorf("state after settle = %+v", st)
	}
	if len(h.eng.OpenPositions()) != 0 {
		t.Error("position still open after settlement")
	}
	if _, err := h.eng.Settle(oppID, execution.Settlement{Void: true}); !errors.Is(err, execution.ErrUnknownPosition) {
		t.Errorf("second settle err = %v, want ErrUnknownPosition", err)
	}

	saved, err := h.store.LoadPositions()
	if err != nil || len(saved) != 0 {
		t.Errorf("persisted positions = %d, %v", len(saved), err)
	}
}

func TestPartialExecutionOpensUnhedgedPosition(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig(types.ModeAuto), t.TempDir(), staticSource{events: []types.Event{arbEvent()}})
	h.backend.failOn = "bookB"

	if err := h.eng.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	if h.backend.count() != 1 {
		t.Fatalf("placed legs = %d, want 1", h.backend.count())
	}
	positions := h.eng.OpenPositions()
	if len(positions) != 1 || !positions[0].Unhedged || len(positions[0].Receipts) != 1 {
		t.Fatalf("positions = %+v, want one unhedged position with one receipt", positions)
	}
	a, ok := h.alerts.last(notify.KindExecutionFailed)
	if !ok || a.Title != "UNHEDGED POSITION" {
		t.Errorf("alert = %+v", a)
	}
	recent := h.eng.RecentOpportunities(1)
	if len(recent) != 1 || recent[0].Status != types.StatusPartial {
		t.Errorf("recent = %+v", recent)
	}
	if st := h.eng.ScanStats(); st.OpportunitiesFailed != 1 {
		t.Errorf("failed = %d", st.OpportunitiesFailed)
	}
}

func TestPartialFillStopsRemainingLegs(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig(types.ModeAuto), t.TempDir(), staticSource{events: []types.Event{arbEvent()}})
	h.backend.partialOn = "bookA"

	if err := h.eng.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	if h.backend.count() != 1 {
		t.Fatalf("placed legs = %d, want 1 (no legs after a partial match)", h.backend.count())
	}
	positions := h.eng.OpenPositions()
	if len(positions) != 1 || !positions[0].Unhedged {
		t.Fatalf("positions = %+v, want one unhedged position", positions)
	}
	if r := positions[0].Receipts; len(r) != 1 || r[0].Status != types.BetPartial || !r[0].Stake.Equal(dec("4.94")) {
		t.Errorf("receipts = %+v, want the partial receipt", r)
	}
	recent := h.eng.RecentOpportunities(1)
	if len(recent) != 1 || recent[0].Status != types.StatusPartial {
		t.Errorf("recent = %+v", recent)
	}
	if _, ok := h.alerts.last(notify.KindExecuted); ok {
		t.Error("a partial fill must not be reported as executed")
	}
	if c := h.eng.RiskSnapshot().Committed; !c.Equal(decimal.NewFromInt(100)) {
		t.Errorf("committed = %s, want 100 until settlement", c)
	}
}

func TestFailureBeforeAnyLegReleasesStake(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig(types.ModeAuto), t.TempDir(), staticSource{events: []types.Event{arbEvent()}})
	h.backend.failOn = "bookA"

	if err := h.eng.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	if h.backend.count() != 0 || len(h.eng.OpenPositions()) != 0 {
		t.Fatal("no leg should be placed after the first leg fails")
	}
	st := h.eng.RiskSnapshot()
	if !st.Committed.IsZero() || !st.DailyStaked.IsZero() {
		t.Errorf("committed/staked = %s/%s, want released", st.Committed, st.DailyStaked)
	}
	recent := h.eng.RecentOpportunities(1)
	if len(recent) != 1 || recent[0].Status != types.StatusFailed {
		t.Errorf("recent = %+v", recent)
	}
}

func TestSemiAutoConfirm(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig(types.ModeSemiAuto), t.TempDir(), staticSource{events: []types.Event{arbEvent()}})
	ctx := context.Background()

	if err := h.eng.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	pending := h.eng.PendingConfirmations()
	if len(pending) != 1 || h.backend.count() != 0 {
		t.Fatalf("pending = %d, placed = %d", len(pending), h.backend.count())
	}
	a, ok := h.alerts.last(notify.KindConfirmation)
	if !ok || a.Token != pending[0].Token {
		t.Fatalf("confirmation alert = %+v", a)
	}

	receipts, err := h.eng.Confirm(ctx, a.Token)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if len(receipts) != 2 || len(h.eng.OpenPositions()) != 1 || len(h.eng.PendingConfirmations()) != 0 {
		t.Errorf("receipts = %d, positions = %d", len(receipts), len(h.eng.OpenPositions()))
	}
	if _, err := h.eng.Confirm(ctx, a.Token); !errors.Is(err, execution.ErrUnknownToken) {
		t.Errorf("reused token err = %v, want ErrUnknownToken", err)
	}
}

func TestSemiAutoRejectReleasesStake(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig(types.ModeSemiAuto), t.TempDir(), staticSource{events: []types.Event{arbEvent()}})

	if err := h.eng.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	token := h.eng.PendingConfirmations()[0].Token
	if err := h.eng.Reject(token); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if st := h.eng.RiskSnapshot(); !st.Committed.IsZero() {
		t.Errorf("committed = %s after reject", st.Committed)
	}
	if h.backend.count() != 0 {
		t.Error("rejected plan was placed")
	}
}

func TestSemiAutoExpiry(t *testing.T) {
	t.Parallel()
	cfg := testConfig(types.ModeSemiAuto)
	cfg.Execution.ConfirmationWindow = time.Nanosecond
	h := newHarness(t, cfg, t.TempDir(), staticSource{events: []types.Event{arbEvent()}})
	ctx := context.Background()

	if err := h.eng.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	token := h.eng.PendingConfirmations()[0].Token
	time.Sleep(time.Millisecond)

	if _, err := h.eng.Confirm(ctx, token); !errors.Is(err, execution.ErrConfirmationExpired) {
		t.Fatalf("Confirm err = %v, want ErrConfirmationExpired", err)
	}
	if h.backend.count() != 0 {
		t.Error("expired plan was placed")
	}
	if st := h.eng.RiskSnapshot(); !st.Committed.IsZero() {
		t.Errorf("committed = %s after expiry", st.Committed)
	}
	if _, ok := h.alerts.last(notify.KindExpired); !ok {
		t.Errorf("alerts = %v, want expired", h.alerts.kinds())
	}
}

func TestSweepExpiresHeldPlans(t *testing.T) {
	t.Parallel()
	cfg := testConfig(types.ModeSemiAuto)
	cfg.Execution.ConfirmationWindow = time.Nanosecond
	h := newHarness(t, cfg, t.TempDir(), staticSource{events: []types.Event{arbEvent()}})
	ctx := context.Background()

	if err := h.eng.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	time.Sleep(time.Millisecond)
	if err := h.eng.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	if n := len(h.eng.PendingConfirmations()); n != 0 {
		t.Errorf("pending = %d, want 0", n)
	}
	if st := h.eng.ScanStats(); st.OpportunitiesExpired != 1 {
		t.Errorf("expired = %d, want 1", st.OpportunitiesExpired)
	}
	if st := h.eng.RiskSnapshot(); !st.Committed.IsZero() {
		t.Errorf("committed = %s", st.Committed)
	}
}

func TestKillSwitchForcesDry(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig(types.ModeAuto), t.TempDir(), staticSource{events: []types.Event{arbEvent()}})
	h.eng.SetKillSwitch(true, "manual stop")

	if h.eng.EffectiveMode() != types.ModeDry {
		t.Errorf("effective mode = %s, want dry", h.eng.EffectiveMode())
	}
	if err := h.eng.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if h.backend.count() != 0 {
		t.Error("bets placed while kill switch active")
	}
	recent := h.eng.RecentOpportunities(1)
	if len(recent) != 1 || recent[0].Status != types.StatusSkipped {
		t.Errorf("recent = %+v, want skipped", recent)
	}

	h.eng.SetKillSwitch(false, "")
	if h.eng.EffectiveMode() != types.ModeAuto {
		t.Errorf("effective mode after clear = %s", h.eng.EffectiveMode())
	}
}

func TestRestoreReservesOpenPositions(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	src := staticSource{events: []types.Event{arbEvent()}}

	first := newHarness(t, testConfig(types.ModeAuto), dir, src)
	if err := first.eng.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	first.eng.Stop()

	second := newHarness(t, testConfig(types.ModeAuto), dir, src)
	if n := len(second.eng.OpenPositions()); n != 1 {
		t.Fatalf("restored positions = %d, want 1", n)
	}
	if c := second.eng.RiskSnapshot().Committed; !c.Equal(decimal.NewFromInt(100)) {
		t.Errorf("restored committed = %s, want 100", c)
	}
	if n := len(second.eng.RecentOpportunities(0)); n != 1 {
		t.Errorf("restored journal = %d records", n)
	}

	// The event already has an open position, so it is not bet again.
	if err := second.eng.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if second.backend.count() != 0 {
		t.Error("event with an open position was bet again")
	}
}

func TestRestartUsesConfiguredMode(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	src := staticSource{}

	first := newHarness(t, testConfig(types.ModeDry), dir, src)
	if err := first.eng.SetMode(types.ModeAuto); err != nil {
		t.Fatalf("SetMode: %v", err)
	}
	first.eng.SetKillSwitch(true, "manual")
	first.eng.Stop()

	second := newHarness(t, testConfig(types.ModeDry), dir, src)
	st := second.eng.RiskSnapshot()
	if st.Mode != types.ModeDry || second.eng.EffectiveMode() != types.ModeDry {
		t.Errorf("mode after restart = %s, want dry from config", st.Mode)
	}
	if !st.KillSwitchActive {
		t.Error("kill switch must survive a restart")
	}
}

func TestDailySummaryWhenRiskRolledFirst(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig(types.ModeDry), t.TempDir(), staticSource{events: []types.Event{arbEvent()}})

	// The risk engine crosses midnight on its own (as Evaluate does), so the
	// next cycle's RollDay finds nothing left to roll.
	h.eng.risk.Restore(risk.State{
		Bankroll:    dec("1000"),
		DailyPnL:    dec("4.5"),
		DailyTrades: 3,
		DailyWins:   2,
		SessionDate: "2026-01-01",
	})
	h.eng.mu.Lock()
	h.eng.stats = types.ScanStats{Date: "2026-01-01", Scans: 40}
	h.eng.mu.Unlock()

	if err := h.eng.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	a, ok := h.alerts.last(notify.KindDailySummary)
	if !ok {
		t.Fatalf("alerts = %v, want a daily summary", h.alerts.kinds())
	}
	if a.Title != "Daily summary 2026-01-01" || a.Message != "Trades 3 | Wins 2 | PnL 4.50" {
		t.Errorf("summary = %q / %q", a.Title, a.Message)
	}
	st := h.eng.ScanStats()
	if st.Date != h.eng.RiskSnapshot().SessionDate || st.Scans != 1 {
		t.Errorf("stats not reset for the new day: %+v", st)
	}
}

func TestCommissionsApplyToDetection(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig(types.ModeDry), t.TempDir(), staticSource{events: []types.Event{arbEvent()}})

	if err := h.eng.SetCommissions(types.CommissionTable{"bookA": 1.2}); err == nil {
		t.Error("expected error for commission >= 1")
	}
	if err := h.eng.SetCommissions(types.CommissionTable{"BookA": 0.05, "bookB": 0.05}); err != nil {
		t.Fatalf("SetCommissions: %v", err)
	}
	if got := h.eng.Commissions().Rate("bookA"); got != 0.05 {
		t.Errorf("rate = %v", got)
	}

	if err := h.eng.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if st := h.eng.ScanStats(); st.OpportunitiesDetected != 0 {
		t.Errorf("detected = %d, want 0 once commission removes the edge", st.OpportunitiesDetected)
	}
}

func TestAllSourcesFailing(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig(types.ModeDry), t.TempDir(), staticSource{err: errors.New("503")})

	err := h.eng.RunCycle(context.Background())
	if !errors.Is(err, odds.ErrNoOdds) {
		t.Fatalf("err = %v, want ErrNoOdds", err)
	}
	st := h.eng.ScanStats()
	if st.Scans != 1 || st.FailedScans != 1 || st.LastError == "" || len(st.FailedSources) != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestSetMode(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig(types.ModeDry), t.TempDir(), staticSource{})

	if err := h.eng.SetMode("turbo"); err == nil {
		t.Error("expected error for unknown mode")
	}
	if err := h.eng.SetMode(types.ModeSemiAuto); err != nil {
		t.Fatalf("SetMode: %v", err)
	}
	a, ok := h.alerts.last(notify.KindModeChanged)
	if !ok || a.Message != "dry -> semi_auto" {
		t.Errorf("mode alert = %+v", a)
	}

	saved, err := h.store.LoadRiskState()
	if err != nil || saved == nil || saved.Mode != types.ModeSemiAuto {
		t.Errorf("persisted mode = %+v, %v", saved, err)
	}
}
