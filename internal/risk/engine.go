// Package risk gates every opportunity against the bankroll policy.
//
// The Engine owns RiskState: bankroll, the day's pnl and high-water mark,
// the stake reserved by approved-but-unsettled plans, the execution mode and
// the kill switch. Every operation runs under a single mutex, so concurrent
// scan cycles cannot jointly approve more than the policy allows.
//
// Evaluate applies, in order:
//
//   - Kill switch:  reject everything while active
//   - Minimum edge: reject opportunities below MinEdgePercent
//   - Stake size:   min(MaxStakePercent × bankroll, MaxStakeAbsolute, daily
//     budget, free bankroll); reject if below MinStake
//   - Drawdown:     reject, and trip the kill switch, if staking would push
//     the day's drawdown past MaxDailyDrawdownPercent
//
// The kill switch never clears itself. Only SetKillSwitch(false, ...) does.
package risk

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"arbscan/internal/config"
	"arbscan/pkg/types"
)

const dateLayout = "2006-01-02"

// Reason explains a rejected Decision.
type Reason string

const (
	ReasonKillSwitchActive      Reason = "kill_switch_active"
	ReasonEdgeTooLow            Reason = "edge_too_low"
	ReasonStakeBelowMinimum     Reason = "stake_below_minimum"
	ReasonDrawdownLimitExceeded Reason = "drawdown_limit_exceeded"
)

// Decision is the outcome of Evaluate. Rejections are ordinary values.
type Decision struct {
	Approved bool
	Stake    decimal.Decimal // total stake to allocate when approved
	Reason   Reason          // set when rejected
	Detail   string
}

func approve(stake decimal.Decimal) Decision { return Decision{Approved: true, Stake: stake} }

func reject(reason Reason, format string, args ...any) Decision {
	return Decision{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// KillSignal is emitted whenever the kill switch turns on.
type KillSignal struct {
	Reason string
	At     time.Time
}

// State is the persisted, dashboard-visible risk state.
type State struct {
	Bankroll         decimal.Decimal `json:"bankroll"`
	DayStartBankroll decimal.Decimal `json:"day_start_bankroll"`
	DailyPnL         decimal.Decimal `json:"daily_pnl"`
	DailyHighWater   decimal.Decimal `json:"daily_high_water_mark"`
	DailyStaked      decimal.Decimal `json:"daily_staked"`
	Committed        decimal.Decimal `json:"committed"` // approved, not yet settled or released
	DailyTrades      int             `json:"daily_trades"`
	DailyWins        int             `json:"daily_wins"`
	TotalPnL         decimal.Decimal `json:"total_pnl"`
	TotalTrades      int             `json:"total_trades"`
	TotalWins        int             `json:"total_wins"`
	Mode             types.Mode      `json:"mode"`
	KillSwitchActive bool            `json:"kill_switch_active"`
	KillSwitchReason string          `json:"kill_switch_reason,omitempty"`
	KillSwitchAt     time.Time       `json:"kill_switch_at,omitempty"`
	SessionDate      string          `json:"session_start_date"`
}

// DaySummary is the closing tally of a finished trading day.
type DaySummary struct {
	Date   string
	Trades int
	Wins   int
	PnL    decimal.Decimal
	Staked decimal.Decimal
}

// Drawdown is the day's drawdown from the configured basis, as a fraction.
func (s State) Drawdown(basis string) float64 {
	ref := s.DailyHighWater
	if basis == config.DrawdownBasisDayStart {
		ref = s.DayStartBankroll
	}
	if !ref.IsPositive() {
		return 0
	}
	return ref.Sub(s.Bankroll).Div(ref).InexactFloat64()
}

// Engine is the single writer of RiskState.
type Engine struct {
	cfg    config.RiskConfig
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	state  State
	closed DaySummary // last finished day

	killCh chan KillSignal // orchestrator reads kill notifications from here
}

// NewEngine creates a risk engine with a fresh state seeded from cfg.
func NewEngine(cfg config.RiskConfig, mode types.Mode, logger *slog.Logger) *Engine {
	e := &Engine{
		cfg:    cfg,
		logger: logger.With("component", "risk"),
		now:    time.Now,
		killCh: make(chan KillSignal, 10),
	}
	bankroll := decimal.NewFromFloat(cfg.InitialBankroll)
	e.state = State{
		Bankroll:         bankroll,
		DayStartBankroll: bankroll,
		DailyHighWater:   bankroll,
		Mode:             mode,
		SessionDate:      e.today(),
	}
	return e
}

// KillCh returns the channel for reading kill signals.
func (e *Engine) KillCh() <-chan KillSignal {
	return e.killCh
}

func (e *Engine) today() string {
	return e.now().In(e.cfg.Location()).Format(dateLayout)
}

// Evaluate decides whether opp may be acted on and, if so, with what total
// stake. An approved stake is reserved until RecordOutcome or Release.
func (e *Engine) Evaluate(opp types.Opportunity, cfg config.RiskConfig) Decision {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.rollDayLocked()
	s := &e.state

	if s.KillSwitchActive {
		return reject(ReasonKillSwitchActive, "kill switch active: %s", s.KillSwitchReason)
	}

	if opp.EdgePercent < cfg.MinEdgePercent {
		return reject(ReasonEdgeTooLow, "edge %.3f%% below minimum %.3f%%", opp.EdgePercent, cfg.MinEdgePercent)
	}

	stake := s.Bankroll.Mul(decimal.NewFromFloat(cfg.MaxStakePercent))
	stake = decimal.Min(stake, decimal.NewFromFloat(cfg.MaxStakeAbsolute))
	if cfg.MaxDailyStakePercent > 0 {
		budget := s.DayStartBankroll.Mul(decimal.NewFromFloat(cfg.MaxDailyStakePercent)).Sub(s.DailyStaked)
		stake = decimal.Min(stake, budget)
	}
	stake = decimal.Min(stake, s.Bankroll.Sub(s.Committed))
	stake = stake.Truncate(cfg.StakeDecimals)

	minStake := decimal.NewFromFloat(cfg.MinStake)
	if !stake.IsPositive() || stake.LessThan(minStake) {
		return reject(ReasonStakeBelowMinimum, "stake %s below minimum %s", stake, minStake)
	}

	basis := s.DailyHighWater
	if cfg.DrawdownBasis == config.DrawdownBasisDayStart {
		basis = s.DayStartBankroll
	}
	if basis.IsPositive() {
		worst := s.Bankroll.Sub(stake)
		if cfg.DrawdownIncludesCommitted {
			worst = worst.Sub(s.Committed)
		}
		projected := basis.Sub(worst).Div(basis).InexactFloat64()
		if projected > cfg.MaxDailyDrawdownPercent {
			reason := fmt.Sprintf("projected drawdown %.2f%% exceeds %.2f%%", projected*100, cfg.MaxDailyDrawdownPercent*100)
			e.emitKillLocked(reason)
			return reject(ReasonDrawdownLimitExceeded, "%s", reason)
		}
	}

	s.Committed = s.Committed.Add(stake)
	s.DailyStaked = s.DailyStaked.Add(stake)

	e.logger.Debug("opportunity approved",
		"opportunity", opp.ID,
		"edge_pct", opp.EdgePercent,
		"stake", stake.String(),
		"committed", s.Committed.String(),
	)
	return approve(stake)
}

// RecordOutcome settles a plan: its reservation is released and realized
// pnl applied to the bankroll.
func (e *Engine) RecordOutcome(plan types.StakePlan, realizedPnL decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := &e.state
	s.Committed = decimal.Max(decimal.Zero, s.Committed.Sub(plan.TotalStake))
	s.Bankroll = s.Bankroll.Add(realizedPnL)
	s.DailyPnL = s.DailyPnL.Add(realizedPnL)
	s.TotalPnL = s.TotalPnL.Add(realizedPnL)
	s.DailyHighWater = decimal.Max(s.DailyHighWater, s.Bankroll)
	s.DailyTrades++
	s.TotalTrades++
	if realizedPnL.IsPositive() {
		s.DailyWins++
		s.TotalWins++
	}

	e.logger.Info("outcome recorded",
		"opportunity", plan.OpportunityID,
		"pnl", realizedPnL.String(),
		"bankroll", s.Bankroll.String(),
		"daily_pnl", s.DailyPnL.String(),
	)
}

// Reserve re-commits the stake of a plan placed before a restart. The daily
// budget is not charged again.
func (e *Engine) Reserve(plan types.StakePlan) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.Committed = e.state.Committed.Add(plan.TotalStake)
}

// Release frees the reservation of a plan that was never placed.
func (e *Engine) Release(plan types.StakePlan) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := &e.state
	s.Committed = decimal.Max(decimal.Zero, s.Committed.Sub(plan.TotalStake))
	s.DailyStaked = decimal.Max(decimal.Zero, s.DailyStaked.Sub(plan.TotalStake))
}

// SetKillSwitch is the operator override. Turning it off is the only way to
// clear a tripped kill switch.
func (e *Engine) SetKillSwitch(active bool, reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if active {
		e.emitKillLocked(reason)
		return
	}
	if e.state.KillSwitchActive {
		e.logger.Warn("kill switch cleared by operator", "previous_reason", e.state.KillSwitchReason, "note", reason)
	}
	e.state.KillSwitchActive = false
	e.state.KillSwitchReason = ""
	e.state.KillSwitchAt = time.Time{}
}

// KillSwitchActive reports whether the kill switch is engaged.
func (e *Engine) KillSwitchActive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.KillSwitchActive
}

// SetMode records the operator-selected mode.
func (e *Engine) SetMode(m types.Mode) error {
	if !m.Valid() {
		return fmt.Errorf("set mode: unknown mode %q", m)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.Mode != m {
		e.logger.Info("mode changed", "from", e.state.Mode, "to", m)
	}
	e.state.Mode = m
	return nil
}

// ModeState returns the selected mode and kill switch in one read.
func (e *Engine) ModeState() (types.Mode, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Mode, e.state.KillSwitchActive
}

// DailyReset starts a new trading day: daily counters are zeroed and the
// high-water mark rebased to the current bankroll. The kill switch is left
// untouched.
func (e *Engine) DailyReset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dailyResetLocked(e.today())
}

// RollDay resets daily state if the local date has changed since the
// session started. Returns true when a reset happened.
func (e *Engine) RollDay() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rollDayLocked()
}

func (e *Engine) rollDayLocked() bool {
	today := e.today()
	if today == e.state.SessionDate {
		return false
	}
	e.dailyResetLocked(today)
	return true
}

func (e *Engine) dailyResetLocked(today string) {
	s := &e.state
	e.logger.Info("daily reset",
		"previous_session", s.SessionDate,
		"daily_pnl", s.DailyPnL.String(),
		"daily_trades", s.DailyTrades,
		"bankroll", s.Bankroll.String(),
	)
	if s.SessionDate != "" && s.SessionDate != today {
		e.closed = DaySummary{
			Date:   s.SessionDate,
			Trades: s.DailyTrades,
			Wins:   s.DailyWins,
			PnL:    s.DailyPnL,
			Staked: s.DailyStaked,
		}
	}
	s.DailyPnL = decimal.Zero
	s.DailyStaked = decimal.Zero
	s.DailyTrades = 0
	s.DailyWins = 0
	s.DayStartBankroll = s.Bankroll
	s.DailyHighWater = s.Bankroll
	s.SessionDate = today
}

// ClosedDay returns the tally of the most recent day that was rolled over,
// whichever call (RollDay, Evaluate, Restore) did the rolling. Zero before
// the first roll.
func (e *Engine) ClosedDay() DaySummary {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Snapshot returns a copy of the current state.
func (e *Engine) Snapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Restore replaces the state with a persisted one, then rolls the day if it
// was saved on an earlier date. Reservations do not survive a restart.
func (e *Engine) Restore(st State) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// The configured mode applies after a restart; the saved one is only reported.
	configured := e.state.Mode
	if st.Mode != configured {
		e.logger.Warn("saved mode differs from configuration, using configured mode",
			"saved", st.Mode, "configured", configured)
	}
	e.state = st
	e.state.Committed = decimal.Zero
	e.state.Mode = configured
	e.rollDayLocked()
	e.logger.Info("risk state restored",
		"bankroll", e.state.Bankroll.String(),
		"kill_switch", e.state.KillSwitchActive,
		"mode", e.state.Mode,
	)
}

// emitKillLocked activates the kill switch and sends a KillSignal. If the
// kill channel is full, the stale signal is drained so the latest reason is
// always delivered.
func (e *Engine) emitKillLocked(reason string) {
	at := e.now()
	e.state.KillSwitchActive = true
	e.state.KillSwitchReason = reason
	e.state.KillSwitchAt = at

	e.logger.Error("KILL SWITCH", "reason", reason)

	sig := KillSignal{Reason: reason, At: at}
	select {
	case e.killCh <- sig:
	default:
		select {
		case <-e.killCh:
		default:
		}
		e.killCh <- sig
	}
}
