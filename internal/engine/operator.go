package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"arbscan/internal/execution"
	"arbscan/internal/notify"
	"arbscan/internal/risk"
	"arbscan/pkg/types"
)

// Operator commands. These are what the dashboard's control endpoints call.

// SetMode changes the selected execution mode.
func (e *Engine) SetMode(m types.Mode) error {
	from, _ := e.risk.ModeState()
	if err := e.risk.SetMode(m); err != nil {
		return err
	}
	if from != m {
		e.emit(notify.ModeAlert(from, m, e.now()))
	}
	e.persist()
	return nil
}

// SetKillSwitch engages or clears the kill switch. Engaging it is reported
// through the kill-signal watcher like a drawdown trip.
func (e *Engine) SetKillSwitch(active bool, reason string) {
	if reason == "" {
		reason = "operator"
	}
	e.risk.SetKillSwitch(active, reason)
	e.persist()
}

// Confirm executes a held plan. An expired or disabled confirmation releases
// the plan's reservation and returns the controller's error.
func (e *Engine) Confirm(ctx context.Context, token string) ([]types.BetReceipt, error) {
	p, err := e.controller.Confirm(token)
	switch {
	case errors.Is(err, execution.ErrConfirmationExpired):
		e.risk.Release(p.Plan)
		e.journal(e.newRecord(p.Opportunity, &p.Plan, types.StatusExpired, "confirmed after deadline"))
		e.emit(notify.ExpiredAlert(p.Opportunity.ID, token, e.now()))
		e.persist()
		return nil, err
	case errors.Is(err, execution.ErrExecutionDisabled):
		e.risk.Release(p.Plan)
		e.journal(e.newRecord(p.Opportunity, &p.Plan, types.StatusSkipped, "execution disabled at confirmation"))
		e.persist()
		return nil, err
	case err != nil:
		return nil, err
	}
	return e.execute(ctx, p.Opportunity, p.Plan)
}

// Reject discards a held plan and releases its reservation.
func (e *Engine) Reject(token string) error {
	p, err := e.controller.Reject(token)
	if err != nil {
		return err
	}
	e.risk.Release(p.Plan)
	e.journal(e.newRecord(p.Opportunity, &p.Plan, types.StatusSkipped, "rejected by operator"))
	e.persist()
	return nil
}

// Settle closes an open position and books its realized pnl.
func (e *Engine) Settle(opportunityID string, s execution.Settlement) (decimal.Decimal, error) {
	pos, pnl, err := e.ledger.Settle(opportunityID, s)
	if err != nil {
		return decimal.Zero, err
	}
	e.risk.RecordOutcome(pos.Plan, pnl)

	rec := e.newRecord(pos.Opportunity, &pos.Plan, types.StatusSettled, "")
	rec.Receipts = pos.Receipts
	if s.Void {
		rec.Reason = "void"
	} else if s.WinningOutcome != "" {
		rec.Reason = "winner: " + s.WinningOutcome
	}
	e.journal(rec)

	e.emit(notify.SettledAlert(opportunityID, pnl, e.now()))
	e.persist()
	return pnl, nil
}

// SetCommissions replaces the commission table. Takes effect from the next
// detection pass; a cycle already detecting keeps the table it started with.
func (e *Engine) SetCommissions(t types.CommissionTable) error {
	for b, rate := range t {
		if rate < 0 || rate >= 1 {
			return fmt.Errorf("commission for %s must be in [0, 1), got %v", b, rate)
		}
	}
	table := t.Clone()
	e.commMu.Lock()
	e.commissions = table
	e.commMu.Unlock()
	e.logger.Info("commission table updated", "bookmakers", len(table))
	return nil
}

// Commissions returns a copy of the current commission table.
func (e *Engine) Commissions() types.CommissionTable {
	return e.commissionTable().Clone()
}

// RiskSnapshot returns the current risk state.
func (e *Engine) RiskSnapshot() risk.State {
	return e.risk.Snapshot()
}

// EffectiveMode is the mode actually applied: dry while the kill switch is on.
func (e *Engine) EffectiveMode() types.Mode {
	return e.controller.Mode()
}

// ScanStats returns today's scan counters.
func (e *Engine) ScanStats() types.ScanStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.stats
	st.FailedSources = append([]string(nil), e.stats.FailedSources...)
	return st
}

// PendingConfirmations lists plans awaiting the operator.
func (e *Engine) PendingConfirmations() []execution.Pending {
	return e.controller.Pending()
}

// OpenPositions lists placed plans awaiting settlement.
func (e *Engine) OpenPositions() []execution.Position {
	return e.ledger.Positions()
}

// RecentOpportunities returns up to limit journal records, newest first.
func (e *Engine) RecentOpportunities(limit int) []types.OpportunityRecord {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := len(e.recent)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]types.OpportunityRecord, 0, n)
	for i := len(e.recent) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, e.recent[i])
	}
	return out
}

// AddSender registers another alert channel. Call before Start.
func (e *Engine) AddSender(s notify.Sender) {
	e.notifier.Add(s)
}
