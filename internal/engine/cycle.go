package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"arbscan/internal/arbitrage"
	"arbscan/internal/execution"
	"arbscan/internal/notify"
	"arbscan/pkg/types"
)

// RunCycle performs one scan: fetch odds, detect, then gate, size and route
// every opportunity. Safe to call concurrently; the risk engine serializes
// approvals and events already being handled are skipped.
func (e *Engine) RunCycle(ctx context.Context) error {
	started := e.now()

	e.rollDay()
	e.expirePending()

	snap, err := e.aggregator.Fetch(ctx)
	if err != nil {
		e.recordScan(started, 0, err, snap.Failed)
		return fmt.Errorf("fetch odds: %w", err)
	}

	opps, err := e.detector.DetectAll(ctx, snap.Events, e.commissionTable())
	if err != nil {
		e.recordScan(started, len(snap.Events), err, snap.Failed)
		return fmt.Errorf("detect: %w", err)
	}

	e.mu.Lock()
	e.stats.OpportunitiesDetected += len(opps)
	for _, opp := range opps {
		if opp.EdgePercent > e.stats.BestEdgePercent {
			e.stats.BestEdgePercent = opp.EdgePercent
		}
	}
	e.mu.Unlock()

	for _, opp := range opps {
		if ctx.Err() != nil {
			break
		}
		e.handleOpportunity(ctx, opp)
	}

	e.recordScan(started, len(snap.Events), nil, snap.Failed)
	e.persist()

	e.logger.Info("scan cycle complete",
		"events", len(snap.Events),
		"opportunities", len(opps),
		"duration", e.now().Sub(started),
	)
	return nil
}

// rollDay starts a new trading day when the date has changed: the previous
// day's summary is sent and scan stats are reset. The risk engine may already
// have rolled (Evaluate does so under its lock), so the session date is
// compared with the stats date rather than trusting RollDay's result.
func (e *Engine) rollDay() {
	e.risk.RollDay()
	date := e.risk.Snapshot().SessionDate

	e.mu.Lock()
	prev := e.stats.Date
	if prev == date {
		e.mu.Unlock()
		return
	}
	e.stats = types.ScanStats{Date: date}
	e.mu.Unlock()

	if day := e.risk.ClosedDay(); day.Date != "" {
		e.emit(notify.DailySummaryAlert(day.Date, day.Trades, day.Wins, day.PnL, e.now()))
	}
}

// expirePending releases plans whose confirmation window has passed.
func (e *Engine) expirePending() {
	for _, p := range e.controller.Sweep() {
		e.risk.Release(p.Plan)
		e.journal(e.newRecord(p.Opportunity, &p.Plan, types.StatusExpired, "confirmation window elapsed"))
		e.emit(notify.ExpiredAlert(p.Opportunity.ID, p.Token, e.now()))

		e.mu.Lock()
		e.stats.OpportunitiesExpired++
		e.mu.Unlock()
	}
}

func (e *Engine) recordScan(started time.Time, events int, err error, failed []string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stats.Scans++
	e.stats.EventsScanned += events
	e.stats.LastScanAt = started
	e.stats.LastScanDuration = e.now().Sub(started)
	e.stats.FailedSources = failed
	if err != nil {
		e.stats.FailedScans++
		e.stats.LastError = err.Error()
	} else {
		e.stats.LastError = ""
	}
}

// claim marks opp's event as being handled. It fails if the opportunity was
// acted on within OpportunityTTL, or its event already has a held plan, an
// open position or another cycle working on it.
func (e *Engine) claim(opp types.Opportunity) bool {
	now := e.now()

	e.mu.Lock()
	defer e.mu.Unlock()

	if at, ok := e.seen[opp.ID]; ok {
		if e.cfg.Scanner.OpportunityTTL > 0 && now.Sub(at) < e.cfg.Scanner.OpportunityTTL {
			return false
		}
		delete(e.seen, opp.ID)
	}
	if _, busy := e.inflight[opp.EventID]; busy {
		return false
	}
	for _, p := range e.controller.Pending() {
		if p.Opportunity.EventID == opp.EventID {
			return false
		}
	}
	for _, p := range e.ledger.Positions() {
		if p.Opportunity.EventID == opp.EventID {
			return false
		}
	}

	e.inflight[opp.EventID] = struct{}{}
	e.pruneSeenLocked(now)
	return true
}

func (e *Engine) unclaim(opp types.Opportunity) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inflight, opp.EventID)
	e.seen[opp.ID] = e.now()
}

func (e *Engine) pruneSeenLocked(now time.Time) {
	ttl := e.cfg.Scanner.OpportunityTTL
	for id, at := range e.seen {
		if now.Sub(at) >= ttl {
			delete(e.seen, id)
		}
	}
}

// handleOpportunity runs one opportunity through risk, allocation and the
// execution mode gate.
func (e *Engine) handleOpportunity(ctx context.Context, opp types.Opportunity) {
	if !e.claim(opp) {
		return
	}
	defer e.unclaim(opp)

	decision := e.risk.Evaluate(opp, e.cfg.Risk)
	if !decision.Approved {
		e.logger.Debug("opportunity rejected", "opportunity", opp.ID, "reason", decision.Reason, "detail", decision.Detail)
		e.journal(e.newRecord(opp, nil, types.StatusSkipped, string(decision.Reason)+": "+decision.Detail))
		return
	}

	plan, err := arbitrage.Allocate(opp, decision.Stake, e.cfg.Risk.StakeDecimals)
	if err != nil {
		e.risk.Release(types.StakePlan{OpportunityID: opp.ID, TotalStake: decision.Stake})
		e.logger.Warn("allocation failed", "opportunity", opp.ID, "error", err)
		e.journal(e.newRecord(opp, nil, types.StatusSkipped, err.Error()))
		return
	}

	e.mu.Lock()
	e.stats.OpportunitiesApproved++
	e.mu.Unlock()

	action, pending := e.controller.Route(opp, plan)
	switch action {
	case execution.ActionExecute:
		_, _ = e.execute(ctx, opp, plan)

	case execution.ActionHold:
		e.journal(e.newRecord(opp, &plan, types.StatusPending, ""))
		e.emit(notify.OpportunityAlert(notify.KindConfirmation, opp, plan, pending.Token, pending.Deadline))

	default:
		// Dry: nothing is placed. The expected profit is booked so the
		// daily statistics track what would have been made.
		e.risk.RecordOutcome(plan, plan.GuaranteedProfit())
		e.journal(e.newRecord(opp, &plan, types.StatusDetected, ""))
		e.emit(notify.OpportunityAlert(notify.KindOpportunity, opp, plan, "", time.Time{}))
	}
}

// execute places plan and books the result. A failure before any leg was
// placed releases the reservation; once a leg is placed the position is
// opened, flagged unhedged if the plan did not complete.
func (e *Engine) execute(ctx context.Context, opp types.Opportunity, plan types.StakePlan) ([]types.BetReceipt, error) {
	receipts, err := e.executor.Execute(ctx, plan)

	var failure *execution.ExecutionFailure
	unhedged := errors.As(err, &failure) && failure.Unhedged

	switch {
	case err == nil:
		e.ledger.Open(execution.Position{Opportunity: opp, Plan: plan, Receipts: receipts, OpenedAt: e.now()})
		rec := e.newRecord(opp, &plan, types.StatusExecuted, "")
		rec.Receipts = receipts
		e.journal(rec)
	case len(receipts) > 0:
		e.ledger.Open(execution.Position{Opportunity: opp, Plan: plan, Receipts: receipts, Unhedged: unhedged, OpenedAt: e.now()})
		rec := e.newRecord(opp, &plan, types.StatusPartial, err.Error())
		rec.Receipts = receipts
		e.journal(rec)
	default:
		e.risk.Release(plan)
		e.journal(e.newRecord(opp, &plan, types.StatusFailed, err.Error()))
	}

	e.mu.Lock()
	if err == nil {
		e.stats.OpportunitiesExecuted++
	} else {
		e.stats.OpportunitiesFailed++
	}
	e.mu.Unlock()

	alert := notify.ExecutionAlert(plan, receipts, unhedged, err, e.now())
	if unhedged {
		e.emitAll(alert)
	} else {
		e.emit(alert)
	}
	e.persist()
	return receipts, err
}

func (e *Engine) newRecord(opp types.Opportunity, plan *types.StakePlan, status types.OpportunityStatus, reason string) types.OpportunityRecord {
	return types.OpportunityRecord{
		Opportunity: opp,
		Plan:        plan,
		Status:      status,
		Mode:        e.controller.Mode(),
		Reason:      reason,
		RecordedAt:  e.now(),
	}
}
