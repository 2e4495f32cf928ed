package api

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"arbscan/internal/config"
	"arbscan/internal/execution"
	"arbscan/internal/risk"
	"arbscan/pkg/types"
)

// recentLimit is how many journal records a snapshot carries.
const recentLimit = 50

// SnapshotProvider provides read access to scanner state
type SnapshotProvider interface {
	RiskSnapshot() risk.State
	EffectiveMode() types.Mode
	ScanStats() types.ScanStats
	PendingConfirmations() []execution.Pending
	OpenPositions() []execution.Position
	RecentOpportunities(limit int) []types.OpportunityRecord
	Commissions() types.CommissionTable
}

// Operator is the control surface behind the dashboard's POST endpoints.
type Operator interface {
	SnapshotProvider
	SetMode(m types.Mode) error
	SetKillSwitch(active bool, reason string)
	Confirm(ctx context.Context, token string) ([]types.BetReceipt, error)
	Reject(token string) error
	Settle(opportunityID string, s execution.Settlement) (decimal.Decimal, error)
	SetCommissions(t types.CommissionTable) error
}

// BuildSnapshot aggregates state from all components into a dashboard snapshot
func BuildSnapshot(provider SnapshotProvider, cfg config.Config) DashboardSnapshot {
	st := provider.RiskSnapshot()

	positions := provider.OpenPositions()
	statuses := make([]PositionStatus, 0, len(positions))
	for _, p := range positions {
		statuses = append(statuses, PositionStatus{
			OpportunityID: p.Plan.OpportunityID,
			EventName:     p.Opportunity.EventName,
			Sport:         p.Opportunity.Sport,
			StartTime:     p.Opportunity.StartTime,
			EdgePercent:   p.Opportunity.EdgePercent,
			Staked:        p.Staked().StringFixed(2),
			Guaranteed:    p.Plan.GuaranteedProfit().StringFixed(2),
			Unhedged:      p.Unhedged,
			Receipts:      p.Receipts,
			OpenedAt:      p.OpenedAt,
		})
	}

	pending := provider.PendingConfirmations()
	if pending == nil {
		pending = []execution.Pending{}
	}

	return DashboardSnapshot{
		Timestamp:     time.Now(),
		Mode:          st.Mode,
		EffectiveMode: provider.EffectiveMode(),
		Risk:          convertRiskState(st, cfg.Risk),
		Scanner:       provider.ScanStats(),
		Pending:       pending,
		Positions:     statuses,
		Recent:        provider.RecentOpportunities(recentLimit),
		Commissions:   provider.Commissions(),
		Config:        NewConfigSummary(cfg),
	}
}

// convertRiskState converts internal risk state to API format
func convertRiskState(st risk.State, cfg config.RiskConfig) RiskSnapshot {
	return RiskSnapshot{
		Bankroll:         st.Bankroll.StringFixed(2),
		FreeBankroll:     st.Bankroll.Sub(st.Committed).StringFixed(2),
		Committed:        st.Committed.StringFixed(2),
		DayStartBankroll: st.DayStartBankroll.StringFixed(2),
		DailyHighWater:   st.DailyHighWater.StringFixed(2),
		DailyPnL:         st.DailyPnL.StringFixed(2),
		DailyStaked:      st.DailyStaked.StringFixed(2),
		DailyTrades:      st.DailyTrades,
		DailyWins:        st.DailyWins,
		TotalPnL:         st.TotalPnL.StringFixed(2),
		TotalTrades:      st.TotalTrades,
		TotalWins:        st.TotalWins,
		DrawdownPct:      st.Drawdown(cfg.DrawdownBasis) * 100,
		MaxDrawdownPct:   cfg.MaxDailyDrawdownPercent * 100,
		SessionDate:      st.SessionDate,
		KillSwitchActive: st.KillSwitchActive,
		KillSwitchReason: st.KillSwitchReason,
		KillSwitchAt:     st.KillSwitchAt,
	}
}
