// Package notify delivers operator alerts to one or more channels
// (Telegram, a Redis stream, the dashboard). Alerts can be filtered by kind
// so operators receive only what they care about.
package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"arbscan/pkg/types"
)

// Kind classifies an alert. Used for filtering and routing.
type Kind string

const (
	KindOpportunity     Kind = "opportunity"           // detected and approved, reported only
	KindConfirmation    Kind = "confirmation_required" // semi_auto plan awaiting the operator
	KindExecuted        Kind = "executed"
	KindExecutionFailed Kind = "execution_failed"
	KindExpired         Kind = "expired"
	KindKillSwitch      Kind = "kill_switch"
	KindSettled         Kind = "settled"
	KindModeChanged     Kind = "mode_changed"
	KindDailySummary    Kind = "daily_summary"
)

// Alert is one notification. Title and Message are human-readable; Data
// carries the structured payload for machine consumers.
type Alert struct {
	Kind          Kind      `json:"kind"`
	Title         string    `json:"title"`
	Message       string    `json:"message"`
	OpportunityID string    `json:"opportunity_id,omitempty"`
	Token         string    `json:"token,omitempty"`
	At            time.Time `json:"at"`
	Data          any       `json:"data,omitempty"`
}

// OpportunityAlert describes an approved plan. kind is KindOpportunity for
// reports and KindConfirmation when token identifies a held plan.
func OpportunityAlert(kind Kind, opp types.Opportunity, plan types.StakePlan, token string, deadline time.Time) Alert {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s)\n", opp.EventName, opp.Sport)
	fmt.Fprintf(&b, "Edge %.2f%% | ROI %.2f%%\n", opp.EdgePercent, opp.ROIPercent())
	for _, l := range plan.Legs {
		fmt.Fprintf(&b, "  %s @ %.2f on %s -> %s\n", l.OutcomeID, l.Price, l.BookmakerID, l.Stake.StringFixed(2))
	}
	fmt.Fprintf(&b, "Total %s | Guaranteed profit %s",
		plan.TotalStake.StringFixed(2), plan.GuaranteedProfit().StringFixed(2))

	title := "Arbitrage detected"
	if kind == KindConfirmation {
		title = "Confirmation required"
		fmt.Fprintf(&b, "\nToken %s, expires %s", token, deadline.UTC().Format(time.RFC3339))
	}

	return Alert{
		Kind:          kind,
		Title:         title,
		Message:       b.String(),
		OpportunityID: opp.ID,
		Token:         token,
		At:            opp.DetectedAt,
		Data:          plan,
	}
}

// ExecutionAlert reports the outcome of placing a plan. A nil err means
// every leg was placed.
func ExecutionAlert(plan types.StakePlan, receipts []types.BetReceipt, unhedged bool, err error, at time.Time) Alert {
	if err == nil {
		return Alert{
			Kind:          KindExecuted,
			Title:         "Plan executed",
			Message:       fmt.Sprintf("%d legs placed, total %s", len(receipts), plan.TotalStake.StringFixed(2)),
			OpportunityID: plan.OpportunityID,
			At:            at,
			Data:          receipts,
		}
	}

	title := "Execution failed"
	if unhedged {
		title = "UNHEDGED POSITION"
	}
	return Alert{
		Kind:          KindExecutionFailed,
		Title:         title,
		Message:       fmt.Sprintf("%d of %d legs placed: %v", len(receipts), len(plan.Legs), err),
		OpportunityID: plan.OpportunityID,
		At:            at,
		Data:          receipts,
	}
}

// KillSwitchAlert reports the kill switch tripping.
func KillSwitchAlert(reason string, at time.Time) Alert {
	return Alert{
		Kind:    KindKillSwitch,
		Title:   "Kill switch activated",
		Message: reason + "\nExecution is disabled until an operator clears it.",
		At:      at,
	}
}

// ExpiredAlert reports a held plan whose confirmation window lapsed.
func ExpiredAlert(opportunityID, token string, at time.Time) Alert {
	return Alert{
		Kind:          KindExpired,
		Title:         "Confirmation expired",
		Message:       fmt.Sprintf("Plan %s was not confirmed in time", opportunityID),
		OpportunityID: opportunityID,
		Token:         token,
		At:            at,
	}
}

// SettledAlert reports a settled position.
func SettledAlert(opportunityID string, pnl decimal.Decimal, at time.Time) Alert {
	return Alert{
		Kind:          KindSettled,
		Title:         "Position settled",
		Message:       fmt.Sprintf("%s settled, pnl %s", opportunityID, pnl.StringFixed(2)),
		OpportunityID: opportunityID,
		At:            at,
	}
}

// ModeAlert reports an operator mode change.
func ModeAlert(from, to types.Mode, at time.Time) Alert {
	return Alert{
		Kind:    KindModeChanged,
		Title:   "Mode changed",
		Message: fmt.Sprintf("%s -> %s", from, to),
		At:      at,
	}
}

// DailySummaryAlert closes out a trading day.
func DailySummaryAlert(date string, trades, wins int, pnl decimal.Decimal, at time.Time) Alert {
	return Alert{
		Kind:    KindDailySummary,
		Title:   "Daily summary " + date,
		Message: fmt.Sprintf("Trades %d | Wins %d | PnL %s", trades, wins, pnl.StringFixed(2)),
		At:      at,
	}
}
