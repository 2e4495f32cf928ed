package api

import (
	"time"

	"arbscan/internal/notify"
)

// DashboardEvent is the wrapper for all events sent to the dashboard
type DashboardEvent struct {
	Type          string    `json:"type"`      // "snapshot" or an alert kind
	Timestamp     time.Time `json:"timestamp"` // Event time
	OpportunityID string    `json:"opportunity_id,omitempty"`
	Data          any       `json:"data"` // Event-specific payload
}

// NewAlertEvent wraps an alert for the dashboard stream
func NewAlertEvent(a notify.Alert) DashboardEvent {
	at := a.At
	if at.IsZero() {
		at = time.Now()
	}
	return DashboardEvent{
		Type:          string(a.Kind),
		Timestamp:     at,
		OpportunityID: a.OpportunityID,
		Data:          a,
	}
}

// ModeRequest is the body of POST /api/mode
type ModeRequest struct {
	Mode string `json:"mode"`
}

// KillSwitchRequest is the body of POST /api/killswitch
type KillSwitchRequest struct {
	Active bool   `json:"active"`
	Reason string `json:"reason"`
}

// SettlementRequest is the body of POST /api/settlements. RealizedPnL, when
// set, overrides the pnl computed from the receipts.
type SettlementRequest struct {
	OpportunityID  string  `json:"opportunity_id"`
	WinningOutcome string  `json:"winning_outcome"`
	Void           bool    `json:"void"`
	RealizedPnL    *string `json:"realized_pnl,omitempty"`
}

// SettlementResponse reports the booked pnl
type SettlementResponse struct {
	OpportunityID string `json:"opportunity_id"`
	PnL           string `json:"pnl"`
}
