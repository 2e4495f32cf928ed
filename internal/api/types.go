package api

import (
	"time"

	"arbscan/internal/config"
	"arbscan/internal/execution"
	"arbscan/pkg/types"
)

// DashboardSnapshot represents the complete dashboard state
type DashboardSnapshot struct {
	Timestamp time.Time `json:"timestamp"`

	// Mode as selected by the operator and as applied (dry while killed)
	Mode          types.Mode `json:"mode"`
	EffectiveMode types.Mode `json:"effective_mode"`

	// Risk status
	Risk RiskSnapshot `json:"risk"`

	// Today's scanning activity
	Scanner types.ScanStats `json:"scanner"`

	// Plans awaiting the operator and placed plans awaiting settlement
	Pending   []execution.Pending `json:"pending"`
	Positions []PositionStatus    `json:"positions"`

	// Newest journal records first
	Recent []types.OpportunityRecord `json:"recent"`

	Commissions types.CommissionTable `json:"commissions"`

	// Configuration
	Config ConfigSummary `json:"config"`
}

// RiskSnapshot is the risk state in dashboard form. Money is rendered as
// fixed two-decimal strings.
type RiskSnapshot struct {
	Bankroll         string  `json:"bankroll"`
	FreeBankroll     string  `json:"free_bankroll"`
	Committed        string  `json:"committed"`
	DayStartBankroll string  `json:"day_start_bankroll"`
	DailyHighWater   string  `json:"daily_high_water_mark"`
	DailyPnL         string  `json:"daily_pnl"`
	DailyStaked      string  `json:"daily_staked"`
	DailyTrades      int     `json:"daily_trades"`
	DailyWins        int     `json:"daily_wins"`
	TotalPnL         string  `json:"total_pnl"`
	TotalTrades      int     `json:"total_trades"`
	TotalWins        int     `json:"total_wins"`
	DrawdownPct      float64 `json:"drawdown_pct"`
	MaxDrawdownPct   float64 `json:"max_drawdown_pct"`
	SessionDate      string  `json:"session_date"`

	// Kill switch
	KillSwitchActive bool      `json:"kill_switch_active"`
	KillSwitchReason string    `json:"kill_switch_reason,omitempty"`
	KillSwitchAt     time.Time `json:"kill_switch_at,omitempty"`
}

// PositionStatus represents one open position
type PositionStatus struct {
	OpportunityID string             `json:"opportunity_id"`
	EventName     string             `json:"event_name"`
	Sport         string             `json:"sport"`
	StartTime     time.Time          `json:"start_time"`
	EdgePercent   float64            `json:"edge_percent"`
	Staked        string             `json:"staked"`
	Guaranteed    string             `json:"guaranteed_profit"`
	Unhedged      bool               `json:"unhedged"`
	Receipts      []types.BetReceipt `json:"receipts"`
	OpenedAt      time.Time          `json:"opened_at"`
}

// ConfigSummary represents scanner, risk and execution configuration
type ConfigSummary struct {
	// Scanner parameters
	ScanInterval        string `json:"scan_interval"`
	MaxConcurrentCycles int    `json:"max_concurrent_cycles"`
	MaxQuoteAge         string `json:"max_quote_age"`
	MinBookmakers       int    `json:"min_bookmakers"`
	OpportunityTTL      string `json:"opportunity_ttl"`

	// Risk parameters
	MaxStakePercent           float64 `json:"max_stake_percent"`
	MaxStakeAbsolute          float64 `json:"max_stake_absolute"`
	MinStake                  float64 `json:"min_stake"`
	MaxDailyStakePercent      float64 `json:"max_daily_stake_percent"`
	MaxDailyDrawdownPercent   float64 `json:"max_daily_drawdown_percent"`
	MinEdgePercent            float64 `json:"min_edge_percent"`
	DrawdownBasis             string  `json:"drawdown_basis"`
	DrawdownIncludesCommitted bool    `json:"drawdown_includes_committed"`

	// Execution
	ConfirmationWindow string `json:"confirmation_window"`
	Paper              bool   `json:"paper"`

	// Sources
	OddsAPIEnabled bool     `json:"odds_api_enabled"`
	Sports         []string `json:"sports,omitempty"`
	StreamEnabled  bool     `json:"stream_enabled"`
}

// NewConfigSummary creates config summary from config
func NewConfigSummary(cfg config.Config) ConfigSummary {
	return ConfigSummary{
		// Scanner
		ScanInterval:        cfg.Scanner.Interval.String(),
		MaxConcurrentCycles: cfg.Scanner.MaxConcurrentCycles,
		MaxQuoteAge:         cfg.Scanner.MaxQuoteAge.String(),
		MinBookmakers:       cfg.Scanner.MinBookmakers,
		OpportunityTTL:      cfg.Scanner.OpportunityTTL.String(),

		// Risk
		MaxStakePercent:           cfg.Risk.MaxStakePercent,
		MaxStakeAbsolute:          cfg.Risk.MaxStakeAbsolute,
		MinStake:                  cfg.Risk.MinStake,
		MaxDailyStakePercent:      cfg.Risk.MaxDailyStakePercent,
		MaxDailyDrawdownPercent:   cfg.Risk.MaxDailyDrawdownPercent,
		MinEdgePercent:            cfg.Risk.MinEdgePercent,
		DrawdownBasis:             cfg.Risk.DrawdownBasis,
		DrawdownIncludesCommitted: cfg.Risk.DrawdownIncludesCommitted,

		// Execution
		ConfirmationWindow: cfg.Execution.ConfirmationWindow.String(),
		Paper:              cfg.Execution.Paper,

		// Sources
		OddsAPIEnabled: cfg.OddsAPI.Enabled,
		Sports:         cfg.OddsAPI.Sports,
		StreamEnabled:  cfg.Stream.Enabled,
	}
}
