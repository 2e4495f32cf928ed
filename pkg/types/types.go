// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the scanner: odds quotes, events,
// opportunities, stake plans and bet receipts. It has no dependencies on
// internal packages, so it can be imported by any layer.
package types

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Mode is the operator-selected execution mode.
type Mode string

const (
	ModeDry      Mode = "dry"       // report only, never place bets
	ModeSemiAuto Mode = "semi_auto" // hold each plan until the operator confirms it
	ModeAuto     Mode = "auto"      // place bets without confirmation
)

// Valid reports whether m is one of the known modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeDry, ModeSemiAuto, ModeAuto:
		return true
	default:
		return false
	}
}

// ParseMode converts an operator-supplied string into a Mode.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", fmt.Errorf("unknown mode %q (want dry, semi_auto or auto)", s)
	}
	return m, nil
}

// OpportunityStatus tracks an opportunity through the scan → execute pipeline.
type OpportunityStatus string

const (
	StatusDetected  OpportunityStatus = "detected"
	StatusPending   OpportunityStatus = "pending" // waiting for operator confirmation
	StatusExecuting OpportunityStatus = "executing"
	StatusExecuted  OpportunityStatus = "executed"
	StatusPartial   OpportunityStatus = "partial" // some legs placed, position unhedged
	StatusFailed    OpportunityStatus = "failed"
	StatusExpired   OpportunityStatus = "expired"
	StatusSkipped   OpportunityStatus = "skipped" // declined by risk or the operator
	StatusSettled   OpportunityStatus = "settled"
)

// BetStatus is the lifecycle state of a single placed leg.
type BetStatus string

const (
	BetPending   BetStatus = "pending"
	BetPlaced    BetStatus = "placed"
	BetFilled    BetStatus = "filled"
	BetPartial   BetStatus = "partial"
	BetCancelled BetStatus = "cancelled"
	BetFailed    BetStatus = "failed"
)

// ————————————————————————————————————————————————————————————————————————
// Odds
// ————————————————————————————————————————————————————————————————————————

// OddsQuote is one bookmaker's decimal price for one outcome of an event.
// Immutable once received.
type OddsQuote struct {
	BookmakerID string    `json:"bookmaker_id"`
	OutcomeID   string    `json:"outcome_id"`
	Price       float64   `json:"price"`     // decimal odds, must be > 1.0
	Timestamp   time.Time `json:"timestamp"` // when the bookmaker last updated the price
}

// Event is a sporting fixture together with the latest quote per
// (bookmaker, outcome) pair. Outcomes is ordered and exhaustive: 2 entries for
// two-way markets, 3 for home/draw/away.
type Event struct {
	ID          string      `json:"event_id"`
	Sport       string      `json:"sport"`
	League      string      `json:"league"`
	Competitors []string    `json:"competitors"`
	StartTime   time.Time   `json:"start_time"`
	Outcomes    []string    `json:"outcomes"`
	Quotes      []OddsQuote `json:"quotes"`
}

// Name returns a human-readable fixture label, e.g. "Arsenal vs Chelsea".
func (e Event) Name() string {
	if len(e.Competitors) == 0 {
		return e.ID
	}
	return strings.Join(e.Competitors, " vs ")
}

// HasOutcome reports whether id is one of the event's outcomes.
func (e Event) HasOutcome(id string) bool {
	for _, o := range e.Outcomes {
		if o == id {
			return true
		}
	}
	return false
}

// Upsert stores q, replacing any existing quote for the same bookmaker and
// outcome unless the existing one is newer.
func (e *Event) Upsert(q OddsQuote) {
	for i, existing := range e.Quotes {
		if existing.BookmakerID == q.BookmakerID && existing.OutcomeID == q.OutcomeID {
			if !q.Timestamp.Before(existing.Timestamp) {
				e.Quotes[i] = q
			}
			return
		}
	}
	e.Quotes = append(e.Quotes, q)
}

// Bookmakers returns the distinct bookmaker ids quoting this event, sorted.
func (e Event) Bookmakers() []string {
	seen := make(map[string]struct{}, len(e.Quotes))
	for _, q := range e.Quotes {
		seen[q.BookmakerID] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// CommissionTable maps bookmaker id to the fraction of winnings the venue
// keeps. Bookmakers absent from the table charge nothing. Keys are matched
// case-insensitively.
type CommissionTable map[string]float64

// Rate returns the commission rate for a bookmaker.
func (t CommissionTable) Rate(bookmakerID string) float64 {
	if rate, ok := t[bookmakerID]; ok {
		return rate
	}
	return t[strings.ToLower(bookmakerID)]
}

// EffectivePrice discounts a quoted price by the bookmaker's commission.
func (t CommissionTable) EffectivePrice(bookmakerID string, price float64) float64 {
	return price * (1 - t.Rate(bookmakerID))
}

// Clone returns an independent copy so callers can swap tables between cycles.
func (t CommissionTable) Clone() CommissionTable {
	out := make(CommissionTable, len(t))
	for k, v := range t {
		out[strings.ToLower(k)] = v
	}
	return out
}

// ————————————————————————————————————————————————————————————————————————
// Opportunities
// ————————————————————————————————————————————————————————————————————————

// Leg is the best available price for one outcome of an opportunity.
type Leg struct {
	OutcomeID      string  `json:"outcome_id"`
	BookmakerID    string  `json:"bookmaker_id"`
	Price          float64 `json:"price"`           // quoted decimal odds
	EffectivePrice float64 `json:"effective_price"` // after commission
	Commission     float64 `json:"commission"`
}

// Opportunity is a set of legs, one per outcome, whose implied probabilities
// sum to less than 1. Produced by the detector, consumed by risk and the
// allocator.
type Opportunity struct {
	ID                    string    `json:"id"`
	EventID               string    `json:"event_id"`
	EventName             string    `json:"event_name"`
	Sport                 string    `json:"sport"`
	StartTime             time.Time `json:"start_time"`
	Legs                  []Leg     `json:"legs"`
	ImpliedProbabilitySum float64   `json:"implied_probability_sum"`
	EdgePercent           float64   `json:"edge_percent"` // (1 − implied) × 100
	DetectedAt            time.Time `json:"detected_at"`
}

// ROIPercent is the guaranteed return on the total stake: (1/implied − 1) × 100.
func (o Opportunity) ROIPercent() float64 {
	if o.ImpliedProbabilitySum <= 0 {
		return 0
	}
	return (1/o.ImpliedProbabilitySum - 1) * 100
}

// Bookmakers returns the bookmaker of each leg, in leg order.
func (o Opportunity) Bookmakers() []string {
	out := make([]string, len(o.Legs))
	for i, l := range o.Legs {
		out[i] = l.BookmakerID
	}
	return out
}

// ————————————————————————————————————————————————————————————————————————
// Stakes & bets
// ————————————————————————————————————————————————————————————————————————

// StakeLeg is the amount to place on one leg. ExpectedReturn is the payout
// if this leg's outcome wins: Stake × EffectivePrice.
type StakeLeg struct {
	OutcomeID      string          `json:"outcome_id"`
	BookmakerID    string          `json:"bookmaker_id"`
	Price          float64         `json:"price"`
	EffectivePrice float64         `json:"effective_price"`
	Stake          decimal.Decimal `json:"stake"`
	ExpectedReturn decimal.Decimal `json:"expected_return"`
}

// StakePlan splits an approved total stake across an opportunity's legs so
// the payout is equal whichever outcome wins. The sum of leg stakes never
// exceeds TotalStake.
type StakePlan struct {
	OpportunityID string          `json:"opportunity_id"`
	EventID       string          `json:"event_id"`
	TotalStake    decimal.Decimal `json:"total_stake"` // amount approved by risk
	Legs          []StakeLeg      `json:"legs"`
}

// Staked sums the leg stakes.
func (p StakePlan) Staked() decimal.Decimal {
	sum := decimal.Zero
	for _, l := range p.Legs {
		sum = sum.Add(l.Stake)
	}
	return sum
}

// GuaranteedProfit is the worst-case payout minus the amount staked.
func (p StakePlan) GuaranteedProfit() decimal.Decimal {
	if len(p.Legs) == 0 {
		return decimal.Zero
	}
	worst := p.Legs[0].ExpectedReturn
	for _, l := range p.Legs[1:] {
		if l.ExpectedReturn.LessThan(worst) {
			worst = l.ExpectedReturn
		}
	}
	return worst.Sub(p.Staked())
}

// BetReceipt is the backend's acknowledgement of a placed leg.
type BetReceipt struct {
	BetID       string          `json:"bet_id"`
	BookmakerID string          `json:"bookmaker_id"`
	OutcomeID   string          `json:"outcome_id"`
	Price       float64         `json:"price"`
	Stake       decimal.Decimal `json:"stake"`
	Status      BetStatus       `json:"status"`
	PlacedAt    time.Time       `json:"placed_at"`
}

// OpportunityRecord is one line of the opportunity journal.
type OpportunityRecord struct {
	Opportunity Opportunity       `json:"opportunity"`
	Plan        *StakePlan        `json:"plan,omitempty"`
	Status      OpportunityStatus `json:"status"`
	Mode        Mode              `json:"mode"`
	Reason      string            `json:"reason,omitempty"`
	Receipts    []BetReceipt      `json:"receipts,omitempty"`
	RecordedAt  time.Time         `json:"recorded_at"`
}

// ————————————————————————————————————————————————————————————————————————
// Stats
// ————————————————————————————————————————————————————————————————————————

// ScanStats counts scanner activity for one trading day.
type ScanStats struct {
	Date                  string        `json:"date"`
	Scans                 int           `json:"scans"`
	FailedScans           int           `json:"failed_scans"`
	EventsScanned         int           `json:"events_scanned"`
	OpportunitiesDetected int           `json:"opportunities_detected"`
	OpportunitiesApproved int           `json:"opportunities_approved"`
	OpportunitiesExecuted int           `json:"opportunities_executed"`
	OpportunitiesFailed   int           `json:"opportunities_failed"`
	OpportunitiesExpired  int           `json:"opportunities_expired"`
	BestEdgePercent       float64       `json:"best_edge_percent"`
	LastScanAt            time.Time     `json:"last_scan_at"`
	LastScanDuration      time.Duration `json:"last_scan_duration"`
	LastError             string        `json:"last_error,omitempty"`
	FailedSources         []string      `json:"failed_sources,omitempty"`
}
