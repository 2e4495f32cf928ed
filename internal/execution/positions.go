package execution

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"arbscan/pkg/types"
)

// ErrUnknownPosition means no open position exists for an opportunity id.
var ErrUnknownPosition = errors.New("unknown position")

// Position is a placed plan awaiting settlement. Serialized to JSON for
// persistence across restarts.
type Position struct {
	Opportunity types.Opportunity  `json:"opportunity"`
	Plan        types.StakePlan    `json:"plan"`
	Receipts    []types.BetReceipt `json:"receipts"`
	Unhedged    bool               `json:"unhedged"`
	OpenedAt    time.Time          `json:"opened_at"`
}

// Staked sums the stake actually placed.
func (p Position) Staked() decimal.Decimal {
	sum := decimal.Zero
	for _, r := range p.Receipts {
		sum = sum.Add(r.Stake)
	}
	return sum
}

// Settlement describes how an event resolved.
type Settlement struct {
	WinningOutcome string           // ignored when Void
	Void           bool             // event voided, stakes returned
	RealizedPnL    *decimal.Decimal // overrides the computed pnl when set
}

// PnL computes the realized pnl of p under s. A winning leg pays its matched
// stake at the matched price, discounted by the leg's commission.
func (p Position) PnL(s Settlement) decimal.Decimal {
	if s.RealizedPnL != nil {
		return *s.RealizedPnL
	}
	if s.Void {
		return decimal.Zero
	}

	payout := decimal.Zero
	for _, r := range p.Receipts {
		if r.OutcomeID != s.WinningOutcome {
			continue
		}
		factor := 1.0
		for _, l := range p.Plan.Legs {
			if l.OutcomeID == r.OutcomeID && l.BookmakerID == r.BookmakerID && l.Price > 0 {
				factor = l.EffectivePrice / l.Price
				break
			}
		}
		payout = payout.Add(r.Stake.Mul(decimal.NewFromFloat(r.Price * factor)))
	}
	return payout.Sub(p.Staked())
}

func planHasOutcome(plan types.StakePlan, outcome string) bool {
	for _, l := range plan.Legs {
		if l.OutcomeID == outcome {
			return true
		}
	}
	return false
}

// Ledger tracks open positions by opportunity id. Thread-safe.
type Ledger struct {
	mu        sync.RWMutex
	positions map[string]Position
}

func NewLedger() *Ledger {
	return &Ledger{positions: make(map[string]Position)}
}

// Open records placed legs for a plan.
func (l *Ledger) Open(pos Position) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.positions[pos.Plan.OpportunityID] = pos
}

// Settle closes the position for opportunityID and returns it with its pnl.
func (l *Ledger) Settle(opportunityID string, s Settlement) (Position, decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[opportunityID]
	if !ok {
		return Position{}, decimal.Zero, fmt.Errorf("settle %s: %w", opportunityID, ErrUnknownPosition)
	}
	if !s.Void && s.RealizedPnL == nil && !planHasOutcome(pos.Plan, s.WinningOutcome) {
		return Position{}, decimal.Zero, fmt.Errorf("settle %s: outcome %q not in plan", opportunityID, s.WinningOutcome)
	}
	delete(l.positions, opportunityID)
	return pos, pos.PnL(s), nil
}

// Positions returns open positions, oldest first.
func (l *Ledger) Positions() []Position {
	l.mu.RLock()
	out := make([]Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, p)
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out
}

// Restore loads previously persisted positions.
func (l *Ledger) Restore(ps []Position) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range ps {
		l.positions[p.Plan.OpportunityID] = p
	}
}
