package arbitrage

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"arbscan/pkg/types"
)

var (
	// ErrInvalidOpportunity means the legs no longer form an arbitrage.
	ErrInvalidOpportunity = errors.New("invalid opportunity")
	// ErrInvalidStake means the requested total cannot fund any leg.
	ErrInvalidStake = errors.New("invalid stake")
)

// Allocate splits total across the opportunity's legs in proportion to
// 1/effective_price so each leg returns the same amount if it wins.
//
// Stakes are floored to the minimum currency unit (10^-decimals); leftover
// units go one each to the legs with the largest fractional remainders
// (ties to the earlier leg). The sum of stakes never exceeds total.
func Allocate(opp types.Opportunity, total decimal.Decimal, decimals int32) (types.StakePlan, error) {
	if !total.IsPositive() {
		return types.StakePlan{}, fmt.Errorf("%w: total stake %s must be > 0", ErrInvalidStake, total)
	}
	if len(opp.Legs) < 2 {
		return types.StakePlan{}, fmt.Errorf("%w: %d legs", ErrInvalidOpportunity, len(opp.Legs))
	}

	// Re-derive the implied sum from the legs; the opportunity may have been
	// built from a quote set that has since moved.
	inv := make([]float64, len(opp.Legs))
	var implied float64
	for i, l := range opp.Legs {
		if !(l.EffectivePrice > 1.0) || math.IsInf(l.EffectivePrice, 0) {
			return types.StakePlan{}, fmt.Errorf("%w: leg %s effective price %v", ErrInvalidOpportunity, l.OutcomeID, l.EffectivePrice)
		}
		inv[i] = 1 / l.EffectivePrice
		implied += inv[i]
	}
	if implied >= 1 || !impliedBelowOne(opp.Legs) {
		return types.StakePlan{}, fmt.Errorf("%w: implied probability sum %.6f is not below 1", ErrInvalidOpportunity, implied)
	}

	// Work in integer currency units.
	totalUnits := total.Shift(decimals).Floor().IntPart()
	if totalUnits < int64(len(opp.Legs)) {
		return types.StakePlan{}, fmt.Errorf("%w: total %s too small for %d legs", ErrInvalidStake, total, len(opp.Legs))
	}

	units := make([]int64, len(opp.Legs))
	fracs := make([]float64, len(opp.Legs))
	var assigned int64
	for i := range opp.Legs {
		raw := float64(totalUnits) * inv[i] / implied
		whole := math.Floor(raw)
		units[i] = int64(whole)
		fracs[i] = raw - whole
		assigned += units[i]
	}

	leftover := totalUnits - assigned
	if leftover > 0 {
		order := make([]int, len(opp.Legs))
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(a, b int) bool {
			return fracs[order[a]] > fracs[order[b]]
		})
		for k := 0; k < len(order) && leftover > 0; k++ {
			units[order[k]]++
			leftover--
		}
	}

	plan := types.StakePlan{
		OpportunityID: opp.ID,
		EventID:       opp.EventID,
		TotalStake:    total,
		Legs:          make([]types.StakeLeg, len(opp.Legs)),
	}
	for i, l := range opp.Legs {
		stake := decimal.New(units[i], -decimals)
		plan.Legs[i] = types.StakeLeg{
			OutcomeID:      l.OutcomeID,
			BookmakerID:    l.BookmakerID,
			Price:          l.Price,
			EffectivePrice: l.EffectivePrice,
			Stake:          stake,
			ExpectedReturn: stake.Mul(decimal.NewFromFloat(l.EffectivePrice)),
		}
	}
	return plan, nil
}
