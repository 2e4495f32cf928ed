package arbitrage

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"arbscan/pkg/types"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func opportunity(prices ...float64) types.Opportunity {
	outcomes := []string{"home", "away", "draw"}
	opp := types.Opportunity{ID: "opp1", EventID: "ev1"}
	for i, p := range prices {
		opp.Legs = append(opp.Legs, types.Leg{
			OutcomeID:      outcomes[i],
			BookmakerID:    "book" + outcomes[i],
			Price:          p,
			EffectivePrice: p,
		})
	}
	return opp
}

func TestAllocateWorkedExample(t *testing.T) {
	t.Parallel()

	plan, err := Allocate(opportunity(2.10, 2.05), dec("100"), 2)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	// Raw split is 49.3976 / 50.6024; the spare cent goes to the larger remainder.
	if !plan.Legs[0].Stake.Equal(dec("49.40")) {
		t.Errorf("home stake = %s, want 49.40", plan.Legs[0].Stake)
	}
	if !plan.Legs[1].Stake.Equal(dec("50.60")) {
		t.Errorf("away stake = %s, want 50.60", plan.Legs[1].Stake)
	}
	if !plan.Staked().Equal(dec("100")) {
		t.Errorf("staked = %s, want 100", plan.Staked())
	}
	if !plan.Legs[0].ExpectedReturn.Equal(dec("103.74")) {
		t.Errorf("home return = %s, want 103.74", plan.Legs[0].ExpectedReturn)
	}
	if plan.OpportunityID != "opp1" || plan.EventID != "ev1" {
		t.Errorf("plan ids = %q/%q", plan.OpportunityID, plan.EventID)
	}
}

func TestAllocateInvariants(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		prices   []float64
		total    string
		decimals int32
	}{
		{"two way", []float64{2.10, 2.05}, "100", 2},
		{"three way", []float64{3.4, 3.9, 3.2}, "57.33", 2},
		{"odd total", []float64{1.95, 2.15}, "10.01", 2},
		{"whole units", []float64{2.6, 4.1, 3.7}, "250", 0},
		{"fractional total is floored", []float64{2.2, 2.2}, "33.339", 2},
	}

	for _, tt := range tests {
		total := dec(tt.total)
		plan, err := Allocate(opportunity(tt.prices...), total, tt.decimals)
		if err != nil {
			t.Errorf("%s: Allocate: %v", tt.name, err)
			continue
		}
		if plan.Staked().GreaterThan(total) {
			t.Errorf("%s: staked %s exceeds total %s", tt.name, plan.Staked(), total)
		}

		unit := decimal.New(1, -tt.decimals)
		if total.Sub(plan.Staked()).GreaterThanOrEqual(unit) {
			t.Errorf("%s: staked %s leaves a whole unit of %s unused", tt.name, plan.Staked(), total)
		}

		// Returns may differ by at most one unit at the highest price.
		maxPrice := decimal.Zero
		for _, l := range plan.Legs {
			if p := decimal.NewFromFloat(l.EffectivePrice); p.GreaterThan(maxPrice) {
				maxPrice = p
			}
			if l.Stake.Exponent() < -tt.decimals {
				t.Errorf("%s: stake %s finer than unit %s", tt.name, l.Stake, unit)
			}
		}
		tol := unit.Mul(maxPrice)
		for i := range plan.Legs {
			for j := i + 1; j < len(plan.Legs); j++ {
				diff := plan.Legs[i].ExpectedReturn.Sub(plan.Legs[j].ExpectedReturn).Abs()
				if diff.GreaterThan(tol) {
					t.Errorf("%s: returns %s and %s differ by more than %s", tt.name,
						plan.Legs[i].ExpectedReturn, plan.Legs[j].ExpectedReturn, tol)
				}
			}
		}
		if !plan.GuaranteedProfit().IsPositive() && total.GreaterThan(dec("50")) {
			t.Errorf("%s: guaranteed profit %s should be positive", tt.name, plan.GuaranteedProfit())
		}
	}
}

func TestAllocateRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		opp     types.Opportunity
		total   string
		wantErr error
	}{
		{"no arbitrage", opportunity(1.9, 2.0), "100", ErrInvalidOpportunity},
		{"exact boundary", opportunity(2.0, 2.0), "100", ErrInvalidOpportunity},
		{"break-even rounding under 1", opportunity(1.3, 13, 6.5), "100", ErrInvalidOpportunity},
		{"single leg", opportunity(3.0), "100", ErrInvalidOpportunity},
		{"zero total", opportunity(2.1, 2.05), "0", ErrInvalidStake},
		{"negative total", opportunity(2.1, 2.05), "-5", ErrInvalidStake},
		{"fewer units than legs", opportunity(2.1, 2.05), "0.01", ErrInvalidStake},
	}

	for _, tt := range tests {
		_, err := Allocate(tt.opp, dec(tt.total), 2)
		if !errors.Is(err, tt.wantErr) {
			t.Errorf("%s: err = %v, want %v", tt.name, err, tt.wantErr)
		}
	}
}
