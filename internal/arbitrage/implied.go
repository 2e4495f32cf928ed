package arbitrage

import (
	"github.com/shopspring/decimal"

	"arbscan/pkg/types"
)

var one = decimal.NewFromInt(1)

// exactEffective is price × (1 − commission) in decimal, starting from the
// shortest decimal form of each float so quoted prices like 1.04 stay exact.
func exactEffective(l types.Leg) decimal.Decimal {
	if l.Price <= 0 {
		return decimal.NewFromFloat(l.EffectivePrice)
	}
	return decimal.NewFromFloat(l.Price).Mul(one.Sub(decimal.NewFromFloat(l.Commission)))
}

// impliedBelowOne reports whether Σ 1/price < 1 with no rounding. The sum is
// compared with denominators cleared: Σ_i Π_{j≠i} p_j < Π_j p_j.
func impliedBelowOne(legs []types.Leg) bool {
	prices := make([]decimal.Decimal, len(legs))
	product := one
	for i, l := range legs {
		prices[i] = exactEffective(l)
		if !prices[i].GreaterThan(one) {
			return false
		}
		product = product.Mul(prices[i])
	}

	sum := decimal.Zero
	for i := range prices {
		term := one
		for j, p := range prices {
			if j != i {
				term = term.Mul(p)
			}
		}
		sum = sum.Add(term)
	}
	return sum.LessThan(product)
}
