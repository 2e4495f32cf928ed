package execution

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"arbscan/pkg/types"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func openPosition() Position {
	plan := types.StakePlan{
		OpportunityID: "opp",
		TotalStake:    dec("100"),
		Legs: []types.StakeLeg{
			{OutcomeID: "home", BookmakerID: "bookA", Price: 2.10, EffectivePrice: 2.10, Stake: dec("49.40")},
			{OutcomeID: "away", BookmakerID: "exch", Price: 2.00, EffectivePrice: 1.90, Stake: dec("50.60")},
		},
	}
	return Position{
		Plan: plan,
		Receipts: []types.BetReceipt{
			{OutcomeID: "home", BookmakerID: "bookA", Price: 2.10, Stake: dec("49.40")},
			{OutcomeID: "away", BookmakerID: "exch", Price: 2.00, Stake: dec("50.60")},
		},
		OpenedAt: time.Now(),
	}
}

func TestPositionPnL(t *testing.T) {
	t.Parallel()

	pos := openPosition()
	override := dec("-1.25")

	tests := []struct {
		name string
		s    Settlement
		want string
	}{
		// 49.40 × 2.10 − 100
		{"home wins", Settlement{WinningOutcome: "home"}, "3.74"},
		// 50.60 × 2.00 × 0.95 − 100
		{"away wins net of commission", Settlement{WinningOutcome: "away"}, "-3.86"},
		{"void", Settlement{Void: true}, "0"},
		{"operator pnl", Settlement{WinningOutcome: "home", RealizedPnL: &override}, "-1.25"},
	}

	for _, tt := range tests {
		if got := pos.PnL(tt.s); !got.Equal(dec(tt.want)) {
			t.Errorf("%s: pnl = %s, want %s", tt.name, got, tt.want)
		}
	}
}

func TestLedgerSettle(t *testing.T) {
	t.Parallel()
	l := NewLedger()
	l.Open(openPosition())

	if got := l.Positions(); len(got) != 1 {
		t.Fatalf("Positions() = %d, want 1", len(got))
	}
	if _, _, err := l.Settle("opp", Settlement{WinningOutcome: "draw"}); err == nil {
		t.Error("unknown outcome must be rejected")
	}

	pos, pnl, err := l.Settle("opp", Settlement{WinningOutcome: "home"})
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if pos.Plan.OpportunityID != "opp" || !pnl.Equal(dec("3.74")) {
		t.Errorf("settled %s with pnl %s", pos.Plan.OpportunityID, pnl)
	}
	if _, _, err := l.Settle("opp", Settlement{Void: true}); !errors.Is(err, ErrUnknownPosition) {
		t.Errorf("double settle err = %v, want ErrUnknownPosition", err)
	}
}

func TestLedgerRestore(t *testing.T) {
	t.Parallel()
	l := NewLedger()
	l.Restore([]Position{openPosition()})

	if got := l.Positions(); len(got) != 1 || got[0].Plan.OpportunityID != "opp" {
		t.Errorf("Positions() after restore = %+v", got)
	}
}
