package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"arbscan/internal/execution"
	"arbscan/internal/risk"
	"arbscan/pkg/types"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func samplePlan() *types.StakePlan {
	return &types.StakePlan{
		OpportunityID: "opp1",
		TotalStake:    dec("100"),
		Legs: []types.StakeLeg{
			{OutcomeID: "home", BookmakerID: "bookA", Price: 2.10, EffectivePrice: 2.10, Stake: dec("49.40"), ExpectedReturn: dec("103.74")},
			{OutcomeID: "away", BookmakerID: "bookB", Price: 2.05, EffectivePrice: 2.05, Stake: dec("50.60"), ExpectedReturn: dec("103.73")},
		},
	}
}

func TestPrintScan(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		records []types.OpportunityRecord
		stats   types.ScanStats
		want    []string
	}{
		{
			name:  "nothing found",
			stats: types.ScanStats{EventsScanned: 12, FailedSources: []string{"the_odds_api"}},
			want:  []string{"Scanned 12 events", "Failed sources: the_odds_api", "No opportunities found"},
		},
		{
			name: "one reported opportunity",
			records: []types.OpportunityRecord{{
				Opportunity: types.Opportunity{
					EventName:   "Arsenal vs Chelsea",
					EdgePercent: 3.6005,
					Legs:        []types.Leg{{BookmakerID: "bookA"}, {BookmakerID: "bookB"}},
				},
				Plan:   samplePlan(),
				Status: types.StatusDetected,
			}},
			stats: types.ScanStats{EventsScanned: 1},
			want:  []string{"EVENT", "Arsenal vs Chelsea", "3.60%", "3.73", "bookA vs bookB", "detected"},
		},
		{
			name: "rejected opportunity shows the reason",
			records: []types.OpportunityRecord{{
				Opportunity: types.Opportunity{EventName: "A vs B", EdgePercent: 0.4},
				Status:      types.StatusSkipped,
				Reason:      "edge_too_low",
			}},
			want: []string{"A vs B", "skipped (edge_too_low)"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var buf bytes.Buffer
			printScan(&buf, tt.records, tt.stats)
			for _, w := range tt.want {
				if !strings.Contains(buf.String(), w) {
					t.Errorf("output missing %q:\n%s", w, buf.String())
				}
			}
		})
	}
}

func TestPrintStatus(t *testing.T) {
	t.Parallel()

	st := risk.State{
		Bankroll:         dec("1003.74"),
		Committed:        dec("100"),
		DailyPnL:         dec("3.74"),
		TotalPnL:         dec("12.5"),
		DailyTrades:      2,
		DailyWins:        2,
		Mode:             types.ModeAuto,
		KillSwitchActive: true,
		KillSwitchReason: "operator",
		SessionDate:      "2026-10-19",
	}
	positions := []execution.Position{{
		Opportunity: types.Opportunity{EventName: "Arsenal vs Chelsea"},
		Plan:        *samplePlan(),
		Receipts:    []types.BetReceipt{{Stake: dec("49.40"), Status: types.BetFilled}},
		Unhedged:    true,
		OpenedAt:    time.Now(),
	}}

	var buf bytes.Buffer
	printStatus(&buf, st, types.ModeDry, positions)
	out := buf.String()

	for _, w := range []string{
		"1003.74",
		"auto (effective dry)",
		"ACTIVE: operator",
		"2026-10-19",
		"2 (2 won)",
		"Open positions",
		"Arsenal vs Chelsea",
		"UNHEDGED",
	} {
		if !strings.Contains(out, w) {
			t.Errorf("output missing %q:\n%s", w, out)
		}
	}
}
