package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"arbscan/internal/execution"
	"arbscan/internal/risk"
	"arbscan/pkg/types"
)

// printScan writes the records journaled by a one-shot scan.
func printScan(w io.Writer, records []types.OpportunityRecord, stats types.ScanStats) {
	fmt.Fprintf(w, "Scanned %d events in %s\n", stats.EventsScanned, stats.LastScanDuration.Round(time.Millisecond))
	if len(stats.FailedSources) > 0 {
		fmt.Fprintf(w, "Failed sources: %s\n", strings.Join(stats.FailedSources, ", "))
	}
	if len(records) == 0 {
		fmt.Fprintln(w, "No opportunities found")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "EVENT\tEDGE\tPROFIT\tBOOKMAKERS\tSTATUS")
	for _, r := range records {
		books := make([]string, 0, len(r.Opportunity.Legs))
		for _, l := range r.Opportunity.Legs {
			books = append(books, l.BookmakerID)
		}
		profit := "-"
		if r.Plan != nil {
			profit = r.Plan.GuaranteedProfit().StringFixed(2)
		}
		status := string(r.Status)
		if r.Reason != "" {
			status += " (" + r.Reason + ")"
		}
		fmt.Fprintf(tw, "%s\t%.2f%%\t%s\t%s\t%s\n",
			r.Opportunity.EventName, r.Opportunity.EdgePercent, profit, strings.Join(books, " vs "), status)
	}
	tw.Flush()
}

// printStatus writes the persisted bankroll state and open positions.
func printStatus(w io.Writer, st risk.State, effective types.Mode, positions []execution.Position) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Bankroll")
	fmt.Fprintf(tw, "  current\t%s\n", st.Bankroll.StringFixed(2))
	fmt.Fprintf(tw, "  committed\t%s\n", st.Committed.StringFixed(2))
	fmt.Fprintf(tw, "  daily pnl\t%s\n", st.DailyPnL.StringFixed(2))
	fmt.Fprintf(tw, "  total pnl\t%s\n", st.TotalPnL.StringFixed(2))
	fmt.Fprintf(tw, "Mode\t%s (effective %s)\n", st.Mode, effective)
	if st.KillSwitchActive {
		fmt.Fprintf(tw, "Kill switch\tACTIVE: %s\n", st.KillSwitchReason)
	}
	fmt.Fprintf(tw, "Today\t%s\n", st.SessionDate)
	fmt.Fprintf(tw, "  trades\t%d (%d won)\n", st.DailyTrades, st.DailyWins)
	fmt.Fprintf(tw, "  staked\t%s\n", st.DailyStaked.StringFixed(2))
	fmt.Fprintf(tw, "Open positions\t%d\n", len(positions))
	for _, p := range positions {
		mark := ""
		if p.Unhedged {
			mark = " UNHEDGED"
		}
		fmt.Fprintf(tw, "  %s\t%s staked%s\n", p.Opportunity.EventName, p.Staked().StringFixed(2), mark)
	}
	tw.Flush()
}
