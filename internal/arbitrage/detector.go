// Package arbitrage finds guaranteed-profit price combinations across
// bookmakers and sizes stakes so every outcome pays the same.
//
// Detect and Allocate are pure: same inputs, same outputs, no I/O. Detector
// wraps Detect with the per-cycle plumbing (parallel fan-out across events,
// freshness filtering, logging of discarded quotes).
package arbitrage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"arbscan/pkg/types"
)

// ErrMalformedQuote marks a quote that was discarded before selection.
var ErrMalformedQuote = errors.New("malformed quote")

// opportunityNamespace seeds deterministic opportunity ids.
var opportunityNamespace = uuid.MustParse("5b0d3a4e-8f61-4c1e-9a57-2f4c6d8e1b90")

// DiscardedQuote is a quote rejected during detection, kept for logging.
type DiscardedQuote struct {
	EventID string
	Quote   types.OddsQuote
	Err     error
}

// Result is the outcome of running Detect over one event.
type Result struct {
	Opportunities []types.Opportunity
	Discarded     []DiscardedQuote
}

// Options tune Detect beyond the core rule. The zero value disables both
// filters.
type Options struct {
	MaxQuoteAge   time.Duration // ignore quotes older than this relative to detectedAt
	MinBookmakers int           // skip events quoted by fewer distinct bookmakers
}

// validateQuote returns nil if q can take part in selection for ev.
func validateQuote(ev types.Event, q types.OddsQuote) error {
	switch {
	case q.BookmakerID == "":
		return fmt.Errorf("%w: empty bookmaker id", ErrMalformedQuote)
	case math.IsNaN(q.Price) || math.IsInf(q.Price, 0):
		return fmt.Errorf("%w: price %v is not finite", ErrMalformedQuote, q.Price)
	case q.Price <= 1.0:
		return fmt.Errorf("%w: price %v must exceed 1.0", ErrMalformedQuote, q.Price)
	case q.Timestamp.IsZero() || q.Timestamp.Unix() < 0:
		return fmt.Errorf("%w: invalid timestamp %v", ErrMalformedQuote, q.Timestamp)
	case !ev.HasOutcome(q.OutcomeID):
		return fmt.Errorf("%w: unknown outcome %q", ErrMalformedQuote, q.OutcomeID)
	}
	return nil
}

// better reports whether candidate a beats the current best b for an outcome:
// higher effective price, then lower commission, then lexically lower bookmaker.
func better(a, b types.Leg) bool {
	if a.EffectivePrice != b.EffectivePrice {
		return a.EffectivePrice > b.EffectivePrice
	}
	if a.Commission != b.Commission {
		return a.Commission < b.Commission
	}
	return a.BookmakerID < b.BookmakerID
}

// Detect selects the best commission-adjusted price for each outcome of ev
// and emits an opportunity when their implied probabilities sum to strictly
// less than 1. At most one opportunity is returned per event.
func Detect(ev types.Event, commissions types.CommissionTable, detectedAt time.Time, opts Options) Result {
	var res Result
	if len(ev.Outcomes) < 2 {
		return res
	}

	best := make(map[string]types.Leg, len(ev.Outcomes))
	bookmakers := make(map[string]struct{})
	for _, q := range ev.Quotes {
		if err := validateQuote(ev, q); err != nil {
			res.Discarded = append(res.Discarded, DiscardedQuote{EventID: ev.ID, Quote: q, Err: err})
			continue
		}
		if opts.MaxQuoteAge > 0 && detectedAt.Sub(q.Timestamp) > opts.MaxQuoteAge {
			continue
		}
		bookmakers[q.BookmakerID] = struct{}{}

		rate := commissions.Rate(q.BookmakerID)
		cand := types.Leg{
			OutcomeID:      q.OutcomeID,
			BookmakerID:    q.BookmakerID,
			Price:          q.Price,
			EffectivePrice: q.Price * (1 - rate),
			Commission:     rate,
		}
		// Commission can push the effective price to or below 1.
		if cand.EffectivePrice <= 1.0 {
			continue
		}
		if cur, ok := best[q.OutcomeID]; !ok || better(cand, cur) {
			best[q.OutcomeID] = cand
		}
	}

	if opts.MinBookmakers > 0 && len(bookmakers) < opts.MinBookmakers {
		return res
	}

	legs := make([]types.Leg, 0, len(ev.Outcomes))
	var implied float64
	for _, outcome := range ev.Outcomes {
		leg, ok := best[outcome]
		if !ok {
			return res
		}
		legs = append(legs, leg)
		implied += 1 / leg.EffectivePrice
	}
	// The float sum can land a hair under 1 on an exact break-even book.
	if implied >= 1 || !impliedBelowOne(legs) {
		return res
	}

	res.Opportunities = append(res.Opportunities, types.Opportunity{
		ID:                    opportunityID(ev.ID, legs),
		EventID:               ev.ID,
		EventName:             ev.Name(),
		Sport:                 ev.Sport,
		StartTime:             ev.StartTime,
		Legs:                  legs,
		ImpliedProbabilitySum: implied,
		EdgePercent:           (1 - implied) * 100,
		DetectedAt:            detectedAt,
	})
	return res
}

// opportunityID is stable for a given event and leg selection, so repeated
// scans of an unchanged matrix yield the same id.
func opportunityID(eventID string, legs []types.Leg) string {
	var b strings.Builder
	b.WriteString(eventID)
	for _, l := range legs {
		fmt.Fprintf(&b, "|%s@%s:%g", l.OutcomeID, l.BookmakerID, l.Price)
	}
	return uuid.NewSHA1(opportunityNamespace, []byte(b.String())).String()
}

// Detector runs Detect across many events per cycle.
type Detector struct {
	opts    Options
	workers int
	now     func() time.Time
	logger  *slog.Logger
}

// NewDetector creates a detector. workers bounds the number of events
// processed concurrently (<= 0 means unbounded).
func NewDetector(opts Options, workers int, logger *slog.Logger) *Detector {
	return &Detector{
		opts:    opts,
		workers: workers,
		now:     time.Now,
		logger:  logger.With("component", "detector"),
	}
}

// DetectAll scans events in parallel and returns every opportunity found,
// sorted by edge descending (ties by event id). Discarded quotes are logged
// and otherwise ignored.
func (d *Detector) DetectAll(ctx context.Context, events []types.Event, commissions types.CommissionTable) ([]types.Opportunity, error) {
	detectedAt := d.now()
	results := make([]Result, len(events))

	g, ctx := errgroup.WithContext(ctx)
	if d.workers > 0 {
		g.SetLimit(d.workers)
	}
	for i := range events {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = Detect(events[i], commissions, detectedAt, d.opts)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}

	var opps []types.Opportunity
	discarded := 0
	for _, r := range results {
		opps = append(opps, r.Opportunities...)
		for _, dq := range r.Discarded {
			discarded++
			d.logger.Debug("discarded quote",
				"event", dq.EventID,
				"bookmaker", dq.Quote.BookmakerID,
				"outcome", dq.Quote.OutcomeID,
				"price", dq.Quote.Price,
				"error", dq.Err,
			)
		}
	}
	if discarded > 0 {
		d.logger.Warn("malformed quotes discarded", "count", discarded)
	}

	sort.SliceStable(opps, func(i, j int) bool {
		if opps[i].EdgePercent != opps[j].EdgePercent {
			return opps[i].EdgePercent > opps[j].EdgePercent
		}
		return opps[i].EventID < opps[j].EventID
	})
	return opps, nil
}
