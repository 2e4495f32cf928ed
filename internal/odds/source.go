package odds

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"arbscan/internal/config"
	"arbscan/pkg/types"
)

// ErrNoOdds is returned when every configured source failed in a cycle.
var ErrNoOdds = errors.New("no odds source succeeded")

// Source supplies events with current quotes.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]types.Event, error)
}

// Snapshot is the merged view of all sources for one cycle.
type Snapshot struct {
	Events       []types.Event
	SourceCounts map[string]int // events returned per source
	Failed       []string       // sources that errored this cycle
	Bookmakers   int            // distinct bookmakers across all events
	FetchedAt    time.Time
}

// Aggregator fetches every source in parallel and merges their events by id.
type Aggregator struct {
	sources []Source
	include []string
	exclude []string
	logger  *slog.Logger
	now     func() time.Time
}

// NewAggregator creates an aggregator. Include/exclude keywords from cfg are
// matched case-insensitively against event name, league and sport.
func NewAggregator(sources []Source, cfg config.ScannerConfig, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		sources: sources,
		include: normalizeKeywords(cfg.IncludeKeywords),
		exclude: normalizeKeywords(cfg.ExcludeKeywords),
		logger:  logger.With("component", "aggregator"),
		now:     time.Now,
	}
}

// Sources returns the configured sources.
func (a *Aggregator) Sources() []Source { return a.sources }

// Fetch runs one round across all sources. A failing source is logged and
// skipped. Fetch returns ErrNoOdds only when every source failed.
func (a *Aggregator) Fetch(ctx context.Context) (Snapshot, error) {
	results := make([][]types.Event, len(a.sources))
	errs := make([]error, len(a.sources))

	g, gctx := errgroup.WithContext(ctx)
	for i, src := range a.sources {
		g.Go(func() error {
			evs, err := src.Fetch(gctx)
			if err != nil {
				errs[i] = err
				return nil
			}
			results[i] = evs
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		SourceCounts: make(map[string]int, len(a.sources)),
		FetchedAt:    a.now(),
	}
	merged := NewMatrix()
	for i, src := range a.sources {
		if errs[i] != nil {
			a.logger.Error("source fetch failed", "source", src.Name(), "error", errs[i])
			snap.Failed = append(snap.Failed, src.Name())
			continue
		}
		for _, ev := range results[i] {
			if !a.keep(ev) {
				continue
			}
			merged.Merge(ev)
			snap.SourceCounts[src.Name()]++
		}
	}

	if len(a.sources) > 0 && len(snap.Failed) == len(a.sources) {
		return snap, fmt.Errorf("%w: %s", ErrNoOdds, strings.Join(snap.Failed, ", "))
	}

	snap.Events = merged.Events()
	bookmakers := make(map[string]struct{})
	for _, ev := range snap.Events {
		for _, b := range ev.Bookmakers() {
			bookmakers[b] = struct{}{}
		}
	}
	snap.Bookmakers = len(bookmakers)

	a.logger.Info("aggregation complete",
		"events", len(snap.Events),
		"bookmakers", snap.Bookmakers,
		"failed_sources", len(snap.Failed),
	)
	return snap, nil
}

// keep applies the include/exclude keyword filters.
func (a *Aggregator) keep(ev types.Event) bool {
	haystack := strings.ToLower(strings.Join([]string{ev.Name(), ev.League, ev.Sport}, " "))

	if len(a.include) > 0 {
		matched := false
		for _, kw := range a.include {
			if strings.Contains(haystack, kw) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	for _, kw := range a.exclude {
		if strings.Contains(haystack, kw) {
			return false
		}
	}
	return true
}

func normalizeKeywords(in []string) []string {
	out := make([]string, 0, len(in))
	for _, kw := range in {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			out = append(out, kw)
		}
	}
	return out
}
