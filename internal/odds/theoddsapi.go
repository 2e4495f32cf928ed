package odds

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"

	"arbscan/internal/config"
	"arbscan/pkg/types"
)

// apiEvent is the JSON shape returned by GET /sports/{sport}/odds.
type apiEvent struct {
	ID           string         `json:"id"`
	SportKey     string         `json:"sport_key"`
	SportTitle   string         `json:"sport_title"`
	CommenceTime string         `json:"commence_time"`
	HomeTeam     string         `json:"home_team"`
	AwayTeam     string         `json:"away_team"`
	Bookmakers   []apiBookmaker `json:"bookmakers"`
}

type apiBookmaker struct {
	Key        string      `json:"key"`
	Title      string      `json:"title"`
	LastUpdate string      `json:"last_update"`
	Markets    []apiMarket `json:"markets"`
}

type apiMarket struct {
	Key        string       `json:"key"`
	LastUpdate string       `json:"last_update"`
	Outcomes   []apiOutcome `json:"outcomes"`
}

type apiOutcome struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

// TheOddsAPI polls the-odds-api.com for head-to-head decimal odds across
// the configured sports.
type TheOddsAPI struct {
	httpClient *resty.Client
	cfg        config.OddsAPIConfig
	logger     *slog.Logger
	remaining  atomic.Int64 // quota left, from x-requests-remaining; -1 until known
}

func NewTheOddsAPI(cfg config.OddsAPIConfig, logger *slog.Logger) *TheOddsAPI {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second).
		SetHeader("Accept", "application/json")

	s := &TheOddsAPI{
		httpClient: client,
		cfg:        cfg,
		logger:     logger.With("component", "the_odds_api"),
	}
	s.remaining.Store(-1)
	return s
}

func (s *TheOddsAPI) Name() string { return "the_odds_api" }

// Remaining returns the request quota reported by the last response, or -1.
func (s *TheOddsAPI) Remaining() int64 { return s.remaining.Load() }

// Fetch returns every event across the configured sports. A sport that
// fails is logged and skipped; Fetch errors only when every sport failed.
func (s *TheOddsAPI) Fetch(ctx context.Context) ([]types.Event, error) {
	var (
		events []types.Event
		errs   []error
	)
	for _, sport := range s.cfg.Sports {
		evs, err := s.fetchSport(ctx, sport)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.logger.Error("fetch odds failed", "sport", sport, "error", err)
			errs = append(errs, err)
			continue
		}
		events = append(events, evs...)
	}
	if len(errs) > 0 && len(errs) == len(s.cfg.Sports) {
		return nil, errors.Join(errs...)
	}
	return events, nil
}

func (s *TheOddsAPI) fetchSport(ctx context.Context, sport string) ([]types.Event, error) {
	params := map[string]string{
		"apiKey":     s.cfg.APIKey,
		"markets":    "h2h",
		"oddsFormat": "decimal",
		"dateFormat": "iso",
	}
	if len(s.cfg.Regions) > 0 {
		params["regions"] = strings.Join(s.cfg.Regions, ",")
	}
	if len(s.cfg.Bookmakers) > 0 {
		params["bookmakers"] = strings.Join(s.cfg.Bookmakers, ",")
	}

	var page []apiEvent
	resp, err := s.httpClient.R().
		SetContext(ctx).
		SetPathParam("sport", sport).
		SetQueryParams(params).
		SetResult(&page).
		Get("/sports/{sport}/odds")
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", sport, err)
	}

	if v := resp.Header().Get("x-requests-remaining"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			s.remaining.Store(int64(n))
		}
	}

	switch resp.StatusCode() {
	case http.StatusOK:
	case http.StatusNotFound:
		s.logger.Warn("sport not found", "sport", sport)
		return nil, nil
	default:
		return nil, fmt.Errorf("fetch %s: status %d: %s", sport, resp.StatusCode(), resp.String())
	}

	events := make([]types.Event, 0, len(page))
	for _, raw := range page {
		ev, err := s.convertEvent(raw)
		if err != nil {
			s.logger.Warn("skipping event", "event", raw.ID, "error", err)
			continue
		}
		events = append(events, ev)
	}

	s.logger.Info("odds fetched",
		"sport", sport,
		"events", len(events),
		"remaining_requests", s.Remaining(),
	)
	return events, nil
}

// convertEvent maps the API shape onto types.Event, normalizing selection
// names to home/draw/away. Selections that cannot be placed are dropped.
func (s *TheOddsAPI) convertEvent(raw apiEvent) (types.Event, error) {
	if raw.ID == "" {
		return types.Event{}, errors.New("missing id")
	}
	start, err := time.Parse(time.RFC3339, raw.CommenceTime)
	if err != nil {
		return types.Event{}, fmt.Errorf("commence_time: %w", err)
	}

	ev := types.Event{
		ID:          raw.ID,
		Sport:       raw.SportKey,
		League:      raw.SportTitle,
		Competitors: []string{raw.HomeTeam, raw.AwayTeam},
		StartTime:   start,
	}

	seen := make(map[string]bool, 3)
	for _, bm := range raw.Bookmakers {
		for _, mkt := range bm.Markets {
			if mkt.Key != "h2h" {
				continue
			}
			ts := parseUpdate(mkt.LastUpdate, bm.LastUpdate)
			for _, o := range mkt.Outcomes {
				outcome, ok := NormalizeSelection(o.Name, raw.HomeTeam, raw.AwayTeam)
				if !ok {
					s.logger.Debug("unrecognized selection",
						"event", raw.ID, "bookmaker", bm.Key, "selection", o.Name)
					continue
				}
				seen[outcome] = true
				ev.Upsert(types.OddsQuote{
					BookmakerID: bm.Key,
					OutcomeID:   outcome,
					Price:       o.Price,
					Timestamp:   ts,
				})
			}
		}
	}

	if !seen[OutcomeHome] || !seen[OutcomeAway] {
		return types.Event{}, errors.New("h2h market missing home or away")
	}
	// A draw quoted by any bookmaker makes the market three-way for everyone.
	for _, o := range []string{OutcomeHome, OutcomeDraw, OutcomeAway} {
		if seen[o] {
			ev.Outcomes = append(ev.Outcomes, o)
		}
	}
	return ev, nil
}

// parseUpdate prefers the market timestamp and falls back to the
// bookmaker's. An unparseable value yields the zero time, which the
// detector discards as malformed.
func parseUpdate(values ...string) time.Time {
	for _, v := range values {
		if v == "" {
			continue
		}
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t
		}
	}
	return time.Time{}
}
