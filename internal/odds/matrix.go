// Package odds collects bookmaker prices into events the detector can scan.
//
// Quotes arrive from two kinds of Source:
//   - polling sources (TheOddsAPI) that return a full snapshot per Fetch
//   - push sources (StreamFeed) that update a Matrix as messages arrive
//
// The Aggregator fans out to every source each cycle and merges the results
// by event id, keeping the newest quote per (bookmaker, outcome).
package odds

import (
	"sort"
	"sync"
	"time"

	"arbscan/pkg/types"
)

// Matrix maintains the latest quote per (event, bookmaker, outcome).
// Concurrency-safe.
type Matrix struct {
	mu      sync.RWMutex
	events  map[string]*types.Event
	updated time.Time // last time any quote arrived
	now     func() time.Time
}

func NewMatrix() *Matrix {
	return &Matrix{
		events: make(map[string]*types.Event),
		now:    time.Now,
	}
}

// SetEvent registers or refreshes an event's metadata. Existing quotes are kept.
func (m *Matrix) SetEvent(ev types.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.events[ev.ID]
	if !ok {
		cp := ev
		cp.Quotes = nil
		cp.Outcomes = append([]string(nil), ev.Outcomes...)
		cp.Competitors = append([]string(nil), ev.Competitors...)
		m.events[ev.ID] = &cp
		return
	}
	cur.Sport, cur.League, cur.StartTime = ev.Sport, ev.League, ev.StartTime
	cur.Competitors = append([]string(nil), ev.Competitors...)
	cur.Outcomes = mergeOutcomes(cur.Outcomes, ev.Outcomes)
}

// Merge registers ev (uniting its outcomes with any already known) and
// applies all of its quotes.
func (m *Matrix) Merge(ev types.Event) {
	m.SetEvent(ev)

	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.events[ev.ID]
	for _, q := range ev.Quotes {
		cur.Upsert(q)
	}
	if len(ev.Quotes) > 0 {
		m.updated = m.now()
	}
}

// Apply stores a single quote. Returns false when the event is unknown or
// the outcome is not one of the event's outcomes.
func (m *Matrix) Apply(eventID string, q types.OddsQuote) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev, ok := m.events[eventID]
	if !ok || !ev.HasOutcome(q.OutcomeID) {
		return false
	}
	ev.Upsert(q)
	m.updated = m.now()
	return true
}

// ClearQuotes drops every quote a bookmaker holds on an event, e.g. when the
// market is suspended.
func (m *Matrix) ClearQuotes(eventID, bookmakerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev, ok := m.events[eventID]
	if !ok {
		return
	}
	kept := ev.Quotes[:0]
	for _, q := range ev.Quotes {
		if q.BookmakerID != bookmakerID {
			kept = append(kept, q)
		}
	}
	ev.Quotes = kept
}

// Remove forgets an event entirely.
func (m *Matrix) Remove(eventID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.events, eventID)
}

// Events returns deep copies of all events, sorted by id.
func (m *Matrix) Events() []types.Event {
	m.mu.RLock()
	out := make([]types.Event, 0, len(m.events))
	for _, ev := range m.events {
		cp := *ev
		cp.Outcomes = append([]string(nil), ev.Outcomes...)
		cp.Competitors = append([]string(nil), ev.Competitors...)
		cp.Quotes = append([]types.OddsQuote(nil), ev.Quotes...)
		out = append(out, cp)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of tracked events.
func (m *Matrix) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events)
}

// IsStale returns true if no quote has arrived within maxAge.
func (m *Matrix) IsStale(maxAge time.Duration) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.updated.IsZero() {
		return true
	}
	return m.now().Sub(m.updated) > maxAge
}

// LastUpdated returns the timestamp of the last quote update.
func (m *Matrix) LastUpdated() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.updated
}

// canonicalOrder ranks the normalized selections so merged outcome lists
// read home, draw, away regardless of which source registered them first.
var canonicalOrder = map[string]int{OutcomeHome: 0, OutcomeDraw: 1, OutcomeAway: 2}

func mergeOutcomes(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, o := range list {
			if !seen[o] {
				seen[o] = true
				out = append(out, o)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		ri, iok := canonicalOrder[out[i]]
		rj, jok := canonicalOrder[out[j]]
		switch {
		case iok && jok:
			return ri < rj
		case iok != jok:
			return iok
		default:
			return false
		}
	})
	return out
}
