// Package store provides crash-safe persistence using JSON files.
//
// Three files live in the data directory:
//   - risk_state.json: the risk engine snapshot (bankroll, daily counters,
//     kill switch, mode)
//   - positions.json: placed plans awaiting settlement
//   - journal.jsonl: one line per opportunity outcome, append-only
//
// Snapshot files use atomic replacement (write to .tmp, then rename) so a
// crash mid-save never leaves a partial file. The engine saves after every
// state change and loads on startup.
package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"arbscan/internal/execution"
	"arbscan/internal/risk"
	"arbscan/pkg/types"
)

const (
	riskStateFile = "risk_state.json"
	positionsFile = "positions.json"
	journalFile   = "journal.jsonl"

	maxJournalLine = 1 << 20
)

// Store persists engine state to JSON files in a designated directory.
// All operations are mutex-protected to prevent concurrent file corruption.
type Store struct {
	dir string
	mu  sync.Mutex // serializes all file operations
}

// Open creates a store backed by the given directory.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Close is a no-op for file-based storage.
func (s *Store) Close() error {
	return nil
}

// Dir returns the backing directory.
func (s *Store) Dir() string { return s.dir }

// SaveRiskState atomically persists the risk snapshot.
func (s *Store) SaveRiskState(st risk.State) error {
	return s.writeJSON(riskStateFile, st)
}

// LoadRiskState restores the risk snapshot.
// Returns nil, nil if nothing was saved yet (first run).
func (s *Store) LoadRiskState() (*risk.State, error) {
	var st risk.State
	ok, err := s.readJSON(riskStateFile, &st)
	if err != nil || !ok {
		return nil, err
	}
	return &st, nil
}

// SavePositions atomically replaces the set of open positions.
func (s *Store) SavePositions(ps []execution.Position) error {
	if ps == nil {
		ps = []execution.Position{}
	}
	return s.writeJSON(positionsFile, ps)
}

// LoadPositions restores open positions. Returns nil, nil on first run.
func (s *Store) LoadPositions() ([]execution.Position, error) {
	var ps []execution.Position
	if _, err := s.readJSON(positionsFile, &ps); err != nil {
		return nil, err
	}
	return ps, nil
}

// AppendOpportunity adds one record to the journal.
func (s *Store) AppendOpportunity(rec types.OpportunityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal journal record: %w", err)
	}
	data = append(data, '\n')

	f, err := os.OpenFile(filepath.Join(s.dir, journalFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("append journal: %w", err)
	}
	return f.Close()
}

// RecentOpportunities returns up to limit of the newest journal records,
// oldest first. A corrupt line (e.g. torn by a crash) is skipped.
func (s *Store) RecentOpportunities(limit int) ([]types.OpportunityRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(filepath.Join(s.dir, journalFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	var out []types.OpportunityRecord
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxJournalLine)
	for sc.Scan() {
		var rec types.OpportunityRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) > limit {
			out = out[1:]
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	return out, nil
}

// writeJSON writes to a .tmp file first, then renames over the target so the
// file is never left in a partial state.
func (s *Store) writeJSON(name string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}

	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return os.Rename(tmp, path)
}

func (s *Store) readJSON(name string, v any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("unmarshal %s: %w", name, err)
	}
	return true, nil
}
