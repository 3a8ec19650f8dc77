package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/psantana5/exitshim/internal/report"
)

// MemoryStore is an in-memory implementation of Store
type MemoryStore struct {
	mu      sync.RWMutex
	results map[string][]*report.Result
	order   []string
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{results: make(map[string][]*report.Result)}
}

// Save records one iteration
func (s *MemoryStore) Save(r *report.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.results[r.RunID]
	if !ok {
		s.order = append(s.order, r.RunID)
	}
	for _, e := range existing {
		if e.Iteration == r.Iteration {
			return fmt.Errorf("run %s iteration %d already saved", r.RunID, r.Iteration)
		}
	}
	s.results[r.RunID] = append(existing, r)
	return nil
}

// List returns results of a run, newest first
func (s *MemoryStore) List(runID string, limit int) ([]*report.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := append([]*report.Result(nil), s.results[runID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Iteration > out[j].Iteration })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CountByStatus groups a run's results by outcome and status
func (s *MemoryStore) CountByStatus(runID string) ([]report.StatusCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := map[report.StatusCount]int{}
	for _, r := range s.results[runID] {
		if r.Outcome == report.OutcomeCrash {
			continue
		}
		counts[report.StatusCount{Outcome: r.Outcome, Status: r.Status}]++
	}

	out := make([]report.StatusCount, 0, len(counts))
	for k, n := range counts {
		k.Count = n
		out = append(out, k)
	}
	sortStatusCounts(out)
	return out, nil
}

// Runs lists run IDs in the order they were first saved
func (s *MemoryStore) Runs() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...), nil
}

// DeleteBefore removes iterations that started before cutoff
func (s *MemoryStore) DeleteBefore(cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	order := s.order[:0]
	for _, runID := range s.order {
		kept := s.results[runID][:0]
		for _, r := range s.results[runID] {
			if r.StartTime.Before(cutoff) {
				deleted++
				continue
			}
			kept = append(kept, r)
		}
		if len(kept) == 0 {
			delete(s.results, runID)
			continue
		}
		s.results[runID] = kept
		order = append(order, runID)
	}
	s.order = order
	return deleted, nil
}

// Close is a no-op
func (s *MemoryStore) Close() error {
	return nil
}

func sortStatusCounts(counts []report.StatusCount) {
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Outcome != counts[j].Outcome {
			return counts[i].Outcome < counts[j].Outcome
		}
		return counts[i].Status < counts[j].Status
	})
}
