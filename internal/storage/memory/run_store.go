// Package memory provides in-process persistence for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/migration-progress/internal/store"
)

// RunStore implements store.RunRepository in memory.
type RunStore struct {
	mu    sync.RWMutex
	runs  map[string]store.RunRecord
	items map[string]map[int]store.ItemRecord
}

// NewRunStore constructs an empty RunStore.
func NewRunStore() *RunStore {
	return &RunStore{
		runs:  make(map[string]store.RunRecord),
		items: make(map[string]map[int]store.ItemRecord),
	}
}

// UpsertRunStart stores the run in running status. Repeated calls for the
// same ID keep the original start time.
func (s *RunStore) UpsertRunStart(_ context.Context, run store.RunRecord) error {
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.runs[run.ID]; ok {
		run.StartedAt = existing.StartedAt
	}
	run.Status = store.StatusRunning
	run.FinishedAt = nil
	s.runs[run.ID] = run
	return nil
}

// CompleteRun stamps the terminal status of a run.
func (s *RunStore) CompleteRun(
	_ context.Context,
	runID string,
	finishedAt time.Time,
	status store.Status,
	completedItems int,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.ErrNotFound
	}
	run.Status = status
	run.FinishedAt = pointerTime(finishedAt)
	run.CompletedItems = completedItems
	s.runs[runID] = run
	return nil
}

// UpsertItemStart stores the item in running status.
func (s *RunStore) UpsertItemStart(_ context.Context, item store.ItemRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[item.RunID]; !ok {
		return store.ErrNotFound
	}
	byOrdinal := s.items[item.RunID]
	if byOrdinal == nil {
		byOrdinal = make(map[int]store.ItemRecord)
		s.items[item.RunID] = byOrdinal
	}
	item.Status = store.StatusRunning
	item.FinishedAt = nil
	byOrdinal[item.Ordinal] = item
	return nil
}

// CompleteItem stamps the terminal status of an item.
func (s *RunStore) CompleteItem(
	_ context.Context,
	runID string,
	ordinal int,
	finishedAt time.Time,
	status store.Status,
	completedRecords int,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[runID][ordinal]
	if !ok {
		return store.ErrNotFound
	}
	item.Status = status
	item.FinishedAt = pointerTime(finishedAt)
	item.CompletedRecords = completedRecords
	s.items[runID][ordinal] = item
	return nil
}

// GetRun fetches a run by ID.
func (s *RunStore) GetRun(_ context.Context, runID string) (store.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.RunRecord{}, store.ErrNotFound
	}
	return copyRun(run), nil
}

// ListRuns returns runs newest first, optionally filtered by status.
func (s *RunStore) ListRuns(_ context.Context, status *store.Status, limit, offset int) ([]store.RunRecord, error) {
	s.mu.RLock()
	runs := make([]store.RunRecord, 0, len(s.runs))
	for _, run := range s.runs {
		if status != nil && run.Status != *status {
			continue
		}
		runs = append(runs, copyRun(run))
	}
	s.mu.RUnlock()

	sort.Slice(runs, func(i, j int) bool {
		if runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].ID > runs[j].ID
		}
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	return page(runs, limit, offset), nil
}

// ListRunItems returns the items of a run ordered by ordinal.
func (s *RunStore) ListRunItems(_ context.Context, runID string, limit, offset int) ([]store.ItemRecord, error) {
	s.mu.RLock()
	byOrdinal := s.items[runID]
	items := make([]store.ItemRecord, 0, len(byOrdinal))
	for _, item := range byOrdinal {
		item.FinishedAt = copyTime(item.FinishedAt)
		items = append(items, item)
	}
	s.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool { return items[i].Ordinal < items[j].Ordinal })
	return page(items, limit, offset), nil
}

func page[T any](rows []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(rows) {
		return []T{}
	}
	rows = rows[offset:]
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}

func copyRun(run store.RunRecord) store.RunRecord {
	run.FinishedAt = copyTime(run.FinishedAt)
	return run
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	return pointerTime(*t)
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
