package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("run record not found")

// Status mirrors the status column shared by migration_runs and migration_items.
type Status string

// Statuses persisted for runs and items.
const (
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFail    Status = "fail"
	// StatusAbandoned marks a run or item superseded by a newer RunStarted
	// before it finished.
	StatusAbandoned Status = "abandoned"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusRunning, StatusSuccess, StatusFail, StatusAbandoned:
		return true
	default:
		return false
	}
}

// RunRecord models one row of migration_runs.
type RunRecord struct {
	// ID is the run's correlation id.
	ID              string
	PreviousVersion string
	CurrentVersion  string
	TotalItems      int
	CompletedItems  int
	StartedAt       time.Time
	// FinishedAt is nil until the run reaches a terminal status.
	FinishedAt *time.Time
	Status     Status
}

// ItemRecord models one row of migration_items.
type ItemRecord struct {
	// RunID references RunRecord.ID.
	RunID string
	// Ordinal is the 1-based position of the item within its run.
	Ordinal          int
	Name             string
	Description      string
	RegisteredNumber int
	TotalRecords     int
	CompletedRecords int
	StartedAt        time.Time
	FinishedAt       *time.Time
	Status           Status
}

// RunRepository persists migration run history for reporting. It is a log of
// what happened, not a checkpoint that runs can resume from.
type RunRepository interface {
	// UpsertRunStart inserts the run in running status (idempotent on ID).
	UpsertRunStart(ctx context.Context, run RunRecord) error
	// CompleteRun stamps the terminal status of a run.
	CompleteRun(ctx context.Context, runID string, finishedAt time.Time, status Status, completedItems int) error
	// UpsertItemStart inserts the item in running status (idempotent on run and ordinal).
	UpsertItemStart(ctx context.Context, item ItemRecord) error
	// CompleteItem stamps the terminal status of an item.
	CompleteItem(
		ctx context.Context,
		runID string,
		ordinal int,
		finishedAt time.Time,
		status Status,
		completedRecords int,
	) error

	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, runID string) (RunRecord, error)
	// ListRuns returns runs filtered by optional status, newest first.
	ListRuns(ctx context.Context, status *Status, limit, offset int) ([]RunRecord, error)
	// ListRunItems returns the items of one run in ordinal order.
	ListRunItems(ctx context.Context, runID string, limit, offset int) ([]ItemRecord, error)
}
