package observers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/migration-progress/internal/progress"
	"github.com/JakeFAU/migration-progress/internal/store"
)

// HistoryObserver persists run and item milestones via a store.RunRepository.
// Individual record ticks are not written; the completed record count is
// stamped when the item ends.
type HistoryObserver struct {
	repo   store.RunRepository
	logger *zap.Logger

	mu   sync.Mutex
	open openRun
}

type openRun struct {
	id             string
	completedItems uint
	itemOrdinal    int
	itemRecords    uint
	itemOpen       bool
}

// NewHistoryObserver constructs a HistoryObserver for the provided repository.
func NewHistoryObserver(repo store.RunRepository, logger *zap.Logger) *HistoryObserver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoryObserver{repo: repo, logger: logger}
}

// Observe translates evt into repository writes. Repository errors are
// returned verbatim so the processor logs them.
func (h *HistoryObserver) Observe(ctx context.Context, evt progress.Event, snap progress.Snapshot) error {
	if h == nil || h.repo == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	switch evt.Kind() {
	case progress.KindRunStarted:
		return h.startRun(ctx, evt.OccurredAt(), snap)
	case progress.KindItemStarted:
		return h.startItem(ctx, snap)
	case progress.KindRecordProcessed:
		h.open.itemRecords = snap.CompletedItemRecords
	case progress.KindItemEnded:
		return h.endItem(ctx, snap)
	case progress.KindRunEnded:
		return h.endRun(ctx, snap)
	}
	return nil
}

func (h *HistoryObserver) startRun(ctx context.Context, at time.Time, snap progress.Snapshot) error {
	if err := h.abandon(ctx, at); err != nil {
		h.logger.Warn("abandon superseded run failed", zap.String("run_id", h.open.id), zap.Error(err))
	}
	h.open = openRun{id: snap.CorrelationID}
	run := store.RunRecord{
		ID:              snap.CorrelationID,
		PreviousVersion: snap.PreviousVersion,
		CurrentVersion:  snap.CurrentVersion,
		TotalItems:      int(snap.TotalItems),
		StartedAt:       snap.RunStartTime,
		Status:          store.StatusRunning,
	}
	if err := h.repo.UpsertRunStart(ctx, run); err != nil {
		return fmt.Errorf("upsert run start: %w", err)
	}
	return nil
}

// abandon closes a run that a newer RunStarted superseded before it ended.
func (h *HistoryObserver) abandon(ctx context.Context, at time.Time) error {
	if h.open.id == "" {
		return nil
	}
	if h.open.itemOpen {
		if err := h.repo.CompleteItem(ctx, h.open.id, h.open.itemOrdinal, at,
			store.StatusAbandoned, int(h.open.itemRecords)); err != nil {
			return fmt.Errorf("abandon item: %w", err)
		}
	}
	if err := h.repo.CompleteRun(ctx, h.open.id, at, store.StatusAbandoned, int(h.open.completedItems)); err != nil {
		return fmt.Errorf("abandon run: %w", err)
	}
	return nil
}

func (h *HistoryObserver) startItem(ctx context.Context, snap progress.Snapshot) error {
	if snap.CurrentItem == nil {
		return nil
	}
	ordinal := int(snap.CurrentItemOrdinal())
	h.open.itemOrdinal = ordinal
	h.open.itemRecords = 0
	h.open.itemOpen = true
	item := store.ItemRecord{
		RunID:            snap.CorrelationID,
		Ordinal:          ordinal,
		Name:             snap.CurrentItem.Name,
		Description:      snap.CurrentItem.Description,
		RegisteredNumber: int(snap.CurrentItem.RegisteredNumber),
		TotalRecords:     int(snap.TotalItemRecords),
		StartedAt:        snap.ItemStartTime,
		Status:           store.StatusRunning,
	}
	if err := h.repo.UpsertItemStart(ctx, item); err != nil {
		return fmt.Errorf("upsert item start: %w", err)
	}
	return nil
}

func (h *HistoryObserver) endItem(ctx context.Context, snap progress.Snapshot) error {
	ordinal := int(snap.CompletedItems)
	h.open.itemOpen = false
	h.open.completedItems = snap.CompletedItems
	status := statusFor(snap.CompletedItemRecords, snap.TotalItemRecords)
	if err := h.repo.CompleteItem(ctx, snap.CorrelationID, ordinal, snap.ItemEndTime,
		status, int(snap.CompletedItemRecords)); err != nil {
		return fmt.Errorf("complete item: %w", err)
	}
	return nil
}

func (h *HistoryObserver) endRun(ctx context.Context, snap progress.Snapshot) error {
	h.open = openRun{}
	status := statusFor(snap.CompletedItems, snap.TotalItems)
	if err := h.repo.CompleteRun(ctx, snap.CorrelationID, snap.RunEndTime,
		status, int(snap.CompletedItems)); err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return nil
}

func statusFor(completed, total uint) store.Status {
	if completed == total {
		return store.StatusSuccess
	}
	return store.StatusFail
}
