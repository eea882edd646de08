package observers

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/migration-progress/internal/progress"
)

// LogObserver emits structured logs for each committed event. Record ticks
// are logged at debug level; milestones at info.
type LogObserver struct {
	logger *zap.Logger
}

// NewLogObserver wires a Zap logger to the observer interface.
func NewLogObserver(logger *zap.Logger) *LogObserver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogObserver{logger: logger}
}

// Observe logs evt together with the counters of snap.
func (o *LogObserver) Observe(_ context.Context, evt progress.Event, snap progress.Snapshot) error {
	level := zapcore.InfoLevel
	if evt.Kind() == progress.KindRecordProcessed {
		level = zapcore.DebugLevel
	}
	ce := o.logger.Check(level, "migration progress")
	if ce == nil {
		return nil
	}
	fields := []zap.Field{
		zap.String("event", string(evt.Kind())),
		zap.String("correlation_id", snap.CorrelationID),
		zap.Uint("completed_items", snap.CompletedItems),
		zap.Uint("total_items", snap.TotalItems),
		zap.Uint("completed_records", snap.CompletedItemRecords),
		zap.Uint("total_records", snap.TotalItemRecords),
		zap.Uint64("sequence", snap.Sequence),
	}
	if item := snap.LastItem; item != nil {
		fields = append(fields, zap.String("item", item.Name))
	}
	ce.Write(fields...)
	return nil
}
