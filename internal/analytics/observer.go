package analytics

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/migration-progress/internal/clock"
	"github.com/JakeFAU/migration-progress/internal/clock/system"
	"github.com/JakeFAU/migration-progress/internal/progress"
)

// Observer is a progress.Observer that forwards analytics records to a
// Recorder. Transport failures are logged and never returned, so the
// collector being unreachable does not affect progress tracking.
type Observer struct {
	recorder Recorder
	clock    clock.Clock
	logger   *zap.Logger
}

// Option customizes an Observer.
type Option func(*Observer)

// WithClock sets the clock used for missing timestamps.
func WithClock(c clock.Clock) Option {
	return func(o *Observer) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithLogger sets the logger used to report transport failures.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Observer) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// NewObserver creates an Observer that sends to recorder.
func NewObserver(recorder Recorder, opts ...Option) *Observer {
	o := &Observer{
		recorder: recorder,
		clock:    system.New(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Observe implements progress.Observer.
func (o *Observer) Observe(ctx context.Context, evt progress.Event, snap progress.Snapshot) error {
	rec, ok := Build(evt, snap, o.clock.Now())
	if !ok || o.recorder == nil {
		return nil
	}
	if err := o.recorder.Record(ctx, rec); err != nil {
		o.logger.Warn("analytics transport failed",
			zap.String("event_type", rec.EventType),
			zap.String("correlation_id", snap.CorrelationID),
			zap.Error(err),
		)
	}
	return nil
}
