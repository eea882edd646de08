package analytics

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/migration-progress/internal/publisher"
)

// Recorder ships a Record to a collector.
type Recorder interface {
	Record(ctx context.Context, rec Record) error
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ctx context.Context, rec Record) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, rec Record) error {
	return f(ctx, rec)
}

// LogRecorder writes records as structured log lines.
type LogRecorder struct {
	logger *zap.Logger
}

// NewLogRecorder creates a LogRecorder.
func NewLogRecorder(logger *zap.Logger) *LogRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogRecorder{logger: logger}
}

// Record implements Recorder.
func (r *LogRecorder) Record(_ context.Context, rec Record) error {
	r.logger.Info("analytics record",
		zap.String("event_type", rec.EventType),
		zap.Any("attributes", rec.Attributes),
	)
	return nil
}

// PublisherRecorder publishes each record as a JSON message on one topic.
type PublisherRecorder struct {
	publisher publisher.Publisher
	topic     string
}

// NewPublisherRecorder creates a PublisherRecorder.
func NewPublisherRecorder(pub publisher.Publisher, topic string) *PublisherRecorder {
	return &PublisherRecorder{publisher: pub, topic: topic}
}

// Record implements Recorder.
func (r *PublisherRecorder) Record(ctx context.Context, rec Record) error {
	if r.publisher == nil {
		return errors.New("analytics publisher is not configured")
	}
	if _, err := r.publisher.Publish(ctx, r.topic, rec); err != nil {
		return fmt.Errorf("publish %s: %w", rec.EventType, err)
	}
	return nil
}

// SpanRecorder emits one zero-length span per record, named after the event
// type and carrying the attributes.
type SpanRecorder struct {
	tracer trace.Tracer
}

// NewSpanRecorder creates a SpanRecorder.
func NewSpanRecorder(tracer trace.Tracer) *SpanRecorder {
	return &SpanRecorder{tracer: tracer}
}

// Record implements Recorder.
func (r *SpanRecorder) Record(ctx context.Context, rec Record) error {
	attrs := make([]attribute.KeyValue, 0, len(rec.Attributes))
	for _, k := range sortedKeys(rec.Attributes) {
		attrs = append(attrs, attribute.String(k, rec.Attributes[k]))
	}
	_, span := r.tracer.Start(ctx, rec.EventType,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(attrs...),
	)
	span.End()
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MultiRecorder forwards a record to every recorder and joins their errors.
type MultiRecorder []Recorder

// Record implements Recorder.
func (m MultiRecorder) Record(ctx context.Context, rec Record) error {
	var errs []error
	for _, r := range m {
		if err := r.Record(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
