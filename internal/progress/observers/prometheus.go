package observers

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/migration-progress/internal/progress"
)

const (
	resultSuccess = "success"
	resultFail    = "fail"
)

// PrometheusObserver exports migration progress via Prometheus. It owns all
// collectors for runs, items, records, and rejected events.
type PrometheusObserver struct {
	runsStarted    prometheus.Counter
	runsCompleted  *prometheus.CounterVec
	runActive      prometheus.Gauge
	runDuration    *prometheus.HistogramVec
	itemsTotal     prometheus.Gauge
	itemsCompleted prometheus.Gauge

	itemsFinished    *prometheus.CounterVec
	itemDuration     *prometheus.HistogramVec
	recordsProcessed prometheus.Counter
	recordsTotal     prometheus.Gauge
	recordsCompleted prometheus.Gauge

	violations *prometheus.CounterVec
}

// NewPrometheusObserver registers the collectors against the provided registry.
func NewPrometheusObserver(reg prometheus.Registerer) (*PrometheusObserver, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	o := &PrometheusObserver{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "migration_runs_started_total",
			Help: "Total migration runs that have started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "migration_runs_completed_total",
			Help: "Total migration runs completed partitioned by result.",
		}, []string{"result"}),
		runActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "migration_run_active",
			Help: "1 while a migration run is open.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "migration_run_duration_seconds",
			Help:    "Wall time per completed run.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"result"}),
		itemsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "migration_run_items",
			Help: "Items declared by the current run.",
		}),
		itemsCompleted: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "migration_run_items_completed",
			Help: "Items completed in the current run.",
		}),
		itemsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "migration_items_completed_total",
			Help: "Total items completed partitioned by result.",
		}, []string{"result"}),
		itemDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "migration_item_duration_seconds",
			Help:    "Wall time per completed item.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"result"}),
		recordsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "migration_records_processed_total",
			Help: "Total records processed across all items.",
		}),
		recordsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "migration_item_records",
			Help: "Records declared by the current item.",
		}),
		recordsCompleted: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "migration_item_records_completed",
			Help: "Records processed for the current item.",
		}),
		violations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "migration_invariant_violations_total",
			Help: "Events rejected because they contradicted the progress state.",
		}, []string{"invariant"}),
	}
	for _, collector := range []prometheus.Collector{
		o.runsStarted,
		o.runsCompleted,
		o.runActive,
		o.runDuration,
		o.itemsTotal,
		o.itemsCompleted,
		o.itemsFinished,
		o.itemDuration,
		o.recordsProcessed,
		o.recordsTotal,
		o.recordsCompleted,
		o.violations,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return o, nil
}

// Observe updates the collectors for one committed event.
func (o *PrometheusObserver) Observe(_ context.Context, evt progress.Event, snap progress.Snapshot) error {
	switch evt.Kind() {
	case progress.KindRunStarted:
		o.runsStarted.Inc()
		o.runActive.Set(1)
		o.recordsTotal.Set(0)
		o.recordsCompleted.Set(0)
	case progress.KindItemStarted:
		o.recordsTotal.Set(float64(snap.TotalItemRecords))
		o.recordsCompleted.Set(0)
	case progress.KindRecordProcessed:
		o.recordsProcessed.Inc()
		o.recordsCompleted.Set(float64(snap.CompletedItemRecords))
	case progress.KindItemEnded:
		result := outcome(snap.CompletedItemRecords, snap.TotalItemRecords)
		o.itemsFinished.WithLabelValues(result).Inc()
		if d := snap.ItemEndTime.Sub(snap.ItemStartTime); d >= 0 && !snap.ItemStartTime.IsZero() {
			o.itemDuration.WithLabelValues(result).Observe(d.Seconds())
		}
	case progress.KindRunEnded:
		result := outcome(snap.CompletedItems, snap.TotalItems)
		o.runsCompleted.WithLabelValues(result).Inc()
		o.runActive.Set(0)
		if d := snap.RunEndTime.Sub(snap.RunStartTime); d >= 0 {
			o.runDuration.WithLabelValues(result).Observe(d.Seconds())
		}
	}
	o.itemsTotal.Set(float64(snap.TotalItems))
	o.itemsCompleted.Set(float64(snap.CompletedItems))
	return nil
}

// RecordViolation counts a rejected event. It matches the signature of
// progress.Config.OnViolation.
func (o *PrometheusObserver) RecordViolation(_ progress.Event, err *progress.InvariantError) {
	if err == nil {
		return
	}
	o.violations.WithLabelValues(string(err.Invariant)).Inc()
}

func outcome(completed, total uint) string {
	if completed == total {
		return resultSuccess
	}
	return resultFail
}
