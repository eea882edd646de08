package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/migration-progress/internal/metrics"
	"github.com/JakeFAU/migration-progress/internal/progress"
	"github.com/JakeFAU/migration-progress/internal/store"
)

const requestTimeout = 30 * time.Second

// ProgressSource exposes the live processor state.
type ProgressSource interface {
	Snapshot() progress.Snapshot
	Violations() int64
	Compromised() bool
}

// Deps lists what the server reads from. Nil members disable their routes
// with 503 responses.
type Deps struct {
	Progress ProgressSource
	Runs     store.RunRepository
	Gatherer prometheus.Gatherer
	// HTTPMetrics records request metrics when set.
	HTTPMetrics *metrics.HTTP
	Logger      *zap.Logger
}

// Server wires HTTP handlers to the processor and run history.
type Server struct {
	router   chi.Router
	progress ProgressSource
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{progress: deps.Progress, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	if deps.HTTPMetrics != nil {
		r.Use(deps.HTTPMetrics.Middleware)
	}
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}

	runs := NewRunHandler(deps.Runs, logger.Named("runs"))
	r.Route("/api", func(r chi.Router) {
		r.Get("/progress", s.getProgress)
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", runs.ListRuns)
			r.Route("/{run_id}", func(r chi.Router) {
				r.Get("/", runs.GetRun)
				r.Get("/items", runs.ListRunItems)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// getProgress handles GET /api/progress with the latest committed snapshot.
func (s *Server) getProgress(w http.ResponseWriter, _ *http.Request) {
	if s.progress == nil {
		writeError(w, http.StatusServiceUnavailable, "processor unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"progress":    toSnapshotDTO(s.progress.Snapshot()),
		"violations":  s.progress.Violations(),
		"compromised": s.progress.Compromised(),
	})
}

type snapshotDTO struct {
	CorrelationID        string          `json:"correlation_id,omitempty"`
	PreviousVersion      string          `json:"previous_version,omitempty"`
	CurrentVersion       string          `json:"current_version,omitempty"`
	TotalItems           uint            `json:"total_items"`
	CompletedItems       uint            `json:"completed_items"`
	CurrentItem          *itemSummaryDTO `json:"current_item,omitempty"`
	LastItem             *itemSummaryDTO `json:"last_item,omitempty"`
	TotalItemRecords     uint            `json:"total_item_records"`
	CompletedItemRecords uint            `json:"completed_item_records"`
	RunStartTime         *time.Time      `json:"run_start_time,omitempty"`
	RunEndTime           *time.Time      `json:"run_end_time,omitempty"`
	ItemStartTime        *time.Time      `json:"item_start_time,omitempty"`
	ItemEndTime          *time.Time      `json:"item_end_time,omitempty"`
	Sequence             uint64          `json:"sequence"`
}

type itemSummaryDTO struct {
	Name             string `json:"name"`
	Description      string `json:"description,omitempty"`
	RecordCount      uint   `json:"record_count"`
	RegisteredNumber uint   `json:"registered_number,omitempty"`
}

func toSnapshotDTO(snap progress.Snapshot) snapshotDTO {
	return snapshotDTO{
		CorrelationID:        snap.CorrelationID,
		PreviousVersion:      snap.PreviousVersion,
		CurrentVersion:       snap.CurrentVersion,
		TotalItems:           snap.TotalItems,
		CompletedItems:       snap.CompletedItems,
		CurrentItem:          toItemSummary(snap.CurrentItem),
		LastItem:             toItemSummary(snap.LastItem),
		TotalItemRecords:     snap.TotalItemRecords,
		CompletedItemRecords: snap.CompletedItemRecords,
		RunStartTime:         optionalTime(snap.RunStartTime),
		RunEndTime:           optionalTime(snap.RunEndTime),
		ItemStartTime:        optionalTime(snap.ItemStartTime),
		ItemEndTime:          optionalTime(snap.ItemEndTime),
		Sequence:             snap.Sequence,
	}
}

func toItemSummary(item *progress.ItemDescriptor) *itemSummaryDTO {
	if item == nil {
		return nil
	}
	return &itemSummaryDTO{
		Name:             item.Name,
		Description:      item.Description,
		RecordCount:      item.RecordCount,
		RegisteredNumber: item.RegisteredNumber,
	}
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			reqID, _ := r.Context().Value(requestIDKey{}).(string)
			logger.Debug("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", reqID),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
