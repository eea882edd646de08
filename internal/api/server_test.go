package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/migration-progress/internal/metrics"
	"github.com/JakeFAU/migration-progress/internal/progress"
	"github.com/JakeFAU/migration-progress/internal/storage/memory"
	"github.com/JakeFAU/migration-progress/internal/store"
)

var startedAt = time.Date(2024, time.May, 1, 12, 0, 0, 0, time.UTC)

type stubProgress struct {
	snap        progress.Snapshot
	violations  int64
	compromised bool
}

func (s stubProgress) Snapshot() progress.Snapshot { return s.snap }
func (s stubProgress) Violations() int64           { return s.violations }
func (s stubProgress) Compromised() bool           { return s.compromised }

func seededRepo(t *testing.T) *memory.RunStore {
	t.Helper()
	ctx := context.Background()
	repo := memory.NewRunStore()
	require.NoError(t, repo.UpsertRunStart(ctx, store.RunRecord{
		ID: "run-1", PreviousVersion: "74", CurrentVersion: "76", TotalItems: 2,
		StartedAt: startedAt, Status: store.StatusRunning,
	}))
	require.NoError(t, repo.UpsertItemStart(ctx, store.ItemRecord{
		RunID: "run-1", Ordinal: 1, Name: "Customers", TotalRecords: 3,
		StartedAt: startedAt, Status: store.StatusRunning,
	}))
	require.NoError(t, repo.CompleteItem(ctx, "run-1", 1, startedAt.Add(time.Second), store.StatusSuccess, 3))
	require.NoError(t, repo.CompleteRun(ctx, "run-1", startedAt.Add(2*time.Second), store.StatusSuccess, 2))
	require.NoError(t, repo.UpsertRunStart(ctx, store.RunRecord{
		ID: "run-2", TotalItems: 5, StartedAt: startedAt.Add(time.Hour), Status: store.StatusRunning,
	}))
	return repo
}

func serve(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestServerHealthz(t *testing.T) {
	t.Parallel()

	rec := serve(t, NewServer(Deps{}), "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServerProgress(t *testing.T) {
	t.Parallel()

	srv := NewServer(Deps{Progress: stubProgress{
		snap: progress.Snapshot{
			CorrelationID:        "run-9",
			PreviousVersion:      "74",
			CurrentVersion:       "76",
			TotalItems:           17,
			CompletedItems:       4,
			CurrentItem:          &progress.ItemDescriptor{Name: "Taxes", RecordCount: 8},
			TotalItemRecords:     8,
			CompletedItemRecords: 2,
			RunStartTime:         startedAt,
			Sequence:             31,
		},
		violations:  1,
		compromised: true,
	}})

	rec := serve(t, srv, "/api/progress")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Progress struct {
			CorrelationID string `json:"correlation_id"`
			TotalItems    uint   `json:"total_items"`
			CurrentItem   *struct {
				Name string `json:"name"`
			} `json:"current_item"`
			RunStartTime *time.Time `json:"run_start_time"`
			RunEndTime   *time.Time `json:"run_end_time"`
			Sequence     uint64     `json:"sequence"`
		} `json:"progress"`
		Violations  int64 `json:"violations"`
		Compromised bool  `json:"compromised"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "run-9", body.Progress.CorrelationID)
	require.Equal(t, uint(17), body.Progress.TotalItems)
	require.NotNil(t, body.Progress.CurrentItem)
	require.Equal(t, "Taxes", body.Progress.CurrentItem.Name)
	require.NotNil(t, body.Progress.RunStartTime)
	require.Nil(t, body.Progress.RunEndTime)
	require.Equal(t, uint64(31), body.Progress.Sequence)
	require.Equal(t, int64(1), body.Violations)
	require.True(t, body.Compromised)
}

func TestServerProgressUnavailable(t *testing.T) {
	t.Parallel()

	rec := serve(t, NewServer(Deps{}), "/api/progress")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServerRunRoutes(t *testing.T) {
	t.Parallel()

	srv := NewServer(Deps{Runs: seededRepo(t), Logger: zap.NewNop()})

	tests := []struct {
		name     string
		path     string
		wantCode int
		check    func(t *testing.T, body map[string]any)
	}{
		{
			name:     "list runs newest first",
			path:     "/api/runs",
			wantCode: http.StatusOK,
			check: func(t *testing.T, body map[string]any) {
				runs := body["runs"].([]any)
				require.Len(t, runs, 2)
				require.Equal(t, "run-2", runs[0].(map[string]any)["id"])
			},
		},
		{
			name:     "list runs by status",
			path:     "/api/runs?status=SUCCESS",
			wantCode: http.StatusOK,
			check: func(t *testing.T, body map[string]any) {
				runs := body["runs"].([]any)
				require.Len(t, runs, 1)
				require.Equal(t, "run-1", runs[0].(map[string]any)["id"])
			},
		},
		{name: "invalid status", path: "/api/runs?status=done", wantCode: http.StatusBadRequest},
		{name: "invalid limit", path: "/api/runs?limit=0", wantCode: http.StatusBadRequest},
		{name: "invalid offset", path: "/api/runs?offset=-3", wantCode: http.StatusBadRequest},
		{
			name:     "get run",
			path:     "/api/runs/run-1",
			wantCode: http.StatusOK,
			check: func(t *testing.T, body map[string]any) {
				run := body["run"].(map[string]any)
				require.Equal(t, "success", run["status"])
				require.Contains(t, run, "finished_at")
			},
		},
		{name: "run not found", path: "/api/runs/run-404", wantCode: http.StatusNotFound},
		{
			name:     "list items",
			path:     "/api/runs/run-1/items?limit=10",
			wantCode: http.StatusOK,
			check: func(t *testing.T, body map[string]any) {
				items := body["items"].([]any)
				require.Len(t, items, 1)
				item := items[0].(map[string]any)
				require.Equal(t, "Customers", item["name"])
				require.InDelta(t, 3, item["completed_records"], 0)
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rec := serve(t, srv, tc.path)
			require.Equal(t, tc.wantCode, rec.Code, rec.Body.String())
			if tc.check == nil {
				return
			}
			var body map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			tc.check(t, body)
		})
	}
}

func TestServerMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	srv := NewServer(Deps{Gatherer: reg, HTTPMetrics: metrics.NewHTTP(reg)})

	require.Equal(t, http.StatusOK, serve(t, srv, "/healthz").Code)
	rec := serve(t, srv, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "migration_http_requests_total")
}

func TestRunHandlerRepositoryErrors(t *testing.T) {
	t.Parallel()

	handler := NewRunHandler(errRepo{err: errors.New("db down")}, nil)

	rec := httptest.NewRecorder()
	handler.ListRuns(rec, httptest.NewRequest(http.MethodGet, "/api/runs", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = httptest.NewRecorder()
	handler.GetRun(rec, withRunIDParam(httptest.NewRequest(http.MethodGet, "/api/runs/x", nil), "x"))
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = httptest.NewRecorder()
	handler.GetRun(rec, httptest.NewRequest(http.MethodGet, "/api/runs/", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	NewRunHandler(nil, nil).ListRunItems(rec, httptest.NewRequest(http.MethodGet, "/api/runs/x/items", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type errRepo struct{ err error }

func (e errRepo) UpsertRunStart(context.Context, store.RunRecord) error { return e.err }

func (e errRepo) CompleteRun(context.Context, string, time.Time, store.Status, int) error {
	return e.err
}

func (e errRepo) UpsertItemStart(context.Context, store.ItemRecord) error { return e.err }

func (e errRepo) CompleteItem(context.Context, string, int, time.Time, store.Status, int) error {
	return e.err
}

func (e errRepo) GetRun(context.Context, string) (store.RunRecord, error) {
	return store.RunRecord{}, e.err
}

func (e errRepo) ListRuns(context.Context, *store.Status, int, int) ([]store.RunRecord, error) {
	return nil, e.err
}

func (e errRepo) ListRunItems(context.Context, string, int, int) ([]store.ItemRecord, error) {
	return nil, e.err
}

func withRunIDParam(r *http.Request, runID string) *http.Request {
	ctx := chi.NewRouteContext()
	ctx.URLParams.Add("run_id", runID)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, ctx))
}
