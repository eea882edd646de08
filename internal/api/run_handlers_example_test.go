package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/migration-progress/internal/storage/memory"
	"github.com/JakeFAU/migration-progress/internal/store"
)

// ExampleRunHandler_ListRuns shows how to serve the /api/runs endpoint.
func ExampleRunHandler_ListRuns() {
	repo := memory.NewRunStore()
	if err := repo.UpsertRunStart(context.Background(), store.RunRecord{
		ID:        "0190d7a2-7c3e-7b4e-9f00-0000000000aa",
		StartedAt: time.Unix(0, 0).UTC(),
		Status:    store.StatusRunning,
	}); err != nil {
		panic(err)
	}
	handler := NewRunHandler(repo, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/runs?limit=1", nil)
	rec := httptest.NewRecorder()
	handler.ListRuns(rec, req)

	var payload struct {
		Runs []map[string]any `json:"runs"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		panic(err)
	}
	fmt.Printf("returned runs: %d (%s)\n", len(payload.Runs), payload.Runs[0]["status"])
	// Output:
	// returned runs: 1 (running)
}
