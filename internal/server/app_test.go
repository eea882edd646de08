package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/migration-progress/internal/analytics"
	"github.com/JakeFAU/migration-progress/internal/config"
	"github.com/JakeFAU/migration-progress/internal/progress"
	"github.com/JakeFAU/migration-progress/internal/simulation"
	"github.com/JakeFAU/migration-progress/internal/store"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Server.Port = 0
	cfg.Display.RefreshInterval = 0
	cfg.Telemetry.Transports = []string{config.TransportMemory, config.TransportSpan}
	cfg.Simulation.Seed = 11
	cfg.Simulation.MaxRecords = 3
	cfg.Simulation.MaxDelay = 0
	return &cfg
}

// TestAppSimulateEndToEnd drives a full simulated run through every observer.
func TestAppSimulateEndToEnd(t *testing.T) {
	t.Parallel()

	var display bytes.Buffer
	ctx := context.Background()
	app, err := Build(ctx, testConfig(t), Options{Logger: zap.NewNop(), DisplayOut: &display})
	require.NoError(t, err)

	require.NoError(t, app.Simulate(ctx))
	require.NoError(t, app.Close(ctx))
	require.NoError(t, app.Close(ctx))
	require.ErrorIs(t, app.Processor().Submit(progress.RunEnded{}), progress.ErrProcessorClosed)

	snap := app.Processor().Snapshot()
	total := uint(len(simulation.DefaultCatalogue))
	require.Equal(t, total, snap.CompletedItems)
	require.Zero(t, app.Processor().Violations())

	msgs := app.memPub.Messages()
	require.Len(t, msgs, 2+2*len(simulation.DefaultCatalogue))
	first := msgs[0].Payload.(analytics.Record)
	last := msgs[len(msgs)-1].Payload.(analytics.Record)
	require.Equal(t, analytics.RunStart, first.EventType)
	require.Equal(t, analytics.RunSuccess, last.EventType)
	require.Equal(t, snap.CorrelationID, last.Attributes[analytics.AttrCorrelationID])
	require.Equal(t, "2.7.2", last.Attributes[analytics.AttrOriginalAppVersion])

	run, err := app.RunRepository().GetRun(ctx, snap.CorrelationID)
	require.NoError(t, err)
	require.Equal(t, store.StatusSuccess, run.Status)

	require.Contains(t, display.String(), "Running migration Transactions (17 of 17)")
	require.Contains(t, display.String(), "Completed 17 of 17 migrations")

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs/"+snap.CorrelationID+"/items", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Items []map[string]any `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Items, len(simulation.DefaultCatalogue))

	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), `migration_runs_completed_total{result="success"} 1`))
}

func TestAppServeStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	app, err := Build(ctx, testConfig(t), Options{Logger: zap.NewNop()})
	require.NoError(t, err)

	cancel()
	require.NoError(t, app.Serve(ctx))
	require.NoError(t, app.Close(context.Background()))
}

func TestBuildRejectsUnknownExporter(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "zipkin"
	_, err := Build(context.Background(), cfg, Options{Logger: zap.NewNop()})
	require.ErrorContains(t, err, "tracer init failed")
}
