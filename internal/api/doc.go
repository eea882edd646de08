// Package api hosts the read-only HTTP server for operators. Notable routes:
//   - GET /healthz for liveness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /api/progress for the live snapshot of the current run.
//   - GET /api/runs, /api/runs/{run_id} and /api/runs/{run_id}/items for run
//     history via the store.RunRepository interface.
package api
