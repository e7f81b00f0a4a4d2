// Package api hosts the ops HTTP server:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/runs and /v1/runs/{run_id} for live run progress.
//
// It never starts or cancels work; runs are driven from the CLI.
package api
