// Package api hosts the operational HTTP server shared by the pipeline
// services. Routes:
//   - GET /healthz and /readyz for liveness and readiness checks.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/worklist for per-status work list counts.
//   - GET /v1/worklist/items?status=... for the work list rows.
package api
