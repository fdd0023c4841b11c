// Package api hosts the HTTP server, middleware, and REST handlers for
// operator access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/jobs and /v1/jobs/cancel for the harvest lifecycle.
//   - GET /v1/export.csv for filtered CSV downloads.
//   - GET/PUT /v1/rules/{category} plus POST /v1/recategorize for scoring.
package api
