// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/aggregate runs the full refresh (GET /fetch-all-drivers alias).
//   - POST /v1/companies/fetch refreshes the company list (GET /fetch-companies alias).
//   - GET /v1/results and /v1/alerts expose the latest snapshot and the alert log.
package api
