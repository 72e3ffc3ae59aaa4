// Package api hosts the HTTP status server that runs alongside a scrape.
// Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/run for the live counters of the current run.
package api
