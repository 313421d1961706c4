// Package api hosts the optional status server for a running harvest.
// Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/run for the live run snapshot.
//   - POST /v1/run/stop to request a graceful shutdown.
package api
