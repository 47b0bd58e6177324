// Package api hosts the HTTP control surface for the monitor. Routes:
//   - GET /healthz and /readyz for health checks.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/crawl/start and /v1/crawl/stop, GET /v1/crawl/status.
//   - GET /v1/records and /v1/records/export?format=xlsx|csv.
//   - GET /v1/alerts?fid= when an alert history store is configured.
package api
