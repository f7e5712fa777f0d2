// Package api hosts the HTTP server, middleware, and REST handlers. Notable
// routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /api/search runs one credit-metered search.
//   - POST /api/usage reports a key's remaining credit.
//   - POST /api/credits/topup funds a key; requires X-Admin-Secret.
package api
