// Package api hosts the HTTP server. Notable routes:
//   - GET /manifest.json and /stream/{type}/{id}.json for addon clients.
//   - GET /v1/resolve for detailed per-source results.
//   - GET /v1/resolutions, /v1/resolutions/{id} and /v1/resolutions/{id}/sources
//     for history recorded by the ResolutionRepository.
//   - GET /healthz, /readyz and /metrics for health checks and scraping.
package api
