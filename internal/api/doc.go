// Package api implements the HTTP surface of sprintpulse.
//
// New(store, opts...) returns an http.Handler that serves:
//
//	GET /api/v1/health                       overall score, state, anomaly counts
//	GET /api/v1/reports                      latest report of every team
//	GET /api/v1/reports/{team}               one team; 404 if unknown or stale
//	GET /api/v1/reports/{team}/anomalies     ?severity= keeps that level and above
//	GET /api/v1/reports/{team}/history       ?limit= past runs (requires WithHistory)
//	GET /metrics                             Prometheus text exposition
//	    /ws/stream                           WebSocket stream (requires WithHub)
//
// Routes are registered on a gorilla/mux router. The /api/v1 subtree is
// guarded by APIKeyMiddleware when WithAuth enables it; /metrics and
// /ws/stream stay open for scrapers and dashboards. Errors are JSON
// {"error": "..."} bodies.
package api
