// Package api hosts the HTTP server, middleware, and REST handlers for the
// audit service. Notable routes:
//   - POST /audit runs an audit and returns the session report.
//   - GET /sessions lists recent sessions; GET /sessions/{id} returns one
//     report with approval state applied.
//   - POST /sessions/{id}/approvals updates fix states.
//   - GET /sessions/{id}/screenshots/{file} serves captured PNGs.
//   - GET /healthz, /readyz, and /metrics for health checks and Prometheus.
package api
