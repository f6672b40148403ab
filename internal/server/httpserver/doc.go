// Package httpserver provides the HTTP/HTTPS server for the canvas API.
//
// Routes:
//
//   - Canvas endpoints: /v1/canvases, /v1/canvases/{id}
//   - Admin endpoints: /admin/v1/status, /admin/v1/keys, /admin/v1/backup
//   - Health endpoints: /health, /ready, /metrics
//
// Each route runs its own middleware chain (Recover, RequestID, CORS,
// RateLimit, Audit, Auth and a permission check). Authentication is
// skipped entirely when no AuthService is configured.
package httpserver
