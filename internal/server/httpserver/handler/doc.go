// Package handler provides HTTP request handlers for the canvas API.
//
// This package contains handlers for all HTTP endpoints:
//
//   - canvas.go: canvas CRUD, ETag and If-Match handling
//   - admin.go: status, API key listing and backup download
//   - health.go: health and readiness checks
//
// All handlers follow a consistent pattern:
//
//   - Parse and validate request
//   - Call domain service
//   - Format and return response
//   - Handle errors with appropriate HTTP status codes
package handler
