// Package main provides the entry point for retouch-server.
//
// The server hosts editor sessions and their canvas snapshots:
//
//   - HTTP/HTTPS API for canvas snapshots, admin status and backups
//   - Local Unix socket for editor sessions (no API key required)
//
// Usage:
//
//	retouch-server [flags]
//	retouch-server --config /etc/retouch/server.yaml
//
// Sessions persist to the configured storage backend, or to another
// server when remote.base_url is set.
package main
