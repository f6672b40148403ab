// Package main provides the entry point for retouch-cli.
//
// The CLI talks to retouch-server over two channels:
//
//   - the HTTP API, for canvas snapshots, API keys, backups and status
//   - the local control socket, for interactive editor sessions
//
// Usage:
//
//	retouch-cli [global flags] command [flags]
//	retouch-cli canvas list -o json
//	retouch-cli edit --id cv-1 --script commands.txt
package main
