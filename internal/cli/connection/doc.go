// Package connection talks to a retouch server for retouch-cli.
//
//   - http.go: the canvas and admin HTTP API, authenticated with an API key
//   - socket.go: the local control socket that hosts editor sessions
package connection
