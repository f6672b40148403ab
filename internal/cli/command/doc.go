// Package command defines retouch-cli's command tree.
//
// It uses urfave/cli/v2. Commands talk to the canvas and admin HTTP API,
// except edit, which drives an editor session over the server's local
// control socket. Output goes to the app's Writer so tests can capture it.
package command
