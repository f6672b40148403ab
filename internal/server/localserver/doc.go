// Package localserver provides the local editor control socket.
//
// It listens on a Unix domain socket and speaks newline-delimited JSON.
// The first message of a connection selects what it is for:
//
//   - OPEN {"image": url, "id": canvas id}: starts an editor session. Every
//     following line is a command for that session and every event the
//     session emits is written back. Closing the connection flushes the
//     session's pending edits to the canvas store.
//   - STATUS: replies with one STATUS event and closes.
//
// Access is controlled by the socket's file permissions (0600); no API
// key is required.
package localserver
