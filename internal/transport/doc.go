// Package transport carries editor commands in and events out.
//
// Channel abstracts the message bus between an embedding host and an editor
// session. Pipe is an in-process channel pair; Conn speaks newline-delimited
// JSON over any stream, typically a unix socket connection.
package transport
