// Package repl drives an interactive editor session from a terminal.
//
// Each input line is parsed into an Action: an editor command to send, a
// local export target, help or exit. The caller executes actions and
// prints the session's events.
package repl
