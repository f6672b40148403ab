// Package logger builds the structured loggers used across retouch.
//
// Loggers are plain *slog.Logger values with two additions: attribute
// redaction for credentials and encryption keys, and a level that can be
// changed while the process runs (for example after a configuration
// reload).
//
// Context helpers carry a request ID and a logger through request-scoped
// code; L returns a logger already annotated with the request ID.
package logger
