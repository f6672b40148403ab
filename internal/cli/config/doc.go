// Package config loads retouch-cli's profile file (~/.retouch/cli.yaml).
//
// A profile names a server URL, an API key and an optional CA file. The
// file also sets the default output format and the local control socket
// used by the edit command. Environment variables and flags override the
// file.
package config
