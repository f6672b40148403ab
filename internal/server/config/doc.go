// Package config provides server configuration for retouch-server.
//
// This package defines the server configuration structure and validation:
//
//   - schema.go: ServerConfig struct definition
//   - default.go: Default configuration values
//   - verify.go: Validation and API key provisioning
//   - sanitize.go: Log sanitization (hide sensitive values)
//
// Configuration is loaded via internal/infra/confloader from a YAML file
// and RETOUCH_ environment variables.
package config
