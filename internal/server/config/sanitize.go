package config

import "strings"

// Sanitize returns a copy of the config with sensitive fields masked.
//
// This is used for logging configuration without exposing secrets.
func Sanitize(cfg *ServerConfig) *ServerConfig {
	sanitized := *cfg

	if sanitized.Security.EncryptionKey != "" {
		sanitized.Security.EncryptionKey = maskSecret(sanitized.Security.EncryptionKey)
	}
	if sanitized.Remote.KeySecret != "" {
		sanitized.Remote.KeySecret = maskSecret(sanitized.Remote.KeySecret)
	}

	// The key slice is shared with cfg; copy before masking.
	if len(cfg.Security.APIKeys) > 0 {
		keys := make([]APIKeyConfig, len(cfg.Security.APIKeys))
		copy(keys, cfg.Security.APIKeys)
		for i := range keys {
			if keys[i].SecretHash != "" {
				keys[i].SecretHash = "****"
			}
		}
		sanitized.Security.APIKeys = keys
	}

	return &sanitized
}

// maskSecret masks a secret value for safe logging.
func maskSecret(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}
