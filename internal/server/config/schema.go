// Package config defines the server configuration structure.
package config

import "time"

// ServerConfig is the root configuration for retouch-server.
type ServerConfig struct {
	Server   ServerSection   `koanf:"server"`
	Storage  StorageSection  `koanf:"storage"`
	Security SecuritySection `koanf:"security"`
	Editor   EditorSection   `koanf:"editor"`
	Remote   RemoteSection   `koanf:"remote"`
	Log      LogSection      `koanf:"log"`
}

// ServerSection configures server endpoints.
type ServerSection struct {
	HTTP  HTTPConfig  `koanf:"http"`
	Local LocalConfig `koanf:"local"`
}

// HTTPConfig configures the canvas HTTP API.
type HTTPConfig struct {
	Addr        string `koanf:"addr"`
	TLSCertFile string `koanf:"tls_cert_file"`
	TLSKeyFile  string `koanf:"tls_key_file"`
	// TLSClientCAFile enables client certificate verification.
	TLSClientCAFile string `koanf:"tls_client_ca_file"`

	CORSOrigins []string `koanf:"cors_origins"`
	// RateLimit is the per-IP request rate. Zero disables it.
	RateLimit      int      `koanf:"rate_limit"`
	MetricsAuth    bool     `koanf:"metrics_auth"`
	AdminAllowList []string `koanf:"admin_allowlist"`
	Audit          bool     `koanf:"audit"`

	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LocalConfig configures the local editor control socket.
type LocalConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
}

// StorageSection configures the canvas store.
type StorageSection struct {
	// Backend is memory, badger or sqlite.
	Backend string `koanf:"backend"`
	DataDir string `koanf:"data_dir"`
	// StrictSnapshots rejects payloads that do not decode as a scene.
	StrictSnapshots bool          `koanf:"strict_snapshots"`
	Badger          BadgerSection `koanf:"badger"`
}

// BadgerSection tunes the badger backend.
type BadgerSection struct {
	GCInterval  string  `koanf:"gc_interval"`
	GCThreshold float64 `koanf:"gc_threshold"`
	CacheSizeMB int     `koanf:"cache_size_mb"`
	SyncWrites  bool    `koanf:"sync_writes"`
}

// SecuritySection configures security settings.
type SecuritySection struct {
	// EncryptionKey is a hex-encoded 32-byte key sealing stored snapshots.
	EncryptionKey string `koanf:"encryption_key"`
	// GlobalAllowlist restricts every API key to these IPs/CIDRs.
	GlobalAllowlist []string `koanf:"global_allowlist"`
	// APIKeys are the provisioned keys. No keys disables authentication.
	APIKeys []APIKeyConfig `koanf:"api_keys"`
}

// APIKeyConfig provisions one API key. Only the Argon2id hash of the
// secret is configured.
type APIKeyConfig struct {
	KeyID      string   `koanf:"key_id"`
	Name       string   `koanf:"name"`
	SecretHash string   `koanf:"secret_hash"`
	Role       string   `koanf:"role"`
	RateLimit  int      `koanf:"rate_limit"`
	Allowlist  []string `koanf:"allowlist"`
	Disabled   bool     `koanf:"disabled"`
}

// EditorSection configures editor sessions opened on the local socket.
type EditorSection struct {
	CanvasWidth      float64       `koanf:"canvas_width"`
	CanvasHeight     float64       `koanf:"canvas_height"`
	HistoryLimit     int           `koanf:"history_limit"`
	HistoryDebounce  time.Duration `koanf:"history_debounce"`
	AutosaveDebounce time.Duration `koanf:"autosave_debounce"`
	AutosaveTimeout  time.Duration `koanf:"autosave_timeout"`
	// AutosaveRate caps persists per second per session. Zero is unlimited.
	AutosaveRate float64       `koanf:"autosave_rate"`
	FetchTimeout time.Duration `koanf:"fetch_timeout"`
	ImageTimeout time.Duration `koanf:"image_timeout"`
}

// RemoteSection points editor sessions at another server's canvas API.
// An empty BaseURL persists to this server's own store.
type RemoteSection struct {
	BaseURL   string        `koanf:"base_url"`
	Timeout   time.Duration `koanf:"timeout"`
	KeyID     string        `koanf:"key_id"`
	KeySecret string        `koanf:"key_secret"`
	// CAFile adds trusted roots for an HTTPS BaseURL.
	CAFile string `koanf:"ca_file"`
}

// LogSection configures logging.
type LogSection struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}
