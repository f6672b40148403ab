package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/yndnr/retouch-go/internal/core/domain"
)

// Storage backend names.
const (
	BackendMemory = "memory"
	BackendBadger = "badger"
	BackendSQLite = "sqlite"
)

// Verify validates the configuration. It reports every problem found.
func Verify(cfg *ServerConfig) error {
	return errors.Join(
		verifyServer(&cfg.Server),
		verifyStorage(&cfg.Storage),
		verifySecurity(&cfg.Security),
		verifyEditor(&cfg.Editor),
		verifyRemote(&cfg.Remote),
		verifyLog(&cfg.Log),
	)
}

func verifyServer(cfg *ServerSection) error {
	var errs []error
	if _, _, err := net.SplitHostPort(cfg.HTTP.Addr); err != nil {
		errs = append(errs, fmt.Errorf("server.http.addr: %w", err))
	}
	if (cfg.HTTP.TLSCertFile == "") != (cfg.HTTP.TLSKeyFile == "") {
		errs = append(errs, errors.New("server.http.tls_cert_file and tls_key_file must be set together"))
	}
	for _, f := range []string{cfg.HTTP.TLSCertFile, cfg.HTTP.TLSKeyFile, cfg.HTTP.TLSClientCAFile} {
		if f == "" {
			continue
		}
		if _, err := os.Stat(f); err != nil {
			errs = append(errs, fmt.Errorf("server.http: %w", err))
		}
	}
	if cfg.HTTP.TLSClientCAFile != "" && cfg.HTTP.TLSCertFile == "" {
		errs = append(errs, errors.New("server.http.tls_client_ca_file requires tls_cert_file"))
	}
	if cfg.HTTP.RateLimit < 0 {
		errs = append(errs, errors.New("server.http.rate_limit must not be negative"))
	}
	if _, err := domain.ParseAllowList(cfg.HTTP.AdminAllowList); err != nil {
		errs = append(errs, fmt.Errorf("server.http.admin_allowlist: %w", err))
	}
	if cfg.Local.Enabled && cfg.Local.Path == "" {
		errs = append(errs, errors.New("server.local.path is required when the local socket is enabled"))
	}
	return errors.Join(errs...)
}

func verifyStorage(cfg *StorageSection) error {
	switch cfg.Backend {
	case BackendMemory:
		return nil
	case BackendBadger, BackendSQLite:
	default:
		return fmt.Errorf("storage.backend: unknown backend %q", cfg.Backend)
	}

	if cfg.DataDir == "" {
		return errors.New("storage.data_dir is required")
	}
	// Check if data directory exists or can be created
	if err := os.MkdirAll(cfg.DataDir, 0750); err != nil {
		return errors.New("cannot create data directory: " + err.Error())
	}

	if cfg.Backend == BackendBadger {
		if d, err := time.ParseDuration(cfg.Badger.GCInterval); err != nil || d <= 0 {
			return fmt.Errorf("storage.badger.gc_interval: invalid duration %q", cfg.Badger.GCInterval)
		}
		if cfg.Badger.GCThreshold <= 0 || cfg.Badger.GCThreshold >= 1 {
			return errors.New("storage.badger.gc_threshold must be between 0 and 1")
		}
		if cfg.Badger.CacheSizeMB < 0 {
			return errors.New("storage.badger.cache_size_mb must not be negative")
		}
	}
	return nil
}

func verifySecurity(cfg *SecuritySection) error {
	var errs []error
	if cfg.EncryptionKey != "" {
		key, err := hex.DecodeString(cfg.EncryptionKey)
		if err != nil || len(key) != 32 {
			errs = append(errs, errors.New("security.encryption_key must be 64 hex characters (32 bytes)"))
		}
	}
	if _, err := domain.ParseAllowList(cfg.GlobalAllowlist); err != nil {
		errs = append(errs, fmt.Errorf("security.global_allowlist: %w", err))
	}
	if _, err := cfg.BuildAPIKeys(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func verifyEditor(cfg *EditorSection) error {
	var errs []error
	if cfg.CanvasWidth <= 0 || cfg.CanvasHeight <= 0 ||
		cfg.CanvasWidth > domain.MaxCanvasDimension || cfg.CanvasHeight > domain.MaxCanvasDimension {
		errs = append(errs, fmt.Errorf("editor.canvas_width and canvas_height must be in 1..%d", domain.MaxCanvasDimension))
	}
	if cfg.HistoryLimit < 1 {
		errs = append(errs, errors.New("editor.history_limit must be at least 1"))
	}
	durations := map[string]time.Duration{
		"history_debounce":  cfg.HistoryDebounce,
		"autosave_debounce": cfg.AutosaveDebounce,
		"autosave_timeout":  cfg.AutosaveTimeout,
		"fetch_timeout":     cfg.FetchTimeout,
		"image_timeout":     cfg.ImageTimeout,
	}
	for name, d := range durations {
		if d < 0 {
			errs = append(errs, fmt.Errorf("editor.%s must not be negative", name))
		}
	}
	if cfg.AutosaveRate < 0 {
		errs = append(errs, errors.New("editor.autosave_rate must not be negative"))
	}
	return errors.Join(errs...)
}

func verifyRemote(cfg *RemoteSection) error {
	if cfg.BaseURL != "" {
		u, err := url.Parse(cfg.BaseURL)
		if err != nil || u.Host == "" {
			return fmt.Errorf("remote.base_url: invalid URL %q", cfg.BaseURL)
		}
	}
	if (cfg.KeyID == "") != (cfg.KeySecret == "") {
		return errors.New("remote.key_id and key_secret must be set together")
	}
	if cfg.Timeout < 0 {
		return errors.New("remote.timeout must not be negative")
	}
	if cfg.CAFile != "" {
		if _, err := os.Stat(cfg.CAFile); err != nil {
			return fmt.Errorf("remote.ca_file: %w", err)
		}
	}
	return nil
}

func verifyLog(cfg *LogSection) error {
	switch strings.ToLower(cfg.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.level: unknown level %q", cfg.Level)
	}
	switch strings.ToLower(cfg.Format) {
	case "json", "text", "console":
	default:
		return fmt.Errorf("log.format: unknown format %q", cfg.Format)
	}
	return nil
}

// BuildAPIKeys converts the provisioned keys into domain keys.
func (s *SecuritySection) BuildAPIKeys() ([]*domain.APIKey, error) {
	keys := make([]*domain.APIKey, 0, len(s.APIKeys))
	seen := make(map[string]bool, len(s.APIKeys))
	for i, kc := range s.APIKeys {
		role := kc.Role
		if role == "" {
			role = string(domain.RoleViewer)
		}
		if !domain.IsValidRole(role) {
			return nil, fmt.Errorf("security.api_keys[%d]: unknown role %q", i, kc.Role)
		}
		if !strings.HasPrefix(kc.SecretHash, "$argon2id$") {
			return nil, fmt.Errorf("security.api_keys[%d]: secret_hash must be an argon2id hash", i)
		}
		rateLimit := kc.RateLimit
		if rateLimit == 0 {
			rateLimit = domain.DefaultRateLimit
		}
		status := domain.KeyStatusActive
		if kc.Disabled {
			status = domain.KeyStatusDisabled
		}
		key := &domain.APIKey{
			KeyID:      strings.ToLower(kc.KeyID),
			Name:       kc.Name,
			SecretHash: kc.SecretHash,
			Role:       domain.Role(role),
			Allowlist:  kc.Allowlist,
			RateLimit:  rateLimit,
			Status:     status,
		}
		if err := key.Validate(); err != nil {
			return nil, fmt.Errorf("security.api_keys[%d]: %w", i, err)
		}
		if seen[key.KeyID] {
			return nil, fmt.Errorf("security.api_keys[%d]: duplicate key_id %s", i, key.KeyID)
		}
		seen[key.KeyID] = true
		keys = append(keys, key)
	}
	return keys, nil
}
