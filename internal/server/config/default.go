package config

import "time"

// Default configuration values.
const (
	DefaultHTTPAddr        = "127.0.0.1:5080"
	DefaultLocalSocket     = "/var/run/retouch-server/retouch-server.sock"
	DefaultRateLimit       = 1000
	DefaultShutdownTimeout = 15 * time.Second

	DefaultBackend    = "badger"
	DefaultDataDir    = "/var/lib/retouch-server/data"
	DefaultGCInterval = "10m"

	DefaultCanvasWidth      = 1280
	DefaultCanvasHeight     = 800
	DefaultHistoryLimit     = 50
	DefaultHistoryDebounce  = 250 * time.Millisecond
	DefaultAutosaveDebounce = 1500 * time.Millisecond
	DefaultAutosaveTimeout  = 10 * time.Second
	DefaultFetchTimeout     = 15 * time.Second
	DefaultImageTimeout     = 30 * time.Second
	DefaultRemoteTimeout    = 15 * time.Second

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// Default returns the default server configuration.
func Default() *ServerConfig {
	return &ServerConfig{
		Server: ServerSection{
			HTTP: HTTPConfig{
				Addr:            DefaultHTTPAddr,
				RateLimit:       DefaultRateLimit,
				MetricsAuth:     true,
				Audit:           true,
				ShutdownTimeout: DefaultShutdownTimeout,
			},
			Local: LocalConfig{
				Enabled: true,
				Path:    DefaultLocalSocket,
			},
		},
		Storage: StorageSection{
			Backend: DefaultBackend,
			DataDir: DefaultDataDir,
			Badger: BadgerSection{
				GCInterval:  DefaultGCInterval,
				GCThreshold: 0.5,
				CacheSizeMB: 64,
				SyncWrites:  true,
			},
		},
		Editor: EditorSection{
			CanvasWidth:      DefaultCanvasWidth,
			CanvasHeight:     DefaultCanvasHeight,
			HistoryLimit:     DefaultHistoryLimit,
			HistoryDebounce:  DefaultHistoryDebounce,
			AutosaveDebounce: DefaultAutosaveDebounce,
			AutosaveTimeout:  DefaultAutosaveTimeout,
			FetchTimeout:     DefaultFetchTimeout,
			ImageTimeout:     DefaultImageTimeout,
		},
		Remote: RemoteSection{
			Timeout: DefaultRemoteTimeout,
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}
