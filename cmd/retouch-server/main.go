package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/yndnr/retouch-go/internal/core/service"
	"github.com/yndnr/retouch-go/internal/infra/buildinfo"
	"github.com/yndnr/retouch-go/internal/infra/confloader"
	"github.com/yndnr/retouch-go/internal/infra/shutdown"
	"github.com/yndnr/retouch-go/internal/infra/tlsroots"
	"github.com/yndnr/retouch-go/internal/remote"
	"github.com/yndnr/retouch-go/internal/render"
	"github.com/yndnr/retouch-go/internal/server/config"
	"github.com/yndnr/retouch-go/internal/server/httpserver"
	"github.com/yndnr/retouch-go/internal/server/localserver"
	"github.com/yndnr/retouch-go/internal/storage"
	"github.com/yndnr/retouch-go/internal/storage/memory"
	"github.com/yndnr/retouch-go/internal/telemetry/logger"
	"github.com/yndnr/retouch-go/internal/telemetry/metric"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configFile  = flag.String("config", "", "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println(buildinfo.String())
		return nil
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stdout,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	slog.SetDefault(log.Logger)

	log.Info("starting retouch-server",
		"version", buildinfo.Version,
		"commit", buildinfo.Commit,
		"config", *configFile)
	log.Debug("effective configuration", "config", config.Sanitize(cfg))

	metrics := metric.Global()
	shutdownHandler := shutdown.NewHandler(cfg.Server.HTTP.ShutdownTimeout, log.Logger)

	// Storage
	backend, err := storage.Open(storageConfig(cfg), log.Logger, metrics)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	shutdownHandler.OnShutdown("storage", func(context.Context) error {
		return backend.Close()
	})

	// Services
	canvases := service.NewCanvasService(backend.Canvases,
		service.WithStrictSnapshots(cfg.Storage.StrictSnapshots),
		service.WithCanvasLogger(log.Logger),
		service.WithCanvasMetrics(metrics))

	keys, err := cfg.Security.BuildAPIKeys()
	if err != nil {
		return fmt.Errorf("load api keys: %w", err)
	}
	keyStore := memory.NewAPIKeyStore()
	if err := keyStore.Seed(keys); err != nil {
		return fmt.Errorf("load api keys: %w", err)
	}
	authCfg := service.DefaultAuthServiceConfig()
	authCfg.GlobalAllowlist = cfg.Security.GlobalAllowlist
	authCfg.Logger = log.Logger
	authSvc := service.NewAuthService(keyStore, authCfg)
	if len(keys) == 0 {
		log.Warn("no api keys configured, the HTTP API will reject every authenticated route")
	}

	// Editor sessions persist to another server when one is configured.
	var sessionStore remote.Store = canvases
	if cfg.Remote.BaseURL != "" {
		store, err := remoteStore(cfg, log.Logger)
		if err != nil {
			return fmt.Errorf("init remote store: %w", err)
		}
		sessionStore = store
		log.Info("editor sessions persist remotely", "base_url", store.BaseURL())
	}

	local := localserver.NewHandler(localserver.HandlerConfig{
		Editor: service.EditorConfig{
			HistoryLimit:     cfg.Editor.HistoryLimit,
			HistoryDebounce:  cfg.Editor.HistoryDebounce,
			AutosaveDebounce: cfg.Editor.AutosaveDebounce,
			AutosaveTimeout:  cfg.Editor.AutosaveTimeout,
			AutosaveRate:     cfg.Editor.AutosaveRate,
			FetchTimeout:     cfg.Editor.FetchTimeout,
		},
		CanvasWidth:  cfg.Editor.CanvasWidth,
		CanvasHeight: cfg.Editor.CanvasHeight,
		Store:        sessionStore,
		Loader:       render.NewHTTPLoader(&http.Client{Timeout: cfg.Editor.ImageTimeout}, log.Logger),
		CloseTimeout: cfg.Editor.AutosaveTimeout,
		Logger:       log.Logger,
		Metrics:      metrics,
	})

	// HTTP API
	var draining atomic.Bool
	started := time.Now()
	routerCfg := &httpserver.RouterConfig{
		CanvasService: canvases,
		AuthService:   authSvc,
		APIKeys:       keyStore,
		Ready: func(context.Context) error {
			if draining.Load() {
				return errors.New("shutting down")
			}
			return nil
		},
		Status: func() map[string]any {
			status := map[string]any{
				"storage":  backend.Name,
				"sessions": local.ActiveSessions(),
				"uptime":   time.Since(started).Round(time.Second).String(),
			}
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if st, err := backend.Stats(ctx); err == nil && st != nil {
				status["storage_bytes"] = st.TotalSize
				status["gc_rewrites"] = st.GCRewrites
			}
			return status
		},
		Metrics:             metrics,
		Logger:              log.Logger,
		AdminAllowList:      cfg.Server.HTTP.AdminAllowList,
		MetricsAuthRequired: cfg.Server.HTTP.MetricsAuth,
		CORSAllowedOrigins:  cfg.Server.HTTP.CORSOrigins,
		GlobalRateLimit:     cfg.Server.HTTP.RateLimit,
		EnableAudit:         cfg.Server.HTTP.Audit,
	}
	if backend.SupportsBackup() {
		routerCfg.Backup = backend
	}
	httpServer := httpserver.New(cfg.Server.HTTP.Addr, httpserver.NewRouter(routerCfg))

	useTLS := cfg.Server.HTTP.TLSCertFile != ""
	if useTLS {
		tlsCfg, err := serverTLS(cfg, log.Logger, shutdownHandler)
		if err != nil {
			return fmt.Errorf("init tls: %w", err)
		}
		httpServer.SetTLSConfig(tlsCfg)
	}

	shutdownHandler.OnShutdown("http", func(ctx context.Context) error {
		draining.Store(true)
		return httpServer.Shutdown(ctx)
	})

	go func() {
		log.Info("HTTP server listening", "addr", cfg.Server.HTTP.Addr, "tls", useTLS)
		var err error
		if useTLS {
			err = httpServer.ListenAndServeTLS("", "")
		} else {
			err = httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", "error", err)
			shutdownHandler.Trigger("http server failed")
		}
	}()

	// Local control socket
	if cfg.Server.Local.Enabled {
		localServer := localserver.New(cfg.Server.Local.Path, local, log.Logger)
		if err := localServer.Listen(); err != nil {
			shutdownHandler.Run()
			return fmt.Errorf("local socket: %w", err)
		}
		shutdownHandler.OnShutdown("local", localServer.Shutdown)
		go func() {
			if err := localServer.Serve(); err != nil {
				log.Error("local socket error", "error", err)
				shutdownHandler.Trigger("local socket failed")
			}
		}()
	}

	if *configFile != "" {
		watchLogLevel(*configFile, log, shutdownHandler)
	}

	log.Info("server started, press Ctrl+C to stop")
	if err := shutdownHandler.Wait(context.Background()); err != nil {
		log.Error("shutdown error", "error", err)
		return err
	}

	log.Info("server stopped gracefully")
	return nil
}

// loadConfig loads configuration from file and environment.
func loadConfig(configFile string) (*config.ServerConfig, error) {
	cfg := config.Default()

	opts := []confloader.Option{
		confloader.WithFileRefs("security.encryption_key", "remote.key_secret"),
	}
	if configFile != "" {
		opts = append(opts, confloader.WithConfigFile(configFile))
	}
	if err := confloader.NewLoader(opts...).Load(cfg); err != nil {
		return nil, err
	}

	if err := config.Verify(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// watchLogLevel applies log.level changes from the config file without a
// restart. Other settings need a restart.
func watchLogLevel(path string, log *logger.Logger, sh *shutdown.Handler) {
	w, err := confloader.NewWatcher(confloader.WithWatcherLogger(log.Logger))
	if err == nil {
		err = w.Watch(path)
	}
	if err != nil {
		log.Warn("config watcher disabled", "error", err)
		return
	}
	w.OnChange(func(string) {
		cfg, err := loadConfig(path)
		if err != nil {
			log.Warn("config reload rejected", "error", err)
			return
		}
		if cfg.Log.Level == log.Level() {
			return
		}
		if err := log.SetLevel(cfg.Log.Level); err != nil {
			log.Warn("log level not applied", "error", err)
			return
		}
		log.Info("log level changed", "level", cfg.Log.Level)
	})
	w.StartAsync()
	sh.OnShutdown("config-watcher", func(context.Context) error {
		return w.Stop()
	})
}

func storageConfig(cfg *config.ServerConfig) storage.Config {
	badger := storage.DefaultBadgerConfig()
	if cfg.Storage.Badger.GCInterval != "" {
		badger.GCInterval = cfg.Storage.Badger.GCInterval
	}
	if cfg.Storage.Badger.GCThreshold > 0 {
		badger.GCThreshold = cfg.Storage.Badger.GCThreshold
	}
	if cfg.Storage.Badger.CacheSizeMB > 0 {
		badger.CacheSize = int64(cfg.Storage.Badger.CacheSizeMB) << 20
	}
	badger.SyncWrites = cfg.Storage.Badger.SyncWrites

	return storage.Config{
		Backend:       cfg.Storage.Backend,
		DataDir:       cfg.Storage.DataDir,
		EncryptionKey: cfg.Security.EncryptionKey,
		Badger:        badger,
	}
}

func remoteStore(cfg *config.ServerConfig, log *slog.Logger) (*remote.HTTPStore, error) {
	store := remote.NewHTTPStore(cfg.Remote.BaseURL, cfg.Remote.Timeout, log)
	if cfg.Remote.CAFile != "" {
		pool, err := tlsroots.LoadFile(cfg.Remote.CAFile)
		if err != nil {
			return nil, err
		}
		store.WithClient(&http.Client{
			Timeout:   cfg.Remote.Timeout,
			Transport: &http.Transport{TLSClientConfig: pool.ClientTLSConfig()},
		})
	}
	if cfg.Remote.KeyID != "" {
		store.WithAPIKey(cfg.Remote.KeyID, cfg.Remote.KeySecret)
	}
	return store, nil
}

// serverTLS loads the serving certificate and keeps it fresh on disk
// changes. A client CA file turns on mutual TLS.
func serverTLS(cfg *config.ServerConfig, log *slog.Logger, sh *shutdown.Handler) (*tls.Config, error) {
	w, err := tlsroots.NewWatcher(cfg.Server.HTTP.TLSCertFile, cfg.Server.HTTP.TLSKeyFile, tlsroots.WithLogger(log))
	if err != nil {
		return nil, err
	}
	w.StartAsync()
	sh.OnShutdown("cert-watcher", func(context.Context) error {
		w.Stop()
		return nil
	})

	var clientCAs *tlsroots.Pool
	if cfg.Server.HTTP.TLSClientCAFile != "" {
		if clientCAs, err = tlsroots.LoadFile(cfg.Server.HTTP.TLSClientCAFile); err != nil {
			return nil, err
		}
	}
	return tlsroots.ServerTLSConfig(w, clientCAs), nil
}
