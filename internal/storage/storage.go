package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/yndnr/retouch-go/internal/core/service"
	"github.com/yndnr/retouch-go/internal/storage/memory"
	"github.com/yndnr/retouch-go/internal/telemetry/metric"
)

// Backend names accepted by Config.Backend.
const (
	BackendMemory = "memory"
	BackendBadger = "badger"
	BackendSQLite = "sqlite"
)

// ErrBackupUnsupported is returned by Backup for backends without a
// backup format.
var ErrBackupUnsupported = errors.New("storage backend does not support backup")

// Config selects and configures a canvas storage backend.
type Config struct {
	Backend string

	// DataDir holds the badger directory or the sqlite database file.
	DataDir string

	// EncryptionKey is a hex-encoded 32-byte key. Empty disables at-rest
	// encryption.
	EncryptionKey string

	Badger BadgerConfig
}

// Backend is an opened canvas repository plus the resources behind it.
type Backend struct {
	Name     string
	Canvases service.CanvasRepository

	engine KVEngine
	closer io.Closer
}

// Open opens the configured backend. metrics may be nil.
func Open(cfg Config, logger *slog.Logger, metrics *metric.Registry) (*Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	sealer, err := NewSealerFromHex(cfg.EncryptionKey)
	if err != nil {
		return nil, err
	}

	switch cfg.Backend {
	case BackendMemory, "":
		if sealer != nil {
			logger.Warn("encryption_key is ignored by the memory backend")
		}
		return &Backend{Name: BackendMemory, Canvases: memory.NewCanvasStore()}, nil

	case BackendBadger:
		kvCfg := KVConfig{Dir: filepath.Join(cfg.DataDir, "badger"), Badger: cfg.Badger}
		engine, err := NewBadgerEngine(kvCfg, logger)
		if err != nil {
			return nil, err
		}
		if metrics != nil {
			engine.RegisterMetrics(metrics.Registerer())
		}
		logger.Info("canvas storage ready", "backend", BackendBadger, "encryption", sealer.Algorithm())
		return &Backend{
			Name:     BackendBadger,
			Canvases: NewKVCanvasRepository(engine, sealer),
			engine:   engine,
			closer:   engine,
		}, nil

	case BackendSQLite:
		if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
			return nil, fmt.Errorf("sqlite: create data dir: %w", err)
		}
		repo, err := OpenSQLite(filepath.Join(cfg.DataDir, "canvases.db"), sealer, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("canvas storage ready", "backend", BackendSQLite, "encryption", sealer.Algorithm())
		return &Backend{Name: BackendSQLite, Canvases: repo, closer: repo}, nil

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// SupportsBackup reports whether Backup and Restore are available.
func (b *Backend) SupportsBackup() bool {
	return b.engine != nil
}

// Backup streams a backup of the backend to w.
func (b *Backend) Backup(ctx context.Context, w io.Writer) error {
	if b.engine == nil {
		return ErrBackupUnsupported
	}
	return b.engine.Backup(ctx, w)
}

// Restore replaces the backend contents with a backup.
func (b *Backend) Restore(ctx context.Context, r io.Reader) error {
	if b.engine == nil {
		return ErrBackupUnsupported
	}
	return b.engine.Restore(ctx, r)
}

// Stats returns engine statistics. Backends without an engine return nil.
func (b *Backend) Stats(ctx context.Context) (*KVStats, error) {
	if b.engine == nil {
		return nil, nil
	}
	return b.engine.Stats(ctx)
}

// Close releases the backend's resources.
func (b *Backend) Close() error {
	if b.closer == nil {
		return nil
	}
	return b.closer.Close()
}
