package storage

import (
	"context"
	"io"
)

// KVEngine is the embedded key-value store behind the KV canvas
// repository. Implementations are safe for concurrent use.
type KVEngine interface {
	// Get returns ErrKeyNotFound for a missing key.
	Get(ctx context.Context, key []byte) ([]byte, error)
	Set(ctx context.Context, key, value []byte) error
	// Delete returns ErrKeyNotFound for a missing key.
	Delete(ctx context.Context, key []byte) error

	// Update replaces the value under key with the result of fn in one
	// transaction. fn sees nil, false for an absent key. A nil result
	// deletes the key; an error from fn is returned unchanged.
	Update(ctx context.Context, key []byte, fn func(old []byte, exists bool) ([]byte, error)) error

	// Scan visits keys under prefix in order until fn returns false.
	Scan(ctx context.Context, prefix []byte, fn func(key, value []byte) bool) error

	Backup(ctx context.Context, w io.Writer) error
	Restore(ctx context.Context, r io.Reader) error

	// GC reclaims value log space and reports the files rewritten.
	GC(ctx context.Context) (int, error)
	Stats(ctx context.Context) (*KVStats, error)
	Close() error
}

// KVStats reports engine disk usage in bytes and GC activity.
type KVStats struct {
	TotalSize    uint64
	LSMSize      uint64
	ValueLogSize uint64
	LastGCTime   int64 // Unix milliseconds, 0 before the first GC
	GCRewrites   uint64
}

// KVConfig configures an embedded KV engine rooted at Dir.
type KVConfig struct {
	Dir    string
	Badger BadgerConfig
}

// BadgerConfig holds Badger tuning. GCInterval is a time.Duration string
// and GCThreshold the discard ratio passed to RunValueLogGC.
type BadgerConfig struct {
	GCInterval              string
	GCThreshold             float64
	CacheSize               int64
	ValueLogFileSize        int64
	NumMemtables            int
	NumLevelZeroTables      int
	NumLevelZeroTablesStall int

	// SyncWrites fsyncs every commit. A snapshot record is the only copy
	// of a canvas.
	SyncWrites bool
}

func DefaultKVConfig(dir string) KVConfig {
	return KVConfig{Dir: dir, Badger: DefaultBadgerConfig()}
}

func DefaultBadgerConfig() BadgerConfig {
	return BadgerConfig{
		GCInterval:              "10m",
		GCThreshold:             0.5,
		CacheSize:               64 << 20,
		ValueLogFileSize:        256 << 20,
		NumMemtables:            2,
		NumLevelZeroTables:      5,
		NumLevelZeroTablesStall: 10,
		SyncWrites:              true,
	}
}
