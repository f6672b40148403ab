package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ErrKeyNotFound = errors.New("key not found")
	ErrClosed      = errors.New("kv engine closed")
)

const (
	// maxUpdateRetries bounds retries of a read-modify-write that lost a
	// transaction conflict.
	maxUpdateRetries = 16

	// gcRunTimeout caps one scheduled value log GC pass.
	gcRunTimeout = 5 * time.Minute

	// restoreBatch is the pending-write limit used when loading a backup.
	restoreBatch = 256
)

// BadgerEngine implements KVEngine on Badger v3. Canvas records are
// written through Update, which relies on Badger's conflict detection.
type BadgerEngine struct {
	db     *badger.DB
	cfg    BadgerConfig
	logger *slog.Logger
	closed atomic.Bool

	lastGC     atomic.Int64 // Unix milliseconds
	gcRewrites atomic.Uint64

	stop   context.CancelFunc
	gcDone chan struct{}
}

var _ KVEngine = (*BadgerEngine)(nil)

// NewBadgerEngine opens (or creates) a Badger database under cfg.Dir and
// starts the value log GC loop.
func NewBadgerEngine(cfg KVConfig, logger *slog.Logger) (*BadgerEngine, error) {
	if cfg.Dir == "" {
		return nil, errors.New("badger: dir is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	tuning := cfg.Badger

	opts := badger.DefaultOptions(cfg.Dir).
		WithLogger(badgerLogger{logger.With("component", "badger")}).
		WithBlockCacheSize(tuning.CacheSize).
		WithValueLogFileSize(tuning.ValueLogFileSize).
		WithNumMemtables(tuning.NumMemtables).
		WithNumLevelZeroTables(tuning.NumLevelZeroTables).
		WithNumLevelZeroTablesStall(tuning.NumLevelZeroTablesStall).
		WithSyncWrites(tuning.SyncWrites).
		WithDetectConflicts(true)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open %s: %w", cfg.Dir, err)
	}

	interval, err := time.ParseDuration(tuning.GCInterval)
	if err != nil || interval <= 0 {
		logger.Warn("invalid badger gc_interval, using 10m", "value", tuning.GCInterval)
		interval = 10 * time.Minute
	}

	ctx, stop := context.WithCancel(context.Background())
	e := &BadgerEngine{
		db:     db,
		cfg:    tuning,
		logger: logger,
		stop:   stop,
		gcDone: make(chan struct{}),
	}
	go e.gcLoop(ctx, interval)

	logger.Info("badger engine started",
		"dir", cfg.Dir,
		"cache_size", tuning.CacheSize,
		"gc_interval", interval,
		"sync_writes", tuning.SyncWrites)
	return e, nil
}

func (e *BadgerEngine) view(fn func(txn *badger.Txn) error) error {
	if e.closed.Load() {
		return ErrClosed
	}
	return e.db.View(fn)
}

func (e *BadgerEngine) update(fn func(txn *badger.Txn) error) error {
	if e.closed.Load() {
		return ErrClosed
	}
	return e.db.Update(fn)
}

// read returns a copy of the value under key, or ErrKeyNotFound.
func read(txn *badger.Txn, key []byte) ([]byte, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

// Get retrieves a value by key.
func (e *BadgerEngine) Get(_ context.Context, key []byte) ([]byte, error) {
	var value []byte
	err := e.view(func(txn *badger.Txn) error {
		var err error
		value, err = read(txn, key)
		return err
	})
	return value, err
}

// Set stores a key-value pair.
func (e *BadgerEngine) Set(_ context.Context, key, value []byte) error {
	return e.update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

// Delete removes a key.
func (e *BadgerEngine) Delete(_ context.Context, key []byte) error {
	return e.update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrKeyNotFound
			}
			return err
		}
		return txn.Delete(key)
	})
}

// Update runs fn as a read-modify-write in one transaction, retrying when
// a concurrent writer commits the same key first.
func (e *BadgerEngine) Update(ctx context.Context, key []byte, fn func(old []byte, exists bool) ([]byte, error)) error {
	apply := func(txn *badger.Txn) error {
		old, err := read(txn, key)
		exists := err == nil
		if err != nil && !errors.Is(err, ErrKeyNotFound) {
			return err
		}
		next, err := fn(old, exists)
		switch {
		case err != nil:
			return err
		case next != nil:
			return txn.Set(key, next)
		case exists:
			return txn.Delete(key)
		default:
			return nil
		}
	}

	var err error
	for attempt := 1; attempt <= maxUpdateRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err = e.update(apply); !errors.Is(err, badger.ErrConflict) {
			return err
		}
		e.logger.Debug("badger update conflict, retrying", "key", string(key), "attempt", attempt)
	}
	return fmt.Errorf("badger: update %s: %w", key, err)
}

// Scan iterates over keys with prefix in key order.
func (e *BadgerEngine) Scan(ctx context.Context, prefix []byte, fn func(key, value []byte) bool) error {
	return e.view(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if !fn(item.KeyCopy(nil), value) {
				return nil
			}
		}
		return nil
	})
}

// Backup streams a full backup in Badger's backup format.
func (e *BadgerEngine) Backup(_ context.Context, w io.Writer) error {
	if e.closed.Load() {
		return ErrClosed
	}
	if _, err := e.db.Backup(w, 0); err != nil {
		return fmt.Errorf("badger: backup: %w", err)
	}
	return nil
}

// Restore drops every key and loads a backup produced by Backup.
func (e *BadgerEngine) Restore(_ context.Context, r io.Reader) error {
	if e.closed.Load() {
		return ErrClosed
	}
	if err := e.db.DropAll(); err != nil {
		return fmt.Errorf("badger: drop existing data: %w", err)
	}
	if err := e.db.Load(r, restoreBatch); err != nil {
		return fmt.Errorf("badger: load backup: %w", err)
	}
	e.logger.Info("badger backup restored")
	return nil
}

// GC runs value log garbage collection until a pass rewrites nothing.
func (e *BadgerEngine) GC(ctx context.Context) (int, error) {
	if e.closed.Load() {
		return 0, ErrClosed
	}
	started := time.Now()

	rewrites := 0
	var err error
	for ctx.Err() == nil {
		if err = e.db.RunValueLogGC(e.cfg.GCThreshold); err != nil {
			break
		}
		rewrites++
	}
	e.gcRewrites.Add(uint64(rewrites))
	if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
		return rewrites, fmt.Errorf("badger: gc: %w", err)
	}
	e.lastGC.Store(time.Now().UnixMilli())

	e.logger.Debug("badger gc finished", "rewrites", rewrites, "elapsed", time.Since(started))
	return rewrites, nil
}

// Stats returns disk usage and GC counters.
func (e *BadgerEngine) Stats(_ context.Context) (*KVStats, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	lsm, vlog := e.db.Size()
	return &KVStats{
		TotalSize:    uint64(lsm + vlog),
		LSMSize:      uint64(lsm),
		ValueLogSize: uint64(vlog),
		LastGCTime:   e.lastGC.Load(),
		GCRewrites:   e.gcRewrites.Load(),
	}, nil
}

// Close stops the GC loop and closes the database. It is idempotent.
func (e *BadgerEngine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.stop()
	<-e.gcDone

	if err := e.db.Close(); err != nil {
		return fmt.Errorf("badger: close: %w", err)
	}
	e.logger.Info("badger engine closed")
	return nil
}

func (e *BadgerEngine) gcLoop(ctx context.Context, interval time.Duration) {
	defer close(e.gcDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, gcRunTimeout)
			if _, err := e.GC(runCtx); err != nil && !errors.Is(err, ErrClosed) {
				e.logger.Error("scheduled badger gc failed", "error", err)
			}
			cancel()
		}
	}
}

// RegisterMetrics exposes the engine's Stats as Prometheus metrics. The
// values are read at scrape time.
func (e *BadgerEngine) RegisterMetrics(reg prometheus.Registerer) *BadgerEngine {
	reg.MustRegister(newBadgerCollector(e))
	return e
}

type badgerCollector struct {
	engine   *BadgerEngine
	lsm      *prometheus.Desc
	vlog     *prometheus.Desc
	lastGC   *prometheus.Desc
	rewrites *prometheus.Desc
}

func newBadgerCollector(e *BadgerEngine) *badgerCollector {
	name := func(n string) string { return prometheus.BuildFQName("retouch", "badger", n) }
	return &badgerCollector{
		engine:   e,
		lsm:      prometheus.NewDesc(name("lsm_size_bytes"), "Badger LSM tree size in bytes.", nil, nil),
		vlog:     prometheus.NewDesc(name("value_log_size_bytes"), "Badger value log size in bytes.", nil, nil),
		lastGC:   prometheus.NewDesc(name("last_gc_timestamp_seconds"), "Unix time of the last completed value log GC.", nil, nil),
		rewrites: prometheus.NewDesc(name("gc_rewrites_total"), "Value log files rewritten by GC.", nil, nil),
	}
}

func (c *badgerCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.lsm
	ch <- c.vlog
	ch <- c.lastGC
	ch <- c.rewrites
}

func (c *badgerCollector) Collect(ch chan<- prometheus.Metric) {
	st, err := c.engine.Stats(context.Background())
	if err != nil {
		return
	}
	ch <- prometheus.MustNewConstMetric(c.lsm, prometheus.GaugeValue, float64(st.LSMSize))
	ch <- prometheus.MustNewConstMetric(c.vlog, prometheus.GaugeValue, float64(st.ValueLogSize))
	ch <- prometheus.MustNewConstMetric(c.lastGC, prometheus.GaugeValue, float64(st.LastGCTime)/1000)
	ch <- prometheus.MustNewConstMetric(c.rewrites, prometheus.CounterValue, float64(st.GCRewrites))
}

// badgerLogger routes Badger's log output to slog. Badger's info lines
// are chatty and go to debug.
type badgerLogger struct {
	logger *slog.Logger
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
