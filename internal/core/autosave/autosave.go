// Package autosave persists committed history snapshots to remote storage.
//
// Commits are debounced by a single trailing-edge timer; a commit arriving
// while a persist is pending replaces it, so only the latest snapshot is
// ever sent. Persists are best effort: failures are logged and counted but
// never retried and never touch local history.
package autosave

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/yndnr/retouch-go/internal/core/domain"
	"github.com/yndnr/retouch-go/internal/telemetry/metric"
	"github.com/yndnr/retouch-go/pkg/debounce"
)

// Defaults.
const (
	DefaultDebounce = 1500 * time.Millisecond
	DefaultTimeout  = 10 * time.Second
)

// Persist results recorded in metrics.
const (
	resultOK         = "ok"
	resultFailed     = "failed"
	resultNoCanvas   = "skipped_no_canvas"
	resultUnchanged  = "skipped_unchanged"
	resultSuperseded = "superseded"
	resultDeferred   = "deferred"
)

// Store persists a snapshot under a canvas id.
type Store interface {
	Persist(ctx context.Context, canvasID string, snap domain.Snapshot) error
}

// Config configures a Scheduler.
type Config struct {
	// CanvasID is the durable session identifier. Empty disables persists.
	CanvasID string
	Debounce time.Duration
	// Timeout bounds each persist call.
	Timeout time.Duration
	// Limiter caps persist frequency. Nil means unlimited.
	Limiter *rate.Limiter
	Clock   debounce.Clock
	Post    debounce.Poster
}

// Scheduler debounces and dispatches remote persists for one session.
type Scheduler struct {
	store    Store
	gate     *domain.Gate
	canvasID string
	timeout  time.Duration
	limiter  *rate.Limiter
	timer    *debounce.Timer
	logger   *slog.Logger
	metrics  *metric.Registry

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	pending    domain.Snapshot
	hasPending bool
	persisted  domain.Snapshot
	seq        uint64

	sendMu   sync.Mutex
	sentSeq  uint64
	inflight sync.WaitGroup
}

// New creates a Scheduler.
func New(store Store, gate *domain.Gate, cfg Config, logger *slog.Logger, metrics *metric.Registry) *Scheduler {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		store:    store,
		gate:     gate,
		canvasID: cfg.CanvasID,
		timeout:  cfg.Timeout,
		limiter:  cfg.Limiter,
		logger:   logger.With("canvas_id", cfg.CanvasID),
		metrics:  metrics,
		ctx:      ctx,
		cancel:   cancel,
	}
	s.timer = debounce.New(cfg.Debounce, s.fire,
		debounce.WithClock(cfg.Clock),
		debounce.WithPoster(cfg.Post))
	return s
}

// CanvasID returns the durable session identifier.
func (s *Scheduler) CanvasID() string {
	return s.canvasID
}

// OnHistoryCommitted schedules snap for persistence, replacing any snapshot
// still waiting for the timer. It is a no-op while the gate suppresses
// recording.
func (s *Scheduler) OnHistoryCommitted(snap domain.Snapshot) {
	if s.gate.Suppressed() {
		return
	}

	s.mu.Lock()
	if s.hasPending {
		s.metrics.RecordAutosave(resultSuperseded)
	}
	s.pending = snap
	s.hasPending = true
	s.mu.Unlock()

	s.timer.Trigger()
}

// MarkPersisted records snap as already stored remotely, so an identical
// commit is not sent again.
func (s *Scheduler) MarkPersisted(snap domain.Snapshot) {
	s.mu.Lock()
	s.persisted = snap
	s.mu.Unlock()
}

// Pending reports whether a persist is waiting for the timer.
func (s *Scheduler) Pending() bool {
	return s.timer.Pending()
}

func (s *Scheduler) fire() {
	snap, seq, ok := s.take(true)
	if !ok {
		return
	}
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		s.persist(s.ctx, snap, seq)
	}()
}

// take claims the pending snapshot. With limited set, a call refused by the
// rate limiter puts the snapshot back and re-arms the timer.
func (s *Scheduler) take(limited bool) (domain.Snapshot, uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasPending {
		return domain.Snapshot{}, 0, false
	}
	snap := s.pending

	if s.canvasID == "" {
		s.hasPending = false
		s.pending = domain.Snapshot{}
		s.metrics.RecordAutosave(resultNoCanvas)
		s.logger.Info("autosave skipped: no canvas id configured", "bytes", snap.Len())
		return domain.Snapshot{}, 0, false
	}
	if !s.persisted.IsEmpty() && s.persisted.Equal(snap) {
		s.hasPending = false
		s.pending = domain.Snapshot{}
		s.metrics.RecordAutosave(resultUnchanged)
		return domain.Snapshot{}, 0, false
	}
	if limited && s.limiter != nil && !s.limiter.Allow() {
		s.metrics.RecordAutosave(resultDeferred)
		s.logger.Debug("autosave deferred by rate limit")
		s.timer.Trigger()
		return domain.Snapshot{}, 0, false
	}

	s.hasPending = false
	s.pending = domain.Snapshot{}
	s.seq++
	return snap, s.seq, true
}

// persist sends snap unless a newer snapshot was already sent.
func (s *Scheduler) persist(ctx context.Context, snap domain.Snapshot, seq uint64) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if seq <= s.sentSeq {
		s.metrics.RecordAutosave(resultSuperseded)
		return
	}
	s.sentSeq = seq

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	err := s.store.Persist(ctx, s.canvasID, snap)
	s.metrics.ObserveAutosaveDuration(time.Since(start).Seconds())

	if err != nil {
		s.metrics.RecordAutosave(resultFailed)
		s.logger.Warn("autosave failed",
			"error", err,
			"bytes", snap.Len(),
			"digest", snap.ETag())
		return
	}

	s.metrics.RecordAutosave(resultOK)
	s.logger.Debug("autosave persisted", "bytes", snap.Len(), "digest", snap.ETag())
	s.MarkPersisted(snap)
}

// Flush persists a pending snapshot immediately, bypassing the timer and
// the rate limiter, then waits for every in-flight persist.
func (s *Scheduler) Flush(ctx context.Context) {
	s.timer.Cancel()
	if snap, seq, ok := s.take(false); ok {
		s.persist(ctx, snap, seq)
	}
	s.Wait()
}

// Wait blocks until in-flight persists have finished.
func (s *Scheduler) Wait() {
	s.inflight.Wait()
}

// Stop cancels the timer and any in-flight persist.
func (s *Scheduler) Stop() {
	s.timer.Cancel()
	s.cancel()
}
