package history

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/yndnr/retouch-go/internal/core/codec"
	"github.com/yndnr/retouch-go/internal/core/domain"
	"github.com/yndnr/retouch-go/internal/telemetry/metric"
	"github.com/yndnr/retouch-go/pkg/debounce"
)

// Defaults.
const (
	DefaultLimit    = 50
	DefaultDebounce = 250 * time.Millisecond
)

// Surface is the scene the history records and restores.
type Surface interface {
	// Scene returns the current scene.
	Scene() *domain.Scene
	// Restore replaces the scene contents. It returns once the new scene is
	// in place.
	Restore(ctx context.Context, scene *domain.Scene) error
}

// Reapplier rebakes a layer's filter table after a restore.
type Reapplier interface {
	Reapply(layer *domain.Layer) ([]domain.Effect, error)
}

// CommitListener is told about every appended snapshot.
type CommitListener interface {
	OnHistoryCommitted(snap domain.Snapshot)
}

// Status is a point-in-time view of the history.
type Status struct {
	Len     int  `json:"len"`
	Cursor  int  `json:"cursor"`
	CanUndo bool `json:"can_undo"`
	CanRedo bool `json:"can_redo"`
}

// Config configures a Manager.
type Config struct {
	Limit    int
	Debounce time.Duration
	Clock    debounce.Clock
	Post     debounce.Poster
}

// Option configures optional Manager collaborators.
type Option func(*Manager)

// WithCommitListener registers the listener told about each commit.
func WithCommitListener(l CommitListener) Option {
	return func(m *Manager) { m.listener = l }
}

// WithReapplier sets what rebakes the primary image after a restore.
func WithReapplier(r Reapplier) Option {
	return func(m *Manager) { m.reapplier = r }
}

// WithStatusHook registers a function called after every change of Status.
func WithStatusHook(fn func(Status)) Option {
	return func(m *Manager) { m.statusHook = fn }
}

// WithRestoreHook registers a function called after each successful restore
// with the re-derived primary image (nil if the scene has none).
func WithRestoreHook(fn func(primary *domain.Layer)) Option {
	return func(m *Manager) { m.restoreHook = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMetrics sets the metrics registry.
func WithMetrics(r *metric.Registry) Option {
	return func(m *Manager) { m.metrics = r }
}

// Manager is the undo/redo history of one editor session.
//
// Manager methods other than Status are meant to run on the session's
// event loop.
type Manager struct {
	codec   codec.Codec
	surface Surface
	gate    *domain.Gate
	limit   int
	timer   *debounce.Timer

	listener    CommitListener
	reapplier   Reapplier
	statusHook  func(Status)
	restoreHook func(*domain.Layer)
	logger      *slog.Logger
	metrics     *metric.Registry

	mu      sync.RWMutex
	entries []domain.Snapshot
	cursor  int
	seeded  bool
}

// NewManager creates an empty history.
func NewManager(c codec.Codec, surface Surface, gate *domain.Gate, cfg Config, opts ...Option) *Manager {
	if cfg.Limit < 1 {
		cfg.Limit = DefaultLimit
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}

	m := &Manager{
		codec:   c,
		surface: surface,
		gate:    gate,
		limit:   cfg.Limit,
		cursor:  -1,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.timer = debounce.New(cfg.Debounce, m.onTimer,
		debounce.WithClock(cfg.Clock),
		debounce.WithPoster(cfg.Post))
	return m
}

// ============================================================================
// Recording
// ============================================================================

// Notify reports a scene change. Changes arriving while recording is
// suppressed are dropped; otherwise the debounce window restarts.
func (m *Manager) Notify() {
	if m.gate.Suppressed() {
		m.metrics.IncHistorySuppressed()
		return
	}
	m.timer.Trigger()
}

// Pending reports whether a debounced record is scheduled.
func (m *Manager) Pending() bool {
	return m.timer.Pending()
}

// Flush records a pending debounced change immediately.
func (m *Manager) Flush() {
	m.timer.Flush()
}

// Cancel drops a pending debounced change.
func (m *Manager) Cancel() {
	m.timer.Cancel()
}

func (m *Manager) onTimer() {
	if _, err := m.RecordIfEligible(); err != nil {
		m.logger.Error("history record failed", "error", err)
	}
}

// RecordIfEligible snapshots the current scene and appends it.
//
// It returns false without touching the history while recording is
// suppressed or when the snapshot equals the current entry.
func (m *Manager) RecordIfEligible() (bool, error) {
	if m.gate.Suppressed() {
		m.metrics.IncHistorySuppressed()
		return false, nil
	}

	snap, err := m.codec.Serialize(m.surface.Scene())
	if err != nil {
		return false, err
	}

	if !m.push(snap) {
		m.metrics.IncHistoryDuplicate()
		return false, nil
	}

	m.metrics.IncHistoryCommit()
	m.logger.Debug("history committed",
		"bytes", snap.Len(),
		"digest", snap.ETag())
	m.notifyStatus()
	if m.listener != nil {
		m.listener.OnHistoryCommitted(snap)
	}
	return true, nil
}

// push applies truncation, duplicate suppression and eviction.
func (m *Manager) push(snap domain.Snapshot) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cursor >= 0 && m.entries[m.cursor].Equal(snap) {
		return false
	}

	// Drop the redo branch.
	m.entries = m.entries[:m.cursor+1]
	m.entries = append(m.entries, snap)

	if over := len(m.entries) - m.limit; over > 0 {
		kept := make([]domain.Snapshot, m.limit)
		copy(kept, m.entries[over:])
		m.entries = kept
		m.metrics.AddHistoryEvictions(over)
	}
	m.cursor = len(m.entries) - 1
	return true
}

// SeedInitial switches the gate live and records entry 0. It must be called
// exactly once, after the scene reached its starting state.
func (m *Manager) SeedInitial() error {
	m.mu.Lock()
	if m.seeded {
		m.mu.Unlock()
		return domain.ErrAlreadySeeded
	}
	m.seeded = true
	m.mu.Unlock()

	// Changes made while bootstrapping are part of the seed.
	m.timer.Cancel()
	m.gate.GoLive()

	_, err := m.RecordIfEligible()
	return err
}

// Seeded reports whether SeedInitial was called.
func (m *Manager) Seeded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.seeded
}

// ============================================================================
// Undo / Redo
// ============================================================================

// Undo restores the previous entry. It returns domain.ErrNothingToUndo at the
// oldest entry.
func (m *Manager) Undo(ctx context.Context) error {
	return m.step(ctx, -1)
}

// Redo restores the next entry. It returns domain.ErrNothingToRedo at the
// newest entry.
func (m *Manager) Redo(ctx context.Context) error {
	return m.step(ctx, 1)
}

func (m *Manager) step(ctx context.Context, delta int) error {
	direction := "undo"
	boundary := domain.ErrNothingToUndo
	if delta > 0 {
		direction = "redo"
		boundary = domain.ErrNothingToRedo
	}

	// A change still inside its debounce window is committed first, so
	// undo reverts it rather than losing it.
	m.timer.Flush()

	m.mu.RLock()
	target := m.cursor + delta
	inRange := m.cursor >= 0 && target >= 0 && target < len(m.entries)
	var snap domain.Snapshot
	if inRange {
		snap = m.entries[target]
	}
	m.mu.RUnlock()

	if !inRange {
		m.metrics.RecordHistoryRestore(direction, "boundary")
		return boundary
	}

	if err := m.restore(ctx, snap); err != nil {
		m.metrics.RecordHistoryRestore(direction, "error")
		return err
	}

	m.mu.Lock()
	m.cursor = target
	m.mu.Unlock()

	m.metrics.RecordHistoryRestore(direction, "ok")
	m.logger.Debug("history restored", "direction", direction, "cursor", target)
	m.notifyStatus()
	return nil
}

// restore replays snap into the surface with the gate held in the
// restoring mode until the rebake has finished.
func (m *Manager) restore(ctx context.Context, snap domain.Snapshot) error {
	end, ok := m.gate.BeginRestore()
	if !ok {
		return domain.ErrSessionNotReady.WithDetails("mode " + m.gate.Mode().String())
	}
	defer end()

	scene, err := m.codec.Deserialize(snap)
	if err != nil {
		return err
	}
	if err := m.surface.Restore(ctx, scene); err != nil {
		return err
	}

	primary := m.surface.Scene().PrimaryImage()
	if m.reapplier != nil && primary.IsLoadedImage() {
		if _, err := m.reapplier.Reapply(primary); err != nil {
			m.logger.Warn("filter rebake after restore failed", "error", err)
		}
	}
	if m.restoreHook != nil {
		m.restoreHook(primary)
	}
	return nil
}

// ============================================================================
// Inspection
// ============================================================================

// Status returns the current history status.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.statusLocked()
}

func (m *Manager) statusLocked() Status {
	return Status{
		Len:     len(m.entries),
		Cursor:  m.cursor,
		CanUndo: m.cursor > 0,
		CanRedo: m.cursor >= 0 && m.cursor < len(m.entries)-1,
	}
}

// Latest returns the entry at the cursor.
func (m *Manager) Latest() (domain.Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cursor < 0 {
		return domain.Snapshot{}, false
	}
	return m.entries[m.cursor], true
}

// Entries returns a copy of the entry list.
func (m *Manager) Entries() []domain.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Snapshot, len(m.entries))
	copy(out, m.entries)
	return out
}

func (m *Manager) notifyStatus() {
	if m.statusHook == nil {
		return
	}
	m.statusHook(m.Status())
}
