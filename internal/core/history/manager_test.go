package history

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/yndnr/retouch-go/internal/core/codec"
	"github.com/yndnr/retouch-go/internal/core/domain"
	"github.com/yndnr/retouch-go/pkg/debounce"
)

// fakeSurface holds a scene and lets tests hook restores.
type fakeSurface struct {
	scene     *domain.Scene
	restores  int
	onRestore func()
	err       error
}

func (s *fakeSurface) Scene() *domain.Scene { return s.scene }

func (s *fakeSurface) Restore(_ context.Context, scene *domain.Scene) error {
	if s.err != nil {
		return s.err
	}
	s.restores++
	s.scene = scene
	if s.onRestore != nil {
		s.onRestore()
	}
	return nil
}

// setState gives the scene a distinct, recognizable state.
func (s *fakeSurface) setState(n int) {
	s.scene.Background = fmt.Sprintf("#%06d", n)
}

func (s *fakeSurface) state() string { return s.scene.Background }

type commitRecorder struct{ snaps []domain.Snapshot }

func (r *commitRecorder) OnHistoryCommitted(s domain.Snapshot) { r.snaps = append(r.snaps, s) }

type fakeReapplier struct{ layers []*domain.Layer }

func (r *fakeReapplier) Reapply(l *domain.Layer) ([]domain.Effect, error) {
	r.layers = append(r.layers, l)
	return l.Filters.Stack(), nil
}

type harness struct {
	m        *Manager
	surface  *fakeSurface
	gate     *domain.Gate
	clock    *debounce.ManualClock
	commits  *commitRecorder
	reapply  *fakeReapplier
	statuses []Status
}

func newHarness(t *testing.T, limit int) *harness {
	t.Helper()
	h := &harness{
		surface: &fakeSurface{scene: domain.NewScene(100, 100)},
		gate:    domain.NewGate(),
		clock:   debounce.NewManualClock(),
		commits: &commitRecorder{},
		reapply: &fakeReapplier{},
	}
	h.m = NewManager(codec.New(), h.surface, h.gate,
		Config{Limit: limit, Debounce: DefaultDebounce, Clock: h.clock},
		WithCommitListener(h.commits),
		WithReapplier(h.reapply),
		WithStatusHook(func(s Status) { h.statuses = append(h.statuses, s) }),
	)
	return h
}

func (h *harness) seed(t *testing.T) {
	t.Helper()
	h.surface.setState(0)
	if err := h.m.SeedInitial(); err != nil {
		t.Fatalf("SeedInitial() error = %v", err)
	}
}

func (h *harness) record(t *testing.T, state int) {
	t.Helper()
	h.surface.setState(state)
	if _, err := h.m.RecordIfEligible(); err != nil {
		t.Fatalf("RecordIfEligible() error = %v", err)
	}
}

func (h *harness) states(t *testing.T) []string {
	t.Helper()
	c := codec.New()
	var out []string
	for _, s := range h.m.Entries() {
		scene, err := c.Deserialize(s)
		if err != nil {
			t.Fatalf("Deserialize() error = %v", err)
		}
		out = append(out, scene.Background)
	}
	return out
}

func TestManager_Empty(t *testing.T) {
	h := newHarness(t, 5)

	st := h.m.Status()
	if st.Len != 0 || st.Cursor != -1 || st.CanUndo || st.CanRedo {
		t.Errorf("Status() = %+v, want empty with cursor -1", st)
	}
	if _, ok := h.m.Latest(); ok {
		t.Error("Latest() ok = true on empty history")
	}
	if err := h.m.Undo(context.Background()); !errors.Is(err, domain.ErrNothingToUndo) {
		t.Errorf("Undo() error = %v, want ErrNothingToUndo", err)
	}
	if err := h.m.Redo(context.Background()); !errors.Is(err, domain.ErrNothingToRedo) {
		t.Errorf("Redo() error = %v, want ErrNothingToRedo", err)
	}
}

func TestManager_SuppressedBeforeSeed(t *testing.T) {
	h := newHarness(t, 5)

	committed, err := h.m.RecordIfEligible()
	if err != nil || committed {
		t.Fatalf("RecordIfEligible() = %v, %v; want false, nil", committed, err)
	}
	h.m.Notify()
	if h.m.Pending() {
		t.Error("Notify() armed the timer while bootstrapping")
	}
	if h.m.Status().Len != 0 {
		t.Error("history grew before seeding")
	}
}

func TestManager_SeedInitial(t *testing.T) {
	h := newHarness(t, 5)
	h.seed(t)

	st := h.m.Status()
	if st.Len != 1 || st.Cursor != 0 {
		t.Errorf("Status() = %+v, want len 1 cursor 0", st)
	}
	if h.gate.Mode() != domain.ModeLive {
		t.Errorf("Mode() = %v, want live", h.gate.Mode())
	}
	if len(h.commits.snaps) != 1 {
		t.Errorf("commits = %d, want 1", len(h.commits.snaps))
	}
	if !h.m.Seeded() {
		t.Error("Seeded() = false")
	}

	if err := h.m.SeedInitial(); !errors.Is(err, domain.ErrAlreadySeeded) {
		t.Errorf("second SeedInitial() error = %v, want ErrAlreadySeeded", err)
	}
	if h.m.Status().Len != 1 {
		t.Error("second SeedInitial() changed history")
	}
}

func TestManager_DuplicateSuppression(t *testing.T) {
	h := newHarness(t, 5)
	h.seed(t)
	h.record(t, 1)

	before := h.m.Status()
	committed, err := h.m.RecordIfEligible()
	if err != nil {
		t.Fatalf("RecordIfEligible() error = %v", err)
	}
	if committed {
		t.Error("identical state committed")
	}
	if after := h.m.Status(); after != before {
		t.Errorf("Status() changed from %+v to %+v", before, after)
	}
	if len(h.commits.snaps) != 2 {
		t.Errorf("commits = %d, want 2", len(h.commits.snaps))
	}
}

func TestManager_RedoBranchTruncation(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()
	h.seed(t)
	h.record(t, 1)
	h.record(t, 2)

	if err := h.m.Undo(ctx); err != nil {
		t.Fatalf("Undo() error = %v", err)
	}
	if err := h.m.Undo(ctx); err != nil {
		t.Fatalf("Undo() error = %v", err)
	}
	if st := h.m.Status(); st.Cursor != 0 || !st.CanRedo {
		t.Fatalf("Status() = %+v, want cursor 0 with redo", st)
	}

	h.record(t, 3)

	got := h.states(t)
	want := []string{"#000000", "#000003"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("entries = %v, want %v", got, want)
	}
	if st := h.m.Status(); st.Cursor != 1 || st.CanRedo {
		t.Errorf("Status() = %+v, want cursor 1 without redo", st)
	}
}

func TestManager_RecordEqualToCurrentKeepsRedo(t *testing.T) {
	h := newHarness(t, 10)
	h.seed(t)
	h.record(t, 1)
	if err := h.m.Undo(context.Background()); err != nil {
		t.Fatalf("Undo() error = %v", err)
	}

	committed, err := h.m.RecordIfEligible()
	if err != nil || committed {
		t.Fatalf("RecordIfEligible() = %v, %v; want false, nil", committed, err)
	}
	if st := h.m.Status(); st.Len != 2 || !st.CanRedo {
		t.Errorf("Status() = %+v, redo branch lost", st)
	}
}

func TestManager_BoundedGrowth(t *testing.T) {
	const limit = 5
	const extra = 3
	h := newHarness(t, limit)
	h.seed(t)

	// Seed is state 0; record states 1..limit+extra-1 for limit+extra total.
	for i := 1; i < limit+extra; i++ {
		h.record(t, i)
	}

	st := h.m.Status()
	if st.Len != limit || st.Cursor != limit-1 {
		t.Fatalf("Status() = %+v, want len %d cursor %d", st, limit, limit-1)
	}
	got := h.states(t)
	if got[0] != fmt.Sprintf("#%06d", extra) {
		t.Errorf("oldest entry = %s, want state %d", got[0], extra)
	}
	if got[limit-1] != fmt.Sprintf("#%06d", limit+extra-1) {
		t.Errorf("newest entry = %s", got[limit-1])
	}
}

func TestManager_UndoRedoRoundTrip(t *testing.T) {
	const n = 6
	h := newHarness(t, 50)
	ctx := context.Background()
	h.seed(t)
	for i := 1; i < n; i++ {
		h.record(t, i)
	}
	final, _ := codec.New().Serialize(h.surface.Scene())

	for i := 0; i < n-1; i++ {
		if err := h.m.Undo(ctx); err != nil {
			t.Fatalf("Undo() #%d error = %v", i, err)
		}
	}
	if h.surface.state() != "#000000" {
		t.Errorf("after undos state = %s, want seed", h.surface.state())
	}
	if err := h.m.Undo(ctx); !errors.Is(err, domain.ErrNothingToUndo) {
		t.Errorf("Undo() at start error = %v, want ErrNothingToUndo", err)
	}

	for i := 0; i < n-1; i++ {
		if err := h.m.Redo(ctx); err != nil {
			t.Fatalf("Redo() #%d error = %v", i, err)
		}
	}
	if err := h.m.Redo(ctx); !errors.Is(err, domain.ErrNothingToRedo) {
		t.Errorf("Redo() at end error = %v, want ErrNothingToRedo", err)
	}

	got, _ := codec.New().Serialize(h.surface.Scene())
	if !got.Equal(final) {
		t.Errorf("round trip state differs:\n%s\n%s", got, final)
	}
	if len(h.commits.snaps) != n {
		t.Errorf("commits = %d, want %d (restores must not commit)", len(h.commits.snaps), n)
	}
}

func TestManager_GateSuppressionDuringRestore(t *testing.T) {
	h := newHarness(t, 10)
	h.seed(t)
	h.record(t, 1)

	var sawRestoring bool
	h.surface.onRestore = func() {
		sawRestoring = h.gate.IsRestoring()
		for i := 0; i < 10; i++ {
			h.m.Notify()
		}
		h.surface.setState(99)
		if committed, _ := h.m.RecordIfEligible(); committed {
			t.Error("RecordIfEligible() committed during restore")
		}
	}

	before := h.m.Status()
	if err := h.m.Undo(context.Background()); err != nil {
		t.Fatalf("Undo() error = %v", err)
	}
	if !sawRestoring {
		t.Error("gate was not restoring during scene mutation")
	}
	if h.m.Pending() {
		t.Error("scene changes during restore armed the timer")
	}
	if h.gate.Mode() != domain.ModeLive {
		t.Errorf("Mode() = %v after undo, want live", h.gate.Mode())
	}
	st := h.m.Status()
	if st.Len != before.Len || st.Cursor != before.Cursor-1 {
		t.Errorf("Status() = %+v, want len %d cursor %d", st, before.Len, before.Cursor-1)
	}
	if len(h.commits.snaps) != 2 {
		t.Errorf("commits = %d, want 2", len(h.commits.snaps))
	}
}

func TestManager_RestoreRebakesPrimaryImage(t *testing.T) {
	h := newHarness(t, 10)
	img := domain.NewImageLayer("a.png", 10, 10)
	img.Filters.Set(domain.SlotBlur, domain.Effect{Kind: domain.EffectBlur, Params: map[string]float64{"blur": 0.5}})
	h.surface.scene.Layers = append(h.surface.scene.Layers, domain.NewTextLayer(1, 1), img)

	var primaries []*domain.Layer
	h.m.restoreHook = func(l *domain.Layer) { primaries = append(primaries, l) }

	h.seed(t)
	h.record(t, 1)
	if err := h.m.Undo(context.Background()); err != nil {
		t.Fatalf("Undo() error = %v", err)
	}

	if len(h.reapply.layers) != 1 {
		t.Fatalf("reapply calls = %d, want 1", len(h.reapply.layers))
	}
	if h.reapply.layers[0].ID != img.ID {
		t.Errorf("rebaked layer %q, want primary %q", h.reapply.layers[0].ID, img.ID)
	}
	if h.reapply.layers[0] == img {
		t.Error("rebaked the stale pre-restore layer")
	}
	if len(primaries) != 1 || primaries[0] != h.surface.scene.PrimaryImage() {
		t.Error("restore hook did not receive the re-derived primary image")
	}
}

func TestManager_RestoreFailureKeepsCursor(t *testing.T) {
	h := newHarness(t, 10)
	h.seed(t)
	h.record(t, 1)

	h.surface.err = errors.New("surface gone")
	if err := h.m.Undo(context.Background()); err == nil {
		t.Fatal("Undo() error = nil")
	}
	if st := h.m.Status(); st.Cursor != 1 {
		t.Errorf("Cursor = %d after failed undo, want 1", st.Cursor)
	}
	if h.gate.Mode() != domain.ModeLive {
		t.Errorf("Mode() = %v after failed undo, want live", h.gate.Mode())
	}
}

func TestManager_DebouncedNotify(t *testing.T) {
	h := newHarness(t, 10)
	h.seed(t)

	for i := 1; i <= 5; i++ {
		h.surface.setState(i)
		h.m.Notify()
		h.clock.Advance(100 * time.Millisecond)
	}
	if h.m.Status().Len != 1 {
		t.Fatalf("recorded inside the debounce window")
	}

	h.clock.Advance(DefaultDebounce)
	st := h.m.Status()
	if st.Len != 2 {
		t.Fatalf("Len = %d, want 2", st.Len)
	}
	got := h.states(t)
	if got[1] != "#000005" {
		t.Errorf("recorded %s, want latest state", got[1])
	}
}

func TestManager_UndoFlushesPendingChange(t *testing.T) {
	h := newHarness(t, 10)
	h.seed(t)

	h.surface.setState(1)
	h.m.Notify()
	if err := h.m.Undo(context.Background()); err != nil {
		t.Fatalf("Undo() error = %v", err)
	}

	if h.surface.state() != "#000000" {
		t.Errorf("state = %s after undo, want seed", h.surface.state())
	}
	if st := h.m.Status(); st.Len != 2 || st.Cursor != 0 {
		t.Errorf("Status() = %+v, want len 2 cursor 0", st)
	}
	if h.m.Pending() {
		t.Error("timer still pending after undo")
	}
}

func TestManager_StatusHook(t *testing.T) {
	h := newHarness(t, 10)
	h.seed(t)
	h.record(t, 1)
	if err := h.m.Undo(context.Background()); err != nil {
		t.Fatalf("Undo() error = %v", err)
	}

	want := []Status{
		{Len: 1, Cursor: 0},
		{Len: 2, Cursor: 1, CanUndo: true},
		{Len: 2, Cursor: 0, CanRedo: true},
	}
	if len(h.statuses) != len(want) {
		t.Fatalf("statuses = %+v, want %+v", h.statuses, want)
	}
	for i := range want {
		if h.statuses[i] != want[i] {
			t.Errorf("statuses[%d] = %+v, want %+v", i, h.statuses[i], want[i])
		}
	}
}
