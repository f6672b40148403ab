package domain

import "sync/atomic"

// Mode is the session mode. Exactly one mode holds at any instant.
type Mode int32

// Session modes.
const (
	// ModeBootstrapping holds from session start until the starting scene
	// has been seeded into history.
	ModeBootstrapping Mode = iota
	// ModeLive is normal editing: scene changes are recorded.
	ModeLive
	// ModeRestoring holds while undo/redo replays a snapshot into the scene.
	ModeRestoring
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeBootstrapping:
		return "bootstrapping"
	case ModeLive:
		return "live"
	case ModeRestoring:
		return "restoring"
	default:
		return "unknown"
	}
}

// Gate holds the session mode for one editor session. History recording and
// autosave are suppressed whenever the mode is not live.
//
// A Gate is created in ModeBootstrapping and is owned by the session
// context; components receive it explicitly instead of sharing globals.
type Gate struct {
	mode atomic.Int32
}

// NewGate returns a gate in ModeBootstrapping.
func NewGate() *Gate {
	return &Gate{}
}

// Mode returns the current mode.
func (g *Gate) Mode() Mode {
	return Mode(g.mode.Load())
}

// Suppressed reports whether recording must be skipped (initial load or
// history restore in progress).
func (g *Gate) Suppressed() bool {
	return g.Mode() != ModeLive
}

// IsInitialLoad reports whether the session is still bootstrapping.
func (g *Gate) IsInitialLoad() bool {
	return g.Mode() == ModeBootstrapping
}

// IsRestoring reports whether a history restore is in progress.
func (g *Gate) IsRestoring() bool {
	return g.Mode() == ModeRestoring
}

// GoLive ends bootstrapping. It reports whether the transition happened.
func (g *Gate) GoLive() bool {
	return g.mode.CompareAndSwap(int32(ModeBootstrapping), int32(ModeLive))
}

// BeginRestore enters ModeRestoring from ModeLive. The returned function
// restores ModeLive and must be called once the restore, including any
// completion work it triggers, has finished. ok is false when the gate was
// not live, in which case end is a no-op.
func (g *Gate) BeginRestore() (end func(), ok bool) {
	if !g.mode.CompareAndSwap(int32(ModeLive), int32(ModeRestoring)) {
		return func() {}, false
	}
	return func() {
		g.mode.CompareAndSwap(int32(ModeRestoring), int32(ModeLive))
	}, true
}
