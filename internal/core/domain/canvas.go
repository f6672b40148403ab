package domain

import (
	"crypto/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Canvas constraints.
const (
	// CanvasIDPrefix is the prefix for generated canvas IDs.
	CanvasIDPrefix = "rtcv-"

	MaxCanvasIDLength = 128

	// MaxSnapshotSize is the largest snapshot payload the store accepts.
	MaxSnapshotSize = 8 << 20
)

// Canvas is a durably persisted editor session: the latest snapshot stored
// under a canvas identifier.
type Canvas struct {
	ID        string   `json:"id"`
	Snapshot  Snapshot `json:"-"`
	CreatedAt int64    `json:"created_at"` // Unix milliseconds
	UpdatedAt int64    `json:"updated_at"` // Unix milliseconds
	Version   uint64   `json:"version"`
}

// GenerateCanvasID generates a canvas ID: rtcv-{ulid_lowercase}.
func GenerateCanvasID() (string, error) {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		return "", ErrInternalServer.WithCause(err)
	}
	return CanvasIDPrefix + strings.ToLower(id.String()), nil
}

// ValidateCanvasID checks a canvas identifier. Host applications may bring
// their own identifiers, so any 1-128 characters of [A-Za-z0-9_-] are
// accepted. Identifiers with the generated prefix must carry a valid ULID.
func ValidateCanvasID(id string) error {
	if id == "" {
		return ErrCanvasValidation.WithDetails("canvas id is required")
	}
	if len(id) > MaxCanvasIDLength {
		return ErrCanvasValidation.WithDetails("canvas id too long")
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return ErrCanvasValidation.WithDetails("canvas id contains invalid characters")
		}
	}
	if rest, ok := strings.CutPrefix(id, CanvasIDPrefix); ok {
		if _, err := ulid.Parse(strings.ToUpper(rest)); err != nil {
			return ErrCanvasValidation.WithDetails("invalid canvas id ulid").WithCause(err)
		}
	}
	return nil
}

// ValidateSnapshotPayload checks a snapshot before it is stored.
func ValidateSnapshotPayload(s Snapshot) error {
	if s.IsEmpty() {
		return ErrCanvasValidation.WithDetails("snapshot is required")
	}
	if s.Len() > MaxSnapshotSize {
		return ErrCanvasTooLarge
	}
	return nil
}

// GetVersion returns the optimistic concurrency version.
func (c *Canvas) GetVersion() uint64 { return c.Version }

// SetVersion sets the optimistic concurrency version.
func (c *Canvas) SetVersion(v uint64) { c.Version = v }

// Clone returns a copy of the canvas. Snapshots are immutable and shared.
func (c *Canvas) Clone() *Canvas {
	cp := *c
	return &cp
}
