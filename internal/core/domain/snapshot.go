package domain

import (
	"bytes"
	"strconv"

	"github.com/spaolacci/murmur3"
)

// Snapshot is an immutable serialized representation of the whole scene.
//
// The zero value is the empty snapshot. A Snapshot never exposes its
// backing array, so it is safe to share between the history stack, the
// autosave scheduler and in-flight persist calls.
type Snapshot struct {
	payload []byte
	digest  uint64
}

// NewSnapshot creates a snapshot from a copy of payload.
func NewSnapshot(payload []byte) Snapshot {
	p := make([]byte, len(payload))
	copy(p, payload)
	return Snapshot{
		payload: p,
		digest:  murmur3.Sum64(p),
	}
}

// SnapshotFromString creates a snapshot from a string payload.
func SnapshotFromString(payload string) Snapshot {
	return NewSnapshot([]byte(payload))
}

// Bytes returns a copy of the payload.
func (s Snapshot) Bytes() []byte {
	p := make([]byte, len(s.payload))
	copy(p, s.payload)
	return p
}

// String returns the payload as a string.
func (s Snapshot) String() string {
	return string(s.payload)
}

// Len returns the payload length in bytes.
func (s Snapshot) Len() int {
	return len(s.payload)
}

// IsEmpty reports whether the payload is empty.
func (s Snapshot) IsEmpty() bool {
	return len(s.payload) == 0
}

// Digest returns the murmur3-64 fingerprint of the payload.
func (s Snapshot) Digest() uint64 {
	return s.digest
}

// ETag returns the digest formatted as a quoted HTTP entity tag.
func (s Snapshot) ETag() string {
	return `"` + strconv.FormatUint(s.digest, 16) + `"`
}

// Equal reports whether both snapshots carry byte-identical payloads.
func (s Snapshot) Equal(other Snapshot) bool {
	if s.digest != other.digest || len(s.payload) != len(other.payload) {
		return false
	}
	return bytes.Equal(s.payload, other.payload)
}
