package storage

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/yndnr/retouch-go/internal/core/domain"
	"github.com/yndnr/retouch-go/pkg/crypto/adaptive"
)

// Canvas record layout:
//
//	magic(1) flags(1) created_at(8) updated_at(8) version(8) payload
//
// Integers are big-endian. When flagSealed is set, payload is the AEAD
// ciphertext of the snapshot with the canvas id and header as additional data.
const (
	recordMagic      byte = 0xC5
	recordHeaderSize      = 26

	flagSealed byte = 1 << 0
)

var (
	errRecordCorrupt = errors.New("canvas record corrupt")
	errRecordSealed  = errors.New("canvas record is encrypted but no encryption key is configured")
)

// Sealer encrypts snapshot payloads at rest.
type Sealer struct {
	cipher *adaptive.Cipher
}

// NewSealer creates a Sealer from a 32-byte key.
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("storage: encryption key must be 32 bytes, got %d", len(key))
	}
	c, err := adaptive.New(key)
	if err != nil {
		return nil, fmt.Errorf("storage: encryption key: %w", err)
	}
	return &Sealer{cipher: c}, nil
}

// NewSealerFromHex creates a Sealer from a hex-encoded 32-byte key.
// An empty string returns a nil Sealer, which stores payloads in plaintext.
func NewSealerFromHex(s string) (*Sealer, error) {
	if s == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("storage: encryption key is not valid hex: %w", err)
	}
	return NewSealer(key)
}

// Algorithm returns the cipher in use, or "none" for a nil Sealer.
func (s *Sealer) Algorithm() string {
	if s == nil {
		return "none"
	}
	return s.cipher.Algorithm().String()
}

func aad(id string, header []byte) []byte {
	out := make([]byte, 0, len(id)+len(header))
	out = append(out, id...)
	return append(out, header...)
}

// encodeRecord serializes a canvas, sealing the payload when s is non-nil.
func encodeRecord(c *domain.Canvas, s *Sealer) ([]byte, error) {
	header := make([]byte, recordHeaderSize)
	header[0] = recordMagic
	if s != nil {
		header[1] = flagSealed
	}
	binary.BigEndian.PutUint64(header[2:], uint64(c.CreatedAt))
	binary.BigEndian.PutUint64(header[10:], uint64(c.UpdatedAt))
	binary.BigEndian.PutUint64(header[18:], c.Version)

	payload := c.Snapshot.Bytes()
	if s != nil {
		sealed, err := s.cipher.Seal(payload, aad(c.ID, header))
		if err != nil {
			return nil, fmt.Errorf("seal snapshot: %w", err)
		}
		payload = sealed
	}
	return append(header, payload...), nil
}

// decodeRecord parses a record stored under id.
func decodeRecord(id string, data []byte, s *Sealer) (*domain.Canvas, error) {
	if len(data) < recordHeaderSize || data[0] != recordMagic {
		return nil, errRecordCorrupt
	}
	header := data[:recordHeaderSize]
	payload := data[recordHeaderSize:]

	if header[1]&flagSealed != 0 {
		if s == nil {
			return nil, errRecordSealed
		}
		plain, err := s.cipher.Open(payload, aad(id, header))
		if err != nil {
			return nil, fmt.Errorf("open snapshot: %w", err)
		}
		payload = plain
	}

	return &domain.Canvas{
		ID:        id,
		Snapshot:  domain.NewSnapshot(payload),
		CreatedAt: int64(binary.BigEndian.Uint64(header[2:])),
		UpdatedAt: int64(binary.BigEndian.Uint64(header[10:])),
		Version:   binary.BigEndian.Uint64(header[18:]),
	}, nil
}

// recordVersion reads the version without decrypting the payload.
func recordVersion(data []byte) (uint64, error) {
	if len(data) < recordHeaderSize || data[0] != recordMagic {
		return 0, errRecordCorrupt
	}
	return binary.BigEndian.Uint64(data[18:]), nil
}
