package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/yndnr/retouch-go/internal/core/domain"
	"github.com/yndnr/retouch-go/internal/core/service"
)

// canvasKeyPrefix namespaces canvas records inside the KV engine.
const canvasKeyPrefix = "canvas/"

func canvasKey(id string) []byte {
	return []byte(canvasKeyPrefix + id)
}

// KVCanvasRepository stores canvases in a KVEngine.
type KVCanvasRepository struct {
	kv     KVEngine
	sealer *Sealer
}

var _ service.CanvasRepository = (*KVCanvasRepository)(nil)

// NewKVCanvasRepository creates a repository over kv. A nil sealer stores
// payloads in plaintext.
func NewKVCanvasRepository(kv KVEngine, sealer *Sealer) *KVCanvasRepository {
	return &KVCanvasRepository{kv: kv, sealer: sealer}
}

// Get retrieves a canvas by id.
func (r *KVCanvasRepository) Get(ctx context.Context, id string) (*domain.Canvas, error) {
	data, err := r.kv.Get(ctx, canvasKey(id))
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, domain.ErrCanvasNotFound
		}
		return nil, fmt.Errorf("get canvas %s: %w", id, err)
	}
	return decodeRecord(id, data, r.sealer)
}

// Create stores a new canvas. Returns ErrCanvasConflict if the id is taken.
func (r *KVCanvasRepository) Create(ctx context.Context, c *domain.Canvas) error {
	record, err := encodeRecord(c, r.sealer)
	if err != nil {
		return err
	}
	return r.kv.Update(ctx, canvasKey(c.ID), func(_ []byte, exists bool) ([]byte, error) {
		if exists {
			return nil, domain.ErrCanvasConflict
		}
		return record, nil
	})
}

// Update replaces a canvas if its stored version equals expectedVersion.
func (r *KVCanvasRepository) Update(ctx context.Context, c *domain.Canvas, expectedVersion uint64) error {
	record, err := encodeRecord(c, r.sealer)
	if err != nil {
		return err
	}
	return r.kv.Update(ctx, canvasKey(c.ID), func(old []byte, exists bool) ([]byte, error) {
		if !exists {
			return nil, domain.ErrCanvasNotFound
		}
		version, err := recordVersion(old)
		if err != nil {
			return nil, err
		}
		if version != expectedVersion {
			return nil, domain.ErrCanvasConflict.WithDetails(
				fmt.Sprintf("stored version %d, expected %d", version, expectedVersion))
		}
		return record, nil
	})
}

// Delete removes a canvas.
func (r *KVCanvasRepository) Delete(ctx context.Context, id string) error {
	if err := r.kv.Delete(ctx, canvasKey(id)); err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return domain.ErrCanvasNotFound
		}
		return fmt.Errorf("delete canvas %s: %w", id, err)
	}
	return nil
}

// List returns the page of canvases whose id starts with f.Prefix, in id
// order, and the total number of matches.
func (r *KVCanvasRepository) List(ctx context.Context, f *service.CanvasFilter) ([]*domain.Canvas, int, error) {
	type raw struct {
		id   string
		data []byte
	}
	var matches []raw
	err := r.kv.Scan(ctx, []byte(canvasKeyPrefix+f.Prefix), func(key, value []byte) bool {
		matches = append(matches, raw{id: strings.TrimPrefix(string(key), canvasKeyPrefix), data: value})
		return true
	})
	if err != nil {
		return nil, 0, fmt.Errorf("list canvases: %w", err)
	}

	start, end := f.Window(len(matches))
	out := make([]*domain.Canvas, 0, end-start)
	for _, m := range matches[start:end] {
		c, err := decodeRecord(m.id, m.data, r.sealer)
		if err != nil {
			return nil, 0, fmt.Errorf("decode canvas %s: %w", m.id, err)
		}
		out = append(out, c)
	}
	return out, len(matches), nil
}
