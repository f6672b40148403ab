package memory

import (
	"context"
	"sort"
	"strings"

	"github.com/yndnr/retouch-go/internal/core/domain"
	"github.com/yndnr/retouch-go/internal/core/service"
	"github.com/yndnr/retouch-go/pkg/cmap"
)

// CanvasStore provides in-memory canvas storage. Contents are lost when
// the process exits.
type CanvasStore struct {
	canvases *cmap.Map[*domain.Canvas]
}

var _ service.CanvasRepository = (*CanvasStore)(nil)

// NewCanvasStore creates an empty in-memory canvas store.
func NewCanvasStore() *CanvasStore {
	return &CanvasStore{canvases: cmap.New[*domain.Canvas]()}
}

// Get retrieves a canvas by ID.
func (s *CanvasStore) Get(_ context.Context, id string) (*domain.Canvas, error) {
	c, ok := s.canvases.Get(id)
	if !ok {
		return nil, domain.ErrCanvasNotFound
	}
	return c.Clone(), nil
}

// Create stores a new canvas.
func (s *CanvasStore) Create(_ context.Context, c *domain.Canvas) error {
	if !s.canvases.SetIfAbsent(c.ID, c.Clone()) {
		return domain.ErrCanvasConflict
	}
	return nil
}

// Update replaces a canvas with optimistic locking. The stored version
// becomes expectedVersion+1.
func (s *CanvasStore) Update(_ context.Context, c *domain.Canvas, expectedVersion uint64) error {
	clone := c.Clone()
	if cmap.CompareAndSwap(s.canvases, c.ID, expectedVersion, clone) {
		c.Version = clone.Version
		return nil
	}
	if !s.canvases.Has(c.ID) {
		return domain.ErrCanvasNotFound
	}
	return domain.ErrCanvasConflict
}

// Delete removes a canvas.
func (s *CanvasStore) Delete(_ context.Context, id string) error {
	if _, ok := s.canvases.Pop(id); !ok {
		return domain.ErrCanvasNotFound
	}
	return nil
}

// List returns the page of canvases whose id starts with f.Prefix, in id
// order, and the total number of matches.
func (s *CanvasStore) List(_ context.Context, f *service.CanvasFilter) ([]*domain.Canvas, int, error) {
	var matches []*domain.Canvas
	s.canvases.Range(func(id string, c *domain.Canvas) bool {
		if strings.HasPrefix(id, f.Prefix) {
			matches = append(matches, c)
		}
		return true
	})
	sort.Slice(matches, func(i, j int) bool { return matches[i].ID < matches[j].ID })

	start, end := f.Window(len(matches))
	out := make([]*domain.Canvas, 0, end-start)
	for _, c := range matches[start:end] {
		out = append(out, c.Clone())
	}
	return out, len(matches), nil
}

// Count returns the number of stored canvases.
func (s *CanvasStore) Count() int {
	return s.canvases.Count()
}
