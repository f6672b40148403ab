package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/yndnr/retouch-go/internal/core/codec"
	"github.com/yndnr/retouch-go/internal/core/domain"
	"github.com/yndnr/retouch-go/internal/telemetry/metric"
)

// CanvasRepository is the storage interface for persisted canvases.
type CanvasRepository interface {
	// Create stores a new canvas. It returns domain.ErrCanvasConflict when
	// the id is taken.
	Create(ctx context.Context, c *domain.Canvas) error

	// Get retrieves a canvas by id.
	Get(ctx context.Context, id string) (*domain.Canvas, error)

	// Update replaces a canvas if its stored version equals expectedVersion.
	Update(ctx context.Context, c *domain.Canvas, expectedVersion uint64) error

	// Delete removes a canvas by id.
	Delete(ctx context.Context, id string) error

	// List returns canvases matching filter and the total match count.
	List(ctx context.Context, filter *CanvasFilter) ([]*domain.Canvas, int, error)
}

// CanvasFilter selects canvases for List.
type CanvasFilter struct {
	Prefix   string
	Page     int // 1-indexed
	PageSize int // default 20, max 100
}

// Paging limits.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Normalize applies paging defaults and bounds.
func (f *CanvasFilter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = DefaultPageSize
	}
	if f.PageSize > MaxPageSize {
		f.PageSize = MaxPageSize
	}
}

// Window returns the [start, end) slice bounds of the filter's page in a
// result set of total items.
func (f *CanvasFilter) Window(total int) (int, int) {
	start := (f.Page - 1) * f.PageSize
	if start > total {
		start = total
	}
	end := start + f.PageSize
	if end > total {
		end = total
	}
	return start, end
}

// CanvasService validates and stores editor snapshots by canvas id.
type CanvasService struct {
	repo    CanvasRepository
	codec   codec.Codec
	strict  bool
	now     func() time.Time
	logger  *slog.Logger
	metrics *metric.Registry
}

// CanvasOption configures a CanvasService.
type CanvasOption func(*CanvasService)

// WithStrictSnapshots makes Save reject payloads that do not decode as a
// scene.
func WithStrictSnapshots(strict bool) CanvasOption {
	return func(s *CanvasService) { s.strict = strict }
}

// WithCanvasLogger sets the logger.
func WithCanvasLogger(l *slog.Logger) CanvasOption {
	return func(s *CanvasService) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithCanvasMetrics sets the metrics registry.
func WithCanvasMetrics(m *metric.Registry) CanvasOption {
	return func(s *CanvasService) { s.metrics = m }
}

// NewCanvasService creates a CanvasService.
func NewCanvasService(repo CanvasRepository, opts ...CanvasOption) *CanvasService {
	s := &CanvasService{
		repo:   repo,
		codec:  codec.New(),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the canvas stored under id.
func (s *CanvasService) Get(ctx context.Context, id string) (*domain.Canvas, error) {
	if err := domain.ValidateCanvasID(id); err != nil {
		return nil, err
	}
	c, err := s.repo.Get(ctx, id)
	s.metrics.RecordStoreOp("get", opResult(err))
	if err != nil {
		return nil, storageErr(err)
	}
	return c, nil
}

// SaveCanvasRequest contains the parameters of Save.
type SaveCanvasRequest struct {
	ID       string
	Snapshot domain.Snapshot
	// IfMatch, when set, must equal the stored snapshot's ETag.
	IfMatch string
}

// SaveCanvasResponse is the result of Save.
type SaveCanvasResponse struct {
	Canvas  *domain.Canvas
	Created bool
	// Unchanged is set when the payload equalled the stored one.
	Unchanged bool
}

// Save stores a snapshot under an id, creating the canvas if needed.
// Saving a payload identical to the stored one does not bump the version.
func (s *CanvasService) Save(ctx context.Context, req *SaveCanvasRequest) (*SaveCanvasResponse, error) {
	if err := domain.ValidateCanvasID(req.ID); err != nil {
		return nil, err
	}
	if err := s.validatePayload(req.Snapshot); err != nil {
		return nil, err
	}

	resp, err := s.save(ctx, req)
	if req.IfMatch == "" && errors.Is(err, domain.ErrCanvasConflict) {
		// Another writer created or updated the canvas between our read and
		// write. An unconditional save applies on top of it.
		s.logger.Debug("canvas save raced, retrying", "canvas_id", req.ID)
		resp, err = s.save(ctx, req)
	}
	return resp, err
}

func (s *CanvasService) save(ctx context.Context, req *SaveCanvasRequest) (*SaveCanvasResponse, error) {
	existing, err := s.repo.Get(ctx, req.ID)
	switch {
	case errors.Is(err, domain.ErrCanvasNotFound):
		return s.create(ctx, req)
	case err != nil:
		s.metrics.RecordStoreOp("save", opResult(err))
		return nil, storageErr(err)
	}

	if req.IfMatch != "" && req.IfMatch != "*" && req.IfMatch != existing.Snapshot.ETag() {
		return nil, domain.ErrCanvasConflict.WithDetails("if-match does not match stored snapshot")
	}
	if existing.Snapshot.Equal(req.Snapshot) {
		return &SaveCanvasResponse{Canvas: existing, Unchanged: true}, nil
	}

	updated := &domain.Canvas{
		ID:        existing.ID,
		Snapshot:  req.Snapshot,
		CreatedAt: existing.CreatedAt,
		UpdatedAt: s.now().UnixMilli(),
		Version:   existing.Version + 1,
	}
	err = s.repo.Update(ctx, updated, existing.Version)
	s.metrics.RecordStoreOp("save", opResult(err))
	if err != nil {
		return nil, storageErr(err)
	}
	s.metrics.ObserveSnapshotBytes(req.Snapshot.Len())
	s.logger.Debug("canvas updated",
		"canvas_id", updated.ID,
		"version", updated.Version,
		"bytes", req.Snapshot.Len())
	return &SaveCanvasResponse{Canvas: updated}, nil
}

func (s *CanvasService) create(ctx context.Context, req *SaveCanvasRequest) (*SaveCanvasResponse, error) {
	if req.IfMatch != "" && req.IfMatch != "*" {
		return nil, domain.ErrCanvasConflict.WithDetails("if-match given for a missing canvas")
	}
	now := s.now().UnixMilli()
	c := &domain.Canvas{
		ID:        req.ID,
		Snapshot:  req.Snapshot,
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
	}
	err := s.repo.Create(ctx, c)
	s.metrics.RecordStoreOp("create", opResult(err))
	if err != nil {
		return nil, storageErr(err)
	}
	s.metrics.ObserveSnapshotBytes(req.Snapshot.Len())
	s.logger.Info("canvas created", "canvas_id", c.ID, "bytes", req.Snapshot.Len())
	return &SaveCanvasResponse{Canvas: c, Created: true}, nil
}

// Create stores snap under a newly generated id.
func (s *CanvasService) Create(ctx context.Context, snap domain.Snapshot) (*domain.Canvas, error) {
	id, err := domain.GenerateCanvasID()
	if err != nil {
		return nil, err
	}
	if err := s.validatePayload(snap); err != nil {
		return nil, err
	}
	resp, err := s.create(ctx, &SaveCanvasRequest{ID: id, Snapshot: snap})
	if err != nil {
		return nil, err
	}
	return resp.Canvas, nil
}

// Delete removes the canvas stored under id.
func (s *CanvasService) Delete(ctx context.Context, id string) error {
	if err := domain.ValidateCanvasID(id); err != nil {
		return err
	}
	err := s.repo.Delete(ctx, id)
	s.metrics.RecordStoreOp("delete", opResult(err))
	if err != nil {
		return storageErr(err)
	}
	s.logger.Info("canvas deleted", "canvas_id", id)
	return nil
}

// ListCanvasesResponse is one page of canvases.
type ListCanvasesResponse struct {
	Canvases []*domain.Canvas
	Total    int
	Page     int
	PageSize int
}

// List returns one page of canvases ordered by id.
func (s *CanvasService) List(ctx context.Context, filter *CanvasFilter) (*ListCanvasesResponse, error) {
	if filter == nil {
		filter = &CanvasFilter{}
	}
	f := *filter
	f.Prefix = strings.TrimSpace(f.Prefix)
	f.Normalize()

	items, total, err := s.repo.List(ctx, &f)
	s.metrics.RecordStoreOp("list", opResult(err))
	if err != nil {
		return nil, storageErr(err)
	}
	return &ListCanvasesResponse{
		Canvases: items,
		Total:    total,
		Page:     f.Page,
		PageSize: f.PageSize,
	}, nil
}

func (s *CanvasService) validatePayload(snap domain.Snapshot) error {
	if err := domain.ValidateSnapshotPayload(snap); err != nil {
		return err
	}
	if !s.strict {
		return nil
	}
	if _, err := s.codec.Deserialize(snap); err != nil {
		return domain.ErrCanvasValidation.WithDetails("snapshot does not decode").WithCause(err)
	}
	return nil
}

// storageErr passes domain errors through and wraps anything else.
func storageErr(err error) error {
	var de *domain.DomainError
	if errors.As(err, &de) {
		return err
	}
	return domain.ErrStorageError.WithCause(err)
}

func opResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrCanvasNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrCanvasConflict):
		return "conflict"
	default:
		return "error"
	}
}

// Fetch returns a canvas's stored snapshot. Fetch and Persist let a
// CanvasService back editor sessions running in the same process.
func (s *CanvasService) Fetch(ctx context.Context, canvasID string) (domain.Snapshot, error) {
	c, err := s.Get(ctx, canvasID)
	if err != nil {
		return domain.Snapshot{}, err
	}
	return c.Snapshot, nil
}

// Persist stores snap as the canvas's latest snapshot.
func (s *CanvasService) Persist(ctx context.Context, canvasID string, snap domain.Snapshot) error {
	_, err := s.Save(ctx, &SaveCanvasRequest{ID: canvasID, Snapshot: snap})
	return err
}
