package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/yndnr/retouch-go/internal/core/domain"
	"github.com/yndnr/retouch-go/internal/core/service"
)

// maxBodyBytes caps request bodies. JSON escaping can double the snapshot.
const maxBodyBytes = 2*domain.MaxSnapshotSize + 64<<10

func toCanvasResponse(c *domain.Canvas, withSnapshot bool) CanvasResponse {
	resp := CanvasResponse{
		ID:        c.ID,
		Size:      c.Snapshot.Len(),
		ETag:      c.Snapshot.ETag(),
		Version:   c.Version,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
	if withSnapshot {
		resp.Snapshot = c.Snapshot.String()
	}
	return resp
}

// decodeSnapshot reads a SaveCanvasRequest body.
func (h *Handler) decodeSnapshot(w http.ResponseWriter, r *http.Request) (domain.Snapshot, bool) {
	var req SaveCanvasRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.handleServiceError(w, r, domain.ErrCanvasTooLarge)
			return domain.Snapshot{}, false
		}
		if errors.Is(err, io.EOF) {
			err = errors.New("empty body")
		}
		h.handleServiceError(w, r, domain.ErrBadRequest.WithDetails("invalid request body: "+err.Error()))
		return domain.Snapshot{}, false
	}
	return domain.SnapshotFromString(req.Snapshot), true
}

// handleGetCanvas handles GET /v1/canvases/{id}.
func (h *Handler) handleGetCanvas(w http.ResponseWriter, r *http.Request) {
	c, err := h.canvasSvc.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	etag := c.Snapshot.ETag()
	w.Header().Set("ETag", etag)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	h.writeJSON(w, r, http.StatusOK, toCanvasResponse(c, true))
}

// handleSaveCanvas handles PATCH and PUT /v1/canvases/{id}.
func (h *Handler) handleSaveCanvas(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.decodeSnapshot(w, r)
	if !ok {
		return
	}

	resp, err := h.canvasSvc.Save(r.Context(), &service.SaveCanvasRequest{
		ID:       r.PathValue("id"),
		Snapshot: snap,
		IfMatch:  r.Header.Get("If-Match"),
	})
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	status := http.StatusOK
	if resp.Created {
		status = http.StatusCreated
	}
	w.Header().Set("ETag", resp.Canvas.Snapshot.ETag())
	h.writeJSON(w, r, status, SaveCanvasResponse{
		CanvasResponse: toCanvasResponse(resp.Canvas, false),
		Created:        resp.Created,
		Unchanged:      resp.Unchanged,
	})
}

// handleCreateCanvas handles POST /v1/canvases, generating the id.
func (h *Handler) handleCreateCanvas(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.decodeSnapshot(w, r)
	if !ok {
		return
	}

	c, err := h.canvasSvc.Create(r.Context(), snap)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	w.Header().Set("Location", "/v1/canvases/"+c.ID)
	w.Header().Set("ETag", c.Snapshot.ETag())
	h.writeJSON(w, r, http.StatusCreated, toCanvasResponse(c, false))
}

// handleDeleteCanvas handles DELETE /v1/canvases/{id}.
func (h *Handler) handleDeleteCanvas(w http.ResponseWriter, r *http.Request) {
	if err := h.canvasSvc.Delete(r.Context(), r.PathValue("id")); err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListCanvases handles GET /v1/canvases?prefix=&page=&page_size=.
func (h *Handler) handleListCanvases(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := &service.CanvasFilter{Prefix: q.Get("prefix")}

	var err error
	if v := q.Get("page"); v != "" {
		if filter.Page, err = strconv.Atoi(v); err != nil {
			h.handleServiceError(w, r, domain.ErrBadRequest.WithDetails("page must be an integer"))
			return
		}
	}
	if v := q.Get("page_size"); v != "" {
		if filter.PageSize, err = strconv.Atoi(v); err != nil {
			h.handleServiceError(w, r, domain.ErrBadRequest.WithDetails("page_size must be an integer"))
			return
		}
	}

	resp, err := h.canvasSvc.List(r.Context(), filter)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	items := make([]CanvasResponse, 0, len(resp.Canvases))
	for _, c := range resp.Canvases {
		items = append(items, toCanvasResponse(c, false))
	}
	h.writeJSON(w, r, http.StatusOK, ListCanvasesResponse{
		Items:    items,
		Total:    resp.Total,
		Page:     resp.Page,
		PageSize: resp.PageSize,
	})
}
