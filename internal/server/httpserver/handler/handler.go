package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/yndnr/retouch-go/internal/core/domain"
	"github.com/yndnr/retouch-go/internal/core/service"
	"github.com/yndnr/retouch-go/internal/telemetry/logger"
)

// Backuper streams a backup of the canvas store.
type Backuper interface {
	Backup(ctx context.Context, w io.Writer) error
}

// Handler is the main HTTP handler that routes requests to appropriate handlers.
type Handler struct {
	canvasSvc *service.CanvasService
	keys      service.APIKeyRepository
	backup    Backuper
	ready     func(ctx context.Context) error
	status    func() map[string]any
	logger    *slog.Logger
	mux       *http.ServeMux
}

// Option configures a Handler.
type Option func(*Handler)

// WithAPIKeys enables the admin key listing endpoint.
func WithAPIKeys(repo service.APIKeyRepository) Option {
	return func(h *Handler) { h.keys = repo }
}

// WithBackup enables the admin backup endpoint.
func WithBackup(b Backuper) Option {
	return func(h *Handler) { h.backup = b }
}

// WithReadiness sets the check behind GET /ready.
func WithReadiness(fn func(ctx context.Context) error) Option {
	return func(h *Handler) { h.ready = fn }
}

// WithStatus sets extra fields reported by the admin status endpoint.
func WithStatus(fn func() map[string]any) Option {
	return func(h *Handler) { h.status = fn }
}

// New creates a new Handler.
func New(canvasSvc *service.CanvasService, logger *slog.Logger, opts ...Option) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		canvasSvc: canvasSvc,
		logger:    logger,
		mux:       http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(h)
	}

	h.registerRoutes()
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	h.mux.HandleFunc("GET /health", h.handleHealth)
	h.mux.HandleFunc("GET /ready", h.handleReady)

	h.mux.HandleFunc("GET /v1/canvases", h.handleListCanvases)
	h.mux.HandleFunc("POST /v1/canvases", h.handleCreateCanvas)
	h.mux.HandleFunc("GET /v1/canvases/{id}", h.handleGetCanvas)
	h.mux.HandleFunc("PATCH /v1/canvases/{id}", h.handleSaveCanvas)
	h.mux.HandleFunc("PUT /v1/canvases/{id}", h.handleSaveCanvas)
	h.mux.HandleFunc("DELETE /v1/canvases/{id}", h.handleDeleteCanvas)

	h.mux.HandleFunc("GET /admin/v1/status", h.handleAdminStatus)
	h.mux.HandleFunc("GET /admin/v1/keys", h.handleListAPIKeys)
	h.mux.HandleFunc("GET /admin/v1/backup", h.handleBackup)
}

func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	h.send(w, status, NewResponse(getRequestID(r), data))
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	w.Header().Set("X-Error-Code", code)
	h.send(w, status, NewErrorResponse(getRequestID(r), code, message, details))
}

func (h *Handler) send(w http.ResponseWriter, status int, resp *Response) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", resp.RequestID)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Debug("response write failed", "error", err)
	}
}

// getRequestID returns the ID the RequestID middleware set on the request.
func getRequestID(r *http.Request) string {
	return r.Header.Get("X-Request-ID")
}

// requestLogger annotates the handler's logger with the request and
// canvas IDs.
func (h *Handler) requestLogger(r *http.Request) *slog.Logger {
	ctx := r.Context()
	if logger.RequestIDFromContext(ctx) == "" {
		ctx = logger.WithRequestID(ctx, getRequestID(r))
	}
	if id := r.PathValue("id"); id != "" {
		ctx = logger.WithCanvasID(ctx, id)
	}
	return logger.For(ctx, h.logger)
}

// handleServiceError converts service errors to HTTP responses.
func (h *Handler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if domain.IsDomainError(err, "") {
		code := domain.GetErrorCode(err)
		status := StatusForCode(code)
		if status >= 500 {
			h.requestLogger(r).Error("request failed", "code", code, "error", err, "path", r.URL.Path)
		}
		h.writeError(w, r, status, code, err.Error(), nil)
		return
	}

	h.requestLogger(r).Error("internal error", "error", err, "path", r.URL.Path)
	h.writeError(w, r, http.StatusInternalServerError, domain.ErrInternalServer.Code, "internal server error", nil)
}

// statusBySuffix maps the numeric part of an RT-<AREA>-<NNNN> code to an
// HTTP status. Canvas conflicts and size errors are special-cased.
var statusBySuffix = map[string]int{
	"4000": http.StatusBadRequest,
	"4001": http.StatusBadRequest,
	"4002": http.StatusBadRequest,
	"4010": http.StatusUnauthorized,
	"4011": http.StatusUnauthorized,
	"4012": http.StatusUnauthorized,
	"4030": http.StatusForbidden,
	"4031": http.StatusForbidden,
	"4040": http.StatusNotFound,
	"4041": http.StatusNotFound,
	"4090": http.StatusConflict,
	"4091": http.StatusConflict,
	"4220": http.StatusUnprocessableEntity,
	"4290": http.StatusTooManyRequests,
	"5020": http.StatusBadGateway,
}

// StatusForCode maps a domain error code to its HTTP status.
func StatusForCode(code string) int {
	switch code {
	case domain.ErrCanvasConflict.Code:
		return http.StatusPreconditionFailed
	case domain.ErrCanvasTooLarge.Code:
		return http.StatusRequestEntityTooLarge
	}
	if i := strings.LastIndexByte(code, '-'); i >= 0 {
		if status, ok := statusBySuffix[code[i+1:]]; ok {
			return status
		}
	}
	return http.StatusInternalServerError
}
