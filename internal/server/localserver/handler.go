package localserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yndnr/retouch-go/internal/core/domain"
	"github.com/yndnr/retouch-go/internal/core/service"
	"github.com/yndnr/retouch-go/internal/infra/buildinfo"
	"github.com/yndnr/retouch-go/internal/remote"
	"github.com/yndnr/retouch-go/internal/render"
	rtlog "github.com/yndnr/retouch-go/internal/telemetry/logger"
	"github.com/yndnr/retouch-go/internal/telemetry/metric"
	"github.com/yndnr/retouch-go/internal/transport"
)

// Control messages understood as the first line of a connection, besides
// OPEN.
const (
	CmdStatus domain.CommandType = "STATUS"
	EvtStatus domain.EventType   = "STATUS"
)

const (
	handshakeTimeout    = 10 * time.Second
	defaultCloseTimeout = 15 * time.Second
)

// StatusPayload is the STATUS event payload.
type StatusPayload struct {
	Version  string `json:"version"`
	Sessions int64  `json:"sessions"`
	Uptime   string `json:"uptime"`
}

// HandlerConfig configures the sessions a Handler opens.
type HandlerConfig struct {
	// Editor is the session template. CanvasID and ImageURL come from OPEN.
	Editor       service.EditorConfig
	CanvasWidth  float64
	CanvasHeight float64
	// Store persists sessions. Nil runs sessions without autosave.
	Store  remote.Store
	Loader render.Loader
	// CloseTimeout bounds the final flush when a connection ends.
	CloseTimeout time.Duration
	Logger       *slog.Logger
	Metrics      *metric.Registry
}

// Handler serves one control connection: either a STATUS query or an
// editor session opened with OPEN and driven by the following commands.
type Handler struct {
	cfg     HandlerConfig
	logger  *slog.Logger
	started time.Time
	active  atomic.Int64
}

// NewHandler creates a new Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = defaultCloseTimeout
	}
	return &Handler{cfg: cfg, logger: cfg.Logger, started: time.Now()}
}

// Status reports the handler's state.
func (h *Handler) Status() StatusPayload {
	return StatusPayload{
		Version:  buildinfo.Version,
		Sessions: h.active.Load(),
		Uptime:   time.Since(h.started).Round(time.Second).String(),
	}
}

// ActiveSessions returns the number of open editor sessions.
func (h *Handler) ActiveSessions() int64 {
	return h.active.Load()
}

// Serve handles rwc until the peer disconnects or ctx ends. It closes rwc.
func (h *Handler) Serve(ctx context.Context, rwc io.ReadWriteCloser) {
	conn := transport.NewConn(rwc)

	hctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	first, err := conn.Receive(hctx)
	cancel()
	if err != nil {
		if transport.IsRecoverable(err) {
			h.reject(ctx, conn, "", err)
			return
		}
		h.logger.Debug("control connection ended before handshake", "error", err)
		conn.Close()
		return
	}

	switch first.Type {
	case domain.CmdOpen:
		h.runSession(ctx, conn, first)
	case CmdStatus:
		if err := conn.Send(ctx, domain.Event{Type: EvtStatus, Payload: h.Status()}); err != nil {
			h.logger.Debug("status reply failed", "error", err)
		}
		conn.Close()
	default:
		h.reject(ctx, conn, first.Type, domain.ErrUnknownCommand.WithDetails(string(first.Type)))
	}
}

func (h *Handler) reject(ctx context.Context, conn *transport.Conn, typ domain.CommandType, err error) {
	conn.Send(ctx, domain.Event{
		Type: domain.EvtError,
		Payload: domain.ErrorPayload{
			Code:    domain.GetErrorCode(err),
			Message: err.Error(),
			Command: string(typ),
		},
	})
	conn.Close()
}

func (h *Handler) runSession(ctx context.Context, conn *transport.Conn, open domain.Command) {
	var p domain.OpenPayload
	if len(open.Payload) > 0 {
		if err := json.Unmarshal(open.Payload, &p); err != nil {
			h.reject(ctx, conn, open.Type, domain.ErrMalformedPayload.WithCause(err))
			return
		}
	}

	cfg := h.cfg.Editor
	cfg.CanvasID = p.ID
	cfg.ImageURL = p.Image

	ctx = rtlog.WithCanvasID(ctx, p.ID)
	logger := rtlog.For(ctx, h.logger).With("component", "localserver")
	ch := &watchedConn{Conn: conn, done: make(chan struct{})}
	deps := service.EditorDeps{
		Surface: render.NewHeadless(h.cfg.CanvasWidth, h.cfg.CanvasHeight, logger),
		Loader:  h.cfg.Loader,
		Channel: ch,
		Logger:  logger,
		Metrics: h.cfg.Metrics,
	}
	if h.cfg.Store != nil {
		deps.Store = h.cfg.Store
	}
	sess := service.NewEditorSession(cfg, deps)

	h.active.Add(1)
	defer h.active.Add(-1)
	logger.Info("editor session opened", "image", p.Image != "")

	sess.Start(ctx)
	select {
	case <-ch.done:
	case <-ctx.Done():
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), h.cfg.CloseTimeout)
	defer cancel()
	if err := sess.Close(closeCtx); err != nil {
		logger.Warn("editor session close failed", "error", err)
	}
}

// watchedConn reports when the peer's command stream ends.
type watchedConn struct {
	*transport.Conn
	once sync.Once
	done chan struct{}
}

func (w *watchedConn) Receive(ctx context.Context) (domain.Command, error) {
	cmd, err := w.Conn.Receive(ctx)
	if err != nil && !transport.IsRecoverable(err) {
		w.once.Do(func() { close(w.done) })
	}
	return cmd, err
}
