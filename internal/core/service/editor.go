package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/yndnr/retouch-go/internal/core/autosave"
	"github.com/yndnr/retouch-go/internal/core/codec"
	"github.com/yndnr/retouch-go/internal/core/domain"
	"github.com/yndnr/retouch-go/internal/core/filter"
	"github.com/yndnr/retouch-go/internal/core/history"
	"github.com/yndnr/retouch-go/internal/core/router"
	"github.com/yndnr/retouch-go/internal/remote"
	"github.com/yndnr/retouch-go/internal/render"
	"github.com/yndnr/retouch-go/internal/telemetry/metric"
	"github.com/yndnr/retouch-go/internal/transport"
	"github.com/yndnr/retouch-go/pkg/debounce"
)

// Bootstrap sources reported in the READY event.
const (
	SourceRemote = "remote"
	SourceImage  = "image"
	SourceBlank  = "blank"
)

// exportTimeout bounds one EXPORT_IMAGE rasterization on the session loop.
const exportTimeout = 30 * time.Second

// EditorConfig configures one editor session.
type EditorConfig struct {
	// CanvasID is the durable session identifier. Empty disables the
	// remote fetch and autosave.
	CanvasID string
	// ImageURL is the initial image used when no remote snapshot exists.
	ImageURL string

	HistoryLimit     int
	HistoryDebounce  time.Duration
	AutosaveDebounce time.Duration
	AutosaveTimeout  time.Duration
	// AutosaveRate caps persists per second. Zero means unlimited.
	AutosaveRate float64
	// FetchTimeout bounds the bootstrap fetch.
	FetchTimeout time.Duration

	// Clock drives the debounce timers. Nil uses the wall clock.
	Clock debounce.Clock
}

// EditorDeps are the collaborators of an editor session.
type EditorDeps struct {
	Surface render.Surface
	Loader  render.Loader
	// Store may be nil, which disables the remote fetch and autosave.
	Store remote.Store
	// Channel may be nil for in-process hosts that use Submit and Events.
	Channel transport.Channel
	Logger  *slog.Logger
	Metrics *metric.Registry
}

// EditorSession is one open editor: the scene surface, its filter pipeline,
// history, autosave and the command router, all driven by a single loop.
type EditorSession struct {
	cfg      EditorConfig
	surface  render.Surface
	loader   render.Loader
	store    remote.Store
	channel  transport.Channel
	codec    codec.Codec
	gate     *domain.Gate
	loop     *Loop
	outbox   *Loop
	pipeline *filter.Pipeline
	history  *history.Manager
	autosave *autosave.Scheduler
	router   *router.Router
	logger   *slog.Logger
	metrics  *metric.Registry

	ctx    context.Context
	cancel context.CancelFunc

	readyCh   chan struct{}
	closeOnce sync.Once
	events    []func(domain.Event)

	// Owned by the loop.
	started  bool
	ready    bool
	source   string
	seeds    int
	buffered []domain.Command
	primary  *domain.Layer
	loadGen  uint64
}

// NewEditorSession wires a session. Nothing runs until Start.
func NewEditorSession(cfg EditorConfig, deps EditorDeps) *EditorSession {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CanvasID != "" {
		logger = logger.With("canvas_id", cfg.CanvasID)
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = remote.DefaultTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &EditorSession{
		cfg:     cfg,
		surface: deps.Surface,
		loader:  deps.Loader,
		store:   deps.Store,
		channel: deps.Channel,
		codec:   codec.New(),
		gate:    domain.NewGate(),
		loop:    NewLoop(logger),
		outbox:  NewLoop(logger),
		logger:  logger,
		metrics: deps.Metrics,
		ctx:     ctx,
		cancel:  cancel,
		readyCh: make(chan struct{}),
	}

	post := func(fn func()) { s.loop.Post(fn) }

	canvasID := cfg.CanvasID
	if s.store == nil {
		canvasID = ""
	}
	var limiter *rate.Limiter
	if cfg.AutosaveRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.AutosaveRate), 1)
	}
	var persister autosave.Store
	if s.store != nil {
		persister = s.store
	}
	s.autosave = autosave.New(persister, s.gate, autosave.Config{
		CanvasID: canvasID,
		Debounce: cfg.AutosaveDebounce,
		Timeout:  cfg.AutosaveTimeout,
		Limiter:  limiter,
		Clock:    cfg.Clock,
		Post:     post,
	}, logger, deps.Metrics)

	s.pipeline = filter.NewPipeline(s.surface, s.surface, logger)
	s.history = history.NewManager(s.codec, s.surface, s.gate, history.Config{
		Limit:    cfg.HistoryLimit,
		Debounce: cfg.HistoryDebounce,
		Clock:    cfg.Clock,
		Post:     post,
	},
		history.WithCommitListener(s.autosave),
		history.WithReapplier(s.pipeline),
		history.WithStatusHook(s.onHistoryStatus),
		history.WithRestoreHook(func(primary *domain.Layer) { s.primary = primary }),
		history.WithLogger(logger),
		history.WithMetrics(deps.Metrics),
	)
	s.router = router.New(s, s.onCommandFailed, logger, deps.Metrics)

	s.surface.OnChange(s.history.Notify)
	return s
}

// OnEvent registers fn for every outbound event. It must be called before
// Start. Events are delivered in order on a dedicated goroutine.
func (s *EditorSession) OnEvent(fn func(domain.Event)) {
	s.events = append(s.events, fn)
}

// Start begins bootstrapping and, with a channel, reads commands from it
// until ctx ends or the channel fails.
func (s *EditorSession) Start(ctx context.Context) {
	s.loop.Post(func() {
		if s.started {
			return
		}
		s.started = true
		s.metrics.IncSessionActive()
		s.bootstrap()
	})

	if s.channel != nil {
		go s.receive(ctx)
	}
}

// Submit queues cmd for dispatch. Commands submitted before the session is
// ready are buffered and dispatched in order once bootstrap finished.
func (s *EditorSession) Submit(cmd domain.Command) bool {
	return s.loop.Post(func() { s.handle(cmd) })
}

// WaitReady blocks until the starting scene was seeded into history.
func (s *EditorSession) WaitReady(ctx context.Context) error {
	select {
	case <-s.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do runs fn on the session loop, where all session state may be read.
func (s *EditorSession) Do(ctx context.Context, fn func()) error {
	return s.loop.Do(ctx, fn)
}

// Status returns the history status.
func (s *EditorSession) Status() history.Status {
	return s.history.Status()
}

// History exposes the history manager for inspection.
func (s *EditorSession) History() *history.Manager {
	return s.history
}

// Gate returns the session mode gate.
func (s *EditorSession) Gate() *domain.Gate {
	return s.gate
}

// Close commits pending edits, flushes autosave and stops the session.
func (s *EditorSession) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		started := false
		doErr := s.loop.Do(ctx, func() {
			started = s.started
			if s.ready {
				s.history.Flush()
			}
			s.history.Cancel()
		})
		if doErr != nil && !errors.Is(doErr, domain.ErrSessionClosed) {
			err = doErr
		}

		s.autosave.Flush(ctx)
		s.autosave.Stop()
		s.loop.Stop()

		// Queued events are still delivered unless ctx ends first.
		drained := make(chan struct{})
		go func() {
			s.outbox.Stop()
			close(drained)
		}()
		select {
		case <-drained:
		case <-ctx.Done():
			s.cancel()
			<-drained
		}
		s.cancel()

		if s.channel != nil {
			if cerr := s.channel.Close(); cerr != nil && !errors.Is(cerr, transport.ErrClosed) && err == nil {
				err = cerr
			}
		}
		if started {
			s.metrics.DecSessionActive()
		}
		s.logger.Info("editor session closed")
	})
	return err
}

// ============================================================================
// Bootstrap
// ============================================================================

func (s *EditorSession) bootstrap() {
	if s.cfg.CanvasID != "" && s.store != nil {
		id := s.cfg.CanvasID
		go func() {
			ctx, cancel := context.WithTimeout(s.ctx, s.cfg.FetchTimeout)
			defer cancel()
			snap, err := s.store.Fetch(ctx, id)
			s.loop.Post(func() { s.onRemoteFetched(snap, err) })
		}()
		return
	}
	s.loadInitialImage()
}

func (s *EditorSession) onRemoteFetched(snap domain.Snapshot, err error) {
	if err != nil {
		if errors.Is(err, domain.ErrCanvasNotFound) {
			s.logger.Info("no remote snapshot, starting fresh")
		} else {
			s.logger.Warn("remote snapshot fetch failed", "error", err)
		}
		s.loadInitialImage()
		return
	}

	scene, err := s.codec.Deserialize(snap)
	if err != nil {
		s.logger.Warn("remote snapshot unusable", "error", err)
		s.loadInitialImage()
		return
	}
	if err := s.surface.Restore(s.ctx, scene); err != nil {
		s.logger.Warn("remote snapshot restore failed", "error", err)
		s.loadInitialImage()
		return
	}

	s.primary = s.surface.Scene().PrimaryImage()
	if s.primary.IsLoadedImage() {
		if _, err := s.pipeline.Reapply(s.primary); err != nil {
			s.logger.Warn("filter rebake after remote restore failed", "error", err)
		}
	}
	s.seed(SourceRemote)
	s.hydrate(scene)
}

// hydrate decodes the pixels of every image layer in a restored scene. The
// scene itself is already in place, so this only affects export.
func (s *EditorSession) hydrate(scene *domain.Scene) {
	if s.loader == nil {
		return
	}
	seen := make(map[string]bool)
	for _, l := range scene.Layers {
		if l.Kind != domain.LayerImage || l.Src == "" || seen[l.Src] {
			continue
		}
		seen[l.Src] = true
		src := l.Src
		go func() {
			img, err := s.loader.Load(s.ctx, render.NormalizeURL(src))
			if err != nil {
				s.logger.Warn("restored image could not be decoded", "src", src, "error", err)
				return
			}
			img.Src = src
			s.loop.Post(func() { s.surface.AttachImage(img) })
		}()
	}
}

func (s *EditorSession) loadInitialImage() {
	if s.cfg.ImageURL == "" || s.loader == nil {
		s.seed(SourceBlank)
		return
	}
	s.startLoad(s.cfg.ImageURL, s.onInitialImage)
}

func (s *EditorSession) onInitialImage(img *render.Image, err error) {
	if err != nil {
		s.logger.Warn("initial image load failed", "error", err)
		s.seed(SourceBlank)
		return
	}
	s.primary = s.surface.PlaceImage(img)
	s.seed(SourceImage)
}

// seed records the starting scene as history entry 0, exactly once.
func (s *EditorSession) seed(source string) {
	if s.ready {
		return
	}
	if err := s.history.SeedInitial(); err != nil {
		s.logger.Error("history seed failed", "error", err)
	}
	s.seeds++
	s.ready = true
	s.source = source
	if source == SourceRemote {
		if snap, ok := s.history.Latest(); ok {
			s.autosave.MarkPersisted(snap)
		}
	}

	s.logger.Info("editor session ready", "source", source)
	s.emit(domain.Event{
		Type:    domain.EvtReady,
		Payload: domain.ReadyPayload{Source: source, CanvasID: s.cfg.CanvasID},
	})
	close(s.readyCh)

	buffered := s.buffered
	s.buffered = nil
	for _, cmd := range buffered {
		s.router.Dispatch(s.ctx, cmd)
	}
}

// ============================================================================
// Commands
// ============================================================================

func (s *EditorSession) receive(ctx context.Context) {
	for {
		cmd, err := s.channel.Receive(ctx)
		if err != nil {
			if transport.IsRecoverable(err) {
				s.logger.Warn("undecodable message skipped", "error", err)
				s.emitError(domain.Command{}, err)
				continue
			}
			if !errors.Is(err, transport.ErrClosed) && ctx.Err() == nil {
				s.logger.Info("command channel ended", "error", err)
			}
			return
		}
		if !s.Submit(cmd) {
			return
		}
	}
}

func (s *EditorSession) handle(cmd domain.Command) {
	if !s.ready {
		s.buffered = append(s.buffered, cmd)
		return
	}
	s.router.Dispatch(s.ctx, cmd)
}

func (s *EditorSession) onCommandFailed(cmd domain.Command, err error) {
	switch {
	case errors.Is(err, domain.ErrNothingToUndo):
		s.emit(domain.Event{Type: domain.EvtNothingToUndo})
	case errors.Is(err, domain.ErrNothingToRedo):
		s.emit(domain.Event{Type: domain.EvtNothingToRedo})
	default:
		s.emitError(cmd, err)
	}
}

func (s *EditorSession) onHistoryStatus(st history.Status) {
	s.emit(domain.Event{Type: domain.EvtHistoryChanged, Payload: st})
}

// SetTool implements router.Handler.
func (s *EditorSession) SetTool(mode string) error {
	s.surface.SetTool(mode)
	return nil
}

// SetBrushSize implements router.Handler.
func (s *EditorSession) SetBrushSize(size float64) error {
	s.surface.SetBrushSize(size)
	return nil
}

// AddText implements router.Handler.
func (s *EditorSession) AddText() error {
	s.surface.AddText()
	return nil
}

// DrawPath implements router.Handler. Paths are only accepted in draw mode.
func (s *EditorSession) DrawPath(points []domain.Point) error {
	if s.surface.Tool() != router.ModeDraw {
		return domain.ErrMalformedPayload.WithDetails("not in draw mode")
	}
	s.surface.AddPath(points)
	return nil
}

// ApplyFilter implements router.Handler.
func (s *EditorSession) ApplyFilter(panel, tool string, value float64) error {
	res, err := s.pipeline.ApplyUpdate(s.primaryImage(), tool, value)
	result := "ok"
	if err != nil {
		result = domain.GetErrorCode(err)
	}
	s.metrics.RecordFilterUpdate(filterLabel(tool), result)
	if err != nil {
		return err
	}
	s.logger.Debug("filter applied", "panel", panel, "tool", res.Tool, "value", res.Value)
	return nil
}

// filterLabel bounds the tool label to known tool names.
func filterLabel(tool string) string {
	name, ok := filter.Lookup(tool)
	if !ok {
		return "unknown"
	}
	return name
}

// ExportImage implements router.Handler.
func (s *EditorSession) ExportImage(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, exportTimeout)
	defer cancel()
	data, err := s.surface.Export(ctx)
	if err != nil {
		return err
	}
	s.emit(domain.Event{Type: domain.EvtExportImage, Payload: domain.ExportPayload{Data: data}})
	return nil
}

// LoadImage implements router.Handler. The load runs off the loop; a newer
// LOAD_IMAGE supersedes any load still in flight.
func (s *EditorSession) LoadImage(url string) error {
	if s.loader == nil {
		return domain.ErrImageLoad.WithDetails("no image loader configured")
	}
	s.startLoad(url, s.onLoadedImage)
	return nil
}

func (s *EditorSession) onLoadedImage(img *render.Image, err error) {
	if err != nil {
		s.emitError(domain.Command{Type: domain.CmdLoadImage}, err)
		return
	}
	s.primary = s.surface.PlaceImage(img)
}

// startLoad decodes url off the loop and posts done back with the result,
// unless a later load was started in the meantime.
func (s *EditorSession) startLoad(url string, done func(*render.Image, error)) {
	s.loadGen++
	gen := s.loadGen
	url = render.NormalizeURL(url)
	go func() {
		img, err := s.loader.Load(s.ctx, url)
		s.loop.Post(func() {
			if gen != s.loadGen {
				s.logger.Info("image load superseded", "url", url)
				return
			}
			done(img, err)
		})
	}()
}

// Undo implements router.Handler.
func (s *EditorSession) Undo(ctx context.Context) error {
	return s.history.Undo(ctx)
}

// Redo implements router.Handler.
func (s *EditorSession) Redo(ctx context.Context) error {
	return s.history.Redo(ctx)
}

// primaryImage returns the cached primary layer while it is still on the
// surface, and re-derives it otherwise.
func (s *EditorSession) primaryImage() *domain.Layer {
	scene := s.surface.Scene()
	if s.primary != nil && scene.Layer(s.primary.ID) == s.primary {
		return s.primary
	}
	s.primary = scene.PrimaryImage()
	return s.primary
}

// ============================================================================
// Events
// ============================================================================

func (s *EditorSession) emitError(cmd domain.Command, err error) {
	code := domain.GetErrorCode(err)
	if code == "" {
		code = domain.ErrInternalServer.Code
	}
	s.emit(domain.Event{
		Type: domain.EvtError,
		Payload: domain.ErrorPayload{
			Code:    code,
			Message: err.Error(),
			Command: string(cmd.Type),
		},
	})
}

func (s *EditorSession) emit(evt domain.Event) {
	s.outbox.Post(func() {
		for _, fn := range s.events {
			fn(evt)
		}
		if s.channel == nil {
			return
		}
		if err := s.channel.Send(s.ctx, evt); err != nil {
			s.logger.Debug("event not delivered", "type", evt.Type, "error", err)
		}
	})
}
