package render

import (
	"context"
	"log/slog"
	"math"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/yndnr/retouch-go/internal/core/domain"
)

// Headless is an in-memory Surface.
type Headless struct {
	logger *slog.Logger

	mu        sync.Mutex
	scene     *domain.Scene
	tool      string
	brush     float64
	pixels    map[string]*Image
	baked     map[string][]domain.Effect
	listeners []ChangeListener

	renders atomic.Int64
}

// NewHeadless creates a blank surface of the given canvas size.
func NewHeadless(width, height float64, logger *slog.Logger) *Headless {
	if width <= 0 {
		width = domain.DefaultCanvasWidth
	}
	if height <= 0 {
		height = domain.DefaultCanvasHeight
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Headless{
		logger: logger,
		scene:  domain.NewScene(width, height),
		tool:   "select",
		brush:  domain.DefaultBrushSize,
		pixels: make(map[string]*Image),
		baked:  make(map[string][]domain.Effect),
	}
}

// Scene implements Surface.
func (h *Headless) Scene() *domain.Scene {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.scene
}

// Restore implements Surface.
func (h *Headless) Restore(ctx context.Context, scene *domain.Scene) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if scene == nil {
		return domain.ErrCorruptSnapshot.WithDetails("nil scene")
	}

	h.mu.Lock()
	h.scene = scene.Clone()
	h.baked = make(map[string][]domain.Effect)
	for _, l := range h.scene.Layers {
		if l.Kind == domain.LayerImage && h.pixels[l.Src] == nil {
			h.logger.Debug("restored image has no decoded pixels", "layer", l.ID)
		}
	}
	h.mu.Unlock()

	h.changed()
	return nil
}

// PlaceImage implements Surface. The image is scaled to fit the canvas
// while keeping its aspect ratio and centred.
func (h *Headless) PlaceImage(img *Image) *domain.Layer {
	h.mu.Lock()
	w, ht := float64(img.Width()), float64(img.Height())
	layer := domain.NewImageLayer(img.Src, w, ht)
	FitLayer(layer, h.scene.Width, h.scene.Height)

	h.pixels[img.Src] = img
	h.scene.Layers = []*domain.Layer{layer}
	h.baked = make(map[string][]domain.Effect)
	h.mu.Unlock()

	h.changed()
	return layer
}

// FitLayer scales layer to fit a canvas of cw x ch and centres it.
func FitLayer(layer *domain.Layer, cw, ch float64) {
	scale := 1.0
	if layer.Width > 0 && layer.Height > 0 {
		scale = math.Min(cw/layer.Width, ch/layer.Height)
	}
	layer.Left = cw / 2
	layer.Top = ch / 2
	layer.OriginX = "center"
	layer.OriginY = "center"
	layer.ScaleX = scale
	layer.ScaleY = scale
	layer.Selectable = true
}

// AttachImage implements Surface.
func (h *Headless) AttachImage(img *Image) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pixels[img.Src] = img
}

// HasPixels reports whether decoded pixels are registered for src.
func (h *Headless) HasPixels(src string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pixels[src] != nil
}

// Clear implements Surface.
func (h *Headless) Clear() {
	h.mu.Lock()
	h.scene.Layers = []*domain.Layer{}
	h.baked = make(map[string][]domain.Effect)
	h.mu.Unlock()

	h.changed()
}

// AddText implements Surface.
func (h *Headless) AddText() *domain.Layer {
	h.mu.Lock()
	layer := domain.NewTextLayer(h.scene.Width/2, h.scene.Height/2)
	h.scene.Layers = append(h.scene.Layers, layer)
	h.mu.Unlock()

	h.changed()
	return layer
}

// AddPath implements Surface.
func (h *Headless) AddPath(points []domain.Point) *domain.Layer {
	h.mu.Lock()
	layer := domain.NewPathLayer(points, domain.DefaultStrokeColor, h.brush)
	h.scene.Layers = append(h.scene.Layers, layer)
	h.mu.Unlock()

	h.changed()
	return layer
}

// SetTool implements Surface.
func (h *Headless) SetTool(mode string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tool = mode
}

// Tool implements Surface.
func (h *Headless) Tool() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tool
}

// SetBrushSize implements Surface.
func (h *Headless) SetBrushSize(size float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.brush = size
}

// BrushSize implements Surface.
func (h *Headless) BrushSize() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.brush
}

// Bake implements Surface. The stack replaces the layer's previous one.
// A bake modifies the layer, so change listeners are notified.
func (h *Headless) Bake(layer *domain.Layer, stack []domain.Effect) error {
	if layer == nil {
		return domain.ErrNoTargetImage
	}

	h.mu.Lock()
	if h.scene.Layer(layer.ID) == nil {
		h.mu.Unlock()
		return domain.ErrNoTargetImage.WithDetails("layer not on surface")
	}
	baked := make([]domain.Effect, len(stack))
	for i, e := range stack {
		baked[i] = e.Clone()
	}
	h.baked[layer.ID] = baked
	h.mu.Unlock()

	h.changed()
	return nil
}

// Baked returns the last stack baked onto the layer.
func (h *Headless) Baked(layerID string) []domain.Effect {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.baked[layerID])
}

// RequestRender implements Surface.
func (h *Headless) RequestRender() {
	h.renders.Add(1)
}

// Renders returns the number of render requests.
func (h *Headless) Renders() int64 {
	return h.renders.Load()
}

// OnChange implements Surface.
func (h *Headless) OnChange(fn ChangeListener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = append(h.listeners, fn)
}

func (h *Headless) changed() {
	h.mu.Lock()
	listeners := slices.Clone(h.listeners)
	h.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}
