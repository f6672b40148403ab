// Package render provides the rendering surface the editor session drives.
//
// Surface is the boundary to the canvas engine: it owns the live scene,
// places decoded images, adds text and freehand paths, bakes filter stacks
// and flattens the scene for export. Headless is a complete in-process
// implementation used by the server and by tests; it rasterizes with
// golang.org/x/image and records, rather than computes, pixel effects.
package render

import (
	"context"
	"image"

	"github.com/yndnr/retouch-go/internal/core/domain"
)

// Image is a decoded source image.
type Image struct {
	Src    string
	Pixels image.Image
}

// Width returns the intrinsic width in pixels.
func (i *Image) Width() int { return i.Pixels.Bounds().Dx() }

// Height returns the intrinsic height in pixels.
func (i *Image) Height() int { return i.Pixels.Bounds().Dy() }

// ChangeListener is called after every scene mutation, on the goroutine
// that made the change.
type ChangeListener func()

// Surface is the editable canvas.
type Surface interface {
	// Scene returns the live scene. Callers must not retain it across
	// mutations.
	Scene() *domain.Scene
	// Restore replaces the scene with a copy of scene.
	Restore(ctx context.Context, scene *domain.Scene) error
	// PlaceImage replaces the scene contents with img fitted to the canvas
	// and returns the new image layer.
	PlaceImage(img *Image) *domain.Layer
	// AttachImage registers decoded pixels for img.Src without changing
	// the scene, e.g. for image layers of a restored scene.
	AttachImage(img *Image)
	// Clear removes every layer.
	Clear()
	// AddText inserts a default text element at the canvas centre.
	AddText() *domain.Layer
	// AddPath inserts a finished freehand stroke using the current brush.
	AddPath(points []domain.Point) *domain.Layer
	// SetTool switches the interaction mode.
	SetTool(mode string)
	// Tool returns the interaction mode.
	Tool() string
	// SetBrushSize sets the freehand stroke width.
	SetBrushSize(size float64)
	// BrushSize returns the freehand stroke width.
	BrushSize() float64
	// Bake applies a composed effect stack to layer.
	Bake(layer *domain.Layer, stack []domain.Effect) error
	// RequestRender schedules a repaint without waiting for it.
	RequestRender()
	// Export flattens the scene into a PNG data URL.
	Export(ctx context.Context) (string, error)
	// OnChange registers a listener for scene mutations.
	OnChange(fn ChangeListener)
}
