package domain

import (
	"crypto/rand"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// SceneVersion is the current scene serialization version.
const SceneVersion = 1

// Scene defaults.
const (
	DefaultCanvasWidth  = 1024
	DefaultCanvasHeight = 768
	DefaultBackground   = "#ffffff"
	DefaultBrushSize    = 5
	DefaultFontSize     = 40
	DefaultTextContent  = "Double-click to edit"
	DefaultTextFill     = "#000000"
	DefaultStrokeColor  = "#000000"

	// LayerIDPrefix is the prefix for layer IDs.
	LayerIDPrefix = "rtly-"
)

// Geometry bounds. A canvas side is at most MaxCanvasDimension pixels,
// path points lie within MaxCoordinate of the origin on each axis, and a
// decoded image holds at most MaxImagePixels pixels.
const (
	MaxCanvasDimension = 16384
	MaxCoordinate      = 1 << 20
	MaxImagePixels     = 64 << 20
	MaxBrushSize       = 1000
)

// InBounds reports whether p is finite and within MaxCoordinate on both
// axes.
func (p Point) InBounds() bool {
	return math.Abs(p.X) <= MaxCoordinate && math.Abs(p.Y) <= MaxCoordinate
}

// LayerKind is the kind of a scene object.
type LayerKind string

// Layer kinds.
const (
	LayerImage LayerKind = "image"
	LayerText  LayerKind = "text"
	LayerPath  LayerKind = "path"
)

// Valid reports whether k is a known layer kind.
func (k LayerKind) Valid() bool {
	switch k {
	case LayerImage, LayerText, LayerPath:
		return true
	default:
		return false
	}
}

// Point is a 2D coordinate in canvas space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Layer is one editable scene object.
type Layer struct {
	ID   string    `json:"id"`
	Kind LayerKind `json:"kind"`

	// Geometry.
	Left    float64 `json:"left"`
	Top     float64 `json:"top"`
	ScaleX  float64 `json:"scale_x"`
	ScaleY  float64 `json:"scale_y"`
	Angle   float64 `json:"angle"`
	OriginX string  `json:"origin_x"`
	OriginY string  `json:"origin_y"`

	Selectable bool `json:"selectable"`

	// Image layers.
	Src    string  `json:"src,omitempty"`
	Width  float64 `json:"width,omitempty"`
	Height float64 `json:"height,omitempty"`

	// Text layers.
	Text     string  `json:"text,omitempty"`
	FontSize float64 `json:"font_size,omitempty"`
	Fill     string  `json:"fill,omitempty"`

	// Path layers.
	Points      []Point `json:"points,omitempty"`
	Stroke      string  `json:"stroke,omitempty"`
	StrokeWidth float64 `json:"stroke_width,omitempty"`

	// Filters is owned by the layer and is only present on image layers.
	Filters *FilterSlotTable `json:"filters,omitempty"`
}

// NewImageLayer creates an image layer with an empty filter table.
func NewImageLayer(src string, width, height float64) *Layer {
	return &Layer{
		ID:         NewLayerID(),
		Kind:       LayerImage,
		ScaleX:     1,
		ScaleY:     1,
		OriginX:    "left",
		OriginY:    "top",
		Selectable: true,
		Src:        src,
		Width:      width,
		Height:     height,
		Filters:    NewFilterSlotTable(),
	}
}

// NewTextLayer creates a text layer with default content.
func NewTextLayer(left, top float64) *Layer {
	return &Layer{
		ID:         NewLayerID(),
		Kind:       LayerText,
		Left:       left,
		Top:        top,
		ScaleX:     1,
		ScaleY:     1,
		OriginX:    "center",
		OriginY:    "center",
		Selectable: true,
		Text:       DefaultTextContent,
		FontSize:   DefaultFontSize,
		Fill:       DefaultTextFill,
	}
}

// NewPathLayer creates a freehand path layer.
func NewPathLayer(points []Point, stroke string, width float64) *Layer {
	return &Layer{
		ID:          NewLayerID(),
		Kind:        LayerPath,
		ScaleX:      1,
		ScaleY:      1,
		OriginX:     "left",
		OriginY:     "top",
		Selectable:  true,
		Points:      slices.Clone(points),
		Stroke:      stroke,
		StrokeWidth: width,
	}
}

// NewLayerID generates a layer ID: rtly-{ulid_lowercase}.
func NewLayerID() string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	return LayerIDPrefix + strings.ToLower(id.String())
}

// Clone returns a deep copy of the layer.
func (l *Layer) Clone() *Layer {
	if l == nil {
		return nil
	}
	c := *l
	c.Points = slices.Clone(l.Points)
	c.Filters = l.Filters.Clone()
	return &c
}

// IsLoadedImage reports whether l is an image layer with decoded dimensions.
func (l *Layer) IsLoadedImage() bool {
	return l != nil && l.Kind == LayerImage && l.Src != "" && l.Width > 0 && l.Height > 0
}

// Scene is the entire editable scene.
type Scene struct {
	Version    int      `json:"version"`
	Width      float64  `json:"width"`
	Height     float64  `json:"height"`
	Background string   `json:"background"`
	Layers     []*Layer `json:"objects"`
}

// NewScene creates a blank scene of the given canvas size.
func NewScene(width, height float64) *Scene {
	return &Scene{
		Version:    SceneVersion,
		Width:      width,
		Height:     height,
		Background: DefaultBackground,
		Layers:     []*Layer{},
	}
}

// Clone returns a deep copy of the scene.
func (s *Scene) Clone() *Scene {
	if s == nil {
		return nil
	}
	c := *s
	c.Layers = make([]*Layer, len(s.Layers))
	for i, l := range s.Layers {
		c.Layers[i] = l.Clone()
	}
	return &c
}

// PrimaryImage returns the first layer, in scene order, whose kind is image.
// The primary image is never stored explicitly; it is re-derived by this
// rule whenever a scene is restored.
func (s *Scene) PrimaryImage() *Layer {
	if s == nil {
		return nil
	}
	for _, l := range s.Layers {
		if l != nil && l.Kind == LayerImage {
			return l
		}
	}
	return nil
}

// Layer returns the layer with the given ID.
func (s *Scene) Layer(id string) *Layer {
	for _, l := range s.Layers {
		if l != nil && l.ID == id {
			return l
		}
	}
	return nil
}

// Validate checks structural invariants of a decoded scene.
func (s *Scene) Validate() error {
	if s.Version != SceneVersion {
		return fmt.Errorf("unsupported scene version %d", s.Version)
	}
	if !validDimension(s.Width) || !validDimension(s.Height) {
		return fmt.Errorf("invalid canvas size %gx%g", s.Width, s.Height)
	}
	seen := make(map[string]struct{}, len(s.Layers))
	for i, l := range s.Layers {
		if l == nil {
			return fmt.Errorf("object %d is null", i)
		}
		if !l.Kind.Valid() {
			return fmt.Errorf("object %d has unknown kind %q", i, l.Kind)
		}
		if l.ID == "" {
			return fmt.Errorf("object %d has no id", i)
		}
		if _, dup := seen[l.ID]; dup {
			return fmt.Errorf("object id %q repeated", l.ID)
		}
		seen[l.ID] = struct{}{}
		if l.Kind != LayerImage && l.Filters != nil && l.Filters.Len() > 0 {
			return fmt.Errorf("object %d of kind %q carries filters", i, l.Kind)
		}
		for _, p := range l.Points {
			if !p.InBounds() {
				return fmt.Errorf("object %d has a point out of bounds", i)
			}
		}
	}
	return nil
}

func validDimension(v float64) bool {
	return v > 0 && v <= MaxCanvasDimension
}
