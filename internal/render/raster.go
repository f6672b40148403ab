package render

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"strconv"
	"strings"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/f64"
	"golang.org/x/image/math/fixed"

	"github.com/yndnr/retouch-go/internal/core/domain"
)

// PNGDataURLPrefix prefixes exported images.
const PNGDataURLPrefix = "data:image/png;base64,"

// Export implements Surface.
func (h *Headless) Export(ctx context.Context) (string, error) {
	h.mu.Lock()
	scene := h.scene.Clone()
	pixels := make(map[string]*Image, len(h.pixels))
	for k, v := range h.pixels {
		pixels[k] = v
	}
	h.mu.Unlock()

	img, err := Rasterize(ctx, scene, func(src string) image.Image {
		if p := pixels[src]; p != nil {
			return p.Pixels
		}
		return nil
	})
	if err != nil {
		return "", domain.ErrExportFailed.WithCause(err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", domain.ErrExportFailed.WithCause(err)
	}
	return PNGDataURLPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Rasterize flattens scene into an RGBA image of the canvas size. Layers
// are drawn in order; image layers whose pixels cannot be resolved are
// skipped.
func Rasterize(ctx context.Context, scene *domain.Scene, resolve func(src string) image.Image) (*image.RGBA, error) {
	w, h := int(math.Ceil(scene.Width)), int(math.Ceil(scene.Height))
	if w <= 0 || h <= 0 || w > domain.MaxCanvasDimension || h > domain.MaxCanvasDimension {
		return nil, fmt.Errorf("invalid canvas size %dx%d", w, h)
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(ParseColor(scene.Background, color.White)), image.Point{}, draw.Src)

	for _, l := range scene.Layers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		switch l.Kind {
		case domain.LayerImage:
			if src := resolve(l.Src); src != nil {
				drawImage(dst, l, src)
			}
		case domain.LayerText:
			drawText(dst, l)
		case domain.LayerPath:
			if err := drawPath(ctx, dst, l); err != nil {
				return nil, err
			}
		}
	}
	return dst, nil
}

// layerTransform maps layer-local coordinates to canvas coordinates.
func layerTransform(l *domain.Layer, width, height float64) f64.Aff3 {
	rad := l.Angle * math.Pi / 180
	cos, sin := math.Cos(rad), math.Sin(rad)
	sx, sy := l.ScaleX, l.ScaleY

	a, b := sx*cos, -sy*sin
	d, e := sx*sin, sy*cos
	ox := originOffset(l.OriginX, width)
	oy := originOffset(l.OriginY, height)

	return f64.Aff3{
		a, b, l.Left - (a*ox + b*oy),
		d, e, l.Top - (d*ox + e*oy),
	}
}

func originOffset(origin string, size float64) float64 {
	switch origin {
	case "center":
		return size / 2
	case "right", "bottom":
		return size
	default:
		return 0
	}
}

func drawImage(dst *image.RGBA, l *domain.Layer, src image.Image) {
	b := src.Bounds()
	m := layerTransform(l, float64(b.Dx()), float64(b.Dy()))
	draw.CatmullRom.Transform(dst, m, src, b, draw.Over, nil)
}

func drawText(dst *image.RGBA, l *domain.Layer) {
	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(ParseColor(l.Fill, color.Black)),
		Face: face,
	}
	width := d.MeasureString(l.Text).Round()
	height := face.Metrics().Height.Round()

	x := l.Left - originOffset(l.OriginX, float64(width))
	y := l.Top - originOffset(l.OriginY, float64(height))
	d.Dot = fixed.P(int(x), int(y)+face.Metrics().Ascent.Round())
	d.DrawString(l.Text)
}

// pathPixelBudget bounds the pixels one path layer stamps. Strokes that
// would exceed it are stamped at a wider spacing.
const pathPixelBudget = 1 << 28

// maxPathStamps caps the stamps of one path layer.
const maxPathStamps = 1 << 20

// drawPath stamps a square brush along each segment. Segments are clipped
// to the canvas grown by the brush radius first, so off-canvas geometry
// costs nothing.
func drawPath(ctx context.Context, dst *image.RGBA, l *domain.Layer) error {
	if len(l.Points) == 0 {
		return nil
	}
	src := image.NewUniform(ParseColor(l.Stroke, color.Black))
	r := math.Min(math.Max(l.StrokeWidth/2, 0.5), domain.MaxCanvasDimension)

	b := dst.Bounds()
	clip := rect{
		minX: float64(b.Min.X) - r, minY: float64(b.Min.Y) - r,
		maxX: float64(b.Max.X) + r, maxY: float64(b.Max.Y) + r,
	}
	at := func(p domain.Point) domain.Point {
		return domain.Point{X: p.X + l.Left, Y: p.Y + l.Top}
	}

	stamps := 0
	stamp := func(p domain.Point) {
		stamps++
		box := image.Rect(
			int(math.Floor(p.X-r)), int(math.Floor(p.Y-r)),
			int(math.Ceil(p.X+r)), int(math.Ceil(p.Y+r)),
		)
		draw.Draw(dst, box, src, image.Point{}, draw.Over)
	}

	if len(l.Points) == 1 {
		if p := at(l.Points[0]); clip.contains(p) {
			stamp(p)
		}
		return nil
	}

	type segment struct{ a, b domain.Point }
	segs := make([]segment, 0, len(l.Points)-1)
	total := 0.0
	for i := 1; i < len(l.Points); i++ {
		a, b, ok := clip.segment(at(l.Points[i-1]), at(l.Points[i]))
		if !ok {
			continue
		}
		segs = append(segs, segment{a, b})
		total += math.Hypot(b.X-a.X, b.Y-a.Y)
	}

	budget := math.Max(1, math.Min(maxPathStamps, pathPixelBudget/(4*r*r)))
	spacing := math.Max(r, total/budget)
	limit := 2 * int(budget)

	for _, s := range segs {
		if err := ctx.Err(); err != nil {
			return err
		}
		stamp(s.a)
		steps := int(math.Ceil(math.Hypot(s.b.X-s.a.X, s.b.Y-s.a.Y) / spacing))
		for i := 1; i <= steps && stamps < limit; i++ {
			t := float64(i) / float64(steps)
			stamp(domain.Point{X: s.a.X + (s.b.X-s.a.X)*t, Y: s.a.Y + (s.b.Y-s.a.Y)*t})
		}
		if stamps >= limit {
			break
		}
	}
	return nil
}

type rect struct{ minX, minY, maxX, maxY float64 }

func (c rect) contains(p domain.Point) bool {
	return p.X >= c.minX && p.X <= c.maxX && p.Y >= c.minY && p.Y <= c.maxY
}

// segment clips a-b to c (Liang-Barsky). ok is false when no part of the
// segment lies inside.
func (c rect) segment(a, b domain.Point) (domain.Point, domain.Point, bool) {
	dx, dy := b.X-a.X, b.Y-a.Y
	t0, t1 := 0.0, 1.0
	edges := [4][2]float64{
		{-dx, a.X - c.minX},
		{dx, c.maxX - a.X},
		{-dy, a.Y - c.minY},
		{dy, c.maxY - a.Y},
	}
	for _, e := range edges {
		p, q := e[0], e[1]
		if p == 0 {
			if q < 0 {
				return a, b, false
			}
			continue
		}
		t := q / p
		if p < 0 {
			t0 = math.Max(t0, t)
		} else {
			t1 = math.Min(t1, t)
		}
		if t0 > t1 {
			return a, b, false
		}
	}
	return domain.Point{X: a.X + t0*dx, Y: a.Y + t0*dy},
		domain.Point{X: a.X + t1*dx, Y: a.Y + t1*dy}, true
}

// ParseColor parses #rgb or #rrggbb, returning fallback otherwise.
func ParseColor(s string, fallback color.Color) color.Color {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) == 3 {
		s = string([]byte{s[0], s[0], s[1], s[1], s[2], s[2]})
	}
	if len(s) != 6 {
		return fallback
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return fallback
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}
}
