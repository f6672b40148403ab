package render

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/yndnr/retouch-go/internal/core/domain"
)

func solid(w, h int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func pngBytes(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode() error = %v", err)
	}
	return buf.Bytes()
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"//cdn.example/a.png", "https://cdn.example/a.png"},
		{"https://cdn.example/a.png", "https://cdn.example/a.png"},
		{"  //x/y ", "https://x/y"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeURL(tt.in); got != tt.want {
			t.Errorf("NormalizeURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFitLayer(t *testing.T) {
	tests := []struct {
		name      string
		w, h      float64
		wantScale float64
	}{
		{"wide", 2000, 500, 0.5},
		{"tall", 500, 1000, 0.5},
		{"small", 100, 100, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := domain.NewImageLayer("a.png", tt.w, tt.h)
			FitLayer(l, 1000, 500)
			if l.ScaleX != tt.wantScale || l.ScaleY != tt.wantScale {
				t.Errorf("scale = %v,%v want %v", l.ScaleX, l.ScaleY, tt.wantScale)
			}
			if l.Left != 500 || l.Top != 250 || l.OriginX != "center" || l.OriginY != "center" {
				t.Errorf("placement = (%v,%v,%s,%s)", l.Left, l.Top, l.OriginX, l.OriginY)
			}
			if !l.Selectable {
				t.Error("Selectable = false")
			}
		})
	}
}

func TestHeadless_MutationsNotify(t *testing.T) {
	h := NewHeadless(200, 100, nil)
	changes := 0
	h.OnChange(func() { changes++ })

	layer := h.PlaceImage(&Image{Src: "a.png", Pixels: solid(40, 20, color.White)})
	h.AddText()
	h.AddPath([]domain.Point{{X: 1, Y: 1}, {X: 5, Y: 5}})
	if err := h.Bake(layer, nil); err != nil {
		t.Fatalf("Bake() error = %v", err)
	}
	h.SetTool("draw")
	h.SetBrushSize(9)

	if changes != 4 {
		t.Errorf("changes = %d, want 4", changes)
	}
	if got := len(h.Scene().Layers); got != 3 {
		t.Errorf("layers = %d, want 3", got)
	}
	if h.Scene().PrimaryImage() != layer {
		t.Error("PrimaryImage() is not the placed layer")
	}
	if h.Tool() != "draw" || h.BrushSize() != 9 {
		t.Errorf("tool = %s, brush = %v", h.Tool(), h.BrushSize())
	}

	h.Clear()
	if len(h.Scene().Layers) != 0 || changes != 5 {
		t.Errorf("after Clear layers = %d, changes = %d", len(h.Scene().Layers), changes)
	}
}

func TestHeadless_PlaceImageReplacesScene(t *testing.T) {
	h := NewHeadless(200, 100, nil)
	h.AddText()
	h.PlaceImage(&Image{Src: "a.png", Pixels: solid(10, 10, color.White)})
	second := h.PlaceImage(&Image{Src: "b.png", Pixels: solid(10, 10, color.White)})

	layers := h.Scene().Layers
	if len(layers) != 1 || layers[0] != second {
		t.Errorf("layers = %v, want only the latest image", layers)
	}
}

func TestHeadless_BakeAndRestore(t *testing.T) {
	h := NewHeadless(200, 100, nil)
	layer := h.PlaceImage(&Image{Src: "a.png", Pixels: solid(10, 10, color.White)})

	stack := []domain.Effect{{Kind: domain.EffectBlur, Params: map[string]float64{"blur": 0.2}}}
	if err := h.Bake(layer, stack); err != nil {
		t.Fatalf("Bake() error = %v", err)
	}
	if got := h.Baked(layer.ID); len(got) != 1 || !got[0].Equal(stack[0]) {
		t.Errorf("Baked() = %v", got)
	}

	foreign := domain.NewImageLayer("x.png", 1, 1)
	if err := h.Bake(foreign, stack); !errors.Is(err, domain.ErrNoTargetImage) {
		t.Errorf("Bake(foreign) error = %v, want ErrNoTargetImage", err)
	}

	restored := domain.NewScene(200, 100)
	restored.Layers = append(restored.Layers, layer.Clone())
	if err := h.Restore(context.Background(), restored); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if h.Scene() == restored {
		t.Error("Restore() kept the caller's scene")
	}
	if len(h.Baked(layer.ID)) != 0 {
		t.Error("Restore() kept stale baked stacks")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := h.Restore(ctx, restored); err == nil {
		t.Error("Restore() with cancelled context error = nil")
	}
}

func TestHeadless_RequestRender(t *testing.T) {
	h := NewHeadless(0, 0, nil)
	h.RequestRender()
	h.RequestRender()
	if h.Renders() != 2 {
		t.Errorf("Renders() = %d, want 2", h.Renders())
	}
	if w := h.Scene().Width; w != domain.DefaultCanvasWidth {
		t.Errorf("default width = %v", w)
	}
}

func TestHeadless_Export(t *testing.T) {
	h := NewHeadless(100, 50, nil)
	red := color.RGBA{R: 255, A: 255}
	h.PlaceImage(&Image{Src: "red.png", Pixels: solid(20, 10, red)})
	h.AddText()
	h.SetBrushSize(4)
	h.AddPath([]domain.Point{{X: 0, Y: 0}, {X: 10, Y: 0}})

	url, err := h.Export(context.Background())
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if !strings.HasPrefix(url, PNGDataURLPrefix) {
		t.Fatalf("Export() = %.40s..., want PNG data URL", url)
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(url, PNGDataURLPrefix))
	if err != nil {
		t.Fatalf("base64 decode error = %v", err)
	}
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("png.Decode() error = %v", err)
	}
	if b := img.Bounds(); b.Dx() != 100 || b.Dy() != 50 {
		t.Errorf("exported size = %v, want 100x50", b)
	}

	// The image is fitted to fill the canvas; (90,45) is clear of the text and path.
	r, g, b, _ := img.At(90, 45).RGBA()
	if r>>8 < 200 || g>>8 > 50 || b>>8 > 50 {
		t.Errorf("pixel (90,45) = %d,%d,%d, want red", r>>8, g>>8, b>>8)
	}
}

func TestParseColor(t *testing.T) {
	if c := ParseColor("#fff", color.Black); c != (color.RGBA{255, 255, 255, 255}) {
		t.Errorf("ParseColor(#fff) = %v", c)
	}
	if c := ParseColor("#102030", color.Black); c != (color.RGBA{0x10, 0x20, 0x30, 255}) {
		t.Errorf("ParseColor(#102030) = %v", c)
	}
	if c := ParseColor("red", color.Black); c != color.Black {
		t.Errorf("ParseColor(red) = %v, want fallback", c)
	}
}

func TestHTTPLoader(t *testing.T) {
	body := pngBytes(t, solid(8, 4, color.White))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Cookie") != "" {
			t.Error("request carried cookies")
		}
		switch r.URL.Path {
		case "/ok.png":
			w.Header().Set("Content-Type", "image/png")
			w.Write(body)
		case "/garbage":
			w.Write([]byte("not an image"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	l := NewHTTPLoader(srv.Client(), nil)
	ctx := context.Background()

	img, err := l.Load(ctx, srv.URL+"/ok.png")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if img.Width() != 8 || img.Height() != 4 {
		t.Errorf("size = %dx%d, want 8x4", img.Width(), img.Height())
	}
	if img.Src != srv.URL+"/ok.png" {
		t.Errorf("Src = %q", img.Src)
	}

	for _, path := range []string{"/missing.png", "/garbage"} {
		if _, err := l.Load(ctx, srv.URL+path); !errors.Is(err, domain.ErrImageLoad) {
			t.Errorf("Load(%s) error = %v, want ErrImageLoad", path, err)
		}
	}
	if _, err := l.Load(ctx, ""); !errors.Is(err, domain.ErrImageLoad) {
		t.Errorf("Load(\"\") error = %v, want ErrImageLoad", err)
	}
}

func TestHTTPLoader_DataURL(t *testing.T) {
	body := pngBytes(t, solid(3, 5, color.Black))
	url := "data:image/png;base64," + base64.StdEncoding.EncodeToString(body)

	img, err := NewHTTPLoader(nil, nil).Load(context.Background(), url)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if img.Width() != 3 || img.Height() != 5 {
		t.Errorf("size = %dx%d, want 3x5", img.Width(), img.Height())
	}

	if _, err := NewHTTPLoader(nil, nil).Load(context.Background(), "data:nocomma"); !errors.Is(err, domain.ErrImageLoad) {
		t.Errorf("Load(bad data url) error = %v, want ErrImageLoad", err)
	}
}

func TestDecodeDataURL(t *testing.T) {
	tests := []struct {
		url     string
		want    string
		wantErr bool
	}{
		{"data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("png")), "png", false},
		{"data:text/plain,hello", "hello", false},
		{"data:nocomma", "", true},
		{"https://x/a.png", "", true},
	}
	for _, tt := range tests {
		got, err := DecodeDataURL(tt.url)
		if (err != nil) != tt.wantErr || string(got) != tt.want {
			t.Errorf("DecodeDataURL(%q) = %q, %v", tt.url, got, err)
		}
	}
}

// pngHeader returns a PNG signature and IHDR chunk declaring w x h RGB
// pixels, with no image data.
func pngHeader(w, h uint32) []byte {
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:], w)
	binary.BigEndian.PutUint32(ihdr[4:], h)
	ihdr[8], ihdr[9] = 8, 2 // 8-bit truecolor

	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	binary.Write(&buf, binary.BigEndian, uint32(len(ihdr)))
	chunk := append([]byte("IHDR"), ihdr...)
	buf.Write(chunk)
	binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return buf.Bytes()
}

func TestHTTPLoader_RejectsOversizedImages(t *testing.T) {
	l := NewHTTPLoader(nil, nil)
	ctx := context.Background()

	huge := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngHeader(100000, 100000))
	if _, err := l.Load(ctx, huge); !errors.Is(err, domain.ErrImageLoad) {
		t.Errorf("Load(100000x100000 header) error = %v, want ErrImageLoad", err)
	}

	small := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes(t, solid(8, 4, color.White)))
	l.maxPixels = 31
	if _, err := l.Load(ctx, small); !errors.Is(err, domain.ErrImageLoad) {
		t.Errorf("Load(8x4) with a 31 pixel cap error = %v, want ErrImageLoad", err)
	}
	l.maxPixels = 32
	if _, err := l.Load(ctx, small); err != nil {
		t.Errorf("Load(8x4) with a 32 pixel cap error = %v", err)
	}
}

func TestHeadless_ExportFarPath(t *testing.T) {
	h := NewHeadless(64, 32, nil)
	h.SetBrushSize(1)
	h.AddPath([]domain.Point{{X: 0, Y: 0}, {X: 1e12, Y: 0}})
	h.AddPath([]domain.Point{{X: -1e12, Y: -1e12}, {X: -1e12 + 1, Y: 1e12}})

	done := make(chan error, 1)
	go func() {
		_, err := h.Export(context.Background())
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Export() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Export() of a far-reaching path did not finish")
	}
}

func TestDrawPath_ClipsToCanvas(t *testing.T) {
	dst := image.NewRGBA(image.Rect(0, 0, 20, 10))
	l := domain.NewPathLayer([]domain.Point{{X: -1e9, Y: 5}, {X: 1e9, Y: 5}}, "#ff0000", 2)
	if err := drawPath(context.Background(), dst, l); err != nil {
		t.Fatalf("drawPath() error = %v", err)
	}
	for _, x := range []int{0, 10, 19} {
		if c := dst.RGBAAt(x, 5); c.R != 255 || c.A != 255 {
			t.Errorf("pixel (%d,5) = %v, want red", x, c)
		}
	}
	if c := dst.RGBAAt(10, 0); c.A != 0 {
		t.Errorf("pixel (10,0) = %v, want untouched", c)
	}
}

func TestDrawPath_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	dst := image.NewRGBA(image.Rect(0, 0, 10, 10))
	l := domain.NewPathLayer([]domain.Point{{X: 0, Y: 0}, {X: 9, Y: 9}}, "#000000", 1)
	if err := drawPath(ctx, dst, l); !errors.Is(err, context.Canceled) {
		t.Errorf("drawPath() error = %v, want context.Canceled", err)
	}
}

func TestClipSegment(t *testing.T) {
	c := rect{minX: 0, minY: 0, maxX: 10, maxY: 10}
	tests := []struct {
		name   string
		a, b   domain.Point
		ok     bool
		wa, wb domain.Point
	}{
		{"inside", domain.Point{X: 1, Y: 1}, domain.Point{X: 9, Y: 9}, true, domain.Point{X: 1, Y: 1}, domain.Point{X: 9, Y: 9}},
		{"crossing", domain.Point{X: -10, Y: 5}, domain.Point{X: 30, Y: 5}, true, domain.Point{X: 0, Y: 5}, domain.Point{X: 10, Y: 5}},
		{"outside", domain.Point{X: -5, Y: -5}, domain.Point{X: -1, Y: 20}, false, domain.Point{}, domain.Point{}},
		{"parallel outside", domain.Point{X: 0, Y: 11}, domain.Point{X: 10, Y: 11}, false, domain.Point{}, domain.Point{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, b, ok := c.segment(tt.a, tt.b)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && (a != tt.wa || b != tt.wb) {
				t.Errorf("segment = %v-%v, want %v-%v", a, b, tt.wa, tt.wb)
			}
		})
	}
}
