package render

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	_ "golang.org/x/image/webp" // register WebP decoder

	"github.com/yndnr/retouch-go/internal/core/domain"
)

// DefaultMaxImageBytes caps a fetched image body.
const DefaultMaxImageBytes = 32 << 20

// Loader fetches and decodes an image.
type Loader interface {
	Load(ctx context.Context, url string) (*Image, error)
}

// NormalizeURL makes a schema-relative URL ("//host/path") absolute with
// https. Other input is returned trimmed.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "//") {
		return "https:" + raw
	}
	return raw
}

// HTTPLoader fetches images anonymously over HTTP. Requests carry no
// cookies or credentials. data: URLs are decoded in place.
type HTTPLoader struct {
	client    *http.Client
	maxBytes  int64
	maxPixels int64
	logger    *slog.Logger
}

// NewHTTPLoader creates a loader. A nil client gets a 30s timeout client.
func NewHTTPLoader(client *http.Client, logger *slog.Logger) *HTTPLoader {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPLoader{
		client:    client,
		maxBytes:  DefaultMaxImageBytes,
		maxPixels: domain.MaxImagePixels,
		logger:    logger,
	}
}

// Load implements Loader. Failures are domain.ErrImageLoad.
func (l *HTTPLoader) Load(ctx context.Context, url string) (*Image, error) {
	url = NormalizeURL(url)
	if url == "" {
		return nil, domain.ErrImageLoad.WithDetails("empty url")
	}

	var (
		body io.Reader
		err  error
	)
	if strings.HasPrefix(url, "data:") {
		body, err = dataURLReader(url)
	} else {
		var closeFn func()
		body, closeFn, err = l.fetch(ctx, url)
		if closeFn != nil {
			defer closeFn()
		}
	}
	if err != nil {
		return nil, domain.ErrImageLoad.WithCause(err)
	}

	data, err := io.ReadAll(io.LimitReader(body, l.maxBytes))
	if err != nil {
		return nil, domain.ErrImageLoad.WithCause(err)
	}
	// The header is checked before decoding so a small file declaring huge
	// dimensions is never expanded.
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, domain.ErrImageLoad.WithCause(fmt.Errorf("decode: %w", err))
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, domain.ErrImageLoad.WithDetails("image has no pixels")
	}
	if int64(cfg.Width)*int64(cfg.Height) > l.maxPixels {
		return nil, domain.ErrImageLoad.WithDetails(
			fmt.Sprintf("image %dx%d exceeds %d pixels", cfg.Width, cfg.Height, l.maxPixels))
	}

	pixels, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, domain.ErrImageLoad.WithCause(fmt.Errorf("decode: %w", err))
	}

	l.logger.Debug("image loaded",
		"format", format,
		"width", pixels.Bounds().Dx(),
		"height", pixels.Bounds().Dy())
	return &Image{Src: url, Pixels: pixels}, nil
}

func (l *HTTPLoader) fetch(ctx context.Context, url string) (io.Reader, func(), error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Accept", "image/png,image/jpeg,image/gif,image/webp,*/*;q=0.5")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() { resp.Body.Close() }
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		closeFn()
		return nil, nil, fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	return resp.Body, closeFn, nil
}

func dataURLReader(url string) (io.Reader, error) {
	meta, data, ok := strings.Cut(strings.TrimPrefix(url, "data:"), ",")
	if !ok {
		return nil, fmt.Errorf("malformed data url")
	}
	if !strings.HasSuffix(meta, ";base64") {
		return strings.NewReader(data), nil
	}
	return base64.NewDecoder(base64.StdEncoding, strings.NewReader(data)), nil
}

// DecodeDataURL returns the bytes carried by a data: URL.
func DecodeDataURL(url string) ([]byte, error) {
	if !strings.HasPrefix(url, "data:") {
		return nil, fmt.Errorf("not a data url")
	}
	r, err := dataURLReader(url)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}
