package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/yndnr/retouch-go/internal/core/domain"
	"github.com/yndnr/retouch-go/internal/infra/buildinfo"
)

// SnapshotField is the JSON field carrying the serialized snapshot.
const SnapshotField = "snapshot"

// DefaultTimeout bounds each request when the caller's context has no
// deadline.
const DefaultTimeout = 15 * time.Second

// maxResponseBytes caps a response body. JSON escaping can double the
// snapshot size.
const maxResponseBytes = 2*domain.MaxSnapshotSize + 64<<10

// Store fetches and persists canvas snapshots.
type Store interface {
	Fetch(ctx context.Context, canvasID string) (domain.Snapshot, error)
	Persist(ctx context.Context, canvasID string, snap domain.Snapshot) error
}

// SnapshotBody is the request and response body of the canvas API.
type SnapshotBody struct {
	Snapshot string `json:"snapshot"`
}

// HTTPStore is a Store over the canvas HTTP API.
type HTTPStore struct {
	baseURL   string
	client    *http.Client
	userAgent string
	authToken string
	logger    *slog.Logger
}

// NewHTTPStore creates a store for baseURL. Without a scheme, http:// is
// assumed.
func NewHTTPStore(baseURL string, timeout time.Duration, logger *slog.Logger) *HTTPStore {
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "http://" + baseURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPStore{
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    &http.Client{Timeout: timeout},
		userAgent: buildinfo.UserAgent("retouch-editor"),
		logger:    logger,
	}
}

// WithClient replaces the HTTP client.
func (s *HTTPStore) WithClient(c *http.Client) *HTTPStore {
	s.client = c
	return s
}

// WithAPIKey authenticates requests with an API key id and secret.
func (s *HTTPStore) WithAPIKey(keyID, secret string) *HTTPStore {
	if keyID != "" && secret != "" {
		s.authToken = keyID + ":" + secret
	}
	return s
}

// BaseURL returns the API base URL.
func (s *HTTPStore) BaseURL() string {
	return s.baseURL
}

func (s *HTTPStore) canvasURL(id string) string {
	return s.baseURL + "/v1/canvases/" + url.PathEscape(id)
}

// Fetch implements Store.
func (s *HTTPStore) Fetch(ctx context.Context, canvasID string) (domain.Snapshot, error) {
	if canvasID == "" {
		return domain.Snapshot{}, domain.ErrCanvasValidation.WithDetails("canvas id is required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.canvasURL(canvasID), nil)
	if err != nil {
		return domain.Snapshot{}, domain.ErrRemoteTransport.WithCause(err)
	}
	s.addHeaders(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return domain.Snapshot{}, domain.ErrRemoteTransport.WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return domain.Snapshot{}, domain.ErrCanvasNotFound.WithDetails(canvasID)
	}
	if err := checkStatus(resp); err != nil {
		return domain.Snapshot{}, err
	}

	payload, err := decodeSnapshot(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return domain.Snapshot{}, err
	}
	if payload == "" {
		return domain.Snapshot{}, domain.ErrCanvasNotFound.WithDetails("empty snapshot")
	}

	s.logger.Debug("remote snapshot fetched", "canvas_id", canvasID, "bytes", len(payload))
	return domain.SnapshotFromString(payload), nil
}

// Persist implements Store.
func (s *HTTPStore) Persist(ctx context.Context, canvasID string, snap domain.Snapshot) error {
	if canvasID == "" {
		return domain.ErrCanvasValidation.WithDetails("canvas id is required")
	}

	data, err := json.Marshal(SnapshotBody{Snapshot: snap.String()})
	if err != nil {
		return domain.ErrRemoteTransport.WithCause(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, s.canvasURL(canvasID), bytes.NewReader(data))
	if err != nil {
		return domain.ErrRemoteTransport.WithCause(err)
	}
	s.addHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return domain.ErrRemoteTransport.WithCause(err)
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused.
	defer io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	return checkStatus(resp)
}

func (s *HTTPStore) addHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", s.userAgent)
	if s.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.authToken)
	}
}

// checkStatus maps a non-2xx response to a transport error, keeping the
// server's error code when the body carries one.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return nil
	}
	var errResp struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Message != "" {
		return domain.ErrRemoteTransport.WithDetails(
			fmt.Sprintf("status %d: [%s] %s", resp.StatusCode, errResp.Code, errResp.Message))
	}
	return domain.ErrRemoteTransport.WithDetails(fmt.Sprintf("status %d", resp.StatusCode))
}

// decodeSnapshot reads the snapshot field from a bare or enveloped body.
func decodeSnapshot(r io.Reader) (string, error) {
	var body struct {
		Snapshot *string `json:"snapshot"`
		Data     *struct {
			Snapshot string `json:"snapshot"`
		} `json:"data"`
	}
	if err := json.NewDecoder(r).Decode(&body); err != nil {
		if errors.Is(err, io.EOF) {
			return "", nil
		}
		return "", domain.ErrRemoteTransport.WithCause(fmt.Errorf("decode response: %w", err))
	}
	switch {
	case body.Snapshot != nil:
		return *body.Snapshot, nil
	case body.Data != nil:
		return body.Data.Snapshot, nil
	default:
		return "", nil
	}
}
