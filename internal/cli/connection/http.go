package connection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/yndnr/retouch-go/internal/infra/buildinfo"
	"github.com/yndnr/retouch-go/internal/infra/tlsroots"
)

// DefaultTimeout bounds one request.
const DefaultTimeout = 30 * time.Second

// HTTPClient provides HTTP communication with the server.
type HTTPClient struct {
	baseURL  string
	client   *http.Client
	apiKeyID string
	apiKey   string
}

// Option configures an HTTPClient.
type Option func(*HTTPClient) error

// WithAPIKey authenticates every request with the key id and secret.
func WithAPIKey(keyID, secret string) Option {
	return func(c *HTTPClient) error {
		c.apiKeyID, c.apiKey = keyID, secret
		return nil
	}
}

// WithCAFile trusts the certificates in a PEM file for https servers.
func WithCAFile(path string) Option {
	return func(c *HTTPClient) error {
		if path == "" {
			return nil
		}
		pool, err := tlsroots.LoadFile(path)
		if err != nil {
			return fmt.Errorf("load ca file: %w", err)
		}
		c.client.Transport = &http.Transport{
			Proxy:           http.ProxyFromEnvironment,
			TLSClientConfig: pool.ClientTLSConfig(),
		}
		return nil
	}
}

// WithTimeout replaces DefaultTimeout. Zero disables the timeout, which
// streaming downloads need.
func WithTimeout(d time.Duration) Option {
	return func(c *HTTPClient) error {
		c.client.Timeout = d
		return nil
	}
}

// NewHTTPClient creates a client for server. Without a scheme, http:// is
// assumed.
func NewHTTPClient(server string, opts ...Option) (*HTTPClient, error) {
	baseURL := server
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "http://" + baseURL
	}

	c := &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Do sends a request with a JSON body when body is non-nil. Extra headers
// such as If-Match are taken from header.
func (c *HTTPClient) Do(ctx context.Context, method, path string, body any, header http.Header) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	c.addHeaders(req)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.client.Do(req)
}

// Get performs a GET request.
func (c *HTTPClient) Get(ctx context.Context, path string) (*http.Response, error) {
	return c.Do(ctx, http.MethodGet, path, nil, nil)
}

// Post performs a POST request with a JSON body.
func (c *HTTPClient) Post(ctx context.Context, path string, body any) (*http.Response, error) {
	return c.Do(ctx, http.MethodPost, path, body, nil)
}

// Put performs a PUT request with a JSON body.
func (c *HTTPClient) Put(ctx context.Context, path string, body any, ifMatch string) (*http.Response, error) {
	return c.Do(ctx, http.MethodPut, path, body, ifMatchHeader(ifMatch))
}

// Patch performs a PATCH request with a JSON body.
func (c *HTTPClient) Patch(ctx context.Context, path string, body any, ifMatch string) (*http.Response, error) {
	return c.Do(ctx, http.MethodPatch, path, body, ifMatchHeader(ifMatch))
}

// Delete performs a DELETE request.
func (c *HTTPClient) Delete(ctx context.Context, path string) (*http.Response, error) {
	return c.Do(ctx, http.MethodDelete, path, nil, nil)
}

func ifMatchHeader(etag string) http.Header {
	if etag == "" {
		return nil
	}
	return http.Header{"If-Match": []string{etag}}
}

// addHeaders adds authentication and common headers.
func (c *HTTPClient) addHeaders(req *http.Request) {
	if c.apiKeyID != "" && c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKeyID+":"+c.apiKey)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", buildinfo.UserAgent("retouch-cli"))
}

// BaseURL returns the base URL of the client.
func (c *HTTPClient) BaseURL() string {
	return c.baseURL
}

// APIError is an error response from the server.
type APIError struct {
	Status    int
	Code      string
	Message   string
	RequestID string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("request failed with status %d", e.Status)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// envelope is the server's response wrapper.
type envelope struct {
	Code      string          `json:"code"`
	Message   string          `json:"message"`
	RequestID string          `json:"request_id"`
	Data      json.RawMessage `json:"data"`
	Details   any             `json:"details"`
}

// ParseResponse closes resp and decodes the envelope's data into target.
// Error statuses return an *APIError.
func ParseResponse(resp *http.Response, target any) error {
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		var env envelope
		if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&env); err == nil {
			apiErr.Code, apiErr.Message, apiErr.RequestID = env.Code, env.Message, env.RequestID
			if env.Details != nil {
				apiErr.Message = fmt.Sprintf("%s (%v)", env.Message, env.Details)
			}
		}
		return apiErr
	}

	if target == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	if len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, target); err != nil {
		return fmt.Errorf("parse response data: %w", err)
	}
	return nil
}
