package handler

import "time"

// Response is the JSON envelope of every API reply except /metrics.
// Code is "OK" on success and a domain error code otherwise.
type Response struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data,omitempty"`
	Details   any    `json:"details,omitempty"`
}

func NewResponse(requestID string, data any) *Response {
	return envelope(requestID, "OK", "Success", data, nil)
}

func NewErrorResponse(requestID, code, message string, details any) *Response {
	return envelope(requestID, code, message, nil, details)
}

func envelope(requestID, code, message string, data, details any) *Response {
	return &Response{
		Code:      code,
		Message:   message,
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
		Details:   details,
	}
}

// SaveCanvasRequest is the request body for PATCH /v1/canvases/{id} and
// POST /v1/canvases.
type SaveCanvasRequest struct {
	Snapshot string `json:"snapshot"`
}

// CanvasResponse represents a canvas in API responses. Snapshot is omitted
// from list responses.
type CanvasResponse struct {
	ID        string `json:"id"`
	Snapshot  string `json:"snapshot,omitempty"`
	Size      int    `json:"size"`
	ETag      string `json:"etag"`
	Version   uint64 `json:"version"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// SaveCanvasResponse is the response body for PATCH /v1/canvases/{id}.
type SaveCanvasResponse struct {
	CanvasResponse
	Created   bool `json:"created"`
	Unchanged bool `json:"unchanged"`
}

// ListCanvasesResponse is the response body for GET /v1/canvases.
type ListCanvasesResponse struct {
	Items    []CanvasResponse `json:"items"`
	Total    int              `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"page_size"`
}

// APIKeyResponse represents an API key in list responses (without secret).
type APIKeyResponse struct {
	KeyID     string   `json:"key_id"`
	Name      string   `json:"name"`
	Role      string   `json:"role"`
	Status    string   `json:"status"`
	RateLimit int      `json:"rate_limit"`
	Allowlist []string `json:"allowlist,omitempty"`
	LastUsed  int64    `json:"last_used,omitempty"`
}

// ListAPIKeysResponse is the response body for GET /admin/v1/keys.
type ListAPIKeysResponse struct {
	Keys []APIKeyResponse `json:"keys"`
}
