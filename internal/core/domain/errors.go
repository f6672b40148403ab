// Package domain defines the core domain models for Retouch.
package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a business domain error with a structured error code.
// Codes follow the format RT-<AREA>-<NNNN>.
type DomainError struct {
	Code    string // Error code (e.g., "RT-HIST-4090")
	Message string // Human-readable message
	Details string // Optional additional details
	Cause   error  // Underlying error (if any)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap() support.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is() support. Two domain errors match when codes match.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func NewDomainError(code, message string) *DomainError {
	return &DomainError{Code: code, Message: message}
}

// WithDetails returns a copy of the error carrying details.
func (e *DomainError) WithDetails(details string) *DomainError {
	c := *e
	c.Details = details
	return &c
}

// WithCause returns a copy of the error wrapping cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	c := *e
	c.Cause = cause
	return &c
}

// IsDomainError reports whether err wraps a DomainError, with the given
// code when code is not empty.
func IsDomainError(err error, code string) bool {
	var de *DomainError
	return errors.As(err, &de) && (code == "" || de.Code == code)
}

// GetErrorCode returns the code of the DomainError in err's chain, or "".
func GetErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// ============================================================================
// Command Errors (CMD)
// ============================================================================

var (
	// ErrUnknownCommand indicates an inbound command type is not recognized.
	ErrUnknownCommand = NewDomainError("RT-CMD-4000", "unknown command type")

	// ErrMalformedPayload indicates a command payload failed validation.
	ErrMalformedPayload = NewDomainError("RT-CMD-4001", "malformed command payload")

	// ErrSessionNotReady indicates the session has not finished bootstrapping.
	ErrSessionNotReady = NewDomainError("RT-CMD-5030", "session not ready")

	// ErrSessionClosed indicates the session has been torn down.
	ErrSessionClosed = NewDomainError("RT-CMD-5031", "session closed")
)

// ============================================================================
// Filter Errors (FILT)
// ============================================================================

var (
	// ErrUnknownTool indicates a slider tool name is not in the tool set.
	ErrUnknownTool = NewDomainError("RT-FILT-4040", "unknown filter tool")

	// ErrNoTargetImage indicates there is no loaded image layer to filter.
	ErrNoTargetImage = NewDomainError("RT-FILT-4220", "no target image")

	// ErrInvalidValue indicates a slider value is not a finite number.
	ErrInvalidValue = NewDomainError("RT-FILT-4001", "invalid filter value")

	// ErrBakeFailed indicates the effects capability rejected a stack.
	ErrBakeFailed = NewDomainError("RT-FILT-5000", "failed to apply effect stack")
)

// ============================================================================
// History Errors (HIST)
// ============================================================================

var (
	// ErrNothingToUndo indicates the history cursor is at the oldest entry.
	ErrNothingToUndo = NewDomainError("RT-HIST-4090", "nothing to undo")

	// ErrNothingToRedo indicates the history cursor is at the newest entry.
	ErrNothingToRedo = NewDomainError("RT-HIST-4091", "nothing to redo")

	// ErrAlreadySeeded indicates SeedInitial was called more than once.
	ErrAlreadySeeded = NewDomainError("RT-HIST-4092", "history already seeded")
)

// ============================================================================
// Snapshot Errors (SNAP)
// ============================================================================

var (
	// ErrCorruptSnapshot indicates a snapshot payload is not well-formed.
	// Restores failing with this error must not be retried.
	ErrCorruptSnapshot = NewDomainError("RT-SNAP-4220", "corrupt snapshot")

	// ErrEmptySnapshot indicates a snapshot payload is empty.
	ErrEmptySnapshot = NewDomainError("RT-SNAP-4001", "empty snapshot")
)

// ============================================================================
// Canvas Errors (CANV)
// ============================================================================

var (
	// ErrCanvasNotFound indicates no snapshot is stored for a canvas id.
	ErrCanvasNotFound = NewDomainError("RT-CANV-4040", "canvas not found")

	// ErrCanvasValidation indicates a canvas id or payload failed validation.
	ErrCanvasValidation = NewDomainError("RT-CANV-4001", "canvas validation failed")

	// ErrCanvasTooLarge indicates a snapshot payload exceeds the size limit.
	ErrCanvasTooLarge = NewDomainError("RT-CANV-4002", "canvas snapshot too large")

	// ErrCanvasConflict indicates a write lost an optimistic concurrency check.
	ErrCanvasConflict = NewDomainError("RT-CANV-4090", "canvas version conflict")
)

// ============================================================================
// Image Errors (IMG)
// ============================================================================

var (
	// ErrImageLoad indicates an image could not be fetched or decoded.
	ErrImageLoad = NewDomainError("RT-IMG-5020", "image load failed")

	// ErrImageSuperseded indicates a pending image load was replaced by a newer one.
	ErrImageSuperseded = NewDomainError("RT-IMG-4090", "image load superseded")

	// ErrExportFailed indicates the scene could not be flattened.
	ErrExportFailed = NewDomainError("RT-IMG-5000", "export failed")
)

// ============================================================================
// Authentication Errors (AUTH)
// ============================================================================

var (
	// ErrAPIKeyMissing indicates no API key was provided.
	ErrAPIKeyMissing = NewDomainError("RT-AUTH-4010", "api key not provided")

	// ErrAPIKeyInvalid indicates the API key is unknown or its secret is wrong.
	ErrAPIKeyInvalid = NewDomainError("RT-AUTH-4011", "invalid api key")

	// ErrAPIKeyDisabled indicates the API key has been disabled.
	ErrAPIKeyDisabled = NewDomainError("RT-AUTH-4012", "api key disabled")

	// ErrAPIKeyValidation indicates a provisioned key is malformed.
	ErrAPIKeyValidation = NewDomainError("RT-AUTH-4001", "api key validation failed")

	// ErrAPIKeyNotFound indicates no key is stored under an id.
	ErrAPIKeyNotFound = NewDomainError("RT-AUTH-4040", "api key not found")

	// ErrAPIKeyConflict indicates a key id is already taken.
	ErrAPIKeyConflict = NewDomainError("RT-AUTH-4090", "api key already exists")

	// ErrPermissionDenied indicates the key's role lacks a permission.
	ErrPermissionDenied = NewDomainError("RT-AUTH-4030", "permission denied")

	// ErrIPNotAllowed indicates the client address is outside the allowlist.
	ErrIPNotAllowed = NewDomainError("RT-AUTH-4031", "ip not allowed")
)

// ============================================================================
// System Errors (SYS)
// ============================================================================

var (
	// ErrInternalServer indicates an internal server error.
	ErrInternalServer = NewDomainError("RT-SYS-5000", "internal server error")

	// ErrStorageError indicates a storage layer error.
	ErrStorageError = NewDomainError("RT-SYS-5001", "storage error")

	// ErrRemoteTransport indicates a remote persistence call failed.
	ErrRemoteTransport = NewDomainError("RT-SYS-5020", "remote transport error")

	// ErrBadRequest indicates a malformed request.
	ErrBadRequest = NewDomainError("RT-SYS-4000", "bad request")

	// ErrRateLimited indicates too many requests.
	ErrRateLimited = NewDomainError("RT-SYS-4290", "too many requests")
)
