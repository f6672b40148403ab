// Package router validates inbound remote-control commands and dispatches
// them to the editor session.
//
// Dispatch is total: unknown command types and malformed payloads are
// reported and dropped, and every dispatch is isolated so that a failing or
// panicking handler never stops later commands from being processed.
package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/yndnr/retouch-go/internal/core/domain"
	"github.com/yndnr/retouch-go/internal/telemetry/metric"
)

// Interaction modes accepted by SET_TOOL.
const (
	ModeSelect = "select"
	ModeDraw   = "draw"
	ModeText   = "text"
	ModeCrop   = "crop"
)

// Handler is the set of actions commands are dispatched to.
type Handler interface {
	SetTool(mode string) error
	SetBrushSize(size float64) error
	AddText() error
	ApplyFilter(panel, tool string, value float64) error
	ExportImage(ctx context.Context) error
	LoadImage(url string) error
	Undo(ctx context.Context) error
	Redo(ctx context.Context) error
	DrawPath(points []domain.Point) error
}

// Reporter is told about every command that was dropped or failed.
type Reporter func(cmd domain.Command, err error)

// Dispatch results recorded in metrics.
const (
	resultOK       = "ok"
	resultNoop     = "noop"
	resultRejected = "rejected"
	resultUnknown  = "unknown"
	resultPanic    = "panic"
)

// Router dispatches commands to a Handler.
type Router struct {
	handler  Handler
	reporter Reporter
	logger   *slog.Logger
	metrics  *metric.Registry
}

// New creates a Router. reporter may be nil.
func New(h Handler, reporter Reporter, logger *slog.Logger, metrics *metric.Registry) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		handler:  h,
		reporter: reporter,
		logger:   logger,
		metrics:  metrics,
	}
}

// Dispatch validates cmd and runs it. It never panics and never returns an
// error; failures go to the logger, the metrics and the Reporter.
func (r *Router) Dispatch(ctx context.Context, cmd domain.Command) {
	err := r.safeDispatch(ctx, cmd)
	r.report(cmd, err)
}

func (r *Router) safeDispatch(ctx context.Context, cmd domain.Command) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &panicError{value: rec}
		}
	}()
	return r.dispatch(ctx, cmd)
}

func (r *Router) dispatch(ctx context.Context, cmd domain.Command) error {
	switch cmd.Type {
	case domain.CmdSetTool:
		mode, err := decodeString(cmd.Payload, "tool")
		if err != nil {
			return err
		}
		mode = strings.ToLower(mode)
		switch mode {
		case ModeSelect, ModeDraw, ModeText, ModeCrop:
		default:
			return domain.ErrMalformedPayload.WithDetails(fmt.Sprintf("unknown interaction mode %q", mode))
		}
		return r.handler.SetTool(mode)

	case domain.CmdSetBrushSize:
		size, err := decodeNumber(cmd.Payload, "size")
		if err != nil {
			return err
		}
		if size <= 0 || size > domain.MaxBrushSize {
			return domain.ErrMalformedPayload.WithDetails(
				fmt.Sprintf("brush size must be in (0, %d]", domain.MaxBrushSize))
		}
		return r.handler.SetBrushSize(size)

	case domain.CmdAddText:
		return r.handler.AddText()

	case domain.CmdSliderChange:
		var p domain.SliderPayload
		if err := decodeObject(cmd.Payload, &p); err != nil {
			return err
		}
		if p.Tool == "" {
			return domain.ErrMalformedPayload.WithDetails("slider tool is required")
		}
		if p.Value == nil {
			return domain.ErrMalformedPayload.WithDetails("slider value is required")
		}
		v := float64(*p.Value)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return domain.ErrMalformedPayload.WithDetails("slider value must be finite")
		}
		return r.handler.ApplyFilter(p.Panel, p.Tool, v)

	case domain.CmdExportImage:
		return r.handler.ExportImage(ctx)

	case domain.CmdLoadImage:
		url, err := decodeString(cmd.Payload, "url")
		if err != nil {
			return err
		}
		return r.handler.LoadImage(url)

	case domain.CmdUndo:
		return r.handler.Undo(ctx)

	case domain.CmdRedo:
		return r.handler.Redo(ctx)

	case domain.CmdDrawPath:
		var p domain.PathPayload
		if err := decodeObject(cmd.Payload, &p); err != nil {
			return err
		}
		if len(p.Points) < 2 {
			return domain.ErrMalformedPayload.WithDetails("path needs at least two points")
		}
		for _, pt := range p.Points {
			if !pt.InBounds() {
				return domain.ErrMalformedPayload.WithDetails(
					fmt.Sprintf("path points must be finite and within %d of the origin", domain.MaxCoordinate))
			}
		}
		return r.handler.DrawPath(p.Points)

	default:
		return domain.ErrUnknownCommand.WithDetails(string(cmd.Type))
	}
}

func (r *Router) report(cmd domain.Command, err error) {
	typ := string(cmd.Type)
	result := classify(err)
	if result == resultUnknown {
		// Bound label cardinality.
		typ = "unknown"
	}
	r.metrics.RecordCommand(typ, result)

	if err == nil {
		r.logger.Debug("command dispatched", "type", cmd.Type)
		return
	}

	switch result {
	case resultNoop:
		r.logger.Info("command had no effect", "type", cmd.Type, "reason", err)
	case resultPanic:
		r.logger.Error("command handler panicked", "type", cmd.Type, "error", err)
	default:
		r.logger.Warn("command dropped",
			"type", cmd.Type,
			"code", domain.GetErrorCode(err),
			"error", err)
	}

	if r.reporter != nil {
		r.reporter(cmd, err)
	}
}

func classify(err error) string {
	var pe *panicError
	switch {
	case err == nil:
		return resultOK
	case errors.As(err, &pe):
		return resultPanic
	case errors.Is(err, domain.ErrUnknownCommand):
		return resultUnknown
	case errors.Is(err, domain.ErrNothingToUndo),
		errors.Is(err, domain.ErrNothingToRedo),
		errors.Is(err, domain.ErrNoTargetImage),
		errors.Is(err, domain.ErrImageSuperseded):
		return resultNoop
	default:
		return resultRejected
	}
}

// panicError carries a recovered panic value.
type panicError struct {
	value any
}

func (e *panicError) Error() string {
	return fmt.Sprintf("panic: %v", e.value)
}

// Unwrap lets panics be matched as internal errors.
func (e *panicError) Unwrap() error {
	return domain.ErrInternalServer
}

// ============================================================================
// Payload decoding
// ============================================================================

func decodeObject(payload json.RawMessage, v any) error {
	if len(bytes.TrimSpace(payload)) == 0 {
		return domain.ErrMalformedPayload.WithDetails("payload is required")
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return domain.ErrMalformedPayload.WithCause(err)
	}
	return nil
}

// decodeString accepts a JSON string or an object holding the string under
// key.
func decodeString(payload json.RawMessage, key string) (string, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return "", domain.ErrMalformedPayload.WithDetails(key + " is required")
	}

	var s string
	if payload[0] == '{' {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(payload, &obj); err != nil {
			return "", domain.ErrMalformedPayload.WithCause(err)
		}
		raw, ok := obj[key]
		if !ok {
			return "", domain.ErrMalformedPayload.WithDetails(key + " is required")
		}
		payload = raw
	}
	if err := json.Unmarshal(payload, &s); err != nil {
		return "", domain.ErrMalformedPayload.WithCause(err)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", domain.ErrMalformedPayload.WithDetails(key + " is empty")
	}
	return s, nil
}

// decodeNumber accepts a JSON number, a numeric string or an object holding
// either under key.
func decodeNumber(payload json.RawMessage, key string) (float64, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return 0, domain.ErrMalformedPayload.WithDetails(key + " is required")
	}
	if payload[0] == '{' {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(payload, &obj); err != nil {
			return 0, domain.ErrMalformedPayload.WithCause(err)
		}
		raw, ok := obj[key]
		if !ok {
			return 0, domain.ErrMalformedPayload.WithDetails(key + " is required")
		}
		payload = raw
	}

	var f *domain.FlexFloat64
	if err := json.Unmarshal(payload, &f); err != nil {
		return 0, domain.ErrMalformedPayload.WithCause(err)
	}
	if f == nil {
		return 0, domain.ErrMalformedPayload.WithDetails(key + " is required")
	}
	v := float64(*f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, domain.ErrMalformedPayload.WithDetails(key + " must be finite")
	}
	return v, nil
}
