package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// CommandType names an inbound remote-control command.
type CommandType string

// Inbound command types.
const (
	CmdOpen         CommandType = "OPEN"
	CmdSetTool      CommandType = "SET_TOOL"
	CmdSetBrushSize CommandType = "SET_BRUSH_SIZE"
	CmdAddText      CommandType = "ADD_TEXT"
	CmdSliderChange CommandType = "SLIDER_CHANGE"
	CmdExportImage  CommandType = "EXPORT_IMAGE"
	CmdLoadImage    CommandType = "LOAD_IMAGE"
	CmdUndo         CommandType = "UNDO"
	CmdRedo         CommandType = "REDO"
	CmdDrawPath     CommandType = "DRAW_PATH"
)

// EventType names an outbound event sent to the embedding host.
type EventType string

// Outbound event types.
const (
	EvtReady          EventType = "READY"
	EvtExportImage    EventType = "EXPORT_IMAGE"
	EvtHistoryChanged EventType = "HISTORY_CHANGED"
	EvtNothingToUndo  EventType = "NOTHING_TO_UNDO"
	EvtNothingToRedo  EventType = "NOTHING_TO_REDO"
	EvtError          EventType = "ERROR"
)

// Command is one inbound message.
type Command struct {
	Type    CommandType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// UnmarshalJSON accepts both {"type":T,"payload":P} and the flat form
// {"type":T,...fields}, in which case the whole object is the payload.
func (c *Command) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	var typ string
	if raw, ok := fields["type"]; ok {
		if err := json.Unmarshal(raw, &typ); err != nil {
			return fmt.Errorf("command type: %w", err)
		}
	}

	c.Type = CommandType(typ)
	c.Payload = nil
	if p, ok := fields["payload"]; ok {
		c.Payload = p
	} else if len(fields) > 1 {
		c.Payload = append(json.RawMessage(nil), bytes.TrimSpace(data)...)
	}
	return nil
}

// NewCommand builds a command with payload encoded as JSON.
func NewCommand(typ CommandType, payload any) (Command, error) {
	if payload == nil {
		return Command{Type: typ}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Command{}, err
	}
	return Command{Type: typ, Payload: raw}, nil
}

// Event is one outbound message.
type Event struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload,omitempty"`
}

// OpenPayload carries the session bootstrap inputs.
type OpenPayload struct {
	Image string `json:"image"`
	ID    string `json:"id"`
}

// SliderPayload is the SLIDER_CHANGE payload.
type SliderPayload struct {
	Panel string       `json:"panel"`
	Tool  string       `json:"tool"`
	Value *FlexFloat64 `json:"value"`
}

// PathPayload is the DRAW_PATH payload: a finished freehand stroke.
type PathPayload struct {
	Points []Point `json:"points"`
}

// ExportPayload is the EXPORT_IMAGE event payload.
type ExportPayload struct {
	Data string `json:"data"`
}

// ErrorPayload is the ERROR event payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Command string `json:"command,omitempty"`
}

// ReadyPayload is the READY event payload.
type ReadyPayload struct {
	Source   string `json:"source"`
	CanvasID string `json:"canvas_id,omitempty"`
}

// FlexFloat64 decodes a JSON number or a string holding a number.
type FlexFloat64 float64

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexFloat64) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return fmt.Errorf("not a number: %q", s)
		}
		*f = FlexFloat64(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = FlexFloat64(v)
	return nil
}
