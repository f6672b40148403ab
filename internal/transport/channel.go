package transport

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/yndnr/retouch-go/internal/core/domain"
)

// ErrClosed is returned by operations on a closed channel.
var ErrClosed = errors.New("transport: channel closed")

// Channel is the editor side of a message bus.
type Channel interface {
	// Receive blocks for the next command. A domain.ErrMalformedPayload
	// error means one undecodable message was skipped and the channel is
	// still usable; any other error is terminal.
	Receive(ctx context.Context) (domain.Command, error)
	// Send delivers an event to the host.
	Send(ctx context.Context, evt domain.Event) error
	// Close releases the channel.
	Close() error
}

// RawEvent is an event as seen by a host, with the payload undecoded.
type RawEvent struct {
	Type    domain.EventType `json:"type"`
	Payload json.RawMessage  `json:"payload,omitempty"`
}

// Decode unmarshals the payload into v.
func (e RawEvent) Decode(v any) error {
	if len(e.Payload) == 0 {
		return errors.New("transport: event has no payload")
	}
	return json.Unmarshal(e.Payload, v)
}

// IsRecoverable reports whether err from Receive left the channel usable.
func IsRecoverable(err error) bool {
	return errors.Is(err, domain.ErrMalformedPayload)
}
