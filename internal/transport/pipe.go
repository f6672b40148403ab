package transport

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/yndnr/retouch-go/internal/core/domain"
)

// Pipe is an in-process Channel. The host side posts commands with Post and
// reads events with Next.
type Pipe struct {
	commands chan domain.Command
	events   chan RawEvent

	closeOnce sync.Once
	done      chan struct{}
}

// NewPipe creates a pipe with the given buffer size per direction.
func NewPipe(buffer int) *Pipe {
	return &Pipe{
		commands: make(chan domain.Command, buffer),
		events:   make(chan RawEvent, buffer),
		done:     make(chan struct{}),
	}
}

// Receive implements Channel.
func (p *Pipe) Receive(ctx context.Context) (domain.Command, error) {
	select {
	case cmd := <-p.commands:
		return cmd, nil
	case <-p.done:
		return domain.Command{}, ErrClosed
	case <-ctx.Done():
		return domain.Command{}, ctx.Err()
	}
}

// Send implements Channel. The payload is encoded so the host sees what a
// socket peer would.
func (p *Pipe) Send(ctx context.Context, evt domain.Event) error {
	raw, err := encodePayload(evt.Payload)
	if err != nil {
		return err
	}
	select {
	case p.events <- RawEvent{Type: evt.Type, Payload: raw}:
		return nil
	case <-p.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Post delivers a command to the editor side.
func (p *Pipe) Post(ctx context.Context, cmd domain.Command) error {
	select {
	case p.commands <- cmd:
		return nil
	case <-p.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next returns the next event sent by the editor side.
func (p *Pipe) Next(ctx context.Context) (RawEvent, error) {
	select {
	case evt := <-p.events:
		return evt, nil
	case <-p.done:
		return RawEvent{}, ErrClosed
	case <-ctx.Done():
		return RawEvent{}, ctx.Err()
	}
}

// Close implements Channel.
func (p *Pipe) Close() error {
	p.closeOnce.Do(func() { close(p.done) })
	return nil
}

func encodePayload(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
