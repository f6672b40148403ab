package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/yndnr/retouch-go/internal/core/domain"
)

// MaxMessageSize bounds one line on a Conn. It fits an exported image of a
// full-size canvas.
const MaxMessageSize = 64 << 20

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// Conn is a Channel speaking newline-delimited JSON over a stream.
type Conn struct {
	rwc     io.ReadWriteCloser
	scanner *bufio.Scanner

	readMu  sync.Mutex
	writeMu sync.Mutex
}

// NewConn wraps rwc. Deadlines are honoured when rwc supports them.
func NewConn(rwc io.ReadWriteCloser) *Conn {
	sc := bufio.NewScanner(rwc)
	sc.Buffer(make([]byte, 0, 64<<10), MaxMessageSize)
	return &Conn{rwc: rwc, scanner: sc}
}

// Receive implements Channel. Cancelling ctx aborts the read and leaves
// the Conn unusable.
func (c *Conn) Receive(ctx context.Context) (domain.Command, error) {
	var cmd domain.Command
	line, err := c.readLine(ctx)
	if err != nil {
		return cmd, err
	}
	if err := json.Unmarshal(line, &cmd); err != nil {
		return domain.Command{}, domain.ErrMalformedPayload.WithCause(err)
	}
	return cmd, nil
}

// ReceiveEvent reads the next event; it is the host side of Receive.
func (c *Conn) ReceiveEvent(ctx context.Context) (RawEvent, error) {
	var evt RawEvent
	line, err := c.readLine(ctx)
	if err != nil {
		return evt, err
	}
	if err := json.Unmarshal(line, &evt); err != nil {
		return RawEvent{}, domain.ErrMalformedPayload.WithCause(err)
	}
	return evt, nil
}

// Send implements Channel.
func (c *Conn) Send(ctx context.Context, evt domain.Event) error {
	return c.writeJSON(ctx, evt)
}

// SendCommand writes a command; it is the host side of Send.
func (c *Conn) SendCommand(ctx context.Context, cmd domain.Command) error {
	return c.writeJSON(ctx, cmd)
}

// Close implements Channel.
func (c *Conn) Close() error {
	return c.rwc.Close()
}

func (c *Conn) readLine(ctx context.Context) ([]byte, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	if d, ok := c.rwc.(readDeadliner); ok {
		stop := context.AfterFunc(ctx, func() { d.SetReadDeadline(time.Now()) })
		defer func() {
			if !stop() {
				d.SetReadDeadline(time.Time{})
			}
		}()
	}

	for {
		if !c.scanner.Scan() {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if err := c.scanner.Err(); err != nil {
				if errors.Is(err, bufio.ErrTooLong) {
					return nil, fmt.Errorf("transport: message exceeds %d bytes: %w", MaxMessageSize, err)
				}
				return nil, err
			}
			return nil, io.EOF
		}
		line := bytes.TrimSpace(c.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		return append([]byte(nil), line...), nil
	}
}

func (c *Conn) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if d, ok := c.rwc.(writeDeadliner); ok {
		if deadline, ok := ctx.Deadline(); ok {
			d.SetWriteDeadline(deadline)
			defer d.SetWriteDeadline(time.Time{})
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err = c.rwc.Write(data)
	return err
}
