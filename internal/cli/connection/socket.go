package connection

import (
	"context"
	"fmt"
	"net"

	"github.com/yndnr/retouch-go/internal/core/domain"
	"github.com/yndnr/retouch-go/internal/server/localserver"
	"github.com/yndnr/retouch-go/internal/transport"
)

// SocketClient speaks the control protocol over the server's Unix socket.
// One client carries one STATUS query or one editor session.
type SocketClient struct {
	path    string
	conn    *transport.Conn
	pending []transport.RawEvent
}

// NewSocketClient creates a new socket client.
func NewSocketClient(socketPath string) *SocketClient {
	return &SocketClient{path: socketPath}
}

// Connect dials the socket.
func (c *SocketClient) Connect(ctx context.Context) error {
	var d net.Dialer
	raw, err := d.DialContext(ctx, "unix", c.path)
	if err != nil {
		return fmt.Errorf("connect %s: %w", c.path, err)
	}
	c.conn = transport.NewConn(raw)
	return nil
}

// Close closes the socket connection. The server flushes an open session.
func (c *SocketClient) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *SocketClient) ensure(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}
	return c.Connect(ctx)
}

// Status queries the server's session count and version.
func (c *SocketClient) Status(ctx context.Context) (localserver.StatusPayload, error) {
	var st localserver.StatusPayload
	if err := c.ensure(ctx); err != nil {
		return st, err
	}
	if err := c.conn.SendCommand(ctx, domain.Command{Type: localserver.CmdStatus}); err != nil {
		return st, err
	}
	evt, err := c.conn.ReceiveEvent(ctx)
	if err != nil {
		return st, err
	}
	if evt.Type == domain.EvtError {
		return st, decodeError(evt)
	}
	if evt.Type != localserver.EvtStatus {
		return st, fmt.Errorf("unexpected reply %s", evt.Type)
	}
	return st, evt.Decode(&st)
}

// Open starts an editor session and waits for READY. Events that arrive
// before READY are returned by later Next calls.
func (c *SocketClient) Open(ctx context.Context, p domain.OpenPayload) (domain.ReadyPayload, error) {
	var ready domain.ReadyPayload
	if err := c.ensure(ctx); err != nil {
		return ready, err
	}
	open, err := domain.NewCommand(domain.CmdOpen, p)
	if err != nil {
		return ready, err
	}
	if err := c.conn.SendCommand(ctx, open); err != nil {
		return ready, err
	}
	for {
		evt, err := c.conn.ReceiveEvent(ctx)
		if err != nil {
			return ready, err
		}
		switch evt.Type {
		case domain.EvtReady:
			return ready, evt.Decode(&ready)
		case domain.EvtError:
			return ready, decodeError(evt)
		default:
			c.pending = append(c.pending, evt)
		}
	}
}

// Send sends one editor command.
func (c *SocketClient) Send(ctx context.Context, cmd domain.Command) error {
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	return c.conn.SendCommand(ctx, cmd)
}

// Next returns the next event from the session.
func (c *SocketClient) Next(ctx context.Context) (transport.RawEvent, error) {
	if len(c.pending) > 0 {
		evt := c.pending[0]
		c.pending = c.pending[1:]
		return evt, nil
	}
	if c.conn == nil {
		return transport.RawEvent{}, fmt.Errorf("not connected")
	}
	return c.conn.ReceiveEvent(ctx)
}

// RemoteError is an ERROR event from the server.
type RemoteError struct {
	domain.ErrorPayload
}

func (e *RemoteError) Error() string {
	if e.Command != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Command, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func decodeError(evt transport.RawEvent) error {
	var p domain.ErrorPayload
	if err := evt.Decode(&p); err != nil {
		return fmt.Errorf("decode error event: %w", err)
	}
	return &RemoteError{ErrorPayload: p}
}
