package localserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
)

// Server accepts editor sessions on a Unix domain socket.
type Server struct {
	path    string
	handler *Handler
	logger  *slog.Logger

	listener atomic.Pointer[net.Listener]
	stopping atomic.Bool
	sessions sync.WaitGroup

	baseCtx context.Context
	cancel  context.CancelFunc
}

func New(socketPath string, handler *Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{path: socketPath, handler: handler, logger: logger, baseCtx: ctx, cancel: cancel}
}

func (s *Server) Path() string { return s.path }

// Listen binds the socket with owner-only permissions. A leftover socket
// file nobody answers on is replaced; a live one is an error.
func (s *Server) Listen() error {
	if err := clearStale(s.path); err != nil {
		return err
	}
	l, err := net.Listen("unix", s.path)
	if err != nil {
		return err
	}
	if err := os.Chmod(s.path, 0600); err != nil {
		l.Close()
		return fmt.Errorf("localserver: chmod socket: %w", err)
	}
	s.listener.Store(&l)
	return nil
}

func clearStale(path string) error {
	fi, err := os.Lstat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if fi.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("localserver: %s exists and is not a socket", path)
	}
	if conn, err := net.Dial("unix", path); err == nil {
		conn.Close()
		return fmt.Errorf("localserver: %s is in use", path)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("localserver: remove stale socket: %w", err)
	}
	return nil
}

func (s *Server) ListenAndServe() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// Serve runs one session per connection until Shutdown.
func (s *Server) Serve() error {
	lp := s.listener.Load()
	if lp == nil {
		return errors.New("localserver: not listening")
	}
	l := *lp
	s.logger.Info("local control socket listening", "path", s.path)

	for {
		conn, err := l.Accept()
		if err != nil {
			if s.stopping.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s.sessions.Go(func() { s.handler.Serve(s.baseCtx, conn) })
	}
}

// Shutdown closes the socket and cancels every session. Each session
// flushes its pending edits; Shutdown waits for them, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopping.Store(true)
	var closeErr error
	if lp := s.listener.Load(); lp != nil {
		if err := (*lp).Close(); !errors.Is(err, net.ErrClosed) {
			closeErr = err
		}
	}
	s.cancel()

	drained := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		return closeErr
	case <-ctx.Done():
		return ctx.Err()
	}
}
