package shutdown

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"
)

func newTestHandler(timeout time.Duration) *Handler {
	return NewHandler(timeout, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func waitResult(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Wait did not return")
		return nil
	}
}

func TestHandler_ReverseOrder(t *testing.T) {
	h := newTestHandler(time.Second)

	var mu sync.Mutex
	var order []string
	for _, name := range []string{"storage", "http", "socket"} {
		h.OnShutdown(name, func(context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		})
	}

	if err := h.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := strings.Join(order, ","); got != "socket,http,storage" {
		t.Errorf("order = %s", got)
	}
	select {
	case <-h.Done():
	default:
		t.Error("Done() should be closed after Run")
	}
}

func TestHandler_RunOnce(t *testing.T) {
	h := newTestHandler(time.Second)
	calls := 0
	h.OnShutdown("count", func(context.Context) error {
		calls++
		return nil
	})
	h.Run()
	h.Run()
	if calls != 1 {
		t.Errorf("hook ran %d times", calls)
	}
}

func TestHandler_JoinsErrors(t *testing.T) {
	h := newTestHandler(time.Second)
	errA := errors.New("a failed")
	errB := errors.New("b failed")
	ran := false
	h.OnShutdown("a", func(context.Context) error { return errA })
	h.OnShutdown("ok", func(context.Context) error { ran = true; return nil })
	h.OnShutdown("b", func(context.Context) error { return errB })

	err := h.Run()
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Errorf("Run() error = %v", err)
	}
	if !ran {
		t.Error("a failing hook should not stop later hooks")
	}
	if !strings.Contains(err.Error(), "b: b failed") {
		t.Errorf("error should name the hook: %v", err)
	}
}

func TestHandler_HookDeadline(t *testing.T) {
	h := newTestHandler(50 * time.Millisecond)
	h.OnShutdown("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if err := h.Run(); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run() error = %v", err)
	}
}

func TestHandler_WaitTrigger(t *testing.T) {
	h := newTestHandler(time.Second)
	ran := make(chan struct{})
	h.OnShutdown("x", func(context.Context) error { close(ran); return nil })

	errCh := make(chan error, 1)
	go func() { errCh <- h.Wait(context.Background()) }()

	h.Trigger("listener failed")
	h.Trigger("ignored")
	if err := waitResult(t, errCh); err != nil {
		t.Errorf("Wait() error = %v", err)
	}
	select {
	case <-ran:
	default:
		t.Error("hook did not run")
	}
}

func TestHandler_WaitContext(t *testing.T) {
	h := newTestHandler(time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- h.Wait(ctx) }()

	cancel()
	if err := waitResult(t, errCh); err != nil {
		t.Errorf("Wait() error = %v", err)
	}
}

func TestHandler_WaitSignal(t *testing.T) {
	h := newTestHandler(time.Second)
	h.signals = []os.Signal{syscall.SIGUSR1}

	errCh := make(chan error, 1)
	go func() { errCh <- h.Wait(context.Background()) }()
	time.Sleep(50 * time.Millisecond)

	if err := syscall.Kill(syscall.Getpid(), syscall.SIGUSR1); err != nil {
		t.Fatal(err)
	}
	if err := waitResult(t, errCh); err != nil {
		t.Errorf("Wait() error = %v", err)
	}
}
