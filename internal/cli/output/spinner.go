package output

import (
	"fmt"
	"io"
	"sync"
	"time"
)

const spinnerInterval = 100 * time.Millisecond

// Spinner animates a message while the caller waits.
type Spinner struct {
	w       io.Writer
	message string
	frames  []string

	mu      sync.Mutex
	stop    chan struct{}
	stopped chan struct{}
}

// NewSpinner creates a new spinner.
func NewSpinner(w io.Writer, message string) *Spinner {
	return &Spinner{
		w:       w,
		message: message,
		frames:  []string{"|", "/", "-", "\\"},
	}
}

// Start starts the animation. A second Start is a no-op.
func (s *Spinner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return
	}
	s.stop = make(chan struct{})
	s.stopped = make(chan struct{})

	go func(stop, stopped chan struct{}) {
		defer close(stopped)
		ticker := time.NewTicker(spinnerInterval)
		defer ticker.Stop()
		for i := 0; ; i++ {
			fmt.Fprintf(s.w, "\r%s %s", s.frames[i%len(s.frames)], s.message)
			select {
			case <-stop:
				return
			case <-ticker.C:
			}
		}
	}(s.stop, s.stopped)
}

// halt stops the animation goroutine and waits for it.
func (s *Spinner) halt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop == nil {
		return
	}
	close(s.stop)
	<-s.stopped
	s.stop = nil
}

// Stop stops the spinner and clears the line.
func (s *Spinner) Stop() {
	s.halt()
	fmt.Fprint(s.w, "\r\033[K")
}

// Success stops the spinner with a success message.
func (s *Spinner) Success(message string) {
	s.halt()
	fmt.Fprintf(s.w, "\r\033[Kok %s\n", message)
}

// Fail stops the spinner with a failure message.
func (s *Spinner) Fail(message string) {
	s.halt()
	fmt.Fprintf(s.w, "\r\033[Kfailed %s\n", message)
}
