package output

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// ProgressBar reports a transfer. It is an io.Writer, so it can sit in an
// io.TeeReader or io.MultiWriter next to the destination.
type ProgressBar struct {
	mu      sync.Mutex
	w       io.Writer
	title   string
	total   int64
	current int64
	width   int
}

// NewProgressBar creates a progress bar. total <= 0 means unknown.
func NewProgressBar(w io.Writer, title string, total int64) *ProgressBar {
	return &ProgressBar{w: w, title: title, total: total, width: 30}
}

// Write counts len(p) bytes of progress.
func (p *ProgressBar) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current += int64(len(b))
	p.render()
	return len(b), nil
}

// Current returns the bytes counted so far.
func (p *ProgressBar) Current() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Finish renders the final state and ends the line.
func (p *ProgressBar) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.total > 0 {
		p.current = p.total
	}
	p.render()
	fmt.Fprintln(p.w)
}

func (p *ProgressBar) render() {
	if p.total <= 0 {
		fmt.Fprintf(p.w, "\r%s %s", p.title, FormatBytes(p.current))
		return
	}

	ratio := float64(p.current) / float64(p.total)
	if ratio > 1 {
		ratio = 1
	}
	filled := int(float64(p.width) * ratio)
	bar := strings.Repeat("#", filled) + strings.Repeat(".", p.width-filled)
	fmt.Fprintf(p.w, "\r%s [%s] %3.0f%% (%s/%s)",
		p.title, bar, ratio*100, FormatBytes(p.current), FormatBytes(p.total))
}
