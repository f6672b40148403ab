package confloader

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultSettle is how long a Watcher waits for a burst of events on one
// file to end before reporting it.
const DefaultSettle = 200 * time.Millisecond

// Watcher reports changes to configuration files. Parent directories are
// watched so saves that replace the file by rename are seen.
type Watcher struct {
	fs     *fsnotify.Watcher
	settle time.Duration
	logger *slog.Logger

	quit     chan struct{}
	stopOnce sync.Once
	stopErr  error

	mu    sync.Mutex
	files map[string]bool
	subs  []func(string)
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

func WithWatcherLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = logger }
}

// WithSettle sets the quiet period before a change is reported. Zero
// reports every event.
func WithSettle(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.settle = d }
}

func NewWatcher(opts ...WatcherOption) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fs:     fs,
		settle: DefaultSettle,
		logger: slog.Default(),
		quit:   make(chan struct{}),
		files:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Watch adds the file at path. The parent directory must exist.
func (w *Watcher) Watch(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := w.fs.Add(filepath.Dir(abs)); err != nil {
		return err
	}
	w.mu.Lock()
	w.files[abs] = true
	w.mu.Unlock()
	w.logger.Debug("watching config file", "path", abs)
	return nil
}

// OnChange registers fn to receive the absolute path of a changed file.
func (w *Watcher) OnChange(fn func(string)) {
	w.mu.Lock()
	w.subs = append(w.subs, fn)
	w.mu.Unlock()
}

// Start delivers changes until Stop is called. Pending timers belong to
// this loop only.
func (w *Watcher) Start() {
	pending := make(map[string]time.Time)
	var tick <-chan time.Time
	var ticker *time.Ticker
	if w.settle > 0 {
		ticker = time.NewTicker(w.settle / 4)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-w.quit:
			return
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err)
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			name, relevant := w.relevant(ev)
			if !relevant {
				continue
			}
			if w.settle <= 0 {
				w.publish(name)
				continue
			}
			pending[name] = time.Now().Add(w.settle)
		case now := <-tick:
			for name, due := range pending {
				if now.Before(due) {
					continue
				}
				delete(pending, name)
				w.publish(name)
			}
		}
	}
}

// StartAsync runs Start in a goroutine.
func (w *Watcher) StartAsync() { go w.Start() }

// Stop ends delivery and releases the watch. Unreported changes are
// dropped. Stop is idempotent.
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() {
		close(w.quit)
		w.stopErr = w.fs.Close()
	})
	return w.stopErr
}

func (w *Watcher) relevant(ev fsnotify.Event) (string, bool) {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
		return "", false
	}
	abs, err := filepath.Abs(ev.Name)
	if err != nil {
		return "", false
	}
	w.mu.Lock()
	ok := w.files[abs]
	w.mu.Unlock()
	return abs, ok
}

func (w *Watcher) publish(name string) {
	select {
	case <-w.quit:
		return
	default:
	}
	w.mu.Lock()
	subs := append([]func(string){}, w.subs...)
	w.mu.Unlock()

	w.logger.Debug("config file changed", "path", name)
	for _, fn := range subs {
		fn(name)
	}
}
