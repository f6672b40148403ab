package tlsroots

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/yndnr/retouch-go/internal/infra/confloader"
)

// DefaultSettle is the quiet period after the last file event before the
// key pair is reloaded.
const DefaultSettle = 500 * time.Millisecond

// Watcher serves a certificate key pair and reloads it when either file
// changes on disk. A failed reload keeps the previous pair.
type Watcher struct {
	certFile, keyFile string
	settle            time.Duration
	logger            *slog.Logger

	current atomic.Pointer[loadedPair]
	files   *confloader.Watcher
}

type loadedPair struct {
	cert     *tls.Certificate
	notAfter time.Time
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

func WithLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = logger }
}

func WithSettle(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.settle = d }
}

// NewWatcher loads the key pair. Disk changes are seen after Start.
func NewWatcher(certFile, keyFile string, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		certFile: certFile,
		keyFile:  keyFile,
		settle:   DefaultSettle,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	if err := w.Reload(); err != nil {
		return nil, fmt.Errorf("tlsroots: initial load: %w", err)
	}

	files, err := confloader.NewWatcher(
		confloader.WithWatcherLogger(w.logger),
		confloader.WithSettle(w.settle))
	if err != nil {
		return nil, fmt.Errorf("tlsroots: create watcher: %w", err)
	}
	for _, path := range []string{certFile, keyFile} {
		if err := files.Watch(path); err != nil {
			files.Stop()
			return nil, fmt.Errorf("tlsroots: watch %s: %w", path, err)
		}
	}
	files.OnChange(func(string) {
		if err := w.Reload(); err != nil {
			w.logger.Error("certificate reload failed, keeping previous certificate",
				"cert_file", w.certFile, "error", err)
		}
	})
	w.files = files
	return w, nil
}

// Start blocks reloading on changes until Stop.
func (w *Watcher) Start() { w.files.Start() }

func (w *Watcher) StartAsync() {
	w.logger.Info("certificate watcher started", "cert_file", w.certFile, "key_file", w.keyFile)
	w.files.StartAsync()
}

// Stop ends watching. It is safe to call more than once.
func (w *Watcher) Stop() {
	if err := w.files.Stop(); err != nil {
		w.logger.Debug("certificate watcher close", "error", err)
	}
}

// GetCertificate matches tls.Config.GetCertificate.
func (w *Watcher) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return w.current.Load().cert, nil
}

// NotAfter is the expiry of the current leaf certificate.
func (w *Watcher) NotAfter() time.Time {
	return w.current.Load().notAfter
}

// Reload reads the key pair from disk now.
func (w *Watcher) Reload() error {
	cert, err := tls.LoadX509KeyPair(w.certFile, w.keyFile)
	if err != nil {
		return fmt.Errorf("load key pair: %w", err)
	}
	pair := &loadedPair{cert: &cert}
	if len(cert.Certificate) > 0 {
		if leaf, err := x509.ParseCertificate(cert.Certificate[0]); err == nil {
			pair.notAfter = leaf.NotAfter
		}
	}
	w.current.Store(pair)
	w.logger.Info("certificate loaded", "cert_file", w.certFile, "not_after", pair.notAfter)
	return nil
}
