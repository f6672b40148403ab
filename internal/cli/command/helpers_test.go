package command

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/retouch-go/internal/core/codec"
	"github.com/yndnr/retouch-go/internal/core/domain"
	"github.com/yndnr/retouch-go/internal/core/service"
	"github.com/yndnr/retouch-go/internal/server/httpserver"
	"github.com/yndnr/retouch-go/internal/server/localserver"
	"github.com/yndnr/retouch-go/internal/storage/memory"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeBackup streams fixed bytes.
type fakeBackup struct{ data []byte }

func (b fakeBackup) Backup(ctx context.Context, w io.Writer) error {
	_, err := w.Write(b.data)
	return err
}

// testServer is the HTTP API over a memory store, with one admin key.
type testServer struct {
	*httptest.Server
	canvases *service.CanvasService
	keyID    string
	secret   string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	admin, secret, err := domain.NewAPIKey("admin", domain.RoleAdmin)
	if err != nil {
		t.Fatal(err)
	}
	keys := memory.NewAPIKeyStore()
	if err := keys.Seed([]*domain.APIKey{admin.Clone()}); err != nil {
		t.Fatal(err)
	}

	canvases := service.NewCanvasService(memory.NewCanvasStore(), service.WithCanvasLogger(discardLogger()))
	router := httpserver.NewRouter(&httpserver.RouterConfig{
		CanvasService: canvases,
		AuthService:   service.NewAuthService(keys, &service.AuthServiceConfig{Logger: discardLogger()}),
		APIKeys:       keys,
		Backup:        fakeBackup{data: []byte(strings.Repeat("b", 4096))},
		Logger:        discardLogger(),
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, canvases: canvases, keyID: admin.KeyID, secret: secret}
}

// startSocket runs a control server whose sessions persist to store.
func startSocket(t *testing.T, store *service.CanvasService) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "rtcli")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	path := filepath.Join(dir, "ctl.sock")

	cfg := localserver.HandlerConfig{
		Editor: service.EditorConfig{
			HistoryLimit:     20,
			HistoryDebounce:  time.Hour,
			AutosaveDebounce: time.Hour,
			AutosaveTimeout:  5 * time.Second,
		},
		CanvasWidth:  64,
		CanvasHeight: 48,
		Logger:       discardLogger(),
	}
	if store != nil {
		cfg.Store = store
	}
	s := localserver.New(path, localserver.NewHandler(cfg), discardLogger())
	if err := s.Listen(); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	go s.Serve()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Shutdown(ctx)
	})
	return path
}

type result struct {
	stdout string
	stderr string
	err    error
}

// runCLI runs the app with an isolated config file.
func runCLI(t *testing.T, stdin string, args ...string) result {
	t.Helper()
	return runCLIConfig(t, filepath.Join(t.TempDir(), "cli.yaml"), stdin, args...)
}

func runCLIConfig(t *testing.T, configPath, stdin string, args ...string) result {
	t.Helper()
	app := App()
	var out, errOut bytes.Buffer
	app.Writer = &out
	app.ErrWriter = &errOut
	app.Reader = strings.NewReader(stdin)
	app.ExitErrHandler = func(*cli.Context, error) {}

	full := append([]string{"retouch-cli", "--config", configPath}, args...)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	err := app.RunContext(ctx, full)
	return result{stdout: out.String(), stderr: errOut.String(), err: err}
}

// authArgs are the global flags for ts with its admin key.
func (ts *testServer) authArgs() []string {
	return []string{"--server", ts.URL, "--api-key-id", ts.keyID, "--api-key", ts.secret}
}

func writeSnapshot(t *testing.T, scene *domain.Scene) string {
	t.Helper()
	snap, err := codec.New().Serialize(scene)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "scene.json")
	if err := os.WriteFile(path, snap.Bytes(), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func textScene() *domain.Scene {
	scene := domain.NewScene(400, 300)
	scene.Layers = append(scene.Layers, domain.NewTextLayer(10, 20))
	return scene
}
