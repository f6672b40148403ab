package command

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/yndnr/retouch-go/internal/core/codec"
	"github.com/yndnr/retouch-go/internal/core/domain"
	"github.com/yndnr/retouch-go/internal/core/service"
	"github.com/yndnr/retouch-go/internal/storage/memory"
	"github.com/yndnr/retouch-go/internal/transport"
)

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

func TestEdit_ScriptPersistsAndExports(t *testing.T) {
	store := service.NewCanvasService(memory.NewCanvasStore(), service.WithCanvasLogger(discardLogger()))
	socket := startSocket(t, store)
	dir := t.TempDir()
	png := filepath.Join(dir, "out.png")

	script := strings.Join([]string{
		"tool draw",
		"draw 1,1 10,10 20,5",
		"text",
		"export " + png,
	}, "\n")
	res := runCLI(t, script, "--socket", socket, "edit", "--id", "cv-edit", "--script", "-")
	if res.err != nil {
		t.Fatalf("edit: %v\nstdout: %s", res.err, res.stdout)
	}
	if !strings.Contains(res.stdout, "exported") || !strings.Contains(res.stdout, png) {
		t.Errorf("stdout = %q", res.stdout)
	}
	data, err := os.ReadFile(png)
	if err != nil {
		t.Fatalf("export not written: %v", err)
	}
	if !bytes.HasPrefix(data, pngMagic) {
		t.Errorf("export is not a PNG: % x", data[:8])
	}

	// The server flushes after the client disconnects.
	var stored *domain.Canvas
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if stored, err = store.Get(context.Background(), "cv-edit"); err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("canvas not persisted: %v", err)
	}
	scene, err := codec.New().Deserialize(stored.Snapshot)
	if err != nil {
		t.Fatal(err)
	}
	kinds := make([]domain.LayerKind, len(scene.Layers))
	for i, l := range scene.Layers {
		kinds[i] = l.Kind
	}
	if len(kinds) != 2 || kinds[0] != domain.LayerPath || kinds[1] != domain.LayerText {
		t.Errorf("stored layers = %v", kinds)
	}
}

func TestEdit_ReportsErrors(t *testing.T) {
	socket := startSocket(t, nil)
	png := filepath.Join(t.TempDir(), "barrier.png")

	script := strings.Join([]string{
		"tool lasso",
		"undo",
		"draw 1,1 2,2",
		"export " + png,
	}, "\n")
	res := runCLI(t, script, "--socket", socket, "edit", "--script", "-")
	if res.err != nil {
		t.Fatalf("edit: %v", res.err)
	}
	for _, want := range []string{
		`Error: unknown mode "lasso"`,
		"nothing to undo",
		"not in draw mode",
		"exported",
	} {
		if !strings.Contains(res.stdout, want) {
			t.Errorf("stdout missing %q:\n%s", want, res.stdout)
		}
	}
}

func TestEdit_NoServer(t *testing.T) {
	res := runCLI(t, "", "--socket", filepath.Join(t.TempDir(), "none.sock"), "edit", "--script", "-")
	if res.err == nil {
		t.Error("expected error without a server")
	}
}

func TestEdit_MissingScript(t *testing.T) {
	res := runCLI(t, "", "--socket", "/tmp/x.sock", "edit", "--script", filepath.Join(t.TempDir(), "none"))
	if !errors.Is(res.err, os.ErrNotExist) {
		t.Errorf("err = %v", res.err)
	}
}

// fakeEvents replays events, then fails.
type fakeEvents struct {
	events []transport.RawEvent
}

func (f *fakeEvents) Next(ctx context.Context) (transport.RawEvent, error) {
	if len(f.events) == 0 {
		return transport.RawEvent{}, errors.New("closed")
	}
	e := f.events[0]
	f.events = f.events[1:]
	return e, nil
}

func TestEventPrinter_ExportQueue(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "a.png")
	second := filepath.Join(dir, "b.png")

	var out bytes.Buffer
	p := newEventPrinter(&out, true)
	p.expectExport(first)
	p.expectExport(second)

	src := &fakeEvents{events: []transport.RawEvent{
		{Type: domain.EvtExportImage, Payload: []byte(`{"data":"data:text/plain,one"}`)},
		{Type: domain.EvtError, Payload: []byte(`{"code":"RT-X-0001","message":"boom","command":"EXPORT_IMAGE"}`)},
		{Type: domain.EvtHistoryChanged, Payload: []byte(`{ "undo" : 1 }`)},
	}}
	p.run(context.Background(), src)

	if !p.waitExports(time.Second) {
		t.Fatal("export queue not drained")
	}
	if got, _ := os.ReadFile(first); string(got) != "one" {
		t.Errorf("first export = %q", got)
	}
	if _, err := os.Stat(second); !os.IsNotExist(err) {
		t.Error("failed export should not write a file")
	}
	s := out.String()
	if !strings.Contains(s, "error: [RT-X-0001] EXPORT_IMAGE: boom") || !strings.Contains(s, `history: {"undo":1}`) {
		t.Errorf("output = %q", s)
	}
}

func TestEventPrinter_Unrequested(t *testing.T) {
	var out bytes.Buffer
	p := newEventPrinter(&out, false)
	dest, ok := p.nextExport()
	if ok || dest != "retouch-export-1.png" {
		t.Errorf("nextExport() = %q, %v", dest, ok)
	}
	p.handle(transport.RawEvent{Type: domain.EvtHistoryChanged, Payload: []byte(`{}`)})
	if out.Len() != 0 {
		t.Errorf("history printed without verbose: %q", out.String())
	}
}

func TestIsTerminal_NonTTYInputs(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "script"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	tests := []struct {
		name string
		in   io.Reader
	}{
		{"buffer", strings.NewReader("ADD_TEXT\n")},
		{"regular file", f},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if isTerminal(tt.in) {
				t.Error("isTerminal() = true, want false")
			}
		})
	}
}
