package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func newBuffered(t *testing.T, level string) (*Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	l, err := New(Config{Level: level, Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return l, &buf
}

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid JSON log %q: %v", buf.String(), err)
	}
	return entry
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"default", DefaultConfig(), false},
		{"text", Config{Level: "debug", Format: "text"}, false},
		{"console", Config{Format: "console"}, false},
		{"empty", Config{}, false},
		{"bad format", Config{Format: "xml"}, true},
		{"bad level", Config{Level: "loud"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && l.Logger == nil {
				t.Fatal("New() returned nil slog logger")
			}
		})
	}
}

func TestLogger_JSONOutput(t *testing.T) {
	l, buf := newBuffered(t, "debug")
	l.With("component", "history").Debug("entry committed", "size", 3)

	entry := decode(t, buf)
	if entry["msg"] != "entry committed" || entry["component"] != "history" || entry["size"] != float64(3) {
		t.Errorf("entry = %v", entry)
	}
}

func TestLogger_SetLevel(t *testing.T) {
	l, buf := newBuffered(t, "error")

	l.Info("filtered")
	if buf.Len() > 0 {
		t.Fatal("info should be filtered at error level")
	}

	child := l.With("component", "autosave")
	if err := l.SetLevel("debug"); err != nil {
		t.Fatal(err)
	}
	child.Debug("visible")
	if buf.Len() == 0 {
		t.Error("derived logger should follow the new level")
	}
	if got := l.Level(); got != "debug" {
		t.Errorf("Level() = %q", got)
	}

	if err := l.SetLevel("loud"); err == nil {
		t.Error("SetLevel(loud) should fail")
	}
	if got := l.Level(); got != "debug" {
		t.Errorf("Level() after failed SetLevel = %q", got)
	}
}

func TestLogger_IndependentLevels(t *testing.T) {
	a, bufA := newBuffered(t, "info")
	b, bufB := newBuffered(t, "info")

	if err := a.SetLevel("error"); err != nil {
		t.Fatal(err)
	}
	a.Info("dropped")
	b.Info("kept")
	if bufA.Len() != 0 || bufB.Len() == 0 {
		t.Errorf("levels leaked between loggers: a=%q b=%q", bufA, bufB)
	}
}

func TestParseLevel(t *testing.T) {
	for _, tt := range []struct {
		in   string
		want string
	}{
		{"debug", "debug"},
		{"DEBUG", "debug"},
		{"", "info"},
		{"info", "info"},
		{"warning", "warn"},
		{"error", "error"},
	} {
		lvl, err := ParseLevel(tt.in)
		if err != nil {
			t.Errorf("ParseLevel(%q) error = %v", tt.in, err)
			continue
		}
		if got := levelName(lvl); got != tt.want {
			t.Errorf("ParseLevel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRedaction(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
		want string
	}{
		{"api key secret value", "value", "rtas_ABCDEFGHIJKLMNOP", "rtas_ABC...NOP"},
		{"short secret value", "value", "rtas_abc", "rtas_***"},
		{"secret key name", "key_secret", "hunter2", redactedValue},
		{"encryption key", "encryption_key", "00ff00ff", redactedValue},
		{"authorization header", "Authorization", "Bearer x", redactedValue},
		{"key id stays", "key_id", "rtak-abc", "rtak-abc"},
		{"canvas id stays", "canvas_id", "rtcv-1", "rtcv-1"},
		{"empty secret stays", "secret", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, buf := newBuffered(t, "info")
			l.Info("m", tt.key, tt.val)
			if got := decode(t, buf)[tt.key]; got != tt.want {
				t.Errorf("%s = %v, want %q", tt.key, got, tt.want)
			}
		})
	}
}

func TestRedaction_Groups(t *testing.T) {
	l, buf := newBuffered(t, "info")
	l.WithGroup("remote").Info("m", "key_secret", "hunter2", "base_url", "http://x")
	out := buf.String()
	if strings.Contains(out, "hunter2") {
		t.Errorf("secret leaked in group: %s", out)
	}
	if !strings.Contains(out, "http://x") {
		t.Errorf("non-secret dropped: %s", out)
	}
}

func TestRedactString(t *testing.T) {
	if got := RedactString("rtas_ABCDEFGHIJ"); got != "rtas_ABC...HIJ" {
		t.Errorf("RedactString() = %q", got)
	}
	if got := RedactString("plain"); got != "plain" {
		t.Errorf("RedactString(plain) = %q", got)
	}
	if !IsSensitiveValue("rtas_x") || IsSensitiveValue("rtak-x") {
		t.Error("IsSensitiveValue misclassified")
	}
	if !IsSensitiveKey("API_KEY") || IsSensitiveKey("canvas_id") {
		t.Error("IsSensitiveKey misclassified")
	}
}

func TestContext(t *testing.T) {
	l, buf := newBuffered(t, "info")

	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithCanvasID(ctx, "cv-1")
	if got := RequestIDFromContext(ctx); got != "req-1" {
		t.Errorf("RequestIDFromContext() = %q", got)
	}
	if got := CanvasIDFromContext(ctx); got != "cv-1" {
		t.Errorf("CanvasIDFromContext() = %q", got)
	}

	For(ctx, l.Logger).Info("handled")
	entry := decode(t, buf)
	if entry["request_id"] != "req-1" || entry["canvas_id"] != "cv-1" {
		t.Errorf("entry = %v", entry)
	}

	if For(context.Background(), l.Logger) != l.Logger {
		t.Error("For() without IDs should return the logger unchanged")
	}
	if For(context.Background(), nil) == nil {
		t.Error("For() should fall back to the default logger")
	}
	if RequestIDFromContext(context.Background()) != "" {
		t.Error("empty context should have no request ID")
	}
}
