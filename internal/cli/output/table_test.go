package output

import (
	"bytes"
	"reflect"
	"strings"
	"testing"
	"time"
)

type keyRow struct {
	KeyID     string   `json:"key_id"`
	Role      string   `json:"role"`
	Allowlist []string `json:"allowlist" table:"wide"`
	LastUsed  int64    `json:"last_used" table:"time"`
	Secret    string   `json:"secret" table:"-"`
	internal  string
}

func render(t *testing.T, f *TableFormatter, data any) string {
	t.Helper()
	var buf bytes.Buffer
	if err := f.Format(&buf, data); err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	return buf.String()
}

func TestTableFormatter_Slice(t *testing.T) {
	data := []keyRow{
		{KeyID: "rtak-1", Role: "admin", Allowlist: []string{"10.0.0.0/8", "::1"}, Secret: "s"},
		{KeyID: "rtak-2", Role: "viewer", LastUsed: 1700000000000},
	}

	out := render(t, &TableFormatter{}, data)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines:\n%s", len(lines), out)
	}
	if fields := strings.Fields(lines[0]); !reflect.DeepEqual(fields, []string{"KEY_ID", "ROLE", "LAST_USED"}) {
		t.Errorf("headers = %v", fields)
	}
	if !strings.Contains(lines[1], "rtak-1") || !strings.HasSuffix(strings.TrimSpace(lines[1]), "-") {
		t.Errorf("row 1 = %q", lines[1])
	}
	wantTime := time.UnixMilli(1700000000000).Local().Format("2006-01-02 15:04:05")
	if !strings.Contains(lines[2], wantTime) {
		t.Errorf("row 2 = %q, want time %s", lines[2], wantTime)
	}
	if strings.Contains(out, "SECRET") || strings.Contains(out, "INTERNAL") {
		t.Error("hidden fields rendered")
	}

	wide := render(t, &TableFormatter{Wide: true}, data)
	if !strings.Contains(wide, "ALLOWLIST") || !strings.Contains(wide, "10.0.0.0/8,::1") {
		t.Errorf("wide output = %s", wide)
	}
}

func TestTableFormatter_PointerSlice(t *testing.T) {
	out := render(t, &TableFormatter{NoHeaders: true}, []*canvasRow{{ID: "c1", Size: 2048}, nil})
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %q", lines)
	}
	if !strings.Contains(lines[0], "2.0 KB") {
		t.Errorf("size not humanized: %q", lines[0])
	}
}

func TestTableFormatter_EmptyAndNil(t *testing.T) {
	if out := render(t, &TableFormatter{}, nil); out != "" {
		t.Errorf("nil = %q", out)
	}
	if out := render(t, &TableFormatter{}, []keyRow{}); out != "" {
		t.Errorf("empty slice = %q", out)
	}
}

func TestTableFormatter_Struct(t *testing.T) {
	out := render(t, &TableFormatter{}, canvasRow{ID: "c9", Version: 4})
	if !strings.Contains(out, "FIELD") || !strings.Contains(out, "c9") || !strings.Contains(out, "version") {
		t.Errorf("output = %s", out)
	}
}

func TestTableFormatter_MapSorted(t *testing.T) {
	out := render(t, &TableFormatter{NoHeaders: true}, map[string]any{"zeta": 1, "alpha": "x", "mid": nil})
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 3 || !strings.HasPrefix(lines[0], "alpha") || !strings.HasPrefix(lines[2], "zeta") {
		t.Errorf("lines = %q", lines)
	}
	if !strings.Contains(lines[1], "-") {
		t.Errorf("nil value = %q", lines[1])
	}
}

func TestTableFormatter_Table(t *testing.T) {
	tbl := Table{Headers: []string{"A", "B"}}
	tbl.AddRow("1", "2")
	for _, data := range []any{tbl, &tbl} {
		out := render(t, &TableFormatter{}, data)
		if !strings.HasPrefix(out, "A  B\n1  2") {
			t.Errorf("output = %q", out)
		}
	}
}

func TestTableFormatter_FallbackToJSON(t *testing.T) {
	out := render(t, &TableFormatter{}, 42)
	if strings.TrimSpace(out) != "42" {
		t.Errorf("output = %q", out)
	}
}

func TestFormatValue(t *testing.T) {
	s := "ptr"
	tests := []struct {
		name string
		v    any
		opts tagOptions
		want string
	}{
		{"string", "x", tagOptions{}, "x"},
		{"empty string", "", tagOptions{}, "-"},
		{"int", 5, tagOptions{}, "5"},
		{"zero time", int64(0), tagOptions{time: true}, "-"},
		{"bytes", 3 << 20, tagOptions{bytes: true}, "3.0 MB"},
		{"float", 1.5, tagOptions{}, "1.50"},
		{"bool", true, tagOptions{}, "true"},
		{"pointer", &s, tagOptions{}, "ptr"},
		{"slice", []int{1, 2}, tagOptions{}, "[2 items]"},
		{"map", map[string]int{"a": 1}, tagOptions{}, "{1 keys}"},
		{"zero time.Time", time.Time{}, tagOptions{}, "-"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatValue(reflect.ValueOf(tt.v), tt.opts); got != tt.want {
				t.Errorf("formatValue() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseTag(t *testing.T) {
	o := parseTag("wide, time")
	if !o.wide || !o.time || o.skip || o.bytes {
		t.Errorf("parseTag() = %+v", o)
	}
}

func TestToSnakeCase(t *testing.T) {
	tests := map[string]string{
		"KeyID":     "Key_ID",
		"CreatedAt": "Created_At",
		"name":      "name",
	}
	for in, want := range tests {
		if got := toSnakeCase(in); got != want {
			t.Errorf("toSnakeCase(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFormatBytes(t *testing.T) {
	tests := map[int64]string{
		0:       "0 B",
		1023:    "1023 B",
		1536:    "1.5 KB",
		1 << 30: "1.0 GB",
	}
	for in, want := range tests {
		if got := FormatBytes(in); got != want {
			t.Errorf("FormatBytes(%d) = %q, want %q", in, got, want)
		}
	}
}
