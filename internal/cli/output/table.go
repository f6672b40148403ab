package output

import (
	"fmt"
	"io"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"
	"unicode"
)

// TableFormatter formats data as an aligned table.
type TableFormatter struct {
	Wide      bool
	NoHeaders bool
}

// Format renders a Table, a slice of structs, a struct or a map. Other
// values fall back to JSON.
func (f *TableFormatter) Format(w io.Writer, data any) error {
	if data == nil {
		return nil
	}
	switch t := data.(type) {
	case *Table:
		return t.RenderWithOptions(w, f.NoHeaders)
	case Table:
		return t.RenderWithOptions(w, f.NoHeaders)
	}

	table, ok := toTable(reflect.ValueOf(data), f.Wide)
	if !ok {
		return (&JSONFormatter{}).Format(w, data)
	}
	return table.RenderWithOptions(w, f.NoHeaders)
}

// column is one rendered struct field.
type column struct {
	index  int
	header string
	opts   tagOptions
}

type tagOptions struct {
	skip, wide, time, bytes bool
}

func parseTag(tag string) tagOptions {
	var o tagOptions
	for _, opt := range strings.Split(tag, ",") {
		switch strings.TrimSpace(opt) {
		case "-":
			o.skip = true
		case "wide":
			o.wide = true
		case "time":
			o.time = true
		case "bytes":
			o.bytes = true
		}
	}
	return o
}

// fieldName is the json name of a field, or its Go name.
func fieldName(f reflect.StructField) string {
	if tag := f.Tag.Get("json"); tag != "" {
		if name, _, _ := strings.Cut(tag, ","); name != "" && name != "-" {
			return name
		}
	}
	return f.Name
}

func columns(t reflect.Type, wide bool) []column {
	var cols []column
	for i := range t.NumField() {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		opts := parseTag(field.Tag.Get("table"))
		if opts.skip || (opts.wide && !wide) {
			continue
		}
		cols = append(cols, column{
			index:  i,
			header: strings.ToUpper(toSnakeCase(fieldName(field))),
			opts:   opts,
		})
	}
	return cols
}

func toTable(v reflect.Value, wide bool) (*Table, bool) {
	v = indirect(v)
	switch {
	case !v.IsValid():
		return &Table{}, true
	case v.Kind() == reflect.Struct:
		return structTable(v, wide), true
	case v.Kind() == reflect.Map:
		return mapTable(v), true
	case v.Kind() == reflect.Slice || v.Kind() == reflect.Array:
		return sliceTable(v, wide), true
	}
	return nil, false
}

func sliceTable(v reflect.Value, wide bool) *Table {
	t := &Table{}
	if v.Len() == 0 {
		return t
	}
	elem := v.Type().Elem()
	if elem.Kind() == reflect.Pointer {
		elem = elem.Elem()
	}
	if elem.Kind() != reflect.Struct {
		t.Headers = []string{"VALUE"}
		for i := range v.Len() {
			t.AddRow(formatValue(v.Index(i), tagOptions{}))
		}
		return t
	}

	cols := columns(elem, wide)
	for _, c := range cols {
		t.Headers = append(t.Headers, c.header)
	}
	for i := range v.Len() {
		item := indirect(v.Index(i))
		row := make([]string, len(cols))
		for j, c := range cols {
			if item.IsValid() {
				row[j] = formatValue(item.Field(c.index), c.opts)
			}
		}
		t.AddRow(row...)
	}
	return t
}

// structTable lists one struct as field/value pairs.
func structTable(v reflect.Value, wide bool) *Table {
	t := &Table{Headers: []string{"FIELD", "VALUE"}}
	for _, c := range columns(v.Type(), wide) {
		t.AddRow(fieldName(v.Type().Field(c.index)), formatValue(v.Field(c.index), c.opts))
	}
	return t
}

func mapTable(v reflect.Value) *Table {
	t := &Table{Headers: []string{"KEY", "VALUE"}}
	for k, val := range v.Seq2() {
		t.AddRow(formatValue(k, tagOptions{}), formatValue(val, tagOptions{}))
	}
	slices.SortFunc(t.Rows, func(a, b []string) int { return strings.Compare(a[0], b[0]) })
	return t
}

func indirect(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

const cellTimeLayout = "2006-01-02 15:04:05"

var timeType = reflect.TypeFor[time.Time]()

// formatValue formats one cell. Empty and zero-time values render as "-".
func formatValue(v reflect.Value, opts tagOptions) string {
	v = indirect(v)
	if !v.IsValid() {
		return "-"
	}
	if v.Type() == timeType {
		return orDash(v.Interface().(time.Time))
	}

	switch k := v.Kind(); {
	case k == reflect.String:
		if v.Len() == 0 {
			return "-"
		}
		return v.String()
	case v.CanInt():
		n := v.Int()
		if opts.time {
			if n == 0 {
				return "-"
			}
			return orDash(time.UnixMilli(n))
		}
		if opts.bytes {
			return FormatBytes(n)
		}
		return strconv.FormatInt(n, 10)
	case v.CanUint():
		return strconv.FormatUint(v.Uint(), 10)
	case v.CanFloat():
		return strconv.FormatFloat(v.Float(), 'f', 2, 64)
	case k == reflect.Bool:
		return strconv.FormatBool(v.Bool())
	case k == reflect.Slice || k == reflect.Array:
		return listCell(v)
	case k == reflect.Map:
		if v.Len() == 0 {
			return "-"
		}
		return fmt.Sprintf("{%d keys}", v.Len())
	}
	return fmt.Sprint(v.Interface())
}

func orDash(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(cellTimeLayout)
}

// listCell joins string lists and summarizes anything else.
func listCell(v reflect.Value) string {
	if v.Len() == 0 {
		return "-"
	}
	if v.Type().Elem().Kind() != reflect.String {
		return fmt.Sprintf("[%d items]", v.Len())
	}
	parts := make([]string, v.Len())
	for i := range parts {
		parts[i] = v.Index(i).String()
	}
	return strings.Join(parts, ",")
}

// toSnakeCase puts an underscore before each run of capitals after the
// first character: KeyID becomes Key_ID.
func toSnakeCase(s string) string {
	var b strings.Builder
	prevUpper := true
	for _, r := range s {
		upper := unicode.IsUpper(r)
		if upper && !prevUpper {
			b.WriteByte('_')
		}
		b.WriteRune(r)
		prevUpper = upper
	}
	return b.String()
}

// Table is rows of pre-rendered cells.
type Table struct {
	Headers []string
	Rows    [][]string
}

func (t *Table) Render(w io.Writer) error {
	return t.RenderWithOptions(w, false)
}

// RenderWithOptions aligns columns with two spaces of padding.
func (t *Table) RenderWithOptions(w io.Writer, noHeaders bool) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	lines := t.Rows
	if !noHeaders && len(t.Headers) > 0 {
		lines = append([][]string{t.Headers}, lines...)
	}
	for _, cells := range lines {
		io.WriteString(tw, strings.Join(cells, "\t")+"\n")
	}
	return tw.Flush()
}

func (t *Table) AddRow(cells ...string) {
	t.Rows = append(t.Rows, cells)
}

// FormatBytes renders a byte count in binary units, e.g. 1.5 KB.
func FormatBytes(b int64) string {
	if b < 1024 {
		return strconv.FormatInt(b, 10) + " B"
	}
	f, unit := float64(b), -1
	for f >= 1024 && unit < 5 {
		f /= 1024
		unit++
	}
	return fmt.Sprintf("%.1f %cB", f, "KMGTPE"[unit])
}
