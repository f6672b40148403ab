package repl

import (
	"strings"

	"github.com/yndnr/retouch-go/internal/core/filter"
	"github.com/yndnr/retouch-go/internal/core/router"
)

// Completer suggests verbs and their first argument.
type Completer struct {
	verbs []string
	args  map[string][]string
}

// NewCompleter creates a new Completer.
func NewCompleter() *Completer {
	tools := filter.Tools()
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name
	}
	return &Completer{
		verbs: append(Verbs(), "quit"),
		args: map[string][]string{
			"tool":   {router.ModeCrop, router.ModeDraw, router.ModeSelect, router.ModeText},
			"filter": names,
		},
	}
}

// Complete returns the full lines that extend line.
func (c *Completer) Complete(line string) []string {
	verb, rest, hasArg := strings.Cut(strings.TrimLeft(line, " "), " ")
	if !hasArg {
		return withPrefix(c.verbs, verb, "")
	}
	if strings.Contains(strings.TrimLeft(rest, " "), " ") {
		return nil
	}
	return withPrefix(c.args[strings.ToLower(verb)], strings.TrimLeft(rest, " "), verb+" ")
}

func withPrefix(candidates []string, prefix, lead string) []string {
	var out []string
	for _, c := range candidates {
		if strings.HasPrefix(c, prefix) {
			out = append(out, lead+c)
		}
	}
	return out
}
