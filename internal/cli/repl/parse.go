package repl

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/yndnr/retouch-go/internal/core/domain"
	"github.com/yndnr/retouch-go/internal/core/filter"
	"github.com/yndnr/retouch-go/internal/core/router"
)

// ActionKind classifies a parsed line.
type ActionKind int

const (
	// ActionCommand sends Action.Command to the session.
	ActionCommand ActionKind = iota
	// ActionHelp prints the verb list.
	ActionHelp
	// ActionExit ends the session.
	ActionExit
)

// DefaultPanel is the SLIDER_CHANGE panel sent when none is given.
const DefaultPanel = "adjust"

// Action is one parsed input line.
type Action struct {
	Kind    ActionKind
	Command domain.Command
	// File is the export destination, empty for stdout.
	File string
}

// ErrEmpty is returned for blank lines and comments.
var ErrEmpty = errors.New("empty line")

type verb struct {
	name  string
	usage string
	parse func(args []string) (Action, error)
}

var verbs = []verb{
	{"undo", "undo", noArgs(domain.CmdUndo)},
	{"redo", "redo", noArgs(domain.CmdRedo)},
	{"text", "text", noArgs(domain.CmdAddText)},
	{"tool", "tool select|draw|text|crop", parseTool},
	{"brush", "brush <size>", parseBrush},
	{"filter", "filter <tool> <value> [panel]", parseFilter},
	{"draw", "draw x,y x,y [x,y ...]", parseDraw},
	{"load", "load <url>", parseLoad},
	{"export", "export [file]", parseExport},
	{"help", "help", func(args []string) (Action, error) { return Action{Kind: ActionHelp}, nil }},
	{"exit", "exit", func(args []string) (Action, error) { return Action{Kind: ActionExit}, nil }},
}

// Verbs returns the verb names in help order.
func Verbs() []string {
	out := make([]string, len(verbs))
	for i, v := range verbs {
		out[i] = v.name
	}
	return out
}

// Usage returns one usage line per verb.
func Usage() string {
	var b strings.Builder
	for _, v := range verbs {
		b.WriteString("  ")
		b.WriteString(v.usage)
		b.WriteByte('\n')
	}
	return b.String()
}

// Parse parses one input line.
func Parse(line string) (Action, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return Action{}, ErrEmpty
	}
	fields := strings.Fields(line)
	name := strings.ToLower(fields[0])
	if name == "quit" {
		name = "exit"
	}
	for _, v := range verbs {
		if v.name == name {
			return v.parse(fields[1:])
		}
	}
	return Action{}, fmt.Errorf("unknown command %q (try help)", fields[0])
}

func noArgs(typ domain.CommandType) func([]string) (Action, error) {
	return func(args []string) (Action, error) {
		if len(args) != 0 {
			return Action{}, fmt.Errorf("%s takes no arguments", strings.ToLower(string(typ)))
		}
		return Action{Command: domain.Command{Type: typ}}, nil
	}
}

func command(typ domain.CommandType, payload any) (Action, error) {
	cmd, err := domain.NewCommand(typ, payload)
	if err != nil {
		return Action{}, err
	}
	return Action{Command: cmd}, nil
}

func parseTool(args []string) (Action, error) {
	if len(args) != 1 {
		return Action{}, errors.New("usage: tool select|draw|text|crop")
	}
	mode := strings.ToLower(args[0])
	switch mode {
	case router.ModeSelect, router.ModeDraw, router.ModeText, router.ModeCrop:
	default:
		return Action{}, fmt.Errorf("unknown mode %q", args[0])
	}
	return command(domain.CmdSetTool, map[string]string{"tool": mode})
}

func parseBrush(args []string) (Action, error) {
	if len(args) != 1 {
		return Action{}, errors.New("usage: brush <size>")
	}
	size, err := strconv.ParseFloat(args[0], 64)
	if err != nil || size <= 0 {
		return Action{}, fmt.Errorf("brush size must be a positive number, got %q", args[0])
	}
	return command(domain.CmdSetBrushSize, map[string]float64{"size": size})
}

func parseFilter(args []string) (Action, error) {
	if len(args) < 2 || len(args) > 3 {
		return Action{}, errors.New("usage: filter <tool> <value> [panel]")
	}
	name, ok := filter.Lookup(args[0])
	if !ok {
		return Action{}, fmt.Errorf("unknown filter tool %q", args[0])
	}
	v, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return Action{}, fmt.Errorf("filter value must be a number, got %q", args[1])
	}
	panel := DefaultPanel
	if len(args) == 3 {
		panel = args[2]
	}
	value := domain.FlexFloat64(v)
	return command(domain.CmdSliderChange, domain.SliderPayload{Panel: panel, Tool: name, Value: &value})
}

func parseDraw(args []string) (Action, error) {
	if len(args) < 2 {
		return Action{}, errors.New("usage: draw x,y x,y [x,y ...]")
	}
	points := make([]domain.Point, 0, len(args))
	for _, a := range args {
		xs, ys, ok := strings.Cut(a, ",")
		if !ok {
			return Action{}, fmt.Errorf("point %q is not x,y", a)
		}
		x, errX := strconv.ParseFloat(xs, 64)
		y, errY := strconv.ParseFloat(ys, 64)
		if errX != nil || errY != nil {
			return Action{}, fmt.Errorf("point %q is not numeric", a)
		}
		points = append(points, domain.Point{X: x, Y: y})
	}
	return command(domain.CmdDrawPath, domain.PathPayload{Points: points})
}

func parseLoad(args []string) (Action, error) {
	if len(args) != 1 {
		return Action{}, errors.New("usage: load <url>")
	}
	return command(domain.CmdLoadImage, map[string]string{"url": args[0]})
}

func parseExport(args []string) (Action, error) {
	if len(args) > 1 {
		return Action{}, errors.New("usage: export [file]")
	}
	a := Action{Command: domain.Command{Type: domain.CmdExportImage}}
	if len(args) == 1 {
		a.File = args[0]
	}
	return a, nil
}
