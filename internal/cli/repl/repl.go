package repl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Prompt is printed before each line.
const Prompt = "retouch> "

// Executor carries out parsed actions.
type Executor interface {
	Execute(ctx context.Context, a Action) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, a Action) error

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, a Action) error { return f(ctx, a) }

// REPL represents the Read-Eval-Print Loop.
type REPL struct {
	input   io.Reader
	output  io.Writer
	exec    Executor
	history *History
	prompt  bool
}

// New creates a REPL. Prompts are printed only when interactive is set.
func New(input io.Reader, output io.Writer, exec Executor, history *History, interactive bool) *REPL {
	if history == nil {
		history = NewHistory("")
	}
	return &REPL{input: input, output: output, exec: exec, history: history, prompt: interactive}
}

// Run reads lines until exit, end of input or ctx ends. Executor errors
// are printed and the loop continues; a canceled ctx ends it.
func (r *REPL) Run(ctx context.Context) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(r.input)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		if r.prompt {
			fmt.Fprint(r.output, Prompt)
		}
		var line string
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			if r.prompt {
				fmt.Fprintln(r.output)
			}
			return err
		case line = <-lines:
		}

		action, err := Parse(line)
		if errors.Is(err, ErrEmpty) {
			continue
		}
		r.history.Add(strings.TrimSpace(line))
		if err != nil {
			fmt.Fprintf(r.output, "Error: %v\n", err)
			continue
		}

		switch action.Kind {
		case ActionExit:
			return nil
		case ActionHelp:
			fmt.Fprint(r.output, "Commands:\n"+Usage())
			continue
		}
		if err := r.exec.Execute(ctx, action); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintf(r.output, "Error: %v\n", err)
		}
	}
}
