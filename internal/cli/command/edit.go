package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/term"

	"github.com/yndnr/retouch-go/internal/cli/connection"
	"github.com/yndnr/retouch-go/internal/cli/output"
	"github.com/yndnr/retouch-go/internal/cli/repl"
	"github.com/yndnr/retouch-go/internal/core/domain"
	rasterrender "github.com/yndnr/retouch-go/internal/render"
	"github.com/yndnr/retouch-go/internal/transport"
)

const (
	openTimeout   = 30 * time.Second
	exportTimeout = 30 * time.Second
)

// EditCommand returns the edit command.
func EditCommand() *cli.Command {
	return &cli.Command{
		Name:  "edit",
		Usage: "Open an editor session on the local control socket",
		Description: "Reads editor commands from the terminal or --script, one per line.\n" +
			"Closing the session flushes pending edits to the canvas store.\n\n" + repl.Usage(),
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "id", Usage: "Canvas id to restore and autosave"},
			&cli.StringFlag{Name: "image", Usage: "Initial image URL when the canvas has no snapshot"},
			&cli.StringFlag{Name: "script", Usage: "Read commands from FILE (- for stdin) instead of the terminal"},
			&cli.StringFlag{Name: "history", Usage: "History file for interactive sessions (default ~/.retouch/history)"},
		},
		Action: editSession,
	}
}

func editSession(c *cli.Context) error {
	flags, err := ParseGlobalFlags(c)
	if err != nil {
		return err
	}
	parent := c.Context
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt)
	defer stop()

	input, interactive, closeInput, err := editInput(c)
	if err != nil {
		return err
	}
	defer closeInput()

	client := connection.NewSocketClient(flags.Socket)
	defer client.Close()

	var spin *output.Spinner
	if interactive {
		spin = output.NewSpinner(c.App.ErrWriter, "opening session")
		spin.Start()
	}
	openCtx, cancel := context.WithTimeout(ctx, openTimeout)
	ready, err := client.Open(openCtx, domain.OpenPayload{ID: c.String("id"), Image: c.String("image")})
	cancel()
	if err != nil {
		if spin != nil {
			spin.Fail(err.Error())
		}
		return err
	}
	if spin != nil {
		spin.Success(fmt.Sprintf("session ready (source %s)", ready.Source))
	}

	out := &lockedWriter{w: c.App.Writer}
	printer := newEventPrinter(out, flags.Verbose)
	printerDone := make(chan struct{})
	go func() {
		defer close(printerDone)
		printer.run(ctx, client)
	}()

	var history *repl.History
	if interactive {
		history = repl.NewHistory(firstNonEmpty(c.String("history"), repl.DefaultHistoryFile()))
		history.Load()
		defer history.Save()
	}

	exec := repl.ExecutorFunc(func(ctx context.Context, a repl.Action) error {
		if a.Command.Type == domain.CmdExportImage {
			printer.expectExport(a.File)
		}
		return client.Send(ctx, a.Command)
	})
	runErr := repl.New(input, out, exec, history, interactive).Run(ctx)

	if !printer.waitExports(exportTimeout) {
		fmt.Fprintln(out, "warning: session closed before all exports arrived")
	}
	client.Close()
	<-printerDone
	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

// editInput selects the command source.
func editInput(c *cli.Context) (io.Reader, bool, func(), error) {
	script := c.String("script")
	stdin := c.App.Reader
	if stdin == nil {
		stdin = os.Stdin
	}
	switch script {
	case "":
		return stdin, isTerminal(stdin), func() {}, nil
	case "-":
		return stdin, false, func() {}, nil
	default:
		f, err := os.Open(script)
		if err != nil {
			return nil, false, nil, err
		}
		return f, false, func() { f.Close() }, nil
	}
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// lockedWriter serializes the prompt and event output.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// eventPrinter prints session events and saves exports. EXPORT_IMAGE
// replies arrive in request order, so destinations are queued.
type eventPrinter struct {
	w       io.Writer
	verbose bool

	mu      sync.Mutex
	exports []string
	pending sync.WaitGroup
	count   int
}

func newEventPrinter(w io.Writer, verbose bool) *eventPrinter {
	return &eventPrinter{w: w, verbose: verbose}
}

func (p *eventPrinter) expectExport(dest string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exports = append(p.exports, dest)
	p.pending.Add(1)
}

// nextExport pops the next destination. ok is false for an export the
// client did not request.
func (p *eventPrinter) nextExport() (dest string, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.count++
	if len(p.exports) == 0 {
		return fmt.Sprintf("retouch-export-%d.png", p.count), false
	}
	dest = p.exports[0]
	p.exports = p.exports[1:]
	if dest == "" {
		dest = fmt.Sprintf("retouch-export-%d.png", p.count)
	}
	return dest, true
}

func (p *eventPrinter) waitExports(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		p.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

type eventSource interface {
	Next(ctx context.Context) (transport.RawEvent, error)
}

func (p *eventPrinter) run(ctx context.Context, src eventSource) {
	for {
		evt, err := src.Next(ctx)
		if err != nil {
			if transport.IsRecoverable(err) {
				fmt.Fprintf(p.w, "warning: %v\n", err)
				continue
			}
			return
		}
		p.handle(evt)
	}
}

func (p *eventPrinter) handle(evt transport.RawEvent) {
	switch evt.Type {
	case domain.EvtExportImage:
		var ep domain.ExportPayload
		dest, requested := p.nextExport()
		if requested {
			defer p.pending.Done()
		}
		if err := evt.Decode(&ep); err != nil {
			fmt.Fprintf(p.w, "export: %v\n", err)
			return
		}
		data, err := rasterrender.DecodeDataURL(ep.Data)
		if err == nil {
			err = os.WriteFile(dest, data, 0644)
		}
		if err != nil {
			fmt.Fprintf(p.w, "export: %v\n", err)
			return
		}
		fmt.Fprintf(p.w, "exported %s to %s\n", output.FormatBytes(int64(len(data))), dest)

	case domain.EvtError:
		var ep domain.ErrorPayload
		if err := evt.Decode(&ep); err != nil {
			fmt.Fprintf(p.w, "error: %v\n", err)
			return
		}
		if ep.Command == string(domain.CmdExportImage) {
			if _, requested := p.nextExport(); requested {
				p.pending.Done()
			}
		}
		fmt.Fprintf(p.w, "error: %v\n", &connection.RemoteError{ErrorPayload: ep})

	case domain.EvtNothingToUndo:
		fmt.Fprintln(p.w, "nothing to undo")
	case domain.EvtNothingToRedo:
		fmt.Fprintln(p.w, "nothing to redo")

	case domain.EvtHistoryChanged:
		if p.verbose {
			fmt.Fprintf(p.w, "history: %s\n", compact(evt.Payload))
		}
	default:
		fmt.Fprintf(p.w, "%s %s\n", evt.Type, compact(evt.Payload))
	}
}

func compact(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	b, _ := json.Marshal(v)
	return string(b)
}
