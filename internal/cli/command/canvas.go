package command

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/retouch-go/internal/cli/connection"
	"github.com/yndnr/retouch-go/internal/cli/output"
	"github.com/yndnr/retouch-go/internal/core/codec"
	"github.com/yndnr/retouch-go/internal/core/domain"
)

// canvasInfo mirrors the server's canvas representation.
type canvasInfo struct {
	ID        string `json:"id"`
	Snapshot  string `json:"snapshot,omitempty" table:"-"`
	Size      int64  `json:"size" table:"bytes"`
	ETag      string `json:"etag" table:"wide"`
	Version   uint64 `json:"version"`
	CreatedAt int64  `json:"created_at" table:"wide,time"`
	UpdatedAt int64  `json:"updated_at" table:"time"`
}

type saveResult struct {
	canvasInfo
	Created   bool `json:"created"`
	Unchanged bool `json:"unchanged"`
}

type canvasList struct {
	Items    []canvasInfo `json:"items"`
	Total    int          `json:"total"`
	Page     int          `json:"page"`
	PageSize int          `json:"page_size"`
}

type snapshotBody struct {
	Snapshot string `json:"snapshot"`
}

// CanvasCommand returns the canvas subcommand group.
func CanvasCommand() *cli.Command {
	return &cli.Command{
		Name:    "canvas",
		Aliases: []string{"cv"},
		Usage:   "Manage stored canvases",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List canvases",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "prefix", Usage: "Only ids starting with PREFIX"},
					&cli.IntFlag{Name: "page", Value: 1, Usage: "Page number"},
					&cli.IntFlag{Name: "page-size", Value: 50, Usage: "Items per page"},
				},
				Action: canvasListAction,
			},
			{
				Name:      "get",
				Usage:     "Show a canvas, or write its snapshot with --snapshot",
				ArgsUsage: "ID",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "snapshot", Usage: "Write the snapshot to FILE (- for stdout)"},
				},
				Action: canvasGet,
			},
			{
				Name:      "put",
				Usage:     "Store a snapshot under ID, creating or replacing it",
				ArgsUsage: "ID",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "Snapshot file (- for stdin)", Required: true},
					&cli.StringFlag{Name: "if-match", Usage: "Only replace when the stored ETag matches"},
					&cli.BoolFlag{Name: "validate", Value: true, Usage: "Parse the snapshot locally before upload"},
				},
				Action: canvasPut,
			},
			{
				Name:  "create",
				Usage: "Store a snapshot under a generated id",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "Snapshot file (- for stdin)", Required: true},
					&cli.BoolFlag{Name: "validate", Value: true, Usage: "Parse the snapshot locally before upload"},
				},
				Action: canvasCreate,
			},
			{
				Name:      "delete",
				Aliases:   []string{"rm"},
				Usage:     "Delete a canvas",
				ArgsUsage: "ID",
				Action:    canvasDelete,
			},
			{
				Name:      "validate",
				Usage:     "Parse a snapshot file and summarize its layers",
				ArgsUsage: "FILE",
				Action:    canvasValidate,
			},
		},
	}
}

func canvasPath(id string) string {
	return "/v1/canvases/" + url.PathEscape(id)
}

func requireArg(c *cli.Context, name string) (string, error) {
	v := c.Args().First()
	if v == "" {
		return "", fmt.Errorf("%s is required", name)
	}
	return v, nil
}

func canvasListAction(c *cli.Context) error {
	client, flags, err := EnsureConnected(c)
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	q := url.Values{}
	if p := c.String("prefix"); p != "" {
		q.Set("prefix", p)
	}
	q.Set("page", strconv.Itoa(c.Int("page")))
	q.Set("page_size", strconv.Itoa(c.Int("page-size")))

	resp, err := client.Get(ctx, "/v1/canvases?"+q.Encode())
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	var result canvasList
	if err := connection.ParseResponse(resp, &result); err != nil {
		return err
	}

	if flags.Output != output.FormatTable {
		return render(c, flags, result, nil)
	}
	if err := output.NewFormatter(output.FormatTable, flags.Wide).Format(c.App.Writer, result.Items); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "\nTotal: %d (page %d)\n", result.Total, result.Page)
	return nil
}

func canvasGet(c *cli.Context) error {
	id, err := requireArg(c, "canvas ID")
	if err != nil {
		return err
	}
	client, flags, err := EnsureConnected(c)
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	resp, err := client.Get(ctx, canvasPath(id))
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	var info canvasInfo
	if err := connection.ParseResponse(resp, &info); err != nil {
		return err
	}

	if dest := c.String("snapshot"); dest != "" {
		return writeOutput(c, dest, []byte(info.Snapshot))
	}
	info.Snapshot = ""
	return render(c, flags, info, nil)
}

func canvasPut(c *cli.Context) error {
	id, err := requireArg(c, "canvas ID")
	if err != nil {
		return err
	}
	snap, err := readSnapshot(c)
	if err != nil {
		return err
	}
	client, flags, err := EnsureConnected(c)
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	resp, err := client.Put(ctx, canvasPath(id), snapshotBody{Snapshot: snap}, c.String("if-match"))
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	var result saveResult
	if err := connection.ParseResponse(resp, &result); err != nil {
		return err
	}

	if flags.Output != output.FormatTable {
		return render(c, flags, result, nil)
	}
	state := "updated"
	switch {
	case result.Created:
		state = "created"
	case result.Unchanged:
		state = "unchanged"
	}
	fmt.Fprintf(c.App.Writer, "Canvas %s %s (version %d, etag %s)\n", result.ID, state, result.Version, result.ETag)
	return nil
}

func canvasCreate(c *cli.Context) error {
	snap, err := readSnapshot(c)
	if err != nil {
		return err
	}
	client, flags, err := EnsureConnected(c)
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	resp, err := client.Post(ctx, "/v1/canvases", snapshotBody{Snapshot: snap})
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	var info canvasInfo
	if err := connection.ParseResponse(resp, &info); err != nil {
		return err
	}
	if flags.Output != output.FormatTable {
		return render(c, flags, info, nil)
	}
	fmt.Fprintf(c.App.Writer, "Canvas %s created (etag %s)\n", info.ID, info.ETag)
	return nil
}

func canvasDelete(c *cli.Context) error {
	id, err := requireArg(c, "canvas ID")
	if err != nil {
		return err
	}
	client, _, err := EnsureConnected(c)
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	resp, err := client.Delete(ctx, canvasPath(id))
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if err := connection.ParseResponse(resp, nil); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Canvas %s deleted\n", id)
	return nil
}

// layerSummary is one row of canvas validate.
type layerSummary struct {
	Index   int    `json:"index"`
	Kind    string `json:"kind"`
	Filters int    `json:"filters"`
	Source  string `json:"src,omitempty" table:"wide"`
}

func canvasValidate(c *cli.Context) error {
	path, err := requireArg(c, "FILE")
	if err != nil {
		return err
	}
	data, err := readInput(c, path)
	if err != nil {
		return err
	}
	scene, err := codec.New().Deserialize(domain.SnapshotFromString(string(data)))
	if err != nil {
		return err
	}
	flags, err := ParseGlobalFlags(c)
	if err != nil {
		return err
	}

	rows := make([]layerSummary, len(scene.Layers))
	for i, l := range scene.Layers {
		rows[i] = layerSummary{Index: i, Kind: string(l.Kind), Filters: l.Filters.Len(), Source: l.Src}
	}
	if flags.Output != output.FormatTable {
		return render(c, flags, rows, nil)
	}
	fmt.Fprintf(c.App.Writer, "Scene %gx%g, %d layers, %d bytes\n", scene.Width, scene.Height, len(rows), len(data))
	return output.NewFormatter(output.FormatTable, flags.Wide).Format(c.App.Writer, rows)
}

// readSnapshot reads --file and, unless --validate=false, parses it.
func readSnapshot(c *cli.Context) (string, error) {
	data, err := readInput(c, c.String("file"))
	if err != nil {
		return "", err
	}
	if len(data) > domain.MaxSnapshotSize {
		return "", fmt.Errorf("snapshot is %d bytes, limit is %d", len(data), domain.MaxSnapshotSize)
	}
	if c.Bool("validate") {
		if _, err := codec.New().Deserialize(domain.SnapshotFromString(string(data))); err != nil {
			return "", fmt.Errorf("invalid snapshot: %w", err)
		}
	}
	return string(data), nil
}

func readInput(c *cli.Context, path string) ([]byte, error) {
	if path == "-" {
		r := c.App.Reader
		if r == nil {
			r = os.Stdin
		}
		return io.ReadAll(r)
	}
	return os.ReadFile(path)
}

func writeOutput(c *cli.Context, path string, data []byte) error {
	if path == "-" {
		_, err := c.App.Writer.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0644)
}
