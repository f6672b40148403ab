package command

import (
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/retouch-go/internal/cli/connection"
	"github.com/yndnr/retouch-go/internal/cli/output"
)

// BackupCommand returns the backup subcommand group.
func BackupCommand() *cli.Command {
	return &cli.Command{
		Name:  "backup",
		Usage: "Download storage backups (admin)",
		Subcommands: []*cli.Command{
			{
				Name:  "download",
				Usage: "Stream a backup of the canvas store to a local file",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "Destination (default: server-suggested name)"},
					&cli.BoolFlag{Name: "quiet", Aliases: []string{"q"}, Usage: "No progress output"},
				},
				Action: backupDownload,
			},
		},
	}
}

func backupDownload(c *cli.Context) error {
	// Backups can outlast the request timeout; the server streams them.
	client, _, err := EnsureConnected(c, connection.WithTimeout(0))
	if err != nil {
		return err
	}
	ctx := c.Context

	resp, err := client.Get(ctx, "/admin/v1/backup")
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode != 200 {
		return connection.ParseResponse(resp, nil)
	}
	defer resp.Body.Close()

	dest := c.String("file")
	if dest == "" {
		dest = "retouch-backup.bak"
		if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil && params["filename"] != "" {
			dest = filepath.Base(params["filename"])
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".retouch-backup-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	var w io.Writer = tmp
	var bar *output.ProgressBar
	if !c.Bool("quiet") {
		bar = output.NewProgressBar(c.App.ErrWriter, "backup", resp.ContentLength)
		w = io.MultiWriter(tmp, bar)
	}
	n, err := io.Copy(w, resp.Body)
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("download backup: %w", err)
	}
	if bar != nil {
		bar.Finish()
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Backup written to %s (%s)\n", dest, output.FormatBytes(n))
	return nil
}
