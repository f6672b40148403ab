package command

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/retouch-go/internal/cli/connection"
	"github.com/yndnr/retouch-go/internal/cli/output"
	"github.com/yndnr/retouch-go/internal/infra/buildinfo"
)

// SystemCommand returns the system subcommand group.
func SystemCommand() *cli.Command {
	return &cli.Command{
		Name:    "system",
		Aliases: []string{"sys"},
		Usage:   "Server status and health",
		Subcommands: []*cli.Command{
			{
				Name:  "status",
				Usage: "Show server status (admin), or the control socket status with --local",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "local", Usage: "Query the local control socket instead of the HTTP API"},
				},
				Action: systemStatus,
			},
			{
				Name:   "health",
				Usage:  "Check liveness and readiness",
				Action: systemHealth,
			},
			{
				Name:   "version",
				Usage:  "Show CLI version information",
				Action: systemVersion,
			},
		},
	}
}

func systemStatus(c *cli.Context) error {
	if c.Bool("local") {
		return localStatus(c)
	}
	client, flags, err := EnsureConnected(c)
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	resp, err := client.Get(ctx, "/admin/v1/status")
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	var status map[string]any
	if err := connection.ParseResponse(resp, &status); err != nil {
		return err
	}
	return render(c, flags, status, nil)
}

func localStatus(c *cli.Context) error {
	flags, err := ParseGlobalFlags(c)
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	client := connection.NewSocketClient(flags.Socket)
	defer client.Close()
	st, err := client.Status(ctx)
	if err != nil {
		return err
	}
	return render(c, flags, st, nil)
}

type healthRow struct {
	Check  string `json:"check"`
	Status string `json:"status"`
}

func systemHealth(c *cli.Context) error {
	client, flags, err := EnsureConnected(c)
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	var rows []healthRow
	var failed error
	for _, check := range []string{"health", "ready"} {
		row := healthRow{Check: check}
		resp, err := client.Get(ctx, "/"+check)
		if err == nil {
			var body struct {
				Status string `json:"status"`
			}
			err = connection.ParseResponse(resp, &body)
			row.Status = body.Status
		}
		if err != nil {
			row.Status = err.Error()
			failed = errors.Join(failed, fmt.Errorf("%s: %w", check, err))
		}
		rows = append(rows, row)
	}

	if err := render(c, flags, rows, nil); err != nil {
		return err
	}
	return failed
}

func systemVersion(c *cli.Context) error {
	flags, err := ParseGlobalFlags(c)
	if err != nil {
		return err
	}
	if flags.Output == output.FormatTable {
		fmt.Fprintln(c.App.Writer, buildinfo.String())
		return nil
	}
	return render(c, flags, buildinfo.Get(), nil)
}
