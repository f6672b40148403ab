package command

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/retouch-go/internal/cli/config"
	"github.com/yndnr/retouch-go/internal/cli/connection"
	"github.com/yndnr/retouch-go/internal/cli/output"
	"github.com/yndnr/retouch-go/internal/infra/buildinfo"
)

const (
	metaConfig = "cliConfig"

	requestTimeout = 30 * time.Second
)

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:    "retouch-cli",
		Usage:   "retouch canvas and editor session tool",
		Version: buildinfo.String(),
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			CanvasCommand(),
			EditCommand(),
			APIKeyCommand(),
			BackupCommand(),
			SystemCommand(),
			ConfigCommand(),
		},
		Before: loadConfig,
	}
}

// globalFlags returns the global CLI flags.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "CLI config file (default ~/.retouch/cli.yaml)",
			EnvVars: []string{"RETOUCH_CLI_CONFIG"},
		},
		&cli.StringFlag{
			Name:  "connection",
			Usage: "Saved connection profile to use",
		},
		&cli.StringFlag{
			Name:    "server",
			Aliases: []string{"s"},
			Usage:   "Server URL (e.g. http://localhost:5080)",
		},
		&cli.StringFlag{
			Name:  "socket",
			Usage: "Local control socket path, for edit and system status",
		},
		&cli.StringFlag{
			Name:    "api-key-id",
			Aliases: []string{"k"},
			Usage:   "API key ID for authentication",
			EnvVars: []string{config.EnvAPIKeyID},
		},
		&cli.StringFlag{
			Name:    "api-key",
			Aliases: []string{"K"},
			Usage:   "API key secret for authentication",
			EnvVars: []string{config.EnvAPIKey},
		},
		&cli.StringFlag{
			Name:  "ca-file",
			Usage: "PEM bundle trusted for https servers",
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output format: table, json, yaml",
		},
		&cli.BoolFlag{
			Name:    "wide",
			Aliases: []string{"w"},
			Usage:   "Show wide output (more columns)",
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"V"},
			Usage:   "Enable verbose output",
		},
	}
}

// loadConfig reads the CLI config file once per run.
func loadConfig(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	cfg = config.Merge(cfg, environ())
	if c.App.Metadata == nil {
		c.App.Metadata = make(map[string]any)
	}
	c.App.Metadata[metaConfig] = cfg
	return nil
}

func environ() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok && strings.HasPrefix(k, "RETOUCH_") {
			env[k] = v
		}
	}
	return env
}

// cliConfig returns the loaded config, or defaults when Before did not run.
func cliConfig(c *cli.Context) *config.CLIConfig {
	if cfg, ok := c.App.Metadata[metaConfig].(*config.CLIConfig); ok {
		return cfg
	}
	return config.Default()
}

// GlobalFlags are the resolved connection and output settings: flags,
// then the selected profile, then the config defaults.
type GlobalFlags struct {
	Server   string
	Socket   string
	APIKeyID string
	APIKey   string
	CAFile   string

	Output  output.Format
	Wide    bool
	Verbose bool
}

// ParseGlobalFlags resolves the global settings for c.
func ParseGlobalFlags(c *cli.Context) (*GlobalFlags, error) {
	cfg := cliConfig(c)
	profile, err := cfg.Resolve(c.String("connection"))
	if err != nil {
		return nil, err
	}

	format, err := output.ParseFormat(firstNonEmpty(c.String("output"), cfg.DefaultOutput))
	if err != nil {
		return nil, err
	}

	return &GlobalFlags{
		Server:   firstNonEmpty(c.String("server"), profile.Server),
		Socket:   firstNonEmpty(c.String("socket"), cfg.Socket),
		APIKeyID: firstNonEmpty(c.String("api-key-id"), profile.APIKeyID),
		APIKey:   firstNonEmpty(c.String("api-key"), profile.APIKey),
		CAFile:   firstNonEmpty(c.String("ca-file"), profile.CAFile),
		Output:   format,
		Wide:     c.Bool("wide"),
		Verbose:  c.Bool("verbose"),
	}, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// EnsureConnected returns an HTTP client for the resolved server.
func EnsureConnected(c *cli.Context, opts ...connection.Option) (*connection.HTTPClient, *GlobalFlags, error) {
	flags, err := ParseGlobalFlags(c)
	if err != nil {
		return nil, nil, err
	}
	opts = append([]connection.Option{
		connection.WithAPIKey(flags.APIKeyID, flags.APIKey),
		connection.WithCAFile(flags.CAFile),
	}, opts...)
	client, err := connection.NewHTTPClient(flags.Server, opts...)
	if err != nil {
		return nil, nil, err
	}
	if flags.Verbose {
		fmt.Fprintf(c.App.ErrWriter, "server: %s\n", client.BaseURL())
	}
	return client, flags, nil
}

// requestContext bounds one API call.
func requestContext(c *cli.Context) (context.Context, context.CancelFunc) {
	parent := c.Context
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, requestTimeout)
}

// render writes data in the selected format. Tables use table when
// given, otherwise data is rendered by reflection.
func render(c *cli.Context, flags *GlobalFlags, data any, table *output.Table) error {
	w := c.App.Writer
	if flags.Output == output.FormatTable && table != nil {
		return (&output.TableFormatter{}).Format(w, table)
	}
	return output.NewFormatter(flags.Output, flags.Wide).Format(w, data)
}

// PrintError prints an error message to stderr.
func PrintError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
}
