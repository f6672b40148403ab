package command

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/retouch-go/internal/cli/config"
	"github.com/yndnr/retouch-go/internal/cli/output"
)

// ConfigCommand returns the config subcommand group.
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Manage CLI connection profiles",
		Subcommands: []*cli.Command{
			{
				Name:   "show",
				Usage:  "Show the CLI configuration (secrets masked)",
				Action: configShow,
			},
			{
				Name:   "path",
				Usage:  "Print the config file path",
				Action: configPath,
			},
			{
				Name:      "set",
				Usage:     "Create or update a connection profile",
				ArgsUsage: "NAME",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "server", Usage: "Server URL"},
					&cli.StringFlag{Name: "api-key-id", Usage: "API key ID"},
					&cli.StringFlag{Name: "api-key", Usage: "API key secret"},
					&cli.StringFlag{Name: "ca-file", Usage: "PEM bundle trusted for https"},
				},
				Action: configSet,
			},
			{
				Name:      "use",
				Usage:     "Select the default connection profile",
				ArgsUsage: "NAME",
				Action:    configUse,
			},
			{
				Name:      "remove",
				Usage:     "Delete a connection profile",
				ArgsUsage: "NAME",
				Action:    configRemove,
			},
		},
	}
}

func configFile(c *cli.Context) string {
	if p := c.String("config"); p != "" {
		return p
	}
	return config.DefaultConfigPath()
}

type profileRow struct {
	Name     string `json:"name"`
	Current  bool   `json:"current"`
	Server   string `json:"server"`
	APIKeyID string `json:"api_key_id,omitempty"`
	APIKey   string `json:"api_key,omitempty"`
	CAFile   string `json:"ca_file,omitempty" table:"wide"`
}

func configShow(c *cli.Context) error {
	flags, err := ParseGlobalFlags(c)
	if err != nil {
		return err
	}
	cfg := cliConfig(c)

	rows := make([]profileRow, 0, len(cfg.Connections))
	for _, name := range cfg.Names() {
		conn := cfg.Connections[name]
		rows = append(rows, profileRow{
			Name:     name,
			Current:  name == cfg.CurrentConnection,
			Server:   conn.Server,
			APIKeyID: conn.APIKeyID,
			APIKey:   maskSecret(conn.APIKey),
			CAFile:   conn.CAFile,
		})
	}

	if flags.Output != output.FormatTable {
		return render(c, flags, map[string]any{
			"default_server": cfg.DefaultServer,
			"default_output": cfg.DefaultOutput,
			"socket":         cfg.Socket,
			"connections":    rows,
		}, nil)
	}
	w := c.App.Writer
	fmt.Fprintf(w, "Config:         %s\nDefault server: %s\nSocket:         %s\n\n", configFile(c), cfg.DefaultServer, cfg.Socket)
	if len(rows) == 0 {
		fmt.Fprintln(w, "No connection profiles.")
		return nil
	}
	return output.NewFormatter(output.FormatTable, flags.Wide).Format(w, rows)
}

func configPath(c *cli.Context) error {
	fmt.Fprintln(c.App.Writer, configFile(c))
	return nil
}

// editConfig loads the file fresh, so environment overrides are not saved.
func editConfig(c *cli.Context, fn func(cfg *config.CLIConfig, name string) (string, error)) error {
	name, err := requireArg(c, "profile NAME")
	if err != nil {
		return err
	}
	path := configFile(c)
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	msg, err := fn(cfg, name)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := config.Save(cfg, path); err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, msg)
	return nil
}

func configSet(c *cli.Context) error {
	return editConfig(c, func(cfg *config.CLIConfig, name string) (string, error) {
		conn := cfg.Connections[name]
		if v := c.String("server"); v != "" {
			conn.Server = v
		}
		if v := c.String("api-key-id"); v != "" {
			conn.APIKeyID = v
		}
		if v := c.String("api-key"); v != "" {
			conn.APIKey = v
		}
		if v := c.String("ca-file"); v != "" {
			conn.CAFile = v
		}
		cfg.Connections[name] = conn
		if cfg.CurrentConnection == "" {
			cfg.CurrentConnection = name
		}
		return fmt.Sprintf("Profile %s saved", name), nil
	})
}

func configUse(c *cli.Context) error {
	return editConfig(c, func(cfg *config.CLIConfig, name string) (string, error) {
		if _, ok := cfg.Connections[name]; !ok {
			return "", fmt.Errorf("unknown connection %q", name)
		}
		cfg.CurrentConnection = name
		return fmt.Sprintf("Using profile %s", name), nil
	})
}

func configRemove(c *cli.Context) error {
	return editConfig(c, func(cfg *config.CLIConfig, name string) (string, error) {
		if _, ok := cfg.Connections[name]; !ok {
			return "", fmt.Errorf("unknown connection %q", name)
		}
		delete(cfg.Connections, name)
		if cfg.CurrentConnection == name {
			cfg.CurrentConnection = ""
		}
		return fmt.Sprintf("Profile %s removed", name), nil
	})
}

func maskSecret(s string) string {
	if len(s) <= 8 {
		if s == "" {
			return ""
		}
		return "****"
	}
	return s[:5] + "****" + s[len(s)-3:]
}
