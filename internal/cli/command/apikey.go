package command

import (
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/yndnr/retouch-go/internal/cli/connection"
	"github.com/yndnr/retouch-go/internal/cli/output"
	"github.com/yndnr/retouch-go/internal/core/domain"
)

// apiKeyInfo mirrors the server's API key listing.
type apiKeyInfo struct {
	KeyID     string   `json:"key_id"`
	Name      string   `json:"name"`
	Role      string   `json:"role"`
	Status    string   `json:"status"`
	RateLimit int      `json:"rate_limit" table:"wide"`
	Allowlist []string `json:"allowlist,omitempty" table:"wide"`
	LastUsed  int64    `json:"last_used,omitempty" table:"time"`
}

// apiKeyEntry is one security.api_keys item of the server config.
type apiKeyEntry struct {
	KeyID      string   `yaml:"key_id"`
	Name       string   `yaml:"name"`
	SecretHash string   `yaml:"secret_hash"`
	Role       string   `yaml:"role"`
	RateLimit  int      `yaml:"rate_limit,omitempty"`
	Allowlist  []string `yaml:"allowlist,omitempty"`
}

// APIKeyCommand returns the apikey subcommand group.
func APIKeyCommand() *cli.Command {
	return &cli.Command{
		Name:    "apikey",
		Aliases: []string{"key"},
		Usage:   "Manage API keys",
		Subcommands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List the keys the server has loaded (admin)",
				Action: apikeyList,
			},
			{
				Name: "new",
				Usage: "Generate a key locally and print its server config entry. " +
					"The secret is shown once and never stored.",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Usage: "Key name", Required: true},
					&cli.StringFlag{Name: "role", Aliases: []string{"r"}, Value: string(domain.RoleEditor), Usage: "Key role (viewer, editor, admin)"},
					&cli.IntFlag{Name: "rate-limit", Usage: "Requests per second (0 for the server default)"},
					&cli.StringSliceFlag{Name: "allow", Usage: "Allowed client CIDR (repeatable)"},
				},
				Action: apikeyNew,
			},
		},
	}
}

func apikeyList(c *cli.Context) error {
	client, flags, err := EnsureConnected(c)
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	resp, err := client.Get(ctx, "/admin/v1/keys")
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	var result struct {
		Keys []apiKeyInfo `json:"keys"`
	}
	if err := connection.ParseResponse(resp, &result); err != nil {
		return err
	}

	if flags.Output != output.FormatTable {
		return render(c, flags, result.Keys, nil)
	}
	if err := output.NewFormatter(output.FormatTable, flags.Wide).Format(c.App.Writer, result.Keys); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "\nTotal: %d\n", len(result.Keys))
	return nil
}

func apikeyNew(c *cli.Context) error {
	role := strings.ToLower(c.String("role"))
	if !domain.IsValidRole(role) {
		return fmt.Errorf("unknown role %q (want viewer, editor or admin)", role)
	}
	if c.Int("rate-limit") < 0 {
		return fmt.Errorf("rate-limit must not be negative")
	}

	key, secret, err := domain.NewAPIKey(c.String("name"), domain.Role(role))
	if err != nil {
		return err
	}
	entry := apiKeyEntry{
		KeyID:      key.KeyID,
		Name:       key.Name,
		SecretHash: key.SecretHash,
		Role:       string(key.Role),
		RateLimit:  c.Int("rate-limit"),
		Allowlist:  c.StringSlice("allow"),
	}

	w := c.App.Writer
	fmt.Fprintf(w, "# Key ID: %s\n# Secret: %s\n", key.KeyID, secret)
	fmt.Fprintf(w, "# Add this entry under security.api_keys in the server config:\n")
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode([]apiKeyEntry{entry}); err != nil {
		return err
	}
	return enc.Close()
}
