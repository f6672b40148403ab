package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// Environment variables read by Merge.
const (
	EnvServer   = "RETOUCH_SERVER"
	EnvSocket   = "RETOUCH_SOCKET"
	EnvOutput   = "RETOUCH_OUTPUT"
	EnvAPIKeyID = "RETOUCH_API_KEY_ID"
	EnvAPIKey   = "RETOUCH_API_KEY"
)

// DefaultConfigPath returns the default CLI config file path.
func DefaultConfigPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, ".retouch", "cli.yaml")
}

// Load reads the file at path, or DefaultConfigPath when path is empty. A
// missing file yields the defaults.
func Load(path string) (*CLIConfig, error) {
	if path == "" {
		path = DefaultConfigPath()
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cli config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse cli config %s: %w", path, err)
	}
	if cfg.Connections == nil {
		cfg.Connections = make(map[string]ConnectionConfig)
	}
	return cfg, nil
}

// Save writes cfg to path with owner-only permissions, since profiles hold
// API key secrets.
func Save(cfg *CLIConfig, path string) error {
	if path == "" {
		path = DefaultConfigPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Merge applies the RETOUCH_* environment variables in env to cfg.
func Merge(cfg *CLIConfig, env map[string]string) *CLIConfig {
	if v := env[EnvServer]; v != "" {
		cfg.DefaultServer = v
	}
	if v := env[EnvSocket]; v != "" {
		cfg.Socket = v
	}
	if v := env[EnvOutput]; v != "" {
		cfg.DefaultOutput = v
	}
	return cfg
}

// Resolve returns the named profile, the current profile when name is
// empty, or a profile for DefaultServer when there is neither.
func (c *CLIConfig) Resolve(name string) (ConnectionConfig, error) {
	if name == "" {
		name = c.CurrentConnection
	}
	if name == "" {
		return ConnectionConfig{Server: c.DefaultServer}, nil
	}
	conn, ok := c.Connections[name]
	if !ok {
		return ConnectionConfig{}, fmt.Errorf("unknown connection %q", name)
	}
	if conn.Server == "" {
		conn.Server = c.DefaultServer
	}
	return conn, nil
}

// Names returns the saved profile names in order.
func (c *CLIConfig) Names() []string {
	names := make([]string, 0, len(c.Connections))
	for n := range c.Connections {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Validate checks the configuration.
func (c *CLIConfig) Validate() error {
	var errs []error
	switch c.DefaultOutput {
	case "", "table", "json", "yaml":
	default:
		errs = append(errs, fmt.Errorf("default_output: unknown format %q", c.DefaultOutput))
	}
	if c.CurrentConnection != "" {
		if _, ok := c.Connections[c.CurrentConnection]; !ok {
			errs = append(errs, fmt.Errorf("current_connection: unknown connection %q", c.CurrentConnection))
		}
	}
	for _, name := range c.Names() {
		conn := c.Connections[name]
		if (conn.APIKeyID == "") != (conn.APIKey == "") {
			errs = append(errs, fmt.Errorf("connections.%s: api_key_id and api_key must be set together", name))
		}
		if conn.CAFile != "" {
			if _, err := os.Stat(conn.CAFile); err != nil {
				errs = append(errs, fmt.Errorf("connections.%s.ca_file: %w", name, err))
			}
		}
	}
	return errors.Join(errs...)
}
