package config

// Defaults for a missing configuration file.
const (
	DefaultServer = "http://127.0.0.1:5080"
	DefaultOutput = "table"
	DefaultSocket = "/var/run/retouch-server/retouch-server.sock"
)

// CLIConfig is the configuration for retouch-cli.
type CLIConfig struct {
	DefaultServer string `yaml:"default_server"`
	DefaultOutput string `yaml:"default_output"`
	Socket        string `yaml:"socket"`

	Connections       map[string]ConnectionConfig `yaml:"connections"`
	CurrentConnection string                      `yaml:"current_connection"`
}

// ConnectionConfig is one saved server profile.
type ConnectionConfig struct {
	Server   string `yaml:"server"`
	APIKeyID string `yaml:"api_key_id,omitempty"`
	APIKey   string `yaml:"api_key,omitempty"`
	CAFile   string `yaml:"ca_file,omitempty"`
}

// Default returns the default CLI configuration.
func Default() *CLIConfig {
	return &CLIConfig{
		DefaultServer: DefaultServer,
		DefaultOutput: DefaultOutput,
		Socket:        DefaultSocket,
		Connections:   make(map[string]ConnectionConfig),
	}
}
