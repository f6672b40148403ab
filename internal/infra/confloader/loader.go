package confloader

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/maps"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultEnvPrefix is the default environment variable prefix.
const DefaultEnvPrefix = "RETOUCH_"

// envSectionSep separates nesting levels in environment variable names.
const envSectionSep = "__"

// fileRefSuffix marks a key whose value is read from a file.
const fileRefSuffix = "_file"

// Loader layers configuration sources into a koanf instance.
type Loader struct {
	k         *koanf.Koanf
	envPrefix string
	filePath  string
	fileRefs  []string
	overrides map[string]any
}

// Option configures a Loader.
type Option func(*Loader)

// WithEnvPrefix sets the environment variable prefix.
func WithEnvPrefix(prefix string) Option {
	return func(l *Loader) { l.envPrefix = prefix }
}

// WithConfigFile sets the YAML file to load.
func WithConfigFile(path string) Option {
	return func(l *Loader) { l.filePath = path }
}

// WithFileRefs lets each key be given as key_file instead, naming a file
// whose trimmed contents become the value. Secrets use this to stay out
// of the config file and the environment.
func WithFileRefs(keys ...string) Option {
	return func(l *Loader) { l.fileRefs = append(l.fileRefs, keys...) }
}

// NewLoader creates a loader.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		k:         koanf.New("."),
		envPrefix: DefaultEnvPrefix,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// FilePath returns the configured file path, if any.
func (l *Loader) FilePath() string {
	return l.filePath
}

// Load reads the file and the environment, applies overrides, resolves
// file references and unmarshals into target. Fields of target that no
// source sets keep their value.
func (l *Loader) Load(target any) error {
	if l.filePath != "" {
		if err := l.LoadFile(l.filePath); err != nil {
			return fmt.Errorf("load config file: %w", err)
		}
	}
	if err := l.LoadEnv(); err != nil {
		return err
	}
	if len(l.overrides) > 0 {
		if err := l.k.Load(mapProvider(l.overrides), nil); err != nil {
			return fmt.Errorf("load overrides: %w", err)
		}
	}
	if err := l.resolveFileRefs(); err != nil {
		return err
	}
	if err := l.k.Unmarshal("", target); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	return nil
}

// Reload discards everything loaded so far and runs Load again. Overrides
// set with LoadMap survive a reload.
func (l *Loader) Reload(target any) error {
	l.k = koanf.New(".")
	return l.Load(target)
}

// LoadFile loads a YAML file.
func (l *Loader) LoadFile(path string) error {
	if path == "" {
		return nil
	}
	if err := l.k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return fmt.Errorf("load file %s: %w", path, err)
	}
	return nil
}

// LoadEnv loads prefixed environment variables.
// RETOUCH_SERVER__HTTP__ADDR becomes server.http.addr.
func (l *Loader) LoadEnv() error {
	transform := func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, l.envPrefix))
		return strings.ReplaceAll(s, envSectionSep, ".")
	}
	if err := l.k.Load(env.Provider(l.envPrefix, ".", transform), nil); err != nil {
		return fmt.Errorf("load env: %w", err)
	}
	return nil
}

// LoadMap loads dotted keys now and keeps them as overrides for later
// loads.
func (l *Loader) LoadMap(data map[string]any) error {
	if l.overrides == nil {
		l.overrides = make(map[string]any, len(data))
	}
	for k, v := range data {
		l.overrides[k] = v
	}
	if err := l.k.Load(mapProvider(data), nil); err != nil {
		return fmt.Errorf("load map: %w", err)
	}
	return nil
}

// String returns the loaded value of key.
func (l *Loader) String(key string) string {
	return l.k.String(key)
}

// Keys returns the loaded keys.
func (l *Loader) Keys() []string {
	return l.k.Keys()
}

func (l *Loader) resolveFileRefs() error {
	for _, key := range l.fileRefs {
		ref := key + fileRefSuffix
		path := l.k.String(ref)
		if path == "" {
			continue
		}
		if l.k.String(key) != "" {
			return fmt.Errorf("set either %s or %s, not both", key, ref)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", ref, err)
		}
		if err := l.k.Set(key, strings.TrimSpace(string(data))); err != nil {
			return fmt.Errorf("set %s: %w", key, err)
		}
	}
	return nil
}

// mapProvider feeds dotted keys to koanf.
type mapProvider map[string]any

func (m mapProvider) ReadBytes() ([]byte, error) {
	return nil, fmt.Errorf("confloader: map provider has no byte form")
}

func (m mapProvider) Read() (map[string]any, error) {
	flat := make(map[string]any, len(m))
	for k, v := range m {
		flat[k] = v
	}
	return maps.Unflatten(flat, "."), nil
}
