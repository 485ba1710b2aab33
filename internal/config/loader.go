package config

import (
	"encoding"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "CURIO_"

	maxConfigFileSize = 1024 * 1024
)

// ErrConfigNotFound is returned when an explicitly named file does not
// exist.
var ErrConfigNotFound = errors.New("config file not found")

// Loader reads configuration files and environment overrides.
type Loader struct {
	allowedDirs []string
	envPrefix   string
	home        string
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithAllowedDirs replaces the directories config files may live in.
func WithAllowedDirs(dirs ...string) LoaderOption {
	return func(l *Loader) {
		l.allowedDirs = dirs
	}
}

// WithEnvPrefix replaces the CURIO_ prefix.
func WithEnvPrefix(prefix string) LoaderOption {
	return func(l *Loader) {
		l.envPrefix = prefix
	}
}

// NewLoader returns a loader restricted to ~/.config/curio and /etc/curio.
func NewLoader(opts ...LoaderOption) *Loader {
	home, _ := os.UserHomeDir()
	l := &Loader{envPrefix: EnvPrefix, home: home}
	if home != "" {
		l.allowedDirs = append(l.allowedDirs, filepath.Join(home, ".config", "curio"))
	}
	l.allowedDirs = append(l.allowedDirs, "/etc/curio")
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load is NewLoader().Load(path).
func Load(path string) (*Config, error) {
	return NewLoader().Load(path)
}

// DefaultPath returns ~/.config/curio/config.yaml.
func (l *Loader) DefaultPath() string {
	return filepath.Join(l.home, ".config", "curio", "config.yaml")
}

// Load layers defaults, the YAML file at path and the environment, then
// validates the result.
//
// An empty path means DefaultPath, which may be absent. A named file must
// exist, live in an allowed directory, be at most 1MB and be readable only
// by its owner (0600 or 0400).
//
// Environment variables are CURIO_ plus the upper-cased key path with dots
// replaced by underscores, for example CURIO_BUFFER_MIN_QUALITY or
// CURIO_ATTRIBUTION_ENGINE_SHAPLEY_ITERATIONS. List values are
// comma-separated.
func (l *Loader) Load(path string) (*Config, error) {
	k := koanf.New(".")

	explicit := path != ""
	if !explicit {
		path = l.DefaultPath()
	}
	content, err := l.readFile(path, explicit)
	if err != nil {
		return nil, err
	}
	if content != nil {
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	keys := envKeys(reflect.TypeOf(Config{}))
	if err := k.Load(env.ProviderWithValue(l.envPrefix, ".", func(name, value string) (string, interface{}) {
		key, ok := keys[strings.ToLower(strings.TrimPrefix(name, l.envPrefix))]
		if !ok {
			return "", nil
		}
		if key.list {
			return key.path, splitList(value)
		}
		return key.path, value
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// readFile returns nil content when an implicit path does not exist.
func (l *Loader) readFile(path string, explicit bool) ([]byte, error) {
	if err := l.validatePath(path); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		if explicit {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	// Checks run on the open descriptor so the file cannot be swapped
	// between check and read.
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := checkFileInfo(info); err != nil {
		return nil, fmt.Errorf("config file validation failed: %w", err)
	}

	content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if len(content) > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large (max %d bytes)", maxConfigFileSize)
	}
	return content, nil
}

// validatePath rejects files outside the allowed directories, resolving
// symlinks first so a link cannot escape them.
func (l *Loader) validatePath(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}

	for _, dir := range l.allowedDirs {
		base, err := filepath.Abs(dir)
		if err != nil {
			continue
		}
		if resolved, err := filepath.EvalSymlinks(base); err == nil {
			base = resolved
		}
		rel, err := filepath.Rel(base, abs)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return nil
		}
	}
	return fmt.Errorf("config file %s must be inside one of %v", path, l.allowedDirs)
}

func checkFileInfo(info os.FileInfo) error {
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", info.Name())
	}
	if runtime.GOOS != "windows" {
		if perm := info.Mode().Perm(); perm != 0o600 && perm != 0o400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}

// EnsureConfigDir creates ~/.config/curio with 0700 permissions.
func EnsureConfigDir() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	dir := filepath.Join(home, ".config", "curio")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}
	return nil
}

type envKey struct {
	path string
	list bool
}

var textUnmarshaler = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()

// envKeys maps the underscore form of every leaf koanf key under t to its
// dotted path.
func envKeys(t reflect.Type) map[string]envKey {
	keys := make(map[string]envKey)
	var walk func(t reflect.Type, prefix string)
	walk = func(t reflect.Type, prefix string) {
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			name := f.Tag.Get("koanf")
			if name == "" || name == "-" || !f.IsExported() {
				continue
			}
			path := name
			if prefix != "" {
				path = prefix + "." + name
			}
			ft := f.Type
			if ft.Kind() == reflect.Struct && !reflect.PointerTo(ft).Implements(textUnmarshaler) {
				walk(ft, path)
				continue
			}
			if ft.Kind() == reflect.Map || (ft.Kind() == reflect.Slice && ft.Elem().Kind() == reflect.Struct) {
				continue
			}
			keys[strings.ReplaceAll(path, ".", "_")] = envKey{path: path, list: ft.Kind() == reflect.Slice}
		}
	}
	walk(t, "")
	return keys
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
