package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ConfigSource identifies where a configuration was discovered.
type ConfigSource string

const (
	ConfigSourceExplicit ConfigSource = "explicit"
	ConfigSourceEnv      ConfigSource = "env"
	ConfigSourceDefault  ConfigSource = "default-file"
)

// LocationResult describes a discovered configuration: a file path, or inline content from the environment.
type LocationResult struct {
	Path   string
	Inline string
	Source ConfigSource
}

// Name returns a label for logs and summaries.
func (l LocationResult) Name() string {
	if l.Path != "" {
		return l.Path
	}
	return string(l.Source)
}

// LookupFunc resolves an environment variable.
type LookupFunc func(string) (string, bool)

// ErrConfigNotFound is returned when a named configuration file does not exist.
var ErrConfigNotFound = errors.New("configuration file not found")

// LocateConfig resolves an explicit --config path. A missing file is an error.
func LocateConfig(explicitPath string) (LocationResult, error) {
	path := strings.TrimSpace(explicitPath)
	if path == "" {
		return LocationResult{}, fmt.Errorf("%w: empty path", ErrConfigNotFound)
	}
	abs, err := toAbsolute(filepath.Clean(path))
	if err != nil {
		return LocationResult{}, err
	}
	if !exists(abs) {
		return LocationResult{}, fmt.Errorf("%w: %s", ErrConfigNotFound, abs)
	}
	return LocationResult{Path: abs, Source: ConfigSourceExplicit}, nil
}

// LocateEnvConfig reads the env config variable (for example PL_CONFIG). Its value is a path when
// a file exists there, otherwise inline YAML or JSON content.
func LocateEnvConfig(name string, lookup LookupFunc) (LocationResult, bool, error) {
	if name == "" || lookup == nil {
		return LocationResult{}, false, nil
	}
	value, ok := lookup(name)
	if !ok || strings.TrimSpace(value) == "" {
		return LocationResult{}, false, nil
	}
	trimmed := strings.TrimSpace(value)
	if !strings.ContainsAny(trimmed, "{:\n") {
		abs, err := toAbsolute(trimmed)
		if err != nil {
			return LocationResult{}, false, err
		}
		if !exists(abs) {
			return LocationResult{}, false, fmt.Errorf("%w: %s=%s", ErrConfigNotFound, name, abs)
		}
		return LocationResult{Path: abs, Source: ConfigSourceEnv}, true, nil
	}
	if abs, err := toAbsolute(trimmed); err == nil && exists(abs) {
		return LocationResult{Path: abs, Source: ConfigSourceEnv}, true, nil
	}
	return LocationResult{Inline: value, Source: ConfigSourceEnv}, true, nil
}

// LocateDefaultConfig returns the first existing candidate. Candidates may start with "~".
func LocateDefaultConfig(candidates []string) (LocationResult, bool) {
	for _, candidate := range candidates {
		if strings.TrimSpace(candidate) == "" {
			continue
		}
		abs, err := toAbsolute(candidate)
		if err != nil {
			continue
		}
		if exists(abs) {
			return LocationResult{Path: abs, Source: ConfigSourceDefault}, true
		}
	}
	return LocationResult{}, false
}

func toAbsolute(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("absolute path: %w", err)
	}
	return abs, nil
}

func exists(path string) bool {
	stat, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !stat.IsDir()
}
