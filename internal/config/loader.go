package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/dobrovols/trainctl/pkg/clierr"
	"github.com/dobrovols/trainctl/pkg/schema"
)

// Loader parses configuration files into flattened raw values keyed by catalog keys.
type Loader struct {
	catalog FlagCatalog
}

// NewLoader constructs a Loader with the provided flag catalog.
func NewLoader(catalog FlagCatalog) *Loader {
	return &Loader{catalog: catalog}
}

// Load reads the located configuration and flattens it for command. Unknown keys fail the load.
func (l *Loader) Load(command string, location LocationResult) (map[string]any, error) {
	tree, err := DecodeLocation(location)
	if err != nil {
		return nil, clierr.Parse(location.Name(), "%v", err)
	}
	return l.Flatten(command, tree)
}

// Flatten maps a nested tree onto the catalog of command. Groups are descended; keys the catalog
// knows are emitted whole; anything else is rejected.
func (l *Loader) Flatten(command string, tree map[string]any) (map[string]any, error) {
	if !l.catalog.IsCommandSupported(command) {
		return nil, clierr.Parse(command, "unknown command")
	}
	out := map[string]any{}
	if err := l.flatten(command, "", tree, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (l *Loader) flatten(command, prefix string, tree map[string]any, out map[string]any) error {
	for name, value := range tree {
		key := name
		if prefix != "" {
			key = prefix + "." + name
		}
		if kind, ok := l.catalog.Kind(command, key); ok {
			if kind == FlagKindControl {
				return clierr.Parse(key, "not allowed in a configuration file")
			}
			out[key] = value
			continue
		}
		if !l.catalog.HasChildren(command, key) {
			return clierr.Parse(key, "unknown key for %q", command)
		}
		switch v := value.(type) {
		case nil:
			continue
		case map[string]any:
			if err := l.flatten(command, key, v, out); err != nil {
				return err
			}
		default:
			return clierr.Parse(key, "expected a mapping, got %T", value)
		}
	}
	return nil
}

// Supported file formats.
const (
	FormatYAML = "yaml"
	FormatTOML = "toml"
)

// DecodeLocation decodes a located file, or the inline document of an env config, without flattening it.
func DecodeLocation(location LocationResult) (map[string]any, error) {
	if location.Path != "" {
		return DecodeFile(location.Path)
	}
	return Decode([]byte(location.Inline), FormatYAML)
}

// DecodeFile reads path and decodes it by extension; .toml uses TOML, everything else YAML (which covers JSON).
func DecodeFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %q: %w", path, err)
	}
	format := FormatYAML
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		format = FormatTOML
	}
	tree, err := Decode(data, format)
	if err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}
	return tree, nil
}

// Decode decodes a configuration document whose top level must be a mapping.
func Decode(data []byte, format string) (map[string]any, error) {
	var raw any
	switch format {
	case FormatTOML:
		var m map[string]any
		if err := toml.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		raw = m
	default:
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		if err := decoder.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
	}
	if raw == nil {
		return map[string]any{}, nil
	}
	tree, ok := schema.Normalize(raw).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("top level must be a mapping, got %T", raw)
	}
	return tree, nil
}
