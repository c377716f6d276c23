// Package persist writes resolved configuration trees to durable files.
package persist

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bytedance/sonic"
	"gopkg.in/yaml.v3"
)

// Format names a serialization of a configuration tree.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatFromPath picks JSON for .json files and YAML for everything else.
func FormatFromPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatYAML
}

// Encode renders tree with sorted keys so equal trees produce equal bytes.
func Encode(tree map[string]any, format Format) ([]byte, error) {
	if tree == nil {
		tree = map[string]any{}
	}
	switch format {
	case FormatYAML, "":
		out, err := yaml.Marshal(tree)
		if err != nil {
			return nil, fmt.Errorf("encode yaml: %w", err)
		}
		return out, nil
	case FormatJSON:
		out, err := sonic.ConfigStd.MarshalIndent(tree, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode json: %w", err)
		}
		return append(out, '\n'), nil
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
}
