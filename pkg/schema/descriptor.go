package schema

import (
	"fmt"
	"strings"
)

// Keys of a serialized class path descriptor.
const (
	ClassPathKey = "class_path"
	InitArgsKey  = "init_args"
)

// Descriptor identifies a class to construct and its keyword init args.
type Descriptor struct {
	ClassPath string         `yaml:"class_path" json:"class_path"`
	InitArgs  map[string]any `yaml:"init_args" json:"init_args"`
}

// Map renders the descriptor in its serialized tree form.
func (d Descriptor) Map() map[string]any {
	init := d.InitArgs
	if init == nil {
		init = map[string]any{}
	}
	return map[string]any{ClassPathKey: d.ClassPath, InitArgsKey: init}
}

// WithClassPath wraps init args into a descriptor naming classPath.
func WithClassPath(classPath string, initArgs map[string]any) Descriptor {
	return Descriptor{ClassPath: classPath, InitArgs: initArgs}
}

// DescriptorFrom reads a descriptor from a tree value: either a mapping with class_path/init_args
// or a bare class path string.
func DescriptorFrom(value any) (Descriptor, error) {
	switch v := value.(type) {
	case Descriptor:
		return v, nil
	case *Descriptor:
		if v == nil {
			return Descriptor{}, fmt.Errorf("nil descriptor")
		}
		return *v, nil
	case string:
		path := strings.TrimSpace(v)
		if path == "" {
			return Descriptor{}, fmt.Errorf("empty class path")
		}
		return Descriptor{ClassPath: path, InitArgs: map[string]any{}}, nil
	case map[string]any:
		raw, ok := v[ClassPathKey]
		if !ok {
			return Descriptor{}, fmt.Errorf("missing %q", ClassPathKey)
		}
		path, ok := raw.(string)
		if !ok || strings.TrimSpace(path) == "" {
			return Descriptor{}, fmt.Errorf("%q must be a non-empty string", ClassPathKey)
		}
		for key := range v {
			if key != ClassPathKey && key != InitArgsKey {
				return Descriptor{}, fmt.Errorf("unexpected key %q in class descriptor", key)
			}
		}
		init := map[string]any{}
		if rawInit, ok := v[InitArgsKey]; ok && rawInit != nil {
			m, ok := rawInit.(map[string]any)
			if !ok {
				return Descriptor{}, fmt.Errorf("%q must be a mapping", InitArgsKey)
			}
			init = m
		}
		return Descriptor{ClassPath: strings.TrimSpace(path), InitArgs: init}, nil
	case nil:
		return Descriptor{}, fmt.Errorf("no class descriptor")
	default:
		return Descriptor{}, fmt.Errorf("expected class descriptor, got %T", value)
	}
}
