package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Keys of a class path descriptor once flattened.
const (
	classPathSuffix = ".class_path"
	initArgsSuffix  = ".init_args"
)

// ErrLayerOrder indicates layers were supplied out of precedence order.
var ErrLayerOrder = errors.New("configuration layers out of precedence order")

// ResolveInvocation merges layers in the given order, lowest precedence first, into a single flag set.
// When a layer switches the class path of a polymorphic key, init args contributed by lower layers for
// that key are discarded.
func ResolveInvocation(commandPath string, layers ...Layer) (*ResolvedInvocation, error) {
	resolved := &ResolvedInvocation{
		CommandPath: commandPath,
		Flags:       FlagSet{},
	}

	last := -1
	for _, layer := range layers {
		r := layer.Source.rank()
		if r < last {
			return nil, fmt.Errorf("%w: %s after higher precedence layer", ErrLayerOrder, layer.Name)
		}
		last = r
		if layer.Path != "" {
			resolved.SourcePaths = append(resolved.SourcePaths, layer.Path)
		}
		apply(resolved, layer)
	}
	return resolved, nil
}

func apply(resolved *ResolvedInvocation, layer Layer) {
	if len(layer.Flags) == 0 {
		return
	}
	names := make([]string, 0, len(layer.Flags))
	for name := range layer.Flags {
		names = append(names, name)
	}
	// class_path keys first so a switch discards stale init args before new ones land.
	sort.SliceStable(names, func(i, j int) bool {
		ci, cj := strings.HasSuffix(names[i], classPathSuffix), strings.HasSuffix(names[j], classPathSuffix)
		if ci != cj {
			return ci
		}
		return names[i] < names[j]
	})

	for _, name := range names {
		current := layer.Flags[name]
		if current.Source == "" {
			current.Source = layer.Source
		}
		previous, had := resolved.Flags[name]
		if had {
			resolved.Overrides = append(resolved.Overrides, fmt.Sprintf("%s overrides %s (was %s)", layer.Name, name, previous.Source))
		}
		if had && strings.HasSuffix(name, classPathSuffix) && fmt.Sprint(previous.Value) != fmt.Sprint(current.Value) {
			prefix := strings.TrimSuffix(name, classPathSuffix) + initArgsSuffix
			for key := range resolved.Flags {
				if key == prefix || strings.HasPrefix(key, prefix+".") {
					delete(resolved.Flags, key)
					resolved.Warnings = append(resolved.Warnings, fmt.Sprintf("%s dropped after class change to %v", key, current.Value))
				}
			}
		}
		resolved.Flags[name] = current
	}
}

// Set records a value that bypasses layering, such as a link result.
func (r *ResolvedInvocation) Set(key string, value any, source ValueSource) {
	if r.Flags == nil {
		r.Flags = FlagSet{}
	}
	for existing := range r.Flags {
		if strings.HasPrefix(existing, key+".") {
			delete(r.Flags, existing)
		}
	}
	r.Flags[key] = FlagValue{Value: value, Source: source}
}
