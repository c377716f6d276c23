package config

import (
	"fmt"
	"sort"
	"strings"
)

// Tree is a nested configuration mapping keyed by group and parameter names.
type Tree = map[string]any

// Get returns the value at a dotted key.
func Get(tree Tree, key string) (any, bool) {
	if key == "" {
		return tree, true
	}
	var current any = tree
	for _, part := range strings.Split(key, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// Set writes value at a dotted key, creating intermediate mappings and replacing scalars in the way.
func Set(tree Tree, key string, value any) {
	parts := strings.Split(key, ".")
	current := tree
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			current[part] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
}

// Delete removes the value at a dotted key.
func Delete(tree Tree, key string) {
	parts := strings.Split(key, ".")
	current := tree
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]any)
		if !ok {
			return
		}
		current = next
	}
	delete(current, parts[len(parts)-1])
}

// DeepCopy copies mappings and lists recursively; scalars are shared.
func DeepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = DeepCopy(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = DeepCopy(val)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

// CopyTree deep-copies a tree.
func CopyTree(tree Tree) Tree {
	if tree == nil {
		return Tree{}
	}
	return DeepCopy(tree).(map[string]any)
}

// Flatten walks tree and emits dotted keys. descend reports whether the mapping at a key holds
// further keys; mappings it rejects are emitted whole.
func Flatten(tree Tree, prefix string, descend func(key string) bool) map[string]any {
	out := map[string]any{}
	flattenInto(out, tree, prefix, descend)
	return out
}

func flattenInto(out map[string]any, tree Tree, prefix string, descend func(string) bool) {
	for k, v := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if m, ok := v.(map[string]any); ok && descend(key) {
			flattenInto(out, m, key, descend)
			continue
		}
		out[key] = v
	}
}

// Unflatten builds a nested tree from dotted keys. Keys are applied shortest first so that a
// mapping at a parent key is merged with, not replaced by, its dotted children.
func Unflatten(flags FlagSet) Tree {
	keys := make([]string, 0, len(flags))
	for k := range flags {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		di, dj := strings.Count(keys[i], "."), strings.Count(keys[j], ".")
		if di != dj {
			return di < dj
		}
		return keys[i] < keys[j]
	})
	tree := Tree{}
	for _, k := range keys {
		Set(tree, k, DeepCopy(flags[k].Value))
	}
	return tree
}

// SortedKeys returns the keys of a flag set in lexical order.
func SortedKeys(flags FlagSet) []string {
	keys := make([]string, 0, len(flags))
	for k := range flags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Equal compares two trees structurally, treating numeric values by their rendered form.
func Equal(a, b any) bool {
	switch at := a.(type) {
	case map[string]any:
		bt, ok := b.(map[string]any)
		if !ok || len(at) != len(bt) {
			return false
		}
		for k, v := range at {
			if !Equal(v, bt[k]) {
				return false
			}
		}
		return true
	case []any:
		bt, ok := b.([]any)
		if !ok || len(at) != len(bt) {
			return false
		}
		for i := range at {
			if !Equal(at[i], bt[i]) {
				return false
			}
		}
		return true
	default:
		return fmt.Sprint(a) == fmt.Sprint(b)
	}
}
