// Package instantiate turns class path descriptors from a resolved configuration into live objects.
package instantiate

import (
	"context"
	"fmt"

	"github.com/go-viper/mapstructure/v2"

	"github.com/dobrovols/trainctl/pkg/clierr"
	"github.com/dobrovols/trainctl/pkg/schema"
)

// Tuple coerces positional context into an argument tuple. nil is the empty tuple and a single
// value becomes a one-element tuple.
func Tuple(args any) schema.Args {
	switch v := args.(type) {
	case nil:
		return nil
	case schema.Args:
		return v
	default:
		return schema.Args{v}
	}
}

// Class resolves d.ClassPath and constructs it with args as positional arguments and d.InitArgs as
// keyword arguments. Nested class values in the init args are constructed first.
func Class(ctx context.Context, reg *schema.Registry, args any, d schema.Descriptor) (any, error) {
	comp, err := reg.Lookup(d.ClassPath)
	if err != nil {
		return nil, err
	}
	init, err := Init(ctx, reg, comp, d.InitArgs)
	if err != nil {
		return nil, err
	}
	return Construct(ctx, comp, args, init)
}

// Construct calls the factory of comp.
func Construct(ctx context.Context, comp *schema.Component, args any, init map[string]any) (any, error) {
	tuple := Tuple(args)
	if len(tuple) > len(comp.Positional) {
		return nil, clierr.Configuration(comp.ClassPath, "takes %d positional arguments, got %d", len(comp.Positional), len(tuple))
	}
	if init == nil {
		init = map[string]any{}
	}
	obj, err := comp.New(ctx, tuple, init)
	if err != nil {
		return nil, fmt.Errorf("instantiate %s: %w", comp.ClassPath, err)
	}
	return obj, nil
}

// Group instantiates the value of an argument group. A fixed-class group holds the init args of
// classPath; a polymorphic group (classPath "") holds a descriptor. A nil value yields nil.
func Group(ctx context.Context, reg *schema.Registry, classPath string, value any) (any, error) {
	if value == nil && classPath == "" {
		return nil, nil
	}
	if classPath != "" {
		init, _ := value.(map[string]any)
		return Class(ctx, reg, nil, schema.WithClassPath(classPath, init))
	}
	d, err := schema.DescriptorFrom(value)
	if err != nil {
		return nil, clierr.Configuration("", "%v", err)
	}
	return Class(ctx, reg, nil, d)
}

// Init resolves the keyword arguments of comp. Class-typed values are constructed, except classes
// taking positional arguments, which stay descriptors for their owner to build later.
func Init(ctx context.Context, reg *schema.Registry, comp *schema.Component, init map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(init))
	for name, raw := range init {
		param, ok := comp.Param(name)
		if !ok {
			return nil, clierr.Configuration(schema.Join(comp.ClassPath, name), "unknown init argument")
		}
		v, err := value(ctx, reg, param, raw)
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, nil
}

func value(ctx context.Context, reg *schema.Registry, param schema.Param, raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	switch param.Type {
	case schema.TypeClass:
		if param.Class != "" {
			if m, ok := raw.(map[string]any); ok {
				return build(ctx, reg, schema.WithClassPath(param.Class, m))
			}
		}
		d, err := schema.DescriptorFrom(raw)
		if err != nil {
			return nil, clierr.Configuration(param.Name, "%v", err)
		}
		return build(ctx, reg, d)
	case schema.TypeClassList:
		items, ok := raw.([]any)
		if !ok {
			return raw, nil
		}
		out := make([]any, len(items))
		for i, item := range items {
			d, err := schema.DescriptorFrom(item)
			if err != nil {
				return nil, clierr.Configuration(fmt.Sprintf("%s[%d]", param.Name, i), "%v", err)
			}
			obj, err := build(ctx, reg, d)
			if err != nil {
				return nil, err
			}
			out[i] = obj
		}
		return out, nil
	default:
		return raw, nil
	}
}

func build(ctx context.Context, reg *schema.Registry, d schema.Descriptor) (any, error) {
	comp, err := reg.Lookup(d.ClassPath)
	if err != nil {
		return nil, err
	}
	if len(comp.Positional) > 0 {
		return schema.WithClassPath(comp.ClassPath, d.InitArgs), nil
	}
	return Class(ctx, reg, nil, d)
}

// DecodeInit decodes keyword arguments into an options struct through its mapstructure tags.
// Keys without a matching field fail the decode.
func DecodeInit(init map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      out,
		ErrorUnused: true,
		TagName:     "mapstructure",
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(init); err != nil {
		return fmt.Errorf("decode init args: %w", err)
	}
	return nil
}
