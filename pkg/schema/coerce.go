package schema

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Coerce converts a raw value (a CLI/env string or a decoded file value) to the canonical Go
// representation for p.Type. Class values are normalized to descriptor maps but not validated
// against the registry; that happens once the class path is known.
func Coerce(p Param, raw any) (any, error) {
	if IsNull(raw) {
		if p.Nullable {
			return nil, nil
		}
		return nil, fmt.Errorf("expects %s, got null", p.Type)
	}

	switch p.Type {
	case TypeString:
		return coerceString(raw)
	case TypeInt:
		return coerceInt(raw)
	case TypeFloat:
		return coerceFloat(raw)
	case TypeBool:
		return coerceBool(raw)
	case TypeStringList:
		return coerceStringList(raw)
	case TypeMap:
		v, err := inline(raw)
		if err != nil {
			return nil, err
		}
		m, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("expects mapping, got %T", v)
		}
		return m, nil
	case TypeAny:
		return inline(raw)
	case TypeClass:
		return coerceClass(raw)
	case TypeClassList:
		v, err := inline(raw)
		if err != nil {
			return nil, err
		}
		items, ok := v.([]any)
		if !ok {
			items = []any{v}
		}
		out := make([]any, 0, len(items))
		for i, item := range items {
			d, err := coerceClass(item)
			if err != nil {
				return nil, fmt.Errorf("item %d: %w", i, err)
			}
			out = append(out, d)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported parameter type %q", p.Type)
	}
}

// IsNull reports whether raw is nil or a null literal (null, None, ~).
func IsNull(raw any) bool {
	if raw == nil {
		return true
	}
	if s, ok := raw.(string); ok {
		switch strings.TrimSpace(s) {
		case "null", "None", "~":
			return true
		}
	}
	return false
}

func coerceString(raw any) (any, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case fmt.Stringer:
		return v.String(), nil
	case int, int64, float64, float32, bool:
		return fmt.Sprint(v), nil
	default:
		return nil, fmt.Errorf("expects string, got %T", raw)
	}
}

func coerceInt(raw any) (any, error) {
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case int32:
		return int(v), nil
	case uint64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) {
			return nil, fmt.Errorf("expects int, got %v", v)
		}
		return int(v), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("expects int, got %q", v)
		}
		return n, nil
	default:
		return nil, fmt.Errorf("expects int, got %T", raw)
	}
}

func coerceFloat(raw any) (any, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, fmt.Errorf("expects float, got %q", v)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("expects float, got %T", raw)
	}
}

func coerceBool(raw any) (any, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("expects boolean, got %q", v)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("expects boolean, got %T", raw)
	}
}

func coerceStringList(raw any) (any, error) {
	switch v := raw.(type) {
	case []string:
		return append([]string(nil), v...), nil
	case []any:
		out := make([]string, len(v))
		for i, item := range v {
			s, err := coerceString(item)
			if err != nil {
				return nil, fmt.Errorf("item %d: %w", i, err)
			}
			out[i] = s.(string)
		}
		return out, nil
	case string:
		trimmed := strings.TrimSpace(v)
		if strings.HasPrefix(trimmed, "[") {
			parsed, err := inline(trimmed)
			if err != nil {
				return nil, err
			}
			return coerceStringList(parsed)
		}
		if trimmed == "" {
			return []string{}, nil
		}
		parts := strings.Split(trimmed, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts, nil
	default:
		return nil, fmt.Errorf("expects string list, got %T", raw)
	}
}

func coerceClass(raw any) (any, error) {
	v, err := inline(raw)
	if err != nil {
		return nil, err
	}
	d, err := DescriptorFrom(v)
	if err != nil {
		return nil, err
	}
	return d.Map(), nil
}

// inline parses string values as inline YAML (which also covers JSON) and normalizes decoded trees.
func inline(raw any) (any, error) {
	s, ok := raw.(string)
	if !ok {
		return Normalize(raw), nil
	}
	var out any
	if err := yaml.Unmarshal([]byte(s), &out); err != nil {
		return nil, fmt.Errorf("invalid inline value %q: %w", s, err)
	}
	if out == nil && strings.TrimSpace(s) != "" {
		return s, nil
	}
	return Normalize(out), nil
}

// Normalize converts decoded trees to map[string]any / []any with canonical scalar types.
func Normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = Normalize(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = Normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = Normalize(val)
		}
		return out
	case int64:
		return int(t)
	case uint64:
		return int(t)
	case float32:
		return float64(t)
	default:
		return v
	}
}
