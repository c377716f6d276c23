package parser

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"

	internalconfig "github.com/dobrovols/trainctl/internal/config"
	"github.com/dobrovols/trainctl/pkg/schema"
)

// rawValue is implemented by every flag value owned by the parser.
type rawValue interface {
	pflag.Value
	Raw() any
}

// entryValue is a typed leaf flag. Set type-checks eagerly so malformed input fails during flag parsing.
type entryValue struct {
	param schema.Param
	value any
}

func (v *entryValue) Set(s string) error {
	coerced, err := schema.Coerce(v.param, s)
	if err != nil {
		return err
	}
	v.value = coerced
	return nil
}

func (v *entryValue) String() string {
	if v.value == nil {
		return ""
	}
	return render(v.value)
}

func (v *entryValue) Type() string { return string(v.param.Type) }

func (v *entryValue) Raw() any { return v.value }

// classValue accepts a class path, a short name, or an inline descriptor.
type classValue struct {
	value any
}

func (v *classValue) Set(s string) error {
	coerced, err := schema.Coerce(schema.Param{Type: schema.TypeClass, Nullable: true}, s)
	if err != nil {
		return err
	}
	v.value = coerced
	return nil
}

func (v *classValue) String() string { return render(v.value) }

func (v *classValue) Type() string { return "class" }

func (v *classValue) Raw() any { return v.value }

// classListValue appends descriptors on every occurrence.
type classListValue struct {
	items []any
	set   bool
}

func (v *classListValue) Set(s string) error {
	coerced, err := schema.Coerce(schema.Param{Type: schema.TypeClassList, Nullable: true}, s)
	if err != nil {
		return err
	}
	v.set = true
	if coerced == nil {
		v.items = nil
		return nil
	}
	v.items = append(v.items, coerced.([]any)...)
	return nil
}

func (v *classListValue) String() string { return render(v.items) }

func (v *classListValue) Type() string { return "[]class" }

func (v *classListValue) Raw() any {
	if v.items == nil {
		return nil
	}
	return append([]any(nil), v.items...)
}

// stringValue holds an untyped value checked only after the owning class is known.
type stringValue struct {
	value string
	set   bool
}

func (v *stringValue) Set(s string) error {
	v.value, v.set = s, true
	return nil
}

func (v *stringValue) String() string { return v.value }

func (v *stringValue) Type() string { return "string" }

func (v *stringValue) Raw() any { return v.value }

func addFlag(fs *pflag.FlagSet, name string, value pflag.Value, usage string, kind internalconfig.FlagKind) *pflag.Flag {
	fs.Var(value, name, usage)
	flag := fs.Lookup(name)
	_ = fs.SetAnnotation(name, internalconfig.KindAnnotation, []string{string(kind)})
	return flag
}

func usage(e schema.Entry) string {
	var b strings.Builder
	if e.Param.Help != "" {
		b.WriteString(e.Param.Help)
		b.WriteString(" ")
	}
	switch {
	case e.Polymorphic:
		fmt.Fprintf(&b, "(subclass of %s", strings.Join(e.Bases, " | "))
	default:
		fmt.Fprintf(&b, "(type: %s", e.Param.Type)
	}
	switch {
	case e.Param.Required:
		b.WriteString(", required)")
	case e.Param.Default != nil:
		fmt.Fprintf(&b, ", default: %s)", render(e.Param.Default))
	default:
		b.WriteString(", default: null)")
	}
	return b.String()
}

func render(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case map[string]any:
		if cp, ok := t[schema.ClassPathKey].(string); ok {
			return cp
		}
	}
	return fmt.Sprint(v)
}
