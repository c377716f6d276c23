package config

// ValueSource identifies where a value originated within the precedence chain.
type ValueSource string

const (
	// ValueSourceDefault indicates the value came from a declared parameter default or parser default.
	ValueSourceDefault ValueSource = "default"
	// ValueSourceEnv indicates the value came from a prefixed environment variable or the env config.
	ValueSourceEnv ValueSource = "env"
	// ValueSourceConfig indicates the value came from a --config file.
	ValueSourceConfig ValueSource = "config"
	// ValueSourceRuntime indicates the value was supplied directly as a command-line flag.
	ValueSourceRuntime ValueSource = "runtime"
	// ValueSourceLink indicates the value was computed by a link from another key.
	ValueSourceLink ValueSource = "link"
)

// rank orders sources from lowest to highest precedence.
func (s ValueSource) rank() int {
	switch s {
	case ValueSourceDefault:
		return 0
	case ValueSourceEnv:
		return 1
	case ValueSourceConfig:
		return 2
	case ValueSourceRuntime:
		return 3
	case ValueSourceLink:
		return 4
	default:
		return -1
	}
}

// FlagValue stores a typed value and its precedence origin.
type FlagValue struct {
	Value  any
	Source ValueSource
}

// FlagSet maps dotted keys to values.
type FlagSet map[string]FlagValue

// Clone creates a copy of the flag set so future mutations do not affect the original.
func (f FlagSet) Clone() FlagSet {
	if len(f) == 0 {
		return FlagSet{}
	}
	out := make(FlagSet, len(f))
	for k, v := range f {
		out[k] = FlagValue{Value: DeepCopy(v.Value), Source: v.Source}
	}
	return out
}

// Values strips sources from the set.
func (f FlagSet) Values() map[string]any {
	out := make(map[string]any, len(f))
	for k, v := range f {
		out[k] = v.Value
	}
	return out
}

// Layer is one ordered contribution to a resolution.
type Layer struct {
	Name   string
	Source ValueSource
	Path   string
	Flags  FlagSet
}

// ResolvedInvocation captures the effective values for one command after precedence resolution.
type ResolvedInvocation struct {
	CommandPath string
	Flags       FlagSet
	Overrides   []string
	Warnings    []string
	SourcePaths []string
}
