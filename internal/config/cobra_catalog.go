package config

import (
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// KindAnnotation is the pflag annotation carrying a flag's FlagKind.
const KindAnnotation = "trainctl.kind"

// FlagKind describes how a key participates in file and environment sourcing.
type FlagKind string

const (
	// FlagKindValue is a plain typed leaf.
	FlagKindValue FlagKind = "value"
	// FlagKindClass holds a class path descriptor; its init args nest beneath it.
	FlagKindClass FlagKind = "class"
	// FlagKindClassPath is the <key>.class_path shorthand of a class flag.
	FlagKindClassPath FlagKind = "class_path"
	// FlagKindClassList holds a list of class path descriptors.
	FlagKindClassList FlagKind = "class_list"
	// FlagKindInitArg is a deferred <key>.init_args.<name> value, typed once the class is chosen.
	FlagKindInitArg FlagKind = "init_arg"
	// FlagKindControl marks parser controls such as --config that never appear in a config tree.
	FlagKindControl FlagKind = "control"
)

const initArgsSegment = ".init_args"

// FlagCatalog exposes metadata about supported commands and their keys.
type FlagCatalog interface {
	IsCommandSupported(command string) bool
	Kind(command, key string) (FlagKind, bool)
	HasChildren(command, prefix string) bool
	Keys(command string) []string
	Commands() []string
}

// cobraCatalog implements FlagCatalog using a Cobra command tree.
type cobraCatalog struct {
	commands map[string]map[string]FlagKind
	order    []string
}

// NewCobraCatalog builds a flag catalog from the provided Cobra root command.
func NewCobraCatalog(root *cobra.Command) FlagCatalog {
	c := &cobraCatalog{
		commands: make(map[string]map[string]FlagKind),
	}
	traverseCommands(root, nil, c)
	return c
}

func traverseCommands(cmd *cobra.Command, parents []string, catalog *cobraCatalog) {
	path := append(append([]string(nil), parents...), cmd.Name())
	commandPath := strings.Join(path, " ")
	flags := make(map[string]FlagKind)

	visit := func(flag *pflag.Flag) {
		flags[flag.Name] = flagKind(flag)
	}
	cmd.InheritedFlags().VisitAll(visit)
	cmd.NonInheritedFlags().VisitAll(visit)

	catalog.commands[commandPath] = flags
	catalog.order = append(catalog.order, commandPath)

	for _, child := range cmd.Commands() {
		if !child.Hidden {
			traverseCommands(child, path, catalog)
		}
	}
}

func (c *cobraCatalog) IsCommandSupported(command string) bool {
	_, ok := c.commands[command]
	return ok
}

// Kind classifies key for command. Keys nested under a class flag's init_args are deferred init args.
func (c *cobraCatalog) Kind(command, key string) (FlagKind, bool) {
	flags, ok := c.commands[command]
	if !ok {
		return "", false
	}
	if kind, found := flags[key]; found {
		return kind, true
	}
	if base, ok := strings.CutSuffix(key, initArgsSegment); ok && flags[base] == FlagKindClass {
		return FlagKindInitArg, true
	}
	for offset := 0; ; {
		idx := strings.Index(key[offset:], initArgsSegment+".")
		if idx < 0 {
			break
		}
		if flags[key[:offset+idx]] == FlagKindClass {
			return FlagKindInitArg, true
		}
		offset += idx + 1
	}
	return "", false
}

// HasChildren reports whether prefix is a group holding further keys rather than a key itself.
func (c *cobraCatalog) HasChildren(command, prefix string) bool {
	flags, ok := c.commands[command]
	if !ok {
		return false
	}
	if _, exact := flags[prefix]; exact {
		return false
	}
	for name := range flags {
		if strings.HasPrefix(name, prefix+".") {
			return true
		}
	}
	return false
}

// Keys lists the keys of command that may appear in a config tree.
func (c *cobraCatalog) Keys(command string) []string {
	var keys []string
	for name, kind := range c.commands[command] {
		if kind != FlagKindControl {
			keys = append(keys, name)
		}
	}
	sort.Strings(keys)
	return keys
}

func (c *cobraCatalog) Commands() []string {
	return append([]string(nil), c.order...)
}

func flagKind(flag *pflag.Flag) FlagKind {
	if values, ok := flag.Annotations[KindAnnotation]; ok && len(values) > 0 {
		return FlagKind(values[0])
	}
	return FlagKindControl
}
