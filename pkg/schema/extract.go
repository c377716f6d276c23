package schema

import (
	"fmt"
	"strings"

	"github.com/dobrovols/trainctl/pkg/clierr"
)

// Mode selects how a group is registered.
type Mode int

const (
	// ModeClass flattens the constructor parameters of exactly one concrete class.
	ModeClass Mode = iota
	// ModeSubclass accepts a class path naming any subclass of the bases; the chosen class's
	// parameters nest under init_args.
	ModeSubclass
)

// Entry is one dotted key of an argument schema.
type Entry struct {
	Key   string
	Param Param
	// Polymorphic entries take a class path descriptor whose init args are expanded lazily.
	Polymorphic bool
	Bases       []string
}

// GroupSchema is the argument schema rooted at one nested key.
type GroupSchema struct {
	Key       string
	Mode      Mode
	ClassPath string
	Bases     []string
	Role      Role
	Entries   []Entry
}

// ExtractClass flattens the parameters of classPath under key, dropping positional and skipped names.
func ExtractClass(reg *Registry, classPath, key string, skip ...string) (*GroupSchema, error) {
	comp, err := reg.Lookup(classPath)
	if err != nil {
		return nil, err
	}
	entries, err := ExpandClass(reg, comp, key, toSet(skip))
	if err != nil {
		return nil, err
	}
	return &GroupSchema{Key: key, Mode: ModeClass, ClassPath: comp.ClassPath, Role: comp.Role, Entries: entries}, nil
}

// ExtractSubclass registers key as polymorphic over any subclass of bases.
func ExtractSubclass(reg *Registry, key string, required bool, bases ...string) (*GroupSchema, error) {
	if len(bases) == 0 {
		return nil, clierr.Configuration(key, "subclass group needs at least one base")
	}
	role, ok := reg.RoleOf(bases[0])
	if !ok {
		return nil, clierr.ImportResolution(bases[0], "unknown base class")
	}
	for _, b := range bases[1:] {
		if _, ok := reg.RoleOf(b); !ok {
			return nil, clierr.ImportResolution(b, "unknown base class")
		}
	}
	entry := Entry{
		Key: key,
		Param: Param{
			Name:     lastSegment(key),
			Type:     TypeClass,
			Required: required,
			Nullable: !required,
			Base:     strings.Join(bases, ","),
		},
		Polymorphic: true,
		Bases:       append([]string(nil), bases...),
	}
	return &GroupSchema{Key: key, Mode: ModeSubclass, Bases: entry.Bases, Role: role, Entries: []Entry{entry}}, nil
}

// ExtractMethod flattens the entry-point parameters declared for method on classPath, minus skip.
func ExtractMethod(reg *Registry, classPath, method string, skip ...string) ([]Entry, error) {
	comp, err := reg.Lookup(classPath)
	if err != nil {
		return nil, err
	}
	params, ok := comp.Methods[method]
	if !ok {
		return nil, clierr.Configuration(comp.ClassPath, "no entry point %q declared", method)
	}
	pseudo := &Component{ClassPath: comp.ClassPath + "." + method, Params: params}
	return ExpandClass(reg, pseudo, "", toSet(skip))
}

// ExpandClass flattens comp's parameters under prefix. Parameters fixed to a concrete class recurse
// into that class's own parameters; polymorphic class parameters become single polymorphic entries.
func ExpandClass(reg *Registry, comp *Component, prefix string, skip map[string]struct{}) ([]Entry, error) {
	var entries []Entry
	seen := map[string]struct{}{}
	if err := expand(reg, comp, prefix, skip, &entries, seen, map[string]bool{}); err != nil {
		return nil, err
	}
	return entries, nil
}

func expand(reg *Registry, comp *Component, prefix string, skip map[string]struct{}, out *[]Entry, seen map[string]struct{}, stack map[string]bool) error {
	if stack[comp.ClassPath] {
		return clierr.Configuration(comp.ClassPath, "recursive nested class parameters")
	}
	stack[comp.ClassPath] = true
	defer delete(stack, comp.ClassPath)

	for _, p := range comp.Params {
		if _, skipped := skip[p.Name]; skipped || comp.IsPositional(p.Name) {
			continue
		}
		key := Join(prefix, p.Name)
		switch {
		case p.Type == TypeClass && p.Class != "":
			nested, err := reg.Lookup(p.Class)
			if err != nil {
				return err
			}
			if err := expand(reg, nested, key, nil, out, seen, stack); err != nil {
				return err
			}
			continue
		case p.Type == TypeClass && p.Base != "":
			if err := add(out, seen, Entry{Key: key, Param: p, Polymorphic: true, Bases: splitBases(p.Base)}); err != nil {
				return err
			}
			continue
		}
		if err := add(out, seen, Entry{Key: key, Param: p}); err != nil {
			return err
		}
	}
	return nil
}

func add(out *[]Entry, seen map[string]struct{}, e Entry) error {
	if _, dup := seen[e.Key]; dup {
		return clierr.Configuration(e.Key, "duplicate argument key")
	}
	seen[e.Key] = struct{}{}
	*out = append(*out, e)
	return nil
}

// InitArgEntries expands the parameters of classPath under <key>.init_args for a polymorphic entry.
// A class outside the entry's bases is a parse error.
func InitArgEntries(reg *Registry, e Entry, classPath string) (*Component, []Entry, error) {
	comp, err := reg.Lookup(classPath)
	if err != nil {
		return nil, nil, err
	}
	if len(e.Bases) > 0 && !isAnySubclass(reg, comp.ClassPath, e.Bases) {
		return nil, nil, clierr.Parse(e.Key, "%s is not a subclass of %s", comp.ClassPath, strings.Join(e.Bases, " or "))
	}
	entries, err := ExpandClass(reg, comp, Join(e.Key, InitArgsKey), nil)
	if err != nil {
		return nil, nil, err
	}
	return comp, entries, nil
}

// Candidates lists the class paths an entry accepts.
func Candidates(reg *Registry, e Entry) []*Component {
	return reg.Subclasses(e.Bases...)
}

func isAnySubclass(reg *Registry, classPath string, bases []string) bool {
	for _, b := range bases {
		if reg.IsSubclass(classPath, b) {
			return true
		}
	}
	return false
}

func splitBases(base string) []string {
	parts := strings.Split(base, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func lastSegment(key string) string {
	if idx := strings.LastIndex(key, "."); idx >= 0 {
		return key[idx+1:]
	}
	return key
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[item] = struct{}{}
	}
	return set
}

// String renders an entry for diagnostics.
func (e Entry) String() string {
	if e.Polymorphic {
		return fmt.Sprintf("%s (%s of %s)", e.Key, e.Param.Type, strings.Join(e.Bases, "|"))
	}
	return fmt.Sprintf("%s (%s)", e.Key, e.Param.Type)
}

// ClassSpec names the class (or allowed bases) of an optimizer-like group.
type ClassSpec struct {
	Paths []string
	// Any registers the group as polymorphic over subclasses of Paths.
	Any bool
}

// Class selects exactly one concrete class; its parameters are flattened into the group.
func Class(path string) ClassSpec {
	return ClassSpec{Paths: []string{path}}
}

// AnyOf accepts any subclass of the given bases.
func AnyOf(bases ...string) ClassSpec {
	return ClassSpec{Paths: append([]string(nil), bases...), Any: true}
}

// Extract registers spec under key according to its arity.
func (s ClassSpec) Extract(reg *Registry, key string, skip ...string) (*GroupSchema, error) {
	if len(s.Paths) == 0 {
		return nil, clierr.Configuration(key, "no class given")
	}
	if s.Any {
		return ExtractSubclass(reg, key, false, s.Paths...)
	}
	return ExtractClass(reg, s.Paths[0], key, skip...)
}
