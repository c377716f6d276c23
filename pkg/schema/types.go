// Package schema describes the constructor parameters of registrable components and flattens
// them into dotted argument schemas consumed by the parser.
package schema

import (
	"context"
	"fmt"
	"strings"
)

// Type tags the value contract of a parameter.
type Type string

const (
	TypeString     Type = "string"
	TypeInt        Type = "int"
	TypeFloat      Type = "float"
	TypeBool       Type = "bool"
	TypeStringList Type = "[]string"
	TypeMap        Type = "map"
	TypeAny        Type = "any"
	// TypeClass holds a class path descriptor, polymorphic over Param.Base or fixed to Param.Class.
	TypeClass Type = "class"
	// TypeClassList holds a list of class path descriptors polymorphic over Param.Base.
	TypeClassList Type = "[]class"
)

// Role is the part a component plays in the training object graph.
type Role string

const (
	RoleTrainer     Role = "trainer"
	RoleModel       Role = "model"
	RoleDataModule  Role = "datamodule"
	RoleCallback    Role = "callback"
	RoleOptimizer   Role = "optimizer"
	RoleLRScheduler Role = "lr_scheduler"
	RoleOther       Role = "other"
)

// Param declares one constructor (or entry-point) parameter.
type Param struct {
	Name     string
	Type     Type
	Default  any
	Required bool
	Nullable bool
	Help     string
	// Base restricts TypeClass/TypeClassList values to subclasses of a class path or role.
	Base string
	// Class fixes a TypeClass parameter to one concrete class whose parameters nest under Name.
	Class string
}

// Args is the positional argument tuple handed to a factory.
type Args []any

// Factory constructs a component from positional args and keyword init args.
type Factory func(ctx context.Context, args Args, init map[string]any) (any, error)

// Component is a registrable class: a class path, its role, its parameters and its factory.
type Component struct {
	ClassPath string
	Role      Role
	// Extends lists class paths this component is a subclass of.
	Extends []string
	Params  []Param
	// Positional names the leading parameters supplied at instantiation time, never via config.
	Positional []string
	// Methods declares entry-point parameters, keyed by method name.
	Methods map[string][]Param
	// Function marks a plain callable adapted into a class of Role.
	Function bool
	Help     string
	New      Factory
}

// ShortName returns the last dotted segment of the class path.
func (c *Component) ShortName() string {
	return ShortName(c.ClassPath)
}

// Param looks up a parameter by name.
func (c *Component) Param(name string) (Param, bool) {
	for _, p := range c.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

// IsPositional reports whether name is supplied positionally.
func (c *Component) IsPositional(name string) bool {
	for _, p := range c.Positional {
		if p == name {
			return true
		}
	}
	return false
}

// ShortName returns the final segment of a dotted class path.
func ShortName(classPath string) string {
	if idx := strings.LastIndex(classPath, "."); idx >= 0 {
		return classPath[idx+1:]
	}
	return classPath
}

// Join joins dotted key segments, skipping empty ones.
func Join(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ".")
}

func validateParams(owner string, params []Param) error {
	seen := make(map[string]struct{}, len(params))
	for _, p := range params {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("%s: parameter with empty name", owner)
		}
		if strings.Contains(p.Name, ".") {
			return fmt.Errorf("%s: parameter %q must not contain '.'", owner, p.Name)
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("%s: duplicate parameter %q", owner, p.Name)
		}
		seen[p.Name] = struct{}{}
		if p.Type == "" {
			return fmt.Errorf("%s: parameter %q has no type", owner, p.Name)
		}
		if p.Class != "" && p.Type != TypeClass {
			return fmt.Errorf("%s: parameter %q names a class but is typed %s", owner, p.Name, p.Type)
		}
	}
	return nil
}
