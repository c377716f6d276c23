package schema

import (
	"sort"
	"strings"
	"sync"

	"github.com/dobrovols/trainctl/pkg/clierr"
)

// Registry maps class paths to components. It replaces import-by-string: a class path that is
// not registered fails with an import resolution error.
type Registry struct {
	mu         sync.RWMutex
	components map[string]*Component
	order      []string
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{components: make(map[string]*Component)}
}

// Register adds a component. Duplicate class paths and malformed parameter lists are rejected.
func (r *Registry) Register(c Component) error {
	path := strings.TrimSpace(c.ClassPath)
	if path == "" {
		return clierr.Configuration("", "component registered without a class path")
	}
	if c.New == nil {
		return clierr.Configuration(path, "component has no factory")
	}
	if c.Role == "" {
		c.Role = RoleOther
	}
	if err := validateParams(path, c.Params); err != nil {
		return clierr.Configuration(path, "%v", err)
	}
	for method, params := range c.Methods {
		if err := validateParams(path+"."+method, params); err != nil {
			return clierr.Configuration(path, "%v", err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.components[path]; exists {
		return clierr.Configuration(path, "class path already registered")
	}
	stored := c
	stored.ClassPath = path
	r.components[path] = &stored
	r.order = append(r.order, path)
	return nil
}

// MustRegister registers c and panics on failure. Intended for package-level registration.
func (r *Registry) MustRegister(c Component) {
	if err := r.Register(c); err != nil {
		panic(err)
	}
}

// RegisterFunc adapts a plain callable into a class of the given role.
func (r *Registry) RegisterFunc(path string, role Role, params []Param, fn Factory) error {
	return r.Register(Component{
		ClassPath: path,
		Role:      role,
		Params:    params,
		Function:  true,
		New:       fn,
	})
}

// Lookup resolves a full class path, or a short name when it is unique.
func (r *Registry) Lookup(classPath string) (*Component, error) {
	path := strings.TrimSpace(classPath)
	if path == "" {
		return nil, clierr.ImportResolution(classPath, "empty class path")
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.components[path]; ok {
		return c, nil
	}
	var matches []*Component
	for _, p := range r.order {
		if ShortName(p) == path {
			matches = append(matches, r.components[p])
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return nil, clierr.ImportResolution(path, "no component registered under this class path")
	default:
		names := make([]string, len(matches))
		for i, m := range matches {
			names[i] = m.ClassPath
		}
		return nil, clierr.ImportResolution(path, "ambiguous short name, candidates: %s", strings.Join(names, ", "))
	}
}

// Components returns every registered component in registration order.
func (r *Registry) Components() []*Component {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Component, 0, len(r.order))
	for _, p := range r.order {
		out = append(out, r.components[p])
	}
	return out
}

// IsSubclass reports whether classPath equals base, extends it (transitively), or plays the role named by base.
func (r *Registry) IsSubclass(classPath, base string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.isSubclassLocked(classPath, base, map[string]bool{})
}

func (r *Registry) isSubclassLocked(classPath, base string, visited map[string]bool) bool {
	if classPath == base {
		return true
	}
	if visited[classPath] {
		return false
	}
	visited[classPath] = true
	c, ok := r.components[classPath]
	if !ok {
		return false
	}
	if string(c.Role) == base {
		return true
	}
	for _, parent := range c.Extends {
		if r.isSubclassLocked(parent, base, visited) {
			return true
		}
	}
	return false
}

// Subclasses returns every registered component that is a subclass of any of the bases, sorted by class path.
func (r *Registry) Subclasses(bases ...string) []*Component {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := map[string]bool{}
	var out []*Component
	for _, p := range r.order {
		for _, base := range bases {
			if r.isSubclassLocked(p, base, map[string]bool{}) && !seen[p] {
				seen[p] = true
				out = append(out, r.components[p])
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClassPath < out[j].ClassPath })
	return out
}

// RoleOf resolves the role of a class path or role name used as a base.
func (r *Registry) RoleOf(base string) (Role, bool) {
	switch Role(base) {
	case RoleTrainer, RoleModel, RoleDataModule, RoleCallback, RoleOptimizer, RoleLRScheduler:
		return Role(base), true
	}
	c, err := r.Lookup(base)
	if err != nil {
		return "", false
	}
	return c.Role, true
}
