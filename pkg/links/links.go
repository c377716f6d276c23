// Package links binds configuration values computed from other keys after parsing.
package links

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dobrovols/trainctl/pkg/clierr"
	"github.com/dobrovols/trainctl/pkg/config"
	"github.com/dobrovols/trainctl/pkg/schema"
)

// Automatic defers an optimizer or scheduler binding to instantiation time.
const Automatic = "AUTOMATIC"

// ComputeFunc derives the destination value from the source value.
type ComputeFunc func(source any) (any, error)

// Edge binds Dest to the value at Source, optionally transformed by Compute.
type Edge struct {
	Source  string
	Dest    string
	Compute ComputeFunc
}

// Resolver holds the declared links of one parser.
type Resolver struct {
	edges []Edge
	dests map[string]int
}

// NewResolver constructs an empty resolver.
func NewResolver() *Resolver {
	return &Resolver{dests: map[string]int{}}
}

// Register declares a link. A destination may be bound only once and never to the automatic sentinel.
func (r *Resolver) Register(source, dest string, compute ComputeFunc) error {
	source, dest = strings.TrimSpace(source), strings.TrimSpace(dest)
	switch {
	case source == "" || dest == "":
		return clierr.Configuration(dest, "link needs a source and a destination")
	case dest == Automatic:
		return clierr.Configuration(source, "automatic wiring is not a link destination")
	case source == dest:
		return clierr.Configuration(dest, "link source and destination are the same key")
	case within(dest, source) || within(source, dest):
		return clierr.Configuration(dest, "link source %s and destination overlap", source)
	}
	if _, dup := r.dests[dest]; dup {
		return clierr.Configuration(dest, "destination already bound by another link")
	}
	r.dests[dest] = len(r.edges)
	r.edges = append(r.edges, Edge{Source: source, Dest: dest, Compute: compute})
	return nil
}

// Edges returns the declared links in registration order.
func (r *Resolver) Edges() []Edge {
	return append([]Edge(nil), r.edges...)
}

// IsDestination reports whether key is, or lies beneath, a link destination.
func (r *Resolver) IsDestination(key string) bool {
	for dest := range r.dests {
		if key == dest || within(key, dest) {
			return true
		}
	}
	return false
}

// Order sorts edges so every edge runs after the edges producing its source. Cycles are rejected.
func (r *Resolver) Order() ([]Edge, error) {
	n := len(r.edges)
	deps := make([][]int, n)
	indegree := make([]int, n)
	for i, e := range r.edges {
		for j, producer := range r.edges {
			if i != j && (e.Source == producer.Dest || within(e.Source, producer.Dest) || within(producer.Dest, e.Source)) {
				deps[j] = append(deps[j], i)
				indegree[i]++
			}
		}
	}

	var ready []int
	for i := 0; i < n; i++ {
		if indegree[i] == 0 {
			ready = append(ready, i)
		}
	}
	ordered := make([]Edge, 0, n)
	for len(ready) > 0 {
		sort.Ints(ready)
		i := ready[0]
		ready = ready[1:]
		ordered = append(ordered, r.edges[i])
		for _, next := range deps[i] {
			indegree[next]--
			if indegree[next] == 0 {
				ready = append(ready, next)
			}
		}
	}
	if len(ordered) != n {
		var cyclic []string
		for i := range r.edges {
			if indegree[i] > 0 {
				cyclic = append(cyclic, r.edges[i].Source+"->"+r.edges[i].Dest)
			}
		}
		return nil, clierr.Configuration(strings.Join(cyclic, ", "), "circular links")
	}
	return ordered, nil
}

// Apply binds every destination in tree in dependency order. The resolved invocation, when given,
// records the link as the value source.
func (r *Resolver) Apply(tree config.Tree, resolved *config.ResolvedInvocation) error {
	ordered, err := r.Order()
	if err != nil {
		return err
	}
	for _, e := range ordered {
		value, ok := config.Get(tree, e.Source)
		if !ok {
			return clierr.Configuration(e.Source, "link source missing for %s", e.Dest)
		}
		value = config.DeepCopy(value)
		if e.Compute != nil {
			value, err = e.Compute(value)
			if err != nil {
				return clierr.Configuration(e.Dest, "compute link from %s: %v", e.Source, err)
			}
		}
		config.Set(tree, e.Dest, value)
		if resolved != nil {
			resolved.Set(e.Dest, value, config.ValueSourceLink)
		}
	}
	return nil
}

// ClassPathWrapper wraps a flattened single-class group into a class path descriptor naming classPath.
func ClassPathWrapper(classPath string) ComputeFunc {
	return func(source any) (any, error) {
		init, ok := source.(map[string]any)
		if !ok && source != nil {
			return nil, fmt.Errorf("expected init args mapping, got %T", source)
		}
		return schema.WithClassPath(classPath, init).Map(), nil
	}
}

func within(key, parent string) bool {
	return strings.HasPrefix(key, parent+".")
}
