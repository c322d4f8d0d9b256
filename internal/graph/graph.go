// Package graph builds the service dependency graph and partitions it into
// execution layers.
//
// Edges point from a dependency to its dependents. Layer 0 holds every
// service without dependencies; layer k holds services whose dependencies
// all live in layers below k. Services in one layer have no ordering
// between them and are executed concurrently.
package graph

import (
	"fmt"
	"sort"

	"github.com/mmr-tortoise/flotilla/internal/model"
)

// Graph is an immutable dependency graph over a project's services.
type Graph struct {
	// deps maps a service to the services it depends on (sorted).
	deps map[string][]string

	// dependents maps a service to the services depending on it (sorted).
	dependents map[string][]string

	layers  [][]string
	layerOf map[string]int
}

// color marks DFS progress for cycle detection.
type color int

const (
	white color = iota // unvisited
	gray               // on the current DFS path
	black              // fully explored
)

// Build constructs the graph for project and computes its layers.
//
// It returns a *model.CycleError when the depends_on relation contains a
// cycle, and a *model.SpecError when a service depends on a name that is
// not defined. In both cases no graph is returned, so callers cannot reach
// the runtime with a partial ordering.
func Build(project *model.Project) (*Graph, error) {
	g := &Graph{
		deps:       make(map[string][]string, len(project.Services)),
		dependents: make(map[string][]string, len(project.Services)),
		layerOf:    make(map[string]int, len(project.Services)),
	}

	var problems []string
	for _, name := range project.ServiceNames() {
		seen := make(map[string]bool)
		var deps []string
		for _, dep := range project.Services[name].DependsOn {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			if _, ok := project.Services[dep]; !ok {
				problems = append(problems, fmt.Sprintf("service %q depends on undefined service %q", name, dep))
				continue
			}
			deps = append(deps, dep)
			g.dependents[dep] = append(g.dependents[dep], name)
		}
		sort.Strings(deps)
		g.deps[name] = deps
	}
	if len(problems) > 0 {
		return nil, &model.SpecError{Problems: problems}
	}
	for name := range g.dependents {
		sort.Strings(g.dependents[name])
	}

	if cycle := g.findCycle(project.ServiceNames()); cycle != nil {
		return nil, &model.CycleError{Cycle: cycle}
	}

	g.computeLayers(project.ServiceNames())
	return g, nil
}

// findCycle runs a depth-first search with three-colour marking over the
// services in sorted order. It returns the first cycle found as a path
// whose first and last elements are equal, or nil for an acyclic graph.
func (g *Graph) findCycle(names []string) []string {
	colors := make(map[string]color, len(names))
	var path []string
	var cycle []string

	var visit func(name string) bool
	visit = func(name string) bool {
		colors[name] = gray
		path = append(path, name)
		for _, dep := range g.deps[name] {
			switch colors[dep] {
			case gray:
				// dep is on the current path: slice the path from dep.
				for i, n := range path {
					if n == dep {
						cycle = append(append([]string{}, path[i:]...), dep)
						break
					}
				}
				return true
			case white:
				if visit(dep) {
					return true
				}
			}
		}
		path = path[:len(path)-1]
		colors[name] = black
		return false
	}

	for _, name := range names {
		if colors[name] == white && visit(name) {
			return cycle
		}
	}
	return nil
}

// computeLayers assigns every service the length of its longest dependency
// chain. The graph must already be known to be acyclic.
func (g *Graph) computeLayers(names []string) {
	remaining := make(map[string]int, len(names))
	for _, name := range names {
		remaining[name] = len(g.deps[name])
	}

	var current []string
	for _, name := range names {
		if remaining[name] == 0 {
			current = append(current, name)
		}
	}

	for depth := 0; len(current) > 0; depth++ {
		g.layers = append(g.layers, current)
		var next []string
		for _, name := range current {
			g.layerOf[name] = depth
			for _, dependent := range g.dependents[name] {
				remaining[dependent]--
				if remaining[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		sort.Strings(next)
		current = next
	}
}

// Layers returns the service layers in ascending dependency order. Each
// layer is sorted by name. The returned slices must not be modified.
func (g *Graph) Layers() [][]string {
	return g.layers
}

// LayerOf returns the layer index of service, or -1 for an unknown service.
func (g *Graph) LayerOf(service string) int {
	if l, ok := g.layerOf[service]; ok {
		return l
	}
	return -1
}

// DirectDependencies returns the services that service depends on.
func (g *Graph) DirectDependencies(service string) []string {
	return g.deps[service]
}

// Dependents returns every service that transitively depends on service.
func (g *Graph) Dependents(service string) map[string]bool {
	return closure(service, g.dependents)
}

// Dependencies returns every service that service transitively depends on.
func (g *Graph) Dependencies(service string) map[string]bool {
	return closure(service, g.deps)
}

func closure(start string, edges map[string][]string) map[string]bool {
	out := make(map[string]bool)
	stack := append([]string{}, edges[start]...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if out[n] {
			continue
		}
		out[n] = true
		stack = append(stack, edges[n]...)
	}
	return out
}
