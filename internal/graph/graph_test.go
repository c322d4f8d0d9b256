package graph

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmr-tortoise/flotilla/internal/model"
)

// project builds a project from a name -> dependencies map.
func project(deps map[string][]string) *model.Project {
	p := &model.Project{Name: "app", Services: map[string]*model.Service{}}
	for name, d := range deps {
		p.Services[name] = &model.Service{Name: name, Image: "img", Replicas: 1, DependsOn: d}
	}
	return p
}

func TestBuild_Layers(t *testing.T) {
	tests := []struct {
		name   string
		deps   map[string][]string
		layers [][]string
	}{
		{
			name:   "single service",
			deps:   map[string][]string{"api": nil},
			layers: [][]string{{"api"}},
		},
		{
			name:   "independent services share a layer",
			deps:   map[string][]string{"web": nil, "api": nil, "db": nil},
			layers: [][]string{{"api", "db", "web"}},
		},
		{
			name:   "chain",
			deps:   map[string][]string{"web": {"api"}, "api": {"db"}, "db": nil},
			layers: [][]string{{"db"}, {"api"}, {"web"}},
		},
		{
			name: "diamond takes the longest path",
			deps: map[string][]string{
				"db":     nil,
				"cache":  {"db"},
				"api":    {"db", "cache"},
				"web":    {"api"},
				"worker": {"db"},
			},
			layers: [][]string{{"db"}, {"cache", "worker"}, {"api"}, {"web"}},
		},
		{
			name:   "duplicate dependency entries are collapsed",
			deps:   map[string][]string{"web": {"api", "api"}, "api": nil},
			layers: [][]string{{"api"}, {"web"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := Build(project(tt.deps))

			require.NoError(t, err)
			assert.Equal(t, tt.layers, g.Layers())
		})
	}
}

func TestBuild_EmptyProject(t *testing.T) {
	g, err := Build(project(map[string][]string{}))

	require.NoError(t, err)
	assert.Empty(t, g.Layers())
}

// TestBuild_Cycle verifies that any cycle fails the build with a typed
// error naming the cycle, and no graph is returned.
func TestBuild_Cycle(t *testing.T) {
	tests := []struct {
		name  string
		deps  map[string][]string
		cycle []string
	}{
		{
			name:  "two services",
			deps:  map[string][]string{"a": {"b"}, "b": {"a"}},
			cycle: []string{"a", "b", "a"},
		},
		{
			name:  "self dependency",
			deps:  map[string][]string{"a": {"a"}},
			cycle: []string{"a", "a"},
		},
		{
			name:  "cycle behind an acyclic prefix",
			deps:  map[string][]string{"a": {"b"}, "b": {"c"}, "c": {"d"}, "d": {"b"}, "e": nil},
			cycle: []string{"b", "c", "d", "b"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := Build(project(tt.deps))

			assert.Nil(t, g)
			var cycleErr *model.CycleError
			require.True(t, errors.As(err, &cycleErr))
			assert.Equal(t, tt.cycle, cycleErr.Cycle)
			assert.Equal(t, model.ExitDependencyCycle, model.ExitCodeOf(err))
		})
	}
}

func TestBuild_UnknownDependency(t *testing.T) {
	g, err := Build(project(map[string][]string{"web": {"ghost"}}))

	assert.Nil(t, g)
	var specErr *model.SpecError
	require.True(t, errors.As(err, &specErr))
	assert.Contains(t, specErr.Problems[0], "ghost")
}

func TestGraph_Relations(t *testing.T) {
	g, err := Build(project(map[string][]string{
		"db":     nil,
		"api":    {"db"},
		"web":    {"api"},
		"worker": {"db"},
		"docs":   nil,
	}))
	require.NoError(t, err)

	assert.Equal(t, 0, g.LayerOf("db"))
	assert.Equal(t, 2, g.LayerOf("web"))
	assert.Equal(t, -1, g.LayerOf("ghost"))
	assert.Equal(t, []string{"db"}, g.DirectDependencies("api"))

	assert.Equal(t, map[string]bool{"api": true, "web": true, "worker": true}, g.Dependents("db"))
	assert.Equal(t, map[string]bool{"web": true}, g.Dependents("api"))
	assert.Empty(t, g.Dependents("docs"))

	assert.Equal(t, map[string]bool{"api": true, "db": true}, g.Dependencies("web"))
	assert.Empty(t, g.Dependencies("db"))
}
