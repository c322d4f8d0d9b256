// Package reconcile computes what must change: it inspects observed state,
// diffs it against the desired project and detects orphans, producing a
// Plan for the scheduler.
package reconcile

import (
	"github.com/mmr-tortoise/flotilla/internal/graph"
	"github.com/mmr-tortoise/flotilla/internal/model"
)

// Options adjusts plan construction.
type Options struct {
	// RemoveOrphans turns orphans into Remove actions instead of warnings.
	RemoveOrphans bool
}

// Plan is the complete, ordered intent of one command run.
type Plan struct {
	Command model.Command  `json:"command"`
	Project *model.Project `json:"-"`
	Graph   *graph.Graph   `json:"-"`

	// Layers are the dependency layers in ascending order.
	Layers [][]string `json:"layers"`

	// Actions holds the diff result, NoOp entries included.
	Actions []model.Action `json:"actions"`

	// Orphans lists every orphan found, removed or not.
	Orphans []*model.ContainerRecord `json:"orphans,omitempty"`

	// OrphanRemovals is non-empty only when orphan removal was requested.
	// These run as a leading batch before any layer.
	OrphanRemovals []model.Action `json:"orphanRemovals,omitempty"`

	// Warnings are reported but never affect the exit status.
	Warnings []string `json:"warnings,omitempty"`
}

// NewPlan diffs snap against project for cmd and applies orphan handling.
func NewPlan(cmd model.Command, project *model.Project, g *graph.Graph, snap *Snapshot, opts Options) *Plan {
	p := &Plan{
		Command: cmd,
		Project: project,
		Graph:   g,
		Layers:  g.Layers(),
		Actions: Diff(project, snap, cmd),
		Orphans: Orphans(project, snap),
	}

	if len(p.Orphans) == 0 {
		return p
	}
	// Orphans are only removed by commands that remove containers.
	if opts.RemoveOrphans && (cmd == model.CommandUp || cmd == model.CommandDown) {
		p.OrphanRemovals = OrphanActions(p.Orphans)
		return p
	}
	for _, rec := range p.Orphans {
		p.Warnings = append(p.Warnings, OrphanWarning(rec))
	}
	return p
}

// Pending returns the number of actions that will touch the runtime.
func (p *Plan) Pending() int {
	n := len(p.OrphanRemovals)
	for _, a := range p.Actions {
		if a.Kind.Mutates() {
			n++
		}
	}
	return n
}

// Counts tallies actions by kind, orphan removals included.
func (p *Plan) Counts() map[model.ActionKind]int {
	counts := make(map[model.ActionKind]int)
	for _, a := range p.OrphanRemovals {
		counts[a.Kind]++
	}
	for _, a := range p.Actions {
		counts[a.Kind]++
	}
	return counts
}
