// Package scheduler executes a reconciliation plan against the runtime.
//
// Actions are grouped by the dependency layer of their service. Layers run
// in ascending order for up and descending order for stop and down. Within
// a layer, actions are dispatched to a bounded worker pool and the next
// layer starts only after every action of the current one has reached a
// terminal result.
package scheduler

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mmr-tortoise/flotilla/internal/logger"
	"github.com/mmr-tortoise/flotilla/internal/model"
	"github.com/mmr-tortoise/flotilla/internal/reconcile"
	"github.com/mmr-tortoise/flotilla/internal/report"
	rt "github.com/mmr-tortoise/flotilla/internal/runtime"
)

// DefaultStopTimeout is the grace period given to a container before the
// runtime kills it.
const DefaultStopTimeout = 5 * time.Second

// OrphanLayer is the layer number reported for the orphan removal batch.
const OrphanLayer = -1

// Options configures an Executor.
type Options struct {
	// Parallelism bounds the number of concurrent runtime calls. Values
	// below 1 default to the number of CPUs.
	Parallelism int

	// StopTimeout is passed to every stop call.
	StopTimeout time.Duration

	Logger logger.Logger
}

// Executor runs plans. One Executor may run several plans sequentially; it
// keeps no state between runs.
type Executor struct {
	rt   rt.Adapter
	opts Options
	log  logger.Logger
}

// New creates an Executor over adapter.
func New(adapter rt.Adapter, opts Options) *Executor {
	if opts.Parallelism < 1 {
		opts.Parallelism = runtime.NumCPU()
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	return &Executor{rt: adapter, opts: opts, log: opts.Logger}
}

// Batch is a set of actions that run concurrently between two barriers.
type Batch struct {
	Layer    int
	Services []string

	// Actions indexes into the flattened action list of the plan (orphan
	// removals first, then plan.Actions).
	Actions []int
}

// Flatten returns the plan's actions in report order: orphan removals
// first, then the diff actions.
func Flatten(plan *reconcile.Plan) []model.Action {
	out := make([]model.Action, 0, len(plan.OrphanRemovals)+len(plan.Actions))
	out = append(out, plan.OrphanRemovals...)
	return append(out, plan.Actions...)
}

// Group splits the mutating actions of plan into ordered batches: the
// orphan removals first, then one batch per non-empty dependency layer in
// the command's direction. NoOp actions belong to no batch.
func Group(plan *reconcile.Plan) []Batch {
	actions := Flatten(plan)
	var batches []Batch

	if n := len(plan.OrphanRemovals); n > 0 {
		b := Batch{Layer: OrphanLayer}
		for i := 0; i < n; i++ {
			b.Actions = append(b.Actions, i)
		}
		batches = append(batches, b)
	}

	order := make([]int, len(plan.Layers))
	for i := range order {
		order[i] = i
	}
	if plan.Command.Descending() {
		sort.Sort(sort.Reverse(sort.IntSlice(order)))
	}

	for _, layer := range order {
		b := Batch{Layer: layer, Services: plan.Layers[layer]}
		for i := len(plan.OrphanRemovals); i < len(actions); i++ {
			a := actions[i]
			if a.Kind.Mutates() && plan.Graph.LayerOf(a.Slot.Service) == layer {
				b.Actions = append(b.Actions, i)
			}
		}
		if len(b.Actions) > 0 {
			batches = append(batches, b)
		}
	}
	return batches
}

// Execute runs plan and returns one result per action in Flatten order.
//
// imageFailures maps services whose image could not be prepared to the
// cause; their create, recreate and start actions fail without touching
// the runtime.
//
// When ctx is cancelled no further action is dispatched; calls already in
// flight complete on a context detached from the cancellation and every
// undispatched action is reported as Skipped.
func (e *Executor) Execute(ctx context.Context, plan *reconcile.Plan, imageFailures map[string]error) []report.ActionResult {
	actions := Flatten(plan)
	results := make([]report.ActionResult, len(actions))
	done := make([]bool, len(actions))

	for i, a := range actions {
		results[i] = report.ActionResult{
			Slot:    a.Slot,
			Kind:    a.Kind,
			Orphan:  a.Orphan,
			Reason:  a.Reason,
			Layer:   OrphanLayer,
			State:   model.InitialState(a.Container),
			Outcome: model.OutcomeNoOp,
		}
		if a.Container != nil {
			results[i].ContainerID = a.Container.ID
		}
		if !a.Orphan {
			results[i].Layer = plan.Graph.LayerOf(a.Slot.Service)
		}
		if !a.Kind.Mutates() {
			done[i] = true
		}
	}

	// failed holds services with at least one failed action. Image
	// preparation failures are known before the first layer.
	failed := make(map[string]bool)
	for i, a := range actions {
		err, ok := imageFailures[a.Slot.Service]
		if !ok || a.Orphan || !needsImage(a.Kind) {
			continue
		}
		results[i].Outcome = model.OutcomeFailed
		results[i].State = model.StateFailed
		results[i].SetErr(&model.ActionError{Slot: a.Slot, Kind: a.Kind, Operation: "prepare image", Err: err})
		done[i] = true
		failed[a.Slot.Service] = true
	}

	runCtx := context.WithoutCancel(ctx)

	for _, batch := range Group(plan) {
		var pending []int
		for _, i := range batch.Actions {
			if done[i] {
				continue
			}
			if ctx.Err() != nil {
				e.skipInterrupted(&results[i])
				done[i] = true
				continue
			}
			if cause := e.blockedBy(plan, actions[i], failed); cause != "" {
				results[i].Outcome = model.OutcomeSkipped
				results[i].Reason = cause
				done[i] = true
				e.log.WithService(actions[i].Slot.Service).Warn("skipping action", logger.F("action", actions[i].String()), logger.F("reason", cause))
				continue
			}
			pending = append(pending, i)
		}
		if len(pending) == 0 {
			continue
		}

		e.log.Debug("dispatching batch", logger.F("layer", batch.Layer), logger.F("actions", len(pending)))

		g := new(errgroup.Group)
		g.SetLimit(e.opts.Parallelism)
		for _, chain := range chains(plan.Command, actions, pending) {
			chain := chain
			g.Go(func() error {
				for _, i := range chain {
					if ctx.Err() != nil {
						e.skipInterrupted(&results[i])
						continue
					}
					results[i] = e.run(runCtx, plan.Project, actions[i], results[i])
				}
				return nil
			})
		}
		// Wait is the layer barrier. Workers never return errors; outcomes
		// are recorded in results.
		_ = g.Wait()

		for _, i := range pending {
			done[i] = true
			if o := results[i].Outcome; o == model.OutcomeFailed || o == model.OutcomePartialFailure {
				failed[actions[i].Slot.Service] = true
			}
		}
	}

	return results
}

// chains partitions the pending actions of one batch into sequences that
// run on a single worker each. Removals of the same service during up form
// one chain so that scale-down proceeds highest index first; every other
// action is a chain of its own.
func chains(cmd model.Command, actions []model.Action, pending []int) [][]int {
	var out [][]int
	removals := map[string]int{}
	for _, i := range pending {
		a := actions[i]
		if cmd == model.CommandUp && a.Kind == model.ActionRemove && !a.Orphan {
			if idx, ok := removals[a.Slot.Service]; ok {
				out[idx] = append(out[idx], i)
				continue
			}
			removals[a.Slot.Service] = len(out)
		}
		out = append(out, []int{i})
	}
	return out
}

// blockedBy returns a reason when a related service has failed: for up
// any transitive dependency, for stop and down any transitive dependent.
// Orphan removals are never blocked.
func (e *Executor) blockedBy(plan *reconcile.Plan, a model.Action, failed map[string]bool) string {
	if a.Orphan || len(failed) == 0 {
		return ""
	}
	var related map[string]bool
	var relation string
	if plan.Command.Descending() {
		related = plan.Graph.Dependents(a.Slot.Service)
		relation = "dependent"
	} else {
		related = plan.Graph.Dependencies(a.Slot.Service)
		relation = "dependency"
	}

	var culprits []string
	for svc := range related {
		if failed[svc] {
			culprits = append(culprits, svc)
		}
	}
	if len(culprits) == 0 {
		return ""
	}
	sort.Strings(culprits)
	return fmt.Sprintf("%s %s failed", relation, strings.Join(culprits, ", "))
}

func (e *Executor) skipInterrupted(r *report.ActionResult) {
	r.Outcome = model.OutcomeSkipped
	r.Interrupted = true
	r.Reason = "interrupted"
}

// needsImage reports whether the action creates or starts a container.
func needsImage(k model.ActionKind) bool {
	return k == model.ActionCreate || k == model.ActionRecreate || k == model.ActionStart
}
