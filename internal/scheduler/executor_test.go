package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmr-tortoise/flotilla/internal/fingerprint"
	"github.com/mmr-tortoise/flotilla/internal/graph"
	"github.com/mmr-tortoise/flotilla/internal/label"
	"github.com/mmr-tortoise/flotilla/internal/model"
	"github.com/mmr-tortoise/flotilla/internal/reconcile"
	"github.com/mmr-tortoise/flotilla/internal/report"
	rt "github.com/mmr-tortoise/flotilla/internal/runtime"
	"github.com/mmr-tortoise/flotilla/internal/runtime/runtimetest"
)

// newProject returns project "app" with api (2 replicas) and web (depends
// on api), plus any extra services.
func newProject(t *testing.T, extra ...*model.Service) *model.Project {
	t.Helper()
	p := &model.Project{
		Name:    "app",
		Network: "app_default",
		Services: map[string]*model.Service{
			"api": {Name: "api", Image: "myapi:v1", Replicas: 2},
			"web": {Name: "web", Image: "nginx", Replicas: 1, DependsOn: []string{"api"}},
		},
	}
	for _, s := range extra {
		p.Services[s.Name] = s
	}
	require.NoError(t, fingerprint.Apply(p))
	return p
}

func seedAll(p *model.Project, fake *runtimetest.Fake) {
	for _, name := range p.ServiceNames() {
		svc := p.Services[name]
		for i := 0; i < svc.Replicas; i++ {
			fake.Seed(p, svc, i, model.ContainerRunning)
		}
	}
}

func makePlan(t *testing.T, fake rt.Adapter, p *model.Project, cmd model.Command, opts reconcile.Options) *reconcile.Plan {
	t.Helper()
	g, err := graph.Build(p)
	require.NoError(t, err)
	snap, err := reconcile.Inspect(context.Background(), fake, p.Name)
	require.NoError(t, err)
	return reconcile.NewPlan(cmd, p, g, snap, opts)
}

func resultFor(t *testing.T, results []report.ActionResult, slot string) report.ActionResult {
	t.Helper()
	for _, r := range results {
		if r.Slot.String() == slot {
			return r
		}
	}
	t.Fatalf("no result for %s", slot)
	return report.ActionResult{}
}

// lastSeq returns the highest sequence number of op calls for service.
func lastSeq(calls []runtimetest.Call, op runtimetest.Op, service string) int {
	seq := 0
	for _, c := range calls {
		if c.Op == op && c.Slot.Service == service && c.Seq > seq {
			seq = c.Seq
		}
	}
	return seq
}

// firstSeq returns the lowest sequence number of op calls for service.
func firstSeq(calls []runtimetest.Call, op runtimetest.Op, service string) int {
	seq := 0
	for _, c := range calls {
		if c.Op == op && c.Slot.Service == service && (seq == 0 || c.Seq < seq) {
			seq = c.Seq
		}
	}
	return seq
}

func TestExecute_UpRunsDependenciesFirst(t *testing.T) {
	// Arrange
	p := newProject(t)
	fake := runtimetest.New()
	plan := makePlan(t, fake, p, model.CommandUp, reconcile.Options{})

	// Act
	results := New(fake, Options{Parallelism: 4}).Execute(context.Background(), plan, nil)

	// Assert
	require.Len(t, results, 3)
	for _, r := range results {
		assert.Equal(t, model.OutcomeSucceeded, r.Outcome, r.Slot.String())
		assert.Equal(t, model.StateRunning, r.State)
		assert.NotEmpty(t, r.ContainerID)
	}
	assert.Equal(t, 0, resultFor(t, results, "api-1").Layer)
	assert.Equal(t, 1, resultFor(t, results, "web-0").Layer)

	calls := fake.Calls()
	assert.Less(t, lastSeq(calls, runtimetest.OpStart, "api"), firstSeq(calls, runtimetest.OpCreate, "web"),
		"web must not be created before every api replica is running")
	for _, c := range fake.Containers() {
		assert.Equal(t, model.ContainerRunning, c.Status)
	}
}

func TestExecute_DownRunsDependentsFirst(t *testing.T) {
	p := newProject(t)
	fake := runtimetest.New()
	seedAll(p, fake)
	plan := makePlan(t, fake, p, model.CommandDown, reconcile.Options{})

	results := New(fake, Options{Parallelism: 4}).Execute(context.Background(), plan, nil)

	for _, r := range results {
		assert.Equal(t, model.OutcomeSucceeded, r.Outcome, r.Slot.String())
		assert.Equal(t, model.StateAbsent, r.State)
	}
	calls := fake.Calls()
	assert.Less(t, lastSeq(calls, runtimetest.OpRemove, "web"), firstSeq(calls, runtimetest.OpStop, "api"))
	assert.Empty(t, fake.Containers())
}

func TestExecute_Stop(t *testing.T) {
	p := newProject(t)
	fake := runtimetest.New()
	seedAll(p, fake)
	plan := makePlan(t, fake, p, model.CommandStop, reconcile.Options{})

	results := New(fake, Options{Parallelism: 2}).Execute(context.Background(), plan, nil)

	for _, r := range results {
		assert.Equal(t, model.OutcomeSucceeded, r.Outcome)
		assert.Equal(t, model.StateStopped, r.State)
	}
	assert.Empty(t, fake.CallsFor(runtimetest.OpRemove))
	for _, c := range fake.Containers() {
		assert.Equal(t, model.ContainerExited, c.Status)
	}
}

// TestExecute_FailureSkipsDependents verifies that a failed replica blocks
// its dependents while siblings in the same layer and independent
// services proceed.
func TestExecute_FailureSkipsDependents(t *testing.T) {
	// Arrange
	p := newProject(t,
		&model.Service{Name: "db", Image: "postgres:16", Replicas: 1},
		&model.Service{Name: "cache", Image: "redis:7", Replicas: 1, DependsOn: []string{"db"}},
	)
	fake := runtimetest.New()
	fake.FailOn(runtimetest.OpCreate, "api", 0, errors.New("no space left on device"))
	plan := makePlan(t, fake, p, model.CommandUp, reconcile.Options{})

	// Act
	results := New(fake, Options{Parallelism: 4}).Execute(context.Background(), plan, nil)

	// Assert
	api0 := resultFor(t, results, "api-0")
	assert.Equal(t, model.OutcomeFailed, api0.Outcome)
	assert.Equal(t, model.StateFailed, api0.State)
	var actionErr *model.ActionError
	require.ErrorAs(t, api0.Err, &actionErr)
	assert.Equal(t, "create", actionErr.Operation)

	assert.Equal(t, model.OutcomeSucceeded, resultFor(t, results, "api-1").Outcome)
	assert.Equal(t, model.OutcomeSucceeded, resultFor(t, results, "db-0").Outcome)

	// cache shares web's layer but not its failed dependency.
	require.Equal(t, [][]string{{"api", "db"}, {"cache", "web"}}, plan.Layers)
	cache := resultFor(t, results, "cache-0")
	assert.Equal(t, model.OutcomeSucceeded, cache.Outcome)
	assert.Equal(t, 1, cache.Layer)

	web := resultFor(t, results, "web-0")
	assert.Equal(t, model.OutcomeSkipped, web.Outcome)
	assert.False(t, web.Interrupted)
	assert.Equal(t, "dependency api failed", web.Reason)
	assert.Zero(t, firstSeq(fake.Calls(), runtimetest.OpCreate, "web"), "web must never be created")
}

func TestExecute_DownFailureSkipsDependencies(t *testing.T) {
	p := newProject(t)
	fake := runtimetest.New()
	seedAll(p, fake)
	fake.FailOn(runtimetest.OpStop, "web", runtimetest.AnyReplica, errors.New("timeout"))
	plan := makePlan(t, fake, p, model.CommandDown, reconcile.Options{})

	results := New(fake, Options{Parallelism: 2}).Execute(context.Background(), plan, nil)

	assert.Equal(t, model.OutcomeFailed, resultFor(t, results, "web-0").Outcome)
	assert.Equal(t, model.OutcomeSkipped, resultFor(t, results, "api-0").Outcome)
	assert.Equal(t, "dependent web failed", resultFor(t, results, "api-1").Reason)
	assert.Len(t, fake.Containers(), 3)
}

// TestExecute_RecreatePartialFailure verifies that a recreate whose
// creation half fails leaves the slot absent and is not rolled back.
func TestExecute_RecreatePartialFailure(t *testing.T) {
	p := newProject(t)
	fake := runtimetest.New()
	seedAll(p, fake)
	p.Services["api"].Image = "myapi:v2"
	require.NoError(t, fingerprint.Apply(p))
	fake.FailOn(runtimetest.OpCreate, "api", 0, errors.New("image not found"))
	plan := makePlan(t, fake, p, model.CommandUp, reconcile.Options{})

	results := New(fake, Options{Parallelism: 2}).Execute(context.Background(), plan, nil)

	api0 := resultFor(t, results, "api-0")
	assert.Equal(t, model.OutcomePartialFailure, api0.Outcome)
	assert.Equal(t, model.StateFailed, api0.State)
	var partial *model.PartialFailureError
	require.ErrorAs(t, api0.Err, &partial)

	assert.Equal(t, model.OutcomeSucceeded, resultFor(t, results, "api-1").Outcome)
	// web was up to date: NoOp is never skipped
	assert.Equal(t, model.OutcomeNoOp, resultFor(t, results, "web-0").Outcome)

	indexes := map[int]bool{}
	for _, c := range fake.Containers() {
		if c.Labels[label.Service] == "api" {
			indexes[runtimetest.ReplicaIndex(c)] = true
		}
	}
	assert.Equal(t, map[int]bool{1: true}, indexes, "api-0 must be absent")
}

// TestExecute_RecreateStartFailure verifies that a replacement which was
// created but failed to start is reported as such, not as an absent slot.
func TestExecute_RecreateStartFailure(t *testing.T) {
	// Arrange
	p := newProject(t)
	fake := runtimetest.New()
	seedAll(p, fake)
	p.Services["api"].Image = "myapi:v2"
	require.NoError(t, fingerprint.Apply(p))
	fake.FailOn(runtimetest.OpStart, "api", 0, errors.New("port is already allocated"))
	plan := makePlan(t, fake, p, model.CommandUp, reconcile.Options{})

	// Act
	results := New(fake, Options{Parallelism: 2}).Execute(context.Background(), plan, nil)

	// Assert
	api0 := resultFor(t, results, "api-0")
	assert.Equal(t, model.OutcomePartialFailure, api0.Outcome)
	var partial *model.PartialFailureError
	require.ErrorAs(t, api0.Err, &partial)
	require.NotEmpty(t, partial.ContainerID)
	assert.NotContains(t, api0.Error, "replica is absent")

	replacement, ok := fake.Container(api0.ContainerID)
	require.True(t, ok, "the created replacement is kept")
	assert.Equal(t, model.ContainerCreated, replacement.Status)
}

func TestExecute_NoOpsNotDispatched(t *testing.T) {
	p := newProject(t)
	fake := runtimetest.New()
	seedAll(p, fake)
	plan := makePlan(t, fake, p, model.CommandUp, reconcile.Options{})

	results := New(fake, Options{}).Execute(context.Background(), plan, nil)

	for _, r := range results {
		assert.Equal(t, model.OutcomeNoOp, r.Outcome)
		assert.Equal(t, model.StateRunning, r.State)
	}
	assert.Equal(t, 0, fake.Mutations())
}

func TestExecute_StartsStoppedContainer(t *testing.T) {
	p := newProject(t)
	fake := runtimetest.New()
	id := fake.Seed(p, p.Services["api"], 0, model.ContainerExited)
	fake.Seed(p, p.Services["api"], 1, model.ContainerRunning)
	fake.Seed(p, p.Services["web"], 0, model.ContainerRunning)
	plan := makePlan(t, fake, p, model.CommandUp, reconcile.Options{})

	results := New(fake, Options{}).Execute(context.Background(), plan, nil)

	api0 := resultFor(t, results, "api-0")
	assert.Equal(t, model.ActionStart, api0.Kind)
	assert.Equal(t, model.OutcomeSucceeded, api0.Outcome)
	assert.Equal(t, id, api0.ContainerID)
	c, ok := fake.Container(id)
	require.True(t, ok)
	assert.Equal(t, model.ContainerRunning, c.Status)
}

// TestExecute_ScaleDownHighestIndexFirst verifies that surplus replicas of
// one service are removed sequentially from the highest index.
func TestExecute_ScaleDownHighestIndexFirst(t *testing.T) {
	p := newProject(t)
	p.Services["api"].Replicas = 4
	fake := runtimetest.New()
	seedAll(p, fake)
	p.Services["api"].Replicas = 1
	plan := makePlan(t, fake, p, model.CommandUp, reconcile.Options{})

	results := New(fake, Options{Parallelism: 8}).Execute(context.Background(), plan, nil)

	var removed []int
	for _, c := range fake.CallsFor(runtimetest.OpRemove) {
		removed = append(removed, c.Slot.Index)
	}
	assert.Equal(t, []int{3, 2, 1}, removed)
	assert.Equal(t, 1, fake.MaxConcurrent(), "removals of one service run sequentially")
	for _, r := range results {
		assert.False(t, r.Outcome.Failing(), r.Slot.String())
	}
}

func TestExecute_RemoveNotFoundIsSuccess(t *testing.T) {
	p := newProject(t)
	fake := runtimetest.New()
	seedAll(p, fake)
	fake.FailOn(runtimetest.OpRemove, "web", 0, errdefs.ErrNotFound)
	plan := makePlan(t, fake, p, model.CommandDown, reconcile.Options{})

	results := New(fake, Options{}).Execute(context.Background(), plan, nil)

	web := resultFor(t, results, "web-0")
	assert.Equal(t, model.OutcomeSucceeded, web.Outcome)
	assert.Equal(t, model.StateAbsent, web.State)
	assert.Equal(t, model.OutcomeSucceeded, resultFor(t, results, "api-0").Outcome)
}

func TestExecute_BoundedConcurrency(t *testing.T) {
	p := &model.Project{
		Name:     "app",
		Network:  "app_default",
		Services: map[string]*model.Service{"worker": {Name: "worker", Image: "busybox", Replicas: 6}},
	}
	require.NoError(t, fingerprint.Apply(p))
	fake := runtimetest.New()
	fake.DelayOn(runtimetest.OpCreate, "", runtimetest.AnyReplica, 20*time.Millisecond)
	plan := makePlan(t, fake, p, model.CommandUp, reconcile.Options{})

	results := New(fake, Options{Parallelism: 2}).Execute(context.Background(), plan, nil)

	assert.LessOrEqual(t, fake.MaxConcurrent(), 2)
	assert.Len(t, fake.CallsFor(runtimetest.OpCreate), 6)
	for _, r := range results {
		assert.Equal(t, model.OutcomeSucceeded, r.Outcome)
	}
}

func TestExecute_CancelledBeforeStart(t *testing.T) {
	p := newProject(t)
	fake := runtimetest.New()
	plan := makePlan(t, fake, p, model.CommandUp, reconcile.Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := New(fake, Options{}).Execute(ctx, plan, nil)

	for _, r := range results {
		assert.Equal(t, model.OutcomeSkipped, r.Outcome)
		assert.True(t, r.Interrupted)
	}
	assert.Equal(t, 0, fake.Mutations())
}

// cancellingAdapter cancels the run on the first create call.
type cancellingAdapter struct {
	*runtimetest.Fake
	cancel context.CancelFunc
}

func (c *cancellingAdapter) CreateContainer(ctx context.Context, spec rt.ContainerSpec) (string, error) {
	c.cancel()
	return c.Fake.CreateContainer(ctx, spec)
}

// TestExecute_CancelledMidRun verifies that an in-flight action completes
// while undispatched actions are skipped.
func TestExecute_CancelledMidRun(t *testing.T) {
	p := newProject(t)
	fake := runtimetest.New()
	ctx, cancel := context.WithCancel(context.Background())
	adapter := &cancellingAdapter{Fake: fake, cancel: cancel}
	plan := makePlan(t, adapter, p, model.CommandUp, reconcile.Options{})

	results := New(adapter, Options{Parallelism: 1}).Execute(ctx, plan, nil)

	api0 := resultFor(t, results, "api-0")
	assert.Equal(t, model.OutcomeSucceeded, api0.Outcome)
	assert.Equal(t, model.StateRunning, api0.State)
	for _, slot := range []string{"api-1", "web-0"} {
		r := resultFor(t, results, slot)
		assert.Equal(t, model.OutcomeSkipped, r.Outcome, slot)
		assert.True(t, r.Interrupted, slot)
	}
	assert.Len(t, fake.Containers(), 1)
}

func TestExecute_ImageFailureFailsService(t *testing.T) {
	p := newProject(t)
	fake := runtimetest.New()
	plan := makePlan(t, fake, p, model.CommandUp, reconcile.Options{})

	results := New(fake, Options{}).Execute(context.Background(), plan, map[string]error{"api": errors.New("manifest unknown")})

	for _, slot := range []string{"api-0", "api-1"} {
		r := resultFor(t, results, slot)
		assert.Equal(t, model.OutcomeFailed, r.Outcome)
		assert.Contains(t, r.Error, "prepare image failed")
	}
	assert.Equal(t, model.OutcomeSkipped, resultFor(t, results, "web-0").Outcome)
	assert.Empty(t, fake.CallsFor(runtimetest.OpCreate))
}

func TestExecute_OrphanBatchRunsFirst(t *testing.T) {
	// Arrange
	p := newProject(t, &model.Service{Name: "old", Image: "busybox", Replicas: 1})
	fake := runtimetest.New()
	seedAll(p, fake)
	delete(p.Services, "old")
	p.Services["api"].Replicas = 3
	plan := makePlan(t, fake, p, model.CommandUp, reconcile.Options{RemoveOrphans: true})

	// Act
	results := New(fake, Options{Parallelism: 4}).Execute(context.Background(), plan, nil)

	// Assert
	require.True(t, results[0].Orphan)
	assert.Equal(t, OrphanLayer, results[0].Layer)
	assert.Equal(t, model.OutcomeSucceeded, results[0].Outcome)
	calls := fake.Calls()
	assert.Less(t, lastSeq(calls, runtimetest.OpRemove, "old"), firstSeq(calls, runtimetest.OpCreate, "api"))
	for _, c := range fake.Containers() {
		assert.NotEqual(t, "old", c.Labels[label.Service])
	}
}

func TestGroup_Direction(t *testing.T) {
	p := newProject(t)
	fake := runtimetest.New()
	seedAll(p, fake)

	up := Group(makePlan(t, runtimetest.New(), p, model.CommandUp, reconcile.Options{}))
	down := Group(makePlan(t, fake, p, model.CommandDown, reconcile.Options{}))

	require.Len(t, up, 2)
	assert.Equal(t, []int{0, 1}, []int{up[0].Layer, up[1].Layer})
	require.Len(t, down, 2)
	assert.Equal(t, []int{1, 0}, []int{down[0].Layer, down[1].Layer})
	assert.Equal(t, []string{"web"}, down[0].Services)
}
