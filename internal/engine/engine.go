// Package engine drives one flotilla command from start to finish: it
// loads the specification, builds the dependency graph, connects to the
// runtime, plans the work and hands it to the scheduler.
//
// Every step that can reject the run (a bad specification, a dependency
// cycle, an unreachable runtime) happens before the first mutation.
package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mmr-tortoise/flotilla/internal/compose"
	"github.com/mmr-tortoise/flotilla/internal/graph"
	"github.com/mmr-tortoise/flotilla/internal/label"
	"github.com/mmr-tortoise/flotilla/internal/logger"
	"github.com/mmr-tortoise/flotilla/internal/model"
	"github.com/mmr-tortoise/flotilla/internal/port"
	"github.com/mmr-tortoise/flotilla/internal/reconcile"
	"github.com/mmr-tortoise/flotilla/internal/report"
	"github.com/mmr-tortoise/flotilla/internal/runtime"
	"github.com/mmr-tortoise/flotilla/internal/scheduler"
)

// OpenFunc opens a runtime backend by name.
type OpenFunc func(name string, opts runtime.Options) (runtime.Adapter, error)

// Options configures an Engine. Zero values fall back to the scheduler's
// defaults.
type Options struct {
	// Backend is the registered runtime backend name.
	Backend string
	Runtime runtime.Options

	Parallelism int
	StopTimeout time.Duration

	// Deadline bounds dispatch. Zero means no deadline.
	Deadline time.Duration

	Pull scheduler.PullPolicy

	// File is an explicit specification path. When empty the file is
	// searched for from WorkingDir upwards.
	File        string
	WorkingDir  string
	ProjectName string

	Logger logger.Logger

	// Progress receives build and pull output.
	Progress io.Writer

	// Open defaults to runtime.Open.
	Open OpenFunc

	// Ports probes fixed host ports before up. Defaults to a port.Scanner.
	Ports port.Checker
}

// Engine runs commands. It holds configuration only; all state is
// re-derived from the runtime on every call.
type Engine struct {
	opts Options
	log  logger.Logger
}

// New creates an Engine.
func New(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	if opts.Progress == nil {
		opts.Progress = io.Discard
	}
	if opts.Open == nil {
		opts.Open = runtime.Open
	}
	if opts.Ports == nil {
		opts.Ports = port.NewScanner()
	}
	if opts.Runtime.Logger == nil {
		opts.Runtime.Logger = opts.Logger
	}
	if opts.Runtime.Progress == nil {
		opts.Runtime.Progress = opts.Progress
	}
	return &Engine{opts: opts, log: opts.Logger}
}

// session is one loaded project bound to an open runtime.
type session struct {
	project *model.Project
	graph   *graph.Graph
	rt      runtime.Adapter
	exec    *scheduler.Executor
	log     logger.Logger
}

func (s *session) close() {
	if err := s.rt.Close(); err != nil {
		s.log.Debug("failed to close runtime connection", logger.F("error", err.Error()))
	}
}

// LoadProject resolves, parses and validates the specification and builds
// its dependency graph. It does not touch the runtime.
func (e *Engine) LoadProject() (*model.Project, *graph.Graph, error) {
	// Step 1: Locate the specification file.
	path := e.opts.File
	if path == "" {
		dir := e.opts.WorkingDir
		if dir == "" {
			wd, err := os.Getwd()
			if err != nil {
				return nil, nil, model.WrapCLIError(model.ExitGeneralError, "failed to determine working directory", err)
			}
			dir = wd
		}
		found, err := compose.Find(dir)
		if err != nil {
			return nil, nil, err
		}
		path = found
	}

	// Step 2: Parse and validate it.
	project, err := compose.Load(path, compose.Options{ProjectName: e.opts.ProjectName})
	if err != nil {
		return nil, nil, err
	}

	// Step 3: A cycle or dangling dependency aborts here, before any
	// runtime connection is opened.
	g, err := graph.Build(project)
	if err != nil {
		return nil, nil, err
	}
	e.log.Debug("specification loaded",
		logger.F("file", path),
		logger.F("project", project.Name),
		logger.F("services", len(project.Services)),
		logger.F("layers", len(g.Layers())))
	return project, g, nil
}

// open loads the project and connects to the runtime.
func (e *Engine) open(ctx context.Context) (*session, error) {
	project, g, err := e.LoadProject()
	if err != nil {
		return nil, err
	}

	adapter, err := e.opts.Open(e.opts.Backend, e.opts.Runtime)
	if err != nil {
		return nil, model.WrapCLIError(model.ExitRuntimeUnreachable, "failed to open runtime backend", err)
	}
	if err := adapter.Ping(ctx); err != nil {
		_ = adapter.Close()
		return nil, err
	}

	log := e.log.With(logger.F("project", project.Name))
	return &session{
		project: project,
		graph:   g,
		rt:      adapter,
		exec: scheduler.New(adapter, scheduler.Options{
			Parallelism: e.opts.Parallelism,
			StopTimeout: e.opts.StopTimeout,
			Logger:      log,
		}),
		log: log,
	}, nil
}

// plan inspects the runtime and computes the plan for cmd.
func (s *session) plan(ctx context.Context, cmd model.Command, removeOrphans bool) (*reconcile.Plan, error) {
	snap, err := reconcile.Inspect(ctx, s.rt, s.project.Name)
	if err != nil {
		return nil, err
	}
	plan := reconcile.NewPlan(cmd, s.project, s.graph, snap, reconcile.Options{RemoveOrphans: removeOrphans})
	s.log.Debug("plan computed", logger.F("command", cmd), logger.F("pending", plan.Pending()))
	return plan, nil
}

// Plan computes what cmd would do without changing anything.
func (e *Engine) Plan(ctx context.Context, cmd model.Command, removeOrphans bool) (*reconcile.Plan, error) {
	s, err := e.open(ctx)
	if err != nil {
		return nil, err
	}
	defer s.close()
	return s.plan(ctx, cmd, removeOrphans)
}

// UpOptions modifies Up.
type UpOptions struct {
	RemoveOrphans bool

	// Build rebuilds every built image even when it exists.
	Build bool
}

// DownOptions modifies Down.
type DownOptions struct {
	RemoveOrphans bool
}

// BuildOptions modifies Build.
type BuildOptions struct {
	// PullBase refreshes base images during the build.
	PullBase bool
	NoCache  bool
}

// Up converges the runtime towards the specification: missing replicas are
// created, changed ones recreated, stopped ones started and surplus ones
// removed.
func (e *Engine) Up(ctx context.Context, opts UpOptions) (*report.Report, error) {
	return e.run(ctx, model.CommandUp, opts.RemoveOrphans, &scheduler.ImageOptions{
		Build:    opts.Build,
		Pull:     e.opts.Pull,
		Progress: e.opts.Progress,
	})
}

// Stop stops every running container of the project, dependents first.
func (e *Engine) Stop(ctx context.Context) (*report.Report, error) {
	return e.run(ctx, model.CommandStop, false, nil)
}

// Down removes every container of the project, dependents first, and then
// the project network.
func (e *Engine) Down(ctx context.Context, opts DownOptions) (*report.Report, error) {
	return e.run(ctx, model.CommandDown, opts.RemoveOrphans, nil)
}

// Build builds the image of every service with a build section.
func (e *Engine) Build(ctx context.Context, opts BuildOptions) (*report.Report, error) {
	return e.run(ctx, model.CommandBuild, false, &scheduler.ImageOptions{
		Build:    true,
		Pull:     e.opts.Pull,
		PullBase: opts.PullBase,
		NoCache:  opts.NoCache,
		Progress: e.opts.Progress,
	})
}

// run executes cmd. The returned error carries the command's exit code; the
// report is returned alongside it whenever dispatch started.
func (e *Engine) run(ctx context.Context, cmd model.Command, removeOrphans bool, images *scheduler.ImageOptions) (*report.Report, error) {
	s, err := e.open(ctx)
	if err != nil {
		return nil, err
	}
	defer s.close()

	plan, err := s.plan(ctx, cmd, removeOrphans)
	if err != nil {
		return nil, err
	}

	rep := report.New(s.project.Name, cmd, s.rt.Name())
	rep.Network = s.project.Network
	rep.Warnings = append(rep.Warnings, plan.Warnings...)
	for _, w := range plan.Warnings {
		s.log.Warn(w)
	}
	if cmd == model.CommandUp {
		// Conflicts are reported, not enforced.
		for _, c := range port.Preflight(e.opts.Ports, plan.Actions) {
			rep.Warn("%s", c)
			s.log.WithService(c.Slot.Service).Warn(c.String())
		}
	}

	runCtx, cancel := e.withDeadline(ctx)
	defer cancel()

	if cmd == model.CommandUp && plan.Pending() > 0 {
		if err := s.rt.EnsureNetwork(runCtx, s.project.Network, label.NetworkLabels(s.project.Name)); err != nil {
			return nil, model.WrapCLIError(model.ExitActionFailed, fmt.Sprintf("failed to create network %s", s.project.Network), err)
		}
	}

	var imageFailures map[string]error
	if images != nil {
		services := scheduler.ImageServices(s.project, plan.Actions, cmd)
		if cmd == model.CommandBuild && len(services) == 0 {
			rep.Warn("no service of project %s has a build section", s.project.Name)
		}
		rep.Images, imageFailures = s.exec.PrepareImages(runCtx, s.project, services, *images)
	}

	if cmd != model.CommandBuild {
		rep.Actions = s.exec.Execute(runCtx, plan, imageFailures)
	}

	rep.Interrupted = interrupted(runCtx, rep)

	if cmd == model.CommandDown && !rep.Failed() && !rep.Interrupted &&
		(len(plan.Orphans) == 0 || len(plan.OrphanRemovals) > 0) {
		if err := s.rt.RemoveNetwork(context.WithoutCancel(runCtx), s.project.Network); err != nil {
			rep.Warn("failed to remove network %s: %v", s.project.Network, err)
		} else {
			rep.NetworkRemoved = true
		}
	}

	rep.Finish()
	return rep, rep.Err()
}

// withDeadline applies the configured deadline, if any.
func (e *Engine) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.opts.Deadline > 0 {
		return context.WithTimeout(ctx, e.opts.Deadline)
	}
	return context.WithCancel(ctx)
}

// interrupted reports whether cancellation cut the run short. For build,
// which has no actions, a cancelled context is enough.
func interrupted(ctx context.Context, rep *report.Report) bool {
	for i := range rep.Actions {
		if rep.Actions[i].Interrupted {
			return true
		}
	}
	return rep.Command == model.CommandBuild && ctx.Err() != nil
}
