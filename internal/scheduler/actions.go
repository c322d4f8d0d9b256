package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/containerd/errdefs"

	"github.com/mmr-tortoise/flotilla/internal/logger"
	"github.com/mmr-tortoise/flotilla/internal/model"
	"github.com/mmr-tortoise/flotilla/internal/report"
	rt "github.com/mmr-tortoise/flotilla/internal/runtime"
)

// slotRun walks one slot through its state machine. It is owned by a
// single worker for the duration of the action.
type slotRun struct {
	e       *Executor
	project *model.Project
	action  model.Action
	result  report.ActionResult
	log     logger.Logger
}

// run executes a single mutating action and returns its terminal result.
func (e *Executor) run(ctx context.Context, project *model.Project, a model.Action, initial report.ActionResult) report.ActionResult {
	s := &slotRun{
		e:       e,
		project: project,
		action:  a,
		result:  initial,
		log:     e.log.WithService(a.Slot.Service).With(logger.F("slot", a.Slot.String()), logger.F("action", string(a.Kind))),
	}

	start := time.Now()
	var err error
	switch a.Kind {
	case model.ActionCreate:
		err = s.create(ctx)
	case model.ActionRecreate:
		err = s.recreate(ctx)
	case model.ActionStart:
		err = s.start(ctx, s.result.ContainerID)
	case model.ActionStop:
		err = s.stop(ctx)
	case model.ActionRemove:
		err = s.remove(ctx)
	default:
		err = fmt.Errorf("unsupported action kind %q", a.Kind)
	}
	s.result.Duration = time.Since(start)

	switch {
	case err == nil:
		s.result.Outcome = model.OutcomeSucceeded
		s.log.Info(fmt.Sprintf("%s %s done", a.Kind.Verb(), a.Slot), logger.F("container", shortID(s.result.ContainerID)), logger.F("duration", s.result.Duration.Round(time.Millisecond)))
	case isPartial(err):
		s.result.Outcome = model.OutcomePartialFailure
		s.result.SetErr(err)
		s.log.Error(fmt.Sprintf("recreate %s incomplete", a.Slot), logger.F("error", err.Error()))
	default:
		s.result.Outcome = model.OutcomeFailed
		s.result.SetErr(err)
		s.log.Error(fmt.Sprintf("%s %s failed", a.Kind.Verb(), a.Slot), logger.F("error", err.Error()))
	}
	return s.result
}

func (s *slotRun) transition(to model.TargetState) {
	s.log.Debug("state transition", logger.F("from", string(s.result.State)), logger.F("to", string(to)))
	s.result.State = to
}

func (s *slotRun) fail(op string, err error) error {
	s.transition(model.StateFailed)
	return &model.ActionError{Slot: s.action.Slot, Kind: s.action.Kind, Operation: op, Err: err}
}

// create walks Absent → Creating → Created → Starting → Running.
func (s *slotRun) create(ctx context.Context) error {
	if s.action.Service == nil {
		return s.fail("create", fmt.Errorf("no service definition for %s", s.action.Slot))
	}
	spec := rt.NewContainerSpec(s.project, s.action.Service, s.action.Slot.Index)

	s.transition(model.StateCreating)
	id, err := s.e.rt.CreateContainer(ctx, spec)
	if err != nil {
		return s.fail("create", err)
	}
	s.result.ContainerID = id
	s.transition(model.StateCreated)

	return s.start(ctx, id)
}

// start walks Created/Stopped → Starting → Running.
func (s *slotRun) start(ctx context.Context, id string) error {
	s.transition(model.StateStarting)
	if err := s.e.rt.StartContainer(ctx, id); err != nil {
		return s.fail("start", err)
	}
	s.transition(model.StateRunning)
	return nil
}

// stop walks Running → Stopping → Stopped. A container that disappeared
// in the meantime is already stopped.
func (s *slotRun) stop(ctx context.Context) error {
	s.transition(model.StateStopping)
	err := s.e.rt.StopContainer(ctx, s.result.ContainerID, s.e.opts.StopTimeout)
	if err != nil && !errdefs.IsNotFound(err) {
		return s.fail("stop", err)
	}
	s.transition(model.StateStopped)
	return nil
}

// remove stops the container if it runs, then walks Removing → Absent. A
// container that no longer exists counts as removed.
func (s *slotRun) remove(ctx context.Context) error {
	if s.result.State == model.StateRunning {
		if err := s.stop(ctx); err != nil {
			return err
		}
	}
	s.transition(model.StateRemoving)
	err := s.e.rt.RemoveContainer(ctx, s.result.ContainerID)
	if err != nil && !errdefs.IsNotFound(err) {
		return s.fail("remove", err)
	}
	s.transition(model.StateAbsent)
	return nil
}

// recreate removes the outdated container and creates its replacement. A
// failure after the removal is reported as a partial failure; nothing is
// rolled back. A replacement that was created but failed to start stays.
func (s *slotRun) recreate(ctx context.Context) error {
	if s.result.ContainerID != "" {
		if err := s.remove(ctx); err != nil {
			return err
		}
		s.result.ContainerID = ""
	}
	if err := s.create(ctx); err != nil {
		return &model.PartialFailureError{Slot: s.action.Slot, ContainerID: shortID(s.result.ContainerID), Err: err}
	}
	return nil
}

func isPartial(err error) bool {
	_, ok := err.(*model.PartialFailureError)
	return ok
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
