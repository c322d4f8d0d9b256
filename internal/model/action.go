package model

import "fmt"

// Command identifies which CLI operation a plan was computed for. The
// command decides layer direction: Up runs dependencies first, Stop and
// Down run dependents first.
type Command string

const (
	CommandUp    Command = "up"
	CommandStop  Command = "stop"
	CommandDown  Command = "down"
	CommandBuild Command = "build"
)

// String satisfies fmt.Stringer.
func (c Command) String() string {
	return string(c)
}

// Descending reports whether layers execute from last to first.
func (c Command) Descending() bool {
	return c == CommandStop || c == CommandDown
}

// ActionKind is the reconciliation step computed for one replica slot.
type ActionKind string

const (
	// ActionCreate creates and starts a container for an empty slot.
	ActionCreate ActionKind = "create"

	// ActionRecreate stops and removes the slot's container, then creates
	// and starts a replacement. It is never an in-place update.
	ActionRecreate ActionKind = "recreate"

	// ActionStart starts an existing up-to-date container that is not running.
	ActionStart ActionKind = "start"

	// ActionStop stops a running container without removing it.
	ActionStop ActionKind = "stop"

	// ActionRemove stops the container if needed and removes it.
	ActionRemove ActionKind = "remove"

	// ActionNoOp means the slot already converged. It is reported, never dispatched.
	ActionNoOp ActionKind = "noop"

	// ActionBuild and ActionPull are image preparation steps bound to a
	// service rather than to a replica slot.
	ActionBuild ActionKind = "build"
	ActionPull  ActionKind = "pull"
)

// String satisfies fmt.Stringer.
func (k ActionKind) String() string {
	return string(k)
}

// Verb returns the progressive form used in progress output
// ("Creating", "Removing", ...).
func (k ActionKind) Verb() string {
	switch k {
	case ActionCreate:
		return "Creating"
	case ActionRecreate:
		return "Recreating"
	case ActionStart:
		return "Starting"
	case ActionStop:
		return "Stopping"
	case ActionRemove:
		return "Removing"
	case ActionBuild:
		return "Building"
	case ActionPull:
		return "Pulling"
	default:
		return "Keeping"
	}
}

// Mutates reports whether executing the action touches the runtime.
func (k ActionKind) Mutates() bool {
	return k != ActionNoOp
}

// Action binds an ActionKind to a replica slot. Service carries the desired
// definition when creation is needed; Container carries the observed record
// when an existing container is affected.
type Action struct {
	Kind      ActionKind       `json:"kind"`
	Slot      ReplicaSlot      `json:"slot"`
	Service   *Service         `json:"-"`
	Container *ContainerRecord `json:"container,omitempty"`

	// Orphan marks removals of containers whose service left the specification.
	Orphan bool `json:"orphan,omitempty"`

	// Reason is a short human-readable explanation ("fingerprint changed",
	// "scale down", ...).
	Reason string `json:"reason,omitempty"`
}

// String returns "kind(slot)", e.g. "recreate(api-0)".
func (a Action) String() string {
	return fmt.Sprintf("%s(%s)", a.Kind, a.Slot)
}

// TargetState is a node of the per-slot state machine walked by the executor.
//
//	Absent → Creating → Created → Starting → Running
//	Running → Stopping → Stopped → Removing → Absent
//
// Any step may transition to Failed instead.
type TargetState string

const (
	StateAbsent   TargetState = "absent"
	StateCreating TargetState = "creating"
	StateCreated  TargetState = "created"
	StateStarting TargetState = "starting"
	StateRunning  TargetState = "running"
	StateStopping TargetState = "stopping"
	StateStopped  TargetState = "stopped"
	StateRemoving TargetState = "removing"
	StateFailed   TargetState = "failed"
)

// String satisfies fmt.Stringer.
func (s TargetState) String() string {
	return string(s)
}

// InitialState returns the state a slot starts in before its action runs.
func InitialState(rec *ContainerRecord) TargetState {
	if rec == nil {
		return StateAbsent
	}
	switch rec.Status {
	case ContainerRunning:
		return StateRunning
	case ContainerCreated:
		return StateCreated
	default:
		return StateStopped
	}
}

// Outcome is the terminal result of one action in a run.
type Outcome string

const (
	OutcomeNoOp      Outcome = "noop"
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"

	// OutcomePartialFailure marks a recreate whose removal half succeeded
	// and whose creation half failed: the replica is gone, not outdated.
	OutcomePartialFailure Outcome = "partial-failure"

	// OutcomeSkipped marks actions never dispatched, either because a
	// dependency failed or because the run was interrupted.
	OutcomeSkipped Outcome = "skipped"
)

// String satisfies fmt.Stringer.
func (o Outcome) String() string {
	return string(o)
}

// Failing reports whether the outcome makes the command exit non-zero.
func (o Outcome) Failing() bool {
	return o == OutcomeFailed || o == OutcomePartialFailure || o == OutcomeSkipped
}
