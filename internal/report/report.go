// Package report collects the outcome of one command run and renders it as
// text or JSON. The report is the only place a run's results are kept; it
// is never persisted.
package report

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/mmr-tortoise/flotilla/internal/model"
)

// ActionResult is the terminal result of one planned action.
type ActionResult struct {
	Slot   model.ReplicaSlot `json:"slot"`
	Kind   model.ActionKind  `json:"kind"`
	Orphan bool              `json:"orphan,omitempty"`
	Reason string            `json:"reason,omitempty"`

	// Layer is the dependency layer the action ran in; -1 for the orphan
	// removal batch.
	Layer int `json:"layer"`

	Outcome model.Outcome     `json:"outcome"`
	State   model.TargetState `json:"state"`

	// ContainerID is the container acted upon: the new container for
	// create/recreate, the existing one otherwise.
	ContainerID string `json:"containerId,omitempty"`

	// Interrupted marks actions skipped because the run was cancelled
	// rather than because a dependency failed.
	Interrupted bool `json:"interrupted,omitempty"`

	Err      error         `json:"-"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// SetErr records err on the result.
func (r *ActionResult) SetErr(err error) {
	r.Err = err
	if err != nil {
		r.Error = err.Error()
	}
}

// failing reports whether the result makes the command fail. Interrupted
// skips are reported through the interrupt exit code instead.
func (r *ActionResult) failing() bool {
	if r.Outcome == model.OutcomeSkipped && r.Interrupted {
		return false
	}
	return r.Outcome.Failing()
}

// ImageResult is the result of preparing one image.
type ImageResult struct {
	Image    string           `json:"image"`
	Services []string         `json:"services"`
	Kind     model.ActionKind `json:"kind"`
	Outcome  model.Outcome    `json:"outcome"`
	Err      error            `json:"-"`
	Error    string           `json:"error,omitempty"`
	Duration time.Duration    `json:"duration"`
}

// SetErr records err on the result.
func (r *ImageResult) SetErr(err error) {
	r.Err = err
	if err != nil {
		r.Error = err.Error()
	}
}

// Report is the record of one command run.
type Report struct {
	RunID   string        `json:"runId"`
	Project string        `json:"project"`
	Command model.Command `json:"command"`
	Backend string        `json:"backend"`
	DryRun  bool          `json:"dryRun,omitempty"`

	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`

	Images   []ImageResult  `json:"images,omitempty"`
	Actions  []ActionResult `json:"actions"`
	Warnings []string       `json:"warnings,omitempty"`

	// Interrupted is set when a signal or the deadline stopped dispatch.
	Interrupted bool `json:"interrupted,omitempty"`

	// Network is the project network; NetworkRemoved is set by down.
	Network        string `json:"network,omitempty"`
	NetworkRemoved bool   `json:"networkRemoved,omitempty"`
}

// New starts a report with a fresh run ID.
func New(project string, cmd model.Command, backend string) *Report {
	return &Report{
		RunID:     uuid.NewString(),
		Project:   project,
		Command:   cmd,
		Backend:   backend,
		StartedAt: time.Now(),
		Actions:   []ActionResult{},
	}
}

// Warn appends a warning.
func (r *Report) Warn(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Finish stamps the finish time.
func (r *Report) Finish() {
	r.FinishedAt = time.Now()
}

// Failed reports whether any action or image preparation failed, partially
// failed, or was skipped because of a failure. Warnings never count.
func (r *Report) Failed() bool {
	for i := range r.Images {
		if r.Images[i].Outcome == model.OutcomeFailed {
			return true
		}
	}
	for i := range r.Actions {
		if r.Actions[i].failing() {
			return true
		}
	}
	return false
}

// Err returns the error the command should exit with, or nil when every
// dispatched action succeeded. Failures take precedence over interruption.
func (r *Report) Err() error {
	if r.Failed() {
		failed := 0
		for i := range r.Actions {
			if r.Actions[i].failing() {
				failed++
			}
		}
		for i := range r.Images {
			if r.Images[i].Outcome == model.OutcomeFailed {
				failed++
			}
		}
		return model.NewCLIError(model.ExitActionFailed, fmt.Sprintf("%s: %d action(s) did not succeed", r.Command, failed))
	}
	if r.Interrupted {
		return model.NewCLIError(model.ExitInterrupted, fmt.Sprintf("%s: interrupted before every action was dispatched", r.Command))
	}
	return nil
}

// ServiceSummary is the per-service breakdown of a run.
type ServiceSummary struct {
	Service  string                `json:"service"`
	Outcomes map[model.Outcome]int `json:"outcomes"`

	// Outcome is the worst outcome of the service's actions.
	Outcome model.Outcome `json:"outcome"`
}

// outcomeRank orders outcomes from best to worst for summarising.
var outcomeRank = map[model.Outcome]int{
	model.OutcomeNoOp:           0,
	model.OutcomeSucceeded:      1,
	model.OutcomeSkipped:        2,
	model.OutcomeFailed:         3,
	model.OutcomePartialFailure: 4,
}

// Services summarises the actions per service, sorted by service name.
// Orphan removals are grouped under their recorded service name.
func (r *Report) Services() []ServiceSummary {
	byService := map[string]*ServiceSummary{}
	for i := range r.Actions {
		a := &r.Actions[i]
		name := a.Slot.Service
		if name == "" {
			name = "(unknown)"
		}
		s, ok := byService[name]
		if !ok {
			s = &ServiceSummary{Service: name, Outcomes: map[model.Outcome]int{}, Outcome: model.OutcomeNoOp}
			byService[name] = s
		}
		s.Outcomes[a.Outcome]++
		if outcomeRank[a.Outcome] > outcomeRank[s.Outcome] {
			s.Outcome = a.Outcome
		}
	}

	out := make([]ServiceSummary, 0, len(byService))
	for _, s := range byService {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Service < out[j].Service })
	return out
}
