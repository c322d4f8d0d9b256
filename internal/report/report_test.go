package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmr-tortoise/flotilla/internal/model"
)

func init() {
	color.NoColor = true
}

func slot(service string, index int) model.ReplicaSlot {
	return model.ReplicaSlot{Service: service, Index: index}
}

func TestNew_AssignsRunID(t *testing.T) {
	r := New("app", model.CommandUp, "docker")

	_, err := uuid.Parse(r.RunID)
	assert.NoError(t, err)
	assert.NotEqual(t, r.RunID, New("app", model.CommandUp, "docker").RunID)
}

// TestReport_Err verifies the exit status rules: failures and dependent
// skips fail the run, warnings and no-ops never do, and interruption has
// its own code unless something failed.
func TestReport_Err(t *testing.T) {
	tests := []struct {
		name        string
		actions     []ActionResult
		images      []ImageResult
		warnings    []string
		interrupted bool
		want        model.ExitCode
	}{
		{
			name:    "all succeeded",
			actions: []ActionResult{{Outcome: model.OutcomeSucceeded}, {Outcome: model.OutcomeNoOp}},
			want:    model.ExitSuccess,
		},
		{
			name:     "orphan warnings do not fail",
			actions:  []ActionResult{{Outcome: model.OutcomeNoOp}},
			warnings: []string{"found orphan container"},
			want:     model.ExitSuccess,
		},
		{
			name:    "failed action",
			actions: []ActionResult{{Outcome: model.OutcomeFailed}},
			want:    model.ExitActionFailed,
		},
		{
			name:    "partial failure",
			actions: []ActionResult{{Outcome: model.OutcomePartialFailure}},
			want:    model.ExitActionFailed,
		},
		{
			name:    "dependent skipped",
			actions: []ActionResult{{Outcome: model.OutcomeSkipped}},
			want:    model.ExitActionFailed,
		},
		{
			name:    "image failure",
			actions: []ActionResult{{Outcome: model.OutcomeNoOp}},
			images:  []ImageResult{{Outcome: model.OutcomeFailed}},
			want:    model.ExitActionFailed,
		},
		{
			name:        "interrupted only",
			actions:     []ActionResult{{Outcome: model.OutcomeSucceeded}, {Outcome: model.OutcomeSkipped, Interrupted: true}},
			interrupted: true,
			want:        model.ExitInterrupted,
		},
		{
			name:        "interrupted with failure",
			actions:     []ActionResult{{Outcome: model.OutcomeFailed}, {Outcome: model.OutcomeSkipped, Interrupted: true}},
			interrupted: true,
			want:        model.ExitActionFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New("app", model.CommandUp, "fake")
			r.Actions = tt.actions
			r.Images = tt.images
			r.Warnings = tt.warnings
			r.Interrupted = tt.interrupted

			assert.Equal(t, tt.want, model.ExitCodeOf(r.Err()))
		})
	}
}

// TestReport_Services verifies the per-service breakdown keeps the worst
// outcome of each service.
func TestReport_Services(t *testing.T) {
	r := New("app", model.CommandUp, "fake")
	r.Actions = []ActionResult{
		{Slot: slot("web", 0), Outcome: model.OutcomeSkipped},
		{Slot: slot("api", 0), Outcome: model.OutcomeSucceeded},
		{Slot: slot("api", 1), Outcome: model.OutcomePartialFailure},
		{Slot: slot("api", 2), Outcome: model.OutcomeNoOp},
	}

	summaries := r.Services()

	require.Len(t, summaries, 2)
	assert.Equal(t, "api", summaries[0].Service)
	assert.Equal(t, model.OutcomePartialFailure, summaries[0].Outcome)
	assert.Equal(t, 1, summaries[0].Outcomes[model.OutcomeNoOp])
	assert.Equal(t, model.OutcomeSkipped, summaries[1].Outcome)
}

func TestReport_WriteJSON(t *testing.T) {
	// Arrange
	r := New("app", model.CommandUp, "fake")
	res := ActionResult{Slot: slot("api", 0), Kind: model.ActionCreate, Outcome: model.OutcomeFailed, State: model.StateFailed}
	res.SetErr(errors.New("no such image"))
	r.Actions = append(r.Actions, res)
	r.Finish()

	// Act
	var buf bytes.Buffer
	require.NoError(t, r.WriteJSON(&buf))

	// Assert
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "app", decoded["project"])
	assert.Equal(t, false, decoded["success"])
	actions := decoded["actions"].([]interface{})
	require.Len(t, actions, 1)
	assert.Equal(t, "no such image", actions[0].(map[string]interface{})["error"])
	services := decoded["services"].([]interface{})
	assert.Equal(t, "api", services[0].(map[string]interface{})["service"])
}

func TestReport_WriteText(t *testing.T) {
	r := New("app", model.CommandUp, "fake")
	r.Images = []ImageResult{{Image: "app_api", Kind: model.ActionBuild, Outcome: model.OutcomeSucceeded}}
	r.Actions = []ActionResult{
		{Slot: slot("api", 0), Kind: model.ActionCreate, Outcome: model.OutcomeSucceeded, State: model.StateRunning, ContainerID: "0123456789abcdef"},
		{Slot: slot("web", 0), Kind: model.ActionNoOp, Outcome: model.OutcomeNoOp, State: model.StateRunning},
		{Slot: slot("old", 0), Kind: model.ActionRemove, Orphan: true, Layer: -1, Outcome: model.OutcomeSucceeded, State: model.StateAbsent},
	}
	r.Warn("found %d orphan", 1)
	r.Finish()

	var quiet, verbose bytes.Buffer
	r.WriteText(&quiet, false)
	r.WriteText(&verbose, true)

	out := quiet.String()
	assert.Contains(t, out, "app_api")
	assert.Contains(t, out, "api-0")
	assert.Contains(t, out, "0123456789ab")
	assert.NotContains(t, out, "0123456789abc")
	assert.Contains(t, out, "orphan")
	assert.NotContains(t, out, "web-0")
	assert.Contains(t, out, "WARNING: found 1 orphan")
	assert.Contains(t, out, "up done for project app")

	assert.Contains(t, verbose.String(), "web-0")
}
