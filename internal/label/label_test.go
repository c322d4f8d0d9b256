package label

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmr-tortoise/flotilla/internal/fingerprint"
	"github.com/mmr-tortoise/flotilla/internal/model"
)

func testService(t *testing.T) *model.Service {
	t.Helper()
	svc := &model.Service{
		Name:   "api",
		Image:  "myapi:v1",
		Labels: map[string]string{"tier": "backend", Project: "hijack"},
	}
	fp, err := fingerprint.Compute(svc, "app_default")
	require.NoError(t, err)
	svc.Fingerprint = fp
	return svc
}

// TestBuild_ThenParse verifies that labels produced by Build parse back into
// the same slot and fingerprint.
func TestBuild_ThenParse(t *testing.T) {
	// Arrange
	svc := testService(t)

	// Act
	labels := Build("app", svc, 3)
	slot, fp, err := Parse(labels)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, model.ReplicaSlot{Service: "api", Index: 3}, slot)
	assert.Equal(t, svc.Fingerprint, fp)
	assert.Equal(t, "backend", labels["tier"])
	assert.Equal(t, SchemaVersion, labels[Version])
}

// TestBuild_UserLabelsCannotOverrideOwnership verifies that a specification
// label using a reserved key loses to the ownership label.
func TestBuild_UserLabelsCannotOverrideOwnership(t *testing.T) {
	labels := Build("app", testService(t), 0)

	assert.Equal(t, "app", labels[Project])
	assert.True(t, Owned(labels, "app"))
	assert.False(t, Owned(labels, "hijack"))
}

func TestParse_Errors(t *testing.T) {
	valid := Build("app", testService(t), 0)

	tests := []struct {
		name   string
		mutate func(l map[string]string)
	}{
		{"missing service", func(l map[string]string) { delete(l, Service) }},
		{"missing replica", func(l map[string]string) { delete(l, Replica) }},
		{"non-numeric replica", func(l map[string]string) { l[Replica] = "two" }},
		{"negative replica", func(l map[string]string) { l[Replica] = "-1" }},
		{"invalid service name", func(l map[string]string) { l[Service] = "Bad Name" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			labels := make(map[string]string, len(valid))
			for k, v := range valid {
				labels[k] = v
			}
			tt.mutate(labels)

			_, _, err := Parse(labels)
			assert.Error(t, err)
		})
	}
}

// TestParse_DamagedFingerprint verifies that an unreadable or absent
// fingerprint still yields the slot, with an empty fingerprint that forces
// recreation.
func TestParse_DamagedFingerprint(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(l map[string]string)
	}{
		{"malformed fingerprint", func(l map[string]string) { l[Fingerprint] = "not-a-digest" }},
		{"missing fingerprint", func(l map[string]string) { delete(l, Fingerprint) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			labels := Build("app", testService(t), 1)
			tt.mutate(labels)

			// Act
			slot, fp, err := Parse(labels)

			// Assert
			require.NoError(t, err)
			assert.Equal(t, model.ReplicaSlot{Service: "api", Index: 1}, slot)
			assert.Empty(t, fp)
		})
	}
}

func TestFilters(t *testing.T) {
	assert.Equal(t, "io.flotilla.project=app", ProjectFilter("app"))
	assert.Equal(t, "app", NetworkLabels("app")[Project])
}
