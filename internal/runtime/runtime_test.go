package runtime_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmr-tortoise/flotilla/internal/label"
	"github.com/mmr-tortoise/flotilla/internal/model"
	"github.com/mmr-tortoise/flotilla/internal/runtime"
	"github.com/mmr-tortoise/flotilla/internal/runtime/runtimetest"
)

func TestNewContainerSpec(t *testing.T) {
	project := &model.Project{Name: "app", Network: "app_default"}
	svc := &model.Service{Name: "api", Image: "myapi:v1", Fingerprint: "sha256:abc"}

	spec := runtime.NewContainerSpec(project, svc, 2)

	assert.Equal(t, "app_api_2", spec.Name)
	assert.Equal(t, "app_default", spec.Network)
	assert.Equal(t, model.ReplicaSlot{Service: "api", Index: 2}, spec.Slot())
	assert.Equal(t, "app", spec.Labels[label.Project])
	assert.Equal(t, "2", spec.Labels[label.Replica])
}

func TestRegistry(t *testing.T) {
	// Arrange
	fake := runtimetest.New()
	runtime.Register("registry-test", func(opts runtime.Options) (runtime.Adapter, error) {
		if opts.Logger == nil || opts.Progress == nil {
			return nil, errors.New("defaults not applied")
		}
		return fake, nil
	})

	// Act
	adapter, err := runtime.Open("registry-test", runtime.Options{})

	// Assert
	require.NoError(t, err)
	assert.Same(t, fake, adapter)
	assert.Contains(t, runtime.Backends(), "registry-test")

	_, err = runtime.Open("nope", runtime.Options{})
	assert.ErrorContains(t, err, "unknown runtime backend")

	assert.Panics(t, func() {
		runtime.Register("registry-test", func(runtime.Options) (runtime.Adapter, error) { return nil, nil })
	})
}
