// Package runtime defines the narrow capability contract through which
// flotilla observes and mutates a container runtime, plus the registry that
// selects a backend implementation by name at startup.
//
// Implementations must be safe for concurrent use: the scheduler shares
// one Adapter across every worker and holds no lock of its own.
package runtime

import (
	"context"
	"io"
	"time"

	"github.com/mmr-tortoise/flotilla/internal/label"
	"github.com/mmr-tortoise/flotilla/internal/model"
)

// Adapter is implemented once per container runtime backend.
//
// Errors for a missing container, image or network must satisfy
// errdefs.IsNotFound so callers can treat them uniformly.
type Adapter interface {
	// Name returns the backend name ("docker", "podman", ...).
	Name() string

	// Ping verifies that the runtime is reachable. Failures are returned
	// as *model.ConnectionError.
	Ping(ctx context.Context) error

	// Close releases the connection to the runtime.
	Close() error

	// ListOwnedContainers returns every container, running or not, that
	// carries the ownership label for project.
	ListOwnedContainers(ctx context.Context, project string) ([]model.ContainerRecord, error)

	// CreateContainer creates (but does not start) a container for spec and
	// returns its ID. The container is tagged with spec.Labels.
	CreateContainer(ctx context.Context, spec ContainerSpec) (string, error)

	StartContainer(ctx context.Context, id string) error
	StopContainer(ctx context.Context, id string, timeout time.Duration) error
	RemoveContainer(ctx context.Context, id string) error

	// BuildImage builds req.Build and tags the result as req.Image.
	BuildImage(ctx context.Context, req BuildRequest) (string, error)

	ImageExists(ctx context.Context, ref string) (bool, error)
	PullImage(ctx context.Context, ref string) error

	// EnsureNetwork creates the named network if it does not exist.
	EnsureNetwork(ctx context.Context, name string, labels map[string]string) error

	// RemoveNetwork removes the named network. A missing network is not an error.
	RemoveNetwork(ctx context.Context, name string) error
}

// ContainerSpec is everything a backend needs to create one replica.
type ContainerSpec struct {
	Project string
	Service *model.Service
	Index   int

	// Name is the container name, "<project>_<service>_<index>".
	Name string

	// Network is joined with the service name as alias.
	Network string

	// Labels holds the ownership and replica metadata.
	Labels map[string]string
}

// Slot returns the replica slot the spec implements.
func (s ContainerSpec) Slot() model.ReplicaSlot {
	return model.ReplicaSlot{Service: s.Service.Name, Index: s.Index}
}

// NewContainerSpec builds the creation spec for replica index of svc.
func NewContainerSpec(project *model.Project, svc *model.Service, index int) ContainerSpec {
	return ContainerSpec{
		Project: project.Name,
		Service: svc,
		Index:   index,
		Name:    model.ContainerName(project.Name, svc.Name, index),
		Network: project.Network,
		Labels:  label.Build(project.Name, svc, index),
	}
}

// BuildRequest describes one image build.
type BuildRequest struct {
	// Service is used for labelling and progress output.
	Service string

	// Image is the tag applied to the built image.
	Image string

	Build model.BuildSpec

	// Pull always attempts to pull a newer version of base images.
	Pull bool

	// NoCache disables the build cache.
	NoCache bool

	// Labels are applied to the built image.
	Labels map[string]string

	// Progress receives the build output. Nil discards it.
	Progress io.Writer
}
