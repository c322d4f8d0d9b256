package model

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Project identifies a deployment unit: a named set of services sharing
// one network. It is loaded fresh on each invocation and never persisted.
type Project struct {
	// Name is the project identifier written into every container's
	// ownership label.
	Name string `json:"name"`

	// WorkingDir is the directory containing the specification file.
	// Relative paths in services have already been resolved against it.
	WorkingDir string `json:"workingDir,omitempty"`

	// Network is the shared network every container is attached to.
	Network string `json:"network"`

	// Services maps service names to their definitions.
	Services map[string]*Service `json:"services"`
}

// ServiceNames returns the project's service names sorted alphabetically.
// Sorted output keeps every consumer (diff, report, printing) deterministic.
func (p *Project) ServiceNames() []string {
	names := make([]string, 0, len(p.Services))
	for name := range p.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Service returns the named service, or nil if the project has no such service.
func (p *Project) Service(name string) *Service {
	if p == nil {
		return nil
	}
	return p.Services[name]
}

// DefaultNetworkName returns the network identifier used for a project
// when the specification does not name one.
func DefaultNetworkName(project string) string {
	return project + "_default"
}

// BuildSpec describes how to build a service image from a local context.
type BuildSpec struct {
	// Context is the absolute path of the build context directory.
	Context string `json:"context"`

	// Dockerfile is the Dockerfile path relative to Context.
	Dockerfile string `json:"dockerfile,omitempty"`

	// Args are build-time variables.
	Args map[string]string `json:"args,omitempty"`

	// Target selects a stage of a multi-stage Dockerfile.
	Target string `json:"target,omitempty"`
}

// Service is a named template for one or more replica containers.
type Service struct {
	Name string `json:"name"`

	// Image is the image reference containers are created from. For services
	// with a Build spec and no explicit image this is "<project>_<service>".
	Image string `json:"image"`

	// Build is non-nil when the image is built from a local context.
	Build *BuildSpec `json:"build,omitempty"`

	Command     []string          `json:"command,omitempty"`
	Environment map[string]string `json:"environment,omitempty"`

	// Ports holds port specs in "[[ip:]host:]container[/proto]" form.
	Ports []string `json:"ports,omitempty"`

	// Volumes holds mount specs in "source:target[:mode]" form with bind
	// sources already made absolute.
	Volumes []string `json:"volumes,omitempty"`

	Labels  map[string]string `json:"labels,omitempty"`
	Restart string            `json:"restart,omitempty"`

	// Replicas is the declared replica count. Zero is valid and scales the
	// service down to nothing.
	Replicas int `json:"replicas"`

	// DependsOn lists the names of services that must be running first.
	DependsOn []string `json:"dependsOn,omitempty"`

	// Fingerprint is the digest of every runtime-affecting field. It is
	// derived by the loader and excludes Replicas and DependsOn.
	Fingerprint string `json:"fingerprint"`
}

// ContainerName returns the conventional container name for a replica.
// The name is cosmetic; ownership is decided by labels only.
func ContainerName(project, service string, index int) string {
	return fmt.Sprintf("%s_%s_%d", project, service, index)
}

// DefaultImageName returns the image reference used for a built service
// that does not declare an explicit image.
func DefaultImageName(project, service string) string {
	return project + "_" + service
}

// nameRegex validates project and service names: lowercase alphanumerics,
// hyphens and underscores, starting with an alphanumeric.
var nameRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// ValidateName checks if the given project or service name can be used in
// container names and labels.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("name must not be empty")
	}
	if !nameRegex.MatchString(name) {
		return fmt.Errorf("invalid name %q: must contain only lowercase alphanumeric characters, hyphens and underscores, and start with an alphanumeric", name)
	}
	return nil
}

// SanitizeName lower-cases s and drops every character that ValidateName
// would reject. It is used to derive a project name from a directory name.
func SanitizeName(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			if b.Len() > 0 {
				b.WriteRune(r)
			}
		}
	}
	return b.String()
}

// ReplicaSlot is the pair (service name, replica index), the atomic unit
// of reconciliation.
type ReplicaSlot struct {
	Service string `json:"service"`
	Index   int    `json:"index"`
}

// String returns "service-index", the form used in logs and reports.
func (s ReplicaSlot) String() string {
	return fmt.Sprintf("%s-%d", s.Service, s.Index)
}

// Less orders slots by service name, then by replica index.
func (s ReplicaSlot) Less(o ReplicaSlot) bool {
	if s.Service != o.Service {
		return s.Service < o.Service
	}
	return s.Index < o.Index
}

// ContainerStatus is the lifecycle status reported by the runtime.
type ContainerStatus string

const (
	// ContainerCreated means the container exists but was never started.
	ContainerCreated ContainerStatus = "created"

	// ContainerRunning means the container's main process is running.
	ContainerRunning ContainerStatus = "running"

	// ContainerExited means the container was started and has stopped.
	ContainerExited ContainerStatus = "exited"

	// ContainerUnknown covers every other runtime state (dead, removing, ...).
	// A container in this state is recreated rather than reused.
	ContainerUnknown ContainerStatus = "unknown"
)

// String satisfies fmt.Stringer.
func (s ContainerStatus) String() string {
	return string(s)
}

// ParseContainerStatus maps a runtime state string onto ContainerStatus.
// Docker and Podman both report "created", "running" and "exited"; Podman
// also reports "configured" and "stopped" for the same conditions.
func ParseContainerStatus(state string) ContainerStatus {
	switch strings.ToLower(strings.TrimSpace(state)) {
	case "created", "configured", "initialized":
		return ContainerCreated
	case "running", "restarting", "paused":
		return ContainerRunning
	case "exited", "stopped":
		return ContainerExited
	default:
		return ContainerUnknown
	}
}

// ContainerRecord is the runtime's observed truth for one container.
// Backends fill ID, Name, Status and Labels; the state inspector derives
// Slot, Fingerprint and Valid from the labels.
type ContainerRecord struct {
	ID     string            `json:"id"`
	Name   string            `json:"name"`
	Status ContainerStatus   `json:"status"`
	Labels map[string]string `json:"labels,omitempty"`

	// Slot is the replica slot this container implements.
	Slot ReplicaSlot `json:"slot"`

	// Fingerprint is the service fingerprint recorded at creation time.
	Fingerprint string `json:"fingerprint"`

	// Valid is false when the container carries the project label but its
	// service, replica or fingerprint metadata could not be parsed.
	Valid bool `json:"valid"`
}

// ShortID returns the first 12 characters of the container ID.
func (c ContainerRecord) ShortID() string {
	if len(c.ID) > 12 {
		return c.ID[:12]
	}
	return c.ID
}
