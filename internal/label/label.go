// Package label defines the container label schema that carries project
// ownership and replica metadata. Labels are the sole persistence
// mechanism: every run rebuilds observed state from them.
//
// All keys share the "io.flotilla." prefix to avoid collisions with labels
// set by other tools or by the user's own specification.
package label

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mmr-tortoise/flotilla/internal/fingerprint"
	"github.com/mmr-tortoise/flotilla/internal/model"
)

const (
	// Prefix is the common prefix for all flotilla labels.
	Prefix = "io.flotilla."

	// Project identifies the owning project. A container is owned by a
	// project if and only if it carries this label with the project name.
	Project = Prefix + "project"

	// Service stores the service name the container implements.
	Service = Prefix + "service"

	// Replica stores the replica index as a decimal string.
	Replica = Prefix + "replica"

	// Fingerprint stores the service fingerprint at creation time.
	Fingerprint = Prefix + "fingerprint"

	// Version stores the schema version so future releases can migrate.
	Version = Prefix + "version"
)

// SchemaVersion is written into the Version label.
const SchemaVersion = "1"

// Build returns the label set for a replica container of svc. The user's
// own service labels are included first so that the ownership labels can
// never be overridden from the specification.
func Build(project string, svc *model.Service, index int) map[string]string {
	labels := make(map[string]string, len(svc.Labels)+5)
	for k, v := range svc.Labels {
		labels[k] = v
	}
	labels[Project] = project
	labels[Service] = svc.Name
	labels[Replica] = strconv.Itoa(index)
	labels[Fingerprint] = svc.Fingerprint
	labels[Version] = SchemaVersion
	return labels
}

// ProjectFilter returns the key=value filter string used to list a
// project's containers server-side.
func ProjectFilter(project string) string {
	return Project + "=" + project
}

// Owned reports whether labels mark the container as owned by project.
func Owned(labels map[string]string, project string) bool {
	return labels[Project] == project
}

// Parse extracts the replica slot and fingerprint from a container's labels.
// Missing or malformed service/replica labels are an error; callers treat
// such containers as orphans. A missing fingerprint is not an error.
func Parse(labels map[string]string) (model.ReplicaSlot, string, error) {
	var missing []string
	for _, key := range []string{Service, Replica} {
		if _, ok := labels[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return model.ReplicaSlot{}, "", fmt.Errorf("missing required labels: %s", strings.Join(missing, ", "))
	}

	service := labels[Service]
	if err := model.ValidateName(service); err != nil {
		return model.ReplicaSlot{}, "", fmt.Errorf("invalid label %s: %w", Service, err)
	}

	index, err := strconv.Atoi(labels[Replica])
	if err != nil || index < 0 {
		return model.ReplicaSlot{}, "", fmt.Errorf("invalid label %s=%q: must be a non-negative integer", Replica, labels[Replica])
	}

	fp, ok := labels[Fingerprint]
	if err := fingerprint.Validate(fp); !ok || err != nil {
		// A damaged or absent fingerprint still identifies the slot. The
		// empty fingerprint never equals a computed one, so the diff
		// recreates it.
		fp = ""
	}

	return model.ReplicaSlot{Service: service, Index: index}, fp, nil
}

// NetworkLabels returns the labels attached to the project network.
func NetworkLabels(project string) map[string]string {
	return map[string]string{
		Project: project,
		Version: SchemaVersion,
	}
}
