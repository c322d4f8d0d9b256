// Package fingerprint computes the deterministic configuration digest that
// is recorded on every container at creation time and compared on every
// run to detect drift.
//
// The digest covers every service field that affects runtime behaviour.
// It deliberately excludes the replica count and replica index (scaling
// must not recreate surviving replicas) and the dependency list (a change
// in ordering does not change what runs inside the container).
package fingerprint

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/opencontainers/go-digest"

	"github.com/mmr-tortoise/flotilla/internal/model"
)

// canonicalService is the serialised form that gets hashed. encoding/json
// writes map keys in sorted order and struct fields in declaration order,
// so equal services always produce identical bytes.
type canonicalService struct {
	Image       string            `json:"image"`
	Build       *canonicalBuild   `json:"build,omitempty"`
	Command     []string          `json:"command,omitempty"`
	Environment map[string]string `json:"environment,omitempty"`
	Ports       []string          `json:"ports,omitempty"`
	Volumes     []string          `json:"volumes,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
	Restart     string            `json:"restart,omitempty"`
	Network     string            `json:"network"`
}

type canonicalBuild struct {
	Context    string            `json:"context"`
	Dockerfile string            `json:"dockerfile,omitempty"`
	Args       map[string]string `json:"args,omitempty"`
	Target     string            `json:"target,omitempty"`
}

// Compute returns the fingerprint of svc as attached to network, in the
// "sha256:<hex>" form.
//
// Ports and volumes are hashed in sorted order: reordering them in the
// specification does not change the container that gets created.
func Compute(svc *model.Service, network string) (string, error) {
	c := canonicalService{
		Image:       svc.Image,
		Command:     svc.Command,
		Environment: nonEmpty(svc.Environment),
		Ports:       sortedCopy(svc.Ports),
		Volumes:     sortedCopy(svc.Volumes),
		Labels:      nonEmpty(svc.Labels),
		Restart:     svc.Restart,
		Network:     network,
	}
	if svc.Build != nil {
		c.Build = &canonicalBuild{
			Context:    svc.Build.Context,
			Dockerfile: svc.Build.Dockerfile,
			Args:       nonEmpty(svc.Build.Args),
			Target:     svc.Build.Target,
		}
	}

	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to serialise service %q for fingerprinting: %w", svc.Name, err)
	}
	return digest.FromBytes(data).String(), nil
}

// Apply computes and stores the fingerprint of every service in project.
func Apply(project *model.Project) error {
	for _, name := range project.ServiceNames() {
		svc := project.Services[name]
		fp, err := Compute(svc, project.Network)
		if err != nil {
			return err
		}
		svc.Fingerprint = fp
	}
	return nil
}

// Validate checks that s is a well-formed digest string. Containers whose
// recorded fingerprint fails validation are treated as outdated.
func Validate(s string) error {
	d, err := digest.Parse(s)
	if err != nil {
		return fmt.Errorf("invalid fingerprint %q: %w", s, err)
	}
	return d.Validate()
}

// Short returns the first 12 hex characters of a fingerprint for display.
func Short(s string) string {
	d, err := digest.Parse(s)
	if err != nil {
		return s
	}
	hex := d.Encoded()
	if len(hex) > 12 {
		return hex[:12]
	}
	return hex
}

func sortedCopy(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	sort.Strings(out)
	return out
}

func nonEmpty(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	return m
}
