package port

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/docker/go-connections/nat"

	"github.com/mmr-tortoise/flotilla/internal/model"
)

// Checker reports whether a host port can be bound.
type Checker interface {
	IsPortAvailable(hostIP string, port int, protocol string) bool
}

// Binding is one fixed host port published by a service.
type Binding struct {
	HostIP   string
	Port     int
	Protocol string
}

// String returns "[ip:]port/proto".
func (b Binding) String() string {
	if b.HostIP != "" {
		return fmt.Sprintf("%s:%d/%s", b.HostIP, b.Port, b.Protocol)
	}
	return fmt.Sprintf("%d/%s", b.Port, b.Protocol)
}

// HostBindings returns the fixed host ports published by svc. Ports left to
// the runtime to choose are omitted. Specs are validated by the loader, so
// unparseable entries are skipped.
func HostBindings(svc *model.Service) []Binding {
	var out []Binding
	for _, spec := range svc.Ports {
		mappings, err := nat.ParsePortSpec(spec)
		if err != nil {
			continue
		}
		for _, m := range mappings {
			if m.Binding.HostPort == "" {
				continue
			}
			p, err := strconv.Atoi(m.Binding.HostPort)
			if err != nil || p == 0 {
				continue
			}
			out = append(out, Binding{HostIP: m.Binding.HostIP, Port: p, Protocol: m.Port.Proto()})
		}
	}
	return out
}

// Conflict is a fixed host port that a pending action needs but that is
// already bound on the host.
type Conflict struct {
	Slot    model.ReplicaSlot
	Binding Binding
}

// String describes the conflict for a report warning.
func (c Conflict) String() string {
	return fmt.Sprintf("host port %s needed by %s is already in use", c.Binding, c.Slot)
}

// Preflight probes the host ports of actions that will start a container
// which does not hold its ports yet: creates and starts. Recreated
// containers are skipped because their old container holds the port until
// it is removed. Each binding is probed once.
func Preflight(checker Checker, actions []model.Action) []Conflict {
	probed := map[Binding]bool{}
	var out []Conflict
	for _, a := range actions {
		if a.Orphan || a.Service == nil {
			continue
		}
		if a.Kind != model.ActionCreate && a.Kind != model.ActionStart {
			continue
		}
		for _, b := range HostBindings(a.Service) {
			if probed[b] {
				continue
			}
			probed[b] = true
			if !checker.IsPortAvailable(b.HostIP, b.Port, b.Protocol) {
				out = append(out, Conflict{Slot: a.Slot, Binding: b})
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Slot.Less(out[j].Slot) })
	return out
}
