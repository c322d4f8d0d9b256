package port

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mmr-tortoise/flotilla/internal/model"
)

// busyChecker reports the listed bindings as taken and records every probe.
type busyChecker struct {
	busy   map[Binding]bool
	probes []Binding
}

func (c *busyChecker) IsPortAvailable(hostIP string, port int, protocol string) bool {
	b := Binding{HostIP: hostIP, Port: port, Protocol: protocol}
	c.probes = append(c.probes, b)
	return !c.busy[b]
}

func TestHostBindings(t *testing.T) {
	svc := &model.Service{Name: "web", Ports: []string{"80", "8080:80", "127.0.0.1:5353:53/udp", "9000-9001:9000-9001"}}

	got := HostBindings(svc)

	assert.Equal(t, []Binding{
		{Port: 8080, Protocol: "tcp"},
		{HostIP: "127.0.0.1", Port: 5353, Protocol: "udp"},
		{Port: 9000, Protocol: "tcp"},
		{Port: 9001, Protocol: "tcp"},
	}, got)
}

func TestPreflight(t *testing.T) {
	// Arrange
	web := &model.Service{Name: "web", Ports: []string{"8080:80"}}
	db := &model.Service{Name: "db", Ports: []string{"5432:5432"}}
	api := &model.Service{Name: "api", Ports: []string{"9090:9090"}}
	checker := &busyChecker{busy: map[Binding]bool{
		{Port: 8080, Protocol: "tcp"}: true,
		{Port: 9090, Protocol: "tcp"}: true,
	}}
	actions := []model.Action{
		{Kind: model.ActionCreate, Slot: model.ReplicaSlot{Service: "web"}, Service: web},
		{Kind: model.ActionStart, Slot: model.ReplicaSlot{Service: "db"}, Service: db},
		{Kind: model.ActionRecreate, Slot: model.ReplicaSlot{Service: "api"}, Service: api},
		{Kind: model.ActionNoOp, Slot: model.ReplicaSlot{Service: "api", Index: 1}, Service: api},
	}

	// Act
	conflicts := Preflight(checker, actions)

	// Assert
	assert.Len(t, checker.probes, 2, "recreate and noop are not probed")
	if assert.Len(t, conflicts, 1) {
		assert.Equal(t, "web", conflicts[0].Slot.Service)
		assert.Equal(t, "host port 8080/tcp needed by web-0 is already in use", conflicts[0].String())
	}
}
