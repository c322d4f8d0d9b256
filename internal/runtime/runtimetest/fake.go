// Package runtimetest provides an in-memory runtime.Adapter for tests.
//
// Fake records every call with a global sequence number, tracks the
// highest number of concurrently executing calls, and lets tests inject
// failures and delays per operation and replica slot.
package runtimetest

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/containerd/errdefs"

	"github.com/mmr-tortoise/flotilla/internal/label"
	"github.com/mmr-tortoise/flotilla/internal/model"
	"github.com/mmr-tortoise/flotilla/internal/runtime"
)

// Op names an adapter operation.
type Op string

const (
	OpPing          Op = "ping"
	OpList          Op = "list"
	OpCreate        Op = "create"
	OpStart         Op = "start"
	OpStop          Op = "stop"
	OpRemove        Op = "remove"
	OpBuild         Op = "build"
	OpPull          Op = "pull"
	OpImageExists   Op = "image-exists"
	OpEnsureNetwork Op = "ensure-network"
	OpRemoveNetwork Op = "remove-network"
)

// Mutating reports whether the operation changes runtime state.
func (o Op) Mutating() bool {
	switch o {
	case OpCreate, OpStart, OpStop, OpRemove, OpBuild, OpPull, OpEnsureNetwork, OpRemoveNetwork:
		return true
	}
	return false
}

// Call is one recorded adapter invocation.
type Call struct {
	Seq  int
	Op   Op
	ID   string
	Slot model.ReplicaSlot

	// Target is the image reference or network name for non-container ops.
	Target string
}

// AnyReplica matches every replica index in FailOn and DelayOn.
const AnyReplica = -1

type rule struct {
	op      Op
	service string
	index   int
	err     error
	delay   time.Duration
}

func (r rule) matches(op Op, slot model.ReplicaSlot) bool {
	if r.op != op {
		return false
	}
	if r.service != "" && r.service != slot.Service {
		return false
	}
	return r.index == AnyReplica || r.index == slot.Index
}

// Fake is a thread-safe in-memory container runtime.
type Fake struct {
	mu         sync.Mutex
	nextID     int
	seq        int
	containers map[string]*model.ContainerRecord
	images     map[string]bool
	networks   map[string]map[string]string
	calls      []Call
	failures   []rule
	delays     []rule

	inFlight      int
	maxConcurrent int

	// PingErr, when set, is returned from Ping as a connection error.
	PingErr error
}

var _ runtime.Adapter = (*Fake)(nil)

// New returns an empty Fake.
func New() *Fake {
	return &Fake{
		containers: map[string]*model.ContainerRecord{},
		images:     map[string]bool{},
		networks:   map[string]map[string]string{},
	}
}

// FailOn makes op fail with err for the given service and replica. An empty
// service matches all services; index may be AnyReplica.
func (f *Fake) FailOn(op Op, service string, index int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, rule{op: op, service: service, index: index, err: err})
}

// DelayOn makes op sleep for d before completing.
func (f *Fake) DelayOn(op Op, service string, index int, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delays = append(f.delays, rule{op: op, service: service, index: index, delay: d})
}

// AddImage marks ref as present locally.
func (f *Fake) AddImage(ref string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.images[ref] = true
}

// AddContainer inserts a container as if a previous run had created it and
// returns its ID.
func (f *Fake) AddContainer(name string, status model.ContainerStatus, labels map[string]string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.newID()
	f.containers[id] = &model.ContainerRecord{ID: id, Name: name, Status: status, Labels: copyLabels(labels)}
	return id
}

// Seed adds a container for replica index of svc, labelled exactly as
// CreateContainer would label it.
func (f *Fake) Seed(project *model.Project, svc *model.Service, index int, status model.ContainerStatus) string {
	spec := runtime.NewContainerSpec(project, svc, index)
	return f.AddContainer(spec.Name, status, spec.Labels)
}

// Containers returns a snapshot of every container sorted by ID.
func (f *Fake) Containers() []model.ContainerRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.ContainerRecord, 0, len(f.containers))
	for _, c := range f.containers {
		rec := *c
		rec.Labels = copyLabels(c.Labels)
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Container returns the container with id.
func (f *Fake) Container(id string) (model.ContainerRecord, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok {
		return model.ContainerRecord{}, false
	}
	return *c, true
}

// HasNetwork reports whether the network exists.
func (f *Fake) HasNetwork(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.networks[name]
	return ok
}

// HasImage reports whether the image exists.
func (f *Fake) HasImage(ref string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.images[ref]
}

// Calls returns the recorded calls in sequence order.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallsFor returns the recorded calls of op.
func (f *Fake) CallsFor(op Op) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Mutations returns the number of recorded state-changing calls.
func (f *Fake) Mutations() int {
	n := 0
	for _, c := range f.Calls() {
		if c.Op.Mutating() {
			n++
		}
	}
	return n
}

// MaxConcurrent returns the highest number of calls observed in flight.
func (f *Fake) MaxConcurrent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxConcurrent
}

// begin records the call, applies delays and returns the injected error.
// The caller must invoke the returned end function.
func (f *Fake) begin(op Op, id string, slot model.ReplicaSlot, target string) (func(), error) {
	f.mu.Lock()
	f.seq++
	f.calls = append(f.calls, Call{Seq: f.seq, Op: op, ID: id, Slot: slot, Target: target})
	f.inFlight++
	if f.inFlight > f.maxConcurrent {
		f.maxConcurrent = f.inFlight
	}
	var delay time.Duration
	for _, r := range f.delays {
		if r.matches(op, slot) {
			delay = r.delay
		}
	}
	var err error
	for _, r := range f.failures {
		if r.matches(op, slot) {
			err = r.err
			break
		}
	}
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	return func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}, err
}

// slotOf resolves a container ID to its slot from its labels.
func (f *Fake) slotOf(id string) model.ReplicaSlot {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok {
		return model.ReplicaSlot{}
	}
	slot, _, err := label.Parse(c.Labels)
	if err != nil {
		return model.ReplicaSlot{Service: c.Labels[label.Service], Index: AnyReplica}
	}
	return slot
}

func (f *Fake) newID() string {
	f.nextID++
	return fmt.Sprintf("c%04d", f.nextID)
}

// Name implements runtime.Adapter.
func (f *Fake) Name() string { return "fake" }

// Ping implements runtime.Adapter.
func (f *Fake) Ping(ctx context.Context) error {
	end, err := f.begin(OpPing, "", model.ReplicaSlot{}, "")
	defer end()
	if f.PingErr != nil {
		return &model.ConnectionError{Backend: "fake", Err: f.PingErr}
	}
	return err
}

// Close implements runtime.Adapter.
func (f *Fake) Close() error { return nil }

// ListOwnedContainers implements runtime.Adapter.
func (f *Fake) ListOwnedContainers(ctx context.Context, project string) ([]model.ContainerRecord, error) {
	end, err := f.begin(OpList, "", model.ReplicaSlot{}, project)
	defer end()
	if err != nil {
		return nil, err
	}
	var out []model.ContainerRecord
	for _, c := range f.Containers() {
		if label.Owned(c.Labels, project) {
			out = append(out, c)
		}
	}
	return out, nil
}

// CreateContainer implements runtime.Adapter.
func (f *Fake) CreateContainer(ctx context.Context, spec runtime.ContainerSpec) (string, error) {
	end, err := f.begin(OpCreate, "", spec.Slot(), spec.Service.Image)
	defer end()
	if err != nil {
		return "", err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.containers {
		if c.Name == spec.Name {
			return "", fmt.Errorf("container name %q is already in use by %s: %w", spec.Name, c.ID, errdefs.ErrConflict)
		}
	}
	id := f.newID()
	f.containers[id] = &model.ContainerRecord{ID: id, Name: spec.Name, Status: model.ContainerCreated, Labels: copyLabels(spec.Labels)}
	return id, nil
}

// StartContainer implements runtime.Adapter.
func (f *Fake) StartContainer(ctx context.Context, id string) error {
	return f.transition(OpStart, id, model.ContainerRunning)
}

// StopContainer implements runtime.Adapter.
func (f *Fake) StopContainer(ctx context.Context, id string, timeout time.Duration) error {
	return f.transition(OpStop, id, model.ContainerExited)
}

func (f *Fake) transition(op Op, id string, to model.ContainerStatus) error {
	end, err := f.begin(op, id, f.slotOf(id), "")
	defer end()
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok {
		return fmt.Errorf("no such container %s: %w", id, errdefs.ErrNotFound)
	}
	c.Status = to
	return nil
}

// RemoveContainer implements runtime.Adapter. Like the Docker API without
// force, removing a running container fails.
func (f *Fake) RemoveContainer(ctx context.Context, id string) error {
	end, err := f.begin(OpRemove, id, f.slotOf(id), "")
	defer end()
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok {
		return fmt.Errorf("no such container %s: %w", id, errdefs.ErrNotFound)
	}
	if c.Status == model.ContainerRunning {
		return fmt.Errorf("cannot remove running container %s: %w", id, errdefs.ErrConflict)
	}
	delete(f.containers, id)
	return nil
}

// BuildImage implements runtime.Adapter.
func (f *Fake) BuildImage(ctx context.Context, req runtime.BuildRequest) (string, error) {
	end, err := f.begin(OpBuild, "", model.ReplicaSlot{Service: req.Service, Index: AnyReplica}, req.Image)
	defer end()
	if err != nil {
		return "", err
	}
	f.AddImage(req.Image)
	return req.Image, nil
}

// ImageExists implements runtime.Adapter.
func (f *Fake) ImageExists(ctx context.Context, ref string) (bool, error) {
	end, err := f.begin(OpImageExists, "", model.ReplicaSlot{}, ref)
	defer end()
	if err != nil {
		return false, err
	}
	return f.HasImage(ref), nil
}

// PullImage implements runtime.Adapter. Failures are keyed by the image
// reference through the service field of FailOn.
func (f *Fake) PullImage(ctx context.Context, ref string) error {
	end, err := f.begin(OpPull, "", model.ReplicaSlot{Service: ref, Index: AnyReplica}, ref)
	defer end()
	if err != nil {
		return err
	}
	f.AddImage(ref)
	return nil
}

// EnsureNetwork implements runtime.Adapter.
func (f *Fake) EnsureNetwork(ctx context.Context, name string, labels map[string]string) error {
	end, err := f.begin(OpEnsureNetwork, "", model.ReplicaSlot{}, name)
	defer end()
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.networks[name]; !ok {
		f.networks[name] = copyLabels(labels)
	}
	return nil
}

// RemoveNetwork implements runtime.Adapter.
func (f *Fake) RemoveNetwork(ctx context.Context, name string) error {
	end, err := f.begin(OpRemoveNetwork, "", model.ReplicaSlot{}, name)
	defer end()
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.networks, name)
	return nil
}

// ReplicaIndex returns the replica label of a recorded container as an int,
// or -1 when it is missing.
func ReplicaIndex(c model.ContainerRecord) int {
	i, err := strconv.Atoi(c.Labels[label.Replica])
	if err != nil {
		return -1
	}
	return i
}

func copyLabels(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
