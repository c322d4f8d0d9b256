package reconcile

import (
	"context"
	"errors"
	"sort"

	"github.com/mmr-tortoise/flotilla/internal/label"
	"github.com/mmr-tortoise/flotilla/internal/model"
)

// Lister is the read-only part of the runtime adapter the inspector needs.
type Lister interface {
	Name() string
	ListOwnedContainers(ctx context.Context, project string) ([]model.ContainerRecord, error)
}

// Snapshot is the observed state of one project, derived from container
// labels on every run and never cached.
type Snapshot struct {
	Project string

	// Records maps each occupied replica slot to its container. When a slot
	// has several containers, the one with the lowest ID is kept here.
	Records map[model.ReplicaSlot]*model.ContainerRecord

	// Duplicates holds the additional containers found for an occupied
	// slot, sorted by slot then ID.
	Duplicates []*model.ContainerRecord

	// Invalid holds owned containers whose service or replica labels could
	// not be parsed, sorted by ID.
	Invalid []*model.ContainerRecord
}

// Inspect lists the project's containers and indexes them by replica slot.
// It performs no mutation.
//
// A listing failure is returned as a *model.ConnectionError so the command
// aborts before anything is changed.
func Inspect(ctx context.Context, rt Lister, project string) (*Snapshot, error) {
	records, err := rt.ListOwnedContainers(ctx, project)
	if err != nil {
		var connErr *model.ConnectionError
		if errors.As(err, &connErr) {
			return nil, err
		}
		return nil, &model.ConnectionError{Backend: rt.Name(), Err: err}
	}
	return NewSnapshot(project, records), nil
}

// NewSnapshot builds a snapshot from raw records. Records not owned by
// project are ignored.
func NewSnapshot(project string, records []model.ContainerRecord) *Snapshot {
	snap := &Snapshot{
		Project: project,
		Records: make(map[model.ReplicaSlot]*model.ContainerRecord),
	}

	// Sorting by ID first makes "lowest ID wins" fall out of insertion order.
	sorted := make([]model.ContainerRecord, 0, len(records))
	for _, r := range records {
		if label.Owned(r.Labels, project) {
			sorted = append(sorted, r)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	for i := range sorted {
		rec := &sorted[i]
		slot, fp, err := label.Parse(rec.Labels)
		if err != nil {
			rec.Valid = false
			snap.Invalid = append(snap.Invalid, rec)
			continue
		}
		rec.Slot = slot
		rec.Fingerprint = fp
		rec.Valid = true

		if _, taken := snap.Records[slot]; taken {
			snap.Duplicates = append(snap.Duplicates, rec)
			continue
		}
		snap.Records[slot] = rec
	}

	sort.SliceStable(snap.Duplicates, func(i, j int) bool {
		return snap.Duplicates[i].Slot.Less(snap.Duplicates[j].Slot)
	})
	return snap
}

// ByService returns the primary records of service, sorted by replica index.
func (s *Snapshot) ByService(service string) []*model.ContainerRecord {
	var out []*model.ContainerRecord
	for slot, rec := range s.Records {
		if slot.Service == service {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slot.Index < out[j].Slot.Index })
	return out
}

// All returns every owned container in the snapshot: primaries sorted by
// slot, then duplicates, then invalid records.
func (s *Snapshot) All() []*model.ContainerRecord {
	out := make([]*model.ContainerRecord, 0, len(s.Records)+len(s.Duplicates)+len(s.Invalid))
	for _, rec := range s.Records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slot.Less(out[j].Slot) })
	out = append(out, s.Duplicates...)
	return append(out, s.Invalid...)
}
