package engine

import (
	"context"

	"github.com/mmr-tortoise/flotilla/internal/fingerprint"
	"github.com/mmr-tortoise/flotilla/internal/model"
	"github.com/mmr-tortoise/flotilla/internal/reconcile"
)

// Container states reported by Ps, relative to the specification.
const (
	StateUpToDate  = "up-to-date"
	StateOutdated  = "outdated"
	StateSurplus   = "surplus"
	StateDuplicate = "duplicate"
	StateOrphan    = "orphan"
)

// PsEntry describes one container owned by the project.
type PsEntry struct {
	Name        string                `json:"name"`
	ID          string                `json:"id"`
	Service     string                `json:"service"`
	Replica     int                   `json:"replica"`
	Status      model.ContainerStatus `json:"status"`
	Fingerprint string                `json:"fingerprint,omitempty"`

	// State compares the container with the specification.
	State string `json:"state"`
}

// Ps lists the project's containers. It performs no mutation.
func (e *Engine) Ps(ctx context.Context) ([]PsEntry, error) {
	s, err := e.open(ctx)
	if err != nil {
		return nil, err
	}
	defer s.close()

	snap, err := reconcile.Inspect(ctx, s.rt, s.project.Name)
	if err != nil {
		return nil, err
	}
	return psEntries(s.project, snap), nil
}

func psEntries(project *model.Project, snap *reconcile.Snapshot) []PsEntry {
	duplicate := make(map[string]bool, len(snap.Duplicates))
	for _, rec := range snap.Duplicates {
		duplicate[rec.ID] = true
	}

	all := snap.All()
	entries := make([]PsEntry, 0, len(all))
	for _, rec := range all {
		entry := PsEntry{
			Name:    rec.Name,
			ID:      rec.ShortID(),
			Service: rec.Slot.Service,
			Replica: rec.Slot.Index,
			Status:  rec.Status,
		}
		if rec.Fingerprint != "" {
			entry.Fingerprint = fingerprint.Short(rec.Fingerprint)
		}

		svc := project.Service(rec.Slot.Service)
		switch {
		case !rec.Valid || svc == nil:
			entry.State = StateOrphan
		case duplicate[rec.ID]:
			entry.State = StateDuplicate
		case rec.Slot.Index >= svc.Replicas:
			entry.State = StateSurplus
		case rec.Fingerprint != svc.Fingerprint:
			entry.State = StateOutdated
		default:
			entry.State = StateUpToDate
		}
		entries = append(entries, entry)
	}
	return entries
}
