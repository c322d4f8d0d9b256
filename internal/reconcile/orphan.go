package reconcile

import (
	"fmt"
	"sort"

	"github.com/mmr-tortoise/flotilla/internal/model"
)

// Orphans returns every owned container whose service has no entry in
// project, plus containers whose metadata could not be parsed. A replica
// beyond the declared count is not an orphan; the diff scales it down.
func Orphans(project *model.Project, snap *Snapshot) []*model.ContainerRecord {
	var out []*model.ContainerRecord
	for _, rec := range snap.Records {
		if project.Service(rec.Slot.Service) == nil {
			out = append(out, rec)
		}
	}
	for _, rec := range snap.Duplicates {
		if project.Service(rec.Slot.Service) == nil {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Slot != out[j].Slot {
			return out[i].Slot.Less(out[j].Slot)
		}
		return out[i].ID < out[j].ID
	})
	return append(out, snap.Invalid...)
}

// OrphanActions turns orphans into Remove actions.
func OrphanActions(orphans []*model.ContainerRecord) []model.Action {
	actions := make([]model.Action, 0, len(orphans))
	for _, rec := range orphans {
		actions = append(actions, model.Action{
			Kind:      model.ActionRemove,
			Slot:      rec.Slot,
			Container: rec,
			Orphan:    true,
			Reason:    "orphan",
		})
	}
	return actions
}

// OrphanWarning describes an orphan that was left in place.
func OrphanWarning(rec *model.ContainerRecord) string {
	if !rec.Valid {
		return fmt.Sprintf("container %s (%s) carries unreadable project metadata; run with --remove-orphans to remove it", rec.Name, rec.ShortID())
	}
	return fmt.Sprintf("found orphan container %s (%s) for service %q which is not in the specification; run with --remove-orphans to remove it", rec.Name, rec.ShortID(), rec.Slot.Service)
}
