package reconcile

import (
	"sort"

	"github.com/mmr-tortoise/flotilla/internal/model"
)

// Diff computes the container actions that converge snap towards project
// for cmd. It is pure: the same inputs always produce the same list, in
// service-name order regardless of map iteration.
//
// Orphans (containers of services absent from project) are not handled
// here; see Orphans.
func Diff(project *model.Project, snap *Snapshot, cmd model.Command) []model.Action {
	var actions []model.Action
	for _, name := range project.ServiceNames() {
		svc := project.Services[name]
		switch cmd {
		case model.CommandUp:
			actions = append(actions, diffUp(svc, snap)...)
		case model.CommandStop:
			actions = append(actions, diffStop(svc, snap)...)
		case model.CommandDown:
			actions = append(actions, diffDown(svc, snap)...)
		}
	}
	return actions
}

// diffUp handles one service for the up command:
//
//	no container                          → Create
//	fingerprint differs                   → Recreate
//	fingerprint equal, running            → NoOp
//	fingerprint equal, created or exited  → Start
//	fingerprint equal, unknown status     → Recreate
//
// Containers at index >= Replicas are removed highest index first, and
// duplicate containers of a slot are removed.
func diffUp(svc *model.Service, snap *Snapshot) []model.Action {
	var actions []model.Action

	for i := 0; i < svc.Replicas; i++ {
		slot := model.ReplicaSlot{Service: svc.Name, Index: i}
		rec := snap.Records[slot]

		action := model.Action{Slot: slot, Service: svc, Container: rec}
		switch {
		case rec == nil:
			action.Kind = model.ActionCreate
			action.Reason = "missing"
		case rec.Fingerprint != svc.Fingerprint:
			action.Kind = model.ActionRecreate
			action.Reason = "configuration changed"
		case rec.Status == model.ContainerRunning:
			action.Kind = model.ActionNoOp
			action.Reason = "up to date"
		case rec.Status == model.ContainerCreated || rec.Status == model.ContainerExited:
			action.Kind = model.ActionStart
			action.Reason = "not running"
		default:
			action.Kind = model.ActionRecreate
			action.Reason = "container in unknown state"
		}
		actions = append(actions, action)
	}

	// Scale down: highest index first so low indices stay the most stable.
	existing := snap.ByService(svc.Name)
	for j := len(existing) - 1; j >= 0; j-- {
		rec := existing[j]
		if rec.Slot.Index < svc.Replicas {
			break
		}
		actions = append(actions, model.Action{
			Kind:      model.ActionRemove,
			Slot:      rec.Slot,
			Service:   svc,
			Container: rec,
			Reason:    "scale down",
		})
	}

	return append(actions, duplicateRemovals(svc, snap)...)
}

// diffStop stops every running container of the service, duplicates
// included.
func diffStop(svc *model.Service, snap *Snapshot) []model.Action {
	var actions []model.Action
	for _, rec := range serviceRecords(svc.Name, snap) {
		if rec.Status != model.ContainerRunning {
			continue
		}
		actions = append(actions, model.Action{
			Kind:      model.ActionStop,
			Slot:      rec.Slot,
			Service:   svc,
			Container: rec,
			Reason:    "stop",
		})
	}
	return actions
}

// diffDown removes every container of the service, duplicates included.
func diffDown(svc *model.Service, snap *Snapshot) []model.Action {
	var actions []model.Action
	for _, rec := range serviceRecords(svc.Name, snap) {
		actions = append(actions, model.Action{
			Kind:      model.ActionRemove,
			Slot:      rec.Slot,
			Service:   svc,
			Container: rec,
			Reason:    "down",
		})
	}
	return actions
}

func duplicateRemovals(svc *model.Service, snap *Snapshot) []model.Action {
	var actions []model.Action
	for _, rec := range snap.Duplicates {
		if rec.Slot.Service != svc.Name {
			continue
		}
		actions = append(actions, model.Action{
			Kind:      model.ActionRemove,
			Slot:      rec.Slot,
			Service:   svc,
			Container: rec,
			Reason:    "duplicate of " + snap.Records[rec.Slot].ShortID(),
		})
	}
	return actions
}

// serviceRecords returns primaries (highest index first) followed by
// duplicates of the service.
func serviceRecords(service string, snap *Snapshot) []*model.ContainerRecord {
	recs := snap.ByService(service)
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Slot.Index > recs[j].Slot.Index })
	for _, rec := range snap.Duplicates {
		if rec.Slot.Service == service {
			recs = append(recs, rec)
		}
	}
	return recs
}
