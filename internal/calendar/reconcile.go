// Package calendar reconciles the aggregated event set against a persistent
// calendar view. Each refresh cycle produces an add/update/remove diff; the
// sink applies it externally and only the applied portion is committed, so a
// partial failure is retried on the next cycle from the last committed state.
package calendar

import (
	"sort"
	"time"

	"github.com/couchcryptid/fireworks-tonight/internal/domain"
)

// EntrySnapshot is the last-applied materialized view of one calendar entry,
// keyed by the event's identity key in EntryState.
type EntrySnapshot struct {
	Title       string             `json:"title"`
	Location    string             `json:"location"`
	Coordinates domain.Coordinates `json:"coordinates"`
	DistanceKm  float64            `json:"distance_km"`
	StartTime   time.Time          `json:"start_time"`
	EndTime     time.Time          `json:"end_time"`
	Description string             `json:"description,omitempty"`
}

// EntryState maps identity keys to their last-applied snapshots. It is only
// advanced through Commit; Reconcile never mutates it.
type EntryState map[string]EntrySnapshot

func (s EntryState) clone() EntryState {
	out := make(EntryState, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Update pairs an identity key with the event replacing its snapshot.
type Update struct {
	IdentityKey string
	Event       domain.Event
}

// Diff is the set of calendar operations needed to make the calendar match
// the current aggregated result.
type Diff struct {
	ToAdd    []domain.Event
	ToUpdate []Update
	ToRemove []string
}

// Empty reports whether the diff contains no operations.
func (d Diff) Empty() bool {
	return len(d.ToAdd) == 0 && len(d.ToUpdate) == 0 && len(d.ToRemove) == 0
}

// Eligible reports whether an event can be materialized as a calendar entry:
// both times present and the end not before the start. Ineligible events stay
// in the query surfaces but never reach the calendar.
func Eligible(event domain.Event) bool {
	return event.StartTime != nil && event.EndTime != nil &&
		!event.EndTime.Before(*event.StartTime)
}

// Snapshot captures the materialized fields of an eligible event.
func Snapshot(event domain.Event) EntrySnapshot {
	return EntrySnapshot{
		Title:       event.Title,
		Location:    event.Location,
		Coordinates: event.Coordinates,
		DistanceKm:  event.DistanceKm,
		StartTime:   *event.StartTime,
		EndTime:     *event.EndTime,
		Description: event.Description,
	}
}

// Reconcile computes the diff between the current aggregated result and the
// previous state, together with the state that would result from a fully
// successful apply. Reconciling a state that already reflects the result
// yields an empty diff and an equal state.
//
// ToAdd and ToUpdate preserve the result's distance ordering; ToRemove is
// sorted by identity key for determinism.
func Reconcile(current domain.AggregatedResult, previous EntryState) (Diff, EntryState) {
	var diff Diff
	next := previous.clone()
	currentKeys := make(map[string]struct{}, len(current.Events))

	for _, event := range current.Events {
		if !Eligible(event) {
			continue
		}
		currentKeys[event.IdentityKey] = struct{}{}
		snapshot := Snapshot(event)

		stored, known := previous[event.IdentityKey]
		switch {
		case !known:
			diff.ToAdd = append(diff.ToAdd, event)
		case stored != snapshot:
			diff.ToUpdate = append(diff.ToUpdate, Update{IdentityKey: event.IdentityKey, Event: event})
		default:
			continue
		}
		next[event.IdentityKey] = snapshot
	}

	for key := range previous {
		if _, present := currentKeys[key]; !present {
			diff.ToRemove = append(diff.ToRemove, key)
			delete(next, key)
		}
	}
	sort.Strings(diff.ToRemove)

	return diff, next
}

// ApplyReport records the per-item outcomes of applying one diff to the sink.
type ApplyReport struct {
	Added   []string
	Updated []string
	Removed []string
	Failed  map[string]error
}

// FailureCount returns the number of operations the sink could not apply.
func (r ApplyReport) FailureCount() int { return len(r.Failed) }

// Commit advances previous by only the operations the sink reports as
// applied. Entries that failed to apply keep their previous state and are
// retried by the next cycle's reconciliation.
func Commit(previous EntryState, diff Diff, report ApplyReport) EntryState {
	added := make(map[string]domain.Event, len(diff.ToAdd))
	for _, event := range diff.ToAdd {
		added[event.IdentityKey] = event
	}
	updated := make(map[string]domain.Event, len(diff.ToUpdate))
	for _, u := range diff.ToUpdate {
		updated[u.IdentityKey] = u.Event
	}

	next := previous.clone()
	for _, key := range report.Added {
		if event, ok := added[key]; ok {
			next[key] = Snapshot(event)
		}
	}
	for _, key := range report.Updated {
		if event, ok := updated[key]; ok {
			next[key] = Snapshot(event)
		}
	}
	for _, key := range report.Removed {
		delete(next, key)
	}
	return next
}
