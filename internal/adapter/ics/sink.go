// Package ics materializes the reconciled calendar state as an iCalendar
// file that calendar applications can subscribe to.
package ics

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	ical "github.com/arran4/golang-ical"

	"github.com/couchcryptid/fireworks-tonight/internal/calendar"
	"github.com/couchcryptid/fireworks-tonight/internal/observability"
)

// Sink applies calendar diffs to an ICS file. The file is regenerated from
// the full entry set on every apply; writes are atomic (temp file + rename)
// so subscribers never observe a half-written calendar.
type Sink struct {
	path    string
	name    string
	metrics *observability.Metrics
	logger  *slog.Logger

	mu      sync.Mutex
	entries map[string]calendar.EntrySnapshot
}

// NewSink creates a Sink for the given file path. seed is the last committed
// entry state, so a restart resumes with the calendar it left behind instead
// of re-adding everything.
func NewSink(path, name string, seed calendar.EntryState, metrics *observability.Metrics, logger *slog.Logger) *Sink {
	entries := make(map[string]calendar.EntrySnapshot, len(seed))
	for key, snapshot := range seed {
		entries[key] = snapshot
	}
	return &Sink{
		path:    path,
		name:    name,
		metrics: metrics,
		logger:  logger,
		entries: entries,
	}
}

// Apply stages the diff against the current entry set and rewrites the ICS
// file. The write is all-or-nothing: on failure every operation in the diff
// is reported failed and the in-memory entry set is left unchanged, so the
// next cycle retries the whole diff.
func (s *Sink) Apply(ctx context.Context, diff calendar.Diff) calendar.ApplyReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	var report calendar.ApplyReport
	if err := ctx.Err(); err != nil {
		return s.failAll(diff, err)
	}

	staged := make(map[string]calendar.EntrySnapshot, len(s.entries))
	for key, snapshot := range s.entries {
		staged[key] = snapshot
	}
	for _, event := range diff.ToAdd {
		staged[event.IdentityKey] = calendar.Snapshot(event)
	}
	for _, update := range diff.ToUpdate {
		staged[update.IdentityKey] = calendar.Snapshot(update.Event)
	}
	for _, key := range diff.ToRemove {
		delete(staged, key)
	}

	if err := s.write(staged); err != nil {
		s.logger.Error("calendar write failed", "path", s.path, "error", err)
		return s.failAll(diff, err)
	}
	s.entries = staged

	for _, event := range diff.ToAdd {
		report.Added = append(report.Added, event.IdentityKey)
		s.metrics.CalendarOps.WithLabelValues("add", "success").Inc()
	}
	for _, update := range diff.ToUpdate {
		report.Updated = append(report.Updated, update.IdentityKey)
		s.metrics.CalendarOps.WithLabelValues("update", "success").Inc()
	}
	for _, key := range diff.ToRemove {
		report.Removed = append(report.Removed, key)
		s.metrics.CalendarOps.WithLabelValues("remove", "success").Inc()
	}
	return report
}

func (s *Sink) failAll(diff calendar.Diff, err error) calendar.ApplyReport {
	report := calendar.ApplyReport{Failed: make(map[string]error)}
	for _, event := range diff.ToAdd {
		report.Failed[event.IdentityKey] = err
		s.metrics.CalendarOps.WithLabelValues("add", "error").Inc()
	}
	for _, update := range diff.ToUpdate {
		report.Failed[update.IdentityKey] = err
		s.metrics.CalendarOps.WithLabelValues("update", "error").Inc()
	}
	for _, key := range diff.ToRemove {
		report.Failed[key] = err
		s.metrics.CalendarOps.WithLabelValues("remove", "error").Inc()
	}
	return report
}

func (s *Sink) write(entries map[string]calendar.EntrySnapshot) error {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId("-//fireworks-tonight//calendar//EN")
	cal.SetXWRCalName(s.name)

	keys := make([]string, 0, len(entries))
	for key := range entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	stamp := time.Now().UTC()
	for _, key := range keys {
		snapshot := entries[key]
		event := cal.AddEvent(key)
		event.SetDtStampTime(stamp)
		event.SetStartAt(snapshot.StartTime)
		event.SetEndAt(snapshot.EndTime)
		event.SetSummary(summaryFor(snapshot))
		event.SetLocation(snapshot.Location)
		event.SetDescription(descriptionFor(snapshot))
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create calendar dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".fireworks-*.ics")
	if err != nil {
		return fmt.Errorf("create temp calendar: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(cal.Serialize()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write calendar: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp calendar: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace calendar: %w", err)
	}
	return nil
}

// summaryFor prefers the human-readable location over the display title,
// matching how subscribers expect the entries to read ("Darling Harbour"
// rather than "NYE 9pm Session").
func summaryFor(snapshot calendar.EntrySnapshot) string {
	if snapshot.Location != "" {
		return snapshot.Location
	}
	return snapshot.Title
}

func descriptionFor(snapshot calendar.EntrySnapshot) string {
	description := snapshot.Description
	if description != "" {
		description += "\n\n"
	}
	description += fmt.Sprintf("Distance: %.1f km from home\nCoordinates: %g, %g",
		snapshot.DistanceKm, snapshot.Coordinates.Lat, snapshot.Coordinates.Lon)
	return description
}
