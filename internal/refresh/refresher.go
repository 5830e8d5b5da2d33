// Package refresh orchestrates one refresh cycle: fetch raw records,
// normalize, aggregate, publish the result, and reconcile the calendar.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/fireworks-tonight/internal/calendar"
	"github.com/couchcryptid/fireworks-tonight/internal/domain"
	"github.com/couchcryptid/fireworks-tonight/internal/observability"
)

// Fetcher returns the raw event payloads for the current cycle.
type Fetcher interface {
	FetchEvents(ctx context.Context) ([][]byte, error)
}

// CalendarSink applies a calendar diff and reports per-item outcomes.
type CalendarSink interface {
	Apply(ctx context.Context, diff calendar.Diff) calendar.ApplyReport
}

// StateStore persists the committed calendar entry state across restarts.
type StateStore interface {
	Save(state calendar.EntryState) error
}

// Refresher runs the fetch-normalize-aggregate-reconcile cycle and holds the
// latest published result. RunCycle is not reentrant: the scheduler must
// serialize invocations (see scheduler.Scheduler's singleton mode), because
// the committed calendar state advances one version per cycle.
type Refresher struct {
	fetcher       Fetcher
	sink          CalendarSink
	states        StateStore
	reference     domain.Coordinates
	maxDistanceKm float64
	logger        *slog.Logger
	metrics       *observability.Metrics

	latest atomic.Pointer[domain.AggregatedResult]
	ready  atomic.Bool
	state  calendar.EntryState
}

// New creates a Refresher. seed is the calendar state recovered from the
// state store at startup.
func New(
	fetcher Fetcher,
	sink CalendarSink,
	states StateStore,
	reference domain.Coordinates,
	maxDistanceKm float64,
	seed calendar.EntryState,
	logger *slog.Logger,
	metrics *observability.Metrics,
) *Refresher {
	if seed == nil {
		seed = calendar.EntryState{}
	}
	return &Refresher{
		fetcher:       fetcher,
		sink:          sink,
		states:        states,
		reference:     reference,
		maxDistanceKm: maxDistanceKm,
		logger:        logger,
		metrics:       metrics,
		state:         seed,
	}
}

// Latest returns the most recently published result, or nil before the first
// successful cycle. The returned result is immutable.
func (r *Refresher) Latest() *domain.AggregatedResult {
	return r.latest.Load()
}

// CheckReadiness returns nil once at least one cycle has published a result.
func (r *Refresher) CheckReadiness(_ context.Context) error {
	if !r.ready.Load() {
		return errors.New("no refresh cycle has completed yet")
	}
	return nil
}

// RunCycle executes one refresh cycle. A fetch failure fails the cycle and
// leaves the previously published result and calendar state untouched:
// stale-but-present data is preferred over clearing everything on a
// transient outage.
func (r *Refresher) RunCycle(ctx context.Context) error {
	start := time.Now()
	r.metrics.RefreshRunning.Set(1)
	defer r.metrics.RefreshRunning.Set(0)
	defer func() {
		r.metrics.RefreshDuration.Observe(time.Since(start).Seconds())
	}()

	payloads, err := r.fetcher.FetchEvents(ctx)
	if err != nil {
		r.metrics.RefreshCycles.WithLabelValues("fetch_error").Inc()
		r.logger.Error("fetch failed, keeping previous results", "error", err)
		return fmt.Errorf("fetch events: %w", err)
	}
	r.metrics.RecordsFetched.Add(float64(len(payloads)))

	events, failures := domain.NormalizeBatch(payloads, r.reference)
	for _, failure := range failures {
		r.logger.Warn("skipping record", "kind", failure.Kind, "title", failure.Title, "error", failure.Err)
	}
	r.metrics.NormalizationFailures.Add(float64(len(failures)))

	result := domain.Aggregate(events, r.maxDistanceKm)
	r.latest.Store(&result)
	r.ready.Store(true)
	r.metrics.EventsNearby.Set(float64(result.Count))

	diff, _ := calendar.Reconcile(result, r.state)
	if diff.Empty() {
		r.metrics.RefreshCycles.WithLabelValues("success").Inc()
		r.logger.Info("refresh complete", "events", result.Count, "calendar_changes", 0)
		return nil
	}

	report := r.sink.Apply(ctx, diff)
	newState := calendar.Commit(r.state, diff, report)

	if err := r.states.Save(newState); err != nil {
		// The committed state stays at the previous version; the next cycle
		// recomputes and re-applies the same diff, which the sink tolerates.
		r.metrics.RefreshCycles.WithLabelValues("state_error").Inc()
		return fmt.Errorf("persist calendar state: %w", err)
	}
	r.state = newState

	if n := report.FailureCount(); n > 0 {
		r.metrics.RefreshCycles.WithLabelValues("apply_error").Inc()
		r.logger.Warn("calendar apply partially failed",
			"failed", n,
			"applied", len(report.Added)+len(report.Updated)+len(report.Removed),
		)
		return fmt.Errorf("calendar apply: %d of %d operations failed",
			n, n+len(report.Added)+len(report.Updated)+len(report.Removed))
	}

	r.metrics.RefreshCycles.WithLabelValues("success").Inc()
	r.logger.Info("refresh complete",
		"events", result.Count,
		"added", len(report.Added),
		"updated", len(report.Updated),
		"removed", len(report.Removed),
	)
	return nil
}
