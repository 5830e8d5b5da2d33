package refresh_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/fireworks-tonight/internal/calendar"
	"github.com/couchcryptid/fireworks-tonight/internal/domain"
	"github.com/couchcryptid/fireworks-tonight/internal/observability"
	"github.com/couchcryptid/fireworks-tonight/internal/refresh"
)

var reference = domain.Coordinates{Lat: -33.87, Lon: 151.21}

// --- mocks ---

type mockFetcher struct {
	payloads [][]byte
	err      error
	calls    int
}

func (m *mockFetcher) FetchEvents(_ context.Context) ([][]byte, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.payloads, nil
}

// mockSink records applied diffs and fails the keys listed in failKeys.
type mockSink struct {
	diffs    []calendar.Diff
	failKeys map[string]bool
}

func (m *mockSink) Apply(_ context.Context, diff calendar.Diff) calendar.ApplyReport {
	m.diffs = append(m.diffs, diff)

	report := calendar.ApplyReport{Failed: make(map[string]error)}
	for _, event := range diff.ToAdd {
		if m.failKeys[event.IdentityKey] {
			report.Failed[event.IdentityKey] = errors.New("sink unavailable")
			continue
		}
		report.Added = append(report.Added, event.IdentityKey)
	}
	for _, update := range diff.ToUpdate {
		if m.failKeys[update.IdentityKey] {
			report.Failed[update.IdentityKey] = errors.New("sink unavailable")
			continue
		}
		report.Updated = append(report.Updated, update.IdentityKey)
	}
	for _, key := range diff.ToRemove {
		if m.failKeys[key] {
			report.Failed[key] = errors.New("sink unavailable")
			continue
		}
		report.Removed = append(report.Removed, key)
	}
	return report
}

type mockStore struct {
	saved []calendar.EntryState
	err   error
}

func (m *mockStore) Save(state calendar.EntryState) error {
	if m.err != nil {
		return m.err
	}
	m.saved = append(m.saved, state)
	return nil
}

func mustTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func payload(title string, lat, lon float64) []byte {
	return fmt.Appendf(nil,
		`{"name":%q,"rawlocation":"%s Park","location":{"coordinates":{"latitude":%g,"longitude":%g}},"date":"2025-01-01","start_time":"20:00","end_time":"20:30"}`,
		title, title, lat, lon)
}

func newRefresher(fetcher *mockFetcher, sink *mockSink, store *mockStore, seed calendar.EntryState) *refresh.Refresher {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return refresh.New(fetcher, sink, store, reference, 10, seed, logger, observability.NewMetricsForTesting())
}

// --- tests ---

func TestRunCycle_HappyPath(t *testing.T) {
	fetcher := &mockFetcher{payloads: [][]byte{
		payload("Harbour Show", -33.85, 151.21),
		payload("Far Show", -34.50, 150.80),
	}}
	sink := &mockSink{}
	store := &mockStore{}
	r := newRefresher(fetcher, sink, store, nil)

	require.NoError(t, r.RunCycle(context.Background()))

	result := r.Latest()
	require.NotNil(t, result)
	assert.Equal(t, 1, result.Count)
	require.NotNil(t, result.Closest)
	assert.Equal(t, "Harbour Show", result.Closest.Title)
	assert.InDelta(t, 2.22, result.Closest.DistanceKm, 0.05)

	require.Len(t, sink.diffs, 1)
	assert.Len(t, sink.diffs[0].ToAdd, 1)
	require.Len(t, store.saved, 1)
	assert.Len(t, store.saved[0], 1)

	assert.NoError(t, r.CheckReadiness(context.Background()))
}

func TestRunCycle_NotReadyBeforeFirstCycle(t *testing.T) {
	r := newRefresher(&mockFetcher{}, &mockSink{}, &mockStore{}, nil)
	assert.Error(t, r.CheckReadiness(context.Background()))
	assert.Nil(t, r.Latest())
}

func TestRunCycle_SecondIdenticalCycleIsNoop(t *testing.T) {
	fetcher := &mockFetcher{payloads: [][]byte{payload("Harbour Show", -33.85, 151.21)}}
	sink := &mockSink{}
	store := &mockStore{}
	r := newRefresher(fetcher, sink, store, nil)

	require.NoError(t, r.RunCycle(context.Background()))
	require.NoError(t, r.RunCycle(context.Background()))

	// The empty diff never reaches the sink and the state is not re-saved.
	assert.Len(t, sink.diffs, 1)
	assert.Len(t, store.saved, 1)
}

func TestRunCycle_FetchErrorKeepsPreviousResult(t *testing.T) {
	fetcher := &mockFetcher{payloads: [][]byte{payload("Harbour Show", -33.85, 151.21)}}
	sink := &mockSink{}
	store := &mockStore{}
	r := newRefresher(fetcher, sink, store, nil)

	require.NoError(t, r.RunCycle(context.Background()))
	before := r.Latest()

	fetcher.err = errors.New("api down")
	err := r.RunCycle(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch events")

	assert.Same(t, before, r.Latest(), "published result must survive a failed fetch")
	assert.Len(t, store.saved, 1, "state must not advance on a failed fetch")
	assert.NoError(t, r.CheckReadiness(context.Background()))
}

func TestRunCycle_NormalizationFailuresAreSkipped(t *testing.T) {
	fetcher := &mockFetcher{payloads: [][]byte{
		payload("Harbour Show", -33.85, 151.21),
		[]byte(`{"name":"No Coords"}`),
		[]byte("{broken"),
	}}
	r := newRefresher(fetcher, &mockSink{}, &mockStore{}, nil)

	require.NoError(t, r.RunCycle(context.Background()))
	assert.Equal(t, 1, r.Latest().Count)
}

func TestRunCycle_PartialApplyFailureIsRetried(t *testing.T) {
	fetcher := &mockFetcher{payloads: [][]byte{
		payload("Harbour Show", -33.85, 151.21),
		payload("Beach Show", -33.89, 151.27),
	}}
	sink := &mockSink{}
	store := &mockStore{}
	r := newRefresher(fetcher, sink, store, nil)

	// Find the identity key of one event so we can fail it.
	require.NoError(t, r.RunCycle(context.Background()))
	require.Len(t, sink.diffs, 1)
	failedKey := sink.diffs[0].ToAdd[0].IdentityKey

	// Fresh refresher, same input, one key failing at the sink.
	sink2 := &mockSink{failKeys: map[string]bool{failedKey: true}}
	store2 := &mockStore{}
	r2 := newRefresher(fetcher, sink2, store2, nil)

	err := r2.RunCycle(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 operations failed")

	// Committed state holds only the applied entry.
	require.Len(t, store2.saved, 1)
	assert.Len(t, store2.saved[0], 1)
	assert.NotContains(t, store2.saved[0], failedKey)

	// Next cycle retries only the unapplied entry.
	sink2.failKeys = nil
	require.NoError(t, r2.RunCycle(context.Background()))
	require.Len(t, sink2.diffs, 2)
	retry := sink2.diffs[1]
	require.Len(t, retry.ToAdd, 1)
	assert.Equal(t, failedKey, retry.ToAdd[0].IdentityKey)
	assert.Empty(t, retry.ToUpdate)
	assert.Empty(t, retry.ToRemove)
}

func TestRunCycle_StateSaveFailureDoesNotAdvance(t *testing.T) {
	fetcher := &mockFetcher{payloads: [][]byte{payload("Harbour Show", -33.85, 151.21)}}
	sink := &mockSink{}
	store := &mockStore{err: errors.New("disk full")}
	r := newRefresher(fetcher, sink, store, nil)

	err := r.RunCycle(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "persist calendar state")

	// State did not advance, so the next cycle re-applies the same diff.
	store.err = nil
	require.NoError(t, r.RunCycle(context.Background()))
	require.Len(t, sink.diffs, 2)
	assert.Len(t, sink.diffs[1].ToAdd, 1)
}

func TestRunCycle_SeededStateRemovesVanishedEvents(t *testing.T) {
	gone := domain.Event{IdentityKey: "fw-gone"}
	start := mustTime("2025-01-01T19:00:00Z")
	end := mustTime("2025-01-01T19:30:00Z")
	gone.StartTime, gone.EndTime = &start, &end

	seed := calendar.EntryState{"fw-gone": calendar.Snapshot(gone)}
	fetcher := &mockFetcher{payloads: nil}
	sink := &mockSink{}
	store := &mockStore{}
	r := newRefresher(fetcher, sink, store, seed)

	require.NoError(t, r.RunCycle(context.Background()))

	require.Len(t, sink.diffs, 1)
	assert.Equal(t, []string{"fw-gone"}, sink.diffs[0].ToRemove)
	require.Len(t, store.saved, 1)
	assert.Empty(t, store.saved[0])
}
