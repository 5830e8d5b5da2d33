package fireworks

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/fireworks-tonight/internal/config"
	"github.com/couchcryptid/fireworks-tonight/internal/observability"
)

const (
	testPostcode      = "2000"
	contentTypeJSON   = "application/json"
	headerContentType = "Content-Type"
)

func testClient(baseURL string) *Client {
	cfg := &config.Config{
		APIBaseURL:        baseURL,
		Postcode:          testPostcode,
		FetchDays:         7,
		APITimeout:        5 * time.Second,
		LocationCacheSize: 10,
	}
	return NewClient(cfg, observability.NewMetricsForTesting(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// apiHandler serves the three-endpoint lookup chain the real API exposes.
func apiHandler(t *testing.T, events []map[string]any, locationCalls *atomic.Int64) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(headerContentType, contentTypeJSON)
		switch {
		case r.URL.Path == "/locations" && r.URL.Query().Get("startswith") != "":
			locationCalls.Add(1)
			assert.Equal(t, testPostcode, r.URL.Query().Get("startswith"))
			require.NoError(t, json.NewEncoder(w).Encode([]string{"Sydney, 2000"}))
		case r.URL.Path == "/locations":
			assert.Equal(t, "sydney", r.URL.Query().Get("locality"))
			assert.Equal(t, testPostcode, r.URL.Query().Get("postcode"))
			require.NoError(t, json.NewEncoder(w).Encode([]map[string]any{{"id": 42}}))
		case r.URL.Path == "/events":
			assert.Equal(t, "42", r.URL.Query().Get("location"))
			assert.Equal(t, "7", r.URL.Query().Get("days"))
			require.NoError(t, json.NewEncoder(w).Encode(events))
		default:
			t.Errorf("unexpected request: %s", r.URL)
		}
	}
}

func TestClient_FetchEvents(t *testing.T) {
	events := []map[string]any{
		{"name": "Harbour Show", "date": "2025-01-01"},
		{"name": "Beach Show", "date": "2025-01-02"},
	}
	var locationCalls atomic.Int64
	srv := httptest.NewServer(apiHandler(t, events, &locationCalls))
	defer srv.Close()

	c := testClient(srv.URL)
	payloads, err := c.FetchEvents(context.Background())
	require.NoError(t, err)

	require.Len(t, payloads, 2)
	var first map[string]any
	require.NoError(t, json.Unmarshal(payloads[0], &first))
	assert.Equal(t, "Harbour Show", first["name"])
}

func TestClient_FetchEvents_LocationIDCached(t *testing.T) {
	var locationCalls atomic.Int64
	srv := httptest.NewServer(apiHandler(t, []map[string]any{}, &locationCalls))
	defer srv.Close()

	c := testClient(srv.URL)
	_, err := c.FetchEvents(context.Background())
	require.NoError(t, err)
	_, err = c.FetchEvents(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(1), locationCalls.Load(), "locality lookup should only run once")
}

func TestClient_FetchEvents_UnknownPostcode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set(headerContentType, contentTypeJSON)
		require.NoError(t, json.NewEncoder(w).Encode([]string{}))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	_, err := c.FetchEvents(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLocationNotFound)
}

func TestClient_FetchEvents_MalformedLocality(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set(headerContentType, contentTypeJSON)
		require.NoError(t, json.NewEncoder(w).Encode([]string{"no-comma-here"}))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	_, err := c.FetchEvents(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected locality format")
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set(headerContentType, contentTypeJSON)
		require.NoError(t, json.NewEncoder(w).Encode([]string{"Sydney, 2000"}))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	locality, postcode, err := c.lookupLocality(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "Sydney", locality)
	assert.Equal(t, testPostcode, postcode)
	assert.Equal(t, int64(2), calls.Load())
}

func TestClient_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	_, err := c.FetchEvents(context.Background())
	require.Error(t, err)
	assert.Equal(t, int64(1), calls.Load())
}

func TestClient_CircuitOpensAfterConsecutiveFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	// Each FetchEvents attempt burns through its retries; after three
	// consecutive breaker failures the circuit opens.
	for range 3 {
		_, err := c.FetchEvents(context.Background())
		require.Error(t, err)
	}

	_, err := c.execute(context.Background(), srv.URL+"/locations")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}

func TestClient_ContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	c := testClient(srv.URL)
	_, err := c.FetchEvents(ctx)
	require.Error(t, err)
}
