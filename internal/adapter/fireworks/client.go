// Package fireworks implements the client for the fireworks-tonight.au
// public API. The configured postcode is resolved to a location id through
// the locations endpoints (memoized across refresh cycles), then events are
// fetched for a rolling window of days.
package fireworks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/couchcryptid/fireworks-tonight/internal/config"
	"github.com/couchcryptid/fireworks-tonight/internal/observability"
)

// ErrLocationNotFound is returned when the API has no location matching the
// configured postcode.
var ErrLocationNotFound = errors.New("no location found for postcode")

const (
	maxRetries     = 2
	initialBackoff = 500 * time.Millisecond
)

// Client fetches raw event records from the fireworks-tonight.au API.
type Client struct {
	baseURL    string
	postcode   string
	days       int
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	cache      *lruCache
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates an API client from service configuration.
func NewClient(cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) *Client {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "fireworks-api",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})

	return &Client{
		baseURL:    strings.TrimSuffix(cfg.APIBaseURL, "/"),
		postcode:   cfg.Postcode,
		days:       cfg.FetchDays,
		httpClient: &http.Client{Timeout: cfg.APITimeout},
		breaker:    breaker,
		cache:      newLRUCache(cfg.LocationCacheSize),
		metrics:    metrics,
		logger:     logger,
	}
}

// FetchEvents returns the raw event payloads for the configured postcode's
// location over the configured window. Payloads are returned undecoded so a
// single malformed record cannot fail the batch; the normalizer handles
// per-record decoding.
func (c *Client) FetchEvents(ctx context.Context) ([][]byte, error) {
	locationID, err := c.locationID(ctx)
	if err != nil {
		c.metrics.FetchRequests.WithLabelValues("error").Inc()
		return nil, err
	}

	params := url.Values{
		"location": {strconv.Itoa(locationID)},
		"days":     {strconv.Itoa(c.days)},
	}
	body, err := c.doGet(ctx, c.baseURL+"/events?"+params.Encode())
	if err != nil {
		c.metrics.FetchRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("fetch events: %w", err)
	}

	var records []json.RawMessage
	if err := json.Unmarshal(body, &records); err != nil {
		c.metrics.FetchRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("decode events response: %w", err)
	}

	payloads := make([][]byte, len(records))
	for i, rec := range records {
		payloads[i] = []byte(rec)
	}

	c.metrics.FetchRequests.WithLabelValues("success").Inc()
	return payloads, nil
}

// locationID resolves the configured postcode to a location id via the
// locations endpoints. Resolved ids are cached so only the first refresh
// cycle pays for the two-step lookup.
func (c *Client) locationID(ctx context.Context) (int, error) {
	if id, ok := c.cache.get(c.postcode); ok {
		c.metrics.LocationCache.WithLabelValues("hit").Inc()
		return id, nil
	}
	c.metrics.LocationCache.WithLabelValues("miss").Inc()

	locality, postcode, err := c.lookupLocality(ctx)
	if err != nil {
		return 0, err
	}

	params := url.Values{
		"locality": {strings.ToLower(locality)},
		"postcode": {postcode},
	}
	body, err := c.doGet(ctx, c.baseURL+"/locations?"+params.Encode())
	if err != nil {
		return 0, fmt.Errorf("lookup location id: %w", err)
	}

	var locations []struct {
		ID int `json:"id"`
	}
	if err := json.Unmarshal(body, &locations); err != nil {
		return 0, fmt.Errorf("decode locations response: %w", err)
	}
	if len(locations) == 0 {
		return 0, fmt.Errorf("%w: %s", ErrLocationNotFound, c.postcode)
	}

	id := locations[0].ID
	c.cache.put(c.postcode, id)
	return id, nil
}

// lookupLocality finds the "<locality>, <postcode>" pair matching the
// configured postcode prefix.
func (c *Client) lookupLocality(ctx context.Context) (locality, postcode string, err error) {
	params := url.Values{"startswith": {c.postcode}}
	body, err := c.doGet(ctx, c.baseURL+"/locations?"+params.Encode())
	if err != nil {
		return "", "", fmt.Errorf("lookup locality: %w", err)
	}

	var names []string
	if err := json.Unmarshal(body, &names); err != nil {
		return "", "", fmt.Errorf("decode locality response: %w", err)
	}
	if len(names) == 0 {
		return "", "", fmt.Errorf("%w: %s", ErrLocationNotFound, c.postcode)
	}

	parts := strings.SplitN(names[0], ",", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("unexpected locality format: %q", names[0])
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), nil
}

// doGet executes a GET through the circuit breaker with bounded retries.
// Rate limiting and server errors are retried; client errors are not.
func (c *Client) doGet(ctx context.Context, fullURL string) ([]byte, error) {
	backoff := initialBackoff

	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		body, err := c.execute(ctx, fullURL)
		if err == nil {
			return body, nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("circuit open: %w", err)
		}
		if !retryable(err) || attempt >= maxRetries {
			return nil, err
		}

		c.logger.Warn("api request failed, retrying",
			"url", fullURL, "attempt", attempt+1, "error", err)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
	}
}

func (c *Client) execute(ctx context.Context, fullURL string) ([]byte, error) {
	result, err := c.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errNetwork, err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return nil, errRateLimited
		case resp.StatusCode >= 500:
			return nil, fmt.Errorf("%w: status %d", errServerError, resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			body, _ := io.ReadAll(resp.Body)
			return nil, fmt.Errorf("api error: status %d: %s", resp.StatusCode, body)
		}

		return io.ReadAll(resp.Body)
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}

var (
	errRateLimited = errors.New("rate limited")
	errServerError = errors.New("server error")
	errNetwork     = errors.New("network error")
)

func retryable(err error) bool {
	return errors.Is(err, errRateLimited) || errors.Is(err, errServerError) || errors.Is(err, errNetwork)
}
