package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FailureKind classifies why a raw record could not be normalized.
type FailureKind string

const (
	FailureBadPayload         FailureKind = "bad_payload"
	FailureMissingTitle       FailureKind = "missing_title"
	FailureMissingCoordinates FailureKind = "missing_coordinates"
	FailureInvalidCoordinates FailureKind = "invalid_coordinates"
)

// NormalizationFailure describes a single raw record that was skipped.
// Failures are collected for diagnostics and never abort a batch.
type NormalizationFailure struct {
	Kind  FailureKind
	Title string
	Err   error
}

func (f *NormalizationFailure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("normalize %q: %s: %v", f.Title, f.Kind, f.Err)
	}
	return fmt.Sprintf("normalize %q: %s", f.Title, f.Kind)
}

func (f *NormalizationFailure) Unwrap() error { return f.Err }

// combinedTimeLayouts are tried when a record carries separate date and
// wall-clock fields, matching the formats the API has been seen to emit.
var combinedTimeLayouts = []string{
	"2006-01-02 15:04",
	"2006-01-02 15:04:05",
	"02-01-2006 15:04",
	"02/01/2006 15:04",
}

// isoTimeLayouts are tried when start_time/end_time is a full datetime.
var isoTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

// NormalizeRecord converts one raw API payload into a canonical Event,
// computing its distance from the reference point and its identity key.
// On failure the returned error is a *NormalizationFailure.
func NormalizeRecord(payload []byte, reference Coordinates) (Event, error) {
	var rec RawEventRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return Event{}, &NormalizationFailure{Kind: FailureBadPayload, Err: err}
	}

	title := strings.TrimSpace(rec.Name)
	if title == "" {
		return Event{}, &NormalizationFailure{Kind: FailureMissingTitle}
	}

	lat, latOK := coordFloat(rec.Location.Coordinates.Latitude)
	lon, lonOK := coordFloat(rec.Location.Coordinates.Longitude)
	if !latOK || !lonOK {
		return Event{}, &NormalizationFailure{Kind: FailureMissingCoordinates, Title: title}
	}
	coords := Coordinates{Lat: lat, Lon: lon}

	distance, err := Distance(reference, coords)
	if err != nil {
		return Event{}, &NormalizationFailure{Kind: FailureInvalidCoordinates, Title: title, Err: err}
	}

	// Unparsable times stay nil: the record is still geographically valid and
	// counts toward the query surfaces, it just cannot become a calendar entry.
	start := parseEventTime(rec.Date, rec.StartTime)
	end := parseEventTime(rec.Date, rec.EndTime)

	return Event{
		IdentityKey: identityKey(title, coords, start),
		Title:       title,
		Location:    rec.RawLocation,
		Locality:    rec.Location.Locality,
		Coordinates: coords,
		DistanceKm:  distance,
		StartTime:   start,
		EndTime:     end,
		Description: rec.Description,
		Source:      rec.Source,
	}, nil
}

// NormalizeBatch normalizes a sequence of raw payloads, returning the
// successfully normalized events in input order and the collected failures.
// Partial success is the normal case, not an error state.
func NormalizeBatch(payloads [][]byte, reference Coordinates) ([]Event, []NormalizationFailure) {
	events := make([]Event, 0, len(payloads))
	var failures []NormalizationFailure

	for _, payload := range payloads {
		event, err := NormalizeRecord(payload, reference)
		if err != nil {
			if f, ok := err.(*NormalizationFailure); ok {
				failures = append(failures, *f)
			} else {
				failures = append(failures, NormalizationFailure{Kind: FailureBadPayload, Err: err})
			}
			continue
		}
		events = append(events, event)
	}

	return events, failures
}

// coordFloat coerces a loosely typed coordinate value to float64.
// Accepts JSON numbers and numeric strings; anything else is missing.
func coordFloat(v any) (float64, bool) {
	switch value := v.(type) {
	case float64:
		return value, true
	case string:
		value = strings.TrimSpace(value)
		if value == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// parseEventTime parses a record's time field. Values containing "T" are
// treated as full ISO-8601 datetimes; otherwise the value is combined with
// the record's date field. Parsed times are normalized to UTC so snapshot
// comparison and JSON round-trips are stable. Returns nil when nothing parses.
func parseEventTime(date, value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}

	if strings.Contains(value, "T") {
		for _, layout := range isoTimeLayouts {
			if t, err := time.Parse(layout, value); err == nil {
				t = t.UTC()
				return &t
			}
		}
		return nil
	}

	date = strings.TrimSpace(date)
	if date == "" {
		return nil
	}
	combined := date + " " + value
	for _, layout := range combinedTimeLayouts {
		if t, err := time.Parse(layout, combined); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// identityKey produces a deterministic fingerprint from the event's stable
// fields. Coordinates are rounded to 5 decimal places to absorb float jitter
// in the source data, so repeated fetches of the same display hash alike.
func identityKey(title string, coords Coordinates, start *time.Time) string {
	input := fmt.Sprintf("%s|%.5f|%.5f", title, coords.Lat, coords.Lon)
	if start != nil {
		input += "|" + start.Format(time.RFC3339)
	}
	hash := sha256.Sum256([]byte(input))
	return "fw-" + hex.EncodeToString(hash[:8])
}
