package domain

import "time"

// RawCoordinates holds the nested coordinate pair as delivered by the API.
// Values are decoded loosely: the upstream has been observed to emit numbers,
// numeric strings, and nulls for the same field.
type RawCoordinates struct {
	Latitude  any `json:"latitude"`
	Longitude any `json:"longitude"`
}

// RawLocation is the structured location object on a raw event record.
type RawLocation struct {
	Locality    string         `json:"locality"`
	Coordinates RawCoordinates `json:"coordinates"`
}

// RawEventRecord is the JSON shape of a single event from the events endpoint.
// Any field may be missing or malformed; the normalizer tolerates both.
type RawEventRecord struct {
	ID          int         `json:"id"`
	Name        string      `json:"name"`
	RawLocation string      `json:"rawlocation"`
	Location    RawLocation `json:"location"`
	Date        string      `json:"date"`
	StartTime   string      `json:"start_time"`
	EndTime     string      `json:"end_time"`
	Description string      `json:"description"`
	Source      string      `json:"source"`
}

// Event is the canonical representation after normalization.
type Event struct {
	IdentityKey string      `json:"identity_key"`
	Title       string      `json:"title"`
	Location    string      `json:"location"`
	Locality    string      `json:"locality,omitempty"`
	Coordinates Coordinates `json:"coordinates"`
	DistanceKm  float64     `json:"distance_km"`
	StartTime   *time.Time  `json:"start_time,omitempty"`
	EndTime     *time.Time  `json:"end_time,omitempty"`
	Description string      `json:"description,omitempty"`
	Source      string      `json:"source,omitempty"`
}

// AggregatedResult is the published event set for one refresh cycle, sorted
// ascending by distance. Created fresh each cycle and never mutated; the next
// cycle's result supersedes it.
type AggregatedResult struct {
	Events      []Event   `json:"events"`
	Count       int       `json:"count"`
	Closest     *Event    `json:"closest,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
}
