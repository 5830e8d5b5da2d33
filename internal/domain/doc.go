// Package domain models fireworks display events sourced from the
// fireworks-tonight.au public API.
//
// # Data Source
//
// The API lists upcoming fireworks displays for Australian localities. The
// client resolves a configured postcode to a location id and fetches events
// for a rolling window (default 7 days). Each event arrives as JSON with a
// display name, a free-text location string, a nested coordinate pair, and
// separate date and time fields.
//
// # Source Data Conventions
//
// Date and time format:
//
//	"date":       "2025-11-25"  (ISO date, no zone)
//	"start_time": "20:15"       (24-hour wall clock)
//	"end_time":   "20:45"
//
//	Some records carry full ISO-8601 datetimes in start_time/end_time instead;
//	both forms are accepted. The API does not publish a timezone, so naive
//	times are taken as written; parsed times are stored in UTC for stable
//	comparison. Records with unparsable times keep a nil start/end: they still
//	count toward the distance-based query surfaces but are never materialized
//	as calendar entries.
//
// Coordinates:
//
//	WGS-84 decimal degrees. Observed to jitter in the low decimal places
//	between fetches of the same display, so identity keys round coordinates to
//	5 decimal places (~1 m) before hashing.
//
// # Identity Keys
//
// The API's numeric ids are not stable across re-publishes of the same
// display, so events are identified by a deterministic hash of the trimmed
// title, rounded coordinates, and start time. Repeated fetches of an unchanged
// display therefore reconcile to the same calendar entry instead of
// duplicating it.
package domain
