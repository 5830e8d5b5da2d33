package domain

import "sort"

// Aggregate filters events to those within maxDistanceKm of the reference
// point (inclusive), collapses duplicate identity keys keeping the first
// occurrence, and sorts ascending by distance with identity key as the
// deterministic tie-break. A maxDistanceKm <= 0 is a valid configuration
// meaning the search is disabled and yields an empty result.
//
// The input slice is not mutated.
func Aggregate(events []Event, maxDistanceKm float64) AggregatedResult {
	filtered := make([]Event, 0, len(events))
	if maxDistanceKm > 0 {
		seen := make(map[string]struct{}, len(events))
		for _, event := range events {
			if event.DistanceKm > maxDistanceKm {
				continue
			}
			if _, dup := seen[event.IdentityKey]; dup {
				continue
			}
			seen[event.IdentityKey] = struct{}{}
			filtered = append(filtered, event)
		}
	}

	sort.Slice(filtered, func(i, j int) bool {
		if filtered[i].DistanceKm != filtered[j].DistanceKm {
			return filtered[i].DistanceKm < filtered[j].DistanceKm
		}
		return filtered[i].IdentityKey < filtered[j].IdentityKey
	})

	result := AggregatedResult{
		Events:      filtered,
		Count:       len(filtered),
		GeneratedAt: clock.Now(),
	}
	if len(filtered) > 0 {
		closest := filtered[0]
		result.Closest = &closest
	}
	return result
}
