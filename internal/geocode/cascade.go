// Package geocode converts free-text place mentions into coordinates via a
// cascade of progressively simplified Nominatim queries.
package geocode

import "strings"

// Cascade derives the ordered, deduplicated list of queries tried for one
// raw place mention. The first element is always the input verbatim; later
// entries drop venue names and interior segments to approximate
// "city, country" style queries that the geocoder is more likely to match.
func Cascade(place string) []string {
	trimmed := strings.TrimSpace(place)
	if trimmed == "" {
		return nil
	}

	segments := splitSegments(trimmed)
	n := len(segments)

	candidates := []string{trimmed}
	if n >= 3 {
		// Drop the first segment, usually a specific venue or building.
		candidates = append(candidates, strings.Join(segments[1:], ", "))
	}
	if n >= 2 {
		// Venue plus the final segment, a "place, country" guess.
		candidates = append(candidates, segments[0]+", "+segments[n-1])
	}
	if n >= 4 {
		candidates = append(candidates, strings.Join(segments[n-3:], ", "))
	}
	if n >= 3 {
		candidates = append(candidates, strings.Join(segments[n-2:], ", "))
	}
	if n >= 2 {
		candidates = append(candidates, segments[0])
	}
	if n >= 3 {
		candidates = append(candidates, segments[1])
	}

	seen := make(map[string]struct{}, len(candidates))
	queries := make([]string, 0, len(candidates))
	for _, q := range candidates {
		if _, dup := seen[q]; dup {
			continue
		}
		seen[q] = struct{}{}
		queries = append(queries, q)
	}
	return queries
}

func splitSegments(place string) []string {
	parts := strings.Split(place, ",")
	segments := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			segments = append(segments, trimmed)
		}
	}
	return segments
}

// CacheKey normalizes a query for use as a cache key.
func CacheKey(query string) string {
	return strings.ToLower(strings.Join(strings.Fields(query), " "))
}
