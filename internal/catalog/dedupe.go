package catalog

import "fmt"

// DedupeLocations collapses locations whose coordinates agree to 4 decimal
// places (~11m), keeping the first occurrence in original order.
func DedupeLocations(locations []Location) []Location {
	if len(locations) < 2 {
		return locations
	}
	seen := make(map[string]struct{}, len(locations))
	out := make([]Location, 0, len(locations))
	for _, loc := range locations {
		key := fmt.Sprintf("%.4f,%.4f", loc.Lat, loc.Lng)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, loc)
	}
	return out
}
