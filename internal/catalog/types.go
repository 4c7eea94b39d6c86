// Package catalog defines the enriched title records shared with the map
// layer and the persistence that maintains them across runs.
package catalog

// ContentType distinguishes movies from series in provider lookups.
type ContentType string

// Content types recognized by the metadata provider.
const (
	TypeMovie  ContentType = "movie"
	TypeSeries ContentType = "series"
)

// Location is one geocoded filming location. City and Country fall back to
// "Unknown" rather than being omitted; the downstream generators rely on that.
type Location struct {
	Lat              float64 `json:"lat"`
	Lng              float64 `json:"lng"`
	City             string  `json:"city"`
	Country          string  `json:"country"`
	Place            string  `json:"place"`
	SceneDescription string  `json:"scene_description,omitempty"`
}

// ContentRecord is one movie or series entry with its enriched locations.
// ID is the stable IMDb title id and is unique within the catalog.
type ContentRecord struct {
	ID        string      `json:"id"`
	Title     string      `json:"title"`
	Year      int         `json:"year"`
	IMDbID    string      `json:"imdb_id"`
	TMDbID    int         `json:"tmdb_id"`
	Type      ContentType `json:"type"`
	Genres    []string    `json:"genres"`
	Poster    string      `json:"poster,omitempty"`
	Trailer   string      `json:"trailer,omitempty"`
	Rating    float64     `json:"rating,omitempty"`
	Locations []Location  `json:"locations"`
}
