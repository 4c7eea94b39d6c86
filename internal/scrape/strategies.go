package scrape

import (
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Strategy extracts raw location mentions from a rendered page snapshot.
// Strategies are tried in priority order; the first non-empty result wins.
type Strategy struct {
	Name    string
	Extract func(doc *goquery.Document) []RawLocation
}

// DefaultStrategies returns the extraction chain in priority order:
// structured cards, embedded page data, keyword heuristics.
func DefaultStrategies() []Strategy {
	return []Strategy{
		{Name: "cards", Extract: extractCards},
		{Name: "page-data", Extract: extractPageData},
		{Name: "heuristic", Extract: extractHeuristic},
	}
}

var cardSelectors = []string{
	"div[data-testid='sub-section-flmg_locations'] li[data-testid='list-item']",
	"div[data-testid='sub-section-flmg_locations'] li.ipc-metadata-list__item",
	"ul.ipc-metadata-list li.ipc-metadata-list__item",
}

// extractCards reads the structured location cards. This is the most
// reliable strategy and the only one that captures scene descriptions from
// the sibling attribute elements.
func extractCards(doc *goquery.Document) []RawLocation {
	var locations []RawLocation
	for _, selector := range cardSelectors {
		doc.Find(selector).Each(func(_ int, item *goquery.Selection) {
			place := strings.TrimSpace(item.Find("a.ipc-link").First().Text())
			if place == "" {
				place = strings.TrimSpace(item.Find("a").First().Text())
			}
			if place == "" {
				return
			}
			scene := strings.TrimSpace(item.Find("[data-testid='item-attributes']").First().Text())
			locations = append(locations, RawLocation{
				Place: place,
				Scene: trimSceneParens(scene),
			})
		})
		if len(locations) > 0 {
			return locations
		}
	}
	return nil
}

type pageData struct {
	Props struct {
		PageProps struct {
			ContentData struct {
				Categories []struct {
					ID      string `json:"id"`
					Section struct {
						Items []struct {
							RowTitle string `json:"rowTitle"`
							CardText string `json:"cardText"`
						} `json:"items"`
					} `json:"section"`
				} `json:"categories"`
			} `json:"contentData"`
		} `json:"pageProps"`
	} `json:"props"`
}

// extractPageData reads the embedded JSON payload that drives the page.
// Scene text is not available through this shape.
func extractPageData(doc *goquery.Document) []RawLocation {
	raw := doc.Find("script#__NEXT_DATA__").First().Text()
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var data pageData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil
	}

	var locations []RawLocation
	for _, category := range data.Props.PageProps.ContentData.Categories {
		if category.ID != "" && !strings.Contains(category.ID, "locations") {
			continue
		}
		for _, item := range category.Section.Items {
			place := strings.TrimSpace(item.RowTitle)
			if place == "" {
				place = strings.TrimSpace(item.CardText)
			}
			if place != "" {
				locations = append(locations, RawLocation{Place: place})
			}
		}
	}
	return locations
}

var boilerplatePhrases = []string{
	"see more",
	"show more",
	"edit page",
	"create a list",
	"sign in",
	"related news",
	"getting started",
	"contributor zone",
	"recently viewed",
	"it looks like we don't have any",
	"be the first to contribute",
	"learn more",
	"faq",
}

// extractHeuristic scans list items within sections whose heading mentions
// filming or locations, filtering out navigation boilerplate. Last resort
// when the page markup has drifted from both structured shapes.
func extractHeuristic(doc *goquery.Document) []RawLocation {
	var locations []RawLocation
	doc.Find("section, div[data-testid]").Each(func(_ int, section *goquery.Selection) {
		heading := strings.ToLower(strings.TrimSpace(section.Find("h1, h2, h3").First().Text()))
		if !strings.Contains(heading, "filming") && !strings.Contains(heading, "location") {
			return
		}
		section.Find("li").Each(func(_ int, item *goquery.Selection) {
			text := strings.TrimSpace(item.Find("a").First().Text())
			if text == "" {
				text = strings.TrimSpace(item.Text())
			}
			if !plausiblePlace(text) {
				return
			}
			locations = append(locations, RawLocation{Place: text})
		})
	})
	return dedupePlaces(locations)
}

func plausiblePlace(text string) bool {
	if len(text) < 3 || len(text) > 200 {
		return false
	}
	lower := strings.ToLower(text)
	for _, phrase := range boilerplatePhrases {
		if strings.Contains(lower, phrase) {
			return false
		}
	}
	// Real location mentions are almost always "place, region, country".
	return strings.Contains(text, ",")
}

func dedupePlaces(locations []RawLocation) []RawLocation {
	seen := make(map[string]struct{}, len(locations))
	out := locations[:0]
	for _, loc := range locations {
		key := strings.ToLower(loc.Place)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, loc)
	}
	return out
}

// trimSceneParens strips the enclosing parentheses the page renders around
// scene attributes.
func trimSceneParens(scene string) string {
	scene = strings.TrimSpace(scene)
	if strings.HasPrefix(scene, "(") && strings.HasSuffix(scene, ")") {
		scene = strings.TrimSpace(scene[1 : len(scene)-1])
	}
	return scene
}
