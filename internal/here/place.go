package here

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/banshee-data/geocluster/internal/geo"
)

// Suggestion is one place matching a partial query.
type Suggestion struct {
	Title  string          `json:"title"`
	Value  string          `json:"value"`
	Coord  geo.LatLng      `json:"coord"`
	Result json.RawMessage `json:"res"`
}

// PlaceAutoSuggest returns places near center matching search. Entries
// without a vicinity (categories, query completions) are dropped.
func (c *Client) PlaceAutoSuggest(ctx context.Context, center geo.LatLng, search string) ([]Suggestion, error) {
	q := c.query(Params{"at": coord(center), "q": search}, nil)
	body, err := c.rest(ctx, http.MethodGet, c.BuildURL("places", "api.here.com/places/v1/autosuggest"), q, false)
	if err != nil {
		return nil, fmt.Errorf("autosuggest %q: %w", search, err)
	}
	var reply struct {
		Results []json.RawMessage `json:"results"`
	}
	if err := json.Unmarshal(body, &reply); err != nil {
		return nil, fmt.Errorf("autosuggest %q: decode: %w", search, err)
	}

	out := []Suggestion{}
	for _, raw := range reply.Results {
		var place struct {
			Title    string    `json:"title"`
			Vicinity string    `json:"vicinity"`
			Position []float64 `json:"position"`
		}
		if err := json.Unmarshal(raw, &place); err != nil || place.Vicinity == "" {
			continue
		}
		ll, err := geo.FromSlice(place.Position)
		if err != nil {
			continue
		}
		out = append(out, Suggestion{
			Title:  place.Title,
			Value:  place.Title + ", " + strings.ReplaceAll(place.Vicinity, "<br/>", ", "),
			Coord:  ll,
			Result: raw,
		})
	}
	return out, nil
}
