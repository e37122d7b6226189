package here

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/banshee-data/geocluster/internal/geo"
)

// Position is a coordinate as the geocoder writes it.
type Position struct {
	Latitude  float64 `json:"Latitude"`
	Longitude float64 `json:"Longitude"`
}

func (p Position) LatLng() geo.LatLng { return geo.LatLng{Lat: p.Latitude, Lng: p.Longitude} }

// Address is a postal address.
type Address struct {
	Label       string `json:"Label"`
	Country     string `json:"Country"`
	State       string `json:"State"`
	County      string `json:"County"`
	City        string `json:"City"`
	District    string `json:"District"`
	Street      string `json:"Street"`
	HouseNumber string `json:"HouseNumber"`
	PostalCode  string `json:"PostalCode"`
}

// Location is one geocoder match.
type Location struct {
	LocationID         string     `json:"LocationId"`
	LocationType       string     `json:"LocationType"`
	DisplayPosition    Position   `json:"DisplayPosition"`
	NavigationPosition []Position `json:"NavigationPosition"`
	Address            Address    `json:"Address"`
}

type geocodeReply struct {
	Response struct {
		View []struct {
			Result []struct {
				Location Location `json:"Location"`
			} `json:"Result"`
		} `json:"View"`
	} `json:"Response"`
}

func (r *geocodeReply) first() (*Location, bool) {
	if len(r.Response.View) == 0 || len(r.Response.View[0].Result) == 0 {
		return nil, false
	}
	return &r.Response.View[0].Result[0].Location, true
}

// GeocodeResult is the best match for an address.
type GeocodeResult struct {
	Coord    geo.LatLng      `json:"coord"`
	Location Location        `json:"location"`
	Body     json.RawMessage `json:"body,omitempty"`
}

// Geocode resolves an address to the navigation position of its best match.
func (c *Client) Geocode(ctx context.Context, address string) (*GeocodeResult, error) {
	q := c.query(Params{"searchText": address}, nil)
	body, err := c.rest(ctx, http.MethodGet, c.BuildURL("geocoder", "api.here.com/6.2/geocode.json"), q, true)
	if err != nil {
		return nil, fmt.Errorf("geocode %q: %w", address, err)
	}
	var reply geocodeReply
	if err := json.Unmarshal(body, &reply); err != nil {
		return nil, fmt.Errorf("geocode %q: decode: %w", address, err)
	}
	loc, ok := reply.first()
	if !ok {
		return nil, fmt.Errorf("geocode address %q: %w", address, ErrNotFound)
	}
	pos := loc.DisplayPosition
	if len(loc.NavigationPosition) > 0 {
		pos = loc.NavigationPosition[0]
	}
	return &GeocodeResult{Coord: pos.LatLng(), Location: *loc, Body: body}, nil
}

// ReverseResult is the address found at a coordinate.
type ReverseResult struct {
	Location Location        `json:"location"`
	Address  Address         `json:"address"`
	Body     json.RawMessage `json:"body,omitempty"`
}

// ReverseGeocode returns the address nearest to ll.
func (c *Client) ReverseGeocode(ctx context.Context, ll geo.LatLng) (*ReverseResult, error) {
	q := c.query(Params{"mode": "retrieveAddresses", "prox": coord(ll)}, nil)
	body, err := c.rest(ctx, http.MethodGet, c.BuildURL("reverse.geocoder", "api.here.com/6.2/reversegeocode.json"), q, true)
	if err != nil {
		return nil, fmt.Errorf("reverse geocode %s: %w", ll, err)
	}
	var reply geocodeReply
	if err := json.Unmarshal(body, &reply); err != nil {
		return nil, fmt.Errorf("reverse geocode %s: decode: %w", ll, err)
	}
	loc, ok := reply.first()
	if !ok {
		return nil, fmt.Errorf("reverse geocode %s: %w", ll, ErrNotFound)
	}
	return &ReverseResult{Location: *loc, Address: loc.Address, Body: body}, nil
}
