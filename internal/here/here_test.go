package here

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/geocluster/internal/geo"
	"github.com/banshee-data/geocluster/internal/httputil"
)

var testCreds = Credentials{AppID: "id", AppCode: "code"}

func TestBuildURL(t *testing.T) {
	tests := []struct {
		creds Credentials
		want  string
	}{
		{Credentials{}, "https://geocoder.api.here.com/6.2/geocode.json"},
		{Credentials{UseCIT: true}, "https://geocoder.cit.api.here.com/6.2/geocode.json"},
		{Credentials{UseHTTP: true, UseCIT: true}, "http://geocoder.cit.api.here.com/6.2/geocode.json"},
	}
	for _, tt := range tests {
		c := NewClient(tt.creds, httputil.NewMockHTTPClient())
		assert.Equal(t, tt.want, c.BuildURL("geocoder", "api.here.com/6.2/geocode.json"))
	}
}

const geocodeReplyJSON = `{"Response":{"View":[{"Result":[{"Location":{
  "LocationId":"NT_1","LocationType":"point",
  "DisplayPosition":{"Latitude":48.85,"Longitude":2.29},
  "NavigationPosition":[{"Latitude":48.8584,"Longitude":2.2945}],
  "Address":{"Label":"Tour Eiffel, Paris","City":"Paris","Country":"FRA"}}}]}]}}`

func TestGeocode(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddRoute("https://geocoder.api.here.com/6.2/geocode.json", http.StatusOK, geocodeReplyJSON)
	c := NewClient(testCreds, mock)

	res, err := c.Geocode(context.Background(), "tour eiffel")
	require.NoError(t, err)
	assert.Equal(t, geo.LatLng{Lat: 48.8584, Lng: 2.2945}, res.Coord, "navigation position wins")
	assert.Equal(t, "Paris", res.Location.Address.City)

	req := mock.GetRequest(0)
	require.NotNil(t, req)
	assert.Equal(t, http.MethodGet, req.Method)
	q := req.URL.Query()
	assert.Equal(t, "tour eiffel", q.Get("searchText"))
	assert.Equal(t, "id", q.Get("app_id"))
	assert.Equal(t, "code", q.Get("app_code"))
}

func TestGeocode_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{"status", http.StatusUnauthorized, "denied", func(t *testing.T, err error) {
			var se *StatusError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, http.StatusUnauthorized, se.Status)
		}},
		{"no response", http.StatusOK, `{"other":1}`, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrNoResponse)
		}},
		{"application error", http.StatusOK, `{"response":{"type":"ApplicationError","subtype":"InvalidInputData","details":"bad text"}}`, func(t *testing.T, err error) {
			var ae *ApplicationError
			require.ErrorAs(t, err, &ae)
			assert.Equal(t, "bad text", ae.Details)
		}},
		{"not found", http.StatusOK, `{"Response":{"View":[]}}`, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrNotFound)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := httputil.NewMockHTTPClient()
			mock.AddResponse(tt.status, tt.body)
			_, err := NewClient(testCreds, mock).Geocode(context.Background(), "nowhere")
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestReverseGeocode(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddRoute("https://reverse.geocoder.api.here.com/6.2/reversegeocode.json", http.StatusOK, geocodeReplyJSON)
	c := NewClient(testCreds, mock)

	res, err := c.ReverseGeocode(context.Background(), geo.LatLng{Lat: 48.8584, Lng: 2.2945})
	require.NoError(t, err)
	assert.Equal(t, "Tour Eiffel, Paris", res.Address.Label)
	q := mock.GetRequest(0).URL.Query()
	assert.Equal(t, "retrieveAddresses", q.Get("mode"))
	assert.Equal(t, "48.8584,2.2945", q.Get("prox"))
}

func TestRoute(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddRoute("https://route.api.here.com/routing/7.2/calculateroute.json", http.StatusOK, `{"response":{"route":[{
  "summary":{"distance":1200,"travelTime":300,"baseTime":280,"trafficTime":310,"text":"1.2 km"},
  "shape":["48.1,2.1","48.2,2.2,35"]}]}}`)
	c := NewClient(testCreds, mock)

	res, err := c.Route(context.Background(),
		[]geo.LatLng{{Lat: 48.1, Lng: 2.1}},
		[]geo.LatLng{{Lat: 48.15, Lng: 2.15}, {Lat: 48.2, Lng: 2.2}},
		Params{"mode": "shortest;car;traffic:disabled"})
	require.NoError(t, err)
	assert.Equal(t, 1200.0, res.Summary.Distance)
	assert.Equal(t, []geo.LatLng{{Lat: 48.1, Lng: 2.1}, {Lat: 48.2, Lng: 2.2}}, res.Coords)

	req := mock.GetRequest(0)
	assert.Equal(t, http.MethodPost, req.Method)
	q := req.URL.Query()
	assert.Equal(t, "48.1,2.1", q.Get("waypoint0"))
	assert.Equal(t, "48.15,2.15", q.Get("waypoint1"))
	assert.Equal(t, "48.2,2.2", q.Get("waypoint2"))
	assert.Equal(t, "shortest;car;traffic:disabled", q.Get("mode"), "options override defaults")
	assert.Equal(t, "linkPaging", q.Get("representation"))

	_, err = c.Route(context.Background(), nil, []geo.LatLng{{}}, nil)
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestIsoline(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddRoute("https://isoline.route.api.here.com/routing/7.2/calculateisoline.json", http.StatusOK,
		`{"response":{"isoline":[{"component":[{"shape":["1,1","1,2","2,2"]}]}]}}`)
	c := NewClient(testCreds, mock)
	ctx := context.Background()

	_, err := c.Isoline(ctx, IsolineRequest{Range: 600})
	assert.ErrorIs(t, err, ErrBadRequest)
	_, err = c.Isoline(ctx, IsolineRequest{Start: &geo.LatLng{Lat: 1, Lng: 1}})
	assert.ErrorIs(t, err, ErrBadRequest)
	assert.Equal(t, 0, mock.RequestCount(), "invalid requests are not sent")

	res, err := c.Isoline(ctx, IsolineRequest{Start: &geo.LatLng{Lat: 1, Lng: 1}, Range: 600, RangeType: "distance"})
	require.NoError(t, err)
	assert.Len(t, res.Poly, 3)
	q := mock.GetRequest(0).URL.Query()
	assert.Equal(t, "geo!1,1", q.Get("start"))
	assert.Equal(t, "600", q.Get("range"))
	assert.Equal(t, "distance", q.Get("rangeType"))
	assert.Empty(t, q.Get("destination"))
}

func jsonResponse(req *http.Request, body string) *http.Response {
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(bytes.NewBufferString(body)),
		Header:     make(http.Header),
		Request:    req,
	}
}

func TestDetour(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.DoFunc = func(req *http.Request) (*http.Response, error) {
		q := req.URL.Query()
		if q.Get("start1") == "" {
			// start → [stop, w1, w2]
			return jsonResponse(req, `{"response":{"matrixEntry":[
  {"startIndex":0,"destinationIndex":0,"summary":{"distance":1000,"travelTime":100}},
  {"startIndex":0,"destinationIndex":1,"summary":{"distance":400,"travelTime":40}},
  {"startIndex":0,"destinationIndex":2,"status":"failed","summary":{}}]}}`), nil
		}
		// [start, w1, w2] → stop
		return jsonResponse(req, `{"response":{"matrixEntry":[
  {"startIndex":0,"destinationIndex":0,"summary":{"distance":1010,"travelTime":101}},
  {"startIndex":1,"destinationIndex":0,"summary":{"distance":700,"travelTime":70}},
  {"startIndex":2,"destinationIndex":0,"summary":{"distance":900,"travelTime":90}}]}}`), nil
	}
	c := NewClient(testCreds, mock)

	start, stop := geo.LatLng{Lat: 1, Lng: 1}, geo.LatLng{Lat: 2, Lng: 2}
	w1, w2 := geo.LatLng{Lat: 1.5, Lng: 1.2}, geo.LatLng{Lat: 1.7, Lng: 1.9}
	res, err := c.Detour(context.Background(), start, stop, []geo.LatLng{w1, w2})
	require.NoError(t, err)
	assert.Equal(t, 2, mock.RequestCount())

	assert.Equal(t, DetourReference{Start: start, Stop: stop, Distance: 1000, Time: 100, Distance2: 1010, Time2: 101}, res.Reference)
	assert.Equal(t, []DetourWaypoint{
		{Coord: w1, DistA: 400, TimeA: 40, DistB: 700, TimeB: 70},
		{Coord: w2, DistB: 900, TimeB: 90},
	}, res.Waypoints)
}

func TestDetour_FailureCancels(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.DefaultError = errors.New("network down")
	_, err := NewClient(testCreds, mock).Detour(context.Background(), geo.LatLng{}, geo.LatLng{Lat: 1}, []geo.LatLng{{Lat: 2}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "network down")

	_, err = NewClient(testCreds, mock).Detour(context.Background(), geo.LatLng{}, geo.LatLng{Lat: 1}, nil)
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestPlaceAutoSuggest(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddRoute("https://places.api.here.com/places/v1/autosuggest", http.StatusOK, `{"results":[
  {"title":"Louvre","vicinity":"Rue de Rivoli<br/>75001 Paris","position":[48.861,2.336]},
  {"title":"museum","category":"museum"},
  {"title":"Orsay","vicinity":"1 Rue de la Légion d'Honneur","position":[48.86,2.326]}]}`)
	c := NewClient(testCreds, mock)

	got, err := c.PlaceAutoSuggest(context.Background(), geo.LatLng{Lat: 48.85, Lng: 2.35}, "mus")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Louvre, Rue de Rivoli, 75001 Paris", got[0].Value)
	assert.Equal(t, geo.LatLng{Lat: 48.861, Lng: 2.336}, got[0].Coord)
	assert.Equal(t, "Orsay", got[1].Title)

	q := mock.GetRequest(0).URL.Query()
	assert.Equal(t, "48.85,2.35", q.Get("at"))
	assert.Equal(t, "mus", q.Get("q"))
}
