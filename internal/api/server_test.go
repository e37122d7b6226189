package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tailscale.com/tsweb"

	"github.com/banshee-data/geocluster/internal/geo"
	"github.com/banshee-data/geocluster/internal/here"
	"github.com/banshee-data/geocluster/internal/httputil"
	"github.com/banshee-data/geocluster/internal/icon"
	"github.com/banshee-data/geocluster/internal/locate"
	"github.com/banshee-data/geocluster/internal/monitoring"
	"github.com/banshee-data/geocluster/internal/pointstore"
	"github.com/banshee-data/geocluster/internal/session"
	"github.com/banshee-data/geocluster/internal/testutil"
	"github.com/banshee-data/geocluster/internal/version"
)

func init() {
	monitoring.SetLogger(nil)
}

func newTestServer(t *testing.T) (*Service, http.Handler) {
	t.Helper()
	svc := NewService(icon.NewFetcher(httputil.NewMockHTTPClient()))
	t.Cleanup(func() { _ = svc.Close() })
	return svc, NewServer(svc).ServeMux()
}

func buildScenario(t *testing.T, h http.Handler, name string) session.Info {
	t.Helper()
	rec := testutil.Serve(h, testutil.NewJSONRequest(t, http.MethodPost, "/sessions/"+name,
		BuildRequest{Points: testutil.ScenarioPoints()}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return testutil.DecodeJSON[session.Info](t, rec)
}

func TestBuildAndListSessions(t *testing.T) {
	_, h := newTestServer(t)

	info := buildScenario(t, h, "poi")
	assert.Equal(t, "poi", info.Name)
	assert.Equal(t, 3, info.Points)
	assert.Equal(t, "visible", strings.ToLower(info.State))
	assert.True(t, info.Visible)
	assert.Positive(t, info.Clusters)

	buildScenario(t, h, "alpha")

	rec := testutil.Serve(h, testutil.NewTestRequest(http.MethodGet, "/sessions", nil))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	list := testutil.DecodeJSON[[]session.Info](t, rec)
	require.Len(t, list, 2)
	assert.Equal(t, "alpha", list[0].Name)
	assert.Equal(t, "poi", list[1].Name)

	rec = testutil.Serve(h, testutil.NewTestRequest(http.MethodGet, "/sessions/poi", nil))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Equal(t, info.ID, testutil.DecodeJSON[session.Info](t, rec).ID)
}

func TestBuild_Errors(t *testing.T) {
	_, h := newTestServer(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"bad eps", `{"points":[{"lat":1,"lng":2}],"options":{"eps":-1}}`, http.StatusBadRequest},
		{"bad zoom range", `{"options":{"min_zoom":9,"max_zoom":3}}`, http.StatusBadRequest},
		{"unknown field", `{"pointz":[]}`, http.StatusBadRequest},
		{"not json", `{`, http.StatusBadRequest},
		{"dataset without store", `{"dataset":"poi"}`, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := testutil.Serve(h, testutil.NewTestRequest(http.MethodPost, "/sessions/s", strings.NewReader(tt.body)))
			testutil.AssertStatusCode(t, rec.Code, tt.want)
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}

func TestBuild_EmptyBodyUsesDefaults(t *testing.T) {
	_, h := newTestServer(t)
	rec := testutil.Serve(h, testutil.NewTestRequest(http.MethodPost, "/sessions/empty", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	info := testutil.DecodeJSON[session.Info](t, rec)
	assert.Zero(t, info.Points)
	assert.Zero(t, info.Markers)
}

func TestClusters(t *testing.T) {
	_, h := newTestServer(t)
	buildScenario(t, h, "poi")

	rec := testutil.Serve(h, testutil.NewTestRequest(http.MethodGet, "/sessions/poi/clusters?zoom=5", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/geo+json", rec.Header().Get("Content-Type"))

	fc, err := geojson.UnmarshalFeatureCollection(rec.Body.Bytes())
	require.NoError(t, err)
	require.Len(t, fc.Features, 2)

	kinds := map[string]float64{}
	for _, f := range fc.Features {
		kinds[f.Properties.MustString("kind")] = f.Properties.MustFloat64("weight")
		assert.NotEmpty(t, f.Properties.MustString("icon"))
	}
	assert.Equal(t, map[string]float64{"cluster": 2, "noise": 1}, kinds)

	// Everything merges at the coarsest zoom.
	rec = testutil.Serve(h, testutil.NewTestRequest(http.MethodGet, "/sessions/poi/clusters?zoom=1", nil))
	fc, err = geojson.UnmarshalFeatureCollection(rec.Body.Bytes())
	require.NoError(t, err)
	require.Len(t, fc.Features, 1)
	assert.Equal(t, 3.0, fc.Features[0].Properties.MustFloat64("weight"))

	// The bbox keeps only the Paris pair.
	rec = testutil.Serve(h, testutil.NewTestRequest(http.MethodGet, "/sessions/poi/clusters?zoom=5&bbox=2,48,3,49", nil))
	fc, err = geojson.UnmarshalFeatureCollection(rec.Body.Bytes())
	require.NoError(t, err)
	require.Len(t, fc.Features, 1)
	assert.Equal(t, "cluster", fc.Features[0].Properties.MustString("kind"))
}

func TestClusters_Errors(t *testing.T) {
	svc, h := newTestServer(t)
	_, err := svc.Sessions.Create("fresh")
	require.NoError(t, err)

	tests := []struct {
		path string
		want int
	}{
		{"/sessions/missing/clusters?zoom=5", http.StatusNotFound},
		{"/sessions/fresh/clusters?zoom=5", http.StatusConflict},
		{"/sessions/fresh/clusters", http.StatusBadRequest},
		{"/sessions/fresh/clusters?zoom=5&bbox=1,2,3", http.StatusBadRequest},
		{"/sessions/fresh/clusters?zoom=5&bbox=3,2,1,4", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := testutil.Serve(h, testutil.NewTestRequest(http.MethodGet, tt.path, nil))
			testutil.AssertStatusCode(t, rec.Code, tt.want)
		})
	}
}

func TestClusters_ZoomRange(t *testing.T) {
	_, h := newTestServer(t)
	buildScenario(t, h, "poi")

	for _, z := range []string{"-1", "31"} {
		rec := testutil.Serve(h, testutil.NewTestRequest(http.MethodGet, "/sessions/poi/clusters?zoom="+z, nil))
		testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)
	}

	// Every accepted zoom covers each point exactly once, outside the
	// indexed range included.
	for z := 0; z <= geo.MaxZoom; z++ {
		rec := testutil.Serve(h, testutil.NewTestRequest(http.MethodGet, fmt.Sprintf("/sessions/poi/clusters?zoom=%d", z), nil))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		fc, err := geojson.UnmarshalFeatureCollection(rec.Body.Bytes())
		require.NoError(t, err)
		total := 0.0
		for _, f := range fc.Features {
			total += f.Properties.MustFloat64("weight")
		}
		assert.Equal(t, 3.0, total, "zoom %d", z)
	}
}

func TestShowCluster(t *testing.T) {
	_, h := newTestServer(t)
	buildScenario(t, h, "poi")

	rec := testutil.Serve(h, testutil.NewTestRequest(http.MethodGet, "/sessions/poi/clusters?zoom=5", nil))
	fc, err := geojson.UnmarshalFeatureCollection(rec.Body.Bytes())
	require.NoError(t, err)
	ids := map[string]string{}
	for _, f := range fc.Features {
		ids[f.Properties.MustString("kind")] = fmt.Sprint(f.ID)
	}

	rec = testutil.Serve(h, testutil.NewTestRequest(http.MethodGet, "/sessions/poi/clusters/"+ids["cluster"], nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	d := testutil.DecodeJSON[ClusterDetail](t, rec)
	assert.Equal(t, "cluster", d.Kind)
	assert.Equal(t, 2, d.Weight)
	assert.Len(t, d.Children, 2)
	assert.Greater(t, d.ExpansionZoom, 5)
	assert.Positive(t, d.RadiusMeters)
	assert.Less(t, d.RadiusMeters, 20.0)
	payloads := []any{}
	for _, p := range d.Leaves {
		payloads = append(payloads, p.Payload)
	}
	assert.ElementsMatch(t, []any{"A", "B"}, payloads)

	// The cluster is gone at its expansion zoom.
	rec = testutil.Serve(h, testutil.NewTestRequest(http.MethodGet,
		fmt.Sprintf("/sessions/poi/clusters?zoom=%d", d.ExpansionZoom), nil))
	fc, err = geojson.UnmarshalFeatureCollection(rec.Body.Bytes())
	require.NoError(t, err)
	assert.Len(t, fc.Features, 3)

	rec = testutil.Serve(h, testutil.NewTestRequest(http.MethodGet, "/sessions/poi/clusters/"+ids["cluster"]+"?limit=1&offset=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, testutil.DecodeJSON[ClusterDetail](t, rec).Leaves, 1)

	rec = testutil.Serve(h, testutil.NewTestRequest(http.MethodGet, "/sessions/poi/clusters/"+ids["noise"], nil))
	require.Equal(t, http.StatusOK, rec.Code)
	d = testutil.DecodeJSON[ClusterDetail](t, rec)
	assert.Equal(t, "noise", d.Kind)
	assert.Empty(t, d.Children)
	assert.Zero(t, d.RadiusMeters)
	require.Len(t, d.Leaves, 1)
	assert.Equal(t, "C", d.Leaves[0].Payload)

	tests := []struct {
		path string
		want int
	}{
		{"/sessions/poi/clusters/c9999", http.StatusNotFound},
		{"/sessions/poi/clusters/" + ids["cluster"] + "?limit=x", http.StatusBadRequest},
		{"/sessions/poi/clusters/" + ids["cluster"] + "?offset=-1", http.StatusBadRequest},
		{"/sessions/nope/clusters/c1", http.StatusNotFound},
	}
	for _, tt := range tests {
		rec := testutil.Serve(h, testutil.NewTestRequest(http.MethodGet, tt.path, nil))
		testutil.AssertStatusCode(t, rec.Code, tt.want)
	}
}

func TestBuild_FailedFirstBuildLeavesNoSession(t *testing.T) {
	_, h := newTestServer(t)
	broken := `{"options":{"cluster":[{"min_weight":2,"icon":"https://cdn.test/none.svg","size":40}]}}`

	rec := testutil.Serve(h, testutil.NewTestRequest(http.MethodPost, "/sessions/broken", strings.NewReader(broken)))
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)
	rec = testutil.Serve(h, testutil.NewTestRequest(http.MethodGet, "/sessions/broken", nil))
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)
	rec = testutil.Serve(h, testutil.NewTestRequest(http.MethodGet, "/sessions", nil))
	assert.Empty(t, testutil.DecodeJSON[[]session.Info](t, rec))

	// A failed rebuild keeps the session that was already built.
	buildScenario(t, h, "poi")
	rec = testutil.Serve(h, testutil.NewTestRequest(http.MethodPost, "/sessions/poi", strings.NewReader(broken)))
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)
	rec = testutil.Serve(h, testutil.NewTestRequest(http.MethodGet, "/sessions/poi", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, testutil.DecodeJSON[session.Info](t, rec).Points)
}

func TestSimplify(t *testing.T) {
	_, h := newTestServer(t)

	path := []geo.LatLng{{Lat: 0, Lng: 0}, {Lat: 0.0001, Lng: 1}, {Lat: 0, Lng: 2}, {Lat: -0.0001, Lng: 3}, {Lat: 0, Lng: 4}}
	rec := testutil.Serve(h, testutil.NewJSONRequest(t, http.MethodPost, "/geometry/simplify",
		SimplifyRequest{Path: path, Tolerance: 0.01}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := testutil.DecodeJSON[SimplifyResult](t, rec)
	assert.Equal(t, []geo.LatLng{path[0], path[4]}, res.Path)
	assert.Equal(t, 3, res.Removed)

	tests := []struct {
		name string
		req  SimplifyRequest
	}{
		{"empty", SimplifyRequest{Tolerance: 1}},
		{"negative tolerance", SimplifyRequest{Path: path, Tolerance: -1}},
		{"bad coordinate", SimplifyRequest{Path: []geo.LatLng{{Lat: 91}, {}, {}}, Tolerance: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := testutil.Serve(h, testutil.NewJSONRequest(t, http.MethodPost, "/geometry/simplify", tt.req))
			testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)
		})
	}
}

func ptr[T any](v T) *T { return &v }

func TestTap(t *testing.T) {
	_, h := newTestServer(t)
	buildScenario(t, h, "poi")

	tap := func(req TapRequest) TapResult {
		t.Helper()
		rec := testutil.Serve(h, testutil.NewJSONRequest(t, http.MethodPost, "/sessions/poi/tap", req))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		return testutil.DecodeJSON[TapResult](t, rec)
	}

	res := tap(TapRequest{Lat: ptr(48.8), Lng: ptr(2.3), Zoom: ptr(5)})
	assert.True(t, res.Hit)
	assert.Equal(t, "cluster", res.Kind)
	assert.Equal(t, 2, res.Weight)
	assert.Nil(t, res.Payload)
	assert.Equal(t, 5, res.Zoom)
	assert.NotEmpty(t, res.MarkerID)

	res = tap(TapRequest{Lat: ptr(45.2), Lng: ptr(2.93), Zoom: ptr(5)})
	assert.True(t, res.Hit)
	assert.Equal(t, "noise", res.Kind)
	assert.Equal(t, 1, res.Weight)
	assert.Equal(t, "C", res.Payload)

	// Open sea.
	res = tap(TapRequest{Lat: ptr(46.0), Lng: ptr(-4.0), Zoom: ptr(5)})
	assert.False(t, res.Hit)
	assert.InDelta(t, 46.0, res.Coord.Lat, 1e-6)

	// The screen centre is the last tapped coordinate.
	res = tap(TapRequest{X: ptr(512.0), Y: ptr(384.0)})
	assert.False(t, res.Hit)
	assert.InDelta(t, -4.0, res.Coord.Lng, 1e-6)
}

func TestTap_Errors(t *testing.T) {
	_, h := newTestServer(t)
	buildScenario(t, h, "poi")

	rec := testutil.Serve(h, testutil.NewJSONRequest(t, http.MethodPost, "/sessions/poi/tap", TapRequest{}))
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)

	rec = testutil.Serve(h, testutil.NewJSONRequest(t, http.MethodPost, "/sessions/poi/tap", TapRequest{Lat: ptr(95.0), Lng: ptr(0.0)}))
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)

	rec = testutil.Serve(h, testutil.NewJSONRequest(t, http.MethodPost, "/sessions/nope/tap", TapRequest{X: ptr(1.0), Y: ptr(1.0)}))
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)

	for _, z := range []int{-1, geo.MaxZoom + 1} {
		rec = testutil.Serve(h, testutil.NewJSONRequest(t, http.MethodPost, "/sessions/poi/tap",
			TapRequest{Lat: ptr(48.8), Lng: ptr(2.3), Zoom: ptr(z)}))
		testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)
	}
}

func TestShowHide(t *testing.T) {
	svc, h := newTestServer(t)

	rec := testutil.Serve(h, testutil.NewTestRequest(http.MethodPost, "/sessions/poi/hide", nil))
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)

	_, err := svc.Sessions.Create("poi")
	require.NoError(t, err)
	rec = testutil.Serve(h, testutil.NewTestRequest(http.MethodPost, "/sessions/poi/show", nil))
	testutil.AssertStatusCode(t, rec.Code, http.StatusConflict)

	buildScenario(t, h, "poi")

	rec = testutil.Serve(h, testutil.NewTestRequest(http.MethodPost, "/sessions/poi/hide", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, testutil.DecodeJSON[session.Info](t, rec).Visible)

	// Hidden layers swallow taps.
	rec = testutil.Serve(h, testutil.NewJSONRequest(t, http.MethodPost, "/sessions/poi/tap",
		TapRequest{Lat: ptr(48.8), Lng: ptr(2.3), Zoom: ptr(5)}))
	assert.False(t, testutil.DecodeJSON[TapResult](t, rec).Hit)

	rec = testutil.Serve(h, testutil.NewTestRequest(http.MethodPost, "/sessions/poi/show", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, testutil.DecodeJSON[session.Info](t, rec).Visible)
}

func TestDeleteSession(t *testing.T) {
	_, h := newTestServer(t)
	buildScenario(t, h, "poi")

	rec := testutil.Serve(h, testutil.NewTestRequest(http.MethodDelete, "/sessions/poi", nil))
	testutil.AssertStatusCode(t, rec.Code, http.StatusNoContent)

	rec = testutil.Serve(h, testutil.NewTestRequest(http.MethodDelete, "/sessions/poi", nil))
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)

	rec = testutil.Serve(h, testutil.NewTestRequest(http.MethodGet, "/sessions/poi", nil))
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)
}

func TestServeIcon(t *testing.T) {
	svc, h := newTestServer(t)
	buildScenario(t, h, "poi")

	fc, err := svc.Clusters("poi", 5, nil)
	require.NoError(t, err)
	key := fc.Features[0].Properties.MustString("icon")

	rec := testutil.Serve(h, testutil.NewTestRequest(http.MethodGet, "/icons/poi/"+key, nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Cache-Control"), "immutable")
	assert.NotZero(t, rec.Body.Len())

	rec = testutil.Serve(h, testutil.NewTestRequest(http.MethodGet, "/icons/poi/nope", nil))
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)
}

const poiGeoJSON = `{"type":"FeatureCollection","features":[
{"type":"Feature","geometry":{"type":"Point","coordinates":[2.3,48.8]},"properties":{"name":"A"}},
{"type":"Feature","geometry":{"type":"Point","coordinates":[2.3001,48.8001]},"properties":{"name":"B"}},
{"type":"Feature","geometry":{"type":"Point","coordinates":[2.93,45.2]},"properties":{"name":"C"}}]}`

func TestDatasets(t *testing.T) {
	svc, h := newTestServer(t)

	rec := testutil.Serve(h, testutil.NewTestRequest(http.MethodGet, "/datasets", nil))
	testutil.AssertStatusCode(t, rec.Code, http.StatusServiceUnavailable)

	store, err := pointstore.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	svc.Store = store

	rec = testutil.Serve(h, testutil.NewTestRequest(http.MethodPost, "/datasets/poi", strings.NewReader(poiGeoJSON)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	ds := testutil.DecodeJSON[pointstore.Dataset](t, rec)
	assert.Equal(t, 3, ds.Points)

	rec = testutil.Serve(h, testutil.NewTestRequest(http.MethodPost, "/datasets/poi", strings.NewReader(poiGeoJSON)))
	testutil.AssertStatusCode(t, rec.Code, http.StatusConflict)

	rec = testutil.Serve(h, testutil.NewTestRequest(http.MethodPost, "/datasets/bad", strings.NewReader(`{"type":`)))
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)

	rec = testutil.Serve(h, testutil.NewTestRequest(http.MethodGet, "/datasets", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, testutil.DecodeJSON[[]pointstore.Dataset](t, rec), 1)

	rec = testutil.Serve(h, testutil.NewTestRequest(http.MethodGet, "/datasets/poi", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	fc, err := geojson.UnmarshalFeatureCollection(rec.Body.Bytes())
	require.NoError(t, err)
	assert.Len(t, fc.Features, 3)

	rec = testutil.Serve(h, testutil.NewTestRequest(http.MethodGet, "/datasets/poi?compress=zstd", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/zstd", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `filename="poi.geojson.zst"`)

	// Sessions can be built from a stored dataset.
	rec = testutil.Serve(h, testutil.NewJSONRequest(t, http.MethodPost, "/sessions/stored", BuildRequest{Dataset: "poi"}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 3, testutil.DecodeJSON[session.Info](t, rec).Points)

	rec = testutil.Serve(h, testutil.NewJSONRequest(t, http.MethodPost, "/sessions/stored", BuildRequest{Dataset: "nope"}))
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)

	rec = testutil.Serve(h, testutil.NewTestRequest(http.MethodDelete, "/datasets/poi", nil))
	testutil.AssertStatusCode(t, rec.Code, http.StatusNoContent)
	rec = testutil.Serve(h, testutil.NewTestRequest(http.MethodGet, "/datasets/poi", nil))
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)
}

type fakeGeocoder struct{ err error }

func (f fakeGeocoder) Geocode(_ context.Context, address string) (*here.GeocodeResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &here.GeocodeResult{Coord: geo.LatLng{Lat: 48.8566, Lng: 2.3522}, Body: []byte(`{"raw":true}`)}, nil
}

func (f fakeGeocoder) ReverseGeocode(_ context.Context, ll geo.LatLng) (*here.ReverseResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &here.ReverseResult{}, nil
}

func TestGeocode(t *testing.T) {
	svc, h := newTestServer(t)

	rec := testutil.Serve(h, testutil.NewTestRequest(http.MethodGet, "/geocode?q=Paris", nil))
	testutil.AssertStatusCode(t, rec.Code, http.StatusServiceUnavailable)

	svc.Geocoder = fakeGeocoder{}
	rec = testutil.Serve(h, testutil.NewTestRequest(http.MethodGet, "/geocode?q=Paris", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	res := testutil.DecodeJSON[here.GeocodeResult](t, rec)
	assert.InDelta(t, 48.8566, res.Coord.Lat, 1e-9)
	assert.Empty(t, res.Body, "raw body is not echoed")

	rec = testutil.Serve(h, testutil.NewTestRequest(http.MethodGet, "/geocode?lat=48.8&lng=2.3", nil))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

	rec = testutil.Serve(h, testutil.NewTestRequest(http.MethodGet, "/geocode", nil))
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)

	rec = testutil.Serve(h, testutil.NewTestRequest(http.MethodGet, "/geocode?lat=91&lng=0", nil))
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)

	svc.Geocoder = fakeGeocoder{err: fmt.Errorf("geocode: %w", here.ErrNotFound)}
	rec = testutil.Serve(h, testutil.NewTestRequest(http.MethodGet, "/geocode?q=nowhere", nil))
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)

	svc.Geocoder = fakeGeocoder{err: &here.StatusError{Status: http.StatusUnauthorized}}
	rec = testutil.Serve(h, testutil.NewTestRequest(http.MethodGet, "/geocode?q=Paris", nil))
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadGateway)
}

type fakeLocator struct {
	fix locate.Fix
	err error
}

func (f fakeLocator) Fix() (locate.Fix, error) { return f.fix, f.err }

func TestLocate(t *testing.T) {
	svc, h := newTestServer(t)

	rec := testutil.Serve(h, testutil.NewTestRequest(http.MethodGet, "/locate", nil))
	testutil.AssertStatusCode(t, rec.Code, http.StatusServiceUnavailable)

	svc.Locator = fakeLocator{err: locate.ErrNoFix}
	rec = testutil.Serve(h, testutil.NewTestRequest(http.MethodGet, "/locate", nil))
	testutil.AssertStatusCode(t, rec.Code, http.StatusServiceUnavailable)

	svc.Locator = fakeLocator{fix: locate.Fix{LatLng: geo.LatLng{Lat: 48.1173, Lng: 11.5167}, Valid: true, Satellites: 8}}
	rec = testutil.Serve(h, testutil.NewTestRequest(http.MethodGet, "/locate", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	fix := testutil.DecodeJSON[locate.Fix](t, rec)
	assert.True(t, fix.Valid)
	assert.Equal(t, 8, fix.Satellites)
}

func TestVersionAndMetrics(t *testing.T) {
	_, h := newTestServer(t)

	rec := testutil.Serve(h, testutil.NewTestRequest(http.MethodGet, "/version", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, version.Get(), testutil.DecodeJSON[version.Info](t, rec))

	buildScenario(t, h, "poi")
	rec = testutil.Serve(h, testutil.NewTestRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "geocluster_")
}

func TestClustersChart(t *testing.T) {
	svc, h := newTestServer(t)
	mux := http.NewServeMux()
	mux.Handle("/", h)
	NewServer(svc).AttachAdminRoutes(tsweb.Debugger(mux))

	rec := testutil.Serve(mux, testutil.NewTestRequest(http.MethodGet, "/debug/clusters", nil))
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)

	buildScenario(t, mux, "poi")

	rec = testutil.Serve(mux, testutil.NewTestRequest(http.MethodGet, "/debug/clusters?zoom=5", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	body := rec.Body.String()
	assert.Contains(t, body, "session=poi zoom=5 clusters=1 noise=1")
	assert.Contains(t, body, "Nodes per zoom")

	rec = testutil.Serve(mux, testutil.NewTestRequest(http.MethodGet, "/debug/clusters?zoom=x", nil))
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("wrapped: %w", ErrUnavailable), http.StatusServiceUnavailable},
		{session.ErrNotBuilt, http.StatusConflict},
		{session.ErrExists, http.StatusConflict},
		{pointstore.ErrDatasetNotFound, http.StatusNotFound},
		{pointstore.ErrInvalidGeoJSON, http.StatusBadRequest},
		{here.ErrNoResponse, http.StatusBadGateway},
		{&here.ApplicationError{Subtype: "InvalidCredentials"}, http.StatusBadGateway},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFor(tt.err), tt.err.Error())
	}
}

func TestLoggingMiddleware(t *testing.T) {
	h := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := testutil.Serve(h, testutil.NewTestRequest(http.MethodGet, "/x", nil))
	testutil.AssertStatusCode(t, rec.Code, http.StatusTeapot)
	assert.Contains(t, statusCodeColor(http.StatusTeapot), "418")
}
