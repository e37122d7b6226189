package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/banshee-data/geocluster/internal/cluster"
	"github.com/banshee-data/geocluster/internal/config"
	"github.com/banshee-data/geocluster/internal/errtypes"
	"github.com/banshee-data/geocluster/internal/geo"
	"github.com/banshee-data/geocluster/internal/here"
	"github.com/banshee-data/geocluster/internal/icon"
	"github.com/banshee-data/geocluster/internal/locate"
	"github.com/banshee-data/geocluster/internal/mapengine"
	"github.com/banshee-data/geocluster/internal/monitoring"
	"github.com/banshee-data/geocluster/internal/pointstore"
	"github.com/banshee-data/geocluster/internal/render"
	"github.com/banshee-data/geocluster/internal/session"
)

// ErrUnavailable is returned when an optional backend was not configured.
var ErrUnavailable = errors.New("not configured")

// Viewport of the server-side engines used to hit-test taps.
const (
	viewWidth  = 1024
	viewHeight = 768
)

// Geocoder resolves addresses and coordinates.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (*here.GeocodeResult, error)
	ReverseGeocode(ctx context.Context, ll geo.LatLng) (*here.ReverseResult, error)
}

// Locator reports the device position.
type Locator interface {
	Fix() (locate.Fix, error)
}

// Service is the clustering backend shared by the HTTP and gRPC front ends.
// Every session draws on its own headless engine.
type Service struct {
	Sessions *session.Registry
	// Store, Geocoder and Locator are optional.
	Store    *pointstore.Store
	Geocoder Geocoder
	Locator  Locator
	// Defaults applies to builds that carry no options.
	Defaults *config.ClusterConfig

	mu   sync.Mutex
	taps map[string]*tapSlot
}

// NewService returns a service whose sessions load icons with fetcher.
func NewService(fetcher *icon.Fetcher) *Service {
	newEngine := func(string) mapengine.Engine {
		return mapengine.NewHeadless(geo.LatLng{}, cluster.DefaultMinZoom, viewWidth, viewHeight)
	}
	return &Service{
		Sessions: session.NewRegistry(newEngine, fetcher),
		taps:     make(map[string]*tapSlot),
	}
}

// TapResult is what a tap hit.
type TapResult struct {
	Hit      bool       `json:"hit"`
	Kind     string     `json:"kind,omitempty"`
	MarkerID string     `json:"markerId,omitempty"`
	Coord    geo.LatLng `json:"coord"`
	Zoom     int        `json:"zoom"`
	Weight   int        `json:"weight,omitempty"`
	Payload  any        `json:"payload,omitempty"`
}

// tapSlot receives the session callback during a synchronous tap.
type tapSlot struct {
	mu   sync.Mutex
	last *TapResult
}

func (t *tapSlot) record(ev mapengine.TapEvent, coord geo.LatLng, payload any, weight int) {
	res := &TapResult{Hit: true, Coord: coord, Zoom: ev.Zoom, Weight: weight, Payload: payload, Kind: "noise"}
	if m, ok := ev.Target.(*render.Marker); ok {
		res.MarkerID = m.ID
		if m.IsCluster() {
			res.Kind = "cluster"
		}
	}
	t.last = res
}

func (s *Service) slot(name string) *tapSlot {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.taps[name]
	if !ok {
		t = &tapSlot{}
		s.taps[name] = t
	}
	return t
}

// BuildRequest is the body of a session build. Points take precedence over
// Dataset.
type BuildRequest struct {
	Points  []cluster.Point       `json:"points,omitempty"`
	Dataset string                `json:"dataset,omitempty"`
	Options *config.ClusterConfig `json:"options,omitempty"`
}

// Build clusters the request's points into the session called name, creating
// it if needed.
func (s *Service) Build(ctx context.Context, name string, req BuildRequest) (session.Info, error) {
	points := req.Points
	if len(points) == 0 && req.Dataset != "" {
		if s.Store == nil {
			return session.Info{}, fmt.Errorf("dataset store: %w", ErrUnavailable)
		}
		var err error
		if points, err = s.Store.LoadDataset(ctx, req.Dataset); err != nil {
			return session.Info{}, err
		}
	}

	cfg := req.Options
	if cfg == nil {
		cfg = s.Defaults
	}
	if cfg == nil {
		cfg = config.EmptyClusterConfig()
	}
	if err := cfg.Validate(); err != nil {
		return session.Info{}, err
	}

	sess, created, err := s.Sessions.GetOrCreate(name)
	if err != nil {
		return session.Info{}, err
	}
	slot := s.slot(name)
	if _, err := sess.Cluster(ctx, points, cfg.ToOptions(), slot.record); err != nil {
		if created && sess.Index() == nil {
			s.discard(name, sess)
		}
		return session.Info{}, err
	}
	return sess.Info(), nil
}

// discard removes a session whose first build failed, unless the name has
// since been taken over.
func (s *Service) discard(name string, sess *session.Session) {
	if cur, err := s.Sessions.Get(name); err != nil || cur != sess {
		return
	}
	if err := s.Delete(name); err != nil {
		monitoring.Logf("session %s: discard after failed build: %v", name, err)
	}
}

// Delete closes and forgets the session called name.
func (s *Service) Delete(name string) error {
	if err := s.Sessions.Delete(name); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.taps, name)
	s.mu.Unlock()
	return nil
}

// List describes every session in name order.
func (s *Service) List() []session.Info {
	out := make([]session.Info, 0, s.Sessions.Len())
	s.Sessions.Each(func(sess *session.Session) bool {
		out = append(out, sess.Info())
		return true
	})
	return out
}

// Info describes the session called name.
func (s *Service) Info(name string) (session.Info, error) {
	sess, err := s.Sessions.Get(name)
	if err != nil {
		return session.Info{}, err
	}
	return sess.Info(), nil
}

// Clusters returns the markers of the session visible at zoom as GeoJSON,
// limited to bound when it is non-nil.
func (s *Service) Clusters(name string, zoom int, bound *orb.Bound) (*geojson.FeatureCollection, error) {
	sess, err := s.Sessions.Get(name)
	if err != nil {
		return nil, err
	}
	if sess.Index() == nil {
		return nil, session.ErrNotBuilt
	}
	if err := validZoom(zoom); err != nil {
		return nil, err
	}
	fc := geojson.NewFeatureCollection()
	for _, m := range sess.Markers(zoom) {
		p := m.Pos.Point()
		if bound != nil && !bound.Contains(p) {
			continue
		}
		f := geojson.NewFeature(p)
		f.ID = m.ID
		f.Properties["weight"] = m.View.Weight()
		f.Properties["icon"] = m.Icon.Key
		f.Properties["minZoom"] = m.MinZoom
		f.Properties["maxZoom"] = m.MaxZoom
		switch v := m.View.(type) {
		case render.ClusterView:
			f.Properties["kind"] = "cluster"
		case render.NoiseView:
			f.Properties["kind"] = "noise"
			if v.Payload != nil {
				f.Properties["payload"] = v.Payload
			}
		}
		fc.Append(f)
	}
	return fc, nil
}

// ClusterDetail describes one marker and the points behind it.
type ClusterDetail struct {
	ID       string     `json:"id"`
	Kind     string     `json:"kind"`
	Weight   int        `json:"weight"`
	Position geo.LatLng `json:"position"`
	MinZoom  int        `json:"minZoom"`
	MaxZoom  int        `json:"maxZoom"`
	// ExpansionZoom is the first zoom at which the marker splits.
	ExpansionZoom int `json:"expansionZoom"`
	// RadiusMeters is the distance to the farthest member point.
	RadiusMeters float64         `json:"radiusMeters"`
	Children     []string        `json:"children,omitempty"`
	Leaves       []cluster.Point `json:"leaves"`
}

// Cluster describes the marker id of the session, paging its points with
// limit and offset. A zero limit returns every point.
func (s *Service) Cluster(name, id string, limit, offset int) (*ClusterDetail, error) {
	sess, err := s.Sessions.Get(name)
	if err != nil {
		return nil, err
	}
	idx := sess.Index()
	if idx == nil {
		return nil, session.ErrNotBuilt
	}
	if limit < 0 || offset < 0 {
		return nil, errtypes.Configf("leaves", "limit and offset must not be negative")
	}
	m, ok := sess.Marker(id)
	if !ok {
		return nil, fmt.Errorf("marker %q: %w", id, errNotFound)
	}

	var nodeID int
	kind := "noise"
	switch v := m.View.(type) {
	case render.ClusterView:
		nodeID, kind = v.NodeID, "cluster"
	case render.NoiseView:
		nodeID = v.NodeID
	}
	node, ok := idx.Node(nodeID)
	if !ok {
		return nil, fmt.Errorf("node %d of marker %q: %w", nodeID, id, errNotFound)
	}

	d := &ClusterDetail{
		ID:            m.ID,
		Kind:          kind,
		Weight:        node.Weight,
		Position:      node.Position,
		MinZoom:       m.MinZoom,
		MaxZoom:       m.MaxZoom,
		ExpansionZoom: idx.ExpansionZoom(node),
		Leaves:        []cluster.Point{},
	}
	for _, p := range node.Members {
		d.RadiusMeters = max(d.RadiusMeters, geo.DistanceMeters(node.Position, p.LatLng))
	}
	for _, c := range idx.Children(node) {
		d.Children = append(d.Children, render.MarkerID(c))
	}
	for _, p := range idx.Leaves(node, limit, offset) {
		d.Leaves = append(d.Leaves, *p)
	}
	return d, nil
}

// SimplifyRequest is a path to reduce. Tolerance is in degrees.
type SimplifyRequest struct {
	Path      []geo.LatLng `json:"path"`
	Tolerance float64      `json:"tolerance"`
}

// SimplifyResult is the reduced path.
type SimplifyResult struct {
	Path    []geo.LatLng `json:"path"`
	Removed int          `json:"removed"`
}

// Simplify reduces a path with Douglas-Peucker.
func (s *Service) Simplify(req SimplifyRequest) (*SimplifyResult, error) {
	if len(req.Path) == 0 {
		return nil, errtypes.Configf("path", "must not be empty")
	}
	if req.Tolerance < 0 {
		return nil, errtypes.Configf("tolerance", "must not be negative, got %g", req.Tolerance)
	}
	for i, ll := range req.Path {
		if err := ll.Validate(); err != nil {
			return nil, errtypes.Configf(fmt.Sprintf("path[%d]", i), "%v", err)
		}
	}
	out, err := geo.Simplify(req.Path, req.Tolerance)
	if err != nil {
		return nil, err
	}
	return &SimplifyResult{Path: out, Removed: len(req.Path) - len(out)}, nil
}

func validZoom(zoom int) error {
	if zoom < 0 || zoom > geo.MaxZoom {
		return errtypes.Configf("zoom", "must be within 0-%d, got %d", geo.MaxZoom, zoom)
	}
	return nil
}

// TapRequest locates a tap by coordinate or by screen position. Zoom, when
// set, moves the view first; a coordinate tap also centres the view on it.
type TapRequest struct {
	X    *float64 `json:"x,omitempty"`
	Y    *float64 `json:"y,omitempty"`
	Lat  *float64 `json:"lat,omitempty"`
	Lng  *float64 `json:"lng,omitempty"`
	Zoom *int     `json:"zoom,omitempty"`
}

// Tap simulates a tap on the session's engine and reports what it hit.
func (s *Service) Tap(name string, req TapRequest) (*TapResult, error) {
	sess, err := s.Sessions.Get(name)
	if err != nil {
		return nil, err
	}
	eng, ok := sess.Engine().(*mapengine.Headless)
	if !ok {
		return nil, fmt.Errorf("session %q: engine does not support simulated taps", name)
	}

	slot := s.slot(name)
	slot.mu.Lock()
	defer slot.mu.Unlock()
	slot.last = nil

	zoom := eng.Zoom()
	if req.Zoom != nil {
		if err := validZoom(*req.Zoom); err != nil {
			return nil, err
		}
		zoom = *req.Zoom
	}

	var ev mapengine.TapEvent
	switch {
	case req.Lat != nil && req.Lng != nil:
		ll := geo.LatLng{Lat: *req.Lat, Lng: *req.Lng}
		if err := ll.Validate(); err != nil {
			return nil, errtypes.Configf("tap", "%v", err)
		}
		eng.SetView(ll, zoom)
		ev = eng.TapAt(ll)
	case req.X != nil && req.Y != nil:
		eng.SetView(eng.Center(), zoom)
		ev = eng.Tap(*req.X, *req.Y)
	default:
		return nil, errtypes.Configf("tap", "need lat and lng or x and y")
	}

	if slot.last != nil {
		return slot.last, nil
	}
	return &TapResult{Coord: eng.ScreenToGeo(ev.X, ev.Y), Zoom: ev.Zoom}, nil
}

// Show makes the session layer visible.
func (s *Service) Show(name string) error { return s.Sessions.Show(name) }

// Hide hides the session layer.
func (s *Service) Hide(name string) error { return s.Sessions.Hide(name) }

// Icon returns a rendered icon of the session.
func (s *Service) Icon(name, key string) (*icon.Icon, error) {
	sess, err := s.Sessions.Get(name)
	if err != nil {
		return nil, err
	}
	ic, ok := sess.Icon(key)
	if !ok {
		return nil, fmt.Errorf("icon %q: %w", key, errNotFound)
	}
	return ic, nil
}

var errNotFound = errors.New("not found")

// Datasets lists the stored datasets.
func (s *Service) Datasets(ctx context.Context) ([]pointstore.Dataset, error) {
	if s.Store == nil {
		return nil, fmt.Errorf("dataset store: %w", ErrUnavailable)
	}
	return s.Store.ListDatasets(ctx)
}

// ImportDataset stores a GeoJSON body as the dataset called name.
func (s *Service) ImportDataset(ctx context.Context, name string, r io.Reader) (*pointstore.Dataset, error) {
	if s.Store == nil {
		return nil, fmt.Errorf("dataset store: %w", ErrUnavailable)
	}
	if name == "" {
		return nil, errtypes.Configf("name", "must not be empty")
	}
	return s.Store.ImportGeoJSON(ctx, name, "upload", r)
}

// Geocode resolves an address.
func (s *Service) Geocode(ctx context.Context, address string) (*here.GeocodeResult, error) {
	if s.Geocoder == nil {
		return nil, fmt.Errorf("geocoder: %w", ErrUnavailable)
	}
	return s.Geocoder.Geocode(ctx, address)
}

// ReverseGeocode finds the address at ll.
func (s *Service) ReverseGeocode(ctx context.Context, ll geo.LatLng) (*here.ReverseResult, error) {
	if s.Geocoder == nil {
		return nil, fmt.Errorf("geocoder: %w", ErrUnavailable)
	}
	return s.Geocoder.ReverseGeocode(ctx, ll)
}

// Locate returns the device position.
func (s *Service) Locate() (locate.Fix, error) {
	if s.Locator == nil {
		return locate.Fix{}, fmt.Errorf("gps: %w", ErrUnavailable)
	}
	return s.Locator.Fix()
}

// Close closes every session.
func (s *Service) Close() error {
	return s.Sessions.Close()
}
