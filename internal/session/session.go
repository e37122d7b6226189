// Package session ties a clustering build, its icon cache and its map layer
// together, and routes taps on that layer back to the caller.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/geocluster/internal/cluster"
	"github.com/banshee-data/geocluster/internal/errtypes"
	"github.com/banshee-data/geocluster/internal/geo"
	"github.com/banshee-data/geocluster/internal/icon"
	"github.com/banshee-data/geocluster/internal/mapengine"
	"github.com/banshee-data/geocluster/internal/monitoring"
	"github.com/banshee-data/geocluster/internal/render"
	"github.com/banshee-data/geocluster/internal/style"
)

var (
	// ErrNotBuilt is returned by Show and Hide before the first build.
	ErrNotBuilt = errors.New("session has not been clustered")
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("session closed")
)

// State is the lifecycle position of a session.
type State int

const (
	Uninitialized State = iota
	Built               // layer attached, not shown yet
	Visible
	Hidden
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Built:
		return "built"
	case Visible:
		return "visible"
	case Hidden:
		return "hidden"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Callback receives routed taps. payload is nil and weight is the point
// count for clusters; noise passes its own payload with weight 1.
type Callback func(ev mapengine.TapEvent, coord geo.LatLng, payload any, weight int)

// generation is everything produced by one successful Cluster call.
type generation struct {
	index    *cluster.Index
	store    *icon.Store
	layer    *mapengine.Layer
	markers  []*render.Marker
	byID     map[string]*render.Marker
	opts     Options
	callback Callback
	built    time.Time
}

func (g *generation) owns(m *render.Marker) bool {
	return g.byID[m.ID] == m
}

// Session is one named clustering layer on a map engine.
type Session struct {
	ID   uuid.UUID
	Name string

	engine  mapengine.Engine
	fetcher *icon.Fetcher
	router  *Router

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	state       State
	gen         *generation
	unsubscribe func()
	closed      bool
}

// New returns an uninitialized session drawing on engine and loading icons
// through fetcher.
func New(name string, engine mapengine.Engine, fetcher *icon.Fetcher) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:      uuid.New(),
		Name:    name,
		engine:  engine,
		fetcher: fetcher,
		ctx:     ctx,
		cancel:  cancel,
	}
	s.router = &Router{s: s}
	monitoring.Sessions.Inc()
	return s
}

// Engine returns the engine the session draws on.
func (s *Session) Engine() mapengine.Engine { return s.engine }

// Router returns the session's tap router.
func (s *Session) Router() *Router { return s.router }

// State returns the lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) current() *generation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// Cluster builds a new generation from points and swaps it in for the
// previous one. Until every icon has resolved and every node is presented
// the previous generation stays attached; on error it is left untouched.
func (s *Session) Cluster(ctx context.Context, points []cluster.Point, opts Options, cb Callback) (layer *mapengine.Layer, err error) {
	start := time.Now()
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
			monitoring.Logf("session %s: cluster failed: %v", s.Name, err)
		}
		monitoring.BuildsTotal.WithLabelValues(result).Inc()
		monitoring.BuildDuration.Observe(time.Since(start).Seconds())
	}()

	if s.isClosed() {
		return nil, ErrClosed
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	resolver, err := style.NewResolver(opts.Tiers())
	if err != nil {
		return nil, err
	}

	// Close cancels fetches started on behalf of this call.
	ctx, stop := context.WithCancel(ctx)
	defer stop()
	release := context.AfterFunc(s.ctx, stop)
	defer release()

	store := icon.NewStore(s.fetcher)
	builder := render.NewBuilder(resolver, store, opts.NoiseStyle(), opts.Tags)
	if err := store.Prefetch(ctx, builder.SourceRefs()); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &errtypes.ConfigurationError{Field: "icon", Reason: "icon unavailable", Err: err}
	}

	idx, err := cluster.Build(points, opts.Params(resolver.Threshold()))
	if err != nil {
		return nil, err
	}
	markers, err := builder.PresentAll(ctx, idx)
	if err != nil {
		return nil, err
	}

	gen := &generation{
		index:    idx,
		store:    store,
		markers:  markers,
		byID:     make(map[string]*render.Marker, len(markers)),
		opts:     opts,
		callback: cb,
		built:    time.Now(),
	}
	objects := make([]mapengine.Object, len(markers))
	for i, m := range markers {
		objects[i] = m
		gen.byID[m.ID] = m
	}
	gen.layer = mapengine.NewLayer(s.Name, objects)
	gen.layer.SetVisible(!opts.StartHidden)

	if err := s.swap(gen); err != nil {
		return nil, err
	}
	monitoring.Logf("session %s: %d points (%d skipped), %d markers, zoom %d-%d in %v",
		s.Name, idx.Points, idx.Skipped, len(markers), idx.Params().MinZoom, idx.Params().MaxZoom, time.Since(start))
	return gen.layer, nil
}

// swap replaces the attached generation. Removal precedes attachment so the
// engine never holds markers of two generations.
func (s *Session) swap(gen *generation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	old := s.gen
	if old != nil {
		if err := s.engine.RemoveLayer(old.layer); err != nil {
			return fmt.Errorf("detach previous layer: %w", err)
		}
	}
	if err := s.engine.AddLayer(gen.layer); err != nil {
		if old != nil {
			if rerr := s.engine.AddLayer(old.layer); rerr != nil {
				monitoring.Logf("session %s: reattach previous layer: %v", s.Name, rerr)
			}
		}
		return fmt.Errorf("attach layer: %w", err)
	}
	if s.unsubscribe == nil {
		s.unsubscribe = s.engine.OnTap(func(ev mapengine.TapEvent) { s.router.Route(ev) })
	}
	s.gen = gen
	if gen.opts.StartHidden {
		s.state = Built
	} else {
		s.state = Visible
	}
	return nil
}

// Show makes the layer visible without rebuilding.
func (s *Session) Show() error { return s.setVisible(true) }

// Hide hides the layer without rebuilding.
func (s *Session) Hide() error { return s.setVisible(false) }

func (s *Session) setVisible(v bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
		return ErrClosed
	case s.gen == nil:
		return ErrNotBuilt
	}
	s.gen.layer.SetVisible(v)
	if v {
		s.state = Visible
	} else {
		s.state = Hidden
	}
	return nil
}

// Close cancels in-flight icon fetches, detaches the layer and stops tap
// routing. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.cancel()
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	monitoring.Sessions.Dec()
	if s.gen == nil {
		return nil
	}
	err := s.engine.RemoveLayer(s.gen.layer)
	s.gen = nil
	s.state = Uninitialized
	if err != nil && !errors.Is(err, mapengine.ErrLayerNotAttached) {
		return fmt.Errorf("detach layer: %w", err)
	}
	return nil
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Index returns the current cluster index, or nil before the first build.
func (s *Session) Index() *cluster.Index {
	if g := s.current(); g != nil {
		return g.index
	}
	return nil
}

// Layer returns the attached layer, or nil before the first build.
func (s *Session) Layer() *mapengine.Layer {
	if g := s.current(); g != nil {
		return g.layer
	}
	return nil
}

// Markers returns the markers drawn at zoom, clamped to the indexed range.
// Every point is covered by exactly one of them.
func (s *Session) Markers(zoom int) []*render.Marker {
	g := s.current()
	if g == nil {
		return nil
	}
	zoom = g.index.ClampZoom(zoom)
	var out []*render.Marker
	for _, m := range g.markers {
		if m.VisibleAt(zoom) {
			out = append(out, m)
		}
	}
	return out
}

// Marker looks a marker up by its ID.
func (s *Session) Marker(id string) (*render.Marker, bool) {
	g := s.current()
	if g == nil {
		return nil, false
	}
	m, ok := g.byID[id]
	return m, ok
}

// Icon returns a built icon of the current generation by key.
func (s *Session) Icon(key string) (*icon.Icon, bool) {
	g := s.current()
	if g == nil {
		return nil, false
	}
	return g.store.Lookup(key)
}

// Info is a snapshot of a session for listings.
type Info struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	State    string     `json:"state"`
	Points   int        `json:"points"`
	Skipped  int        `json:"skipped"`
	Markers  int        `json:"markers"`
	Icons    icon.Stats `json:"icons"`
	MinZoom  int        `json:"minZoom"`
	MaxZoom  int        `json:"maxZoom"`
	Eps      float64    `json:"eps"`
	BuiltAt  time.Time  `json:"builtAt,omitzero"`
	Visible  bool       `json:"visible"`
	Clusters int        `json:"clusters"`
}

// Info returns a snapshot of the session.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := Info{ID: s.ID.String(), Name: s.Name, State: s.state.String()}
	if g := s.gen; g != nil {
		p := g.index.Params()
		info.Points = g.index.Points
		info.Skipped = g.index.Skipped
		info.Markers = len(g.markers)
		info.Icons = g.store.Stats()
		info.MinZoom, info.MaxZoom, info.Eps = p.MinZoom, p.MaxZoom, p.Eps
		info.BuiltAt = g.built
		info.Visible = g.layer.Visible()
		for _, m := range g.markers {
			if m.IsCluster() {
				info.Clusters++
			}
		}
	}
	return info
}
