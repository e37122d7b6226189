package session

import (
	"github.com/banshee-data/geocluster/internal/mapengine"
	"github.com/banshee-data/geocluster/internal/monitoring"
	"github.com/banshee-data/geocluster/internal/render"
)

// Router forwards engine taps on a session's markers to the session callback.
type Router struct {
	s *Session
}

// Route delivers ev to the callback of the current generation and reports
// whether it did. Taps on empty space, on other layers or on markers of a
// replaced generation are dropped.
func (r *Router) Route(ev mapengine.TapEvent) bool {
	g := r.s.current()
	m, ok := ev.Target.(*render.Marker)
	if g == nil || !ok || !g.owns(m) || !g.layer.Visible() {
		monitoring.TapsRouted.WithLabelValues("none").Inc()
		return false
	}
	if g.callback == nil {
		return false
	}

	coord := r.s.engine.ScreenToGeo(ev.X, ev.Y)
	switch v := m.View.(type) {
	case render.ClusterView:
		monitoring.TapsRouted.WithLabelValues("cluster").Inc()
		g.callback(ev, coord, nil, v.Count)
	case render.NoiseView:
		monitoring.TapsRouted.WithLabelValues("noise").Inc()
		g.callback(ev, coord, v.Payload, 1)
	default:
		return false
	}
	return true
}
