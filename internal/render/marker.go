package render

import (
	"fmt"

	"github.com/banshee-data/geocluster/internal/cluster"
	"github.com/banshee-data/geocluster/internal/geo"
	"github.com/banshee-data/geocluster/internal/icon"
	"github.com/banshee-data/geocluster/internal/mapengine"
)

// minHitRadius keeps tiny icons tappable.
const minHitRadius = 8

// Marker is a placed, iconed node. It is never modified after Present returns.
type Marker struct {
	ID      string
	Pos     geo.LatLng
	Icon    *icon.Icon
	MinZoom int
	MaxZoom int
	View    NodeView
}

var _ mapengine.Object = (*Marker)(nil)

// MarkerID is the ID of the marker presenting node.
func MarkerID(node *cluster.Node) string {
	if node.IsNoise() {
		return fmt.Sprintf("p%d", node.ID)
	}
	return fmt.Sprintf("c%d", node.ID)
}

func (m *Marker) Position() geo.LatLng { return m.Pos }

func (m *Marker) VisibleAt(zoom int) bool { return zoom >= m.MinZoom && zoom <= m.MaxZoom }

func (m *Marker) HitRadius() float64 {
	r := float64(max(m.Icon.Width, m.Icon.Height)) / 2
	if r < minHitRadius {
		return minHitRadius
	}
	return r
}

// IsCluster reports whether the marker stands for several points.
func (m *Marker) IsCluster() bool {
	_, ok := m.View.(ClusterView)
	return ok
}

func (m *Marker) String() string {
	return fmt.Sprintf("%s@%s[z%d-%d w%d]", m.ID, m.Pos, m.MinZoom, m.MaxZoom, m.View.Weight())
}
