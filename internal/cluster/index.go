// Package cluster groups geographic points into per-zoom clusters by greedy
// radius aggregation in screen space.
//
// Level MaxZoom holds every point on its own. Each coarser level is built from
// the one above it, so a node at zoom z is always a union of nodes at z+1 and
// two points once merged stay merged as the map zooms out.
package cluster

import (
	"math"
	"time"

	"github.com/paulmach/orb"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/geocluster/internal/errtypes"
	"github.com/banshee-data/geocluster/internal/geo"
	"github.com/banshee-data/geocluster/internal/monitoring"
)

// Point is one input datum. Nodes hold pointers into the caller's slice.
type Point struct {
	geo.LatLng
	Payload any `json:"payload,omitempty"`
}

// NewPoint is a convenience constructor.
func NewPoint(lat, lng float64, payload any) Point {
	return Point{LatLng: geo.LatLng{Lat: lat, Lng: lng}, Payload: payload}
}

// Node is a cluster or a single point visible over a zoom range.
type Node struct {
	ID       int
	Position geo.LatLng
	Weight   int
	MinZoom  int
	MaxZoom  int
	Members  []*Point
	Children []int

	// normalised mercator centroid and member extent
	x, y                   float64
	minX, minY, maxX, maxY float64
}

// IsNoise reports whether the node is a single point rendered on its own.
func (n *Node) IsNoise() bool { return n.Weight == 1 }

// VisibleAt reports whether the node belongs to the level at zoom.
func (n *Node) VisibleAt(zoom int) bool { return zoom >= n.MinZoom && zoom <= n.MaxZoom }

// Index is the result of a build: one level of nodes per zoom.
type Index struct {
	params Params
	levels [][]*Node
	nodes  []*Node

	// Skipped counts points rejected for invalid coordinates.
	Skipped       int
	SkippedErrors []*errtypes.InputDataError
	// Points is the number of points indexed.
	Points int
}

// Build clusters points. Invalid coordinates are skipped and reported through
// Index.Skipped; an empty input yields an empty index.
func Build(points []Point, params Params) (*Index, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()

	idx := &Index{
		params: params,
		levels: make([][]*Node, params.MaxZoom-params.MinZoom+1),
	}

	leaves := make([]*Node, 0, len(points))
	for i := range points {
		p := &points[i]
		if err := p.LatLng.Validate(); err != nil {
			idx.Skipped++
			idx.SkippedErrors = append(idx.SkippedErrors, &errtypes.InputDataError{
				Index: i, Lat: p.Lat, Lng: p.Lng, Reason: err.Error(),
			})
			continue
		}
		x, y := geo.Mercator(p.LatLng)
		n := &Node{
			ID:       len(idx.nodes),
			Position: p.LatLng,
			Weight:   1,
			MinZoom:  params.MaxZoom,
			MaxZoom:  params.MaxZoom,
			Members:  []*Point{p},
			x:        x, y: y,
			minX: x, minY: y, maxX: x, maxY: y,
		}
		idx.nodes = append(idx.nodes, n)
		leaves = append(leaves, n)
	}
	idx.Points = len(leaves)
	if idx.Skipped > 0 {
		monitoring.PointsSkipped.Add(float64(idx.Skipped))
		monitoring.Logf("cluster: skipped %d of %d points with invalid coordinates", idx.Skipped, len(points))
	}

	level := leaves
	idx.levels[params.MaxZoom-params.MinZoom] = level
	for z := params.MaxZoom - 1; z >= params.MinZoom; z-- {
		level = idx.aggregate(level, z)
		idx.levels[z-params.MinZoom] = level
	}

	monitoring.Logf("cluster: indexed %d points into %d nodes over zooms %d..%d in %v",
		idx.Points, len(idx.nodes), params.MinZoom, params.MaxZoom, time.Since(start))
	return idx, nil
}

// aggregate builds the level at zoom z from the finer level above it.
//
// Nodes are visited in order. An unassigned seed collects unassigned
// neighbours within eps whose member extent, united with the group's, keeps a
// diagonal of at most eps pixels. Groups reaching MinWeight become a new node
// at the weighted centroid; otherwise the seed is carried down unchanged.
func (idx *Index) aggregate(finer []*Node, z int) []*Node {
	eps := idx.params.Eps
	ws := geo.WorldSize(float64(z), idx.params.tileSize())

	xs := make([]float64, len(finer))
	ys := make([]float64, len(finer))
	for i, n := range finer {
		xs[i], ys[i] = n.x*ws, n.y*ws
	}
	grid := newGridIndex(eps)
	grid.Build(xs, ys)

	assigned := make([]bool, len(finer))
	out := make([]*Node, 0, len(finer))
	for i, seed := range finer {
		if assigned[i] {
			continue
		}
		assigned[i] = true

		group := []int{i}
		weight := seed.Weight
		ext := extentOf(seed)
		for _, j := range grid.RegionQuery(i, eps) {
			if assigned[j] {
				continue
			}
			merged := ext.union(extentOf(finer[j]))
			if merged.diagonal()*ws > eps {
				continue
			}
			ext = merged
			group = append(group, j)
			weight += finer[j].Weight
		}

		if len(group) < 2 || weight < idx.params.MinWeight {
			seed.MinZoom = z
			out = append(out, seed)
			continue
		}
		members := make([]*Node, len(group))
		for k, j := range group {
			assigned[j] = true
			members[k] = finer[j]
		}
		out = append(out, idx.merge(members, ext, weight, z))
	}
	return out
}

func (idx *Index) merge(children []*Node, ext extent, weight, z int) *Node {
	xs := make([]float64, len(children))
	ys := make([]float64, len(children))
	ws := make([]float64, len(children))
	n := &Node{
		ID:      len(idx.nodes),
		Weight:  weight,
		MinZoom: z,
		MaxZoom: z,
		Members: make([]*Point, 0, weight),
		minX:    ext.minX, minY: ext.minY, maxX: ext.maxX, maxY: ext.maxY,
	}
	for i, c := range children {
		xs[i], ys[i], ws[i] = c.x, c.y, float64(c.Weight)
		n.Members = append(n.Members, c.Members...)
		n.Children = append(n.Children, c.ID)
	}
	n.x = stat.Mean(xs, ws)
	n.y = stat.Mean(ys, ws)
	n.Position = geo.InverseMercator(n.x, n.y)
	idx.nodes = append(idx.nodes, n)
	return n
}

type extent struct{ minX, minY, maxX, maxY float64 }

func extentOf(n *Node) extent { return extent{n.minX, n.minY, n.maxX, n.maxY} }

func (e extent) union(o extent) extent {
	return extent{
		math.Min(e.minX, o.minX), math.Min(e.minY, o.minY),
		math.Max(e.maxX, o.maxX), math.Max(e.maxY, o.maxY),
	}
}

func (e extent) diagonal() float64 { return math.Hypot(e.maxX-e.minX, e.maxY-e.minY) }

// Params returns the parameters the index was built with.
func (idx *Index) Params() Params { return idx.params }

// Len is the number of distinct nodes across all zoom levels.
func (idx *Index) Len() int { return len(idx.nodes) }

// ClampZoom limits zoom to the indexed range.
func (idx *Index) ClampZoom(zoom int) int {
	if zoom < idx.params.MinZoom {
		return idx.params.MinZoom
	}
	if zoom > idx.params.MaxZoom {
		return idx.params.MaxZoom
	}
	return zoom
}

// Nodes returns the nodes visible at zoom, clamped to the indexed range. The
// returned slice must not be modified.
func (idx *Index) Nodes(zoom int) []*Node {
	return idx.levels[idx.ClampZoom(zoom)-idx.params.MinZoom]
}

// Clusters returns the nodes visible at zoom whose position lies inside bound.
func (idx *Index) Clusters(bound orb.Bound, zoom int) []*Node {
	var out []*Node
	for _, n := range idx.Nodes(zoom) {
		if bound.Contains(n.Position.Point()) {
			out = append(out, n)
		}
	}
	return out
}

// Node looks up a node by ID.
func (idx *Index) Node(id int) (*Node, bool) {
	if id < 0 || id >= len(idx.nodes) {
		return nil, false
	}
	return idx.nodes[id], true
}

// AllNodes returns every distinct node in creation order: points first, then
// clusters from the finest level to the coarsest.
func (idx *Index) AllNodes() []*Node { return idx.nodes }

// ExpansionZoom is the zoom at which n splits into its children.
func (idx *Index) ExpansionZoom(n *Node) int {
	if n.MaxZoom >= idx.params.MaxZoom {
		return idx.params.MaxZoom
	}
	return n.MaxZoom + 1
}

// Children returns the nodes merged to form n.
func (idx *Index) Children(n *Node) []*Node {
	out := make([]*Node, 0, len(n.Children))
	for _, id := range n.Children {
		out = append(out, idx.nodes[id])
	}
	return out
}

// Leaves pages through the points of n.
func (idx *Index) Leaves(n *Node, limit, offset int) []*Point {
	if offset < 0 || offset >= len(n.Members) {
		return nil
	}
	end := len(n.Members)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return n.Members[offset:end]
}
