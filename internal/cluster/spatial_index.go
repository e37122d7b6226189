package cluster

import (
	"math"
	"sort"
)

// estimatedNodesPerCell sizes the initial grid map.
const estimatedNodesPerCell = 4

// gridIndex buckets pixel positions into square cells of CellSize so that a
// radius query only inspects the 3x3 block of cells around the query point.
type gridIndex struct {
	CellSize float64
	Grid     map[int64][]int
	xs, ys   []float64
}

func newGridIndex(cellSize float64) *gridIndex {
	return &gridIndex{CellSize: cellSize}
}

// Build indexes the positions xs[i], ys[i].
func (g *gridIndex) Build(xs, ys []float64) {
	g.xs, g.ys = xs, ys
	g.Grid = make(map[int64][]int, len(xs)/estimatedNodesPerCell+1)
	for i := range xs {
		id := cellID(g.cell(xs[i]), g.cell(ys[i]))
		g.Grid[id] = append(g.Grid[id], i)
	}
}

func (g *gridIndex) cell(v float64) int64 {
	return int64(math.Floor(v / g.CellSize))
}

// cellID pairs signed cell coordinates into one key: zigzag encoding maps them
// onto non-negative integers, then Szudzik's function pairs the two. At deep
// zooms the product may wrap; that only adds candidates, which the distance
// check filters.
func cellID(cx, cy int64) int64 {
	a, b := zigzag(cx), zigzag(cy)
	if a >= b {
		return a*a + a + b
	}
	return a + b*b
}

func zigzag(v int64) int64 {
	if v >= 0 {
		return 2 * v
	}
	return -2*v - 1
}

// RegionQuery returns, in ascending order, the indices within eps of position
// idx, excluding idx itself.
func (g *gridIndex) RegionQuery(idx int, eps float64) []int {
	px, py := g.xs[idx], g.ys[idx]
	cx, cy := g.cell(px), g.cell(py)
	eps2 := eps * eps

	var out []int
	for dx := int64(-1); dx <= 1; dx++ {
		for dy := int64(-1); dy <= 1; dy++ {
			for _, j := range g.Grid[cellID(cx+dx, cy+dy)] {
				if j == idx {
					continue
				}
				ddx, ddy := g.xs[j]-px, g.ys[j]-py
				if ddx*ddx+ddy*ddy <= eps2 {
					out = append(out, j)
				}
			}
		}
	}
	// Wrapped keys can alias two cells of the block onto one bucket.
	sort.Ints(out)
	return dedupSorted(out)
}

func dedupSorted(s []int) []int {
	if len(s) < 2 {
		return s
	}
	w := 1
	for i := 1; i < len(s); i++ {
		if s[i] != s[w-1] {
			s[w] = s[i]
			w++
		}
	}
	return s[:w]
}
