package cluster

import (
	"github.com/banshee-data/geocluster/internal/errtypes"
	"github.com/banshee-data/geocluster/internal/geo"
)

// Defaults for radius clustering.
const (
	// DefaultEps is the merge radius in screen pixels.
	DefaultEps = 64
	// DefaultMinWeight is the smallest aggregate allowed to form a cluster.
	DefaultMinWeight = 2
	DefaultMinZoom   = 1
	DefaultMaxZoom   = 24
)

// Params controls a clustering build.
type Params struct {
	Eps       float64 // merge radius in pixels at each zoom
	MinWeight int     // clusters below this weight are not formed
	MinZoom   int
	MaxZoom   int
	TileSize  float64 // pixel edge of a zoom-0 tile, 256 when zero
}

// DefaultParams returns the default clustering parameters.
func DefaultParams() Params {
	return Params{
		Eps:       DefaultEps,
		MinWeight: DefaultMinWeight,
		MinZoom:   DefaultMinZoom,
		MaxZoom:   DefaultMaxZoom,
		TileSize:  geo.TileSize,
	}
}

// Validate checks the parameters and returns a ConfigurationError.
func (p Params) Validate() error {
	switch {
	case !(p.Eps > 0):
		return errtypes.Configf("eps", "must be positive, got %v", p.Eps)
	case p.MinWeight < 1:
		return errtypes.Configf("minWeight", "must be at least 1, got %d", p.MinWeight)
	case p.MinZoom < 0 || p.MinZoom > geo.MaxZoom:
		return errtypes.Configf("minZoom", "must be within 0..%d, got %d", geo.MaxZoom, p.MinZoom)
	case p.MaxZoom < 0 || p.MaxZoom > geo.MaxZoom:
		return errtypes.Configf("maxZoom", "must be within 0..%d, got %d", geo.MaxZoom, p.MaxZoom)
	case p.MinZoom > p.MaxZoom:
		return errtypes.Configf("zoom", "minZoom %d exceeds maxZoom %d", p.MinZoom, p.MaxZoom)
	case p.TileSize < 0:
		return errtypes.Configf("tileSize", "must not be negative, got %v", p.TileSize)
	}
	return nil
}

func (p Params) tileSize() float64 {
	if p.TileSize <= 0 {
		return geo.TileSize
	}
	return p.TileSize
}
