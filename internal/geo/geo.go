// Package geo provides coordinate types and the web-mercator pixel projection
// used to measure on-screen distances between points at a zoom level.
package geo

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/simplify"
)

const (
	// TileSize is the edge length in pixels of a zoom-0 world tile.
	TileSize = 256
	// MaxLatitude is the web-mercator latitude limit (arctan(sinh(pi))).
	MaxLatitude = 85.05112878
	// MaxZoom is the deepest zoom level accepted anywhere in the module.
	MaxZoom = 30
)

// Errors returned by LatLng.Validate.
var (
	ErrNotFinite      = errors.New("coordinate is not finite")
	ErrLatOutOfRange  = errors.New("latitude out of range [-90,90]")
	ErrLngOutOfRange  = errors.New("longitude out of range [-180,180]")
	ErrEmptyPath      = errors.New("empty path")
	ErrBadCoordLength = errors.New("coordinate must have two elements")
)

// LatLng is a WGS84 coordinate in degrees.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (ll LatLng) String() string {
	return fmt.Sprintf("%.6f,%.6f", ll.Lat, ll.Lng)
}

// Validate reports why the coordinate cannot be placed on a map, or nil.
func (ll LatLng) Validate() error {
	switch {
	case math.IsNaN(ll.Lat) || math.IsInf(ll.Lat, 0) || math.IsNaN(ll.Lng) || math.IsInf(ll.Lng, 0):
		return ErrNotFinite
	case ll.Lat < -90 || ll.Lat > 90:
		return ErrLatOutOfRange
	case ll.Lng < -180 || ll.Lng > 180:
		return ErrLngOutOfRange
	}
	return nil
}

// Array returns the coordinate as [lat, lng].
func (ll LatLng) Array() [2]float64 { return [2]float64{ll.Lat, ll.Lng} }

// FromArray converts a [lat, lng] pair.
func FromArray(a [2]float64) LatLng { return LatLng{Lat: a[0], Lng: a[1]} }

// FromSlice converts a [lat, lng] slice, as decoded from JSON arrays.
func FromSlice(s []float64) (LatLng, error) {
	if len(s) != 2 {
		return LatLng{}, ErrBadCoordLength
	}
	return LatLng{Lat: s[0], Lng: s[1]}, nil
}

// Point returns the orb point (x=lng, y=lat).
func (ll LatLng) Point() orb.Point { return orb.Point{ll.Lng, ll.Lat} }

// FromPoint converts an orb point (x=lng, y=lat).
func FromPoint(p orb.Point) LatLng { return LatLng{Lat: p.Lat(), Lng: p.Lon()} }

// DistanceMeters is the great-circle distance between two coordinates.
func DistanceMeters(a, b LatLng) float64 {
	return orbgeo.Distance(a.Point(), b.Point())
}

// WorldSize is the pixel width of the whole world at zoom.
func WorldSize(zoom float64, tileSize float64) float64 {
	if tileSize <= 0 {
		tileSize = TileSize
	}
	return tileSize * math.Exp2(zoom)
}

// Mercator projects a coordinate into normalised web-mercator space where both
// axes run from 0 to 1 and y grows southward. Latitude is clamped to the
// projection limit.
func Mercator(ll LatLng) (x, y float64) {
	lat := math.Max(-MaxLatitude, math.Min(MaxLatitude, ll.Lat))
	x = ll.Lng/360 + 0.5
	sin := math.Sin(lat * math.Pi / 180)
	y = 0.5 - 0.25*math.Log((1+sin)/(1-sin))/math.Pi
	return x, y
}

// InverseMercator maps normalised web-mercator coordinates back to degrees.
func InverseMercator(x, y float64) LatLng {
	lng := (x - 0.5) * 360
	n := math.Pi - 2*math.Pi*y
	lat := 180 / math.Pi * math.Atan(math.Sinh(n))
	return LatLng{Lat: lat, Lng: lng}
}

// ToPixel returns world pixel coordinates of ll at zoom.
func ToPixel(ll LatLng, zoom float64, tileSize float64) (x, y float64) {
	mx, my := Mercator(ll)
	ws := WorldSize(zoom, tileSize)
	return mx * ws, my * ws
}

// FromPixel is the inverse of ToPixel.
func FromPixel(x, y, zoom, tileSize float64) LatLng {
	ws := WorldSize(zoom, tileSize)
	return InverseMercator(x/ws, y/ws)
}

// Tile returns the map tile containing ll at zoom.
func Tile(ll LatLng, zoom int) maptile.Tile {
	return maptile.At(ll.Point(), maptile.Zoom(zoom))
}

// Bounds returns the bounding box of coords. It is empty for no coordinates.
func Bounds(coords []LatLng) orb.Bound {
	if len(coords) == 0 {
		return orb.Bound{}
	}
	b := coords[0].Point().Bound()
	for _, c := range coords[1:] {
		b = b.Extend(c.Point())
	}
	return b
}

// Simplify reduces a coordinate path with Douglas-Peucker. tolerance is in
// degrees. Paths of fewer than three points are returned unchanged.
func Simplify(path []LatLng, tolerance float64) ([]LatLng, error) {
	if len(path) == 0 {
		return nil, ErrEmptyPath
	}
	if len(path) < 3 || tolerance <= 0 {
		return append([]LatLng(nil), path...), nil
	}
	ls := make(orb.LineString, len(path))
	for i, c := range path {
		ls[i] = c.Point()
	}
	g := simplify.DouglasPeucker(tolerance).Simplify(ls.Clone())
	out, ok := g.(orb.LineString)
	if !ok {
		return nil, fmt.Errorf("simplify returned %T", g)
	}
	res := make([]LatLng, len(out))
	for i, p := range out {
		res[i] = FromPoint(p)
	}
	return res, nil
}
