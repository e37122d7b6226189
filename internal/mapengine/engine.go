// Package mapengine is the boundary to the map renderer: layers of placed
// objects, screen/geo conversion and tap delivery. Headless implements it in
// memory for the server, the CLI and tests.
package mapengine

import (
	"errors"
	"sync"

	"github.com/banshee-data/geocluster/internal/geo"
)

// Errors returned by engines.
var (
	ErrLayerAttached    = errors.New("layer already attached")
	ErrLayerNotAttached = errors.New("layer not attached")
)

// Object is anything placed on a layer.
type Object interface {
	Position() geo.LatLng
	// VisibleAt reports whether the object is drawn at zoom.
	VisibleAt(zoom int) bool
	// HitRadius is the tap tolerance around the position, in pixels.
	HitRadius() float64
}

// Layer is an ordered set of objects that is shown or hidden as a whole.
type Layer struct {
	mu      sync.RWMutex
	name    string
	objects []Object
	visible bool
}

// NewLayer returns a visible layer holding objects.
func NewLayer(name string, objects []Object) *Layer {
	return &Layer{name: name, objects: objects, visible: true}
}

func (l *Layer) Name() string { return l.name }

// Objects returns the layer's objects. The slice must not be modified.
func (l *Layer) Objects() []Object {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.objects
}

// Len is the number of objects.
func (l *Layer) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.objects)
}

// SetVisible shows or hides the layer.
func (l *Layer) SetVisible(v bool) {
	l.mu.Lock()
	l.visible = v
	l.mu.Unlock()
}

// Visible reports whether the layer is shown.
func (l *Layer) Visible() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.visible
}

// VisibleObjects returns the objects drawn at zoom, or none when hidden.
func (l *Layer) VisibleObjects(zoom int) []Object {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.visible {
		return nil
	}
	var out []Object
	for _, o := range l.objects {
		if o.VisibleAt(zoom) {
			out = append(out, o)
		}
	}
	return out
}

// TapEvent is a tap on the map surface. Target is nil when the tap hit no
// object.
type TapEvent struct {
	X, Y   float64
	Zoom   int
	Target Object
	Layer  *Layer
}

// TapHandler receives tap events.
type TapHandler func(TapEvent)

// Engine is the map renderer as seen by clustering sessions.
type Engine interface {
	AddLayer(*Layer) error
	RemoveLayer(*Layer) error
	ScreenToGeo(x, y float64) geo.LatLng
	GeoToScreen(ll geo.LatLng) (x, y float64)
	// OnTap subscribes h and returns a function that unsubscribes it.
	OnTap(h TapHandler) (cancel func())
	Zoom() int
}
