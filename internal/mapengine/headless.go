package mapengine

import (
	"math"
	"sync"

	"github.com/banshee-data/geocluster/internal/geo"
)

// Headless is an in-memory Engine with a web-mercator viewport.
type Headless struct {
	mu       sync.RWMutex
	center   geo.LatLng
	zoom     int
	width    float64
	height   float64
	layers   []*Layer
	handlers map[int]TapHandler
	nextID   int
}

var _ Engine = (*Headless)(nil)

// NewHeadless returns an engine showing a width×height pixel viewport centred
// on center at zoom.
func NewHeadless(center geo.LatLng, zoom int, width, height float64) *Headless {
	return &Headless{
		center:   center,
		zoom:     zoom,
		width:    width,
		height:   height,
		handlers: map[int]TapHandler{},
	}
}

// SetView moves the viewport.
func (h *Headless) SetView(center geo.LatLng, zoom int) {
	h.mu.Lock()
	h.center, h.zoom = center, zoom
	h.mu.Unlock()
}

// Center returns the viewport centre.
func (h *Headless) Center() geo.LatLng {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.center
}

func (h *Headless) Zoom() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.zoom
}

func (h *Headless) AddLayer(l *Layer) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, existing := range h.layers {
		if existing == l {
			return ErrLayerAttached
		}
	}
	h.layers = append(h.layers, l)
	return nil
}

func (h *Headless) RemoveLayer(l *Layer) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, existing := range h.layers {
		if existing == l {
			h.layers = append(h.layers[:i:i], h.layers[i+1:]...)
			return nil
		}
	}
	return ErrLayerNotAttached
}

// Layers returns the attached layers, bottom first.
func (h *Headless) Layers() []*Layer {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]*Layer(nil), h.layers...)
}

// origin is the world pixel at the viewport's top-left corner.
func (h *Headless) origin() (x, y float64) {
	cx, cy := geo.ToPixel(h.center, float64(h.zoom), geo.TileSize)
	return cx - h.width/2, cy - h.height/2
}

func (h *Headless) ScreenToGeo(x, y float64) geo.LatLng {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ox, oy := h.origin()
	return geo.FromPixel(ox+x, oy+y, float64(h.zoom), geo.TileSize)
}

func (h *Headless) GeoToScreen(ll geo.LatLng) (x, y float64) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ox, oy := h.origin()
	px, py := geo.ToPixel(ll, float64(h.zoom), geo.TileSize)
	return px - ox, py - oy
}

func (h *Headless) OnTap(handler TapHandler) (cancel func()) {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.handlers[id] = handler
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.handlers, id)
			h.mu.Unlock()
		})
	}
}

// HitTest returns the object under the screen point: the topmost visible
// layer wins, and within it the nearest object, later objects on ties.
func (h *Headless) HitTest(x, y float64) (Object, *Layer) {
	h.mu.RLock()
	layers := append([]*Layer(nil), h.layers...)
	zoom := h.zoom
	h.mu.RUnlock()

	for i := len(layers) - 1; i >= 0; i-- {
		var best Object
		bestDist := math.Inf(1)
		for _, o := range layers[i].VisibleObjects(zoom) {
			ox, oy := h.GeoToScreen(o.Position())
			d := math.Hypot(ox-x, oy-y)
			if d <= o.HitRadius() && d <= bestDist {
				best, bestDist = o, d
			}
		}
		if best != nil {
			return best, layers[i]
		}
	}
	return nil, nil
}

// Tap hit-tests the screen point and delivers the event to every handler.
func (h *Headless) Tap(x, y float64) TapEvent {
	target, layer := h.HitTest(x, y)
	ev := TapEvent{X: x, Y: y, Zoom: h.Zoom(), Target: target, Layer: layer}

	h.mu.RLock()
	handlers := make([]TapHandler, 0, len(h.handlers))
	for id := 0; id < h.nextID; id++ {
		if fn, ok := h.handlers[id]; ok {
			handlers = append(handlers, fn)
		}
	}
	h.mu.RUnlock()

	for _, fn := range handlers {
		fn(ev)
	}
	return ev
}

// TapAt taps the screen position of ll.
func (h *Headless) TapAt(ll geo.LatLng) TapEvent {
	x, y := h.GeoToScreen(ll)
	return h.Tap(x, y)
}
