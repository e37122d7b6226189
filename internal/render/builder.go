package render

import (
	"context"
	"errors"
	"fmt"

	"github.com/banshee-data/geocluster/internal/cluster"
	"github.com/banshee-data/geocluster/internal/errtypes"
	"github.com/banshee-data/geocluster/internal/geo"
	"github.com/banshee-data/geocluster/internal/icon"
	"github.com/banshee-data/geocluster/internal/style"
)

// NoiseStyle is the fixed look of single points.
type NoiseStyle struct {
	Icon  string `json:"icon" yaml:"icon"`
	Color string `json:"color,omitempty" yaml:"color,omitempty"`
	Size  int    `json:"size" yaml:"size"`
}

// DefaultNoiseColor fills the built-in point icon.
const DefaultNoiseColor = icon.DefaultColor

// DefaultNoiseStyle is the built-in point marker.
func DefaultNoiseStyle() NoiseStyle {
	return NoiseStyle{Icon: style.DefaultNoiseIcon, Color: DefaultNoiseColor, Size: style.DefaultNoiseSize}
}

// Builder presents nodes of one index with one tier table and icon store.
type Builder struct {
	resolver *style.Resolver
	store    *icon.Store
	noise    NoiseStyle
	tags     map[string]string
}

// NewBuilder returns a builder. tags fill {tag} tokens of every icon.
func NewBuilder(resolver *style.Resolver, store *icon.Store, noise NoiseStyle, tags map[string]string) *Builder {
	return &Builder{resolver: resolver, store: store, noise: noise, tags: tags}
}

// SourceRefs lists every icon source the builder may need.
func (b *Builder) SourceRefs() []string {
	return append(b.resolver.Icons(), b.noise.Icon)
}

// Present converts node into a marker, resolving its icon first.
func (b *Builder) Present(ctx context.Context, idx *cluster.Index, node *cluster.Node) (*Marker, error) {
	m := &Marker{Pos: node.Position}
	m.MinZoom, m.MaxZoom = visibleRange(idx.Params(), node)

	if node.IsNoise() {
		ic, err := b.store.StaticIcon(ctx, b.noise.Icon, b.noise.Color, b.noise.Size, b.tags)
		if err != nil {
			return nil, iconError("noise.icon", err)
		}
		m.ID = MarkerID(node)
		m.Icon = ic
		m.View = NoiseView{NodeID: node.ID, Payload: node.Members[0].Payload}
		return m, nil
	}

	tier, ok := b.resolver.Resolve(node.Weight)
	if !ok {
		return nil, errtypes.Configf("cluster", "no tier for weight %d below threshold %d", node.Weight, b.resolver.Threshold())
	}
	ic, err := b.store.ClusterIcon(ctx, tier.Icon, tier.Color, tier.Size, node.Weight, b.tags)
	if err != nil {
		return nil, iconError(fmt.Sprintf("cluster[%d].icon", tier.MinWeight), err)
	}
	m.ID = MarkerID(node)
	m.Icon = ic
	m.View = ClusterView{NodeID: node.ID, Count: node.Weight}
	return m, nil
}

// PresentAll presents every distinct node of idx. Nothing is returned unless
// every icon resolved.
func (b *Builder) PresentAll(ctx context.Context, idx *cluster.Index) ([]*Marker, error) {
	nodes := idx.AllNodes()
	out := make([]*Marker, 0, len(nodes))
	for _, n := range nodes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m, err := b.Present(ctx, idx, n)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// visibleRange opens the ends of the indexed zoom range so the coarsest and
// finest levels stay drawn when the map zooms past them.
func visibleRange(p cluster.Params, n *cluster.Node) (minZoom, maxZoom int) {
	minZoom, maxZoom = n.MinZoom, n.MaxZoom
	if minZoom <= p.MinZoom {
		minZoom = 0
	}
	if maxZoom >= p.MaxZoom {
		maxZoom = geo.MaxZoom
	}
	return minZoom, maxZoom
}

func iconError(field string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &errtypes.ConfigurationError{Field: field, Reason: "icon unavailable", Err: err}
}
