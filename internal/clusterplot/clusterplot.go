// Package clusterplot draws the nodes of a cluster index at one zoom level as
// a longitude/latitude scatter, for offline inspection of clustering results.
package clusterplot

import (
	"errors"
	"fmt"
	"image/color"
	"io"
	"math"
	"os"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/geocluster/internal/cluster"
	"github.com/banshee-data/geocluster/internal/icon"
	"github.com/banshee-data/geocluster/internal/style"
)

// ErrEmpty is returned when no node is visible at the requested zoom.
var ErrEmpty = errors.New("clusterplot: no nodes to plot")

var noiseColor = color.RGBA{R: 0x60, G: 0x60, B: 0x60, A: 0xff}

// Options controls the figure.
type Options struct {
	Title  string
	Width  vg.Length
	Height vg.Length
	// Tiers colours cluster glyphs. Nil uses the default theme.
	Tiers []style.Tier
	// Labels prints the weight next to every cluster.
	Labels bool
}

func (o Options) size() (vg.Length, vg.Length) {
	w, h := o.Width, o.Height
	if w <= 0 {
		w = 8 * vg.Inch
	}
	if h <= 0 {
		h = 6 * vg.Inch
	}
	return w, h
}

// glyphRadius grows with the log of the weight so heavy clusters stay legible.
func glyphRadius(weight int) vg.Length {
	if weight <= 1 {
		return vg.Points(2)
	}
	return vg.Points(3 + 2*math.Log2(float64(weight)))
}

// New builds the plot of every node visible at zoom.
func New(idx *cluster.Index, zoom int, opts Options) (*plot.Plot, error) {
	nodes := idx.Nodes(zoom)
	if len(nodes) == 0 {
		return nil, ErrEmpty
	}

	tiers := opts.Tiers
	if len(tiers) == 0 {
		tiers = style.DefaultTiers()
	}
	resolver, err := style.NewResolver(tiers)
	if err != nil {
		return nil, err
	}

	xys := make(plotter.XYs, len(nodes))
	labels := make([]string, len(nodes))
	for i, n := range nodes {
		xys[i] = plotter.XY{X: n.Position.Lng, Y: n.Position.Lat}
		if !n.IsNoise() {
			labels[i] = icon.FormatWeight(n.Weight)
		}
	}

	scatter, err := plotter.NewScatter(xys)
	if err != nil {
		return nil, fmt.Errorf("failed to create scatter: %w", err)
	}
	scatter.GlyphStyleFunc = func(i int) draw.GlyphStyle {
		n := nodes[i]
		gs := draw.GlyphStyle{Shape: draw.CircleGlyph{}, Color: noiseColor, Radius: glyphRadius(n.Weight)}
		if n.IsNoise() {
			return gs
		}
		if tier, ok := resolver.Resolve(n.Weight); ok {
			if c, err := style.ParseColor(tier.Color); err == nil {
				gs.Color = c
			}
		}
		return gs
	}

	p := plot.New()
	p.Title.Text = opts.Title
	if p.Title.Text == "" {
		p.Title.Text = fmt.Sprintf("%d nodes at zoom %d", len(nodes), idx.ClampZoom(zoom))
	}
	p.X.Label.Text = "Longitude"
	p.Y.Label.Text = "Latitude"
	p.Add(plotter.NewGrid(), scatter)

	if opts.Labels {
		l, err := plotter.NewLabels(plotter.XYLabels{XYs: xys, Labels: labels})
		if err != nil {
			return nil, fmt.Errorf("failed to create labels: %w", err)
		}
		for i := range l.TextStyle {
			l.TextStyle[i].XAlign = draw.XLeft
		}
		l.Offset = vg.Point{X: vg.Points(6)}
		p.Add(l)
	}
	return p, nil
}

// WritePNG renders the plot for zoom as PNG into w.
func WritePNG(w io.Writer, idx *cluster.Index, zoom int, opts Options) error {
	p, err := New(idx, zoom, opts)
	if err != nil {
		return err
	}
	width, height := opts.size()
	wt, err := p.WriterTo(width, height, "png")
	if err != nil {
		return fmt.Errorf("failed to render plot: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}

// Save writes the PNG to path.
func Save(path string, idx *cluster.Index, zoom int, opts Options) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create plot file: %w", err)
	}
	if err := WritePNG(f, idx, zoom, opts); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}
