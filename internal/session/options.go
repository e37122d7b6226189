package session

import (
	"sort"

	"github.com/banshee-data/geocluster/internal/cluster"
	"github.com/banshee-data/geocluster/internal/errtypes"
	"github.com/banshee-data/geocluster/internal/render"
	"github.com/banshee-data/geocluster/internal/style"
)

// TierStyle is the look of clusters from one minimum weight upward.
type TierStyle struct {
	Icon  string `json:"icon" yaml:"icon"`
	Color string `json:"color" yaml:"color"`
	Size  int    `json:"size" yaml:"size"`
}

// Options configures one clustering run. Nil pointer fields take defaults.
type Options struct {
	Eps     *float64 `json:"eps,omitempty" yaml:"eps,omitempty"`
	MinZoom *int     `json:"minZoom,omitempty" yaml:"minZoom,omitempty"`
	MaxZoom *int     `json:"maxZoom,omitempty" yaml:"maxZoom,omitempty"`

	// Noise styles single points. Cluster maps a minimum weight to a tier.
	// Either one left empty falls back to the built-in style.
	Noise   *render.NoiseStyle `json:"noise,omitempty" yaml:"noise,omitempty"`
	Cluster map[int]TierStyle  `json:"cluster,omitempty" yaml:"cluster,omitempty"`

	// Tags fill {tag} tokens of every icon.
	Tags map[string]string `json:"tags,omitempty" yaml:"tags,omitempty"`

	// StartHidden attaches the layer without showing it.
	StartHidden bool `json:"startHidden,omitempty" yaml:"startHidden,omitempty"`
}

func (o Options) GetEps() float64 {
	if o.Eps == nil {
		return cluster.DefaultEps
	}
	return *o.Eps
}

func (o Options) GetMinZoom() int {
	if o.MinZoom == nil {
		return cluster.DefaultMinZoom
	}
	return *o.MinZoom
}

func (o Options) GetMaxZoom() int {
	if o.MaxZoom == nil {
		return cluster.DefaultMaxZoom
	}
	return *o.MaxZoom
}

// Tiers returns the cluster tiers, heaviest first.
func (o Options) Tiers() []style.Tier {
	if len(o.Cluster) == 0 {
		return style.DefaultTiers()
	}
	tiers := make([]style.Tier, 0, len(o.Cluster))
	for w, ts := range o.Cluster {
		tiers = append(tiers, style.Tier{MinWeight: w, Icon: ts.Icon, Color: ts.Color, Size: ts.Size})
	}
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].MinWeight > tiers[j].MinWeight })
	return tiers
}

// NoiseStyle returns the single-point style.
func (o Options) NoiseStyle() render.NoiseStyle {
	if o.Noise == nil {
		return render.DefaultNoiseStyle()
	}
	return *o.Noise
}

// Params returns the clustering parameters for a resolved threshold.
func (o Options) Params(threshold int) cluster.Params {
	p := cluster.DefaultParams()
	p.Eps = o.GetEps()
	p.MinWeight = threshold
	p.MinZoom, p.MaxZoom = o.GetMinZoom(), o.GetMaxZoom()
	return p
}

// Validate checks everything that can be checked without fetching icons.
func (o Options) Validate() error {
	if o.Noise != nil {
		if o.Noise.Icon == "" {
			return errtypes.Configf("noise.icon", "must not be empty")
		}
		if o.Noise.Size < 0 {
			return errtypes.Configf("noise.size", "must not be negative, got %d", o.Noise.Size)
		}
		if o.Noise.Color != "" && !style.ValidColor(o.Noise.Color) {
			return errtypes.Configf("noise.color", "invalid colour %q", o.Noise.Color)
		}
	}
	// MinWeight is resolved from the tiers; 2 stands in for the check.
	return o.Params(cluster.DefaultMinWeight).Validate()
}
