// Package style maps a cluster weight to the visual tier used to draw it.
package style

import (
	"fmt"
	"image/color"
	"regexp"
	"sort"
	"strconv"

	"github.com/banshee-data/geocluster/internal/errtypes"
)

// Tier is the visual style of every cluster weighing at least MinWeight and
// less than the next heavier tier.
type Tier struct {
	MinWeight int    `json:"minWeight" yaml:"minWeight"`
	Icon      string `json:"icon" yaml:"icon"`
	Color     string `json:"color" yaml:"color"`
	Size      int    `json:"size" yaml:"size"`
}

// Default tier colours and sizes.
const (
	DefaultRedColor    = "#B50015"
	DefaultOrangeColor = "#FF6900"
	DefaultGreenColor  = "#7BD30A"

	// DefaultClusterIcon is the embedded marker template shared by the
	// default tiers. Its {color} token takes the tier colour.
	DefaultClusterIcon = "@svg/cluster.svg"
	// DefaultNoiseIcon is the embedded single-point marker.
	DefaultNoiseIcon = "@svg/point.svg"
	DefaultNoiseSize = 16
)

// DefaultTiers returns the built-in theme, heaviest first.
func DefaultTiers() []Tier {
	return []Tier{
		{MinWeight: 200, Icon: DefaultClusterIcon, Color: DefaultRedColor, Size: 64},
		{MinWeight: 75, Icon: DefaultClusterIcon, Color: DefaultOrangeColor, Size: 48},
		{MinWeight: 2, Icon: DefaultClusterIcon, Color: DefaultGreenColor, Size: 40},
	}
}

// Resolve returns the first tier of tiers, which must be sorted by descending
// MinWeight, whose MinWeight does not exceed weight. ok is false when weight is
// below every tier, in which case the node is drawn as noise.
func Resolve(tiers []Tier, weight int) (tier Tier, ok bool) {
	for _, t := range tiers {
		if t.MinWeight <= weight {
			return t, true
		}
	}
	return Tier{}, false
}

var colorPattern = regexp.MustCompile(`^#(?:[0-9A-Fa-f]{3}|[0-9A-Fa-f]{6})$`)

// ValidColor reports whether c is a #RGB or #RRGGBB colour.
func ValidColor(c string) bool { return colorPattern.MatchString(c) }

// ParseColor converts a #RGB or #RRGGBB colour to an opaque RGBA value.
func ParseColor(c string) (color.RGBA, error) {
	if !ValidColor(c) {
		return color.RGBA{}, fmt.Errorf("invalid colour %q", c)
	}
	hex := c[1:]
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	v, _ := strconv.ParseUint(hex, 16, 32)
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}

// Resolver holds a validated, descending tier table.
type Resolver struct {
	tiers []Tier
}

// NewResolver validates tiers and sorts a copy by descending MinWeight.
func NewResolver(tiers []Tier) (*Resolver, error) {
	if len(tiers) == 0 {
		return nil, errtypes.Configf("cluster", "tier table is empty")
	}
	sorted := append([]Tier(nil), tiers...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].MinWeight > sorted[j].MinWeight })

	for i, t := range sorted {
		field := fmt.Sprintf("cluster[%d]", t.MinWeight)
		switch {
		case t.MinWeight < 1:
			return nil, errtypes.Configf(field, "minimum weight must be at least 1")
		case i > 0 && sorted[i-1].MinWeight == t.MinWeight:
			return nil, errtypes.Configf(field, "duplicate tier")
		case t.Icon == "":
			return nil, errtypes.Configf(field+".icon", "missing icon reference")
		case t.Size <= 0:
			return nil, errtypes.Configf(field+".size", "must be positive, got %d", t.Size)
		case t.Color != "" && !ValidColor(t.Color):
			return nil, errtypes.Configf(field+".color", "invalid colour %q", t.Color)
		}
	}
	return &Resolver{tiers: sorted}, nil
}

// Resolve returns the tier for weight.
func (r *Resolver) Resolve(weight int) (Tier, bool) { return Resolve(r.tiers, weight) }

// Threshold is the smallest weight that resolves to a tier.
func (r *Resolver) Threshold() int { return r.tiers[len(r.tiers)-1].MinWeight }

// Tiers returns a copy of the table, heaviest first.
func (r *Resolver) Tiers() []Tier { return append([]Tier(nil), r.tiers...) }

// Icons returns the distinct icon references used by the table, in tier order.
func (r *Resolver) Icons() []string {
	seen := map[string]bool{}
	var out []string
	for _, t := range r.tiers {
		if !seen[t.Icon] {
			seen[t.Icon] = true
			out = append(out, t.Icon)
		}
	}
	return out
}
