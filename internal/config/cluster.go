package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/geocluster/internal/errtypes"
	"github.com/banshee-data/geocluster/internal/render"
	"github.com/banshee-data/geocluster/internal/session"
	"github.com/banshee-data/geocluster/internal/style"
)

// DefaultConfigPath is the path to the canonical clustering defaults file.
const DefaultConfigPath = "config/cluster.defaults.json"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// ClusterConfig is the file form of a clustering session's options. It is
// also the "options" object of POST /sessions/{name}, so the same document
// serves at startup and at runtime.
type ClusterConfig struct {
	Eps     *float64 `json:"eps,omitempty" yaml:"eps,omitempty"`
	MinZoom *int     `json:"min_zoom,omitempty" yaml:"min_zoom,omitempty"`
	MaxZoom *int     `json:"max_zoom,omitempty" yaml:"max_zoom,omitempty"`

	Noise   *NoiseConfig  `json:"noise,omitempty" yaml:"noise,omitempty"`
	Cluster []*TierConfig `json:"cluster,omitempty" yaml:"cluster,omitempty"`

	Tags        map[string]string `json:"tags,omitempty" yaml:"tags,omitempty"`
	StartHidden *bool             `json:"start_hidden,omitempty" yaml:"start_hidden,omitempty"`
}

// NoiseConfig styles single points.
type NoiseConfig struct {
	Icon  string `json:"icon" yaml:"icon"`
	Color string `json:"color,omitempty" yaml:"color,omitempty"`
	Size  *int   `json:"size,omitempty" yaml:"size,omitempty"`
}

// TierConfig styles clusters weighing at least MinWeight.
type TierConfig struct {
	MinWeight int    `json:"min_weight" yaml:"min_weight"`
	Icon      string `json:"icon" yaml:"icon"`
	Color     string `json:"color,omitempty" yaml:"color,omitempty"`
	Size      int    `json:"size" yaml:"size"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrInt(v int) *int             { return &v }
func ptrBool(v bool) *bool          { return &v }

// EmptyClusterConfig returns a ClusterConfig with all fields unset.
func EmptyClusterConfig() *ClusterConfig {
	return &ClusterConfig{}
}

// DefaultClusterConfig returns the built-in defaults with every field set.
func DefaultClusterConfig() *ClusterConfig {
	cfg := &ClusterConfig{
		Eps:         ptrFloat64(64),
		MinZoom:     ptrInt(1),
		MaxZoom:     ptrInt(24),
		StartHidden: ptrBool(false),
	}
	noise := render.DefaultNoiseStyle()
	cfg.Noise = &NoiseConfig{Icon: noise.Icon, Color: noise.Color, Size: ptrInt(noise.Size)}
	for _, t := range style.DefaultTiers() {
		cfg.Cluster = append(cfg.Cluster, &TierConfig{MinWeight: t.MinWeight, Icon: t.Icon, Color: t.Color, Size: t.Size})
	}
	return cfg
}

// LoadClusterConfig loads a ClusterConfig from a JSON or YAML file. Fields
// omitted from the file keep their defaults through the Get* methods.
func LoadClusterConfig(path string) (*ClusterConfig, error) {
	cfg := EmptyClusterConfig()
	if err := loadFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching parent
// directories. It panics when the file cannot be loaded and is intended for
// test setup.
func MustLoadDefaultConfig() *ClusterConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadClusterConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// loadFile decodes a .json, .yaml or .yml file of at most 1MB into v.
// Unknown fields are rejected. YAML files may reference environment
// variables as ${NAME}.
func loadFile(path string, v any) error {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	switch ext {
	case ".json", ".yaml", ".yml":
	default:
		return fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if ext == ".json" {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(v); err != nil {
			return fmt.Errorf("failed to parse config JSON: %w", err)
		}
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader([]byte(os.ExpandEnv(string(data)))))
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("failed to parse config YAML: %w", err)
	}
	return nil
}

// Validate checks the values that are set.
func (c *ClusterConfig) Validate() error {
	if c.Eps != nil && !(*c.Eps > 0) {
		return errtypes.Configf("eps", "must be positive, got %v", *c.Eps)
	}
	if c.Noise != nil {
		if c.Noise.Icon == "" {
			return errtypes.Configf("noise.icon", "must not be empty")
		}
		if c.Noise.Size != nil && *c.Noise.Size < 0 {
			return errtypes.Configf("noise.size", "must not be negative, got %d", *c.Noise.Size)
		}
	}
	seen := map[int]bool{}
	for i, t := range c.Cluster {
		if t == nil {
			return errtypes.Configf(fmt.Sprintf("cluster[%d]", i), "empty tier")
		}
		if seen[t.MinWeight] {
			return errtypes.Configf(fmt.Sprintf("cluster[%d]", i), "duplicate min_weight %d", t.MinWeight)
		}
		seen[t.MinWeight] = true
	}
	if len(c.Cluster) > 0 {
		if _, err := style.NewResolver(c.tiers()); err != nil {
			return err
		}
	}
	return c.ToOptions().Validate()
}

func (c *ClusterConfig) tiers() []style.Tier {
	out := make([]style.Tier, 0, len(c.Cluster))
	for _, t := range c.Cluster {
		out = append(out, style.Tier{MinWeight: t.MinWeight, Icon: t.Icon, Color: t.Color, Size: t.Size})
	}
	return out
}

// GetEps returns the merge radius in pixels or the default.
func (c *ClusterConfig) GetEps() float64 {
	if c.Eps == nil {
		return 64
	}
	return *c.Eps
}

// GetMinZoom returns the coarsest clustered zoom or the default.
func (c *ClusterConfig) GetMinZoom() int {
	if c.MinZoom == nil {
		return 1
	}
	return *c.MinZoom
}

// GetMaxZoom returns the finest clustered zoom or the default.
func (c *ClusterConfig) GetMaxZoom() int {
	if c.MaxZoom == nil {
		return 24
	}
	return *c.MaxZoom
}

// GetStartHidden returns the start_hidden value or the default.
func (c *ClusterConfig) GetStartHidden() bool {
	if c.StartHidden == nil {
		return false
	}
	return *c.StartHidden
}

// ToOptions converts the file form into session options. Unset noise and
// cluster sections leave the built-in theme in place.
func (c *ClusterConfig) ToOptions() session.Options {
	opts := session.Options{
		Eps:         ptrFloat64(c.GetEps()),
		MinZoom:     ptrInt(c.GetMinZoom()),
		MaxZoom:     ptrInt(c.GetMaxZoom()),
		Tags:        c.Tags,
		StartHidden: c.GetStartHidden(),
	}
	if c.Noise != nil {
		n := render.NoiseStyle{Icon: c.Noise.Icon, Color: c.Noise.Color}
		if c.Noise.Size != nil {
			n.Size = *c.Noise.Size
		}
		opts.Noise = &n
	}
	if len(c.Cluster) > 0 {
		opts.Cluster = make(map[int]session.TierStyle, len(c.Cluster))
		for _, t := range c.Cluster {
			if t == nil {
				continue
			}
			opts.Cluster[t.MinWeight] = session.TierStyle{Icon: t.Icon, Color: t.Color, Size: t.Size}
		}
	}
	return opts
}
