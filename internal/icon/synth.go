package icon

import (
	"bytes"
	"fmt"
	"html"
	"image"
	"image/color"
	"image/png"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/banshee-data/geocluster/internal/errtypes"
)

// Kind is the representation of an icon source or result.
type Kind int

const (
	Raster Kind = iota
	Vector
)

func (k Kind) String() string {
	if k == Vector {
		return "vector"
	}
	return "raster"
}

// defaultVectorSize applies when markup carries no usable width or height.
const defaultVectorSize = 24

// DefaultColor fills {color} tokens when a style gives no colour.
const DefaultColor = "#1A73E8"

// Source is a loaded icon template.
type Source struct {
	Ref    string
	Kind   Kind
	Image  image.Image // Raster
	Markup string      // Vector
}

// ParseSource classifies data as vector markup or a decodable raster image.
func ParseSource(ref string, data []byte) (*Source, error) {
	trimmed := bytes.TrimSpace(data)
	if bytes.HasPrefix(trimmed, []byte("<svg")) || bytes.HasPrefix(trimmed, []byte("<?xml")) {
		return &Source{Ref: ref, Kind: Vector, Markup: string(trimmed)}, nil
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &errtypes.AssetFetchError{Ref: ref, Err: fmt.Errorf("neither markup nor image: %w", err)}
	}
	return &Source{Ref: ref, Kind: Raster, Image: img}, nil
}

// Spec describes one icon to synthesise from a source.
type Spec struct {
	Color string
	Size  int    // square edge in pixels; zero keeps the source size
	Label string // drawn centred in white when non-empty
	Tags  map[string]string
}

// Icon is a rendered marker graphic anchored at its centre.
type Icon struct {
	Key     string `json:"key"`
	Kind    Kind   `json:"-"`
	Data    []byte `json:"-"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	AnchorX int    `json:"anchorX"`
	AnchorY int    `json:"anchorY"`
}

// ContentType is the MIME type of Data.
func (i *Icon) ContentType() string {
	if i.Kind == Vector {
		return "image/svg+xml"
	}
	return "image/png"
}

// FormatWeight renders a cluster weight as a short label: 999, 1.2k, 12k, 1.5M.
func FormatWeight(w int) string {
	switch {
	case w < 1000:
		return strconv.Itoa(w)
	case w < 10_000:
		return trimZero(fmt.Sprintf("%.1f", float64(w)/1000)) + "k"
	case w < 1_000_000:
		return strconv.Itoa(w/1000) + "k"
	}
	return trimZero(fmt.Sprintf("%.1f", float64(w)/1_000_000)) + "M"
}

func trimZero(s string) string { return strings.TrimSuffix(s, ".0") }

// Compose renders src according to spec.
func Compose(key string, src *Source, spec Spec) (*Icon, error) {
	var ic *Icon
	var err error
	if src.Kind == Vector {
		ic, err = composeVector(src, spec)
	} else {
		ic, err = composeRaster(src, spec)
	}
	if err != nil {
		return nil, err
	}
	ic.Key = key
	ic.AnchorX, ic.AnchorY = ic.Width/2, ic.Height/2
	return ic, nil
}

var (
	rootTag    = regexp.MustCompile(`<svg\b[^>]*>`)
	widthAttr  = regexp.MustCompile(`\swidth="([0-9.]+)(?:px)?"`)
	heightAttr = regexp.MustCompile(`\sheight="([0-9.]+)(?:px)?"`)
	viewBox    = regexp.MustCompile(`\sviewBox="[-0-9.]+[ ,]+[-0-9.]+[ ,]+([0-9.]+)[ ,]+([0-9.]+)"`)
	tokenRe    = regexp.MustCompile(`\{([A-Za-z0-9_-]+)\}`)
)

// markupSize reads the root element's width and height, falling back to the
// viewBox and then defaultVectorSize.
func markupSize(root string) (w, h int) {
	w, h = defaultVectorSize, defaultVectorSize
	if m := viewBox.FindStringSubmatch(root); m != nil {
		w, h = atoiF(m[1], w), atoiF(m[2], h)
	}
	if m := widthAttr.FindStringSubmatch(root); m != nil {
		w = atoiF(m[1], w)
	}
	if m := heightAttr.FindStringSubmatch(root); m != nil {
		h = atoiF(m[1], h)
	}
	return w, h
}

func atoiF(s string, def int) int {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f <= 0 {
		return def
	}
	return int(f + 0.5)
}

func composeVector(src *Source, spec Spec) (*Icon, error) {
	fill := spec.Color
	if fill == "" {
		fill = DefaultColor
	}
	markup := tokenRe.ReplaceAllStringFunc(src.Markup, func(tok string) string {
		name := tok[1 : len(tok)-1]
		switch {
		case name == "color":
			return fill
		case (name == "text" || name == "label") && spec.Label != "":
			return html.EscapeString(spec.Label)
		}
		if v, ok := spec.Tags[name]; ok {
			return html.EscapeString(v)
		}
		return tok
	})

	root := rootTag.FindString(markup)
	if root == "" {
		return nil, &errtypes.AssetFetchError{Ref: src.Ref, Err: fmt.Errorf("markup has no <svg> root")}
	}
	w, h := markupSize(root)
	if spec.Size > 0 {
		newRoot := setAttr(root, widthAttr, "width", spec.Size)
		newRoot = setAttr(newRoot, heightAttr, "height", spec.Size)
		if !viewBox.MatchString(newRoot) {
			newRoot = strings.Replace(newRoot, "<svg", fmt.Sprintf(`<svg viewBox="0 0 %d %d"`, w, h), 1)
		}
		markup = strings.Replace(markup, root, newRoot, 1)
		w, h = spec.Size, spec.Size
	}

	if spec.Label != "" && !strings.Contains(src.Markup, "{text}") && !strings.Contains(src.Markup, "{label}") {
		vw, vh := markupSize(root)
		if m := viewBox.FindStringSubmatch(root); m != nil {
			vw, vh = atoiF(m[1], vw), atoiF(m[2], vh)
		}
		text := fmt.Sprintf(`<text x="%d" y="%d" text-anchor="middle" dominant-baseline="central" `+
			`font-family="Arial" font-weight="bold" font-size="12" fill="#FFFFFF">%s</text>`,
			vw/2, vh/2, html.EscapeString(spec.Label))
		i := strings.LastIndex(markup, "</svg>")
		if i < 0 {
			return nil, &errtypes.AssetFetchError{Ref: src.Ref, Err: fmt.Errorf("markup has no closing </svg>")}
		}
		markup = markup[:i] + text + markup[i:]
	}
	return &Icon{Kind: Vector, Data: []byte(markup), Width: w, Height: h}, nil
}

func setAttr(root string, re *regexp.Regexp, name string, v int) string {
	attr := fmt.Sprintf(` %s="%d"`, name, v)
	if re.MatchString(root) {
		return re.ReplaceAllString(root, attr)
	}
	return strings.Replace(root, "<svg", "<svg"+attr, 1)
}

func composeRaster(src *Source, spec Spec) (*Icon, error) {
	b := src.Image.Bounds()
	w, h := b.Dx(), b.Dy()
	if spec.Size > 0 {
		w, h = spec.Size, spec.Size
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	if w == b.Dx() && h == b.Dy() {
		draw.Draw(dst, dst.Bounds(), src.Image, b.Min, draw.Src)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), src.Image, b, draw.Over, nil)
	}

	if spec.Label != "" {
		face := basicfont.Face7x13
		d := &font.Drawer{Dst: dst, Src: image.NewUniform(color.White), Face: face}
		adv := d.MeasureString(spec.Label)
		m := face.Metrics()
		x := (fixed.I(w) - adv) / 2
		y := (fixed.I(h) + m.Ascent - m.Descent) / 2
		d.Dot = fixed.Point26_6{X: x, Y: y}
		d.DrawString(spec.Label)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("encode icon: %w", err)
	}
	return &Icon{Kind: Raster, Data: buf.Bytes(), Width: w, Height: h}, nil
}
