package icon

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestFormatWeight(t *testing.T) {
	tests := map[int]string{
		2:         "2",
		999:       "999",
		1000:      "1k",
		1200:      "1.2k",
		9999:      "10k",
		12345:     "12k",
		999999:    "999k",
		1_500_000: "1.5M",
		3_000_000: "3M",
	}
	for w, want := range tests {
		assert.Equal(t, want, FormatWeight(w), "weight %d", w)
	}
}

func TestParseSource(t *testing.T) {
	src, err := ParseSource("a", []byte("\n<svg></svg>"))
	require.NoError(t, err)
	assert.Equal(t, Vector, src.Kind)

	src, err = ParseSource("b", testPNG(t, 4, 4))
	require.NoError(t, err)
	assert.Equal(t, Raster, src.Kind)

	_, err = ParseSource("c", []byte("not an image"))
	assert.Error(t, err)
}

func TestCompose_VectorWithoutColor(t *testing.T) {
	src := &Source{Kind: Vector, Markup: `<svg width="16" height="16"><circle fill="{color}"/></svg>`}
	ic, err := Compose("k", src, Spec{Size: 16})
	require.NoError(t, err)
	out := string(ic.Data)
	assert.Contains(t, out, `fill="`+DefaultColor+`"`)
	assert.NotContains(t, out, "{color}")
}

func TestCompose_VectorSubstitution(t *testing.T) {
	src := &Source{Kind: Vector, Markup: `<svg xmlns="http://www.w3.org/2000/svg" width="40" height="40" viewBox="0 0 40 40">` +
		`<circle fill="{color}"/><title>{shop}</title><desc>{unknown}</desc></svg>`}

	ic, err := Compose("k", src, Spec{Color: "#B50015", Size: 64, Label: "12", Tags: map[string]string{"shop": "A&B"}})
	require.NoError(t, err)

	out := string(ic.Data)
	assert.Contains(t, out, `fill="#B50015"`)
	assert.Contains(t, out, `<title>A&amp;B</title>`)
	assert.Contains(t, out, `{unknown}`, "unknown tokens are left alone")
	assert.Contains(t, out, ` width="64"`)
	assert.Contains(t, out, ` height="64"`)
	assert.Contains(t, out, `viewBox="0 0 40 40"`)
	assert.Contains(t, out, `<text x="20" y="20"`)
	assert.Contains(t, out, `>12</text></svg>`)
	assert.Equal(t, 64, ic.Width)
	assert.Equal(t, 32, ic.AnchorX)
	assert.Equal(t, 32, ic.AnchorY)
	assert.Equal(t, "image/svg+xml", ic.ContentType())
	assert.Equal(t, "k", ic.Key)
}

func TestCompose_VectorSizeFromMarkup(t *testing.T) {
	ic, err := Compose("k", &Source{Kind: Vector, Markup: `<svg width="24px" height="32"></svg>`}, Spec{})
	require.NoError(t, err)
	assert.Equal(t, 24, ic.Width)
	assert.Equal(t, 32, ic.Height)
	assert.Equal(t, 16, ic.AnchorY)

	ic, err = Compose("k", &Source{Kind: Vector, Markup: `<svg viewBox="0 0 10 20"></svg>`}, Spec{})
	require.NoError(t, err)
	assert.Equal(t, 10, ic.Width)
	assert.Equal(t, 20, ic.Height)

	ic, err = Compose("k", &Source{Kind: Vector, Markup: `<svg><text>{text}</text></svg>`}, Spec{Label: "7"})
	require.NoError(t, err)
	assert.Equal(t, `<svg><text>7</text></svg>`, string(ic.Data))
	assert.Equal(t, defaultVectorSize, ic.Width)

	_, err = Compose("k", &Source{Kind: Vector, Markup: `<g/>`}, Spec{})
	assert.Error(t, err)
}

func TestCompose_Raster(t *testing.T) {
	src, err := ParseSource("dot.png", testPNG(t, 10, 10))
	require.NoError(t, err)

	ic, err := Compose("k", src, Spec{Size: 40, Label: "75"})
	require.NoError(t, err)
	assert.Equal(t, "image/png", ic.ContentType())

	img, err := png.Decode(bytes.NewReader(ic.Data))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 40, 40), img.Bounds())

	// The label paints white pixels near the centre.
	white := false
	for y := 14; y < 26 && !white; y++ {
		for x := 10; x < 30; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			if r == 0xffff && g == 0xffff && b == 0xffff {
				white = true
				break
			}
		}
	}
	assert.True(t, white, "expected label pixels")

	ic, err = Compose("k", src, Spec{})
	require.NoError(t, err)
	assert.Equal(t, 10, ic.Width)
	assert.Equal(t, 5, ic.AnchorX)
}
