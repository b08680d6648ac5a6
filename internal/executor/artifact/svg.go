package artifact

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"regexp"
	"strconv"
	"strings"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

var (
	svgOpenTag  = regexp.MustCompile(`(?s)<svg\b[^>]*>`)
	sizeAttr    = regexp.MustCompile(`\s(width|height)\s*=\s*"([^"]*)"`)
	viewBoxAttr = regexp.MustCompile(`\sviewBox\s*=`)
	leadingNum  = regexp.MustCompile(`^[0-9]*\.?[0-9]+`)
)

// Responsive removes the fixed width and height from the root <svg>
// element so the image scales with its container. A viewBox is added from
// the removed dimensions when the element has none.
func Responsive(markup string) string {
	loc := svgOpenTag.FindStringIndex(markup)
	if loc == nil {
		return markup
	}
	tag := markup[loc[0]:loc[1]]

	var width, height string
	for _, m := range sizeAttr.FindAllStringSubmatch(tag, -1) {
		switch m[1] {
		case "width":
			width = leadingNum.FindString(m[2])
		case "height":
			height = leadingNum.FindString(m[2])
		}
	}
	stripped := sizeAttr.ReplaceAllString(tag, "")
	if !viewBoxAttr.MatchString(stripped) && width != "" && height != "" {
		stripped = strings.Replace(stripped, "<svg", fmt.Sprintf(`<svg viewBox="0 0 %s %s"`, width, height), 1)
	}
	return markup[:loc[0]] + stripped + markup[loc[1]:]
}

// Rasterizer converts SVG markup to PNG bytes.
type Rasterizer interface {
	Rasterize(svg []byte) ([]byte, error)
}

// SVGRasterizer renders SVG with oksvg onto a white background.
type SVGRasterizer struct {
	// Scale multiplies the viewBox size to get the pixel size.
	Scale float64
	// MaxPixels bounds width*height of the output.
	MaxPixels int
}

// NewSVGRasterizer returns a rasterizer producing images at twice the
// viewBox size, capped at 16 megapixels.
func NewSVGRasterizer() *SVGRasterizer {
	return &SVGRasterizer{Scale: 2, MaxPixels: 16 << 20}
}

func (r *SVGRasterizer) Rasterize(svg []byte) ([]byte, error) {
	icon, err := oksvg.ReadIconStream(bytes.NewReader(svg), oksvg.IgnoreErrorMode)
	if err != nil {
		return nil, fmt.Errorf("artifact: parsing svg: %w", err)
	}

	scale := r.Scale
	if scale <= 0 {
		scale = 1
	}
	w := int(icon.ViewBox.W * scale)
	h := int(icon.ViewBox.H * scale)
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("artifact: svg has no usable size (%vx%v)", icon.ViewBox.W, icon.ViewBox.H)
	}
	if r.MaxPixels > 0 && w*h > r.MaxPixels {
		return nil, fmt.Errorf("artifact: svg too large to rasterize (%dx%d)", w, h)
	}

	icon.SetTarget(0, 0, float64(w), float64(h))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)

	scanner := rasterx.NewScannerGV(w, h, img, img.Bounds())
	raster := rasterx.NewDasher(w, h, scanner)
	icon.Draw(raster, 1.0)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("artifact: encoding png: %w", err)
	}
	return buf.Bytes(), nil
}

// svgSize reads the declared size of the root element, for logging.
func svgSize(markup string) (float64, float64) {
	tag := svgOpenTag.FindString(markup)
	var w, h float64
	for _, m := range sizeAttr.FindAllStringSubmatch(tag, -1) {
		v, err := strconv.ParseFloat(leadingNum.FindString(m[2]), 64)
		if err != nil {
			continue
		}
		if m[1] == "width" {
			w = v
		} else {
			h = v
		}
	}
	return w, h
}
