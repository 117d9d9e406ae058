package compositor

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/disintegration/imaging"
	"github.com/kolesa-team/go-webp/decoder"
	"github.com/kolesa-team/go-webp/webp"
)

// Placement rectangle proportions: the print area of a garment canvas.
const (
	rectXFrac = 0.22
	rectYFrac = 0.28
	rectWFrac = 0.56
	rectHFrac = 0.44

	// A design fills at most 90% of the placement rectangle and is never
	// upscaled.
	fitFrac = 0.9

	// Background sampling points are inset by 6% of the crop's shorter side.
	sampleInsetFrac = 0.06

	// Chroma-key thresholds on Euclidean RGB distance from the estimated
	// background color.
	maskTransparentBelow = 18.0
	maskOpaqueAbove      = 55.0
)

// Compositor implements the deterministic pixel operations of the
// customization pipeline.
type Compositor struct{}

// New returns a Compositor.
func New() *Compositor {
	return &Compositor{}
}

// PlacementRect computes the proportional print-area rectangle for a canvas
// of the given dimensions, clamped to the canvas bounds.
func PlacementRect(width, height int) image.Rectangle {
	r := image.Rect(
		int(float64(width)*rectXFrac),
		int(float64(height)*rectYFrac),
		int(float64(width)*(rectXFrac+rectWFrac)),
		int(float64(height)*(rectYFrac+rectHFrac)),
	)
	return r.Intersect(image.Rect(0, 0, width, height))
}

// ComposeDesignOntoGarment scales the design to fit the garment's print area
// and draws it centered there. The output always has the garment's
// dimensions.
func (c *Compositor) ComposeDesignOntoGarment(garment, design []byte) ([]byte, error) {
	if len(garment) == 0 || len(design) == 0 {
		return nil, errors.New("compositor: garment and design images are required")
	}
	garmentImg, err := decodeImage(garment)
	if err != nil {
		return nil, fmt.Errorf("compositor: decode garment: %w", err)
	}
	designImg, err := decodeImage(design)
	if err != nil {
		return nil, fmt.Errorf("compositor: decode design: %w", err)
	}

	gb := garmentImg.Bounds()
	rect := PlacementRect(gb.Dx(), gb.Dy())

	db := designImg.Bounds()
	scale := fitScale(db.Dx(), db.Dy(), rect.Dx(), rect.Dy())
	scaled := designImg
	if scale < 1.0 {
		scaled = imaging.Resize(designImg,
			int(math.Round(float64(db.Dx())*scale)),
			int(math.Round(float64(db.Dy())*scale)),
			imaging.Lanczos)
	}

	sb := scaled.Bounds()
	offset := image.Pt(
		rect.Min.X+(rect.Dx()-sb.Dx())/2,
		rect.Min.Y+(rect.Dy()-sb.Dy())/2,
	)
	composed := imaging.Overlay(imaging.Clone(garmentImg), scaled, offset, 1.0)

	return encodePNG(composed)
}

// RecoverOriginalColorWithGeneratedPrint transplants the print area of a
// provider-generated image back onto the original garment photo, keeping only
// pixels that differ enough from the local background color. Generative
// providers subtly shift global color; this keeps the garment's true base
// color while preserving the new print. Returns nil when either input is
// empty.
func (c *Compositor) RecoverOriginalColorWithGeneratedPrint(original, generated []byte) ([]byte, error) {
	if len(original) == 0 || len(generated) == 0 {
		return nil, nil
	}
	originalImg, err := decodeImage(original)
	if err != nil {
		return nil, fmt.Errorf("compositor: decode original: %w", err)
	}
	generatedImg, err := decodeImage(generated)
	if err != nil {
		return nil, fmt.Errorf("compositor: decode generated: %w", err)
	}

	ob := originalImg.Bounds()
	gb := generatedImg.Bounds()
	if gb.Dx() != ob.Dx() || gb.Dy() != ob.Dy() {
		generatedImg = imaging.Resize(generatedImg, ob.Dx(), ob.Dy(), imaging.Lanczos)
	}

	rect := PlacementRect(ob.Dx(), ob.Dy())
	crop := imaging.Crop(generatedImg, rect)
	background := estimateBackground(crop)

	masked := applyChromaMask(crop, background)
	out := imaging.Clone(originalImg)
	draw.Draw(out, rect, masked, masked.Bounds().Min, draw.Over)

	return encodePNG(out)
}

// fitScale returns the factor that fits a design of (dw, dh) within fitFrac
// of a (rw, rh) rectangle, capped at 1.0.
func fitScale(dw, dh, rw, rh int) float64 {
	if dw <= 0 || dh <= 0 {
		return 1.0
	}
	scale := math.Min(
		fitFrac*float64(rw)/float64(dw),
		fitFrac*float64(rh)/float64(dh),
	)
	return math.Min(scale, 1.0)
}

// estimateBackground averages 6 sample points of the crop: its four corners
// and the midpoints of the top and bottom edges, each inset from the border.
func estimateBackground(crop *image.NRGBA) color.NRGBA {
	b := crop.Bounds()
	w, h := b.Dx(), b.Dy()
	inset := int(float64(minInt(w, h)) * sampleInsetFrac)
	if inset < 1 {
		inset = 1
	}
	clampX := func(x int) int { return minInt(maxInt(x, 0), w-1) }
	clampY := func(y int) int { return minInt(maxInt(y, 0), h-1) }

	points := []image.Point{
		{clampX(inset), clampY(inset)},
		{clampX(w - 1 - inset), clampY(inset)},
		{clampX(inset), clampY(h - 1 - inset)},
		{clampX(w - 1 - inset), clampY(h - 1 - inset)},
		{clampX(w / 2), clampY(inset)},
		{clampX(w / 2), clampY(h - 1 - inset)},
	}

	var r, g, bl int
	for _, p := range points {
		px := crop.NRGBAAt(b.Min.X+p.X, b.Min.Y+p.Y)
		r += int(px.R)
		g += int(px.G)
		bl += int(px.B)
	}
	n := len(points)
	return color.NRGBA{R: uint8(r / n), G: uint8(g / n), B: uint8(bl / n), A: 255}
}

// applyChromaMask rewrites the crop's alpha channel from each pixel's RGB
// distance to the background color.
func applyChromaMask(crop *image.NRGBA, background color.NRGBA) *image.NRGBA {
	b := crop.Bounds()
	out := image.NewNRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			px := crop.NRGBAAt(x, y)
			d := colorDistance(px, background)
			out.SetNRGBA(x, y, color.NRGBA{R: px.R, G: px.G, B: px.B, A: alphaForDistance(d)})
		}
	}
	return out
}

// alphaForDistance maps color distance to mask opacity: fully transparent up
// to the lower threshold, fully opaque past the upper one, linear in between.
func alphaForDistance(d float64) uint8 {
	switch {
	case d <= maskTransparentBelow:
		return 0
	case d >= maskOpaqueAbove:
		return 255
	default:
		return uint8(math.Round(255 * (d - maskTransparentBelow) / (maskOpaqueAbove - maskTransparentBelow)))
	}
}

func colorDistance(a, b color.NRGBA) float64 {
	dr := float64(a.R) - float64(b.R)
	dg := float64(a.G) - float64(b.G)
	db := float64(a.B) - float64(b.B)
	return math.Sqrt(dr*dr + dg*dg + db*db)
}

// decodeImage decodes PNG/JPEG/GIF inputs through imaging and falls back to
// the webp decoder for RIFF/WEBP payloads, which imaging does not handle.
func decodeImage(data []byte) (image.Image, error) {
	if isWebP(data) {
		return webp.Decode(bytes.NewReader(data), &decoder.Options{})
	}
	return imaging.Decode(bytes.NewReader(data))
}

func isWebP(data []byte) bool {
	return len(data) >= 12 &&
		string(data[0:4]) == "RIFF" &&
		string(data[8:12]) == "WEBP"
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("compositor: encode result: %w", err)
	}
	return buf.Bytes(), nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
