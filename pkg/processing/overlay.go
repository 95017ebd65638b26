package processing

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
)

// CreateDebugOverlay draws the detected object box and the extraction square on a copy of img.
// Both rectangles are in source pixel coordinates; parts outside the image are clipped.
func (p *Processor) CreateDebugOverlay(img image.Image, objectBox, cropBox image.Rectangle) *image.NRGBA {
	nrgba := imaging.Clone(img)
	w := nrgba.Bounds().Dx()
	h := nrgba.Bounds().Dy()

	green := color.NRGBA{0, 255, 0, 255}  // detected object
	gold := color.NRGBA{255, 204, 0, 255} // extraction square
	red := color.NRGBA{255, 0, 0, 255}    // crop centre
	stroke := int(math.Max(2, 0.004*float64(min(w, h)))) // ~0.4% of min side
	cross := int(math.Max(4, 0.01*float64(min(w, h))))   // ~1% of min side

	drawBox(nrgba, objectBox, green, stroke)
	if !cropBox.Empty() {
		drawBox(nrgba, cropBox, gold, stroke)
	}

	cx := (cropBox.Min.X + cropBox.Max.X) / 2
	cy := (cropBox.Min.Y + cropBox.Max.Y) / 2
	drawHLine(nrgba, cy, cx-cross, cx+cross, red)
	drawVLine(nrgba, cx, cy-cross, cy+cross, red)

	return nrgba
}

func drawBox(img *image.NRGBA, r image.Rectangle, c color.NRGBA, stroke int) {
	if r.Dx() < 1 {
		r.Max.X = r.Min.X + 1
	}
	if r.Dy() < 1 {
		r.Max.Y = r.Min.Y + 1
	}
	for s := 0; s < stroke; s++ {
		drawHLine(img, r.Min.Y+s, r.Min.X, r.Max.X, c)
		drawHLine(img, r.Max.Y-1-s, r.Min.X, r.Max.X, c)
		drawVLine(img, r.Min.X+s, r.Min.Y, r.Max.Y, c)
		drawVLine(img, r.Max.X-1-s, r.Min.Y, r.Max.Y, c)
	}
}

func drawHLine(img *image.NRGBA, y, x0, x1 int, c color.NRGBA) {
	b := img.Bounds()
	if y < 0 || y >= b.Dy() {
		return
	}
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	x0, x1 = max(x0, 0), min(x1, b.Dx())
	for x := x0; x < x1; x++ {
		img.SetNRGBA(x, y, c)
	}
}

func drawVLine(img *image.NRGBA, x, y0, y1 int, c color.NRGBA) {
	b := img.Bounds()
	if x < 0 || x >= b.Dx() {
		return
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	y0, y1 = max(y0, 0), min(y1, b.Dy())
	for y := y0; y < y1; y++ {
		img.SetNRGBA(x, y, c)
	}
}
