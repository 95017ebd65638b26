package cropper

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"

	"github.com/menta2k/object-cropper/pkg/geometry"
	"github.com/menta2k/object-cropper/pkg/types"
)

// GeometryViolation is returned when a crop plan does not fit the extended canvas.
// It carries everything needed to reproduce the computation.
type GeometryViolation struct {
	Source types.ImageDimensions
	Plan   geometry.CropPlan
	Reason string
}

func (e *GeometryViolation) Error() string {
	return fmt.Sprintf("geometry violation: %s (source %dx%d, %s)",
		e.Reason, e.Source.Width, e.Source.Height, e.Plan)
}

// Dimensions returns the pixel size of img
func Dimensions(img image.Image) types.ImageDimensions {
	b := img.Bounds()
	return types.ImageDimensions{Width: b.Dx(), Height: b.Dy()}
}

// MaxOutputPixels caps the area of an extracted square. A plan above it is
// rejected with *SizeLimitError instead of allocating.
var MaxOutputPixels int64 = 1 << 28

// SizeLimitError is returned when a plan's output exceeds MaxOutputPixels
type SizeLimitError struct {
	Source types.ImageDimensions
	Plan   geometry.CropPlan
	Limit  int64
}

func (e *SizeLimitError) Error() string {
	return fmt.Sprintf("crop of %dx%d exceeds %d pixels (source %dx%d, %s)",
		e.Plan.ExtractSize, e.Plan.ExtractSize, e.Limit, e.Source.Width, e.Source.Height, e.Plan)
}

// Execute extracts the planned square from src grown by plan.CanvasExtension
// on every side. Pixels outside src replicate the nearest border pixel.
// The extended canvas is never materialized: only the output square is
// allocated. The result is always ExtractSize x ExtractSize.
func Execute(src image.Image, plan geometry.CropPlan) (*image.NRGBA, error) {
	dims := Dimensions(src)
	if dims.Width == 0 || dims.Height == 0 {
		return nil, &GeometryViolation{Source: dims, Plan: plan, Reason: "empty source image"}
	}
	if !geometry.Fits(plan, dims) {
		return nil, &GeometryViolation{Source: dims, Plan: plan, Reason: "extraction outside extended canvas"}
	}
	if size := int64(plan.ExtractSize); size > MaxOutputPixels/size {
		return nil, &SizeLimitError{Source: dims, Plan: plan, Limit: MaxOutputPixels}
	}

	out := extract(imaging.Clone(src), plan.SourceRect())

	if b := out.Bounds(); b.Dx() != plan.ExtractSize || b.Dy() != plan.ExtractSize {
		return nil, &GeometryViolation{
			Source: dims,
			Plan:   plan,
			Reason: fmt.Sprintf("extracted %dx%d", b.Dx(), b.Dy()),
		}
	}
	return out, nil
}

// extract copies r out of src, r in source coordinates and possibly outside
// the source bounds. Out-of-bounds pixels take the nearest border pixel.
func extract(src *image.NRGBA, r image.Rectangle) *image.NRGBA {
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	dw, dh := r.Dx(), r.Dy()
	dst := image.NewNRGBA(image.Rect(0, 0, dw, dh))

	// Columns [0,left) replicate the left edge, [right,dw) the right edge
	left := clampInt(-r.Min.X, 0, dw)
	right := clampInt(w-r.Min.X, left, dw)

	for y := 0; y < dh; y++ {
		sy := clampInt(r.Min.Y+y, 0, h-1)
		srcRow := src.Pix[sy*src.Stride : sy*src.Stride+w*4]
		dstRow := dst.Pix[y*dst.Stride : y*dst.Stride+dw*4]

		first := srcRow[0:4]
		last := srcRow[(w-1)*4 : w*4]
		for x := 0; x < left; x++ {
			copy(dstRow[x*4:], first)
		}
		if right > left {
			copy(dstRow[left*4:right*4], srcRow[(r.Min.X+left)*4:(r.Min.X+right)*4])
		}
		for x := right; x < dw; x++ {
			copy(dstRow[x*4:], last)
		}
	}

	return dst
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
