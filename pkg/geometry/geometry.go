// Package geometry turns a detected bounding box into a square crop plan.
//
// The plan is expressed in the coordinate space of a source image that has
// been grown by CanvasExtension pixels on every side. Because the extension
// equals the output size, the extraction square always fits in the extended
// canvas and never has to be clamped, which keeps the object centred even when
// it touches the border of the photograph.
package geometry

import (
	"fmt"
	"image"
	"math"

	"github.com/menta2k/object-cropper/pkg/types"
)

// Config holds the two cropping knobs
type Config struct {
	// ObjectRatioPercent is the share of the crop's side the object should occupy, in (0,100]
	ObjectRatioPercent int `json:"object_ratio_percent"`
	// MinimumOutputSize is the smallest side of the output square in pixels
	MinimumOutputSize int `json:"minimum_output_size"`
}

// DefaultConfig returns the ratio and floor the tool ships with
func DefaultConfig() Config {
	return Config{
		ObjectRatioPercent: 80,
		MinimumOutputSize:  400,
	}
}

// Validate checks if the configuration is usable
func (c Config) Validate() error {
	if c.ObjectRatioPercent <= 0 || c.ObjectRatioPercent > 100 {
		return fmt.Errorf("object ratio must be in (0,100], got %d", c.ObjectRatioPercent)
	}
	if c.MinimumOutputSize < 1 {
		return fmt.Errorf("minimum output size must be positive, got %d", c.MinimumOutputSize)
	}
	return nil
}

// PixelBox is a bounding box in source pixel coordinates
type PixelBox struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Center returns the centroid of the box
func (b PixelBox) Center() (float64, float64) {
	return b.Left + b.Width/2, b.Top + b.Height/2
}

// CropPlan is the resolved extraction for one image
type CropPlan struct {
	// Padded, possibly non-square crop centred on the object (source coordinates)
	CropLeft   int `json:"crop_left"`
	CropTop    int `json:"crop_top"`
	CropWidth  int `json:"crop_width"`
	CropHeight int `json:"crop_height"`

	// Border added on every side of the source before extracting
	CanvasExtension int `json:"canvas_extension"`

	// Square to extract, in extended-canvas coordinates
	ExtractLeft int `json:"extract_left"`
	ExtractTop  int `json:"extract_top"`
	ExtractSize int `json:"extract_size"`
}

// Rect returns the extraction square in extended-canvas coordinates
func (p CropPlan) Rect() image.Rectangle {
	return image.Rect(p.ExtractLeft, p.ExtractTop, p.ExtractLeft+p.ExtractSize, p.ExtractTop+p.ExtractSize)
}

// SourceRect returns the extraction square in source coordinates.
// It may extend past the source bounds.
func (p CropPlan) SourceRect() image.Rectangle {
	return p.Rect().Sub(image.Pt(p.CanvasExtension, p.CanvasExtension))
}

// Center returns the centre of the extraction square in source coordinates
func (p CropPlan) Center() (float64, float64) {
	r := p.SourceRect()
	return float64(r.Min.X) + float64(p.ExtractSize)/2, float64(r.Min.Y) + float64(p.ExtractSize)/2
}

func (p CropPlan) String() string {
	return fmt.Sprintf("crop=%dx%d@%d,%d ext=%d extract=%d@%d,%d",
		p.CropWidth, p.CropHeight, p.CropLeft, p.CropTop,
		p.CanvasExtension, p.ExtractSize, p.ExtractLeft, p.ExtractTop)
}

// Denormalize converts normalized polygon vertices into a pixel bounding box.
// Vertices are clamped into [0,1] so the box never leaves the image.
func Denormalize(vertices []types.Point, dims types.ImageDimensions) (PixelBox, error) {
	if len(vertices) == 0 {
		return PixelBox{}, fmt.Errorf("empty bounding polygon")
	}
	if dims.Width <= 0 || dims.Height <= 0 {
		return PixelBox{}, fmt.Errorf("invalid image dimensions %dx%d", dims.Width, dims.Height)
	}

	fw, fh := float64(dims.Width), float64(dims.Height)
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, v := range vertices {
		x := clamp(v.X, 0, 1) * fw
		y := clamp(v.Y, 0, 1) * fh
		minX = math.Min(minX, x)
		minY = math.Min(minY, y)
		maxX = math.Max(maxX, x)
		maxY = math.Max(maxY, y)
	}

	return PixelBox{
		Left:   minX,
		Top:    minY,
		Width:  maxX - minX,
		Height: maxY - minY,
	}, nil
}

// ComputeCropPlan computes the square extraction that makes the object
// occupy cfg.ObjectRatioPercent of the crop, centred on the object.
func ComputeCropPlan(box PixelBox, cfg Config) (CropPlan, error) {
	if err := cfg.Validate(); err != nil {
		return CropPlan{}, err
	}
	if box.Width < 0 || box.Height < 0 || math.IsNaN(box.Width) || math.IsNaN(box.Height) {
		return CropPlan{}, fmt.Errorf("invalid box size %.2fx%.2f", box.Width, box.Height)
	}

	ratio := float64(cfg.ObjectRatioPercent)
	cropWidth := roundHalfUp(box.Width * 100 / ratio)
	cropHeight := roundHalfUp(box.Height * 100 / ratio)
	outputSize := max(cropWidth, cropHeight, cfg.MinimumOutputSize)

	// Centre the padded crop on the box, not on the square
	cropLeft := roundHalfUp(box.Left - (float64(cropWidth)-box.Width)/2)
	cropTop := roundHalfUp(box.Top - (float64(cropHeight)-box.Height)/2)

	ext := outputSize

	return CropPlan{
		CropLeft:        cropLeft,
		CropTop:         cropTop,
		CropWidth:       cropWidth,
		CropHeight:      cropHeight,
		CanvasExtension: ext,
		ExtractLeft:     roundHalfUp(float64(ext+cropLeft) - float64(outputSize-cropWidth)/2),
		ExtractTop:      roundHalfUp(float64(ext+cropTop) - float64(outputSize-cropHeight)/2),
		ExtractSize:     outputSize,
	}, nil
}

// Fits reports whether the plan's extraction lies inside the extended canvas
func Fits(plan CropPlan, dims types.ImageDimensions) bool {
	if plan.ExtractSize < 1 || plan.CanvasExtension < 0 {
		return false
	}
	canvas := image.Rect(0, 0, dims.Width+2*plan.CanvasExtension, dims.Height+2*plan.CanvasExtension)
	return plan.Rect().In(canvas)
}

// roundHalfUp rounds .5 towards positive infinity, so -2.5 becomes -2
func roundHalfUp(v float64) int {
	return int(math.Floor(v + 0.5))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
