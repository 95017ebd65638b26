package cropper

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"

	"github.com/menta2k/object-cropper/pkg/geometry"
	"github.com/menta2k/object-cropper/pkg/types"
)

// createTestImage creates an image whose pixel colour encodes its coordinates
func createTestImage(width, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, color.NRGBA{uint8(x), uint8(y), 128, 255})
		}
	}

	return img
}

// extendedReference builds the full extended canvas pixel by pixel
func extendedReference(src *image.NRGBA, n int) *image.NRGBA {
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	dst := image.NewNRGBA(image.Rect(0, 0, w+2*n, h+2*n))
	for y := 0; y < h+2*n; y++ {
		for x := 0; x < w+2*n; x++ {
			dst.SetNRGBA(x, y, src.NRGBAAt(clampInt(x-n, 0, w-1), clampInt(y-n, 0, h-1)))
		}
	}
	return dst
}

func TestExtractReplicatesEdges(t *testing.T) {
	img := createTestImage(40, 30)
	n := 10
	out := extract(img, image.Rect(-n, -n, 40+n, 30+n))

	if b := out.Bounds(); b.Dx() != 60 || b.Dy() != 50 {
		t.Fatalf("Expected 60x50, got %dx%d", b.Dx(), b.Dy())
	}

	tests := []struct {
		x, y   int
		sx, sy int
	}{
		{0, 0, 0, 0},           // top-left corner
		{59, 49, 39, 29},       // bottom-right corner
		{n + 5, 0, 5, 0},       // above the top edge
		{0, n + 7, 0, 7},       // left of the left edge
		{59, n + 3, 39, 3},     // right of the right edge
		{n + 20, 49, 20, 29},   // below the bottom edge
		{n + 12, n + 8, 12, 8}, // inside
	}

	for _, tt := range tests {
		got := out.NRGBAAt(tt.x, tt.y)
		want := img.NRGBAAt(tt.sx, tt.sy)
		if got != want {
			t.Errorf("Pixel (%d,%d): expected %v from source (%d,%d), got %v", tt.x, tt.y, want, tt.sx, tt.sy, got)
		}
	}
}

func TestExtractFullyOutside(t *testing.T) {
	img := createTestImage(20, 10)

	right := extract(img, image.Rect(30, 2, 35, 7))
	if got, want := right.NRGBAAt(0, 0), img.NRGBAAt(19, 2); got != want {
		t.Errorf("Expected right edge %v, got %v", want, got)
	}

	left := extract(img, image.Rect(-15, -5, -10, 0))
	if got, want := left.NRGBAAt(4, 4), img.NRGBAAt(0, 0); got != want {
		t.Errorf("Expected top-left corner %v, got %v", want, got)
	}
}

func TestExecuteMatchesExtendedCanvas(t *testing.T) {
	img := createTestImage(37, 23)
	cfg := geometry.Config{ObjectRatioPercent: 60, MinimumOutputSize: 8}
	boxes := []geometry.PixelBox{
		{Left: 0, Top: 0, Width: 37, Height: 23},
		{Left: 30, Top: 1, Width: 7, Height: 3},
		{Left: 2, Top: 20, Width: 0, Height: 0},
		{Left: 10.5, Top: 4.25, Width: 5.5, Height: 11},
	}

	for _, box := range boxes {
		plan, err := geometry.ComputeCropPlan(box, cfg)
		if err != nil {
			t.Fatalf("ComputeCropPlan failed: %v", err)
		}

		out, err := Execute(img, plan)
		if err != nil {
			t.Fatalf("Execute failed for %+v: %v", box, err)
		}

		want := imaging.Crop(extendedReference(img, plan.CanvasExtension), plan.Rect())
		if !bytes.Equal(out.Pix, want.Pix) {
			t.Errorf("Output for %+v differs from extended-canvas extraction (%s)", box, plan)
		}
	}
}

func TestExecuteRejectsOversizedPlan(t *testing.T) {
	img := createTestImage(1000, 1000)
	box := geometry.PixelBox{Left: 0, Top: 0, Width: 1000, Height: 1000}
	plan, err := geometry.ComputeCropPlan(box, geometry.Config{ObjectRatioPercent: 1, MinimumOutputSize: 400})
	if err != nil {
		t.Fatalf("ComputeCropPlan failed: %v", err)
	}
	if plan.ExtractSize != 100000 {
		t.Fatalf("Expected extract size 100000, got %d", plan.ExtractSize)
	}

	_, err = Execute(img, plan)
	var sl *SizeLimitError
	if !errors.As(err, &sl) {
		t.Fatalf("Expected *SizeLimitError, got %v", err)
	}
	if sl.Limit != MaxOutputPixels || sl.Plan != plan {
		t.Errorf("Error should carry limit and plan, got %+v", sl)
	}
}

func TestExecuteScenario(t *testing.T) {
	img := createTestImage(500, 500)
	box := geometry.PixelBox{Left: 100, Top: 100, Width: 50, Height: 30}
	plan, err := geometry.ComputeCropPlan(box, geometry.Config{ObjectRatioPercent: 80, MinimumOutputSize: 400})
	if err != nil {
		t.Fatalf("ComputeCropPlan failed: %v", err)
	}

	out, err := Execute(img, plan)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	bounds := out.Bounds()
	if bounds.Dx() != 400 || bounds.Dy() != 400 {
		t.Fatalf("Expected 400x400, got %dx%d", bounds.Dx(), bounds.Dy())
	}

	// The output centre maps back to the source pixel at the plan centre
	cx, cy := plan.Center()
	want := img.NRGBAAt(int(cx), int(cy))
	if got := out.NRGBAAt(200, 200); got != want {
		t.Errorf("Expected centre pixel %v, got %v", want, got)
	}
}

func TestExecuteObjectAtCorner(t *testing.T) {
	img := createTestImage(120, 80)
	box := geometry.PixelBox{Left: 0, Top: 0, Width: 20, Height: 20}
	plan, err := geometry.ComputeCropPlan(box, geometry.Config{ObjectRatioPercent: 50, MinimumOutputSize: 100})
	if err != nil {
		t.Fatalf("ComputeCropPlan failed: %v", err)
	}

	out, err := Execute(img, plan)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if out.Bounds().Dx() != plan.ExtractSize || out.Bounds().Dy() != plan.ExtractSize {
		t.Fatalf("Expected %dx%d, got %v", plan.ExtractSize, plan.ExtractSize, out.Bounds())
	}

	// Top-left of the output lies in the replicated border
	if got, want := out.NRGBAAt(0, 0), img.NRGBAAt(0, 0); got != want {
		t.Errorf("Expected replicated corner %v, got %v", want, got)
	}
}

func TestExecuteRoundTripSize(t *testing.T) {
	sizes := []types.ImageDimensions{{Width: 64, Height: 48}, {Width: 33, Height: 97}, {Width: 200, Height: 200}}
	cfg := geometry.Config{ObjectRatioPercent: 80, MinimumOutputSize: 16}

	for _, dims := range sizes {
		img := createTestImage(dims.Width, dims.Height)
		boxes := []geometry.PixelBox{
			{Left: 0, Top: 0, Width: float64(dims.Width), Height: float64(dims.Height)},
			{Left: float64(dims.Width) - 1, Top: float64(dims.Height) - 1, Width: 1, Height: 1},
			{Left: 3, Top: 5, Width: 10, Height: 2},
		}

		for _, box := range boxes {
			plan, err := geometry.ComputeCropPlan(box, cfg)
			if err != nil {
				t.Fatalf("ComputeCropPlan failed: %v", err)
			}

			out, err := Execute(img, plan)
			if err != nil {
				t.Fatalf("Execute failed for %+v in %dx%d: %v", box, dims.Width, dims.Height, err)
			}
			if out.Bounds().Dx() != plan.ExtractSize || out.Bounds().Dy() != plan.ExtractSize {
				t.Errorf("Expected %dx%d, got %v", plan.ExtractSize, plan.ExtractSize, out.Bounds())
			}
		}
	}
}

func TestExecuteGeometryViolation(t *testing.T) {
	img := createTestImage(50, 50)
	plan := geometry.CropPlan{CanvasExtension: 10, ExtractLeft: 40, ExtractTop: 0, ExtractSize: 40}

	_, err := Execute(img, plan)
	if err == nil {
		t.Fatal("Expected geometry violation")
	}

	var gv *GeometryViolation
	if !errors.As(err, &gv) {
		t.Fatalf("Expected *GeometryViolation, got %T", err)
	}
	if gv.Source.Width != 50 || gv.Plan != plan {
		t.Errorf("Violation should carry source and plan, got %+v", gv)
	}
}

func TestExecuteEmptySource(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 0, 0))
	plan := geometry.CropPlan{CanvasExtension: 10, ExtractLeft: 0, ExtractTop: 0, ExtractSize: 10}

	var gv *GeometryViolation
	if _, err := Execute(img, plan); !errors.As(err, &gv) {
		t.Errorf("Expected *GeometryViolation for empty source, got %v", err)
	}
}

func TestDimensions(t *testing.T) {
	img := image.NewRGBA(image.Rect(10, 20, 110, 70))
	dims := Dimensions(img)
	if dims.Width != 100 || dims.Height != 50 {
		t.Errorf("Expected 100x50, got %dx%d", dims.Width, dims.Height)
	}
}

func BenchmarkExecute(b *testing.B) {
	img := createTestImage(1920, 1080)
	plan, _ := geometry.ComputeCropPlan(geometry.PixelBox{Left: 800, Top: 400, Width: 300, Height: 120}, geometry.DefaultConfig())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Execute(img, plan)
	}
}
