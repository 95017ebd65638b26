// Package objectcropper produces object-centred square crops from photographs.
//
// Each image goes through the same pipeline: the detection backend localizes
// objects, the highest-scoring region with a target label is selected, the
// geometry engine turns it into a crop plan and the crop executor extracts the
// square from an edge-replicated canvas. The result is written in the same
// format family as the source.
//
// Basic usage:
//
//	package main
//
//	import (
//		"context"
//		"log"
//
//		objectcropper "github.com/menta2k/object-cropper"
//		"github.com/menta2k/object-cropper/pkg/detection"
//		"github.com/menta2k/object-cropper/pkg/gcv"
//	)
//
//	func main() {
//		ctx := context.Background()
//
//		client, err := gcv.NewClient(ctx, "key.json")
//		if err != nil {
//			log.Fatal(err)
//		}
//		defer client.Close()
//
//		detector := detection.NewDetector(client, "gcv", detection.DefaultLabels)
//		oc, err := objectcropper.New(detector, objectcropper.DefaultOptions(), nil)
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		res, err := oc.ProcessFile(ctx, "inputs/frame.jpg", "outputs/frame.jpg")
//		if err != nil {
//			log.Fatal(err)
//		}
//		log.Printf("%s %.2f -> %dpx", res.Label, res.Score, res.Plan.ExtractSize)
//	}
//
// The package consists of these components:
//
// 1. Geometry (pkg/geometry): crop plan computation
// 2. Cropper (pkg/cropper): edge-replicated extraction
// 3. Detection (pkg/detection, pkg/gcv, pkg/ollama, pkg/llamacpp): object localization
// 4. Processing (pkg/processing): decoding, encoding and debug overlays
// 5. Batch (pkg/batch): directory walking and the worker pool
package objectcropper

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"

	"go.uber.org/zap"

	"github.com/menta2k/object-cropper/internal/logger"
	"github.com/menta2k/object-cropper/internal/utils"
	"github.com/menta2k/object-cropper/pkg/cropper"
	"github.com/menta2k/object-cropper/pkg/detection"
	"github.com/menta2k/object-cropper/pkg/geometry"
	"github.com/menta2k/object-cropper/pkg/processing"
	"github.com/menta2k/object-cropper/pkg/types"
)

// Version of the object cropper library
const Version = "1.0.0"

// Options configures a Cropper
type Options struct {
	Geometry geometry.Config    `json:"geometry"`
	Output   processing.Options `json:"output"`

	// DebugOverlay writes <name>.debug.png next to every output
	DebugOverlay bool `json:"debug_overlay"`

	// DryRun detects and plans without writing anything
	DryRun bool `json:"dry_run"`
}

// DefaultOptions returns the default ratio, floor and encoder settings
func DefaultOptions() Options {
	return Options{
		Geometry: geometry.DefaultConfig(),
		Output:   processing.DefaultOptions(),
	}
}

// Cropper runs the per-image pipeline
type Cropper struct {
	detector  *detection.Detector
	processor *processing.Processor
	opts      Options
	logger    *zap.Logger
}

// Result describes one processed image
type Result struct {
	Label      string                `json:"label"`
	Score      float64               `json:"score"`
	Source     types.ImageDimensions `json:"source"`
	Format     string                `json:"format"`
	Box        geometry.PixelBox     `json:"box"`
	Plan       geometry.CropPlan     `json:"plan"`
	OutputPath string                `json:"output_path,omitempty"`
	DebugPath  string                `json:"debug_path,omitempty"`
	Bytes      int64                 `json:"bytes"`

	// Planned is set when the crop was planned but nothing was written
	Planned bool `json:"planned,omitempty"`
}

// New creates a Cropper. A nil logger disables logging.
func New(detector *detection.Detector, opts Options, log *zap.Logger) (*Cropper, error) {
	if detector == nil {
		return nil, errors.New("detector is required")
	}
	if err := opts.Geometry.Validate(); err != nil {
		return nil, fmt.Errorf("invalid geometry config: %w", err)
	}

	return &Cropper{
		detector:  detector,
		processor: processing.NewProcessor(opts.Output),
		opts:      opts,
		logger:    logger.OrNop(log).Named("cropper"),
	}, nil
}

// Options returns the options the cropper was built with
func (c *Cropper) Options() Options {
	return c.opts
}

// Plan detects the best target object in img and computes its crop plan.
// raw holds the encoded source and is what gets sent to the backend.
func (c *Cropper) Plan(ctx context.Context, img image.Image, raw []byte) (Result, error) {
	dims := cropper.Dimensions(img)

	region, err := c.detector.DetectBest(ctx, img, raw)
	if err != nil {
		return Result{Source: dims}, err
	}

	box, err := geometry.Denormalize(region.Vertices, dims)
	if err != nil {
		return Result{Source: dims}, fmt.Errorf("invalid region %q: %w", region.Label, err)
	}

	plan, err := geometry.ComputeCropPlan(box, c.opts.Geometry)
	if err != nil {
		return Result{Source: dims}, fmt.Errorf("failed to compute crop plan: %w", err)
	}

	return Result{
		Label:  region.Label,
		Score:  region.Score,
		Source: dims,
		Box:    box,
		Plan:   plan,
	}, nil
}

// Crop plans and executes the crop for an already decoded image
func (c *Cropper) Crop(ctx context.Context, img image.Image, raw []byte) (*image.NRGBA, Result, error) {
	res, err := c.Plan(ctx, img, raw)
	if err != nil {
		return nil, res, err
	}

	out, err := cropper.Execute(img, res.Plan)
	if err != nil {
		var gv *cropper.GeometryViolation
		if errors.As(err, &gv) {
			c.logger.Error("crop plan does not fit extended canvas",
				zap.Int("source_width", gv.Source.Width),
				zap.Int("source_height", gv.Source.Height),
				zap.Float64("box_left", res.Box.Left),
				zap.Float64("box_top", res.Box.Top),
				zap.Float64("box_width", res.Box.Width),
				zap.Float64("box_height", res.Box.Height),
				zap.Stringer("plan", gv.Plan),
				zap.String("reason", gv.Reason))
		}
		var sl *cropper.SizeLimitError
		if errors.As(err, &sl) {
			c.logger.Error("crop exceeds output size limit",
				zap.Int("source_width", sl.Source.Width),
				zap.Int("source_height", sl.Source.Height),
				zap.Stringer("plan", sl.Plan),
				zap.Int64("limit", sl.Limit))
		}
		return nil, res, err
	}
	return out, res, nil
}

// ProcessFile crops the target object of inputPath into outputPath.
// The output keeps the source format family whatever the extension says.
func (c *Cropper) ProcessFile(ctx context.Context, inputPath, outputPath string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	img, format, raw, err := c.processor.LoadImage(inputPath)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load %s: %w", inputPath, err)
	}

	if c.opts.DryRun {
		res, err := c.Plan(ctx, img, raw)
		res.Format = format
		res.Planned = err == nil
		return res, err
	}

	out, res, err := c.Crop(ctx, img, raw)
	res.Format = format
	if err != nil {
		return res, err
	}

	data, err := c.processor.EncodeBytes(out, format)
	if err != nil {
		return res, err
	}
	if err := processing.WriteFile(outputPath, data); err != nil {
		return res, err
	}
	res.OutputPath = outputPath
	res.Bytes = int64(len(data))

	if c.opts.DebugOverlay {
		path := utils.DebugPath(outputPath)
		overlay := c.processor.CreateDebugOverlay(img, boxRect(res.Box), res.Plan.SourceRect())
		if err := c.processor.SaveImage(overlay, path, processing.FormatPNG); err != nil {
			c.logger.Warn("failed to write debug overlay", zap.String("path", path), zap.Error(err))
		} else {
			res.DebugPath = path
		}
	}

	c.logger.Debug("cropped",
		zap.String("input", inputPath),
		zap.String("output", outputPath),
		zap.String("label", res.Label),
		zap.Float64("score", res.Score),
		zap.Stringer("plan", res.Plan),
		zap.String("size", utils.FormatFileSize(res.Bytes)))

	return res, nil
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}

// boxRect converts a pixel box to an integer rectangle for drawing
func boxRect(b geometry.PixelBox) image.Rectangle {
	return image.Rect(
		int(math.Floor(b.Left)),
		int(math.Floor(b.Top)),
		int(math.Ceil(b.Left+b.Width)),
		int(math.Ceil(b.Top+b.Height)),
	)
}
