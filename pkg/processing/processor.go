package processing

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// Supported format names, as reported by image.Decode
const (
	FormatJPEG = "jpeg"
	FormatPNG  = "png"
	FormatWebP = "webp"
)

// CodecError reports an unreadable or unsupported image
type CodecError struct {
	Op     string
	Format string
	Err    error
}

func (e *CodecError) Error() string {
	if e.Format != "" {
		return fmt.Sprintf("image %s (%s): %v", e.Op, e.Format, e.Err)
	}
	return fmt.Sprintf("image %s: %v", e.Op, e.Err)
}

func (e *CodecError) Unwrap() error {
	return e.Err
}

// Options controls encoding of output images
type Options struct {
	Quality  int  // JPEG/WebP quality (1-100)
	Lossless bool // WebP lossless mode
}

// DefaultOptions returns encoding options close to the codecs' own defaults
func DefaultOptions() Options {
	return Options{Quality: 90, Lossless: false}
}

// Processor handles image decoding and encoding
type Processor struct {
	opts Options
}

// NewProcessor creates a new image processor
func NewProcessor(opts Options) *Processor {
	if opts.Quality < 1 || opts.Quality > 100 {
		opts.Quality = DefaultOptions().Quality
	}
	return &Processor{opts: opts}
}

// LoadImage reads and decodes an image file.
// The raw bytes are returned alongside so they can be sent to a detection backend.
func (p *Processor) LoadImage(path string) (image.Image, string, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", nil, &CodecError{Op: "read", Err: err}
	}

	img, format, err := p.DecodeImage(data)
	if err != nil {
		return nil, "", nil, err
	}
	return img, format, data, nil
}

// DecodeImage decodes an image from byte data with WebP support
func (p *Processor) DecodeImage(data []byte) (image.Image, string, error) {
	// Try standard image.Decode first
	if img, format, err := image.Decode(bytes.NewReader(data)); err == nil {
		return img, NormalizeFormat(format), nil
	}

	// Try WebP decode
	if img, err := webp.Decode(bytes.NewReader(data)); err == nil {
		return img, FormatWebP, nil
	}

	return nil, "", &CodecError{Op: "decode", Err: fmt.Errorf("unknown or unsupported format")}
}

// Encode encodes img in the given format family
func (p *Processor) Encode(w io.Writer, img image.Image, format string) error {
	var err error
	switch NormalizeFormat(format) {
	case FormatWebP:
		err = webp.Encode(w, img, &webp.Options{Lossless: p.opts.Lossless, Quality: float32(p.opts.Quality)})
	case FormatPNG:
		err = imaging.Encode(w, img, imaging.PNG)
	case FormatJPEG:
		err = imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(p.opts.Quality))
	default:
		err = fmt.Errorf("unsupported output format")
	}
	if err != nil {
		return &CodecError{Op: "encode", Format: format, Err: err}
	}
	return nil
}

// EncodeBytes encodes img in the given format family and returns the bytes
func (p *Processor) EncodeBytes(img image.Image, format string) ([]byte, error) {
	var buf bytes.Buffer
	if err := p.Encode(&buf, img, format); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// PrepareImageForModel downscales and re-encodes an image for sending to vision models
func (p *Processor) PrepareImageForModel(img image.Image, format string, maxDim int, quality int) ([]byte, error) {
	if maxDim > 0 {
		b := img.Bounds()
		w, h := b.Dx(), b.Dy()
		if w > maxDim || h > maxDim {
			if w >= h {
				img = imaging.Resize(img, maxDim, 0, imaging.Lanczos)
			} else {
				img = imaging.Resize(img, 0, maxDim, imaging.Lanczos)
			}
		}
	}

	var buf bytes.Buffer
	switch NormalizeFormat(format) {
	case FormatPNG:
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		if err := enc.Encode(&buf, img); err != nil {
			return nil, &CodecError{Op: "encode", Format: FormatPNG, Err: err}
		}
	default: // jpg
		if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
			return nil, &CodecError{Op: "encode", Format: FormatJPEG, Err: err}
		}
	}
	return buf.Bytes(), nil
}

// SaveImage saves an image to a file, creating parent directories
func (p *Processor) SaveImage(img image.Image, path, format string) error {
	data, err := p.EncodeBytes(img, format)
	if err != nil {
		return err
	}
	return WriteFile(path, data)
}

// WriteFile writes data to path, creating parent directories as needed
func WriteFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// NormalizeFormat maps format names and file extensions to a format constant
func NormalizeFormat(format string) string {
	switch strings.TrimPrefix(strings.ToLower(format), ".") {
	case "jpg", "jpeg":
		return FormatJPEG
	case "png":
		return FormatPNG
	case "webp":
		return FormatWebP
	default:
		return ""
	}
}
