package detection

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/menta2k/object-cropper/pkg/client"
	"github.com/menta2k/object-cropper/pkg/processing"
	"github.com/menta2k/object-cropper/pkg/types"
)

// DefaultLabels are the eyewear classes reported by object localization services
var DefaultLabels = []string{"glasses", "sunglasses", "goggles"}

// ErrNoObjectDetected means no region matched the target labels.
// It is a normal outcome: the image is skipped.
var ErrNoObjectDetected = errors.New("no target object detected")

// ServiceError wraps a failed call to a detection backend
type ServiceError struct {
	Backend string
	Err     error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("detection service %s: %v", e.Backend, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// SendOptions controls the payload sent to model backends.
// A zero MaxDim sends the original file bytes untouched.
type SendOptions struct {
	Format  string
	MaxDim  int
	Quality int
}

// Detector handles object detection through a localization backend
type Detector struct {
	client    client.ObjectLocalizer
	backend   string
	labels    []string
	send      SendOptions
	processor *processing.Processor
}

// NewDetector creates a new detector with a localization backend
func NewDetector(c client.ObjectLocalizer, backend string, labels []string) *Detector {
	return &Detector{
		client:    c,
		backend:   backend,
		labels:    labels,
		processor: processing.NewProcessor(processing.DefaultOptions()),
	}
}

// WithSendOptions makes the detector re-encode images before sending them
func (d *Detector) WithSendOptions(opts SendOptions) *Detector {
	d.send = opts
	return d
}

// Labels returns the target labels
func (d *Detector) Labels() []string {
	return d.labels
}

// Detect localizes objects in an image and returns all candidate regions
func (d *Detector) Detect(ctx context.Context, img image.Image, raw []byte) ([]types.DetectedRegion, error) {
	payload := raw
	if d.send.MaxDim > 0 && img != nil {
		prepared, err := d.processor.PrepareImageForModel(img, d.send.Format, d.send.MaxDim, d.send.Quality)
		if err != nil {
			return nil, err
		}
		payload = prepared
	}

	regions, err := d.client.LocalizeObjects(ctx, payload)
	if err != nil {
		return nil, &ServiceError{Backend: d.backend, Err: err}
	}
	return regions, nil
}

// DetectBest localizes objects and returns the best region matching the target labels
func (d *Detector) DetectBest(ctx context.Context, img image.Image, raw []byte) (types.DetectedRegion, error) {
	regions, err := d.Detect(ctx, img, raw)
	if err != nil {
		return types.DetectedRegion{}, err
	}

	best, ok := SelectBest(regions, d.labels)
	if !ok {
		return types.DetectedRegion{}, ErrNoObjectDetected
	}
	return best, nil
}

// SelectBest returns the highest-scoring region whose label matches one of labels.
// An empty label list matches everything. On equal scores the first region wins.
// Regions without vertices are never selected.
func SelectBest(regions []types.DetectedRegion, labels []string) (types.DetectedRegion, bool) {
	var best types.DetectedRegion
	found := false

	for _, r := range regions {
		if len(r.Vertices) == 0 || !MatchesLabel(r.Label, labels) {
			continue
		}
		if !found || r.Score > best.Score {
			best = r
			found = true
		}
	}

	return best, found
}

// MatchesLabel reports whether label equals one of labels, ignoring case
func MatchesLabel(label string, labels []string) bool {
	if len(labels) == 0 {
		return true
	}
	label = strings.TrimSpace(label)
	for _, l := range labels {
		if strings.EqualFold(label, strings.TrimSpace(l)) {
			return true
		}
	}
	return false
}
