package client

import (
	"context"

	"github.com/menta2k/object-cropper/pkg/types"
)

// ObjectLocalizer is implemented by every detection backend.
// imageData is an encoded image (JPEG, PNG or WebP).
type ObjectLocalizer interface {
	LocalizeObjects(ctx context.Context, imageData []byte) ([]types.DetectedRegion, error)
}
