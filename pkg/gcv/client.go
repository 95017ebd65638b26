// Package gcv localizes objects with the Google Cloud Vision API.
package gcv

import (
	"context"
	"fmt"
	"time"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"google.golang.org/api/option"

	"github.com/menta2k/object-cropper/pkg/types"
)

// DefaultMaxResults is the number of objects requested per image
const DefaultMaxResults = 20

// Client wraps the Cloud Vision image annotator
type Client struct {
	client     *vision.ImageAnnotatorClient
	maxResults int
	timeout    time.Duration
}

// NewClient creates a new Cloud Vision client authenticated with a service-account key file
func NewClient(ctx context.Context, credentialsFile string) (*Client, error) {
	c, err := vision.NewImageAnnotatorClient(ctx, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("failed to create vision client: %w", err)
	}

	return &Client{
		client:     c,
		maxResults: DefaultMaxResults,
		timeout:    60 * time.Second,
	}, nil
}

// Close releases the underlying connection
func (c *Client) Close() error {
	return c.client.Close()
}

// LocalizeObjects runs OBJECT_LOCALIZATION on a single encoded image
func (c *Client) LocalizeObjects(ctx context.Context, imageData []byte) ([]types.DetectedRegion, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req := &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{
			{
				Image: &visionpb.Image{Content: imageData},
				Features: []*visionpb.Feature{
					{Type: visionpb.Feature_OBJECT_LOCALIZATION, MaxResults: int32(c.maxResults)},
				},
			},
		},
	}

	resp, err := c.client.BatchAnnotateImages(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("annotate request failed: %w", err)
	}

	return parseResponse(resp)
}

// parseResponse converts the first annotate response into detected regions
func parseResponse(resp *visionpb.BatchAnnotateImagesResponse) ([]types.DetectedRegion, error) {
	responses := resp.GetResponses()
	if len(responses) == 0 {
		return nil, fmt.Errorf("empty annotate response")
	}

	res := responses[0]
	if st := res.GetError(); st != nil && st.GetCode() != 0 {
		return nil, fmt.Errorf("vision error %d: %s", st.GetCode(), st.GetMessage())
	}

	return toRegions(res.GetLocalizedObjectAnnotations()), nil
}

func toRegions(annotations []*visionpb.LocalizedObjectAnnotation) []types.DetectedRegion {
	regions := make([]types.DetectedRegion, 0, len(annotations))
	for _, a := range annotations {
		vertices := a.GetBoundingPoly().GetNormalizedVertices()
		points := make([]types.Point, 0, len(vertices))
		for _, v := range vertices {
			points = append(points, types.Point{X: float64(v.GetX()), Y: float64(v.GetY())})
		}

		regions = append(regions, types.DetectedRegion{
			Label:    a.GetName(),
			Score:    float64(a.GetScore()),
			Vertices: points,
		})
	}
	return regions
}
