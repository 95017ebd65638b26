package detection

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/menta2k/object-cropper/pkg/types"
)

// DefaultPrompt asks a vision language model for eyewear bounding boxes
const DefaultPrompt = `You are an object locator for eyewear (glasses, sunglasses, goggles).

Return JSON only:
{
  "objects": [
    {"label": "glasses", "confidence": 0.0, "box": {"x": 0.0, "y": 0.0, "w": 0.0, "h": 0.0}}
  ]
}

HARD RULES
- All coordinates are normalized to [0,1] (NOT pixels). x,y is the top-left corner.
- The box must tightly include the frame and lenses of one pair of eyewear.
- Label is one of: glasses, sunglasses, goggles.
- Confidence is in [0,1].
- If no eyewear is visible, return {"objects": []}.
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

type modelObject struct {
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
	Box        types.Box `json:"box"`
}

type modelResponse struct {
	Objects []modelObject `json:"objects"`
}

var (
	reBlockComment  = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reLineComment   = regexp.MustCompile(`(?m)^\s*//.*$`)
	reInlineComment = regexp.MustCompile(`(?m)//.*$`)
	reTrailingComma = regexp.MustCompile(`,(\s*[}\]])`)
)

// ParseModelResponse parses the JSON object list returned by a vision model.
// A response without any JSON object is an error: guessing a box would produce a wrong crop.
func ParseModelResponse(raw string) ([]types.DetectedRegion, error) {
	cleaned := sanitizeModelJSON(raw)
	if !strings.HasPrefix(cleaned, "{") {
		return nil, fmt.Errorf("model returned non-JSON response: %q", truncate(raw, 80))
	}

	var resp modelResponse
	if err := json.Unmarshal([]byte(cleaned), &resp); err != nil {
		return nil, fmt.Errorf("failed to parse model response: %w", err)
	}

	regions := make([]types.DetectedRegion, 0, len(resp.Objects))
	for _, o := range resp.Objects {
		if o.Box.W < 0 || o.Box.H < 0 {
			continue
		}
		regions = append(regions, types.DetectedRegion{
			Label:    strings.ToLower(strings.TrimSpace(o.Label)),
			Score:    clamp(o.Confidence, 0, 1),
			Vertices: o.Box.Vertices(),
		})
	}
	return regions, nil
}

// sanitizeModelJSON removes code fences, comments, and trailing commas from JSON response
func sanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	// Strip triple-backtick fences if present
	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.Trim(strings.TrimSpace(raw), "`")

	raw = reBlockComment.ReplaceAllString(raw, "")
	raw = reLineComment.ReplaceAllString(raw, "")
	raw = reInlineComment.ReplaceAllString(raw, "")
	raw = reTrailingComma.ReplaceAllString(raw, "$1")

	// Keep only the outermost {...}
	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}
	return strings.TrimSpace(raw)
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

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
