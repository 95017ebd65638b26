package types

// Point is a vertex with coordinates normalized to the [0,1] range
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Box represents a normalized bounding box with coordinates in [0,1] range
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Vertices returns the four corners of the box, clockwise from top-left
func (b Box) Vertices() []Point {
	return []Point{
		{X: b.X, Y: b.Y},
		{X: b.X + b.W, Y: b.Y},
		{X: b.X + b.W, Y: b.Y + b.H},
		{X: b.X, Y: b.Y + b.H},
	}
}

// DetectedRegion is a single object localization returned by a detection backend
type DetectedRegion struct {
	Label    string  `json:"label"`
	Score    float64 `json:"score"`
	Vertices []Point `json:"vertices"`
}

// ImageDimensions holds the pixel size of a decoded source image
type ImageDimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}
