package geo

// BoundingBox is the rectangular boundary of a searched location.
type BoundingBox struct {
	MinLat      float64 `json:"min_lat"`
	MaxLat      float64 `json:"max_lat"`
	MinLng      float64 `json:"min_lng"`
	MaxLng      float64 `json:"max_lng"`
	DisplayName string  `json:"display_name"`
}

// Area returns the covered area in square degrees.
func (b BoundingBox) Area() float64 {
	return (b.MaxLat - b.MinLat) * (b.MaxLng - b.MinLng)
}

// GridCell is one rectangular sub-region of a bounding box.
type GridCell struct {
	Index     int
	CenterLat float64
	CenterLng float64
	MinLat    float64
	MaxLat    float64
	MinLng    float64
	MaxLng    float64
}

const (
	MinGridSize = 3
	MaxGridSize = 15
)

// ClampGridSize bounds n to the supported grid dimensions.
func ClampGridSize(n int) int {
	if n < MinGridSize {
		return MinGridSize
	}

	if n > MaxGridSize {
		return MaxGridSize
	}

	return n
}

// BuildGrid tiles box into an n x n grid of cells. Cell (i,j) is centered at
// box-min + (i+0.5, j+0.5) * step. Deterministic for a given (box, n).
func BuildGrid(box BoundingBox, n int) []GridCell {
	n = ClampGridSize(n)

	latStep := (box.MaxLat - box.MinLat) / float64(n)
	lngStep := (box.MaxLng - box.MinLng) / float64(n)

	cells := make([]GridCell, 0, n*n)

	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			cells = append(cells, GridCell{
				Index:     i*n + j,
				CenterLat: box.MinLat + (float64(i)+0.5)*latStep,
				CenterLng: box.MinLng + (float64(j)+0.5)*lngStep,
				MinLat:    box.MinLat + float64(i)*latStep,
				MaxLat:    box.MinLat + float64(i+1)*latStep,
				MinLng:    box.MinLng + float64(j)*lngStep,
				MaxLng:    box.MinLng + float64(j+1)*lngStep,
			})
		}
	}

	return cells
}
