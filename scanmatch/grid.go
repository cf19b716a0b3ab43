package scanmatch

import "math"

// GridKind identifies the scoring model a grid exposes.
type GridKind int

const (
	// KindProbability marks grids whose cells hold occupancy probabilities.
	KindProbability GridKind = iota
	// KindTSDF marks grids whose cells hold truncated signed distances
	// with confidence weights.
	KindTSDF
)

// String returns a human-readable grid kind name.
func (k GridKind) String() string {
	switch k {
	case KindProbability:
		return "probability"
	case KindTSDF:
		return "tsdf"
	default:
		return "unknown"
	}
}

// CellIndex addresses one grid cell by integer column (X) and row (Y).
type CellIndex struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// CellLimits is the integer extent of a grid.
type CellLimits struct {
	NumX int `json:"numX"`
	NumY int `json:"numY"`
}

// Contains reports whether the cell lies inside the limits.
func (cl CellLimits) Contains(c CellIndex) bool {
	return c.X >= 0 && c.X < cl.NumX && c.Y >= 0 && c.Y < cl.NumY
}

// MapLimits ties a grid's integer cells to world coordinates. A cell covers
// the half-open square [MinX + X*Resolution, MinX + (X+1)*Resolution) x
// [MinY + Y*Resolution, MinY + (Y+1)*Resolution), so shifting an index by
// +k moves the covered region by exactly +k*Resolution in world space.
type MapLimits struct {
	Resolution float64    `json:"resolution"`
	MinX       float64    `json:"minX"`
	MinY       float64    `json:"minY"`
	Cells      CellLimits `json:"cells"`
}

// NewMapLimits builds limits for a grid of numX by numY cells whose minimum
// corner sits at (minX, minY) in world coordinates.
func NewMapLimits(resolution, minX, minY float64, numX, numY int) MapLimits {
	return MapLimits{
		Resolution: resolution,
		MinX:       minX,
		MinY:       minY,
		Cells:      CellLimits{NumX: numX, NumY: numY},
	}
}

// CellOf maps a world point to the grid cell containing it. The result may
// lie outside the limits; callers test with Contains.
func (ml MapLimits) CellOf(p Point) CellIndex {
	return CellIndex{
		X: int(math.Floor((p.X - ml.MinX) / ml.Resolution)),
		Y: int(math.Floor((p.Y - ml.MinY) / ml.Resolution)),
	}
}

// Contains reports whether the cell lies inside the grid.
func (ml MapLimits) Contains(c CellIndex) bool {
	return ml.Cells.Contains(c)
}

// CellCenter returns the world coordinates of the center of a cell.
func (ml MapLimits) CellCenter(c CellIndex) Point {
	return Point{
		X: ml.MinX + (float64(c.X)+0.5)*ml.Resolution,
		Y: ml.MinY + (float64(c.Y)+0.5)*ml.Resolution,
	}
}

// MaxX returns the world x coordinate of the grid's far edge.
func (ml MapLimits) MaxX() float64 {
	return ml.MinX + float64(ml.Cells.NumX)*ml.Resolution
}

// MaxY returns the world y coordinate of the grid's far edge.
func (ml MapLimits) MaxY() float64 {
	return ml.MinY + float64(ml.Cells.NumY)*ml.Resolution
}

// Grid is the read-only map interface the matcher scores against. The two
// concrete variants are ProbabilityGrid and TSDF; the scorer dispatches on
// Kind and never mutates a grid, so one grid may serve concurrent matches.
type Grid interface {
	Limits() MapLimits
	Kind() GridKind
}
