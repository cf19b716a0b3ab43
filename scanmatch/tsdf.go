package scanmatch

import "fmt"

// DefaultTruncationDistance is the truncation band for TSDF grids, in meters.
const DefaultTruncationDistance = 0.3

// TSDF is a truncated-signed-distance map: each cell holds the signed
// distance to the nearest surface, truncated to [-MaxTSD, +MaxTSD], plus a
// confidence weight. A weight of 0 means the cell carries no information;
// such cells (and out-of-range queries) answer (+MaxTSD, 0).
type TSDF struct {
	limits MapLimits
	maxTSD float64
	tsd    []float64
	weight []float64
}

// NewTSDF creates a grid with every cell uninformative. maxTSD must be
// positive; it is both the truncation bound and the "far from any surface"
// default distance.
func NewTSDF(limits MapLimits, maxTSD float64) *TSDF {
	if maxTSD <= 0 {
		panic(fmt.Sprintf("scanmatch: non-positive truncation distance %g", maxTSD))
	}
	n := limits.Cells.NumX * limits.Cells.NumY
	tsd := make([]float64, n)
	for i := range tsd {
		tsd[i] = maxTSD
	}
	return &TSDF{
		limits: limits,
		maxTSD: maxTSD,
		tsd:    tsd,
		weight: make([]float64, n),
	}
}

// Limits returns the grid's world extent and resolution.
func (g *TSDF) Limits() MapLimits { return g.limits }

// Kind returns KindTSDF.
func (g *TSDF) Kind() GridKind { return KindTSDF }

// MaxTSD returns the truncation distance.
func (g *TSDF) MaxTSD() float64 { return g.maxTSD }

func (g *TSDF) index(c CellIndex) int {
	return c.Y*g.limits.Cells.NumX + c.X
}

// TSDAndWeight returns a cell's truncated signed distance and weight.
// Out-of-range cells answer (MaxTSD, 0).
func (g *TSDF) TSDAndWeight(c CellIndex) (float64, float64) {
	if !g.limits.Contains(c) {
		return g.maxTSD, 0
	}
	i := g.index(c)
	return g.tsd[i], g.weight[i]
}

// SetCell assigns a cell's signed distance and weight. The distance is
// clamped to the truncation band and the weight floored at 0. Panics when
// the cell is out of range.
func (g *TSDF) SetCell(c CellIndex, tsd, weight float64) {
	if !g.limits.Contains(c) {
		panic(fmt.Sprintf("scanmatch: cell (%d, %d) outside grid %dx%d",
			c.X, c.Y, g.limits.Cells.NumX, g.limits.Cells.NumY))
	}
	if tsd > g.maxTSD {
		tsd = g.maxTSD
	} else if tsd < -g.maxTSD {
		tsd = -g.maxTSD
	}
	if weight < 0 {
		weight = 0
	}
	i := g.index(c)
	g.tsd[i] = tsd
	g.weight[i] = weight
}

// SurfacePoints returns the centers of all observed cells whose signed
// distance lies within band of the surface, row by row. Used to build point
// targets for cloud refiners.
func (g *TSDF) SurfacePoints(band float64) []Point {
	var points []Point
	for y := 0; y < g.limits.Cells.NumY; y++ {
		for x := 0; x < g.limits.Cells.NumX; x++ {
			c := CellIndex{X: x, Y: y}
			tsd, weight := g.TSDAndWeight(c)
			if weight > 0 && tsd > -band && tsd < band {
				points = append(points, g.limits.CellCenter(c))
			}
		}
	}
	return points
}
