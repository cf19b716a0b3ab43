package scanmatch

import "fmt"

// Occupancy probabilities are clamped to this band. The lower bound doubles
// as the answer for unknown and out-of-range cells, so a probability query
// never returns 0 and a fully blind candidate still scores MinProbability.
const (
	MinProbability = 0.1
	MaxProbability = 0.9
)

// ProbabilityGrid is an occupancy map: each known cell holds the estimated
// probability that it is occupied, in [MinProbability, MaxProbability].
type ProbabilityGrid struct {
	limits MapLimits
	// 0 encodes an unknown cell; known cells are >= MinProbability.
	cells []float64
}

// NewProbabilityGrid creates a grid with every cell unknown.
func NewProbabilityGrid(limits MapLimits) *ProbabilityGrid {
	return &ProbabilityGrid{
		limits: limits,
		cells:  make([]float64, limits.Cells.NumX*limits.Cells.NumY),
	}
}

// Limits returns the grid's world extent and resolution.
func (g *ProbabilityGrid) Limits() MapLimits { return g.limits }

// Kind returns KindProbability.
func (g *ProbabilityGrid) Kind() GridKind { return KindProbability }

func (g *ProbabilityGrid) index(c CellIndex) int {
	return c.Y*g.limits.Cells.NumX + c.X
}

// Probability returns the occupancy probability of a cell. Unknown and
// out-of-range cells answer MinProbability, never 0.
func (g *ProbabilityGrid) Probability(c CellIndex) float64 {
	if !g.limits.Contains(c) {
		return MinProbability
	}
	p := g.cells[g.index(c)]
	if p == 0 {
		return MinProbability
	}
	return p
}

// IsKnown reports whether the cell has ever been assigned a probability.
func (g *ProbabilityGrid) IsKnown(c CellIndex) bool {
	return g.limits.Contains(c) && g.cells[g.index(c)] != 0
}

// SetProbability assigns a cell's occupancy probability, clamped to
// [MinProbability, MaxProbability]. Panics when the cell is out of range;
// writers are expected to stay inside the grid they allocated.
func (g *ProbabilityGrid) SetProbability(c CellIndex, p float64) {
	if !g.limits.Contains(c) {
		panic(fmt.Sprintf("scanmatch: cell (%d, %d) outside grid %dx%d",
			c.X, c.Y, g.limits.Cells.NumX, g.limits.Cells.NumY))
	}
	if p < MinProbability {
		p = MinProbability
	} else if p > MaxProbability {
		p = MaxProbability
	}
	g.cells[g.index(c)] = p
}

// OccupiedPoints returns the centers of all known cells at or above the
// threshold, row by row. Used to build point targets for cloud refiners.
func (g *ProbabilityGrid) OccupiedPoints(threshold float64) []Point {
	var points []Point
	for y := 0; y < g.limits.Cells.NumY; y++ {
		for x := 0; x < g.limits.Cells.NumX; x++ {
			c := CellIndex{X: x, Y: y}
			if g.IsKnown(c) && g.Probability(c) >= threshold {
				points = append(points, g.limits.CellCenter(c))
			}
		}
	}
	return points
}
