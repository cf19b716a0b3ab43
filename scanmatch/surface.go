package scanmatch

import "math"

// ScoreSurface is the diagnostic view of one match: for every translation
// offset in the searched box, the best penalized score over all rotation
// candidates. Cells that no rotation candidate evaluated (because its box
// was shrunk tighter) hold NaN.
//
// The accessors follow gonum/plot's grid conventions (column = x offset,
// row = y offset) so a surface can be handed straight to a heat map.
type ScoreSurface struct {
	resolution float64
	minX, minY int // offsets of column 0 / row 0, in cells
	numX, numY int
	scores     []float64

	best     Candidate
	bestPose Pose
}

// ScoreSurface runs the same bounded search as Match but keeps the whole
// score field instead of only the winner. The surface's best pose and score
// are identical to what Match would return for the same inputs.
func (m *Matcher) ScoreSurface(initial Pose, scan PointCloud, grid Grid) (*ScoreSurface, error) {
	rotated := RotateCloud(LevelCloud(scan), initial.Theta)
	params, err := NewSearchParameters(m.opts.LinearSearchWindow, m.opts.AngularSearchWindow, rotated, grid.Limits().Resolution)
	if err != nil {
		return nil, err
	}

	rotatedScans := GenerateRotatedScans(rotated, params)
	discreteScans := DiscretizeScans(grid.Limits(), rotatedScans, Point{X: initial.X, Y: initial.Y})
	params.ShrinkToFit(discreteScans, grid.Limits().Cells)

	candidates := GenerateExhaustiveSearchCandidates(params)
	m.ScoreCandidates(grid, discreteScans, params, candidates)

	// The surface spans the union of the per-rotation boxes.
	minX, maxX := params.LinearBounds[0].MinX, params.LinearBounds[0].MaxX
	minY, maxY := params.LinearBounds[0].MinY, params.LinearBounds[0].MaxY
	for _, b := range params.LinearBounds[1:] {
		minX = min(minX, b.MinX)
		maxX = max(maxX, b.MaxX)
		minY = min(minY, b.MinY)
		maxY = max(maxY, b.MaxY)
	}

	s := &ScoreSurface{
		resolution: params.Resolution,
		minX:       minX,
		minY:       minY,
		numX:       maxX - minX + 1,
		numY:       maxY - minY + 1,
	}
	s.scores = make([]float64, s.numX*s.numY)
	for i := range s.scores {
		s.scores[i] = math.NaN()
	}

	for _, c := range candidates {
		i := (c.YOffset-s.minY)*s.numX + (c.XOffset - s.minX)
		if math.IsNaN(s.scores[i]) || c.Score > s.scores[i] {
			s.scores[i] = c.Score
		}
	}

	s.best = bestCandidate(candidates)
	s.bestPose = Pose{
		X:     initial.X + s.best.X,
		Y:     initial.Y + s.best.Y,
		Theta: NormalizeAngle(initial.Theta + s.best.Orientation),
	}
	return s, nil
}

// Dims returns the surface extent as (columns, rows).
func (s *ScoreSurface) Dims() (c, r int) { return s.numX, s.numY }

// Z returns the best score at column c, row r, or NaN where nothing was
// evaluated.
func (s *ScoreSurface) Z(c, r int) float64 { return s.scores[r*s.numX+c] }

// X returns the translation offset of column c in meters.
func (s *ScoreSurface) X(c int) float64 { return float64(s.minX+c) * s.resolution }

// Y returns the translation offset of row r in meters.
func (s *ScoreSurface) Y(r int) float64 { return float64(s.minY+r) * s.resolution }

// Best returns the winning candidate.
func (s *ScoreSurface) Best() Candidate { return s.best }

// BestPose returns the corrected pose the winning candidate produces.
func (s *ScoreSurface) BestPose() Pose { return s.bestPose }

// BestScore returns the winning candidate's penalized score.
func (s *ScoreSurface) BestScore() float64 { return s.best.Score }
