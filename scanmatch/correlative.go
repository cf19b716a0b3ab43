package scanmatch

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidOutput reports a nil pose output slot passed to a matcher or
// refiner. This is a programming-contract violation by the caller, not a
// runtime condition; it is never retried.
var ErrInvalidOutput = errors.New("nil pose output")

// Candidate is one pose hypothesis: a rotation candidate (ScanIndex into
// the rotated-scan set) plus an integer translation offset in grid cells.
// X, Y and Orientation are the same hypothesis in meters and radians;
// Score is unset until ScoreCandidates runs.
type Candidate struct {
	ScanIndex int
	XOffset   int
	YOffset   int

	X           float64 // XOffset * resolution, meters
	Y           float64 // YOffset * resolution, meters
	Orientation float64 // angular offset from the center scan, radians

	Score float64
}

func newCandidate(scanIndex, xOffset, yOffset int, params SearchParameters) Candidate {
	return Candidate{
		ScanIndex:   scanIndex,
		XOffset:     xOffset,
		YOffset:     yOffset,
		X:           float64(xOffset) * params.Resolution,
		Y:           float64(yOffset) * params.Resolution,
		Orientation: float64(scanIndex-params.NumAngular) * params.AngularStep,
	}
}

// GenerateExhaustiveSearchCandidates enumerates every (rotation, dx, dy)
// triple inside the per-rotation bounds: rotation index outermost, then x
// offset ascending, then y offset ascending. The exact total is computed
// up front and the result is allocated to that capacity; a final length
// mismatch is a generator bug and panics.
func GenerateExhaustiveSearchCandidates(params SearchParameters) []Candidate {
	total := 0
	for _, b := range params.LinearBounds {
		total += (b.MaxX - b.MinX + 1) * (b.MaxY - b.MinY + 1)
	}

	candidates := make([]Candidate, 0, total)
	for scanIndex := 0; scanIndex < params.NumScans; scanIndex++ {
		b := params.LinearBounds[scanIndex]
		for dx := b.MinX; dx <= b.MaxX; dx++ {
			for dy := b.MinY; dy <= b.MaxY; dy++ {
				candidates = append(candidates, newCandidate(scanIndex, dx, dy, params))
			}
		}
	}
	if len(candidates) != total {
		panic(fmt.Sprintf("scanmatch: generated %d candidates, expected %d", len(candidates), total))
	}
	return candidates
}

// MatcherOptions configures one Matcher. The windows bound the searched
// pose offsets; the weights shape the prior that favors candidates close
// to the initial estimate. All values must be non-negative.
type MatcherOptions struct {
	LinearSearchWindow  float64 // meters to each side of the initial translation
	AngularSearchWindow float64 // radians to each side of the initial rotation

	TranslationDeltaCostWeight float64
	RotationDeltaCostWeight    float64
}

// DefaultMatcherOptions returns the stock search configuration: a 0.1 m by
// 20 degree window with mild distance penalties.
func DefaultMatcherOptions() MatcherOptions {
	return MatcherOptions{
		LinearSearchWindow:         0.1,
		AngularSearchWindow:        20 * math.Pi / 180,
		TranslationDeltaCostWeight: 0.1,
		RotationDeltaCostWeight:    0.1,
	}
}

// Matcher scores every pose candidate in a bounded window against a grid
// and picks the best. It holds no per-call state, so a single Matcher may
// serve concurrent Match calls against read-only grids.
type Matcher struct {
	opts MatcherOptions
}

// NewMatcher creates a matcher with the given options.
func NewMatcher(opts MatcherOptions) *Matcher {
	return &Matcher{opts: opts}
}

// Options returns the matcher's configuration.
func (m *Matcher) Options() MatcherOptions { return m.opts }

// Match searches the configured window around initial for the pose that
// best explains the scan on the grid, writes it to *pose, and returns the
// winning candidate's score. The score lives in the grid variant's natural
// range: mean occupancy for probability grids, weight-normalized surface
// closeness for TSDFs. The two ranges are not comparable.
//
// Ties keep the first-enumerated candidate, which makes the result fully
// deterministic. Returns ErrInvalidOutput for a nil pose slot and
// ErrInvalidWindow for an unusable window configuration.
func (m *Matcher) Match(initial Pose, scan PointCloud, grid Grid, pose *Pose) (float64, error) {
	if pose == nil {
		return 0, ErrInvalidOutput
	}

	// Rotate into the initial orientation frame first; the searched
	// rotation offsets then straddle zero.
	rotated := RotateCloud(LevelCloud(scan), initial.Theta)
	params, err := NewSearchParameters(m.opts.LinearSearchWindow, m.opts.AngularSearchWindow, rotated, grid.Limits().Resolution)
	if err != nil {
		return 0, err
	}

	rotatedScans := GenerateRotatedScans(rotated, params)
	discreteScans := DiscretizeScans(grid.Limits(), rotatedScans, Point{X: initial.X, Y: initial.Y})
	params.ShrinkToFit(discreteScans, grid.Limits().Cells)

	candidates := GenerateExhaustiveSearchCandidates(params)
	m.ScoreCandidates(grid, discreteScans, params, candidates)

	best := bestCandidate(candidates)
	*pose = Pose{
		X:     initial.X + best.X,
		Y:     initial.Y + best.Y,
		Theta: NormalizeAngle(initial.Theta + best.Orientation),
	}
	return best.Score, nil
}

// ScoreCandidates evaluates every candidate in place: the raw grid score
// for the candidate's shifted scan, multiplied by a Gaussian-like prior
// that exponentially down-weights candidates far from the initial estimate.
// The raw score keeps the search honest; the prior keeps it local.
func (m *Matcher) ScoreCandidates(grid Grid, scans []DiscreteScan, params SearchParameters, candidates []Candidate) {
	for i := range candidates {
		c := &candidates[i]
		switch grid.Kind() {
		case KindProbability:
			c.Score = computeProbabilityScore(grid.(*ProbabilityGrid), scans[c.ScanIndex], c.XOffset, c.YOffset)
		case KindTSDF:
			c.Score = computeTSDFScore(grid.(*TSDF), scans[c.ScanIndex], c.XOffset, c.YOffset)
		default:
			panic(fmt.Sprintf("scanmatch: unsupported grid kind %v", grid.Kind()))
		}
		delta := math.Hypot(c.X, c.Y)*m.opts.TranslationDeltaCostWeight +
			math.Abs(c.Orientation)*m.opts.RotationDeltaCostWeight
		c.Score *= math.Exp(-delta * delta)
	}
}

// computeProbabilityScore is the mean occupancy over the scan's cells after
// shifting by the candidate offset. Probability grids never answer 0, so a
// non-positive mean means the grid broke its contract.
func computeProbabilityScore(grid *ProbabilityGrid, scan DiscreteScan, dx, dy int) float64 {
	score := 0.0
	for _, c := range scan {
		score += grid.Probability(CellIndex{X: c.X + dx, Y: c.Y + dy})
	}
	score /= float64(len(scan))
	if !(score > 0) {
		panic(fmt.Sprintf("scanmatch: probability score %g is not positive", score))
	}
	return score
}

// computeTSDFScore is the weight-normalized closeness to the surface over
// the scan's shifted cells: a point exactly on a surface contributes 1, a
// point at or beyond the truncation band contributes 0. A candidate that
// touches no informative cell scores exactly 0. That is a valid answer,
// not an error, and lets informed candidates win naturally.
func computeTSDFScore(grid *TSDF, scan DiscreteScan, dx, dy int) float64 {
	score := 0.0
	summedWeight := 0.0
	for _, c := range scan {
		tsd, weight := grid.TSDAndWeight(CellIndex{X: c.X + dx, Y: c.Y + dy})
		normalized := (grid.MaxTSD() - math.Abs(tsd)) / grid.MaxTSD()
		score += normalized * weight
		summedWeight += weight
	}
	if summedWeight == 0 {
		return 0
	}
	score /= summedWeight
	if score < 0 {
		panic(fmt.Sprintf("scanmatch: tsdf score %g is negative", score))
	}
	return score
}

// bestCandidate returns the highest-scoring candidate; on ties the
// first-enumerated one wins.
func bestCandidate(candidates []Candidate) Candidate {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Score > best.Score {
			best = c
		}
	}
	return best
}
