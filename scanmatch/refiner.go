package scanmatch

// PoseRefiner is the swappable pose-correction strategy: refine an initial
// pose so the scan best explains the target bound at construction, and
// report a confidence score. All implementations share the output-slot
// contract (ErrInvalidOutput on a nil pose) so callers can exchange the
// correlative matcher for a registration-based refiner without rewiring.
type PoseRefiner interface {
	Refine(initial Pose, scan PointCloud, pose *Pose) (float64, error)
}

// GridRefiner binds a Matcher to one grid, adapting the correlative search
// to the PoseRefiner contract.
type GridRefiner struct {
	matcher *Matcher
	grid    Grid
}

// NewGridRefiner creates a refiner that matches against g.
func NewGridRefiner(m *Matcher, g Grid) *GridRefiner {
	return &GridRefiner{matcher: m, grid: g}
}

// Refine runs the bounded correlative search around initial.
func (r *GridRefiner) Refine(initial Pose, scan PointCloud, pose *Pose) (float64, error) {
	return r.matcher.Match(initial, scan, r.grid, pose)
}
