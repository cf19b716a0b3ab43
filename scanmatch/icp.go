package scanmatch

import "math"

// ICPOptions configures the iterative-closest-point refiner.
type ICPOptions struct {
	// MaxIterations caps the correspond-fit-apply loop.
	MaxIterations int
	// MaxCorrespondenceDistance rejects pairings farther apart than this
	// (meters); it is the main defense against matching across rooms.
	MaxCorrespondenceDistance float64
	// TransformEpsilon stops iterating once an update moves the pose less
	// than this in every component.
	TransformEpsilon float64
	// VoxelLeaf downsamples both the target map and the incoming scan to
	// one point per leaf (meters).
	VoxelLeaf float64
	// InlierDistance is the residual below which a point counts as
	// explained when computing the confidence score.
	InlierDistance float64
}

// DefaultICPOptions returns the stock refiner parameters: a tight 2 cm
// leaf, a half-meter correspondence gate and a near-zero epsilon, so the
// loop usually runs until the update underflows.
func DefaultICPOptions() ICPOptions {
	return ICPOptions{
		MaxIterations:             200,
		MaxCorrespondenceDistance: 0.5,
		TransformEpsilon:          1e-10,
		VoxelLeaf:                 0.02,
		InlierDistance:            0.1,
	}
}

// ICPResult reports one alignment run.
type ICPResult struct {
	// Delta is the fitted world-frame correction; the refined pose is
	// Delta composed with the initial pose.
	Delta           Pose
	Score           float64 // inlier fraction in [0, 1]
	Iterations      int
	Converged       bool
	Correspondences int // pairings used in the final iteration
}

// ICPRefiner aligns scans against a fixed point map by iterating
// nearest-neighbor correspondence and rigid Procrustes fitting. It
// implements PoseRefiner.
type ICPRefiner struct {
	opts   ICPOptions
	target *PointMap
}

// NewICPRefiner builds a refiner over the target points, downsampled to
// the configured voxel leaf.
func NewICPRefiner(opts ICPOptions, target []Point) *ICPRefiner {
	return &ICPRefiner{
		opts:   opts,
		target: NewPointMap(target, opts.VoxelLeaf),
	}
}

// Refine levels the scan, places it at the initial pose, aligns it to the
// target map and writes the corrected pose. A scan that finds no usable
// correspondences is not an error: the pose stays at the initial estimate
// with score 0, and the caller's policy decides what to do about it.
func (r *ICPRefiner) Refine(initial Pose, scan PointCloud, pose *Pose) (float64, error) {
	if pose == nil {
		return 0, ErrInvalidOutput
	}
	placed := TransformCloud(LevelCloud(scan), initial)
	result := r.Align(placed)
	*pose = result.Delta.Compose(initial)
	return result.Score, nil
}

// Align fits the world-frame correction that registers src onto the target
// map. src should already be placed at its best-known pose; the returned
// delta is therefore small for a good initial estimate.
func (r *ICPRefiner) Align(src PointCloud) ICPResult {
	// Downsampling the source keeps dense scans from dominating runtime
	// and from over-weighting close-range returns.
	source := NewPointMap(src, r.opts.VoxelLeaf).Points()

	result := ICPResult{}
	if len(source) == 0 || r.target.Len() == 0 {
		return result
	}

	delta := Pose{}
	matchedSrc := make([]Point, 0, len(source))
	matchedDst := make([]Point, 0, len(source))
	for iter := 0; iter < r.opts.MaxIterations; iter++ {
		result.Iterations = iter + 1

		matchedSrc = matchedSrc[:0]
		matchedDst = matchedDst[:0]
		for _, p := range source {
			moved := delta.Apply(p)
			q, _, ok := r.target.Nearest(moved, r.opts.MaxCorrespondenceDistance)
			if !ok {
				continue
			}
			matchedSrc = append(matchedSrc, moved)
			matchedDst = append(matchedDst, q)
		}
		result.Correspondences = len(matchedSrc)
		if len(matchedSrc) < 3 {
			// Too few pairings to constrain a rigid fit.
			return result
		}

		step := FitRigid(matchedSrc, matchedDst)
		delta = step.Compose(delta)
		if math.Abs(step.X) < r.opts.TransformEpsilon &&
			math.Abs(step.Y) < r.opts.TransformEpsilon &&
			math.Abs(step.Theta) < r.opts.TransformEpsilon {
			result.Converged = true
			break
		}
	}

	result.Delta = delta
	result.Score = r.inlierScore(source, delta)
	return result
}

// inlierScore is the fraction of source points whose registered position
// lands within InlierDistance of the target map.
func (r *ICPRefiner) inlierScore(source []Point, delta Pose) float64 {
	if len(source) == 0 {
		return 0
	}
	inliers := 0
	for _, p := range source {
		if _, _, ok := r.target.Nearest(delta.Apply(p), r.opts.InlierDistance); ok {
			inliers++
		}
	}
	return float64(inliers) / float64(len(source))
}
