package scanmatch

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// NDTOptions configures the normal-distributions-transform refiner.
type NDTOptions struct {
	// Resolution is the Gaussian cell size (meters): target points are
	// binned into cells of this size and each cell is summarized by a
	// normal distribution.
	Resolution float64
	// StepSize is the initial probe distance of the descent, meters for
	// the translation axes and radians for rotation.
	StepSize float64
	// MaxIterations caps the descent.
	MaxIterations int
	// TransformEpsilon is the step size below which the descent stops.
	TransformEpsilon float64
	// VoxelLeaf downsamples the target and incoming scans (meters).
	VoxelLeaf float64
}

// DefaultNDTOptions returns the stock refiner parameters.
func DefaultNDTOptions() NDTOptions {
	return NDTOptions{
		Resolution:       0.5,
		StepSize:         0.1,
		MaxIterations:    100,
		TransformEpsilon: 1e-10,
		VoxelLeaf:        0.05,
	}
}

// NDTResult reports one alignment run.
type NDTResult struct {
	// Delta is the fitted world-frame correction; the refined pose is
	// Delta composed with the initial pose.
	Delta      Pose
	Score      float64 // mean Gaussian response in [0, 1]
	Iterations int
	Converged  bool
}

// ndtCell is one cell's fitted normal distribution, stored as the mean and
// the inverse covariance so scoring is a single quadratic form per point.
type ndtCell struct {
	mean          Point
	ixx, ixy, iyy float64
}

// NDTRefiner scores scans against per-cell normal distributions fitted to
// the target map and descends on the pose that maximizes the summed
// response. It implements PoseRefiner.
type NDTRefiner struct {
	opts  NDTOptions
	cells map[[2]int]ndtCell
}

// NewNDTRefiner downsamples the target, bins it into cells of the
// configured resolution and fits a regularized Gaussian to every cell with
// at least three points. Cells with fewer points carry no distribution and
// contribute nothing to scores.
func NewNDTRefiner(opts NDTOptions, target []Point) *NDTRefiner {
	points := NewPointMap(target, opts.VoxelLeaf).Points()
	groups := make(map[[2]int][]Point)
	for _, p := range points {
		key := [2]int{
			int(math.Floor(p.X / opts.Resolution)),
			int(math.Floor(p.Y / opts.Resolution)),
		}
		groups[key] = append(groups[key], p)
	}

	cells := make(map[[2]int]ndtCell, len(groups))
	for key, pts := range groups {
		if len(pts) < 3 {
			continue
		}
		if cell, ok := fitGaussian(pts); ok {
			cells[key] = cell
		}
	}
	return &NDTRefiner{opts: opts, cells: cells}
}

// fitGaussian computes a cell's mean and inverse covariance. The smaller
// eigenvalue is floored at 1/1000 of the larger one so near-collinear
// walls keep a usable, non-singular distribution.
func fitGaussian(pts []Point) (ndtCell, bool) {
	data := mat.NewDense(len(pts), 2, nil)
	for i, p := range pts {
		data.Set(i, 0, p.X)
		data.Set(i, 1, p.Y)
	}
	var cov mat.SymDense
	stat.CovarianceMatrix(&cov, data, nil)

	var eig mat.EigenSym
	if !eig.Factorize(&cov, true) {
		return ndtCell{}, false
	}
	vals := eig.Values(nil) // ascending
	if vals[1] <= 0 {
		return ndtCell{}, false
	}
	if floor := vals[1] * 1e-3; vals[0] < floor {
		vals[0] = floor
	}

	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	v00, v01 := vecs.At(0, 0), vecs.At(0, 1)
	v10, v11 := vecs.At(1, 0), vecs.At(1, 1)
	cxx := vals[0]*v00*v00 + vals[1]*v01*v01
	cxy := vals[0]*v00*v10 + vals[1]*v01*v11
	cyy := vals[0]*v10*v10 + vals[1]*v11*v11

	det := cxx*cyy - cxy*cxy
	if det <= 0 {
		return ndtCell{}, false
	}
	return ndtCell{
		mean: Centroid(pts),
		ixx:  cyy / det,
		ixy:  -cxy / det,
		iyy:  cxx / det,
	}, true
}

// Refine levels the scan, places it at the initial pose, aligns it to the
// cell distributions and writes the corrected pose. An uninformative scan
// keeps the initial pose with score 0.
func (r *NDTRefiner) Refine(initial Pose, scan PointCloud, pose *Pose) (float64, error) {
	if pose == nil {
		return 0, ErrInvalidOutput
	}
	placed := TransformCloud(LevelCloud(scan), initial)
	result := r.Align(placed)
	*pose = result.Delta.Compose(initial)
	return result.Score, nil
}

// Align descends on the world-frame correction that maximizes the scan's
// mean Gaussian response: probe one step in each direction of x, y and
// theta, keep the best improvement, halve the step when nothing improves.
func (r *NDTRefiner) Align(src PointCloud) NDTResult {
	source := NewPointMap(src, r.opts.VoxelLeaf).Points()
	result := NDTResult{}
	if len(source) == 0 || len(r.cells) == 0 {
		return result
	}

	delta := Pose{}
	best := r.response(source, delta)
	step := r.opts.StepSize
	for iter := 0; iter < r.opts.MaxIterations && step > r.opts.TransformEpsilon; iter++ {
		result.Iterations = iter + 1
		probes := [6]Pose{
			{X: delta.X + step, Y: delta.Y, Theta: delta.Theta},
			{X: delta.X - step, Y: delta.Y, Theta: delta.Theta},
			{X: delta.X, Y: delta.Y + step, Theta: delta.Theta},
			{X: delta.X, Y: delta.Y - step, Theta: delta.Theta},
			{X: delta.X, Y: delta.Y, Theta: NormalizeAngle(delta.Theta + step)},
			{X: delta.X, Y: delta.Y, Theta: NormalizeAngle(delta.Theta - step)},
		}
		improved := false
		for _, p := range probes {
			if s := r.response(source, p); s > best {
				best = s
				delta = p
				improved = true
			}
		}
		if !improved {
			step /= 2
		}
	}

	result.Delta = delta
	result.Score = best
	result.Converged = step <= r.opts.TransformEpsilon
	return result
}

// response is the mean Gaussian response of the moved cloud. A point whose
// cell has no distribution contributes 0.
func (r *NDTRefiner) response(cloud []Point, delta Pose) float64 {
	if len(cloud) == 0 {
		return 0
	}
	total := 0.0
	for _, p := range cloud {
		q := delta.Apply(p)
		key := [2]int{
			int(math.Floor(q.X / r.opts.Resolution)),
			int(math.Floor(q.Y / r.opts.Resolution)),
		}
		cell, ok := r.cells[key]
		if !ok {
			continue
		}
		dx := q.X - cell.mean.X
		dy := q.Y - cell.mean.Y
		e := dx*dx*cell.ixx + 2*dx*dy*cell.ixy + dy*dy*cell.iyy
		total += math.Exp(-0.5 * e)
	}
	return total / float64(len(cloud))
}
