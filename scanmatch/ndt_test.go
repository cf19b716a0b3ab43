package scanmatch

import (
	"errors"
	"math"
	"testing"
)

// ---------------------------------------------------------------------------
// NewNDTRefiner
// ---------------------------------------------------------------------------

func TestNewNDTRefiner_FitsCells(t *testing.T) {
	r := NewNDTRefiner(DefaultNDTOptions(), lShapeTarget())
	if len(r.cells) == 0 {
		t.Fatal("expected fitted cells for a dense target")
	}
}

func TestNewNDTRefiner_SparseTarget(t *testing.T) {
	// Fewer than three points per cell: nothing to fit a Gaussian to.
	r := NewNDTRefiner(DefaultNDTOptions(), []Point{{X: 0, Y: 0}, {X: 10, Y: 10}})
	if len(r.cells) != 0 {
		t.Fatalf("cells = %d, want 0", len(r.cells))
	}

	result := r.Align(PointCloud{{X: 0, Y: 0}})
	if result.Delta != (Pose{}) || result.Score != 0 {
		t.Errorf("Align on an empty model = %+v, want the zero result", result)
	}
}

// ---------------------------------------------------------------------------
// Align
// ---------------------------------------------------------------------------

func TestNDT_AlignRecoversTranslation(t *testing.T) {
	target := lShapeTarget()
	r := NewNDTRefiner(DefaultNDTOptions(), target)

	want := Pose{X: 0.08}
	src := TransformCloud(target, want.Inverse())

	result := r.Align(src)
	if !result.Converged {
		t.Errorf("descent did not converge after %d iterations", result.Iterations)
	}
	if math.Abs(result.Delta.X-want.X) > 0.02 {
		t.Errorf("Delta.X = %g, want %g within 0.02", result.Delta.X, want.X)
	}
	if math.Abs(result.Delta.Y) > 1e-6 || math.Abs(result.Delta.Theta) > 1e-6 {
		t.Errorf("Delta = %+v picked up off-axis movement", result.Delta)
	}
	if result.Score <= 0.2 {
		t.Errorf("Score = %g, want a clearly informative response", result.Score)
	}
}

func TestNDT_AlignImprovesResponse(t *testing.T) {
	target := lShapeTarget()
	r := NewNDTRefiner(DefaultNDTOptions(), target)

	offset := Pose{X: 0.06, Y: -0.04, Theta: 0.02}
	src := TransformCloud(target, offset.Inverse())

	source := NewPointMap(src, r.opts.VoxelLeaf).Points()
	before := r.response(source, Pose{})

	result := r.Align(src)
	if result.Score <= before {
		t.Errorf("Score = %g did not improve on the unaligned response %g", result.Score, before)
	}
}

// ---------------------------------------------------------------------------
// Refine
// ---------------------------------------------------------------------------

func TestNDT_RefineCorrectsPose(t *testing.T) {
	target := lShapeTarget()
	r := NewNDTRefiner(DefaultNDTOptions(), target)

	truePose := Pose{X: 0.3, Y: -0.2, Theta: 0.05}
	scan := TransformCloud(target, truePose.Inverse())

	initial := Pose{X: 0.06, Y: -0.04}.Compose(truePose)
	var corrected Pose
	score, err := r.Refine(initial, scan, &corrected)
	if err != nil {
		t.Fatalf("Refine: %v", err)
	}

	errBefore := math.Hypot(initial.X-truePose.X, initial.Y-truePose.Y)
	errAfter := math.Hypot(corrected.X-truePose.X, corrected.Y-truePose.Y)
	if errAfter >= errBefore {
		t.Errorf("pose error grew from %g to %g", errBefore, errAfter)
	}
	if errAfter > 0.05 {
		t.Errorf("corrected = %+v, want within 0.05 of %+v", corrected, truePose)
	}
	if score <= 0.2 {
		t.Errorf("score = %g, want a clearly informative response", score)
	}
}

func TestNDT_RefineNilPose(t *testing.T) {
	r := NewNDTRefiner(DefaultNDTOptions(), lShapeTarget())
	_, err := r.Refine(Pose{}, PointCloud{{X: 1, Y: 1}}, nil)
	if !errors.Is(err, ErrInvalidOutput) {
		t.Errorf("err = %v, want ErrInvalidOutput", err)
	}
}

func TestNDT_RefineEmptyScan(t *testing.T) {
	r := NewNDTRefiner(DefaultNDTOptions(), lShapeTarget())

	initial := Pose{X: -1, Y: 0.5, Theta: 1.2}
	var corrected Pose
	score, err := r.Refine(initial, nil, &corrected)
	if err != nil {
		t.Fatalf("Refine: %v", err)
	}
	if !poseClose(corrected, initial, 1e-12) {
		t.Errorf("corrected = %+v, want the initial %+v", corrected, initial)
	}
	if score != 0 {
		t.Errorf("score = %g, want 0", score)
	}
}
