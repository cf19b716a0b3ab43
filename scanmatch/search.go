package scanmatch

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidWindow reports a search-window configuration the matcher cannot
// honor: a negative linear or angular window, or a non-positive grid
// resolution. The error propagates instead of clamping, since clamping would
// silently change search semantics.
var ErrInvalidWindow = errors.New("invalid search window")

// DiscreteScan holds one grid-cell index per point of a rotated scan,
// parallel in length and order to the source cloud.
type DiscreteScan []CellIndex

// LinearBounds is the inclusive translation-offset box, in integer cells,
// searched for one rotation candidate.
type LinearBounds struct {
	MinX, MaxX int
	MinY, MaxY int
}

// SearchParameters is the discretized search space for one match call:
// NumScans rotation candidates spaced AngularStep apart, each with its own
// translation box. NumScans is always odd so the unrotated scan sits exactly
// at the center index.
type SearchParameters struct {
	NumAngular   int     // rotation steps to each side of the center scan
	NumScans     int     // 2*NumAngular + 1
	AngularStep  float64 // radians between adjacent rotation candidates
	Resolution   float64 // meters per grid cell
	LinearBounds []LinearBounds // one box per rotation candidate
}

// NewSearchParameters derives the search space for a scan. The angular step
// is sized so that one step moves the farthest scan point by at most one
// grid cell, which bounds the discretization error of the rotation axis.
// The scan range used for that bound is floored at 3 resolutions to keep
// the step defined for tiny scans.
func NewSearchParameters(linearWindow, angularWindow float64, scan PointCloud, resolution float64) (SearchParameters, error) {
	if linearWindow < 0 {
		return SearchParameters{}, fmt.Errorf("%w: linear window %g is negative", ErrInvalidWindow, linearWindow)
	}
	if angularWindow < 0 {
		return SearchParameters{}, fmt.Errorf("%w: angular window %g is negative", ErrInvalidWindow, angularWindow)
	}
	if resolution <= 0 {
		return SearchParameters{}, fmt.Errorf("%w: resolution %g is not positive", ErrInvalidWindow, resolution)
	}

	maxScanRange := 3 * resolution
	if r := MaxRange(scan); r > maxScanRange {
		maxScanRange = r
	}

	// The chord crossed by the farthest point during one step must stay
	// within one cell; the margin keeps rounding from tipping it over.
	const safetyMargin = 1 - 1e-3
	angularStep := safetyMargin * math.Acos(1-resolution*resolution/(2*maxScanRange*maxScanRange))

	numAngular := int(math.Ceil(angularWindow / angularStep))
	numScans := 2*numAngular + 1

	linearHalfWidth := int(math.Ceil(linearWindow / resolution))
	bounds := make([]LinearBounds, numScans)
	for i := range bounds {
		bounds[i] = LinearBounds{
			MinX: -linearHalfWidth, MaxX: linearHalfWidth,
			MinY: -linearHalfWidth, MaxY: linearHalfWidth,
		}
	}

	return SearchParameters{
		NumAngular:   numAngular,
		NumScans:     numScans,
		AngularStep:  angularStep,
		Resolution:   resolution,
		LinearBounds: bounds,
	}, nil
}

// newSearchParametersForTesting builds a search space from explicit counts,
// bypassing the range-derived angular step.
func newSearchParametersForTesting(numLinear, numAngular int, angularStep, resolution float64) SearchParameters {
	numScans := 2*numAngular + 1
	bounds := make([]LinearBounds, numScans)
	for i := range bounds {
		bounds[i] = LinearBounds{
			MinX: -numLinear, MaxX: numLinear,
			MinY: -numLinear, MaxY: numLinear,
		}
	}
	return SearchParameters{
		NumAngular:   numAngular,
		NumScans:     numScans,
		AngularStep:  angularStep,
		Resolution:   resolution,
		LinearBounds: bounds,
	}
}

// ShrinkToFit tightens each rotation's translation box so that every scan
// point stays inside the grid for every offset in the box. The zero offset
// is always kept admissible: a scan already partly off-grid relies on the
// grids' unknown-cell answers rather than producing an empty box. Boxes are
// only ever narrowed, never widened.
func (p *SearchParameters) ShrinkToFit(scans []DiscreteScan, cells CellLimits) {
	if len(scans) != p.NumScans {
		panic(fmt.Sprintf("scanmatch: %d discrete scans for %d rotation candidates", len(scans), p.NumScans))
	}
	if len(p.LinearBounds) != p.NumScans {
		panic(fmt.Sprintf("scanmatch: %d bounds for %d rotation candidates", len(p.LinearBounds), p.NumScans))
	}
	for i, scan := range scans {
		if len(scan) == 0 {
			continue
		}
		minIdx := scan[0]
		maxIdx := scan[0]
		for _, c := range scan[1:] {
			if c.X < minIdx.X {
				minIdx.X = c.X
			}
			if c.Y < minIdx.Y {
				minIdx.Y = c.Y
			}
			if c.X > maxIdx.X {
				maxIdx.X = c.X
			}
			if c.Y > maxIdx.Y {
				maxIdx.Y = c.Y
			}
		}

		b := &p.LinearBounds[i]
		b.MinX = max(b.MinX, min(0, -minIdx.X))
		b.MaxX = min(b.MaxX, max(0, cells.NumX-1-maxIdx.X))
		b.MinY = max(b.MinY, min(0, -minIdx.Y))
		b.MaxY = min(b.MaxY, max(0, cells.NumY-1-maxIdx.Y))
	}
}

// GenerateRotatedScans produces NumScans copies of the scan, the i-th
// rotated in-plane by (i - NumAngular) * AngularStep about the origin. The
// center copy is the unrotated scan.
func GenerateRotatedScans(scan PointCloud, params SearchParameters) []PointCloud {
	rotated := make([]PointCloud, 0, params.NumScans)
	delta := -float64(params.NumAngular) * params.AngularStep
	for i := 0; i < params.NumScans; i++ {
		rotated = append(rotated, RotateCloud(scan, delta))
		delta += params.AngularStep
	}
	return rotated
}

// DiscretizeScans translates every rotated scan by the initial (un-searched)
// translation and maps each point to its grid cell. The output is parallel
// to scans; each DiscreteScan is parallel to its source cloud.
func DiscretizeScans(limits MapLimits, scans []PointCloud, offset Point) []DiscreteScan {
	discrete := make([]DiscreteScan, 0, len(scans))
	for _, scan := range scans {
		ds := make(DiscreteScan, 0, len(scan))
		for _, pt := range scan {
			ds = append(ds, limits.CellOf(Point{X: pt.X + offset.X, Y: pt.Y + offset.Y}))
		}
		discrete = append(discrete, ds)
	}
	return discrete
}
