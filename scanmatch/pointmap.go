package scanmatch

import (
	"fmt"
	"math"
)

// PointMap is a planar point set prepared for registration: the input is
// voxel-downsampled (one centroid per occupied voxel) and indexed into
// uniform buckets for nearest-neighbor queries. ICP and NDT refiners hold
// one as their target; it is immutable after construction and safe for
// concurrent queries.
type PointMap struct {
	points []Point
	voxel  float64
	bucket map[[2]int][]int // voxel coordinate -> indices into points
}

// NewPointMap downsamples points to one centroid per voxel of the given
// leaf size and builds the query index. The leaf must be positive. Point
// order follows first appearance of each voxel, keeping construction
// deterministic.
func NewPointMap(points []Point, voxel float64) *PointMap {
	if voxel <= 0 {
		panic(fmt.Sprintf("scanmatch: non-positive voxel leaf %g", voxel))
	}

	type cellAcc struct {
		sumX, sumY float64
		n          int
	}
	acc := make(map[[2]int]*cellAcc)
	var order [][2]int
	for _, p := range points {
		key := [2]int{int(math.Floor(p.X / voxel)), int(math.Floor(p.Y / voxel))}
		a, ok := acc[key]
		if !ok {
			a = &cellAcc{}
			acc[key] = a
			order = append(order, key)
		}
		a.sumX += p.X
		a.sumY += p.Y
		a.n++
	}

	pm := &PointMap{
		points: make([]Point, 0, len(order)),
		voxel:  voxel,
		bucket: make(map[[2]int][]int, len(order)),
	}
	for _, key := range order {
		a := acc[key]
		p := Point{X: a.sumX / float64(a.n), Y: a.sumY / float64(a.n)}
		idx := [2]int{int(math.Floor(p.X / voxel)), int(math.Floor(p.Y / voxel))}
		pm.bucket[idx] = append(pm.bucket[idx], len(pm.points))
		pm.points = append(pm.points, p)
	}
	return pm
}

// Len returns the number of retained points.
func (pm *PointMap) Len() int { return len(pm.points) }

// Points returns the retained points. Callers must not modify the slice.
func (pm *PointMap) Points() []Point { return pm.points }

// Nearest returns the retained point closest to p within maxDist, with its
// distance. ok is false when no point lies within maxDist.
func (pm *PointMap) Nearest(p Point, maxDist float64) (Point, float64, bool) {
	if maxDist <= 0 || len(pm.points) == 0 {
		return Point{}, 0, false
	}

	cx := int(math.Floor(p.X / pm.voxel))
	cy := int(math.Floor(p.Y / pm.voxel))
	reach := int(math.Ceil(maxDist/pm.voxel)) + 1

	bestDist := maxDist
	bestIdx := -1
	for dx := -reach; dx <= reach; dx++ {
		for dy := -reach; dy <= reach; dy++ {
			for _, i := range pm.bucket[[2]int{cx + dx, cy + dy}] {
				if d := Distance(p, pm.points[i]); d <= bestDist {
					if d < bestDist || bestIdx == -1 {
						bestDist = d
						bestIdx = i
					}
				}
			}
		}
	}
	if bestIdx == -1 {
		return Point{}, 0, false
	}
	return pm.points[bestIdx], bestDist, true
}
