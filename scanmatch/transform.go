package scanmatch

import "math"

// NormalizeAngle normalizes an angle in radians to the range (-pi, pi].
func NormalizeAngle(theta float64) float64 {
	theta = math.Mod(theta, 2*math.Pi)
	if theta > math.Pi {
		theta -= 2 * math.Pi
	} else if theta <= -math.Pi {
		theta += 2 * math.Pi
	}
	return theta
}

// Apply transforms a point by the pose: rotate by Theta about the origin,
// then translate by (X, Y). Z passes through unchanged.
func (p Pose) Apply(pt Point) Point {
	cos := math.Cos(p.Theta)
	sin := math.Sin(p.Theta)
	return Point{
		X: cos*pt.X - sin*pt.Y + p.X,
		Y: sin*pt.X + cos*pt.Y + p.Y,
		Z: pt.Z,
	}
}

// Compose returns the pose equivalent to applying q first, then p.
func (p Pose) Compose(q Pose) Pose {
	cos := math.Cos(p.Theta)
	sin := math.Sin(p.Theta)
	return Pose{
		X:     cos*q.X - sin*q.Y + p.X,
		Y:     sin*q.X + cos*q.Y + p.Y,
		Theta: NormalizeAngle(p.Theta + q.Theta),
	}
}

// Inverse returns the pose q such that p.Compose(q) is the identity.
func (p Pose) Inverse() Pose {
	cos := math.Cos(p.Theta)
	sin := math.Sin(p.Theta)
	return Pose{
		X:     -(cos*p.X + sin*p.Y),
		Y:     -(-sin*p.X + cos*p.Y),
		Theta: NormalizeAngle(-p.Theta),
	}
}

// Translation returns a translation-only pose.
func Translation(x, y float64) Pose {
	return Pose{X: x, Y: y}
}

// Rotation returns a rotation-only pose (radians, about the origin).
func Rotation(theta float64) Pose {
	return Pose{Theta: NormalizeAngle(theta)}
}

// RotateCloud rotates every point in-plane by theta radians about the origin.
// Rotation happens before any translation offset is tested, since translation
// candidates are shared across rotated scans.
func RotateCloud(cloud PointCloud, theta float64) PointCloud {
	cos := math.Cos(theta)
	sin := math.Sin(theta)
	result := make(PointCloud, len(cloud))
	for i, pt := range cloud {
		result[i] = Point{
			X: cos*pt.X - sin*pt.Y,
			Y: sin*pt.X + cos*pt.Y,
			Z: pt.Z,
		}
	}
	return result
}

// TransformCloud applies a pose to every point of a cloud.
func TransformCloud(cloud PointCloud, p Pose) PointCloud {
	result := make(PointCloud, len(cloud))
	for i, pt := range cloud {
		result[i] = p.Apply(pt)
	}
	return result
}

// LevelCloud returns the cloud with every Z forced to 0.
func LevelCloud(cloud PointCloud) PointCloud {
	result := make(PointCloud, len(cloud))
	for i, pt := range cloud {
		result[i] = Point{X: pt.X, Y: pt.Y}
	}
	return result
}

// MaxRange returns the planar distance from the origin to the farthest
// point of the cloud, or 0 for an empty cloud.
func MaxRange(cloud PointCloud) float64 {
	far := 0.0
	for _, pt := range cloud {
		if r := math.Hypot(pt.X, pt.Y); r > far {
			far = r
		}
	}
	return far
}

// Distance calculates the planar Euclidean distance between two points.
func Distance(p1, p2 Point) float64 {
	return math.Hypot(p2.X-p1.X, p2.Y-p1.Y)
}

// Centroid calculates the planar center of mass of a set of points.
func Centroid(points []Point) Point {
	if len(points) == 0 {
		return Point{}
	}
	var sumX, sumY float64
	for _, p := range points {
		sumX += p.X
		sumY += p.Y
	}
	n := float64(len(points))
	return Point{X: sumX / n, Y: sumY / n}
}

// FitRigid computes the best rigid transform (rotation + translation, no
// scale) mapping source onto target using Procrustes analysis. Pairs are
// matched by index. Returns the identity for fewer than two pairs or a
// length mismatch.
func FitRigid(source, target []Point) Pose {
	n := len(source)
	if n < 2 || n != len(target) {
		return Pose{}
	}

	srcCentroid := Centroid(source)
	tgtCentroid := Centroid(target)

	// Cross-covariance of the centered point sets:
	// H = [h11 h12]
	//     [h21 h22]
	var h11, h12, h21, h22 float64
	for i := range source {
		sx := source[i].X - srcCentroid.X
		sy := source[i].Y - srcCentroid.Y
		tx := target[i].X - tgtCentroid.X
		ty := target[i].Y - tgtCentroid.Y
		h11 += sx * tx
		h12 += sx * ty
		h21 += sy * tx
		h22 += sy * ty
	}

	// In 2D the optimal rotation comes directly from atan2.
	theta := math.Atan2(h12-h21, h11+h22)
	cos := math.Cos(theta)
	sin := math.Sin(theta)

	return Pose{
		X:     tgtCentroid.X - (cos*srcCentroid.X - sin*srcCentroid.Y),
		Y:     tgtCentroid.Y - (sin*srcCentroid.X + cos*srcCentroid.Y),
		Theta: theta,
	}
}
