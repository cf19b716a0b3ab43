package scanmatch

// Point represents a 3D coordinate. Matching is planar, so Z is carried
// through parsing for completeness and zeroed before any scoring.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z,omitempty"`
}

// PointCloud is an ordered sequence of points. Order is irrelevant to
// scoring but is preserved per-point through rotation and discretization.
type PointCloud []Point

// Pose is a 2D rigid transform: rotation by Theta about the origin,
// then translation by (X, Y). Theta is in radians.
type Pose struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Theta float64 `json:"theta"`
}

// ScanFrame is the wire format for a single planar lidar revolution.
// Ranges are meters, ordered from AngleMin in steps of AngleIncrement.
// A range outside [RangeMin, RangeMax] is a dropout and produces no point.
type ScanFrame struct {
	Robot          string    `json:"robot"`
	Stamp          int64     `json:"stamp"`
	AngleMin       float64   `json:"angle_min"`
	AngleIncrement float64   `json:"angle_increment"`
	RangeMin       float64   `json:"range_min"`
	RangeMax       float64   `json:"range_max"`
	Ranges         []float64 `json:"ranges"`
}

// RobotPose is the published pose-correction message for one robot.
type RobotPose struct {
	Robot string  `json:"robot"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Theta float64 `json:"theta"`
	Score float64 `json:"score"`
	Stamp int64   `json:"stamp"`
}

// TimedPose is one trajectory sample: a corrected pose plus the score and
// timestamp of the match that produced it.
type TimedPose struct {
	Pose  Pose    `json:"pose"`
	Score float64 `json:"score"`
	Stamp int64   `json:"stamp"`
}
