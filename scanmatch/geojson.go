package scanmatch

import (
	"encoding/json"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/simplify"
)

// GeometryType represents the GeoJSON geometry type
type GeometryType string

const (
	GeometryPoint      GeometryType = "Point"
	GeometryLineString GeometryType = "LineString"
	GeometryPolygon    GeometryType = "Polygon"
	GeometryMultiPoint GeometryType = "MultiPoint"
)

// Geometry represents a GeoJSON geometry object
type Geometry struct {
	Type        GeometryType    `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// Feature represents a GeoJSON feature with geometry and properties
type Feature struct {
	Type       string                 `json:"type"`
	Geometry   *Geometry              `json:"geometry"`
	Properties map[string]interface{} `json:"properties"`
	ID         interface{}            `json:"id,omitempty"`
}

// FeatureCollection represents a GeoJSON FeatureCollection
type FeatureCollection struct {
	Type     string     `json:"type"`
	Features []*Feature `json:"features"`
}

// NewFeatureCollection creates a new empty FeatureCollection
func NewFeatureCollection() *FeatureCollection {
	return &FeatureCollection{
		Type:     "FeatureCollection",
		Features: make([]*Feature, 0),
	}
}

// AddFeature appends a feature to the collection
func (fc *FeatureCollection) AddFeature(f *Feature) {
	fc.Features = append(fc.Features, f)
}

// NewFeature creates a Feature with the given geometry and properties
func NewFeature(geom *Geometry, props map[string]interface{}) *Feature {
	if props == nil {
		props = make(map[string]interface{})
	}
	return &Feature{
		Type:       "Feature",
		Geometry:   geom,
		Properties: props,
	}
}

// TrajectoryToLineString converts a trajectory to a GeoJSON LineString
// geometry. Coordinates are map-frame meters (x, y).
func TrajectoryToLineString(traj []TimedPose) *Geometry {
	coords := make([][2]float64, len(traj))
	for i, tp := range traj {
		coords[i] = [2]float64{tp.Pose.X, tp.Pose.Y}
	}

	coordsJSON, _ := json.Marshal(coords)
	return &Geometry{
		Type:        GeometryLineString,
		Coordinates: coordsJSON,
	}
}

// PoseToPoint converts a pose to a GeoJSON Point geometry
func PoseToPoint(pose Pose) *Geometry {
	coordsJSON, _ := json.Marshal([2]float64{pose.X, pose.Y})
	return &Geometry{
		Type:        GeometryPoint,
		Coordinates: coordsJSON,
	}
}

// CloudToMultiPoint converts a point cloud to a GeoJSON MultiPoint geometry.
// Coordinates are map-frame meters (x, y); z is dropped.
func CloudToMultiPoint(cloud PointCloud) *Geometry {
	coords := make([][2]float64, len(cloud))
	for i, p := range cloud {
		coords[i] = [2]float64{p.X, p.Y}
	}

	coordsJSON, _ := json.Marshal(coords)
	return &Geometry{
		Type:        GeometryMultiPoint,
		Coordinates: coordsJSON,
	}
}

// orbLineString converts a Geometry of type LineString to an orb.LineString.
// Returns nil if the geometry is nil, not a LineString, or has invalid coordinates.
func orbLineString(geom *Geometry) orb.LineString {
	if geom == nil || geom.Type != GeometryLineString {
		return nil
	}
	var coords [][2]float64
	if err := json.Unmarshal(geom.Coordinates, &coords); err != nil {
		return nil
	}
	ls := make(orb.LineString, len(coords))
	for i, c := range coords {
		ls[i] = orb.Point{c[0], c[1]}
	}
	return ls
}

// lineStringToGeometry converts an orb.LineString back to a Geometry.
func lineStringToGeometry(ls orb.LineString) *Geometry {
	coords := make([][2]float64, len(ls))
	for i, p := range ls {
		coords[i] = [2]float64{p[0], p[1]}
	}
	coordsJSON, _ := json.Marshal(coords)
	return &Geometry{
		Type:        GeometryLineString,
		Coordinates: coordsJSON,
	}
}

// ringToGeometry converts a closed orb.Ring to a Polygon Geometry.
func ringToGeometry(ring orb.Ring) *Geometry {
	coords := make([][2]float64, len(ring))
	for i, p := range ring {
		coords[i] = [2]float64{p[0], p[1]}
	}
	coordsJSON, _ := json.Marshal([][][2]float64{coords})
	return &Geometry{
		Type:        GeometryPolygon,
		Coordinates: coordsJSON,
	}
}

// SimplifyLineString applies the Douglas-Peucker algorithm to reduce the number
// of points in a LineString while preserving its shape within the given tolerance.
//
// The tolerance parameter controls how much the simplified line can deviate from
// the original, in coordinate units (meters).
//
// Returns nil if the input is nil or not a LineString.
func SimplifyLineString(geom *Geometry, tolerance float64) *Geometry {
	ls := orbLineString(geom)
	if ls == nil {
		return nil
	}

	simplified := simplify.DouglasPeucker(tolerance).Simplify(ls.Clone())
	result, ok := simplified.(orb.LineString)
	if !ok {
		return nil
	}

	return lineStringToGeometry(result)
}

// TrajectoryFeature converts a robot's trajectory to a GeoJSON Feature.
// The path is simplified with the given tolerance (0 disables simplification).
// Properties carry the robot ID, sample count and total path length in meters.
func TrajectoryFeature(robot string, traj []TimedPose, tolerance float64) *Feature {
	if len(traj) == 0 {
		return nil
	}

	geom := TrajectoryToLineString(traj)
	if tolerance > 0 && len(traj) > 2 {
		if simplified := SimplifyLineString(geom, tolerance); simplified != nil {
			geom = simplified
		}
	}

	props := map[string]interface{}{
		"robot":   robot,
		"kind":    "trajectory",
		"samples": len(traj),
		"length":  trajectoryLength(geom),
	}
	return NewFeature(geom, props)
}

// trajectoryLength sums consecutive segment lengths of a LineString geometry.
func trajectoryLength(geom *Geometry) float64 {
	ls := orbLineString(geom)
	total := 0.0
	for i := 1; i < len(ls); i++ {
		total += planar.Distance(ls[i-1], ls[i])
	}
	return total
}

// PoseFeature converts a robot's latest corrected pose to a GeoJSON Point
// Feature with heading, score and timestamp properties.
func PoseFeature(robot string, tp TimedPose) *Feature {
	props := map[string]interface{}{
		"robot": robot,
		"kind":  "pose",
		"theta": tp.Pose.Theta,
		"score": tp.Score,
		"stamp": tp.Stamp,
	}
	return NewFeature(PoseToPoint(tp.Pose), props)
}

// MapExtentFeature converts the grid limits to a closed Polygon Feature
// covering the mapped area, with the covered area in square meters as a
// property.
func MapExtentFeature(limits MapLimits) *Feature {
	ring := orb.Ring{
		{limits.MinX, limits.MinY},
		{limits.MaxX(), limits.MinY},
		{limits.MaxX(), limits.MaxY()},
		{limits.MinX, limits.MaxY()},
		{limits.MinX, limits.MinY},
	}

	props := map[string]interface{}{
		"kind":       "map_extent",
		"resolution": limits.Resolution,
		"area":       planar.Area(ring),
	}
	return NewFeature(ringToGeometry(ring), props)
}

// ScanObstacleFeatures clusters a world-frame scan into obstacle blobs and
// returns one convex-hull Polygon Feature per blob. Points within maxDist of
// each other join the same cluster (single linkage); clusters smaller than
// minPoints are dropped. Intended as a debug overlay, not for navigation.
func ScanObstacleFeatures(robot string, cloud PointCloud, maxDist float64, minPoints int) []*Feature {
	if len(cloud) == 0 || maxDist <= 0 {
		return nil
	}

	points := make([]orb.Point, len(cloud))
	for i, p := range cloud {
		points[i] = orb.Point{p.X, p.Y}
	}

	uf := newUnionFind(len(points))
	for i := 0; i < len(points); i++ {
		for j := i + 1; j < len(points); j++ {
			if planar.Distance(points[i], points[j]) <= maxDist {
				uf.union(i, j)
			}
		}
	}

	clusters := make(map[int][]orb.Point)
	for i := range points {
		root := uf.find(i)
		clusters[root] = append(clusters[root], points[i])
	}

	roots := make([]int, 0, len(clusters))
	for root := range clusters {
		roots = append(roots, root)
	}
	sort.Ints(roots)

	var features []*Feature
	for _, root := range roots {
		cluster := clusters[root]
		if len(cluster) < minPoints {
			continue
		}

		hull := convexHull(cluster)
		if len(hull) < 3 {
			continue
		}
		// Close the ring
		hull = append(hull, hull[0])
		ring := orb.Ring(hull)

		props := map[string]interface{}{
			"robot":  robot,
			"kind":   "obstacle",
			"points": len(cluster),
			"area":   planar.Area(ring),
		}
		features = append(features, NewFeature(ringToGeometry(ring), props))
	}
	return features
}

// TrajectoriesToFeatureCollection assembles the full GeoJSON export: the map
// extent, plus every robot's simplified trajectory and latest pose marker.
func TrajectoriesToFeatureCollection(state *StateTracker, limits MapLimits, tolerance float64) *FeatureCollection {
	fc := NewFeatureCollection()
	fc.AddFeature(MapExtentFeature(limits))

	if state == nil {
		return fc
	}

	for _, robot := range state.Robots() {
		if f := TrajectoryFeature(robot, state.Trajectory(robot), tolerance); f != nil {
			fc.AddFeature(f)
		}
		if tp, ok := state.LatestPose(robot); ok {
			fc.AddFeature(PoseFeature(robot, tp))
		}
	}
	return fc
}

// unionFind implements a disjoint-set data structure with path compression.
type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	return &unionFind{parent: p}
}

func (uf *unionFind) find(x int) int {
	for uf.parent[x] != x {
		uf.parent[x] = uf.parent[uf.parent[x]]
		x = uf.parent[x]
	}
	return x
}

func (uf *unionFind) union(a, b int) {
	ra, rb := uf.find(a), uf.find(b)
	if ra != rb {
		uf.parent[ra] = rb
	}
}

// convexHull computes the convex hull of a set of 2D points using the
// Andrew's monotone chain algorithm. Returns points in counter-clockwise order.
func convexHull(points []orb.Point) []orb.Point {
	if len(points) < 3 {
		result := make([]orb.Point, len(points))
		copy(result, points)
		return result
	}

	// Sort by x, then y
	sorted := make([]orb.Point, len(points))
	copy(sorted, points)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i][0] != sorted[j][0] {
			return sorted[i][0] < sorted[j][0]
		}
		return sorted[i][1] < sorted[j][1]
	})

	// cross returns the cross product of vectors OA and OB where O is origin
	cross := func(o, a, b orb.Point) float64 {
		return (a[0]-o[0])*(b[1]-o[1]) - (a[1]-o[1])*(b[0]-o[0])
	}

	n := len(sorted)
	hull := make([]orb.Point, 0, 2*n)

	// Lower hull
	for _, p := range sorted {
		for len(hull) >= 2 && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}

	// Upper hull
	lower := len(hull) + 1
	for i := n - 2; i >= 0; i-- {
		p := sorted[i]
		for len(hull) >= lower && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}

	// Remove last point (duplicate of first)
	return hull[:len(hull)-1]
}
