package scanmatch

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/paulmach/orb"
)

func TestNewFeatureCollection(t *testing.T) {
	fc := NewFeatureCollection()

	if fc.Type != "FeatureCollection" {
		t.Errorf("Expected Type 'FeatureCollection', got '%s'", fc.Type)
	}
	if fc.Features == nil {
		t.Error("Expected Features to be initialized")
	}
	if len(fc.Features) != 0 {
		t.Errorf("Expected 0 features, got %d", len(fc.Features))
	}

	f := NewFeature(&Geometry{Type: GeometryPoint}, nil)
	fc.AddFeature(f)
	if len(fc.Features) != 1 || fc.Features[0] != f {
		t.Error("AddFeature should append the feature")
	}
}

func TestNewFeature(t *testing.T) {
	geom := &Geometry{Type: GeometryPoint}
	props := map[string]interface{}{"robot": "r1"}

	f := NewFeature(geom, props)

	if f.Type != "Feature" {
		t.Errorf("Expected Type 'Feature', got '%s'", f.Type)
	}
	if f.Geometry != geom {
		t.Error("Geometry mismatch")
	}
	if f.Properties["robot"] != "r1" {
		t.Error("Properties not set correctly")
	}

	// Nil properties come back as an empty map.
	f = NewFeature(geom, nil)
	if f.Properties == nil {
		t.Error("Expected Properties to be initialized when nil is passed")
	}
}

// decodeCoords unmarshals a geometry's raw coordinates as a point list.
func decodeCoords(t *testing.T, geom *Geometry) [][2]float64 {
	t.Helper()
	var coords [][2]float64
	if err := json.Unmarshal(geom.Coordinates, &coords); err != nil {
		t.Fatalf("unmarshal coordinates: %v", err)
	}
	return coords
}

func TestTrajectoryToLineString(t *testing.T) {
	traj := []TimedPose{
		{Pose: Pose{X: 1, Y: 2}},
		{Pose: Pose{X: 3, Y: 4}},
		{Pose: Pose{X: 5, Y: 4}},
	}

	geom := TrajectoryToLineString(traj)
	if geom.Type != GeometryLineString {
		t.Fatalf("Expected LineString, got %s", geom.Type)
	}
	coords := decodeCoords(t, geom)
	want := [][2]float64{{1, 2}, {3, 4}, {5, 4}}
	if len(coords) != len(want) {
		t.Fatalf("Expected %d coordinates, got %d", len(want), len(coords))
	}
	for i := range want {
		if coords[i] != want[i] {
			t.Errorf("coords[%d] = %v, want %v", i, coords[i], want[i])
		}
	}
}

func TestPoseToPoint(t *testing.T) {
	geom := PoseToPoint(Pose{X: 1.5, Y: -2, Theta: 0.7})
	if geom.Type != GeometryPoint {
		t.Fatalf("Expected Point, got %s", geom.Type)
	}
	var coord [2]float64
	if err := json.Unmarshal(geom.Coordinates, &coord); err != nil {
		t.Fatal(err)
	}
	if coord != [2]float64{1.5, -2} {
		t.Errorf("coord = %v, want [1.5 -2]", coord)
	}
}

func TestCloudToMultiPoint(t *testing.T) {
	cloud := PointCloud{{X: 1, Y: 2, Z: 9}, {X: 3, Y: 4}}
	geom := CloudToMultiPoint(cloud)
	if geom.Type != GeometryMultiPoint {
		t.Fatalf("Expected MultiPoint, got %s", geom.Type)
	}
	coords := decodeCoords(t, geom)
	if len(coords) != 2 {
		t.Fatalf("Expected 2 coordinates, got %d", len(coords))
	}
	// Z is dropped.
	if coords[0] != [2]float64{1, 2} || coords[1] != [2]float64{3, 4} {
		t.Errorf("coords = %v, want [[1 2] [3 4]]", coords)
	}
}

func TestSimplifyLineString(t *testing.T) {
	t.Run("drops collinear points", func(t *testing.T) {
		traj := []TimedPose{
			{Pose: Pose{X: 0, Y: 0}},
			{Pose: Pose{X: 1, Y: 0}},
			{Pose: Pose{X: 2, Y: 0}},
			{Pose: Pose{X: 3, Y: 0}},
		}
		simplified := SimplifyLineString(TrajectoryToLineString(traj), 0.1)
		if simplified == nil {
			t.Fatal("SimplifyLineString returned nil")
		}
		coords := decodeCoords(t, simplified)
		if len(coords) != 2 {
			t.Errorf("Expected 2 coordinates after simplification, got %d", len(coords))
		}
		if coords[0] != [2]float64{0, 0} || coords[len(coords)-1] != [2]float64{3, 0} {
			t.Errorf("Endpoints must survive simplification, got %v", coords)
		}
	})

	t.Run("keeps significant corners", func(t *testing.T) {
		traj := []TimedPose{
			{Pose: Pose{X: 0, Y: 0}},
			{Pose: Pose{X: 1, Y: 0.5}},
			{Pose: Pose{X: 2, Y: 0}},
		}
		simplified := SimplifyLineString(TrajectoryToLineString(traj), 0.1)
		coords := decodeCoords(t, simplified)
		if len(coords) != 3 {
			t.Errorf("Expected the 0.5 m corner to survive a 0.1 m tolerance, got %v", coords)
		}
	})

	t.Run("rejects non-linestrings", func(t *testing.T) {
		if SimplifyLineString(nil, 0.1) != nil {
			t.Error("Expected nil for nil geometry")
		}
		if SimplifyLineString(PoseToPoint(Pose{}), 0.1) != nil {
			t.Error("Expected nil for a Point geometry")
		}
	})
}

func TestTrajectoryFeature(t *testing.T) {
	if TrajectoryFeature("r1", nil, 0.1) != nil {
		t.Error("Expected nil for an empty trajectory")
	}

	traj := []TimedPose{
		{Pose: Pose{X: 0, Y: 0}},
		{Pose: Pose{X: 1, Y: 0}},
		{Pose: Pose{X: 2, Y: 0}},
	}
	f := TrajectoryFeature("r1", traj, 0.05)
	if f == nil {
		t.Fatal("TrajectoryFeature returned nil")
	}
	if f.Properties["robot"] != "r1" || f.Properties["kind"] != "trajectory" {
		t.Errorf("properties = %v, want robot r1 kind trajectory", f.Properties)
	}
	// The sample count reflects the raw trajectory even after simplification.
	if f.Properties["samples"] != 3 {
		t.Errorf("samples = %v, want 3", f.Properties["samples"])
	}
	if length := f.Properties["length"].(float64); math.Abs(length-2) > 1e-9 {
		t.Errorf("length = %g, want 2", length)
	}
	// Collinear interior point simplified away.
	if coords := decodeCoords(t, f.Geometry); len(coords) != 2 {
		t.Errorf("Expected a simplified 2-point line, got %v", coords)
	}

	// Tolerance 0 disables simplification.
	f = TrajectoryFeature("r1", traj, 0)
	if coords := decodeCoords(t, f.Geometry); len(coords) != 3 {
		t.Errorf("Expected all 3 points with tolerance 0, got %v", coords)
	}
}

func TestPoseFeature(t *testing.T) {
	f := PoseFeature("r2", TimedPose{Pose: Pose{X: 1, Y: 2, Theta: 0.4}, Score: 0.9, Stamp: 77})
	if f.Geometry.Type != GeometryPoint {
		t.Fatalf("Expected Point geometry, got %s", f.Geometry.Type)
	}
	if f.Properties["robot"] != "r2" || f.Properties["kind"] != "pose" {
		t.Errorf("properties = %v, want robot r2 kind pose", f.Properties)
	}
	if f.Properties["theta"] != 0.4 || f.Properties["score"] != 0.9 {
		t.Errorf("theta/score = %v/%v, want 0.4/0.9", f.Properties["theta"], f.Properties["score"])
	}
	if f.Properties["stamp"] != int64(77) {
		t.Errorf("stamp = %v, want 77", f.Properties["stamp"])
	}
}

func TestMapExtentFeature(t *testing.T) {
	limits := NewMapLimits(0.1, -1, -2, 20, 30)
	f := MapExtentFeature(limits)

	if f.Geometry.Type != GeometryPolygon {
		t.Fatalf("Expected Polygon, got %s", f.Geometry.Type)
	}
	if f.Properties["kind"] != "map_extent" || f.Properties["resolution"] != 0.1 {
		t.Errorf("properties = %v", f.Properties)
	}
	// 2 m x 3 m mapped area.
	if area := f.Properties["area"].(float64); math.Abs(area-6) > 1e-9 {
		t.Errorf("area = %g, want 6", area)
	}

	var rings [][][2]float64
	if err := json.Unmarshal(f.Geometry.Coordinates, &rings); err != nil {
		t.Fatal(err)
	}
	if len(rings) != 1 || len(rings[0]) != 5 {
		t.Fatalf("Expected one closed 5-point ring, got %v", rings)
	}
	if rings[0][0] != rings[0][4] {
		t.Error("Ring must close on its first point")
	}
	if rings[0][0] != [2]float64{-1, -2} || rings[0][2] != [2]float64{1, 1} {
		t.Errorf("ring corners = %v, want (-1,-2) to (1,1)", rings[0])
	}
}

func TestScanObstacleFeatures(t *testing.T) {
	square := PointCloud{
		{X: 0, Y: 0}, {X: 0.1, Y: 0}, {X: 0, Y: 0.1}, {X: 0.1, Y: 0.1},
	}
	triangle := PointCloud{
		{X: 5, Y: 5}, {X: 5.1, Y: 5}, {X: 5, Y: 5.1},
	}
	cloud := append(append(PointCloud{}, square...), triangle...)

	t.Run("two clusters", func(t *testing.T) {
		features := ScanObstacleFeatures("r1", cloud, 0.2, 3)
		if len(features) != 2 {
			t.Fatalf("Expected 2 obstacle features, got %d", len(features))
		}
		if features[0].Properties["points"] != 4 || features[1].Properties["points"] != 3 {
			t.Errorf("cluster sizes = %v/%v, want 4/3",
				features[0].Properties["points"], features[1].Properties["points"])
		}
		if features[0].Properties["kind"] != "obstacle" || features[0].Properties["robot"] != "r1" {
			t.Errorf("properties = %v", features[0].Properties)
		}
		if area := features[0].Properties["area"].(float64); math.Abs(area-0.01) > 1e-9 {
			t.Errorf("square cluster area = %g, want 0.01", area)
		}
	})

	t.Run("min points filter", func(t *testing.T) {
		features := ScanObstacleFeatures("r1", cloud, 0.2, 4)
		if len(features) != 1 {
			t.Fatalf("Expected only the 4-point cluster, got %d features", len(features))
		}
		if features[0].Properties["points"] != 4 {
			t.Errorf("points = %v, want 4", features[0].Properties["points"])
		}
	})

	t.Run("single linkage chains", func(t *testing.T) {
		// 0.15 m hops chain into one cluster though the ends are 0.33 m apart.
		chain := PointCloud{{X: 0, Y: 0}, {X: 0.15, Y: 0}, {X: 0.3, Y: 0.1}}
		features := ScanObstacleFeatures("r1", chain, 0.2, 3)
		if len(features) != 1 {
			t.Fatalf("Expected one chained cluster, got %d", len(features))
		}
		if features[0].Properties["points"] != 3 {
			t.Errorf("points = %v, want 3", features[0].Properties["points"])
		}
	})

	t.Run("degenerate clusters dropped", func(t *testing.T) {
		collinear := PointCloud{{X: 0, Y: 0}, {X: 0.1, Y: 0}, {X: 0.2, Y: 0}}
		if features := ScanObstacleFeatures("r1", collinear, 0.2, 3); len(features) != 0 {
			t.Errorf("Expected no features for a collinear cluster, got %d", len(features))
		}
	})

	t.Run("empty input", func(t *testing.T) {
		if ScanObstacleFeatures("r1", nil, 0.2, 3) != nil {
			t.Error("Expected nil for an empty cloud")
		}
		if ScanObstacleFeatures("r1", cloud, 0, 3) != nil {
			t.Error("Expected nil for a zero max distance")
		}
	})
}

func TestTrajectoriesToFeatureCollection(t *testing.T) {
	limits := NewMapLimits(0.1, 0, 0, 10, 10)

	t.Run("nil state", func(t *testing.T) {
		fc := TrajectoriesToFeatureCollection(nil, limits, 0.1)
		if len(fc.Features) != 1 {
			t.Fatalf("Expected just the map extent, got %d features", len(fc.Features))
		}
		if fc.Features[0].Properties["kind"] != "map_extent" {
			t.Errorf("kind = %v, want map_extent", fc.Features[0].Properties["kind"])
		}
	})

	t.Run("full state", func(t *testing.T) {
		state := NewStateTracker()
		state.RecordPose("r1", Pose{X: 1}, 0.8, 100)
		state.RecordPose("r1", Pose{X: 2}, 0.85, 200)
		state.RecordPose("r2", Pose{X: 5}, 0.7, 150)
		state.RecordScan("r3", &ScanFrame{}) // scan only, contributes nothing

		fc := TrajectoriesToFeatureCollection(state, limits, 0.1)

		// extent + (trajectory + pose) per posed robot
		if len(fc.Features) != 5 {
			t.Fatalf("Expected 5 features, got %d", len(fc.Features))
		}

		kinds := map[string]int{}
		for _, f := range fc.Features {
			kinds[f.Properties["kind"].(string)]++
		}
		if kinds["map_extent"] != 1 || kinds["trajectory"] != 2 || kinds["pose"] != 2 {
			t.Errorf("feature kinds = %v", kinds)
		}
	})
}

func TestConvexHull(t *testing.T) {
	pts := []orb.Point{
		{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0.5, 0.5},
	}

	hull := convexHull(pts)
	if len(hull) != 4 {
		t.Fatalf("Expected a 4-point hull, got %d", len(hull))
	}
	for _, h := range hull {
		if h == (orb.Point{0.5, 0.5}) {
			t.Error("Interior point must not appear on the hull")
		}
	}
}
