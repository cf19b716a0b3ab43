package scanmatch

import "testing"

// ---------------------------------------------------------------------------
// PointMap
// ---------------------------------------------------------------------------

func TestNewPointMap_Downsamples(t *testing.T) {
	// Four points in one voxel collapse to their centroid; the far point
	// stays on its own.
	points := []Point{
		{X: 0.01, Y: 0.01},
		{X: 0.03, Y: 0.01},
		{X: 0.01, Y: 0.03},
		{X: 0.03, Y: 0.03},
		{X: 1.02, Y: 1.02},
	}
	pm := NewPointMap(points, 0.05)

	if pm.Len() != 2 {
		t.Fatalf("Len = %d, want 2", pm.Len())
	}
	got := pm.Points()
	if !almostEqual(got[0].X, 0.02, 1e-12) || !almostEqual(got[0].Y, 0.02, 1e-12) {
		t.Errorf("centroid = (%g, %g), want (0.02, 0.02)", got[0].X, got[0].Y)
	}
	if !almostEqual(got[1].X, 1.02, 1e-12) || !almostEqual(got[1].Y, 1.02, 1e-12) {
		t.Errorf("lone point = (%g, %g), want (1.02, 1.02)", got[1].X, got[1].Y)
	}
}

func TestNewPointMap_OrderFollowsFirstAppearance(t *testing.T) {
	points := []Point{
		{X: 2.5, Y: 0},
		{X: 0.5, Y: 0},
		{X: 2.5, Y: 0.1}, // same voxel as the first point
		{X: 1.5, Y: 0},
	}
	pm := NewPointMap(points, 1)

	got := pm.Points()
	if len(got) != 3 {
		t.Fatalf("Len = %d, want 3", len(got))
	}
	if got[0].X < 2 || got[1].X > 1 || got[2].X < 1 || got[2].X > 2 {
		t.Errorf("points out of first-appearance order: %+v", got)
	}
}

func TestNewPointMap_NonPositiveVoxelPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("NewPointMap with zero leaf should panic")
		}
	}()
	NewPointMap(nil, 0)
}

func TestPointMap_Nearest(t *testing.T) {
	pm := NewPointMap([]Point{
		{X: 0, Y: 0},
		{X: 1, Y: 0},
		{X: 0, Y: 2},
	}, 0.1)

	t.Run("finds the closest point", func(t *testing.T) {
		got, dist, ok := pm.Nearest(Point{X: 0.9, Y: 0.1}, 0.5)
		if !ok {
			t.Fatal("expected a neighbor within 0.5")
		}
		if got != (Point{X: 1, Y: 0}) {
			t.Errorf("nearest = %+v, want (1, 0)", got)
		}
		if !almostEqual(dist, Distance(Point{X: 0.9, Y: 0.1}, got), 1e-12) {
			t.Errorf("dist = %g, inconsistent with the returned point", dist)
		}
	})

	t.Run("crosses voxel boundaries", func(t *testing.T) {
		// Query far from the stored point's voxel but within maxDist.
		got, _, ok := pm.Nearest(Point{X: 0.35, Y: 0}, 0.5)
		if !ok {
			t.Fatal("expected a neighbor within 0.5")
		}
		if got != (Point{X: 0, Y: 0}) {
			t.Errorf("nearest = %+v, want (0, 0)", got)
		}
	})

	t.Run("nothing within maxDist", func(t *testing.T) {
		if _, _, ok := pm.Nearest(Point{X: 10, Y: 10}, 0.5); ok {
			t.Error("expected no neighbor within 0.5")
		}
	})

	t.Run("non-positive maxDist", func(t *testing.T) {
		if _, _, ok := pm.Nearest(Point{}, 0); ok {
			t.Error("expected no neighbor for maxDist 0")
		}
	})

	t.Run("empty map", func(t *testing.T) {
		empty := NewPointMap(nil, 0.1)
		if _, _, ok := empty.Nearest(Point{}, 100); ok {
			t.Error("expected no neighbor in an empty map")
		}
	})

	t.Run("exact hit at maxDist boundary", func(t *testing.T) {
		got, dist, ok := pm.Nearest(Point{X: 0.5, Y: 0}, 0.5)
		if !ok {
			t.Fatal("a point exactly at maxDist should be found")
		}
		if dist != 0.5 {
			t.Errorf("dist = %g, want 0.5", dist)
		}
		_ = got
	})
}
