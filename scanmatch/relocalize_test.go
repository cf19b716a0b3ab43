package scanmatch

import (
	"errors"
	"math"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// NewRelocalizer
// ---------------------------------------------------------------------------

func TestNewRelocalizer_Defaults(t *testing.T) {
	g, _ := ringGrid()
	r := NewRelocalizer(DefaultMatcherOptions(), g, RelocalizeConfig{})

	if r.threshold != 0.4 {
		t.Errorf("threshold = %g, want 0.4", r.threshold)
	}
	if r.growth != 2.0 {
		t.Errorf("growth = %g, want 2.0", r.growth)
	}
	if r.maxAttempts != 3 {
		t.Errorf("maxAttempts = %d, want 3", r.maxAttempts)
	}
	if r.debounce != 30*time.Second {
		t.Errorf("debounce = %v, want 30s", r.debounce)
	}
	if r.now == nil || r.lastAttempt == nil {
		t.Error("clock and debounce map must be initialized")
	}
}

// ---------------------------------------------------------------------------
// Match
// ---------------------------------------------------------------------------

func TestRelocalizer_GoodScoreSkipsRetry(t *testing.T) {
	g, cloud := ringGrid()
	r := NewRelocalizer(DefaultMatcherOptions(), g, RelocalizeConfig{})

	initial := Pose{}
	var pose Pose
	score, err := r.Match("r1", initial, cloud, &pose)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if score < r.threshold {
		t.Fatalf("score = %g, want at least the threshold %g", score, r.threshold)
	}
	if pose != initial {
		t.Errorf("pose = %+v, want the initial pose kept", pose)
	}
	if len(r.lastAttempt) != 0 {
		t.Error("a good score must not consume the debounce slot")
	}
}

func TestRelocalizer_WidensUntilFound(t *testing.T) {
	g, cloud := ringGrid()
	// 0.52 m off is far outside the 0.1 m nominal window; the third doubling
	// reaches 0.8 m and finds the ring again.
	r := NewRelocalizer(DefaultMatcherOptions(), g, RelocalizeConfig{
		ScoreThreshold: floatPtr(0.6),
	})

	initial := Pose{X: 0.52}
	var pose Pose
	score, err := r.Match("r1", initial, cloud, &pose)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if score < 0.6 {
		t.Fatalf("score = %g, want at least 0.6 after widening", score)
	}
	if off := math.Hypot(pose.X, pose.Y); off > 0.05 {
		t.Errorf("corrected pose %+v is %g m off, want under half a cell", pose, off)
	}
	if math.Abs(pose.Theta) > 1e-9 {
		t.Errorf("Theta = %g, want 0", pose.Theta)
	}
	if _, ok := r.lastAttempt["r1"]; !ok {
		t.Error("the widened search must consume the debounce slot")
	}
}

func TestRelocalizer_KeepsBestWhenNeverAboveThreshold(t *testing.T) {
	g, cloud := ringGrid()
	// An unreachable threshold forces all attempts and exercises the
	// keep-the-best-seen path.
	r := NewRelocalizer(DefaultMatcherOptions(), g, RelocalizeConfig{
		ScoreThreshold: floatPtr(0.95),
	})

	var pose Pose
	score, err := r.Match("r1", Pose{X: 0.52}, cloud, &pose)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if score >= 0.95 {
		t.Fatalf("score = %g, the threshold should be out of reach", score)
	}
	if score < 0.85 {
		t.Errorf("score = %g, want the best widened result kept", score)
	}
	if off := math.Hypot(pose.X, pose.Y); off > 0.05 {
		t.Errorf("corrected pose %+v is %g m off, want under half a cell", pose, off)
	}
}

func TestRelocalizer_DebouncePerRobot(t *testing.T) {
	g, cloud := ringGrid()
	r := NewRelocalizer(DefaultMatcherOptions(), g, RelocalizeConfig{
		ScoreThreshold:  floatPtr(0.95), // never reached, always wants to widen
		DebounceSeconds: intPtr(30),
	})
	current := time.Unix(1000, 0)
	r.now = func() time.Time { return current }

	initial := Pose{X: 0.52}

	// First trigger widens and recovers the ring.
	var pose Pose
	if _, err := r.Match("r1", initial, cloud, &pose); err != nil {
		t.Fatalf("Match: %v", err)
	}
	if math.Abs(pose.X) > 0.05 {
		t.Fatalf("first match pose.X = %g, want near 0 after widening", pose.X)
	}

	// Same robot inside the debounce window only gets the nominal search,
	// which cannot walk further than its own window.
	pose = Pose{}
	if _, err := r.Match("r1", initial, cloud, &pose); err != nil {
		t.Fatalf("Match: %v", err)
	}
	if pose.X < 0.4 {
		t.Errorf("debounced match pose.X = %g, want it stuck near the initial 0.52", pose.X)
	}

	// Another robot has its own slot.
	pose = Pose{}
	if _, err := r.Match("r2", initial, cloud, &pose); err != nil {
		t.Fatalf("Match: %v", err)
	}
	if math.Abs(pose.X) > 0.05 {
		t.Errorf("r2 pose.X = %g, want near 0; the debounce is per robot", pose.X)
	}

	// After the window passes the first robot may widen again.
	current = current.Add(31 * time.Second)
	pose = Pose{}
	if _, err := r.Match("r1", initial, cloud, &pose); err != nil {
		t.Fatalf("Match: %v", err)
	}
	if math.Abs(pose.X) > 0.05 {
		t.Errorf("post-debounce pose.X = %g, want near 0 again", pose.X)
	}
}

func TestRelocalizer_ErrorPropagation(t *testing.T) {
	g, cloud := ringGrid()

	bad := DefaultMatcherOptions()
	bad.LinearSearchWindow = -1
	r := NewRelocalizer(bad, g, RelocalizeConfig{})
	var pose Pose
	if _, err := r.Match("r1", Pose{}, cloud, &pose); !errors.Is(err, ErrInvalidWindow) {
		t.Errorf("err = %v, want ErrInvalidWindow", err)
	}

	r = NewRelocalizer(DefaultMatcherOptions(), g, RelocalizeConfig{})
	if _, err := r.Match("r1", Pose{}, cloud, nil); !errors.Is(err, ErrInvalidOutput) {
		t.Errorf("err = %v, want ErrInvalidOutput", err)
	}
}
