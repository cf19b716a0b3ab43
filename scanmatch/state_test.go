package scanmatch

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

// ---------------------------------------------------------------------------
// NewStateTracker
// ---------------------------------------------------------------------------

func TestNewStateTracker(t *testing.T) {
	st := NewStateTracker()
	if st == nil {
		t.Fatal("NewStateTracker returned nil")
	}
	if len(st.Robots()) != 0 {
		t.Error("new tracker should know zero robots")
	}
	if st.HasPoses() {
		t.Error("new tracker HasPoses should be false")
	}
	if _, ok := st.LatestScan("r1"); ok {
		t.Error("new tracker should have no scans")
	}
	if _, ok := st.LatestPose("r1"); ok {
		t.Error("new tracker should have no poses")
	}
}

// ---------------------------------------------------------------------------
// RecordScan / LatestScan
// ---------------------------------------------------------------------------

func TestStateTracker_RecordScan(t *testing.T) {
	st := NewStateTracker()

	first := &ScanFrame{Robot: "r1", Stamp: 100}
	st.RecordScan("r1", first)

	got, ok := st.LatestScan("r1")
	if !ok {
		t.Fatal("r1 scan not found")
	}
	if got.Stamp != 100 {
		t.Errorf("Stamp = %d, want 100", got.Stamp)
	}

	// A newer frame replaces the old one.
	st.RecordScan("r1", &ScanFrame{Robot: "r1", Stamp: 200})
	if got, _ := st.LatestScan("r1"); got.Stamp != 200 {
		t.Errorf("Stamp after update = %d, want 200", got.Stamp)
	}

	if _, ok := st.LatestScan("r2"); ok {
		t.Error("r2 should have no scan")
	}
}

// ---------------------------------------------------------------------------
// RecordPose / LatestPose
// ---------------------------------------------------------------------------

func TestStateTracker_RecordPose(t *testing.T) {
	st := NewStateTracker()

	st.RecordPose("r1", Pose{X: 1, Y: 2, Theta: 0.5}, 0.83, 1000)

	tp, ok := st.LatestPose("r1")
	if !ok {
		t.Fatal("r1 pose not found")
	}
	if tp.Pose != (Pose{X: 1, Y: 2, Theta: 0.5}) {
		t.Errorf("Pose = %+v, want {1 2 0.5}", tp.Pose)
	}
	if tp.Score != 0.83 || tp.Stamp != 1000 {
		t.Errorf("Score/Stamp = (%g, %d), want (0.83, 1000)", tp.Score, tp.Stamp)
	}

	// The score history and trajectory grow in step.
	st.RecordPose("r1", Pose{X: 1.1}, 0.9, 2000)
	if scores := st.Scores("r1"); len(scores) != 2 || scores[0] != 0.83 || scores[1] != 0.9 {
		t.Errorf("Scores = %v, want [0.83 0.9] oldest first", scores)
	}
	if traj := st.Trajectory("r1"); len(traj) != 2 || traj[1].Stamp != 2000 {
		t.Errorf("Trajectory = %v, want 2 entries ending at stamp 2000", traj)
	}

	// Robots do not share state.
	st.RecordPose("r2", Pose{X: -5}, 0.4, 1500)
	if tp, _ := st.LatestPose("r1"); tp.Pose.X != 1.1 {
		t.Errorf("r1 pose leaked: %+v", tp)
	}
	if len(st.Scores("r2")) != 1 {
		t.Errorf("r2 Scores = %v, want one entry", st.Scores("r2"))
	}
}

func TestStateTracker_ScoreHistoryBounded(t *testing.T) {
	st := NewStateTracker()
	const total = 300

	for i := 0; i < total; i++ {
		st.RecordPose("r1", Pose{}, float64(i), int64(i))
	}

	scores := st.Scores("r1")
	if len(scores) != maxScoreHistory {
		t.Fatalf("len(Scores) = %d, want %d", len(scores), maxScoreHistory)
	}
	// The oldest surviving entry is the one recorded total-maxScoreHistory
	// appends ago.
	if scores[0] != float64(total-maxScoreHistory) {
		t.Errorf("Scores[0] = %g, want %g", scores[0], float64(total-maxScoreHistory))
	}
	if scores[len(scores)-1] != total-1 {
		t.Errorf("Scores[last] = %g, want %d", scores[len(scores)-1], total-1)
	}
}

func TestStateTracker_TrajectoryBounded(t *testing.T) {
	st := NewStateTracker()
	const total = maxTrajectoryLen + 10

	for i := 0; i < total; i++ {
		st.RecordPose("r1", Pose{X: float64(i)}, 0.5, int64(i))
	}

	traj := st.Trajectory("r1")
	if len(traj) != maxTrajectoryLen {
		t.Fatalf("len(Trajectory) = %d, want %d", len(traj), maxTrajectoryLen)
	}
	if traj[0].Stamp != 10 {
		t.Errorf("Trajectory[0].Stamp = %d, want 10", traj[0].Stamp)
	}
	if traj[len(traj)-1].Stamp != total-1 {
		t.Errorf("Trajectory[last].Stamp = %d, want %d", traj[len(traj)-1].Stamp, total-1)
	}
}

// ---------------------------------------------------------------------------
// Snapshots are copies, not references
// ---------------------------------------------------------------------------

func TestStateTracker_Poses(t *testing.T) {
	st := NewStateTracker()
	st.RecordPose("r1", Pose{X: 5}, 0.7, 100)

	snapshot := st.Poses()
	snapshot["r1"] = TimedPose{Pose: Pose{X: 999}}
	snapshot["injected"] = TimedPose{}

	fresh := st.Poses()
	if fresh["r1"].Pose.X != 5 {
		t.Errorf("original X mutated to %g; Poses must return a copy", fresh["r1"].Pose.X)
	}
	if _, ok := fresh["injected"]; ok {
		t.Error("injected key visible in fresh snapshot; map must be a copy")
	}
}

func TestStateTracker_ScoresCopy(t *testing.T) {
	st := NewStateTracker()
	st.RecordPose("r1", Pose{}, 0.6, 1)

	scores := st.Scores("r1")
	scores[0] = 999

	if fresh := st.Scores("r1"); fresh[0] != 0.6 {
		t.Errorf("Scores[0] mutated to %g; Scores must return a copy", fresh[0])
	}
}

func TestStateTracker_TrajectoryCopy(t *testing.T) {
	st := NewStateTracker()
	st.RecordPose("r1", Pose{X: 1}, 0.6, 1)

	traj := st.Trajectory("r1")
	traj[0].Pose.X = 999

	if fresh := st.Trajectory("r1"); fresh[0].Pose.X != 1 {
		t.Errorf("Trajectory[0].X mutated to %g; Trajectory must return a copy", fresh[0].Pose.X)
	}
}

// ---------------------------------------------------------------------------
// Robots / HasPoses
// ---------------------------------------------------------------------------

func TestStateTracker_Robots(t *testing.T) {
	st := NewStateTracker()
	st.RecordScan("b", &ScanFrame{})
	st.RecordPose("a", Pose{}, 0.5, 1)
	st.RecordScan("c", &ScanFrame{})
	st.RecordPose("c", Pose{}, 0.5, 2)

	got := st.Robots()
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("Robots() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Robots() = %v, want %v sorted", got, want)
		}
	}
}

func TestStateTracker_HasPoses(t *testing.T) {
	st := NewStateTracker()
	st.RecordScan("r1", &ScanFrame{})
	if st.HasPoses() {
		t.Error("HasPoses should be false with only scans recorded")
	}
	st.RecordPose("r1", Pose{}, 0.5, 1)
	if !st.HasPoses() {
		t.Error("HasPoses should be true after RecordPose")
	}
}

// ---------------------------------------------------------------------------
// Save / LoadTrajectories
// ---------------------------------------------------------------------------

func TestStateTracker_TrajectoryRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trajectories.json")

	st := NewStateTracker()
	st.RecordPose("r1", Pose{X: 1, Y: 2, Theta: 0.3}, 0.8, 100)
	st.RecordPose("r1", Pose{X: 1.5, Y: 2.4, Theta: 0.25}, 0.85, 200)
	st.RecordPose("r2", Pose{X: -3}, 0.6, 150)

	if err := st.SaveTrajectories(path); err != nil {
		t.Fatalf("SaveTrajectories: %v", err)
	}

	restored := NewStateTracker()
	if err := restored.LoadTrajectories(path); err != nil {
		t.Fatalf("LoadTrajectories: %v", err)
	}

	traj := restored.Trajectory("r1")
	if len(traj) != 2 {
		t.Fatalf("len(Trajectory) = %d, want 2", len(traj))
	}
	if traj[1].Pose != (Pose{X: 1.5, Y: 2.4, Theta: 0.25}) {
		t.Errorf("Trajectory[1].Pose = %+v, want the saved pose", traj[1].Pose)
	}

	// The tail of each trajectory seeds the next match after a restart.
	tp, ok := restored.LatestPose("r1")
	if !ok {
		t.Fatal("r1 pose not restored")
	}
	if tp.Stamp != 200 {
		t.Errorf("restored Stamp = %d, want 200", tp.Stamp)
	}
	if tp2, _ := restored.LatestPose("r2"); tp2.Pose.X != -3 {
		t.Errorf("restored r2 pose = %+v, want X -3", tp2.Pose)
	}
	if !restored.HasPoses() {
		t.Error("HasPoses should be true after restore")
	}
}

func TestStateTracker_LoadSkipsEmptyTrajectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trajectories.json")
	if err := os.WriteFile(path, []byte(`{"r1": [], "r2": [{"pose": {"x": 4}, "score": 0.5, "stamp": 9}]}`), 0644); err != nil {
		t.Fatal(err)
	}

	st := NewStateTracker()
	if err := st.LoadTrajectories(path); err != nil {
		t.Fatalf("LoadTrajectories: %v", err)
	}
	if _, ok := st.LatestPose("r1"); ok {
		t.Error("an empty trajectory must not seed a pose")
	}
	if tp, ok := st.LatestPose("r2"); !ok || tp.Pose.X != 4 {
		t.Errorf("r2 pose = %+v, want X 4", tp)
	}
}

func TestStateTracker_LoadErrors(t *testing.T) {
	st := NewStateTracker()

	if err := st.LoadTrajectories(filepath.Join(t.TempDir(), "gone.json")); err == nil {
		t.Error("expected an error for a missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := st.LoadTrajectories(path); err == nil {
		t.Error("expected an error for malformed JSON")
	}
}

// ---------------------------------------------------------------------------
// Concurrency: hammer all methods under -race
// ---------------------------------------------------------------------------

func TestStateTracker_Concurrency(t *testing.T) {
	st := NewStateTracker()

	const (
		goroutines = 50
		iterations = 200
	)

	var wg sync.WaitGroup
	wg.Add(goroutines * 3) // writers: RecordScan, RecordPose; readers: everything else

	// Writers: RecordScan
	for g := 0; g < goroutines; g++ {
		g := g
		go func() {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				id := fmt.Sprintf("r%d", g)
				st.RecordScan(id, &ScanFrame{Robot: id, Stamp: int64(i)})
			}
		}()
	}

	// Writers: RecordPose
	for g := 0; g < goroutines; g++ {
		g := g
		go func() {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				id := fmt.Sprintf("r%d", g)
				st.RecordPose(id, Pose{X: float64(i), Y: float64(g)}, 0.5, int64(i))
			}
		}()
	}

	// Readers: snapshots interleaved with the writes
	for g := 0; g < goroutines; g++ {
		g := g
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("r%d", g)
			for i := 0; i < iterations; i++ {
				_, _ = st.LatestScan(id)
				_, _ = st.LatestPose(id)
				_ = st.Poses()
				_ = st.Scores(id)
				_ = st.Trajectory(id)
				_ = st.Robots()
				_ = st.HasPoses()
			}
		}()
	}

	wg.Wait()

	// After all goroutines complete, sanity-check we have data
	if len(st.Robots()) != goroutines {
		t.Errorf("Robots() len = %d, want %d", len(st.Robots()), goroutines)
	}
	if !st.HasPoses() {
		t.Error("expected poses after concurrent writes")
	}
	if scores := st.Scores("r0"); len(scores) != iterations {
		t.Errorf("r0 Scores len = %d, want %d", len(scores), iterations)
	}
}
