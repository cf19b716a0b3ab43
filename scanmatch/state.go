package scanmatch

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
)

// Score history and trajectories are bounded per robot; older entries are
// dropped first. Trajectories survive restarts via Save/LoadTrajectories.
const (
	maxScoreHistory  = 256
	maxTrajectoryLen = 50000
)

// StateTracker holds the live service state: the latest scan, the latest
// corrected pose, recent scores and the trajectory for every robot. All
// methods are safe for concurrent use.
type StateTracker struct {
	mu           sync.RWMutex
	scans        map[string]*ScanFrame
	poses        map[string]TimedPose
	scores       map[string][]float64
	trajectories map[string][]TimedPose
}

// NewStateTracker creates an empty tracker.
func NewStateTracker() *StateTracker {
	return &StateTracker{
		scans:        make(map[string]*ScanFrame),
		poses:        make(map[string]TimedPose),
		scores:       make(map[string][]float64),
		trajectories: make(map[string][]TimedPose),
	}
}

// RecordScan stores the latest scan frame for a robot.
func (st *StateTracker) RecordScan(robot string, frame *ScanFrame) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.scans[robot] = frame
}

// LatestScan returns the most recent scan frame for a robot.
func (st *StateTracker) LatestScan(robot string) (*ScanFrame, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	frame, ok := st.scans[robot]
	return frame, ok
}

// RecordPose stores a corrected pose, extends the robot's trajectory and
// score history, and becomes the seed for the robot's next match.
func (st *StateTracker) RecordPose(robot string, pose Pose, score float64, stamp int64) {
	st.mu.Lock()
	defer st.mu.Unlock()

	tp := TimedPose{Pose: pose, Score: score, Stamp: stamp}
	st.poses[robot] = tp

	scores := append(st.scores[robot], score)
	if len(scores) > maxScoreHistory {
		scores = scores[len(scores)-maxScoreHistory:]
	}
	st.scores[robot] = scores

	traj := append(st.trajectories[robot], tp)
	if len(traj) > maxTrajectoryLen {
		traj = traj[len(traj)-maxTrajectoryLen:]
	}
	st.trajectories[robot] = traj
}

// LatestPose returns the most recent corrected pose for a robot.
func (st *StateTracker) LatestPose(robot string) (TimedPose, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	tp, ok := st.poses[robot]
	return tp, ok
}

// Poses returns a copy of every robot's latest corrected pose.
func (st *StateTracker) Poses() map[string]TimedPose {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make(map[string]TimedPose, len(st.poses))
	for robot, tp := range st.poses {
		out[robot] = tp
	}
	return out
}

// Scores returns a copy of the robot's recent match scores, oldest first.
func (st *StateTracker) Scores(robot string) []float64 {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return append([]float64(nil), st.scores[robot]...)
}

// Trajectory returns a copy of the robot's corrected-pose trajectory.
func (st *StateTracker) Trajectory(robot string) []TimedPose {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return append([]TimedPose(nil), st.trajectories[robot]...)
}

// Robots returns the IDs of all robots with any recorded state, sorted.
func (st *StateTracker) Robots() []string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	seen := make(map[string]bool)
	for robot := range st.scans {
		seen[robot] = true
	}
	for robot := range st.poses {
		seen[robot] = true
	}
	robots := make([]string, 0, len(seen))
	for robot := range seen {
		robots = append(robots, robot)
	}
	sort.Strings(robots)
	return robots
}

// HasPoses reports whether any robot has a corrected pose yet.
func (st *StateTracker) HasPoses() bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.poses) > 0
}

// SaveTrajectories writes all trajectories to a JSON file.
func (st *StateTracker) SaveTrajectories(path string) error {
	st.mu.RLock()
	data, err := json.MarshalIndent(st.trajectories, "", "  ")
	st.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshaling trajectories: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing trajectories: %w", err)
	}
	return nil
}

// LoadTrajectories restores trajectories saved by SaveTrajectories. Each
// robot's latest trajectory entry becomes its latest pose again, so match
// seeding carries across restarts.
func (st *StateTracker) LoadTrajectories(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading trajectories: %w", err)
	}
	var loaded map[string][]TimedPose
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("parsing trajectories: %w", err)
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	for robot, traj := range loaded {
		if len(traj) == 0 {
			continue
		}
		st.trajectories[robot] = traj
		st.poses[robot] = traj[len(traj)-1]
	}
	return nil
}
