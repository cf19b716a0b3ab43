package scanmatch

import (
	"log"
	"sync"
	"time"
)

// Relocalizer is the retry policy around the correlative matcher. The
// matcher itself is a pure function and never retries; deciding to search
// again with wider windows after a poor score belongs to the caller, and
// this type is that caller-side policy.
//
// When a match scores below the threshold, the search is re-run with both
// windows multiplied by the growth factor, up to the attempt limit, keeping
// the best result seen. A per-robot debounce keeps a robot that is simply
// lost in featureless space from burning CPU on every scan.
type Relocalizer struct {
	base        MatcherOptions
	grid        Grid
	threshold   float64
	growth      float64
	maxAttempts int
	debounce    time.Duration

	now func() time.Time

	mu          sync.Mutex
	lastAttempt map[string]time.Time
}

// NewRelocalizer builds the policy from the base matcher options and the
// relocalization section of the config.
func NewRelocalizer(base MatcherOptions, grid Grid, cfg RelocalizeConfig) *Relocalizer {
	return &Relocalizer{
		base:        base,
		grid:        grid,
		threshold:   cfg.GetScoreThreshold(),
		growth:      cfg.GetWindowGrowth(),
		maxAttempts: cfg.GetMaxAttempts(),
		debounce:    time.Duration(cfg.GetDebounceSeconds()) * time.Second,
		now:         time.Now,
		lastAttempt: make(map[string]time.Time),
	}
}

// Match runs the nominal search and, when the score disappoints and the
// robot's debounce window has passed, widens the search. The robot ID only
// keys the debounce bookkeeping.
func (r *Relocalizer) Match(robot string, initial Pose, scan PointCloud, pose *Pose) (float64, error) {
	score, err := NewMatcher(r.base).Match(initial, scan, r.grid, pose)
	if err != nil {
		return 0, err
	}
	if score >= r.threshold || !r.tryAcquire(robot) {
		return score, nil
	}

	log.Printf("relocalizing %s: score %.3f below %.3f", robot, score, r.threshold)
	bestScore := score
	bestPose := *pose
	opts := r.base
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		opts.LinearSearchWindow *= r.growth
		opts.AngularSearchWindow *= r.growth

		var widened Pose
		s, err := NewMatcher(opts).Match(initial, scan, r.grid, &widened)
		if err != nil {
			return 0, err
		}
		if s > bestScore {
			bestScore = s
			bestPose = widened
		}
		if s >= r.threshold {
			log.Printf("relocalized %s on attempt %d: score %.3f", robot, attempt, s)
			break
		}
	}

	*pose = bestPose
	return bestScore, nil
}

// tryAcquire consumes the robot's debounce slot when it is free.
func (r *Relocalizer) tryAcquire(robot string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	if last, ok := r.lastAttempt[robot]; ok && now.Sub(last) < r.debounce {
		return false
	}
	r.lastAttempt[robot] = now
	return true
}
