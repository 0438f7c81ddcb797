package rloo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/inference-sim/rloo-trainer/rloo/collective"
)

// TimersPrefix is the logger prefix of the reduced step timers.
const TimersPrefix = "timers/"

// Step-level timers reduced across the group once per step.
const (
	timerRollout    = "rollout_time"
	timerTrain      = "train_time"
	timerValidation = "validation_time"
)

var syncedTimers = []string{timerRollout, timerTrain, timerValidation}

// stopwatch records named durations in seconds.
type stopwatch struct {
	started map[string]time.Time
	elapsed map[string]float64
	now     func() time.Time
}

func newStopwatch() *stopwatch {
	return &stopwatch{started: map[string]time.Time{}, elapsed: map[string]float64{}, now: time.Now}
}

func (s *stopwatch) start(name string) {
	s.started[name] = s.now()
}

// stop records the time since the matching start and returns it.
func (s *stopwatch) stop(name string) float64 {
	t0, ok := s.started[name]
	if !ok {
		return 0
	}
	delete(s.started, name)
	d := s.now().Sub(t0).Seconds()
	s.elapsed[name] = d
	return d
}

// reduce returns the slowest worker's value of every synced timer and clears
// them. Timers that did not run this step report 0 locally.
func (s *stopwatch) reduce(ctx context.Context, g collective.Group) (map[string]float64, error) {
	local := make([]float64, len(syncedTimers))
	for i, name := range syncedTimers {
		local[i] = s.elapsed[name]
		delete(s.elapsed, name)
	}
	global, err := g.AllReduce(ctx, collective.OpMax, local)
	if err != nil {
		return nil, fmt.Errorf("reduce timers: %w", err)
	}
	out := make(map[string]float64, len(syncedTimers))
	for i, name := range syncedTimers {
		out[name] = global[i]
	}
	return out, nil
}

// WallClockTimer is a RunTimer bounded by a wall-clock duration.
type WallClockTimer struct {
	mu    sync.Mutex
	limit time.Duration
	start time.Time
	now   func() time.Time
}

// NewWallClockTimer creates a timer that expires limit after Start.
// A non-positive limit never expires.
func NewWallClockTimer(limit time.Duration) *WallClockTimer {
	return &WallClockTimer{limit: limit, now: time.Now}
}

// Start (re)starts the timer.
func (w *WallClockTimer) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.start = w.now()
}

// Expired reports whether limit has elapsed since the last Start.
func (w *WallClockTimer) Expired() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.limit <= 0 || w.start.IsZero() {
		return false
	}
	return w.now().Sub(w.start) >= w.limit
}
