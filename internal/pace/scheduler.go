// Package pace provides frame-rate scheduling for capture loops.
//
// A Scheduler gates how often a frame may be produced; the adaptive
// variant additionally lowers the effective rate when the measured
// per-frame processing cost exceeds the frame budget.
package pace

import (
	"sync"
	"time"
)

// Token identifies one begun frame. It must be passed back to EndFrame.
type Token struct {
	start time.Time
}

// Start returns the timestamp at which the frame slot was granted.
func (t Token) Start() time.Time {
	return t.start
}

// Metrics is a consistent point-in-time snapshot of scheduler throughput.
type Metrics struct {
	// FPS is the completed-frame rate over the window since the last reset.
	FPS float64 `json:"fps"`
	// WindowFrames is the number of frames completed in that window.
	WindowFrames int `json:"window_frames"`
	// LastFrame is the processing duration of the most recent frame.
	LastFrame time.Duration `json:"last_frame"`
	// AvgFrame is the cumulative average processing duration.
	AvgFrame time.Duration `json:"avg_frame"`
	// TargetFPS is the effective target rate at snapshot time.
	TargetFPS float64 `json:"target_fps"`
}

// Scheduler paces a frame-producing loop at a fixed target rate.
//
// TryBeginFrame never blocks and never grants more than one slot per
// interval: a caller that falls behind does not accumulate a catch-up
// burst beyond the single missed interval.
type Scheduler struct {
	mu       sync.Mutex
	now      func() time.Time
	interval time.Duration
	fps      float64
	deadline time.Time

	windowStart  time.Time
	windowFrames int
	lastFrame    time.Duration
	totalFrames  uint64
	totalBusy    time.Duration
}

// NewScheduler returns a scheduler targeting the given frames per second.
// Non-positive rates are clamped to 1 FPS.
func NewScheduler(targetFPS float64) *Scheduler {
	s := &Scheduler{now: time.Now}
	s.setRate(targetFPS)
	return s
}

func (s *Scheduler) setRate(fps float64) {
	if fps <= 0 {
		fps = 1
	}
	s.fps = fps
	s.interval = time.Duration(float64(time.Second) / fps)
}

// TargetFPS returns the current target rate.
func (s *Scheduler) TargetFPS() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fps
}

// Interval returns the current frame interval.
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// TryBeginFrame reports whether the next frame slot is due. When it is,
// the deadline advances by one interval and the returned token must be
// handed to EndFrame once processing completes.
func (s *Scheduler) TryBeginFrame() (Token, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.windowStart.IsZero() {
		s.windowStart = now
	}

	if s.deadline.IsZero() {
		s.deadline = now.Add(s.interval)
		return Token{start: now}, true
	}
	if now.Before(s.deadline) {
		return Token{}, false
	}

	s.deadline = s.deadline.Add(s.interval)
	if !s.deadline.After(now) {
		// More than one interval behind: skip the missed slots instead
		// of granting them all at once.
		s.deadline = now.Add(s.interval)
	}
	return Token{start: now}, true
}

// Until returns the time remaining before the next frame slot is due.
// Zero means a slot is already due.
func (s *Scheduler) Until() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.deadline.IsZero() {
		return 0
	}
	d := s.deadline.Sub(s.now())
	if d < 0 {
		return 0
	}
	return d
}

// EndFrame records the processing duration of a frame begun with
// TryBeginFrame.
func (s *Scheduler) EndFrame(tok Token) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(tok.start, s.now().Sub(tok.start))
}

// record must be called with s.mu held. The first recorded frame
// anchors the measurement window when TryBeginFrame has not run yet.
func (s *Scheduler) record(start time.Time, cost time.Duration) {
	if s.windowStart.IsZero() {
		s.windowStart = start
	}
	if cost < 0 {
		cost = 0
	}
	s.lastFrame = cost
	s.windowFrames++
	s.totalFrames++
	s.totalBusy += cost
}

// MetricsAndReset returns a consistent throughput snapshot and resets the
// FPS measurement window. Cumulative counters are not reset.
func (s *Scheduler) MetricsAndReset() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	m := Metrics{
		WindowFrames: s.windowFrames,
		LastFrame:    s.lastFrame,
		TargetFPS:    s.fps,
	}
	if elapsed := now.Sub(s.windowStart); elapsed > 0 && s.windowFrames > 0 {
		m.FPS = float64(s.windowFrames) / elapsed.Seconds()
	}
	if s.totalFrames > 0 {
		m.AvgFrame = s.totalBusy / time.Duration(s.totalFrames)
	}

	s.windowStart = now
	s.windowFrames = 0
	return m
}
