// Package session ties a capture backend to an encoded preview stream
// and tracks its delivery rate.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/previewd/previewd/internal/capture"
	"github.com/previewd/previewd/internal/logger"
	"github.com/previewd/previewd/internal/monitor"
	"github.com/previewd/previewd/internal/output"
)

// Status is the JSON view of a running session.
type Status struct {
	ID        string       `json:"id"`
	Monitor   string       `json:"monitor"`
	Backend   string       `json:"backend"`
	FPS       float64      `json:"fps"`
	CreatedAt time.Time    `json:"created_at"`
	Stream    output.Stats `json:"stream"`
}

// Session routes frames from one monitor's capturer into one MJPEG
// stream. Frames are released here, after encoding, whether or not
// any client is connected.
type Session struct {
	ID        string
	Monitor   monitor.Descriptor
	CreatedAt time.Time

	capturer capture.Capturer
	output   *output.MJPEGOutput
	cancel   context.CancelFunc

	meter rateMeter

	closeOnce sync.Once
}

func newSession(mon monitor.Descriptor, capturer capture.Capturer, out *output.MJPEGOutput) *Session {
	return &Session{
		ID:        uuid.New().String(),
		Monitor:   mon,
		CreatedAt: time.Now(),
		capturer:  capturer,
		output:    out,
	}
}

func (s *Session) start(ctx context.Context) error {
	if err := s.output.Start(); err != nil {
		return err
	}

	s.capturer.SetFrameHandler(func(f *capture.Frame) {
		defer f.Release()
		if img := f.Image(); img != nil {
			if err := s.output.WriteFrame(img); err != nil {
				logger.WithComponent("session").Debug().
					Str("session", s.ID).Err(err).Msg("Frame dropped")
				return
			}
			s.meter.tick(time.Now())
		}
	})

	captureCtx, cancel := context.WithCancel(ctx)
	if err := s.capturer.Start(captureCtx, s.Monitor); err != nil {
		cancel()
		s.output.Stop()
		return err
	}
	s.cancel = cancel

	logger.WithComponent("session").Info().
		Str("session", s.ID).
		Str("monitor", s.Monitor.StableKey()).
		Str("backend", s.capturer.Name()).
		Msg("Preview session started")
	return nil
}

// Stream returns the HTTP streamer for this session.
func (s *Session) Stream() *output.MJPEGOutput {
	return s.output
}

// Status reports the session's current state.
func (s *Session) Status() Status {
	return Status{
		ID:        s.ID,
		Monitor:   s.Monitor.StableKey(),
		Backend:   s.capturer.Name(),
		FPS:       s.meter.fps(time.Now()),
		CreatedAt: s.CreatedAt,
		Stream:    s.output.Stats(),
	}
}

// Close stops capture and stream delivery. Safe to call twice.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.capturer.Stop()
		s.capturer.Close()
		s.output.Stop()
		logger.WithComponent("session").Info().
			Str("session", s.ID).
			Msg("Preview session closed")
	})
}

// rateMeter counts frames over a sliding one-second window.
type rateMeter struct {
	mu          sync.Mutex
	windowStart time.Time
	count       int
	lastFPS     float64
}

func (m *rateMeter) tick(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if now.Sub(m.windowStart) >= time.Second {
		elapsed := now.Sub(m.windowStart).Seconds()
		if elapsed > 0 && !m.windowStart.IsZero() {
			m.lastFPS = float64(m.count) / elapsed
		}
		m.windowStart = now
		m.count = 0
	}
	m.count++
}

func (m *rateMeter) fps(now time.Time) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if now.Sub(m.windowStart) > 3*time.Second {
		// Stale window: frames stopped arriving.
		return 0
	}
	return m.lastFPS
}
