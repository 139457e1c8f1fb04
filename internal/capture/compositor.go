package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/previewd/previewd/internal/capture/pipewire"
	"github.com/previewd/previewd/internal/logger"
	"github.com/previewd/previewd/internal/monitor"
)

// CompositorCapturer captures a monitor through a compositor screen-cast
// session. Frames are pushed by the compositor as they are composed, so
// there is no polling; a static screen produces no work.
type CompositorCapturer struct {
	probes Probes
	pool   *framePool

	mu       sync.Mutex
	handler  FrameHandler
	running  bool
	closed   bool
	portal   *pipewire.Portal
	pipeline *pipewire.Pipeline
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewCompositorCapturer prepares a compositor capturer. Construction is
// cheap; the portal session is only opened on Start.
func NewCompositorCapturer(probes Probes) *CompositorCapturer {
	return &CompositorCapturer{
		probes: probes,
		pool:   &framePool{},
	}
}

// Name returns the backend name.
func (c *CompositorCapturer) Name() string {
	return "compositor"
}

// IsSupported reports whether the environment can host a compositor
// session: local interactive desktop, compositing on, runtime present.
func (c *CompositorCapturer) IsSupported() bool {
	if c.probes == nil {
		return false
	}
	return !c.probes.RemoteSession() &&
		c.probes.CompositingEnabled() &&
		c.probes.RuntimePresent()
}

// SetFrameHandler installs the frame consumer.
func (c *CompositorCapturer) SetFrameHandler(h FrameHandler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

// Start opens the portal session and pipeline for the given monitor.
// Failures carry an UnavailableError distinguishing structural absence
// of the capture runtime from transient session errors.
func (c *CompositorCapturer) Start(ctx context.Context, mon monitor.Descriptor) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("compositor capturer is closed")
	}
	if c.running {
		return ErrAlreadyStarted
	}
	if mon.Bounds.Empty() {
		return fmt.Errorf("%w: %s has no geometry", ErrMonitorNotFound, mon.StableKey())
	}
	if !c.IsSupported() {
		return &UnavailableError{
			Backend:   c.Name(),
			Permanent: false,
			Err:       fmt.Errorf("environment does not support compositor capture"),
		}
	}

	portal, err := pipewire.NewPortal(ctx)
	if err != nil {
		return c.unavailable(err)
	}
	if err := portal.StartScreenShare(ctx); err != nil {
		portal.Close()
		return c.unavailable(err)
	}

	key := mon.StableKey()
	pipeline, err := pipewire.NewPipeline(
		portal.NodeID(), mon.Bounds.Dx(), mon.Bounds.Dy(),
		func(pix []byte, w, h int, capturedAt time.Time) {
			c.deliver(pix, w, h, key, capturedAt)
		},
	)
	if err != nil {
		portal.Close()
		return c.unavailable(err)
	}
	if err := pipeline.Start(); err != nil {
		portal.Close()
		return c.unavailable(err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.portal = portal
	c.pipeline = pipeline
	c.cancel = cancel
	c.done = done
	c.running = true

	go c.watch(loopCtx, pipeline, done)

	logger.WithComponent("compositor-capturer").Info().
		Str("monitor", key).
		Uint32("node_id", portal.NodeID()).
		Msg("Compositor capture started")
	return nil
}

// watch waits for cancellation or for the pipeline to die on its own.
func (c *CompositorCapturer) watch(ctx context.Context, pipeline *pipewire.Pipeline, done chan struct{}) {
	defer close(done)
	select {
	case <-ctx.Done():
	case <-pipeline.Done():
		if err := pipeline.Err(); err != nil {
			logger.WithComponent("compositor-capturer").Warn().
				Err(err).
				Msg("Compositor session ended unexpectedly")
		}
	}
}

// deliver copies the compositor's reused buffer into a pooled frame and
// hands it to the handler. Runs on the pipeline reader goroutine, so
// frames arrive in capture order, one at a time.
func (c *CompositorCapturer) deliver(pix []byte, w, h int, key string, capturedAt time.Time) {
	c.mu.Lock()
	h2 := c.handler
	running := c.running
	c.mu.Unlock()

	if !running {
		// Superseded session still draining its reader: drop.
		return
	}

	img := c.pool.Get(w, h)
	copy(img.Pix, pix)
	frame := NewFrame(img, capturedAt, key, c.pool.Put)

	if h2 == nil {
		frame.Release()
		return
	}
	h2(frame)
}

// Stop tears the session down and waits for the watcher and reader to
// finish. Idempotent.
func (c *CompositorCapturer) Stop() error {
	c.mu.Lock()
	cancel := c.cancel
	pipeline := c.pipeline
	portal := c.portal
	done := c.done
	c.running = false
	c.cancel = nil
	c.pipeline = nil
	c.portal = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if pipeline != nil {
		pipeline.Stop()
	}
	if done != nil {
		<-done
	}
	if portal != nil {
		portal.Close()
	}
	return nil
}

// Close stops the session; the capturer cannot be started again.
func (c *CompositorCapturer) Close() error {
	if err := c.Stop(); err != nil {
		return err
	}
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

// unavailable classifies a start failure. A missing portal or pipeline
// runtime is structural and therefore permanent; denials, timeouts and
// everything else are worth retrying after a cooldown.
func (c *CompositorCapturer) unavailable(err error) error {
	permanent := errors.Is(err, pipewire.ErrPortalMissing) ||
		errors.Is(err, pipewire.ErrRuntimeMissing)
	return &UnavailableError{
		Backend:   c.Name(),
		Permanent: permanent,
		Err:       err,
	}
}
