package capture

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"

	"github.com/previewd/previewd/internal/logger"
	"github.com/previewd/previewd/internal/monitor"
	"github.com/previewd/previewd/internal/pace"
)

// defaultX11FPS is the block-copy poll rate. The X11 path is the
// universal fallback, so the rate is conservative; the adaptive
// scheduler lowers it further when the consumer is slow.
const defaultX11FPS = 30.0

// grabFunc copies the pixels of one screen rectangle into a fresh
// buffer. Split out from the loop so tests can substitute a synthetic
// source.
type grabFunc func(bounds image.Rectangle) (*image.RGBA, error)

// frameScheduler is what the poll loop needs from a pacer.
type frameScheduler interface {
	TryBeginFrame() (pace.Token, bool)
	EndFrame(pace.Token)
	Until() time.Duration
}

// newPaceScheduler selects the pacing policy: fixed-rate, or adaptive
// degradation under load.
func newPaceScheduler(fps float64, adaptive bool) frameScheduler {
	if adaptive {
		return pace.NewAdaptiveScheduler(fps)
	}
	return pace.NewScheduler(fps)
}

// X11Capturer captures a monitor by polling the root window with
// GetImage block copies. It works wherever an X server is reachable and
// is the fallback behind compositor capture.
type X11Capturer struct {
	conn   *xgb.Conn
	root   xproto.Window
	screen *xproto.ScreenInfo

	targetFPS float64
	adaptive  bool
	pool      *framePool
	grab      grabFunc

	mu      sync.Mutex
	handler FrameHandler
	running bool
	closed  bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewX11Capturer connects to the X server and prepares a block-copy
// capturer. targetFPS <= 0 selects the default poll rate; adaptive
// enables load-based rate degradation.
func NewX11Capturer(targetFPS float64, adaptive bool) (*X11Capturer, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}

	setup := xproto.Setup(conn)
	screen := setup.DefaultScreen(conn)

	c := &X11Capturer{
		conn:      conn,
		root:      screen.Root,
		screen:    screen,
		targetFPS: targetFPS,
		adaptive:  adaptive,
		pool:      &framePool{},
	}
	c.grab = c.grabRegion
	return c, nil
}

// newX11WithGrab builds a capturer around a synthetic pixel source.
// Used by tests; no X connection is made.
func newX11WithGrab(grab grabFunc, targetFPS float64) *X11Capturer {
	return &X11Capturer{
		targetFPS: targetFPS,
		adaptive:  true,
		pool:      &framePool{},
		grab:      grab,
	}
}

// Name returns the backend name.
func (c *X11Capturer) Name() string {
	return "x11"
}

// IsSupported reports whether an X server connection exists.
func (c *X11Capturer) IsSupported() bool {
	return c.grab != nil
}

// SetFrameHandler installs the frame consumer.
func (c *X11Capturer) SetFrameHandler(h FrameHandler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

// Start begins the poll loop for the given monitor.
func (c *X11Capturer) Start(ctx context.Context, mon monitor.Descriptor) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("x11 capturer is closed")
	}
	if c.running {
		return ErrAlreadyStarted
	}
	if mon.Bounds.Empty() {
		return fmt.Errorf("%w: %s has no geometry", ErrMonitorNotFound, mon.StableKey())
	}

	fps := c.targetFPS
	if fps <= 0 {
		fps = defaultX11FPS
	}
	// Fresh scheduler per start: pacing state never carries across
	// session restarts.
	sched := newPaceScheduler(fps, c.adaptive)

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done
	c.running = true

	go c.loop(loopCtx, mon, sched, done)

	logger.WithComponent("x11-capturer").Info().
		Str("monitor", mon.StableKey()).
		Float64("fps", fps).
		Msg("X11 capture started")
	return nil
}

// loop is the sole producer of frames for this session. Single-tick
// failures are logged and swallowed; only cancellation ends the loop.
func (c *X11Capturer) loop(ctx context.Context, mon monitor.Descriptor, sched frameScheduler, done chan struct{}) {
	defer close(done)
	log := logger.WithComponent("x11-capturer")
	key := mon.StableKey()

	for {
		if ctx.Err() != nil {
			return
		}

		tok, ok := sched.TryBeginFrame()
		if !ok {
			wait := sched.Until()
			if wait <= 0 {
				wait = time.Millisecond
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}

		img, err := c.grab(mon.Bounds)
		if err != nil {
			log.Warn().
				Err(err).
				Str("monitor", key).
				Msg("Frame capture failed, continuing")
			sched.EndFrame(tok)
			continue
		}

		c.emit(NewFrame(img, time.Now(), key, c.pool.Put))
		sched.EndFrame(tok)
	}
}

// emit hands the frame to the handler, or releases it when no handler is
// installed so an unobserved frame is never leaked.
func (c *X11Capturer) emit(f *Frame) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()

	if h == nil {
		f.Release()
		return
	}
	h(f)
}

// Stop cancels the loop and waits for it to finish. Idempotent.
func (c *X11Capturer) Stop() error {
	c.mu.Lock()
	cancel := c.cancel
	done := c.done
	c.running = false
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	return nil
}

// Close stops the loop and releases the X connection. Safe to call more
// than once.
func (c *X11Capturer) Close() error {
	if err := c.Stop(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	return nil
}

// grabRegion block-copies the monitor rectangle from the root window
// into a pooled buffer, converting X11 BGRA to RGBA.
func (c *X11Capturer) grabRegion(bounds image.Rectangle) (*image.RGBA, error) {
	reply, err := xproto.GetImage(
		c.conn,
		xproto.ImageFormatZPixmap,
		xproto.Drawable(c.root),
		int16(bounds.Min.X), int16(bounds.Min.Y),
		uint16(bounds.Dx()), uint16(bounds.Dy()),
		0xffffffff,
	).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get image: %w", err)
	}

	w, h := bounds.Dx(), bounds.Dy()
	img := c.pool.Get(w, h)

	data := reply.Data
	n := w * h * 4
	if len(data) < n {
		n = len(data) &^ 3
	}
	for i := 0; i < n; i += 4 {
		img.Pix[i] = data[i+2]
		img.Pix[i+1] = data[i+1]
		img.Pix[i+2] = data[i]
		img.Pix[i+3] = 0xff
	}
	return img, nil
}
