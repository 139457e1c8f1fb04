package capture

import (
	"image"
	"sync/atomic"
	"time"
)

// Frame is one captured monitor image. Ownership transfers to whoever
// receives it: that party must call Release exactly once. A released
// frame's buffer may be reused for a later frame, so the image must not
// be retained past Release.
type Frame struct {
	img        *image.RGBA
	capturedAt time.Time
	monitorKey string
	release    func(*image.RGBA)
	released   atomic.Bool
}

// NewFrame wraps an owned pixel buffer. release is invoked exactly once
// when the frame is released; a nil release is allowed for unpooled
// buffers.
func NewFrame(img *image.RGBA, capturedAt time.Time, monitorKey string, release func(*image.RGBA)) *Frame {
	return &Frame{
		img:        img,
		capturedAt: capturedAt,
		monitorKey: monitorKey,
		release:    release,
	}
}

// Image returns the pixel buffer, or nil if the frame has been released.
func (f *Frame) Image() *image.RGBA {
	if f.released.Load() {
		return nil
	}
	return f.img
}

// CapturedAt returns the capture timestamp.
func (f *Frame) CapturedAt() time.Time {
	return f.capturedAt
}

// MonitorKey returns the stable key of the monitor this frame was
// captured from.
func (f *Frame) MonitorKey() string {
	return f.monitorKey
}

// Release returns the buffer to its owner. Safe to call more than once;
// only the first call has an effect.
func (f *Frame) Release() {
	if f.released.Swap(true) {
		return
	}
	if f.release != nil {
		f.release(f.img)
	}
	f.img = nil
}
