package capture

import (
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestFrameReleaseExactlyOnce(t *testing.T) {
	var releases int32
	f := NewFrame(
		image.NewRGBA(image.Rect(0, 0, 4, 4)),
		time.Now(), "DP-1",
		func(*image.RGBA) { atomic.AddInt32(&releases, 1) },
	)

	f.Release()
	f.Release()
	f.Release()

	if got := atomic.LoadInt32(&releases); got != 1 {
		t.Fatalf("release callback ran %d times, want 1", got)
	}
}

func TestFrameReleaseConcurrent(t *testing.T) {
	var releases int32
	f := NewFrame(
		image.NewRGBA(image.Rect(0, 0, 4, 4)),
		time.Now(), "DP-1",
		func(*image.RGBA) { atomic.AddInt32(&releases, 1) },
	)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.Release()
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&releases); got != 1 {
		t.Fatalf("release callback ran %d times under contention, want 1", got)
	}
}

func TestFrameImageNilAfterRelease(t *testing.T) {
	f := NewFrame(image.NewRGBA(image.Rect(0, 0, 4, 4)), time.Now(), "DP-1", nil)
	if f.Image() == nil {
		t.Fatal("live frame returned nil image")
	}
	f.Release()
	if f.Image() != nil {
		t.Fatal("released frame still exposes its image")
	}
}

func TestFrameMetadata(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	f := NewFrame(image.NewRGBA(image.Rect(0, 0, 4, 4)), at, "HDMI-1", nil)
	if f.CapturedAt() != at {
		t.Fatalf("CapturedAt = %v", f.CapturedAt())
	}
	if f.MonitorKey() != "HDMI-1" {
		t.Fatalf("MonitorKey = %q", f.MonitorKey())
	}

	// Metadata survives release; only the pixels are reclaimed.
	f.Release()
	if f.MonitorKey() != "HDMI-1" || f.CapturedAt() != at {
		t.Fatal("metadata lost on release")
	}
}

func TestFramePoolSizes(t *testing.T) {
	p := &framePool{}

	a := p.Get(8, 8)
	if a.Bounds().Dx() != 8 || a.Bounds().Dy() != 8 {
		t.Fatalf("pool returned wrong size: %v", a.Bounds())
	}
	p.Put(a)

	// A resolution change resets the pool; the old buffer must never
	// come back at the new size.
	b := p.Get(16, 16)
	if b.Bounds().Dx() != 16 || b.Bounds().Dy() != 16 {
		t.Fatalf("pool returned wrong size after reset: %v", b.Bounds())
	}

	// Stale-sized buffers are dropped on Put, not recycled.
	p.Put(a)
	c := p.Get(16, 16)
	if c.Bounds().Dx() != 16 || c.Bounds().Dy() != 16 {
		t.Fatalf("pool returned stale buffer: %v", c.Bounds())
	}
}

func TestFramePoolConcurrentResets(t *testing.T) {
	p := &framePool{}

	// Releases racing resolution resets must never surface a buffer of
	// the wrong size.
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				w := 8 << (i % 2)
				img := p.Get(w, w)
				if img.Bounds().Dx() != w || img.Bounds().Dy() != w {
					t.Errorf("Get(%d, %d) returned %v", w, w, img.Bounds())
					return
				}
				p.Put(img)
			}
		}()
	}
	wg.Wait()
}
