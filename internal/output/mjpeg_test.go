package output

import (
	"image"
	"testing"
)

func TestMJPEGLifecycle(t *testing.T) {
	m := NewMJPEGOutput(Config{JPEGQuality: 80})

	if m.IsRunning() {
		t.Fatal("running before Start")
	}
	if err := m.WriteFrame(image.NewRGBA(image.Rect(0, 0, 8, 8))); err == nil {
		t.Fatal("WriteFrame accepted before Start")
	}

	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.Start(); err == nil {
		t.Fatal("double Start accepted")
	}

	if err := m.WriteFrame(image.NewRGBA(image.Rect(0, 0, 8, 8))); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	if err := m.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := m.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestMJPEGStats(t *testing.T) {
	m := NewMJPEGOutput(Config{JPEGQuality: 80})
	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := m.WriteFrame(image.NewRGBA(image.Rect(0, 0, 8, 8))); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
	}

	stats := m.Stats()
	if !stats.Running {
		t.Fatal("stats report not running")
	}
	if stats.FrameCount != 3 {
		t.Fatalf("FrameCount = %d, want 3", stats.FrameCount)
	}
	if stats.LastUpdate.IsZero() {
		t.Fatal("LastUpdate not recorded")
	}
}

func TestMJPEGDownscale(t *testing.T) {
	m := NewMJPEGOutput(Config{JPEGQuality: 80, MaxWidth: 640})

	wide := image.NewRGBA(image.Rect(0, 0, 1920, 1080))
	got := m.downscale(wide)
	if got.Bounds().Dx() != 640 {
		t.Fatalf("downscaled width = %d, want 640", got.Bounds().Dx())
	}
	if got.Bounds().Dy() != 360 {
		t.Fatalf("downscaled height = %d, want 360 (aspect preserved)", got.Bounds().Dy())
	}

	// Narrow frames pass through untouched.
	narrow := image.NewRGBA(image.Rect(0, 0, 320, 240))
	if m.downscale(narrow) != narrow {
		t.Fatal("narrow frame was scaled")
	}

	// No limit configured: never scale.
	unbounded := NewMJPEGOutput(Config{JPEGQuality: 80})
	if unbounded.downscale(wide) != wide {
		t.Fatal("frame scaled with no MaxWidth configured")
	}
}

func TestMJPEGDefaultQuality(t *testing.T) {
	m := NewMJPEGOutput(Config{})
	if m.config.JPEGQuality != 80 {
		t.Fatalf("default quality = %d, want 80", m.config.JPEGQuality)
	}
}
