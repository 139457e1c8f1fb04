package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"testing"

	"github.com/previewd/previewd/internal/capture"
	"github.com/previewd/previewd/internal/monitor"
	"github.com/previewd/previewd/internal/output"
)

// stubLocator serves canned descriptors and records which lookup path
// was taken.
type stubLocator struct {
	primary      monitor.Descriptor
	primaryCalls int
	resolveCalls int
	lastResolved string
}

func (l *stubLocator) Primary() (monitor.Descriptor, error) {
	l.primaryCalls++
	return l.primary, nil
}

func (l *stubLocator) Resolve(id string) (monitor.Descriptor, error) {
	l.resolveCalls++
	l.lastResolved = id
	if id == l.primary.ID {
		return l.primary, nil
	}
	return monitor.Descriptor{}, fmt.Errorf("%w: %q", monitor.ErrNotFound, id)
}

// offlineProbes rules the compositor backend out so manager tests never
// touch the desktop portal.
type offlineProbes struct{}

func (offlineProbes) RemoteSession() bool      { return true }
func (offlineProbes) CompositingEnabled() bool { return false }
func (offlineProbes) RuntimePresent() bool     { return false }

func testManager(loc Locator) *Manager {
	factory := capture.NewFactory(offlineProbes{}, capture.Options{TargetFPS: 30})
	return NewManager(factory, loc, output.Config{JPEGQuality: 80})
}

func TestManagerCreateDefaultsToPrimary(t *testing.T) {
	loc := &stubLocator{primary: monitor.Descriptor{
		ID: "DP-1", Primary: true, Bounds: image.Rect(0, 0, 640, 480),
	}}
	m := testManager(loc)
	defer m.Shutdown()

	// Backend construction may fail in a headless environment; monitor
	// selection has already happened by then and is what matters here.
	sess, err := m.Create(context.Background(), "")
	if err == nil && sess == nil {
		t.Fatal("Create returned neither session nor error")
	}
	if loc.primaryCalls != 1 {
		t.Fatalf("primary lookups = %d, want 1", loc.primaryCalls)
	}
	if loc.resolveCalls != 0 {
		t.Fatal("Resolve called for empty monitor id")
	}
}

func TestManagerCreateResolvesExplicitID(t *testing.T) {
	loc := &stubLocator{primary: monitor.Descriptor{
		ID: "DP-1", Primary: true, Bounds: image.Rect(0, 0, 640, 480),
	}}
	m := testManager(loc)
	defer m.Shutdown()

	m.Create(context.Background(), "DP-1")
	if loc.resolveCalls != 1 || loc.lastResolved != "DP-1" {
		t.Fatalf("Resolve calls = %d (last %q), want 1 for DP-1",
			loc.resolveCalls, loc.lastResolved)
	}
	if loc.primaryCalls != 0 {
		t.Fatal("primary lookup for an explicit monitor id")
	}
}

func TestManagerCreateUnknownMonitor(t *testing.T) {
	loc := &stubLocator{primary: monitor.Descriptor{
		ID: "DP-1", Bounds: image.Rect(0, 0, 640, 480),
	}}
	m := testManager(loc)
	defer m.Shutdown()

	_, err := m.Create(context.Background(), "HDMI-9")
	if !errors.Is(err, monitor.ErrNotFound) {
		t.Fatalf("err = %v, want monitor.ErrNotFound", err)
	}
}
