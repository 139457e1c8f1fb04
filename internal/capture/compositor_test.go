package capture

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/previewd/previewd/internal/capture/pipewire"
	"github.com/previewd/previewd/internal/monitor"
)

func TestCompositorIsSupported(t *testing.T) {
	cases := []struct {
		name   string
		probes Probes
		want   bool
	}{
		{"healthy", goodProbes(), true},
		{"remote session", &stubProbes{remote: true, compositing: true, runtime: true}, false},
		{"no compositing", &stubProbes{runtime: true}, false},
		{"no runtime", &stubProbes{compositing: true}, false},
		{"nil probes", nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := NewCompositorCapturer(tc.probes)
			if got := c.IsSupported(); got != tc.want {
				t.Fatalf("IsSupported = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestCompositorFailureClassification(t *testing.T) {
	c := NewCompositorCapturer(goodProbes())

	cases := []struct {
		name      string
		err       error
		permanent bool
	}{
		{"portal missing", pipewire.ErrPortalMissing, true},
		{"runtime missing", pipewire.ErrRuntimeMissing, true},
		{"wrapped runtime missing", fmt.Errorf("start: %w", pipewire.ErrRuntimeMissing), true},
		{"session denied", pipewire.ErrSessionDenied, false},
		{"session timeout", pipewire.ErrSessionTimeout, false},
		{"pipeline death", errors.New("gst-launch exited: signal killed"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := c.unavailable(tc.err)
			var ue *UnavailableError
			if !errors.As(err, &ue) {
				t.Fatalf("err %T is not an UnavailableError", err)
			}
			if ue.Permanent != tc.permanent {
				t.Fatalf("Permanent = %v, want %v", ue.Permanent, tc.permanent)
			}
			if !errors.Is(err, tc.err) {
				t.Fatal("cause not preserved through classification")
			}
		})
	}
}

func TestCompositorUnsupportedEnvironment(t *testing.T) {
	c := NewCompositorCapturer(&stubProbes{remote: true})

	err := c.Start(context.Background(), testMonitor())
	var ue *UnavailableError
	if !errors.As(err, &ue) {
		t.Fatalf("err = %v, want UnavailableError", err)
	}
	if ue.Permanent {
		t.Fatal("environment denial classified as permanent")
	}
}

func TestCompositorRejectsEmptyBounds(t *testing.T) {
	c := NewCompositorCapturer(goodProbes())
	err := c.Start(context.Background(), monitor.Descriptor{ID: "DP-1"})
	if !errors.Is(err, ErrMonitorNotFound) {
		t.Fatalf("err = %v, want ErrMonitorNotFound", err)
	}
}

func TestCompositorStopWithoutStart(t *testing.T) {
	c := NewCompositorCapturer(goodProbes())
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
