package capture

import "testing"

// stubProbes answers environment questions with canned values.
type stubProbes struct {
	remote      bool
	compositing bool
	runtime     bool
}

func (p *stubProbes) RemoteSession() bool      { return p.remote }
func (p *stubProbes) CompositingEnabled() bool { return p.compositing }
func (p *stubProbes) RuntimePresent() bool     { return p.runtime }

func goodProbes() *stubProbes {
	return &stubProbes{compositing: true, runtime: true}
}

func TestGuardAllowsHealthyEnvironment(t *testing.T) {
	g := NewGuard(goodProbes())
	if !g.CanUseCompositor() {
		t.Fatal("guard denied compositor in a healthy environment")
	}
}

func TestGuardDeniesPerProbe(t *testing.T) {
	cases := []struct {
		name   string
		probes *stubProbes
	}{
		{"remote session", &stubProbes{remote: true, compositing: true, runtime: true}},
		{"no compositing", &stubProbes{runtime: true}},
		{"no runtime", &stubProbes{compositing: true}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if NewGuard(tc.probes).CanUseCompositor() {
				t.Fatal("guard allowed compositor")
			}
		})
	}
}

func TestGuardNilProbes(t *testing.T) {
	if NewGuard(nil).CanUseCompositor() {
		t.Fatal("guard allowed compositor without probes")
	}
}

func TestGuardRatchet(t *testing.T) {
	g := NewGuard(goodProbes())

	g.DisablePermanently("pipeline crashed on start")
	if g.CanUseCompositor() {
		t.Fatal("guard still allows compositor after permanent disable")
	}

	reason, disabled := g.DisabledReason()
	if !disabled {
		t.Fatal("DisabledReason reports enabled after disable")
	}
	if reason != "pipeline crashed on start" {
		t.Fatalf("reason = %q", reason)
	}

	// First writer wins; later reasons are dropped.
	g.DisablePermanently("another reason")
	reason, _ = g.DisabledReason()
	if reason != "pipeline crashed on start" {
		t.Fatalf("first reason overwritten: %q", reason)
	}
}

func TestGuardDisableIsOneWay(t *testing.T) {
	probes := goodProbes()
	g := NewGuard(probes)
	g.DisablePermanently("gone")

	// Even a fully healthy environment cannot re-enable the guard.
	probes.remote = false
	probes.compositing = true
	probes.runtime = true
	if g.CanUseCompositor() {
		t.Fatal("disabled guard re-enabled itself")
	}
}
