package capture

import "testing"

func TestFactoryCompositorPreference(t *testing.T) {
	f := NewFactory(goodProbes(), Options{TargetFPS: 30, Adaptive: true, PreferCompositor: true})
	if !f.compositorPreferred() {
		t.Fatal("compositor not preferred in a healthy environment")
	}

	f.Guard().DisablePermanently("portal gone")
	if f.compositorPreferred() {
		t.Fatal("compositor preferred after permanent disable")
	}
}

func TestFactoryCompositorDisabledByConfig(t *testing.T) {
	f := NewFactory(goodProbes(), Options{TargetFPS: 30, PreferCompositor: false})
	if f.compositorPreferred() {
		t.Fatal("compositor preferred despite prefer_compositor=false")
	}
	// The guard is untouched: the config choice is not a failure.
	if !f.Guard().CanUseCompositor() {
		t.Fatal("config preference tripped the guard")
	}
}
