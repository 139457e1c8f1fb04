package capture

import (
	"fmt"

	"github.com/previewd/previewd/internal/logger"
)

// Options configures backend construction.
type Options struct {
	// TargetFPS bounds the polled fallback backend; the compositor
	// backend paces itself.
	TargetFPS float64
	// Adaptive lowers the polled rate under load instead of holding it
	// fixed.
	Adaptive bool
	// PreferCompositor attempts compositor capture before the
	// block-copy fallback. When false the fallback is used outright.
	PreferCompositor bool
}

// Factory builds capturers sharing one process-wide eligibility guard
// and one per-monitor retry registry, so every capture session in the
// process observes the same compositor verdicts and cooldowns.
type Factory struct {
	probes  Probes
	guard   *Guard
	backoff *backoffRegistry
	opts    Options
}

// NewFactory creates the shared capture state.
func NewFactory(probes Probes, opts Options) *Factory {
	return &Factory{
		probes:  probes,
		guard:   NewGuard(probes),
		backoff: newBackoffRegistry(),
		opts:    opts,
	}
}

// Guard exposes the shared eligibility guard, mainly for status
// reporting.
func (f *Factory) Guard() *Guard {
	return f.guard
}

// NewCompositorCapture returns a bare compositor capturer, failing up
// front when the guard has already ruled it out.
func (f *Factory) NewCompositorCapture() (Capturer, error) {
	if !f.guard.CanUseCompositor() {
		reason, _ := f.guard.DisabledReason()
		if reason == "" {
			reason = "environment does not support compositor capture"
		}
		return nil, &UnavailableError{
			Backend:   "compositor",
			Permanent: true,
			Err:       fmt.Errorf("compositor capture disabled: %s", reason),
		}
	}
	return NewCompositorCapturer(f.probes), nil
}

// NewX11Capture returns a bare block-copy capturer.
func (f *Factory) NewX11Capture() (Capturer, error) {
	c, err := NewX11Capturer(f.opts.TargetFPS, f.opts.Adaptive)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// compositorPreferred reports whether configuration and the guard both
// allow building the primary backend.
func (f *Factory) compositorPreferred() bool {
	return f.opts.PreferCompositor && f.guard.CanUseCompositor()
}

// NewResilientCapture builds the failover capturer used by preview
// sessions: compositor primary, block-copy fallback. A backend that
// cannot even be constructed here is left out rather than failing the
// whole session.
func (f *Factory) NewResilientCapture() (Capturer, error) {
	log := logger.WithComponent("capture-factory")

	var primary Capturer
	switch {
	case f.compositorPreferred():
		primary = NewCompositorCapturer(f.probes)
	case !f.opts.PreferCompositor:
		log.Debug().Msg("Compositor backend disabled by configuration")
	default:
		reason, _ := f.guard.DisabledReason()
		log.Debug().Str("reason", reason).
			Msg("Compositor backend excluded")
	}

	var fallback Capturer
	x11, err := NewX11Capturer(f.opts.TargetFPS, f.opts.Adaptive)
	if err != nil {
		log.Warn().Err(err).Msg("Block-copy backend unavailable")
	} else {
		fallback = x11
	}

	if primary == nil && fallback == nil {
		return nil, ErrNotSupported
	}
	return NewResilient(primary, fallback, f.guard, f.backoff), nil
}
