package capture

import (
	"sync/atomic"

	"github.com/previewd/previewd/internal/logger"
)

// Probes are the environment signals consulted before attempting
// compositor capture. Each is an independent boolean oracle; real
// implementations live in the platform package.
type Probes interface {
	// RemoteSession reports whether the process runs in a remote or
	// otherwise non-interactive session.
	RemoteSession() bool

	// CompositingEnabled reports whether a desktop compositor is active.
	CompositingEnabled() bool

	// RuntimePresent reports whether the compositor capture runtime
	// (portal service and pipeline tooling) is available on the host.
	RuntimePresent() bool
}

// Guard is the process-wide gate deciding whether compositor capture may
// be attempted at all. Its only mutable state is a one-way ratchet: once
// disabled, compositor capture stays off for the remaining process
// lifetime. There is deliberately no way to re-enable it; the ratchet is
// the safety valve against repeated catastrophic backend failures.
type Guard struct {
	probes   Probes
	disabled atomic.Bool
	reason   atomic.Pointer[string]
}

// NewGuard creates a guard consulting the given probes.
func NewGuard(probes Probes) *Guard {
	return &Guard{probes: probes}
}

// CanUseCompositor reports whether the compositor backend may be
// attempted: not permanently disabled, a local interactive session,
// compositing on, and the capture runtime present.
func (g *Guard) CanUseCompositor() bool {
	if g.disabled.Load() {
		return false
	}
	if g.probes == nil {
		return false
	}
	return !g.probes.RemoteSession() &&
		g.probes.CompositingEnabled() &&
		g.probes.RuntimePresent()
}

// DisablePermanently turns compositor capture off for the remaining
// process lifetime. The first caller's reason wins; later calls are
// no-ops.
func (g *Guard) DisablePermanently(reason string) {
	if g.disabled.Swap(true) {
		return
	}
	g.reason.Store(&reason)
	logger.WithComponent("capture-guard").Warn().
		Str("reason", reason).
		Msg("Compositor capture permanently disabled for this process")
}

// DisabledReason returns the recorded reason and whether the guard has
// been permanently disabled.
func (g *Guard) DisabledReason() (string, bool) {
	if !g.disabled.Load() {
		return "", false
	}
	if r := g.reason.Load(); r != nil {
		return *r, true
	}
	return "", true
}
