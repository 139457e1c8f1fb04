// Package capture provides monitor capture backends behind a single
// contract, a process-wide eligibility guard for the compositor path,
// and a failover wrapper that degrades to X11 block-copy capture when
// compositor capture is unavailable.
package capture

import (
	"context"

	"github.com/previewd/previewd/internal/monitor"
)

// FrameHandler receives ownership of each produced frame. The handler
// must call Release on every frame it is given, including frames it
// decides not to use.
type FrameHandler func(*Frame)

// Capturer is the contract all monitor capture backends implement.
//
// Start may not be called again without an intervening Stop. Stop is
// idempotent and returns only after the producing goroutine has exited;
// it must never be called from inside a FrameHandler, which runs on the
// producing goroutine. Close implies Stop and releases backend-owned
// resources; calling it more than once is a no-op.
type Capturer interface {
	// Name returns a human-readable backend name.
	Name() string

	// IsSupported reports whether the current environment can host this
	// backend. It is a pure probe with no side effects.
	IsSupported() bool

	// SetFrameHandler installs the frame consumer. Backends release
	// frames themselves while no handler is installed. Must be called
	// before Start.
	SetFrameHandler(FrameHandler)

	// Start begins capturing the given monitor. The context cancels the
	// capture loop; frames arrive asynchronously on the handler.
	Start(ctx context.Context, mon monitor.Descriptor) error

	// Stop cancels the capture loop and waits for it to finish.
	Stop() error

	// Close stops the backend and releases its native resources.
	Close() error
}
