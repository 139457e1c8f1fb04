package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/previewd/previewd/internal/logger"
	"github.com/previewd/previewd/internal/monitor"
)

// Resilient wraps a primary and a fallback capturer and routes each
// Start through them in order: the primary is attempted only when the
// eligibility guard allows it and the monitor is not in a retry
// cooldown, otherwise capture degrades to the fallback. Frames from a
// backend that is no longer active are released, never forwarded.
type Resilient struct {
	primary  Capturer
	fallback Capturer
	guard    *Guard
	backoff  *backoffRegistry

	mu       sync.Mutex
	handler  FrameHandler
	active   Capturer
	starting bool
	closed   bool
}

// NewResilient builds a failover capturer. Either backend may be nil;
// a nil backend is treated as unsupported.
func NewResilient(primary, fallback Capturer, guard *Guard, backoff *backoffRegistry) *Resilient {
	r := &Resilient{
		primary:  primary,
		fallback: fallback,
		guard:    guard,
		backoff:  backoff,
	}
	if primary != nil {
		primary.SetFrameHandler(r.forwarder(primary))
	}
	if fallback != nil {
		fallback.SetFrameHandler(r.forwarder(fallback))
	}
	return r
}

// Name identifies the active backend, or the orchestrator itself when
// nothing is running.
func (r *Resilient) Name() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != nil {
		return r.active.Name()
	}
	return "resilient"
}

// IsSupported reports whether at least one backend can run here.
func (r *Resilient) IsSupported() bool {
	return (r.primary != nil && r.primary.IsSupported()) ||
		(r.fallback != nil && r.fallback.IsSupported())
}

// SetFrameHandler installs the consumer for whichever backend is active.
func (r *Resilient) SetFrameHandler(h FrameHandler) {
	r.mu.Lock()
	r.handler = h
	r.mu.Unlock()
}

// forwarder returns the per-backend handler: frames pass through only
// while that backend is the active one.
func (r *Resilient) forwarder(backend Capturer) FrameHandler {
	return func(f *Frame) {
		r.mu.Lock()
		h := r.handler
		active := r.active
		r.mu.Unlock()

		if active != backend || h == nil {
			f.Release()
			return
		}
		h(f)
	}
}

// Start selects and starts a backend for the monitor. The primary is
// skipped without penalty when the guard forbids it or the monitor is
// cooling down from a recent failure; a fresh primary failure records
// a cooldown and, if the failure is permanent, trips the guard for the
// rest of the process.
func (r *Resilient) Start(ctx context.Context, mon monitor.Descriptor) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return fmt.Errorf("resilient capturer is closed")
	}
	// starting covers the window between releasing the lock and
	// setActive, so an overlapping Start cannot slip past the check and
	// race a second backend into life.
	if r.active != nil || r.starting {
		r.mu.Unlock()
		return ErrAlreadyStarted
	}
	r.starting = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.starting = false
		r.mu.Unlock()
	}()

	key := mon.StableKey()
	log := logger.WithComponent("resilient-capturer")

	if r.primaryEligible(key) {
		err := r.primary.Start(ctx, mon)
		if err == nil {
			if r.backoff != nil {
				r.backoff.clear(key)
			}
			r.setActive(r.primary)
			log.Info().Str("monitor", key).Str("backend", r.primary.Name()).
				Msg("Capture started on primary backend")
			return nil
		}
		if errors.Is(err, ErrMonitorNotFound) {
			return err
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// The caller gave up mid-handshake; not a backend failure.
			r.primary.Stop()
			return err
		}

		// Leave the failed backend fully torn down before falling over.
		r.primary.Stop()

		if permanentFailure(err) {
			if r.guard != nil {
				r.guard.DisablePermanently(err.Error())
			}
			log.Warn().Str("monitor", key).Err(err).
				Msg("Primary capture backend permanently disabled")
		} else if r.backoff != nil && r.backoff.recordFailure(key) {
			log.Warn().Str("monitor", key).Err(err).
				Dur("cooldown", compositorRetryCooldown).
				Msg("Primary capture backend failed, cooling down")
		}
	}

	if r.fallback != nil && r.fallback.IsSupported() {
		if err := r.fallback.Start(ctx, mon); err != nil {
			if errors.Is(err, ErrMonitorNotFound) {
				return err
			}
			return fmt.Errorf("fallback capture failed for %s: %w", key, err)
		}
		r.setActive(r.fallback)
		log.Info().Str("monitor", key).Str("backend", r.fallback.Name()).
			Msg("Capture started on fallback backend")
		return nil
	}

	return fmt.Errorf("%w for monitor %s", ErrNotSupported, key)
}

// primaryEligible reports whether the primary backend should even be
// attempted for this monitor right now.
func (r *Resilient) primaryEligible(key string) bool {
	if r.primary == nil || !r.primary.IsSupported() {
		return false
	}
	if r.guard != nil && !r.guard.CanUseCompositor() {
		return false
	}
	if r.backoff != nil && !r.backoff.canAttempt(key) {
		return false
	}
	return true
}

func (r *Resilient) setActive(c Capturer) {
	r.mu.Lock()
	r.active = c
	r.mu.Unlock()
}

// Stop stops the active backend. Idempotent.
func (r *Resilient) Stop() error {
	r.mu.Lock()
	active := r.active
	r.active = nil
	r.mu.Unlock()

	if active == nil {
		return nil
	}
	return active.Stop()
}

// Close stops the active backend and closes both.
func (r *Resilient) Close() error {
	if err := r.Stop(); err != nil {
		return err
	}
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	var firstErr error
	for _, c := range []Capturer{r.primary, r.fallback} {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
