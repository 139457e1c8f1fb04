package capture

import (
	"sync"
	"time"
)

// compositorRetryCooldown is how long a monitor stays on the X11 fallback
// after a temporary compositor failure before the compositor path is
// retried for it.
const compositorRetryCooldown = 60 * time.Second

// backoffEntry tracks one monitor's compositor cooldown. The logged flag
// is one-shot so repeated fast failures inside a window warn only once.
type backoffEntry struct {
	until  time.Time
	logged bool
}

// backoffRegistry holds per-monitor compositor cooldowns. It is shared
// across all capture sessions in the process; the lock covers only map
// mutation, so sessions for different monitors do not contend during
// capture work.
type backoffRegistry struct {
	mu      sync.Mutex
	entries map[string]*backoffEntry
	now     func() time.Time
}

func newBackoffRegistry() *backoffRegistry {
	return &backoffRegistry{
		entries: make(map[string]*backoffEntry),
		now:     time.Now,
	}
}

// canAttempt reports whether the compositor path may be tried for the
// monitor key, i.e. no cooldown is recorded or it has expired.
func (r *backoffRegistry) canAttempt(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok {
		return true
	}
	return !r.now().Before(e.until)
}

// recordFailure starts (or restarts) the cooldown window for the monitor
// key. It returns true when the failure should be logged: the first
// failure of a window warns, repeats within the window stay quiet.
func (r *backoffRegistry) recordFailure(key string) (shouldLog bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	e, ok := r.entries[key]
	if ok && now.Before(e.until) && e.logged {
		e.until = now.Add(compositorRetryCooldown)
		return false
	}
	r.entries[key] = &backoffEntry{
		until:  now.Add(compositorRetryCooldown),
		logged: true,
	}
	return true
}

// clear removes any cooldown for the monitor key.
func (r *backoffRegistry) clear(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, key)
}
