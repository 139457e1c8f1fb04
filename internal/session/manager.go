package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/previewd/previewd/internal/capture"
	"github.com/previewd/previewd/internal/logger"
	"github.com/previewd/previewd/internal/monitor"
	"github.com/previewd/previewd/internal/output"
)

// Locator is the monitor lookup surface the session registry needs.
type Locator interface {
	Resolve(id string) (monitor.Descriptor, error)
	Primary() (monitor.Descriptor, error)
}

// Manager owns the active preview sessions. One session per monitor;
// asking for a monitor that already has a session returns the
// existing one.
type Manager struct {
	factory *capture.Factory
	locator Locator
	preview output.Config

	mu       sync.Mutex
	sessions map[string]*Session
	byKey    map[string]*Session
}

// NewManager wires the shared capture factory and monitor locator into
// a session registry.
func NewManager(factory *capture.Factory, locator Locator, preview output.Config) *Manager {
	return &Manager{
		factory:  factory,
		locator:  locator,
		preview:  preview,
		sessions: make(map[string]*Session),
		byKey:    make(map[string]*Session),
	}
}

// Create starts a preview session for the monitor with the given
// identifier, or returns the session already covering it. An empty
// identifier selects the primary monitor.
func (m *Manager) Create(ctx context.Context, monitorID string) (*Session, error) {
	var mon monitor.Descriptor
	var err error
	if monitorID == "" {
		mon, err = m.locator.Primary()
		if err != nil {
			return nil, fmt.Errorf("resolve primary monitor: %w", err)
		}
	} else {
		mon, err = m.locator.Resolve(monitorID)
		if err != nil {
			return nil, fmt.Errorf("resolve monitor %q: %w", monitorID, err)
		}
	}
	key := mon.StableKey()

	m.mu.Lock()
	if existing, ok := m.byKey[key]; ok {
		m.mu.Unlock()
		return existing, nil
	}
	m.mu.Unlock()

	capturer, err := m.factory.NewResilientCapture()
	if err != nil {
		return nil, fmt.Errorf("no capture backend for %s: %w", key, err)
	}

	sess := newSession(mon, capturer, output.NewMJPEGOutput(m.preview))
	if err := sess.start(ctx); err != nil {
		capturer.Close()
		return nil, err
	}

	m.mu.Lock()
	// Lost a race with another Create for the same monitor: keep ours
	// anyway, the maps are keyed so the loser is still reachable by ID.
	if _, ok := m.byKey[key]; !ok {
		m.byKey[key] = sess
	}
	m.sessions[sess.ID] = sess
	m.mu.Unlock()

	return sess, nil
}

// Get looks a session up by ID.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// List snapshots all session statuses.
func (m *Manager) List() []Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Status, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Status())
	}
	return out
}

// Delete closes and removes the session with the given ID.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
		if m.byKey[s.Monitor.StableKey()] == s {
			delete(m.byKey, s.Monitor.StableKey())
		}
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("no session %s", id)
	}
	s.Close()
	return nil
}

// Shutdown closes every session.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.byKey = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	if len(sessions) > 0 {
		logger.WithComponent("session").Info().
			Int("count", len(sessions)).
			Msg("All preview sessions closed")
	}
}
