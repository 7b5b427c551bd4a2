// Package identity manages the agent's session with the ReplyForge
// backend: who the user is, the bearer token for API calls, and a
// change signal other components subscribe to so that logout tears
// down everything that depends on the session.
package identity

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Session is the authenticated identity stored on disk between runs.
type Session struct {
	UserID     string    `yaml:"user_id"`
	Email      string    `yaml:"email,omitempty"`
	Token      string    `yaml:"token"`
	Plan       string    `yaml:"plan,omitempty"`
	ObtainedAt time.Time `yaml:"obtained_at"`
}

// Manager owns the current session and fans out change notifications.
//
// Change callbacks are dispatched from a dedicated goroutine, never
// synchronously from Set/Clear, so a subscriber can safely call back
// into the manager without deadlocking.
type Manager struct {
	mu      sync.Mutex
	path    string
	current *Session

	subs   map[int]func(*Session)
	nextID int

	events chan *Session
	done   chan struct{}
	once   sync.Once
}

// NewManager creates a manager backed by the session file at path and
// loads any existing session. A missing file is not an error.
func NewManager(path string) (*Manager, error) {
	m := &Manager{
		path:   path,
		subs:   make(map[int]func(*Session)),
		events: make(chan *Session, 16),
		done:   make(chan struct{}),
	}

	data, err := os.ReadFile(path)
	if err == nil {
		var s Session
		if err := yaml.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("parse session file: %w", err)
		}
		if s.Token != "" {
			m.current = &s
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read session file: %w", err)
	}

	go m.dispatch()
	return m, nil
}

// Current returns the active session, or nil when logged out.
func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	s := *m.current
	return &s
}

// Set stores a new session, persists it, and notifies subscribers.
func (m *Manager) Set(s Session) error {
	m.mu.Lock()
	m.current = &s
	m.mu.Unlock()

	if err := m.persist(&s); err != nil {
		return err
	}
	m.emit(&s)
	return nil
}

// Clear removes the session (logout) and notifies subscribers with a
// nil session.
func (m *Manager) Clear() error {
	m.mu.Lock()
	m.current = nil
	m.mu.Unlock()

	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove session file: %w", err)
	}
	m.emit(nil)
	return nil
}

// OnChange registers a callback invoked whenever the session changes
// (login or logout). Returns an unsubscribe function.
func (m *Manager) OnChange(cb func(*Session)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.subs[id] = cb
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

// Close stops the dispatch goroutine. Pending notifications are dropped.
func (m *Manager) Close() {
	m.once.Do(func() { close(m.done) })
}

func (m *Manager) emit(s *Session) {
	select {
	case m.events <- s:
	case <-m.done:
	}
}

func (m *Manager) dispatch() {
	for {
		select {
		case <-m.done:
			return
		case s := <-m.events:
			m.mu.Lock()
			cbs := make([]func(*Session), 0, len(m.subs))
			for _, cb := range m.subs {
				cbs = append(cbs, cb)
			}
			m.mu.Unlock()
			for _, cb := range cbs {
				cb(s)
			}
		}
	}
}

func (m *Manager) persist(s *Session) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	// Session file holds a bearer token; keep it owner-readable only.
	if err := os.WriteFile(m.path, data, 0o600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	return nil
}
