package identity

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(filepath.Join(t.TempDir(), "session.yaml"))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(m.Close)
	return m
}

func TestManagerRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.yaml")
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer m.Close()

	if m.Current() != nil {
		t.Fatal("fresh manager should have no session")
	}

	want := Session{UserID: "u-1", Email: "owner@example.com", Token: "tok", Plan: "pro", ObtainedAt: time.Now().UTC().Truncate(time.Second)}
	if err := m.Set(want); err != nil {
		t.Fatalf("Set: %v", err)
	}

	// A second manager over the same file must see the persisted session.
	m2, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager reload: %v", err)
	}
	defer m2.Close()

	got := m2.Current()
	if got == nil {
		t.Fatal("expected persisted session")
	}
	if got.UserID != want.UserID || got.Token != want.Token || got.Plan != want.Plan {
		t.Errorf("reloaded session = %+v, want %+v", got, want)
	}
}

func TestManagerClearRemovesSession(t *testing.T) {
	m := newTestManager(t)
	if err := m.Set(Session{UserID: "u-1", Token: "tok"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := m.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if m.Current() != nil {
		t.Error("session should be gone after Clear")
	}
	// Clearing twice is fine.
	if err := m.Clear(); err != nil {
		t.Errorf("second Clear: %v", err)
	}
}

func TestManagerOnChange(t *testing.T) {
	m := newTestManager(t)

	changes := make(chan *Session, 4)
	unsub := m.OnChange(func(s *Session) { changes <- s })

	if err := m.Set(Session{UserID: "u-1", Token: "tok"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	select {
	case s := <-changes:
		if s == nil || s.UserID != "u-1" {
			t.Errorf("unexpected change payload: %+v", s)
		}
	case <-time.After(time.Second):
		t.Fatal("no change notification after Set")
	}

	if err := m.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	select {
	case s := <-changes:
		if s != nil {
			t.Errorf("logout notification should carry nil session, got %+v", s)
		}
	case <-time.After(time.Second):
		t.Fatal("no change notification after Clear")
	}

	unsub()
	if err := m.Set(Session{UserID: "u-2", Token: "tok2"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	select {
	case <-changes:
		t.Error("unsubscribed callback still invoked")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestManagerCallbackMayReenter(t *testing.T) {
	m := newTestManager(t)

	done := make(chan struct{})
	m.OnChange(func(s *Session) {
		// Re-entering the manager from a callback must not deadlock.
		_ = m.Current()
		select {
		case done <- struct{}{}:
		default:
		}
	})

	if err := m.Set(Session{UserID: "u-1", Token: "tok"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("re-entrant callback deadlocked")
	}
}
