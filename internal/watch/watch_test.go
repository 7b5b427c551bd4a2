package watch

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/replyforge-ai/replyforge-cli/internal/errdefs"
)

// setupWatcher starts a miniredis instance and returns a connected
// Watcher plus a raw client for seeding job records.
func setupWatcher(t *testing.T) (*Watcher, *goredis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	w, err := NewWatcher(WatcherConfig{RedisURL: "redis://" + mr.Addr()})
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(func() { w.Close() })

	raw := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { raw.Close() })

	return w, raw
}

func recvUpdate(t *testing.T, j *Watch) Update {
	t.Helper()
	select {
	case u, ok := <-j.Updates():
		if !ok {
			t.Fatal("update channel closed unexpectedly")
		}
		return u
	case err := <-j.Err():
		t.Fatalf("watch error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for update")
	}
	return Update{}
}

func TestWatchDeliversTerminalTransition(t *testing.T) {
	w, raw := setupWatcher(t)
	ctx := context.Background()

	key := jobKey("u-1", "j-1")
	if err := raw.HSet(ctx, key, "status", StatusPending).Err(); err != nil {
		t.Fatalf("seed record: %v", err)
	}

	j, err := w.Watch(ctx, "u-1", "j-1")
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer j.Close()

	if u := recvUpdate(t, j); u.Status != StatusPending || u.Missing {
		t.Errorf("initial update = %+v, want pending", u)
	}

	payload := `{"status":"completed","aiResponse":"Thanks so much for the kind words!"}`
	if err := raw.Publish(ctx, key+":events", payload).Err(); err != nil {
		t.Fatalf("publish: %v", err)
	}

	u := recvUpdate(t, j)
	if u.Status != StatusCompleted {
		t.Errorf("status = %q, want completed", u.Status)
	}
	if u.AIResponse != "Thanks so much for the kind words!" {
		t.Errorf("aiResponse = %q", u.AIResponse)
	}
	if !IsTerminal(u.Status) {
		t.Error("completed should be terminal")
	}
}

func TestWatchFailedTransitionCarriesError(t *testing.T) {
	w, raw := setupWatcher(t)
	ctx := context.Background()

	key := jobKey("u-1", "j-2")
	if err := raw.HSet(ctx, key, "status", StatusProcessing).Err(); err != nil {
		t.Fatalf("seed record: %v", err)
	}

	j, err := w.Watch(ctx, "u-1", "j-2")
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer j.Close()
	recvUpdate(t, j) // initial

	if err := raw.Publish(ctx, key+":events", `{"status":"failed","error":"model overloaded"}`).Err(); err != nil {
		t.Fatalf("publish: %v", err)
	}

	u := recvUpdate(t, j)
	if u.Status != StatusFailed || u.Error != "model overloaded" {
		t.Errorf("unexpected update: %+v", u)
	}
}

func TestWatchReportsMissingRecord(t *testing.T) {
	w, _ := setupWatcher(t)

	j, err := w.Watch(context.Background(), "u-1", "nope")
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer j.Close()

	if u := recvUpdate(t, j); !u.Missing {
		t.Errorf("expected Missing update, got %+v", u)
	}
}

func TestWatchDuplicateJobRejected(t *testing.T) {
	w, raw := setupWatcher(t)
	ctx := context.Background()

	key := jobKey("u-1", "j-3")
	if err := raw.HSet(ctx, key, "status", StatusPending).Err(); err != nil {
		t.Fatalf("seed record: %v", err)
	}

	j, err := w.Watch(ctx, "u-1", "j-3")
	if err != nil {
		t.Fatalf("first Watch: %v", err)
	}
	defer j.Close()

	if _, err := w.Watch(ctx, "u-1", "j-3"); errdefs.KindOf(err) != errdefs.KindWatchError {
		t.Errorf("expected WatchError for duplicate, got %v", err)
	}

	// Closing the first watch frees the slot.
	j.Close()
	j2, err := w.Watch(ctx, "u-1", "j-3")
	if err != nil {
		t.Fatalf("Watch after close: %v", err)
	}
	j2.Close()
}

func TestWatchCloseStopsDelivery(t *testing.T) {
	w, raw := setupWatcher(t)
	ctx := context.Background()

	key := jobKey("u-1", "j-4")
	if err := raw.HSet(ctx, key, "status", StatusPending).Err(); err != nil {
		t.Fatalf("seed record: %v", err)
	}

	j, err := w.Watch(ctx, "u-1", "j-4")
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	recvUpdate(t, j)

	j.Close()
	j.Close() // idempotent

	// The update channel drains and closes; nothing published after
	// Close may arrive once it is closed.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-j.Updates():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("update channel never closed after Close")
		}
	}
}

func TestWatchMalformedEventFallsBackToRecord(t *testing.T) {
	w, raw := setupWatcher(t)
	ctx := context.Background()

	key := jobKey("u-1", "j-5")
	if err := raw.HSet(ctx, key, "status", StatusPending).Err(); err != nil {
		t.Fatalf("seed record: %v", err)
	}

	j, err := w.Watch(ctx, "u-1", "j-5")
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer j.Close()
	recvUpdate(t, j)

	// Flip the record first so the fallback read observes the final
	// state, then publish garbage.
	if err := raw.HSet(ctx, key, "status", StatusCompleted, "aiResponse", "Appreciate it!").Err(); err != nil {
		t.Fatalf("update record: %v", err)
	}
	if err := raw.Publish(ctx, key+":events", "not json").Err(); err != nil {
		t.Fatalf("publish: %v", err)
	}

	u := recvUpdate(t, j)
	if u.Status != StatusCompleted || u.AIResponse != "Appreciate it!" {
		t.Errorf("fallback read mismatch: %+v", u)
	}
}
