package ledger

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/replyforge-ai/replyforge-cli/internal/backend"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreStatusRoundTrip(t *testing.T) {
	s := newTestStore(t)

	entry := CachedStatus{
		Status: backend.CreditStatus{
			Balance:      backend.CreditBalance{Available: 8, Total: 10, Used: 2},
			Plan:         "pro",
			Features:     []string{"generate"},
			MaxBulkItems: 25,
		},
		UserID:   "u-1",
		Version:  SchemaVersion,
		CachedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	if err := s.SaveStatus(entry); err != nil {
		t.Fatalf("SaveStatus: %v", err)
	}

	got, err := s.LoadStatus("u-1")
	if err != nil {
		t.Fatalf("LoadStatus: %v", err)
	}
	if got == nil {
		t.Fatal("expected stored entry")
	}
	if got.Status.Balance.Available != 8 || got.Status.Plan != "pro" || got.Version != SchemaVersion {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if !got.CachedAt.Equal(entry.CachedAt) {
		t.Errorf("cached_at = %v, want %v", got.CachedAt, entry.CachedAt)
	}

	// Replacing the entry for the same user keeps a single row.
	entry.Status.Balance.Available = 5
	if err := s.SaveStatus(entry); err != nil {
		t.Fatalf("SaveStatus replace: %v", err)
	}
	got, err = s.LoadStatus("u-1")
	if err != nil {
		t.Fatalf("LoadStatus after replace: %v", err)
	}
	if got.Status.Balance.Available != 5 {
		t.Errorf("replace not applied, available = %d", got.Status.Balance.Available)
	}
}

func TestStoreLoadStatusMissing(t *testing.T) {
	s := newTestStore(t)
	got, err := s.LoadStatus("nobody")
	if err != nil {
		t.Fatalf("LoadStatus: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing user, got %+v", got)
	}
}

func TestStoreQueueFIFO(t *testing.T) {
	s := newTestStore(t)

	for _, id := range []string{"r1", "r2", "r3"} {
		if _, err := s.Enqueue("u-1", backend.ConsumeRequest{RequestID: id, OperationType: OpGenerate, ItemCount: 1}, time.Now()); err != nil {
			t.Fatalf("Enqueue %s: %v", id, err)
		}
	}

	items, err := s.QueueList()
	if err != nil {
		t.Fatalf("QueueList: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("queue len = %d, want 3", len(items))
	}
	for i, want := range []string{"r1", "r2", "r3"} {
		if items[i].Request.RequestID != want {
			t.Errorf("position %d = %s, want %s", i, items[i].Request.RequestID, want)
		}
	}

	// Remove the head; order of the rest is preserved.
	if err := s.Dequeue(items[0].ID); err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	items, err = s.QueueList()
	if err != nil {
		t.Fatalf("QueueList: %v", err)
	}
	if len(items) != 2 || items[0].Request.RequestID != "r2" {
		t.Errorf("unexpected queue after dequeue: %+v", items)
	}

	if err := s.IncrementRetry(items[0].ID); err != nil {
		t.Fatalf("IncrementRetry: %v", err)
	}
	items, _ = s.QueueList()
	if items[0].RetryCount != 1 {
		t.Errorf("retry count = %d, want 1", items[0].RetryCount)
	}

	if err := s.ClearQueue(); err != nil {
		t.Fatalf("ClearQueue: %v", err)
	}
	n, err := s.QueueLen()
	if err != nil {
		t.Fatalf("QueueLen: %v", err)
	}
	if n != 0 {
		t.Errorf("queue len after clear = %d", n)
	}
}

func TestStoreDuplicateRequestIDRejected(t *testing.T) {
	s := newTestStore(t)
	req := backend.ConsumeRequest{RequestID: "dup", OperationType: OpGenerate, ItemCount: 1}
	if _, err := s.Enqueue("u-1", req, time.Now()); err != nil {
		t.Fatalf("first Enqueue: %v", err)
	}
	if _, err := s.Enqueue("u-1", req, time.Now()); err == nil {
		t.Error("duplicate request_id should be rejected")
	}
}
