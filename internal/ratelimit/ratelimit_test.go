package ratelimit

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"
)

func TestAwaitSlotEnforcesSpacingFloor(t *testing.T) {
	l := New(Config{MinInterval: 20 * time.Millisecond, WindowLimit: 100, Window: time.Minute})
	ctx := context.Background()

	var stamps []time.Time
	for i := 0; i < 4; i++ {
		if err := l.AwaitSlot(ctx); err != nil {
			t.Fatalf("AwaitSlot: %v", err)
		}
		stamps = append(stamps, time.Now())
	}

	for i := 1; i < len(stamps); i++ {
		gap := stamps[i].Sub(stamps[i-1])
		// Allow a small scheduling slack below the floor.
		if gap < 15*time.Millisecond {
			t.Errorf("calls %d and %d only %v apart, want >= 20ms", i-1, i, gap)
		}
	}
}

func TestAwaitSlotEnforcesWindowCap(t *testing.T) {
	l := New(Config{MinInterval: time.Millisecond, WindowLimit: 3, Window: 100 * time.Millisecond})
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 4; i++ {
		if err := l.AwaitSlot(ctx); err != nil {
			t.Fatalf("AwaitSlot: %v", err)
		}
	}
	// The 4th call must have waited for the window to elapse.
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("4th call admitted after %v, expected a window wait", elapsed)
	}
}

func TestAwaitSlotWindowResetsAfterQuietPeriod(t *testing.T) {
	l := New(Config{MinInterval: time.Millisecond, WindowLimit: 2, Window: 30 * time.Millisecond})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := l.AwaitSlot(ctx); err != nil {
			t.Fatalf("AwaitSlot: %v", err)
		}
	}

	// Stay quiet for a full window; the counter must reset and the next
	// call should be admitted promptly.
	time.Sleep(35 * time.Millisecond)
	start := time.Now()
	if err := l.AwaitSlot(ctx); err != nil {
		t.Fatalf("AwaitSlot: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 20*time.Millisecond {
		t.Errorf("call after quiet period delayed %v, expected prompt admission", elapsed)
	}
}

func TestAwaitSlotCancellable(t *testing.T) {
	l := New(Config{MinInterval: time.Millisecond, WindowLimit: 1, Window: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())

	if err := l.AwaitSlot(ctx); err != nil {
		t.Fatalf("AwaitSlot: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- l.AwaitSlot(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Error("expected cancellation error")
		}
	case <-time.After(time.Second):
		t.Fatal("AwaitSlot did not return after cancellation")
	}
}

func TestAwaitSlotSerializesConcurrentCallers(t *testing.T) {
	l := New(Config{MinInterval: 10 * time.Millisecond, WindowLimit: 100, Window: time.Minute})
	ctx := context.Background()

	var mu sync.Mutex
	var stamps []time.Time
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.AwaitSlot(ctx); err != nil {
				t.Errorf("AwaitSlot: %v", err)
				return
			}
			mu.Lock()
			stamps = append(stamps, time.Now())
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(stamps) != 5 {
		t.Fatalf("expected 5 admissions, got %d", len(stamps))
	}
	sort.Slice(stamps, func(i, j int) bool { return stamps[i].Before(stamps[j]) })
	for i := 1; i < len(stamps); i++ {
		if gap := stamps[i].Sub(stamps[i-1]); gap < 5*time.Millisecond {
			t.Errorf("concurrent admissions %d and %d only %v apart", i-1, i, gap)
		}
	}
}
