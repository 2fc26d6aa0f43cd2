package lock_test

import (
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"collabcore/internal/lock"
)

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

// releaseRecorder captures release events for assertions.
type releaseRecorder struct {
	mu     sync.Mutex
	events []lock.ReleaseEvent
}

func (r *releaseRecorder) record(ev lock.ReleaseEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *releaseRecorder) snapshot() []lock.ReleaseEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]lock.ReleaseEvent, len(r.events))
	copy(out, r.events)
	return out
}

func newTestManager() (*lock.Manager, *releaseRecorder) {
	rec := &releaseRecorder{}
	return lock.NewManager(newTestLogger(), rec.record), rec
}

func TestAcquireAndDeny(t *testing.T) {
	m, _ := newTestManager()

	granted, lk := m.Acquire("c1", 1, time.Minute)
	if !granted {
		t.Fatal("first Acquire should be granted")
	}
	if lk.OwnerID != 1 {
		t.Errorf("expected owner 1, got %d", lk.OwnerID)
	}

	granted, held := m.Acquire("c1", 2, time.Minute)
	if granted {
		t.Fatal("Acquire by second user should be denied while lock is held")
	}
	if held.OwnerID != 1 {
		t.Errorf("denial should report current owner 1, got %d", held.OwnerID)
	}

	// Independent content items do not interfere.
	if granted, _ := m.Acquire("c2", 2, time.Minute); !granted {
		t.Error("Acquire on a different content item should be granted")
	}
}

func TestReleaseOnlyByOwner(t *testing.T) {
	m, rec := newTestManager()
	m.Acquire("c1", 1, time.Minute)

	if m.Release("c1", 2) {
		t.Fatal("non-owner must not be able to release the lock")
	}
	if _, ok := m.StatusOf("c1"); !ok {
		t.Fatal("lock should still be held after non-owner release attempt")
	}

	if !m.Release("c1", 1) {
		t.Fatal("owner release should succeed")
	}
	if _, ok := m.StatusOf("c1"); ok {
		t.Error("lock should be absent after owner release")
	}

	// Releasing twice is a defined negative result.
	if m.Release("c1", 1) {
		t.Error("second release should be a no-op")
	}

	events := rec.snapshot()
	if len(events) != 1 {
		t.Fatalf("expected exactly 1 release event, got %d", len(events))
	}
	if events[0].Auto {
		t.Error("explicit release must not be tagged auto")
	}
}

func TestHandoffScenario(t *testing.T) {
	m, _ := newTestManager()

	if granted, _ := m.Acquire("c1", 1, 30*time.Second); !granted {
		t.Fatal("user A should acquire the free lock")
	}
	granted, held := m.Acquire("c1", 2, 30*time.Second)
	if granted {
		t.Fatal("user B should be denied while A holds the lock")
	}
	if held.OwnerID != 1 {
		t.Fatalf("expected reported owner 1, got %d", held.OwnerID)
	}
	if !m.Release("c1", 1) {
		t.Fatal("A's release should succeed")
	}
	if granted, _ := m.Acquire("c1", 2, 30*time.Second); !granted {
		t.Fatal("user B should acquire after A released")
	}
}

func TestAutoExpiry(t *testing.T) {
	m, rec := newTestManager()

	m.Acquire("c1", 1, 30*time.Millisecond)
	time.Sleep(60 * time.Millisecond)

	if _, ok := m.StatusOf("c1"); ok {
		t.Fatal("lock should have expired")
	}

	events := rec.snapshot()
	if len(events) != 1 {
		t.Fatalf("expected exactly one auto-release event, got %d", len(events))
	}
	if !events[0].Auto {
		t.Error("expiry event must be tagged auto")
	}

	// The slot is free for anyone afterwards.
	if granted, _ := m.Acquire("c1", 2, time.Minute); !granted {
		t.Error("Acquire after expiry should be granted")
	}
}

func TestExpireIfStale(t *testing.T) {
	m, rec := newTestManager()

	m.Acquire("c1", 1, time.Minute)
	m.ExpireIfStale("c1")
	if _, ok := m.StatusOf("c1"); !ok {
		t.Fatal("ExpireIfStale must not remove an unexpired lock")
	}
	if len(rec.snapshot()) != 0 {
		t.Errorf("no release events expected for an unexpired lock")
	}
}

func TestRenewalResetsClock(t *testing.T) {
	m, rec := newTestManager()

	m.Acquire("c1", 1, 60*time.Millisecond)
	time.Sleep(40 * time.Millisecond)

	// Renewal by the owner extends validity from now, not from the first acquire.
	granted, lk := m.Acquire("c1", 1, 60*time.Millisecond)
	if !granted {
		t.Fatal("owner renewal should be granted")
	}

	time.Sleep(40 * time.Millisecond) // past the original deadline, before the renewed one
	current, ok := m.StatusOf("c1")
	if !ok {
		t.Fatal("renewed lock should still be held past the original deadline")
	}
	if !current.AcquiredAt.Equal(lk.AcquiredAt) {
		t.Error("status should report the renewed generation")
	}
	if len(rec.snapshot()) != 0 {
		t.Error("no release events expected while renewed lock is live")
	}

	time.Sleep(60 * time.Millisecond)
	if _, ok := m.StatusOf("c1"); ok {
		t.Error("renewed lock should eventually expire")
	}
	events := rec.snapshot()
	if len(events) != 1 || !events[0].Auto {
		t.Errorf("expected a single auto-release after renewal window, got %+v", events)
	}
}

func TestStaleTimerDoesNotFireAfterReleaseAndReacquire(t *testing.T) {
	m, rec := newTestManager()

	m.Acquire("c1", 1, 40*time.Millisecond)
	m.Release("c1", 1)

	// Re-acquire with a long TTL; the original 40ms timer must be dead.
	m.Acquire("c1", 1, time.Minute)
	time.Sleep(80 * time.Millisecond)

	if _, ok := m.StatusOf("c1"); !ok {
		t.Fatal("re-acquired lock was incorrectly expired by a stale timer")
	}

	for _, ev := range rec.snapshot() {
		if ev.Auto {
			t.Errorf("stale timer produced a spurious auto-release: %+v", ev)
		}
	}
}

func TestMutualExclusionUnderConcurrency(t *testing.T) {
	m, _ := newTestManager()
	var wg sync.WaitGroup

	var mu sync.Mutex
	grants := 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			if granted, _ := m.Acquire("c1", userID, time.Minute); granted {
				mu.Lock()
				grants++
				mu.Unlock()
			}
		}(int64(i + 1))
	}
	wg.Wait()

	if grants != 1 {
		t.Errorf("expected exactly one grant among concurrent acquirers, got %d", grants)
	}
}
