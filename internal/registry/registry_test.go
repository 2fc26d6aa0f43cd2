package registry_test

import (
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"collabcore/internal/auth"
	"collabcore/internal/registry"
)

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

type fakeConn struct {
	id     uuid.UUID
	mu     sync.Mutex
	sent   [][]byte
	closed bool
}

func newFakeConn() *fakeConn { return &fakeConn{id: uuid.New()} }

func (f *fakeConn) ID() uuid.UUID { return f.id }

func (f *fakeConn) Send(msg []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	f.sent = append(f.sent, msg)
	return true
}

func (f *fakeConn) Close(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func TestAdmitGetRemove(t *testing.T) {
	r := registry.New(newTestLogger())
	conn := newFakeConn()

	entry, err := r.Admit(conn, "127.0.0.1", registry.Identity{UserID: 1})
	if err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	if entry.ID != conn.ID() {
		t.Errorf("admitted entry ID mismatch")
	}

	got, found := r.Get(conn.ID())
	if !found {
		t.Fatal("Get failed to find admitted connection")
	}
	if got.Identity.UserID != 1 {
		t.Errorf("expected bound userID 1, got %d", got.Identity.UserID)
	}

	if _, err := r.Admit(conn, "127.0.0.1", registry.Identity{UserID: 1}); err == nil {
		t.Error("expected duplicate Admit to fail")
	}

	r.Remove(conn.ID())
	if _, found := r.Get(conn.ID()); found {
		t.Error("found connection after it should have been removed")
	}
}

func TestRemoveIsIdempotentAndFiresCleanupOnce(t *testing.T) {
	r := registry.New(newTestLogger())
	conn := newFakeConn()

	cleanups := 0
	r.OnRemove(func(connID uuid.UUID) {
		if connID != conn.ID() {
			t.Errorf("cleanup fired with wrong connID %s", connID)
		}
		cleanups++
	})

	r.Admit(conn, "1.1.1.1", registry.Identity{UserID: 7})
	r.Remove(conn.ID())
	r.Remove(conn.ID())

	if cleanups != 1 {
		t.Errorf("expected cleanup hook to fire exactly once, fired %d times", cleanups)
	}
}

func TestConnectionCountAndOldest(t *testing.T) {
	r := registry.New(newTestLogger())
	conn1 := newFakeConn()
	conn2 := newFakeConn()

	r.Admit(conn1, "1.1.1.1", registry.Identity{UserID: 42})
	time.Sleep(5 * time.Millisecond) // Ensure timestamps are different
	r.Admit(conn2, "2.2.2.2", registry.Identity{UserID: 42})

	if count := r.ConnectionCount(42); count != 2 {
		t.Errorf("expected connection count 2, got %d", count)
	}

	oldest, found := r.OldestFor(42)
	if !found {
		t.Fatal("expected to find oldest connection, but did not")
	}
	if oldest.ID != conn1.ID() {
		t.Errorf("expected oldest connection to be %s, got %s", conn1.ID(), oldest.ID)
	}

	r.Remove(conn1.ID())
	if count := r.ConnectionCount(42); count != 1 {
		t.Errorf("expected connection count 1 after remove, got %d", count)
	}
}

func TestPermissionsForUnionsAcrossConnections(t *testing.T) {
	r := registry.New(newTestLogger())
	conn1 := newFakeConn()
	conn2 := newFakeConn()

	r.Admit(conn1, "1.1.1.1", registry.Identity{UserID: 9, Perms: auth.PermView})
	r.Admit(conn2, "2.2.2.2", registry.Identity{UserID: 9, Perms: auth.PermEdit})

	perms, ok := r.PermissionsFor(9)
	if !ok {
		t.Fatal("expected permissions for user with live connections")
	}
	if !perms.Has(auth.PermView) || !perms.Has(auth.PermEdit) {
		t.Errorf("expected union of view and edit, got %b", perms)
	}

	if _, ok := r.PermissionsFor(404); ok {
		t.Error("expected no permissions for unknown user")
	}
}
