package broadcast_test

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"

	"collabcore/internal/broadcast"
	"collabcore/internal/protocol"
	"collabcore/internal/registry"
	"collabcore/internal/session"
)

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

type fakeConn struct {
	id   uuid.UUID
	mu   sync.Mutex
	sent [][]byte
	dead bool
}

func newFakeConn() *fakeConn { return &fakeConn{id: uuid.New()} }

func (f *fakeConn) ID() uuid.UUID { return f.id }

func (f *fakeConn) Send(msg []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dead {
		return false
	}
	f.sent = append(f.sent, msg)
	return true
}

func (f *fakeConn) Close(err error) {}

func (f *fakeConn) received(t *testing.T) []protocol.Message {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := make([]protocol.Message, 0, len(f.sent))
	for _, raw := range f.sent {
		var msg protocol.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("received frame is not a valid envelope: %v", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs
}

type fixture struct {
	conns   *registry.Registry
	tracker *session.Tracker
	cast    *broadcast.Broadcaster
}

func newFixture() *fixture {
	logger := newTestLogger()
	conns := registry.New(logger)
	tracker := session.NewTracker(logger)
	return &fixture{
		conns:   conns,
		tracker: tracker,
		cast:    broadcast.New(logger, conns, tracker),
	}
}

func (fx *fixture) connect(t *testing.T, userID int64) *fakeConn {
	t.Helper()
	conn := newFakeConn()
	if _, err := fx.conns.Admit(conn, "127.0.0.1", registry.Identity{UserID: userID}); err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	return conn
}

func TestBroadcastIsScopedToContent(t *testing.T) {
	fx := newFixture()
	connA := fx.connect(t, 1)
	connB := fx.connect(t, 2)
	connC := fx.connect(t, 3)

	fx.tracker.Join("c1", 1, connA.ID())
	fx.tracker.Join("c1", 2, connB.ID())
	fx.tracker.Join("c2", 3, connC.ID())

	fx.cast.ToContent("c1", protocol.NewEvent(protocol.TypeContextualEvent, "c1", 1, nil))

	if got := len(connA.received(t)); got != 1 {
		t.Errorf("connA on c1 expected 1 message, got %d", got)
	}
	if got := len(connB.received(t)); got != 1 {
		t.Errorf("connB on c1 expected 1 message, got %d", got)
	}
	if got := len(connC.received(t)); got != 0 {
		t.Errorf("connC on c2 must not receive c1 traffic, got %d messages", got)
	}
}

func TestBroadcastDeduplicatesConnections(t *testing.T) {
	fx := newFixture()
	conn := fx.connect(t, 1)

	// Two sessions on the same item over one connection: one copy, not two.
	fx.tracker.Join("c1", 1, conn.ID())
	fx.tracker.Join("c1", 1, conn.ID())

	fx.cast.ToContent("c1", protocol.NewEvent(protocol.TypeContextualEvent, "c1", 1, nil))

	if got := len(conn.received(t)); got != 1 {
		t.Errorf("expected a single deduplicated copy, got %d", got)
	}
}

func TestBroadcastExcludesSender(t *testing.T) {
	fx := newFixture()
	connA := fx.connect(t, 1)
	connB := fx.connect(t, 2)

	fx.tracker.Join("c1", 1, connA.ID())
	fx.tracker.Join("c1", 2, connB.ID())

	fx.cast.ToContentExcept("c1", protocol.NewEvent(protocol.TypeTypingIndicator, "c1", 1, nil), 1)

	if got := len(connA.received(t)); got != 0 {
		t.Errorf("sender must not receive its own relay, got %d messages", got)
	}
	if got := len(connB.received(t)); got != 1 {
		t.Errorf("other participant expected 1 message, got %d", got)
	}
}

func TestBroadcastSkipsDeadConnections(t *testing.T) {
	fx := newFixture()
	live := fx.connect(t, 1)
	gone := fx.connect(t, 2)

	fx.tracker.Join("c1", 1, live.ID())
	fx.tracker.Join("c1", 2, gone.ID())

	// Simulate a connection torn down whose sessions are still pending
	// cleanup: drop it from the registry but leave the tracker alone.
	fx.conns.Remove(gone.ID())

	fx.cast.ToContent("c1", protocol.NewEvent(protocol.TypeContextualEvent, "c1", 1, nil))

	if got := len(live.received(t)); got != 1 {
		t.Errorf("live connection expected 1 message, got %d", got)
	}
	if got := len(gone.received(t)); got != 0 {
		t.Errorf("removed connection must be skipped, got %d messages", got)
	}
}

func TestToConnection(t *testing.T) {
	fx := newFixture()
	conn := fx.connect(t, 1)

	if err := fx.cast.ToConnection(conn.ID(), protocol.NewEvent(protocol.TypeSyncState, "c1", 1, nil)); err != nil {
		t.Fatalf("ToConnection failed: %v", err)
	}
	if got := len(conn.received(t)); got != 1 {
		t.Fatalf("expected 1 direct message, got %d", got)
	}

	if err := fx.cast.ToConnection(uuid.New(), protocol.NewEvent(protocol.TypeSyncState, "c1", 1, nil)); !errors.Is(err, broadcast.ErrConnectionGone) {
		t.Errorf("expected ErrConnectionGone for unknown target, got %v", err)
	}
}
