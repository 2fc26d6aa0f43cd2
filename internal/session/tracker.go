package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session is one user's live participation in a content item. It stays bound
// to the same content item, user and connection for its whole lifetime.
type Session struct {
	ID        uuid.UUID
	ContentID string
	UserID    int64
	ConnID    uuid.UUID
	JoinedAt  time.Time
}

// Tracker maps content items to their subscribed sessions, users to the
// sessions they own, and connections to the sessions they carry.
type Tracker struct {
	mu        sync.RWMutex
	sessions  map[uuid.UUID]*Session
	byContent map[string]map[uuid.UUID]*Session
	byUser    map[int64]map[uuid.UUID]*Session
	byConn    map[uuid.UUID]map[uuid.UUID]*Session

	logger *slog.Logger
}

func NewTracker(logger *slog.Logger) *Tracker {
	return &Tracker{
		sessions:  make(map[uuid.UUID]*Session),
		byContent: make(map[string]map[uuid.UUID]*Session),
		byUser:    make(map[int64]map[uuid.UUID]*Session),
		byConn:    make(map[uuid.UUID]map[uuid.UUID]*Session),
		logger:    logger.With(slog.String("component", "session_tracker")),
	}
}

// Join creates a session for the user on the content item. Multiple sessions
// per user per content item are allowed (multi-tab, multi-device).
func (t *Tracker) Join(contentID string, userID int64, connID uuid.UUID) *Session {
	t.mu.Lock()
	defer t.mu.Unlock()

	sess := &Session{
		ID:        uuid.New(),
		ContentID: contentID,
		UserID:    userID,
		ConnID:    connID,
		JoinedAt:  time.Now(),
	}

	t.sessions[sess.ID] = sess
	index(t.byContent, contentID, sess)
	index(t.byUser, userID, sess)
	index(t.byConn, connID, sess)

	t.logger.Debug("session joined",
		slog.String("sessionID", sess.ID.String()),
		slog.String("contentID", contentID),
		slog.Int64("userID", userID),
	)
	return sess
}

// Leave removes the session from every index. Leaving twice is a no-op; the
// return reports whether the session existed.
func (t *Tracker) Leave(sessionID uuid.UUID) (*Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	sess, ok := t.sessions[sessionID]
	if !ok {
		return nil, false
	}
	t.removeLocked(sess)
	return sess, true
}

// RemoveByConnection drops every session carried by the connection and
// returns them so callers can emit presence events. Used by the Connection
// Registry's cascade cleanup.
func (t *Tracker) RemoveByConnection(connID uuid.UUID) []*Session {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := make([]*Session, 0, len(t.byConn[connID]))
	for _, sess := range t.byConn[connID] {
		removed = append(removed, sess)
	}
	for _, sess := range removed {
		t.removeLocked(sess)
	}
	return removed
}

// Get looks up a session by id.
func (t *Tracker) Get(sessionID uuid.UUID) (*Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	sess, ok := t.sessions[sessionID]
	return sess, ok
}

// ActiveSessionsFor snapshots the sessions subscribed to a content item.
func (t *Tracker) ActiveSessionsFor(contentID string) []*Session {
	t.mu.RLock()
	defer t.mu.RUnlock()

	set := t.byContent[contentID]
	sessions := make([]*Session, 0, len(set))
	for _, sess := range set {
		sessions = append(sessions, sess)
	}
	return sessions
}

// ActiveUsersFor lists the distinct users with at least one session on the
// content item.
func (t *Tracker) ActiveUsersFor(contentID string) []int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	seen := make(map[int64]struct{})
	users := make([]int64, 0)
	for _, sess := range t.byContent[contentID] {
		if _, ok := seen[sess.UserID]; ok {
			continue
		}
		seen[sess.UserID] = struct{}{}
		users = append(users, sess.UserID)
	}
	return users
}

// SessionsOf snapshots the sessions a user owns across all content items.
func (t *Tracker) SessionsOf(userID int64) []*Session {
	t.mu.RLock()
	defer t.mu.RUnlock()

	set := t.byUser[userID]
	sessions := make([]*Session, 0, len(set))
	for _, sess := range set {
		sessions = append(sessions, sess)
	}
	return sessions
}

func index[K comparable](m map[K]map[uuid.UUID]*Session, key K, sess *Session) {
	set := m[key]
	if set == nil {
		set = make(map[uuid.UUID]*Session)
		m[key] = set
	}
	set[sess.ID] = sess
}

func (t *Tracker) removeLocked(sess *Session) {
	delete(t.sessions, sess.ID)
	unindex(t.byContent, sess.ContentID, sess.ID)
	unindex(t.byUser, sess.UserID, sess.ID)
	unindex(t.byConn, sess.ConnID, sess.ID)

	t.logger.Debug("session removed",
		slog.String("sessionID", sess.ID.String()),
		slog.String("contentID", sess.ContentID),
	)
}

// unindex deletes the session from one secondary index and drops the set
// once it is empty, for memory hygiene.
func unindex[K comparable](m map[K]map[uuid.UUID]*Session, key K, sessionID uuid.UUID) {
	set := m[key]
	if set == nil {
		return
	}
	delete(set, sessionID)
	if len(set) == 0 {
		delete(m, key)
	}
}
