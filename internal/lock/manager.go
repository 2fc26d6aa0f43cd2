package lock

import (
	"log/slog"
	"sync"
	"time"
)

// Lock is the mutual-exclusion token for editing one content item.
type Lock struct {
	ContentID  string
	OwnerID    int64
	AcquiredAt time.Time
	TTL        time.Duration
}

func (l Lock) ExpiresAt() time.Time {
	return l.AcquiredAt.Add(l.TTL)
}

// ReleaseEvent describes a lock leaving the Locked state. Auto is true when
// the TTL expired, false on an explicit release by the owner.
type ReleaseEvent struct {
	Lock Lock
	Auto bool
}

// ReleaseFunc receives every release, explicit and automatic, so the unlock
// notification contract is identical for both paths.
type ReleaseFunc func(ev ReleaseEvent)

type entry struct {
	lock  Lock
	timer *time.Timer
}

// Manager is the single writer of lock state: at most one outstanding lock
// per content item, held by exactly one user at a time.
type Manager struct {
	mu        sync.Mutex
	locks     map[string]*entry
	onRelease ReleaseFunc

	logger *slog.Logger
}

func NewManager(logger *slog.Logger, onRelease ReleaseFunc) *Manager {
	return &Manager{
		locks:     make(map[string]*entry),
		onRelease: onRelease,
		logger:    logger.With(slog.String("component", "lock_manager")),
	}
}

// Acquire grants the lock if the content item is unlocked or already held by
// the same user (re-entrant renewal, which resets the TTL clock). On denial
// it returns the holder's lock so the caller can report who owns it.
func (m *Manager) Acquire(contentID string, userID int64, ttl time.Duration) (bool, Lock) {
	now := time.Now()

	m.mu.Lock()
	m.expireLocked(contentID, now)

	if e, ok := m.locks[contentID]; ok {
		if e.lock.OwnerID != userID {
			held := e.lock
			m.mu.Unlock()
			return false, held
		}
		// Renewal by the current owner. The old timer is disarmed so it
		// cannot fire against the refreshed generation.
		e.timer.Stop()
		e.lock.AcquiredAt = now
		e.lock.TTL = ttl
		e.timer = m.armLocked(contentID, now, ttl)
		granted := e.lock
		m.mu.Unlock()

		m.logger.Debug("lock renewed", slog.String("contentID", contentID), slog.Int64("ownerID", userID))
		return true, granted
	}

	e := &entry{
		lock: Lock{
			ContentID:  contentID,
			OwnerID:    userID,
			AcquiredAt: now,
			TTL:        ttl,
		},
	}
	e.timer = m.armLocked(contentID, now, ttl)
	m.locks[contentID] = e
	granted := e.lock
	m.mu.Unlock()

	m.logger.Debug("lock granted", slog.String("contentID", contentID), slog.Int64("ownerID", userID))
	return true, granted
}

// Release removes the lock only when the caller is the current owner. A
// non-owner release is a defined negative result, not an error.
func (m *Manager) Release(contentID string, userID int64) bool {
	m.mu.Lock()
	e, ok := m.locks[contentID]
	if !ok || e.lock.OwnerID != userID {
		m.mu.Unlock()
		return false
	}
	e.timer.Stop()
	delete(m.locks, contentID)
	released := e.lock
	m.mu.Unlock()

	m.logger.Debug("lock released", slog.String("contentID", contentID), slog.Int64("ownerID", userID))
	m.notify(ReleaseEvent{Lock: released})
	return true
}

// StatusOf reports the current lock, expiring it lazily first.
func (m *Manager) StatusOf(contentID string) (Lock, bool) {
	m.mu.Lock()
	m.expireLocked(contentID, time.Now())
	e, ok := m.locks[contentID]
	if !ok {
		m.mu.Unlock()
		return Lock{}, false
	}
	current := e.lock
	m.mu.Unlock()
	return current, true
}

// ExpireIfStale removes the lock if its TTL has elapsed. Normally the armed
// timer gets there first; this is the lazy path for callers that want the
// check on demand.
func (m *Manager) ExpireIfStale(contentID string) {
	m.mu.Lock()
	m.expireLocked(contentID, time.Now())
	m.mu.Unlock()
}

// armLocked schedules the auto-expiry for the generation identified by
// acquiredAt. The fired callback re-checks the generation, so a timer left
// over from a released or renewed lock is a no-op.
func (m *Manager) armLocked(contentID string, acquiredAt time.Time, ttl time.Duration) *time.Timer {
	return time.AfterFunc(ttl, func() {
		m.expireGeneration(contentID, acquiredAt)
	})
}

func (m *Manager) expireGeneration(contentID string, acquiredAt time.Time) {
	m.mu.Lock()
	e, ok := m.locks[contentID]
	if !ok || !e.lock.AcquiredAt.Equal(acquiredAt) {
		m.mu.Unlock()
		return
	}
	delete(m.locks, contentID)
	expired := e.lock
	m.mu.Unlock()

	m.logger.Info("lock auto-expired",
		slog.String("contentID", contentID),
		slog.Int64("ownerID", expired.OwnerID),
	)
	m.notify(ReleaseEvent{Lock: expired, Auto: true})
}

// expireLocked is the lazy variant of expiry, called with m.mu held. The
// release notification is deferred until after the caller's critical
// section via a goroutine to keep the callback free to re-enter the manager.
func (m *Manager) expireLocked(contentID string, now time.Time) {
	e, ok := m.locks[contentID]
	if !ok {
		return
	}
	if now.Sub(e.lock.AcquiredAt) < e.lock.TTL {
		return
	}
	e.timer.Stop()
	delete(m.locks, contentID)
	expired := e.lock

	m.logger.Info("lock auto-expired",
		slog.String("contentID", contentID),
		slog.Int64("ownerID", expired.OwnerID),
	)
	go m.notify(ReleaseEvent{Lock: expired, Auto: true})
}

func (m *Manager) notify(ev ReleaseEvent) {
	if m.onRelease != nil {
		m.onRelease(ev)
	}
}
