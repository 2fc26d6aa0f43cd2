package registry

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"collabcore/internal/auth"
)

// Transport is the send/close surface the registry needs from a live
// connection. Satisfied by *transport.Connection.
type Transport interface {
	ID() uuid.UUID
	Send(message []byte) bool
	Close(err error)
}

// Identity is the authenticated principal bound to a connection at admission.
type Identity struct {
	UserID int64
	Perms  auth.Permission
}

// Entry is one admitted connection.
type Entry struct {
	ID         uuid.UUID
	RemoteAddr string
	Transport  Transport
	Identity   Identity
	AdmittedAt time.Time
}

// CleanupFunc is invoked synchronously after a connection is removed, so
// dependent state (sessions) can be cascaded away.
type CleanupFunc func(connID uuid.UUID)

// Registry owns the set of live connections. It is the only component that
// maps connection ids to transports.
type Registry struct {
	mu     sync.RWMutex
	conns  map[uuid.UUID]*Entry
	byUser map[int64]map[uuid.UUID]*Entry

	onRemove CleanupFunc

	logger *slog.Logger
}

func New(logger *slog.Logger) *Registry {
	return &Registry{
		conns:  make(map[uuid.UUID]*Entry),
		byUser: make(map[int64]map[uuid.UUID]*Entry),
		logger: logger.With(slog.String("component", "connection_registry")),
	}
}

// OnRemove registers the cascade-cleanup hook. Must be set before traffic
// starts; removal with no hook is still valid.
func (r *Registry) OnRemove(fn CleanupFunc) {
	r.onRemove = fn
}

// Admit stores the connection under its transport id and binds the
// authenticated identity to it.
func (r *Registry) Admit(t Transport, remoteAddr string, ident Identity) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	connID := t.ID()
	if _, exists := r.conns[connID]; exists {
		return nil, errors.New("connection is already admitted")
	}

	entry := &Entry{
		ID:         connID,
		RemoteAddr: remoteAddr,
		Transport:  t,
		Identity:   ident,
		AdmittedAt: time.Now(),
	}
	r.conns[connID] = entry

	userConns := r.byUser[ident.UserID]
	if userConns == nil {
		userConns = make(map[uuid.UUID]*Entry)
		r.byUser[ident.UserID] = userConns
	}
	userConns[connID] = entry

	r.logger.Debug("connection admitted", slog.String("connID", connID.String()), slog.Int64("userID", ident.UserID))
	return entry, nil
}

// Remove drops the connection and synchronously fires the cascade hook.
// Removing an unknown connection is a no-op.
func (r *Registry) Remove(connID uuid.UUID) {
	r.mu.Lock()
	entry, ok := r.conns[connID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.conns, connID)
	if userConns := r.byUser[entry.Identity.UserID]; userConns != nil {
		delete(userConns, connID)
		if len(userConns) == 0 {
			delete(r.byUser, entry.Identity.UserID)
		}
	}
	r.mu.Unlock()

	if r.onRemove != nil {
		r.onRemove(connID)
	}
	r.logger.Debug("connection removed", slog.String("connID", connID.String()))
}

func (r *Registry) Get(connID uuid.UUID) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.conns[connID]
	return entry, ok
}

// PermissionsFor returns the union of permissions across the user's live
// connections. False when the user has none.
func (r *Registry) PermissionsFor(userID int64) (auth.Permission, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	userConns, ok := r.byUser[userID]
	if !ok || len(userConns) == 0 {
		return 0, false
	}
	var perms auth.Permission
	for _, entry := range userConns {
		perms |= entry.Identity.Perms
	}
	return perms, true
}

// ConnectionCount reports how many live connections a user holds.
func (r *Registry) ConnectionCount(userID int64) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID])
}

// OldestFor finds the user's longest-lived connection, used by the
// connection-cycling limiter.
func (r *Registry) OldestFor(userID int64) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var oldest *Entry
	for _, entry := range r.byUser[userID] {
		if oldest == nil || entry.AdmittedAt.Before(oldest.AdmittedAt) {
			oldest = entry
		}
	}
	return oldest, oldest != nil
}

// All snapshots every live entry, used during graceful shutdown.
func (r *Registry) All() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]*Entry, 0, len(r.conns))
	for _, entry := range r.conns {
		entries = append(entries, entry)
	}
	return entries
}
