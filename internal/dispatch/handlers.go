package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"collabcore/internal/protocol"
)

func (d *Dispatcher) handleInitSession(ctx context.Context, connID uuid.UUID, msg *protocol.Message) {
	if !d.requireContent(connID, msg) {
		return
	}

	exists, err := d.contents.Exists(ctx, msg.ContentID)
	if err != nil {
		d.logger.Error("content store lookup failed", slog.String("contentID", msg.ContentID), slog.Any("error", err))
		d.replyError(connID, protocol.CodeContentUnavailable, "content store unavailable")
		return
	}
	if !exists {
		d.replyError(connID, protocol.CodeUnknownContent, "unknown content item")
		return
	}

	sess := d.tracker.Join(msg.ContentID, msg.UserID, connID)
	activeUsers := d.tracker.ActiveUsersFor(msg.ContentID)

	reply := protocol.NewEvent(protocol.TypeSessionJoined, msg.ContentID, msg.UserID, protocol.SessionJoinedPayload{
		SessionID:   sess.ID.String(),
		ActiveUsers: activeUsers,
	})
	if err := d.cast.ToConnection(connID, reply); err != nil {
		d.logger.Warn("failed to confirm session join", slog.String("connID", connID.String()), slog.Any("error", err))
	}

	joined := protocol.NewEvent(protocol.TypeUserJoined, msg.ContentID, msg.UserID, protocol.PresencePayload{
		SessionID:   sess.ID.String(),
		ActiveUsers: activeUsers,
	})
	d.cast.ToContentExcept(msg.ContentID, joined, msg.UserID)
}

func (d *Dispatcher) handleLeaveSession(connID uuid.UUID, msg *protocol.Message) {
	sessionID := gjson.GetBytes(msg.Payload, "sessionId")
	id, err := uuid.Parse(sessionID.String())
	if err != nil {
		d.replyError(connID, protocol.CodeMalformed, "'leave_session' requires a valid payload.sessionId")
		return
	}

	sess, ok := d.tracker.Get(id)
	if !ok {
		// Already gone; leaving twice is a no-op.
		return
	}
	if sess.UserID != msg.UserID {
		d.replyError(connID, protocol.CodeUnknownSession, "session is not owned by this user")
		return
	}

	if _, removed := d.tracker.Leave(id); !removed {
		return
	}
	left := protocol.NewEvent(protocol.TypeUserLeft, sess.ContentID, msg.UserID, protocol.PresencePayload{
		SessionID:   sess.ID.String(),
		ActiveUsers: d.tracker.ActiveUsersFor(sess.ContentID),
	})
	d.cast.ToContentExcept(sess.ContentID, left, msg.UserID)
}

// handleRelay forwards ephemeral typing_indicator and cursor_position frames
// to every other participant on the content item. Nothing is persisted.
func (d *Dispatcher) handleRelay(connID uuid.UUID, msg *protocol.Message) {
	if !d.requireContent(connID, msg) {
		return
	}
	relay := protocol.NewEvent(msg.Type, msg.ContentID, msg.UserID, msg.Payload)
	d.cast.ToContentExcept(msg.ContentID, relay, msg.UserID)
}

func (d *Dispatcher) handleContentLock(ctx context.Context, connID uuid.UUID, msg *protocol.Message) {
	if !d.requireContent(connID, msg) {
		return
	}

	exists, err := d.contents.Exists(ctx, msg.ContentID)
	if err != nil {
		d.logger.Error("content store lookup failed", slog.String("contentID", msg.ContentID), slog.Any("error", err))
		d.replyError(connID, protocol.CodeContentUnavailable, "content store unavailable")
		return
	}
	if !exists {
		d.replyError(connID, protocol.CodeUnknownContent, "unknown content item")
		return
	}

	if !d.authz.CanEdit(msg.UserID, msg.ContentID) {
		d.replyError(connID, protocol.CodeForbidden, "user may not edit this content item")
		return
	}

	ttl := d.lockTTL.Default
	if secs := gjson.GetBytes(msg.Payload, "ttlSeconds"); secs.Exists() && secs.Int() > 0 {
		ttl = time.Duration(secs.Int()) * time.Second
	}
	if d.lockTTL.Max > 0 && ttl > d.lockTTL.Max {
		ttl = d.lockTTL.Max
	}

	granted, lk := d.locks.Acquire(msg.ContentID, msg.UserID, ttl)
	if !granted {
		denied := protocol.NewEvent(protocol.TypeLockDenied, msg.ContentID, msg.UserID, protocol.DenyPayload{
			Code:      protocol.CodeLockHeld,
			OwnerID:   lk.OwnerID,
			ExpiresAt: lk.ExpiresAt(),
		})
		d.cast.ToContent(msg.ContentID, denied)
		return
	}

	locked := protocol.NewEvent(protocol.TypeContentLocked, msg.ContentID, lk.OwnerID, protocol.LockPayload{
		OwnerID:    lk.OwnerID,
		AcquiredAt: lk.AcquiredAt,
		ExpiresAt:  lk.ExpiresAt(),
	})
	d.cast.ToContent(msg.ContentID, locked)
}

func (d *Dispatcher) handleContentUnlock(connID uuid.UUID, msg *protocol.Message) {
	if !d.requireContent(connID, msg) {
		return
	}

	// A successful release is broadcast by the lock manager's release hook,
	// on the same path TTL expiry takes.
	if d.locks.Release(msg.ContentID, msg.UserID) {
		return
	}

	deny := protocol.DenyPayload{Code: protocol.CodeNotOwner}
	if held, ok := d.locks.StatusOf(msg.ContentID); ok {
		deny.OwnerID = held.OwnerID
		deny.ExpiresAt = held.ExpiresAt()
	}
	denied := protocol.NewEvent(protocol.TypeLockDenied, msg.ContentID, msg.UserID, deny)
	d.cast.ToContent(msg.ContentID, denied)
}

// handleRealTimeSync answers with the current collaboration state of the
// content item, to the requesting connection only.
func (d *Dispatcher) handleRealTimeSync(connID uuid.UUID, msg *protocol.Message) {
	if !d.requireContent(connID, msg) {
		return
	}

	state := protocol.SyncStatePayload{
		ActiveUsers: d.tracker.ActiveUsersFor(msg.ContentID),
	}
	if lk, ok := d.locks.StatusOf(msg.ContentID); ok {
		state.Locked = true
		state.Lock = &protocol.LockPayload{
			OwnerID:    lk.OwnerID,
			AcquiredAt: lk.AcquiredAt,
			ExpiresAt:  lk.ExpiresAt(),
		}
	}

	reply := protocol.NewEvent(protocol.TypeSyncState, msg.ContentID, msg.UserID, state)
	if err := d.cast.ToConnection(connID, reply); err != nil {
		d.logger.Warn("failed to deliver sync state", slog.String("connID", connID.String()), slog.Any("error", err))
	}
}

// handleContextualEvent broadcasts to the whole content audience, optionally
// delayed when the payload carries deliverAfterMs.
func (d *Dispatcher) handleContextualEvent(connID uuid.UUID, msg *protocol.Message) {
	if !d.requireContent(connID, msg) {
		return
	}

	contentID, userID, payload := msg.ContentID, msg.UserID, msg.Payload
	deliver := func() {
		evt := protocol.NewEvent(protocol.TypeContextualEvent, contentID, userID, payload)
		d.cast.ToContent(contentID, evt)
	}

	if delay := gjson.GetBytes(msg.Payload, "deliverAfterMs"); delay.Exists() && delay.Int() > 0 {
		time.AfterFunc(time.Duration(delay.Int())*time.Millisecond, deliver)
		return
	}
	deliver()
}
