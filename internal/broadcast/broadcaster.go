package broadcast

import (
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"collabcore/internal/protocol"
	"collabcore/internal/registry"
	"collabcore/internal/session"
)

// ErrConnectionGone marks a point-to-point send whose target connection no
// longer exists. Logged and dropped by callers, never fatal.
var ErrConnectionGone = errors.New("connection gone")

// Broadcaster delivers events to exactly the connections backing sessions
// subscribed to a content item. Delivery is best-effort, at most once per
// connection per call; dead connections are treated as pending cleanup.
type Broadcaster struct {
	conns    *registry.Registry
	sessions *session.Tracker

	logger *slog.Logger
}

func New(logger *slog.Logger, conns *registry.Registry, sessions *session.Tracker) *Broadcaster {
	return &Broadcaster{
		conns:    conns,
		sessions: sessions,
		logger:   logger.With(slog.String("component", "broadcast")),
	}
}

// ToContent fans the event out to every live connection with a session on
// the content item.
func (b *Broadcaster) ToContent(contentID string, evt *protocol.Message) {
	b.fanOut(contentID, evt, nil)
}

// ToContentExcept fans out while skipping sessions owned by excludeUserID,
// used for relays that must not echo back to the sender.
func (b *Broadcaster) ToContentExcept(contentID string, evt *protocol.Message, excludeUserID int64) {
	b.fanOut(contentID, evt, &excludeUserID)
}

func (b *Broadcaster) fanOut(contentID string, evt *protocol.Message, excludeUserID *int64) {
	payload, err := evt.Encode()
	if err != nil {
		b.logger.Error("failed to encode broadcast event", slog.String("type", evt.Type), slog.Any("error", err))
		return
	}

	// A user with several sessions on the item still gets one copy per
	// connection, not per session.
	targets := make(map[uuid.UUID]struct{})
	for _, sess := range b.sessions.ActiveSessionsFor(contentID) {
		if excludeUserID != nil && sess.UserID == *excludeUserID {
			continue
		}
		targets[sess.ConnID] = struct{}{}
	}

	for connID := range targets {
		entry, ok := b.conns.Get(connID)
		if !ok {
			// Connection already torn down, its sessions are pending cleanup.
			continue
		}
		if !entry.Transport.Send(payload) {
			b.logger.Warn("dropped broadcast to slow or closed connection",
				slog.String("connID", connID.String()),
				slog.String("type", evt.Type),
			)
		}
	}
}

// ToConnection is the point-to-point variant used for direct replies.
func (b *Broadcaster) ToConnection(connID uuid.UUID, evt *protocol.Message) error {
	payload, err := evt.Encode()
	if err != nil {
		return err
	}
	entry, ok := b.conns.Get(connID)
	if !ok {
		return ErrConnectionGone
	}
	if !entry.Transport.Send(payload) {
		return ErrConnectionGone
	}
	return nil
}
