package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"collabcore/internal/auth"
	"collabcore/internal/broadcast"
	"collabcore/internal/content"
	"collabcore/internal/lock"
	"collabcore/internal/protocol"
	"collabcore/internal/registry"
	"collabcore/internal/session"
)

// LockTTLConfig bounds the TTL a client may request on content_lock.
type LockTTLConfig struct {
	Default time.Duration
	Max     time.Duration
}

// Dispatcher parses inbound frames and routes them to the handler for their
// type. No error originating from one connection's traffic ever touches
// another connection's state or delivery.
type Dispatcher struct {
	conns    *registry.Registry
	tracker  *session.Tracker
	locks    *lock.Manager
	cast     *broadcast.Broadcaster
	authz    auth.Authorizer
	contents content.Store
	lockTTL  LockTTLConfig

	tracer trace.Tracer
	logger *slog.Logger
}

func New(
	logger *slog.Logger,
	conns *registry.Registry,
	tracker *session.Tracker,
	locks *lock.Manager,
	cast *broadcast.Broadcaster,
	authz auth.Authorizer,
	contents content.Store,
	lockTTL LockTTLConfig,
) *Dispatcher {
	return &Dispatcher{
		conns:    conns,
		tracker:  tracker,
		locks:    locks,
		cast:     cast,
		authz:    authz,
		contents: contents,
		lockTTL:  lockTTL,
		tracer:   otel.Tracer("collabcore/dispatch"),
		logger:   logger.With(slog.String("component", "dispatcher")),
	}
}

// HandleMessage is wired as the transport's message callback. Frames from a
// single connection arrive here in transport order.
func (d *Dispatcher) HandleMessage(ctx context.Context, connID uuid.UUID, raw []byte) {
	msg, err := protocol.Parse(raw)
	if err != nil {
		d.logger.Warn("rejecting malformed message", slog.String("connID", connID.String()), slog.Any("error", err))
		d.replyError(connID, protocol.CodeMalformed, "invalid message")
		return
	}

	ctx, span := d.tracer.Start(ctx, "dispatch",
		trace.WithAttributes(
			attribute.String("message.type", msg.Type),
			attribute.String("conn.id", connID.String()),
		),
	)
	defer span.End()

	entry, ok := d.conns.Get(connID)
	if !ok {
		// Connection torn down between read and dispatch.
		return
	}
	if entry.Identity.UserID != msg.UserID {
		d.logger.Warn("message userId does not match connection identity",
			slog.String("connID", connID.String()),
			slog.Int64("claimed", msg.UserID),
			slog.Int64("bound", entry.Identity.UserID),
		)
		d.replyError(connID, protocol.CodeIdentityMismatch, "userId does not match this connection")
		return
	}

	switch msg.Type {
	case protocol.TypeInitSession:
		d.handleInitSession(ctx, connID, msg)
	case protocol.TypeLeaveSession:
		d.handleLeaveSession(connID, msg)
	case protocol.TypeTypingIndicator, protocol.TypeCursorPosition:
		d.handleRelay(connID, msg)
	case protocol.TypeContentLock:
		d.handleContentLock(ctx, connID, msg)
	case protocol.TypeContentUnlock:
		d.handleContentUnlock(connID, msg)
	case protocol.TypeRealTimeSync:
		d.handleRealTimeSync(connID, msg)
	case protocol.TypeContextualEvent:
		d.handleContextualEvent(connID, msg)
	default:
		d.logger.Warn("dropping message of unknown type",
			slog.String("type", msg.Type),
			slog.String("connID", connID.String()),
		)
	}
}

// replyError sends a structured protocol_error to the originating connection
// only. A vanished connection is not an error here.
func (d *Dispatcher) replyError(connID uuid.UUID, code, detail string) {
	evt := protocol.NewEvent(protocol.TypeProtocolError, "", 0, protocol.ErrorPayload{
		Code:    code,
		Message: detail,
	})
	if err := d.cast.ToConnection(connID, evt); err != nil && !errors.Is(err, broadcast.ErrConnectionGone) {
		d.logger.Warn("failed to deliver protocol error", slog.String("connID", connID.String()), slog.Any("error", err))
	}
}

// requireContent enforces that a content-scoped message carries a contentId.
func (d *Dispatcher) requireContent(connID uuid.UUID, msg *protocol.Message) bool {
	if msg.ContentID == "" {
		d.replyError(connID, protocol.CodeMissingContent, "'"+msg.Type+"' requires a contentId")
		return false
	}
	return true
}
