package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
)

// Inbound message types.
const (
	TypeInitSession     = "init_session"
	TypeLeaveSession    = "leave_session"
	TypeTypingIndicator = "typing_indicator"
	TypeCursorPosition  = "cursor_position"
	TypeRealTimeSync    = "real_time_sync"
	TypeContentLock     = "content_lock"
	TypeContentUnlock   = "content_unlock"
	TypeContextualEvent = "contextual_event"
)

// Outbound event types.
const (
	TypeWelcome         = "welcome"
	TypeSessionJoined   = "session_joined"
	TypeUserJoined      = "user_joined"
	TypeUserLeft        = "user_left"
	TypeContentLocked   = "content_locked"
	TypeContentUnlocked = "content_unlocked"
	TypeLockDenied      = "lock_denied"
	TypeSyncState       = "sync_state"
	TypeProtocolError   = "protocol_error"
)

// Message is the typed envelope exchanged over a connection, in both
// directions. ContentID is absent for connection-scoped messages.
type Message struct {
	Type      string          `json:"type"`
	ContentID string          `json:"contentId,omitempty"`
	UserID    int64           `json:"userId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Parse validates the structural shape of a raw inbound frame and decodes
// it. Failures wrap ErrMalformedMessage; the caller replies with a protocol
// error and keeps the connection open.
func Parse(raw []byte) (*Message, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("%w: not valid json", ErrMalformedMessage)
	}

	typ := gjson.GetBytes(raw, "type")
	if !typ.Exists() || typ.Type != gjson.String || typ.String() == "" {
		return nil, fmt.Errorf("%w: missing or non-string 'type'", ErrMalformedMessage)
	}
	userID := gjson.GetBytes(raw, "userId")
	if !userID.Exists() || userID.Type != gjson.Number {
		return nil, fmt.Errorf("%w: missing or non-numeric 'userId'", ErrMalformedMessage)
	}
	if contentID := gjson.GetBytes(raw, "contentId"); contentID.Exists() && contentID.Type != gjson.String {
		return nil, fmt.Errorf("%w: non-string 'contentId'", ErrMalformedMessage)
	}

	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	return &msg, nil
}

// NewEvent builds an outbound envelope with a server-side timestamp. The
// payload must be marshalable; event payloads are all locally defined
// structs, so a marshal failure is a programming error and yields an empty
// payload rather than a dropped event.
func NewEvent(typ, contentID string, userID int64, payload any) *Message {
	var raw json.RawMessage
	if payload != nil {
		if b, err := json.Marshal(payload); err == nil {
			raw = b
		}
	}
	return &Message{
		Type:      typ,
		ContentID: contentID,
		UserID:    userID,
		Payload:   raw,
		Timestamp: time.Now().UTC(),
	}
}

// Encode serializes the envelope for the wire.
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}
