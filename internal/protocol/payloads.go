package protocol

import "time"

// WelcomePayload is sent once, immediately after a connection is admitted.
type WelcomePayload struct {
	ConnectionID string `json:"connectionId"`
}

// SessionJoinedPayload answers an init_session request.
type SessionJoinedPayload struct {
	SessionID   string  `json:"sessionId"`
	ActiveUsers []int64 `json:"activeUsers"`
}

// PresencePayload rides user_joined and user_left broadcasts.
type PresencePayload struct {
	SessionID   string  `json:"sessionId"`
	ActiveUsers []int64 `json:"activeUsers"`
}

// LockPayload describes the lock state behind content_locked,
// content_unlocked and lock_denied events. Auto distinguishes a TTL expiry
// from an explicit release.
type LockPayload struct {
	OwnerID    int64     `json:"ownerId"`
	AcquiredAt time.Time `json:"acquiredAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
	Auto       bool      `json:"auto,omitempty"`
}

// DenyPayload rides lock_denied events. OwnerID and ExpiresAt identify the
// current holder when one exists, so the client can render
// "locked by X until T".
type DenyPayload struct {
	Code      string    `json:"code"`
	OwnerID   int64     `json:"ownerId,omitempty"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
}

// SyncStatePayload is the point-to-point answer to real_time_sync.
type SyncStatePayload struct {
	ActiveUsers []int64      `json:"activeUsers"`
	Locked      bool         `json:"locked"`
	Lock        *LockPayload `json:"lock,omitempty"`
}

// ErrorPayload is the structured negative reply the client can render.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
