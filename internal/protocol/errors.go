package protocol

import "errors"

// ErrMalformedMessage marks inbound frames that fail structural validation.
// It is recovered locally: the sender gets a protocol_error reply and the
// connection stays open.
var ErrMalformedMessage = errors.New("malformed message")

// Error codes carried in protocol_error and lock_denied payloads.
const (
	CodeMalformed          = "malformed_message"
	CodeIdentityMismatch   = "identity_mismatch"
	CodeMissingContent     = "missing_content_id"
	CodeUnknownContent     = "unknown_content"
	CodeContentUnavailable = "content_unavailable"
	CodeForbidden          = "forbidden"
	CodeLockHeld           = "lock_held"
	CodeNotOwner           = "not_owner"
	CodeUnknownSession     = "unknown_session"
)
