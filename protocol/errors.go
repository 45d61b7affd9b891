package protocol

import "errors"

// Every error returned by this module wraps exactly one of these, so callers
// can branch with errors.Is.
var (
	// ErrInvalidArgument means the caller passed malformed or missing input.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrProtocol means the device sent a structurally invalid message, or
	// rejected ours. The connection should usually be abandoned.
	ErrProtocol = errors.New("protocol error")

	// ErrReplyMismatch means the device answered with a message other than
	// the one expected.
	ErrReplyMismatch = errors.New("reply mismatch")

	// ErrTransport means the device link failed to move data.
	ErrTransport = errors.New("transport error")

	// ErrUnknown is used for link failures that cannot be classified.
	ErrUnknown = errors.New("unknown error")
)
