package rpc

import "github.com/pkg/errors"

// ErrTimeout is returned by Invoke when no matching reply arrived before
// the deadline. The call may still be processed by the responder.
var ErrTimeout = errors.New("rpc: no reply within timeout")

// ErrMalformedEnvelope is reported for call bodies that cannot be decoded.
var ErrMalformedEnvelope = errors.New("rpc: malformed envelope")

// ErrDuplicateCall is returned when a correlation id is already pending.
var ErrDuplicateCall = errors.New("rpc: correlation id already pending")
