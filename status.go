package txpc

import "errors"

// Status is the tri-state result surfaced by the relay's public calls.
type Status int

const (
	// StatusDone reports that the operation completed, or made progress
	// and the caller need not call again immediately.
	StatusDone Status = iota
	// StatusInflight reports that the operation is still in progress;
	// the caller should invoke the corresponding *_continue again once
	// the transport is ready.
	StatusInflight
	// StatusBadState reports an unrecoverable condition for this call:
	// a nil context, or a required callback not configured.
	StatusBadState
)

func (s Status) String() string {
	switch s {
	case StatusDone:
		return "DONE"
	case StatusInflight:
		return "INFLIGHT"
	case StatusBadState:
		return "BAD_STATE"
	default:
		return "UNKNOWN"
	}
}

// Sentinel errors for callers to match with errors.Is. No package in
// this module returns or wraps them; the relay reports failures through
// Status values instead.
var (
	ErrBadState       = errors.New("txpc: bad state")
	ErrNoRoute        = errors.New("txpc: no route")
	ErrQueueExhausted = errors.New("txpc: message queue exhausted")
	ErrNilRelay       = errors.New("txpc: nil relay")
)
