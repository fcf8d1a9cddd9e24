package errors

import "errors"

// Reconciliation errors.
var (
	ErrNoActiveSession = errors.New("no active peer session")
	ErrPushAbandoned   = errors.New("read sync push abandoned")
)

// Transport errors.
var (
	ErrListenerUnavailable = errors.New("listener unavailable")
	ErrSessionClosed       = errors.New("session closed")
)
