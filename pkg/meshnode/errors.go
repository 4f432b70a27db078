package meshnode

import "errors"

var (
	// ErrTimeoutExpired is recorded when a dispatched job outlives its TTL.
	ErrTimeoutExpired = errors.New("timeout_expired")
	// ErrNotStarted is returned by operations that need a running node.
	ErrNotStarted = errors.New("mesh node is not started")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("mesh node is closed")
)
