package meshbridge

import (
	"errors"
	"fmt"

	"github.com/rmacdonaldsmith/retasync-go/pkg/envelope"
)

var (
	// ErrTransportUnavailable means no path to the destination was reachable.
	ErrTransportUnavailable = errors.New("mesh transport unavailable")

	// ErrReceiptNotFound means the daemon holds no receipt for a message id.
	ErrReceiptNotFound = errors.New("receipt not found")

	// ErrClosed is returned by a bridge after Close.
	ErrClosed = errors.New("bridge closed")
)

// TransportError is a send failure that is not plain unreachability.
type TransportError struct {
	Op        string
	Transport envelope.TransportHint
	Err       error
}

func (e *TransportError) Error() string {
	if e.Transport == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s over %s: %v", e.Op, e.Transport, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
