package meshbridge

import (
	"context"
	"io"
	"time"

	"github.com/rmacdonaldsmith/retasync-go/pkg/envelope"
)

// LinkState is the last known reachability of the direct link path.
type LinkState int

const (
	LinkUnknown LinkState = iota
	LinkUp
	LinkDown
)

func (s LinkState) String() string {
	switch s {
	case LinkUp:
		return "up"
	case LinkDown:
		return "down"
	default:
		return "unknown"
	}
}

// Receipt is the mesh daemon's acknowledgement that it accepted an envelope.
type Receipt struct {
	MessageID  string
	Transport  envelope.TransportHint
	AcceptedAt time.Time
}

// LinkStateHandler is called whenever the link state changes. It must not block.
type LinkStateHandler func(state LinkState)

// Bridge carries envelopes between this node and the mesh daemon.
//
// Send operations pick a transport: the link path when it is preferred
// (or requested) and currently reachable, otherwise propagation. A link
// failure caused by unreachability falls back to propagation within the
// same call. The transport actually used is written into the envelope's
// transport_hint and returned in the Receipt.
type Bridge interface {
	io.Closer

	// SendCommand sends a command envelope.
	SendCommand(ctx context.Context, cmd *envelope.Command) (Receipt, error)

	// PublishEvent sends an event envelope.
	PublishEvent(ctx context.Context, ev *envelope.Event) (Receipt, error)

	// StartTransfer sends one transfer frame.
	StartTransfer(ctx context.Context, t *envelope.Transfer) (Receipt, error)

	// QueryReceipt looks up the daemon's receipt for a previously sent
	// message. Returns ErrReceiptNotFound when the daemon has none.
	QueryReceipt(ctx context.Context, messageID string) (Receipt, error)

	// PollEvents streams inbound envelopes until ctx is done or the
	// underlying stream fails. The error channel receives at most one error.
	PollEvents(ctx context.Context) (<-chan envelope.Envelope, <-chan error)

	// Ready reports whether the daemon is reachable at all.
	Ready(ctx context.Context) error

	// LinkState returns the cached link reachability.
	LinkState() LinkState

	// SetLinkStateHandler registers the link change callback, replacing any previous one.
	SetLinkStateHandler(h LinkStateHandler)

	// SetPreferLink changes whether sends without a transport hint try the
	// link path first. It applies to subsequent sends.
	SetPreferLink(prefer bool)
}
