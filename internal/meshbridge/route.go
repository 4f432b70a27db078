package meshbridge

import (
	"time"

	"github.com/rmacdonaldsmith/retasync-go/pkg/envelope"
	"github.com/rmacdonaldsmith/retasync-go/pkg/meshbridge"
)

// wantsLink decides whether to try the link path first. An explicit
// propagation hint always wins; otherwise the link is tried when it was
// requested or preferred, and only if linkUp reports it reachable.
func wantsLink(requested envelope.TransportHint, preferLink bool, linkUp func() bool) bool {
	switch requested {
	case envelope.TransportPropagation:
		return false
	case envelope.TransportLink:
		return linkUp()
	default:
		return preferLink && linkUp()
	}
}

func receipt(messageID string, path envelope.TransportHint, acceptedAtNs int64) meshbridge.Receipt {
	return meshbridge.Receipt{
		MessageID:  messageID,
		Transport:  path,
		AcceptedAt: time.Unix(0, acceptedAtNs).UTC(),
	}
}
