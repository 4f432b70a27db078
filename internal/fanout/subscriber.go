package fanout

import (
	"sync/atomic"
	"time"

	"github.com/rmacdonaldsmith/retasync-go/pkg/fanout"
)

// Subscription is one observer's bounded queue. The hub is the only writer.
type Subscription struct {
	id          string
	filter      fanout.Filter
	connectedAt time.Time
	ch          chan fanout.Notification
	dropped     atomic.Uint64
	closed      bool // guarded by the hub mutex
}

var _ fanout.Subscriber = (*Subscription)(nil)

func (s *Subscription) ID() string                    { return s.id }
func (s *Subscription) C() <-chan fanout.Notification { return s.ch }
func (s *Subscription) Dropped() uint64               { return s.dropped.Load() }
func (s *Subscription) Filter() fanout.Filter         { return s.filter }
func (s *Subscription) ConnectedAt() time.Time        { return s.connectedAt }

// deliver enqueues n without blocking. A full queue loses its oldest entry.
// Must be called with the hub mutex held.
func (s *Subscription) deliver(n fanout.Notification) (dropped bool) {
	select {
	case s.ch <- n:
		return false
	default:
	}

	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- n:
	default:
		// unbuffered queue with no reader waiting
	}
	s.dropped.Add(1)
	return true
}
