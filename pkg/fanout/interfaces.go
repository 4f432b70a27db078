package fanout

// Subscriber receives notifications through a bounded queue.
type Subscriber interface {
	// ID returns the subscriber's unique id.
	ID() string

	// C returns the delivery channel. It is closed on unsubscribe.
	C() <-chan Notification

	// Dropped returns how many notifications were discarded because
	// the queue was full.
	Dropped() uint64
}

// Publisher is the producer side of the hub.
type Publisher interface {
	// Publish assigns n its sequence number and timestamp and delivers it
	// to every matching subscriber without blocking.
	Publish(n Notification) Notification
}
