// Package fanout defines the notification model pushed to local observers.
//
// Every state change the node makes (job transitions, inbound mesh events,
// transfer progress, link changes, configuration and ACL edits) becomes a
// Notification with a hub-assigned sequence number. Subscribers choose
// what they see with a Filter:
//
//	sub := hub.Subscribe(fanout.Filter{Kinds: []string{"job.status.changed"}, JobIDs: []string{id}})
//	defer hub.Unsubscribe(sub)
//	for n := range sub.C() {
//		...
//	}
//
// Kind patterns match segment by segment; "*" matches exactly one segment,
// so "job.*.changed" matches "job.status.changed" and "*" alone matches
// nothing with more than one segment. An empty Kinds list matches every kind.
package fanout
