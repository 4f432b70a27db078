// Package store defines the durable entities of the bridge daemon and the
// transactional interface that persists them.
//
// The Store is the single source of truth for:
//   - Job, JobAttempt and JobResult: one outbound command and its outcome
//   - Transfer: one outbound file transfer spanning many envelopes
//   - CachedEvent and CachedMessage: inbound mesh traffic kept for query
//   - AclEntry: identities in the allow set or the deny set
//   - ConfigRevision: immutable snapshots of the mutable configuration
//
// Status changes are conditional: an update only applies when the row is
// in an allowed predecessor state, so Job and Transfer status never
// regresses and terminal rows never change. Writes that touch more than
// one row happen in a single transaction.
//
// Example usage:
//
//	job := &store.Job{JobID: id, Operation: "node.ping", Status: store.StatusSubmitted}
//	if err := st.CreateJob(ctx, job); err != nil {
//		return err
//	}
//	if _, err := st.CompleteJob(ctx, id, result, time.Now()); errors.Is(err, store.ErrInvalidTransition) {
//		// job was not dispatched (already failed, or never sent)
//	}
package store
