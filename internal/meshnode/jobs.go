package meshnode

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/retasync-go/pkg/envelope"
	"github.com/rmacdonaldsmith/retasync-go/pkg/meshbridge"
	"github.com/rmacdonaldsmith/retasync-go/pkg/meshnode"
	storepkg "github.com/rmacdonaldsmith/retasync-go/pkg/store"
)

// dispatch is the in-flight record of one job's send. settled is closed
// once the outcome of the send has been persisted.
type dispatch struct {
	jobID     string
	messageID string
	settled   chan struct{}
}

// SubmitCommand validates the request, checks the ACL, persists the job as
// submitted and dispatches it in the background. Validation and ACL
// failures create no job.
func (n *Node) SubmitCommand(ctx context.Context, req meshnode.CommandRequest) (*storepkg.Job, error) {
	if err := n.running(); err != nil {
		return nil, err
	}
	if err := envelope.ValidateName("operation", req.Operation); err != nil {
		return nil, err
	}
	if !validTransport(req.Transport) {
		return nil, &envelope.ValidationError{Field: "transport_hint", Reason: "must be link or propagation"}
	}
	if req.TTL < 0 {
		return nil, &envelope.ValidationError{Field: "ttl_ms", Reason: "cannot be negative"}
	}
	payload, err := envelope.PayloadFromJSON(req.Payload)
	if err != nil {
		return nil, err
	}
	if err := n.gate.Check(ctx, n.callerIdentity(req.Identity), req.Operation); err != nil {
		return nil, err
	}

	cmd := envelope.NewCommand(req.Operation, n.config.Identity, n.config.destinationFor(req.Destination), payload)
	ttl := n.config.ttlFor(req.TTL)
	cmd.SetTTL(ttl)
	if req.Transport != "" {
		cmd.SetTransport(req.Transport)
	}
	if err := envelope.Validate(cmd); err != nil {
		return nil, err
	}

	job := &storepkg.Job{
		JobID:               envelope.NewMessageID(),
		Operation:           req.Operation,
		Status:              storepkg.StatusSubmitted,
		Payload:             payload,
		SubmittedAt:         cmd.SentAt,
		MessageID:           cmd.MessageID,
		SourceIdentity:      cmd.SourceIdentity,
		DestinationIdentity: cmd.DestinationIdentity,
		TTLMillis:           ttl.Milliseconds(),
		RequestedTransport:  string(req.Transport),
	}
	if err := n.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	n.logger.Info("job submitted",
		zap.String("job_id", job.JobID),
		zap.String("operation", job.Operation),
		zap.String("message_id", job.MessageID))
	n.publishJob(job)

	if !n.spawn(func(ctx context.Context) { n.runAttempt(ctx, job, cmd) }) {
		// Stopped between the running check and here; the next Start
		// dispatches it because no attempt was recorded.
		n.logger.Warn("node stopping, job left for recovery", zap.String("job_id", job.JobID))
	}
	return job, nil
}

// callerIdentity falls back to the node identity for anonymous callers.
func (n *Node) callerIdentity(identity string) string {
	if identity == "" {
		return n.config.Identity
	}
	return identity
}

// runAttempt records the single attempt of job, sends cmd and persists the
// outcome. Inbound results for cmd wait until this returns.
func (n *Node) runAttempt(ctx context.Context, job *storepkg.Job, cmd *envelope.Command) {
	d, ok := n.track(job.JobID, job.MessageID)
	if !ok {
		n.logger.Warn("job already in flight", zap.String("job_id", job.JobID))
		return
	}
	defer n.settle(d)

	logger := n.logger.With(zap.String("job_id", job.JobID), zap.String("message_id", job.MessageID))

	if _, err := n.store.StartAttempt(ctx, job.JobID, n.now()); err != nil {
		logger.Error("failed to record attempt", zap.Error(err))
		return
	}

	receipt, err := n.bridge.SendCommand(ctx, cmd)
	if err != nil {
		if ctx.Err() != nil {
			// shutting down; recovery marks the job interrupted
			return
		}
		reason := failureReason(err)
		logger.Warn("command dispatch failed", zap.String("reason", reason), zap.Error(err))
		n.failJob(ctx, job.JobID, reason)
		return
	}

	var deadline *time.Time
	if job.TTLMillis > 0 {
		at := receipt.AcceptedAt.Add(time.Duration(job.TTLMillis) * time.Millisecond)
		deadline = &at
	}

	updated, err := n.store.MarkDispatched(ctx, job.JobID, string(receipt.Transport), deadline, n.now())
	if err != nil {
		logger.Error("failed to mark job dispatched", zap.Error(err))
		return
	}
	logger.Info("job dispatched", zap.String("transport", string(receipt.Transport)))
	n.publishJob(updated)

	if deadline != nil {
		n.armTimer(job.JobID, *deadline)
	}
}

// failureReason maps a bridge error to the job's failure_reason.
func failureReason(err error) string {
	if errors.Is(err, meshbridge.ErrTransportUnavailable) {
		return storepkg.ReasonTransportUnavailable
	}
	return fmt.Sprintf("%s: %v", storepkg.ReasonTransportError, err)
}

func (n *Node) failJob(ctx context.Context, jobID, reason string) {
	job, err := n.store.FailJob(ctx, jobID, reason, n.now())
	if errors.Is(err, storepkg.ErrInvalidTransition) {
		n.logger.Debug("job already terminal", zap.String("job_id", jobID), zap.String("reason", reason))
		return
	}
	if err != nil {
		n.logger.Error("failed to fail job", zap.String("job_id", jobID), zap.String("reason", reason), zap.Error(err))
		return
	}
	n.stopTimer(jobID)
	n.publishJob(job)
}

// track registers an in-flight dispatch. It reports false when the job is
// already in flight.
func (n *Node) track(jobID, messageID string) (*dispatch, bool) {
	n.dispatchMu.Lock()
	defer n.dispatchMu.Unlock()
	if _, ok := n.inflight[jobID]; ok {
		return nil, false
	}
	d := &dispatch{jobID: jobID, messageID: messageID, settled: make(chan struct{})}
	n.inflight[jobID] = d
	n.byMessage[messageID] = d
	return d, true
}

func (n *Node) settle(d *dispatch) {
	n.dispatchMu.Lock()
	delete(n.inflight, d.jobID)
	delete(n.byMessage, d.messageID)
	n.dispatchMu.Unlock()
	close(d.settled)
}

// awaitSettled blocks until the dispatch of the command with messageID
// (if one is in flight) has persisted its outcome.
func (n *Node) awaitSettled(ctx context.Context, messageID string) error {
	n.dispatchMu.Lock()
	d, ok := n.byMessage[messageID]
	n.dispatchMu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-d.settled:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *Node) inflightCount() int {
	n.dispatchMu.Lock()
	defer n.dispatchMu.Unlock()
	return len(n.inflight)
}

// armTimer fails jobID with timeout_expired at deadline unless a result
// arrives first.
func (n *Node) armTimer(jobID string, deadline time.Time) {
	n.dispatchMu.Lock()
	defer n.dispatchMu.Unlock()
	if t, ok := n.timers[jobID]; ok {
		t.Stop()
	}
	n.timers[jobID] = time.AfterFunc(time.Until(deadline), func() {
		n.spawn(func(ctx context.Context) { n.expire(ctx, jobID) })
	})
}

func (n *Node) expire(ctx context.Context, jobID string) {
	n.dispatchMu.Lock()
	delete(n.timers, jobID)
	n.dispatchMu.Unlock()

	n.logger.Info("job TTL expired", zap.String("job_id", jobID), zap.Error(meshnode.ErrTimeoutExpired))
	n.failJob(ctx, jobID, storepkg.ReasonTimeoutExpired)
}

func (n *Node) stopTimer(jobID string) {
	n.dispatchMu.Lock()
	defer n.dispatchMu.Unlock()
	if t, ok := n.timers[jobID]; ok {
		t.Stop()
		delete(n.timers, jobID)
	}
}

func (n *Node) stopTimers() {
	n.dispatchMu.Lock()
	defer n.dispatchMu.Unlock()
	for id, t := range n.timers {
		t.Stop()
		delete(n.timers, id)
	}
}

// commandFor rebuilds the command envelope of a persisted job, keeping its
// message id so results still correlate.
func (n *Node) commandFor(job *storepkg.Job) *envelope.Command {
	cmd := envelope.NewCommand(job.Operation, job.SourceIdentity, job.DestinationIdentity, job.Payload)
	cmd.MessageID = job.MessageID
	if job.TTLMillis > 0 {
		cmd.SetTTL(time.Duration(job.TTLMillis) * time.Millisecond)
	}
	if job.RequestedTransport != "" {
		cmd.SetTransport(envelope.TransportHint(job.RequestedTransport))
	}
	return cmd
}
