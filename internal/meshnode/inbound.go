package meshnode

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/retasync-go/pkg/envelope"
	"github.com/rmacdonaldsmith/retasync-go/pkg/fanout"
	"github.com/rmacdonaldsmith/retasync-go/pkg/meshbridge"
	"github.com/rmacdonaldsmith/retasync-go/pkg/meshnode"
	storepkg "github.com/rmacdonaldsmith/retasync-go/pkg/store"
)

var errStreamEnded = errors.New("inbound stream ended")

// PublishEvent checks the ACL and sends an event straight to the bridge.
func (n *Node) PublishEvent(ctx context.Context, req meshnode.EventRequest) (meshbridge.Receipt, error) {
	if err := n.running(); err != nil {
		return meshbridge.Receipt{}, err
	}
	if err := envelope.ValidateName("event", req.Event); err != nil {
		return meshbridge.Receipt{}, err
	}
	payload, err := envelope.PayloadFromJSON(req.Payload)
	if err != nil {
		return meshbridge.Receipt{}, err
	}
	if err := n.gate.Check(ctx, n.callerIdentity(req.Identity), req.Event); err != nil {
		return meshbridge.Receipt{}, err
	}

	ev := envelope.NewEvent(req.Event, n.config.Identity, n.config.destinationFor(req.Destination), payload)
	receipt, err := n.bridge.PublishEvent(ctx, ev)
	if err != nil {
		n.logger.Warn("event publish failed", zap.String("event", req.Event), zap.Error(err))
		return meshbridge.Receipt{}, err
	}
	n.logger.Info("event published",
		zap.String("event", req.Event),
		zap.String("message_id", receipt.MessageID),
		zap.String("transport", string(receipt.Transport)))
	return receipt, nil
}

// receiveLoop consumes the bridge's inbound stream, re-opening it with
// exponential backoff whenever it fails.
func (n *Node) receiveLoop(ctx context.Context) {
	backoff := n.config.InboundBackoff
	for {
		events, errs := n.bridge.PollEvents(ctx)
		received, err := n.drain(ctx, events, errs)
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, meshbridge.ErrClosed) {
			n.logger.Info("mesh bridge closed, inbound loop exiting")
			return
		}
		if received {
			backoff = n.config.InboundBackoff
		}

		n.logger.Warn("inbound stream failed, reconnecting",
			zap.Error(err), zap.Duration("backoff", backoff))
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > n.config.InboundMaxBackoff {
			backoff = n.config.InboundMaxBackoff
		}
	}
}

// drain handles envelopes until the stream ends. It reports whether any
// envelope arrived.
func (n *Node) drain(ctx context.Context, events <-chan envelope.Envelope, errs <-chan error) (bool, error) {
	received := false
	for {
		select {
		case env, ok := <-events:
			if !ok {
				select {
				case err := <-errs:
					return received, err
				default:
					return received, errStreamEnded
				}
			}
			received = true
			n.handleInbound(ctx, env)

		case err := <-errs:
			return received, err

		case <-ctx.Done():
			return received, ctx.Err()
		}
	}
}

func (n *Node) handleInbound(ctx context.Context, env envelope.Envelope) {
	switch e := env.(type) {
	case *envelope.Result:
		n.handleResult(ctx, e)
	case *envelope.Event:
		n.handleEvent(ctx, e)
	case *envelope.Command:
		n.cacheMessage(ctx, env, "")
	case *envelope.Transfer:
		correlation := ""
		if e.CorrelationID != nil {
			correlation = *e.CorrelationID
		}
		n.cacheMessage(ctx, env, correlation)
		if correlation != "" {
			n.acknowledgeChunk(ctx, correlation)
		}
	}
}

// handleResult completes the dispatched job whose command carried the
// result's correlation id.
func (n *Node) handleResult(ctx context.Context, r *envelope.Result) {
	logger := n.logger.With(zap.String("correlation_id", r.CorrelationID), zap.String("message_id", r.MessageID))

	if err := n.awaitSettled(ctx, r.CorrelationID); err != nil {
		return
	}

	job, err := n.store.FindDispatchedJob(ctx, r.CorrelationID)
	if errors.Is(err, storepkg.ErrNotFound) {
		logger.Warn("dropping result with no matching dispatched job", zap.String("operation", r.Operation))
		return
	}
	if err != nil {
		logger.Error("failed to look up job for result", zap.Error(err))
		return
	}

	// the TTL timer may not have fired yet
	if job.DeadlineAt != nil && !n.now().Before(*job.DeadlineAt) {
		logger.Warn("result arrived after job deadline",
			zap.String("job_id", job.JobID), zap.Time("deadline", *job.DeadlineAt))
		n.failJob(ctx, job.JobID, storepkg.ReasonTimeoutExpired)
		return
	}

	completed, err := n.store.CompleteJob(ctx, job.JobID, r.Payload, n.now())
	if errors.Is(err, storepkg.ErrInvalidTransition) {
		logger.Warn("dropping result for job that is no longer dispatched", zap.String("job_id", job.JobID))
		return
	}
	if err != nil {
		logger.Error("failed to complete job", zap.String("job_id", job.JobID), zap.Error(err))
		return
	}

	n.stopTimer(job.JobID)
	logger.Info("job succeeded", zap.String("job_id", job.JobID))
	n.publishJob(completed)
}

func (n *Node) handleEvent(ctx context.Context, ev *envelope.Event) {
	cached := &storepkg.CachedEvent{
		EventID:        ev.MessageID,
		Name:           ev.Name,
		SourceIdentity: ev.SourceIdentity,
		Payload:        ev.Payload,
		ReceivedAt:     n.now().UTC(),
	}
	if err := n.store.CacheEvent(ctx, cached); err != nil {
		n.logger.Error("failed to cache inbound event", zap.String("message_id", ev.MessageID), zap.Error(err))
		return
	}

	payload, err := envelope.PayloadToJSON(ev.Payload)
	if err != nil {
		n.logger.Debug("inbound event payload is not JSON-convertible", zap.String("message_id", ev.MessageID), zap.Error(err))
		payload = nil
	}
	n.hub.Publish(fanout.Notification{
		Kind: fanout.KindMeshEventReceived,
		Data: fanout.MeshEventReceived{
			MessageID:      ev.MessageID,
			Event:          ev.Name,
			SourceIdentity: ev.SourceIdentity,
			Payload:        payload,
		},
	})
}

func (n *Node) cacheMessage(ctx context.Context, env envelope.Envelope, correlation string) {
	h := env.Head()
	msg := &storepkg.CachedMessage{
		MessageID:      h.MessageID,
		Kind:           string(env.Kind()),
		Operation:      env.Subject(),
		SourceIdentity: h.SourceIdentity,
		CorrelationID:  correlation,
		Payload:        h.Payload,
		ReceivedAt:     n.now().UTC(),
	}
	if err := n.store.CacheMessage(ctx, msg); err != nil {
		n.logger.Error("failed to cache inbound message",
			zap.String("message_id", h.MessageID), zap.String("kind", msg.Kind), zap.Error(err))
	}
}
