package meshnode

import (
	"context"
	"time"

	"go.uber.org/zap"

	storepkg "github.com/rmacdonaldsmith/retasync-go/pkg/store"
)

// recover resumes work left behind by a previous run. Jobs that never
// reached the bridge are dispatched; jobs whose send may have happened are
// failed rather than re-sent; dispatched jobs get their TTL timers back.
// Transfers hold their data only in memory, so unfinished ones fail.
func (n *Node) recover(ctx context.Context) error {
	submitted, err := n.store.ListJobsByStatus(ctx, storepkg.StatusSubmitted)
	if err != nil {
		return err
	}
	for i := range submitted {
		job := &submitted[i]
		attempts, err := n.store.ListJobAttempts(ctx, job.JobID)
		if err != nil {
			return err
		}
		if len(attempts) > 0 {
			n.logger.Info("failing job interrupted mid-dispatch", zap.String("job_id", job.JobID))
			n.failJob(ctx, job.JobID, storepkg.ReasonInterrupted)
			continue
		}
		n.logger.Info("dispatching recovered job", zap.String("job_id", job.JobID))
		cmd := n.commandFor(job)
		n.spawn(func(ctx context.Context) { n.runAttempt(ctx, job, cmd) })
	}

	dispatched, err := n.store.ListJobsByStatus(ctx, storepkg.StatusDispatched)
	if err != nil {
		return err
	}
	now := n.now()
	for _, job := range dispatched {
		if job.DeadlineAt == nil {
			continue
		}
		if !job.DeadlineAt.After(now) {
			n.logger.Info("recovered job already past its deadline", zap.String("job_id", job.JobID))
			n.failJob(ctx, job.JobID, storepkg.ReasonTimeoutExpired)
			continue
		}
		n.armTimer(job.JobID, *job.DeadlineAt)
	}

	for _, status := range []storepkg.Status{storepkg.StatusSubmitted, storepkg.StatusDispatched} {
		transfers, err := n.store.ListTransfersByStatus(ctx, status)
		if err != nil {
			return err
		}
		for _, t := range transfers {
			n.logger.Info("failing interrupted transfer", zap.String("transfer_id", t.TransferID))
			n.finishTransfer(ctx, t.TransferID, storepkg.StatusFailed, storepkg.ReasonInterrupted)
		}
	}
	return nil
}

// sweepLoop applies the retention policy every SweepInterval.
func (n *Node) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(n.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.sweep(ctx)
		}
	}
}

// sweep runs one retention pass.
func (n *Node) sweep(ctx context.Context) {
	result, err := n.store.Sweep(ctx, n.now(), n.retentionPolicy())
	if err != nil {
		if ctx.Err() == nil {
			n.logger.Error("retention sweep failed", zap.Error(err))
		}
		return
	}
	if result.Jobs+result.CachedEvents+result.CachedMessages+result.Transfers > 0 {
		n.logger.Info("retention sweep",
			zap.Int64("jobs", result.Jobs),
			zap.Int64("cached_events", result.CachedEvents),
			zap.Int64("cached_messages", result.CachedMessages),
			zap.Int64("transfers", result.Transfers))
	}
}
