package meshnode

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/retasync-go/internal/config"
	"github.com/rmacdonaldsmith/retasync-go/internal/store"
	"github.com/rmacdonaldsmith/retasync-go/pkg/envelope"
	"github.com/rmacdonaldsmith/retasync-go/pkg/meshnode"
	storepkg "github.com/rmacdonaldsmith/retasync-go/pkg/store"
)

// seedJob inserts a submitted job the way SubmitCommand would have.
func seedJob(t *testing.T, st *store.SQLiteStore) *storepkg.Job {
	t.Helper()
	payload, err := envelope.PayloadFromJSON([]byte(`{"zone":"north"}`))
	require.NoError(t, err)
	job := &storepkg.Job{
		JobID:               envelope.NewMessageID(),
		Operation:           testOperation,
		Payload:             payload,
		MessageID:           envelope.NewMessageID(),
		SourceIdentity:      "local-node",
		DestinationIdentity: "remote-node",
	}
	require.NoError(t, st.CreateJob(context.Background(), job))
	return job
}

func seedDispatched(t *testing.T, st *store.SQLiteStore, deadline time.Time) *storepkg.Job {
	t.Helper()
	ctx := context.Background()
	job := seedJob(t, st)
	_, err := st.StartAttempt(ctx, job.JobID, time.Now())
	require.NoError(t, err)
	_, err = st.MarkDispatched(ctx, job.JobID, string(envelope.TransportLink), &deadline, time.Now())
	require.NoError(t, err)
	return job
}

func TestNode_RecoverOnStart(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()

	neverSent := seedJob(t, st)

	midDispatch := seedJob(t, st)
	_, err := st.StartAttempt(ctx, midDispatch.JobID, time.Now())
	require.NoError(t, err)

	expired := seedDispatched(t, st, time.Now().Add(-time.Second))
	pending := seedDispatched(t, st, time.Now().Add(100*time.Millisecond))

	transfer := &storepkg.Transfer{
		TransferID: envelope.NewMessageID(),
		Metadata:   storepkg.TransferMetadata{FileName: "log.txt", ChunksTotal: 1},
	}
	require.NoError(t, st.CreateTransfer(ctx, transfer))

	h := newHarness(t, st, upOptions(), nil)
	h.start(t)

	done := waitForJob(t, st, neverSent.JobID, storepkg.StatusSucceeded)
	assert.Equal(t, neverSent.MessageID, done.MessageID)
	sent := h.bridge.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, neverSent.MessageID, sent[0].Head().MessageID, "recovered command keeps its message id")

	interrupted := waitForJob(t, st, midDispatch.JobID, storepkg.StatusFailed)
	assert.Equal(t, storepkg.ReasonInterrupted, interrupted.FailureReason)

	timedOut := waitForJob(t, st, expired.JobID, storepkg.StatusFailed)
	assert.Equal(t, storepkg.ReasonTimeoutExpired, timedOut.FailureReason)

	later := waitForJob(t, st, pending.JobID, storepkg.StatusFailed)
	assert.Equal(t, storepkg.ReasonTimeoutExpired, later.FailureReason)

	failedTransfer := waitForTransfer(t, st, transfer.TransferID, storepkg.StatusFailed)
	assert.Equal(t, storepkg.ReasonInterrupted, failedTransfer.FailureReason)
}

func TestNode_RecoveredJobStillCompletes(t *testing.T) {
	st := openStore(t)
	pending := seedDispatched(t, st, time.Now().Add(time.Minute))

	opts := upOptions()
	opts.Responder = nil
	h := newHarness(t, st, opts, nil)
	h.start(t)

	result := envelope.NewResult(h.node.commandFor(pending), nil)
	require.NoError(t, h.bridge.Inject(context.Background(), result))
	waitForJob(t, st, pending.JobID, storepkg.StatusSucceeded)
}

func TestNode_RetentionSweep(t *testing.T) {
	h := newHarness(t, nil, upOptions(), nil)
	h.start(t)
	ctx := context.Background()

	job := submit(t, h, meshnode.CommandRequest{})
	waitForJob(t, h.store, job.JobID, storepkg.StatusSucceeded)

	h.node.sweep(ctx)
	_, err := h.store.GetJob(ctx, job.JobID)
	require.NoError(t, err, "default retention keeps fresh jobs")

	short := "10ms"
	_, _, err = h.node.UpdateSettings(ctx, config.DynamicPatch{
		Retention: &config.DynamicRetentionPatch{Jobs: &short},
	})
	require.NoError(t, err)
	time.Sleep(30 * time.Millisecond)

	h.node.sweep(ctx)
	_, err = h.store.GetJob(ctx, job.JobID)
	assert.ErrorIs(t, err, storepkg.ErrNotFound)
	_, err = h.store.GetJobResult(ctx, job.JobID)
	assert.ErrorIs(t, err, storepkg.ErrNotFound)
	attempts, err := h.store.ListJobAttempts(ctx, job.JobID)
	require.NoError(t, err)
	assert.Empty(t, attempts)
}
