package meshbridge

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rmacdonaldsmith/retasync-go/pkg/envelope"
	"github.com/rmacdonaldsmith/retasync-go/pkg/meshbridge"
)

func newTestBridge(t *testing.T, opts LoopbackOptions, preferLink bool) (*DaemonBridge, *LoopbackServer) {
	t.Helper()

	srv := ServeLoopback(NewLoopbackDaemon(opts))
	t.Cleanup(srv.Stop)

	cfg := srv.BridgeConfig(preferLink)
	cfg.LinkProbeInterval = 50 * time.Millisecond
	cfg.LinkProbeTimeout = 50 * time.Millisecond

	b, err := NewDaemonBridge(&cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b, srv
}

func TestDaemonBridge_InterfaceCompliance(t *testing.T) {
	var _ meshbridge.Bridge = &DaemonBridge{}
}

func TestNewDaemonBridge_InvalidConfig(t *testing.T) {
	_, err := NewDaemonBridge(&Config{}, nil)
	assert.Error(t, err)
}

func TestDaemonBridge_SendOverLink(t *testing.T) {
	b, srv := newTestBridge(t, LoopbackOptions{LinkUp: true, PropagationUp: true}, true)

	cmd := testCommand(t)
	r, err := b.SendCommand(context.Background(), cmd)
	require.NoError(t, err)

	assert.Equal(t, envelope.TransportLink, r.Transport)
	assert.Equal(t, cmd.MessageID, r.MessageID)
	assert.False(t, r.AcceptedAt.IsZero())
	assert.Equal(t, meshbridge.LinkUp, b.LinkState())

	accepted := srv.Daemon.Accepted()
	require.Len(t, accepted, 1)
	assert.Equal(t, envelope.TransportLink, accepted[0].Head().Transport())
}

func TestDaemonBridge_PreferLinkDisabled(t *testing.T) {
	b, _ := newTestBridge(t, LoopbackOptions{LinkUp: true, PropagationUp: true}, false)

	r, err := b.SendCommand(context.Background(), testCommand(t))
	require.NoError(t, err)
	assert.Equal(t, envelope.TransportPropagation, r.Transport)
}

func TestDaemonBridge_FallsBackWhenLinkDown(t *testing.T) {
	b, _ := newTestBridge(t, LoopbackOptions{LinkUp: false, PropagationUp: true}, true)

	r, err := b.SendCommand(context.Background(), testCommand(t))
	require.NoError(t, err)
	assert.Equal(t, envelope.TransportPropagation, r.Transport)
	assert.Equal(t, meshbridge.LinkDown, b.LinkState())
}

func TestDaemonBridge_FallsBackWhenLinkSendUnavailable(t *testing.T) {
	b, srv := newTestBridge(t, LoopbackOptions{LinkUp: true, PropagationUp: true}, true)

	// probe still reports the link up; the send itself fails
	require.True(t, b.linkReachable(context.Background()))
	srv.Daemon.mu.Lock()
	srv.Daemon.linkUp = false
	srv.Daemon.mu.Unlock()

	r, err := b.SendCommand(context.Background(), testCommand(t))
	require.NoError(t, err)
	assert.Equal(t, envelope.TransportPropagation, r.Transport)
}

func TestDaemonBridge_BothPathsDown(t *testing.T) {
	b, _ := newTestBridge(t, LoopbackOptions{}, true)

	_, err := b.SendCommand(context.Background(), testCommand(t))
	assert.ErrorIs(t, err, meshbridge.ErrTransportUnavailable)
}

func TestDaemonBridge_LinkStateHandler(t *testing.T) {
	b, srv := newTestBridge(t, LoopbackOptions{LinkUp: true, PropagationUp: true}, true)

	var (
		mu   sync.Mutex
		seen []meshbridge.LinkState
	)
	b.SetLinkStateHandler(func(s meshbridge.LinkState) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, s)
	})

	assert.Eventually(t, func() bool { return b.LinkState() == meshbridge.LinkUp }, 2*time.Second, 10*time.Millisecond)

	srv.Daemon.SetLinkUp(false)
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) > 0 && seen[len(seen)-1] == meshbridge.LinkDown
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDaemonBridge_QueryReceipt(t *testing.T) {
	b, _ := newTestBridge(t, LoopbackOptions{PropagationUp: true}, false)

	cmd := testCommand(t)
	sent, err := b.SendCommand(context.Background(), cmd)
	require.NoError(t, err)

	r, err := b.QueryReceipt(context.Background(), cmd.MessageID)
	require.NoError(t, err)
	assert.Equal(t, sent.MessageID, r.MessageID)
	assert.Equal(t, sent.Transport, r.Transport)
	assert.True(t, sent.AcceptedAt.Equal(r.AcceptedAt))

	_, err = b.QueryReceipt(context.Background(), "unknown")
	assert.ErrorIs(t, err, meshbridge.ErrReceiptNotFound)
}

func TestDaemonBridge_PollEventsReceivesResults(t *testing.T) {
	b, srv := newTestBridge(t, LoopbackOptions{PropagationUp: true, Responder: AcceptResponder}, false)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	events, errs := b.PollEvents(ctx)

	cmd := testCommand(t)
	_, err := b.SendCommand(ctx, cmd)
	require.NoError(t, err)

	ev := envelope.NewEvent("beacon.ping", "remote", "local", nil)
	require.NoError(t, srv.Daemon.Inject(ev))

	var got []envelope.Envelope
	for len(got) < 2 {
		select {
		case env := <-events:
			got = append(got, env)
		case err := <-errs:
			t.Fatalf("stream failed: %v", err)
		case <-ctx.Done():
			t.Fatal("timed out waiting for inbound envelopes")
		}
	}

	res, ok := got[0].(*envelope.Result)
	require.True(t, ok)
	assert.Equal(t, cmd.MessageID, res.CorrelationID)

	inbound, ok := got[1].(*envelope.Event)
	require.True(t, ok)
	assert.Equal(t, ev.MessageID, inbound.MessageID)
}

func TestDaemonBridge_Ready(t *testing.T) {
	b, srv := newTestBridge(t, LoopbackOptions{PropagationUp: true}, false)
	require.NoError(t, b.Ready(context.Background()))

	srv.Stop()
	assert.ErrorIs(t, b.Ready(context.Background()), meshbridge.ErrTransportUnavailable)
}

func TestDaemonBridge_CloseIsIdempotent(t *testing.T) {
	b, _ := newTestBridge(t, LoopbackOptions{PropagationUp: true}, false)

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	_, err := b.SendCommand(context.Background(), testCommand(t))
	assert.ErrorIs(t, err, meshbridge.ErrClosed)
}

func TestDaemonBridge_SetPreferLink(t *testing.T) {
	b, _ := newTestBridge(t, LoopbackOptions{LinkUp: true, PropagationUp: true}, true)

	b.SetPreferLink(false)
	r, err := b.SendCommand(context.Background(), testCommand(t))
	require.NoError(t, err)
	assert.Equal(t, envelope.TransportPropagation, r.Transport)
}
