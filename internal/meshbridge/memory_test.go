package meshbridge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/retasync-go/pkg/envelope"
	"github.com/rmacdonaldsmith/retasync-go/pkg/meshbridge"
)

func testCommand(t *testing.T) *envelope.Command {
	t.Helper()
	payload, err := envelope.EncodePayload(map[string]any{"x": 1})
	require.NoError(t, err)
	return envelope.NewCommand("emergency_action_message.create", "local", "remote", payload)
}

func TestMemoryBridge_PrefersLinkWhenUp(t *testing.T) {
	m := NewMemoryBridge(MemoryOptions{PreferLink: true, LinkUp: true, PropagationUp: true})
	defer m.Close()

	cmd := testCommand(t)
	r, err := m.SendCommand(context.Background(), cmd)
	require.NoError(t, err)

	assert.Equal(t, envelope.TransportLink, r.Transport)
	assert.Equal(t, cmd.MessageID, r.MessageID)
	assert.Equal(t, envelope.TransportLink, cmd.Transport())
	assert.Len(t, m.Sent(), 1)
}

func TestMemoryBridge_FallsBackToPropagation(t *testing.T) {
	m := NewMemoryBridge(MemoryOptions{PreferLink: true, LinkUp: false, PropagationUp: true})
	defer m.Close()

	r, err := m.SendCommand(context.Background(), testCommand(t))
	require.NoError(t, err)
	assert.Equal(t, envelope.TransportPropagation, r.Transport)
}

func TestMemoryBridge_PropagationHintForcesPropagation(t *testing.T) {
	m := NewMemoryBridge(MemoryOptions{PreferLink: true, LinkUp: true, PropagationUp: true})
	defer m.Close()

	cmd := testCommand(t)
	cmd.SetTransport(envelope.TransportPropagation)
	r, err := m.SendCommand(context.Background(), cmd)
	require.NoError(t, err)
	assert.Equal(t, envelope.TransportPropagation, r.Transport)
}

func TestMemoryBridge_NoPathIsUnavailable(t *testing.T) {
	m := NewMemoryBridge(MemoryOptions{PreferLink: true})
	defer m.Close()

	_, err := m.SendCommand(context.Background(), testCommand(t))
	assert.ErrorIs(t, err, meshbridge.ErrTransportUnavailable)
	assert.ErrorIs(t, m.Ready(context.Background()), meshbridge.ErrTransportUnavailable)
	assert.Empty(t, m.Sent())
}

func TestMemoryBridge_FailSends(t *testing.T) {
	m := NewMemoryBridge(MemoryOptions{PropagationUp: true})
	defer m.Close()

	m.FailSends(errors.New("daemon rejected"))
	_, err := m.SendCommand(context.Background(), testCommand(t))

	var te *meshbridge.TransportError
	require.ErrorAs(t, err, &te)
	assert.Contains(t, te.Error(), "daemon rejected")

	m.FailSends(nil)
	_, err = m.SendCommand(context.Background(), testCommand(t))
	assert.NoError(t, err)
}

func TestMemoryBridge_ResponderDeliversResult(t *testing.T) {
	m := NewMemoryBridge(MemoryOptions{PropagationUp: true, Responder: AcceptResponder})
	defer m.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	events, _ := m.PollEvents(ctx)

	cmd := testCommand(t)
	_, err := m.SendCommand(ctx, cmd)
	require.NoError(t, err)

	select {
	case env := <-events:
		res, ok := env.(*envelope.Result)
		require.True(t, ok, "expected a result, got %T", env)
		assert.Equal(t, cmd.MessageID, res.CorrelationID)
		assert.Equal(t, "remote", res.SourceIdentity)
	case <-ctx.Done():
		t.Fatal("no result delivered")
	}
}

func TestMemoryBridge_QueryReceipt(t *testing.T) {
	m := NewMemoryBridge(MemoryOptions{PropagationUp: true})
	defer m.Close()

	cmd := testCommand(t)
	_, err := m.SendCommand(context.Background(), cmd)
	require.NoError(t, err)

	r, err := m.QueryReceipt(context.Background(), cmd.MessageID)
	require.NoError(t, err)
	assert.Equal(t, envelope.TransportPropagation, r.Transport)

	m.DiscardReceipts(true)
	other := testCommand(t)
	_, err = m.SendCommand(context.Background(), other)
	require.NoError(t, err)
	_, err = m.QueryReceipt(context.Background(), other.MessageID)
	assert.ErrorIs(t, err, meshbridge.ErrReceiptNotFound)
}

func TestMemoryBridge_LinkStateHandler(t *testing.T) {
	m := NewMemoryBridge(MemoryOptions{LinkUp: true})
	defer m.Close()

	var seen []meshbridge.LinkState
	m.SetLinkStateHandler(func(s meshbridge.LinkState) { seen = append(seen, s) })

	m.SetLinkUp(true)
	m.SetLinkUp(false)
	m.SetLinkUp(false)
	m.SetLinkUp(true)

	assert.Equal(t, []meshbridge.LinkState{meshbridge.LinkDown, meshbridge.LinkUp}, seen)
	assert.Equal(t, meshbridge.LinkUp, m.LinkState())
}

func TestMemoryBridge_Close(t *testing.T) {
	m := NewMemoryBridge(MemoryOptions{PropagationUp: true})
	events, errs := m.PollEvents(context.Background())

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	_, open := <-events
	assert.False(t, open)
	assert.ErrorIs(t, <-errs, meshbridge.ErrClosed)

	_, err := m.SendCommand(context.Background(), testCommand(t))
	assert.ErrorIs(t, err, meshbridge.ErrClosed)
}

func TestMemoryBridge_SetPreferLink(t *testing.T) {
	m := NewMemoryBridge(MemoryOptions{PreferLink: true, LinkUp: true, PropagationUp: true})
	defer m.Close()

	m.SetPreferLink(false)
	r, err := m.SendCommand(context.Background(), testCommand(t))
	require.NoError(t, err)
	assert.Equal(t, envelope.TransportPropagation, r.Transport)

	m.SetPreferLink(true)
	r, err = m.SendCommand(context.Background(), testCommand(t))
	require.NoError(t, err)
	assert.Equal(t, envelope.TransportLink, r.Transport)
}
