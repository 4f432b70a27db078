package meshbridge

import (
	"context"
	"sync"
	"time"

	"github.com/rmacdonaldsmith/retasync-go/pkg/envelope"
	"github.com/rmacdonaldsmith/retasync-go/pkg/meshbridge"
)

// MemoryOptions configures a MemoryBridge.
type MemoryOptions struct {
	PreferLink    bool
	LinkUp        bool
	PropagationUp bool
	// Responder answers sent commands on the inbound channel.
	Responder     Responder
	InboundBuffer int
}

// MemoryBridge is an in-process meshbridge.Bridge. Every send is recorded
// and answered synchronously; nothing leaves the process.
type MemoryBridge struct {
	inbound   chan envelope.Envelope
	done      chan struct{}
	closeOnce sync.Once

	mu              sync.Mutex
	preferLink      bool
	linkUp          bool
	propagationUp   bool
	responder       Responder
	handler         meshbridge.LinkStateHandler
	sendErr         error
	discardReceipts bool
	sent            []envelope.Envelope
	receipts        map[string]meshbridge.Receipt
}

var _ meshbridge.Bridge = (*MemoryBridge)(nil)

func NewMemoryBridge(opts MemoryOptions) *MemoryBridge {
	if opts.InboundBuffer <= 0 {
		opts.InboundBuffer = 64
	}
	return &MemoryBridge{
		preferLink:    opts.PreferLink,
		inbound:       make(chan envelope.Envelope, opts.InboundBuffer),
		done:          make(chan struct{}),
		linkUp:        opts.LinkUp,
		propagationUp: opts.PropagationUp,
		responder:     opts.Responder,
		receipts:      make(map[string]meshbridge.Receipt),
	}
}

// SetLinkUp toggles link reachability and notifies the handler on change.
func (m *MemoryBridge) SetLinkUp(up bool) {
	m.mu.Lock()
	changed := m.linkUp != up
	m.linkUp = up
	handler := m.handler
	m.mu.Unlock()

	if changed && handler != nil {
		handler(linkState(up))
	}
}

func (m *MemoryBridge) SetPreferLink(prefer bool) {
	m.mu.Lock()
	m.preferLink = prefer
	m.mu.Unlock()
}

func (m *MemoryBridge) SetPropagationUp(up bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.propagationUp = up
}

func (m *MemoryBridge) SetResponder(r Responder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responder = r
}

// FailSends makes every later send fail with a TransportError wrapping err.
// Pass nil to restore normal behaviour.
func (m *MemoryBridge) FailSends(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

// DiscardReceipts stops recording receipts, so QueryReceipt finds nothing.
func (m *MemoryBridge) DiscardReceipts(discard bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.discardReceipts = discard
}

// Sent returns every envelope accepted so far, in order.
func (m *MemoryBridge) Sent() []envelope.Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]envelope.Envelope, len(m.sent))
	copy(out, m.sent)
	return out
}

// Inject delivers env on the inbound channel as if a remote identity sent it.
func (m *MemoryBridge) Inject(ctx context.Context, env envelope.Envelope) error {
	if err := envelope.Validate(env); err != nil {
		return err
	}
	select {
	case m.inbound <- env:
		return nil
	case <-m.done:
		return meshbridge.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *MemoryBridge) SendCommand(ctx context.Context, cmd *envelope.Command) (meshbridge.Receipt, error) {
	return m.dispatch(ctx, "send command", cmd)
}

func (m *MemoryBridge) PublishEvent(ctx context.Context, ev *envelope.Event) (meshbridge.Receipt, error) {
	return m.dispatch(ctx, "publish event", ev)
}

func (m *MemoryBridge) StartTransfer(ctx context.Context, t *envelope.Transfer) (meshbridge.Receipt, error) {
	return m.dispatch(ctx, "send transfer", t)
}

func (m *MemoryBridge) dispatch(ctx context.Context, op string, env envelope.Envelope) (meshbridge.Receipt, error) {
	select {
	case <-m.done:
		return meshbridge.Receipt{}, meshbridge.ErrClosed
	default:
	}

	m.mu.Lock()
	if m.sendErr != nil {
		err := m.sendErr
		m.mu.Unlock()
		return meshbridge.Receipt{}, &meshbridge.TransportError{Op: op, Err: err}
	}

	var path envelope.TransportHint
	switch {
	case wantsLink(env.Head().Transport(), m.preferLink, func() bool { return m.linkUp }):
		path = envelope.TransportLink
	case m.propagationUp:
		path = envelope.TransportPropagation
	default:
		m.mu.Unlock()
		return meshbridge.Receipt{}, meshbridge.ErrTransportUnavailable
	}

	env.Head().SetTransport(path)
	if err := envelope.Validate(env); err != nil {
		m.mu.Unlock()
		return meshbridge.Receipt{}, err
	}

	r := meshbridge.Receipt{MessageID: env.Head().MessageID, Transport: path, AcceptedAt: time.Now().UTC()}
	m.sent = append(m.sent, env)
	if !m.discardReceipts {
		m.receipts[r.MessageID] = r
	}

	var answer envelope.Envelope
	if cmd, ok := env.(*envelope.Command); ok && m.responder != nil {
		answer = m.responder(cmd)
	}
	m.mu.Unlock()

	if answer != nil {
		if err := m.Inject(ctx, answer); err != nil {
			return meshbridge.Receipt{}, &meshbridge.TransportError{Op: op, Transport: path, Err: err}
		}
	}
	return r, nil
}

func (m *MemoryBridge) QueryReceipt(_ context.Context, messageID string) (meshbridge.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.receipts[messageID]
	if !ok {
		return meshbridge.Receipt{}, meshbridge.ErrReceiptNotFound
	}
	return r, nil
}

// PollEvents forwards injected envelopes until ctx is done or the bridge closes.
func (m *MemoryBridge) PollEvents(ctx context.Context) (<-chan envelope.Envelope, <-chan error) {
	events := make(chan envelope.Envelope)
	errs := make(chan error, 1)

	go func() {
		defer close(events)
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.done:
				errs <- meshbridge.ErrClosed
				return
			case env := <-m.inbound:
				select {
				case events <- env:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return events, errs
}

func (m *MemoryBridge) Ready(context.Context) error {
	select {
	case <-m.done:
		return meshbridge.ErrClosed
	default:
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.linkUp && !m.propagationUp {
		return meshbridge.ErrTransportUnavailable
	}
	return nil
}

func (m *MemoryBridge) LinkState() meshbridge.LinkState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return linkState(m.linkUp)
}

func (m *MemoryBridge) SetLinkStateHandler(h meshbridge.LinkStateHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
}

func (m *MemoryBridge) Close() error {
	m.closeOnce.Do(func() { close(m.done) })
	return nil
}

func linkState(up bool) meshbridge.LinkState {
	if up {
		return meshbridge.LinkUp
	}
	return meshbridge.LinkDown
}
