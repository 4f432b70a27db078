package meshbridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/rmacdonaldsmith/retasync-go/pkg/envelope"
	"github.com/rmacdonaldsmith/retasync-go/pkg/meshbridge"
)

// DaemonBridge implements meshbridge.Bridge against a mesh daemon reached over gRPC.
type DaemonBridge struct {
	config Config
	logger *zap.Logger
	conn   *grpc.ClientConn
	client *daemonClient
	health healthpb.HealthClient

	mu       sync.Mutex
	link     meshbridge.LinkState
	probedAt time.Time
	handler  meshbridge.LinkStateHandler

	// notifyMu orders link state changes and their handler calls
	notifyMu sync.Mutex

	preferLink atomic.Bool

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closed    atomic.Bool
	closeOnce sync.Once
}

var _ meshbridge.Bridge = (*DaemonBridge)(nil)

// NewDaemonBridge creates the client connection and starts the link probe.
// The connection is established lazily; an unreachable daemon surfaces as
// ErrTransportUnavailable on the first send.
func NewDaemonBridge(config *Config, logger *zap.Logger) (*DaemonBridge, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	cfg := *config
	cfg.SetDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(cfg.MaxMessageSize),
			grpc.MaxCallSendMsgSize(cfg.MaxMessageSize),
		),
	}
	opts = append(opts, cfg.DialOptions...)

	conn, err := grpc.NewClient(cfg.Endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("create mesh daemon client: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &DaemonBridge{
		config: cfg,
		logger: logger.Named("meshbridge"),
		conn:   conn,
		client: &daemonClient{cc: conn},
		health: healthpb.NewHealthClient(conn),
		cancel: cancel,
	}

	b.preferLink.Store(cfg.PreferLink)

	b.wg.Add(1)
	go b.probeLoop(ctx)

	return b, nil
}

func (b *DaemonBridge) probeLoop(ctx context.Context) {
	defer b.wg.Done()

	b.probe(ctx)
	ticker := time.NewTicker(b.config.LinkProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.probe(ctx)
		}
	}
}

// probe asks the daemon's health service whether the link path is serving.
func (b *DaemonBridge) probe(ctx context.Context) meshbridge.LinkState {
	ctx, cancel := context.WithTimeout(ctx, b.config.LinkProbeTimeout)
	defer cancel()

	state := meshbridge.LinkDown
	resp, err := b.health.Check(ctx, &healthpb.HealthCheckRequest{Service: LinkService})
	switch {
	case err != nil:
		b.logger.Debug("link probe failed", zap.Error(err))
	case resp.GetStatus() == healthpb.HealthCheckResponse_SERVING:
		state = meshbridge.LinkUp
	}

	b.setLinkState(state)
	return state
}

func (b *DaemonBridge) setLinkState(state meshbridge.LinkState) {
	b.notifyMu.Lock()
	defer b.notifyMu.Unlock()

	b.mu.Lock()
	prev := b.link
	b.link = state
	b.probedAt = time.Now()
	handler := b.handler
	b.mu.Unlock()

	if prev == state {
		return
	}
	b.logger.Info("link state changed", zap.Stringer("from", prev), zap.Stringer("to", state))
	if handler != nil {
		handler(state)
	}
}

// linkReachable returns the cached link state, probing first when the
// cached value is older than one probe interval.
func (b *DaemonBridge) linkReachable(ctx context.Context) bool {
	b.mu.Lock()
	state, at := b.link, b.probedAt
	b.mu.Unlock()

	if state == meshbridge.LinkUnknown || time.Since(at) > b.config.LinkProbeInterval {
		state = b.probe(ctx)
	}
	return state == meshbridge.LinkUp
}

// SendCommand implements meshbridge.Bridge.
func (b *DaemonBridge) SendCommand(ctx context.Context, cmd *envelope.Command) (meshbridge.Receipt, error) {
	return b.dispatch(ctx, "send command", cmd)
}

// PublishEvent implements meshbridge.Bridge.
func (b *DaemonBridge) PublishEvent(ctx context.Context, ev *envelope.Event) (meshbridge.Receipt, error) {
	return b.dispatch(ctx, "publish event", ev)
}

// StartTransfer implements meshbridge.Bridge.
func (b *DaemonBridge) StartTransfer(ctx context.Context, t *envelope.Transfer) (meshbridge.Receipt, error) {
	return b.dispatch(ctx, "send transfer", t)
}

func (b *DaemonBridge) dispatch(ctx context.Context, op string, env envelope.Envelope) (meshbridge.Receipt, error) {
	if b.closed.Load() {
		return meshbridge.Receipt{}, meshbridge.ErrClosed
	}

	linkUp := func() bool { return b.linkReachable(ctx) }
	if wantsLink(env.Head().Transport(), b.preferLink.Load(), linkUp) {
		r, err := b.send(ctx, env, envelope.TransportLink)
		if err == nil {
			return r, nil
		}
		if !unreachable(err) {
			return meshbridge.Receipt{}, sendError(op, envelope.TransportLink, err)
		}
		b.setLinkState(meshbridge.LinkDown)
		b.logger.Warn("link unreachable, falling back to propagation",
			zap.String("message_id", env.Head().MessageID), zap.Error(err))
	}

	r, err := b.send(ctx, env, envelope.TransportPropagation)
	if err != nil {
		if unreachable(err) {
			return meshbridge.Receipt{}, fmt.Errorf("%s: %w", op, meshbridge.ErrTransportUnavailable)
		}
		return meshbridge.Receipt{}, sendError(op, envelope.TransportPropagation, err)
	}
	return r, nil
}

func (b *DaemonBridge) send(ctx context.Context, env envelope.Envelope, path envelope.TransportHint) (meshbridge.Receipt, error) {
	env.Head().SetTransport(path)
	data, err := envelope.Encode(env)
	if err != nil {
		return meshbridge.Receipt{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, b.config.CallTimeout)
	defer cancel()

	reply, err := b.client.Send(ctx, &SendRequest{Envelope: data, Path: path})
	if err != nil {
		return meshbridge.Receipt{}, err
	}
	return receipt(reply.MessageID, reply.Path, reply.AcceptedAtNs), nil
}

// QueryReceipt implements meshbridge.Bridge.
func (b *DaemonBridge) QueryReceipt(ctx context.Context, messageID string) (meshbridge.Receipt, error) {
	if b.closed.Load() {
		return meshbridge.Receipt{}, meshbridge.ErrClosed
	}

	ctx, cancel := context.WithTimeout(ctx, b.config.CallTimeout)
	defer cancel()

	reply, err := b.client.QueryReceipt(ctx, &ReceiptRequest{MessageID: messageID})
	if err != nil {
		if unreachable(err) {
			return meshbridge.Receipt{}, fmt.Errorf("query receipt: %w", meshbridge.ErrTransportUnavailable)
		}
		return meshbridge.Receipt{}, &meshbridge.TransportError{Op: "query receipt", Err: err}
	}
	if !reply.Found {
		return meshbridge.Receipt{}, meshbridge.ErrReceiptNotFound
	}
	return receipt(reply.MessageID, reply.Path, reply.AcceptedAtNs), nil
}

// PollEvents implements meshbridge.Bridge. Frames that fail to decode are
// logged and skipped; they never end the stream.
func (b *DaemonBridge) PollEvents(ctx context.Context) (<-chan envelope.Envelope, <-chan error) {
	events := make(chan envelope.Envelope, b.config.InboundBuffer)
	errs := make(chan error, 1)

	if b.closed.Load() {
		close(events)
		errs <- meshbridge.ErrClosed
		return events, errs
	}

	stream, err := b.client.Inbound(ctx, &InboundRequest{})
	if err != nil {
		close(events)
		errs <- streamError(err)
		return events, errs
	}

	go func() {
		defer close(events)
		for {
			frame := new(InboundFrame)
			if err := stream.RecvMsg(frame); err != nil {
				if ctx.Err() == nil {
					errs <- streamError(err)
				}
				return
			}

			env, err := envelope.Decode(frame.Envelope)
			if err != nil {
				b.logger.Warn("dropping undecodable inbound envelope", zap.Error(err))
				continue
			}

			select {
			case events <- env:
			case <-ctx.Done():
				return
			}
		}
	}()

	return events, errs
}

// Ready implements meshbridge.Bridge by checking the daemon's overall health.
func (b *DaemonBridge) Ready(ctx context.Context) error {
	if b.closed.Load() {
		return meshbridge.ErrClosed
	}

	ctx, cancel := context.WithTimeout(ctx, b.config.LinkProbeTimeout)
	defer cancel()

	resp, err := b.health.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return fmt.Errorf("%w: %v", meshbridge.ErrTransportUnavailable, err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("%w: daemon reports %s", meshbridge.ErrTransportUnavailable, resp.GetStatus())
	}
	return nil
}

// LinkState implements meshbridge.Bridge.
func (b *DaemonBridge) LinkState() meshbridge.LinkState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.link
}

// SetLinkStateHandler implements meshbridge.Bridge.
func (b *DaemonBridge) SetLinkStateHandler(h meshbridge.LinkStateHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = h
}

// Close stops the probe and closes the connection. Safe to call more than once.
func (b *DaemonBridge) Close() error {
	var err error
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		b.cancel()
		b.wg.Wait()
		err = b.conn.Close()
	})
	return err
}

func unreachable(err error) bool {
	return status.Code(err) == codes.Unavailable
}

func sendError(op string, path envelope.TransportHint, err error) error {
	if envelope.IsValidationError(err) {
		return err
	}
	return &meshbridge.TransportError{Op: op, Transport: path, Err: err}
}

func streamError(err error) error {
	if errors.Is(err, io.EOF) {
		return fmt.Errorf("inbound stream ended: %w", err)
	}
	if unreachable(err) {
		return fmt.Errorf("inbound stream: %w", meshbridge.ErrTransportUnavailable)
	}
	return &meshbridge.TransportError{Op: "inbound stream", Err: err}
}

// SetPreferLink implements meshbridge.Bridge.
func (b *DaemonBridge) SetPreferLink(prefer bool) {
	b.preferLink.Store(prefer)
}
