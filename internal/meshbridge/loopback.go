package meshbridge

import (
	"context"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/rmacdonaldsmith/retasync-go/pkg/envelope"
)

// Responder builds the envelope a loopback peer sends back for a command,
// or nil for no answer.
type Responder func(cmd *envelope.Command) envelope.Envelope

// AcceptResponder answers every command with a Result whose payload is
// {"status": "accepted", "operation": <operation>}.
func AcceptResponder(cmd *envelope.Command) envelope.Envelope {
	payload, err := envelope.EncodePayload(map[string]any{
		"status":    "accepted",
		"operation": cmd.Operation,
	})
	if err != nil {
		return nil
	}
	return envelope.NewResult(cmd, payload)
}

// LoopbackOptions configures a LoopbackDaemon.
type LoopbackOptions struct {
	LinkUp        bool
	PropagationUp bool
	Responder     Responder
	QueueSize     int
}

// LoopbackDaemon is a DaemonServer that accepts envelopes locally and can
// loop answers back onto the inbound stream. It stands in for a real mesh
// daemon in tests and in loopback mode.
type LoopbackDaemon struct {
	health *health.Server
	queue  chan []byte
	done   chan struct{}
	now    func() time.Time

	mu            sync.Mutex
	linkUp        bool
	propagationUp bool
	responder     Responder
	receipts      map[string]*SendReply
	accepted      []envelope.Envelope
	stopOnce      sync.Once
}

var _ DaemonServer = (*LoopbackDaemon)(nil)

func NewLoopbackDaemon(opts LoopbackOptions) *LoopbackDaemon {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	d := &LoopbackDaemon{
		health:        health.NewServer(),
		queue:         make(chan []byte, opts.QueueSize),
		done:          make(chan struct{}),
		now:           time.Now,
		linkUp:        opts.LinkUp,
		propagationUp: opts.PropagationUp,
		responder:     opts.Responder,
		receipts:      make(map[string]*SendReply),
	}
	d.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	d.health.SetServingStatus(DaemonService, healthpb.HealthCheckResponse_SERVING)
	d.health.SetServingStatus(LinkService, servingStatus(opts.LinkUp))
	return d
}

func servingStatus(up bool) healthpb.HealthCheckResponse_ServingStatus {
	if up {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}

// Register adds the daemon protocol and the health service to s.
func (d *LoopbackDaemon) Register(s *grpc.Server) {
	RegisterDaemonServer(s, d)
	healthpb.RegisterHealthServer(s, d.health)
}

// SetLinkUp toggles the link path and its health status.
func (d *LoopbackDaemon) SetLinkUp(up bool) {
	d.mu.Lock()
	d.linkUp = up
	d.mu.Unlock()
	d.health.SetServingStatus(LinkService, servingStatus(up))
}

// SetPropagationUp toggles the propagation path.
func (d *LoopbackDaemon) SetPropagationUp(up bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.propagationUp = up
}

// SetResponder replaces the command responder; nil disables answers.
func (d *LoopbackDaemon) SetResponder(r Responder) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.responder = r
}

// Send implements DaemonServer.
func (d *LoopbackDaemon) Send(_ context.Context, req *SendRequest) (*SendReply, error) {
	env, err := envelope.Decode(req.Envelope)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decode envelope: %v", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	switch req.Path {
	case envelope.TransportLink:
		if !d.linkUp {
			return nil, status.Error(codes.Unavailable, "link path unreachable")
		}
	case envelope.TransportPropagation:
		if !d.propagationUp {
			return nil, status.Error(codes.Unavailable, "propagation path unreachable")
		}
	default:
		return nil, status.Errorf(codes.InvalidArgument, "unknown path %q", req.Path)
	}

	reply := &SendReply{
		MessageID:    env.Head().MessageID,
		Path:         req.Path,
		AcceptedAtNs: d.now().UnixNano(),
	}
	d.receipts[reply.MessageID] = reply
	d.accepted = append(d.accepted, env)

	if cmd, ok := env.(*envelope.Command); ok && d.responder != nil {
		if answer := d.responder(cmd); answer != nil {
			// a full queue drops the answer, as a lossy mesh would
			_ = d.enqueue(answer)
		}
	}
	return reply, nil
}

// QueryReceipt implements DaemonServer.
func (d *LoopbackDaemon) QueryReceipt(_ context.Context, req *ReceiptRequest) (*ReceiptReply, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	r, ok := d.receipts[req.MessageID]
	if !ok {
		return &ReceiptReply{Found: false}, nil
	}
	return &ReceiptReply{Found: true, MessageID: r.MessageID, Path: r.Path, AcceptedAtNs: r.AcceptedAtNs}, nil
}

// Inbound implements DaemonServer. Concurrent streams compete for frames.
func (d *LoopbackDaemon) Inbound(_ *InboundRequest, stream InboundServer) error {
	for {
		select {
		case <-stream.Context().Done():
			return nil
		case <-d.done:
			return nil
		case data := <-d.queue:
			if err := stream.Send(&InboundFrame{Envelope: data}); err != nil {
				return err
			}
		}
	}
}

// Inject queues env as if it arrived from a remote identity.
func (d *LoopbackDaemon) Inject(env envelope.Envelope) error {
	return d.enqueue(env)
}

func (d *LoopbackDaemon) enqueue(env envelope.Envelope) error {
	data, err := envelope.Encode(env)
	if err != nil {
		return err
	}
	select {
	case d.queue <- data:
		return nil
	default:
		return status.Error(codes.ResourceExhausted, "inbound queue full")
	}
}

// Accepted returns every envelope the daemon accepted, in order.
func (d *LoopbackDaemon) Accepted() []envelope.Envelope {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]envelope.Envelope, len(d.accepted))
	copy(out, d.accepted)
	return out
}

// Stop ends all inbound streams and marks the daemon not serving.
func (d *LoopbackDaemon) Stop() {
	d.stopOnce.Do(func() {
		close(d.done)
		d.health.Shutdown()
	})
}

// LoopbackServer is a LoopbackDaemon served on an in-memory listener.
type LoopbackServer struct {
	Daemon *LoopbackDaemon

	listener *bufconn.Listener
	server   *grpc.Server
}

// ServeLoopback starts d on an in-memory listener.
func ServeLoopback(d *LoopbackDaemon) *LoopbackServer {
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	d.Register(srv)

	go func() {
		// Serve returns when Stop closes the listener
		_ = srv.Serve(lis)
	}()

	return &LoopbackServer{Daemon: d, listener: lis, server: srv}
}

// Endpoint is the target a DaemonBridge should dial.
func (s *LoopbackServer) Endpoint() string {
	return "passthrough:///loopback"
}

// DialOptions routes a client connection to the in-memory listener.
func (s *LoopbackServer) DialOptions() []grpc.DialOption {
	return []grpc.DialOption{
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return s.listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
}

// BridgeConfig returns a Config that dials this server.
func (s *LoopbackServer) BridgeConfig(preferLink bool) Config {
	return Config{
		Endpoint:    s.Endpoint(),
		PreferLink:  preferLink,
		DialOptions: s.DialOptions(),
	}
}

func (s *LoopbackServer) Stop() {
	s.Daemon.Stop()
	s.server.Stop()
}
