package meshbridge

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"

	"github.com/rmacdonaldsmith/retasync-go/pkg/envelope"
)

const (
	// DaemonService is the gRPC service name of the mesh daemon protocol.
	DaemonService = "retasync.mesh.v1.MeshDaemon"

	// LinkService is the health-check service name whose status reports
	// direct link reachability.
	LinkService = "retasync.mesh.v1.Link"

	codecName = "msgpack"

	sendMethod         = "/" + DaemonService + "/Send"
	queryReceiptMethod = "/" + DaemonService + "/QueryReceipt"
	inboundMethod      = "/" + DaemonService + "/Inbound"
)

func init() {
	encoding.RegisterCodec(msgpackCodec{})
}

// msgpackCodec carries daemon protocol messages as canonical MessagePack,
// the same encoding as the envelopes inside them.
type msgpackCodec struct{}

func (msgpackCodec) Marshal(v any) ([]byte, error)      { return envelope.Marshal(v) }
func (msgpackCodec) Unmarshal(data []byte, v any) error { return envelope.Unmarshal(data, v) }
func (msgpackCodec) Name() string                       { return codecName }

// SendRequest asks the daemon to carry an encoded envelope over Path.
type SendRequest struct {
	Envelope []byte                 `msgpack:"envelope"`
	Path     envelope.TransportHint `msgpack:"path"`
}

// SendReply acknowledges acceptance of an envelope.
type SendReply struct {
	MessageID    string                 `msgpack:"message_id"`
	Path         envelope.TransportHint `msgpack:"path"`
	AcceptedAtNs int64                  `msgpack:"accepted_at_ns"`
}

type ReceiptRequest struct {
	MessageID string `msgpack:"message_id"`
}

type ReceiptReply struct {
	Found        bool                   `msgpack:"found"`
	MessageID    string                 `msgpack:"message_id,omitempty"`
	Path         envelope.TransportHint `msgpack:"path,omitempty"`
	AcceptedAtNs int64                  `msgpack:"accepted_at_ns,omitempty"`
}

type InboundRequest struct{}

// InboundFrame carries one encoded envelope addressed to this node.
type InboundFrame struct {
	Envelope []byte `msgpack:"envelope"`
}

// DaemonServer is the server half of the mesh daemon protocol.
type DaemonServer interface {
	Send(context.Context, *SendRequest) (*SendReply, error)
	QueryReceipt(context.Context, *ReceiptRequest) (*ReceiptReply, error)
	Inbound(*InboundRequest, InboundServer) error
}

// InboundServer is the server side of the Inbound stream.
type InboundServer interface {
	Send(*InboundFrame) error
	grpc.ServerStream
}

// RegisterDaemonServer registers srv on s.
func RegisterDaemonServer(s grpc.ServiceRegistrar, srv DaemonServer) {
	s.RegisterService(&daemonServiceDesc, srv)
}

var daemonServiceDesc = grpc.ServiceDesc{
	ServiceName: DaemonService,
	HandlerType: (*DaemonServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Send",
			Handler: unaryHandler(sendMethod, func(s DaemonServer, ctx context.Context, in *SendRequest) (*SendReply, error) {
				return s.Send(ctx, in)
			}),
		},
		{
			MethodName: "QueryReceipt",
			Handler: unaryHandler(queryReceiptMethod, func(s DaemonServer, ctx context.Context, in *ReceiptRequest) (*ReceiptReply, error) {
				return s.QueryReceipt(ctx, in)
			}),
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Inbound",
			Handler:       inboundHandler,
			ServerStreams: true,
		},
	},
	Metadata: "retasync/mesh/v1/daemon",
}

func unaryHandler[Req, Resp any](fullMethod string, call func(DaemonServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(DaemonServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(DaemonServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func inboundHandler(srv any, stream grpc.ServerStream) error {
	in := new(InboundRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(DaemonServer).Inbound(in, &inboundServer{stream})
}

type inboundServer struct {
	grpc.ServerStream
}

func (s *inboundServer) Send(frame *InboundFrame) error {
	return s.ServerStream.SendMsg(frame)
}

// daemonClient is the client half of the protocol.
type daemonClient struct {
	cc grpc.ClientConnInterface
}

func callOptions(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
}

func (c *daemonClient) Send(ctx context.Context, in *SendRequest, opts ...grpc.CallOption) (*SendReply, error) {
	out := new(SendReply)
	if err := c.cc.Invoke(ctx, sendMethod, in, out, callOptions(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *daemonClient) QueryReceipt(ctx context.Context, in *ReceiptRequest, opts ...grpc.CallOption) (*ReceiptReply, error) {
	out := new(ReceiptReply)
	if err := c.cc.Invoke(ctx, queryReceiptMethod, in, out, callOptions(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *daemonClient) Inbound(ctx context.Context, in *InboundRequest, opts ...grpc.CallOption) (grpc.ClientStream, error) {
	stream, err := c.cc.NewStream(ctx, &daemonServiceDesc.Streams[0], inboundMethod, callOptions(opts)...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return stream, nil
}
