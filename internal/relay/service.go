// ABOUTME: Hand-written gRPC service descriptor for the relay's bidirectional stream
// ABOUTME: Frames travel as google.protobuf.BytesValue so no generated code is needed

package relay

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	serviceName    = "agentruntime.relay.v1.Relay"
	connectMethod  = "Connect"
	ConnectFullRPC = "/" + serviceName + "/" + connectMethod
)

// FrameStream is one side of a relay stream.
type FrameStream interface {
	Send(*Frame) error
	Recv() (*Frame, error)
	Context() context.Context
}

// StreamHandler serves relay streams.
type StreamHandler interface {
	Connect(stream FrameStream) error
}

// ServiceDesc describes the relay service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*StreamHandler)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    connectMethod,
			Handler:       connectHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "relay.proto",
}

func connectHandler(srv any, stream grpc.ServerStream) error {
	return srv.(StreamHandler).Connect(&serverStream{stream})
}

// Register attaches h to s.
func Register(s grpc.ServiceRegistrar, h StreamHandler) {
	s.RegisterService(&ServiceDesc, h)
}

type serverStream struct {
	grpc.ServerStream
}

func (s *serverStream) Send(f *Frame) error {
	m, err := toWire(f)
	if err != nil {
		return err
	}
	return s.ServerStream.SendMsg(m)
}

func (s *serverStream) Recv() (*Frame, error) {
	m := new(wrapperspb.BytesValue)
	if err := s.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return fromWire(m)
}

// ClientStream is the client side of a relay stream.
type ClientStream interface {
	FrameStream
	CloseSend() error
}

// OpenStream starts a relay stream on cc.
func OpenStream(ctx context.Context, cc grpc.ClientConnInterface, opts ...grpc.CallOption) (ClientStream, error) {
	stream, err := cc.NewStream(ctx, &ServiceDesc.Streams[0], ConnectFullRPC, opts...)
	if err != nil {
		return nil, err
	}
	return &clientStream{stream}, nil
}

type clientStream struct {
	grpc.ClientStream
}

func (c *clientStream) Send(f *Frame) error {
	m, err := toWire(f)
	if err != nil {
		return err
	}
	return c.ClientStream.SendMsg(m)
}

func (c *clientStream) Recv() (*Frame, error) {
	m := new(wrapperspb.BytesValue)
	if err := c.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return fromWire(m)
}
