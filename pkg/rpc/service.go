package rpc

import "google.golang.org/grpc"

// NodeChannelServer is implemented by the coordinator side: one Channel
// stream per connected heart node.
type NodeChannelServer interface {
	Channel(stream NodeChannel_ChannelServer) error
}

// NodeChannel_ChannelServer is the server-side view of one bidirectional
// stream of Frames.
type NodeChannel_ChannelServer interface {
	Send(*Frame) error
	Recv() (*Frame, error)
	grpc.ServerStream
}

type nodeChannelChannelServer struct {
	grpc.ServerStream
}

func (x *nodeChannelChannelServer) Send(m *Frame) error {
	return x.ServerStream.SendMsg(m)
}

func (x *nodeChannelChannelServer) Recv() (*Frame, error) {
	m := new(Frame)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func nodeChannelHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(NodeChannelServer).Channel(&nodeChannelChannelServer{stream})
}

// NodeChannelServiceDesc is the hand-registered equivalent of a
// protoc-generated service descriptor for a single bidi-streaming RPC.
var NodeChannelServiceDesc = grpc.ServiceDesc{
	ServiceName: "pacemaker.NodeChannel",
	HandlerType: (*NodeChannelServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Channel",
			Handler:       nodeChannelHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "pacemaker/rpc/node_channel",
}

// RegisterNodeChannelServer wires srv into s using the codec this package
// defines, independent of whatever default codec the process otherwise
// uses for protobuf traffic.
func RegisterNodeChannelServer(s *grpc.Server, srv NodeChannelServer) {
	s.RegisterService(&NodeChannelServiceDesc, srv)
}

// ServerCodecOption forces the JSON codec for this server's RPCs.
func ServerCodecOption() grpc.ServerOption {
	return grpc.ForceServerCodec(jsonCodec{})
}
