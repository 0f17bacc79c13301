package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// NodeChannelClient is implemented by the heart side: dial the coordinator
// and open one long-lived Channel stream.
type NodeChannelClient interface {
	Channel(ctx context.Context, opts ...grpc.CallOption) (NodeChannel_ChannelClient, error)
}

type nodeChannelClient struct {
	cc grpc.ClientConnInterface
}

// NewNodeChannelClient wraps an established *grpc.ClientConn (see DialOptions
// for the codec it must be dialed with).
func NewNodeChannelClient(cc grpc.ClientConnInterface) NodeChannelClient {
	return &nodeChannelClient{cc: cc}
}

func (c *nodeChannelClient) Channel(ctx context.Context, opts ...grpc.CallOption) (NodeChannel_ChannelClient, error) {
	stream, err := c.cc.NewStream(ctx, &NodeChannelServiceDesc.Streams[0], "/pacemaker.NodeChannel/Channel", opts...)
	if err != nil {
		return nil, err
	}
	return &nodeChannelChannelClient{stream}, nil
}

// NodeChannel_ChannelClient is the client-side view of one bidirectional
// stream of Frames.
type NodeChannel_ChannelClient interface {
	Send(*Frame) error
	Recv() (*Frame, error)
	grpc.ClientStream
}

type nodeChannelChannelClient struct {
	grpc.ClientStream
}

func (x *nodeChannelChannelClient) Send(m *Frame) error {
	return x.ClientStream.SendMsg(m)
}

func (x *nodeChannelChannelClient) Recv() (*Frame, error) {
	m := new(Frame)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// DialOptions returns the grpc.DialOption set needed to talk to a server
// registered with ServerCodecOption.
func DialOptions() []grpc.DialOption {
	return []grpc.DialOption{
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{})),
	}
}
