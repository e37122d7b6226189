package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ClustersServer is the server API of the Clusters service.
type ClustersServer interface {
	ListSessions(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Build(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Clusters(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Tap(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var _ ClustersServer = (*Server)(nil)

// unaryHandler adapts one ClustersServer method to a grpc.MethodDesc handler.
func unaryHandler(method string, call func(ClustersServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ClustersServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(ClustersServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ClustersServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListSessions", Handler: unaryHandler(MethodListSessions, ClustersServer.ListSessions)},
		{MethodName: "Build", Handler: unaryHandler(MethodBuild, ClustersServer.Build)},
		{MethodName: "Clusters", Handler: unaryHandler(MethodClusters, ClustersServer.Clusters)},
		{MethodName: "Tap", Handler: unaryHandler(MethodTap, ClustersServer.Tap)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "geocluster/v1/clusters.proto",
}

// Client calls the Clusters service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient returns a client over cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) call(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if in == nil {
		in = &structpb.Struct{}
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListSessions(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.call(ctx, MethodListSessions, in, opts...)
}

func (c *Client) Build(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.call(ctx, MethodBuild, in, opts...)
}

func (c *Client) Clusters(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.call(ctx, MethodClusters, in, opts...)
}

func (c *Client) Tap(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.call(ctx, MethodTap, in, opts...)
}
