// Package transport carries envelopes over gRPC.
//
// One unary method moves raw envelope bytes in both directions:
//
//	service Omni {
//	  rpc Send(google.protobuf.BytesValue) returns (google.protobuf.BytesValue);
//	}
package transport

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	serviceName = "omni.v1.Omni"
	sendMethod  = "/" + serviceName + "/Send"
)

type OmniServer interface {
	Send(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
}

type UnimplementedOmniServer struct{}

func (UnimplementedOmniServer) Send(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return nil, status.Error(codes.Unimplemented, "method Send not implemented")
}

func RegisterOmniServer(s grpc.ServiceRegistrar, srv OmniServer) {
	s.RegisterService(&Omni_ServiceDesc, srv)
}

type OmniClient interface {
	Send(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
}

type omniClient struct{ cc grpc.ClientConnInterface }

func NewOmniClient(cc grpc.ClientConnInterface) OmniClient { return &omniClient{cc: cc} }

func (c *omniClient) Send(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(ctx, sendMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func _Omni_Send_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OmniServer).Send(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: sendMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(OmniServer).Send(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

var Omni_ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*OmniServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Send", Handler: _Omni_Send_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "omni.proto",
}
