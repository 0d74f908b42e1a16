package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// serviceName is the gRPC service path segment; method paths are
// "/overseerd.Supervisor/<MethodName>".
const serviceName = "overseerd.Supervisor"

func healthHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(HealthRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).GetHealth(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/GetHealth"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*Server).GetHealth(ctx, req.(*HealthRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func startHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return controlHandler(srv, ctx, dec, interceptor, "Start", (*Server).Start)
}

func stopHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return controlHandler(srv, ctx, dec, interceptor, "Stop", (*Server).Stop)
}

func restartHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return controlHandler(srv, ctx, dec, interceptor, "Restart", (*Server).Restart)
}

func controlHandler(
	srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor,
	method string, call func(*Server, context.Context, *ControlRequest) (*ControlResponse, error),
) (any, error) {
	in := new(ControlRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return call(srv.(*Server), ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/" + method}
	handler := func(ctx context.Context, req any) (any, error) {
		return call(srv.(*Server), ctx, req.(*ControlRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func statusStreamHandler(srv any, stream grpc.ServerStream) error {
	req := new(StatusRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(*Server).GetStatus(req, stream)
}

// ServiceDesc is the hand-rolled equivalent of a protoc-generated service
// descriptor: it registers the same four operations a .proto file would,
// against the JSON codec in codec.go instead of protobuf.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	// RegisterService checks the handler against this interface type; a
	// pointer to a struct type would make that check panic.
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetHealth", Handler: healthHandler},
		{MethodName: "Start", Handler: startHandler},
		{MethodName: "Stop", Handler: stopHandler},
		{MethodName: "Restart", Handler: restartHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "GetStatus", Handler: statusStreamHandler, ServerStreams: true},
	},
	Metadata: "overseerd/supervisor.proto",
}
