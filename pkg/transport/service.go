package transport

import (
	"context"

	"github.com/Ind1x1/dlock/pkg/wire"
	"google.golang.org/grpc"
)

// MultiplexerServer is the interface the Request Multiplexer satisfies
// and this package's hand-written ServiceDesc dispatches to.
type MultiplexerServer interface {
	Report(ctx context.Context, env wire.Envelope) wire.Response
	Get(ctx context.Context, env wire.Envelope) []byte
}

const serviceName = "dlock.master.Multiplexer"

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*MultiplexerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Report", Handler: reportHandler},
		{MethodName: "Get", Handler: getHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "dlock/transport",
}

func reportHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	env := new(wire.Envelope)
	if err := dec(env); err != nil {
		return nil, err
	}
	if interceptor == nil {
		resp := srv.(MultiplexerServer).Report(ctx, *env)
		return &resp, nil
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Report"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		resp := srv.(MultiplexerServer).Report(ctx, *req.(*wire.Envelope))
		return &resp, nil
	}
	return interceptor(ctx, env, info, handler)
}

func getHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	env := new(wire.Envelope)
	if err := dec(env); err != nil {
		return nil, err
	}
	if interceptor == nil {
		payload := srv.(MultiplexerServer).Get(ctx, *env)
		return &wire.Envelope{Payload: payload}, nil
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Get"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		payload := srv.(MultiplexerServer).Get(ctx, *req.(*wire.Envelope))
		return &wire.Envelope{Payload: payload}, nil
	}
	return interceptor(ctx, env, info, handler)
}
