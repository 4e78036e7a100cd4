package grpcconnector

import (
	"context"

	"github.com/dogmatiq/interopspec/envelopespec"
	"github.com/sagabus/sagabus/parcel"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// executeMethod is the full method name of the command execution RPC.
const executeMethod = "/sagabus.transport.v1.CommandTransport/Execute"

// RegisterServer registers the connector's command execution service with a
// gRPC server, allowing other cluster members to route commands to this one.
func RegisterServer(s *grpc.Server, c *Connector) {
	s.RegisterService(&serviceDesc, c)
}

// execute handles an inbound command envelope from another cluster member.
//
// It returns the reply envelope produced by the subscribed handler, or an
// empty envelope if the handler produced no reply.
func (c *Connector) execute(
	ctx context.Context,
	env *envelopespec.Envelope,
) (*envelopespec.Envelope, error) {
	h, ok := c.handler(env.GetPortableName())
	if !ok {
		return nil, status.Errorf(
			codes.NotFound,
			"no handler is subscribed for '%s' commands",
			env.GetPortableName(),
		)
	}

	p, err := parcel.FromEnvelope(c.Marshaler, env)
	if err != nil {
		return nil, status.Error(
			codes.InvalidArgument,
			err.Error(),
		)
	}

	reply, err := h.HandleCommand(ctx, p)
	if err != nil {
		return nil, err
	}

	if reply.Envelope == nil {
		return &envelopespec.Envelope{}, nil
	}

	return reply.Envelope, nil
}

// serviceDesc describes the command execution service.
//
// It is written by hand because the service's only message type is the
// pre-generated envelopespec.Envelope.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: "sagabus.transport.v1.CommandTransport",
	HandlerType: (*executeServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Execute",
			Handler:    executeHandler,
		},
	},
	Streams: nil,
}

// executeServer is the interface that the service descriptor binds to.
type executeServer interface {
	execute(context.Context, *envelopespec.Envelope) (*envelopespec.Envelope, error)
}

// executeHandler decodes an Execute request and dispatches it to the
// connector.
func executeHandler(
	srv interface{},
	ctx context.Context,
	dec func(interface{}) error,
	interceptor grpc.UnaryServerInterceptor,
) (interface{}, error) {
	in := new(envelopespec.Envelope)
	if err := dec(in); err != nil {
		return nil, err
	}

	if interceptor == nil {
		return srv.(executeServer).execute(ctx, in)
	}

	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: executeMethod,
	}

	return interceptor(
		ctx,
		in,
		info,
		func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.(executeServer).execute(ctx, req.(*envelopespec.Envelope))
		},
	)
}
