package extension

import (
	"context"
	"net"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/gofer-hq/gofer/internal/rpc"
)

// TriggerFireFunc handles an inbound trigger_fire callback from an extension
// container. It is called synchronously within the RPC handler; callers that
// need asynchronous fan-out (e.g. into the Run Orchestrator) should enqueue
// and return promptly.
type TriggerFireFunc func(ctx context.Context, req TriggerFireRequest) error

// Server is the gRPC endpoint extension containers call back into to report
// fired triggers. Gofer does not generate a .proto service descriptor for
// this surface, so method dispatch is done generically via
// grpc.UnknownServiceHandler, matching the JSON codec used on the client
// side of this package.
type Server struct {
	grpcServer *grpc.Server
	onFire     TriggerFireFunc
}

func NewServer(onFire TriggerFireFunc) *Server {
	s := &Server{onFire: onFire}
	s.grpcServer = grpc.NewServer(grpc.UnknownServiceHandler(s.handleUnknown))
	return s
}

func (s *Server) Serve(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

func (s *Server) Stop() {
	s.grpcServer.GracefulStop()
}

func (s *Server) handleUnknown(srv any, stream grpc.ServerStream) error {
	fullMethod, ok := grpc.MethodFromServerStream(stream)
	if !ok {
		return status.Error(codes.Internal, "extension: could not determine method")
	}

	methodName := fullMethod
	if idx := strings.LastIndex(fullMethod, "/"); idx >= 0 {
		methodName = fullMethod[idx+1:]
	}

	switch methodName {
	case "TriggerFire":
		return s.dispatchTriggerFire(stream)
	default:
		return status.Errorf(codes.Unimplemented, "extension: unknown method %q", fullMethod)
	}
}

func (s *Server) dispatchTriggerFire(stream grpc.ServerStream) error {
	var raw rpc.RawMessage
	if err := stream.RecvMsg(&raw); err != nil {
		return status.Errorf(codes.InvalidArgument, "extension: reading trigger_fire payload: %v", err)
	}

	var req TriggerFireRequest
	if err := rpc.Unmarshal(raw, &req); err != nil {
		return status.Errorf(codes.InvalidArgument, "extension: decoding trigger_fire payload: %v", err)
	}

	if err := s.onFire(stream.Context(), req); err != nil {
		return status.Errorf(codes.Internal, "extension: handling trigger_fire: %v", err)
	}

	return stream.SendMsg(TriggerFireResponse{})
}
