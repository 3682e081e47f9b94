package transport

import (
	"fmt"
	"net"

	"github.com/Ind1x1/dlock/pkg/config"
	"github.com/Ind1x1/dlock/pkg/log"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
)

// Server hosts the Multiplexer behind the hand-written gRPC service
// contract.
type Server struct {
	grpcServer *grpc.Server
	logger     zerolog.Logger
}

// NewServer wraps mux in a grpc.Server registered against the
// hand-written ServiceDesc.
func NewServer(mux MultiplexerServer) *Server {
	s := grpc.NewServer(
		grpc.MaxRecvMsgSize(config.MaxGRPCMessageSize),
		grpc.MaxSendMsgSize(config.MaxGRPCMessageSize),
	)
	s.RegisterService(&serviceDesc, mux)
	return &Server{grpcServer: s, logger: log.WithComponent("transport")}
}

// Serve listens on addr and blocks serving requests until Stop or
// GracefulStop is called.
func (s *Server) Serve(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("transport: listen: %w", err)
	}
	return s.ServeListener(lis)
}

// ServeListener blocks serving requests on an already-bound listener,
// until Stop or GracefulStop is called.
func (s *Server) ServeListener(lis net.Listener) error {
	s.logger.Info().Str("addr", lis.Addr().String()).Msg("transport listening")
	return s.grpcServer.Serve(lis)
}

// GracefulStop drains in-flight requests before returning.
func (s *Server) GracefulStop() {
	s.grpcServer.GracefulStop()
}

// Stop terminates immediately, dropping in-flight requests.
func (s *Server) Stop() {
	s.grpcServer.Stop()
}
