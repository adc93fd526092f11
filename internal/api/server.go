package api

import (
	"context"
	"fmt"
	"net"
	"time"

	"clinicbook/internal/config"
	"clinicbook/internal/domain"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/keepalive"
)

const grpcStopGrace = 10 * time.Second

// GRPCServer serves the admin RPC surface over a JSON codec.
type GRPCServer struct {
	server   *grpc.Server
	listener net.Listener
	log      zerolog.Logger
}

func NewGRPCServer(cfg *config.APIConfig, bookings domain.BookingService, logger *zerolog.Logger) (*GRPCServer, error) {
	opts, err := grpcServerOptions(cfg, logger)
	if err != nil {
		return nil, err
	}

	addr := fmt.Sprintf(":%d", cfg.GRPC.Port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("grpc listen %s: %w", addr, err)
	}

	srv := &GRPCServer{
		server:   grpc.NewServer(opts...),
		listener: lis,
		log:      zerolog.Nop(),
	}
	srv.server.RegisterService(&AdminServiceDesc, NewAdminService(bookings))
	if logger != nil {
		srv.log = logger.With().Str("component", "grpc").Logger()
	}
	return srv, nil
}

func grpcServerOptions(cfg *config.APIConfig, logger *zerolog.Logger) ([]grpc.ServerOption, error) {
	unary := ChainUnaryInterceptors(
		RecoveryUnaryInterceptor(logger),
		LoggingUnaryInterceptor(logger),
		NewAuthInterceptor(cfg).Unary(),
	)

	opts := []grpc.ServerOption{
		grpc.UnaryInterceptor(unary),
		grpc.ForceServerCodec(JSONCodec()),
		grpc.KeepaliveParams(keepalive.ServerParameters{MaxConnectionIdle: 5 * time.Minute}),
	}
	if !cfg.GRPC.TLS.Enabled {
		return opts, nil
	}

	tlsCfg, err := buildTLSConfig(cfg.GRPC.TLS)
	if err != nil {
		return nil, err
	}
	return append(opts, grpc.Creds(credentials.NewTLS(tlsCfg))), nil
}

func (s *GRPCServer) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Serve blocks until the server stops. It returns nil after Shutdown.
func (s *GRPCServer) Serve() error {
	s.log.Info().Str("addr", s.Addr()).Msg("gRPC admin API listening")
	return s.server.Serve(s.listener)
}

// Shutdown drains in-flight calls, forcing a hard stop when ctx ends or
// the grace period runs out.
func (s *GRPCServer) Shutdown(ctx context.Context) {
	if s.server == nil {
		return
	}

	drained := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(drained)
	}()

	grace := time.NewTimer(grpcStopGrace)
	defer grace.Stop()

	select {
	case <-drained:
	case <-ctx.Done():
		s.forceStop()
	case <-grace.C:
		s.forceStop()
	}
}

func (s *GRPCServer) forceStop() {
	s.log.Warn().Msg("gRPC graceful shutdown timed out; forcing stop")
	s.server.Stop()
}
