package server

import (
	"context"
	"fmt"
	"net"
	"path"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"PerpRisk/internal/observability"
)

// GRPCServer serves the RiskEngine service with the JSON codec, plus the
// standard health and reflection services.
type GRPCServer struct {
	grpcServer *grpc.Server
	health     *health.Server
	addr       string
	logger     zerolog.Logger
}

// NewGRPCServer creates a gRPC server with the RiskEngine service registered.
func NewGRPCServer(addr string, svc *Service, metrics *observability.Metrics, logger zerolog.Logger, opts ...grpc.ServerOption) *GRPCServer {
	if metrics == nil {
		metrics = observability.NewTestMetrics()
	}
	logger = logger.With().Str("component", "grpc").Logger()

	opts = append(opts, grpc.ChainUnaryInterceptor(unaryInterceptor(metrics, logger)))
	grpcServer := grpc.NewServer(opts...)
	grpcServer.RegisterService(svc.serviceDesc(), svc)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	// Reflection for grpcurl / grpcui
	reflection.Register(grpcServer)

	return &GRPCServer{grpcServer: grpcServer, health: healthServer, addr: addr, logger: logger}
}

// Server exposes the underlying grpc.Server.
func (s *GRPCServer) Server() *grpc.Server { return s.grpcServer }

// SetServing flips the health status of the RiskEngine service.
func (s *GRPCServer) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_SERVING
	if !serving {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus(ServiceName, st)
}

// StartGRPC listens on the configured address and serves until ctx is
// cancelled (blocking).
func (s *GRPCServer) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	return s.Serve(ctx, lis)
}

// Serve serves on lis until ctx is cancelled.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("gRPC server shutting down")
		s.health.Shutdown()
		s.grpcServer.GracefulStop()
	}()

	s.logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC server listening")
	if err := s.grpcServer.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return err
	}
	return nil
}

// serviceDesc builds the RiskEngine service description from the method
// table. Messages are the plain request and response structs, carried by
// the JSON codec.
func (s *Service) serviceDesc() *grpc.ServiceDesc {
	methods := s.methods()
	desc := &grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*interface{})(nil),
		Methods:     make([]grpc.MethodDesc, 0, len(methods)),
		Metadata:    "perprisk/v1/risk_engine",
	}
	for _, m := range methods {
		desc.Methods = append(desc.Methods, grpc.MethodDesc{
			MethodName: m.Name,
			Handler:    grpcHandler(m),
		})
	}
	return desc
}

func grpcHandler(m rpc) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	fullMethod := "/" + ServiceName + "/" + m.Name
	return func(_ interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		req := m.newReq()
		if err := dec(req); err != nil {
			return nil, toStatus(invalid(err))
		}
		if interceptor == nil {
			resp, err := m.call(ctx, req)
			return resp, toStatus(err)
		}
		info := &grpc.UnaryServerInfo{FullMethod: fullMethod}
		return interceptor(ctx, req, info, m.call)
	}
}

func unaryInterceptor(metrics *observability.Metrics, logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		method := path.Base(info.FullMethod)

		st := toStatus(err)
		code := status.Code(st)
		metrics.APIRequests.WithLabelValues("grpc", method, code.String()).Inc()
		metrics.APIDuration.WithLabelValues("grpc", method).Observe(time.Since(start).Seconds())

		switch code {
		case codes.OK:
		case codes.Internal, codes.Unknown:
			logger.Error().Err(err).Str("method", method).Msg("rpc failed")
		default:
			logger.Debug().Err(err).Str("method", method).Str("code", code.String()).Msg("rpc rejected")
		}
		if st != nil {
			return nil, st
		}
		return resp, nil
	}
}
