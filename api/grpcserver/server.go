// Package grpcserver exposes the broker service over gRPC. Messages are
// the broker.v1 protobuf types of api/pb; the service descriptor is
// written by hand instead of generated.
package grpcserver

import (
	"context"

	"brokerd/api/pb"
	"brokerd/infra/metrics"
	"brokerd/pkg/logger"
	"brokerd/service"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "broker.v1.BrokerService"

type Config struct {
	Service *service.BrokerService
	Logger  logger.Interface
	Metrics *metrics.Metrics
}

// Server adapts BrokerService to gRPC.
type Server struct {
	svc     *service.BrokerService
	logger  logger.Interface
	metrics *metrics.Metrics
	health  *health.Server
}

func NewServer(cfg Config) *Server {
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Nop()
	}
	return &Server{
		svc:     cfg.Service,
		logger:  cfg.Logger.With(logger.NewField("component", "grpc")),
		metrics: cfg.Metrics,
		health:  health.NewServer(),
	}
}

// GRPCServer builds a grpc.Server with the broker and health services
// registered and the request-id, logging and metrics interceptors
// installed.
func (s *Server) GRPCServer(opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{
		grpc.ChainUnaryInterceptor(s.unaryInterceptor),
		grpc.ChainStreamInterceptor(s.streamInterceptor),
	}, opts...)
	srv := grpc.NewServer(opts...)
	srv.RegisterService(&serviceDesc, s)
	healthpb.RegisterHealthServer(srv, s.health)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	return srv
}

// Shutdown flips every health status to NOT_SERVING ahead of a graceful
// stop.
func (s *Server) Shutdown() {
	s.health.Shutdown()
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		unary("CreateBlockOrder", "CreateBlockOrderRequest", (*Server).createBlockOrder),
		unary("CancelBlockOrder", "BlockOrderRequest", (*Server).cancelBlockOrder),
		unary("CancelAllBlockOrders", "MarketRequest", (*Server).cancelAllBlockOrders),
		unary("GetBlockOrder", "BlockOrderRequest", (*Server).getBlockOrder),
		unary("GetBlockOrders", "MarketRequest", (*Server).getBlockOrders),
		unary("GetTradeHistory", "Empty", (*Server).getTradeHistory),
		unary("GetOrderbook", "MarketRequest", (*Server).getOrderbook),
		unary("GetTrades", "GetTradesRequest", (*Server).getTrades),
		unary("GetSupportedMarkets", "Empty", (*Server).getSupportedMarkets),
		unary("GetActiveFunds", "GetActiveFundsRequest", (*Server).getActiveFunds),
		unary("HealthCheck", "Empty", (*Server).healthCheck),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchMarket",
			Handler:       watchMarketHandler,
			ServerStreams: true,
		},
	},
	Metadata: pb.Broker.File().Path(),
}

// unary adapts a handler taking a req message of the broker schema to
// grpc.MethodDesc.
func unary(name, req string, fn func(*Server, context.Context, pb.Message) (pb.Message, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := pb.Broker.New(req)
			if err := dec(in.Message); err != nil {
				return nil, err
			}
			s := srv.(*Server)
			call := func(ctx context.Context, _ any) (any, error) {
				resp, err := fn(s, ctx, in)
				if err != nil {
					return nil, err
				}
				return resp.Message, nil
			}
			if interceptor == nil {
				resp, err := call(ctx, in.Message)
				return resp, toStatus(err)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			resp, err := interceptor(ctx, in.Message, info, call)
			return resp, toStatus(err)
		},
	}
}
