package transport

import (
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/zde37/ringkv/pkg"
)

// GRPCServer serves the standard gRPC health service on the same port as the
// node's HTTP API.
type GRPCServer struct {
	server *grpc.Server
	health *health.Server
	logger *pkg.Logger
}

// NewGRPCServer creates a gRPC server that reports SERVING until Stop.
func NewGRPCServer(logger *pkg.Logger) (*GRPCServer, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	s := &GRPCServer{
		health: health.NewServer(),
		logger: logger.WithFields(pkg.Fields{"component": "grpc_server"}),
	}

	opts := []grpc.ServerOption{
		grpc.MaxRecvMsgSize(4 * 1024 * 1024), // 4MB
		grpc.MaxSendMsgSize(4 * 1024 * 1024), // 4MB
		grpc.UnaryInterceptor(LoggingInterceptor(s.logger)),
	}

	s.server = grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(s.server, s.health)
	reflection.Register(s.server) // self-documentation for the server

	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return s, nil
}

// SetServing flips the overall health status.
func (s *GRPCServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
}

// Handler multiplexes gRPC (HTTP/2 cleartext) and plain HTTP on one
// listener. Anything that is not a gRPC call goes to next.
func (s *GRPCServer) Handler(next http.Handler) http.Handler {
	mux := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ProtoMajor == 2 && strings.HasPrefix(r.Header.Get("Content-Type"), "application/grpc") {
			s.server.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
	return h2c.NewHandler(mux, &http2.Server{})
}

// Stop marks the server NOT_SERVING and stops it.
func (s *GRPCServer) Stop() {
	s.logger.Info().Msg("Stopping gRPC server")

	s.health.Shutdown()
	s.server.Stop()
}
