package server

import (
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health-checked service name; "" reports overall health.
const ServiceName = "docs2md.v1.Batches"

// HealthServer serves grpc.health.v1 so orchestrators can probe readiness.
type HealthServer struct {
	grpc   *grpc.Server
	health *health.Server
	logger *slog.Logger
}

func NewHealthServer(logger *slog.Logger) *HealthServer {
	if logger == nil {
		logger = slog.Default()
	}
	gs := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	// Reflection for grpcurl
	reflection.Register(gs)
	h := &HealthServer{grpc: gs, health: hs, logger: logger}
	h.SetServing(true)
	return h
}

// SetServing flips both the overall and the named service status.
func (h *HealthServer) SetServing(ok bool) {
	st := healthpb.HealthCheckResponse_SERVING
	if !ok {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.health.SetServingStatus("", st)
	h.health.SetServingStatus(ServiceName, st)
	h.logger.Info("grpc health status", "status", st.String())
}

// Serve blocks until Stop is called or lis fails.
func (h *HealthServer) Serve(lis net.Listener) error {
	h.logger.Info("gRPC health serving", "addr", lis.Addr().String())
	return h.grpc.Serve(lis)
}

func (h *HealthServer) Stop() {
	h.health.Shutdown()
	h.grpc.GracefulStop()
}
