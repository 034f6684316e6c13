package debug

import (
	"context"
	"fmt"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/modeld/internal/monitoring"
)

// ServiceName is the health service name reported for the model cycle.
const ServiceName = "modeld"

// Health reports NOT_SERVING until the startup barrier passes, SERVING
// while cycles run, and NOT_SERVING again on shutdown.
type Health struct {
	hs     *health.Server
	server *grpc.Server
	log    *zap.SugaredLogger
}

func NewHealth(log *zap.SugaredLogger) *Health {
	h := &Health{
		hs:     health.NewServer(),
		server: grpc.NewServer(),
		log:    monitoring.Or(log),
	}
	h.hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(h.server, h.hs)
	return h
}

// SetServing flips the modeld service status.
func (h *Health) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	h.hs.SetServingStatus(ServiceName, st)
}

// Serve answers health checks on lis until ctx ends.
func (h *Health) Serve(ctx context.Context, lis net.Listener) error {
	errc := make(chan error, 1)
	go func() {
		h.log.Infow("grpc health listening", "addr", lis.Addr().String())
		errc <- h.server.Serve(lis)
	}()
	select {
	case err := <-errc:
		return fmt.Errorf("grpc health: %w", err)
	case <-ctx.Done():
		h.hs.Shutdown()
		h.server.GracefulStop()
		return nil
	}
}

// ListenAndServe opens a TCP listener on addr and calls Serve.
func (h *Health) ListenAndServe(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return h.Serve(ctx, lis)
}
