package handler

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the gRPC health service name reported alongside the overall status.
const ServiceName = "session.v1.SessionLifecycle"

// Watch runs c every interval and mirrors the result into hs for both the overall
// status and ServiceName. It returns when ctx is done, after marking hs NOT_SERVING.
func Watch(ctx context.Context, hs *health.Server, c *Checker, interval time.Duration, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	last := healthpb.HealthCheckResponse_UNKNOWN
	probe := func() {
		status := healthpb.HealthCheckResponse_SERVING
		if err := c.Check(ctx); err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			if last != status {
				logger.Warn("health: store unreachable", "err", err)
			}
		}
		last = status
		hs.SetServingStatus("", status)
		hs.SetServingStatus(ServiceName, status)
	}
	probe()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			hs.Shutdown()
			return
		case <-ticker.C:
			probe()
		}
	}
}
