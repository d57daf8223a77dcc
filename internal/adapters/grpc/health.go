package grpc

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Pinger reports whether the escrow store can serve requests.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthProber keeps grpc.health.v1 status in line with store reachability.
// Status is published for the empty service name and for serviceName.
type HealthProber struct {
	logger      *slog.Logger
	health      *health.Server
	pinger      Pinger
	serviceName string
	interval    time.Duration
	timeout     time.Duration
}

func NewHealthProber(logger *slog.Logger, pinger Pinger, serviceName string, interval time.Duration) *HealthProber {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &HealthProber{
		logger:      logger,
		health:      health.NewServer(),
		pinger:      pinger,
		serviceName: serviceName,
		interval:    interval,
		timeout:     2 * time.Second,
	}
}

func Register(server grpc.ServiceRegistrar, prober *HealthProber) {
	healthpb.RegisterHealthServer(server, prober.health)
}

func (p *HealthProber) Run(ctx context.Context) error {
	p.probeOnce(ctx)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.health.Shutdown()
			return ctx.Err()
		case <-ticker.C:
			p.probeOnce(ctx)
		}
	}
}

func (p *HealthProber) probeOnce(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if err := p.ping(ctx); err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		p.logger.WarnContext(ctx, "store health probe failed",
			"module", "grpc.health",
			"layer", "adapter",
			"operation", "health_probe",
			"outcome", "failure",
			"error", err,
		)
	}
	p.health.SetServingStatus("", status)
	if p.serviceName != "" {
		p.health.SetServingStatus(p.serviceName, status)
	}
	return status
}

func (p *HealthProber) ping(ctx context.Context) error {
	if p.pinger == nil {
		return errors.New("health pinger is not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.pinger.Ping(ctx)
}
