package health

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// PrinterService is the gRPC health service name reporting the printer pool.
const PrinterService = "printguard.PrinterPool"

// GRPCServer serves the standard gRPC health protocol backed by a Monitor.
// The overall service ("") and PrinterService are NOT_SERVING only when the
// report is critical.
type GRPCServer struct {
	monitor  *Monitor
	health   *grpchealth.Server
	server   *grpc.Server
	interval time.Duration
	log      *slog.Logger

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewGRPCServer registers the health service on a new gRPC server.
func NewGRPCServer(monitor *Monitor, interval time.Duration) *GRPCServer {
	if interval <= 0 {
		interval = defaultMinInterval
	}
	s := &GRPCServer{
		monitor:  monitor,
		health:   grpchealth.NewServer(),
		server:   grpc.NewServer(),
		interval: interval,
		log:      slog.Default().With("component", "grpc-health"),
		stop:     make(chan struct{}),
	}
	healthpb.RegisterHealthServer(s.server, s.health)
	return s
}

// HealthServer returns the underlying health service implementation.
func (s *GRPCServer) HealthServer() healthpb.HealthServer {
	return s.health
}

// Refresh recomputes serving status from the monitor.
func (s *GRPCServer) Refresh(ctx context.Context) SystemStatus {
	report := s.monitor.CheckHealth(ctx)
	status := healthpb.HealthCheckResponse_SERVING
	if report.SystemStatus == StatusCritical {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(PrinterService, status)
	return report.SystemStatus
}

// Serve refreshes status periodically and serves on lis until Stop.
func (s *GRPCServer) Serve(lis net.Listener) error {
	s.Refresh(context.Background())

	s.wg.Add(1)
	go s.refreshLoop()

	return s.server.Serve(lis)
}

func (s *GRPCServer) refreshLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if status := s.Refresh(context.Background()); status != StatusHealthy {
				s.log.Warn("Health degraded", "status", status)
			}
		case <-s.stop:
			return
		}
	}
}

// Stop marks every service NOT_SERVING and stops gracefully.
func (s *GRPCServer) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		s.health.Shutdown()
		s.server.GracefulStop()
	})
	s.wg.Wait()
}
