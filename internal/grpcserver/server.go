// Package grpcserver exposes the standard gRPC health service for the alert
// service. Each backing dependency is reported as its own service name, and
// the overall ("") status is SERVING only while every dependency is healthy.
package grpcserver

import (
	"context"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Check probes one dependency.
type Check func(ctx context.Context) error

// Server wraps a grpc.Server carrying the health service.
type Server struct {
	grpc     *grpc.Server
	health   *health.Server
	checks   map[string]Check
	interval time.Duration
	timeout  time.Duration
	log      *zap.SugaredLogger

	mu   sync.Mutex
	last map[string]error
}

// New returns a Server probing checks every interval. Every name in checks is
// registered as a health service.
func New(checks map[string]Check, interval time.Duration, log *zap.SugaredLogger) *Server {
	s := &Server{
		grpc:     grpc.NewServer(),
		health:   health.NewServer(),
		checks:   checks,
		interval: interval,
		timeout:  5 * time.Second,
		log:      log,
		last:     make(map[string]error),
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	reflection.Register(s.grpc)

	s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	for name := range checks {
		s.health.SetServingStatus(name, healthpb.HealthCheckResponse_NOT_SERVING)
	}
	return s
}

// Services returns the registered dependency names, sorted.
func (s *Server) Services() []string {
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Probe runs every check once and updates the serving statuses.
func (s *Server) Probe(ctx context.Context) {
	healthy := true
	for _, name := range s.Services() {
		cctx, cancel := context.WithTimeout(ctx, s.timeout)
		err := s.checks[name](cctx)
		cancel()

		status := healthpb.HealthCheckResponse_SERVING
		if err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			healthy = false
		}
		s.health.SetServingStatus(name, status)
		s.record(name, err)
	}

	overall := healthpb.HealthCheckResponse_NOT_SERVING
	if healthy {
		overall = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", overall)
}

// record logs status changes only.
func (s *Server) record(name string, err error) {
	s.mu.Lock()
	prev := s.last[name]
	s.last[name] = err
	s.mu.Unlock()

	switch {
	case err != nil && prev == nil:
		s.log.Warnw("dependency unhealthy", "service", name, "error", err)
	case err == nil && prev != nil:
		s.log.Infow("dependency recovered", "service", name)
	}
}

// Serve probes once, then serves on lis while probing every interval. It
// returns when ctx is cancelled or the listener fails.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	s.Probe(ctx)

	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.health.Shutdown()
				s.grpc.GracefulStop()
				return
			case <-ticker.C:
				s.Probe(ctx)
			}
		}
	}()

	s.log.Infow("gRPC health listening", "addr", lis.Addr().String(), "services", s.Services())
	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return errors.Wrap(err, "grpc serve")
	}
	return nil
}
