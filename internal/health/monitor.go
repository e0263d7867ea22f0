// Package health exposes the engine's readiness over the standard gRPC health
// protocol. Serving status follows a periodic ledger ping.
package health

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"farmtrace/internal/logger"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name reported alongside the server-wide "" entry.
const ServiceName = "farmtrace.engine"

// PingFunc reports whether the ledger is reachable.
type PingFunc func(ctx context.Context) error

// Monitor owns a gRPC health server and keeps it in sync with the ping.
type Monitor struct {
	server   *health.Server
	ping     PingFunc
	interval time.Duration
	timeout  time.Duration
	logger   *logger.Logger

	mu      sync.Mutex
	healthy bool
	lastErr error
}

// NewMonitor starts in NOT_SERVING until the first ping succeeds.
func NewMonitor(interval time.Duration, ping PingFunc, log *logger.Logger) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	m := &Monitor{
		server:   health.NewServer(),
		ping:     ping,
		interval: interval,
		timeout:  interval / 2,
		logger:   log.Named("health"),
	}
	m.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return m
}

func (m *Monitor) set(status healthpb.HealthCheckResponse_ServingStatus) {
	m.server.SetServingStatus("", status)
	m.server.SetServingStatus(ServiceName, status)
}

// Check runs the ping once and updates the serving status.
func (m *Monitor) Check(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, m.timeout)
	err := m.ping(pingCtx)
	cancel()

	m.mu.Lock()
	changed := m.healthy != (err == nil)
	m.healthy = err == nil
	m.lastErr = err
	m.mu.Unlock()

	if err != nil {
		m.set(healthpb.HealthCheckResponse_NOT_SERVING)
		if changed {
			m.logger.Warn("Ledger ping failing, reporting NOT_SERVING", "error", err)
		}
		return err
	}
	m.set(healthpb.HealthCheckResponse_SERVING)
	if changed {
		m.logger.Info("Ledger ping healthy, reporting SERVING")
	}
	return nil
}

// Healthy returns the outcome of the last ping.
func (m *Monitor) Healthy() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.healthy, m.lastErr
}

// Run pings immediately and then every interval until ctx ends, after which every
// service reports NOT_SERVING.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	_ = m.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			m.server.Shutdown()
			return
		case <-ticker.C:
			_ = m.Check(ctx)
		}
	}
}

// Register attaches the health service to s.
func (m *Monitor) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, m.server)
}

// Serve listens on addr and serves the health service until ctx ends.
func (m *Monitor) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return m.ServeListener(ctx, lis)
}

// ServeListener serves on an existing listener until ctx ends.
func (m *Monitor) ServeListener(ctx context.Context, lis net.Listener) error {
	s := grpc.NewServer()
	m.Register(s)

	errCh := make(chan error, 1)
	go func() {
		m.logger.Info("gRPC health server listening", "addr", lis.Addr().String())
		if err := s.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.GracefulStop()
		return nil
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return fmt.Errorf("gRPC health server failed: %w", err)
	}
}
