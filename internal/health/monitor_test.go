package health

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"farmtrace/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

type switchPing struct {
	down atomic.Bool
}

func (p *switchPing) ping(context.Context) error {
	if p.down.Load() {
		return errors.New("ledger unreachable")
	}
	return nil
}

func status(t *testing.T, m *Monitor, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := m.server.Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestMonitorFollowsLedgerPing(t *testing.T) {
	p := &switchPing{}
	m := NewMonitor(time.Minute, p.ping, logger.Nop())
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status(t, m, ServiceName))

	require.NoError(t, m.Check(context.Background()))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status(t, m, ServiceName))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status(t, m, ""))

	p.down.Store(true)
	assert.Error(t, m.Check(context.Background()))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status(t, m, ServiceName))

	healthy, err := m.Healthy()
	assert.False(t, healthy)
	assert.EqualError(t, err, "ledger unreachable")
}

func TestMonitorRunPingsPeriodically(t *testing.T) {
	var calls atomic.Int32
	m := NewMonitor(10*time.Millisecond, func(context.Context) error {
		calls.Add(1)
		return nil
	}, logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status(t, m, ServiceName))

	cancel()
	<-done
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status(t, m, ServiceName))
}

func TestServeAnswersHealthChecks(t *testing.T) {
	m := NewMonitor(time.Minute, func(context.Context) error { return nil }, logger.Nop())
	require.NoError(t, m.Check(context.Background()))

	lis := bufconn.Listen(1 << 16)
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- m.ServeListener(ctx, lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	callCtx, callCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer callCancel()
	resp, err := healthpb.NewHealthClient(conn).Check(callCtx, &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	require.NoError(t, conn.Close())
	cancel()
	assert.NoError(t, <-served)
}
