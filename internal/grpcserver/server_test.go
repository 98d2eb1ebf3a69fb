package grpcserver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func startServer(t *testing.T) (*Server, healthpb.HealthClient) {
	t.Helper()
	s := New("127.0.0.1:0")
	require.NoError(t, s.Listen())
	go func() { _ = s.Start() }()
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient(s.Addr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return s, healthpb.NewHealthClient(conn)
}

func check(t *testing.T, client healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestServer_DefaultServing(t *testing.T) {
	_, client := startServer(t)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, client, ""))
}

func TestServer_Probe(t *testing.T) {
	s, client := startServer(t)
	ctx := context.Background()

	err := s.Probe(ctx, "ledger", pinger{err: errors.New("down")})
	require.Error(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, client, "ledger"))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, client, ""))

	require.NoError(t, s.Probe(ctx, "ledger", pinger{}))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, client, "ledger"))
}
