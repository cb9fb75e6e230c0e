package grpc

import (
	"context"
	"testing"
	"time"

	"github.com/harshakreox/ghostqa/internal/application/orchestrator"
	"github.com/harshakreox/ghostqa/internal/domain"
	eventsmemory "github.com/harshakreox/ghostqa/pkg/adapters/events/memory"
	metricsprom "github.com/harshakreox/ghostqa/pkg/adapters/metrics/prometheus"
	storagememory "github.com/harshakreox/ghostqa/pkg/adapters/storage/memory"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type passEngine struct{}

func (passEngine) Execute(context.Context, domain.Target, domain.ExecuteOptions) (*domain.ExecutionResult, error) {
	return &domain.ExecutionResult{Status: domain.ExecutionPassed}, nil
}

type noStore struct{}

func (noStore) ListChangedSince(context.Context, time.Time) ([]domain.ChangedUnit, error) {
	return nil, nil
}

func (noStore) ListAllProjects(context.Context) ([]string, error) { return nil, nil }

func TestHealthFollowsControllerState(t *testing.T) {
	ctrl, err := orchestrator.NewController(&orchestrator.Config{
		Engine:   passEngine{},
		Store:    noStore{},
		Records:  storagememory.NewRecordStore(10),
		Events:   eventsmemory.NewInMemoryEventBus(),
		Metrics:  metricsprom.NewCollectorWithRegistry(prometheus.NewRegistry()),
		Logger:   zaptest.NewLogger(t),
		Settings: domain.DefaultOrchestratorConfig(),
	})
	if err != nil {
		t.Fatal(err)
	}

	srv, err := NewServer(&Config{Port: 0, Controller: ctrl, Logger: zaptest.NewLogger(t)})
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = srv.Start() }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_, _ = ctrl.Stop(ctx, true)
		_ = srv.Shutdown(ctx)
	})

	conn, err := grpc.NewClient(srv.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = conn.Close() }()
	client := healthpb.NewHealthClient(conn)

	check := func() healthpb.HealthCheckResponse_ServingStatus {
		t.Helper()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
		if err != nil {
			t.Fatal(err)
		}
		return resp.GetStatus()
	}

	if got := check(); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("stopped status = %s", got)
	}

	if _, err := ctrl.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := check(); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("running status = %s", got)
	}

	if _, err := ctrl.Stop(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	if got := check(); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("stopped again status = %s", got)
	}
}
