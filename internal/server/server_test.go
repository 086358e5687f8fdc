package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/limiquantix/rebalancer/internal/config"
	"github.com/limiquantix/rebalancer/internal/domain"
)

type fakeCluster struct {
	snap  domain.Snapshot
	moves []domain.Move
}

func (f *fakeCluster) Snapshot(ctx context.Context) (domain.Snapshot, error) {
	return f.snap, nil
}

func (f *fakeCluster) Migrate(ctx context.Context, move domain.Move) error {
	f.moves = append(f.moves, move)
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		Server:  config.ServerConfig{Host: "127.0.0.1", Port: 0},
		Planner: config.PlannerConfig{Metrics: []string{"cpu", "memory"}, Aggressiveness: 3, MaxMigrations: 10, ApplyAntiAffinity: true, ApplyBalance: true},
		DRS:     config.DRSConfig{Enabled: true, DryRun: true},
		Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"},
		CORS:    config.CORSConfig{AllowedOrigins: []string{"*"}, AllowedMethods: []string{"GET"}},
	}
}

func testCluster() *fakeCluster {
	capacity := domain.Vector{100, 100, 100, 100}
	return &fakeCluster{snap: domain.Snapshot{
		Cluster: "lab",
		Hosts: []domain.HostSpec{
			{ID: "h1", Capacity: capacity, Usage: domain.Vector{60, 20, 0, 0}},
			{ID: "h2", Capacity: capacity, Usage: domain.Vector{0, 0, 0, 0}},
		},
		Workloads: []domain.WorkloadSpec{
			{ID: "w1", Name: "app01", HostID: "h1", Demand: domain.Vector{30, 10, 0, 0}},
			{ID: "w2", Name: "app02", HostID: "h1", Demand: domain.Vector{30, 10, 0, 0}},
		},
	}}
}

func newTestServer(t *testing.T, cfg *config.Config, opts ...ServerOption) *Server {
	t.Helper()
	s, err := New(cfg, zap.NewNop(), opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func TestServer_InvalidPlannerConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Planner.Aggressiveness = 9
	cluster := testCluster()
	if _, err := New(cfg, zap.NewNop(), WithCluster(cluster, cluster)); err == nil {
		t.Error("expected error for out of range aggressiveness")
	}
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestServer_HealthEndpoints(t *testing.T) {
	s := newTestServer(t, testConfig())
	h := s.Handler()

	for _, path := range []string{"/health", "/healthz", "/live", "/ready"} {
		if rec := get(t, h, path); rec.Code != http.StatusOK {
			t.Errorf("GET %s: expected 200, got %d", path, rec.Code)
		}
	}

	var body map[string]any
	rec := get(t, h, "/ready")
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid ready body: %v", err)
	}
	if body["ready"] != true || body["leader"] != true {
		t.Errorf("unexpected ready body %v", body)
	}
	if s.Engine() != nil {
		t.Error("expected no engine without an attached cluster")
	}
}

func TestServer_PlanAPI(t *testing.T) {
	cluster := testCluster()
	s := newTestServer(t, testConfig(), WithCluster(cluster, cluster))
	h := s.Handler()

	if rec := get(t, h, "/api/v1/plans/latest"); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 before any run, got %d", rec.Code)
	}

	planRec, err := s.Engine().RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if len(cluster.moves) != 0 {
		t.Error("dry run must not migrate")
	}

	rec := get(t, h, "/api/v1/plans?limit=5")
	if rec.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", rec.Code)
	}
	var list struct {
		Plans []domain.PlanRecord `json:"plans"`
		Count int                 `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("invalid list body: %v", err)
	}
	if list.Count != 1 || list.Plans[0].ID != planRec.ID {
		t.Errorf("expected the recorded plan in the list, got %+v", list)
	}

	for _, path := range []string{"/api/v1/plans/latest", "/api/v1/plans/" + planRec.ID} {
		rec := get(t, h, path)
		if rec.Code != http.StatusOK {
			t.Fatalf("GET %s: expected 200, got %d", path, rec.Code)
		}
		var got domain.PlanRecord
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
			t.Fatalf("GET %s: invalid body: %v", path, err)
		}
		if got.ID != planRec.ID || got.Status != domain.PlanStatusDryRun {
			t.Errorf("GET %s: unexpected record %s %s", path, got.ID, got.Status)
		}
		if len(got.Plan.Moves) != len(planRec.Plan.Moves) {
			t.Errorf("GET %s: expected %d moves, got %d", path, len(planRec.Plan.Moves), len(got.Plan.Moves))
		}
	}

	rec = get(t, h, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `rebalancer_runs_total{status="DRY_RUN"} 1`) {
		t.Error("expected the dry run to be counted in metrics")
	}
}

func TestServer_PlanAPIErrors(t *testing.T) {
	s := newTestServer(t, testConfig())
	h := s.Handler()

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/api/v1/plans/missing", http.StatusNotFound},
		{http.MethodGet, "/api/v1/plans/a/b", http.StatusNotFound},
		{http.MethodGet, "/api/v1/plans?limit=abc", http.StatusBadRequest},
		{http.MethodGet, "/api/v1/plans?limit=0", http.StatusBadRequest},
		{http.MethodPost, "/api/v1/plans", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/v1/plans", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}
