//go:build e2e
// +build e2e

// Package e2e provides end-to-end tests against a running "rebalancer serve".
package e2e

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"
)

var baseURL = getEnv("API_URL", "http://localhost:9090")

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// TestMain runs before all tests
func TestMain(m *testing.M) {
	// Wait for server to be ready
	ready := false
	for i := 0; i < 30; i++ {
		resp, err := http.Get(baseURL + "/health")
		if err == nil && resp.StatusCode == 200 {
			resp.Body.Close()
			ready = true
			break
		}
		time.Sleep(1 * time.Second)
	}
	if !ready {
		fmt.Printf("Server at %s did not become healthy\n", baseURL)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

// =============================================================================
// Helper types and functions
// =============================================================================

type MoveResponse struct {
	WorkloadID   string `json:"workload_id"`
	SourceHostID string `json:"source_host_id"`
	TargetHostID string `json:"target_host_id"`
	Origin       string `json:"origin"`
}

type PlanResponse struct {
	ID      string `json:"id"`
	Cluster string `json:"cluster"`
	Status  string `json:"status"`
	Config  struct {
		MaxMigrations int `json:"max_migrations"`
	} `json:"config"`
	Plan struct {
		Moves      []MoveResponse `json:"moves"`
		Truncated  bool           `json:"truncated"`
		Simulation *struct {
			OK         bool     `json:"ok"`
			Violations []string `json:"violations"`
		} `json:"simulation"`
	} `json:"plan"`
}

type ListPlansResponse struct {
	Plans []PlanResponse `json:"plans"`
	Count int            `json:"count"`
}

func getJSON(t *testing.T, path string, want int, out any) {
	t.Helper()

	resp, err := http.Get(baseURL + path)
	if err != nil {
		t.Fatalf("GET %s failed: %v", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("GET %s: expected %d, got %d: %s", path, want, resp.StatusCode, string(body))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("GET %s: failed to decode response: %v", path, err)
		}
	}
}

// waitForPlan polls until the engine has recorded its first plan.
func waitForPlan(t *testing.T) PlanResponse {
	t.Helper()

	for i := 0; i < 60; i++ {
		resp, err := http.Get(baseURL + "/api/v1/plans/latest")
		if err == nil && resp.StatusCode == 200 {
			var plan PlanResponse
			err := json.NewDecoder(resp.Body).Decode(&plan)
			resp.Body.Close()
			if err != nil {
				t.Fatalf("Failed to decode latest plan: %v", err)
			}
			return plan
		}
		if resp != nil {
			resp.Body.Close()
		}
		time.Sleep(1 * time.Second)
	}
	t.Fatal("No plan was recorded within 60s")
	return PlanResponse{}
}

// =============================================================================
// Rebalancer E2E Tests
// =============================================================================

func TestProbes(t *testing.T) {
	for _, path := range []string{"/health", "/healthz", "/live", "/ready"} {
		getJSON(t, path, 200, nil)
	}
}

func TestLatestPlan(t *testing.T) {
	plan := waitForPlan(t)

	if plan.ID == "" {
		t.Fatal("Latest plan has no ID")
	}
	t.Logf("Latest plan %s for %s: %s with %d moves", plan.ID, plan.Cluster, plan.Status, len(plan.Plan.Moves))

	if n := len(plan.Plan.Moves); n > plan.Config.MaxMigrations {
		t.Errorf("Plan has %d moves, above the limit of %d", n, plan.Config.MaxMigrations)
	}
	if plan.Plan.Simulation == nil || !plan.Plan.Simulation.OK {
		t.Errorf("Plan simulation is not clean: %+v", plan.Plan.Simulation)
	}

	seen := make(map[string]bool)
	for _, m := range plan.Plan.Moves {
		if seen[m.WorkloadID] {
			t.Errorf("Workload %s moved more than once", m.WorkloadID)
		}
		seen[m.WorkloadID] = true
		if m.SourceHostID == m.TargetHostID {
			t.Errorf("Workload %s moved onto its own host", m.WorkloadID)
		}
	}

	var byID PlanResponse
	getJSON(t, "/api/v1/plans/"+plan.ID, 200, &byID)
	if byID.ID != plan.ID {
		t.Errorf("Expected plan %s, got %s", plan.ID, byID.ID)
	}
}

func TestListPlans(t *testing.T) {
	waitForPlan(t)

	var list ListPlansResponse
	getJSON(t, "/api/v1/plans?limit=5", 200, &list)
	if list.Count == 0 || list.Count > 5 {
		t.Errorf("Expected between 1 and 5 plans, got %d", list.Count)
	}

	getJSON(t, "/api/v1/plans?limit=-1", 400, nil)
	getJSON(t, "/api/v1/plans/does-not-exist", 404, nil)
}

func TestMetrics(t *testing.T) {
	resp, err := http.Get(baseURL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if len(body) == 0 {
		t.Error("Empty metrics response")
	}
}
