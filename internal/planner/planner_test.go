package planner

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"github.com/limiquantix/rebalancer/internal/balance"
	"github.com/limiquantix/rebalancer/internal/domain"
	"github.com/limiquantix/rebalancer/internal/inventory"
)

func host(id string, cpu float64) domain.HostSpec {
	return domain.HostSpec{
		ID:       id,
		Name:     id + ".example.com",
		Capacity: domain.Vector{100, 100, 100, 100},
		Usage:    domain.Vector{cpu, 10, 10, 10},
	}
}

func workload(name, hostID string, cpu float64) domain.WorkloadSpec {
	return domain.WorkloadSpec{ID: "id-" + name, Name: name, HostID: hostID, Demand: domain.Vector{}.With(domain.MetricCPU, cpu)}
}

// mixedSnapshot has both a crowded sibling group and a cpu hotspot on host-a.
func mixedSnapshot() domain.Snapshot {
	return domain.Snapshot{
		Cluster: "prod",
		Hosts:   []domain.HostSpec{host("host-a", 90), host("host-b", 30), host("host-c", 30)},
		Workloads: []domain.WorkloadSpec{
			workload("web01", "host-a", 10),
			workload("web02", "host-a", 10),
			workload("web03", "host-a", 10),
			workload("web04", "host-b", 10),
			workload("web05", "host-c", 10),
			workload("database", "host-a", 40),
		},
	}
}

// largeSnapshot spreads many workloads over the first two of five hosts.
func largeSnapshot() domain.Snapshot {
	prefixes := []string{"web", "app", "db", "cache", "batch-job"}
	snap := domain.Snapshot{Cluster: "large"}
	usage := make([]domain.Vector, 5)
	for i := range usage {
		usage[i] = domain.Vector{50, 50, 50, 50}
	}

	for i := 0; i < 30; i++ {
		h := i % 2
		demand := domain.Vector{
			float64(10 + (i*37)%23),
			float64(20 + (i*11)%31),
			float64(5 + (i*7)%13),
			float64(3 + (i*5)%11),
		}
		usage[h] = usage[h].Add(demand)
		snap.Workloads = append(snap.Workloads, domain.WorkloadSpec{
			ID:     fmt.Sprintf("vm-%03d", i),
			Name:   fmt.Sprintf("%s%02d", prefixes[i%len(prefixes)], i/len(prefixes)+1),
			HostID: fmt.Sprintf("esx-%d", h),
			Demand: demand,
		})
	}
	for i := range usage {
		snap.Hosts = append(snap.Hosts, domain.HostSpec{
			ID:       fmt.Sprintf("esx-%d", i),
			Capacity: domain.Vector{1000, 1000, 1000, 1000},
			Usage:    usage[i],
		})
	}
	return snap
}

func TestPlanner_AntiAffinityExample(t *testing.T) {
	p := New(zap.NewNop())
	cfg := domain.DefaultPlanConfig()
	cfg.ApplyBalance = false

	plan, err := p.Plan(mixedSnapshot(), cfg)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	if len(plan.Moves) != 1 {
		t.Fatalf("Expected 1 move, got %v", plan.Moves)
	}
	mv := plan.Moves[0]
	if mv.SourceHostID != "host-a" || mv.Origin != domain.OriginAntiAffinity {
		t.Errorf("Unexpected move %s", mv)
	}
	if len(plan.Groups) != 1 || plan.Groups[0].FinalSpread > 1 || plan.Groups[0].Status != domain.StatusResolved {
		t.Errorf("Unexpected group status %+v", plan.Groups)
	}
	if plan.Metrics != nil {
		t.Errorf("Metric statuses reported with balancing disabled: %+v", plan.Metrics)
	}
}

func TestPlanner_BalanceExample(t *testing.T) {
	snap := domain.Snapshot{
		Hosts: []domain.HostSpec{host("a", 90), host("b", 50), host("c", 50)},
		Workloads: []domain.WorkloadSpec{
			workload("alpha", "a", 20),
			workload("bravo", "a", 10),
			workload("charlie", "a", 10),
		},
	}
	cfg := domain.DefaultPlanConfig()
	cfg.Metrics = []domain.Metric{domain.MetricCPU}

	plan, err := New(zap.NewNop()).Plan(snap, cfg)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	if len(plan.Moves) == 0 {
		t.Fatal("Expected balancing moves")
	}
	for _, mv := range plan.Moves {
		if mv.SourceHostID != "a" {
			t.Errorf("Move %s does not leave the hot host", mv)
		}
	}
	st := plan.Metrics[0]
	if st.FinalGap > 15 || st.Status != domain.StatusResolved {
		t.Errorf("Unexpected metric status %+v", st)
	}
	for _, h := range plan.Simulation.Hosts {
		if u := h.Utilization.Get(domain.MetricCPU); u > 90 {
			t.Errorf("Host %s ends at %.1f%%, above the starting maximum", h.HostID, u)
		}
	}
}

func TestPlanner_CapOfOneKeepsAntiAffinityMove(t *testing.T) {
	cfg := domain.DefaultPlanConfig()
	cfg.Metrics = []domain.Metric{domain.MetricCPU}
	cfg.MaxMigrations = 1

	plan, err := New(zap.NewNop()).Plan(mixedSnapshot(), cfg)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	if len(plan.Moves) != 1 || plan.Moves[0].Origin != domain.OriginAntiAffinity {
		t.Fatalf("Expected a single anti-affinity move, got %v", plan.Moves)
	}
	if !plan.Truncated {
		t.Error("Expected plan to be truncated")
	}
	if plan.Metrics[0].Status != domain.StatusTruncated {
		t.Errorf("cpu status = %s, want TRUNCATED", plan.Metrics[0].Status)
	}
	if plan.Groups[0].Status != domain.StatusResolved {
		t.Errorf("group status = %s, want RESOLVED", plan.Groups[0].Status)
	}
}

func TestPlanner_Properties(t *testing.T) {
	for level := domain.MinAggressiveness; level <= domain.MaxAggressiveness; level++ {
		t.Run(fmt.Sprintf("aggressiveness-%d", level), func(t *testing.T) {
			cfg := domain.DefaultPlanConfig()
			cfg.Aggressiveness = level

			plan, err := New(zap.NewNop()).Plan(largeSnapshot(), cfg)
			if err != nil {
				t.Fatalf("Plan failed: %v", err)
			}

			if len(plan.Moves) > cfg.MaxMigrations {
				t.Errorf("Plan has %d moves, cap is %d", len(plan.Moves), cfg.MaxMigrations)
			}

			seen := make(map[string]bool)
			balancingSeen := false
			for _, mv := range plan.Moves {
				if seen[mv.WorkloadID] {
					t.Errorf("Workload %s moved twice", mv.WorkloadID)
				}
				seen[mv.WorkloadID] = true
				if mv.Origin == domain.OriginBalancing {
					balancingSeen = true
				} else if balancingSeen {
					t.Errorf("Anti-affinity move %s after a balancing move", mv)
				}
			}

			threshold, _ := balance.Threshold(level)
			for _, st := range plan.Metrics {
				if st.FinalGap > threshold+1e-9 && st.Status.Within() {
					t.Errorf("Metric %s gap %.2f above %.0f but status %s", st.Metric, st.FinalGap, threshold, st.Status)
				}
			}
			for _, g := range plan.Groups {
				if g.FinalSpread > 1 && g.Status.Within() {
					t.Errorf("Group %s spread %d but status %s", g.Prefix, g.FinalSpread, g.Status)
				}
			}
			if !plan.Simulation.OK {
				t.Errorf("Simulation not OK: %v", plan.Simulation.Violations)
			}
		})
	}
}

func TestPlanner_Deterministic(t *testing.T) {
	p := New(zap.NewNop())
	cfg := domain.DefaultPlanConfig()

	first, err := p.Plan(largeSnapshot(), cfg)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	second, err := p.Plan(largeSnapshot(), cfg)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("Plans differ (-first +second):\n%s", diff)
	}
}

func TestPlanner_Errors(t *testing.T) {
	p := New(zap.NewNop())

	snap := mixedSnapshot()
	snap.Workloads[0].HostID = "host-z"
	if _, err := p.Plan(snap, domain.DefaultPlanConfig()); !errors.Is(err, domain.ErrInvalidSnapshot) {
		t.Errorf("Expected ErrInvalidSnapshot, got %v", err)
	}

	cfg := domain.DefaultPlanConfig()
	cfg.Aggressiveness = 7
	if _, err := p.Plan(mixedSnapshot(), cfg); !errors.Is(err, domain.ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig, got %v", err)
	}
}

func TestPlanner_DiscardsPlanFailingSimulation(t *testing.T) {
	orig := simulateModel
	t.Cleanup(func() { simulateModel = orig })

	var calls int
	simulateModel = func(m *inventory.Model, moves []domain.Move) domain.SimulationResult {
		calls++
		res := orig(m, moves)
		res.OK = false
		res.Violations = append(res.Violations, "host \"host-b\" over capacity for cpu: 120.0%")
		return res
	}

	plan, err := New(zap.NewNop()).Plan(mixedSnapshot(), domain.DefaultPlanConfig())
	if !errors.Is(err, domain.ErrSimulationInvariant) {
		t.Fatalf("Expected ErrSimulationInvariant, got %v", err)
	}
	if plan != nil {
		t.Errorf("Expected no plan, got %d moves", len(plan.Moves))
	}
	if calls != 1 {
		t.Errorf("Expected one simulation, got %d", calls)
	}
}

func TestPlanner_Compare(t *testing.T) {
	p := New(zap.NewNop())
	levels := []int{5, 1, 3}

	results, err := p.Compare(context.Background(), largeSnapshot(), domain.DefaultPlanConfig(), levels)
	if err != nil {
		t.Fatalf("Compare failed: %v", err)
	}
	if len(results) != len(levels) {
		t.Fatalf("Expected %d results, got %d", len(levels), len(results))
	}
	for i, r := range results {
		if r.Aggressiveness != levels[i] {
			t.Errorf("results[%d].Aggressiveness = %d, want %d", i, r.Aggressiveness, levels[i])
		}
		direct, err := p.Plan(largeSnapshot(), func() domain.PlanConfig {
			c := domain.DefaultPlanConfig()
			c.Aggressiveness = levels[i]
			return c
		}())
		if err != nil {
			t.Fatalf("Plan failed: %v", err)
		}
		if diff := cmp.Diff(direct, r.Plan); diff != "" {
			t.Errorf("Compare result for level %d differs from a direct run:\n%s", levels[i], diff)
		}
	}

	if _, err := p.Compare(context.Background(), largeSnapshot(), domain.DefaultPlanConfig(), []int{3, 8}); !errors.Is(err, domain.ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig for level 8, got %v", err)
	}
}
