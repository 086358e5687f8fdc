package planner

import (
	"testing"

	"github.com/limiquantix/rebalancer/internal/domain"
)

func aaMove(workload, from, to string) domain.Move {
	return domain.Move{WorkloadID: workload, SourceHostID: from, TargetHostID: to, Origin: domain.OriginAntiAffinity}
}

func balMove(workload, from, to string) domain.Move {
	return domain.Move{WorkloadID: workload, SourceHostID: from, TargetHostID: to, Origin: domain.OriginBalancing, Metric: domain.MetricCPU}
}

func TestBuildPlan_AntiAffinityFirst(t *testing.T) {
	plan := BuildPlan(
		[]domain.Move{aaMove("vm-1", "a", "b")},
		[]domain.Move{balMove("vm-2", "a", "c"), balMove("vm-3", "a", "c")},
		20,
	)

	if len(plan.Moves) != 3 || plan.Truncated {
		t.Fatalf("Unexpected plan %+v", plan)
	}
	if plan.Moves[0].Origin != domain.OriginAntiAffinity {
		t.Errorf("First move origin = %s, want anti_affinity", plan.Moves[0].Origin)
	}
	if plan.Moves[1].WorkloadID != "vm-2" || plan.Moves[2].WorkloadID != "vm-3" {
		t.Errorf("Relative order not preserved: %v", plan.Moves)
	}
}

func TestBuildPlan_TruncationKeepsAntiAffinity(t *testing.T) {
	plan := BuildPlan(
		[]domain.Move{aaMove("vm-1", "a", "b")},
		[]domain.Move{balMove("vm-2", "a", "c")},
		1,
	)

	if len(plan.Moves) != 1 || plan.Moves[0].WorkloadID != "vm-1" {
		t.Fatalf("Expected only the anti-affinity move, got %v", plan.Moves)
	}
	if !plan.Truncated {
		t.Error("Expected plan to be marked truncated")
	}
	if len(plan.Skipped) != 1 || plan.Skipped[0].Reason != domain.SkipMaxMigrations {
		t.Errorf("Unexpected skipped moves %+v", plan.Skipped)
	}
}

func TestBuildPlan_RejectsRepeatsAndThrash(t *testing.T) {
	plan := BuildPlan(
		[]domain.Move{aaMove("vm-1", "a", "b")},
		[]domain.Move{
			balMove("vm-1", "b", "a"),
			balMove("vm-1", "b", "c"),
			balMove("vm-2", "a", "c"),
		},
		2,
	)

	if len(plan.Moves) != 2 || plan.Moves[1].WorkloadID != "vm-2" {
		t.Fatalf("Expected vm-1 and vm-2 once each, got %v", plan.Moves)
	}
	if plan.Truncated {
		t.Error("Rejected moves must not count towards the cap")
	}
	if len(plan.Skipped) != 2 {
		t.Fatalf("Expected 2 skipped moves, got %+v", plan.Skipped)
	}
	if plan.Skipped[0].Reason != domain.SkipThrash {
		t.Errorf("Skipped[0] reason = %s, want THRASH", plan.Skipped[0].Reason)
	}
	if plan.Skipped[1].Reason != domain.SkipAlreadyMoved {
		t.Errorf("Skipped[1] reason = %s, want ALREADY_MOVED", plan.Skipped[1].Reason)
	}
}

func TestBuildPlan_Empty(t *testing.T) {
	plan := BuildPlan(nil, nil, 5)
	if plan.Moves == nil || len(plan.Moves) != 0 || plan.Truncated {
		t.Errorf("Unexpected empty plan %+v", plan)
	}
}
