package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/limiquantix/rebalancer/internal/config"
	"github.com/limiquantix/rebalancer/internal/domain"
	"github.com/limiquantix/rebalancer/internal/planner"
)

func testSnapshot() domain.Snapshot {
	capacity := domain.Vector{1000, 1000, 1000, 1000}
	demand := domain.Vector{50, 50, 10, 10}
	return domain.Snapshot{
		Cluster: "lab",
		Hosts: []domain.HostSpec{
			{ID: "host-1", Name: "esx01", Capacity: capacity, Usage: domain.Vector{150, 150, 30, 30}},
			{ID: "host-2", Name: "esx02", Capacity: capacity, Usage: domain.Vector{}},
			{ID: "host-3", Name: "esx03", Capacity: capacity, Usage: domain.Vector{}},
		},
		Workloads: []domain.WorkloadSpec{
			{ID: "vm-1", Name: "web01", HostID: "host-1", Demand: demand},
			{ID: "vm-2", Name: "web02", HostID: "host-1", Demand: demand},
			{ID: "vm-3", Name: "web03", HostID: "host-1", Demand: demand},
		},
	}
}

func writeFile(t *testing.T, name string, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal %s: %v", name, err)
	}
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestResolvePlanConfig(t *testing.T) {
	base := config.PlannerConfig{
		Metrics:           []string{"cpu", "memory", "disk", "network"},
		Aggressiveness:    3,
		MaxMigrations:     20,
		ApplyAntiAffinity: true,
		ApplyBalance:      true,
	}

	t.Run("flags override config", func(t *testing.T) {
		fs := pflag.NewFlagSet("plan", pflag.ContinueOnError)
		addPlanConfigFlags(fs)
		if err := fs.Parse([]string{"--aggressiveness", "5", "--metrics", "memory,cpu", "--balance=false"}); err != nil {
			t.Fatalf("Parse() error = %v", err)
		}

		pc, err := resolvePlanConfig(fs, base)
		if err != nil {
			t.Fatalf("resolvePlanConfig() error = %v", err)
		}
		if pc.Aggressiveness != 5 {
			t.Errorf("expected aggressiveness 5, got %d", pc.Aggressiveness)
		}
		if len(pc.Metrics) != 2 || pc.Metrics[0] != domain.MetricMemory || pc.Metrics[1] != domain.MetricCPU {
			t.Errorf("expected [memory cpu], got %v", pc.Metrics)
		}
		if pc.ApplyBalance {
			t.Error("expected balancing disabled")
		}
		if pc.MaxMigrations != 20 || !pc.ApplyAntiAffinity {
			t.Errorf("unset flags should keep config values, got %+v", pc)
		}
	})

	t.Run("unset flags keep config", func(t *testing.T) {
		fs := pflag.NewFlagSet("plan", pflag.ContinueOnError)
		addPlanConfigFlags(fs)
		cfg := base
		cfg.Aggressiveness = 2
		pc, err := resolvePlanConfig(fs, cfg)
		if err != nil {
			t.Fatalf("resolvePlanConfig() error = %v", err)
		}
		if pc.Aggressiveness != 2 || len(pc.Metrics) != 4 {
			t.Errorf("unexpected config %+v", pc)
		}
	})

	t.Run("invalid values", func(t *testing.T) {
		for _, args := range [][]string{
			{"--aggressiveness", "0"},
			{"--metrics", "gpu"},
			{"--max-migrations", "-1"},
		} {
			fs := pflag.NewFlagSet("plan", pflag.ContinueOnError)
			addPlanConfigFlags(fs)
			if err := fs.Parse(args); err != nil {
				t.Fatalf("Parse(%v) error = %v", args, err)
			}
			if _, err := resolvePlanConfig(fs, base); err == nil {
				t.Errorf("expected error for %v", args)
			}
		}
	})
}

func TestRunPlan_Snapshot(t *testing.T) {
	path := writeFile(t, "snapshot.json", testSnapshot())
	cfg := &config.Config{}

	var out bytes.Buffer
	if err := runPlan(context.Background(), cfg, domain.DefaultPlanConfig(), path, true, true, zap.NewNop(), &out); err != nil {
		t.Fatalf("runPlan() error = %v", err)
	}

	var plan domain.Plan
	if err := json.Unmarshal(out.Bytes(), &plan); err != nil {
		t.Fatalf("invalid JSON output: %v", err)
	}
	if got := plan.CountByOrigin(domain.OriginAntiAffinity); got != 2 {
		t.Errorf("expected 2 anti-affinity moves, got %d", got)
	}
	if plan.Simulation == nil || !plan.Simulation.OK {
		t.Error("expected a clean simulation")
	}

	out.Reset()
	if err := runPlan(context.Background(), cfg, domain.DefaultPlanConfig(), path, true, false, zap.NewNop(), &out); err != nil {
		t.Fatalf("runPlan() text error = %v", err)
	}
	text := out.String()
	for _, want := range []string{"Rebalancing Plan", "web0", "esx01", "Sibling groups"} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in output:\n%s", want, text)
		}
	}
}

func TestRunPlan_Errors(t *testing.T) {
	path := writeFile(t, "snapshot.json", testSnapshot())
	cfg := &config.Config{}
	var out bytes.Buffer

	if err := runPlan(context.Background(), cfg, domain.DefaultPlanConfig(), path, false, false, zap.NewNop(), &out); err == nil {
		t.Error("expected error applying a snapshot plan")
	}
	if err := runPlan(context.Background(), cfg, domain.DefaultPlanConfig(), "", true, false, zap.NewNop(), &out); err == nil {
		t.Error("expected error without snapshot or vCenter host")
	}
	if err := runPlan(context.Background(), cfg, domain.DefaultPlanConfig(), filepath.Join(t.TempDir(), "missing.json"), true, false, zap.NewNop(), &out); err == nil {
		t.Error("expected error for a missing snapshot file")
	}
}

func TestRunSimulate(t *testing.T) {
	snap := testSnapshot()
	snapPath := writeFile(t, "snapshot.json", snap)

	plan, err := planner.New(zap.NewNop()).Plan(snap, domain.DefaultPlanConfig())
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}

	tests := []struct {
		name string
		doc  any
	}{
		{name: "bare plan", doc: plan},
		{name: "plan record", doc: &domain.PlanRecord{ID: "p1", Cluster: "lab", Plan: *plan}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			planPath := writeFile(t, "plan.json", tt.doc)

			var out bytes.Buffer
			if err := runSimulate(snapPath, planPath, true, &out); err != nil {
				t.Fatalf("runSimulate() error = %v", err)
			}
			var result domain.SimulationResult
			if err := json.Unmarshal(out.Bytes(), &result); err != nil {
				t.Fatalf("invalid JSON output: %v", err)
			}
			if !result.OK {
				t.Errorf("expected OK simulation, got violations %v", result.Violations)
			}
			if len(result.Hosts) != 3 {
				t.Errorf("expected 3 hosts, got %d", len(result.Hosts))
			}
		})
	}

	t.Run("violations are reported", func(t *testing.T) {
		bad := &domain.Plan{Moves: []domain.Move{{WorkloadID: "vm-9", SourceHostID: "host-1", TargetHostID: "host-2"}}}
		planPath := writeFile(t, "plan.json", bad)

		var out bytes.Buffer
		if err := runSimulate(snapPath, planPath, false, &out); err != nil {
			t.Fatalf("runSimulate() error = %v", err)
		}
		if !strings.Contains(out.String(), "Violations:") {
			t.Errorf("expected violations in output:\n%s", out.String())
		}
	})
}

func TestRunWhatIf(t *testing.T) {
	path := writeFile(t, "snapshot.json", testSnapshot())

	var out bytes.Buffer
	err := runWhatIf(context.Background(), &config.Config{}, domain.DefaultPlanConfig(), path, []int{1, 3, 5}, true, zap.NewNop(), &out)
	if err != nil {
		t.Fatalf("runWhatIf() error = %v", err)
	}

	var results []planner.WhatIf
	if err := json.Unmarshal(out.Bytes(), &results); err != nil {
		t.Fatalf("invalid JSON output: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i, level := range []int{1, 3, 5} {
		if results[i].Aggressiveness != level {
			t.Errorf("result %d: expected level %d, got %d", i, level, results[i].Aggressiveness)
		}
	}

	out.Reset()
	if err := runWhatIf(context.Background(), &config.Config{}, domain.DefaultPlanConfig(), path, []int{2}, false, zap.NewNop(), &out); err != nil {
		t.Fatalf("runWhatIf() text error = %v", err)
	}
	if !strings.Contains(out.String(), "Aggressiveness Comparison") {
		t.Errorf("unexpected output:\n%s", out.String())
	}
}

func TestPrintVersion(t *testing.T) {
	var out bytes.Buffer
	printVersion(&out)
	if !strings.Contains(out.String(), "Version: dev") {
		t.Errorf("unexpected version output %q", out.String())
	}
}
