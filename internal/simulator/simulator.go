// Package simulator replays a migration plan against an inventory snapshot
// and reports the resulting placement, or the invariants the plan breaks.
package simulator

import (
	"fmt"

	"github.com/limiquantix/rebalancer/internal/affinity"
	"github.com/limiquantix/rebalancer/internal/domain"
	"github.com/limiquantix/rebalancer/internal/inventory"
)

// Simulate validates the snapshot and replays the plan's moves against it.
func Simulate(snap domain.Snapshot, plan *domain.Plan) (*domain.SimulationResult, error) {
	m, err := inventory.New(snap)
	if err != nil {
		return nil, err
	}
	var moves []domain.Move
	if plan != nil {
		moves = plan.Moves
	}
	res := SimulateModel(m, moves)
	return &res, nil
}

// SimulateModel applies moves in order to a private working copy of m.
//
// The result is not OK when a move names an unknown workload or host, does
// not start from the workload's simulated host, relocates a workload that was
// already moved, or returns it to a host it left. A host that ends above 100%
// of capacity on a metric is a violation only if the plan raised its usage of
// that metric; overcommitment already present in the snapshot is not.
func SimulateModel(m *inventory.Model, moves []domain.Move) domain.SimulationResult {
	s := m.NewState()
	res := domain.SimulationResult{OK: true}

	violate := func(format string, args ...any) {
		res.OK = false
		res.Violations = append(res.Violations, fmt.Sprintf(format, args...))
	}

	moved := make(map[string]bool, len(moves))
	left := make(map[string]map[string]bool, len(moves))

	for i, mv := range moves {
		current, ok := s.HostOf(mv.WorkloadID)
		if !ok {
			violate("move %d: unknown workload %q", i, mv.WorkloadID)
			continue
		}
		if current != mv.SourceHostID {
			violate("move %d: workload %q is on %q, not %q", i, mv.WorkloadID, current, mv.SourceHostID)
		}
		if mv.SourceHostID == mv.TargetHostID {
			violate("move %d: workload %q already on %q", i, mv.WorkloadID, mv.TargetHostID)
		}
		if left[mv.WorkloadID][mv.TargetHostID] {
			violate("move %d: workload %q returns to %q", i, mv.WorkloadID, mv.TargetHostID)
		} else if moved[mv.WorkloadID] {
			violate("move %d: workload %q moved twice", i, mv.WorkloadID)
		}

		if err := s.Apply(mv.WorkloadID, mv.TargetHostID); err != nil {
			violate("move %d: %v", i, err)
			continue
		}

		if left[mv.WorkloadID] == nil {
			left[mv.WorkloadID] = make(map[string]bool)
		}
		left[mv.WorkloadID][current] = true
		moved[mv.WorkloadID] = true
	}

	for _, h := range m.Hosts() {
		usage := s.Usage(h.ID)
		for _, metric := range domain.AllMetrics() {
			after, before := usage.Get(metric), h.Usage.Get(metric)
			if inventory.Percent(after, h.Capacity.Get(metric)) > 100+1e-6 && after > before+1e-9 {
				violate("host %q over capacity for %s: %.1f%%", h.ID, metric, inventory.Percent(after, h.Capacity.Get(metric)))
			}
		}
		res.Hosts = append(res.Hosts, domain.HostUtilization{
			HostID:      h.ID,
			Name:        h.Name,
			Usage:       usage,
			Utilization: s.UtilizationVector(h.ID),
			Workloads:   len(s.WorkloadsOn(h.ID)),
		})
	}

	hosts := m.Hosts()
	for _, g := range affinity.Groups(m) {
		counts := affinity.Counts(s, g)
		placement := domain.GroupPlacement{
			Prefix: g.Prefix,
			Counts: make(map[string]int, len(hosts)),
			Spread: affinity.Spread(counts),
		}
		for i, c := range counts {
			placement.Counts[hosts[i].ID] = c
		}
		res.Groups = append(res.Groups, placement)
	}

	return res
}
