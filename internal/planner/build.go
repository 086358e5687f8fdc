package planner

import "github.com/limiquantix/rebalancer/internal/domain"

// BuildPlan merges anti-affinity and balancing moves into one plan.
//
// Anti-affinity moves come first. A move is skipped when its workload was
// already relocated earlier in the plan, or when it would send the workload
// back to a host it left (thrash). Surviving moves are kept in order until
// maxMigrations is reached; the rest are skipped and the plan is marked
// truncated. Skipped moves do not use up the cap.
func BuildPlan(antiAffinity, balancing []domain.Move, maxMigrations int) *domain.Plan {
	plan := &domain.Plan{Moves: []domain.Move{}}

	moved := make(map[string]bool)
	left := make(map[string]map[string]bool)

	candidates := make([]domain.Move, 0, len(antiAffinity)+len(balancing))
	candidates = append(candidates, antiAffinity...)
	candidates = append(candidates, balancing...)

	for _, mv := range candidates {
		switch {
		case left[mv.WorkloadID][mv.TargetHostID]:
			plan.Skipped = append(plan.Skipped, domain.SkippedMove{Move: mv, Reason: domain.SkipThrash})
			continue
		case moved[mv.WorkloadID]:
			plan.Skipped = append(plan.Skipped, domain.SkippedMove{Move: mv, Reason: domain.SkipAlreadyMoved})
			continue
		}

		if len(plan.Moves) >= maxMigrations {
			plan.Truncated = true
			plan.Skipped = append(plan.Skipped, domain.SkippedMove{Move: mv, Reason: domain.SkipMaxMigrations})
			continue
		}

		plan.Moves = append(plan.Moves, mv)
		moved[mv.WorkloadID] = true
		if left[mv.WorkloadID] == nil {
			left[mv.WorkloadID] = make(map[string]bool)
		}
		left[mv.WorkloadID][mv.SourceHostID] = true
	}

	return plan
}
