// Package planner turns an inventory snapshot into a validated migration plan:
// anti-affinity moves first, then per-metric balancing, merged under the
// migration cap and verified by simulation.
package planner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/limiquantix/rebalancer/internal/affinity"
	"github.com/limiquantix/rebalancer/internal/balance"
	"github.com/limiquantix/rebalancer/internal/domain"
	"github.com/limiquantix/rebalancer/internal/inventory"
	"github.com/limiquantix/rebalancer/internal/simulator"
)

// simulateModel verifies generated plans. Tests replace it.
var simulateModel = simulator.SimulateModel

// Planner produces migration plans. It holds no state between runs and is
// safe for concurrent use.
type Planner struct {
	logger *zap.Logger
}

// New creates a new Planner.
func New(logger *zap.Logger) *Planner {
	return &Planner{
		logger: logger.With(zap.String("component", "planner")),
	}
}

// Plan computes a migration plan for snap. It fails with ErrInvalidSnapshot or
// ErrInvalidConfig on bad input, and with ErrSimulationInvariant if the
// generated plan does not survive its own simulation.
func (p *Planner) Plan(snap domain.Snapshot, cfg domain.PlanConfig) (*domain.Plan, error) {
	start := time.Now()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	model, err := inventory.New(snap)
	if err != nil {
		return nil, err
	}
	threshold, err := balance.Threshold(cfg.Aggressiveness)
	if err != nil {
		return nil, err
	}

	logger := p.logger.With(
		zap.String("cluster", model.Cluster()),
		zap.Int("aggressiveness", cfg.Aggressiveness),
	)

	state := model.NewState()

	if cfg.ApplyBalance {
		for _, m := range cfg.Metrics {
			ev := balance.Evaluate(state, m, threshold)
			logger.Debug("Metric spread",
				zap.String("metric", string(m)),
				zap.Float64("gap", ev.Gap),
				zap.Float64("threshold", threshold),
				zap.Float64("min", ev.Min),
				zap.Float64("max", ev.Max),
				zap.Float64("avg", ev.Avg),
				zap.Bool("imbalanced", ev.Imbalanced),
			)
		}
	}

	var aa affinity.Result
	if cfg.ApplyAntiAffinity {
		aa = affinity.Plan(state)
		logger.Debug("Anti-affinity pass complete",
			zap.Int("groups", len(aa.Groups)),
			zap.Int("moves", len(aa.Moves)),
		)
	}

	var bal balance.Result
	if cfg.ApplyBalance {
		opts := balance.Options{
			Metrics:        cfg.Metrics,
			Aggressiveness: cfg.Aggressiveness,
			Exclude:        aa.Moved(),
		}
		if !cfg.IgnoreAntiAffinity {
			opts.Guard = affinity.NewGuard(affinity.Groups(model))
		}
		bal, err = balance.Plan(state, opts)
		if err != nil {
			return nil, err
		}
		logger.Debug("Balancing pass complete", zap.Int("moves", len(bal.Moves)))
	}

	plan := BuildPlan(aa.Moves, bal.Moves, cfg.MaxMigrations)

	sim := simulateModel(model, plan.Moves)
	if !sim.OK {
		logger.Error("Plan failed simulation", zap.Strings("violations", sim.Violations))
		return nil, fmt.Errorf("%w: %s", domain.ErrSimulationInvariant, strings.Join(sim.Violations, "; "))
	}
	plan.Simulation = &sim

	if cfg.ApplyAntiAffinity {
		plan.Groups = finalizeGroups(aa.Groups, &sim, plan.Truncated)
	}
	if cfg.ApplyBalance {
		plan.Metrics = finalizeMetrics(bal.Metrics, &sim, plan.Truncated)
	}

	logger.Info("Plan computed",
		zap.Int("moves", len(plan.Moves)),
		zap.Int("anti_affinity_moves", plan.CountByOrigin(domain.OriginAntiAffinity)),
		zap.Int("balancing_moves", plan.CountByOrigin(domain.OriginBalancing)),
		zap.Int("skipped", len(plan.Skipped)),
		zap.Bool("truncated", plan.Truncated),
		zap.Duration("duration", time.Since(start)),
	)

	return plan, nil
}

// finalizeMetrics recomputes each metric's final spread from the simulated
// plan, which may differ from the generator's view when the plan was cut.
func finalizeMetrics(generated []domain.MetricStatus, sim *domain.SimulationResult, truncated bool) []domain.MetricStatus {
	out := make([]domain.MetricStatus, 0, len(generated))
	for _, st := range generated {
		var sum float64
		for i, h := range sim.Hosts {
			u := h.Utilization.Get(st.Metric)
			sum += u
			if i == 0 || u < st.Min {
				st.Min = u
			}
			if i == 0 || u > st.Max {
				st.Max = u
			}
		}
		if len(sim.Hosts) > 0 {
			st.Avg = sum / float64(len(sim.Hosts))
		}
		st.FinalGap = st.Max - st.Min
		st.Status = outcome(st.InitialGap <= st.Threshold+1e-9, st.FinalGap <= st.Threshold+1e-9, truncated)
		out = append(out, st)
	}
	return out
}

func finalizeGroups(generated []domain.GroupStatus, sim *domain.SimulationResult, truncated bool) []domain.GroupStatus {
	spread := make(map[string]int, len(sim.Groups))
	for _, g := range sim.Groups {
		spread[g.Prefix] = g.Spread
	}

	out := make([]domain.GroupStatus, 0, len(generated))
	for _, st := range generated {
		st.FinalSpread = spread[st.Prefix]
		st.Status = outcome(st.InitialSpread <= 1, st.FinalSpread <= 1, truncated)
		out = append(out, st)
	}
	return out
}

func outcome(initiallyWithin, finallyWithin, truncated bool) domain.BalanceStatus {
	switch {
	case finallyWithin && initiallyWithin:
		return domain.StatusBalanced
	case finallyWithin:
		return domain.StatusResolved
	case truncated:
		return domain.StatusTruncated
	default:
		return domain.StatusNoImprovementPossible
	}
}

// WhatIf is the plan one aggressiveness level would produce.
type WhatIf struct {
	Aggressiveness int          `json:"aggressiveness"`
	Plan           *domain.Plan `json:"plan"`
}

// Compare plans the same snapshot at several aggressiveness levels
// concurrently. Results follow the order of levels.
func (p *Planner) Compare(ctx context.Context, snap domain.Snapshot, base domain.PlanConfig, levels []int) ([]WhatIf, error) {
	results := make([]WhatIf, len(levels))

	g, ctx := errgroup.WithContext(ctx)
	for i, level := range levels {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			cfg := base
			cfg.Aggressiveness = level
			cfg.Metrics = append([]domain.Metric(nil), base.Metrics...)

			plan, err := p.Plan(snap, cfg)
			if err != nil {
				return fmt.Errorf("aggressiveness %d: %w", level, err)
			}
			results[i] = WhatIf{Aggressiveness: level, Plan: plan}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
