package domain

import "fmt"

// Aggressiveness bounds.
const (
	MinAggressiveness     = 1
	MaxAggressiveness     = 5
	DefaultAggressiveness = 3
	DefaultMaxMigrations  = 20
)

// MoveOrigin tells which generator proposed a move.
type MoveOrigin string

const (
	OriginAntiAffinity MoveOrigin = "anti_affinity"
	OriginBalancing    MoveOrigin = "balancing"
)

// Move is one proposed single-workload relocation.
type Move struct {
	WorkloadID   string     `json:"workload_id"`
	WorkloadName string     `json:"workload_name"`
	SourceHostID string     `json:"source_host_id"`
	TargetHostID string     `json:"target_host_id"`
	Origin       MoveOrigin `json:"origin"`

	// Group is the sibling prefix for anti-affinity moves.
	Group string `json:"group,omitempty"`
	// Metric is the metric a balancing move reduces.
	Metric Metric `json:"metric,omitempty"`
	// Gap is the value the move is intended to reduce: the group spread for
	// anti-affinity moves, the percentage-point gap for balancing moves.
	Gap float64 `json:"gap"`
	// GapAfter is the simulated value once the move is applied.
	GapAfter float64 `json:"gap_after"`
}

// String returns a short human-readable description of the move.
func (m Move) String() string {
	name := m.WorkloadName
	if name == "" {
		name = m.WorkloadID
	}
	if m.Origin == OriginBalancing {
		return fmt.Sprintf("%s: %s -> %s (%s gap %.1f -> %.1f)", name, m.SourceHostID, m.TargetHostID, m.Metric, m.Gap, m.GapAfter)
	}
	return fmt.Sprintf("%s: %s -> %s (group %s spread %.0f -> %.0f)", name, m.SourceHostID, m.TargetHostID, m.Group, m.Gap, m.GapAfter)
}

// SkipReason explains why a proposed move was left out of a plan.
type SkipReason string

const (
	SkipAlreadyMoved  SkipReason = "ALREADY_MOVED"
	SkipThrash        SkipReason = "THRASH"
	SkipMaxMigrations SkipReason = "MAX_MIGRATIONS"
)

// SkippedMove is a proposed move that the planner dropped.
type SkippedMove struct {
	Move   Move       `json:"move"`
	Reason SkipReason `json:"reason"`
}

// BalanceStatus is the outcome for one metric or sibling group.
type BalanceStatus string

const (
	// StatusBalanced means the bound already held before planning.
	StatusBalanced BalanceStatus = "BALANCED"
	// StatusResolved means the plan brings the metric or group within its bound.
	StatusResolved BalanceStatus = "RESOLVED"
	// StatusNoImprovementPossible means no move could reduce the gap further
	// without violating a constraint.
	StatusNoImprovementPossible BalanceStatus = "NO_IMPROVEMENT_POSSIBLE"
	// StatusTruncated means the migration cap cut off corrective moves.
	StatusTruncated BalanceStatus = "TRUNCATED"
)

// Within reports whether the status leaves the bound satisfied.
func (s BalanceStatus) Within() bool {
	return s == StatusBalanced || s == StatusResolved
}

// MetricStatus reports utilization spread for one balanced metric.
type MetricStatus struct {
	Metric     Metric        `json:"metric"`
	Threshold  float64       `json:"threshold"`
	InitialGap float64       `json:"initial_gap"`
	FinalGap   float64       `json:"final_gap"`
	Min        float64       `json:"min"`
	Max        float64       `json:"max"`
	Avg        float64       `json:"avg"`
	Status     BalanceStatus `json:"status"`
}

// GroupStatus reports member spread for one sibling group.
type GroupStatus struct {
	Prefix        string        `json:"prefix"`
	Members       int           `json:"members"`
	InitialSpread int           `json:"initial_spread"`
	FinalSpread   int           `json:"final_spread"`
	Status        BalanceStatus `json:"status"`
}

// HostUtilization is the simulated state of one host.
type HostUtilization struct {
	HostID      string `json:"host_id"`
	Name        string `json:"name,omitempty"`
	Usage       Vector `json:"usage"`
	Utilization Vector `json:"utilization"`
	Workloads   int    `json:"workloads"`
}

// GroupPlacement is the simulated member count per host for one sibling group.
type GroupPlacement struct {
	Prefix string         `json:"prefix"`
	Counts map[string]int `json:"counts"`
	Spread int            `json:"spread"`
}

// SimulationResult is the outcome of replaying a plan against a snapshot.
type SimulationResult struct {
	OK         bool              `json:"ok"`
	Hosts      []HostUtilization `json:"hosts"`
	Groups     []GroupPlacement  `json:"groups"`
	Violations []string          `json:"violations,omitempty"`
}

// Plan is the ordered, capped and validated move list of one planning run.
type Plan struct {
	Moves      []Move            `json:"moves"`
	Skipped    []SkippedMove     `json:"skipped,omitempty"`
	Truncated  bool              `json:"truncated"`
	Metrics    []MetricStatus    `json:"metrics,omitempty"`
	Groups     []GroupStatus     `json:"groups,omitempty"`
	Simulation *SimulationResult `json:"simulation,omitempty"`
}

// CountByOrigin returns how many moves of the plan came from origin.
func (p *Plan) CountByOrigin(origin MoveOrigin) int {
	n := 0
	for _, m := range p.Moves {
		if m.Origin == origin {
			n++
		}
	}
	return n
}

// PlanConfig controls one planning run.
type PlanConfig struct {
	Metrics            []Metric `json:"metrics"`
	Aggressiveness     int      `json:"aggressiveness"`
	MaxMigrations      int      `json:"max_migrations"`
	ApplyAntiAffinity  bool     `json:"apply_anti_affinity"`
	ApplyBalance       bool     `json:"apply_balance"`
	IgnoreAntiAffinity bool     `json:"ignore_anti_affinity"`
}

// DefaultPlanConfig returns the configuration used when nothing is overridden.
func DefaultPlanConfig() PlanConfig {
	return PlanConfig{
		Metrics:           AllMetrics(),
		Aggressiveness:    DefaultAggressiveness,
		MaxMigrations:     DefaultMaxMigrations,
		ApplyAntiAffinity: true,
		ApplyBalance:      true,
	}
}

// Validate checks the configuration ranges.
func (c PlanConfig) Validate() error {
	if c.Aggressiveness < MinAggressiveness || c.Aggressiveness > MaxAggressiveness {
		return fmt.Errorf("%w: aggressiveness %d outside %d..%d", ErrInvalidConfig, c.Aggressiveness, MinAggressiveness, MaxAggressiveness)
	}
	if c.MaxMigrations < 1 {
		return fmt.Errorf("%w: max_migrations must be positive, got %d", ErrInvalidConfig, c.MaxMigrations)
	}
	seen := make(map[Metric]bool, len(c.Metrics))
	for _, m := range c.Metrics {
		if !m.Valid() {
			return fmt.Errorf("%w: unknown metric %q", ErrInvalidConfig, m)
		}
		if seen[m] {
			return fmt.Errorf("%w: metric %q listed twice", ErrInvalidConfig, m)
		}
		seen[m] = true
	}
	if c.ApplyBalance && len(c.Metrics) == 0 {
		return fmt.Errorf("%w: balancing requested with no metrics", ErrInvalidConfig)
	}
	return nil
}
