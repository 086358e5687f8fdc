package domain

import "time"

// PlanRecordStatus is the lifecycle state of a stored plan.
type PlanRecordStatus string

const (
	PlanStatusPending  PlanRecordStatus = "PENDING"
	PlanStatusDryRun   PlanRecordStatus = "DRY_RUN"
	PlanStatusApplying PlanRecordStatus = "APPLYING"
	PlanStatusApplied  PlanRecordStatus = "APPLIED"
	PlanStatusPartial  PlanRecordStatus = "PARTIAL"
	PlanStatusFailed   PlanRecordStatus = "FAILED"
)

// MoveResultStatus is the outcome of executing one move.
type MoveResultStatus string

const (
	MoveSucceeded MoveResultStatus = "SUCCEEDED"
	MoveFailed    MoveResultStatus = "FAILED"
)

// MoveResult records the execution of one move against the live cluster.
type MoveResult struct {
	Move      Move             `json:"move"`
	Status    MoveResultStatus `json:"status"`
	Error     string           `json:"error,omitempty"`
	StartedAt time.Time        `json:"started_at"`
	Duration  time.Duration    `json:"duration"`
}

// PlanRecord is a plan together with the context it was produced in and
// the outcome of its execution.
type PlanRecord struct {
	ID          string           `json:"id"`
	Cluster     string           `json:"cluster"`
	DryRun      bool             `json:"dry_run"`
	Config      PlanConfig       `json:"config"`
	Plan        Plan             `json:"plan"`
	Status      PlanRecordStatus `json:"status"`
	Executed    []MoveResult     `json:"executed,omitempty"`
	Error       string           `json:"error,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

// Clone returns a deep copy of the record.
func (r *PlanRecord) Clone() *PlanRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.Config.Metrics = append([]Metric(nil), r.Config.Metrics...)
	out.Plan.Moves = append([]Move(nil), r.Plan.Moves...)
	out.Plan.Skipped = append([]SkippedMove(nil), r.Plan.Skipped...)
	out.Plan.Metrics = append([]MetricStatus(nil), r.Plan.Metrics...)
	out.Plan.Groups = append([]GroupStatus(nil), r.Plan.Groups...)
	out.Executed = append([]MoveResult(nil), r.Executed...)
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		out.CompletedAt = &t
	}
	// The simulation is never mutated after planning and is shared.
	return &out
}
