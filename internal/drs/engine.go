// Package drs runs the rebalancer periodically against a live cluster:
// it collects inventory, plans, records the plan and applies its moves.
package drs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/limiquantix/rebalancer/internal/config"
	"github.com/limiquantix/rebalancer/internal/domain"
	"github.com/limiquantix/rebalancer/internal/planner"
)

// Plan event types published to the report cache and event sinks.
const (
	EventPlanCreated = "plan.created"
	EventPlanApplied = "plan.applied"
	EventPlanPartial = "plan.partial"
	EventPlanFailed  = "plan.failed"
	EventPlanDryRun  = "plan.dry_run"
)

// SnapshotSource provides the current inventory of the cluster.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (domain.Snapshot, error)
}

// Migrator executes a single move against the cluster.
type Migrator interface {
	Migrate(ctx context.Context, move domain.Move) error
}

// PlanRepository defines the interface for plan history storage.
type PlanRepository interface {
	Create(ctx context.Context, rec *domain.PlanRecord) error
	Update(ctx context.Context, rec *domain.PlanRecord) error
	Get(ctx context.Context, id string) (*domain.PlanRecord, error)
	Latest(ctx context.Context, cluster string) (*domain.PlanRecord, error)
	List(ctx context.Context, cluster string, limit int) ([]*domain.PlanRecord, error)
	DeleteOld(ctx context.Context, olderThan time.Time) (int, error)
}

// EventSink receives plan lifecycle events.
type EventSink interface {
	PublishPlanEvent(ctx context.Context, eventType string, rec *domain.PlanRecord) error
}

// ReportCache keeps the latest plan of each cluster and fans out plan events.
type ReportCache interface {
	EventSink
	SetLatestPlan(ctx context.Context, rec *domain.PlanRecord) error
	GetLatestPlan(ctx context.Context, cluster string) (*domain.PlanRecord, error)
}

// LeaderChecker checks if this instance is the leader.
type LeaderChecker interface {
	IsLeader() bool
}

// Unlocker releases a held lock.
type Unlocker interface {
	Unlock(ctx context.Context) error
}

// ClusterLocker serializes migrations against a cluster across replicas.
type ClusterLocker interface {
	LockCluster(ctx context.Context, cluster string) (Unlocker, error)
}

// Engine periodically plans and applies rebalancing moves.
type Engine struct {
	config        config.DRSConfig
	planConfig    domain.PlanConfig
	source        SnapshotSource
	migrator      Migrator
	repo          PlanRepository
	cache         ReportCache
	sinks         []EventSink
	leaderChecker LeaderChecker
	locker        ClusterLocker
	planner       *planner.Planner
	metrics       *Metrics
	logger        *zap.Logger

	mu        sync.RWMutex
	isRunning bool
	lastRun   time.Time
	cluster   string
}

// Option configures optional engine collaborators.
type Option func(*Engine)

// WithReportCache publishes every plan record to cache.
func WithReportCache(cache ReportCache) Option {
	return func(e *Engine) { e.cache = cache }
}

// WithEventSink also delivers every plan event to sink.
func WithEventSink(sink EventSink) Option {
	return func(e *Engine) { e.sinks = append(e.sinks, sink) }
}

// WithLeaderChecker restricts runs to the elected leader.
func WithLeaderChecker(lc LeaderChecker) Option {
	return func(e *Engine) { e.leaderChecker = lc }
}

// WithClusterLocker holds a cluster lock while migrations run.
func WithClusterLocker(l ClusterLocker) Option {
	return func(e *Engine) { e.locker = l }
}

// WithMetrics records run outcomes in m.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates a new rebalancing engine.
func NewEngine(
	cfg config.DRSConfig,
	planConfig domain.PlanConfig,
	source SnapshotSource,
	migrator Migrator,
	repo PlanRepository,
	logger *zap.Logger,
	opts ...Option,
) *Engine {
	e := &Engine{
		config:     cfg,
		planConfig: planConfig,
		source:     source,
		migrator:   migrator,
		repo:       repo,
		planner:    planner.New(logger),
		logger:     logger.With(zap.String("component", "drs")),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start runs the engine every configured interval until ctx is done.
func (e *Engine) Start(ctx context.Context) {
	if !e.config.Enabled {
		e.logger.Info("DRS engine disabled")
		return
	}

	e.mu.Lock()
	if e.isRunning {
		e.mu.Unlock()
		return
	}
	e.isRunning = true
	e.mu.Unlock()

	e.logger.Info("Starting DRS engine",
		zap.Duration("interval", e.config.Interval),
		zap.Bool("dry_run", e.config.DryRun),
		zap.Int("aggressiveness", e.planConfig.Aggressiveness),
		zap.Int("max_migrations", e.planConfig.MaxMigrations),
	)

	ticker := time.NewTicker(e.config.Interval)
	defer ticker.Stop()

	e.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("DRS engine stopped")
			e.mu.Lock()
			e.isRunning = false
			e.mu.Unlock()
			return
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

func (e *Engine) tick(ctx context.Context) {
	if e.leaderChecker != nil && !e.leaderChecker.IsLeader() {
		e.logger.Debug("Not leader, skipping rebalancing run")
		return
	}
	if _, err := e.RunOnce(ctx); err != nil {
		e.logger.Error("Rebalancing run failed", zap.Error(err))
	}
}

// RunOnce performs a single collect, plan and apply cycle and returns the
// stored record. Migration failures are reflected in the record status
// rather than in the returned error.
func (e *Engine) RunOnce(ctx context.Context) (*domain.PlanRecord, error) {
	start := time.Now()

	snap, err := e.source.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("collecting inventory: %w", err)
	}

	plan, err := e.planner.Plan(snap, e.planConfig)
	if err != nil {
		return nil, fmt.Errorf("planning: %w", err)
	}
	e.metrics.observePlan(plan)

	rec := &domain.PlanRecord{
		ID:        uuid.NewString(),
		Cluster:   snap.Cluster,
		DryRun:    e.config.DryRun,
		Config:    e.planConfig,
		Plan:      *plan,
		Status:    domain.PlanStatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.repo.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("storing plan: %w", err)
	}
	e.publish(ctx, EventPlanCreated, rec)

	e.mu.Lock()
	e.cluster = snap.Cluster
	e.mu.Unlock()

	switch {
	case e.config.DryRun:
		rec.Status = domain.PlanStatusDryRun
	case len(plan.Moves) == 0:
		rec.Status = domain.PlanStatusApplied
	default:
		rec.Status = domain.PlanStatusApplying
		if err := e.repo.Update(ctx, rec); err != nil {
			e.logger.Warn("Failed to mark plan as applying", zap.String("plan_id", rec.ID), zap.Error(err))
		}
		e.executeLocked(ctx, rec)
	}

	now := time.Now().UTC()
	rec.CompletedAt = &now
	// The run may have been cancelled; the outcome is still recorded.
	if err := e.repo.Update(context.WithoutCancel(ctx), rec); err != nil {
		return rec, fmt.Errorf("updating plan %s: %w", rec.ID, err)
	}
	e.publish(context.WithoutCancel(ctx), eventFor(rec.Status), rec)
	e.metrics.observeRun(rec)
	e.prune(ctx)

	e.mu.Lock()
	e.lastRun = now
	e.mu.Unlock()

	e.logger.Info("Rebalancing run complete",
		zap.String("plan_id", rec.ID),
		zap.String("cluster", rec.Cluster),
		zap.String("status", string(rec.Status)),
		zap.Int("planned", len(plan.Moves)),
		zap.Int("executed", len(rec.Executed)),
		zap.Int("skipped", len(plan.Skipped)),
		zap.Duration("duration", time.Since(start)),
	)
	return rec, nil
}

func (e *Engine) executeLocked(ctx context.Context, rec *domain.PlanRecord) {
	if e.locker == nil {
		e.execute(ctx, rec)
		return
	}

	lock, err := e.locker.LockCluster(ctx, rec.Cluster)
	if err != nil {
		rec.Status = domain.PlanStatusFailed
		rec.Error = fmt.Sprintf("acquiring cluster lock: %v", err)
		e.logger.Warn("Cluster is locked, plan not applied", zap.String("plan_id", rec.ID), zap.Error(err))
		return
	}
	defer func() {
		if err := lock.Unlock(context.WithoutCancel(ctx)); err != nil {
			e.logger.Warn("Failed to release cluster lock", zap.String("cluster", rec.Cluster), zap.Error(err))
		}
	}()

	e.execute(ctx, rec)
}

// execute applies the plan's moves in order, stopping at the first failure
// or when ctx is done.
func (e *Engine) execute(ctx context.Context, rec *domain.PlanRecord) {
	budget := len(rec.Plan.Moves)
	if limit := rec.Config.MaxMigrations; limit > 0 && limit < budget {
		budget = limit
	}

	var failure error
	for _, move := range rec.Plan.Moves {
		if budget == 0 {
			break
		}
		if err := ctx.Err(); err != nil {
			failure = err
			break
		}

		started := time.Now()
		err := e.migrator.Migrate(ctx, move)
		result := domain.MoveResult{
			Move:      move,
			Status:    domain.MoveSucceeded,
			StartedAt: started.UTC(),
			Duration:  time.Since(started),
		}
		if err != nil {
			result.Status = domain.MoveFailed
			result.Error = err.Error()
		}
		rec.Executed = append(rec.Executed, result)
		e.metrics.observeMove(result)
		budget--

		if err != nil {
			e.logger.Warn("Migration failed, stopping plan",
				zap.String("plan_id", rec.ID),
				zap.String("move", move.String()),
				zap.Error(err),
			)
			failure = err
			break
		}
	}

	succeeded := 0
	for _, r := range rec.Executed {
		if r.Status == domain.MoveSucceeded {
			succeeded++
		}
	}

	switch {
	case failure == nil && succeeded == len(rec.Plan.Moves):
		rec.Status = domain.PlanStatusApplied
	case succeeded == 0:
		rec.Status = domain.PlanStatusFailed
	default:
		rec.Status = domain.PlanStatusPartial
	}
	if failure != nil {
		rec.Error = failure.Error()
	}
}

func (e *Engine) publish(ctx context.Context, eventType string, rec *domain.PlanRecord) {
	sinks := e.sinks
	if e.cache != nil {
		if err := e.cache.SetLatestPlan(ctx, rec); err != nil {
			e.logger.Warn("Failed to cache latest plan", zap.String("plan_id", rec.ID), zap.Error(err))
		}
		sinks = append([]EventSink{e.cache}, sinks...)
	}
	for _, sink := range sinks {
		if err := sink.PublishPlanEvent(ctx, eventType, rec); err != nil {
			e.logger.Warn("Failed to publish plan event",
				zap.String("plan_id", rec.ID),
				zap.String("event", eventType),
				zap.Error(err),
			)
		}
	}
}

func (e *Engine) prune(ctx context.Context) {
	if e.config.HistoryRetention <= 0 {
		return
	}
	deleted, err := e.repo.DeleteOld(ctx, time.Now().Add(-e.config.HistoryRetention))
	if err != nil {
		e.logger.Warn("Failed to prune plan history", zap.Error(err))
		return
	}
	if deleted > 0 {
		e.logger.Debug("Pruned plan history", zap.Int("deleted", deleted))
	}
}

func eventFor(status domain.PlanRecordStatus) string {
	switch status {
	case domain.PlanStatusApplied:
		return EventPlanApplied
	case domain.PlanStatusPartial:
		return EventPlanPartial
	case domain.PlanStatusFailed:
		return EventPlanFailed
	case domain.PlanStatusDryRun:
		return EventPlanDryRun
	default:
		return EventPlanCreated
	}
}

// GetPlan returns a stored plan record.
func (e *Engine) GetPlan(ctx context.Context, id string) (*domain.PlanRecord, error) {
	return e.repo.Get(ctx, id)
}

// ListPlans returns up to limit recent plan records of any cluster.
func (e *Engine) ListPlans(ctx context.Context, limit int) ([]*domain.PlanRecord, error) {
	return e.repo.List(ctx, "", limit)
}

// LatestPlan returns the newest plan of the cluster the engine last ran
// against, served from the report cache when possible.
func (e *Engine) LatestPlan(ctx context.Context) (*domain.PlanRecord, error) {
	e.mu.RLock()
	cluster := e.cluster
	e.mu.RUnlock()

	if e.cache != nil && cluster != "" {
		rec, err := e.cache.GetLatestPlan(ctx, cluster)
		if err == nil {
			return rec, nil
		}
		e.logger.Debug("Latest plan not cached", zap.String("cluster", cluster), zap.Error(err))
	}

	rec, err := e.repo.Latest(ctx, cluster)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("no plan recorded yet: %w", err)
	}
	return rec, err
}

// LastRun returns when the last run completed.
func (e *Engine) LastRun() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastRun
}

// IsRunning returns true if the periodic loop is active.
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.isRunning
}
