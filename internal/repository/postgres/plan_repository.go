package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/limiquantix/rebalancer/internal/domain"
	"github.com/limiquantix/rebalancer/internal/drs"
)

// Ensure PlanRepository implements drs.PlanRepository
var _ drs.PlanRepository = (*PlanRepository)(nil)

// PlanRepository stores plan records in the plan_records table. The plan,
// its configuration and execution results are kept as JSONB documents.
type PlanRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewPlanRepository creates a new PostgreSQL plan repository.
func NewPlanRepository(db *DB, logger *zap.Logger) *PlanRepository {
	return &PlanRepository{
		db:     db,
		logger: logger.With(zap.String("repository", "plan")),
	}
}

const planColumns = `id, cluster, dry_run, status, config, plan, executed, error, created_at, completed_at`

// Create stores a new plan record.
func (r *PlanRepository) Create(ctx context.Context, rec *domain.PlanRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	configJSON, planJSON, executedJSON, err := marshalRecord(rec)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO plan_records (` + planColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = r.db.pool.Exec(ctx, query,
		rec.ID,
		rec.Cluster,
		rec.DryRun,
		string(rec.Status),
		configJSON,
		planJSON,
		executedJSON,
		rec.Error,
		rec.CreatedAt,
		rec.CompletedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create plan record", zap.Error(err), zap.String("id", rec.ID))
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("failed to insert plan record: %w", err)
	}

	r.logger.Debug("Created plan record", zap.String("id", rec.ID), zap.String("cluster", rec.Cluster))
	return nil
}

// Update replaces the mutable fields of a plan record.
func (r *PlanRepository) Update(ctx context.Context, rec *domain.PlanRecord) error {
	_, _, executedJSON, err := marshalRecord(rec)
	if err != nil {
		return err
	}

	query := `
		UPDATE plan_records
		SET status = $2, executed = $3, error = $4, completed_at = $5
		WHERE id = $1
	`

	tag, err := r.db.pool.Exec(ctx, query,
		rec.ID,
		string(rec.Status),
		executedJSON,
		rec.Error,
		rec.CompletedAt,
	)
	if err != nil {
		r.logger.Error("Failed to update plan record", zap.Error(err), zap.String("id", rec.ID))
		return fmt.Errorf("failed to update plan record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Get retrieves a plan record by ID.
func (r *PlanRepository) Get(ctx context.Context, id string) (*domain.PlanRecord, error) {
	query := `SELECT ` + planColumns + ` FROM plan_records WHERE id = $1`
	return r.scanOne(ctx, query, id)
}

// Latest returns the newest plan record of a cluster. An empty cluster
// matches every cluster.
func (r *PlanRepository) Latest(ctx context.Context, cluster string) (*domain.PlanRecord, error) {
	query := `
		SELECT ` + planColumns + `
		FROM plan_records
		WHERE ($1 = '' OR cluster = $1)
		ORDER BY created_at DESC
		LIMIT 1
	`
	return r.scanOne(ctx, query, cluster)
}

// List returns up to limit plan records, newest first. An empty cluster
// lists every cluster.
func (r *PlanRepository) List(ctx context.Context, cluster string, limit int) ([]*domain.PlanRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT ` + planColumns + `
		FROM plan_records
		WHERE ($1 = '' OR cluster = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.pool.Query(ctx, query, cluster, limit)
	if err != nil {
		r.logger.Error("Failed to list plan records", zap.Error(err))
		return nil, fmt.Errorf("failed to list plan records: %w", err)
	}
	defer rows.Close()

	var records []*domain.PlanRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate plan records: %w", err)
	}

	return records, nil
}

// DeleteOld removes plan records created before olderThan.
func (r *PlanRepository) DeleteOld(ctx context.Context, olderThan time.Time) (int, error) {
	tag, err := r.db.pool.Exec(ctx, `DELETE FROM plan_records WHERE created_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old plan records: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *PlanRepository) scanOne(ctx context.Context, query string, arg any) (*domain.PlanRecord, error) {
	rec, err := scanRecord(r.db.pool.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func scanRecord(row pgx.Row) (*domain.PlanRecord, error) {
	var (
		rec                                domain.PlanRecord
		status                             string
		configJSON, planJSON, executedJSON []byte
	)

	err := row.Scan(
		&rec.ID,
		&rec.Cluster,
		&rec.DryRun,
		&status,
		&configJSON,
		&planJSON,
		&executedJSON,
		&rec.Error,
		&rec.CreatedAt,
		&rec.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan plan record: %w", err)
	}

	rec.Status = domain.PlanRecordStatus(status)
	if err := json.Unmarshal(configJSON, &rec.Config); err != nil {
		return nil, fmt.Errorf("failed to decode plan config: %w", err)
	}
	if err := json.Unmarshal(planJSON, &rec.Plan); err != nil {
		return nil, fmt.Errorf("failed to decode plan: %w", err)
	}
	if len(executedJSON) > 0 {
		if err := json.Unmarshal(executedJSON, &rec.Executed); err != nil {
			return nil, fmt.Errorf("failed to decode execution results: %w", err)
		}
	}

	return &rec, nil
}

func marshalRecord(rec *domain.PlanRecord) (configJSON, planJSON, executedJSON []byte, err error) {
	if configJSON, err = json.Marshal(rec.Config); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to encode plan config: %w", err)
	}
	if planJSON, err = json.Marshal(rec.Plan); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to encode plan: %w", err)
	}
	executed := rec.Executed
	if executed == nil {
		executed = []domain.MoveResult{}
	}
	if executedJSON, err = json.Marshal(executed); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to encode execution results: %w", err)
	}
	return configJSON, planJSON, executedJSON, nil
}
