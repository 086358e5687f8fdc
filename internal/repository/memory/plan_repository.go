// Package memory provides in-memory repository implementations for development and testing.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/limiquantix/rebalancer/internal/domain"
	"github.com/limiquantix/rebalancer/internal/drs"
)

// Ensure PlanRepository implements drs.PlanRepository
var _ drs.PlanRepository = (*PlanRepository)(nil)

// PlanRepository is an in-memory implementation of the plan history.
type PlanRepository struct {
	mu   sync.RWMutex
	data map[string]*domain.PlanRecord
}

// NewPlanRepository creates a new in-memory plan repository.
func NewPlanRepository() *PlanRepository {
	return &PlanRepository{
		data: make(map[string]*domain.PlanRecord),
	}
}

// Create stores a new plan record.
func (r *PlanRepository) Create(ctx context.Context, rec *domain.PlanRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Generate ID if not set
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if _, exists := r.data[rec.ID]; exists {
		return domain.ErrAlreadyExists
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	// Clone to avoid external mutations
	r.data[rec.ID] = rec.Clone()
	return nil
}

// Update replaces a stored plan record.
func (r *PlanRepository) Update(ctx context.Context, rec *domain.PlanRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.data[rec.ID]; !ok {
		return domain.ErrNotFound
	}
	r.data[rec.ID] = rec.Clone()
	return nil
}

// Get retrieves a plan record by ID.
func (r *PlanRepository) Get(ctx context.Context, id string) (*domain.PlanRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.data[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return rec.Clone(), nil
}

// Latest returns the newest plan record of a cluster.
func (r *PlanRepository) Latest(ctx context.Context, cluster string) (*domain.PlanRecord, error) {
	records, _ := r.List(ctx, cluster, 1)
	if len(records) == 0 {
		return nil, domain.ErrNotFound
	}
	return records[0], nil
}

// List returns up to limit plan records, newest first. An empty cluster
// lists every cluster.
func (r *PlanRepository) List(ctx context.Context, cluster string, limit int) ([]*domain.PlanRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*domain.PlanRecord
	for _, rec := range r.data {
		if cluster == "" || rec.Cluster == cluster {
			result = append(result, rec)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	for i, rec := range result {
		result[i] = rec.Clone()
	}
	return result, nil
}

// DeleteOld removes plan records created before olderThan.
func (r *PlanRepository) DeleteOld(ctx context.Context, olderThan time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	deleted := 0
	for id, rec := range r.data {
		if rec.CreatedAt.Before(olderThan) {
			delete(r.data, id)
			deleted++
		}
	}
	return deleted, nil
}
