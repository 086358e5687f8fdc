// Package redis provides Redis caching and pub/sub for plan reports.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/limiquantix/rebalancer/internal/config"
	"github.com/limiquantix/rebalancer/internal/domain"
	"github.com/limiquantix/rebalancer/internal/drs"
)

// ErrCacheMiss indicates the key was not found in cache.
var ErrCacheMiss = errors.New("cache miss")

// Ensure Cache implements drs.ReportCache
var _ drs.ReportCache = (*Cache)(nil)

// PlanEventsChannel is the pub/sub channel plan lifecycle events go to.
const PlanEventsChannel = "events:plan"

// Cache wraps a Redis client for caching operations.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewCache creates a new Redis cache connection.
func NewCache(cfg config.RedisConfig, logger *zap.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Connected to Redis", zap.String("addr", cfg.Address()))

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	return &Cache{client: client, ttl: ttl, logger: logger.With(zap.String("component", "redis"))}, nil
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Health checks if Redis is reachable.
func (c *Cache) Health(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// =============================================================================
// Generic Cache Operations
// =============================================================================

// Get retrieves a value from cache and unmarshals it into dest.
func (c *Cache) Get(ctx context.Context, key string, dest any) error {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return ErrCacheMiss
	}
	if err != nil {
		return fmt.Errorf("redis get error: %w", err)
	}

	return json.Unmarshal([]byte(val), dest)
}

// Set stores a value in cache with a TTL.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	return c.client.Set(ctx, key, data, ttl).Err()
}

// =============================================================================
// Plan Report Operations
// =============================================================================

func latestPlanKey(cluster string) string {
	return fmt.Sprintf("plan:latest:%s", cluster)
}

// GetLatestPlan retrieves the most recent plan record of a cluster.
func (c *Cache) GetLatestPlan(ctx context.Context, cluster string) (*domain.PlanRecord, error) {
	var rec domain.PlanRecord
	if err := c.Get(ctx, latestPlanKey(cluster), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// SetLatestPlan stores a plan record as the most recent one of its cluster.
func (c *Cache) SetLatestPlan(ctx context.Context, rec *domain.PlanRecord) error {
	if err := c.Set(ctx, latestPlanKey(rec.Cluster), rec, c.ttl); err != nil {
		return err
	}
	c.logger.Debug("Cached latest plan", zap.String("cluster", rec.Cluster), zap.String("plan_id", rec.ID))
	return nil
}

// =============================================================================
// Pub/Sub Operations
// =============================================================================

// Event represents a plan lifecycle event.
type Event struct {
	Type       string    `json:"type"` // "plan.created", "plan.applied", "plan.failed", etc.
	ResourceID string    `json:"resource_id"`
	Data       any       `json:"data,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Publish publishes an event to a channel.
func (c *Cache) Publish(ctx context.Context, channel string, event Event) error {
	event.Timestamp = time.Now()
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return c.client.Publish(ctx, channel, data).Err()
}

// PublishPlanEvent publishes a plan lifecycle event.
func (c *Cache) PublishPlanEvent(ctx context.Context, eventType string, rec *domain.PlanRecord) error {
	return c.Publish(ctx, PlanEventsChannel, Event{
		Type:       eventType,
		ResourceID: rec.ID,
		Data:       rec,
	})
}
