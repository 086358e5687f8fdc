// Package etcd provides leader election and distributed locking so that only
// one rebalancer replica plans and migrates a cluster at a time.
package etcd

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
	"go.uber.org/zap"

	"github.com/limiquantix/rebalancer/internal/config"
	"github.com/limiquantix/rebalancer/internal/drs"
)

const (
	defaultElectionPrefix = "/rebalancer/leader"
	clusterLockTimeout    = 30 * time.Second
)

var (
	_ drs.ClusterLocker = (*Client)(nil)
	_ drs.LeaderChecker = (*Leader)(nil)
)

// Client wraps an etcd client with leader election and distributed locking.
type Client struct {
	client         *clientv3.Client
	session        *concurrency.Session
	electionPrefix string
	logger         *zap.Logger
}

// NewClient creates a new etcd client.
func NewClient(cfg config.EtcdConfig, logger *zap.Logger) (*Client, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
		Username:    cfg.Username,
		Password:    cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = 10
	}

	// Create a session for distributed coordination
	session, err := concurrency.NewSession(client, concurrency.WithTTL(ttl))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create etcd session: %w", err)
	}

	logger.Info("Connected to etcd", zap.Strings("endpoints", cfg.Endpoints))

	prefix := strings.TrimSuffix(cfg.ElectionKey, "/")
	if prefix == "" {
		prefix = defaultElectionPrefix
	}

	return &Client{
		client:         client,
		session:        session,
		electionPrefix: prefix,
		logger:         logger.With(zap.String("component", "etcd")),
	}, nil
}

// Close closes the etcd client and session.
func (c *Client) Close() error {
	if c.session != nil {
		c.session.Close()
	}
	return c.client.Close()
}

// Health checks if etcd is reachable.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := c.client.Status(ctx, c.client.Endpoints()[0])
	return err
}

// =============================================================================
// Distributed Locks
// =============================================================================

// Lock represents a distributed lock.
type Lock struct {
	mutex *concurrency.Mutex
}

// AcquireLock acquires a distributed lock, blocking until it is held or ctx ends.
func (c *Client) AcquireLock(ctx context.Context, key string) (*Lock, error) {
	mutex := concurrency.NewMutex(c.session, fmt.Sprintf("/locks/%s", key))

	if err := mutex.Lock(ctx); err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}

	c.logger.Debug("Acquired lock", zap.String("key", key))

	return &Lock{mutex: mutex}, nil
}

// TryAcquireLock tries to acquire a lock with a timeout.
func (c *Client) TryAcquireLock(ctx context.Context, key string, timeout time.Duration) (*Lock, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return c.AcquireLock(ctx, key)
}

// Unlock releases a distributed lock.
func (l *Lock) Unlock(ctx context.Context) error {
	if l.mutex == nil {
		return nil
	}
	return l.mutex.Unlock(ctx)
}

// LockCluster serializes migrations against one cluster across replicas.
func (c *Client) LockCluster(ctx context.Context, cluster string) (drs.Unlocker, error) {
	return c.TryAcquireLock(ctx, "clusters/"+cluster, clusterLockTimeout)
}

// =============================================================================
// Leader Election
// =============================================================================

// Leader represents a leader election participant.
type Leader struct {
	election *concurrency.Election
	client   *Client
	name     string
	isLeader atomic.Bool
}

// LeaderCallback is called when leadership status changes.
type LeaderCallback func(isLeader bool)

// CampaignForLeader starts a leader election campaign in the background.
func (c *Client) CampaignForLeader(ctx context.Context, name string, callback LeaderCallback) (*Leader, error) {
	election := concurrency.NewElection(c.session, c.electionKey(name))

	leader := &Leader{
		election: election,
		client:   c,
		name:     name,
	}

	// Start campaign in background
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
				if err := election.Campaign(ctx, fmt.Sprintf("%d", c.session.Lease())); err != nil {
					if ctx.Err() != nil {
						return
					}
					c.logger.Warn("Leader campaign failed, retrying", zap.Error(err))
					time.Sleep(5 * time.Second)
					continue
				}

				// We became the leader
				leader.isLeader.Store(true)
				c.logger.Info("Became leader", zap.String("name", name))
				if callback != nil {
					callback(true)
				}

				// Wait until we lose leadership
				select {
				case <-ctx.Done():
					return
				case <-c.session.Done():
					leader.isLeader.Store(false)
					c.logger.Info("Lost leadership", zap.String("name", name))
					if callback != nil {
						callback(false)
					}
					return
				}
			}
		}
	}()

	return leader, nil
}

func (c *Client) electionKey(name string) string {
	return c.electionPrefix + "/" + name
}

// IsLeader returns true if this instance is currently the leader.
func (l *Leader) IsLeader() bool {
	return l.isLeader.Load()
}

// Resign resigns from leadership.
func (l *Leader) Resign(ctx context.Context) error {
	if l.election == nil || !l.isLeader.Load() {
		return nil
	}

	if err := l.election.Resign(ctx); err != nil {
		return fmt.Errorf("failed to resign: %w", err)
	}

	l.isLeader.Store(false)
	l.client.logger.Info("Resigned from leadership", zap.String("name", l.name))
	return nil
}
