// Package vsphere collects cluster inventory from vCenter and executes
// migrations through it.
package vsphere

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/vmware/govmomi"
	"github.com/vmware/govmomi/find"
	"github.com/vmware/govmomi/object"
	"github.com/vmware/govmomi/property"
	"github.com/vmware/govmomi/vim25/types"
	"go.uber.org/zap"

	"github.com/limiquantix/rebalancer/internal/config"
	"github.com/limiquantix/rebalancer/internal/domain"
	"github.com/limiquantix/rebalancer/internal/drs"
)

var (
	_ drs.SnapshotSource = (*Client)(nil)
	_ drs.Migrator       = (*Client)(nil)
)

// Client wraps a govmomi client bound to one datacenter and cluster.
type Client struct {
	cfg    config.VSphereConfig
	logger *zap.Logger

	client  *govmomi.Client
	finder  *find.Finder
	cluster *object.ClusterComputeResource
}

// NewClient creates a new, unconnected vSphere client.
func NewClient(cfg config.VSphereConfig, logger *zap.Logger) *Client {
	return &Client{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "vsphere")),
	}
}

// Connect establishes the vCenter session and resolves the configured
// datacenter and cluster.
func (c *Client) Connect(ctx context.Context) error {
	host := c.cfg.Host
	if host == "" {
		return fmt.Errorf("vCenter host is not configured")
	}
	if !strings.HasPrefix(host, "https://") && !strings.HasPrefix(host, "http://") {
		host = "https://" + host
	}

	u, err := url.Parse(strings.TrimSuffix(host, "/") + "/sdk")
	if err != nil {
		return fmt.Errorf("invalid vCenter URL %q: %w", c.cfg.Host, err)
	}
	u.User = url.UserPassword(c.cfg.Username, c.cfg.Password)

	client, err := govmomi.NewClient(ctx, u, c.cfg.Insecure)
	if err != nil {
		return fmt.Errorf("failed to connect to vCenter at %s: %w", u.Host, err)
	}

	finder := find.NewFinder(client.Client, true)

	var dc *object.Datacenter
	if c.cfg.Datacenter != "" {
		dc, err = finder.Datacenter(ctx, c.cfg.Datacenter)
	} else {
		dc, err = finder.DefaultDatacenter(ctx)
	}
	if err != nil {
		_ = client.Logout(ctx)
		return fmt.Errorf("failed to find datacenter %q: %w", c.cfg.Datacenter, err)
	}
	finder.SetDatacenter(dc)

	var cluster *object.ClusterComputeResource
	if c.cfg.Cluster != "" {
		cluster, err = finder.ClusterComputeResource(ctx, c.cfg.Cluster)
	} else {
		cluster, err = finder.DefaultClusterComputeResource(ctx)
	}
	if err != nil {
		_ = client.Logout(ctx)
		return fmt.Errorf("failed to find cluster %q: %w", c.cfg.Cluster, err)
	}

	c.client = client
	c.finder = finder
	c.cluster = cluster

	c.logger.Info("Connected to vCenter",
		zap.String("host", u.Host),
		zap.String("datacenter", dc.Name()),
		zap.String("cluster", cluster.Name()),
	)
	return nil
}

// Disconnect closes the vCenter session.
func (c *Client) Disconnect(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	err := c.client.Logout(ctx)
	c.client = nil
	return err
}

// ClusterName returns the name of the connected cluster.
func (c *Client) ClusterName() string {
	if c.cluster == nil {
		return c.cfg.Cluster
	}
	return c.cluster.Name()
}

// Migrate relocates a workload to the move's target host and waits for the
// task to finish. The workload stays on its datastore.
func (c *Client) Migrate(ctx context.Context, move domain.Move) error {
	if c.client == nil {
		return fmt.Errorf("vsphere client not connected: %w", domain.ErrUnavailable)
	}

	if c.cfg.MigrateTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.MigrateTimeout)
		defer cancel()
	}

	vmRef := types.ManagedObjectReference{Type: "VirtualMachine", Value: move.WorkloadID}
	hostRef := types.ManagedObjectReference{Type: "HostSystem", Value: move.TargetHostID}

	host := object.NewHostSystem(c.client.Client, hostRef)
	pool, err := host.ResourcePool(ctx)
	if err != nil {
		return fmt.Errorf("failed to find resource pool of host %s: %w", move.TargetHostID, err)
	}
	poolRef := pool.Reference()

	spec := types.VirtualMachineRelocateSpec{
		Host: &hostRef,
		Pool: &poolRef,
	}

	start := time.Now()
	vm := object.NewVirtualMachine(c.client.Client, vmRef)
	task, err := vm.Relocate(ctx, spec, types.VirtualMachineMovePriorityDefaultPriority)
	if err != nil {
		return fmt.Errorf("failed to start relocation of %s: %w", move.WorkloadID, err)
	}
	if err := task.Wait(ctx); err != nil {
		return fmt.Errorf("relocation of %s to %s failed: %w", move.WorkloadID, move.TargetHostID, err)
	}

	c.logger.Info("Workload migrated",
		zap.String("workload_id", move.WorkloadID),
		zap.String("workload", move.WorkloadName),
		zap.String("source_host", move.SourceHostID),
		zap.String("target_host", move.TargetHostID),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

func (c *Client) collector() *property.Collector {
	return property.DefaultCollector(c.client.Client)
}
