package vsphere

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/vmware/govmomi/performance"
	"github.com/vmware/govmomi/vim25/mo"
	"github.com/vmware/govmomi/vim25/types"
	"go.uber.org/zap"

	"github.com/limiquantix/rebalancer/internal/domain"
)

const (
	diskUsageCounter    = "disk.usage.average"
	networkUsageCounter = "net.usage.average"
	kilobytesPerMB      = 1024
)

var hostProperties = []string{
	"name",
	"vm",
	"summary.hardware",
	"summary.quickStats",
	"runtime.connectionState",
	"runtime.inMaintenanceMode",
	"config.network.pnic",
}

var vmProperties = []string{
	"name",
	"config.template",
	"runtime.host",
	"runtime.powerState",
	"summary.quickStats",
}

// Snapshot collects the current inventory of the cluster: every connected
// host outside maintenance mode and every powered-on VM placed on one.
//
// CPU is measured in MHz and memory in MB from quick stats. Disk and network
// throughput come from the performance manager in MB/s; when a sample is not
// available the usage is taken as zero.
func (c *Client) Snapshot(ctx context.Context) (domain.Snapshot, error) {
	if c.client == nil {
		return domain.Snapshot{}, fmt.Errorf("vsphere client not connected: %w", domain.ErrUnavailable)
	}

	var clusterMo mo.ClusterComputeResource
	if err := c.cluster.Properties(ctx, c.cluster.Reference(), []string{"host"}, &clusterMo); err != nil {
		return domain.Snapshot{}, fmt.Errorf("getting cluster properties: %w", err)
	}
	if len(clusterMo.Host) == 0 {
		return domain.Snapshot{}, fmt.Errorf("cluster %s has no hosts: %w", c.cluster.Name(), domain.ErrInvalidSnapshot)
	}

	var hosts []mo.HostSystem
	if err := c.collector().Retrieve(ctx, clusterMo.Host, hostProperties, &hosts); err != nil {
		return domain.Snapshot{}, fmt.Errorf("getting host properties: %w", err)
	}

	snap := domain.Snapshot{
		Cluster: c.cluster.Name(),
		TakenAt: time.Now().UTC(),
	}

	var vmRefs []types.ManagedObjectReference
	hostIDs := make(map[string]bool)
	perfRefs := make([]types.ManagedObjectReference, 0, len(hosts))

	for _, h := range hosts {
		if h.Runtime.ConnectionState != types.HostSystemConnectionStateConnected || h.Runtime.InMaintenanceMode {
			c.logger.Debug("Skipping unavailable host",
				zap.String("host", h.Name),
				zap.String("connection_state", string(h.Runtime.ConnectionState)),
				zap.Bool("maintenance", h.Runtime.InMaintenanceMode),
			)
			continue
		}
		snap.Hosts = append(snap.Hosts, c.hostSpec(h))
		hostIDs[h.Self.Value] = true
		perfRefs = append(perfRefs, h.Self)
		vmRefs = append(vmRefs, h.Vm...)
	}

	var vms []mo.VirtualMachine
	if len(vmRefs) > 0 {
		if err := c.collector().Retrieve(ctx, vmRefs, vmProperties, &vms); err != nil {
			return domain.Snapshot{}, fmt.Errorf("getting VM properties: %w", err)
		}
	}

	for _, vm := range vms {
		if vm.Runtime.Host == nil || !hostIDs[vm.Runtime.Host.Value] {
			continue
		}
		if vm.Runtime.PowerState != types.VirtualMachinePowerStatePoweredOn {
			continue
		}
		snap.Workloads = append(snap.Workloads, c.workloadSpec(vm))
		perfRefs = append(perfRefs, vm.Self)
	}

	io := c.sampleIO(ctx, perfRefs)
	for i := range snap.Hosts {
		if v, ok := io[snap.Hosts[i].ID]; ok {
			snap.Hosts[i].Usage = snap.Hosts[i].Usage.
				With(domain.MetricDiskIO, v.Get(domain.MetricDiskIO)).
				With(domain.MetricNetworkIO, v.Get(domain.MetricNetworkIO))
		}
	}
	for i := range snap.Workloads {
		if v, ok := io[snap.Workloads[i].ID]; ok {
			snap.Workloads[i].Demand = snap.Workloads[i].Demand.
				With(domain.MetricDiskIO, v.Get(domain.MetricDiskIO)).
				With(domain.MetricNetworkIO, v.Get(domain.MetricNetworkIO))
		}
	}

	sort.Slice(snap.Hosts, func(i, j int) bool { return snap.Hosts[i].ID < snap.Hosts[j].ID })
	sort.Slice(snap.Workloads, func(i, j int) bool { return snap.Workloads[i].ID < snap.Workloads[j].ID })

	c.logger.Info("Inventory collected",
		zap.String("cluster", snap.Cluster),
		zap.Int("hosts", len(snap.Hosts)),
		zap.Int("workloads", len(snap.Workloads)),
	)
	return snap, nil
}

func (c *Client) hostSpec(h mo.HostSystem) domain.HostSpec {
	spec := domain.HostSpec{ID: h.Self.Value, Name: h.Name}

	if hw := h.Summary.Hardware; hw != nil {
		spec.Capacity = spec.Capacity.
			With(domain.MetricCPU, float64(hw.NumCpuCores)*float64(hw.CpuMhz)).
			With(domain.MetricMemory, float64(hw.MemorySize)/(1024*1024))
	}

	network := 0.0
	if h.Config != nil && h.Config.Network != nil {
		for _, pnic := range h.Config.Network.Pnic {
			if pnic.LinkSpeed != nil {
				// Mb/s to MB/s
				network += float64(pnic.LinkSpeed.SpeedMb) / 8
			}
		}
	}
	if network <= 0 {
		network = c.cfg.DefaultNetworkCapacity
	}
	spec.Capacity = spec.Capacity.
		With(domain.MetricDiskIO, c.cfg.DefaultDiskCapacity).
		With(domain.MetricNetworkIO, network)

	qs := h.Summary.QuickStats
	spec.Usage = spec.Usage.
		With(domain.MetricCPU, float64(qs.OverallCpuUsage)).
		With(domain.MetricMemory, float64(qs.OverallMemoryUsage))

	return spec
}

func (c *Client) workloadSpec(vm mo.VirtualMachine) domain.WorkloadSpec {
	spec := domain.WorkloadSpec{
		ID:     vm.Self.Value,
		Name:   vm.Name,
		HostID: vm.Runtime.Host.Value,
	}

	qs := vm.Summary.QuickStats
	spec.Demand = spec.Demand.
		With(domain.MetricCPU, float64(qs.OverallCpuUsage)).
		With(domain.MetricMemory, float64(qs.HostMemoryUsage))

	if vm.Config != nil && vm.Config.Template {
		spec.Pinned = true
	}
	for _, prefix := range c.cfg.PinnedPrefixes {
		if prefix != "" && strings.HasPrefix(vm.Name, prefix) {
			spec.Pinned = true
		}
	}
	return spec
}

// sampleIO returns the latest disk and network throughput per object in MB/s.
// Failures are logged and yield an empty result.
func (c *Client) sampleIO(ctx context.Context, refs []types.ManagedObjectReference) map[string]domain.Vector {
	out := make(map[string]domain.Vector)
	if len(refs) == 0 {
		return out
	}

	perf := performance.NewManager(c.client.Client)
	spec := types.PerfQuerySpec{
		MaxSample:  1,
		MetricId:   []types.PerfMetricId{{Instance: ""}},
		IntervalId: 20,
	}

	sample, err := perf.SampleByName(ctx, spec, []string{diskUsageCounter, networkUsageCounter}, refs)
	if err != nil {
		c.logger.Warn("Failed to sample I/O counters, assuming zero usage", zap.Error(err))
		return out
	}
	series, err := perf.ToMetricSeries(ctx, sample)
	if err != nil {
		c.logger.Warn("Failed to decode I/O counters, assuming zero usage", zap.Error(err))
		return out
	}

	for _, entity := range series {
		var v domain.Vector
		for _, s := range entity.Value {
			if s.Instance != "" || len(s.Value) == 0 {
				continue
			}
			mbps := float64(s.Value[len(s.Value)-1]) / kilobytesPerMB
			switch s.Name {
			case diskUsageCounter:
				v = v.With(domain.MetricDiskIO, mbps)
			case networkUsageCounter:
				v = v.With(domain.MetricNetworkIO, mbps)
			}
		}
		out[entity.Entity.Value] = v
	}
	return out
}
