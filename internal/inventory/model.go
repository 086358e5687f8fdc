// Package inventory holds the immutable inventory model a planning run works
// from, and the mutable working copy a run simulates moves against.
package inventory

import (
	"fmt"
	"math"
	"sort"

	"github.com/limiquantix/rebalancer/internal/domain"
)

// Model is a validated, read-only view of one snapshot. Hosts and workloads
// are kept sorted by ID so every traversal is deterministic.
type Model struct {
	cluster   string
	hosts     []domain.HostSpec
	workloads []domain.WorkloadSpec

	hostIndex     map[string]int
	workloadIndex map[string]int
	// placement[w] is the host index of workload w in the snapshot.
	placement []int
}

// New validates a snapshot and builds a Model from it. The snapshot is copied;
// later changes to it do not affect the Model.
func New(snap domain.Snapshot) (*Model, error) {
	if len(snap.Hosts) == 0 {
		return nil, fmt.Errorf("%w: snapshot has no hosts", domain.ErrInvalidSnapshot)
	}

	hosts := append([]domain.HostSpec(nil), snap.Hosts...)
	sort.Slice(hosts, func(i, j int) bool { return hosts[i].ID < hosts[j].ID })

	m := &Model{
		cluster:       snap.Cluster,
		hosts:         hosts,
		hostIndex:     make(map[string]int, len(hosts)),
		workloadIndex: make(map[string]int, len(snap.Workloads)),
	}

	for i, h := range hosts {
		if h.ID == "" {
			return nil, fmt.Errorf("%w: host with empty id", domain.ErrInvalidSnapshot)
		}
		if _, dup := m.hostIndex[h.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate host %q", domain.ErrInvalidSnapshot, h.ID)
		}
		for _, metric := range domain.AllMetrics() {
			c := h.Capacity.Get(metric)
			if !(c > 0) || math.IsInf(c, 0) {
				return nil, fmt.Errorf("%w: host %q has capacity %v for %s", domain.ErrInvalidSnapshot, h.ID, c, metric)
			}
			if u := h.Usage.Get(metric); u < 0 || math.IsNaN(u) {
				return nil, fmt.Errorf("%w: host %q has usage %v for %s", domain.ErrInvalidSnapshot, h.ID, u, metric)
			}
		}
		m.hostIndex[h.ID] = i
	}

	workloads := append([]domain.WorkloadSpec(nil), snap.Workloads...)
	sort.Slice(workloads, func(i, j int) bool { return workloads[i].ID < workloads[j].ID })
	m.workloads = workloads
	m.placement = make([]int, len(workloads))

	for i, w := range workloads {
		if w.ID == "" {
			return nil, fmt.Errorf("%w: workload %q has empty id", domain.ErrInvalidSnapshot, w.Name)
		}
		if _, dup := m.workloadIndex[w.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate workload %q", domain.ErrInvalidSnapshot, w.ID)
		}
		hi, ok := m.hostIndex[w.HostID]
		if !ok {
			return nil, fmt.Errorf("%w: workload %q references unknown host %q", domain.ErrInvalidSnapshot, w.ID, w.HostID)
		}
		for _, metric := range domain.AllMetrics() {
			if d := w.Demand.Get(metric); d < 0 || math.IsNaN(d) {
				return nil, fmt.Errorf("%w: workload %q has demand %v for %s", domain.ErrInvalidSnapshot, w.ID, d, metric)
			}
		}
		m.workloadIndex[w.ID] = i
		m.placement[i] = hi
	}

	return m, nil
}

// Cluster returns the cluster name carried by the snapshot.
func (m *Model) Cluster() string { return m.cluster }

// Hosts returns the hosts sorted by ID. The slice must not be modified.
func (m *Model) Hosts() []domain.HostSpec { return m.hosts }

// Workloads returns the workloads sorted by ID. The slice must not be modified.
func (m *Model) Workloads() []domain.WorkloadSpec { return m.workloads }

// Host returns the host with the given ID.
func (m *Model) Host(id string) (domain.HostSpec, bool) {
	i, ok := m.hostIndex[id]
	if !ok {
		return domain.HostSpec{}, false
	}
	return m.hosts[i], true
}

// HostIndex returns the position of a host in Hosts().
func (m *Model) HostIndex(id string) (int, bool) {
	i, ok := m.hostIndex[id]
	return i, ok
}

// Workload returns the workload with the given ID.
func (m *Model) Workload(id string) (domain.WorkloadSpec, bool) {
	i, ok := m.workloadIndex[id]
	if !ok {
		return domain.WorkloadSpec{}, false
	}
	return m.workloads[i], true
}

// NewState returns a fresh working copy positioned at the snapshot placement.
func (m *Model) NewState() *State {
	s := &State{
		model:     m,
		usage:     make([]domain.Vector, len(m.hosts)),
		placement: append([]int(nil), m.placement...),
	}
	for i, h := range m.hosts {
		s.usage[i] = h.Usage
	}
	return s
}

// Percent returns usage as a percentage of capacity.
func Percent(usage, capacity float64) float64 {
	if capacity <= 0 {
		return 0
	}
	return usage / capacity * 100
}
