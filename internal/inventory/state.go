package inventory

import (
	"fmt"

	"github.com/limiquantix/rebalancer/internal/domain"
)

// capacityEpsilon absorbs floating point noise when comparing usage to capacity.
const capacityEpsilon = 1e-9

// State is a mutable working copy of a Model. Each planning or simulation run
// owns its own State; a State must not be shared between goroutines.
type State struct {
	model     *Model
	usage     []domain.Vector
	placement []int
}

// Model returns the model the state was derived from.
func (s *State) Model() *Model { return s.model }

// Clone returns an independent copy of the state.
func (s *State) Clone() *State {
	return &State{
		model:     s.model,
		usage:     append([]domain.Vector(nil), s.usage...),
		placement: append([]int(nil), s.placement...),
	}
}

// HostOf returns the current host of a workload.
func (s *State) HostOf(workloadID string) (string, bool) {
	wi, ok := s.model.workloadIndex[workloadID]
	if !ok {
		return "", false
	}
	return s.model.hosts[s.placement[wi]].ID, true
}

// Usage returns the current absolute usage of a host.
func (s *State) Usage(hostID string) domain.Vector {
	hi, ok := s.model.hostIndex[hostID]
	if !ok {
		return domain.Vector{}
	}
	return s.usage[hi]
}

// Utilization returns the utilization percentage of a host for one metric.
func (s *State) Utilization(hostID string, m domain.Metric) float64 {
	hi, ok := s.model.hostIndex[hostID]
	if !ok {
		return 0
	}
	return Percent(s.usage[hi].Get(m), s.model.hosts[hi].Capacity.Get(m))
}

// UtilizationVector returns the utilization percentages of a host for every metric.
func (s *State) UtilizationVector(hostID string) domain.Vector {
	var out domain.Vector
	for _, m := range domain.AllMetrics() {
		out = out.With(m, s.Utilization(hostID, m))
	}
	return out
}

// WorkloadsOn returns the workloads currently placed on a host, sorted by ID.
func (s *State) WorkloadsOn(hostID string) []domain.WorkloadSpec {
	hi, ok := s.model.hostIndex[hostID]
	if !ok {
		return nil
	}
	var out []domain.WorkloadSpec
	for wi, p := range s.placement {
		if p == hi {
			out = append(out, s.model.workloads[wi])
		}
	}
	return out
}

// Fits reports whether moving a workload to hostID keeps that host at or
// below 100% of its capacity on every metric.
func (s *State) Fits(workloadID, hostID string) bool {
	wi, ok := s.model.workloadIndex[workloadID]
	if !ok {
		return false
	}
	hi, ok := s.model.hostIndex[hostID]
	if !ok {
		return false
	}
	if s.placement[wi] == hi {
		return true
	}
	after := s.usage[hi].Add(s.model.workloads[wi].Demand)
	capacity := s.model.hosts[hi].Capacity
	for _, m := range domain.AllMetrics() {
		if after.Get(m) > capacity.Get(m)*(1+capacityEpsilon) {
			return false
		}
	}
	return true
}

// OverCapacity reports whether a host currently exceeds 100% on any metric.
func (s *State) OverCapacity(hostID string) bool {
	hi, ok := s.model.hostIndex[hostID]
	if !ok {
		return false
	}
	capacity := s.model.hosts[hi].Capacity
	for _, m := range domain.AllMetrics() {
		if s.usage[hi].Get(m) > capacity.Get(m)*(1+capacityEpsilon) {
			return true
		}
	}
	return false
}

// Apply moves a workload to another host, transferring its demand.
func (s *State) Apply(workloadID, hostID string) error {
	wi, ok := s.model.workloadIndex[workloadID]
	if !ok {
		return fmt.Errorf("unknown workload %q: %w", workloadID, domain.ErrNotFound)
	}
	hi, ok := s.model.hostIndex[hostID]
	if !ok {
		return fmt.Errorf("unknown host %q: %w", hostID, domain.ErrNotFound)
	}
	from := s.placement[wi]
	if from == hi {
		return nil
	}
	demand := s.model.workloads[wi].Demand
	s.usage[from] = s.usage[from].Sub(demand)
	s.usage[hi] = s.usage[hi].Add(demand)
	s.placement[wi] = hi
	return nil
}
