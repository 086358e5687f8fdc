package domain

import "time"

// HostSpec describes one host of the cluster at snapshot time.
type HostSpec struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Capacity Vector `json:"capacity"`
	Usage    Vector `json:"usage"`
}

// DisplayName returns the host name, falling back to its ID.
func (h HostSpec) DisplayName() string {
	if h.Name != "" {
		return h.Name
	}
	return h.ID
}

// WorkloadSpec describes one workload (a VM) at snapshot time.
type WorkloadSpec struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	HostID string `json:"host_id"`
	Demand Vector `json:"demand"`

	// Pinned workloads (templates, VMs excluded by the operator) still consume
	// host resources but are never moved.
	Pinned bool `json:"pinned,omitempty"`
}

// Snapshot is the inventory of one cluster, as collected before planning.
type Snapshot struct {
	Cluster   string         `json:"cluster,omitempty"`
	TakenAt   time.Time      `json:"taken_at"`
	Hosts     []HostSpec     `json:"hosts"`
	Workloads []WorkloadSpec `json:"workloads"`
}
