package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Metric names one tracked resource dimension.
type Metric string

const (
	// MetricCPU is CPU usage in MHz.
	MetricCPU Metric = "cpu"
	// MetricMemory is memory usage in MB.
	MetricMemory Metric = "memory"
	// MetricDiskIO is disk throughput in MB/s.
	MetricDiskIO Metric = "disk_io"
	// MetricNetworkIO is network throughput in MB/s.
	MetricNetworkIO Metric = "network_io"
)

const numMetrics = 4

// metricAliases maps accepted spellings to their canonical metric.
var metricAliases = map[string]Metric{
	"cpu":        MetricCPU,
	"memory":     MetricMemory,
	"mem":        MetricMemory,
	"disk_io":    MetricDiskIO,
	"disk":       MetricDiskIO,
	"network_io": MetricNetworkIO,
	"network":    MetricNetworkIO,
	"net":        MetricNetworkIO,
}

// AllMetrics returns every tracked metric in canonical order.
func AllMetrics() []Metric {
	return []Metric{MetricCPU, MetricMemory, MetricDiskIO, MetricNetworkIO}
}

// index returns the position of the metric in a Vector, or -1.
func (m Metric) index() int {
	switch m {
	case MetricCPU:
		return 0
	case MetricMemory:
		return 1
	case MetricDiskIO:
		return 2
	case MetricNetworkIO:
		return 3
	default:
		return -1
	}
}

// Valid reports whether m is one of the tracked metrics.
func (m Metric) Valid() bool {
	return m.index() >= 0
}

// ParseMetric parses a metric name, accepting the short aliases
// "disk", "network", "mem" and "net".
func ParseMetric(s string) (Metric, error) {
	m, ok := metricAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("%w: unknown metric %q", ErrInvalidConfig, s)
	}
	return m, nil
}

// ParseMetrics parses a list of metric names, preserving order and dropping
// repeats. Entries may themselves be comma separated.
func ParseMetrics(names []string) ([]Metric, error) {
	var out []Metric
	seen := make(map[Metric]bool)
	for _, entry := range names {
		for _, name := range strings.Split(entry, ",") {
			if strings.TrimSpace(name) == "" {
				continue
			}
			m, err := ParseMetric(name)
			if err != nil {
				return nil, err
			}
			if seen[m] {
				continue
			}
			seen[m] = true
			out = append(out, m)
		}
	}
	return out, nil
}

// Vector holds one absolute value per metric.
type Vector [numMetrics]float64

// Get returns the value for m. Unknown metrics read as zero.
func (v Vector) Get(m Metric) float64 {
	i := m.index()
	if i < 0 {
		return 0
	}
	return v[i]
}

// With returns a copy of v with m set to value.
func (v Vector) With(m Metric, value float64) Vector {
	if i := m.index(); i >= 0 {
		v[i] = value
	}
	return v
}

// Add returns v + o.
func (v Vector) Add(o Vector) Vector {
	for i := range v {
		v[i] += o[i]
	}
	return v
}

// Sub returns v - o.
func (v Vector) Sub(o Vector) Vector {
	for i := range v {
		v[i] -= o[i]
	}
	return v
}

// MarshalJSON encodes the vector as an object keyed by metric name.
func (v Vector) MarshalJSON() ([]byte, error) {
	out := make(map[Metric]float64, numMetrics)
	for _, m := range AllMetrics() {
		out[m] = v.Get(m)
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes an object keyed by metric name. Missing metrics are
// zero. Setting one metric under two spellings is an error.
func (v *Vector) UnmarshalJSON(data []byte) error {
	var raw map[string]float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var out Vector
	seen := make(map[Metric]string, len(raw))
	for name, value := range raw {
		m, err := ParseMetric(name)
		if err != nil {
			return err
		}
		if prev, ok := seen[m]; ok {
			return fmt.Errorf("%w: metric %s given as both %q and %q", ErrInvalidSnapshot, m, prev, name)
		}
		seen[m] = name
		out = out.With(m, value)
	}
	*v = out
	return nil
}
