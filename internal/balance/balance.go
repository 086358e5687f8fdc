// Package balance narrows per-metric utilization gaps between hosts by
// moving workloads from the busiest host towards the idlest one.
//
// Selection is greedy: each step considers a single source host and picks
// the one workload that most reduces the gap. It is not globally optimal,
// but every accepted move lowers the gap (or, when several hosts share the
// maximum, the sum of squared utilizations) and no workload is moved twice,
// so a pass always terminates.
package balance

import (
	"fmt"
	"sort"

	"github.com/limiquantix/rebalancer/internal/affinity"
	"github.com/limiquantix/rebalancer/internal/domain"
	"github.com/limiquantix/rebalancer/internal/inventory"
)

const epsilon = 1e-9

var thresholds = map[int]float64{
	1: 25,
	2: 20,
	3: 15,
	4: 10,
	5: 5,
}

// Threshold returns the maximum tolerated percentage-point gap for an
// aggressiveness level.
func Threshold(level int) (float64, error) {
	t, ok := thresholds[level]
	if !ok {
		return 0, fmt.Errorf("%w: aggressiveness %d outside %d..%d", domain.ErrInvalidConfig, level, domain.MinAggressiveness, domain.MaxAggressiveness)
	}
	return t, nil
}

// Imbalance describes the utilization spread of one metric.
type Imbalance struct {
	Metric     domain.Metric
	Threshold  float64
	Gap        float64
	Min        float64
	Max        float64
	Avg        float64
	MinHost    string
	MaxHost    string
	Imbalanced bool
}

// Evaluate reports the spread of a metric across all hosts. Ties between
// hosts resolve to the lowest host ID.
func Evaluate(s *inventory.State, m domain.Metric, threshold float64) Imbalance {
	out := Imbalance{Metric: m, Threshold: threshold}
	hosts := s.Model().Hosts()
	if len(hosts) == 0 {
		return out
	}

	var sum float64
	for i, h := range hosts {
		u := s.Utilization(h.ID, m)
		sum += u
		if i == 0 || u > out.Max+epsilon {
			out.Max, out.MaxHost = u, h.ID
		}
		if i == 0 || u < out.Min-epsilon {
			out.Min, out.MinHost = u, h.ID
		}
	}
	out.Avg = sum / float64(len(hosts))
	out.Gap = out.Max - out.Min
	out.Imbalanced = out.Gap > threshold+epsilon
	return out
}

// Options controls one balancing pass.
type Options struct {
	// Metrics are balanced in the given order.
	Metrics        []domain.Metric
	Aggressiveness int
	// Exclude lists workloads that must not be moved, typically those
	// already relocated for anti-affinity.
	Exclude map[string]bool
	// Guard, when set, vetoes moves that would unbalance a sibling group.
	Guard *affinity.Guard
}

// Result is the outcome of a balancing pass.
type Result struct {
	Moves   []domain.Move
	Metrics []domain.MetricStatus
}

// Plan balances each requested metric in turn, applying every proposed move
// to s. A metric whose gap cannot be narrowed further without breaking a
// constraint is reported as NO_IMPROVEMENT_POSSIBLE and not retried.
func Plan(s *inventory.State, opts Options) (Result, error) {
	threshold, err := Threshold(opts.Aggressiveness)
	if err != nil {
		return Result{}, err
	}

	moved := make(map[string]bool, len(opts.Exclude))
	for id, ok := range opts.Exclude {
		if ok {
			moved[id] = true
		}
	}

	var res Result
	initial := make([]float64, len(opts.Metrics))

	for i, m := range opts.Metrics {
		if !m.Valid() {
			return Result{}, fmt.Errorf("%w: unknown metric %q", domain.ErrInvalidConfig, m)
		}
		p := pass{
			state:     s,
			metric:    m,
			threshold: threshold,
			protected: opts.Metrics[:i],
			guard:     opts.Guard,
			moved:     moved,
		}
		initial[i] = Evaluate(s, m, threshold).Gap
		res.Moves = append(res.Moves, p.run()...)
	}

	for i, m := range opts.Metrics {
		ev := Evaluate(s, m, threshold)
		status := domain.MetricStatus{
			Metric:     m,
			Threshold:  threshold,
			InitialGap: initial[i],
			FinalGap:   ev.Gap,
			Min:        ev.Min,
			Max:        ev.Max,
			Avg:        ev.Avg,
		}
		switch {
		case ev.Imbalanced:
			status.Status = domain.StatusNoImprovementPossible
		case initial[i] > threshold+epsilon:
			status.Status = domain.StatusResolved
		default:
			status.Status = domain.StatusBalanced
		}
		res.Metrics = append(res.Metrics, status)
	}

	return res, nil
}

// pass balances a single metric.
type pass struct {
	state     *inventory.State
	metric    domain.Metric
	threshold float64
	// protected are metrics balanced earlier in the same run; a move may not
	// push one of them back over the threshold.
	protected []domain.Metric
	guard     *affinity.Guard
	moved     map[string]bool
}

type candidate struct {
	workload domain.WorkloadSpec
	target   string
	gapAfter float64
	sumSq    float64
}

func (p *pass) run() []domain.Move {
	var moves []domain.Move
	for {
		ev := Evaluate(p.state, p.metric, p.threshold)
		if !ev.Imbalanced {
			return moves
		}

		best, ok := p.pick(ev)
		if !ok {
			return moves
		}
		if err := p.state.Apply(best.workload.ID, best.target); err != nil {
			return moves
		}
		p.moved[best.workload.ID] = true

		moves = append(moves, domain.Move{
			WorkloadID:   best.workload.ID,
			WorkloadName: best.workload.Name,
			SourceHostID: ev.MaxHost,
			TargetHostID: best.target,
			Origin:       domain.OriginBalancing,
			Metric:       p.metric,
			Gap:          ev.Gap,
			GapAfter:     best.gapAfter,
		})
	}
}

// pick selects the workload on the busiest host whose move most reduces the
// gap. The idlest host is tried first; other hosts are tried in order of
// rising utilization only when it admits no candidate.
func (p *pass) pick(ev Imbalance) (candidate, bool) {
	source := ev.MaxHost
	tiedMax := p.tiedMax(ev)
	sumSqBefore := p.sumSquares("", "", domain.Vector{})

	for _, target := range p.targets(ev) {
		var best candidate
		found := false

		for _, w := range p.state.WorkloadsOn(source) {
			if w.Pinned || p.moved[w.ID] {
				continue
			}
			if !p.acceptable(w, source, target) {
				continue
			}

			gapAfter := p.gapAfter(p.metric, source, target, w.Demand)
			sumSq := p.sumSquares(source, target, w.Demand)
			switch {
			case gapAfter < ev.Gap-epsilon:
			case tiedMax && gapAfter <= ev.Gap+epsilon && sumSq < sumSqBefore-epsilon:
			default:
				continue
			}

			c := candidate{workload: w, target: target, gapAfter: gapAfter, sumSq: sumSq}
			if !found || better(c, best) {
				best, found = c, true
			}
		}
		if found {
			return best, true
		}
	}
	return candidate{}, false
}

// better orders candidates by resulting gap, then by resulting sum of
// squares. Equal candidates keep the earlier (lower workload ID) one.
func better(a, b candidate) bool {
	if a.gapAfter < b.gapAfter-epsilon {
		return true
	}
	if a.gapAfter > b.gapAfter+epsilon {
		return false
	}
	return a.sumSq < b.sumSq-epsilon
}

// acceptable applies the hard constraints to moving w from source to target.
func (p *pass) acceptable(w domain.WorkloadSpec, source, target string) bool {
	if !p.state.Fits(w.ID, target) {
		return false
	}

	// No overshoot: the target may not end up busier than the source was.
	targetAfter := inventory.Percent(p.state.Usage(target).Add(w.Demand).Get(p.metric), p.capacity(target))
	if targetAfter > p.state.Utilization(source, p.metric)+epsilon {
		return false
	}

	for _, m := range p.protected {
		if Evaluate(p.state, m, p.threshold).Imbalanced {
			continue
		}
		if p.gapAfter(m, source, target, w.Demand) > p.threshold+epsilon {
			return false
		}
	}

	return p.guard.Allows(p.state, w.ID, target)
}

// targets lists candidate destination hosts, idlest first.
func (p *pass) targets(ev Imbalance) []string {
	hosts := p.state.Model().Hosts()
	out := make([]string, 0, len(hosts))
	out = append(out, ev.MinHost)
	var rest []string
	for _, h := range hosts {
		if h.ID != ev.MinHost && h.ID != ev.MaxHost {
			rest = append(rest, h.ID)
		}
	}
	sort.SliceStable(rest, func(i, j int) bool {
		return p.state.Utilization(rest[i], p.metric) < p.state.Utilization(rest[j], p.metric)
	})
	return append(out, rest...)
}

func (p *pass) tiedMax(ev Imbalance) bool {
	for _, h := range p.state.Model().Hosts() {
		if h.ID != ev.MaxHost && p.state.Utilization(h.ID, p.metric) >= ev.Max-epsilon {
			return true
		}
	}
	return false
}

func (p *pass) capacity(hostID string) float64 {
	h, _ := p.state.Model().Host(hostID)
	return h.Capacity.Get(p.metric)
}

// projected returns the utilization of host for metric m after demand moves
// from source to target.
func (p *pass) projected(m domain.Metric, host, source, target string, demand domain.Vector) float64 {
	h, _ := p.state.Model().Host(host)
	usage := p.state.Usage(host)
	switch host {
	case source:
		usage = usage.Sub(demand)
	case target:
		usage = usage.Add(demand)
	}
	return inventory.Percent(usage.Get(m), h.Capacity.Get(m))
}

func (p *pass) gapAfter(m domain.Metric, source, target string, demand domain.Vector) float64 {
	var lo, hi float64
	for i, h := range p.state.Model().Hosts() {
		u := p.projected(m, h.ID, source, target, demand)
		if i == 0 || u < lo {
			lo = u
		}
		if i == 0 || u > hi {
			hi = u
		}
	}
	return hi - lo
}

func (p *pass) sumSquares(source, target string, demand domain.Vector) float64 {
	var sum float64
	for _, h := range p.state.Model().Hosts() {
		u := p.projected(p.metric, h.ID, source, target, demand)
		sum += u * u
	}
	return sum
}
