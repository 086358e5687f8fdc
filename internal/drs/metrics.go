package drs

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/limiquantix/rebalancer/internal/domain"
)

const metricsNamespace = "rebalancer"

// Metrics holds the Prometheus collectors updated by the engine.
type Metrics struct {
	runs          *prometheus.CounterVec
	plannedMoves  *prometheus.CounterVec
	executedMoves *prometheus.CounterVec
	skippedMoves  *prometheus.CounterVec
	gap           *prometheus.GaugeVec
	groupSpread   *prometheus.GaugeVec
	lastRun       prometheus.Gauge
}

// NewMetrics creates the engine collectors and registers them with reg.
// A nil registerer leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "runs_total",
			Help:      "Rebalancing runs by final plan record status.",
		}, []string{"status"}),
		plannedMoves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "planned_moves_total",
			Help:      "Moves included in computed plans by origin.",
		}, []string{"origin"}),
		executedMoves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "executed_moves_total",
			Help:      "Migrations executed against the cluster by result.",
		}, []string{"result"}),
		skippedMoves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "skipped_moves_total",
			Help:      "Proposed moves left out of plans by reason.",
		}, []string{"reason"}),
		gap: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "utilization_gap_percent",
			Help:      "Max minus min host utilization per metric after the latest plan.",
		}, []string{"metric"}),
		groupSpread: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "anti_affinity_spread",
			Help:      "Max minus min member count per host for each sibling group after the latest plan.",
		}, []string{"group"}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time of the latest completed run.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.runs, m.plannedMoves, m.executedMoves, m.skippedMoves, m.gap, m.groupSpread, m.lastRun)
	}
	return m
}

func (m *Metrics) observePlan(plan *domain.Plan) {
	if m == nil || plan == nil {
		return
	}
	for _, origin := range []domain.MoveOrigin{domain.OriginAntiAffinity, domain.OriginBalancing} {
		m.plannedMoves.WithLabelValues(string(origin)).Add(float64(plan.CountByOrigin(origin)))
	}
	for _, s := range plan.Skipped {
		m.skippedMoves.WithLabelValues(string(s.Reason)).Inc()
	}
	for _, ms := range plan.Metrics {
		m.gap.WithLabelValues(string(ms.Metric)).Set(ms.FinalGap)
	}
	m.groupSpread.Reset()
	for _, gs := range plan.Groups {
		m.groupSpread.WithLabelValues(gs.Prefix).Set(float64(gs.FinalSpread))
	}
}

func (m *Metrics) observeMove(result domain.MoveResult) {
	if m == nil {
		return
	}
	m.executedMoves.WithLabelValues(string(result.Status)).Inc()
}

func (m *Metrics) observeRun(rec *domain.PlanRecord) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(string(rec.Status)).Inc()
	m.lastRun.SetToCurrentTime()
}
