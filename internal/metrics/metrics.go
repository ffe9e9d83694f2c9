// Package metrics exposes the system's operational counters and histograms
// to Prometheus, grounded on the one concrete prometheus wiring example in
// the retrieval pack (metrics/metrics.go in the poorman-SynapseStrike
// repo): a private registry, promauto-registered vectors, and small
// update/record helper functions rather than scattering label plumbing
// across every caller.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the process-wide registry for this system's metrics,
// separate from the global default registry so /metrics never leaks an
// import's unrelated collectors.
var Registry = prometheus.NewRegistry()

var (
	// OrdersRouted counts orders the Execution Router has sent to the
	// bridge, by symbol and side.
	OrdersRouted = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "atrader",
			Subsystem: "execution",
			Name:      "orders_routed_total",
			Help:      "Total number of orders routed to the bridge",
		},
		[]string{"symbol", "side"},
	)

	// RiskVetoes counts signals blocked by the Risk Gatekeeper, by reason.
	RiskVetoes = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "atrader",
			Subsystem: "risk",
			Name:      "vetoes_total",
			Help:      "Total number of trade signals vetoed by the risk gatekeeper",
		},
		[]string{"reason"},
	)

	// TickLatency tracks the wall-clock time from bar receipt to the
	// Engine's ledger update, per symbol.
	TickLatency = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "atrader",
			Subsystem: "engine",
			Name:      "tick_latency_seconds",
			Help:      "Time from bar receipt to ledger update",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"symbol"},
	)

	// IngestorQueueDepth tracks the History Ingestor's bounded write queue
	// occupancy.
	IngestorQueueDepth = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: "atrader",
			Subsystem: "ingestor",
			Name:      "queue_depth",
			Help:      "Current depth of the history ingestor's write queue",
		},
	)

	// StrategySwaps counts automatic drawdown-driven strategy swaps, by
	// the strategy promoted to main.
	StrategySwaps = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "atrader",
			Subsystem: "strategy",
			Name:      "swaps_total",
			Help:      "Total number of automatic strategy swaps",
		},
		[]string{"to"},
	)

	// SchedulerTaskDuration tracks how long each periodic scheduler task
	// takes to run.
	SchedulerTaskDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "atrader",
			Subsystem: "scheduler",
			Name:      "task_duration_seconds",
			Help:      "Duration of a scheduler task run",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 10, 30},
		},
		[]string{"task"},
	)
)

// Init registers the standard process/runtime collectors alongside the
// domain metrics above.
func Init() {
	Registry.MustRegister(prometheus.NewGoCollector())
	Registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
}

// Handler returns the HTTP handler the admin server mounts at /metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordOrderRouted increments the routed-orders counter.
func RecordOrderRouted(symbol, side string) {
	OrdersRouted.WithLabelValues(symbol, side).Inc()
}

// RecordRiskVeto increments the risk-veto counter for reason.
func RecordRiskVeto(reason string) {
	RiskVetoes.WithLabelValues(reason).Inc()
}

// ObserveTickLatency records one bar-to-ledger latency sample.
func ObserveTickLatency(symbol string, seconds float64) {
	TickLatency.WithLabelValues(symbol).Observe(seconds)
}

// SetIngestorQueueDepth reports the ingestor's current queue occupancy.
func SetIngestorQueueDepth(depth int) {
	IngestorQueueDepth.Set(float64(depth))
}

// RecordStrategySwap increments the strategy-swap counter for the
// strategy promoted to main.
func RecordStrategySwap(to string) {
	StrategySwaps.WithLabelValues(to).Inc()
}

// ObserveSchedulerTask records one scheduler task's run duration.
func ObserveSchedulerTask(task string, seconds float64) {
	SchedulerTaskDuration.WithLabelValues(task).Observe(seconds)
}
