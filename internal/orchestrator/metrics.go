package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("kstate.orchestrator")

var (
	// batchesTotal counts finished batches. Labels: "ok", "error", "eval_failed".
	batchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kstate_batches_total",
		Help: "Batches run by result",
	}, []string{"result"})

	clustersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kstate_clusters_total",
		Help: "Clusters produced by the decomposer, by kind",
	}, []string{"kind"})

	queriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kstate_queries_total",
		Help: "Network queries by approach and reduction path",
	}, []string{"approach", "path"})

	queryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kstate_query_duration_seconds",
		Help:    "Network query duration",
		Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 1, 10, 60},
	}, []string{"approach"})

	failuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kstate_failures_total",
		Help: "Isolated cluster state failures by stage",
	}, []string{"stage"})

	// ladderTotal counts retry ladder rungs taken after a non-converged propagation.
	ladderTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kstate_ladder_rungs_total",
		Help: "Convergence retries by rung",
	}, []string{"rung"})
)
