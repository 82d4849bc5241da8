package syncer

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "notionmirror"
	metricsSubsystem = "sync"
)

type syncMetrics struct {
	runsTotal       *prometheus.CounterVec
	pagesFetched    prometheus.Counter
	rowsUpserted    prometheus.Counter
	targetsResolved prometheus.Counter
	targetsFailed   prometheus.Counter
	runDuration     prometheus.Histogram
}

var (
	defaultMetricsOnce sync.Once
	defaultMetricsInst *syncMetrics
)

func getDefaultMetrics() *syncMetrics {
	defaultMetricsOnce.Do(func() {
		defaultMetricsInst = newSyncMetrics(prometheus.DefaultRegisterer)
	})
	return defaultMetricsInst
}

func newSyncMetrics(reg prometheus.Registerer) *syncMetrics {
	m := &syncMetrics{
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "runs_total",
			Help:      "Completed sync runs by outcome.",
		}, []string{"status"}),
		pagesFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "pages_fetched_total",
			Help:      "Remote records fetched across all runs.",
		}),
		rowsUpserted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "rows_upserted_total",
			Help:      "Rows written to the wide table across all runs.",
		}),
		targetsResolved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "relation_targets_resolved_total",
			Help:      "Relation targets fetched into the page cache.",
		}),
		targetsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "relation_targets_failed_total",
			Help:      "Relation target fetches that were skipped after an error.",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of sync runs.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.runsTotal, m.pagesFetched, m.rowsUpserted,
			m.targetsResolved, m.targetsFailed, m.runDuration,
		)
	}
	return m
}
