package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	causewatch = "causewatch"

	// Fetch metrics
	fetchTotal = "fetch_total"

	// Job metrics
	jobsScheduledTotal = "jobs_scheduled_total"
	jobsProcessedTotal = "jobs_processed_total"
	processingCycle    = "processing_cycle_duration_milliseconds"

	// Sync metrics
	syncProjectsTotal = "sync_projects_total"

	// Labels
	platformLabel = "platform"
	outcomeLabel  = "outcome"
	kindLabel     = "kind"
	resultLabel   = "result"
)

var fetchTotalLabels = []string{
	platformLabel,
	outcomeLabel,
}

var jobsScheduledLabels = []string{
	kindLabel,
}

var jobsProcessedLabels = []string{
	kindLabel,
	resultLabel,
}

var syncProjectsLabels = []string{
	resultLabel,
}

/**
* Metrics definition
**/
var fetchTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: causewatch,
		Name:      fetchTotal,
		Help:      "number of platform fetches partitioned by platform and outcome",
	},
	fetchTotalLabels,
)

var jobsScheduledTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: causewatch,
		Name:      jobsScheduledTotal,
		Help:      "number of jobs created by the scheduler partitioned by kind",
	},
	jobsScheduledLabels,
)

var jobsProcessedTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: causewatch,
		Name:      jobsProcessedTotal,
		Help:      "number of processed jobs partitioned by kind and result",
	},
	jobsProcessedLabels,
)

var processingCycleMetric = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Subsystem: causewatch,
		Name:      processingCycle,
		Help:      "time spent on one processing cycle",
		Buckets:   []float64{100, 1000, 10000, 60000, 300000},
	},
)

var syncProjectsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: causewatch,
		Name:      syncProjectsTotal,
		Help:      "number of catalog projects synchronized partitioned by result",
	},
	syncProjectsLabels,
)

func IncreaseFetchMetric(platform string, outcome string) {
	labels := prometheus.Labels{
		platformLabel: platform,
		outcomeLabel:  outcome,
	}
	fetchTotalMetric.With(labels).Inc()
}

func AddScheduledJobsMetric(kind string, count int) {
	labels := prometheus.Labels{
		kindLabel: kind,
	}
	jobsScheduledTotalMetric.With(labels).Add(float64(count))
}

func IncreaseJobResultMetric(kind string, result string) {
	labels := prometheus.Labels{
		kindLabel:   kind,
		resultLabel: result,
	}
	jobsProcessedTotalMetric.With(labels).Inc()
}

func ObserveProcessingCycle(d time.Duration) {
	processingCycleMetric.Observe(float64(d.Milliseconds()))
}

func IncreaseSyncProjectMetric(result string) {
	labels := prometheus.Labels{
		resultLabel: result,
	}
	syncProjectsTotalMetric.With(labels).Inc()
}

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(fetchTotalMetric)
	prometheus.MustRegister(jobsScheduledTotalMetric)
	prometheus.MustRegister(jobsProcessedTotalMetric)
	prometheus.MustRegister(processingCycleMetric)
	prometheus.MustRegister(syncProjectsTotalMetric)
}
