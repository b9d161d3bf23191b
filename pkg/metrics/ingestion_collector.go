package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/causewatch/causewatch/internal/store"
)

type ingestionStatsCollector struct {
	store            store.Store
	jobsByStatus     *prometheus.Desc
	totalAccounts    *prometheus.Desc
	totalPosts       *prometheus.Desc
	oldestPendingAge *prometheus.Desc
}

func NewIngestionStatsCollector(s store.Store) prometheus.Collector {
	fqName := func(name string) string {
		return fmt.Sprintf("%s_queue_%s", causewatch, name)
	}

	return &ingestionStatsCollector{
		store: s,
		jobsByStatus: prometheus.NewDesc(
			fqName("jobs_by_status"),
			"Number of jobs partitioned by status.",
			[]string{"status"},
			prometheus.Labels{},
		),
		totalAccounts: prometheus.NewDesc(
			fqName("accounts_total"),
			"Total number of tracked project accounts.",
			nil,
			prometheus.Labels{},
		),
		totalPosts: prometheus.NewDesc(
			fqName("posts_total"),
			"Total number of stored posts.",
			nil,
			prometheus.Labels{},
		),
		oldestPendingAge: prometheus.NewDesc(
			fqName("oldest_pending_age_seconds"),
			"Age of the oldest pending job. Zero when the queue is empty.",
			nil,
			prometheus.Labels{},
		),
	}
}

func (c *ingestionStatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.jobsByStatus
	ch <- c.totalAccounts
	ch <- c.totalPosts
	ch <- c.oldestPendingAge
}

// Collect implements Collector.
func (c *ingestionStatsCollector) Collect(ch chan<- prometheus.Metric) {
	stats, err := c.store.Statistics(context.Background())
	if err != nil {
		zap.S().Named("ingestion_collector").Errorf("failed to collect ingestion statistics: %s", err)
		return
	}

	for status, total := range stats.Jobs {
		ch <- prometheus.MustNewConstMetric(c.jobsByStatus, prometheus.GaugeValue, float64(total), string(status))
	}

	ch <- prometheus.MustNewConstMetric(c.totalAccounts, prometheus.GaugeValue, float64(stats.Accounts))
	ch <- prometheus.MustNewConstMetric(c.totalPosts, prometheus.GaugeValue, float64(stats.Posts))

	age := float64(0)
	if !stats.OldestPendingJob.IsZero() {
		age = time.Since(stats.OldestPendingJob).Seconds()
	}
	ch <- prometheus.MustNewConstMetric(c.oldestPendingAge, prometheus.GaugeValue, age)
}
