package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sync outcomes
const (
	OutcomeSuccess     = "success"
	OutcomePartial     = "partial"
	OutcomeRateLimited = "rate_limited"
	OutcomeConflict    = "conflict"
	OutcomeFailed      = "failed"
)

// Metrics holds the followsync collectors
type Metrics struct {
	registry *prometheus.Registry

	SyncRuns         *prometheus.CounterVec
	SyncDuration     prometheus.Histogram
	HarvestPages     *prometheus.CounterVec
	HarvestRecords   *prometheus.CounterVec
	FollowersGauge   *prometheus.GaugeVec
	UnfollowersTotal *prometheus.CounterVec
	SchedulerRetries prometheus.Counter
}

// New creates the collectors and registers them on a dedicated registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		SyncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "followsync_sync_runs_total",
			Help: "Total sync runs by outcome",
		}, []string{"outcome"}),
		SyncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "followsync_sync_duration_seconds",
			Help:    "Sync duration seconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		HarvestPages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "followsync_harvest_pages_total",
			Help: "Upstream page fetches by list and outcome",
		}, []string{"list", "outcome"}),
		HarvestRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "followsync_harvest_records_total",
			Help: "Records received from upstream pages by list",
		}, []string{"list"}),
		FollowersGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "followsync_followers",
			Help: "Follower count of the last accepted snapshot",
		}, []string{"account"}),
		UnfollowersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "followsync_unfollowers_total",
			Help: "Unfollow events recorded",
		}, []string{"account"}),
		SchedulerRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "followsync_scheduler_retries_total",
			Help: "Background sync retry attempts",
		}),
	}

	m.registry.MustRegister(
		m.SyncRuns,
		m.SyncDuration,
		m.HarvestPages,
		m.HarvestRecords,
		m.FollowersGauge,
		m.UnfollowersTotal,
		m.SchedulerRetries,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObservePage counts one page fetch attempt
func (m *Metrics) ObservePage(accountID, list, outcome string, records int) {
	m.HarvestPages.WithLabelValues(list, outcome).Inc()
	if records > 0 {
		m.HarvestRecords.WithLabelValues(list).Add(float64(records))
	}
}

// ObserveSync records a finished sync attempt.
func (m *Metrics) ObserveSync(accountID, outcome string, followers, unfollowers int, took time.Duration) {
	m.SyncRuns.WithLabelValues(outcome).Inc()
	m.SyncDuration.Observe(took.Seconds())

	if outcome == OutcomeSuccess || outcome == OutcomePartial {
		m.FollowersGauge.WithLabelValues(accountID).Set(float64(followers))
		if unfollowers > 0 {
			m.UnfollowersTotal.WithLabelValues(accountID).Add(float64(unfollowers))
		}
	}
}

// IncSchedulerRetry increments the background retry counter
func (m *Metrics) IncSchedulerRetry() { m.SchedulerRetries.Inc() }

// Handler exposes the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
