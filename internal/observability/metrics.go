// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the engine.
type Metrics struct {
	// Backfill metrics
	FetchesTotal        *prometheus.CounterVec
	PagesFetched        prometheus.Counter
	CandlesStored       prometheus.Counter
	FetchLatency        *prometheus.HistogramVec
	CycleBatchSize      prometheus.Gauge
	CyclesTotal         prometheus.Counter
	CheckpointsComplete prometheus.Gauge

	// Live metrics
	LivePools       prometheus.Gauge
	TradesProcessed prometheus.Counter
	BucketsFlushed  prometheus.Counter
	FeedDrops       prometheus.Counter

	// Classifier metrics
	PoolsByTier    *prometheus.GaugeVec
	TierChanges    prometheus.Counter
	StatsBatchErrs prometheus.Counter

	// Gateway metrics
	Subscribers     prometheus.Gauge
	EventsPublished *prometheus.CounterVec
	EventsDropped   prometheus.Counter

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulCycle prometheus.Gauge
	UptimeSeconds       prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "candle_engine"
	}

	return &Metrics{
		// Backfill metrics
		FetchesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backfill",
			Name:      "fetches_total",
			Help:      "Total number of pair fetches by result",
		}, []string{"result"}),
		PagesFetched: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backfill",
			Name:      "pages_fetched_total",
			Help:      "Total number of provider pages fetched",
		}),
		CandlesStored: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backfill",
			Name:      "candles_stored_total",
			Help:      "Total number of candles written by the backfill path",
		}),
		FetchLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backfill",
			Name:      "fetch_latency_seconds",
			Help:      "Provider fetch latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"timeframe"}),
		CycleBatchSize: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "backfill",
			Name:      "cycle_batch_size",
			Help:      "Number of pairs selected in the last scheduling cycle",
		}),
		CyclesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backfill",
			Name:      "cycles_total",
			Help:      "Total number of scheduling cycles run",
		}),
		CheckpointsComplete: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "backfill",
			Name:      "checkpoints_complete",
			Help:      "Number of (pool, timeframe) pairs with complete history",
		}),

		// Live metrics
		LivePools: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "live",
			Name:      "pools",
			Help:      "Number of pools currently on the trade feed",
		}),
		TradesProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "live",
			Name:      "trades_processed_total",
			Help:      "Total number of live trades folded into open buckets",
		}),
		BucketsFlushed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "live",
			Name:      "buckets_flushed_total",
			Help:      "Total number of open buckets persisted on the flush cadence",
		}),
		FeedDrops: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "live",
			Name:      "feed_drops_total",
			Help:      "Total number of trades dropped on full feed buffers",
		}),

		// Classifier metrics
		PoolsByTier: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "classifier",
			Name:      "pools_by_tier",
			Help:      "Number of tracked pools by activity tier",
		}, []string{"tier"}),
		TierChanges: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "classifier",
			Name:      "tier_changes_total",
			Help:      "Total number of tier reassignments",
		}),
		StatsBatchErrs: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "classifier",
			Name:      "stats_batch_errors_total",
			Help:      "Total number of failed pool-stats batches",
		}),

		// Gateway metrics
		Subscribers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "subscribers",
			Help:      "Current number of update-channel subscribers",
		}),
		EventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "events_published_total",
			Help:      "Total number of update events published by kind",
		}, []string{"kind"}),
		EventsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "events_dropped_total",
			Help:      "Total number of events evicted from full subscriber queues",
		}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Health metrics
		LastSuccessfulCycle: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_cycle_timestamp",
			Help:      "Unix timestamp of the last completed scheduling cycle",
		}),
		UptimeSeconds: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "uptime_seconds_total",
			Help:      "Total uptime in seconds",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordFetch records the outcome of one pair fetch.
func RecordFetch(result string) {
	DefaultMetrics.FetchesTotal.WithLabelValues(result).Inc()
}

// RecordPage counts one provider page and the candles it carried.
func RecordPage(candles int) {
	DefaultMetrics.PagesFetched.Inc()
	DefaultMetrics.CandlesStored.Add(float64(candles))
}

// RecordFetchLatency records one provider fetch duration.
func RecordFetchLatency(timeframe string, seconds float64) {
	DefaultMetrics.FetchLatency.WithLabelValues(timeframe).Observe(seconds)
}

// RecordCycle records a completed scheduling cycle and its batch size.
func RecordCycle(batch int, unixSeconds float64) {
	DefaultMetrics.CyclesTotal.Inc()
	DefaultMetrics.CycleBatchSize.Set(float64(batch))
	DefaultMetrics.LastSuccessfulCycle.Set(unixSeconds)
}

// SetLivePools updates the live pool gauge.
func SetLivePools(n int) {
	DefaultMetrics.LivePools.Set(float64(n))
}

// RecordTrade counts one live trade.
func RecordTrade() {
	DefaultMetrics.TradesProcessed.Inc()
}

// RecordTierChange counts one tier reassignment.
func RecordTierChange() {
	DefaultMetrics.TierChanges.Inc()
}

// RecordPublish counts one published update event.
func RecordPublish(kind string) {
	DefaultMetrics.EventsPublished.WithLabelValues(kind).Inc()
}

// RecordEventDropped counts one event evicted from a full subscriber queue.
func RecordEventDropped() {
	DefaultMetrics.EventsDropped.Inc()
}

// AdjustSubscribers moves the subscriber gauge by delta.
func AdjustSubscribers(delta int) {
	DefaultMetrics.Subscribers.Add(float64(delta))
}

// SetTierCount updates the pool count for one activity tier.
func SetTierCount(tier string, n int) {
	DefaultMetrics.PoolsByTier.WithLabelValues(tier).Set(float64(n))
}

// RecordStatsBatchError counts one failed pool-stats batch.
func RecordStatsBatchError() {
	DefaultMetrics.StatsBatchErrs.Inc()
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
