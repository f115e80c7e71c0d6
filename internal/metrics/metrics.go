package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	eventsIngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trend_engine",
			Name:      "events_ingested_total",
			Help:      "Content events accepted into aggregation, partitioned by platform.",
		},
		[]string{"platform"},
	)

	eventsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trend_engine",
			Name:      "events_dropped_total",
			Help:      "Events dropped before aggregation (malformed, duplicate, overflow) or scored by the rule fallback instead of the primary oracle (oracle).",
		},
		[]string{"reason"},
	)

	detectorErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trend_engine",
			Name:      "detector_errors_total",
			Help:      "Detector executions skipped due to an isolated failure.",
		},
		[]string{"detector"},
	)

	oracleFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trend_engine",
			Name:      "oracle_failures_total",
			Help:      "Scoring oracle failures, partitioned by platform.",
		},
		[]string{"platform"},
	)

	broadcastDropsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trend_engine",
			Name:      "broadcast_drops_total",
			Help:      "Subscriber deliveries lost to backpressure, partitioned by policy outcome.",
		},
		[]string{"outcome"},
	)

	subscribersGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "trend_engine",
			Name:      "stream_subscribers",
			Help:      "Currently connected stream subscribers.",
		},
	)

	activeTrendsGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "trend_engine",
			Name:      "trend_candidates",
			Help:      "Tracked trend candidates, partitioned by lifecycle state.",
		},
		[]string{"state"},
	)

	tickDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "trend_engine",
			Name:      "tick_seconds",
			Help:      "Pipeline tick latency in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
	)

	tickIntervalSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "trend_engine",
			Name:      "tick_interval_seconds",
			Help:      "Currently scheduled interval between ticks.",
		},
	)
)

// Register attaches trend-engine collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		eventsIngestedTotal,
		eventsDroppedTotal,
		detectorErrorsTotal,
		oracleFailuresTotal,
		broadcastDropsTotal,
		subscribersGauge,
		activeTrendsGauge,
		tickDurationSeconds,
		tickIntervalSeconds,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// Drop reasons used with EventDropped.
const (
	DropMalformed = "malformed"
	DropDuplicate = "duplicate"
	DropOverflow  = "overflow"
	DropOracle    = "oracle"
)

// EventIngested counts an event admitted into aggregation.
func EventIngested(platform string) {
	eventsIngestedTotal.WithLabelValues(platform).Inc()
}

// EventDropped counts an event excluded before aggregation, or one whose
// primary oracle score was lost to the rule fallback (reason oracle).
func EventDropped(reason string) {
	eventsDroppedTotal.WithLabelValues(reason).Inc()
}

// DetectorError counts a detector skipped for one tick.
func DetectorError(detector string) {
	detectorErrorsTotal.WithLabelValues(detector).Inc()
}

// OracleFailure counts a scoring failure for a platform source.
func OracleFailure(platform string) {
	oracleFailuresTotal.WithLabelValues(platform).Inc()
}

// BroadcastDrop counts a backpressure casualty; outcome is "dropped" or "disconnected".
func BroadcastDrop(outcome string) {
	broadcastDropsTotal.WithLabelValues(outcome).Inc()
}

// SetSubscribers records the current subscriber count.
func SetSubscribers(n int) {
	subscribersGauge.Set(float64(n))
}

// SetTrendCandidates records the candidate count for one lifecycle state.
func SetTrendCandidates(state string, n int) {
	activeTrendsGauge.WithLabelValues(state).Set(float64(n))
}

// ObserveTick records a completed tick duration and the next interval.
func ObserveTick(duration, nextInterval time.Duration) {
	if duration < 0 {
		duration = 0
	}
	tickDurationSeconds.Observe(duration.Seconds())
	tickIntervalSeconds.Set(nextInterval.Seconds())
}
