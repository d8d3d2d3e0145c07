// Package metrics provides Prometheus metrics for the oracle engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// FeedQuotesTotal is a counter of normalized quotes produced per feed.
	FeedQuotesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_quotes_total",
			Help: "Total number of normalized quotes per feed source and outcome",
		},
		[]string{"feed", "outcome"},
	)

	// FeedStalenessSeconds is a gauge of the last observed feed age.
	FeedStalenessSeconds = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "feed_staleness_seconds",
			Help: "Age of the last value reported by a feed source",
		},
		[]string{"feed"},
	)

	// AggregationDuration is a histogram of aggregation pass durations.
	AggregationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "aggregation_duration_seconds",
			Help:    "Duration of weighted aggregation passes",
			Buckets: prometheus.DefBuckets,
		},
	)

	// AggregationDegradedTotal counts degraded aggregation results.
	AggregationDegradedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aggregation_degraded_total",
			Help: "Total number of degraded aggregation results by reason",
		},
		[]string{"reason"},
	)

	// FallbackCacheHitsTotal counts aggregations served from the fallback cache.
	FallbackCacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fallback_cache_hits_total",
			Help: "Total number of aggregations served from the fallback cache",
		},
	)

	// TwapWindowsTotal counts completed TWAP windows per pool.
	TwapWindowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "twap_windows_total",
			Help: "Total number of completed TWAP windows per pool",
		},
		[]string{"pool"},
	)

	// PeerResponsesTotal counts remote price responses per chain and outcome.
	PeerResponsesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peer_responses_total",
			Help: "Total number of remote price responses by chain and outcome",
		},
		[]string{"chain", "outcome"},
	)

	// PeerRequestsTotal counts outbound remote read requests per chain.
	PeerRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peer_requests_total",
			Help: "Total number of outbound remote read requests per chain",
		},
		[]string{"chain"},
	)

	// BreakerTripsTotal counts deviation breaker trips.
	BreakerTripsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "breaker_trips_total",
			Help: "Total number of deviation circuit breaker trips",
		},
	)

	// OracleMode is a gauge of the current instance mode (0=uninitialized, 1=producer, 2=consumer).
	OracleMode = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "oracle_mode",
			Help: "Current oracle mode (0=uninitialized, 1=producer, 2=consumer)",
		},
	)

	// LatestPriceTimestamp is a gauge of the last accepted price timestamp.
	LatestPriceTimestamp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "latest_price_timestamp",
			Help: "Unix timestamp of the last accepted local price",
		},
	)

	// HTTPRequestsTotal is a counter of total HTTP requests.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"endpoint", "status"},
	)

	// HTTPRequestDuration is a histogram of HTTP request latencies.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"endpoint"},
	)
)

// Init registers all metrics with the default registry.
func Init() {
	prometheus.MustRegister(
		FeedQuotesTotal,
		FeedStalenessSeconds,
		AggregationDuration,
		AggregationDegradedTotal,
		FallbackCacheHitsTotal,
		TwapWindowsTotal,
		PeerResponsesTotal,
		PeerRequestsTotal,
		BreakerTripsTotal,
		OracleMode,
		LatestPriceTimestamp,
		HTTPRequestsTotal,
		HTTPRequestDuration,
	)
}

// ServeHTTP starts the metrics HTTP server on the given address.
func ServeHTTP(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return server.ListenAndServe()
}

// RecordFeedQuote records the outcome of one adapter fetch.
func RecordFeedQuote(feed string, valid bool) {
	outcome := "valid"
	if !valid {
		outcome = "invalid"
	}
	FeedQuotesTotal.WithLabelValues(feed, outcome).Inc()
}

// RecordFeedStaleness records the observed age of a feed value.
func RecordFeedStaleness(feed string, age time.Duration) {
	FeedStalenessSeconds.WithLabelValues(feed).Set(age.Seconds())
}

// RecordAggregation records the duration of one aggregation pass.
func RecordAggregation(duration time.Duration) {
	AggregationDuration.Observe(duration.Seconds())
}

// RecordDegraded records a degraded aggregation result.
func RecordDegraded(reason string) {
	AggregationDegradedTotal.WithLabelValues(reason).Inc()
}

// RecordPeerResponse records the outcome of one inbound peer response.
func RecordPeerResponse(chain, outcome string) {
	PeerResponsesTotal.WithLabelValues(chain, outcome).Inc()
}

// RecordPeerRequest records one outbound remote read request.
func RecordPeerRequest(chain string) {
	PeerRequestsTotal.WithLabelValues(chain).Inc()
}

// RecordHTTPRequest records an HTTP request with its duration.
func RecordHTTPRequest(endpoint, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}
