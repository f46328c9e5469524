package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the offer router.
type Metrics struct {
	// Tracking metrics
	Clicks         *prometheus.CounterVec
	ClicksRejected *prometheus.CounterVec
	Impressions    *prometheus.CounterVec

	// Conversion metrics
	Conversions       *prometheus.CounterVec
	ConversionReplays prometheus.Counter
	Revenue           *prometheus.CounterVec

	// EPC / dashboard metrics
	EPCRecomputeLatency prometheus.Histogram
	DashboardLatency    prometheus.Histogram
	RankingFallbacks    prometheus.Counter

	// Rate limiting metrics
	RateLimitHits *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		Clicks: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "clicks_total",
				Help:      "Total click events written to the ledger",
			},
			[]string{"offer_id", "status"},
		),
		ClicksRejected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "clicks_rejected_total",
				Help:      "Click requests rejected before any write",
			},
			[]string{"reason"},
		),
		Impressions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "impressions_total",
				Help:      "Question impressions recorded",
			},
			[]string{"question_id"},
		),
		Conversions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conversions_total",
				Help:      "Conversions applied (first writer only)",
			},
			[]string{"offer_id"},
		),
		ConversionReplays: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conversion_replays_total",
				Help:      "Duplicate conversion calls absorbed idempotently",
			},
		),
		Revenue: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "revenue_total",
				Help:      "Revenue recorded at conversion time",
			},
			[]string{"offer_id"},
		),
		EPCRecomputeLatency: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "epc_recompute_seconds",
				Help:      "Latency of windowed EPC recomputation",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
		),
		DashboardLatency: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dashboard_query_seconds",
				Help:      "Latency of full dashboard aggregation",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
		),
		RankingFallbacks: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ranking_fallbacks_total",
				Help:      "Ranked orderings abandoned for static order",
			},
		),
		RateLimitHits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_hits_total",
				Help:      "Requests rejected by rate limiting",
			},
			[]string{"endpoint"},
		),
	}
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordClick increments click counters. All recorders are nil-safe
// so services can run without metrics wired.
func (m *Metrics) RecordClick(offerID, status string) {
	if m == nil {
		return
	}
	m.Clicks.WithLabelValues(offerID, status).Inc()
}

// RecordRejectedClick counts a click rejected before any write.
func (m *Metrics) RecordRejectedClick(reason string) {
	if m == nil {
		return
	}
	m.ClicksRejected.WithLabelValues(reason).Inc()
}

// RecordImpression counts a question impression.
func (m *Metrics) RecordImpression(questionID string) {
	if m == nil {
		return
	}
	m.Impressions.WithLabelValues(questionID).Inc()
}

// RecordConversion counts an applied conversion and its revenue.
func (m *Metrics) RecordConversion(offerID string, revenue float64) {
	if m == nil {
		return
	}
	m.Conversions.WithLabelValues(offerID).Inc()
	if revenue > 0 {
		m.Revenue.WithLabelValues(offerID).Add(revenue)
	}
}

// RecordConversionReplay counts an idempotent duplicate call.
func (m *Metrics) RecordConversionReplay() {
	if m == nil {
		return
	}
	m.ConversionReplays.Inc()
}

// ObserveEPCRecompute records one recompute duration.
func (m *Metrics) ObserveEPCRecompute(d time.Duration) {
	if m == nil {
		return
	}
	m.EPCRecomputeLatency.Observe(d.Seconds())
}

// ObserveDashboardQuery records one dashboard aggregation duration.
func (m *Metrics) ObserveDashboardQuery(d time.Duration) {
	if m == nil {
		return
	}
	m.DashboardLatency.Observe(d.Seconds())
}

// RecordRankingFallback counts a full static-order fallback.
func (m *Metrics) RecordRankingFallback() {
	if m == nil {
		return
	}
	m.RankingFallbacks.Inc()
}

// RecordRateLimitHit counts a rate-limited request.
func (m *Metrics) RecordRateLimitHit(endpoint string) {
	if m == nil {
		return
	}
	m.RateLimitHits.WithLabelValues(endpoint).Inc()
}
