// Package metrics exposes engine activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/cascadebot/internal/domain"
)

// Recorder records trade, cascade and HTTP metrics.
type Recorder struct {
	gatherer prometheus.Gatherer

	trades        *prometheus.CounterVec
	riskRejects   *prometheus.CounterVec
	cascades      *prometheus.CounterVec
	cascadeSteps  prometheus.Histogram
	tradeLatency  *prometheus.HistogramVec
	dailyVolume   *prometheus.GaugeVec
	httpRequests  *prometheus.CounterVec
	httpDurations *prometheus.HistogramVec
}

// New creates a Recorder registered on reg. A nil reg uses a fresh registry,
// which keeps tests independent of the global default.
func New(namespace string, reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Recorder{
		gatherer: reg,
		trades: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "trades_total",
				Help:      "Trade outcomes by pair, direction and result",
			},
			[]string{"pair", "direction", "result"},
		),
		riskRejects: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "risk_violations_total",
				Help:      "Risk rule violations by pair and rule",
			},
			[]string{"pair", "rule"},
		),
		cascades: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cascades_total",
				Help:      "Cascades by final state and success",
			},
			[]string{"state", "success"},
		),
		cascadeSteps: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "cascade_steps",
				Help:      "Number of steps attempted per cascade",
				Buckets:   []float64{1, 2, 3, 4, 5, 8, 13},
			},
		),
		tradeLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "trade_duration_seconds",
				Help:      "Time from trade start to outcome",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"pair"},
		),
		dailyVolume: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pair_daily_volume",
				Help:      "Notional traded today per pair",
			},
			[]string{"pair"},
		),
		httpRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by route, method and status class",
			},
			[]string{"route", "method", "class"},
		),
		httpDurations: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
	}
}

// RecordTrade counts a trade outcome and observes its latency.
func (r *Recorder) RecordTrade(o domain.TradeOutcome, took time.Duration) {
	result := "success"
	if !o.Success {
		result = string(o.ErrorKind)
	}
	r.trades.WithLabelValues(o.PairID, string(o.Direction), result).Inc()
	for _, v := range o.Violations {
		r.riskRejects.WithLabelValues(o.PairID, v).Inc()
	}
	r.tradeLatency.WithLabelValues(o.PairID).Observe(took.Seconds())
}

// RecordCascade counts a finished cascade.
func (r *Recorder) RecordCascade(o domain.CascadeOutcome) {
	success := "false"
	if o.Success {
		success = "true"
	}
	r.cascades.WithLabelValues(string(o.State), success).Inc()
	r.cascadeSteps.Observe(float64(len(o.Steps)))
}

// SetDailyVolume publishes a pair's current daily volume.
func (r *Recorder) SetDailyVolume(pairID string, volume float64) {
	r.dailyVolume.WithLabelValues(pairID).Set(volume)
}

// RecordHTTP records one served request.
func (r *Recorder) RecordHTTP(route, method string, status int, took time.Duration) {
	r.httpRequests.WithLabelValues(route, method, statusClass(status)).Inc()
	r.httpDurations.WithLabelValues(route, method).Observe(took.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}

func statusClass(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
