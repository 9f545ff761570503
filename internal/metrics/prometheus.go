// Package metrics exposes simulation and verification counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder records simulation activity.
type Recorder struct {
	gatherer prometheus.Gatherer

	ticksTotal     prometheus.Counter
	tradesTotal    *prometheus.CounterVec
	newsTotal      *prometheus.CounterVec
	crisesTotal    *prometheus.CounterVec
	notifyDropped  *prometheus.CounterVec
	verifications  *prometheus.CounterVec
	lastPrice      *prometheus.GaugeVec
	equity         prometheus.Gauge
	marketState    *prometheus.GaugeVec
	stepDuration   prometheus.Histogram
	verifyDuration prometheus.Histogram
}

// New creates a Recorder registered on a fresh registry.
func New() *Recorder {
	return NewWithRegistry(prometheus.NewRegistry())
}

// NewWithRegistry creates a Recorder registered on reg.
func NewWithRegistry(reg *prometheus.Registry) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		gatherer: reg,
		ticksTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "marketsim_ticks_total",
			Help: "Total number of simulation ticks executed",
		}),
		tradesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketsim_trades_total",
				Help: "Total number of filled orders",
			},
			[]string{"side", "order_type"},
		),
		newsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketsim_news_total",
				Help: "Total number of news effects generated",
			},
			[]string{"category"},
		),
		crisesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketsim_crises_total",
				Help: "Total number of crises started",
			},
			[]string{"type"},
		),
		notifyDropped: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketsim_notifications_dropped_total",
				Help: "Notifications discarded because the send queue was full",
			},
			[]string{"kind"},
		),
		verifications: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketsim_verifications_total",
				Help: "Total number of replay verifications by result code",
			},
			[]string{"code"},
		),
		lastPrice: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "marketsim_last_price",
				Help: "Last simulated price per instrument",
			},
			[]string{"code"},
		),
		equity: f.NewGauge(prometheus.GaugeOpts{
			Name: "marketsim_equity",
			Help: "Current portfolio equity",
		}),
		marketState: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "marketsim_market_state",
				Help: "Global market state indicators",
			},
			[]string{"indicator"},
		),
		stepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "marketsim_step_duration_seconds",
			Help:    "Duration of one simulation step in seconds",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
		verifyDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "marketsim_verify_duration_seconds",
			Help:    "Duration of one replay verification in seconds",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}

// RecordTick records one executed step.
func (r *Recorder) RecordTick(seconds float64) {
	r.ticksTotal.Inc()
	r.stepDuration.Observe(seconds)
}

// RecordTrade records a fill.
func (r *Recorder) RecordTrade(side, orderType string) {
	r.tradesTotal.WithLabelValues(side, orderType).Inc()
}

// RecordNews records a generated news effect.
func (r *Recorder) RecordNews(category string) {
	r.newsTotal.WithLabelValues(category).Inc()
}

// RecordCrisis records a crisis start.
func (r *Recorder) RecordCrisis(kind string) {
	r.crisesTotal.WithLabelValues(kind).Inc()
}

// RecordNotificationDropped records a notification lost to a full queue.
func (r *Recorder) RecordNotificationDropped(kind string) {
	r.notifyDropped.WithLabelValues(kind).Inc()
}

// RecordVerification records a verification outcome.
func (r *Recorder) RecordVerification(code string, seconds float64) {
	r.verifications.WithLabelValues(code).Inc()
	r.verifyDuration.Observe(seconds)
}

// RecordLastPrice records the last price for an instrument.
func (r *Recorder) RecordLastPrice(code string, price float64) {
	r.lastPrice.WithLabelValues(code).Set(price)
}

// RecordEquity records the portfolio value.
func (r *Recorder) RecordEquity(v float64) {
	r.equity.Set(v)
}

// RecordMarketState records trend and volatility.
func (r *Recorder) RecordMarketState(trend, volatility float64) {
	r.marketState.WithLabelValues("trend").Set(trend)
	r.marketState.WithLabelValues("volatility").Set(volatility)
}
