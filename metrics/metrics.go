// Package metrics exposes engine activity as Prometheus metrics on a private
// registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "riskengine"

type Recorder struct {
	reg *prometheus.Registry

	guardRejections *prometheus.CounterVec
	orders          *prometheus.CounterVec
	stopMods        *prometheus.CounterVec
	sizingFailures  *prometheus.CounterVec
	cycleDuration   prometheus.Histogram
	equity          prometheus.Gauge
}

// New builds a Recorder. Process and Go runtime collectors are included when
// withRuntime is set.
func New(withRuntime bool) *Recorder {
	r := &Recorder{
		reg: prometheus.NewRegistry(),

		guardRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "guard_rejections_total",
				Help:      "Entries vetoed by the guard chain",
			},
			[]string{"strategy", "instrument", "reason"},
		),
		orders: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "orders_total",
				Help:      "Order, close and modify requests by venue outcome",
			},
			[]string{"strategy", "instrument", "outcome"},
		),
		stopMods: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stop_modifications_total",
				Help:      "Break-even and trailing stop modifications",
			},
			[]string{"instrument", "kind", "outcome"},
		),
		sizingFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sizing_failures_total",
				Help:      "Entries dropped because no valid volume fit the limits",
			},
			[]string{"strategy", "instrument"},
		),
		cycleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "cycle_duration_seconds",
				Help:      "Time to process every pair once",
				Buckets:   prometheus.DefBuckets,
			},
		),
		equity: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "equity",
				Help:      "Account equity at the last refresh",
			},
		),
	}

	r.reg.MustRegister(
		r.guardRejections,
		r.orders,
		r.stopMods,
		r.sizingFailures,
		r.cycleDuration,
		r.equity,
	)
	if withRuntime {
		r.reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return r
}

func (r *Recorder) Registry() *prometheus.Registry {
	return r.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

func (r *Recorder) GuardRejected(strategy, instrument, reason string) {
	r.guardRejections.WithLabelValues(strategy, instrument, reason).Inc()
}

func (r *Recorder) Order(strategy, instrument, outcome string) {
	r.orders.WithLabelValues(strategy, instrument, outcome).Inc()
}

func (r *Recorder) StopModified(instrument, kind, outcome string) {
	r.stopMods.WithLabelValues(instrument, kind, outcome).Inc()
}

func (r *Recorder) SizingFailed(strategy, instrument string) {
	r.sizingFailures.WithLabelValues(strategy, instrument).Inc()
}

func (r *Recorder) ObserveCycle(d time.Duration) {
	r.cycleDuration.Observe(d.Seconds())
}

func (r *Recorder) SetEquity(v float64) {
	r.equity.Set(v)
}
