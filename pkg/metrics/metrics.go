// Package metrics exposes plotter execution metrics in Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/phoenix-pocx/phoenixd/pkg/plan"
	"github.com/phoenix-pocx/phoenixd/pkg/plotter"
)

const namespace = "phoenixd"

// Outcome label values.
const (
	outcomeSuccess = "success"
	outcomeFailed  = "failed"
	outcomeAborted = "aborted"
)

// Metrics holds the collectors of one daemon. Each instance owns an
// independent registry so tests and multiple servers never collide.
type Metrics struct {
	registry *prometheus.Registry

	items     *prometheus.CounterVec
	units     prometheus.Counter
	durations *prometheus.HistogramVec
}

// New creates metrics bound to rt. State gauges are sampled at scrape time.
func New(rt *plotter.Runtime) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "plotter",
			Name:      "items_completed_total",
			Help:      "Plan items completed, by item type and outcome.",
		}, []string{"type", "outcome"}),
		units: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "plotter",
			Name:      "units_produced_total",
			Help:      "Capacity units written by successful items.",
		}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "plotter",
			Name:      "item_duration_seconds",
			Help:      "Wall time of completed items.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		}, []string{"type"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.items,
		m.units,
		m.durations,
	)

	if rt != nil {
		reg.MustRegister(
			gaugeFunc("running", "1 while an execution unit is in flight.", func() float64 {
				return boolGauge(rt.IsRunning())
			}),
			gaugeFunc("current_index", "Index of the next plan item.", func() float64 {
				return float64(rt.CurrentIndex())
			}),
			gaugeFunc("plan_items", "Items in the installed plan.", func() float64 {
				return float64(rt.Plan().Len())
			}),
			gaugeFunc("progress_percent", "Progress of the execution unit in flight.", func() float64 {
				return rt.Progress().Percent
			}),
			gaugeFunc("speed_mib_per_second", "Latest write throughput estimate.", func() float64 {
				return rt.Progress().SpeedMiBs
			}),
			gaugeFunc("soft_stop_requested", "1 while a soft stop is pending.", func() float64 {
				return boolGauge(rt.StopMode() == plan.StopSoft)
			}),
			gaugeFunc("hard_stop_requested", "1 while a hard stop is pending.", func() float64 {
				return boolGauge(rt.StopMode() == plan.StopHard)
			}),
		)
	}
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the /metrics scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Notify implements plotter.Sink.
func (m *Metrics) Notify(n plotter.Notification) {
	outcome := outcomeSuccess
	switch {
	case n.Aborted:
		outcome = outcomeAborted
	case !n.Success:
		outcome = outcomeFailed
	}
	m.items.WithLabelValues(string(n.Type), outcome).Inc()
	m.durations.WithLabelValues(string(n.Type)).Observe(float64(n.DurationMs) / 1000)
	if n.Success {
		m.units.Add(float64(n.UnitsProduced))
	}
}

func gaugeFunc(name, help string, fn func() float64) prometheus.GaugeFunc {
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "plotter",
		Name:      name,
		Help:      help,
	}, fn)
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
