// Package metrics exposes the service's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector the decision engine updates.
type Metrics struct {
	CyclesTotal        prometheus.Counter
	CyclesSkipped      prometheus.Counter
	CycleDuration      prometheus.Histogram
	EntityReadFailures prometheus.Counter
	WeatherPaused      prometheus.Gauge
	WeatherMultiplier  prometheus.Gauge
	ZoneFactor         *prometheus.GaugeVec
	ZonesSkippedTotal  prometheus.Counter
	RunEventsTotal     *prometheus.CounterVec
}

// New registers all collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CyclesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "irrigation_cycles_total",
			Help: "Completed weather/moisture evaluation cycles.",
		}),
		CyclesSkipped: f.NewCounter(prometheus.CounterOpts{
			Name: "irrigation_cycles_skipped_total",
			Help: "Cycles skipped because the previous one was still running.",
		}),
		CycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "irrigation_cycle_duration_seconds",
			Help:    "Wall time of one evaluation cycle.",
			Buckets: prometheus.DefBuckets,
		}),
		EntityReadFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "irrigation_entity_read_failures_total",
			Help: "Hardware entity reads that failed or timed out.",
		}),
		WeatherPaused: f.NewGauge(prometheus.GaugeOpts{
			Name: "irrigation_weather_paused",
			Help: "1 while a weather or manual pause is holding irrigation.",
		}),
		WeatherMultiplier: f.NewGauge(prometheus.GaugeOpts{
			Name: "irrigation_weather_multiplier",
			Help: "Combined weather scale factor from the last evaluation.",
		}),
		ZoneFactor: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "irrigation_zone_combined_factor",
			Help: "Combined weather and moisture factor applied per zone.",
		}, []string{"zone"}),
		ZonesSkippedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "irrigation_zones_skipped_total",
			Help: "Zones excluded from a pass due to soil saturation.",
		}),
		RunEventsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "irrigation_run_events_total",
			Help: "Run history events recorded, by kind.",
		}, []string{"kind"}),
	}
}
