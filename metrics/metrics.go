// Package metrics provides Prometheus instrumentation for zones, services and
// cleanup registries.
//
// A nil *Metrics is valid and records nothing, so components accept an
// optional *Metrics and call its methods unconditionally:
//
//	m := metrics.New(prometheus.NewRegistry())
//	tracker := zone.NewTracker(sched, zone.WithMetrics(m))
//
//	// Without metrics (zero overhead)
//	tracker := zone.NewTracker(sched)
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors of one registry.
type Metrics struct {
	zonesOpened       prometheus.Counter
	zonesClosed       prometheus.Counter
	zonesActive       prometheus.Gauge
	liveUnits         prometheus.Gauge
	leaks             prometheus.Counter
	isolations        *prometheus.CounterVec
	isolationDuration prometheus.Histogram
	instantiations    *prometheus.CounterVec
	destroys          *prometheus.CounterVec
	cleanupFailures   prometheus.Counter
}

// New registers the collectors on reg and returns them. A nil reg yields a
// nil *Metrics.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}
	f := promauto.With(reg)

	return &Metrics{
		zonesOpened: f.NewCounter(prometheus.CounterOpts{
			Name: "zoned_zones_opened_total",
			Help: "Total number of zones opened",
		}),
		zonesClosed: f.NewCounter(prometheus.CounterOpts{
			Name: "zoned_zones_closed_total",
			Help: "Total number of zones whose last async unit was destroyed",
		}),
		zonesActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "zoned_zones_active",
			Help: "Number of zones with live async units",
		}),
		liveUnits: f.NewGauge(prometheus.GaugeOpts{
			Name: "zoned_async_units_live",
			Help: "Number of tracked async units not yet destroyed",
		}),
		leaks: f.NewCounter(prometheus.CounterOpts{
			Name: "zoned_zone_leaks_total",
			Help: "Isolations torn down while async units tagged with their zone were still live",
		}),
		isolations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "zoned_isolations_total",
			Help: "Total number of isolations by outcome",
		}, []string{"outcome"}), // "ok", "error", "panic"
		isolationDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name: "zoned_isolation_duration_seconds",
			Help: "Duration of isolations from start to teardown check",
			Buckets: []float64{
				0.001, // 1ms
				0.005,
				0.01,
				0.05,
				0.1,
				0.5,
				1,
				5,
				30, // long running scopes
			},
		}),
		instantiations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "zoned_service_instantiations_total",
			Help: "Total number of service instances created, by service",
		}, []string{"service"}),
		destroys: f.NewCounterVec(prometheus.CounterOpts{
			Name: "zoned_service_destroys_total",
			Help: "Total number of service instances destroyed, by service",
		}, []string{"service"}),
		cleanupFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "zoned_cleanup_failures_total",
			Help: "Total number of cleanup callbacks that panicked",
		}),
	}
}

// ZoneOpened records a new zone.
func (m *Metrics) ZoneOpened() {
	if m == nil {
		return
	}
	m.zonesOpened.Inc()
	m.zonesActive.Inc()
}

// ZoneClosed records a zone whose last unit went away.
func (m *Metrics) ZoneClosed() {
	if m == nil {
		return
	}
	m.zonesClosed.Inc()
	m.zonesActive.Dec()
}

// UnitCreated records a new tracked unit.
func (m *Metrics) UnitCreated() {
	if m == nil {
		return
	}
	m.liveUnits.Inc()
}

// UnitDestroyed records a destroyed unit.
func (m *Metrics) UnitDestroyed() {
	if m == nil {
		return
	}
	m.liveUnits.Dec()
}

// Leak records an isolation torn down with pending units.
func (m *Metrics) Leak() {
	if m == nil {
		return
	}
	m.leaks.Inc()
}

// Isolation records a finished isolation.
func (m *Metrics) Isolation(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.isolations.WithLabelValues(outcome).Inc()
	m.isolationDuration.Observe(d.Seconds())
}

// Instantiated records a new instance of service.
func (m *Metrics) Instantiated(service string) {
	if m == nil {
		return
	}
	m.instantiations.WithLabelValues(service).Inc()
}

// Destroyed records a destroyed instance of service.
func (m *Metrics) Destroyed(service string) {
	if m == nil {
		return
	}
	m.destroys.WithLabelValues(service).Inc()
}

// CleanupFailures adds n failed cleanup callbacks.
func (m *Metrics) CleanupFailures(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.cleanupFailures.Add(float64(n))
}
