package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hsu_master"

// MasterMetrics holds the collectors exported by one master instance
type MasterMetrics struct {
	registry *prometheus.Registry

	// Master lifecycle
	masterState *prometheus.GaugeVec

	// Unit lifecycle
	unitStatus      *prometheus.GaugeVec
	unitRestarts    *prometheus.CounterVec
	unitTransitions *prometheus.CounterVec

	// Health checks
	healthChecks        *prometheus.CounterVec
	healthCheckDuration *prometheus.HistogramVec

	// Advisory resource limits
	resourceViolations *prometheus.CounterVec

	// Business calls proxied through the master
	unitCalls *prometheus.CounterVec
}

// NewMasterMetrics creates the collectors on a private registry
func NewMasterMetrics() *MasterMetrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &MasterMetrics{
		registry: registry,

		masterState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "state",
			Help:      "Current master state (1 for the active state, 0 otherwise)",
		}, []string{"state"}),

		unitStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "unit",
			Name:      "status",
			Help:      "Current unit status (1 for the active status, 0 otherwise)",
		}, []string{"unit", "status"}),
		unitRestarts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "unit",
			Name:      "restarts_total",
			Help:      "Total number of unit process restarts by reason",
		}, []string{"unit", "reason"}),
		unitTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "unit",
			Name:      "transitions_total",
			Help:      "Total number of unit status transitions",
		}, []string{"unit", "from", "to"}),

		healthChecks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "checks_total",
			Help:      "Total number of unit health checks by result",
		}, []string{"unit", "result"}),
		healthCheckDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "check_duration_seconds",
			Help:      "Unit health check duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"unit"}),

		resourceViolations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resources",
			Name:      "violations_total",
			Help:      "Total number of advisory resource limit violations",
		}, []string{"unit", "limit", "severity"}),

		unitCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "unit",
			Name:      "calls_total",
			Help:      "Total number of business calls proxied to units by result",
		}, []string{"unit", "result"}),
	}
}

func (m *MasterMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *MasterMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *MasterMetrics) SetMasterState(previous, current string) {
	if previous != "" {
		m.masterState.WithLabelValues(previous).Set(0)
	}
	m.masterState.WithLabelValues(current).Set(1)
}

// SetUnitStatus records a status transition; previous is empty on registration
func (m *MasterMetrics) SetUnitStatus(unit, previous, current string) {
	if previous != "" {
		m.unitStatus.WithLabelValues(unit, previous).Set(0)
		m.unitTransitions.WithLabelValues(unit, previous, current).Inc()
	}
	m.unitStatus.WithLabelValues(unit, current).Set(1)
}

// RemoveUnit drops every series labelled with unit
func (m *MasterMetrics) RemoveUnit(unit string) {
	labels := prometheus.Labels{"unit": unit}
	m.unitStatus.DeletePartialMatch(labels)
	m.unitRestarts.DeletePartialMatch(labels)
	m.unitTransitions.DeletePartialMatch(labels)
	m.healthChecks.DeletePartialMatch(labels)
	m.healthCheckDuration.DeletePartialMatch(labels)
	m.resourceViolations.DeletePartialMatch(labels)
	m.unitCalls.DeletePartialMatch(labels)
}

func (m *MasterMetrics) IncUnitRestarts(unit, reason string) {
	m.unitRestarts.WithLabelValues(unit, reason).Inc()
}

func (m *MasterMetrics) ObserveHealthCheck(unit string, healthy bool, duration time.Duration) {
	result := "success"
	if !healthy {
		result = "failure"
	}
	m.healthChecks.WithLabelValues(unit, result).Inc()
	m.healthCheckDuration.WithLabelValues(unit).Observe(duration.Seconds())
}

func (m *MasterMetrics) IncResourceViolation(unit, limit, severity string) {
	m.resourceViolations.WithLabelValues(unit, limit, severity).Inc()
}

func (m *MasterMetrics) IncUnitCalls(unit string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	m.unitCalls.WithLabelValues(unit, result).Inc()
}
