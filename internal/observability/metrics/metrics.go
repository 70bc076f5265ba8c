// Package metrics exposes prometheus instrumentation for the alert engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "alertd"

// Sweep kinds for the duration histogram.
const (
	SweepScan     = "scan"
	SweepRecovery = "recovery"
	SweepRetry    = "retry"
)

// AlertingMetrics holds the engine's collectors. A nil *AlertingMetrics is
// valid and records nothing.
type AlertingMetrics struct {
	registry *prometheus.Registry

	rulesEvaluated   prometheus.Counter
	ruleFailures     *prometheus.CounterVec
	alertsCreated    *prometheus.CounterVec
	alertsSuppressed prometheus.Counter
	alertsRecovered  prometheus.Counter
	notifications    *prometheus.CounterVec
	notifyRetries    prometheus.Counter
	eventsDropped    prometheus.Counter
	sweepDuration    *prometheus.HistogramVec
}

// NewAlertingMetrics creates and registers the engine metrics on a private
// registry that also carries the Go and process collectors.
func NewAlertingMetrics() (*AlertingMetrics, error) {
	reg := prometheus.NewRegistry()
	m := &AlertingMetrics{
		registry: reg,
		rulesEvaluated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "rules_evaluated_total",
			Help: "Rules evaluated by the periodic scan.",
		}),
		ruleFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "rule_failures_total",
			Help: "Rule evaluations that failed, by error category.",
		}, []string{"category"}),
		alertsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "alerts_created_total",
			Help: "Alert records created, by severity.",
		}, []string{"severity"}),
		alertsSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "alerts_suppressed_total",
			Help: "Triggered results suppressed by the quiet period.",
		}),
		alertsRecovered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "alerts_recovered_total",
			Help: "Alert records closed by the recovery sweep.",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "notifications_total",
			Help: "Notification deliveries, by channel and outcome.",
		}, []string{"channel", "outcome"}),
		notifyRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "notification_retries_total",
			Help: "Failed notification lines re-attempted.",
		}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_dropped_total",
			Help: "Alert events dropped because the event bus was full.",
		}),
		sweepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "sweep_duration_seconds",
			Help:    "Duration of scan, recovery and retry sweeps.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"kind"}),
	}

	for _, c := range []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.rulesEvaluated, m.ruleFailures, m.alertsCreated, m.alertsSuppressed,
		m.alertsRecovered, m.notifications, m.notifyRetries, m.eventsDropped,
		m.sweepDuration,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Registry returns the underlying registry.
func (m *AlertingMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the prometheus exposition format.
func (m *AlertingMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *AlertingMetrics) RuleEvaluated() {
	if m == nil {
		return
	}
	m.rulesEvaluated.Inc()
}

func (m *AlertingMetrics) RuleFailed(category string) {
	if m == nil {
		return
	}
	m.ruleFailures.WithLabelValues(category).Inc()
}

func (m *AlertingMetrics) AlertCreated(severity string) {
	if m == nil {
		return
	}
	m.alertsCreated.WithLabelValues(severity).Inc()
}

func (m *AlertingMetrics) AlertSuppressed() {
	if m == nil {
		return
	}
	m.alertsSuppressed.Inc()
}

func (m *AlertingMetrics) AlertRecovered() {
	if m == nil {
		return
	}
	m.alertsRecovered.Inc()
}

// NotificationSent counts one delivery outcome ("success" or "failed").
func (m *AlertingMetrics) NotificationSent(channel string, ok bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "failed"
	}
	m.notifications.WithLabelValues(channel, outcome).Inc()
}

func (m *AlertingMetrics) NotificationRetried() {
	if m == nil {
		return
	}
	m.notifyRetries.Inc()
}

func (m *AlertingMetrics) EventDropped() {
	if m == nil {
		return
	}
	m.eventsDropped.Inc()
}

// ObserveSweep records how long a sweep of the given kind took.
func (m *AlertingMetrics) ObserveSweep(kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.sweepDuration.WithLabelValues(kind).Observe(d.Seconds())
}
