package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "grant_engine"

// Metrics stores Prometheus collectors used by API, sweeper and notification flows.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal        *prometheus.CounterVec
	httpRequestDuration      *prometheus.HistogramVec
	grantTransitionsTotal    *prometheus.CounterVec
	grantIssueRejectedTotal  *prometheus.CounterVec
	subjectsExhaustedTotal   *prometheus.CounterVec
	notificationsSentTotal   *prometheus.CounterVec
	notificationsFailedTotal *prometheus.CounterVec
	notificationSendDuration *prometheus.HistogramVec
	notificationsInflight    prometheus.Gauge
	sweepRunsTotal           *prometheus.CounterVec
	sweepGrantsTotal         *prometheus.CounterVec
	sweepDuration            prometheus.Histogram
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		grantTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "grant_transitions_total",
				Help:      "Total number of grants entering a state, by subject type and state.",
			},
			[]string{"subject_type", "state"},
		),
		grantIssueRejectedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "grant_issue_rejected_total",
				Help:      "Total number of rejected issue attempts by reason.",
			},
			[]string{"reason"},
		),
		subjectsExhaustedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "subjects_exhausted_total",
				Help:      "Total number of subjects whose attempt cycle ended unfulfilled.",
			},
			[]string{"subject_type"},
		),
		notificationsSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_sent_total",
				Help:      "Total number of notifications delivered by template kind.",
			},
			[]string{"kind"},
		),
		notificationsFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_failed_total",
				Help:      "Total number of notifications that could not be delivered.",
			},
			[]string{"kind", "reason"},
		),
		notificationSendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "notification_send_duration_seconds",
				Help:      "Notification send duration in seconds grouped by template kind.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"kind"},
		),
		notificationsInflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "notifications_inflight",
				Help:      "Current number of notifications being delivered.",
			},
		),
		sweepRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sweep_runs_total",
				Help:      "Total number of expiry sweeps by result.",
			},
			[]string{"result"},
		),
		sweepGrantsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sweep_grants_total",
				Help:      "Total number of grants handled by expiry sweeps by outcome.",
			},
			[]string{"outcome"},
		),
		sweepDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sweep_duration_seconds",
				Help:      "Expiry sweep duration in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.grantTransitionsTotal,
		m.grantIssueRejectedTotal,
		m.subjectsExhaustedTotal,
		m.notificationsSentTotal,
		m.notificationsFailedTotal,
		m.notificationSendDuration,
		m.notificationsInflight,
		m.sweepRunsTotal,
		m.sweepGrantsTotal,
		m.sweepDuration,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncGrantTransition(subjectType string, state string) {
	if m == nil {
		return
	}
	m.grantTransitionsTotal.WithLabelValues(normalizeLabel(subjectType), normalizeLabel(state)).Inc()
}

func (m *Metrics) IncIssueRejected(reason string) {
	if m == nil {
		return
	}
	m.grantIssueRejectedTotal.WithLabelValues(normalizeLabel(reason)).Inc()
}

func (m *Metrics) IncSubjectExhausted(subjectType string) {
	if m == nil {
		return
	}
	m.subjectsExhaustedTotal.WithLabelValues(normalizeLabel(subjectType)).Inc()
}

func (m *Metrics) IncNotificationSent(kind string) {
	if m == nil {
		return
	}
	m.notificationsSentTotal.WithLabelValues(normalizeLabel(kind)).Inc()
}

func (m *Metrics) IncNotificationFailed(kind string, reason string) {
	if m == nil {
		return
	}
	m.notificationsFailedTotal.WithLabelValues(normalizeLabel(kind), normalizeLabel(reason)).Inc()
}

func (m *Metrics) ObserveNotificationSendDuration(kind string, duration time.Duration) {
	if m == nil {
		return
	}
	m.notificationSendDuration.WithLabelValues(normalizeLabel(kind)).Observe(nonNegativeSeconds(duration))
}

func (m *Metrics) IncNotificationsInflight() {
	if m == nil {
		return
	}
	m.notificationsInflight.Inc()
}

func (m *Metrics) DecNotificationsInflight() {
	if m == nil {
		return
	}
	m.notificationsInflight.Dec()
}

// ObserveSweep records one sweep run and the per-outcome grant counts.
func (m *Metrics) ObserveSweep(result string, duration time.Duration, outcomes map[string]int) {
	if m == nil {
		return
	}

	m.sweepRunsTotal.WithLabelValues(normalizeLabel(result)).Inc()
	m.sweepDuration.Observe(nonNegativeSeconds(duration))
	for outcome, count := range outcomes {
		if count <= 0 {
			continue
		}
		m.sweepGrantsTotal.WithLabelValues(normalizeLabel(outcome)).Add(float64(count))
	}
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

func nonNegativeSeconds(d time.Duration) float64 {
	if d < 0 {
		return 0
	}
	return d.Seconds()
}
