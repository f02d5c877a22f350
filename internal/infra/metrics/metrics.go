package metrics

import (
	"net/http"

	"subscription_split_bot/internal/app"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the reminder pass metrics
type Metrics struct {
	CyclesCreatedTotal  prometheus.Counter
	CyclesArchivedTotal prometheus.Counter
	NotificationsTotal  *prometheus.CounterVec
	ProjectsTotal       *prometheus.CounterVec
	PassDuration        prometheus.Histogram
	PassErrorsTotal     prometheus.Counter

	registry *prometheus.Registry
}

// NewMetrics creates and registers all metrics on registry.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		CyclesCreatedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "split_reminder_cycles_created_total",
			Help: "Total number of billing cycles created",
		}),
		CyclesArchivedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "split_reminder_cycles_archived_total",
			Help: "Total number of billing cycles archived",
		}),
		NotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "split_reminder_notifications_total",
				Help: "Total number of reminder dispatches by outcome",
			},
			[]string{"outcome"},
		),
		ProjectsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "split_reminder_projects_total",
				Help: "Total number of project runs by outcome",
			},
			[]string{"outcome"},
		),
		PassDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "split_reminder_pass_duration_seconds",
			Help:    "Reminder pass duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		PassErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "split_reminder_pass_errors_total",
			Help: "Total number of passes that stopped with an error",
		}),
		registry: registry,
	}

	registry.MustRegister(
		m.CyclesCreatedTotal,
		m.CyclesArchivedTotal,
		m.NotificationsTotal,
		m.ProjectsTotal,
		m.PassDuration,
		m.PassErrorsTotal,
	)
	return m
}

// ObservePass records one finished pass.
func (m *Metrics) ObservePass(s app.PassSummary, err error) {
	m.CyclesCreatedTotal.Add(float64(s.CyclesCreated))
	m.CyclesArchivedTotal.Add(float64(s.CyclesArchived))
	m.NotificationsTotal.WithLabelValues("sent").Add(float64(s.NotificationsSent))
	m.NotificationsTotal.WithLabelValues("failed").Add(float64(s.NotificationsFailed))
	m.ProjectsTotal.WithLabelValues("processed").Add(float64(s.ProjectsProcessed))
	m.ProjectsTotal.WithLabelValues("skipped").Add(float64(s.ProjectsSkipped))
	m.ProjectsTotal.WithLabelValues("failed").Add(float64(s.ProjectsFailed))
	if !s.FinishedAt.IsZero() {
		m.PassDuration.Observe(s.FinishedAt.Sub(s.StartedAt).Seconds())
	}
	if err != nil {
		m.PassErrorsTotal.Inc()
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
