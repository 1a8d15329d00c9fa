// internal/metrics/metrics.go
package metrics

import (
	"time"

	xerrors "netbill-service/internal/pkg/errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects reconciliation, router and payment counters.
type Metrics struct {
	actions      *prometheus.CounterVec
	failures     *prometheus.CounterVec
	passDuration *prometheus.HistogramVec
	passes       *prometheus.CounterVec
	routerCalls  *prometheus.CounterVec
	routerTime   *prometheus.HistogramVec
	payments     *prometheus.CounterVec
	jobsSkipped  *prometheus.CounterVec
}

func New(registry *prometheus.Registry) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		actions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reconcile_actions_total",
				Help: "Subscriber actions applied by reconcile passes",
			},
			[]string{"mode", "action"},
		),
		failures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reconcile_failures_total",
				Help: "Per-subscriber reconcile failures by error kind",
			},
			[]string{"mode", "kind"},
		),
		passDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reconcile_pass_duration_seconds",
				Help:    "Duration of reconcile passes",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
			},
			[]string{"mode"},
		),
		passes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reconcile_passes_total",
				Help: "Reconcile passes by outcome",
			},
			[]string{"mode", "outcome"},
		),
		routerCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "router_api_calls_total",
				Help: "RouterOS API calls by command and result",
			},
			[]string{"command", "result"},
		),
		routerTime: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "router_api_call_duration_seconds",
				Help:    "RouterOS API call latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"command"},
		),
		payments: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payments_status_total",
				Help: "Payment notifications by resulting status",
			},
			[]string{"status"},
		),
		jobsSkipped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scheduler_jobs_skipped_total",
				Help: "Scheduled job runs skipped because another run held the lock",
			},
			[]string{"job"},
		),
	}
}

func (m *Metrics) ObserveAction(mode, action string) {
	m.actions.WithLabelValues(mode, action).Inc()
}

func (m *Metrics) ObserveFailure(mode string, err error) {
	m.failures.WithLabelValues(mode, xerrors.Kind(err)).Inc()
}

func (m *Metrics) ObservePass(mode string, elapsed time.Duration, err error) {
	m.passDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.passes.WithLabelValues(mode, outcome).Inc()
}

func (m *Metrics) ObserveRouterCall(command string, err error, elapsed time.Duration) {
	m.routerCalls.WithLabelValues(command, xerrors.Kind(err)).Inc()
	m.routerTime.WithLabelValues(command).Observe(elapsed.Seconds())
}

func (m *Metrics) ObservePayment(status string) {
	m.payments.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveJobSkipped(job string) {
	m.jobsSkipped.WithLabelValues(job).Inc()
}
