// Package metrics exposes the billing core's prometheus instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics captures sweep and settlement health signals.
type Metrics struct {
	jobRuns     *prometheus.CounterVec
	jobErrors   *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec

	settlements      *prometheus.CounterVec
	invoicesCreated  prometheus.Counter
	subscriptionsEnd prometheus.Counter
	tasksDispatched  *prometheus.CounterVec
	overdueCancelled prometheus.Counter
	activations      prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_scheduler_job_runs_total",
			Help: "Sweep job executions by job name.",
		}, []string{"job"}),
		jobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_scheduler_job_errors_total",
			Help: "Sweep job failures by job name.",
		}, []string{"job"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "billing_scheduler_job_duration_seconds",
			Help:    "Sweep job wall time by job name.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_settlements_total",
			Help: "Invoice settlement attempts by outcome.",
		}, []string{"outcome"}),
		invoicesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "billing_invoices_created_total",
			Help: "Invoices created by subscribe and renewal flows.",
		}),
		subscriptionsEnd: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "billing_subscriptions_ended_total",
			Help: "Subscriptions deactivated by end-of-term or overdue sweeps.",
		}),
		tasksDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_sweep_tasks_dispatched_total",
			Help: "Units of work handed to the task dispatcher by kind.",
		}, []string{"kind"}),
		overdueCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "billing_invoices_cancelled_total",
			Help: "Invoices cancelled by the overdue sweep.",
		}),
		activations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "billing_subscriptions_activated_total",
			Help: "Subscriptions activated on first paid invoice.",
		}),
	}

	reg.MustRegister(
		m.jobRuns,
		m.jobErrors,
		m.jobDuration,
		m.settlements,
		m.invoicesCreated,
		m.subscriptionsEnd,
		m.tasksDispatched,
		m.overdueCancelled,
		m.activations,
	)
	return m
}

// NewNop returns metrics bound to a throwaway registry. Used by tests.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

func (m *Metrics) IncJobRun(job string)   { m.jobRuns.WithLabelValues(job).Inc() }
func (m *Metrics) IncJobError(job string) { m.jobErrors.WithLabelValues(job).Inc() }
func (m *Metrics) ObserveJobDuration(job string, seconds float64) {
	m.jobDuration.WithLabelValues(job).Observe(seconds)
}

func (m *Metrics) IncSettlement(outcome string) { m.settlements.WithLabelValues(outcome).Inc() }
func (m *Metrics) IncInvoiceCreated()           { m.invoicesCreated.Inc() }
func (m *Metrics) IncSubscriptionEnded()        { m.subscriptionsEnd.Inc() }
func (m *Metrics) IncTaskDispatched(kind string) {
	m.tasksDispatched.WithLabelValues(kind).Inc()
}
func (m *Metrics) IncInvoiceCancelled()      { m.overdueCancelled.Inc() }
func (m *Metrics) IncSubscriptionActivated() { m.activations.Inc() }

const (
	SettlementOutcomePaid           = "paid"
	SettlementOutcomeAlreadySettled = "already_settled_or_not_found"
	SettlementOutcomeError          = "error"
)
