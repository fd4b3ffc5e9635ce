package admission

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks admission outcomes and the best effort side effects that
// never surface to callers. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Admissions         *prometheus.CounterVec
	AdmitDuration      prometheus.Histogram
	Compensations      *prometheus.CounterVec
	EmailApprovals     *prometheus.CounterVec
	BestEffortFailures *prometheus.CounterVec
	DomainsWhitelisted prometheus.Counter
	Logins             *prometheus.CounterVec
}

// NewMetrics registers the admission metrics with reg. A nil reg uses the
// default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		Admissions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "admission_registrations_total",
			Help: "Registrations processed, by outcome reason (ok when admitted)",
		}, []string{"reason", "path"}),
		AdmitDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "admission_admit_duration_seconds",
			Help:    "Duration of the admission pipeline",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		Compensations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "admission_compensating_deletes_total",
			Help: "Compensating deletes after a post commit failure, by trigger and result",
		}, []string{"trigger", "result"}),
		EmailApprovals: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "admission_email_approvals_total",
			Help: "Email approval link verifications, by outcome",
		}, []string{"outcome"}),
		BestEffortFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "admission_best_effort_failures_total",
			Help: "Failed notifications and deferred jobs that did not affect results",
		}, []string{"kind"}),
		DomainsWhitelisted: factory.NewCounter(prometheus.CounterOpts{
			Name: "admission_domains_whitelisted_total",
			Help: "Domains added to the whitelist",
		}),
		Logins: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "admission_logins_total",
			Help: "Login attempts, by outcome reason (ok when accepted)",
		}, []string{"reason"}),
	}
}

func (m *Metrics) admitted(reason Reason, byAdmin bool, start time.Time) {
	if m == nil {
		return
	}
	label := string(reason)
	if label == "" {
		label = "ok"
	}
	path := "self"
	if byAdmin {
		path = "admin"
	}
	m.Admissions.WithLabelValues(label, path).Inc()
	m.AdmitDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) compensated(trigger string, err error) {
	if m == nil {
		return
	}
	result := "deleted"
	if err != nil {
		result = "failed"
	}
	m.Compensations.WithLabelValues(trigger, result).Inc()
}

func (m *Metrics) emailApproval(outcome string) {
	if m == nil {
		return
	}
	m.EmailApprovals.WithLabelValues(outcome).Inc()
}

func (m *Metrics) bestEffortFailed(kind string) {
	if m == nil {
		return
	}
	m.BestEffortFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) whitelisted() {
	if m == nil {
		return
	}
	m.DomainsWhitelisted.Inc()
}

func (m *Metrics) login(reason LoginReason) {
	if m == nil {
		return
	}
	label := string(reason)
	if label == "" {
		label = "ok"
	}
	m.Logins.WithLabelValues(label).Inc()
}
