package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// AccountMetrics records registration, login, and mail-dispatch outcomes.
type AccountMetrics struct {
	registrations    *prometheus.CounterVec
	logins           *prometheus.CounterVec
	emails           *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
}

// NewAccountMetrics registers the account metrics on the provided registerer.
func NewAccountMetrics(reg prometheus.Registerer) *AccountMetrics {
	if reg == nil {
		return &AccountMetrics{}
	}
	registrations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "account_registrations_total",
		Help: "Registration attempts by outcome.",
	}, []string{"outcome"})
	logins := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "account_logins_total",
		Help: "Login attempts by outcome.",
	}, []string{"outcome"})
	emails := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mailout_emails_total",
		Help: "Outbox email deliveries by outcome.",
	}, []string{"outcome"})
	dispatchDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mailout_dispatch_duration_seconds",
		Help:    "Per-email outbox dispatch duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})
	reg.MustRegister(registrations, logins, emails, dispatchDuration)
	return &AccountMetrics{
		registrations:    registrations,
		logins:           logins,
		emails:           emails,
		dispatchDuration: dispatchDuration,
	}
}

// IncRegistration increments the registration counter for the given outcome.
func (m *AccountMetrics) IncRegistration(outcome string) {
	if m == nil || m.registrations == nil {
		return
	}
	m.registrations.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// IncLogin increments the login counter for the given outcome.
func (m *AccountMetrics) IncLogin(outcome string) {
	if m == nil || m.logins == nil {
		return
	}
	m.logins.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// IncEmail increments the email delivery counter for the given outcome.
func (m *AccountMetrics) IncEmail(outcome string) {
	if m == nil || m.emails == nil {
		return
	}
	m.emails.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// ObserveDispatch records the send duration of a single email for the mail kind.
func (m *AccountMetrics) ObserveDispatch(kind string, duration time.Duration) {
	if m == nil || m.dispatchDuration == nil {
		return
	}
	m.dispatchDuration.WithLabelValues(normalizeLabel(kind)).Observe(duration.Seconds())
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
