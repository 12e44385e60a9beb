// Package metrics holds the Prometheus collectors of the service.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	ModerationActions  *prometheus.CounterVec
	InvitationRequests *prometheus.CounterVec
	Activations        prometheus.Counter
	AccountsClosed     prometheus.Counter
	HTTPResponses      *prometheus.CounterVec
}

// New registers the collectors on reg. Pass prometheus.NewRegistry() in
// tests to keep them isolated.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ModerationActions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "accounts_moderation_actions_total",
			Help: "Moderation actions by action and outcome (applied, denied).",
		}, []string{"action", "outcome"}),
		InvitationRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "accounts_invitation_requests_total",
			Help: "Self-service invitation requests by result.",
		}, []string{"result"}),
		Activations: f.NewCounter(prometheus.CounterOpts{
			Name: "accounts_activations_total",
			Help: "Accounts activated.",
		}),
		AccountsClosed: f.NewCounter(prometheus.CounterOpts{
			Name: "accounts_closed_total",
			Help: "Accounts closed by their owner.",
		}),
		HTTPResponses: f.NewCounterVec(prometheus.CounterOpts{
			Name: "accounts_http_responses_total",
			Help: "HTTP responses by method and status code.",
		}, []string{"method", "code"}),
	}
}

func (m *Metrics) ObserveModeration(action, outcome string) {
	if m == nil {
		return
	}
	m.ModerationActions.WithLabelValues(action, outcome).Inc()
}

func (m *Metrics) ObserveInvitationRequest(result string) {
	if m == nil {
		return
	}
	m.InvitationRequests.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveActivation() {
	if m == nil {
		return
	}
	m.Activations.Inc()
}

func (m *Metrics) ObserveClose() {
	if m == nil {
		return
	}
	m.AccountsClosed.Inc()
}

func (m *Metrics) ObserveHTTP(method string, status int) {
	if m == nil {
		return
	}
	m.HTTPResponses.WithLabelValues(method, strconv.Itoa(status)).Inc()
}
