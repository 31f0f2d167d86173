package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "subtrack"

// Metrics is the processing-outcome channel for billing handlers. Webhook
// acknowledgements never depend on it; every method is safe on a nil receiver.
type Metrics struct {
	webhookEvents      *prometheus.CounterVec
	receiptValidations *prometheus.CounterVec
	transitions        *prometheus.CounterVec
	confirmPolls       *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "webhook_events_total",
			Help:      "Stripe webhook events by type and processing outcome.",
		}, []string{"type", "outcome"}),
		receiptValidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "receipt_validations_total",
			Help:      "Apple receipt validations by outcome.",
		}, []string{"outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "subscription_transitions_total",
			Help:      "Subscription record writes by target status and source.",
		}, []string{"status", "source"}),
		confirmPolls: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "entitlement_reads_seconds",
			Help:      "Latency of entitlement reads served to confirmation pollers.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tier"}),
	}

	for _, c := range []prometheus.Collector{m.webhookEvents, m.receiptValidations, m.transitions, m.confirmPolls} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) WebhookProcessed(eventType, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(eventType, outcome).Inc()
}

func (m *Metrics) ReceiptValidated(outcome string) {
	if m == nil {
		return
	}
	m.receiptValidations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SubscriptionTransition(status, source string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(status, source).Inc()
}

func (m *Metrics) EntitlementRead(tier string, seconds float64) {
	if m == nil {
		return
	}
	m.confirmPolls.WithLabelValues(tier).Observe(seconds)
}
