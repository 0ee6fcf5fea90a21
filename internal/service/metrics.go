package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "custody_ledger"

// Metrics holds the ledger's prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	webhookDeliveries *prometheus.CounterVec
	depositsCredited  *prometheus.CounterVec
	refunds           *prometheus.CounterVec
	queueDrops        *prometheus.CounterVec
	redeliveries      *prometheus.CounterVec
	priceQuotes       *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		webhookDeliveries: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "webhook",
				Name:      "deliveries_total",
				Help:      "Inbound provider deliveries by outcome.",
			},
			[]string{"status"},
		),
		depositsCredited: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "deposit",
				Name:      "credited_total",
				Help:      "Deposit charges credited to a balance, by asset.",
			},
			[]string{"asset"},
		),
		refunds: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "ledger",
				Name:      "withdrawal_refunds_total",
				Help:      "Compensating withdrawal refunds by result.",
			},
			[]string{"result"},
		),
		queueDrops: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "queue",
				Name:      "dropped_total",
				Help:      "Items dropped because an in-process queue was full.",
			},
			[]string{"queue"},
		),
		redeliveries: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "webhook",
				Name:      "redeliveries_total",
				Help:      "Internal redelivery attempts by final result.",
			},
			[]string{"result"},
		),
		priceQuotes: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "prices",
				Name:      "quotes_total",
				Help:      "USD quotes served by source.",
			},
			[]string{"source"},
		),
	}
}

func (m *Metrics) ObserveDelivery(status string) {
	if m == nil {
		return
	}
	m.webhookDeliveries.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveCredit(asset string) {
	if m == nil {
		return
	}
	m.depositsCredited.WithLabelValues(asset).Inc()
}

func (m *Metrics) ObserveRefund(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.refunds.WithLabelValues("error").Inc()
		return
	}
	m.refunds.WithLabelValues("ok").Inc()
}

func (m *Metrics) ObserveDrop(queue string) {
	if m == nil {
		return
	}
	m.queueDrops.WithLabelValues(queue).Inc()
}

func (m *Metrics) ObserveRedelivery(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.redeliveries.WithLabelValues("exhausted").Inc()
		return
	}
	m.redeliveries.WithLabelValues("ok").Inc()
}

func (m *Metrics) ObserveQuote(source string) {
	if m == nil {
		return
	}
	m.priceQuotes.WithLabelValues(source).Inc()
}
