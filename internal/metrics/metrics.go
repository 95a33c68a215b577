package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the engine's instruments. A nil *Metrics records nothing.
type Metrics struct {
	webhookEvents   *prometheus.CounterVec   // webhook_events_total{outcome}
	webhookDuration prometheus.Histogram     // webhook_processing_seconds
	transitions     *prometheus.CounterVec   // order_transitions_total{from,to}
	stockCalls      *prometheus.CounterVec   // stock_calls_total{op,outcome}
	stockDuration   *prometheus.HistogramVec // stock_call_duration_seconds{op}
	reclaimed       *prometheus.CounterVec   // reclaimer_orders_total{result}
	sweepDuration   prometheus.Histogram     // reclaimer_sweep_seconds
}

func New(reg prometheus.Registerer, namespace string) *Metrics {
	m := &Metrics{
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Payment webhook deliveries by processing outcome.",
		}, []string{"outcome"}),
		webhookDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "webhook_processing_seconds",
			Help:      "Time spent handling a payment webhook delivery.",
			Buckets:   prometheus.DefBuckets,
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_transitions_total",
			Help:      "Committed order status transitions.",
		}, []string{"from", "to"}),
		stockCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stock_calls_total",
			Help:      "Inventory reserve/release calls by outcome.",
		}, []string{"op", "outcome"}),
		stockDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stock_call_duration_seconds",
			Help:      "Latency of inventory calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		reclaimed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reclaimer_orders_total",
			Help:      "Stale orders handled by the reclaimer by result.",
		}, []string{"result"}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reclaimer_sweep_seconds",
			Help:      "Duration of a stale order sweep.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(
		m.webhookEvents, m.webhookDuration, m.transitions,
		m.stockCalls, m.stockDuration, m.reclaimed, m.sweepDuration,
	)
	return m
}

func (m *Metrics) WebhookHandled(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(outcome).Inc()
	m.webhookDuration.Observe(took.Seconds())
}

func (m *Metrics) Transition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) StockCall(op, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.stockCalls.WithLabelValues(op, outcome).Inc()
	m.stockDuration.WithLabelValues(op).Observe(took.Seconds())
}

func (m *Metrics) Reclaimed(result string) {
	if m == nil {
		return
	}
	m.reclaimed.WithLabelValues(result).Inc()
}

func (m *Metrics) SweepDone(took time.Duration) {
	if m == nil {
		return
	}
	m.sweepDuration.Observe(took.Seconds())
}
