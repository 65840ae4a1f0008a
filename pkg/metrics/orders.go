package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Ingest outcomes recorded by OrderMetrics.IncSubmitted.
const (
	OutcomeStored   = "stored"
	OutcomeQueued   = "queued"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// OrderMetrics covers order ingestion, the fallback outbox, pending sync and
// the change broadcaster.
type OrderMetrics struct {
	submitted   *prometheus.CounterVec
	degraded    prometheus.Counter
	outboxDepth prometheus.Gauge
	synced      prometheus.Counter
	syncFailed  prometheus.Counter
	subscribers prometheus.Gauge
	dropped     prometheus.Counter
}

// NewOrderMetrics registers the order metrics on the provided registerer. A nil
// registerer yields a no-op recorder.
func NewOrderMetrics(reg prometheus.Registerer) *OrderMetrics {
	if reg == nil {
		return &OrderMetrics{}
	}
	m := &OrderMetrics{
		submitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orders_submitted_total",
			Help: "Order submissions by outcome.",
		}, []string{"outcome"}),
		degraded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "order_number_allocation_degraded_total",
			Help: "Order numbers issued from the time-derived fallback.",
		}),
		outboxDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_depth",
			Help: "Orders waiting in the local fallback queue.",
		}),
		synced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pending_sync_synced_total",
			Help: "Queued orders written to the order store by pending sync.",
		}),
		syncFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pending_sync_failed_total",
			Help: "Queued orders that failed to sync in a drain pass.",
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "broadcast_subscribers",
			Help: "Open order change stream subscribers.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "broadcast_dropped_total",
			Help: "Change events dropped for a slow subscriber.",
		}),
	}
	reg.MustRegister(m.submitted, m.degraded, m.outboxDepth, m.synced, m.syncFailed, m.subscribers, m.dropped)
	return m
}

func (m *OrderMetrics) IncSubmitted(outcome string) {
	if m == nil || m.submitted == nil {
		return
	}
	m.submitted.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *OrderMetrics) IncAllocationDegraded() {
	if m == nil || m.degraded == nil {
		return
	}
	m.degraded.Inc()
}

// SetOutboxDepth satisfies outbox.DepthObserver.
func (m *OrderMetrics) SetOutboxDepth(depth int) {
	if m == nil || m.outboxDepth == nil {
		return
	}
	m.outboxDepth.Set(float64(depth))
}

func (m *OrderMetrics) AddSynced(n int) {
	if m == nil || m.synced == nil || n <= 0 {
		return
	}
	m.synced.Add(float64(n))
}

func (m *OrderMetrics) AddSyncFailed(n int) {
	if m == nil || m.syncFailed == nil || n <= 0 {
		return
	}
	m.syncFailed.Add(float64(n))
}

func (m *OrderMetrics) SubscriberOpened() {
	if m == nil || m.subscribers == nil {
		return
	}
	m.subscribers.Inc()
}

func (m *OrderMetrics) SubscriberClosed() {
	if m == nil || m.subscribers == nil {
		return
	}
	m.subscribers.Dec()
}

func (m *OrderMetrics) IncDropped() {
	if m == nil || m.dropped == nil {
		return
	}
	m.dropped.Inc()
}
