package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "brokerd"

// Metrics holds every collector the daemon exports.
type Metrics struct {
	BlockOrders      *prometheus.CounterVec
	MarketEvents     *prometheus.CounterVec
	OrderbookSynced  *prometheus.GaugeVec
	IndexRebuilds    *prometheus.CounterVec
	IndexFailures    *prometheus.CounterVec
	FeedSubscribers  *prometheus.GaugeVec
	ChildTransitions *prometheus.CounterVec
	RPCDuration      *prometheus.HistogramVec
	OutboxPublished  *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BlockOrders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "block_orders_total",
			Help:      "Block order status changes by resulting status.",
		}, []string{"status"}),
		MarketEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "market_events_total",
			Help:      "Market events appended to the event log.",
		}, []string{"market", "type"}),
		OrderbookSynced: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "orderbook_synced",
			Help:      "1 when the orderbook is in sync with the relayer.",
		}, []string{"market"}),
		IndexRebuilds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_rebuilds_total",
			Help:      "Successful derived index rebuilds.",
		}, []string{"index"}),
		IndexFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_failures_total",
			Help:      "Derived index projection or verification failures.",
		}, []string{"index"}),
		FeedSubscribers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feed_subscribers",
			Help:      "Active live orderbook subscriptions.",
		}, []string{"market"}),
		ChildTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Order and fill state machine transitions.",
		}, []string{"machine", "transition", "outcome"}),
		RPCDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rpc_duration_seconds",
			Help:      "gRPC handler latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "code"}),
		OutboxPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_published_total",
			Help:      "Block order notifications handed to Kafka.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		m.BlockOrders,
		m.MarketEvents,
		m.OrderbookSynced,
		m.IndexRebuilds,
		m.IndexFailures,
		m.FeedSubscribers,
		m.ChildTransitions,
		m.RPCDuration,
		m.OutboxPublished,
	)
	return m
}

// Nop returns collectors registered nowhere.
func Nop() *Metrics {
	return New(prometheus.NewRegistry())
}

func (m *Metrics) IndexRebuilt(name string) {
	m.IndexRebuilds.WithLabelValues(name).Inc()
}

func (m *Metrics) IndexFailed(name string) {
	m.IndexFailures.WithLabelValues(name).Inc()
}
