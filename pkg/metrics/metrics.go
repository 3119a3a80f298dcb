package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// OrdersProcessed counts deliveries by outcome (confirmed, failed, retried).
var OrdersProcessed = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "swapflow_orders_processed_total",
		Help: "Total number of order deliveries processed by the worker",
	},
	[]string{"outcome"},
)

// DeliveryLatency records the latency of a full delivery attempt.
var DeliveryLatency = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "swapflow_order_delivery_latency_seconds",
		Help:    "Latency in seconds of a single order delivery attempt",
		Buckets: prometheus.DefBuckets,
	},
)

// QueueDepth tracks jobs by queue state (waiting, delayed, active).
var QueueDepth = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "swapflow_queue_depth",
		Help: "Number of jobs currently in each queue state",
	},
	[]string{"state"},
)

// WSSubscriptions tracks live WebSocket order subscriptions in this process.
var WSSubscriptions = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "swapflow_ws_subscriptions",
		Help: "Number of live order subscriptions held by this process",
	},
)

func init() {
	prometheus.MustRegister(OrdersProcessed, DeliveryLatency)
	prometheus.MustRegister(QueueDepth, WSSubscriptions)
}
