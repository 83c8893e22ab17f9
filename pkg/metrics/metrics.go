// Package metrics exposes the engine's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// OrdersPlaced counts accepted orders by side and type.
var OrdersPlaced = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "permex_orders_placed_total",
		Help: "Total number of orders accepted by the engine",
	},
	[]string{"side", "type"},
)

// OrdersRejected counts placement failures by error kind.
var OrdersRejected = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "permex_orders_rejected_total",
		Help: "Total number of order placements rejected",
	},
	[]string{"kind"},
)

// TradesMatched counts executed trades.
var TradesMatched = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "permex_trades_matched_total",
		Help: "Total number of trades produced by the matching engine",
	},
)

// HaltsTriggered counts circuit breaker halts by symbol.
var HaltsTriggered = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "permex_halts_triggered_total",
		Help: "Total number of volatility halts triggered",
	},
	[]string{"symbol"},
)

// BlocksAppended counts audit ledger blocks by event type.
var BlocksAppended = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "permex_ledger_blocks_appended_total",
		Help: "Total number of blocks appended to the audit ledger",
	},
	[]string{"type"},
)

// SettlementSweeps counts deferred settlement sweep runs.
var SettlementSweeps = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "permex_settlement_sweeps_total",
		Help: "Total number of deferred settlement sweeps executed",
	},
)

// TradesSettled counts settled trades by mode (instant/deferred).
var TradesSettled = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "permex_trades_settled_total",
		Help: "Total number of trades settled",
	},
	[]string{"mode"},
)

// OrderLatency records latency distribution for order processing
var OrderLatency = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "permex_order_processing_latency_seconds",
		Help:    "Latency in seconds to process individual orders",
		Buckets: prometheus.DefBuckets,
	},
)

// Register registers every collector on the given registry.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		OrdersPlaced,
		OrdersRejected,
		TradesMatched,
		HaltsTriggered,
		BlocksAppended,
		SettlementSweeps,
		TradesSettled,
		OrderLatency,
	)
}
