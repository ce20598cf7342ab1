// Package metrics defines the Prometheus collectors both core and shard
// expose, in the teacher's package-level-vars-plus-MustRegister style
// (metrics.go).
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// Shard-side
	NodesConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "telemetry_shard_nodes_connected",
		Help: "Number of node sockets currently attached to this shard.",
	})
	NodeMessagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "telemetry_shard_node_messages_total",
		Help: "Total node telemetry messages decoded.",
	})
	NodeMessagesDroppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "telemetry_shard_node_messages_dropped_total",
		Help: "Node messages dropped, by reason.",
	}, []string{"reason"})
	CoreLinkState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "telemetry_shard_corelink_state",
		Help: "CoreLink connection state: 0=disconnected, 1=connecting, 2=connected.",
	})
	BlockedIPs = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "telemetry_shard_blocked_ips",
		Help: "IPs currently blocked for exceeding the byte-rate budget.",
	})

	// Core-side
	ChainsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "telemetry_core_chains_total",
		Help: "Number of chains currently tracked.",
	})
	NodesTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "telemetry_core_nodes_total",
		Help: "Number of nodes currently tracked across all chains.",
	})
	FeedsConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "telemetry_core_feeds_connected",
		Help: "Number of feed (dashboard) websocket connections currently open.",
	})
	FeedsDisconnectedSlowTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "telemetry_core_feeds_disconnected_slow_total",
		Help: "Feed connections dropped for falling behind their write queue.",
	})
	NodesMutedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "telemetry_core_nodes_muted_total",
		Help: "Nodes muted by core, by reason.",
	}, []string{"reason"})
	LocationLookupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "telemetry_core_location_lookups_total",
		Help: "Geolocation lookups, by outcome.",
	}, []string{"outcome"})

	// Shared
	AggregatorQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "telemetry_aggregator_queue_depth",
		Help: "Pending events waiting on the single aggregator loop.",
	})
)

// Register adds every collector in this package to the default
// registry. Call once at process startup.
func Register() {
	prometheus.MustRegister(
		NodesConnected,
		NodeMessagesTotal,
		NodeMessagesDroppedTotal,
		CoreLinkState,
		BlockedIPs,
		ChainsTotal,
		NodesTotal,
		FeedsConnected,
		FeedsDisconnectedSlowTotal,
		NodesMutedTotal,
		LocationLookupsTotal,
		AggregatorQueueDepth,
	)
}
