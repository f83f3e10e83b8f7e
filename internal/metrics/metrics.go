// Package metrics holds the Prometheus collectors of the indexer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "litup"

// Projection metrics
var (
	// EventsTotal counts projected events by kind and result (applied, skipped).
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Contract events handled by the projector",
		},
		[]string{"kind", "result"},
	)

	// BlocksProcessed counts committed blocks.
	BlocksProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_processed_total",
			Help:      "Blocks committed to the entity store",
		},
	)

	// BlockDuration observes the time to project and commit one block.
	BlockDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "block_duration_seconds",
			Help:      "Time to project and commit one block",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
	)
)

// Sync metrics
var (
	// IndexedBlock is the last committed block number.
	IndexedBlock = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "indexed_block",
			Help:      "Last block committed to the entity store",
		},
	)

	// HeadLag is the distance between the confirmed chain head and the cursor.
	HeadLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "head_lag_blocks",
			Help:      "Confirmed head minus indexed block",
		},
	)

	// RPCErrors counts failed node calls by method.
	RPCErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_errors_total",
			Help:      "Failed JSON-RPC calls to the chain node",
		},
		[]string{"method"},
	)

	// PublishErrors counts entity change messages that could not be published.
	PublishErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "Entity change notifications that failed to publish",
		},
	)
)
