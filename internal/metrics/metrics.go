// Package metrics is internal instrumentation only: counters and gauges
// the crawler's components update as they run. Nothing in this package
// ever serves an HTTP endpoint — the statistics API is an external
// collaborator's concern, out of scope per spec §1.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry is a private collector registry. Keeping it private (never
// registered with prometheus.DefaultRegisterer, never wired to a
// promhttp.Handler) means these metrics are readable only by whatever
// in-process collaborator the caller hands the Registry to.
var Registry = prometheus.NewRegistry()

var (
	// ConversationsTotal counts completed outbound conversations by
	// address type and outcome ("success" or "failure").
	ConversationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "btcrawl",
		Name:      "conversations_total",
		Help:      "Completed outbound conversations by address type and outcome.",
	}, []string{"type", "outcome"})

	// InFlightConversations tracks the current semaphore occupancy.
	InFlightConversations = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "btcrawl",
		Name:      "conversations_in_flight",
		Help:      "Outbound conversations currently holding a scheduler permit.",
	})

	// AddrEntriesIngested counts AddrV2/addr entries seen by the ingest
	// pipeline, by disposition: "kept" (written after dedup) or "dropped"
	// (removed by the timestamp filters). Duplicates removed by dedup are
	// counted in neither.
	AddrEntriesIngested = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "btcrawl",
		Name:      "addr_entries_total",
		Help:      "Discovered address entries observed by the ingest pipeline.",
	}, []string{"disposition"})

	// InboundConnections counts connections accepted by the passive
	// listener, by whether the first frame was a usable version.
	InboundConnections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "btcrawl",
		Name:      "inbound_connections_total",
		Help:      "Connections accepted by the passive listener.",
	}, []string{"outcome"})

	// StoreErrors counts non-fatal store errors by operation, per spec
	// §7's StoreError taxonomy entry.
	StoreErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "btcrawl",
		Name:      "store_errors_total",
		Help:      "Non-fatal peer store errors by operation.",
	}, []string{"operation"})
)

func init() {
	Registry.MustRegister(
		ConversationsTotal,
		InFlightConversations,
		AddrEntriesIngested,
		InboundConnections,
		StoreErrors,
	)
}
