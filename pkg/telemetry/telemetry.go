// Package telemetry registers the Prometheus instruments for the chat core.
// Metrics land on the default registry and are served by the daemon at
// /metrics.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesAppended counts persisted messages by transcript role.
	MessagesAppended = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "avatarchat_messages_appended_total",
		Help: "Messages persisted to the store, labelled by role.",
	}, []string{"role"})

	// SendErrors counts failed send operations by error kind.
	SendErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "avatarchat_send_errors_total",
		Help: "sendMessage failures, labelled by error kind.",
	}, []string{"kind"})

	// GenerationSeconds observes reply-generation latency.
	GenerationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "avatarchat_generation_seconds",
		Help:    "Latency of reply generation calls.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
	})

	// GenerationFailures counts failed or cancelled generation calls.
	GenerationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "avatarchat_generation_failures_total",
		Help: "Reply generation calls that did not produce a persisted reply.",
	})

	// StreamSubscribers tracks live message-stream subscriptions.
	StreamSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "avatarchat_stream_subscribers",
		Help: "Currently attached message stream subscribers.",
	})

	// EventsDropped counts sink events discarded because the emit queue was
	// full.
	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "avatarchat_events_dropped_total",
		Help: "Fire-and-forget events dropped by the bounded sink queue.",
	})

	// ThreadsDeleted counts completed thread deletions.
	ThreadsDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "avatarchat_threads_deleted_total",
		Help: "Threads deleted, including their message cascade.",
	})

	// OrphanMessagesSwept counts messages removed by the retention sweeper.
	OrphanMessagesSwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "avatarchat_orphan_messages_swept_total",
		Help: "Orphaned messages garbage-collected by the retention sweeper.",
	})
)
