package sessionlog

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "seqlog"

// Metrics are the buffer's Prometheus collectors
type Metrics struct {
	EntriesReceived       prometheus.Counter
	LinesWritten          prometheus.Counter
	DuplicatesDropped     prometheus.Counter
	AppendFailures        prometheus.Counter
	CleanupFailures       prometheus.Counter
	EvictedEntries        prometheus.Counter
	SessionsEvicted       prometheus.Counter
	SecondarySinkFailures prometheus.Counter
	SessionsActive        prometheus.Gauge
	EntriesPending        prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered, which keeps tests isolated.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      name,
			Help:      help,
		})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      name,
			Help:      help,
		})
	}

	return &Metrics{
		EntriesReceived:       counter("entries_received_total", "Log entries accepted into session buffers"),
		LinesWritten:          counter("lines_written_total", "Lines appended to the primary session sink"),
		DuplicatesDropped:     counter("duplicates_dropped_total", "Entries discarded because their sequence was already persisted"),
		AppendFailures:        counter("append_failures_total", "Failed primary sink appends; the entry stays pending"),
		CleanupFailures:       counter("cleanup_failures_total", "First-sight cleanup runs that returned an error"),
		EvictedEntries:        counter("evicted_entries_total", "Pending entries dropped by session eviction"),
		SessionsEvicted:       counter("sessions_evicted_total", "Session buffers evicted"),
		SecondarySinkFailures: counter("secondary_sink_failures_total", "Failed appends to secondary sinks"),
		SessionsActive:        gauge("sessions_active", "Session buffers held in memory"),
		EntriesPending:        gauge("entries_pending", "Entries waiting for a missing lower sequence"),
	}
}
