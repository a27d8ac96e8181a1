// Package metrics exposes the scanner's Prometheus instrumentation: chunk
// outcomes, retries, persisted events and cursor height.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder bundles the counters/gauges that the Scanner, LogFetcher and
// scan.Service update as they work.
type Recorder struct {
	ChunksTotal          *prometheus.CounterVec
	RetriesTotal         *prometheus.CounterVec
	EventsPersistedTotal *prometheus.CounterVec
	CursorHeight         *prometheus.GaugeVec
}

// NewRecorder registers the scanner's metrics against reg. Pass
// prometheus.DefaultRegisterer from callers that want the default /metrics
// handler to pick them up.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		ChunksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chainsweep",
			Name:      "chunks_total",
			Help:      "Chunks processed by outcome (succeeded, failed).",
		}, []string{"contract", "outcome"}),
		RetriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chainsweep",
			Name:      "log_query_retries_total",
			Help:      "Log query retry attempts due to oversized responses or timeouts.",
		}, []string{"contract"}),
		EventsPersistedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chainsweep",
			Name:      "events_persisted_total",
			Help:      "Decoded events handed to the ProgressStore.",
		}, []string{"contract", "event"}),
		CursorHeight: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "chainsweep",
			Name:      "cursor_height",
			Help:      "Last durably advanced scan cursor height per contract.",
		}, []string{"contract"}),
	}
}

// Handler returns the HTTP handler the API surface mounts at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
