package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Reasons a transcoder was spawned.
const (
	ReasonStart   = "start"
	ReasonSwitch  = "switch"
	ReasonRestart = "restart"
)

var (
	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "relay",
		Name:      "sessions_active",
		Help:      "Number of connected relay sessions",
	})

	streamsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "relay",
		Name:      "streams_started_total",
		Help:      "Transcoder spawns by reason",
	}, []string{"reason"})

	spawnFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "relay",
		Name:      "spawn_failures_total",
		Help:      "Transcoder spawns that failed",
	})

	streamCrashes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "relay",
		Name:      "stream_crashes_total",
		Help:      "Unexpected transcoder exits and fatal I/O errors",
	})

	restartsExhausted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "relay",
		Name:      "restarts_exhausted_total",
		Help:      "Streams abandoned after the restart bound was reached",
	})

	chunks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "relay",
		Name:      "chunks_total",
		Help:      "Media chunks by outcome (accepted, rejected, written, dropped)",
	}, []string{"outcome"})

	bytesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "relay",
		Name:      "bytes_written_total",
		Help:      "Media bytes written to transcoder stdin",
	})
)

// Chunk outcomes.
const (
	ChunkAccepted = "accepted"
	ChunkRejected = "rejected"
	ChunkWritten  = "written"
	ChunkDropped  = "dropped"
)

// SessionOpened increments the active session gauge.
func SessionOpened() { sessionsActive.Inc() }

// SessionClosed decrements the active session gauge.
func SessionClosed() { sessionsActive.Dec() }

// StreamStarted counts a successful transcoder spawn.
func StreamStarted(reason string) { streamsStarted.WithLabelValues(reason).Inc() }

// SpawnFailed counts a failed transcoder spawn.
func SpawnFailed() { spawnFailures.Inc() }

// StreamCrashed counts an unexpected transcoder exit.
func StreamCrashed() { streamCrashes.Inc() }

// RestartsExhausted counts a stream given up after repeated crashes.
func RestartsExhausted() { restartsExhausted.Inc() }

// ChunksAdd counts n chunks with the given outcome.
func ChunksAdd(outcome string, n int) {
	if n > 0 {
		chunks.WithLabelValues(outcome).Add(float64(n))
	}
}

// BytesWritten counts bytes delivered to a transcoder.
func BytesWritten(n int) {
	if n > 0 {
		bytesWritten.Add(float64(n))
	}
}

// Handler returns the Prometheus metrics HTTP handler.
// This collects all promauto-registered metrics automatically.
func Handler() http.Handler {
	return promhttp.Handler()
}
