// Package metrics provides Prometheus metrics for coldsnap.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all Prometheus metrics for a coldsnap run.
type Metrics struct {
	// Session Metrics
	SessionsTotal         *prometheus.CounterVec
	SessionDuration       *prometheus.HistogramVec
	SessionChunksSent     *prometheus.CounterVec
	SessionBytesSent      *prometheus.CounterVec
	SessionChunksLinked   prometheus.Counter
	SessionChunksZeroHole prometheus.Counter

	// Dedup Metrics
	DedupHitsTotal   prometheus.Counter
	DedupMissesTotal prometheus.Counter
	DedupIndexSize   prometheus.Gauge

	// Merge (prune) Metrics
	MergeRunsTotal      *prometheus.CounterVec
	MergeDuration       prometheus.Histogram
	MergeSessionsPruned prometheus.Counter

	// Verify/Receive Metrics
	VerifyRunsTotal      *prometheus.CounterVec
	VerifyMismatchsTotal prometheus.Counter

	// Rotator Metrics
	RotatorStateTransitions *prometheus.CounterVec

	// Transport Metrics
	TransportCommandsTotal   *prometheus.CounterVec
	TransportCommandDuration *prometheus.HistogramVec

	// Lock Metrics
	LockAcquireAttempts *prometheus.CounterVec
	LockHeldDuration    prometheus.Histogram
}

const namespace = "coldsnap"

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	m := &Metrics{
		SessionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "runs_total",
				Help:      "Total number of session writer runs, by outcome.",
			},
			[]string{"volume", "status"},
		),
		SessionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "duration_seconds",
				Help:      "Session writer wall-clock duration in seconds.",
				Buckets:   []float64{.5, 1, 5, 10, 30, 60, 300, 900, 3600},
			},
			[]string{"volume"},
		),
		SessionChunksSent: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "chunks_sent_total",
				Help:      "Total number of chunks written in a session, by kind.",
			},
			[]string{"volume", "kind"},
		),
		SessionBytesSent: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "bytes_sent_total",
				Help:      "Total compressed bytes written in a session.",
			},
			[]string{"volume"},
		),
		SessionChunksLinked: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "chunks_linked_total",
				Help:      "Total number of chunks satisfied via a dedup link instead of a write.",
			},
		),
		SessionChunksZeroHole: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "chunks_zero_hole_total",
				Help:      "Total number of chunks recorded as an unsent zero hole.",
			},
		),

		DedupHitsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dedup",
				Name:      "hits_total",
				Help:      "Total number of dedup index lookups that matched existing content.",
			},
		),
		DedupMissesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dedup",
				Name:      "misses_total",
				Help:      "Total number of dedup index lookups with no match.",
			},
		),
		DedupIndexSize: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "dedup",
				Name:      "index_entries",
				Help:      "Current number of entries in the dedup index.",
			},
		),

		MergeRunsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "merge",
				Name:      "runs_total",
				Help:      "Total number of prune/merge runs, by outcome.",
			},
			[]string{"volume", "status"},
		),
		MergeDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "merge",
				Name:      "duration_seconds",
				Help:      "Prune/merge run duration in seconds.",
				Buckets:   []float64{.1, .5, 1, 5, 10, 30, 60, 300},
			},
		),
		MergeSessionsPruned: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "merge",
				Name:      "sessions_pruned_total",
				Help:      "Total number of sessions folded away by prune runs.",
			},
		),

		VerifyRunsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "verify",
				Name:      "runs_total",
				Help:      "Total number of verify/receive runs, by outcome.",
			},
			[]string{"volume", "mode", "status"},
		),
		VerifyMismatchsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "verify",
				Name:      "mismatches_total",
				Help:      "Total number of chunk mismatches observed in diff mode.",
			},
		),

		RotatorStateTransitions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "rotator",
				Name:      "state_transitions_total",
				Help:      "Total number of tick/tock rotator state transitions.",
			},
			[]string{"volume", "from", "to"},
		),

		TransportCommandsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "transport",
				Name:      "commands_total",
				Help:      "Total number of remote commands executed, by backend and status.",
			},
			[]string{"backend", "status"},
		),
		TransportCommandDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "transport",
				Name:      "command_duration_seconds",
				Help:      "Remote command duration in seconds.",
				Buckets:   []float64{.01, .05, .1, .5, 1, 5, 10, 30},
			},
			[]string{"backend"},
		),

		LockAcquireAttempts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "lock",
				Name:      "acquire_attempts_total",
				Help:      "Total number of archive lock acquisition attempts, by outcome.",
			},
			[]string{"backend", "outcome"},
		),
		LockHeldDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "lock",
				Name:      "held_duration_seconds",
				Help:      "Duration an archive lock was held before release.",
				Buckets:   []float64{.5, 1, 5, 10, 30, 60, 300, 900, 3600},
			},
		),
	}

	return m
}

// Handler returns the Prometheus metrics HTTP handler, served by the
// optional local metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordSessionRun records a completed session writer run.
func (m *Metrics) RecordSessionRun(volume, status string, duration float64) {
	m.SessionsTotal.WithLabelValues(volume, status).Inc()
	m.SessionDuration.WithLabelValues(volume).Observe(duration)
}

// RecordChunk records a single chunk-loop outcome.
func (m *Metrics) RecordChunk(volume, kind string, compressedBytes int64) {
	m.SessionChunksSent.WithLabelValues(volume, kind).Inc()
	switch kind {
	case "link":
		m.SessionChunksLinked.Inc()
	case "zero":
		m.SessionChunksZeroHole.Inc()
	default:
		m.SessionBytesSent.WithLabelValues(volume).Add(float64(compressedBytes))
	}
}

// RecordDedupLookup records a dedup index lookup outcome.
func (m *Metrics) RecordDedupLookup(hit bool) {
	if hit {
		m.DedupHitsTotal.Inc()
	} else {
		m.DedupMissesTotal.Inc()
	}
}

// RecordMergeRun records a completed prune/merge run.
func (m *Metrics) RecordMergeRun(volume, status string, duration float64, sessionsPruned int) {
	m.MergeRunsTotal.WithLabelValues(volume, status).Inc()
	m.MergeDuration.Observe(duration)
	m.MergeSessionsPruned.Add(float64(sessionsPruned))
}

// RecordVerifyRun records a completed verify/save/diff run.
func (m *Metrics) RecordVerifyRun(volume, mode, status string, mismatches int) {
	m.VerifyRunsTotal.WithLabelValues(volume, mode, status).Inc()
	m.VerifyMismatchsTotal.Add(float64(mismatches))
}

// RecordRotatorTransition records a tick/tock state-machine transition.
func (m *Metrics) RecordRotatorTransition(volume, from, to string) {
	m.RotatorStateTransitions.WithLabelValues(volume, from, to).Inc()
}

// RecordTransportCommand records a remote command execution.
func (m *Metrics) RecordTransportCommand(backend, status string, duration float64) {
	m.TransportCommandsTotal.WithLabelValues(backend, status).Inc()
	m.TransportCommandDuration.WithLabelValues(backend).Observe(duration)
}

// RecordLockAcquire records a lock acquisition attempt.
func (m *Metrics) RecordLockAcquire(backend, outcome string) {
	m.LockAcquireAttempts.WithLabelValues(backend, outcome).Inc()
}
