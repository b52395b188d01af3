// Package metrics exposes Prometheus instrumentation for the dispatcher,
// aggregate runtime, projection runner, snapshot worker, and rate limiter.
// Grounded on the teacher's package-level promauto pattern: metrics are
// declared once at package scope and recorded through small helper
// functions, never threaded through a struct.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "balados_commands_total",
			Help: "Total number of commands dispatched, by kind and outcome",
		},
		[]string{"kind", "outcome"}, // outcome: "ok", "rejected"
	)

	CommandRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "balados_command_rejections_total",
			Help: "Total number of rejected commands, by kind and reason code",
		},
		[]string{"kind", "reason"},
	)

	CommandDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "balados_command_duration_seconds",
			Help:    "Duration of Dispatch calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	AggregateCacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "balados_aggregate_cache_evictions_total",
			Help: "Total number of aggregates evicted from the in-memory cache for being idle",
		},
	)

	AggregateReplaysTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "balados_aggregate_replays_total",
			Help: "Total number of full aggregate replays from the event store",
		},
	)

	ProjectorLag = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "balados_projector_lag_events",
			Help: "Number of events between a projector's checkpoint and the event store head",
		},
		[]string{"projector"},
	)

	ProjectorEventsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "balados_projector_events_applied_total",
			Help: "Total number of events applied by a projector",
		},
		[]string{"projector"},
	)

	ProjectorErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "balados_projector_errors_total",
			Help: "Total number of projector apply failures",
		},
		[]string{"projector"},
	)

	RateLimitRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "balados_rate_limit_rejections_total",
			Help: "Total number of commands rejected by the per-user rate limiter",
		},
	)

	SnapshotRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "balados_snapshot_runs_total",
			Help: "Total number of snapshot-worker compaction cycles, by result",
		},
		[]string{"result"}, // "compacted", "skipped", "failed"
	)

	SnapshotEventsDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "balados_snapshot_events_deleted_total",
			Help: "Total number of pre-checkpoint events physically deleted by compaction",
		},
	)

	WakeSignalsPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "balados_wake_signals_published_total",
			Help: "Total number of wake signals published to the projection runner",
		},
	)

	WakeSignalsReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "balados_wake_signals_received_total",
			Help: "Total number of wake signals received by the projection runner",
		},
	)
)

// RecordCommandDispatched records a successfully dispatched command.
func RecordCommandDispatched(kind string, duration time.Duration) {
	CommandsTotal.WithLabelValues(kind, "ok").Inc()
	CommandDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordCommandRejected records a command rejected for reason, by kind.
func RecordCommandRejected(kind, reason string, duration time.Duration) {
	CommandsTotal.WithLabelValues(kind, "rejected").Inc()
	CommandRejections.WithLabelValues(kind, reason).Inc()
	CommandDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordProjectorApplied records one event applied by a named projector and
// the resulting lag against headPosition.
func RecordProjectorApplied(name string, appliedPosition, headPosition int64) {
	ProjectorEventsApplied.WithLabelValues(name).Inc()
	lag := headPosition - appliedPosition
	if lag < 0 {
		lag = 0
	}
	ProjectorLag.WithLabelValues(name).Set(float64(lag))
}

// RecordProjectorError records a projector apply failure.
func RecordProjectorError(name string) {
	ProjectorErrors.WithLabelValues(name).Inc()
}

// RecordSnapshotRun records one snapshot-worker cycle outcome.
func RecordSnapshotRun(result string, eventsDeleted int) {
	SnapshotRuns.WithLabelValues(result).Inc()
	if eventsDeleted > 0 {
		SnapshotEventsDeleted.Add(float64(eventsDeleted))
	}
}
