package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SegmentsClaimed tracks the number of segments currently claimed by a
// processor instance.
var SegmentsClaimed = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "psep_segments_claimed",
		Help: "Number of segments currently claimed by this processor instance",
	},
	[]string{"processor"},
)

// EventsHandledTotal tracks the total number of events delivered to a
// handler, by outcome.
var EventsHandledTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "psep_events_handled_total",
		Help: "Total events delivered to the event handler",
	},
	[]string{"processor", "outcome"},
)

// BatchSize tracks the number of events processed per work package
// batch.
var BatchSize = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "psep_batch_size",
		Help:    "Number of events processed per work package batch",
		Buckets: prometheus.LinearBuckets(1, 4, 10),
	},
	[]string{"processor"},
)

// BatchDuration tracks the wall-clock time spent processing one work
// package batch, including handler invocation and token persistence.
var BatchDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "psep_batch_duration_seconds",
		Help:    "Time spent processing one work package batch",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"processor"},
)

// ClaimExtensionFailuresTotal tracks claim extensions that failed
// because the claim was lost to another owner.
var ClaimExtensionFailuresTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "psep_claim_extension_failures_total",
		Help: "Total claim extension attempts that failed",
	},
	[]string{"processor"},
)

// WorkPackagesAbortedTotal tracks work packages that transitioned to
// the Aborted state, by reason.
var WorkPackagesAbortedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "psep_work_packages_aborted_total",
		Help: "Total work packages that aborted",
	},
	[]string{"processor", "reason"},
)

// ControlTasksTotal tracks control tasks (release, split, merge) by
// kind and outcome.
var ControlTasksTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "psep_control_tasks_total",
		Help: "Total control tasks executed",
	},
	[]string{"processor", "kind", "outcome"},
)
