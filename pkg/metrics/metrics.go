package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// grant wait latency - histogram to track p50/p90/p99
	// measures from acquire request to the assign signal arriving
	AcquireWaitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "resmux_acquire_wait_duration_seconds",
			Help:    "time a requester waited for a resource grant",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~16s
		},
	)

	// acquire timeouts - waiters that gave up before a grant arrived
	// note: the waiter entry stays queued on the coordinator, so a spike
	// here usually precedes wasted grants
	AcquireTimeoutTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "resmux_acquire_timeout_total",
			Help: "total number of acquisitions that timed out waiting",
		},
	)

	// grants issued - one per assign signal
	GrantTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "resmux_grant_total",
			Help: "total number of resource grants issued",
		},
	)

	// releases by outcome
	// labels: status (released/unknown_token)
	ReleaseTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resmux_release_total",
			Help: "total number of release signals processed",
		},
		[]string{"status"},
	)

	// currently held resources - should drop back to zero when idle
	// a value that never drops indicates a leaked grant
	ResourcesHeld = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "resmux_resources_held",
			Help: "current number of resources granted out",
		},
	)

	// pool size - total resources known to the coordinator
	ResourcesTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "resmux_resources_total",
			Help: "current number of resources in the pool",
		},
	)

	// queued requesters - non-zero means demand exceeds the pool
	WaitersQueued = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "resmux_waiters_queued",
			Help: "current number of requesters waiting for a grant",
		},
	)

	// checkpoint/restart cycles of the actor runtime
	// each one bounds log growth by snapshotting and rebuilding the actor
	CheckpointsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "resmux_checkpoints_total",
			Help: "total number of actor checkpoint/restart cycles",
		},
	)

	// service uptime - always 1 when running
	Up = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "resmux_up",
			Help: "whether the service is up (always 1 when running)",
		},
	)
)

func init() {
	// set uptime gauge to 1 on startup
	Up.Set(1)
}
