package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Collector struct {
	probeDuration *prometheus.HistogramVec
	regionUp      *prometheus.GaugeVec
	probesTotal   *prometheus.CounterVec

	requestsRouted  *prometheus.CounterVec
	routingFailures prometheus.Counter
	failoversTotal  *prometheus.CounterVec

	replicationQueueDepth prometheus.Gauge
	replicationTasksTotal *prometheus.CounterVec
	replicationLagMs      *prometheus.GaugeVec
	conflictsTotal        prometheus.Counter
	conflictsResolved     *prometheus.CounterVec
}

// NewCollector registers all coordination metrics against reg. Pass
// prometheus.DefaultRegisterer in production; tests use a fresh registry.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		probeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "multiregion_probe_duration_seconds",
				Help:    "Duration of region health probes in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"region"},
		),

		regionUp: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "multiregion_region_up",
				Help: "Whether the region is active (1) or not (0)",
			},
			[]string{"region"},
		),

		probesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "multiregion_probes_total",
				Help: "Total number of health probes performed",
			},
			[]string{"region", "status"},
		),

		requestsRouted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "multiregion_requests_routed_total",
				Help: "Requests routed per target region",
			},
			[]string{"region", "strategy"},
		),

		routingFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "multiregion_routing_failures_total",
				Help: "Requests that could not be routed to any region",
			},
		),

		failoversTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "multiregion_failovers_total",
				Help: "Failover selections away from an excluded region",
			},
			[]string{"from_region", "to_region"},
		),

		replicationQueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "multiregion_replication_queue_depth",
				Help: "Replication tasks not yet in a terminal state",
			},
		),

		replicationTasksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "multiregion_replication_tasks_total",
				Help: "Replication tasks by terminal status",
			},
			[]string{"target_region", "status"},
		),

		replicationLagMs: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "multiregion_replication_lag_ms",
				Help: "Milliseconds since the last successful sync per region",
			},
			[]string{"region"},
		),

		conflictsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "multiregion_conflicts_total",
				Help: "Data conflicts detected",
			},
		),

		conflictsResolved: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "multiregion_conflicts_resolved_total",
				Help: "Data conflicts resolved by strategy",
			},
			[]string{"strategy"},
		),
	}
}

func (c *Collector) RecordProbe(region string, status string, duration time.Duration) {
	c.probeDuration.WithLabelValues(region).Observe(duration.Seconds())
	c.probesTotal.WithLabelValues(region, status).Inc()
}

func (c *Collector) SetRegionUp(region string, up bool) {
	v := 0.0
	if up {
		v = 1.0
	}
	c.regionUp.WithLabelValues(region).Set(v)
}

func (c *Collector) RecordRouted(region, strategy string) {
	c.requestsRouted.WithLabelValues(region, strategy).Inc()
}

func (c *Collector) RecordRoutingFailure() {
	c.routingFailures.Inc()
}

func (c *Collector) RecordFailover(from, to string) {
	c.failoversTotal.WithLabelValues(from, to).Inc()
}

func (c *Collector) SetQueueDepth(depth int) {
	c.replicationQueueDepth.Set(float64(depth))
}

func (c *Collector) RecordTaskDone(targetRegion, status string) {
	c.replicationTasksTotal.WithLabelValues(targetRegion, status).Inc()
}

func (c *Collector) SetReplicationLag(region string, lag time.Duration) {
	c.replicationLagMs.WithLabelValues(region).Set(float64(lag.Milliseconds()))
}

func (c *Collector) RecordConflictDetected() {
	c.conflictsTotal.Inc()
}

func (c *Collector) RecordConflictResolved(strategy string) {
	c.conflictsResolved.WithLabelValues(strategy).Inc()
}
