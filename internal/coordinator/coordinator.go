// Package coordinator composes the health monitor, router and replication
// engine behind one object: the surrounding application constructs it from
// loaded configuration and calls its read and write operations. No state
// lives outside it.
package coordinator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/edgewatch/multiregion/internal/config"
	"github.com/edgewatch/multiregion/internal/core"
	"github.com/edgewatch/multiregion/internal/events"
	"github.com/edgewatch/multiregion/internal/health"
	"github.com/edgewatch/multiregion/internal/metrics"
	"github.com/edgewatch/multiregion/internal/replication"
	"github.com/edgewatch/multiregion/internal/router"
)

type Coordinator struct {
	Monitor *health.Monitor
	Router  *router.Router
	Engine  *replication.Engine
	Events  *events.Log

	cfg    *config.Config
	cancel context.CancelFunc
	logger *zap.Logger
}

// New wires the components from startup configuration and registers every
// configured region. Config validation has already run; a region failing to
// register here is a programming error and is returned as such.
func New(cfg *config.Config, probe health.Probe, applier replication.Applier, logger *zap.Logger, collector *metrics.Collector) (*Coordinator, error) {
	log := events.NewLog(cfg.EventLogCap, logger)
	monitor := health.NewMonitor(probe, cfg.HealthCheck.Interval, cfg.HealthCheck.Timeout, cfg.Failover.Threshold, log, logger, collector)

	for _, rc := range cfg.Regions {
		if err := monitor.RegisterRegion(rc.Region()); err != nil {
			return nil, err
		}
	}

	return &Coordinator{
		Monitor: monitor,
		Router:  router.New(monitor, cfg.LoadBalancer, cfg.Failover, log, logger, collector),
		Engine:  replication.New(cfg.Replication, cfg.Failover.PrimaryRegion, monitor, applier, log, logger, collector),
		Events:  log,
		cfg:     cfg,
		logger:  logger,
	}, nil
}

// Start launches the probe loop and the replication workers.
func (c *Coordinator) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)

	if c.cfg.HealthCheck.Enabled {
		go c.Monitor.Start(ctx)
	}
	if c.cfg.Replication.Enabled {
		c.Engine.Start(ctx)
	}
	c.logger.Info("Coordinator started",
		zap.Int("regions", len(c.cfg.Regions)),
		zap.String("lb_strategy", c.cfg.LoadBalancer.Strategy),
	)
}

// Stop cancels the background loops and waits for the drain workers.
func (c *Coordinator) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.Engine.Wait()
	c.logger.Info("Coordinator stopped")
}

// Metrics aggregates the cross-component operational view.
func (c *Coordinator) Metrics() core.MultiRegionMetrics {
	out := core.MultiRegionMetrics{}

	for _, region := range c.Monitor.AllRegions() {
		out.TotalRegions++
		switch region.Status {
		case core.RegionActive:
			out.ActiveRegions++
		case core.RegionFailed:
			out.FailedRegions++
		case core.RegionMaintenance:
			out.MaintenanceRegions++
		}
	}

	healthRecords := c.Monitor.AllHealth()
	if len(healthRecords) > 0 {
		var sumRT, sumErr float64
		for _, h := range healthRecords {
			sumRT += h.ResponseTimeMs
			sumErr += h.ErrorRate
		}
		out.AvgResponseTimeMs = sumRT / float64(len(healthRecords))
		out.AvgErrorRate = sumErr / float64(len(healthRecords))
	}

	for _, task := range c.Engine.Queue() {
		if !task.Terminal() {
			out.ReplicationQueueDepth++
		}
	}
	out.OpenConflicts = c.Engine.OpenConflicts()

	for _, stats := range c.Router.RequestStats() {
		out.RoutedRequests += stats.Requests
	}
	return out
}

// HealthSummary classifies the deployment: no unhealthy regions is healthy,
// fewer than half unhealthy is degraded, anything else is unhealthy.
func (c *Coordinator) HealthSummary() core.HealthSummary {
	records := c.Monitor.AllHealth()

	summary := core.HealthSummary{
		Overall:      core.HealthHealthy,
		TotalRegions: len(records),
		Regions:      make(map[string]core.HealthStatus, len(records)),
		GeneratedAt:  time.Now(),
	}

	for id, h := range records {
		summary.Regions[id] = h.Status
		if h.Status == core.HealthUnhealthy {
			summary.UnhealthyRegions++
		}
	}

	switch {
	case summary.UnhealthyRegions == 0:
		summary.Overall = core.HealthHealthy
	case summary.UnhealthyRegions*2 < summary.TotalRegions:
		summary.Overall = core.HealthDegraded
	default:
		summary.Overall = core.HealthUnhealthy
	}
	return summary
}

// SimulateRegionFailure forces a region into the failed state through the
// administrative override, not a probe.
func (c *Coordinator) SimulateRegionFailure(regionID string) (*core.Region, error) {
	return c.Monitor.UpdateStatus(regionID, core.RegionFailed)
}

// SimulateRegionRecovery returns a region to active.
func (c *Coordinator) SimulateRegionRecovery(regionID string) (*core.Region, error) {
	return c.Monitor.UpdateStatus(regionID, core.RegionActive)
}
