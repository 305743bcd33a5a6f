// Package health owns the region table and per-region health state. It runs
// periodic probes against every registered region, applies the status state
// machine and publishes transition events. All methods are safe for
// concurrent use.
package health

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/edgewatch/multiregion/internal/core"
	"github.com/edgewatch/multiregion/internal/events"
	"github.com/edgewatch/multiregion/internal/metrics"
)

const latencyWindow = 100

type Monitor struct {
	mu          sync.RWMutex
	regions     map[string]*core.Region
	health      map[string]core.RegionHealth
	fails       map[string]int
	samples     map[string][]float64
	probe       Probe
	interval    time.Duration
	timeout     time.Duration
	maxFailures int
	events      *events.Log
	logger      *zap.Logger
	metrics     *metrics.Collector
}

// NewMonitor builds a monitor that probes every interval with the given
// per-probe timeout. A region moves to failed after maxFailures consecutive
// unhealthy probes.
func NewMonitor(probe Probe, interval, timeout time.Duration, maxFailures int, log *events.Log, logger *zap.Logger, collector *metrics.Collector) *Monitor {
	if maxFailures <= 0 {
		maxFailures = 3
	}
	return &Monitor{
		regions:     make(map[string]*core.Region),
		health:      make(map[string]core.RegionHealth),
		fails:       make(map[string]int),
		samples:     make(map[string][]float64),
		probe:       probe,
		interval:    interval,
		timeout:     timeout,
		maxFailures: maxFailures,
		events:      log,
		logger:      logger,
		metrics:     collector,
	}
}

// RegisterRegion adds a region with a fresh healthy record. Duplicate ids
// are rejected.
func (m *Monitor) RegisterRegion(region *core.Region) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.regions[region.ID]; exists {
		return core.ErrDuplicateRegion
	}

	copied := *region
	if copied.Status == "" {
		copied.Status = core.RegionActive
	}
	m.regions[region.ID] = &copied
	m.health[region.ID] = core.RegionHealth{
		RegionID:  region.ID,
		Status:    core.HealthHealthy,
		CheckedAt: time.Now(),
	}

	m.logger.Info("Region registered",
		zap.String("region", region.ID),
		zap.String("status", string(copied.Status)),
		zap.Int("priority", copied.Priority),
	)
	m.metrics.SetRegionUp(region.ID, copied.Status == core.RegionActive)
	return nil
}

// Start runs one immediate probe cycle and then one per interval until the
// context is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("Health monitor started", zap.Duration("interval", m.interval))
	m.RunProbeCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Health monitor stopped")
			return
		case <-ticker.C:
			m.RunProbeCycle(ctx)
		}
	}
}

// RunProbeCycle probes every registered region concurrently. Each region
// settles on its own; one hung or failing probe never blocks the others.
func (m *Monitor) RunProbeCycle(ctx context.Context) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.regions))
	for id := range m.regions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(regionID string) {
			defer wg.Done()
			m.ProbeRegion(ctx, regionID)
		}(id)
	}
	wg.Wait()
}

// ProbeRegion invokes the probe capability for one region and applies the
// outcome. Transport errors become an unhealthy record with the error
// message as an issue; they are never returned to the caller.
func (m *Monitor) ProbeRegion(ctx context.Context, regionID string) core.RegionHealth {
	m.mu.RLock()
	region, ok := m.regions[regionID]
	if !ok {
		m.mu.RUnlock()
		return core.RegionHealth{}
	}
	snapshot := *region
	m.mu.RUnlock()

	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	start := time.Now()
	result, err := m.probe.Check(probeCtx, &snapshot)
	elapsed := time.Since(start)

	if err != nil {
		result = core.RegionHealth{
			RegionID:       regionID,
			Status:         core.HealthUnhealthy,
			ResponseTimeMs: float64(elapsed.Milliseconds()),
			Issues:         []string{err.Error()},
		}
	}
	result.RegionID = regionID
	result.CheckedAt = time.Now()

	m.metrics.RecordProbe(regionID, string(result.Status), elapsed)
	m.apply(regionID, result)
	return result
}

// apply replaces the health record and runs the status state machine: a run
// of maxFailures unhealthy probes moves an active region to failed, the
// first healthy probe moves a failed region back to active. Repeated
// outcomes emit no events.
func (m *Monitor) apply(regionID string, result core.RegionHealth) {
	m.mu.Lock()

	region, ok := m.regions[regionID]
	if !ok {
		m.mu.Unlock()
		return
	}

	m.health[regionID] = result
	region.LastChecked = result.CheckedAt
	m.observeLatency(region, result.ResponseTimeMs)

	var transition *core.EventType
	oldStatus := region.Status

	switch result.Status {
	case core.HealthUnhealthy:
		m.fails[regionID]++
		if region.Status == core.RegionActive && m.fails[regionID] >= m.maxFailures {
			region.Status = core.RegionFailed
			down := core.EventRegionDown
			transition = &down
		}
	case core.HealthHealthy:
		m.fails[regionID] = 0
		if region.Status == core.RegionFailed {
			region.Status = core.RegionActive
			up := core.EventRegionUp
			transition = &up
		}
	case core.HealthDegraded:
		// Impaired but responding. No transition either way.
	}

	newStatus := region.Status
	m.mu.Unlock()

	m.metrics.SetRegionUp(regionID, newStatus == core.RegionActive)

	if transition != nil {
		m.logger.Warn("Region status changed",
			zap.String("region", regionID),
			zap.String("old_status", string(oldStatus)),
			zap.String("new_status", string(newStatus)),
			zap.Strings("issues", result.Issues),
		)
		m.events.Publish(*transition, regionID, map[string]any{
			"old_status": string(oldStatus),
			"new_status": string(newStatus),
			"issues":     result.Issues,
		})
	}
}

// observeLatency keeps a bounded window of probe response times and refreshes
// the region's latency stats from it. Caller holds the write lock.
func (m *Monitor) observeLatency(region *core.Region, responseMs float64) {
	window := append(m.samples[region.ID], responseMs)
	if len(window) > latencyWindow {
		window = window[len(window)-latencyWindow:]
	}
	m.samples[region.ID] = window

	sorted := make([]float64, len(window))
	copy(sorted, window)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	region.Latency = core.LatencyStats{
		AvgMs: sum / float64(len(sorted)),
		P95Ms: percentile(sorted, 0.95),
		P99Ms: percentile(sorted, 0.99),
	}
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// UpdateStatus is the administrative override used for maintenance windows
// and simulated failures. It always publishes a maintenance event recording
// the old and new status.
func (m *Monitor) UpdateStatus(regionID string, status core.RegionStatus) (*core.Region, error) {
	m.mu.Lock()
	region, ok := m.regions[regionID]
	if !ok {
		m.mu.Unlock()
		return nil, core.ErrRegionNotFound
	}
	oldStatus := region.Status
	region.Status = status
	// The failure counter survives an administrative activation on purpose:
	// until a healthy probe lands, the router keeps treating the region as
	// over its failover threshold.
	snapshot := *region
	m.mu.Unlock()

	m.logger.Info("Region status overridden",
		zap.String("region", regionID),
		zap.String("old_status", string(oldStatus)),
		zap.String("new_status", string(status)),
	)
	m.metrics.SetRegionUp(regionID, status == core.RegionActive)
	m.events.Publish(core.EventRegionMaintenance, regionID, map[string]any{
		"old_status": string(oldStatus),
		"new_status": string(status),
	})
	return &snapshot, nil
}

// Region returns a copy of one region.
func (m *Monitor) Region(regionID string) (*core.Region, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	region, ok := m.regions[regionID]
	if !ok {
		return nil, core.ErrRegionNotFound
	}
	snapshot := *region
	return &snapshot, nil
}

// AllRegions returns copies of every registered region, ordered by priority
// then id for stable output.
func (m *Monitor) AllRegions() []*core.Region {
	m.mu.RLock()
	out := make([]*core.Region, 0, len(m.regions))
	for _, region := range m.regions {
		snapshot := *region
		out = append(out, &snapshot)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ActiveRegions returns copies of the regions currently routable.
func (m *Monitor) ActiveRegions() []*core.Region {
	all := m.AllRegions()
	out := all[:0]
	for _, region := range all {
		if region.Status == core.RegionActive {
			out = append(out, region)
		}
	}
	return out
}

// Health returns the latest snapshot for one region.
func (m *Monitor) Health(regionID string) (core.RegionHealth, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	h, ok := m.health[regionID]
	if !ok {
		return core.RegionHealth{}, core.ErrRegionNotFound
	}
	return h, nil
}

// AllHealth returns the latest snapshot for every region.
func (m *Monitor) AllHealth() map[string]core.RegionHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]core.RegionHealth, len(m.health))
	for id, h := range m.health {
		out[id] = h
	}
	return out
}

// ConsecutiveFailures reports how many unhealthy probes a region has
// accumulated since its last healthy one.
func (m *Monitor) ConsecutiveFailures(regionID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fails[regionID]
}

// NearestRegion returns the active region closest to the given coordinates
// by great-circle distance, ties broken by lower priority.
func (m *Monitor) NearestRegion(lat, lon float64) (*core.Region, error) {
	candidates := m.ActiveRegions()
	if len(candidates) == 0 {
		return nil, core.ErrNoRegionAvailable
	}

	best := candidates[0]
	bestDist := DistanceKm(lat, lon, best.Latitude, best.Longitude)
	for _, region := range candidates[1:] {
		dist := DistanceKm(lat, lon, region.Latitude, region.Longitude)
		if dist < bestDist || (dist == bestDist && region.Priority < best.Priority) {
			best = region
			bestDist = dist
		}
	}
	return best, nil
}

const earthRadiusKm = 6371.0

// DistanceKm computes the great-circle (haversine) distance between two
// coordinates in kilometers.
func DistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	rLat1 := lat1 * math.Pi / 180
	rLat2 := lat2 * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
