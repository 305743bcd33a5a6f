package health

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/edgewatch/multiregion/internal/core"
	"github.com/edgewatch/multiregion/internal/events"
	"github.com/edgewatch/multiregion/internal/metrics"
)

// scriptedProbe returns a fixed status per region, switchable mid-test.
type scriptedProbe struct {
	mu     sync.Mutex
	status map[string]core.HealthStatus
	errs   map[string]error
}

func newScriptedProbe() *scriptedProbe {
	return &scriptedProbe{
		status: make(map[string]core.HealthStatus),
		errs:   make(map[string]error),
	}
}

func (p *scriptedProbe) set(regionID string, status core.HealthStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status[regionID] = status
	delete(p.errs, regionID)
}

func (p *scriptedProbe) fail(regionID string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errs[regionID] = err
}

func (p *scriptedProbe) Check(ctx context.Context, region *core.Region) (core.RegionHealth, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err, ok := p.errs[region.ID]; ok {
		return core.RegionHealth{}, err
	}
	status, ok := p.status[region.ID]
	if !ok {
		status = core.HealthHealthy
	}
	return core.RegionHealth{RegionID: region.ID, Status: status, ResponseTimeMs: 10}, nil
}

func newTestMonitor(t *testing.T, probe Probe) (*Monitor, *events.Log) {
	t.Helper()
	logger := zap.NewNop()
	log := events.NewLog(100, logger)
	collector := metrics.NewCollector(prometheus.NewRegistry())
	return NewMonitor(probe, time.Minute, time.Second, 3, log, logger, collector), log
}

func region(id string, priority int, lat, lon float64) *core.Region {
	return &core.Region{
		ID:        id,
		Name:      id,
		Latitude:  lat,
		Longitude: lon,
		Endpoints: []string{"http://" + id + ".example.com"},
		Priority:  priority,
	}
}

func countEvents(log *events.Log, eventType core.EventType, regionID string) int {
	n := 0
	for _, event := range log.Events(0) {
		if event.Type == eventType && event.RegionID == regionID {
			n++
		}
	}
	return n
}

func TestRegisterRegionRejectsDuplicates(t *testing.T) {
	monitor, _ := newTestMonitor(t, newScriptedProbe())

	require.NoError(t, monitor.RegisterRegion(region("us-east", 1, 39, -77)))
	err := monitor.RegisterRegion(region("us-east", 2, 39, -77))
	assert.ErrorIs(t, err, core.ErrDuplicateRegion)
}

func TestRegisterRegionStartsHealthyAndActive(t *testing.T) {
	monitor, _ := newTestMonitor(t, newScriptedProbe())

	require.NoError(t, monitor.RegisterRegion(region("eu-west", 1, 53, -6)))

	got, err := monitor.Region("eu-west")
	require.NoError(t, err)
	assert.Equal(t, core.RegionActive, got.Status)

	health, err := monitor.Health("eu-west")
	require.NoError(t, err)
	assert.Equal(t, core.HealthHealthy, health.Status)
}

func TestThreeFailedProbesTransitionExactlyOnce(t *testing.T) {
	probe := newScriptedProbe()
	monitor, log := newTestMonitor(t, probe)
	require.NoError(t, monitor.RegisterRegion(region("us-east", 1, 39, -77)))

	probe.set("us-east", core.HealthUnhealthy)
	ctx := context.Background()

	// Two failures keep the region active.
	monitor.ProbeRegion(ctx, "us-east")
	monitor.ProbeRegion(ctx, "us-east")
	got, _ := monitor.Region("us-east")
	assert.Equal(t, core.RegionActive, got.Status)
	assert.Equal(t, 0, countEvents(log, core.EventRegionDown, "us-east"))

	// The third crosses the threshold.
	monitor.ProbeRegion(ctx, "us-east")
	got, _ = monitor.Region("us-east")
	assert.Equal(t, core.RegionFailed, got.Status)
	assert.Equal(t, 1, countEvents(log, core.EventRegionDown, "us-east"))

	// Further failures repeat the status and emit nothing new.
	monitor.ProbeRegion(ctx, "us-east")
	monitor.ProbeRegion(ctx, "us-east")
	assert.Equal(t, 1, countEvents(log, core.EventRegionDown, "us-east"))
	assert.Equal(t, 5, monitor.ConsecutiveFailures("us-east"))
}

func TestRecoveryEmitsSingleRegionUp(t *testing.T) {
	probe := newScriptedProbe()
	monitor, log := newTestMonitor(t, probe)
	require.NoError(t, monitor.RegisterRegion(region("us-east", 1, 39, -77)))
	ctx := context.Background()

	probe.set("us-east", core.HealthUnhealthy)
	for i := 0; i < 3; i++ {
		monitor.ProbeRegion(ctx, "us-east")
	}

	probe.set("us-east", core.HealthHealthy)
	monitor.ProbeRegion(ctx, "us-east")

	got, _ := monitor.Region("us-east")
	assert.Equal(t, core.RegionActive, got.Status)
	assert.Equal(t, 1, countEvents(log, core.EventRegionUp, "us-east"))
	assert.Equal(t, 0, monitor.ConsecutiveFailures("us-east"))

	// A healthy probe on an already active region is not a transition.
	monitor.ProbeRegion(ctx, "us-east")
	assert.Equal(t, 1, countEvents(log, core.EventRegionUp, "us-east"))
}

func TestProbeErrorBecomesUnhealthyRecord(t *testing.T) {
	probe := newScriptedProbe()
	monitor, _ := newTestMonitor(t, probe)
	require.NoError(t, monitor.RegisterRegion(region("ap-south", 1, 19, 72)))

	probe.fail("ap-south", fmt.Errorf("connection refused"))
	result := monitor.ProbeRegion(context.Background(), "ap-south")

	assert.Equal(t, core.HealthUnhealthy, result.Status)
	require.Len(t, result.Issues, 1)
	assert.Contains(t, result.Issues[0], "connection refused")

	stored, err := monitor.Health("ap-south")
	require.NoError(t, err)
	assert.Equal(t, core.HealthUnhealthy, stored.Status)
}

func TestDegradedProbeKeepsStatus(t *testing.T) {
	probe := newScriptedProbe()
	monitor, log := newTestMonitor(t, probe)
	require.NoError(t, monitor.RegisterRegion(region("us-west", 1, 37, -122)))

	probe.set("us-west", core.HealthDegraded)
	monitor.ProbeRegion(context.Background(), "us-west")

	got, _ := monitor.Region("us-west")
	assert.Equal(t, core.RegionActive, got.Status)
	assert.Equal(t, 0, len(log.Events(0)))

	health, _ := monitor.Health("us-west")
	assert.Equal(t, core.HealthDegraded, health.Status)
}

func TestProbeCycleIsolatesHungProbe(t *testing.T) {
	slow := ProbeFunc(func(ctx context.Context, r *core.Region) (core.RegionHealth, error) {
		if r.ID == "stuck" {
			<-ctx.Done()
			return core.RegionHealth{}, ctx.Err()
		}
		return core.RegionHealth{RegionID: r.ID, Status: core.HealthHealthy}, nil
	})

	logger := zap.NewNop()
	log := events.NewLog(100, logger)
	collector := metrics.NewCollector(prometheus.NewRegistry())
	monitor := NewMonitor(slow, time.Minute, 50*time.Millisecond, 3, log, logger, collector)

	require.NoError(t, monitor.RegisterRegion(region("stuck", 1, 0, 0)))
	require.NoError(t, monitor.RegisterRegion(region("fine", 2, 10, 10)))

	done := make(chan struct{})
	go func() {
		monitor.RunProbeCycle(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("probe cycle did not settle")
	}

	stuck, _ := monitor.Health("stuck")
	fine, _ := monitor.Health("fine")
	assert.Equal(t, core.HealthUnhealthy, stuck.Status)
	assert.Equal(t, core.HealthHealthy, fine.Status)
}

func TestActiveRegionsExcludesFailedAndMaintenance(t *testing.T) {
	monitor, _ := newTestMonitor(t, newScriptedProbe())
	require.NoError(t, monitor.RegisterRegion(region("a", 1, 0, 0)))
	require.NoError(t, monitor.RegisterRegion(region("b", 2, 0, 0)))
	require.NoError(t, monitor.RegisterRegion(region("c", 3, 0, 0)))

	_, err := monitor.UpdateStatus("b", core.RegionFailed)
	require.NoError(t, err)
	_, err = monitor.UpdateStatus("c", core.RegionMaintenance)
	require.NoError(t, err)

	active := monitor.ActiveRegions()
	require.Len(t, active, 1)
	assert.Equal(t, "a", active[0].ID)
}

func TestUpdateStatusAlwaysEmitsMaintenanceEvent(t *testing.T) {
	monitor, log := newTestMonitor(t, newScriptedProbe())
	require.NoError(t, monitor.RegisterRegion(region("a", 1, 0, 0)))

	updated, err := monitor.UpdateStatus("a", core.RegionMaintenance)
	require.NoError(t, err)
	assert.Equal(t, core.RegionMaintenance, updated.Status)

	events := log.Events(1)
	require.Len(t, events, 1)
	assert.Equal(t, core.EventRegionMaintenance, events[0].Type)
	assert.Equal(t, "active", events[0].Payload["old_status"])
	assert.Equal(t, "maintenance", events[0].Payload["new_status"])

	_, err = monitor.UpdateStatus("missing", core.RegionActive)
	assert.ErrorIs(t, err, core.ErrRegionNotFound)
}

func TestNearestRegionPicksMinimumDistance(t *testing.T) {
	monitor, _ := newTestMonitor(t, newScriptedProbe())
	require.NoError(t, monitor.RegisterRegion(region("us-east", 1, 39.0, -77.5)))
	require.NoError(t, monitor.RegisterRegion(region("eu-west", 2, 53.3, -6.2)))
	require.NoError(t, monitor.RegisterRegion(region("ap-northeast", 3, 35.7, 139.7)))

	// Paris is closest to the Irish region.
	nearest, err := monitor.NearestRegion(48.85, 2.35)
	require.NoError(t, err)
	assert.Equal(t, "eu-west", nearest.ID)
}

func TestNearestRegionSkipsNonActive(t *testing.T) {
	monitor, _ := newTestMonitor(t, newScriptedProbe())
	require.NoError(t, monitor.RegisterRegion(region("us-east", 1, 39.0, -77.5)))
	require.NoError(t, monitor.RegisterRegion(region("eu-west", 2, 53.3, -6.2)))

	_, err := monitor.UpdateStatus("eu-west", core.RegionFailed)
	require.NoError(t, err)

	nearest, err := monitor.NearestRegion(48.85, 2.35)
	require.NoError(t, err)
	assert.Equal(t, "us-east", nearest.ID)

	_, err = monitor.UpdateStatus("us-east", core.RegionMaintenance)
	require.NoError(t, err)
	_, err = monitor.NearestRegion(48.85, 2.35)
	assert.ErrorIs(t, err, core.ErrNoRegionAvailable)
}

func TestNearestRegionBreaksTiesByPriority(t *testing.T) {
	monitor, _ := newTestMonitor(t, newScriptedProbe())
	require.NoError(t, monitor.RegisterRegion(region("backup", 5, 50.0, 8.0)))
	require.NoError(t, monitor.RegisterRegion(region("primary", 1, 50.0, 8.0)))

	nearest, err := monitor.NearestRegion(50.0, 8.0)
	require.NoError(t, err)
	assert.Equal(t, "primary", nearest.ID)
}

func TestDistanceKm(t *testing.T) {
	// London to Paris is roughly 344 km.
	d := DistanceKm(51.5074, -0.1278, 48.8566, 2.3522)
	assert.InDelta(t, 344, d, 10)

	assert.Equal(t, 0.0, DistanceKm(10, 20, 10, 20))
}

func TestLatencyStatsTrackProbeDurations(t *testing.T) {
	samples := []float64{10, 20, 30, 40, 50}
	i := 0
	probe := ProbeFunc(func(ctx context.Context, r *core.Region) (core.RegionHealth, error) {
		h := core.RegionHealth{RegionID: r.ID, Status: core.HealthHealthy, ResponseTimeMs: samples[i]}
		i++
		return h, nil
	})

	monitor, _ := newTestMonitor(t, probe)
	require.NoError(t, monitor.RegisterRegion(region("a", 1, 0, 0)))

	for range samples {
		monitor.ProbeRegion(context.Background(), "a")
	}

	got, _ := monitor.Region("a")
	assert.InDelta(t, 30, got.Latency.AvgMs, 0.01)
	assert.Equal(t, 50.0, got.Latency.P99Ms)
	assert.False(t, got.LastChecked.IsZero())
}
