// Package router selects a target region per inbound request. Rules are
// evaluated in priority order; requests matching no rule fall back to the
// configured balancing strategy. Selection is synchronous and reads only
// in-memory state maintained by the health monitor.
package router

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/edgewatch/multiregion/internal/config"
	"github.com/edgewatch/multiregion/internal/core"
	"github.com/edgewatch/multiregion/internal/events"
	"github.com/edgewatch/multiregion/internal/health"
	"github.com/edgewatch/multiregion/internal/metrics"
)

type regionStats struct {
	requests int64
	totalMs  float64
	observed int64
}

type Router struct {
	mu       sync.Mutex
	hm       *health.Monitor
	cfg      config.LoadBalancerConfig
	failover core.FailoverConfig
	rules    []core.RoutingRule
	rrIndex  int
	excluded map[string]time.Time
	sessions map[string]string
	stats    map[string]*regionStats
	rng      *rand.Rand
	now      func() time.Time
	events   *events.Log
	logger   *zap.Logger
	metrics  *metrics.Collector
}

func New(hm *health.Monitor, cfg config.LoadBalancerConfig, failover core.FailoverConfig, log *events.Log, logger *zap.Logger, collector *metrics.Collector) *Router {
	return &Router{
		hm:       hm,
		cfg:      cfg,
		failover: failover,
		excluded: make(map[string]time.Time),
		sessions: make(map[string]string),
		stats:    make(map[string]*regionStats),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		now:      time.Now,
		events:   log,
		logger:   logger,
		metrics:  collector,
	}
}

// SelectRegion picks the target region for one request. It returns
// ErrNoRegionAvailable when every candidate is down or excluded.
func (r *Router) SelectRegion(desc *core.RequestDescriptor) (*core.Region, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if region := r.stickyRegion(desc); region != nil {
		r.record(region.ID, "sticky")
		return region, nil
	}

	for _, rule := range r.rules {
		if !ruleMatches(&rule, desc) {
			continue
		}
		if region := r.pickRuleTarget(&rule); region != nil {
			r.remember(desc, region.ID)
			r.record(region.ID, "rule")
			return region, nil
		}
		// Every target of the matching rule is down or excluded; later
		// rules and the fallback strategy still apply.
	}

	region := r.fallback(desc)
	if region == nil {
		r.metrics.RecordRoutingFailure()
		return nil, core.ErrNoRegionAvailable
	}
	r.remember(desc, region.ID)
	r.record(region.ID, r.cfg.Strategy)
	return region, nil
}

// fallback applies the configured strategy. When the strategy's natural pick
// is under failover exclusion the configured secondaries are tried in order
// before re-running the strategy over the remaining regions. Caller holds
// the lock.
func (r *Router) fallback(desc *core.RequestDescriptor) *core.Region {
	active := r.hm.ActiveRegions()
	if len(active) == 0 {
		return nil
	}

	natural := r.pickByStrategy(r.cfg.Strategy, desc, active)
	if natural != nil && r.eligible(natural.ID) {
		r.advance(len(active))
		return natural
	}

	for _, id := range r.failover.SecondaryRegions {
		if natural != nil && id == natural.ID {
			continue
		}
		if r.eligible(id) {
			region, err := r.hm.Region(id)
			if err == nil {
				return region
			}
		}
	}

	eligible := make([]*core.Region, 0, len(active))
	for _, region := range active {
		if r.eligible(region.ID) {
			eligible = append(eligible, region)
		}
	}
	if len(eligible) == 0 {
		return nil
	}
	region := r.pickByStrategy(r.cfg.Strategy, desc, eligible)
	r.advance(len(eligible))
	return region
}

// advance moves the round-robin cursor after a committed selection.
func (r *Router) advance(n int) {
	if r.cfg.Strategy == "round-robin" && n > 0 {
		r.rrIndex = (r.rrIndex + 1) % n
	}
}

// stickyRegion honors an existing session pin while its region stays
// eligible. Caller holds the lock.
func (r *Router) stickyRegion(desc *core.RequestDescriptor) *core.Region {
	if !r.cfg.StickySessions || desc.SessionID == "" {
		return nil
	}
	regionID, ok := r.sessions[desc.SessionID]
	if !ok {
		return nil
	}
	if !r.eligible(regionID) {
		delete(r.sessions, desc.SessionID)
		return nil
	}
	region, err := r.hm.Region(regionID)
	if err != nil {
		delete(r.sessions, desc.SessionID)
		return nil
	}
	return region
}

func (r *Router) remember(desc *core.RequestDescriptor, regionID string) {
	if r.cfg.StickySessions && desc.SessionID != "" {
		r.sessions[desc.SessionID] = regionID
	}
}

// pickRuleTarget chooses among a rule's eligible targets, weight-biased.
// A single eligible target wins outright. Caller holds the lock.
func (r *Router) pickRuleTarget(rule *core.RoutingRule) *core.Region {
	eligible := make([]core.RuleTarget, 0, len(rule.Targets))
	total := 0
	for _, target := range rule.Targets {
		if r.eligible(target.RegionID) {
			weight := target.Weight
			if weight <= 0 {
				weight = 1
			}
			eligible = append(eligible, core.RuleTarget{RegionID: target.RegionID, Weight: weight})
			total += weight
		}
	}
	if len(eligible) == 0 {
		return nil
	}

	chosen := eligible[0].RegionID
	if len(eligible) > 1 {
		n := r.rng.Intn(total)
		for _, target := range eligible {
			if n < target.Weight {
				chosen = target.RegionID
				break
			}
			n -= target.Weight
		}
	}

	region, err := r.hm.Region(chosen)
	if err != nil {
		return nil
	}
	return region
}

// pickByStrategy applies a balancing strategy over the given candidates
// without committing any cursor state. Caller holds the lock.
func (r *Router) pickByStrategy(strategy string, desc *core.RequestDescriptor, candidates []*core.Region) *core.Region {
	if len(candidates) == 0 {
		return nil
	}

	switch strategy {
	case "round-robin":
		return candidates[r.rrIndex%len(candidates)]

	case "least-connections":
		best := candidates[0]
		for _, region := range candidates[1:] {
			if region.Capacity.CurrentConnections < best.Capacity.CurrentConnections {
				best = region
			}
		}
		return best

	case "latency":
		best := candidates[0]
		for _, region := range candidates[1:] {
			if region.Latency.AvgMs < best.Latency.AvgMs {
				best = region
			}
		}
		return best

	case "geographic":
		if !desc.HasGeo {
			return candidates[0]
		}
		best := candidates[0]
		bestDist := health.DistanceKm(desc.ClientLat, desc.ClientLon, best.Latitude, best.Longitude)
		for _, region := range candidates[1:] {
			dist := health.DistanceKm(desc.ClientLat, desc.ClientLon, region.Latitude, region.Longitude)
			if dist < bestDist {
				best = region
				bestDist = dist
			}
		}
		return best
	}

	return candidates[0]
}

// eligible reports whether a region may receive traffic right now. Crossing
// the consecutive-failure threshold excludes the region for the cooldown
// window; expiry re-admits it automatically. Caller holds the lock.
func (r *Router) eligible(regionID string) bool {
	region, err := r.hm.Region(regionID)
	if err != nil || region.Status != core.RegionActive {
		return false
	}

	if until, ok := r.excluded[regionID]; ok {
		if r.now().Before(until) {
			return false
		}
		delete(r.excluded, regionID)
	}

	if r.cfg.FailoverOn && r.failover.Threshold > 0 &&
		r.hm.ConsecutiveFailures(regionID) > r.failover.Threshold {
		r.exclude(regionID)
		return false
	}
	return true
}

// exclude starts a cooldown window for a region and publishes the failover
// event. Caller holds the lock.
func (r *Router) exclude(regionID string) {
	until := r.now().Add(r.cfg.Cooldown)
	r.excluded[regionID] = until

	alternative := ""
	for _, id := range r.failover.SecondaryRegions {
		if id == regionID {
			continue
		}
		region, err := r.hm.Region(id)
		if err == nil && region.Status == core.RegionActive {
			if u, ok := r.excluded[id]; !ok || !r.now().Before(u) {
				alternative = id
				break
			}
		}
	}

	r.logger.Warn("Region excluded from routing",
		zap.String("region", regionID),
		zap.Time("until", until),
		zap.String("alternative", alternative),
	)
	r.metrics.RecordFailover(regionID, alternative)
	r.events.Publish(core.EventFailover, regionID, map[string]any{
		"cooldown_until": until,
		"alternative":    alternative,
	})
}

// AddRule registers a routing rule and returns its id. Targets referencing
// unknown regions are rejected.
func (r *Router) AddRule(rule core.RoutingRule) (string, error) {
	if len(rule.Targets) == 0 {
		return "", fmt.Errorf("routing rule needs at least one target")
	}
	for _, target := range rule.Targets {
		if _, err := r.hm.Region(target.RegionID); err != nil {
			return "", fmt.Errorf("routing rule target %q: %w", target.RegionID, err)
		}
	}

	rule.ID = uuid.New().String()
	rule.CreatedAt = time.Now()

	r.mu.Lock()
	r.rules = append(r.rules, rule)
	sort.SliceStable(r.rules, func(i, j int) bool {
		return r.rules[i].Priority < r.rules[j].Priority
	})
	r.mu.Unlock()

	r.logger.Info("Routing rule added",
		zap.String("rule_id", rule.ID),
		zap.Int("priority", rule.Priority),
		zap.Int("targets", len(rule.Targets)),
	)
	return rule.ID, nil
}

// RemoveRule deletes a rule by id, reporting whether it existed.
func (r *Router) RemoveRule(ruleID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, rule := range r.rules {
		if rule.ID == ruleID {
			r.rules = append(r.rules[:i], r.rules[i+1:]...)
			return true
		}
	}
	return false
}

// Rules returns a copy of the rule set in evaluation order.
func (r *Router) Rules() []core.RoutingRule {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]core.RoutingRule, len(r.rules))
	copy(out, r.rules)
	return out
}

// ObserveLatency lets the serving glue report how long a routed request took.
func (r *Router) ObserveLatency(regionID string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.stats[regionID]
	if !ok {
		s = &regionStats{}
		r.stats[regionID] = s
	}
	s.totalMs += float64(d.Milliseconds())
	s.observed++
}

// RequestStats returns per-region request counters and observed latency.
func (r *Router) RequestStats() []core.RegionRequestStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.stats))
	for id := range r.stats {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]core.RegionRequestStats, 0, len(ids))
	for _, id := range ids {
		s := r.stats[id]
		avg := 0.0
		if s.observed > 0 {
			avg = s.totalMs / float64(s.observed)
		}
		out = append(out, core.RegionRequestStats{
			RegionID:     id,
			Requests:     s.requests,
			AvgLatencyMs: avg,
		})
	}
	return out
}

// record bumps the request counter. Caller holds the lock.
func (r *Router) record(regionID, strategy string) {
	s, ok := r.stats[regionID]
	if !ok {
		s = &regionStats{}
		r.stats[regionID] = s
	}
	s.requests++
	r.metrics.RecordRouted(regionID, strategy)
}

// ruleMatches checks every present condition field against the descriptor.
// Absent fields match anything.
func ruleMatches(rule *core.RoutingRule, desc *core.RequestDescriptor) bool {
	if rule.Path != "" && rule.Path != desc.Path {
		return false
	}
	if rule.Method != "" && rule.Method != desc.Method {
		return false
	}
	for key, want := range rule.Headers {
		if desc.Headers[key] != want {
			return false
		}
	}
	for key, want := range rule.Query {
		if desc.Query[key] != want {
			return false
		}
	}
	return true
}
