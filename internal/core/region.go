package core

import (
	"time"
)

type RegionStatus string

const (
	RegionActive      RegionStatus = "active"
	RegionInactive    RegionStatus = "inactive"
	RegionMaintenance RegionStatus = "maintenance"
	RegionFailed      RegionStatus = "failed"
)

type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// Region is one independently deployed instance of the service in a
// geographic location. Status, latency and capacity fields are owned by the
// health monitor; everything else is fixed at registration.
type Region struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Latitude    float64      `json:"latitude"`
	Longitude   float64      `json:"longitude"`
	Endpoints   []string     `json:"endpoints"`
	Status      RegionStatus `json:"status"`
	Priority    int          `json:"priority"`
	Capacity    Capacity     `json:"capacity"`
	Latency     LatencyStats `json:"latency"`
	Features    []string     `json:"features,omitempty"`
	LastChecked time.Time    `json:"last_checked"`
}

type Capacity struct {
	MaxConnections     int `json:"max_connections"`
	CurrentConnections int `json:"current_connections"`
}

type LatencyStats struct {
	AvgMs float64 `json:"avg_ms"`
	P95Ms float64 `json:"p95_ms"`
	P99Ms float64 `json:"p99_ms"`
}

// RegionHealth is the snapshot produced by one probe of one region.
// It is replaced wholesale on every probe cycle.
type RegionHealth struct {
	RegionID       string       `json:"region_id"`
	Status         HealthStatus `json:"status"`
	ResponseTimeMs float64      `json:"response_time_ms"`
	ErrorRate      float64      `json:"error_rate"`
	Issues         []string     `json:"issues,omitempty"`
	Resources      Resources    `json:"resources"`
	CheckedAt      time.Time    `json:"checked_at"`
}

type Resources struct {
	CPUPercent  float64 `json:"cpu_percent"`
	MemPercent  float64 `json:"mem_percent"`
	DiskPercent float64 `json:"disk_percent"`
	NetMbps     float64 `json:"net_mbps"`
}

// RequestDescriptor carries the routable attributes of one inbound request.
// Zero-value fields are simply absent; the router matches on what is there.
type RequestDescriptor struct {
	Path      string            `json:"path"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers,omitempty"`
	Query     map[string]string `json:"query,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	ClientLat float64           `json:"client_lat"`
	ClientLon float64           `json:"client_lon"`
	HasGeo    bool              `json:"has_geo"`
}

// RoutingRule directs matching requests to weighted target regions.
// Absent condition fields match anything; lower priority evaluates first.
type RoutingRule struct {
	ID        string            `json:"id"`
	Path      string            `json:"path,omitempty"`
	Method    string            `json:"method,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	Query     map[string]string `json:"query,omitempty"`
	Targets   []RuleTarget      `json:"targets"`
	Priority  int               `json:"priority"`
	CreatedAt time.Time         `json:"created_at"`
}

type RuleTarget struct {
	RegionID string `json:"region_id"`
	Weight   int    `json:"weight"`
}

// FailoverConfig controls when a region is excluded from routing candidates.
type FailoverConfig struct {
	PrimaryRegion    string        `json:"primary_region" mapstructure:"primary_region"`
	SecondaryRegions []string      `json:"secondary_regions" mapstructure:"secondary_regions"`
	Threshold        int           `json:"threshold" mapstructure:"threshold"`
	FailoverDelay    time.Duration `json:"failover_delay" mapstructure:"failover_delay"`
	RecoveryDelay    time.Duration `json:"recovery_delay" mapstructure:"recovery_delay"`
	AutoRecovery     bool          `json:"auto_recovery" mapstructure:"auto_recovery"`
}

// RegionRequestStats are the per-region counters the router maintains.
type RegionRequestStats struct {
	RegionID     string  `json:"region_id"`
	Requests     int64   `json:"requests"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

// MultiRegionMetrics is the coordinator's aggregate view.
type MultiRegionMetrics struct {
	TotalRegions          int     `json:"total_regions"`
	ActiveRegions         int     `json:"active_regions"`
	FailedRegions         int     `json:"failed_regions"`
	MaintenanceRegions    int     `json:"maintenance_regions"`
	AvgResponseTimeMs     float64 `json:"avg_response_time_ms"`
	AvgErrorRate          float64 `json:"avg_error_rate"`
	ReplicationQueueDepth int     `json:"replication_queue_depth"`
	OpenConflicts         int     `json:"open_conflicts"`
	RoutedRequests        int64   `json:"routed_requests"`
}

// HealthSummary classifies the deployment as a whole.
type HealthSummary struct {
	Overall          HealthStatus            `json:"overall"`
	TotalRegions     int                     `json:"total_regions"`
	UnhealthyRegions int                     `json:"unhealthy_regions"`
	Regions          map[string]HealthStatus `json:"regions"`
	GeneratedAt      time.Time               `json:"generated_at"`
}
