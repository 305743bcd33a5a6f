package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/edgewatch/multiregion/internal/core"
)

type Config struct {
	Server       ServerConfig
	Regions      []RegionConfig
	HealthCheck  HealthCheckConfig
	LoadBalancer LoadBalancerConfig
	Failover     core.FailoverConfig
	Replication  core.ReplicationConfig
	EventLogCap  int `mapstructure:"event_log_cap"`
}

type ServerConfig struct {
	Port string
	Mode string
}

type RegionConfig struct {
	ID        string   `mapstructure:"id"`
	Name      string   `mapstructure:"name"`
	Latitude  float64  `mapstructure:"latitude"`
	Longitude float64  `mapstructure:"longitude"`
	Endpoints []string `mapstructure:"endpoints"`
	Priority  int      `mapstructure:"priority"`
	Features  []string `mapstructure:"features"`
	MaxConns  int      `mapstructure:"max_conns"`
}

type HealthCheckConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Path     string        `mapstructure:"path"`
}

type LoadBalancerConfig struct {
	Strategy       string        `mapstructure:"strategy"`
	StickySessions bool          `mapstructure:"sticky_sessions"`
	MaxRetries     int           `mapstructure:"max_retries"`
	FailoverOn     bool          `mapstructure:"failover_on"`
	Cooldown       time.Duration `mapstructure:"cooldown"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.SetEnvPrefix("MULTIREGION")
	viper.AutomaticEnv()

	// Set defaults
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.mode", "release")
	viper.SetDefault("event_log_cap", 1000)
	viper.SetDefault("healthcheck.enabled", true)
	viper.SetDefault("healthcheck.interval", "30s")
	viper.SetDefault("healthcheck.timeout", "5s")
	viper.SetDefault("healthcheck.path", "/health")
	viper.SetDefault("loadbalancer.strategy", "round-robin")
	viper.SetDefault("loadbalancer.sticky_sessions", false)
	viper.SetDefault("loadbalancer.max_retries", 3)
	viper.SetDefault("loadbalancer.failover_on", true)
	viper.SetDefault("loadbalancer.cooldown", "60s")
	viper.SetDefault("failover.threshold", 3)
	viper.SetDefault("failover.failover_delay", "10s")
	viper.SetDefault("failover.recovery_delay", "60s")
	viper.SetDefault("failover.auto_recovery", true)
	viper.SetDefault("replication.enabled", true)
	viper.SetDefault("replication.strategy", "eventual-consistency")
	viper.SetDefault("replication.conflict_resolution", "last-write-wins")
	viper.SetDefault("replication.sync_interval", "5s")
	viper.SetDefault("replication.batch_size", 4)
	viper.SetDefault("replication.retry_attempts", 3)
	viper.SetDefault("replication.retry_delay", "1s")

	var cfg Config
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate enforces the startup invariants. A broken region or replication
// section is the only error class allowed to abort initialization.
func (c *Config) Validate() error {
	if len(c.Regions) == 0 {
		return fmt.Errorf("config: at least one region is required")
	}

	known := make(map[string]bool, len(c.Regions))
	for _, r := range c.Regions {
		if r.ID == "" {
			return fmt.Errorf("config: region with empty id")
		}
		if known[r.ID] {
			return fmt.Errorf("config: duplicate region id %q", r.ID)
		}
		known[r.ID] = true
	}

	if c.Replication.Enabled {
		if len(c.Replication.Regions) == 0 {
			return fmt.Errorf("config: replication enabled with no target regions")
		}
		for _, id := range c.Replication.Regions {
			if !known[id] {
				return fmt.Errorf("config: replication target %q is not a configured region", id)
			}
		}
		switch c.Replication.Strategy {
		case core.MasterSlave, core.MasterMaster, core.EventualConsistency:
		default:
			return fmt.Errorf("config: unknown replication strategy %q", c.Replication.Strategy)
		}
		switch c.Replication.ConflictResolution {
		case core.LastWriteWins, core.FirstWriteWins, core.CustomResolve:
		default:
			return fmt.Errorf("config: unknown conflict resolution %q", c.Replication.ConflictResolution)
		}
		if c.Replication.Strategy == core.MasterSlave && c.Failover.PrimaryRegion == "" {
			return fmt.Errorf("config: master-slave replication requires failover.primary_region")
		}
	}

	if c.Failover.PrimaryRegion != "" && !known[c.Failover.PrimaryRegion] {
		return fmt.Errorf("config: failover primary %q is not a configured region", c.Failover.PrimaryRegion)
	}
	for _, id := range c.Failover.SecondaryRegions {
		if !known[id] {
			return fmt.Errorf("config: failover secondary %q is not a configured region", id)
		}
	}

	switch c.LoadBalancer.Strategy {
	case "round-robin", "least-connections", "latency", "geographic":
	default:
		return fmt.Errorf("config: unknown load balancer strategy %q", c.LoadBalancer.Strategy)
	}

	return nil
}

// Region builds the runtime region record for one configured region.
func (rc RegionConfig) Region() *core.Region {
	maxConns := rc.MaxConns
	if maxConns == 0 {
		maxConns = 1000
	}
	return &core.Region{
		ID:        rc.ID,
		Name:      rc.Name,
		Latitude:  rc.Latitude,
		Longitude: rc.Longitude,
		Endpoints: rc.Endpoints,
		Status:    core.RegionActive,
		Priority:  rc.Priority,
		Capacity:  core.Capacity{MaxConnections: maxConns},
		Features:  rc.Features,
	}
}
