package core

import (
	"encoding/json"
	"time"
)

type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in-progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// ReplicationTask is one queued cross-region propagation of a single data
// mutation. Tasks sharing the same (DataType, DataID) are applied to each
// target in enqueue order.
type ReplicationTask struct {
	ID           string          `json:"id"`
	BatchID      string          `json:"batch_id"`
	SourceRegion string          `json:"source_region"`
	TargetRegion string          `json:"target_region"`
	DataType     string          `json:"data_type"`
	DataID       string          `json:"data_id"`
	Operation    Operation       `json:"operation"`
	Payload      json.RawMessage `json:"payload"`
	Status       TaskStatus      `json:"status"`
	RetryCount   int             `json:"retry_count"`
	LastError    string          `json:"last_error,omitempty"`
	EnqueuedAt   time.Time       `json:"enqueued_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// Terminal reports whether the task will never be dispatched again.
func (t *ReplicationTask) Terminal() bool {
	return t.Status == TaskCompleted || t.Status == TaskFailed
}

// Key identifies the ordering lane a task belongs to.
func (t *ReplicationTask) Key() string {
	return t.DataType + "|" + t.DataID
}

type ResolutionStrategy string

const (
	LastWriteWins  ResolutionStrategy = "last-write-wins"
	FirstWriteWins ResolutionStrategy = "first-write-wins"
	CustomResolve  ResolutionStrategy = "custom"
)

// DataVersion is one region's copy of a contested key.
type DataVersion struct {
	Region    string          `json:"region"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// ConflictResolution records how a conflict was settled. A conflict is
// resolved at most once.
type ConflictResolution struct {
	Strategy   ResolutionStrategy `json:"strategy"`
	ResolvedBy string             `json:"resolved_by"`
	ResolvedAt time.Time          `json:"resolved_at"`
	FinalData  json.RawMessage    `json:"final_data"`
}

// DataConflict captures concurrent divergent writes to the same key.
type DataConflict struct {
	ID         string              `json:"id"`
	DataType   string              `json:"data_type"`
	DataID     string              `json:"data_id"`
	Regions    []string            `json:"regions"`
	Versions   []DataVersion       `json:"versions"`
	DetectedAt time.Time           `json:"detected_at"`
	Resolution *ConflictResolution `json:"resolution,omitempty"`
}

// DataSyncStatus is the per-region replication view.
type DataSyncStatus struct {
	RegionID          string        `json:"region_id"`
	LastSync          time.Time     `json:"last_sync"`
	PendingOperations int           `json:"pending_operations"`
	FailedOperations  int           `json:"failed_operations"`
	SyncRatePerMin    float64       `json:"sync_rate_per_min"`
	LagMs             int64         `json:"lag_ms"`
	OpenConflicts     int           `json:"open_conflicts"`
	Lag               time.Duration `json:"-"`
}

type ReplicationStrategy string

const (
	MasterSlave         ReplicationStrategy = "master-slave"
	MasterMaster        ReplicationStrategy = "master-master"
	EventualConsistency ReplicationStrategy = "eventual-consistency"
)

// ReplicationConfig is supplied by the configuration loader at startup.
type ReplicationConfig struct {
	Enabled            bool                `json:"enabled" mapstructure:"enabled"`
	Strategy           ReplicationStrategy `json:"strategy" mapstructure:"strategy"`
	Regions            []string            `json:"regions" mapstructure:"regions"`
	ConflictResolution ResolutionStrategy  `json:"conflict_resolution" mapstructure:"conflict_resolution"`
	SyncInterval       time.Duration       `json:"sync_interval" mapstructure:"sync_interval"`
	BatchSize          int                 `json:"batch_size" mapstructure:"batch_size"`
	RetryAttempts      int                 `json:"retry_attempts" mapstructure:"retry_attempts"`
	RetryDelay         time.Duration       `json:"retry_delay" mapstructure:"retry_delay"`
}
