package core

import (
	"time"
)

type EventType string

const (
	EventRegionUp          EventType = "region-up"
	EventRegionDown        EventType = "region-down"
	EventRegionMaintenance EventType = "region-maintenance"
	EventDataSync          EventType = "data-sync"
	EventConflictDetected  EventType = "conflict-detected"
	EventFailover          EventType = "failover"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// RegionEvent is one entry in the capped append-only coordination log.
type RegionEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	RegionID  string         `json:"region_id"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
	Severity  Severity       `json:"severity"`
}

// SeverityFor maps an event type to its fixed severity.
func SeverityFor(t EventType) Severity {
	switch t {
	case EventRegionDown, EventFailover:
		return SeverityCritical
	case EventConflictDetected, EventRegionMaintenance:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}
