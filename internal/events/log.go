// Package events holds the capped append-only coordination event log.
// Components publish status transitions, sync activity and conflicts here;
// operator tooling reads newest-first.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/edgewatch/multiregion/internal/core"
)

// Subscriber receives every event published after registration. Subscribers
// are invoked synchronously on the publishing goroutine and must not block.
type Subscriber func(core.RegionEvent)

type Log struct {
	mu      sync.RWMutex
	entries []core.RegionEvent
	cap     int
	subs    []Subscriber
	logger  *zap.Logger
}

func NewLog(capacity int, logger *zap.Logger) *Log {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Log{
		entries: make([]core.RegionEvent, 0, capacity),
		cap:     capacity,
		logger:  logger,
	}
}

// Publish appends an event, evicting the oldest entry once the cap is
// reached, and fans it out to subscribers.
func (l *Log) Publish(eventType core.EventType, regionID string, payload map[string]any) core.RegionEvent {
	event := core.RegionEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		RegionID:  regionID,
		Timestamp: time.Now(),
		Payload:   payload,
		Severity:  core.SeverityFor(eventType),
	}

	l.mu.Lock()
	if len(l.entries) >= l.cap {
		l.entries = l.entries[1:]
	}
	l.entries = append(l.entries, event)
	subs := make([]Subscriber, len(l.subs))
	copy(subs, l.subs)
	l.mu.Unlock()

	l.logger.Debug("Event published",
		zap.String("event_id", event.ID),
		zap.String("type", string(event.Type)),
		zap.String("region", event.RegionID),
	)

	for _, sub := range subs {
		sub(event)
	}
	return event
}

// Subscribe registers a callback for all future events.
func (l *Log) Subscribe(sub Subscriber) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subs = append(l.subs, sub)
}

// Events returns up to limit entries, newest first. A non-positive limit
// returns everything.
func (l *Log) Events(limit int) []core.RegionEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := len(l.entries)
	if limit <= 0 || limit > n {
		limit = n
	}

	out := make([]core.RegionEvent, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, l.entries[i])
	}
	return out
}

// Len returns the current number of retained entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
