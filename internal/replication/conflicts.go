package replication

import (
	"bytes"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/edgewatch/multiregion/internal/core"
)

// DetectConflict examines concurrent versions of one key. Two or more
// versions with distinct payloads make a conflict; identical payloads do
// not. Without causal ordering between regions any divergence counts, which
// deliberately over-reports rather than miss a real conflict.
func (e *Engine) DetectConflict(dataType, dataID string, regions []string, versions []core.DataVersion) *core.DataConflict {
	if len(versions) < 2 {
		return nil
	}

	divergent := false
	for _, v := range versions[1:] {
		if !bytes.Equal(v.Payload, versions[0].Payload) {
			divergent = true
			break
		}
	}
	if !divergent {
		return nil
	}

	conflict := &core.DataConflict{
		ID:         uuid.New().String(),
		DataType:   dataType,
		DataID:     dataID,
		Regions:    append([]string(nil), regions...),
		Versions:   append([]core.DataVersion(nil), versions...),
		DetectedAt: time.Now(),
	}

	e.mu.Lock()
	e.conflicts[conflict.ID] = conflict
	e.mu.Unlock()

	e.metrics.RecordConflictDetected()
	e.logger.Warn("Data conflict detected",
		zap.String("conflict_id", conflict.ID),
		zap.String("data_type", dataType),
		zap.String("data_id", dataID),
		zap.Strings("regions", regions),
	)
	e.events.Publish(core.EventConflictDetected, "", map[string]any{
		"conflict_id": conflict.ID,
		"data_type":   dataType,
		"data_id":     dataID,
		"regions":     regions,
	})

	snapshot := *conflict
	return &snapshot
}

// ResolveConflict settles a conflict exactly once. last-write-wins and
// first-write-wins pick a version by timestamp and ignore finalData; custom
// uses finalData verbatim.
func (e *Engine) ResolveConflict(conflictID string, strategy core.ResolutionStrategy, resolvedBy string, finalData json.RawMessage) (*core.DataConflict, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	conflict, ok := e.conflicts[conflictID]
	if !ok {
		return nil, core.ErrUnknownConflict
	}
	if conflict.Resolution != nil {
		return nil, core.ErrConflictResolved
	}

	var resolved json.RawMessage
	switch strategy {
	case core.LastWriteWins:
		resolved = pickByTimestamp(conflict.Versions, true).Payload
	case core.FirstWriteWins:
		resolved = pickByTimestamp(conflict.Versions, false).Payload
	case core.CustomResolve:
		resolved = finalData
	default:
		return nil, core.ErrUnknownStrategy
	}

	conflict.Resolution = &core.ConflictResolution{
		Strategy:   strategy,
		ResolvedBy: resolvedBy,
		ResolvedAt: time.Now(),
		FinalData:  resolved,
	}

	e.metrics.RecordConflictResolved(string(strategy))
	e.logger.Info("Data conflict resolved",
		zap.String("conflict_id", conflictID),
		zap.String("strategy", string(strategy)),
		zap.String("resolved_by", resolvedBy),
	)

	snapshot := *conflict
	return &snapshot, nil
}

// Conflict returns one conflict by id.
func (e *Engine) Conflict(conflictID string) (*core.DataConflict, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	conflict, ok := e.conflicts[conflictID]
	if !ok {
		return nil, core.ErrUnknownConflict
	}
	snapshot := *conflict
	return &snapshot, nil
}

// Conflicts lists every known conflict, newest first.
func (e *Engine) Conflicts() []core.DataConflict {
	e.mu.Lock()
	out := make([]core.DataConflict, 0, len(e.conflicts))
	for _, conflict := range e.conflicts {
		out = append(out, *conflict)
	}
	e.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].DetectedAt.After(out[j].DetectedAt)
	})
	return out
}

// OpenConflicts counts unresolved conflicts.
func (e *Engine) OpenConflicts() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := 0
	for _, conflict := range e.conflicts {
		if conflict.Resolution == nil {
			n++
		}
	}
	return n
}

func pickByTimestamp(versions []core.DataVersion, latest bool) core.DataVersion {
	best := versions[0]
	for _, v := range versions[1:] {
		if latest && v.Timestamp.After(best.Timestamp) {
			best = v
		}
		if !latest && v.Timestamp.Before(best.Timestamp) {
			best = v
		}
	}
	return best
}
