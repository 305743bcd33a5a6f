package replication

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgewatch/multiregion/internal/core"
)

func versionsAt(base time.Time) []core.DataVersion {
	return []core.DataVersion{
		{Region: "a", Payload: payload("old"), Timestamp: base},
		{Region: "b", Payload: payload("new"), Timestamp: base.Add(time.Second)},
	}
}

func TestDetectConflictRequiresDivergence(t *testing.T) {
	engine, _, _ := newTestEngine(t, newRecordingApplier(), "a", "b")

	same := []core.DataVersion{
		{Region: "a", Payload: payload("x"), Timestamp: time.Now()},
		{Region: "b", Payload: payload("x"), Timestamp: time.Now()},
	}
	assert.Nil(t, engine.DetectConflict("user", "u-1", []string{"a", "b"}, same))
	assert.Zero(t, engine.OpenConflicts())

	single := same[:1]
	assert.Nil(t, engine.DetectConflict("user", "u-1", []string{"a"}, single))
}

func TestDetectConflictRecordsAndPublishes(t *testing.T) {
	engine, _, log := newTestEngine(t, newRecordingApplier(), "a", "b")

	conflict := engine.DetectConflict("user", "u-1", []string{"a", "b"}, versionsAt(time.Now()))
	require.NotNil(t, conflict)
	assert.NotEmpty(t, conflict.ID)
	assert.Equal(t, []string{"a", "b"}, conflict.Regions)
	assert.Nil(t, conflict.Resolution)
	assert.Equal(t, 1, engine.OpenConflicts())

	events := log.Events(0)
	require.NotEmpty(t, events)
	assert.Equal(t, core.EventConflictDetected, events[0].Type)

	got, err := engine.Conflict(conflict.ID)
	require.NoError(t, err)
	assert.Equal(t, conflict.ID, got.ID)
}

func TestResolveConflictLastWriteWins(t *testing.T) {
	engine, _, _ := newTestEngine(t, newRecordingApplier(), "a", "b")
	conflict := engine.DetectConflict("user", "u-1", []string{"a", "b"}, versionsAt(time.Now()))
	require.NotNil(t, conflict)

	resolved, err := engine.ResolveConflict(conflict.ID, core.LastWriteWins, "ops", nil)
	require.NoError(t, err)
	require.NotNil(t, resolved.Resolution)
	assert.JSONEq(t, string(payload("new")), string(resolved.Resolution.FinalData))
	assert.Equal(t, "ops", resolved.Resolution.ResolvedBy)
	assert.Zero(t, engine.OpenConflicts())
}

func TestResolveConflictFirstWriteWins(t *testing.T) {
	engine, _, _ := newTestEngine(t, newRecordingApplier(), "a", "b")
	conflict := engine.DetectConflict("user", "u-1", []string{"a", "b"}, versionsAt(time.Now()))
	require.NotNil(t, conflict)

	resolved, err := engine.ResolveConflict(conflict.ID, core.FirstWriteWins, "ops", nil)
	require.NoError(t, err)
	assert.JSONEq(t, string(payload("old")), string(resolved.Resolution.FinalData))
}

func TestResolveConflictCustomUsesFinalData(t *testing.T) {
	engine, _, _ := newTestEngine(t, newRecordingApplier(), "a", "b")
	conflict := engine.DetectConflict("user", "u-1", []string{"a", "b"}, versionsAt(time.Now()))
	require.NotNil(t, conflict)

	merged := payload("merged")
	resolved, err := engine.ResolveConflict(conflict.ID, core.CustomResolve, "ops", merged)
	require.NoError(t, err)
	assert.JSONEq(t, string(merged), string(resolved.Resolution.FinalData))
}

func TestResolveConflictOnlyOnce(t *testing.T) {
	engine, _, _ := newTestEngine(t, newRecordingApplier(), "a", "b")
	conflict := engine.DetectConflict("user", "u-1", []string{"a", "b"}, versionsAt(time.Now()))
	require.NotNil(t, conflict)

	_, err := engine.ResolveConflict(conflict.ID, core.LastWriteWins, "ops", nil)
	require.NoError(t, err)

	_, err = engine.ResolveConflict(conflict.ID, core.FirstWriteWins, "ops", nil)
	assert.ErrorIs(t, err, core.ErrConflictResolved)
}

func TestResolveConflictErrors(t *testing.T) {
	engine, _, _ := newTestEngine(t, newRecordingApplier(), "a", "b")

	_, err := engine.ResolveConflict("nope", core.LastWriteWins, "ops", nil)
	assert.ErrorIs(t, err, core.ErrUnknownConflict)

	conflict := engine.DetectConflict("user", "u-1", []string{"a", "b"}, versionsAt(time.Now()))
	require.NotNil(t, conflict)

	_, err = engine.ResolveConflict(conflict.ID, core.ResolutionStrategy("majority"), "ops", nil)
	assert.ErrorIs(t, err, core.ErrUnknownStrategy)

	// A rejected strategy must not consume the conflict.
	assert.Equal(t, 1, engine.OpenConflicts())
}

func TestConflictsListsNewestFirst(t *testing.T) {
	engine, _, _ := newTestEngine(t, newRecordingApplier(), "a", "b")

	first := engine.DetectConflict("user", "u-1", []string{"a", "b"}, versionsAt(time.Now()))
	require.NotNil(t, first)
	time.Sleep(5 * time.Millisecond)
	second := engine.DetectConflict("user", "u-2", []string{"a", "b"}, versionsAt(time.Now()))
	require.NotNil(t, second)

	all := engine.Conflicts()
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID)
	assert.Equal(t, first.ID, all[1].ID)
}
