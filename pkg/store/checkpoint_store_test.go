package store

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCheckpointStore(t *testing.T) *CheckpointStore {
	t.Helper()
	db, driver, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s, err := NewCheckpointStore(db, driver)
	require.NoError(t, err)
	return s
}

func TestCheckpointLifecycle(t *testing.T) {
	s := newTestCheckpointStore(t)
	ctx := context.Background()

	_, err := s.Get(ctx, "t1")
	assert.ErrorIs(t, err, ErrCheckpointMissing)

	cp := &Checkpoint{
		ThreadID: "t1",
		State:    json.RawMessage(`{"period":"2025-10","revision_count":0}`),
		NextNode: "human_review",
		Status:   "interrupted",
	}
	require.NoError(t, s.Put(ctx, cp))
	assert.Equal(t, int64(1), cp.Version)

	got, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "human_review", got.NextNode)
	assert.Equal(t, "interrupted", got.Status)

	got.NextNode = "notify_approved_report"
	got.Status = "running"
	require.NoError(t, s.Put(ctx, got))
	assert.Equal(t, int64(2), got.Version)
}

func TestCheckpointVersionConflict(t *testing.T) {
	s := newTestCheckpointStore(t)
	ctx := context.Background()

	cp := &Checkpoint{ThreadID: "t1", State: json.RawMessage(`{}`), Status: "running"}
	require.NoError(t, s.Put(ctx, cp))

	stale := &Checkpoint{ThreadID: "t1", Version: 99, State: json.RawMessage(`{}`), Status: "running"}
	err := s.Put(ctx, stale)
	assert.ErrorIs(t, err, ErrVersionConflict)

	dup := &Checkpoint{ThreadID: "t1", State: json.RawMessage(`{}`), Status: "running"}
	err = s.Put(ctx, dup)
	assert.ErrorIs(t, err, ErrVersionConflict)
}

func TestCheckpointUpdateState(t *testing.T) {
	s := newTestCheckpointStore(t)
	ctx := context.Background()

	cp := &Checkpoint{
		ThreadID: "t1",
		State:    json.RawMessage(`{"human_decision":"pending","revision_count":0}`),
		NextNode: "human_review",
		Status:   "interrupted",
	}
	require.NoError(t, s.Put(ctx, cp))

	updated, err := s.UpdateState(ctx, "t1", map[string]any{
		"human_decision": "revise",
		"revision_count": 1,
	})
	require.NoError(t, err)

	var state map[string]any
	require.NoError(t, json.Unmarshal(updated.State, &state))
	assert.Equal(t, "revise", state["human_decision"])
	assert.EqualValues(t, 1, state["revision_count"])
	assert.Equal(t, "human_review", updated.NextNode)
}
