package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// CheckpointStore is the durable keyed store behind workflow suspension.
// Each thread has exactly one row; updates use optimistic versioning so a
// concurrent resume cannot silently clobber state.
type CheckpointStore struct {
	db     *sql.DB
	driver string
}

func NewCheckpointStore(db *sql.DB, driver string) (*CheckpointStore, error) {
	s := &CheckpointStore{db: db, driver: driver}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("checkpoint store migration: %w", err)
	}
	return s, nil
}

func (s *CheckpointStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS checkpoints (
		thread_id TEXT PRIMARY KEY,
		version INTEGER NOT NULL DEFAULT 0,
		state TEXT NOT NULL,
		next_node TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'running',
		updated_at TEXT NOT NULL
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *CheckpointStore) Get(ctx context.Context, threadID string) (*Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, rebind(s.driver,
		`SELECT thread_id, version, state, next_node, status, updated_at FROM checkpoints WHERE thread_id = ?`), threadID)

	var cp Checkpoint
	var state, updated string
	err := row.Scan(&cp.ThreadID, &cp.Version, &state, &cp.NextNode, &cp.Status, &updated)
	if err == sql.ErrNoRows {
		return nil, ErrCheckpointMissing
	}
	if err != nil {
		return nil, fmt.Errorf("get checkpoint: %w", err)
	}
	cp.State = json.RawMessage(state)
	cp.UpdatedAt = parseTime(updated)
	return &cp, nil
}

// Put writes a checkpoint. A zero Version creates the row; otherwise the
// stored version must match and is incremented, or ErrVersionConflict is
// returned.
func (s *CheckpointStore) Put(ctx context.Context, cp *Checkpoint) error {
	now := formatTime(time.Now())
	if cp.Version == 0 {
		_, err := s.db.ExecContext(ctx, rebind(s.driver, `
			INSERT INTO checkpoints (thread_id, version, state, next_node, status, updated_at)
			VALUES (?, 1, ?, ?, ?, ?)`),
			cp.ThreadID, string(cp.State), cp.NextNode, cp.Status, now)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrVersionConflict
			}
			return fmt.Errorf("create checkpoint: %w", err)
		}
		cp.Version = 1
		return nil
	}

	res, err := s.db.ExecContext(ctx, rebind(s.driver, `
		UPDATE checkpoints SET version = version + 1, state = ?, next_node = ?, status = ?, updated_at = ?
		WHERE thread_id = ? AND version = ?`),
		string(cp.State), cp.NextNode, cp.Status, now, cp.ThreadID, cp.Version)
	if err != nil {
		return fmt.Errorf("update checkpoint: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update checkpoint: %w", err)
	}
	if affected == 0 {
		return ErrVersionConflict
	}
	cp.Version++
	return nil
}

// UpdateState merges a patch into the stored state map under the current
// version. Used by resume to apply the human decision before re-running.
func (s *CheckpointStore) UpdateState(ctx context.Context, threadID string, patch map[string]any) (*Checkpoint, error) {
	cp, err := s.Get(ctx, threadID)
	if err != nil {
		return nil, err
	}

	var state map[string]any
	if err := json.Unmarshal(cp.State, &state); err != nil {
		return nil, fmt.Errorf("decode checkpoint state: %w", err)
	}
	for k, v := range patch {
		state[k] = v
	}
	merged, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("encode checkpoint state: %w", err)
	}
	cp.State = merged
	if err := s.Put(ctx, cp); err != nil {
		return nil, err
	}
	return cp, nil
}
