package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// ReviewStore persists human-review tasks and reviewer credentials.
type ReviewStore struct {
	db     *sql.DB
	driver string
}

func NewReviewStore(db *sql.DB, driver string) (*ReviewStore, error) {
	s := &ReviewStore{db: db, driver: driver}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("review store migration: %w", err)
	}
	return s, nil
}

func (s *ReviewStore) migrate() error {
	serial := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.driver == "postgres" {
		serial = "BIGSERIAL PRIMARY KEY"
	}
	statements := []string{
		fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS human_review_tasks (
		id %s,
		period TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		report_path TEXT NOT NULL DEFAULT '',
		summary_json TEXT,
		flow_run_id TEXT NOT NULL,
		checkpoint_id TEXT,
		reviewer TEXT,
		comment TEXT,
		revision_count INTEGER NOT NULL DEFAULT 0,
		last_decision TEXT,
		created_at TEXT NOT NULL,
		decided_at TEXT,
		last_revised_at TEXT
	);`, serial),
		`CREATE INDEX IF NOT EXISTS idx_review_tasks_flow ON human_review_tasks (flow_run_id, status);`,
		`CREATE INDEX IF NOT EXISTS idx_review_tasks_period ON human_review_tasks (period);`,
		`
	CREATE TABLE IF NOT EXISTS reviewers (
		name TEXT PRIMARY KEY,
		password_hash TEXT NOT NULL,
		created_at TEXT NOT NULL
	);`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(context.Background(), stmt); err != nil {
			return err
		}
	}
	return nil
}

const taskColumns = `id, period, status, report_path, summary_json, flow_run_id, checkpoint_id, reviewer, comment, revision_count, last_decision, created_at, decided_at, last_revised_at`

// CreateTask records a new pending review task. Any earlier pending or
// revised task for the same flow run is completed first so at most one
// task per flow run is awaiting review.
func (s *ReviewStore) CreateTask(ctx context.Context, t *ReviewTask) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin create task: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, rebind(s.driver,
		`UPDATE human_review_tasks SET status = 'completed' WHERE flow_run_id = ? AND status IN ('pending', 'revised')`),
		t.FlowRunID)
	if err != nil {
		return 0, fmt.Errorf("supersede tasks: %w", err)
	}

	createdAt := t.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	if t.Status == "" {
		t.Status = "pending"
	}

	var id int64
	if s.driver == "postgres" {
		err = tx.QueryRowContext(ctx, rebind(s.driver, `
			INSERT INTO human_review_tasks (period, status, report_path, summary_json, flow_run_id, checkpoint_id, revision_count, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`),
			t.Period, t.Status, t.ReportPath, t.SummaryJSON, t.FlowRunID, t.CheckpointID, t.RevisionCount, formatTime(createdAt)).Scan(&id)
		if err != nil {
			return 0, fmt.Errorf("insert task: %w", err)
		}
	} else {
		res, err := tx.ExecContext(ctx, rebind(s.driver, `
			INSERT INTO human_review_tasks (period, status, report_path, summary_json, flow_run_id, checkpoint_id, revision_count, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
			t.Period, t.Status, t.ReportPath, t.SummaryJSON, t.FlowRunID, t.CheckpointID, t.RevisionCount, formatTime(createdAt))
		if err != nil {
			return 0, fmt.Errorf("insert task: %w", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("task id: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit create task: %w", err)
	}
	t.ID = id
	return id, nil
}

func (s *ReviewStore) GetTask(ctx context.Context, id int64) (*ReviewTask, error) {
	row := s.db.QueryRowContext(ctx, rebind(s.driver,
		`SELECT `+taskColumns+` FROM human_review_tasks WHERE id = ?`), id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, ErrTaskNotFound
	}
	return t, err
}

func (s *ReviewStore) ListTasks(ctx context.Context, status string, limit int) ([]ReviewTask, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + taskColumns + ` FROM human_review_tasks`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, rebind(s.driver, query), args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return collectTasks(rows)
}

// TasksByPeriod lists every task for a period, newest first. Backs the
// review history endpoint.
func (s *ReviewStore) TasksByPeriod(ctx context.Context, period string) ([]ReviewTask, error) {
	rows, err := s.db.QueryContext(ctx, rebind(s.driver,
		`SELECT `+taskColumns+` FROM human_review_tasks WHERE period = ? ORDER BY id DESC`), period)
	if err != nil {
		return nil, fmt.Errorf("tasks by period: %w", err)
	}
	return collectTasks(rows)
}

// PendingTaskForFlow returns the task awaiting review on a flow run.
func (s *ReviewStore) PendingTaskForFlow(ctx context.Context, flowRunID string) (*ReviewTask, error) {
	row := s.db.QueryRowContext(ctx, rebind(s.driver,
		`SELECT `+taskColumns+` FROM human_review_tasks WHERE flow_run_id = ? AND status IN ('pending', 'revised') ORDER BY id DESC LIMIT 1`), flowRunID)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, ErrTaskNotFound
	}
	return t, err
}

// DecideTask records a reviewer decision. Status mapping: approve and
// approve_with_comment become approved, reject becomes rejected, revise
// becomes revised (with revision bookkeeping).
func (s *ReviewStore) DecideTask(ctx context.Context, id int64, decision, comment, reviewer string) (*ReviewTask, error) {
	status := ""
	switch decision {
	case "approve", "approve_with_comment":
		status = "approved"
	case "reject":
		status = "rejected"
	case "revise":
		status = "revised"
	default:
		return nil, fmt.Errorf("store: invalid decision %q", decision)
	}

	now := formatTime(time.Now())
	var err error
	if decision == "revise" {
		_, err = s.db.ExecContext(ctx, rebind(s.driver, `
			UPDATE human_review_tasks
			SET status = ?, last_decision = ?, comment = ?, reviewer = ?, decided_at = ?,
			    revision_count = revision_count + 1, last_revised_at = ?
			WHERE id = ?`),
			status, decision, comment, reviewer, now, now, id)
	} else {
		_, err = s.db.ExecContext(ctx, rebind(s.driver, `
			UPDATE human_review_tasks
			SET status = ?, last_decision = ?, comment = ?, reviewer = ?, decided_at = ?
			WHERE id = ?`),
			status, decision, comment, reviewer, now, id)
	}
	if err != nil {
		return nil, fmt.Errorf("decide task: %w", err)
	}
	return s.GetTask(ctx, id)
}

// UpsertReviewer stores a reviewer credential as a bcrypt hash.
func (s *ReviewStore) UpsertReviewer(ctx context.Context, name, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash reviewer password: %w", err)
	}
	now := formatTime(time.Now())
	res, err := s.db.ExecContext(ctx, rebind(s.driver,
		`UPDATE reviewers SET password_hash = ? WHERE name = ?`), string(hash), name)
	if err != nil {
		return fmt.Errorf("update reviewer: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected > 0 {
		return nil
	}
	_, err = s.db.ExecContext(ctx, rebind(s.driver,
		`INSERT INTO reviewers (name, password_hash, created_at) VALUES (?, ?, ?)`),
		name, string(hash), now)
	if err != nil && !isUniqueViolation(err) {
		return fmt.Errorf("insert reviewer: %w", err)
	}
	return nil
}

// VerifyReviewer checks a reviewer credential.
func (s *ReviewStore) VerifyReviewer(ctx context.Context, name, password string) (bool, error) {
	var hash string
	err := s.db.QueryRowContext(ctx, rebind(s.driver,
		`SELECT password_hash FROM reviewers WHERE name = ?`), name).Scan(&hash)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read reviewer: %w", err)
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil, nil
}

func scanTask(r rowScanner) (*ReviewTask, error) {
	var (
		t                                               ReviewTask
		summary, checkpoint, reviewer, comment, lastDec sql.NullString
		created                                         string
		decidedAt, revisedAt                            sql.NullString
	)
	err := r.Scan(&t.ID, &t.Period, &t.Status, &t.ReportPath, &summary, &t.FlowRunID,
		&checkpoint, &reviewer, &comment, &t.RevisionCount, &lastDec, &created, &decidedAt, &revisedAt)
	if err != nil {
		return nil, err
	}
	t.SummaryJSON = summary.String
	t.CheckpointID = checkpoint.String
	t.Reviewer = reviewer.String
	t.Comment = comment.String
	t.LastDecision = lastDec.String
	t.CreatedAt = parseTime(created)
	if decidedAt.Valid && decidedAt.String != "" {
		at := parseTime(decidedAt.String)
		t.DecidedAt = &at
	}
	if revisedAt.Valid && revisedAt.String != "" {
		at := parseTime(revisedAt.String)
		t.LastRevisedAt = &at
	}
	return &t, nil
}

func collectTasks(rows *sql.Rows) ([]ReviewTask, error) {
	defer func() { _ = rows.Close() }()
	var out []ReviewTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}
