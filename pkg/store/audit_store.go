package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// AuditStore persists the transaction audit pipeline: events, batches,
// proofs, anchors, and sync cursors. All writes are transactional; the
// database's uniqueness constraints are the cross-process coordination
// mechanism.
type AuditStore struct {
	db     *sql.DB
	driver string
}

func NewAuditStore(db *sql.DB, driver string) (*AuditStore, error) {
	s := &AuditStore{db: db, driver: driver}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("audit store migration: %w", err)
	}
	return s, nil
}

func (s *AuditStore) migrate() error {
	serial := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.driver == "postgres" {
		serial = "BIGSERIAL PRIMARY KEY"
	}
	statements := []string{
		fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS audit_events (
		id %s,
		event_id TEXT NOT NULL UNIQUE,
		block_number INTEGER NOT NULL,
		timestamp TEXT NOT NULL,
		from_addr TEXT NOT NULL DEFAULT '',
		to_addr TEXT NOT NULL DEFAULT '',
		contract_address TEXT NOT NULL DEFAULT '',
		amount TEXT NOT NULL DEFAULT '0',
		raw_json TEXT,
		details_hash TEXT,
		created_at TEXT NOT NULL
	);`, serial),
		`CREATE INDEX IF NOT EXISTS idx_audit_events_block ON audit_events (block_number DESC, id DESC);`,
		`
	CREATE TABLE IF NOT EXISTS merkle_batches (
		batch_id TEXT PRIMARY KEY,
		merkle_root TEXT NOT NULL,
		leaf_count INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		anchored_tx TEXT
	);`,
		`
	CREATE TABLE IF NOT EXISTS event_proofs (
		event_id TEXT PRIMARY KEY,
		batch_id TEXT NOT NULL,
		leaf_index INTEGER NOT NULL,
		leaf_hash TEXT NOT NULL,
		proof_path TEXT NOT NULL
	);`,
		`CREATE INDEX IF NOT EXISTS idx_event_proofs_batch ON event_proofs (batch_id);`,
		`
	CREATE TABLE IF NOT EXISTS anchor_records (
		batch_id TEXT NOT NULL,
		chain TEXT NOT NULL,
		tx_hash TEXT NOT NULL DEFAULT '',
		block_number INTEGER,
		status TEXT NOT NULL DEFAULT 'pending',
		anchored_at TEXT,
		PRIMARY KEY (batch_id, chain)
	);`,
		`
	CREATE TABLE IF NOT EXISTS sync_state (
		source TEXT PRIMARY KEY,
		last_block INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL
	);`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(context.Background(), stmt); err != nil {
			return err
		}
	}
	return nil
}

// AppendEvent commits one event. Returns ErrDuplicateEvent if event_id
// already exists.
func (s *AuditStore) AppendEvent(ctx context.Context, ev *AuditEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var one int
	err = tx.QueryRowContext(ctx,
		rebind(s.driver, `SELECT 1 FROM audit_events WHERE event_id = ?`), ev.EventID).Scan(&one)
	if err == nil {
		return ErrDuplicateEvent
	}
	if err != sql.ErrNoRows {
		return fmt.Errorf("duplicate check: %w", err)
	}

	createdAt := ev.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = tx.ExecContext(ctx, rebind(s.driver, `
		INSERT INTO audit_events (event_id, block_number, timestamp, from_addr, to_addr, contract_address, amount, raw_json, details_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		ev.EventID, ev.BlockNumber, formatTime(ev.Timestamp),
		ev.From, ev.To, ev.ContractAddress, ev.Amount,
		string(ev.RawJSON), ev.DetailsHash, formatTime(createdAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEvent
		}
		return fmt.Errorf("insert event: %w", err)
	}
	return tx.Commit()
}

func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate key")
}

const eventColumns = `id, event_id, block_number, timestamp, from_addr, to_addr, contract_address, amount, raw_json, details_hash, created_at`

func (s *AuditStore) GetEvent(ctx context.Context, eventID string) (*AuditEvent, error) {
	row := s.db.QueryRowContext(ctx, rebind(s.driver,
		`SELECT `+eventColumns+` FROM audit_events WHERE event_id = ?`), eventID)
	ev, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, ErrEventNotFound
	}
	return ev, err
}

func (s *AuditStore) RecentEvents(ctx context.Context, limit int) ([]AuditEvent, error) {
	rows, err := s.db.QueryContext(ctx, rebind(s.driver,
		`SELECT `+eventColumns+` FROM audit_events ORDER BY block_number DESC, id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("recent events: %w", err)
	}
	return collectEvents(rows)
}

// SearchEvents applies the filter set shared by events_search and
// proof_pack_batch. Results are ordered by (block_number, id) descending.
func (s *AuditStore) SearchEvents(ctx context.Context, q SearchQuery) ([]AuditEvent, error) {
	var conds []string
	var args []any

	if q.TxHash != "" {
		tx := strings.ToLower(q.TxHash)
		if q.TxPrefixOK && len(tx) < 66 {
			conds = append(conds, `LOWER(event_id) LIKE ?`)
			args = append(args, tx+"%")
		} else {
			conds = append(conds, `LOWER(event_id) = ?`)
			args = append(args, tx)
		}
	}
	if q.Address != "" {
		addr := strings.ToLower(q.Address)
		switch q.Role {
		case "from":
			conds = append(conds, `LOWER(from_addr) = ?`)
			args = append(args, addr)
		case "to":
			conds = append(conds, `LOWER(to_addr) = ?`)
			args = append(args, addr)
		default:
			conds = append(conds, `(LOWER(from_addr) = ? OR LOWER(to_addr) = ?)`)
			args = append(args, addr, addr)
		}
	}
	if q.MinAmount != nil {
		conds = append(conds, `CAST(amount AS REAL) >= ?`)
		args = append(args, *q.MinAmount)
	}
	if q.MaxAmount != nil {
		conds = append(conds, `CAST(amount AS REAL) <= ?`)
		args = append(args, *q.MaxAmount)
	}
	if q.BlockMin != nil {
		conds = append(conds, `block_number >= ?`)
		args = append(args, *q.BlockMin)
	}
	if q.BlockMax != nil {
		conds = append(conds, `block_number <= ?`)
		args = append(args, *q.BlockMax)
	}
	if q.StartTime != nil {
		conds = append(conds, `timestamp >= ?`)
		args = append(args, formatTime(*q.StartTime))
	}
	if q.EndTime != nil {
		conds = append(conds, `timestamp <= ?`)
		args = append(args, formatTime(*q.EndTime))
	}

	query := `SELECT ` + eventColumns + ` FROM audit_events`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY block_number DESC, id DESC`
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, rebind(s.driver, query), args...)
	if err != nil {
		return nil, fmt.Errorf("search events: %w", err)
	}
	return collectEvents(rows)
}

// MaxBlock returns the highest block number present, or zero when empty.
func (s *AuditStore) MaxBlock(ctx context.Context) (int64, error) {
	var max sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(block_number) FROM audit_events`).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("max block: %w", err)
	}
	return max.Int64, nil
}

// GetLastBlock returns the sync cursor for source; ok is false when the
// cursor has never been set.
func (s *AuditStore) GetLastBlock(ctx context.Context, source string) (int64, bool, error) {
	var last int64
	err := s.db.QueryRowContext(ctx, rebind(s.driver,
		`SELECT last_block FROM sync_state WHERE source = ?`), source).Scan(&last)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get last block: %w", err)
	}
	return last, true, nil
}

// SetLastBlock advances the cursor. Idempotent and monotone: a lower value
// never overwrites a higher one.
func (s *AuditStore) SetLastBlock(ctx context.Context, source string, n int64) error {
	now := formatTime(time.Now())
	res, err := s.db.ExecContext(ctx, rebind(s.driver,
		`UPDATE sync_state SET last_block = ?, updated_at = ? WHERE source = ? AND last_block < ?`),
		n, now, source, n)
	if err != nil {
		return fmt.Errorf("advance cursor: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected > 0 {
		return nil
	}

	var existing int64
	err = s.db.QueryRowContext(ctx, rebind(s.driver,
		`SELECT last_block FROM sync_state WHERE source = ?`), source).Scan(&existing)
	if err == sql.ErrNoRows {
		_, err = s.db.ExecContext(ctx, rebind(s.driver,
			`INSERT INTO sync_state (source, last_block, updated_at) VALUES (?, ?, ?)`),
			source, n, now)
		if err != nil && !isUniqueViolation(err) {
			return fmt.Errorf("create cursor: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("read cursor: %w", err)
	}
	// existing >= n: monotone no-op
	return nil
}

// SyncCursors lists every cursor, for the sync_state tool.
func (s *AuditStore) SyncCursors(ctx context.Context) ([]SyncCursor, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT source, last_block, updated_at FROM sync_state ORDER BY source`)
	if err != nil {
		return nil, fmt.Errorf("sync cursors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []SyncCursor
	for rows.Next() {
		var c SyncCursor
		var updated string
		if err := rows.Scan(&c.Source, &c.LastBlock, &updated); err != nil {
			return nil, err
		}
		c.UpdatedAt = parseTime(updated)
		out = append(out, c)
	}
	return out, rows.Err()
}

// CountUnproven counts events without an inclusion proof.
func (s *AuditStore) CountUnproven(ctx context.Context, minBlock *int64) (int, error) {
	query := `
		SELECT COUNT(*) FROM audit_events e
		WHERE NOT EXISTS (SELECT 1 FROM event_proofs p WHERE p.event_id = e.event_id)`
	var args []any
	if minBlock != nil {
		query += ` AND e.block_number >= ?`
		args = append(args, *minBlock)
	}
	var count int
	if err := s.db.QueryRowContext(ctx, rebind(s.driver, query), args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count unproven: %w", err)
	}
	return count, nil
}

// SelectUnproven returns up to limit events lacking a proof, ordered by
// (block_number, id) ascending for "oldest" and descending for "latest".
func (s *AuditStore) SelectUnproven(ctx context.Context, limit int, order string, minBlock *int64) ([]AuditEvent, error) {
	dir := "ASC"
	if order == "latest" {
		dir = "DESC"
	}
	query := `
		SELECT ` + eventColumns + ` FROM audit_events e
		WHERE NOT EXISTS (SELECT 1 FROM event_proofs p WHERE p.event_id = e.event_id)`
	var args []any
	if minBlock != nil {
		query += ` AND e.block_number >= ?`
		args = append(args, *minBlock)
	}
	query += fmt.Sprintf(` ORDER BY e.block_number %s, e.id %s LIMIT ?`, dir, dir)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, rebind(s.driver, query), args...)
	if err != nil {
		return nil, fmt.Errorf("select unproven: %w", err)
	}
	return collectEvents(rows)
}

// InsertBatch commits a batch and its per-event proofs atomically.
func (s *AuditStore) InsertBatch(ctx context.Context, batch *MerkleBatch, proofs []EventProof) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, rebind(s.driver, `
		INSERT INTO merkle_batches (batch_id, merkle_root, leaf_count, created_at, anchored_tx)
		VALUES (?, ?, ?, ?, ?)`),
		batch.BatchID, batch.MerkleRoot, batch.LeafCount, formatTime(batch.CreatedAt),
		nullIfEmpty(batch.AnchoredTx))
	if err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}

	for _, p := range proofs {
		pathJSON, err := json.Marshal(p.ProofPath)
		if err != nil {
			return fmt.Errorf("marshal proof path: %w", err)
		}
		_, err = tx.ExecContext(ctx, rebind(s.driver, `
			INSERT INTO event_proofs (event_id, batch_id, leaf_index, leaf_hash, proof_path)
			VALUES (?, ?, ?, ?, ?)`),
			p.EventID, batch.BatchID, p.LeafIndex, p.LeafHash, string(pathJSON))
		if err != nil {
			return fmt.Errorf("insert proof for %s: %w", p.EventID, err)
		}
	}
	return tx.Commit()
}

func (s *AuditStore) GetBatch(ctx context.Context, batchID string) (*MerkleBatch, error) {
	row := s.db.QueryRowContext(ctx, rebind(s.driver,
		`SELECT batch_id, merkle_root, leaf_count, created_at, anchored_tx FROM merkle_batches WHERE batch_id = ?`), batchID)
	b, err := scanBatch(row)
	if err == sql.ErrNoRows {
		return nil, ErrBatchNotFound
	}
	return b, err
}

func (s *AuditStore) RecentBatches(ctx context.Context, limit int) ([]MerkleBatch, error) {
	rows, err := s.db.QueryContext(ctx, rebind(s.driver,
		`SELECT batch_id, merkle_root, leaf_count, created_at, anchored_tx FROM merkle_batches ORDER BY batch_id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("recent batches: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []MerkleBatch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// BatchEvents lists a batch's events in leaf order. limit <= 0 means all.
func (s *AuditStore) BatchEvents(ctx context.Context, batchID string, limit int) ([]BatchEvent, error) {
	if limit <= 0 {
		limit = 1 << 30
	}
	rows, err := s.db.QueryContext(ctx, rebind(s.driver, `
		SELECT e.id, e.event_id, e.block_number, e.timestamp, e.from_addr, e.to_addr, e.contract_address, e.amount, e.raw_json, e.details_hash, e.created_at, p.leaf_index
		FROM event_proofs p
		JOIN audit_events e ON e.event_id = p.event_id
		WHERE p.batch_id = ?
		ORDER BY p.leaf_index ASC
		LIMIT ?`), batchID, limit)
	if err != nil {
		return nil, fmt.Errorf("batch events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []BatchEvent
	for rows.Next() {
		var (
			ev        AuditEvent
			ts, cts   string
			raw, hash sql.NullString
			leafIndex int
		)
		if err := rows.Scan(&ev.ID, &ev.EventID, &ev.BlockNumber, &ts, &ev.From, &ev.To,
			&ev.ContractAddress, &ev.Amount, &raw, &hash, &cts, &leafIndex); err != nil {
			return nil, err
		}
		ev.Timestamp = parseTime(ts)
		ev.CreatedAt = parseTime(cts)
		if raw.Valid && raw.String != "" {
			ev.RawJSON = json.RawMessage(raw.String)
		}
		ev.DetailsHash = hash.String
		out = append(out, BatchEvent{Event: ev, LeafIndex: leafIndex})
	}
	return out, rows.Err()
}

func (s *AuditStore) GetProof(ctx context.Context, eventID string) (*EventProof, error) {
	row := s.db.QueryRowContext(ctx, rebind(s.driver,
		`SELECT event_id, batch_id, leaf_index, leaf_hash, proof_path FROM event_proofs WHERE event_id = ?`), eventID)

	var p EventProof
	var pathJSON string
	err := row.Scan(&p.EventID, &p.BatchID, &p.LeafIndex, &p.LeafHash, &pathJSON)
	if err == sql.ErrNoRows {
		return nil, ErrProofNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get proof: %w", err)
	}
	if err := json.Unmarshal([]byte(pathJSON), &p.ProofPath); err != nil {
		return nil, fmt.Errorf("decode proof path: %w", err)
	}
	return &p, nil
}

// UpsertAnchor records anchoring of a batch on a chain. anchored_at is set
// on first success and never overwritten; repeated calls return the stored
// record unchanged.
func (s *AuditStore) UpsertAnchor(ctx context.Context, batchID, chain, txHash, status string, now time.Time) (*AnchorRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin anchor upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existingAt sql.NullString
	err = tx.QueryRowContext(ctx, rebind(s.driver,
		`SELECT anchored_at FROM anchor_records WHERE batch_id = ? AND chain = ?`), batchID, chain).Scan(&existingAt)
	switch {
	case err == sql.ErrNoRows:
		anchoredAt := sql.NullString{}
		if status == "anchored" {
			anchoredAt = sql.NullString{String: formatTime(now), Valid: true}
		}
		_, err = tx.ExecContext(ctx, rebind(s.driver, `
			INSERT INTO anchor_records (batch_id, chain, tx_hash, status, anchored_at)
			VALUES (?, ?, ?, ?, ?)`),
			batchID, chain, txHash, status, anchoredAt)
		if err != nil && !isUniqueViolation(err) {
			return nil, fmt.Errorf("insert anchor: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("read anchor: %w", err)
	default:
		if existingAt.Valid && existingAt.String != "" {
			// anchored_at is set-once; only status and tx may be refreshed
			_, err = tx.ExecContext(ctx, rebind(s.driver,
				`UPDATE anchor_records SET tx_hash = ?, status = ? WHERE batch_id = ? AND chain = ?`),
				txHash, status, batchID, chain)
		} else {
			anchoredAt := sql.NullString{}
			if status == "anchored" {
				anchoredAt = sql.NullString{String: formatTime(now), Valid: true}
			}
			_, err = tx.ExecContext(ctx, rebind(s.driver,
				`UPDATE anchor_records SET tx_hash = ?, status = ?, anchored_at = ? WHERE batch_id = ? AND chain = ?`),
				txHash, status, anchoredAt, batchID, chain)
		}
		if err != nil {
			return nil, fmt.Errorf("update anchor: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit anchor: %w", err)
	}
	return s.GetAnchor(ctx, batchID, chain)
}

func (s *AuditStore) GetAnchor(ctx context.Context, batchID, chain string) (*AnchorRecord, error) {
	row := s.db.QueryRowContext(ctx, rebind(s.driver,
		`SELECT batch_id, chain, tx_hash, block_number, status, anchored_at FROM anchor_records WHERE batch_id = ? AND chain = ?`),
		batchID, chain)
	a, err := scanAnchor(row)
	if err == sql.ErrNoRows {
		return nil, ErrAnchorNotFound
	}
	return a, err
}

func (s *AuditStore) AnchorsForBatch(ctx context.Context, batchID string) ([]AnchorRecord, error) {
	rows, err := s.db.QueryContext(ctx, rebind(s.driver,
		`SELECT batch_id, chain, tx_hash, block_number, status, anchored_at FROM anchor_records WHERE batch_id = ? ORDER BY chain`), batchID)
	if err != nil {
		return nil, fmt.Errorf("anchors for batch: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []AnchorRecord
	for rows.Next() {
		a, err := scanAnchor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// SetBatchAnchoredTx backfills the batch's anchored_tx if still empty.
func (s *AuditStore) SetBatchAnchoredTx(ctx context.Context, batchID, txHash string) error {
	_, err := s.db.ExecContext(ctx, rebind(s.driver,
		`UPDATE merkle_batches SET anchored_tx = ? WHERE batch_id = ? AND (anchored_tx IS NULL OR anchored_tx = '')`),
		txHash, batchID)
	if err != nil {
		return fmt.Errorf("set batch anchored tx: %w", err)
	}
	return nil
}

// EventsMissingHash returns events whose details_hash was never populated,
// oldest first, for the one-time backfill.
func (s *AuditStore) EventsMissingHash(ctx context.Context, limit int) ([]AuditEvent, error) {
	rows, err := s.db.QueryContext(ctx, rebind(s.driver,
		`SELECT `+eventColumns+` FROM audit_events WHERE details_hash IS NULL OR details_hash = '' ORDER BY id ASC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("events missing hash: %w", err)
	}
	return collectEvents(rows)
}

// UpdateDetailsHash populates a missing details_hash. Existing values are
// never overwritten.
func (s *AuditStore) UpdateDetailsHash(ctx context.Context, eventID, hash string) error {
	_, err := s.db.ExecContext(ctx, rebind(s.driver,
		`UPDATE audit_events SET details_hash = ? WHERE event_id = ? AND (details_hash IS NULL OR details_hash = '')`),
		hash, eventID)
	if err != nil {
		return fmt.Errorf("update details hash: %w", err)
	}
	return nil
}

// Bundle joins event, proof, batch, and all anchors for one event.
func (s *AuditStore) Bundle(ctx context.Context, eventID string) (*VerificationBundle, error) {
	ev, err := s.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	bundle := &VerificationBundle{Event: *ev}

	proof, err := s.GetProof(ctx, eventID)
	if err == ErrProofNotFound {
		return bundle, nil
	}
	if err != nil {
		return nil, err
	}
	bundle.Proof = proof

	batch, err := s.GetBatch(ctx, proof.BatchID)
	if err != nil && err != ErrBatchNotFound {
		return nil, err
	}
	bundle.Batch = batch

	anchors, err := s.AnchorsForBatch(ctx, proof.BatchID)
	if err != nil {
		return nil, err
	}
	bundle.Anchors = anchors
	return bundle, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(r rowScanner) (*AuditEvent, error) {
	var (
		ev        AuditEvent
		ts, cts   string
		raw, hash sql.NullString
	)
	err := r.Scan(&ev.ID, &ev.EventID, &ev.BlockNumber, &ts, &ev.From, &ev.To,
		&ev.ContractAddress, &ev.Amount, &raw, &hash, &cts)
	if err != nil {
		return nil, err
	}
	ev.Timestamp = parseTime(ts)
	ev.CreatedAt = parseTime(cts)
	if raw.Valid && raw.String != "" {
		ev.RawJSON = json.RawMessage(raw.String)
	}
	ev.DetailsHash = hash.String
	return &ev, nil
}

func collectEvents(rows *sql.Rows) ([]AuditEvent, error) {
	defer func() { _ = rows.Close() }()
	var out []AuditEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ev)
	}
	return out, rows.Err()
}

func scanBatch(r rowScanner) (*MerkleBatch, error) {
	var b MerkleBatch
	var created string
	var anchored sql.NullString
	if err := r.Scan(&b.BatchID, &b.MerkleRoot, &b.LeafCount, &created, &anchored); err != nil {
		return nil, err
	}
	b.CreatedAt = parseTime(created)
	b.AnchoredTx = anchored.String
	return &b, nil
}

func scanAnchor(r rowScanner) (*AnchorRecord, error) {
	var a AnchorRecord
	var block sql.NullInt64
	var anchoredAt sql.NullString
	if err := r.Scan(&a.BatchID, &a.Chain, &a.TxHash, &block, &a.Status, &anchoredAt); err != nil {
		return nil, err
	}
	if block.Valid {
		a.BlockNumber = &block.Int64
	}
	if anchoredAt.Valid && anchoredAt.String != "" {
		t := parseTime(anchoredAt.String)
		a.AnchoredAt = &t
	}
	return &a, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
