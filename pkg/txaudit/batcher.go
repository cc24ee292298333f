package txaudit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/kwonlabs/kwon-backplane/pkg/canonical"
	"github.com/kwonlabs/kwon-backplane/pkg/merkle"
	"github.com/kwonlabs/kwon-backplane/pkg/store"
)

// BatchID renders the canonical batch identifier: UTC timestamp with
// microsecond precision, e.g. 20251001T120000123456Z.
func BatchID(t time.Time) string {
	t = t.UTC()
	return t.Format("20060102T150405") + fmt.Sprintf("%06d", t.Nanosecond()/1000) + "Z"
}

// BatchResult reports one committed batch.
type BatchResult struct {
	BatchID    string `json:"batch_id"`
	MerkleRoot string `json:"merkle_root"`
	Count      int    `json:"count"`
}

// ProcessResult reports one batcher pass, batch and anchor included when
// the pending threshold was met.
type ProcessResult struct {
	PendingEvents int                 `json:"pending_events"`
	Batch         *BatchResult        `json:"batch,omitempty"`
	Anchor        *store.AnchorRecord `json:"anchor,omitempty"`
}

// Batcher folds unproven events into Merkle batches and records one
// inclusion proof per event.
type Batcher struct {
	store    *store.AuditStore
	anchorer *Anchorer
	logger   *slog.Logger
	clock    func() time.Time
}

func NewBatcher(st *store.AuditStore, anchorer *Anchorer, logger *slog.Logger) *Batcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Batcher{store: st, anchorer: anchorer, logger: logger, clock: time.Now}
}

// WithClock overrides the time source for deterministic batch ids.
func (b *Batcher) WithClock(clock func() time.Time) *Batcher {
	b.clock = clock
	return b
}

// MakeBatch commits up to limit unproven events as one batch. Returns
// (nil, nil) when no events are pending.
func (b *Batcher) MakeBatch(ctx context.Context, limit int, order string, minBlock *int64) (*BatchResult, error) {
	if limit <= 0 {
		limit = 1000
	}
	events, err := b.store.SelectUnproven(ctx, limit, order, minBlock)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}

	leaves := make([]string, 0, len(events))
	kept := make([]store.AuditEvent, 0, len(events))
	for i := range events {
		leaf := b.leafHash(ctx, &events[i])
		if leaf == "" {
			b.logger.Warn("discarding event with no usable leaf hash", "event_id", events[i].EventID)
			continue
		}
		leaves = append(leaves, leaf)
		kept = append(kept, events[i])
	}
	if len(kept) == 0 {
		return nil, nil
	}

	tree, err := merkle.Build(leaves)
	if err != nil {
		return nil, err
	}

	batch := &store.MerkleBatch{
		BatchID:    BatchID(b.clock()),
		MerkleRoot: tree.Root,
		LeafCount:  len(leaves),
		CreatedAt:  b.clock().UTC(),
	}
	proofs := make([]store.EventProof, len(kept))
	for i := range kept {
		proofs[i] = store.EventProof{
			EventID:   kept[i].EventID,
			BatchID:   batch.BatchID,
			LeafIndex: i,
			LeafHash:  leaves[i],
			ProofPath: tree.Proofs[i],
		}
	}
	if err := b.store.InsertBatch(ctx, batch, proofs); err != nil {
		return nil, err
	}

	b.logger.Info("merkle batch committed",
		"batch_id", batch.BatchID, "root", batch.MerkleRoot, "count", batch.LeafCount)
	return &BatchResult{BatchID: batch.BatchID, MerkleRoot: batch.MerkleRoot, Count: batch.LeafCount}, nil
}

// ProcessOnce runs one batcher pass: count pending events, batch when the
// threshold is met, then anchor the new batch when an anchorer is wired.
// mode selects oldest or latest events first; empty means oldest.
func (b *Batcher) ProcessOnce(ctx context.Context, minPending, batchLimit int, mode string) (*ProcessResult, error) {
	pending, err := b.store.CountUnproven(ctx, nil)
	if err != nil {
		return nil, err
	}
	result := &ProcessResult{PendingEvents: pending}
	if pending == 0 || pending < minPending {
		return result, nil
	}

	if mode == "" {
		mode = "oldest"
	}
	batch, err := b.MakeBatch(ctx, batchLimit, mode, nil)
	if err != nil {
		return nil, err
	}
	result.Batch = batch
	if batch == nil || b.anchorer == nil {
		return result, nil
	}

	anchor, err := b.anchorer.AnchorBatch(ctx, batch.BatchID, "")
	if err != nil {
		// the batch stands; anchoring retries on the next pass
		b.logger.Warn("anchoring failed", "batch_id", batch.BatchID, "err", err)
		return result, nil
	}
	result.Anchor = anchor
	return result, nil
}

// leafHash resolves the event's Merkle leaf: the normalized details hash,
// computed and backfilled from the raw payload when absent, falling back
// to the normalized tx hash. Empty means the row cannot be committed.
func (b *Batcher) leafHash(ctx context.Context, ev *store.AuditEvent) string {
	if leaf := canonical.NormalizeHex(ev.DetailsHash); leaf != "" {
		return leaf
	}
	var row map[string]any
	if err := json.Unmarshal(ev.RawJSON, &row); err == nil {
		if hash, err := canonical.DetailsHash(row); err == nil {
			if err := b.store.UpdateDetailsHash(ctx, ev.EventID, hash); err != nil {
				b.logger.Warn("details hash backfill failed", "event_id", ev.EventID, "err", err)
			}
			ev.DetailsHash = hash
			return canonical.NormalizeHex(hash)
		}
	}
	b.logger.Warn("payload not hashable, using tx hash as leaf", "event_id", ev.EventID)
	return canonical.NormalizeHex(ev.EventID)
}
