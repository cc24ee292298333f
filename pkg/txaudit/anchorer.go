package txaudit

import (
	"context"
	"log/slog"
	"time"

	"github.com/kwonlabs/kwon-backplane/pkg/adapters"
	"github.com/kwonlabs/kwon-backplane/pkg/store"
)

// AnchorStatus joins a batch with every anchor recorded for it.
type AnchorStatus struct {
	Batch   *store.MerkleBatch   `json:"batch"`
	Anchors []store.AnchorRecord `json:"anchors"`
}

// Anchorer publishes batch roots through an AnchorWriter and records the
// outcome. Anchoring the same (batch, chain) twice is a no-op.
type Anchorer struct {
	store        *store.AuditStore
	writer       adapters.AnchorWriter
	defaultChain string
	logger       *slog.Logger
	clock        func() time.Time
}

func NewAnchorer(st *store.AuditStore, writer adapters.AnchorWriter, defaultChain string, logger *slog.Logger) *Anchorer {
	if logger == nil {
		logger = slog.Default()
	}
	if defaultChain == "" {
		defaultChain = "mock"
	}
	return &Anchorer{store: st, writer: writer, defaultChain: defaultChain, logger: logger, clock: time.Now}
}

// WithClock overrides the time source for deterministic tests.
func (a *Anchorer) WithClock(clock func() time.Time) *Anchorer {
	a.clock = clock
	return a
}

// AnchorBatch publishes one batch to one chain. An empty chain selects the
// default. Returns the stored anchor record, existing or new.
func (a *Anchorer) AnchorBatch(ctx context.Context, batchID, chain string) (*store.AnchorRecord, error) {
	if chain == "" {
		chain = a.defaultChain
	}
	batch, err := a.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}

	txHash, _, err := a.writer.Anchor(ctx, batchID, chain)
	if err != nil {
		return nil, err
	}
	rec, err := a.store.UpsertAnchor(ctx, batchID, chain, txHash, "anchored", a.clock().UTC())
	if err != nil {
		return nil, err
	}
	if batch.AnchoredTx == "" {
		if err := a.store.SetBatchAnchoredTx(ctx, batchID, txHash); err != nil {
			a.logger.Warn("batch anchored_tx backfill failed", "batch_id", batchID, "err", err)
		}
	}

	a.logger.Info("batch anchored", "batch_id", batchID, "chain", chain, "tx_hash", rec.TxHash)
	return rec, nil
}

// Status reports the batch and all anchors recorded for it.
func (a *Anchorer) Status(ctx context.Context, batchID string) (*AnchorStatus, error) {
	batch, err := a.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	anchors, err := a.store.AnchorsForBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	return &AnchorStatus{Batch: batch, Anchors: anchors}, nil
}
