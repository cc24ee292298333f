// Package store implements the relational persistence layer: audit events,
// Merkle batches, inclusion proofs, anchor records, sync cursors, workflow
// checkpoints, and human-review tasks.
package store

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/kwonlabs/kwon-backplane/pkg/merkle"
)

var (
	ErrDuplicateEvent    = errors.New("store: duplicate event")
	ErrEventNotFound     = errors.New("store: event not found")
	ErrBatchNotFound     = errors.New("store: batch not found")
	ErrProofNotFound     = errors.New("store: proof not found")
	ErrAnchorNotFound    = errors.New("store: anchor not found")
	ErrTaskNotFound      = errors.New("store: review task not found")
	ErrCheckpointMissing = errors.New("store: checkpoint not found")
	ErrVersionConflict   = errors.New("store: checkpoint version conflict")
)

// AuditEvent is one observed ERC-20 transfer, append-only.
type AuditEvent struct {
	ID              int64           `json:"id"`
	EventID         string          `json:"event_id"` // transaction hash, globally unique
	BlockNumber     int64           `json:"block_number"`
	Timestamp       time.Time       `json:"timestamp"` // UTC; naive upstream values treated as UTC
	From            string          `json:"from_addr"`
	To              string          `json:"to_addr"`
	ContractAddress string          `json:"contract_address"`
	Amount          string          `json:"amount"` // decimal string, scaled by token decimals
	RawJSON         json.RawMessage `json:"raw_json,omitempty"`
	DetailsHash     string          `json:"details_hash"`
	CreatedAt       time.Time       `json:"created_at"`
}

// MerkleBatch commits a fixed set of event leaves to one root.
type MerkleBatch struct {
	BatchID    string    `json:"batch_id"`
	MerkleRoot string    `json:"merkle_root"`
	LeafCount  int       `json:"leaf_count"`
	CreatedAt  time.Time `json:"created_at"`
	AnchoredTx string    `json:"anchored_tx,omitempty"`
}

// EventProof is the inclusion witness for one event in one batch.
// One proof per event, ever.
type EventProof struct {
	EventID   string             `json:"event_id"`
	BatchID   string             `json:"batch_id"`
	LeafIndex int                `json:"leaf_index"`
	LeafHash  string             `json:"leaf_hash"`
	ProofPath []merkle.ProofStep `json:"proof_path"`
}

// AnchorRecord records publication of a batch root to an external ledger.
type AnchorRecord struct {
	BatchID     string     `json:"batch_id"`
	Chain       string     `json:"chain"`
	TxHash      string     `json:"tx_hash"`
	BlockNumber *int64     `json:"block_number,omitempty"`
	Status      string     `json:"status"` // anchored | not_anchored | pending
	AnchoredAt  *time.Time `json:"anchored_at,omitempty"`
}

// SyncCursor is the per-source ingestion checkpoint.
type SyncCursor struct {
	Source    string    `json:"source"`
	LastBlock int64     `json:"last_block"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BatchEvent pairs an event with its position inside a batch.
type BatchEvent struct {
	Event     AuditEvent `json:"event"`
	LeafIndex int        `json:"leaf_index"`
}

// VerificationBundle joins everything needed to verify one event offline.
type VerificationBundle struct {
	Event   AuditEvent     `json:"event"`
	Proof   *EventProof    `json:"proof,omitempty"`
	Batch   *MerkleBatch   `json:"batch,omitempty"`
	Anchors []AnchorRecord `json:"anchors,omitempty"`
}

// SearchQuery filters events. Zero values mean "no constraint".
type SearchQuery struct {
	Address    string // matched against from/to per Role
	Role       string // any | from | to
	TxHash     string
	TxPrefixOK bool // allow prefix match when TxHash is shorter than a full hash
	MinAmount  *float64
	MaxAmount  *float64
	BlockMin   *int64
	BlockMax   *int64
	StartTime  *time.Time
	EndTime    *time.Time
	Limit      int
}

// ReviewTask externalizes a suspended workflow awaiting approval.
type ReviewTask struct {
	ID            int64      `json:"id"`
	Period        string     `json:"period"`
	Status        string     `json:"status"` // pending | approved | rejected | revised | completed
	ReportPath    string     `json:"report_path"`
	SummaryJSON   string     `json:"summary_json,omitempty"`
	FlowRunID     string     `json:"flow_run_id"` // orchestrator thread id
	CheckpointID  string     `json:"checkpoint_id,omitempty"`
	Reviewer      string     `json:"reviewer,omitempty"`
	Comment       string     `json:"comment,omitempty"`
	RevisionCount int        `json:"revision_count"`
	LastDecision  string     `json:"last_decision,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	DecidedAt     *time.Time `json:"decided_at,omitempty"`
	LastRevisedAt *time.Time `json:"last_revised_at,omitempty"`
}

// Checkpoint is a durable workflow snapshot keyed by thread id.
type Checkpoint struct {
	ThreadID  string          `json:"thread_id"`
	Version   int64           `json:"version"`
	State     json.RawMessage `json:"state"`
	NextNode  string          `json:"next_node"`
	Status    string          `json:"status"` // running | interrupted | completed
	UpdatedAt time.Time       `json:"updated_at"`
}
