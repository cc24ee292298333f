package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwonlabs/kwon-backplane/pkg/merkle"
)

func newTestAuditStore(t *testing.T) *AuditStore {
	t.Helper()
	db, driver, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s, err := NewAuditStore(db, driver)
	require.NoError(t, err)
	return s
}

func sampleEvent(id string, block int64) *AuditEvent {
	return &AuditEvent{
		EventID:         id,
		BlockNumber:     block,
		Timestamp:       time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(block) * time.Second),
		From:            "0xfrom",
		To:              "0xto",
		ContractAddress: "0xcontract",
		Amount:          "1000",
		DetailsHash:     "ab12",
	}
}

func TestAppendEventDuplicate(t *testing.T) {
	s := newTestAuditStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendEvent(ctx, sampleEvent("0xaa", 100)))
	err := s.AppendEvent(ctx, sampleEvent("0xaa", 100))
	assert.ErrorIs(t, err, ErrDuplicateEvent)

	ev, err := s.GetEvent(ctx, "0xaa")
	require.NoError(t, err)
	assert.Equal(t, int64(100), ev.BlockNumber)
}

func TestGetEventNotFound(t *testing.T) {
	s := newTestAuditStore(t)
	_, err := s.GetEvent(context.Background(), "0xmissing")
	assert.ErrorIs(t, err, ErrEventNotFound)
}

func TestSyncCursorMonotone(t *testing.T) {
	s := newTestAuditStore(t)
	ctx := context.Background()

	_, ok, err := s.GetLastBlock(ctx, "local_sfiat")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetLastBlock(ctx, "local_sfiat", 100))
	require.NoError(t, s.SetLastBlock(ctx, "local_sfiat", 50)) // lower: no-op
	last, ok, err := s.GetLastBlock(ctx, "local_sfiat")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(100), last)

	require.NoError(t, s.SetLastBlock(ctx, "local_sfiat", 150))
	last, _, _ = s.GetLastBlock(ctx, "local_sfiat")
	assert.Equal(t, int64(150), last)
}

func TestSelectUnprovenOrdering(t *testing.T) {
	s := newTestAuditStore(t)
	ctx := context.Background()

	for _, ev := range []*AuditEvent{
		sampleEvent("0xcc", 102), sampleEvent("0xaa", 100), sampleEvent("0xbb", 101),
	} {
		require.NoError(t, s.AppendEvent(ctx, ev))
	}

	oldest, err := s.SelectUnproven(ctx, 10, "oldest", nil)
	require.NoError(t, err)
	require.Len(t, oldest, 3)
	assert.Equal(t, "0xaa", oldest[0].EventID)
	assert.Equal(t, "0xcc", oldest[2].EventID)

	latest, err := s.SelectUnproven(ctx, 2, "latest", nil)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "0xcc", latest[0].EventID)

	min := int64(101)
	bounded, err := s.SelectUnproven(ctx, 10, "oldest", &min)
	require.NoError(t, err)
	assert.Len(t, bounded, 2)
}

func TestInsertBatchAndProofs(t *testing.T) {
	s := newTestAuditStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendEvent(ctx, sampleEvent("0xaa", 100)))
	require.NoError(t, s.AppendEvent(ctx, sampleEvent("0xbb", 101)))

	batch := &MerkleBatch{
		BatchID:    "20251001T000000000000Z",
		MerkleRoot: "cafe",
		LeafCount:  2,
		CreatedAt:  time.Now().UTC(),
	}
	proofs := []EventProof{
		{EventID: "0xaa", BatchID: batch.BatchID, LeafIndex: 0, LeafHash: "aa01", ProofPath: []merkle.ProofStep{{Pos: "R", Hash: "bb02"}}},
		{EventID: "0xbb", BatchID: batch.BatchID, LeafIndex: 1, LeafHash: "bb02", ProofPath: []merkle.ProofStep{{Pos: "L", Hash: "aa01"}}},
	}
	require.NoError(t, s.InsertBatch(ctx, batch, proofs))

	// Both events now proven
	count, err := s.CountUnproven(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, count)

	p, err := s.GetProof(ctx, "0xbb")
	require.NoError(t, err)
	assert.Equal(t, 1, p.LeafIndex)
	require.Len(t, p.ProofPath, 1)
	assert.Equal(t, "L", p.ProofPath[0].Pos)

	// A second proof for the same event must be rejected
	err = s.InsertBatch(ctx, &MerkleBatch{BatchID: "20251001T000000000001Z", MerkleRoot: "beef", LeafCount: 1, CreatedAt: time.Now().UTC()},
		[]EventProof{{EventID: "0xaa", BatchID: "20251001T000000000001Z", LeafIndex: 0, LeafHash: "aa01"}})
	assert.Error(t, err)

	evs, err := s.BatchEvents(ctx, batch.BatchID, 100)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, 0, evs[0].LeafIndex)
	assert.Equal(t, "0xaa", evs[0].Event.EventID)
}

func TestUpsertAnchorIdempotent(t *testing.T) {
	s := newTestAuditStore(t)
	ctx := context.Background()

	now := time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)
	a1, err := s.UpsertAnchor(ctx, "b1", "mock", "mock-b1", "anchored", now)
	require.NoError(t, err)
	require.NotNil(t, a1.AnchoredAt)

	later := now.Add(time.Hour)
	a2, err := s.UpsertAnchor(ctx, "b1", "mock", "mock-b1", "anchored", later)
	require.NoError(t, err)
	assert.Equal(t, a1.TxHash, a2.TxHash)
	// anchored_at is set-once
	assert.True(t, a1.AnchoredAt.Equal(*a2.AnchoredAt))

	// A different chain is a separate record
	a3, err := s.UpsertAnchor(ctx, "b1", "testnet", "tn-b1", "pending", later)
	require.NoError(t, err)
	assert.Nil(t, a3.AnchoredAt)

	anchors, err := s.AnchorsForBatch(ctx, "b1")
	require.NoError(t, err)
	assert.Len(t, anchors, 2)
}

func TestSearchEvents(t *testing.T) {
	s := newTestAuditStore(t)
	ctx := context.Background()

	ev1 := sampleEvent("0xabc111", 100)
	ev1.From = "0xAlice"
	ev1.Amount = "500"
	ev2 := sampleEvent("0xdef222", 200)
	ev2.To = "0xalice"
	ev2.Amount = "1500"
	require.NoError(t, s.AppendEvent(ctx, ev1))
	require.NoError(t, s.AppendEvent(ctx, ev2))

	// prefix match on short hash
	res, err := s.SearchEvents(ctx, SearchQuery{TxHash: "0xabc", TxPrefixOK: true})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "0xabc111", res[0].EventID)

	// address with role any matches both directions, case-insensitive
	res, err = s.SearchEvents(ctx, SearchQuery{Address: "0xALICE", Role: "any"})
	require.NoError(t, err)
	assert.Len(t, res, 2)

	res, err = s.SearchEvents(ctx, SearchQuery{Address: "0xalice", Role: "from"})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "0xabc111", res[0].EventID)

	minAmt := 1000.0
	res, err = s.SearchEvents(ctx, SearchQuery{MinAmount: &minAmt})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "0xdef222", res[0].EventID)

	bmin, bmax := int64(150), int64(250)
	res, err = s.SearchEvents(ctx, SearchQuery{BlockMin: &bmin, BlockMax: &bmax})
	require.NoError(t, err)
	assert.Len(t, res, 1)
}

func TestBackfillDetailsHash(t *testing.T) {
	s := newTestAuditStore(t)
	ctx := context.Background()

	ev := sampleEvent("0xaa", 100)
	ev.DetailsHash = ""
	require.NoError(t, s.AppendEvent(ctx, ev))

	missing, err := s.EventsMissingHash(ctx, 10)
	require.NoError(t, err)
	require.Len(t, missing, 1)

	require.NoError(t, s.UpdateDetailsHash(ctx, "0xaa", "feed"))
	// populated values are never overwritten
	require.NoError(t, s.UpdateDetailsHash(ctx, "0xaa", "dead"))

	got, err := s.GetEvent(ctx, "0xaa")
	require.NoError(t, err)
	assert.Equal(t, "feed", got.DetailsHash)
}

func TestBundleJoins(t *testing.T) {
	s := newTestAuditStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendEvent(ctx, sampleEvent("0xaa", 100)))

	// unproven event yields a bundle with only the event
	b, err := s.Bundle(ctx, "0xaa")
	require.NoError(t, err)
	assert.Nil(t, b.Proof)

	batch := &MerkleBatch{BatchID: "b1", MerkleRoot: "cafe", LeafCount: 1, CreatedAt: time.Now().UTC()}
	require.NoError(t, s.InsertBatch(ctx, batch, []EventProof{{EventID: "0xaa", BatchID: "b1", LeafIndex: 0, LeafHash: "ab12"}}))
	_, err = s.UpsertAnchor(ctx, "b1", "mock", "mock-b1", "anchored", time.Now().UTC())
	require.NoError(t, err)

	b, err = s.Bundle(ctx, "0xaa")
	require.NoError(t, err)
	require.NotNil(t, b.Proof)
	require.NotNil(t, b.Batch)
	assert.Equal(t, "cafe", b.Batch.MerkleRoot)
	require.Len(t, b.Anchors, 1)
	assert.Equal(t, "anchored", b.Anchors[0].Status)
}

func TestOpenRejectsNothing(t *testing.T) {
	db, driver, err := Open("file:test.db?mode=memory&cache=shared")
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	assert.Equal(t, "sqlite", driver)
}

func TestRebindPostgres(t *testing.T) {
	q := rebind("postgres", `SELECT 1 FROM t WHERE a = ? AND b = ?`)
	assert.Equal(t, `SELECT 1 FROM t WHERE a = $1 AND b = $2`, q)
	assert.Equal(t, `SELECT ?`, rebind("sqlite", `SELECT ?`))
}
