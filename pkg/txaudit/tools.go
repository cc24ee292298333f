package txaudit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/kwonlabs/kwon-backplane/pkg/mcp"
	"github.com/kwonlabs/kwon-backplane/pkg/store"
)

// Toolset bundles the audit pipeline components exposed over the gateway.
type Toolset struct {
	Store     *store.AuditStore
	Ingestors []*Ingestor
	Batcher   *Batcher
	Anchorer  *Anchorer
	Packs     *PackBuilder
	Logger    *slog.Logger
}

const searchParamsSchema = `
	"address":{"type":"string"},"role":{"type":"string","enum":["any","from","to"]},
	"tx_hash":{"type":"string"},"tx_prefix_ok":{"type":"boolean"},
	"min_amount":{"type":"number"},"max_amount":{"type":"number"},
	"block_min":{"type":"integer"},"block_max":{"type":"integer"},
	"start_iso":{"type":"string"},"end_iso":{"type":"string"},
	"limit":{"type":"integer","minimum":1,"maximum":500},"tz":{"type":"string"}`

// Register mounts every audit tool on the gateway.
func (ts *Toolset) Register(g *mcp.Gateway) {
	g.MustRegister("sync_state", "Per-source ingestion cursors and totals.", "", ts.syncState)
	g.MustRegister("events_recent", "Most recent audit events.",
		`{"type":"object","properties":{"limit":{"type":"integer","minimum":1,"maximum":500},"tz":{"type":"string"},"include_raw":{"type":"boolean"}}}`,
		ts.eventsRecent)
	g.MustRegister("event_detail", "One event with its verification bundle.",
		`{"type":"object","properties":{"tx_hash":{"type":"string","minLength":1},"tz":{"type":"string"},"include_raw":{"type":"boolean"}},"required":["tx_hash"]}`,
		ts.eventDetail)
	g.MustRegister("events_search", "Search events by address, hash, amount, block, or time.",
		`{"type":"object","properties":{`+searchParamsSchema+`}}`,
		ts.eventsSearch)
	g.MustRegister("collect_once", "Run one bounded ingestion cycle for every source.",
		`{"type":"object","properties":{"max_pages":{"type":"integer","minimum":1},"max_seconds":{"type":"integer","minimum":1}}}`,
		ts.collectOnce)
	g.MustRegister("backfill_hashes", "Compute missing details hashes.",
		`{"type":"object","properties":{"limit":{"type":"integer","minimum":1}}}`,
		ts.backfillHashes)
	g.MustRegister("make_batch", "Commit pending events as one Merkle batch.",
		`{"type":"object","properties":{
			"limit":{"type":"integer","minimum":1},
			"mode":{"type":"string","enum":["oldest","latest"]},
			"min_block":{"type":"integer"}}}`,
		ts.makeBatch)
	g.MustRegister("batches_recent", "Most recent Merkle batches.",
		`{"type":"object","properties":{"limit":{"type":"integer","minimum":1,"maximum":200}}}`,
		ts.batchesRecent)
	g.MustRegister("batch_events", "Events committed in one batch.",
		`{"type":"object","properties":{"batch_id":{"type":"string","minLength":1},"limit":{"type":"integer"},"tz":{"type":"string"}},"required":["batch_id"]}`,
		ts.batchEvents)
	g.MustRegister("event_proof", "Inclusion proof for one event.",
		`{"type":"object","properties":{"tx_hash":{"type":"string","minLength":1},"tz":{"type":"string"}},"required":["tx_hash"]}`,
		ts.eventProof)
	g.MustRegister("anchor_batch", "Publish one batch root to a ledger.",
		`{"type":"object","properties":{"batch_id":{"type":"string","minLength":1},"chain":{"type":"string"}},"required":["batch_id"]}`,
		ts.anchorBatch)
	g.MustRegister("anchor_status", "Anchors recorded for one batch.",
		`{"type":"object","properties":{"batch_id":{"type":"string","minLength":1},"chain":{"type":"string"}},"required":["batch_id"]}`,
		ts.anchorStatus)
	g.MustRegister("proof_pack", "Build an offline proof pack for one event.",
		`{"type":"object","properties":{"tx_hash":{"type":"string","minLength":1},"include_raw":{"type":"boolean"},"tz":{"type":"string"},"as_zip":{"type":"boolean"}},"required":["tx_hash"]}`,
		ts.proofPack)
	g.MustRegister("proof_pack_batch", "Build an offline proof pack for a search result.",
		`{"type":"object","properties":{`+searchParamsSchema+`,
			"include_proof":{"type":"boolean"},"include_anchor":{"type":"boolean"},"as_zip":{"type":"boolean"}}}`,
		ts.proofPackBatch)
	g.MustRegister("proof_pack_verify", "Re-verify a stored proof pack archive.",
		`{"type":"object","properties":{"name":{"type":"string","minLength":1}},"required":["name"]}`,
		ts.proofPackVerify)
}

func (ts *Toolset) syncState(ctx context.Context, params map[string]any) (any, error) {
	cursors, err := ts.Store.SyncCursors(ctx)
	if err != nil {
		return nil, err
	}
	maxBlock, err := ts.Store.MaxBlock(ctx)
	if err != nil {
		return nil, err
	}
	pending, err := ts.Store.CountUnproven(ctx, nil)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"cursors":        cursors,
		"max_block":      maxBlock,
		"pending_events": pending,
	}, nil
}

func (ts *Toolset) eventsRecent(ctx context.Context, params map[string]any) (any, error) {
	events, err := ts.Store.RecentEvents(ctx, paramInt(params, "limit", 20))
	if err != nil {
		return nil, err
	}
	tz := paramString(params, "tz", DefaultTimezone)
	includeRaw := paramBool(params, "include_raw")
	rows := make([]map[string]any, 0, len(events))
	for i := range events {
		rows = append(rows, eventView(&events[i], tz, includeRaw))
	}
	return map[string]any{"events": rows, "count": len(rows)}, nil
}

func (ts *Toolset) eventDetail(ctx context.Context, params map[string]any) (any, error) {
	bundle, err := ts.Store.Bundle(ctx, paramString(params, "tx_hash", ""))
	if err != nil {
		return nil, err
	}
	view := map[string]any{
		"event":           bundle.Event,
		"timestamp_local": FormatLocal(bundle.Event.Timestamp, paramString(params, "tz", DefaultTimezone)),
		"proof":           bundle.Proof,
		"batch":           bundle.Batch,
		"anchors":         bundle.Anchors,
	}
	if !paramBool(params, "include_raw") {
		ev := bundle.Event
		ev.RawJSON = nil
		view["event"] = ev
	}
	return view, nil
}

func (ts *Toolset) eventsSearch(ctx context.Context, params map[string]any) (any, error) {
	events, err := ts.Store.SearchEvents(ctx, searchQueryFromParams(params))
	if err != nil {
		return nil, err
	}
	return map[string]any{"events": events, "count": len(events)}, nil
}

func (ts *Toolset) collectOnce(ctx context.Context, params map[string]any) (any, error) {
	maxPages := paramInt(params, "max_pages", 0)
	maxSeconds := paramInt(params, "max_seconds", 0)
	results := make([]*CycleResult, 0, len(ts.Ingestors))
	for _, ing := range ts.Ingestors {
		res, err := ing.RunCycleBounded(ctx, maxPages, maxSeconds)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return map[string]any{"cycles": results}, nil
}

func (ts *Toolset) backfillHashes(ctx context.Context, params map[string]any) (any, error) {
	return BackfillHashes(ctx, ts.Store, paramInt(params, "limit", 500), ts.Logger)
}

func (ts *Toolset) makeBatch(ctx context.Context, params map[string]any) (any, error) {
	var minBlock *int64
	if v, ok := paramInt64(params, "min_block"); ok {
		minBlock = &v
	}
	batch, err := ts.Batcher.MakeBatch(ctx,
		paramInt(params, "limit", 1000),
		paramString(params, "mode", "oldest"),
		minBlock)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return map[string]any{"batched": false, "reason": "no pending events"}, nil
	}
	return batch, nil
}

func (ts *Toolset) batchesRecent(ctx context.Context, params map[string]any) (any, error) {
	batches, err := ts.Store.RecentBatches(ctx, paramInt(params, "limit", 20))
	if err != nil {
		return nil, err
	}
	return map[string]any{"batches": batches, "count": len(batches)}, nil
}

func (ts *Toolset) batchEvents(ctx context.Context, params map[string]any) (any, error) {
	events, err := ts.Store.BatchEvents(ctx, paramString(params, "batch_id", ""), paramInt(params, "limit", 0))
	if err != nil {
		return nil, err
	}
	tz := paramString(params, "tz", DefaultTimezone)
	rows := make([]map[string]any, 0, len(events))
	for i := range events {
		view := eventView(&events[i].Event, tz, false)
		view["leaf_index"] = events[i].LeafIndex
		rows = append(rows, view)
	}
	return map[string]any{"events": rows, "count": len(rows)}, nil
}

func (ts *Toolset) eventProof(ctx context.Context, params map[string]any) (any, error) {
	return ts.Store.GetProof(ctx, paramString(params, "tx_hash", ""))
}

func (ts *Toolset) anchorBatch(ctx context.Context, params map[string]any) (any, error) {
	return ts.Anchorer.AnchorBatch(ctx,
		paramString(params, "batch_id", ""),
		paramString(params, "chain", ""))
}

func (ts *Toolset) anchorStatus(ctx context.Context, params map[string]any) (any, error) {
	status, err := ts.Anchorer.Status(ctx, paramString(params, "batch_id", ""))
	if err != nil {
		return nil, err
	}
	if chain := paramString(params, "chain", ""); chain != "" {
		filtered := status.Anchors[:0:0]
		for _, a := range status.Anchors {
			if a.Chain == chain {
				filtered = append(filtered, a)
			}
		}
		status.Anchors = filtered
	}
	return status, nil
}

func (ts *Toolset) proofPack(ctx context.Context, params map[string]any) (any, error) {
	opts := PackOptions{
		IncludeRaw: paramBool(params, "include_raw"),
		TZ:         paramString(params, "tz", DefaultTimezone),
	}
	txHash := paramString(params, "tx_hash", "")
	if asZip(params) {
		return ts.Packs.BuildSingle(ctx, txHash, opts)
	}
	doc, _, err := ts.Packs.SingleDoc(ctx, txHash, opts)
	return doc, err
}

func (ts *Toolset) proofPackBatch(ctx context.Context, params map[string]any) (any, error) {
	opts := PackOptions{
		IncludeProof:  paramBoolDefault(params, "include_proof", true),
		IncludeAnchor: paramBoolDefault(params, "include_anchor", true),
		TZ:            paramString(params, "tz", DefaultTimezone),
	}
	q := searchQueryFromParams(params)
	if asZip(params) {
		return ts.Packs.BuildMulti(ctx, q, opts)
	}
	doc, _, err := ts.Packs.MultiDoc(ctx, q, opts)
	return doc, err
}

func (ts *Toolset) proofPackVerify(ctx context.Context, params map[string]any) (any, error) {
	return ts.Packs.VerifyArchive(ctx, paramString(params, "name", ""))
}

func searchQueryFromParams(params map[string]any) store.SearchQuery {
	q := store.SearchQuery{
		Address: paramString(params, "address", ""),
		Role:    paramString(params, "role", "any"),
		TxHash:  paramString(params, "tx_hash", ""),
		Limit:   paramInt(params, "limit", 50),
	}
	if v, ok := params["tx_prefix_ok"].(bool); ok {
		q.TxPrefixOK = v
	} else {
		q.TxPrefixOK = q.TxHash != "" && len(q.TxHash) < 66
	}
	if v, ok := paramFloat(params, "min_amount"); ok {
		q.MinAmount = &v
	}
	if v, ok := paramFloat(params, "max_amount"); ok {
		q.MaxAmount = &v
	}
	if v, ok := paramInt64(params, "block_min"); ok {
		q.BlockMin = &v
	}
	if v, ok := paramInt64(params, "block_max"); ok {
		q.BlockMax = &v
	}
	if t, ok := paramTime(params, "start_iso"); ok {
		q.StartTime = &t
	}
	if t, ok := paramTime(params, "end_iso"); ok {
		q.EndTime = &t
	}
	return q
}

func eventView(ev *store.AuditEvent, tz string, includeRaw bool) map[string]any {
	view := map[string]any{
		"event_id":     ev.EventID,
		"block_number": ev.BlockNumber,
		"timestamp":    FormatLocal(ev.Timestamp, tz),
		"from":         ev.From,
		"to":           ev.To,
		"amount":       ev.Amount,
		"details_hash": ev.DetailsHash,
	}
	if includeRaw && len(ev.RawJSON) > 0 {
		view["raw"] = json.RawMessage(ev.RawJSON)
	}
	return view
}

func asZip(params map[string]any) bool {
	return paramBoolDefault(params, "as_zip", true)
}

func paramString(params map[string]any, key, def string) string {
	if v, ok := params[key].(string); ok && v != "" {
		return v
	}
	return def
}

func paramBool(params map[string]any, key string) bool {
	v, _ := params[key].(bool)
	return v
}

func paramBoolDefault(params map[string]any, key string, def bool) bool {
	if v, ok := params[key].(bool); ok {
		return v
	}
	return def
}

func paramInt(params map[string]any, key string, def int) int {
	if v, ok := paramInt64(params, key); ok {
		return int(v)
	}
	return def
}

func paramInt64(params map[string]any, key string) (int64, bool) {
	switch v := params[key].(type) {
	case float64:
		return int64(v), true
	case int:
		return int64(v), true
	case int64:
		return v, true
	}
	return 0, false
}

func paramFloat(params map[string]any, key string) (float64, bool) {
	switch v := params[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

func paramTime(params map[string]any, key string) (time.Time, bool) {
	s, ok := params[key].(string)
	if !ok || s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
