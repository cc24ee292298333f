package txaudit

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/kwonlabs/kwon-backplane/pkg/canonical"
	"github.com/kwonlabs/kwon-backplane/pkg/store"
)

// BackfillResult reports one hash backfill pass.
type BackfillResult struct {
	Scanned int `json:"scanned"`
	Updated int `json:"updated"`
	Failed  int `json:"failed"`
}

// BackfillHashes computes details hashes for events ingested before hash
// computation existed. Existing hashes are never rewritten.
func BackfillHashes(ctx context.Context, st *store.AuditStore, limit int, logger *slog.Logger) (*BackfillResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if limit <= 0 {
		limit = 500
	}
	events, err := st.EventsMissingHash(ctx, limit)
	if err != nil {
		return nil, err
	}

	result := &BackfillResult{Scanned: len(events)}
	for i := range events {
		ev := &events[i]
		var row map[string]any
		if err := json.Unmarshal(ev.RawJSON, &row); err != nil {
			logger.Warn("backfill skipping undecodable event", "event_id", ev.EventID, "err", err)
			result.Failed++
			continue
		}
		hash, err := canonical.DetailsHash(row)
		if err != nil {
			logger.Warn("backfill hash failed", "event_id", ev.EventID, "err", err)
			result.Failed++
			continue
		}
		if err := st.UpdateDetailsHash(ctx, ev.EventID, hash); err != nil {
			result.Failed++
			continue
		}
		result.Updated++
	}
	return result, nil
}
