// Package txaudit implements the tamper-evident transaction audit
// pipeline: incremental ingestion, Merkle batching with inclusion proofs,
// chain anchoring, and proof-pack assembly.
package txaudit

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/kwonlabs/kwon-backplane/pkg/adapters"
	"github.com/kwonlabs/kwon-backplane/pkg/canonical"
	"github.com/kwonlabs/kwon-backplane/pkg/store"
)

// IngestorConfig bounds one ingestion cycle.
type IngestorConfig struct {
	MaxPages   int
	MaxSeconds int
	PageSize   int
	RateSleep  time.Duration
	// SafeLag keeps the cursor behind the chain head on empty remote
	// pages so a reorg cannot orphan committed rows.
	SafeLag    int64
	RemoteMode bool
}

// CycleResult summarizes one ingestion cycle.
type CycleResult struct {
	Source       string `json:"source"`
	Pages        int    `json:"pages"`
	Inserted     int    `json:"inserted"`
	Skipped      int    `json:"skipped"`
	MaxBlockSeen int64  `json:"max_block_seen"`
	LastBlock    int64  `json:"last_block"`
}

// Ingestor polls a transfer source and appends new events to the audit
// store, advancing the per-source cursor only after rows are committed.
type Ingestor struct {
	store  *store.AuditStore
	source adapters.TransferSource
	cfg    IngestorConfig
	logger *slog.Logger
	clock  func() time.Time
	sleep  func(time.Duration)

	insertedCounter metric.Int64Counter
	skippedCounter  metric.Int64Counter
}

func NewIngestor(st *store.AuditStore, source adapters.TransferSource, cfg IngestorConfig, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SafeLag < 12 {
		cfg.SafeLag = 12
	}
	meter := otel.Meter("kwon.txaudit")
	insertedCounter, _ := meter.Int64Counter("audit_events_ingested_total")
	skippedCounter, _ := meter.Int64Counter("audit_events_skipped_total")
	return &Ingestor{
		store:           st,
		source:          source,
		cfg:             cfg,
		logger:          logger,
		clock:           time.Now,
		sleep:           time.Sleep,
		insertedCounter: insertedCounter,
		skippedCounter:  skippedCounter,
	}
}

// WithClock overrides the time source for deterministic tests.
func (ing *Ingestor) WithClock(clock func() time.Time) *Ingestor {
	ing.clock = clock
	ing.sleep = func(time.Duration) {}
	return ing
}

// RunCycleBounded runs one cycle with tightened bounds. Zero keeps the
// configured value.
func (ing *Ingestor) RunCycleBounded(ctx context.Context, maxPages, maxSeconds int) (*CycleResult, error) {
	bounded := *ing
	if maxPages > 0 {
		bounded.cfg.MaxPages = maxPages
	}
	if maxSeconds > 0 {
		bounded.cfg.MaxSeconds = maxSeconds
	}
	return bounded.RunCycle(ctx)
}

// RunCycle executes one bounded ingestion cycle. Upstream failures end the
// cycle gracefully; the cursor is never rewound.
func (ing *Ingestor) RunCycle(ctx context.Context) (*CycleResult, error) {
	result := &CycleResult{Source: ing.source.Name()}

	last, ok, err := ing.store.GetLastBlock(ctx, result.Source)
	if err != nil {
		return nil, err
	}
	if !ok {
		// first run: start from the highest block already in the store
		last, err = ing.store.MaxBlock(ctx)
		if err != nil {
			return nil, err
		}
	}
	result.LastBlock = last

	start := last + 1
	deadline := ing.clock().Add(time.Duration(ing.cfg.MaxSeconds) * time.Second)
	maxBlockSeen := int64(0)

	for page := 1; page <= ing.cfg.MaxPages; page++ {
		rows, err := ing.source.FetchPage(ctx, start, page, ing.cfg.PageSize)
		if err != nil {
			ing.logger.Warn("ingestion page failed, ending cycle",
				"source", result.Source, "page", page, "err", err)
			break
		}
		if len(rows) == 0 {
			if ing.cfg.RemoteMode && page == 1 {
				ing.advanceIdleCursor(ctx, result, last)
			}
			break
		}
		result.Pages++

		inserted, skipped, pageMax := ing.storeRows(ctx, rows)
		result.Inserted += inserted
		result.Skipped += skipped
		ing.insertedCounter.Add(ctx, int64(inserted))
		ing.skippedCounter.Add(ctx, int64(skipped))
		if pageMax > maxBlockSeen {
			maxBlockSeen = pageMax
		}
		result.MaxBlockSeen = maxBlockSeen

		// one-block safety margin: the tail block of a page may be
		// incomplete upstream
		if maxBlockSeen-1 > last {
			if err := ing.store.SetLastBlock(ctx, result.Source, maxBlockSeen-1); err != nil {
				ing.logger.Error("cursor advance failed", "err", err)
			} else {
				result.LastBlock = maxBlockSeen - 1
			}
		}

		if ing.clock().After(deadline) {
			ing.logger.Info("ingestion time budget exhausted",
				"source", result.Source, "pages", result.Pages)
			break
		}
		ing.sleep(ing.cfg.RateSleep)
	}

	if maxBlockSeen > last {
		if err := ing.store.SetLastBlock(ctx, result.Source, maxBlockSeen); err != nil {
			ing.logger.Error("final cursor advance failed", "err", err)
		} else {
			result.LastBlock = maxBlockSeen
		}
	}

	ing.logger.Info("ingestion cycle complete",
		"source", result.Source, "pages", result.Pages,
		"inserted", result.Inserted, "skipped", result.Skipped,
		"last_block", result.LastBlock)
	return result, nil
}

// advanceIdleCursor moves the cursor toward the chain head when a remote
// provider reports no new rows, staying SafeLag blocks behind the tip.
func (ing *Ingestor) advanceIdleCursor(ctx context.Context, result *CycleResult, last int64) {
	head, err := ing.source.HeadBlock(ctx)
	if err != nil || head == 0 {
		return
	}
	target := head - ing.cfg.SafeLag
	if target <= last {
		return
	}
	if err := ing.store.SetLastBlock(ctx, result.Source, target); err != nil {
		ing.logger.Error("idle cursor advance failed", "err", err)
		return
	}
	result.LastBlock = target
}

func (ing *Ingestor) storeRows(ctx context.Context, rows []map[string]any) (inserted, skipped int, maxBlock int64) {
	for _, row := range rows {
		ev, err := eventFromRow(row)
		if err != nil {
			ing.logger.Warn("skipping malformed row", "err", err)
			skipped++
			continue
		}
		if ev.BlockNumber > maxBlock {
			maxBlock = ev.BlockNumber
		}
		switch err := ing.store.AppendEvent(ctx, ev); err {
		case nil:
			inserted++
		case store.ErrDuplicateEvent:
			skipped++
		default:
			ing.logger.Warn("event insert failed", "event_id", ev.EventID, "err", err)
			skipped++
		}
	}
	return inserted, skipped, maxBlock
}

func eventFromRow(row map[string]any) (*store.AuditEvent, error) {
	txHash := asString(row["hash"])
	if txHash == "" {
		return nil, errMissingField("hash")
	}
	block, err := strconv.ParseInt(asString(row["blockNumber"]), 10, 64)
	if err != nil {
		return nil, errMissingField("blockNumber")
	}

	var ts time.Time
	if unix, err := strconv.ParseInt(asString(row["timeStamp"]), 10, 64); err == nil {
		ts = time.Unix(unix, 0).UTC()
	}

	detailsHash, err := canonical.DetailsHash(row)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(row)
	if err != nil {
		return nil, err
	}
	// store the payload in strict RFC 8785 form so re-hashing it later
	// reproduces the same bytes
	raw, err = canonical.CanonicalRFC8785(raw)
	if err != nil {
		return nil, err
	}

	decimals := 0
	if d, err := strconv.Atoi(asString(row["tokenDecimal"])); err == nil {
		decimals = d
	}
	return &store.AuditEvent{
		EventID:         txHash,
		BlockNumber:     block,
		Timestamp:       ts,
		From:            strings.ToLower(asString(row["from"])),
		To:              strings.ToLower(asString(row["to"])),
		ContractAddress: strings.ToLower(asString(row["contractAddress"])),
		Amount:          scaleAmount(asString(row["value"]), decimals),
		RawJSON:         raw,
		DetailsHash:     detailsHash,
	}, nil
}

// scaleAmount divides an integer token value by 10^decimals without
// floating point, preserving exactness.
func scaleAmount(value string, decimals int) string {
	v := strings.TrimSpace(value)
	if v == "" {
		return "0"
	}
	if decimals <= 0 {
		return v
	}
	neg := strings.HasPrefix(v, "-")
	v = strings.TrimPrefix(v, "-")
	for len(v) <= decimals {
		v = "0" + v
	}
	cut := len(v) - decimals
	out := v[:cut] + "." + v[cut:]
	out = strings.TrimRight(out, "0")
	out = strings.TrimSuffix(out, ".")
	if out == "" {
		out = "0"
	}
	if neg && out != "0" {
		out = "-" + out
	}
	return out
}

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		b, _ := json.Marshal(t)
		return strings.Trim(string(b), `"`)
	}
}

type errMissingField string

func (e errMissingField) Error() string { return "row missing field " + string(e) }
