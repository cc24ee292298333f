package risk

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// BankSnapshot is one bank's entry in the realtime concentration view.
type BankSnapshot struct {
	BankID            string  `json:"bank_id"`
	Name              string  `json:"name,omitempty"`
	Role              string  `json:"role,omitempty"`
	Exposure          float64 `json:"exposure"`
	FSSScore          float64 `json:"fss_score"`
	Share             float64 `json:"share"`
	SharePct          float64 `json:"share_pct"`
	SingleLimitBreach bool    `json:"single_limit_breach"`
	RealtimeRiskScore float64 `json:"realtime_risk_score"`
}

// RealtimeRisk is the concentration dashboard snapshot.
type RealtimeRisk struct {
	Banks         []BankSnapshot `json:"banks"`
	TotalExposure float64        `json:"total_exposure"`
	Top3Share     float64        `json:"top3_share"`
	Top3Breach    bool           `json:"top3_breach"`
	HHI           float64        `json:"hhi"`
	ComputedAt    time.Time      `json:"computed_at"`
}

// singleLimitBreachShare flags any single bank above 30% of the pool.
const singleLimitBreachShare = 0.30

// top3BreachShare flags the three largest banks jointly above 70%.
const top3BreachShare = 0.70

// ComputeRealtimeRisk fills shares, per-bank breach flags, top-3
// concentration, and the HHI over percentage shares.
func ComputeRealtimeRisk(banks []BankSnapshot, now time.Time) RealtimeRisk {
	total := 0.0
	for _, b := range banks {
		total += b.Exposure
	}
	denominator := total
	if denominator == 0 {
		denominator = 1.0
	}

	shares := make([]float64, 0, len(banks))
	hhi := 0.0
	for i := range banks {
		b := &banks[i]
		b.Share = b.Exposure / denominator
		b.SharePct = b.Share * 100
		b.SingleLimitBreach = b.Share > singleLimitBreachShare
		b.RealtimeRiskScore = b.FSSScore * b.Share
		shares = append(shares, b.Share)
		hhi += (b.Share * 100) * (b.Share * 100)
	}

	sort.Sort(sort.Reverse(sort.Float64Slice(shares)))
	top3 := 0.0
	for i, s := range shares {
		if i >= 3 {
			break
		}
		top3 += s
	}

	return RealtimeRisk{
		Banks:         banks,
		TotalExposure: total,
		Top3Share:     top3,
		Top3Breach:    top3 > top3BreachShare,
		HHI:           hhi,
		ComputedAt:    now.UTC(),
	}
}

// SnapshotCache keeps the latest realtime snapshot in Redis so dashboard
// reads avoid recomputation. A nil client disables caching.
type SnapshotCache struct {
	rdb *redis.Client
	ttl time.Duration
}

const snapshotKey = "kwon:risk:realtime:latest"

func NewSnapshotCache(rdb *redis.Client, ttl time.Duration) *SnapshotCache {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &SnapshotCache{rdb: rdb, ttl: ttl}
}

func (c *SnapshotCache) Put(ctx context.Context, snap RealtimeRisk) error {
	if c == nil || c.rdb == nil {
		return nil
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode risk snapshot: %w", err)
	}
	return c.rdb.Set(ctx, snapshotKey, data, c.ttl).Err()
}

func (c *SnapshotCache) Get(ctx context.Context) (*RealtimeRisk, bool, error) {
	if c == nil || c.rdb == nil {
		return nil, false, nil
	}
	data, err := c.rdb.Get(ctx, snapshotKey).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var snap RealtimeRisk
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, false, fmt.Errorf("decode risk snapshot: %w", err)
	}
	return &snap, true, nil
}
