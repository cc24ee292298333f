package risk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kwonlabs/kwon-backplane/pkg/mcp"
	"github.com/kwonlabs/kwon-backplane/pkg/policy"
)

// Toolset exposes the policy and risk engines over the gateway.
type Toolset struct {
	Engine *policy.Engine
	Cache  *SnapshotCache
	Logger *slog.Logger
	clock  func() time.Time
}

func NewToolset(engine *policy.Engine, cache *SnapshotCache, logger *slog.Logger) *Toolset {
	if logger == nil {
		logger = slog.Default()
	}
	return &Toolset{Engine: engine, Cache: cache, Logger: logger, clock: time.Now}
}

func (ts *Toolset) WithClock(clock func() time.Time) *Toolset {
	ts.clock = clock
	return ts
}

const exposuresSchema = `"exposures":{"type":"array","items":{"type":"object","properties":{
	"bank_id":{"type":"string"},"exposure":{"type":"number"}}}}`

// Register mounts every policy and risk tool on the gateway.
func (ts *Toolset) Register(g *mcp.Gateway) {
	g.MustRegister("check_policy_compliance", "Evaluate reserve exposures against the deposit policy.",
		`{"type":"object","properties":{"as_of":{"type":"string"},"exposures":{"type":"array"}},"required":["exposures"]}`,
		ts.checkPolicyCompliance)
	g.MustRegister("get_rebalancing_suggestions", "Remediation actions for policy violations.",
		`{"type":"object","properties":{"violations":{"type":"array"},"total":{"type":"number"}},"required":["violations"]}`,
		ts.getRebalancingSuggestions)
	g.MustRegister("get_bank_risk_score", "Composite risk score for one bank.",
		`{"type":"object","properties":{"bank_id":{"type":"string"},"rating":{"type":"string"},
			"exposure":{"type":"number"},"lcr_pct":{"type":"number"},"insured_ratio":{"type":"number"},
			"cds_spread_bps":{"type":"number"},"bond_spread_bps":{"type":"number"},
			"news_sentiment":{"type":"number","minimum":-1,"maximum":1},"role":{"type":"string"}},
			"required":["bank_id"]}`,
		ts.getBankRiskScore)
	g.MustRegister("run_bank_stress_test", "Liquidity stress simulation over the deposit pool.",
		`{"type":"object","properties":{`+exposuresSchema+`,"scenario":{"type":"object"}},"required":["exposures"]}`,
		ts.runBankStressTest)
	g.MustRegister("suggest_bank_rebalance", "Score-aware rebalancing across policy breaches.",
		`{"type":"object","properties":{`+exposuresSchema+`,"scores_override":{"type":"object"}},"required":["exposures"]}`,
		ts.suggestBankRebalance)
	g.MustRegister("role_based_allocation", "Role-weighted target allocation for the reserve pool.",
		`{"type":"object","properties":{"institutions":{"type":"array"},"total_reserve":{"type":"number"}},"required":["institutions"]}`,
		ts.roleBasedAllocation)
	g.MustRegister("role_based_rebalance", "Transfer plan toward the role-weighted targets.",
		`{"type":"object","properties":{"institutions":{"type":"array"},"total_reserve":{"type":"number"}},"required":["institutions"]}`,
		ts.roleBasedRebalance)
	g.MustRegister("get_realtime_risk", "Concentration snapshot: shares, top-3, HHI.",
		`{"type":"object","properties":{"banks":{"type":"array"},"use_cache":{"type":"boolean"}}}`,
		ts.getRealtimeRisk)
}

func (ts *Toolset) checkPolicyCompliance(ctx context.Context, params map[string]any) (any, error) {
	var p policy.Portfolio
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	return ts.Engine.Evaluate(p)
}

func (ts *Toolset) getRebalancingSuggestions(ctx context.Context, params map[string]any) (any, error) {
	var in struct {
		Violations []policy.Violation `json:"violations"`
		Total      float64            `json:"total"`
	}
	if err := decode(params, &in); err != nil {
		return nil, err
	}
	suggestions := policy.Suggest(in.Violations, in.Total)
	return map[string]any{"suggestions": suggestions, "count": len(suggestions)}, nil
}

func (ts *Toolset) getBankRiskScore(ctx context.Context, params map[string]any) (any, error) {
	var in ScoreInput
	if err := decode(params, &in); err != nil {
		return nil, err
	}
	return Score(in), nil
}

func (ts *Toolset) runBankStressTest(ctx context.Context, params map[string]any) (any, error) {
	var in struct {
		Exposures []StressExposure `json:"exposures"`
		Scenario  Scenario         `json:"scenario"`
	}
	if err := decode(params, &in); err != nil {
		return nil, err
	}
	return RunStress(in.Exposures, in.Scenario, nil), nil
}

func (ts *Toolset) suggestBankRebalance(ctx context.Context, params map[string]any) (any, error) {
	var in struct {
		Exposures      []BankExposure     `json:"exposures"`
		ScoresOverride map[string]float64 `json:"scores_override"`
	}
	if err := decode(params, &in); err != nil {
		return nil, err
	}
	scores := in.ScoresOverride
	if scores == nil {
		scores = make(map[string]float64, len(in.Exposures))
		for _, e := range in.Exposures {
			scores[e.BankID] = Score(ScoreInput{BankID: e.BankID, Rating: e.Rating}).Score
		}
	}
	return SuggestRebalance(ts.Engine.Config(), in.Exposures, scores), nil
}

func (ts *Toolset) roleBasedAllocation(ctx context.Context, params map[string]any) (any, error) {
	insts, total, err := institutionsFromParams(params)
	if err != nil {
		return nil, err
	}
	return TargetAllocation(insts, total)
}

func (ts *Toolset) roleBasedRebalance(ctx context.Context, params map[string]any) (any, error) {
	insts, total, err := institutionsFromParams(params)
	if err != nil {
		return nil, err
	}
	alloc, err := TargetAllocation(insts, total)
	if err != nil {
		return nil, err
	}
	plan := RebalancePlan(insts, alloc)
	return map[string]any{"allocation": alloc, "plan": plan, "moves": len(plan)}, nil
}

func (ts *Toolset) getRealtimeRisk(ctx context.Context, params map[string]any) (any, error) {
	var in struct {
		Banks    []BankSnapshot `json:"banks"`
		UseCache bool           `json:"use_cache"`
	}
	if err := decode(params, &in); err != nil {
		return nil, err
	}
	if len(in.Banks) == 0 || in.UseCache {
		if cached, ok, err := ts.Cache.Get(ctx); err != nil {
			ts.Logger.Warn("realtime risk cache read failed", "error", err)
		} else if ok {
			return cached, nil
		}
		if len(in.Banks) == 0 {
			return nil, errors.New("no cached snapshot and no banks given")
		}
	}
	snap := ComputeRealtimeRisk(in.Banks, ts.clock())
	if err := ts.Cache.Put(ctx, snap); err != nil {
		ts.Logger.Warn("realtime risk cache write failed", "error", err)
	}
	return snap, nil
}

// institutionsFromParams resolves roles and FSS scores, defaulting the
// reserve total to the pool's summed exposure.
func institutionsFromParams(params map[string]any) ([]Institution, float64, error) {
	var in struct {
		Institutions []Institution `json:"institutions"`
		TotalReserve float64       `json:"total_reserve"`
	}
	if err := decode(params, &in); err != nil {
		return nil, 0, err
	}
	AutoFill(in.Institutions, nil)
	total := in.TotalReserve
	if total <= 0 {
		for _, inst := range in.Institutions {
			total += inst.Exposure
		}
	}
	return in.Institutions, total, nil
}

func decode(params map[string]any, dst any) error {
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode params: %w", err)
	}
	return nil
}
