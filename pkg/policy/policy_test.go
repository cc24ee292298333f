package policy

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// balancedMaturities spreads an amount so every band check passes.
func balancedMaturities(amount float64) map[string]float64 {
	return map[string]float64{
		BucketOvernight: amount * 0.35,
		Bucket7D:        amount * 0.25,
		Bucket1M:        amount * 0.25,
		Bucket3M:        amount * 0.15,
	}
}

func newTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	e, err := NewEngine(cfg, nil)
	require.NoError(t, err)
	return e
}

func byDirection(violations []Violation, dir string) []Violation {
	var out []Violation
	for _, v := range violations {
		if v.Type == ViolationMaturity && v.Direction == dir {
			out = append(out, v)
		}
	}
	return out
}

func byType(violations []Violation, typ string) []Violation {
	var out []Violation
	for _, v := range violations {
		if v.Type == typ {
			out = append(out, v)
		}
	}
	return out
}

func byCode(violations []Violation, code string) []Violation {
	var out []Violation
	for _, v := range violations {
		if v.Code == code {
			out = append(out, v)
		}
	}
	return out
}

func TestSingleLimitCritical(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())
	report, err := e.Evaluate(Portfolio{Exposures: []Exposure{
		{BankID: "bank_a", Type: "commercial", Rating: "AAA", Amount: 600, Maturities: balancedMaturities(600)},
		{BankID: "bank_b", Type: "commercial", Rating: "AAA", Amount: 200, Maturities: balancedMaturities(200)},
		{BankID: "bank_c", Type: "commercial", Rating: "AAA", Amount: 200, Maturities: balancedMaturities(200)},
	}})
	require.NoError(t, err)

	singles := byCode(report.Violations, CodeSingleLimit)
	require.Len(t, singles, 1)
	v := singles[0]
	assert.Equal(t, ViolationExposureLimit, v.Type)
	assert.Equal(t, "bank_a", v.BankID)
	assert.Equal(t, LevelCritical, v.Level)
	assert.InDelta(t, 0.60, v.Share, 1e-9)
	assert.InDelta(t, 350, v.ExcessAmount, 1e-6)
	assert.Equal(t, LevelCritical, report.HighestLevel)
	assert.Equal(t, 1, report.Summary.ByType[ViolationExposureLimit])
}

func TestPolicyBankGetsHigherLimit(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())
	report, err := e.Evaluate(Portfolio{Exposures: []Exposure{
		{BankID: "bok", Type: "policy_bank", Rating: "AAA", Amount: 280, Maturities: balancedMaturities(280)},
		{BankID: "bank_b", Type: "commercial", Rating: "AAA", Amount: 220, Maturities: balancedMaturities(220)},
		{BankID: "bank_c", Type: "commercial", Rating: "AAA", Amount: 250, Maturities: balancedMaturities(250)},
		{BankID: "bank_d", Type: "commercial", Rating: "AAA", Amount: 250, Maturities: balancedMaturities(250)},
	}})
	require.NoError(t, err)

	found := false
	for _, v := range byType(report.Violations, ViolationExposureLimit) {
		if v.BankID == "bok" {
			// 0.28 against the 0.30 policy-bank limit sits in the warning band
			assert.Equal(t, LevelWarning, v.Level)
			found = true
		}
	}
	assert.True(t, found)
}

func TestRatingAdjustedLimit(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())
	report, err := e.Evaluate(Portfolio{Exposures: []Exposure{
		{BankID: "bank_a", Type: "commercial", Rating: "A", Amount: 180, Maturities: balancedMaturities(180)},
		{BankID: "bank_b", Type: "commercial", Rating: "AAA", Amount: 220, Maturities: balancedMaturities(220)},
		{BankID: "bank_c", Type: "commercial", Rating: "AAA", Amount: 210, Maturities: balancedMaturities(210)},
		{BankID: "bank_d", Type: "commercial", Rating: "AAA", Amount: 200, Maturities: balancedMaturities(200)},
		{BankID: "bank_e", Type: "commercial", Rating: "AAA", Amount: 190, Maturities: balancedMaturities(190)},
	}})
	require.NoError(t, err)

	assert.Empty(t, byType(report.Violations, ViolationExposureLimit))
	rated := byType(report.Violations, ViolationRatingLimit)
	require.Len(t, rated, 1)
	v := rated[0]
	assert.Equal(t, CodeRatingLimit, v.Code)
	assert.Equal(t, "bank_a", v.BankID)
	assert.Equal(t, LevelCritical, v.Level)
	assert.InDelta(t, 0.25*0.70, v.Limit, 1e-9)
}

func TestGroupLimit(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())
	report, err := e.Evaluate(Portfolio{Exposures: []Exposure{
		{BankID: "bank_a", Group: "g1", Type: "commercial", Rating: "AAA", Amount: 230, Maturities: balancedMaturities(230)},
		{BankID: "bank_b", Group: "g1", Type: "commercial", Rating: "AAA", Amount: 220, Maturities: balancedMaturities(220)},
		{BankID: "bank_c", Type: "commercial", Rating: "AAA", Amount: 250, Maturities: balancedMaturities(250)},
		{BankID: "bank_d", Type: "commercial", Rating: "AAA", Amount: 300, Maturities: balancedMaturities(300)},
	}})
	require.NoError(t, err)

	groups := byCode(report.Violations, CodeGroupLimit)
	require.Len(t, groups, 1)
	v := groups[0]
	assert.Equal(t, ViolationExposureLimit, v.Type)
	assert.Equal(t, "g1", v.Group)
	assert.Equal(t, LevelCritical, v.Level)
	assert.InDelta(t, 0.45, v.Share, 1e-9)
	assert.InDelta(t, 50, v.ExcessAmount, 1e-6)
}

func TestMaturityBandUnderEscalates(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())
	report, err := e.Evaluate(Portfolio{Exposures: []Exposure{
		{BankID: "bank_a", Type: "commercial", Rating: "AAA", Amount: 1000, Maturities: map[string]float64{
			BucketOvernight: 100, // 10%, far below the 30% floor
			Bucket7D:        250,
			Bucket1M:        450, // 45%, above the 30% ceiling
			Bucket3M:        200,
		}},
	}})
	require.NoError(t, err)

	under := byDirection(report.Violations, DirectionUnder)
	require.Len(t, under, 1)
	assert.Equal(t, BucketOvernight, under[0].Bucket)
	assert.Equal(t, LevelCritical, under[0].Level)

	over := byDirection(report.Violations, DirectionOver)
	require.Len(t, over, 1)
	assert.Equal(t, Bucket1M, over[0].Bucket)
	assert.Equal(t, LevelCritical, over[0].Level)
	assert.InDelta(t, 150, over[0].ExcessAmount, 1e-6)
}

func TestMaturityOverIsCritical(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())
	report, err := e.Evaluate(Portfolio{Exposures: []Exposure{
		{BankID: "bank_a", Type: "commercial", Rating: "AAA", Amount: 1000, Maturities: map[string]float64{
			BucketOvernight: 420, // any excess over the ceiling is a full breach
			Bucket7D:        250,
			Bucket1M:        230,
			Bucket3M:        100,
		}},
	}})
	require.NoError(t, err)

	over := byDirection(report.Violations, DirectionOver)
	require.Len(t, over, 1)
	assert.Equal(t, CodeMaturityOver, over[0].Code)
	assert.Equal(t, LevelCritical, over[0].Level)
}

func TestViolationJSONKeys(t *testing.T) {
	data, err := json.Marshal(Violation{
		Type:  ViolationExposureLimit,
		Code:  CodeSingleLimit,
		Level: LevelCritical,
	})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"severity":"CRITICAL"`)
	assert.Contains(t, string(data), `"code":"SINGLE_LIMIT"`)
	assert.NotContains(t, string(data), `"level"`)
}

func TestAutoSplitAndCustodyExclusion(t *testing.T) {
	cfg := DefaultConfig()
	norm := Normalize(Portfolio{Exposures: []Exposure{
		{BankID: "bank_a", Type: "commercial", Rating: "AAA", Amount: 1000},
		{BankID: "custody", Type: "custody_agent", Rating: "AAA", Amount: 99999},
		{BankID: "bank_b", Type: "commercial", Rating: "AAA", Amount: 100, Maturities: map[string]float64{
			"OVERNIGHT": 100, // ambiguous label, auto-split
		}},
	}}, cfg)

	require.Len(t, norm.Exposures, 2)
	a := norm.Exposures[0]
	assert.InDelta(t, 800, a.Maturities[BucketOvernight], 1e-9)
	assert.InDelta(t, 100, a.Maturities[Bucket7D], 1e-9)
	assert.InDelta(t, 70, a.Maturities[Bucket1M], 1e-9)
	assert.InDelta(t, 30, a.Maturities[Bucket3M], 1e-9)

	b := norm.Exposures[1]
	assert.InDelta(t, 80, b.Maturities[BucketOvernight], 1e-9)
}

func TestCanonicalBucketAliases(t *testing.T) {
	for label, want := range map[string]string{"o/n": BucketOvernight, "1w": Bucket7D, "30d": Bucket1M, "quarter": Bucket3M} {
		got, ok := CanonicalBucket(label)
		assert.True(t, ok, label)
		assert.Equal(t, want, got)
	}
	_, ok := CanonicalBucket("unknown")
	assert.False(t, ok)
	_, ok = CanonicalBucket("weird-label")
	assert.False(t, ok)
}

func TestCustomRules(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CustomRules = []CustomRule{
		{
			Name:    "bank_a_cap",
			BankID:  "bank_a",
			Expr:    `share > 0.1 && !is_policy_bank`,
			Level:   LevelCritical,
			Message: "bank_a over its bilateral cap",
		},
		{
			Name: "no_weak_ratings",
			Expr: `rating == "BBB" && exposure > 0.0`,
		},
	}
	e := newTestEngine(t, cfg)

	report, err := e.Evaluate(Portfolio{Exposures: []Exposure{
		{BankID: "bank_a", Type: "commercial", Rating: "AAA", Amount: 150, Maturities: balancedMaturities(150)},
		{BankID: "bank_b", Type: "commercial", Rating: "BBB", Amount: 100, Maturities: balancedMaturities(100)},
		{BankID: "bank_c", Type: "commercial", Rating: "AAA", Amount: 750, Maturities: balancedMaturities(750)},
	}})
	require.NoError(t, err)

	custom := byType(report.Violations, ViolationCustomRule)
	require.Len(t, custom, 2)
	assert.Equal(t, "bank_a over its bilateral cap", custom[0].Message)
	assert.Equal(t, LevelCritical, custom[0].Level)
	assert.Equal(t, "bank_b", custom[1].BankID)
	assert.Equal(t, LevelWarning, custom[1].Level)
}

func TestCustomRuleCompileError(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CustomRules = []CustomRule{{Name: "bad", Expr: `share +`}}
	_, err := NewEngine(cfg, nil)
	assert.Error(t, err)

	cfg.CustomRules = []CustomRule{{Name: "not_bool", Expr: `share + 1.0`}}
	_, err = NewEngine(cfg, nil)
	assert.Error(t, err)
}

func TestSuggestions(t *testing.T) {
	suggestions := Suggest([]Violation{
		{Type: ViolationExposureLimit, Level: LevelCritical, BankID: "bank_a", Share: 0.6, Limit: 0.25, ExcessAmount: 350},
		{Type: ViolationMaturity, Direction: DirectionUnder, Level: LevelCritical, Bucket: BucketOvernight, Share: 0.10, Limit: 0.30},
	}, 1000)

	require.Len(t, suggestions, 2)
	assert.Equal(t, "EXPOSURE_REDUCTION", suggestions[0].Action)
	assert.InDelta(t, 350, suggestions[0].Amount, 1e-6)
	assert.Equal(t, "MATURITY_ADJUSTMENT", suggestions[1].Action)
	assert.InDelta(t, 200, suggestions[1].Amount, 1e-6)
}

func TestLoadConfigOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
single_limit: 0.20
rating_limits:
  A: 0.60
maturity_bands:
  ON:
    min: 0.25
    max: 0.45
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.InDelta(t, 0.20, cfg.SingleLimit, 1e-9)
	assert.InDelta(t, 0.40, cfg.GroupLimit, 1e-9) // default kept
	assert.InDelta(t, 0.60, cfg.RatingLimits["A"], 1e-9)
	assert.InDelta(t, 0.90, cfg.RatingLimits["AA"], 1e-9)
	assert.InDelta(t, 0.45, cfg.MaturityBands[BucketOvernight].Max, 1e-9)

	cfg, err = LoadConfig("")
	require.NoError(t, err)
	assert.InDelta(t, 0.25, cfg.SingleLimit, 1e-9)
}

func TestEmptyPortfolio(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())
	report, err := e.Evaluate(Portfolio{})
	require.NoError(t, err)
	assert.Zero(t, report.Total)
	assert.Empty(t, report.Violations)
	assert.Empty(t, report.HighestLevel)
}
