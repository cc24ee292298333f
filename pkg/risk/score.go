// Package risk scores bank counterparties, simulates liquidity stress,
// and produces role-weighted allocation and rebalancing plans.
package risk

// Sub-score weights for the composite bank risk score.
const (
	weightRating  = 0.35
	weightLCR     = 0.20
	weightInsured = 0.15
	weightSpread  = 0.20
	weightNews    = 0.10
)

// ReasonCustodyExcluded marks custody agents, whose balances are
// segregated client assets and never scored.
const ReasonCustodyExcluded = "custody_agent_excluded"

var ratingScores = map[string]float64{
	"AAA": 95,
	"AA+": 90, "AA": 90, "AA-": 90,
	"A+": 85, "A": 85, "A-": 85,
	"BBB": 75,
	"BB":  60,
	"B":   45,
	"CCC": 30,
	"NR":  70,
}

// ScoreInput carries one bank's risk indicators. Nil pointers mean the
// indicator is unavailable and fall back to a neutral sub-score.
type ScoreInput struct {
	BankID        string   `json:"bank_id"`
	BankName      string   `json:"bank_name,omitempty"`
	Role          string   `json:"role,omitempty"`
	Rating        string   `json:"rating"`
	Exposure      float64  `json:"exposure"`
	LCRPct        *float64 `json:"lcr_pct,omitempty"`
	InsuredRatio  *float64 `json:"insured_ratio,omitempty"`
	CDSSpreadBps  *float64 `json:"cds_spread_bps,omitempty"`
	BondSpreadBps *float64 `json:"bond_spread_bps,omitempty"`
	NewsSentiment *float64 `json:"news_sentiment,omitempty"`
}

// ScoreResult is the composite score, 0 (riskiest) to 100 (safest).
type ScoreResult struct {
	BankID   string             `json:"bank_id"`
	BankName string             `json:"bank_name,omitempty"`
	Score    float64            `json:"score"`
	Excluded bool               `json:"excluded,omitempty"`
	Reason   string             `json:"reason,omitempty"`
	Detail   map[string]float64 `json:"detail,omitempty"`
}

// Score computes the weighted composite for one bank.
func Score(in ScoreInput) ScoreResult {
	if in.Role == RoleCustodyAgent {
		return ScoreResult{
			BankID:   in.BankID,
			BankName: in.BankName,
			Score:    0.0,
			Excluded: true,
			Reason:   ReasonCustodyExcluded,
		}
	}

	detail := map[string]float64{
		"rating":  ratingScore(in.Rating),
		"lcr":     lcrScore(in.LCRPct),
		"insured": insuredScore(in.InsuredRatio),
		"spread":  spreadScore(in.CDSSpreadBps, in.BondSpreadBps),
		"news":    newsScore(in.NewsSentiment),
	}
	score := detail["rating"]*weightRating +
		detail["lcr"]*weightLCR +
		detail["insured"]*weightInsured +
		detail["spread"]*weightSpread +
		detail["news"]*weightNews

	return ScoreResult{BankID: in.BankID, BankName: in.BankName, Score: score, Detail: detail}
}

func ratingScore(rating string) float64 {
	if s, ok := ratingScores[rating]; ok {
		return s
	}
	return 60
}

func lcrScore(lcr *float64) float64 {
	if lcr == nil {
		return 70
	}
	switch {
	case *lcr >= 120:
		return 95
	case *lcr >= 100:
		return 85
	case *lcr >= 80:
		return 70
	default:
		return 50
	}
}

func insuredScore(ratio *float64) float64 {
	if ratio == nil {
		return 75
	}
	switch {
	case *ratio >= 0.9:
		return 95
	case *ratio >= 0.7:
		return 85
	case *ratio >= 0.5:
		return 70
	default:
		return 55
	}
}

// spreadScore prefers the CDS spread and falls back to the bond spread.
func spreadScore(cds, bond *float64) float64 {
	spread := cds
	if spread == nil {
		spread = bond
	}
	if spread == nil {
		return 70
	}
	switch {
	case *spread <= 50:
		return 90
	case *spread <= 100:
		return 80
	case *spread <= 200:
		return 65
	default:
		return 50
	}
}

// newsScore maps sentiment in [-1, +1] onto [40, 90].
func newsScore(sentiment *float64) float64 {
	s := 0.0
	if sentiment != nil {
		s = *sentiment
	}
	return 65 + s*25
}
