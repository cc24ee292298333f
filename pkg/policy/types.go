// Package policy evaluates reserve deposit portfolios against the
// counterparty, rating, and maturity rules of the reserve policy.
package policy

// Maturity bucket names used across the portfolio.
const (
	BucketOvernight = "ON"
	Bucket7D        = "7D"
	Bucket1M        = "1M"
	Bucket3M        = "3M"
)

// Institution types. Custody agents hold reserves in segregated accounts
// and are excluded from exposure checks.
const (
	TypePolicyBank         = "policy_bank"
	TypeCommercial         = "commercial"
	TypeCustodyAgent       = "custody_agent"
	TypeSecondaryCustodian = "secondary_custodian"
	TypeBroker             = "broker"
	TypeOther              = "other"
)

// Violation severities.
const (
	LevelWarning  = "WARNING"
	LevelCritical = "CRITICAL"
)

// Violation types.
const (
	ViolationExposureLimit = "EXPOSURE_LIMIT"
	ViolationRatingLimit   = "CREDIT_RATING_LIMIT"
	ViolationMaturity      = "MATURITY_DISTRIBUTION"
	ViolationCustomRule    = "CUSTOM_RULE"
)

// Violation codes distinguishing the rule within a type.
const (
	CodeSingleLimit   = "SINGLE_LIMIT"
	CodeGroupLimit    = "GROUP_LIMIT"
	CodeRatingLimit   = "RATING_ADJUSTED_LIMIT"
	CodeMaturityOver  = "MATURITY_OVER"
	CodeMaturityUnder = "MATURITY_UNDER"
)

// Maturity violation directions.
const (
	DirectionOver  = "OVER"
	DirectionUnder = "UNDER"
)

// Exposure is one counterparty position in the reserve portfolio.
type Exposure struct {
	BankID     string             `json:"bank_id" yaml:"bank_id"`
	BankName   string             `json:"bank_name,omitempty" yaml:"bank_name"`
	Type       string             `json:"type" yaml:"type"`
	Group      string             `json:"group,omitempty" yaml:"group"`
	Rating     string             `json:"rating" yaml:"rating"`
	Amount     float64            `json:"amount" yaml:"amount"`
	Maturities map[string]float64 `json:"maturities,omitempty" yaml:"maturities"`
}

// Portfolio is the reserve snapshot under evaluation.
type Portfolio struct {
	AsOf      string     `json:"as_of,omitempty" yaml:"as_of"`
	Exposures []Exposure `json:"exposures" yaml:"exposures"`
}

// Violation is one rule breach.
type Violation struct {
	Type         string  `json:"type"`
	Code         string  `json:"code"`
	Level        string  `json:"severity"`
	BankID       string  `json:"bank_id,omitempty"`
	Group        string  `json:"group,omitempty"`
	Bucket       string  `json:"bucket,omitempty"`
	Direction    string  `json:"direction,omitempty"` // OVER | UNDER, maturity only
	Share        float64 `json:"share"`
	Limit        float64 `json:"limit"`
	ExcessAmount float64 `json:"excess_amount,omitempty"`
	Message      string  `json:"message"`
}

// Suggestion is a remediation hint derived from a violation.
type Suggestion struct {
	Action string  `json:"action"` // EXPOSURE_REDUCTION | MATURITY_ADJUSTMENT
	BankID string  `json:"bank_id,omitempty"`
	Group  string  `json:"group,omitempty"`
	Bucket string  `json:"bucket,omitempty"`
	Amount float64 `json:"amount,omitempty"`
	Detail string  `json:"detail"`
}

// Summary aggregates violations for reporting.
type Summary struct {
	ByType  map[string]int `json:"by_type"`
	ByLevel map[string]int `json:"by_level"`
}

// Report is the full policy evaluation result.
type Report struct {
	AsOf         string       `json:"as_of,omitempty"`
	Total        float64      `json:"total"`
	Violations   []Violation  `json:"violations"`
	HighestLevel string       `json:"highest_level,omitempty"`
	Summary      Summary      `json:"summary"`
	Suggestions  []Suggestion `json:"suggestions,omitempty"`
}
